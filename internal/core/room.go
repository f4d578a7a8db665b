package core

import "sync"

// roomEntry is the live membership of one room.
// mu serializes join, leave, append+broadcast and close for the room.
type roomEntry struct {
	id int64

	mu      sync.Mutex
	members map[*Session]struct{}
	// closed entries have been retired from the registry; holders must re-acquire.
	closed bool
}

func newRoomEntry(id int64) *roomEntry {
	return &roomEntry{
		id:      id,
		members: make(map[*Session]struct{}),
	}
}

// add inserts a session into the room. Returns true if newly added.
func (r *roomEntry) add(s *Session) bool {
	if _, exists := r.members[s]; exists {
		return false
	}
	r.members[s] = struct{}{}
	return true
}

// remove deletes a session from the room. Returns true if removed.
func (r *roomEntry) remove(s *Session) bool {
	if _, exists := r.members[s]; !exists {
		return false
	}
	delete(r.members, s)
	return true
}

func (r *roomEntry) has(s *Session) bool {
	_, ok := r.members[s]
	return ok
}

// broadcast sends an event to all members and returns how many sessions dropped it.
func (r *roomEntry) broadcast(ev *Event) int {
	return r.broadcastExcept(ev, nil)
}

// broadcastExcept sends an event to all members but skip.
func (r *roomEntry) broadcastExcept(ev *Event, skip *Session) int {
	dropped := 0
	for s := range r.members {
		if s == skip {
			continue
		}
		if !s.deliver(ev) {
			dropped++
		}
	}
	return dropped
}

func (r *roomEntry) snapshot() []*Session {
	out := make([]*Session, 0, len(r.members))
	for s := range r.members {
		out = append(out, s)
	}
	return out
}

// empty returns true if no sessions are in the room.
func (r *roomEntry) empty() bool {
	return len(r.members) == 0
}
