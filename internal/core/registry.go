package core

import "sync"

// Registry maps room IDs to their live member sets.
// The map itself is guarded by mu; each entry carries its own lock so rooms
// never contend with each other.
type Registry struct {
	mu    sync.RWMutex
	rooms map[int64]*roomEntry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{rooms: make(map[int64]*roomEntry)}
}

// acquire returns the live entry for roomID, creating it if needed, with its lock held.
func (r *Registry) acquire(roomID int64) *roomEntry {
	for {
		r.mu.Lock()
		entry, ok := r.rooms[roomID]
		if !ok {
			entry = newRoomEntry(roomID)
			r.rooms[roomID] = entry
		}
		r.mu.Unlock()

		entry.mu.Lock()
		if !entry.closed {
			return entry
		}
		entry.mu.Unlock()
	}
}

// lookup returns the existing entry for roomID with its lock held, or nil.
func (r *Registry) lookup(roomID int64) *roomEntry {
	for {
		r.mu.RLock()
		entry, ok := r.rooms[roomID]
		r.mu.RUnlock()
		if !ok {
			return nil
		}

		entry.mu.Lock()
		if !entry.closed {
			return entry
		}
		entry.mu.Unlock()
	}
}

// retire removes a locked entry from the registry. The caller keeps the lock
// and must release it.
func (r *Registry) retire(entry *roomEntry) {
	entry.closed = true
	r.mu.Lock()
	if r.rooms[entry.id] == entry {
		delete(r.rooms, entry.id)
	}
	r.mu.Unlock()
}

// MembersOf returns the sessions currently joined to roomID.
func (r *Registry) MembersOf(roomID int64) []*Session {
	entry := r.lookup(roomID)
	if entry == nil {
		return nil
	}
	defer entry.mu.Unlock()
	return entry.snapshot()
}

// Len returns the number of rooms with at least one live member.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}
