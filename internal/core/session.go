package core

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/vovakirdan/coursechat-server/internal/store"
)

// Identity is a verified user bound to a session.
type Identity struct {
	UserID   int64
	Username string
	Role     store.Role
}

// Verifier validates a bearer credential and returns the identity behind it.
type Verifier interface {
	Verify(ctx context.Context, credential string) (Identity, error)
}

// SessionState is a step of the connection lifecycle.
type SessionState int

const (
	StateConnecting SessionState = iota
	StateAuthenticated
	StateActive
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticated:
		return "authenticated"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Session is the runtime state of one live connection.
// It is owned by the connection that created it and never outlives it.
type Session struct {
	ID string

	identity Identity
	events   chan *Event

	mu      sync.Mutex
	state   SessionState
	rooms   map[int64]struct{}
	drained bool
	dropped int
}

func newSession(buffer int) *Session {
	if buffer <= 0 {
		buffer = 1
	}
	return &Session{
		ID:     uuid.NewString(),
		events: make(chan *Event, buffer),
		state:  StateConnecting,
		rooms:  make(map[int64]struct{}),
	}
}

// Identity returns the verified identity of the session.
func (s *Session) Identity() Identity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.identity
}

// Events is the outbound event stream. It is closed on disconnect.
func (s *Session) Events() <-chan *Event {
	return s.events
}

// State returns the current lifecycle state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Rooms returns the rooms the session has joined, in no particular order.
func (s *Session) Rooms() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return lo.Keys(s.rooms)
}

// Dropped returns how many events were discarded because the buffer was full.
func (s *Session) Dropped() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

func (s *Session) authenticate(id Identity) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateConnecting {
		return false
	}
	s.identity = id
	s.state = StateAuthenticated
	return true
}

func (s *Session) activate() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateAuthenticated {
		return false
	}
	s.state = StateActive
	return true
}

func (s *Session) active() bool {
	return s.State() == StateActive
}

// addRoom records roomID as joined. It fails once the session is closed so
// that a join racing with a disconnect cannot leave a stale membership.
func (s *Session) addRoom(roomID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateActive {
		return false
	}
	s.rooms[roomID] = struct{}{}
	return true
}

func (s *Session) removeRoom(roomID int64) {
	s.mu.Lock()
	delete(s.rooms, roomID)
	s.mu.Unlock()
}

// close moves the session to StateClosed and returns the rooms it held.
// Only the first call reports true.
func (s *Session) close() ([]int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return nil, false
	}
	s.state = StateClosed
	return lo.Keys(s.rooms), true
}

// deliver pushes an event without blocking. Returns false if it was dropped.
func (s *Session) deliver(ev *Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.drained {
		return false
	}
	select {
	case s.events <- ev:
		return true
	default:
		// Drop if slow consumer.
		s.dropped++
		return false
	}
}

func (s *Session) closeEvents() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.drained {
		s.drained = true
		close(s.events)
	}
}
