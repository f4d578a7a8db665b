package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/vovakirdan/coursechat-server/internal/store"
)

func mustEvent(t *testing.T, ch <-chan *Event, kind EventKind) *Event {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		select {
		case ev := <-ch:
			if ev == nil {
				continue
			}
			if ev.Kind == kind {
				return ev
			}
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}
	t.Fatalf("expected event kind %v not received", kind)
	return nil
}

// noEvent asserts that no event of the given kind is pending on ch.
func noEvent(t *testing.T, ch <-chan *Event, kind EventKind) {
	t.Helper()

	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if ev != nil && ev.Kind == kind {
				t.Fatalf("unexpected event kind %v: %+v", kind, ev)
			}
		default:
			return
		}
	}
}

// fakeStore is an in-memory HubStore with failure injection.
type fakeStore struct {
	mu          sync.Mutex
	rooms       map[int64]*store.Room
	messages    []*store.Message
	nextID      int64
	appendErr   error
	appendCalls int
	getErr      error
}

func newFakeStore(roomIDs ...int64) *fakeStore {
	fs := &fakeStore{rooms: make(map[int64]*store.Room)}
	for _, id := range roomIDs {
		fs.rooms[id] = &store.Room{ID: id, Name: fmt.Sprintf("room-%d", id), CourseID: 1}
	}
	return fs
}

func (f *fakeStore) CreateRoom(_ context.Context, name string, courseID, creatorID int64) (*store.Room, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := int64(len(f.rooms) + 100)
	room := &store.Room{ID: id, Name: name, CourseID: courseID, CreatorID: creatorID, Participants: []int64{creatorID}}
	f.rooms[id] = room
	return room, nil
}

func (f *fakeStore) GetRoomByID(_ context.Context, id int64) (*store.Room, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	room, ok := f.rooms[id]
	if !ok {
		return nil, fmt.Errorf("room: %w", store.ErrNotFound)
	}
	return room, nil
}

func (f *fakeStore) ListRoomsByCourse(_ context.Context, courseID int64) ([]*store.Room, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*store.Room
	for _, r := range f.rooms {
		if r.CourseID == courseID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeStore) DeleteRoom(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.rooms[id]; !ok {
		return fmt.Errorf("room: %w", store.ErrNotFound)
	}
	delete(f.rooms, id)
	return nil
}

func (f *fakeStore) AddParticipant(_ context.Context, roomID, userID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	room, ok := f.rooms[roomID]
	if !ok {
		return fmt.Errorf("room: %w", store.ErrNotFound)
	}
	for _, p := range room.Participants {
		if p == userID {
			return nil
		}
	}
	room.Participants = append(room.Participants, userID)
	return nil
}

func (f *fakeStore) RemoveParticipant(_ context.Context, roomID, userID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	room, ok := f.rooms[roomID]
	if !ok {
		return fmt.Errorf("room: %w", store.ErrNotFound)
	}
	kept := room.Participants[:0]
	for _, p := range room.Participants {
		if p != userID {
			kept = append(kept, p)
		}
	}
	room.Participants = kept
	return nil
}

func (f *fakeStore) AppendMessage(_ context.Context, msg *store.Message) (*store.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.appendCalls++
	if f.appendErr != nil {
		return nil, f.appendErr
	}
	if _, ok := f.rooms[msg.RoomID]; !ok {
		return nil, fmt.Errorf("room: %w", store.ErrNotFound)
	}
	f.nextID++
	stored := *msg
	stored.ID = f.nextID
	f.messages = append(f.messages, &stored)
	return &stored, nil
}

func (f *fakeStore) ListMessages(_ context.Context, roomID int64, limit int, _ *int64) ([]*store.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*store.Message
	for _, m := range f.messages {
		if m.RoomID == roomID {
			out = append(out, m)
		}
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (f *fakeStore) appended() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.messages)
}

// staticVerifier accepts tokens of the form "token-<username>".
type staticVerifier map[string]Identity

func (v staticVerifier) Verify(_ context.Context, credential string) (Identity, error) {
	id, ok := v[credential]
	if !ok {
		return Identity{}, errors.New("unknown token")
	}
	return id, nil
}

func identity(id int64, name string) Identity {
	return Identity{UserID: id, Username: name, Role: store.RoleStudent}
}
