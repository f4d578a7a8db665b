package core

import "github.com/vovakirdan/coursechat-server/internal/store"

// EventKind is a notification the core emits to sessions.
type EventKind int

const (
	// EventRoomMessage notifies sessions about a chat message in a room.
	EventRoomMessage EventKind = iota
	// EventUserJoined notifies sessions about a user joining a room.
	EventUserJoined
	// EventUserLeft notifies sessions about a user leaving a room.
	EventUserLeft
	// EventTyping notifies that a user is typing in a room.
	EventTyping
	// EventStoppedTyping notifies that a user stopped typing in a room.
	EventStoppedTyping
	// EventRoomDeleted tells a session it was evicted because the room is gone.
	EventRoomDeleted
	// EventConnected is the first event of every session.
	EventConnected
	// EventError notifies a session about a domain error.
	EventError
)

// Event is sent to sessions to describe what happened in the system.
type Event struct {
	Kind    EventKind
	RoomID  int64
	User    Identity
	Message *store.Message
	Error   *CoreError
}
