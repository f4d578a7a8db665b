package proto

import "encoding/json"

// Inbound is the envelope for messages coming from the client.
type Inbound struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

const (
	ProtocolVersion = 1

	InboundTypeJoin       = "join"
	InboundTypeLeave      = "leave"
	InboundTypeSend       = "send"
	InboundTypeTyping     = "typing"
	InboundTypeStopTyping = "stop_typing"

	OutboundTypeEvent = "event"
	OutboundTypeError = "error"

	EventConnected     = "connected"
	EventJoined        = "joined"
	EventLeft          = "left"
	EventMessage       = "message"
	EventTyping        = "typing"
	EventStoppedTyping = "stopped_typing"
	EventRoomDeleted   = "room_deleted"
)

// RoomData addresses a room; used by join, leave, typing and stop_typing.
type RoomData struct {
	Room int64 `json:"room" validate:"required,gt=0"`
}

// Attachment references an already uploaded file.
type Attachment struct {
	URL       string `json:"url" validate:"required,url"`
	StorageID string `json:"storageId" validate:"required,max=256"`
	Name      string `json:"name" validate:"required,max=256"`
}

// SendData is a chat message from the client.
type SendData struct {
	Room        int64        `json:"room" validate:"required,gt=0"`
	Content     string       `json:"content"`
	Attachments []Attachment `json:"attachments,omitempty" validate:"max=10,dive"`
}

// Outbound is the envelope for messages sent to the client.
type Outbound struct {
	Type  string `json:"type"`
	Event string `json:"event,omitempty"`
	Data  any    `json:"data,omitempty"`
	Error *Error `json:"error,omitempty"`
}

// User is the public view of a participant.
type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Role     string `json:"role,omitempty"`
}

// EventConnectedData greets a freshly accepted session.
type EventConnectedData struct {
	SessionID string `json:"sessionId"`
	User      User   `json:"user"`
	Protocol  int    `json:"protocol"`
}

// EventMessageData carries a stored message.
type EventMessageData struct {
	ID          int64        `json:"id"`
	Room        int64        `json:"room"`
	User        User         `json:"user"`
	Content     string       `json:"content"`
	Attachments []Attachment `json:"attachments,omitempty"`
	TS          int64        `json:"ts"`
}

// EventPresenceData is used for joined, left, typing and stopped_typing.
type EventPresenceData struct {
	Room int64 `json:"room"`
	User User  `json:"user"`
}

// EventRoomDeletedData tells members their room is gone.
type EventRoomDeletedData struct {
	Room int64 `json:"room"`
}

// Error describes a protocol-level error response.
type Error struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
	// Room is the room the failed command addressed, if any.
	Room int64 `json:"room,omitempty"`
}
