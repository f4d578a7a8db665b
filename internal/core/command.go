package core

import "github.com/vovakirdan/coursechat-server/internal/store"

// CommandKind describes what the client wants to do.
type CommandKind int

const (
	// CommandSendRoomMessage delivers a chat message to room participants.
	CommandSendRoomMessage CommandKind = iota
	// CommandJoinRoom subscribes the session to a room.
	CommandJoinRoom
	// CommandLeaveRoom unsubscribes the session from a room.
	CommandLeaveRoom
	// CommandTyping signals that the user started typing.
	CommandTyping
	// CommandStopTyping signals that the user stopped typing.
	CommandStopTyping
)

func (k CommandKind) String() string {
	switch k {
	case CommandSendRoomMessage:
		return "send"
	case CommandJoinRoom:
		return "join"
	case CommandLeaveRoom:
		return "leave"
	case CommandTyping:
		return "typing"
	case CommandStopTyping:
		return "stop_typing"
	default:
		return "unknown"
	}
}

// Draft is a message as submitted by a client, before the store accepts it.
// Client timestamps are never part of it.
type Draft struct {
	Content     string
	Attachments []store.Attachment `validate:"max=10,dive"`
}

// Command represents an action requested by a session.
type Command struct {
	Kind   CommandKind
	RoomID int64
	Draft  Draft
}
