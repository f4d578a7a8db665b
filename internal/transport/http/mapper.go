package http

import (
	"encoding/json"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"

	"github.com/vovakirdan/coursechat-server/internal/core"
	"github.com/vovakirdan/coursechat-server/internal/proto"
	"github.com/vovakirdan/coursechat-server/internal/store"
)

const timeLayout = time.RFC3339

// inboundToCommand maps a client envelope to a hub command. A non-nil proto.Error
// means the envelope was rejected and should be reported to the client.
func inboundToCommand(validate *validator.Validate, inbound proto.Inbound) (*core.Command, *proto.Error) {
	switch inbound.Type {
	case proto.InboundTypeJoin, proto.InboundTypeLeave, proto.InboundTypeTyping, proto.InboundTypeStopTyping:
		var data proto.RoomData
		if perr := decode(validate, inbound.Data, &data); perr != nil {
			return nil, perr
		}
		return &core.Command{Kind: roomCommandKinds[inbound.Type], RoomID: data.Room}, nil
	case proto.InboundTypeSend:
		var data proto.SendData
		if perr := decode(validate, inbound.Data, &data); perr != nil {
			return nil, perr
		}
		return &core.Command{
			Kind:   core.CommandSendRoomMessage,
			RoomID: data.Room,
			Draft: core.Draft{
				Content: data.Content,
				Attachments: lo.Map(data.Attachments, func(a proto.Attachment, _ int) store.Attachment {
					return store.Attachment{URL: a.URL, StorageID: a.StorageID, Name: a.Name}
				}),
			},
		}, nil
	default:
		return nil, &proto.Error{Code: core.ErrCodeBadRequest, Msg: "unknown message type"}
	}
}

var roomCommandKinds = map[string]core.CommandKind{
	proto.InboundTypeJoin:       core.CommandJoinRoom,
	proto.InboundTypeLeave:      core.CommandLeaveRoom,
	proto.InboundTypeTyping:     core.CommandTyping,
	proto.InboundTypeStopTyping: core.CommandStopTyping,
}

func decode(validate *validator.Validate, raw json.RawMessage, dst any) *proto.Error {
	if len(raw) == 0 {
		return &proto.Error{Code: core.ErrCodeBadRequest, Msg: "data is required"}
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return &proto.Error{Code: core.ErrCodeBadRequest, Msg: "malformed data"}
	}
	if err := validate.Struct(dst); err != nil {
		return &proto.Error{Code: core.ErrCodeBadRequest, Msg: err.Error()}
	}
	return nil
}

func userOf(id core.Identity) proto.User {
	return proto.User{ID: id.UserID, Username: id.Username, Role: string(id.Role)}
}

func outboundFromEvent(sessionID string, event *core.Event) proto.Outbound {
	switch event.Kind {
	case core.EventConnected:
		return proto.Outbound{
			Type:  proto.OutboundTypeEvent,
			Event: proto.EventConnected,
			Data: proto.EventConnectedData{
				SessionID: sessionID,
				User:      userOf(event.User),
				Protocol:  proto.ProtocolVersion,
			},
		}
	case core.EventRoomMessage:
		msg := event.Message
		return proto.Outbound{
			Type:  proto.OutboundTypeEvent,
			Event: proto.EventMessage,
			Data: proto.EventMessageData{
				ID:      msg.ID,
				Room:    msg.RoomID,
				User:    proto.User{ID: msg.SenderID, Username: msg.SenderName},
				Content: msg.Content,
				Attachments: lo.Map(msg.Attachments, func(a store.Attachment, _ int) proto.Attachment {
					return proto.Attachment{URL: a.URL, StorageID: a.StorageID, Name: a.Name}
				}),
				TS: msg.CreatedAt.Unix(),
			},
		}
	case core.EventUserJoined, core.EventUserLeft, core.EventTyping, core.EventStoppedTyping:
		return proto.Outbound{
			Type:  proto.OutboundTypeEvent,
			Event: presenceEvents[event.Kind],
			Data:  proto.EventPresenceData{Room: event.RoomID, User: userOf(event.User)},
		}
	case core.EventRoomDeleted:
		return proto.Outbound{
			Type:  proto.OutboundTypeEvent,
			Event: proto.EventRoomDeleted,
			Data:  proto.EventRoomDeletedData{Room: event.RoomID},
		}
	case core.EventError:
		if event.Error == nil {
			return proto.Outbound{Type: proto.OutboundTypeError, Error: &proto.Error{Code: "unknown", Msg: "unknown error"}}
		}
		return proto.Outbound{
			Type:  proto.OutboundTypeError,
			Error: &proto.Error{Code: event.Error.Code, Msg: event.Error.Message, Room: event.RoomID},
		}
	default:
		return proto.Outbound{Type: proto.OutboundTypeEvent}
	}
}

var presenceEvents = map[core.EventKind]string{
	core.EventUserJoined:    proto.EventJoined,
	core.EventUserLeft:      proto.EventLeft,
	core.EventTyping:        proto.EventTyping,
	core.EventStoppedTyping: proto.EventStoppedTyping,
}

// CourseResponse represents a course in API responses.
type CourseResponse struct {
	ID           int64  `json:"id"`
	Title        string `json:"title"`
	InstructorID int64  `json:"instructor_id"`
	CreatedAt    string `json:"created_at"`
}

// RoomResponse represents a room in API responses.
type RoomResponse struct {
	ID           int64   `json:"id"`
	Name         string  `json:"name"`
	CourseID     int64   `json:"course_id"`
	CreatorID    int64   `json:"creator_id"`
	Participants []int64 `json:"participants"`
	CreatedAt    string  `json:"created_at"`
	UpdatedAt    string  `json:"updated_at"`
}

// MessageResponse represents a stored message in API responses.
type MessageResponse struct {
	ID          int64              `json:"id"`
	RoomID      int64              `json:"room_id"`
	SenderID    int64              `json:"sender_id"`
	SenderName  string             `json:"sender_name"`
	Content     string             `json:"content"`
	Attachments []proto.Attachment `json:"attachments"`
	CreatedAt   string             `json:"created_at"`
}

func courseResponse(c *store.Course) CourseResponse {
	return CourseResponse{
		ID:           c.ID,
		Title:        c.Title,
		InstructorID: c.InstructorID,
		CreatedAt:    c.CreatedAt.Format(timeLayout),
	}
}

func roomResponse(r *store.Room) RoomResponse {
	participants := r.Participants
	if participants == nil {
		participants = []int64{}
	}
	return RoomResponse{
		ID:           r.ID,
		Name:         r.Name,
		CourseID:     r.CourseID,
		CreatorID:    r.CreatorID,
		Participants: participants,
		CreatedAt:    r.CreatedAt.Format(timeLayout),
		UpdatedAt:    r.UpdatedAt.Format(timeLayout),
	}
}

func roomResponses(rooms []*store.Room) []RoomResponse {
	return lo.Map(rooms, func(r *store.Room, _ int) RoomResponse { return roomResponse(r) })
}

func messageResponses(msgs []*store.Message) []MessageResponse {
	return lo.Map(msgs, func(m *store.Message, _ int) MessageResponse {
		return MessageResponse{
			ID:         m.ID,
			RoomID:     m.RoomID,
			SenderID:   m.SenderID,
			SenderName: m.SenderName,
			Content:    m.Content,
			Attachments: lo.Map(m.Attachments, func(a store.Attachment, _ int) proto.Attachment {
				return proto.Attachment{URL: a.URL, StorageID: a.StorageID, Name: a.Name}
			}),
			CreatedAt: m.CreatedAt.Format(timeLayout),
		}
	})
}
