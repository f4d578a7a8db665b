package rooms

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"github.com/vovakirdan/coursechat-server/internal/core"
	"github.com/vovakirdan/coursechat-server/internal/store"
)

// Common errors for room lifecycle operations.
var (
	ErrForbidden       = errors.New("only the course instructor can manage its rooms")
	ErrRoomNotFound    = errors.New("room not found")
	ErrCourseNotFound  = errors.New("course not found")
	ErrInvalidName     = errors.New("invalid room name")
	ErrInvalidTitle    = errors.New("invalid course title")
	ErrNotCourseAuthor = errors.New("only teachers can create courses")
)

const (
	maxNameRunes        = 64
	maxTitleRunes       = 128
	defaultHistoryLimit = 50
	defaultHistoryMax   = 200
)

// Store is the persistence the room service works with.
type Store interface {
	store.CourseStore
	store.RoomStore
	store.MessageStore
}

// RoomCloser evicts live members of a room around a durable delete.
type RoomCloser interface {
	CloseRoom(ctx context.Context, roomID int64, drop func(context.Context) error) (int, error)
}

// Service provides room lifecycle business logic.
type Service struct {
	store      Store
	hub        RoomCloser
	log        *zerolog.Logger
	historyMax int
}

// New creates a room Service. historyMax caps History page size; 0 uses the default.
func New(st Store, hub RoomCloser, logger *zerolog.Logger, historyMax int) *Service {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	if historyMax <= 0 {
		historyMax = defaultHistoryMax
	}
	return &Service{store: st, hub: hub, log: logger, historyMax: historyMax}
}

// CreateCourse registers a course taught by the caller.
func (s *Service) CreateCourse(ctx context.Context, id core.Identity, title string) (*store.Course, error) {
	if id.Role != store.RoleTeacher && id.Role != store.RoleAdmin {
		return nil, ErrNotCourseAuthor
	}
	title = strings.TrimSpace(title)
	if title == "" || utf8.RuneCountInString(title) > maxTitleRunes {
		return nil, ErrInvalidTitle
	}

	course, err := s.store.CreateCourse(ctx, title, id.UserID)
	if err != nil {
		return nil, fmt.Errorf("create course: %w", err)
	}
	return course, nil
}

// CreateRoom creates a room in a course. Only the course instructor may do so;
// the creator becomes the first participant.
func (s *Service) CreateRoom(ctx context.Context, id core.Identity, courseID int64, name string) (*store.Room, error) {
	name = strings.TrimSpace(name)
	if name == "" || utf8.RuneCountInString(name) > maxNameRunes {
		return nil, ErrInvalidName
	}

	if err := s.requireInstructor(ctx, id, courseID); err != nil {
		return nil, err
	}

	room, err := s.store.CreateRoom(ctx, name, courseID, id.UserID)
	if err != nil {
		return nil, fmt.Errorf("create room: %w", err)
	}

	s.log.Info().Int64("room_id", room.ID).Int64("course_id", courseID).Int64("user_id", id.UserID).Msg("room created")
	return room, nil
}

// DeleteRoom removes a room with its history and evicts every live member.
func (s *Service) DeleteRoom(ctx context.Context, roomID int64, id core.Identity) error {
	room, err := s.store.GetRoomByID(ctx, roomID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrRoomNotFound
		}
		return fmt.Errorf("get room: %w", err)
	}

	if err := s.requireInstructor(ctx, id, room.CourseID); err != nil {
		return err
	}

	evicted, err := s.hub.CloseRoom(ctx, roomID, func(ctx context.Context) error {
		return s.store.DeleteRoom(ctx, roomID)
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrRoomNotFound
		}
		return fmt.Errorf("delete room: %w", err)
	}

	s.log.Info().Int64("room_id", roomID).Int64("user_id", id.UserID).Int("evicted", evicted).Msg("room deleted")
	return nil
}

// ListRoomsForCourse returns the rooms of a course, most recently updated first.
// An unknown course simply has no rooms.
func (s *Service) ListRoomsForCourse(ctx context.Context, courseID int64) ([]*store.Room, error) {
	rooms, err := s.store.ListRoomsByCourse(ctx, courseID)
	if err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}
	return rooms, nil
}

// JoinRoom records the caller as a durable participant of a room and returns
// the updated room. Joining twice is a no-op.
func (s *Service) JoinRoom(ctx context.Context, roomID int64, id core.Identity) (*store.Room, error) {
	if _, err := s.reload(ctx, roomID); err != nil {
		return nil, err
	}
	if err := s.store.AddParticipant(ctx, roomID, id.UserID); err != nil {
		return nil, fmt.Errorf("add participant: %w", err)
	}
	return s.reload(ctx, roomID)
}

// LeaveRoom drops the caller from the durable participant set. Live websocket
// membership is untouched. Leaving a room one is not part of is a no-op.
func (s *Service) LeaveRoom(ctx context.Context, roomID int64, id core.Identity) (*store.Room, error) {
	if err := s.store.RemoveParticipant(ctx, roomID, id.UserID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrRoomNotFound
		}
		return nil, fmt.Errorf("remove participant: %w", err)
	}
	s.log.Debug().Int64("room_id", roomID).Int64("user_id", id.UserID).Msg("participant removed")
	return s.reload(ctx, roomID)
}

func (s *Service) reload(ctx context.Context, roomID int64) (*store.Room, error) {
	room, err := s.store.GetRoomByID(ctx, roomID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrRoomNotFound
		}
		return nil, fmt.Errorf("get room: %w", err)
	}
	return room, nil
}

// History returns a page of room messages, oldest first. beforeID pages backwards.
func (s *Service) History(ctx context.Context, roomID int64, limit int, beforeID *int64) ([]*store.Message, error) {
	if _, err := s.store.GetRoomByID(ctx, roomID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrRoomNotFound
		}
		return nil, fmt.Errorf("get room: %w", err)
	}

	switch {
	case limit <= 0:
		limit = defaultHistoryLimit
	case limit > s.historyMax:
		limit = s.historyMax
	}

	msgs, err := s.store.ListMessages(ctx, roomID, limit, beforeID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return msgs, nil
}

func (s *Service) requireInstructor(ctx context.Context, id core.Identity, courseID int64) error {
	ok, err := s.store.IsInstructor(ctx, id.UserID, courseID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrCourseNotFound
		}
		return fmt.Errorf("check instructor: %w", err)
	}
	if !ok {
		return ErrForbidden
	}
	return nil
}
