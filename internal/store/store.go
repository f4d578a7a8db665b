package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned (wrapped) when a requested record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned (wrapped) when a write violates a uniqueness constraint.
	ErrConflict = errors.New("conflict")
)

// Role is the platform role of a user.
type Role string

const (
	RoleStudent Role = "student"
	RoleTeacher Role = "teacher"
	RoleAdmin   Role = "admin"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleStudent, RoleTeacher, RoleAdmin:
		return true
	default:
		return false
	}
}

// User represents a user in the system.
type User struct {
	ID           int64
	Username     string
	PasswordHash string
	Role         Role
	CreatedAt    time.Time
}

// Course is the minimal course record the chat needs: who teaches it.
type Course struct {
	ID           int64
	Title        string
	InstructorID int64
	CreatedAt    time.Time
}

// Room represents a course chat room.
type Room struct {
	ID           int64
	Name         string
	CourseID     int64
	CreatorID    int64
	Participants []int64
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Attachment references a file held by the external upload provider.
type Attachment struct {
	URL       string `json:"url" validate:"required,url"`
	StorageID string `json:"storage_id" validate:"required,max=256"`
	Name      string `json:"name" validate:"required,max=256"`
}

// Message represents a persisted chat message.
// ID is the append position inside the log and the only ordering authority.
type Message struct {
	ID          int64
	RoomID      int64
	SenderID    int64
	SenderName  string
	Content     string
	Attachments []Attachment
	CreatedAt   time.Time
}

// UserStore handles user persistence.
type UserStore interface {
	// CreateUser creates a new user with hashed password.
	CreateUser(ctx context.Context, username, passwordHash string, role Role) (*User, error)

	// GetUserByID retrieves a user by ID.
	GetUserByID(ctx context.Context, id int64) (*User, error)

	// GetUserByUsername retrieves a user by username.
	GetUserByUsername(ctx context.Context, username string) (*User, error)
}

// CourseStore handles course ownership lookups.
type CourseStore interface {
	CreateCourse(ctx context.Context, title string, instructorID int64) (*Course, error)
	GetCourseByID(ctx context.Context, id int64) (*Course, error)

	// IsInstructor reports whether userID is the instructor of record for courseID.
	IsInstructor(ctx context.Context, userID, courseID int64) (bool, error)
}

// RoomStore handles room persistence.
type RoomStore interface {
	// CreateRoom creates a room with the creator as its only participant.
	CreateRoom(ctx context.Context, name string, courseID, creatorID int64) (*Room, error)

	// GetRoomByID retrieves a room by ID, participants included.
	GetRoomByID(ctx context.Context, id int64) (*Room, error)

	// ListRoomsByCourse lists rooms of a course, most recently updated first.
	ListRoomsByCourse(ctx context.Context, courseID int64) ([]*Room, error)

	// DeleteRoom removes a room together with its messages and participants.
	DeleteRoom(ctx context.Context, id int64) error

	// AddParticipant records a user as participant of a room. Idempotent.
	AddParticipant(ctx context.Context, roomID, userID int64) error

	// RemoveParticipant drops a user from a room's participants. Idempotent.
	RemoveParticipant(ctx context.Context, roomID, userID int64) error
}

// MessageStore handles message persistence.
type MessageStore interface {
	// AppendMessage appends msg to its room log and returns the stored record
	// with the assigned ID and resolved sender name.
	AppendMessage(ctx context.Context, msg *Message) (*Message, error)

	// ListMessages retrieves messages from a room with pagination.
	// If beforeID is provided, returns messages older than that ID.
	// The page is returned oldest first.
	ListMessages(ctx context.Context, roomID int64, limit int, beforeID *int64) ([]*Message, error)
}

// Store aggregates all storage interfaces.
type Store interface {
	UserStore
	CourseStore
	RoomStore
	MessageStore

	// Close closes the underlying database connection.
	Close() error
}
