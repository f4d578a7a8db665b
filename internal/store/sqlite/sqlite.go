package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/vovakirdan/coursechat-server/internal/store"
)

const (
	dsnParams        = "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on"
	defaultListLimit = 50
)

// SQLiteStore implements store.Store for SQLite.
type SQLiteStore struct {
	db *sql.DB
}

var _ store.Store = (*SQLiteStore)(nil)

// New creates a new SQLite store and applies the schema.
// dbPath is the path to the SQLite database file.
func New(dbPath string) (*SQLiteStore, error) {
	return NewWithSetup(dbPath, Migrate)
}

// NewWithSetup creates a new SQLite store and runs a setup function.
// Useful for tests to apply a custom schema or seed data.
func NewWithSetup(dbPath string, setup func(*sql.DB) error) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+dsnParams)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite works best with single connection; it also keeps :memory: databases alive.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if setup != nil {
		if err := setup(db); err != nil {
			db.Close()
			return nil, fmt.Errorf("setup: %w", err)
		}
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func notFound(what string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, store.ErrNotFound)
	}
	return fmt.Errorf("query %s: %w", what, err)
}

// ==== UserStore implementation ====

// CreateUser creates a new user with hashed password.
func (s *SQLiteStore) CreateUser(ctx context.Context, username, passwordHash string, role store.Role) (*store.User, error) {
	query := `
		INSERT INTO users (username, password_hash, role)
		VALUES (?, ?, ?)
	`
	result, err := s.db.ExecContext(ctx, query, username, passwordHash, role)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("user %q: %w", username, store.ErrConflict)
		}
		return nil, fmt.Errorf("insert user: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("get last insert id: %w", err)
	}

	return s.GetUserByID(ctx, id)
}

// GetUserByID retrieves a user by ID.
func (s *SQLiteStore) GetUserByID(ctx context.Context, id int64) (*store.User, error) {
	query := `
		SELECT id, username, password_hash, role, created_at
		FROM users
		WHERE id = ?
	`
	var user store.User
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&user.ID,
		&user.Username,
		&user.PasswordHash,
		&user.Role,
		&user.CreatedAt,
	)
	if err != nil {
		return nil, notFound("user", err)
	}

	return &user, nil
}

// GetUserByUsername retrieves a user by username.
func (s *SQLiteStore) GetUserByUsername(ctx context.Context, username string) (*store.User, error) {
	query := `
		SELECT id, username, password_hash, role, created_at
		FROM users
		WHERE username = ?
	`
	var user store.User
	err := s.db.QueryRowContext(ctx, query, username).Scan(
		&user.ID,
		&user.Username,
		&user.PasswordHash,
		&user.Role,
		&user.CreatedAt,
	)
	if err != nil {
		return nil, notFound("user", err)
	}

	return &user, nil
}

// ==== CourseStore implementation ====

// CreateCourse creates a course owned by instructorID.
func (s *SQLiteStore) CreateCourse(ctx context.Context, title string, instructorID int64) (*store.Course, error) {
	result, err := s.db.ExecContext(ctx, `INSERT INTO courses (title, instructor_id) VALUES (?, ?)`, title, instructorID)
	if err != nil {
		return nil, fmt.Errorf("insert course: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("get last insert id: %w", err)
	}

	return s.GetCourseByID(ctx, id)
}

// GetCourseByID retrieves a course by ID.
func (s *SQLiteStore) GetCourseByID(ctx context.Context, id int64) (*store.Course, error) {
	query := `
		SELECT id, title, instructor_id, created_at
		FROM courses
		WHERE id = ?
	`
	var course store.Course
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&course.ID,
		&course.Title,
		&course.InstructorID,
		&course.CreatedAt,
	)
	if err != nil {
		return nil, notFound("course", err)
	}

	return &course, nil
}

// IsInstructor checks whether userID teaches courseID.
// A missing course yields a wrapped store.ErrNotFound.
func (s *SQLiteStore) IsInstructor(ctx context.Context, userID, courseID int64) (bool, error) {
	course, err := s.GetCourseByID(ctx, courseID)
	if err != nil {
		return false, err
	}
	return course.InstructorID == userID, nil
}

// ==== RoomStore implementation ====

// CreateRoom creates a new room with the creator as its sole participant.
func (s *SQLiteStore) CreateRoom(ctx context.Context, name string, courseID, creatorID int64) (*store.Room, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback() //nolint:errcheck // no-op after commit
	}()

	now := time.Now().UTC()
	result, err := tx.ExecContext(ctx, `
		INSERT INTO rooms (name, course_id, creator_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`, name, courseID, creatorID, now, now)
	if err != nil {
		return nil, fmt.Errorf("insert room: %w", err)
	}

	roomID, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("get last insert id: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO room_participants (room_id, user_id)
		VALUES (?, ?)
	`, roomID, creatorID); err != nil {
		return nil, fmt.Errorf("add creator to participants: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}

	return s.GetRoomByID(ctx, roomID)
}

// GetRoomByID retrieves a room by ID.
func (s *SQLiteStore) GetRoomByID(ctx context.Context, id int64) (*store.Room, error) {
	query := `
		SELECT id, name, course_id, creator_id, created_at, updated_at
		FROM rooms
		WHERE id = ?
	`
	var room store.Room
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&room.ID,
		&room.Name,
		&room.CourseID,
		&room.CreatorID,
		&room.CreatedAt,
		&room.UpdatedAt,
	)
	if err != nil {
		return nil, notFound("room", err)
	}

	participants, err := s.listParticipants(ctx, room.ID)
	if err != nil {
		return nil, err
	}
	room.Participants = participants

	return &room, nil
}

// ListRoomsByCourse lists rooms of a course, most recently updated first.
func (s *SQLiteStore) ListRoomsByCourse(ctx context.Context, courseID int64) ([]*store.Room, error) {
	query := `
		SELECT id, name, course_id, creator_id, created_at, updated_at
		FROM rooms
		WHERE course_id = ?
		ORDER BY updated_at DESC, id DESC
	`
	rows, err := s.db.QueryContext(ctx, query, courseID)
	if err != nil {
		return nil, fmt.Errorf("query rooms: %w", err)
	}
	defer rows.Close()

	rooms := make([]*store.Room, 0)
	for rows.Next() {
		var room store.Room
		if err := rows.Scan(&room.ID, &room.Name, &room.CourseID, &room.CreatorID, &room.CreatedAt, &room.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan room: %w", err)
		}
		rooms = append(rooms, &room)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rooms: %w", err)
	}
	// Close before the participant queries: the pool has a single connection.
	rows.Close()

	for _, room := range rooms {
		participants, err := s.listParticipants(ctx, room.ID)
		if err != nil {
			return nil, err
		}
		room.Participants = participants
	}

	return rooms, nil
}

// DeleteRoom removes a room; participants and messages cascade.
func (s *SQLiteStore) DeleteRoom(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM rooms WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete room: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("room %d: %w", id, store.ErrNotFound)
	}

	return nil
}

// AddParticipant adds a user to a room's participant set.
func (s *SQLiteStore) AddParticipant(ctx context.Context, roomID, userID int64) error {
	result, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO room_participants (room_id, user_id)
		VALUES (?, ?)
	`, roomID, userID)
	if err != nil {
		return fmt.Errorf("insert room participant: %w", err)
	}

	if n, _ := result.RowsAffected(); n > 0 {
		if _, err := s.db.ExecContext(ctx, `UPDATE rooms SET updated_at = ? WHERE id = ?`, time.Now().UTC(), roomID); err != nil {
			return fmt.Errorf("touch room: %w", err)
		}
	}

	return nil
}

// RemoveParticipant drops a user from a room's participant set.
// Removing a user who is not a participant is a no-op.
func (s *SQLiteStore) RemoveParticipant(ctx context.Context, roomID, userID int64) error {
	var exists int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM rooms WHERE id = ?`, roomID).Scan(&exists)
	if err != nil {
		return notFound(fmt.Sprintf("room %d", roomID), err)
	}

	result, err := s.db.ExecContext(ctx, `
		DELETE FROM room_participants
		WHERE room_id = ? AND user_id = ?
	`, roomID, userID)
	if err != nil {
		return fmt.Errorf("delete room participant: %w", err)
	}

	if n, _ := result.RowsAffected(); n > 0 {
		if _, err := s.db.ExecContext(ctx, `UPDATE rooms SET updated_at = ? WHERE id = ?`, time.Now().UTC(), roomID); err != nil {
			return fmt.Errorf("touch room: %w", err)
		}
	}

	return nil
}

func (s *SQLiteStore) listParticipants(ctx context.Context, roomID int64) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id FROM room_participants
		WHERE room_id = ?
		ORDER BY joined_at ASC, user_id ASC
	`, roomID)
	if err != nil {
		return nil, fmt.Errorf("query participants: %w", err)
	}
	defer rows.Close()

	participants := make([]int64, 0)
	for rows.Next() {
		var userID int64
		if err := rows.Scan(&userID); err != nil {
			return nil, fmt.Errorf("scan participant: %w", err)
		}
		participants = append(participants, userID)
	}

	return participants, rows.Err()
}

// ==== MessageStore implementation ====

// AppendMessage persists msg at the end of its room log.
// The returned record is re-read from the database and is the canonical version.
func (s *SQLiteStore) AppendMessage(ctx context.Context, msg *store.Message) (*store.Message, error) {
	attachments := msg.Attachments
	if attachments == nil {
		attachments = []store.Attachment{}
	}
	encoded, err := json.Marshal(attachments)
	if err != nil {
		return nil, fmt.Errorf("encode attachments: %w", err)
	}

	createdAt := msg.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	createdAt = createdAt.UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback() //nolint:errcheck // no-op after commit
	}()

	touched, err := tx.ExecContext(ctx, `UPDATE rooms SET updated_at = ? WHERE id = ?`, createdAt, msg.RoomID)
	if err != nil {
		return nil, fmt.Errorf("touch room: %w", err)
	}
	if n, _ := touched.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("room %d: %w", msg.RoomID, store.ErrNotFound)
	}

	result, err := tx.ExecContext(ctx, `
		INSERT INTO messages (room_id, sender_id, content, attachments, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, msg.RoomID, msg.SenderID, msg.Content, string(encoded), createdAt)
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("get last insert id: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}

	return s.getMessage(ctx, id)
}

const messageColumns = `
	SELECT m.id, m.room_id, m.sender_id, COALESCE(u.username, ''), m.content, m.attachments, m.created_at
	FROM messages m
	LEFT JOIN users u ON u.id = m.sender_id
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (*store.Message, error) {
	var msg store.Message
	var attachments string
	if err := row.Scan(
		&msg.ID,
		&msg.RoomID,
		&msg.SenderID,
		&msg.SenderName,
		&msg.Content,
		&attachments,
		&msg.CreatedAt,
	); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(attachments), &msg.Attachments); err != nil {
		return nil, fmt.Errorf("decode attachments of message %d: %w", msg.ID, err)
	}
	if len(msg.Attachments) == 0 {
		msg.Attachments = nil
	}
	return &msg, nil
}

func (s *SQLiteStore) getMessage(ctx context.Context, id int64) (*store.Message, error) {
	msg, err := scanMessage(s.db.QueryRowContext(ctx, messageColumns+` WHERE m.id = ?`, id))
	if err != nil {
		return nil, notFound("message", err)
	}
	return msg, nil
}

// ListMessages retrieves messages from a room with pagination.
func (s *SQLiteStore) ListMessages(ctx context.Context, roomID int64, limit int, beforeID *int64) ([]*store.Message, error) {
	var query string
	var args []any

	if limit <= 0 {
		limit = defaultListLimit
	}

	if beforeID != nil {
		query = messageColumns + `
			WHERE m.room_id = ? AND m.id < ?
			ORDER BY m.id DESC
			LIMIT ?
		`
		args = []any{roomID, *beforeID, limit}
	} else {
		query = messageColumns + `
			WHERE m.room_id = ?
			ORDER BY m.id DESC
			LIMIT ?
		`
		args = []any{roomID, limit}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	messages := make([]*store.Message, 0, limit)
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}

	// Fetched newest first; the page is returned in append order.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}

	return messages, nil
}

func isUniqueViolation(err error) bool {
	var se sqlite3.Error
	return errors.As(err, &se) && se.ExtendedCode == sqlite3.ErrConstraintUnique
}
