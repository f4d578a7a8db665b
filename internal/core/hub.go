package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/vovakirdan/coursechat-server/internal/store"
)

const (
	defaultSessionBuffer   = 64
	defaultMaxMessageRunes = 4000
)

// HubStore is the persistence the hub needs: room lookup and the message log.
type HubStore interface {
	store.RoomStore
	store.MessageStore
}

// Hub coordinates sessions, room membership and message fan-out.
type Hub struct {
	store    HubStore
	verifier Verifier
	registry *Registry
	validate *validator.Validate
	log      *zerolog.Logger
	now      func() time.Time

	sessionBuffer   int
	maxMessageRunes int

	mu       sync.RWMutex
	sessions map[string]*Session
}

// Option customizes a Hub.
type Option func(*Hub)

// WithLogger sets the hub logger.
func WithLogger(logger *zerolog.Logger) Option {
	return func(h *Hub) {
		if logger != nil {
			h.log = logger
		}
	}
}

// WithSessionBuffer sets the per-session outbound buffer size.
func WithSessionBuffer(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.sessionBuffer = n
		}
	}
}

// WithMaxMessageRunes caps message content length.
func WithMaxMessageRunes(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.maxMessageRunes = n
		}
	}
}

// WithClock overrides the clock used for message timestamps.
func WithClock(now func() time.Time) Option {
	return func(h *Hub) {
		if now != nil {
			h.now = now
		}
	}
}

// NewHub creates a new chat hub instance.
func NewHub(st HubStore, verifier Verifier, opts ...Option) *Hub {
	nop := zerolog.Nop()
	h := &Hub{
		store:           st,
		verifier:        verifier,
		registry:        NewRegistry(),
		validate:        validator.New(),
		log:             &nop,
		now:             time.Now,
		sessionBuffer:   defaultSessionBuffer,
		maxMessageRunes: defaultMaxMessageRunes,
		sessions:        make(map[string]*Session),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Run blocks until ctx is cancelled, then disconnects every remaining session.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()

	h.mu.RLock()
	sessions := make([]*Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		sessions = append(sessions, s)
	}
	h.mu.RUnlock()

	for _, s := range sessions {
		h.Disconnect(s)
	}
	h.log.Info().Int("sessions", len(sessions)).Msg("hub stopped")
}

// Authenticate verifies credential and, on success, returns an active session.
// On failure no session is registered and nothing else can be done with the connection.
func (h *Hub) Authenticate(ctx context.Context, credential string) (*Session, error) {
	if h.verifier == nil {
		return nil, fmt.Errorf("%w: no verifier configured", ErrUnauthenticated)
	}
	if strings.TrimSpace(credential) == "" {
		return nil, fmt.Errorf("%w: missing credential", ErrUnauthenticated)
	}

	id, err := h.verifier.Verify(ctx, credential)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnauthenticated, err)
	}
	return h.Connect(id), nil
}

// Connect registers a session for an already verified identity.
func (h *Hub) Connect(id Identity) *Session {
	s := newSession(h.sessionBuffer)
	s.authenticate(id)
	s.activate()

	h.mu.Lock()
	h.sessions[s.ID] = s
	h.mu.Unlock()

	s.deliver(&Event{Kind: EventConnected, User: id})
	h.log.Debug().Str("session_id", s.ID).Int64("user_id", id.UserID).Msg("session connected")
	return s
}

// Disconnect closes the session, removes it from every room it joined and
// announces the departure to remaining members. Safe to call more than once.
func (h *Hub) Disconnect(s *Session) {
	rooms, first := s.close()
	if !first {
		return
	}
	defer s.closeEvents()

	for _, roomID := range rooms {
		h.safeLeave(s, roomID)
	}

	h.mu.Lock()
	delete(h.sessions, s.ID)
	h.mu.Unlock()

	h.log.Debug().Str("session_id", s.ID).Int("rooms", len(rooms)).Msg("session disconnected")
}

func (h *Hub) safeLeave(s *Session, roomID int64) {
	defer func() {
		if r := recover(); r != nil {
			h.log.Error().Interface("panic", r).Str("session_id", s.ID).Int64("room_id", roomID).Msg("leave during disconnect panicked")
		}
	}()
	h.leave(s, roomID)
}

// Join adds the session to the room's live member set and announces it to
// the other members. Joining a room twice is a no-op.
func (h *Hub) Join(ctx context.Context, s *Session, roomID int64) error {
	if !s.active() {
		return ErrSessionClosed
	}

	entry := h.registry.acquire(roomID)
	defer entry.mu.Unlock()

	if entry.has(s) {
		return nil
	}

	if _, err := h.store.GetRoomByID(ctx, roomID); err != nil {
		if entry.empty() {
			h.registry.retire(entry)
		}
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("room %d: %w", roomID, ErrRoomNotFound)
		}
		return fmt.Errorf("%w: lookup room: %w", ErrStore, err)
	}

	id := s.Identity()
	if !s.addRoom(roomID) {
		if entry.empty() {
			h.registry.retire(entry)
		}
		return ErrSessionClosed
	}
	entry.add(s)

	if err := h.store.AddParticipant(ctx, roomID, id.UserID); err != nil {
		h.log.Warn().Err(err).Int64("room_id", roomID).Int64("user_id", id.UserID).Msg("failed to record participant")
	}

	entry.broadcastExcept(&Event{Kind: EventUserJoined, RoomID: roomID, User: id}, s)
	h.log.Debug().Str("session_id", s.ID).Int64("room_id", roomID).Msg("joined room")
	return nil
}

// Leave removes the session from the room. Leaving a room not joined is a no-op.
func (h *Hub) Leave(s *Session, roomID int64) error {
	if !s.active() {
		return ErrSessionClosed
	}
	h.leave(s, roomID)
	return nil
}

func (h *Hub) leave(s *Session, roomID int64) bool {
	entry := h.registry.lookup(roomID)
	if entry == nil {
		s.removeRoom(roomID)
		return false
	}
	defer entry.mu.Unlock()

	s.removeRoom(roomID)
	if !entry.remove(s) {
		return false
	}

	entry.broadcast(&Event{Kind: EventUserLeft, RoomID: roomID, User: s.Identity()})
	if entry.empty() {
		h.registry.retire(entry)
	}
	h.log.Debug().Str("session_id", s.ID).Int64("room_id", roomID).Msg("left room")
	return true
}

// Send appends a message to the room log and delivers the stored record to
// every current member, the sender included. Append and fan-out happen under
// the room lock, so all members observe the same order as the log.
func (h *Hub) Send(ctx context.Context, s *Session, roomID int64, draft Draft) (*store.Message, error) {
	if !s.active() {
		return nil, ErrSessionClosed
	}

	entry := h.registry.lookup(roomID)
	if entry == nil {
		return nil, fmt.Errorf("room %d: %w", roomID, ErrNotInRoom)
	}
	defer entry.mu.Unlock()

	if !entry.has(s) {
		return nil, fmt.Errorf("room %d: %w", roomID, ErrNotInRoom)
	}

	if err := h.normalizeDraft(&draft); err != nil {
		return nil, err
	}

	id := s.Identity()
	stored, err := h.store.AppendMessage(ctx, &store.Message{
		RoomID:      roomID,
		SenderID:    id.UserID,
		SenderName:  id.Username,
		Content:     draft.Content,
		Attachments: draft.Attachments,
		CreatedAt:   h.now(),
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("room %d: %w", roomID, ErrRoomNotFound)
		}
		return nil, fmt.Errorf("%w: append message: %w", ErrStore, err)
	}

	if dropped := entry.broadcast(&Event{Kind: EventRoomMessage, RoomID: roomID, User: id, Message: stored}); dropped > 0 {
		h.log.Warn().Int64("room_id", roomID).Int64("message_id", stored.ID).Int("dropped", dropped).Msg("slow consumers skipped message")
	}
	return stored, nil
}

func (h *Hub) normalizeDraft(d *Draft) error {
	d.Content = strings.TrimSpace(d.Content)
	if d.Content == "" && len(d.Attachments) == 0 {
		return ErrEmptyMessage
	}
	if utf8.RuneCountInString(d.Content) > h.maxMessageRunes {
		return fmt.Errorf("%w: content exceeds %d characters", ErrBadRequest, h.maxMessageRunes)
	}
	if err := h.validate.Struct(d); err != nil {
		return fmt.Errorf("%w: %v", ErrBadRequest, err)
	}
	return nil
}

// Typing relays a typing or stopped-typing signal to the other members of the room.
// Signals from sessions outside the room are dropped.
func (h *Hub) Typing(s *Session, roomID int64, typing bool) {
	if !s.active() {
		return
	}

	entry := h.registry.lookup(roomID)
	if entry == nil {
		return
	}
	defer entry.mu.Unlock()

	if !entry.has(s) {
		return
	}

	kind := EventStoppedTyping
	if typing {
		kind = EventTyping
	}
	entry.broadcastExcept(&Event{Kind: kind, RoomID: roomID, User: s.Identity()}, s)
}

// CloseRoom runs drop (typically the durable delete) while holding the room
// lock and then evicts every live member. It returns the number of evicted sessions.
// If drop fails nobody is evicted.
func (h *Hub) CloseRoom(ctx context.Context, roomID int64, drop func(context.Context) error) (int, error) {
	entry := h.registry.acquire(roomID)
	defer entry.mu.Unlock()

	if drop != nil {
		if err := drop(ctx); err != nil {
			if entry.empty() {
				h.registry.retire(entry)
			}
			return 0, err
		}
	}

	members := entry.snapshot()
	for _, s := range members {
		entry.remove(s)
		s.removeRoom(roomID)
		s.deliver(&Event{Kind: EventRoomDeleted, RoomID: roomID})
	}
	h.registry.retire(entry)

	h.log.Info().Int64("room_id", roomID).Int("evicted", len(members)).Msg("room closed")
	return len(members), nil
}

// Handle executes a command on behalf of a session. Failures are reported to
// that session only, as an error event, and returned.
func (h *Hub) Handle(ctx context.Context, s *Session, cmd *Command) error {
	var err error
	switch cmd.Kind {
	case CommandJoinRoom:
		err = h.Join(ctx, s, cmd.RoomID)
	case CommandLeaveRoom:
		err = h.Leave(s, cmd.RoomID)
	case CommandSendRoomMessage:
		_, err = h.Send(ctx, s, cmd.RoomID, cmd.Draft)
	case CommandTyping:
		h.Typing(s, cmd.RoomID, true)
	case CommandStopTyping:
		h.Typing(s, cmd.RoomID, false)
	default:
		err = fmt.Errorf("%w: unknown command %d", ErrBadRequest, cmd.Kind)
	}
	if err == nil || errors.Is(err, ErrSessionClosed) {
		return err
	}

	ce := AsCoreError(err)
	if ce.Code == ErrCodeStoreError {
		h.log.Error().Err(err).Str("session_id", s.ID).Str("command", cmd.Kind.String()).Int64("room_id", cmd.RoomID).Msg("command failed")
	} else {
		h.log.Debug().Err(err).Str("session_id", s.ID).Str("command", cmd.Kind.String()).Int64("room_id", cmd.RoomID).Msg("command rejected")
	}
	s.deliver(&Event{Kind: EventError, RoomID: cmd.RoomID, Error: ce})
	return err
}

// Notify delivers an error event to a single session, e.g. for transport-level rejections.
func (h *Hub) Notify(s *Session, ce *CoreError) {
	s.deliver(&Event{Kind: EventError, Error: ce})
}

// MembersOf returns the sessions currently joined to roomID.
func (h *Hub) MembersOf(roomID int64) []*Session {
	return h.registry.MembersOf(roomID)
}

// SessionCount returns the number of connected sessions.
func (h *Hub) SessionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}
