package core

import (
	"errors"

	"github.com/vovakirdan/coursechat-server/internal/store"
)

// Error codes for domain errors.
const (
	ErrCodeUnauthorized  = "unauthorized"
	ErrCodeForbidden     = "forbidden"
	ErrCodeRoomNotFound  = "room_not_found"
	ErrCodeNotInRoom     = "not_in_room"
	ErrCodeBadRequest    = "bad_request"
	ErrCodeStoreError    = "store_error"
	ErrCodeRateLimited   = "rate_limited"
	ErrCodeSessionClosed = "session_closed"
)

var (
	ErrUnauthenticated = errors.New("authentication failed")
	ErrRoomNotFound    = errors.New("room not found")
	ErrNotInRoom       = errors.New("not a member of this room")
	ErrEmptyMessage    = errors.New("message has no content and no attachments")
	ErrBadRequest      = errors.New("bad request")
	ErrSessionClosed   = errors.New("session closed")
	ErrStore           = errors.New("store failure")
)

// CoreError wraps a code and human-readable message.
type CoreError struct {
	Code    string
	Message string
	Err     error
}

func (e *CoreError) Error() string {
	return e.Message
}

func (e *CoreError) Unwrap() error {
	return e.Err
}

func coreError(code string, err error) *CoreError {
	return &CoreError{Code: code, Message: err.Error(), Err: err}
}

// AsCoreError classifies err into a CoreError suitable for reporting to a client.
func AsCoreError(err error) *CoreError {
	var ce *CoreError
	if errors.As(err, &ce) {
		return ce
	}

	switch {
	case errors.Is(err, ErrUnauthenticated):
		return coreError(ErrCodeUnauthorized, err)
	case errors.Is(err, ErrRoomNotFound), errors.Is(err, store.ErrNotFound):
		return &CoreError{Code: ErrCodeRoomNotFound, Message: ErrRoomNotFound.Error(), Err: err}
	case errors.Is(err, ErrNotInRoom):
		return coreError(ErrCodeNotInRoom, err)
	case errors.Is(err, ErrEmptyMessage), errors.Is(err, ErrBadRequest):
		return coreError(ErrCodeBadRequest, err)
	case errors.Is(err, ErrSessionClosed):
		return coreError(ErrCodeSessionClosed, err)
	default:
		// Never leak storage internals to clients.
		return &CoreError{Code: ErrCodeStoreError, Message: "storage failure", Err: err}
	}
}
