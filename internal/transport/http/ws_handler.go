package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	stdhttp "net/http"
	"strings"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/coursechat-server/internal/config"
	"github.com/vovakirdan/coursechat-server/internal/core"
	"github.com/vovakirdan/coursechat-server/internal/proto"
)

// WSHandler authenticates HTTP connections, upgrades them and bridges them to core.Session.
type WSHandler struct {
	hub       *core.Hub
	validate  *validator.Validate
	log       *zerolog.Logger
	readLimit int64
	rateLimit int
}

// NewWSHandler builds a new WebSocket handler.
func NewWSHandler(hub *core.Hub, cfg *config.Config, logger *zerolog.Logger) stdhttp.Handler {
	return &WSHandler{
		hub:       hub,
		validate:  validator.New(),
		log:       logger,
		readLimit: cfg.MaxMessageBytes,
		rateLimit: cfg.RateLimitPerMinute,
	}
}

// credentialFrom reads the bearer token from the Authorization header or,
// for browsers that cannot set headers on upgrade, the token query parameter.
func credentialFrom(r *stdhttp.Request) string {
	if token, ok := bearerToken(r.Header.Get("Authorization")); ok {
		return token
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}

func (h *WSHandler) ServeHTTP(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	ctx := r.Context()

	session, err := h.hub.Authenticate(ctx, credentialFrom(r))
	if err != nil {
		h.log.Debug().Err(err).Str("remote", r.RemoteAddr).Msg("ws authentication failed")
		stdhttp.Error(w, "unauthorized", stdhttp.StatusUnauthorized)
		return
	}
	defer h.hub.Disconnect(session)

	logger := h.log.With().Str("session_id", session.ID).Int64("user_id", session.Identity().UserID).Logger()

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		logger.Error().Err(err).Msg("ws accept error")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "internal error")

	if h.readLimit > 0 {
		conn.SetReadLimit(h.readLimit)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	limiter := newRateLimiter(h.rateLimit)
	limiter.startReset(ctx.Done())

	errCh := make(chan error, 2)
	go func() {
		errCh <- h.guard(&logger, "read", func() error { return h.readLoop(ctx, conn, session, limiter, &logger) })
	}()
	go func() {
		errCh <- h.guard(&logger, "write", func() error { return h.writeLoop(ctx, conn, session, &logger) })
	}()

	err = <-errCh
	cancel() // stop the other goroutine
	<-errCh

	status := websocket.StatusNormalClosure
	reason := "closing"
	if err != nil && !errors.Is(err, context.Canceled) {
		if errors.Is(err, io.EOF) {
			err = nil
		}
		if s := websocket.CloseStatus(err); s != -1 {
			status = s
		}
		if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
			err = nil
		}
		if err != nil {
			if status == websocket.StatusNormalClosure {
				status = websocket.StatusInternalError
			}
			reason = err.Error()
			logger.Warn().Err(err).Msg("ws connection closed with error")
		}
	}

	if dropped := session.Dropped(); dropped > 0 {
		logger.Warn().Int("dropped", dropped).Msg("session lost events to a full buffer")
	}
	conn.Close(status, reason)
}

// guard turns a panic in a connection loop into an error so the connection
// unwinds through the deferred disconnect.
func (h *WSHandler) guard(logger *zerolog.Logger, loop string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Str("loop", loop).Msg("ws loop panicked")
			err = fmt.Errorf("%s loop panic: %v", loop, r)
		}
	}()
	return fn()
}

func (h *WSHandler) readLoop(ctx context.Context, conn *websocket.Conn, session *core.Session, limiter *rateLimiter, logger *zerolog.Logger) error {
	for {
		var inbound proto.Inbound
		if err := wsjson.Read(ctx, conn, &inbound); err != nil {
			logger.Debug().Err(err).Msg("read ws inbound")
			return err
		}

		if !limiter.allow() {
			h.hub.Notify(session, &core.CoreError{Code: core.ErrCodeRateLimited, Message: "too many messages, slow down"})
			continue
		}

		cmd, protoErr := inboundToCommand(h.validate, inbound)
		if protoErr != nil {
			h.hub.Notify(session, &core.CoreError{Code: protoErr.Code, Message: protoErr.Msg})
			continue
		}

		if err := h.hub.Handle(ctx, session, cmd); errors.Is(err, core.ErrSessionClosed) {
			return nil
		}
	}
}

func (h *WSHandler) writeLoop(ctx context.Context, conn *websocket.Conn, session *core.Session, logger *zerolog.Logger) error {
	events := session.Events()
	for {
		select {
		case event, ok := <-events:
			if !ok {
				return nil
			}
			if err := wsjson.Write(ctx, conn, outboundFromEvent(session.ID, event)); err != nil {
				logger.Debug().Err(err).Msg("write ws event")
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
