package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/vovakirdan/coursechat-server/internal/config"
	"github.com/vovakirdan/coursechat-server/internal/core"
	"github.com/vovakirdan/coursechat-server/internal/proto"
	"github.com/vovakirdan/coursechat-server/internal/store"
)

func TestHealthEndpoint(t *testing.T) {
	env := newTestEnv(t)

	resp, err := env.ts.Client().Get(env.ts.URL + "/health")
	if err != nil {
		t.Fatalf("health request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}
}

func TestWebSocketUpgradeThroughServer(t *testing.T) {
	env := newTestEnv(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	header := http.Header{}
	header.Set("Authorization", "Bearer "+env.register(t, "alice", store.RoleStudent))
	conn, resp, err := websocket.Dial(ctx, env.wsURL(), &websocket.DialOptions{HTTPHeader: header})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "done")

	if resp.StatusCode != http.StatusSwitchingProtocols {
		t.Fatalf("unexpected upgrade status: %d", resp.StatusCode)
	}

	out := expectEvent(t, ctx, conn, proto.EventConnected)
	var hello proto.EventConnectedData
	if err := json.Unmarshal(out.Data, &hello); err != nil {
		t.Fatalf("unmarshal connected: %v", err)
	}
	if hello.SessionID == "" || hello.User.Username != "alice" || hello.Protocol != proto.ProtocolVersion {
		t.Fatalf("unexpected connected payload: %+v", hello)
	}

	// The session must stay usable after the handshake.
	send(t, ctx, conn, proto.InboundTypeLeave, map[string]any{"room": "x"})
	if perr := expectError(t, ctx, conn); perr.Code != core.ErrCodeBadRequest {
		t.Fatalf("expected bad_request, got %+v", perr)
	}
	if env.hub.SessionCount() != 1 {
		t.Fatalf("expected 1 live session, got %d", env.hub.SessionCount())
	}
}

func createRoom(t *testing.T, env *testEnv, token string, courseID int64, name string) RoomResponse {
	t.Helper()
	resp := env.do(t, http.MethodPost, "/api/rooms", token, map[string]any{"courseId": courseID, "name": name})
	if resp.Code != http.StatusCreated {
		t.Fatalf("create room: %d %s", resp.Code, resp.Body.String())
	}
	return decodeBody[RoomResponse](t, resp)
}

func waitMembers(t *testing.T, hub *core.Hub, roomID int64, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(hub.MembersOf(roomID)) == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("room %d: expected %d members, got %d", roomID, want, len(hub.MembersOf(roomID)))
}

// Instructor creates a Q&A room, two students chat, one disconnects and the
// instructor deletes the room.
func TestWebSocketQARoomWalkthrough(t *testing.T) {
	env := newTestEnv(t)
	teacher, course := seedCourse(t, env)
	room := createRoom(t, env, teacher, course.ID, "Q&A")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	connA := env.dial(t, ctx, env.register(t, "alice", store.RoleStudent))
	connB := env.dial(t, ctx, env.register(t, "bob", store.RoleStudent))

	send(t, ctx, connA, proto.InboundTypeJoin, proto.RoomData{Room: room.ID})
	waitMembers(t, env.hub, room.ID, 1)
	send(t, ctx, connB, proto.InboundTypeJoin, proto.RoomData{Room: room.ID})

	joined := expectEvent(t, ctx, connA, proto.EventJoined)
	var presence proto.EventPresenceData
	if err := json.Unmarshal(joined.Data, &presence); err != nil {
		t.Fatalf("unmarshal joined: %v", err)
	}
	if presence.User.Username != "bob" || presence.Room != room.ID {
		t.Fatalf("unexpected joined payload: %+v", presence)
	}

	send(t, ctx, connA, proto.InboundTypeSend, proto.SendData{Room: room.ID, Content: "  hello  "})

	for name, conn := range map[string]*websocket.Conn{"alice": connA, "bob": connB} {
		out := expectEvent(t, ctx, conn, proto.EventMessage)
		var msg proto.EventMessageData
		if err := json.Unmarshal(out.Data, &msg); err != nil {
			t.Fatalf("unmarshal message: %v", err)
		}
		if msg.Content != "hello" || msg.User.Username != "alice" || msg.ID == 0 || msg.Room != room.ID {
			t.Fatalf("%s received unexpected message: %+v", name, msg)
		}
	}

	_ = connB.Close(websocket.StatusNormalClosure, "bye")

	left := expectEvent(t, ctx, connA, proto.EventLeft)
	if err := json.Unmarshal(left.Data, &presence); err != nil {
		t.Fatalf("unmarshal left: %v", err)
	}
	if presence.User.Username != "bob" {
		t.Fatalf("unexpected left payload: %+v", presence)
	}
	waitMembers(t, env.hub, room.ID, 1)

	resp := env.do(t, http.MethodDelete, fmt.Sprintf("/api/rooms/%d", room.ID), teacher, nil)
	if resp.Code != http.StatusNoContent {
		t.Fatalf("delete room: %d %s", resp.Code, resp.Body.String())
	}

	deleted := expectEvent(t, ctx, connA, proto.EventRoomDeleted)
	var gone proto.EventRoomDeletedData
	if err := json.Unmarshal(deleted.Data, &gone); err != nil {
		t.Fatalf("unmarshal room_deleted: %v", err)
	}
	if gone.Room != room.ID {
		t.Fatalf("unexpected room_deleted payload: %+v", gone)
	}

	send(t, ctx, connA, proto.InboundTypeSend, proto.SendData{Room: room.ID, Content: "still there?"})
	if perr := expectError(t, ctx, connA); perr.Code != core.ErrCodeNotInRoom || perr.Room != room.ID {
		t.Fatalf("expected %s for room %d, got %+v", core.ErrCodeNotInRoom, room.ID, perr)
	}

	// History: the stored message went away with the room.
	msgs, err := env.st.ListMessages(ctx, room.ID, 10, nil)
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	if len(msgs) != 0 {
		t.Fatalf("expected messages removed with the room, got %d", len(msgs))
	}
}

func TestWebSocketEmptyMessageRejected(t *testing.T) {
	env := newTestEnv(t)
	teacher, course := seedCourse(t, env)
	room := createRoom(t, env, teacher, course.ID, "Q&A")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	connA := env.dial(t, ctx, env.register(t, "alice", store.RoleStudent))
	connB := env.dial(t, ctx, env.register(t, "bob", store.RoleStudent))
	send(t, ctx, connA, proto.InboundTypeJoin, proto.RoomData{Room: room.ID})
	send(t, ctx, connB, proto.InboundTypeJoin, proto.RoomData{Room: room.ID})
	waitMembers(t, env.hub, room.ID, 2)

	send(t, ctx, connA, proto.InboundTypeSend, proto.SendData{Room: room.ID, Content: "   "})
	if perr := expectError(t, ctx, connA); perr.Code != core.ErrCodeBadRequest {
		t.Fatalf("expected %s, got %+v", core.ErrCodeBadRequest, perr)
	}

	msgs, err := env.st.ListMessages(ctx, room.ID, 10, nil)
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	if len(msgs) != 0 {
		t.Fatalf("empty message must not be stored, got %d", len(msgs))
	}

	// Bob sees the next real message first, proving nothing was broadcast before it.
	send(t, ctx, connA, proto.InboundTypeSend, proto.SendData{Room: room.ID, Content: "real"})
	out := expectEvent(t, ctx, connB, proto.EventMessage)
	var msg proto.EventMessageData
	if err := json.Unmarshal(out.Data, &msg); err != nil {
		t.Fatalf("unmarshal message: %v", err)
	}
	if msg.Content != "real" {
		t.Fatalf("expected first message to be 'real', got %q", msg.Content)
	}
}

func TestWebSocketTypingAndAttachments(t *testing.T) {
	env := newTestEnv(t)
	teacher, course := seedCourse(t, env)
	room := createRoom(t, env, teacher, course.ID, "Lab")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	connA := env.dial(t, ctx, env.register(t, "alice", store.RoleStudent))
	connB := env.dial(t, ctx, env.register(t, "bob", store.RoleStudent))
	send(t, ctx, connA, proto.InboundTypeJoin, proto.RoomData{Room: room.ID})
	send(t, ctx, connB, proto.InboundTypeJoin, proto.RoomData{Room: room.ID})
	waitMembers(t, env.hub, room.ID, 2)

	send(t, ctx, connA, proto.InboundTypeTyping, proto.RoomData{Room: room.ID})
	expectEvent(t, ctx, connB, proto.EventTyping)
	send(t, ctx, connA, proto.InboundTypeStopTyping, proto.RoomData{Room: room.ID})
	expectEvent(t, ctx, connB, proto.EventStoppedTyping)

	send(t, ctx, connA, proto.InboundTypeSend, proto.SendData{
		Room: room.ID,
		Attachments: []proto.Attachment{
			{URL: "https://files.example.com/a.pdf", StorageID: "obj-1", Name: "a.pdf"},
		},
	})
	out := expectEvent(t, ctx, connB, proto.EventMessage)
	var msg proto.EventMessageData
	if err := json.Unmarshal(out.Data, &msg); err != nil {
		t.Fatalf("unmarshal message: %v", err)
	}
	if len(msg.Attachments) != 1 || msg.Attachments[0].StorageID != "obj-1" {
		t.Fatalf("unexpected attachments: %+v", msg.Attachments)
	}

	send(t, ctx, connA, proto.InboundTypeSend, proto.SendData{
		Room:        room.ID,
		Attachments: []proto.Attachment{{URL: "not a url", StorageID: "x", Name: "x"}},
	})
	if perr := expectError(t, ctx, connA); perr.Code != core.ErrCodeBadRequest {
		t.Fatalf("expected %s, got %+v", core.ErrCodeBadRequest, perr)
	}
}

func TestWebSocketProtocolErrors(t *testing.T) {
	env := newTestEnv(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := env.dial(t, ctx, env.register(t, "alice", store.RoleStudent))

	send(t, ctx, conn, "dance", map[string]any{})
	if perr := expectError(t, ctx, conn); perr.Code != core.ErrCodeBadRequest {
		t.Fatalf("expected bad_request for unknown type, got %+v", perr)
	}

	send(t, ctx, conn, proto.InboundTypeJoin, map[string]any{"room": "general"})
	if perr := expectError(t, ctx, conn); perr.Code != core.ErrCodeBadRequest {
		t.Fatalf("expected bad_request for malformed room, got %+v", perr)
	}

	send(t, ctx, conn, proto.InboundTypeJoin, proto.RoomData{Room: 4242})
	if perr := expectError(t, ctx, conn); perr.Code != core.ErrCodeRoomNotFound || perr.Room != 4242 {
		t.Fatalf("expected room_not_found for room 4242, got %+v", perr)
	}
}

func TestWebSocketRateLimit(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) { c.RateLimitPerMinute = 2 })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := env.dial(t, ctx, env.register(t, "alice", store.RoleStudent))
	for range 3 {
		send(t, ctx, conn, proto.InboundTypeLeave, proto.RoomData{Room: 1})
	}
	if perr := expectError(t, ctx, conn); perr.Code != core.ErrCodeRateLimited {
		t.Fatalf("expected rate_limited, got %+v", perr)
	}
}

func TestWebSocketDisconnectReleasesSession(t *testing.T) {
	env := newTestEnv(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := env.dial(t, ctx, env.register(t, "alice", store.RoleStudent))
	if env.hub.SessionCount() != 1 {
		t.Fatalf("expected 1 session, got %d", env.hub.SessionCount())
	}
	_ = conn.Close(websocket.StatusNormalClosure, "bye")

	deadline := time.Now().Add(2 * time.Second)
	for env.hub.SessionCount() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("session not released after close")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
