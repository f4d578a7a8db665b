package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"

	"github.com/vovakirdan/coursechat-server/internal/proto"
)

func main() {
	if err := run(); err != nil {
		log.Printf("ws_smoke: %v", err)
		os.Exit(1)
	}
}

// run registers a throwaway teacher, creates a course and a room, connects
// over the websocket, sends one message and waits for its broadcast.
func run() error {
	base := flag.String("http", "http://localhost:8080", "server base URL")
	text := flag.String("text", "hello from smoke test", "message text to send")
	timeout := flag.Duration("timeout", 5*time.Second, "total timeout for the run")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	var auth struct {
		Token string `json:"token"`
	}
	if err := postJSON(ctx, *base+"/api/register", "", map[string]string{
		"username": "smoke-" + suffix,
		"password": "smoke-password",
		"role":     "teacher",
	}, &auth); err != nil {
		return err
	}

	var course struct {
		ID int64 `json:"id"`
	}
	if err := postJSON(ctx, *base+"/api/courses", auth.Token, map[string]string{"title": "Smoke " + suffix}, &course); err != nil {
		return err
	}

	var room struct {
		ID int64 `json:"id"`
	}
	if err := postJSON(ctx, *base+"/api/rooms", auth.Token, map[string]any{"courseId": course.ID, "name": "smoke"}, &room); err != nil {
		return err
	}
	fmt.Printf("Created course=%d room=%d\n", course.ID, room.ID)

	header := http.Header{}
	header.Set("Authorization", "Bearer "+auth.Token)
	conn, _, err := websocket.Dial(ctx, strings.Replace(*base, "http", "ws", 1)+"/ws", &websocket.DialOptions{HTTPHeader: header})
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")

	mustSend := func(typ string, data any) error {
		payload, err := json.Marshal(data)
		if err != nil {
			return fmt.Errorf("marshal %s: %w", typ, err)
		}
		if err := wsjson.Write(ctx, conn, proto.Inbound{Type: typ, Data: payload}); err != nil {
			return fmt.Errorf("send: %w", err)
		}
		return nil
	}

	if err := mustSend(proto.InboundTypeJoin, proto.RoomData{Room: room.ID}); err != nil {
		return err
	}
	if err := mustSend(proto.InboundTypeSend, proto.SendData{Room: room.ID, Content: *text}); err != nil {
		return err
	}

	for {
		var outbound struct {
			Type  string          `json:"type"`
			Event string          `json:"event"`
			Data  json.RawMessage `json:"data"`
			Error *proto.Error    `json:"error"`
		}
		if err := wsjson.Read(ctx, conn, &outbound); err != nil {
			return fmt.Errorf("read: %w", err)
		}

		fmt.Printf("Received outbound: type=%s", outbound.Type)
		if outbound.Event != "" {
			fmt.Printf(" event=%s", outbound.Event)
		}
		fmt.Println()

		if outbound.Error != nil {
			return fmt.Errorf("server error %s: %s", outbound.Error.Code, outbound.Error.Msg)
		}

		if outbound.Event == proto.EventMessage {
			var evt proto.EventMessageData
			if err := json.Unmarshal(outbound.Data, &evt); err != nil {
				fmt.Printf("Raw data: %s\n", string(outbound.Data))
				return fmt.Errorf("unmarshal message: %w", err)
			}
			fmt.Printf("EventMessage: id=%d room=%d user=%s content=%q ts=%d\n", evt.ID, evt.Room, evt.User.Username, evt.Content, evt.TS)
			return nil
		}
	}
}

func postJSON(ctx context.Context, url, token string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("POST %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("POST %s: status %d", url, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
