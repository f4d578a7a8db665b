package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/gookit/color"
	"github.com/olekukonko/tablewriter"

	"github.com/vovakirdan/coursechat-server/internal/proto"
)

func main() {
	if err := run(); err != nil {
		log.Printf("ws_chat: %v", err)
		os.Exit(1)
	}
}

type roomRow struct {
	ID           int64   `json:"id"`
	Name         string  `json:"name"`
	Participants []int64 `json:"participants"`
	UpdatedAt    string  `json:"updated_at"`
}

func run() error {
	base := flag.String("http", "http://localhost:8080", "server base URL")
	token := flag.String("token", os.Getenv("COURSECHAT_TOKEN"), "bearer token (from /api/login)")
	course := flag.Int64("course", 0, "course id; lists its rooms before connecting")
	room := flag.Int64("room", 0, "room to join on start")
	flag.Parse()

	if *token == "" {
		return errors.New("token is required (-token or COURSECHAT_TOKEN)")
	}

	baseCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(baseCtx)
	defer cancel()

	if *course > 0 {
		if err := printRooms(ctx, *base, *token, *course); err != nil {
			return err
		}
	}

	wsURL := strings.Replace(*base, "http", "ws", 1) + "/ws"
	header := http.Header{}
	header.Set("Authorization", "Bearer "+*token)
	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{HTTPHeader: header})
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")

	current := *room
	if current > 0 {
		if err := send(ctx, conn, proto.InboundTypeJoin, proto.RoomData{Room: current}); err != nil {
			return err
		}
	}

	fmt.Println(color.New(color.FgGreen).Render("Connected to " + wsURL))
	fmt.Println("Type messages and press Enter. Commands: /join N, /leave, /typing, /stop. Ctrl+C to exit.")

	go func() {
		defer cancel()
		readLoop(ctx, conn)
	}()

	writeLoop(ctx, conn, current)

	stop()
	cancel()
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
	return nil
}

func printRooms(ctx context.Context, base, token string, courseID int64) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/api/rooms?courseId=%d", base, courseID), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("list rooms: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("list rooms: status %d", resp.StatusCode)
	}

	var rooms []roomRow
	if err := json.NewDecoder(resp.Body).Decode(&rooms); err != nil {
		return fmt.Errorf("decode rooms: %w", err)
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"ID", "Name", "Participants", "Updated"})
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetBorder(false)
	for _, r := range rooms {
		table.Append([]string{strconv.FormatInt(r.ID, 10), r.Name, strconv.Itoa(len(r.Participants)), r.UpdatedAt})
	}
	table.Render()
	return nil
}

func send(ctx context.Context, conn *websocket.Conn, typ string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", typ, err)
	}
	if err := wsjson.Write(ctx, conn, proto.Inbound{Type: typ, Data: payload}); err != nil {
		return fmt.Errorf("send %s: %w", typ, err)
	}
	return nil
}

type rawOutbound struct {
	Type  string          `json:"type"`
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
	Error *proto.Error    `json:"error"`
}

func readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		var out rawOutbound
		if err := wsjson.Read(ctx, conn, &out); err != nil {
			// Treat expected shutdowns quietly.
			if errors.Is(err, context.Canceled) {
				return
			}
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				return
			}
			log.Printf("read error: %v", err)
			return
		}

		if out.Type == proto.OutboundTypeError && out.Error != nil {
			color.Red.Printf("error %s: %s\n", out.Error.Code, out.Error.Msg)
			continue
		}

		switch out.Event {
		case proto.EventMessage:
			var evt proto.EventMessageData
			if err := json.Unmarshal(out.Data, &evt); err != nil {
				log.Printf("unmarshal message: %v", err)
				continue
			}
			fmt.Printf("%s %s: %s\n", color.Gray.Sprintf("[%d #%d]", evt.Room, evt.ID), color.Cyan.Sprint(evt.User.Username), evt.Content)
			for _, a := range evt.Attachments {
				fmt.Printf("    attachment %s <%s>\n", a.Name, a.URL)
			}
		case proto.EventJoined, proto.EventLeft, proto.EventTyping, proto.EventStoppedTyping:
			var evt proto.EventPresenceData
			if err := json.Unmarshal(out.Data, &evt); err != nil {
				log.Printf("unmarshal %s: %v", out.Event, err)
				continue
			}
			color.Yellow.Printf("[room %d] %s %s\n", evt.Room, evt.User.Username, strings.ReplaceAll(out.Event, "_", " "))
		case proto.EventRoomDeleted:
			var evt proto.EventRoomDeletedData
			if err := json.Unmarshal(out.Data, &evt); err == nil {
				color.Red.Printf("[room %d] deleted by the instructor\n", evt.Room)
			}
		case proto.EventConnected:
			var evt proto.EventConnectedData
			if err := json.Unmarshal(out.Data, &evt); err == nil {
				color.Green.Printf("signed in as %s (%s)\n", evt.User.Username, evt.User.Role)
			}
		default:
			fmt.Printf("event=%s data=%s\n", out.Event, string(out.Data))
		}
	}
}

func writeLoop(ctx context.Context, conn *websocket.Conn, room int64) {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			text := strings.TrimSpace(line)
			if text == "" {
				continue
			}

			var err error
			switch {
			case strings.HasPrefix(text, "/join "):
				id, parseErr := strconv.ParseInt(strings.TrimSpace(strings.TrimPrefix(text, "/join ")), 10, 64)
				if parseErr != nil {
					color.Red.Println("usage: /join <room id>")
					continue
				}
				room = id
				err = send(ctx, conn, proto.InboundTypeJoin, proto.RoomData{Room: room})
			case text == "/leave":
				err = send(ctx, conn, proto.InboundTypeLeave, proto.RoomData{Room: room})
			case text == "/typing":
				err = send(ctx, conn, proto.InboundTypeTyping, proto.RoomData{Room: room})
			case text == "/stop":
				err = send(ctx, conn, proto.InboundTypeStopTyping, proto.RoomData{Room: room})
			default:
				if room == 0 {
					color.Red.Println("join a room first: /join <room id>")
					continue
				}
				err = send(ctx, conn, proto.InboundTypeSend, proto.SendData{Room: room, Content: text})
			}
			if err != nil {
				log.Printf("send error: %v", err)
				return
			}
		}
	}
}
