// Package integration runs classroom scenarios against a fully wired
// application over real HTTP and websocket connections.
package integration

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"labsync/internal/app"
	"labsync/internal/config"
	"labsync/internal/logging"
	"labsync/pkg/types"
)

const readTimeout = 2 * time.Second

type testServer struct {
	app     *app.Application
	baseURL string
	wsURL   string
	cancel  context.CancelFunc
	done    chan error
	stopped bool
}

// testConfig returns a config suited to fast in-process runs
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Cache.Backend = config.BackendMemory
	cfg.Invoker.BaseDelay = time.Millisecond
	cfg.Telemetry.Enabled = false
	cfg.Room.SweepInterval = 50 * time.Millisecond
	return cfg
}

func startServer(t *testing.T, cfg *config.Config) *testServer {
	t.Helper()

	application, err := app.NewApplication(context.Background(), cfg, app.WithLogger(logging.NewNop()))
	if err != nil {
		t.Fatalf("Failed to create application: %v", err)
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &testServer{
		app:     application,
		baseURL: "http://" + ln.Addr().String(),
		wsURL:   "ws://" + ln.Addr().String() + "/ws",
		cancel:  cancel,
		done:    make(chan error, 1),
	}
	go func() { s.done <- application.Serve(ctx, ln) }()
	t.Cleanup(func() { s.stop(t) })
	return s
}

// stop cancels the server and waits for a clean shutdown. Safe to call twice.
func (s *testServer) stop(t *testing.T) {
	t.Helper()
	if s.stopped {
		return
	}
	s.stopped = true
	s.cancel()
	select {
	case err := <-s.done:
		if err != nil {
			t.Errorf("Serve returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Error("server did not shut down")
	}
}

func (s *testServer) postJSON(t *testing.T, path string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	resp, err := http.Post(s.baseURL+path, "application/json", strings.NewReader(string(data)))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (s *testServer) getJSON(t *testing.T, path string, target any) int {
	t.Helper()
	resp, err := http.Get(s.baseURL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	defer resp.Body.Close()
	if target != nil {
		if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
			t.Fatalf("decode %s: %v", path, err)
		}
	}
	return resp.StatusCode
}

// envelope is the client-side view of an outbound frame
type envelope struct {
	Type   string          `json:"type"`
	RoomID string          `json:"room_id"`
	Data   json.RawMessage `json:"data"`
}

func (e envelope) decode(t *testing.T, target any) {
	t.Helper()
	if err := json.Unmarshal(e.Data, target); err != nil {
		t.Fatalf("decode %s payload: %v", e.Type, err)
	}
}

type client struct {
	conn *websocket.Conn
	id   string
}

// dial connects a client and consumes its connected event
func (s *testServer) dial(t *testing.T) *client {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(s.wsURL, nil)
	if err != nil {
		t.Fatalf("Failed to dial websocket: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	c := &client{conn: conn}
	env := c.next(t)
	if env.Type != types.EventConnected {
		t.Fatalf("expected connected event, got %s", env.Type)
	}
	var data types.ConnectedData
	env.decode(t, &data)
	c.id = data.ParticipantID
	return c
}

func (c *client) send(t *testing.T, eventType, roomID string, data any) {
	t.Helper()
	raw, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	msg := types.InboundEnvelope{Type: eventType, RoomID: roomID, Data: raw}
	if err := c.conn.WriteJSON(msg); err != nil {
		t.Fatalf("send %s: %v", eventType, err)
	}
}

func (c *client) next(t *testing.T) envelope {
	t.Helper()
	_ = c.conn.SetReadDeadline(time.Now().Add(readTimeout))
	var env envelope
	if err := c.conn.ReadJSON(&env); err != nil {
		t.Fatalf("client %s read: %v", c.id, err)
	}
	return env
}

// expect reads until an event of eventType arrives, failing on timeout
func (c *client) expect(t *testing.T, eventType string) envelope {
	t.Helper()
	for range 20 {
		env := c.next(t)
		if env.Type == eventType {
			return env
		}
	}
	t.Fatalf("client %s never received %s", c.id, eventType)
	return envelope{}
}

// join sends join_room and returns the room_state reply
func (c *client) join(t *testing.T, roomID, name string) types.RoomSnapshot {
	t.Helper()
	c.send(t, types.EventJoinRoom, roomID, types.JoinData{Name: name})
	var snap types.RoomSnapshot
	c.expect(t, types.EventRoomState).decode(t, &snap)
	return snap
}
