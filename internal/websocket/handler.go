package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"labsync/internal/logging"
	"labsync/internal/metrics"
	"labsync/pkg/types"
)

// Settings tunes per-connection buffering and heartbeats
type Settings struct {
	SendBuffer      int           `json:"send_buffer" yaml:"send_buffer"`
	WriteTimeout    time.Duration `json:"write_timeout" yaml:"write_timeout"`
	PongTimeout     time.Duration `json:"pong_timeout" yaml:"pong_timeout"`
	PingInterval    time.Duration `json:"ping_interval" yaml:"ping_interval"`
	MaxMessageBytes int64         `json:"max_message_bytes" yaml:"max_message_bytes"`
}

// DefaultSettings returns the classroom defaults
// FUNCTIONAL DISCOVERY: 30s pings inside a 60s pong window survive flaky
// classroom wifi without holding dead sockets for long
func DefaultSettings() Settings {
	return Settings{
		SendBuffer:      256,
		WriteTimeout:    5 * time.Second,
		PongTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageBytes: types.MaxContentBytes + 4096,
	}
}

func (s Settings) withDefaults() Settings {
	d := DefaultSettings()
	if s.SendBuffer <= 0 {
		s.SendBuffer = d.SendBuffer
	}
	if s.WriteTimeout <= 0 {
		s.WriteTimeout = d.WriteTimeout
	}
	if s.PongTimeout <= 0 {
		s.PongTimeout = d.PongTimeout
	}
	if s.PingInterval <= 0 || s.PingInterval >= s.PongTimeout {
		s.PingInterval = s.PongTimeout * 9 / 10
	}
	if s.MaxMessageBytes <= 0 {
		s.MaxMessageBytes = d.MaxMessageBytes
	}
	return s
}

// Dispatcher receives decoded client events
type Dispatcher interface {
	Dispatch(ctx context.Context, participantID string, env types.InboundEnvelope) error
	Disconnect(participantID string)
}

var upgrader = websocket.Upgrader{
	// no auth and no origin policy: any lab page may connect
	CheckOrigin:      func(r *http.Request) bool { return true },
	HandshakeTimeout: 10 * time.Second,
}

// Handler upgrades HTTP requests and runs the read side of each connection
type Handler struct {
	registry   *Registry
	dispatcher Dispatcher
	settings   Settings
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// HandlerOption configures a Handler
type HandlerOption func(*Handler)

func WithSettings(s Settings) HandlerOption {
	return func(h *Handler) { h.settings = s.withDefaults() }
}

func WithLogger(l *slog.Logger) HandlerOption {
	return func(h *Handler) { h.logger = l }
}

func WithMetrics(m *metrics.Metrics) HandlerOption {
	return func(h *Handler) { h.metrics = m }
}

// NewHandler creates a websocket handler feeding dispatcher
func NewHandler(registry *Registry, dispatcher Dispatcher, opts ...HandlerOption) *Handler {
	h := &Handler{
		registry:   registry,
		dispatcher: dispatcher,
		settings:   DefaultSettings(),
		logger:     logging.NewNop(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// ServeHTTP upgrades the request, assigns a participant ID and announces it
// to the client with a connected event
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "err", err)
		return
	}

	participantID := uuid.NewString()
	conn := NewConnection(ws, participantID, h.settings, h.logger)
	if err := h.registry.Register(conn); err != nil {
		h.logger.Error("register connection", "sid", participantID, "err", err)
		_ = conn.Close()
		return
	}
	h.metrics.AddConnections(1)
	h.logger.Info("client connected", "sid", participantID, "remote", r.RemoteAddr)

	connected := types.Event{
		Type: types.EventConnected,
		Data: types.ConnectedData{ParticipantID: participantID},
	}
	if err := conn.TrySend(connected.Envelope(time.Now())); err != nil {
		h.logger.Warn("send connected event", "sid", participantID, "err", err)
	}

	go h.readPump(conn)
}

// readPump decodes client frames until the socket fails, then disconnects
// the participant from its room
func (h *Handler) readPump(conn *Connection) {
	participantID := conn.ParticipantID()
	defer func() {
		h.dispatcher.Disconnect(participantID)
		h.registry.Unregister(conn)
		_ = conn.Close()
		h.metrics.AddConnections(-1)
		h.logger.Info("client disconnected", "sid", participantID)
	}()

	ws := conn.conn
	ws.SetReadLimit(h.settings.MaxMessageBytes)
	if err := ws.SetReadDeadline(time.Now().Add(h.settings.PongTimeout)); err != nil {
		return
	}
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(h.settings.PongTimeout))
	})

	for {
		messageType, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("websocket read error", "sid", participantID, "err", err)
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var env types.InboundEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			h.rejectFrame(conn, err)
			continue
		}
		// failures are already reported to the client by the dispatcher
		_ = h.dispatcher.Dispatch(conn.Context(), participantID, env)
	}
}

func (h *Handler) rejectFrame(conn *Connection, err error) {
	h.logger.Debug("undecodable frame", "sid", conn.ParticipantID(), "err", err)
	ev := types.Event{
		Type: types.EventError,
		Data: types.ErrorData{Message: types.ErrInvalidContent.Error()},
	}
	_ = conn.TrySend(ev.Envelope(time.Now()))
}
