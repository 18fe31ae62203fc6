package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"labsync/internal/logging"
	"labsync/pkg/interfaces"
)

// Connection implements interfaces.Connection over a gorilla websocket
// ARCHITECTURAL DISCOVERY: WebSocket writes must be serialized, so frames and
// pings both go through the single writer goroutine
type Connection struct {
	conn          *websocket.Conn
	participantID string
	outbox        chan []byte
	settings      Settings
	logger        *slog.Logger

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	done      chan struct{}
}

// NewConnection wraps conn and starts its writer
func NewConnection(conn *websocket.Conn, participantID string, settings Settings, logger *slog.Logger) *Connection {
	settings = settings.withDefaults()
	if logger == nil {
		logger = logging.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		conn:          conn,
		participantID: participantID,
		outbox:        make(chan []byte, settings.SendBuffer),
		settings:      settings,
		logger:        logger.With("sid", participantID),
		ctx:           ctx,
		cancel:        cancel,
		done:          make(chan struct{}),
	}

	go c.writeLoop()
	return c
}

// writeLoop owns every write to the socket. The outbox is never closed;
// the loop exits on ctx.
func (c *Connection) writeLoop() {
	defer close(c.done)
	ticker := time.NewTicker(c.settings.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case data := <-c.outbox:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.settings.WriteTimeout)); err != nil {
				_ = c.Close()
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.Debug("write failed", "err", err)
				_ = c.Close()
				return
			}

		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.settings.WriteTimeout)); err != nil {
				_ = c.Close()
				return
			}

		case <-c.ctx.Done():
			return
		}
	}
}

// TrySend marshals v and queues it without blocking
func (c *Connection) TrySend(v any) error {
	select {
	case <-c.ctx.Done():
		return interfaces.ErrConnectionClosed
	default:
	}

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidJSON, err)
	}

	select {
	case c.outbox <- data:
		return nil
	default:
		return interfaces.ErrSendBufferFull
	}
}

// Close stops the writer and closes the socket. It never blocks on the
// network, so it is safe to call from inside a room's critical section.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		if c.conn != nil {
			err = c.conn.Close()
		}
	})
	return err
}

// ParticipantID returns the connection-scoped participant identifier
func (c *Connection) ParticipantID() string { return c.participantID }

// Context is cancelled once the connection is closed
func (c *Connection) Context() context.Context { return c.ctx }

// Done is closed when the writer has exited
func (c *Connection) Done() <-chan struct{} { return c.done }
