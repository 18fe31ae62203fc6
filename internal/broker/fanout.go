package broker

import (
	"errors"
	"log/slog"
	"time"

	"labsync/internal/logging"
	"labsync/internal/metrics"
	"labsync/pkg/interfaces"
	"labsync/pkg/types"
)

// Delivery results recorded per recipient
const (
	resultDelivered    = "delivered"
	resultDropped      = "dropped"
	resultSlowConsumer = "slow_consumer"
	resultNoConnection = "no_connection"
)

// Fanout delivers room events to connections. It is the rooms' Publisher.
// TECHNICAL DISCOVERY: Publish runs under a room lock, so every send is a
// non-blocking enqueue and one stuck peer never delays the others.
type Fanout struct {
	conns   interfaces.ConnectionLookup
	now     func() time.Time
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// FanoutOption configures a Fanout
type FanoutOption func(*Fanout)

func WithFanoutLogger(l *slog.Logger) FanoutOption {
	return func(f *Fanout) { f.logger = l }
}

func WithFanoutMetrics(m *metrics.Metrics) FanoutOption {
	return func(f *Fanout) { f.metrics = m }
}

func WithFanoutClock(now func() time.Time) FanoutOption {
	return func(f *Fanout) { f.now = now }
}

// NewFanout creates a publisher resolving recipients through conns
func NewFanout(conns interfaces.ConnectionLookup, opts ...FanoutOption) *Fanout {
	f := &Fanout{
		conns:  conns,
		now:    time.Now,
		logger: logging.NewNop(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Publish enqueues the event for each recipient. Volatile events are dropped
// for peers whose outbox is full; a reliable event that cannot be queued
// closes that peer as a slow consumer.
func (f *Fanout) Publish(ev types.Event) {
	envelope := ev.Envelope(f.now())

	for _, id := range ev.Recipients {
		conn, ok := f.conns.Lookup(id)
		if !ok {
			f.metrics.OutboundEvent(ev.Type, resultNoConnection)
			continue
		}

		err := conn.TrySend(envelope)
		switch {
		case err == nil:
			f.metrics.OutboundEvent(ev.Type, resultDelivered)
		case errors.Is(err, interfaces.ErrSendBufferFull) && !ev.Volatile:
			f.metrics.OutboundEvent(ev.Type, resultSlowConsumer)
			f.logger.Warn("closing slow consumer", "sid", id, "room_id", ev.RoomID, "event", ev.Type)
			_ = conn.Close()
		default:
			f.metrics.OutboundEvent(ev.Type, resultDropped)
		}
	}
}
