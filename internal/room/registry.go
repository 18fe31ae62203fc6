// Package room holds the collaboration rooms: a registry that creates rooms
// lazily and evicts idle ones, and the per-room session that serialises
// every mutation to a room's shared state.
package room

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"labsync/internal/logging"
	"labsync/internal/metrics"
	"labsync/pkg/interfaces"
	"labsync/pkg/types"
)

// DefaultIdleGrace is how long an empty room survives before eviction
const DefaultIdleGrace = 5 * time.Minute

// Summary is the list view of a room
type Summary struct {
	ID           string    `json:"room_id"`
	ActiveModule string    `json:"active_module"`
	Participants int       `json:"participants"`
	CreatedAt    time.Time `json:"created_at"`
}

// Registry owns the set of live rooms. Lock order is registry then session.
type Registry struct {
	publisher interfaces.Publisher
	grace     time.Duration
	now       func() time.Time
	intn      func(int) int
	logger    *slog.Logger
	metrics   *metrics.Metrics

	mu    sync.RWMutex
	rooms map[string]*Session
}

// Option configures a Registry
type Option func(*Registry)

// WithIdleGrace sets how long an empty room is kept
func WithIdleGrace(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.grace = d
		}
	}
}

// WithClock injects the time source
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithRand injects the colour picker's random source; intn(n) must return a
// value in [0, n)
func WithRand(intn func(int) int) Option {
	return func(r *Registry) { r.intn = intn }
}

func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Registry) { r.metrics = m }
}

// NewRegistry creates an empty registry publishing through publisher
func NewRegistry(publisher interfaces.Publisher, opts ...Option) *Registry {
	r := &Registry{
		publisher: publisher,
		grace:     DefaultIdleGrace,
		now:       time.Now,
		intn:      rand.IntN,
		logger:    logging.NewNop(),
		rooms:     make(map[string]*Session),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// GetOrCreate returns the room, creating it with default state on first
// reference. Concurrent first access yields one session.
func (r *Registry) GetOrCreate(roomID string) (*Session, error) {
	if !types.IsValidRoomID(roomID) {
		return nil, types.ErrInvalidRoomID
	}

	r.mu.RLock()
	s, ok := r.rooms[roomID]
	r.mu.RUnlock()
	if ok {
		return s, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.rooms[roomID]; ok {
		return s, nil
	}
	s = newSession(roomID, r)
	r.rooms[roomID] = s
	r.metrics.SetRooms(len(r.rooms))
	r.logger.Info("room created", "room_id", roomID)
	return s, nil
}

// Get returns an existing room without creating it
func (r *Registry) Get(roomID string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.rooms[roomID]
	if !ok {
		return nil, ErrUnknownRoom
	}
	return s, nil
}

// List summarises every room, ordered by ID
func (r *Registry) List() []Summary {
	r.mu.RLock()
	sessions := make([]*Session, 0, len(r.rooms))
	for _, s := range r.rooms {
		sessions = append(sessions, s)
	}
	r.mu.RUnlock()

	out := make([]Summary, 0, len(sessions))
	for _, s := range sessions {
		snap := s.Snapshot()
		out = append(out, Summary{
			ID:           snap.ID,
			ActiveModule: snap.ActiveModule,
			Participants: len(snap.Participants),
			CreatedAt:    snap.CreatedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len returns the number of live rooms
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

// Sweep evicts rooms that have been empty for longer than the grace period
// and returns how many were removed
func (r *Registry) Sweep(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	evicted := 0
	for id, s := range r.rooms {
		if s.evictIfIdle(now, r.grace) {
			delete(r.rooms, id)
			evicted++
			r.metrics.RoomEvicted()
			r.logger.Info("room evicted", "room_id", id)
		}
	}
	if evicted > 0 {
		r.metrics.SetRooms(len(r.rooms))
	}
	return evicted
}

// RunSweeper calls Sweep every interval until ctx is done
func (r *Registry) RunSweeper(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			r.Sweep(r.now())
		}
	}
}
