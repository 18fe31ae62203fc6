// Package cache implements a two-tier cache: a short-lived in-process tier
// backed by a longer-lived persistent tier that is written through to a
// SnapshotStore on every Set.
package cache

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"sync"
	"time"

	"labsync/internal/logging"
	"labsync/internal/metrics"
	"labsync/pkg/interfaces"
	"labsync/pkg/types"
)

const (
	DefaultFastTTL       = time.Hour
	DefaultPersistentTTL = 24 * time.Hour
)

type fastEntry struct {
	value     types.Document
	expiresAt time.Time
}

// Stats reports how many entries each tier holds
type Stats struct {
	FastEntries       int `json:"fast_entries"`
	PersistentEntries int `json:"persistent_entries"`
}

// TieredCache is safe for concurrent use
type TieredCache struct {
	store         interfaces.SnapshotStore
	fastTTL       time.Duration
	persistentTTL time.Duration
	now           func() time.Time
	logger        *slog.Logger
	metrics       *metrics.Metrics

	// saveMu orders whole-table writes; it is always taken before mu
	saveMu sync.Mutex

	mu         sync.Mutex
	fast       map[string]fastEntry
	persistent map[string]types.CacheRecord
}

// Option configures a TieredCache
type Option func(*TieredCache)

func WithFastTTL(d time.Duration) Option {
	return func(c *TieredCache) {
		if d > 0 {
			c.fastTTL = d
		}
	}
}

func WithPersistentTTL(d time.Duration) Option {
	return func(c *TieredCache) {
		if d > 0 {
			c.persistentTTL = d
		}
	}
}

// WithClock injects the time source
func WithClock(now func() time.Time) Option {
	return func(c *TieredCache) { c.now = now }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *TieredCache) { c.logger = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *TieredCache) { c.metrics = m }
}

// New builds a cache over store and loads the persistent tier from it. A nil
// store keeps the persistent tier in memory only. Load failures are logged
// and leave the persistent tier empty.
func New(ctx context.Context, store interfaces.SnapshotStore, opts ...Option) *TieredCache {
	if store == nil {
		store = NewMemoryStore()
	}
	c := &TieredCache{
		store:         store,
		fastTTL:       DefaultFastTTL,
		persistentTTL: DefaultPersistentTTL,
		now:           time.Now,
		logger:        logging.NewNop(),
		fast:          make(map[string]fastEntry),
		persistent:    make(map[string]types.CacheRecord),
	}
	for _, opt := range opts {
		opt(c)
	}

	loaded, err := store.Load(ctx)
	if err != nil {
		c.logger.Warn("CacheUnavailable: persistent tier unreadable, starting empty",
			"error", fmt.Errorf("%w: %w", ErrUnavailable, err))
		c.metrics.CachePersistError()
	} else {
		for k, rec := range loaded {
			c.persistent[k] = rec
		}
		c.logger.Info("cache loaded", "entries", len(c.persistent))
	}
	c.metrics.SetCacheEntries(len(c.fast), len(c.persistent))
	return c
}

// Get returns a copy of the cached value. A fast-tier miss falls through to
// the persistent tier, promoting a fresh entry with a new fast expiry.
func (c *TieredCache) Get(ctx context.Context, key string) (types.Document, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()

	if e, ok := c.fast[key]; ok {
		if now.Before(e.expiresAt) {
			c.metrics.CacheLookup("fast")
			return e.value.Clone(), true
		}
		delete(c.fast, key)
	}

	rec, ok := c.persistent[key]
	if !ok {
		c.metrics.CacheLookup("miss")
		c.metrics.SetCacheEntries(len(c.fast), len(c.persistent))
		return nil, false
	}
	if now.Sub(rec.CreatedAt) >= c.persistentTTL {
		// Dropped in memory only; the next Set rewrites the table without it
		delete(c.persistent, key)
		c.metrics.CacheLookup("miss")
		c.metrics.SetCacheEntries(len(c.fast), len(c.persistent))
		return nil, false
	}

	// Promotion never touches the persistent creation time
	c.fast[key] = fastEntry{value: rec.Payload.Clone(), expiresAt: now.Add(c.fastTTL)}
	c.metrics.CacheLookup("persistent")
	c.metrics.SetCacheEntries(len(c.fast), len(c.persistent))
	c.logger.Debug("cache promoted", "key", key)
	return rec.Payload.Clone(), true
}

// Set writes value to both tiers and persists the whole persistent table.
// A failed save is logged and swallowed.
func (c *TieredCache) Set(ctx context.Context, key string, value types.Document) {
	c.saveMu.Lock()
	defer c.saveMu.Unlock()

	c.mu.Lock()
	now := c.now()
	c.fast[key] = fastEntry{value: value.Clone(), expiresAt: now.Add(c.fastTTL)}
	c.persistent[key] = types.CacheRecord{Payload: value.Clone(), CreatedAt: now}
	snapshot := maps.Clone(c.persistent)
	c.metrics.SetCacheEntries(len(c.fast), len(c.persistent))
	c.mu.Unlock()

	// The snapshot must land even if the caller goes away mid-write
	if err := c.store.Save(context.WithoutCancel(ctx), snapshot); err != nil {
		c.logger.Error("CacheUnavailable: persistent tier write failed",
			"key", key, "error", fmt.Errorf("%w: %w", ErrUnavailable, err))
		c.metrics.CachePersistError()
	}
}

// Stats reports the current tier sizes
func (c *TieredCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{FastEntries: len(c.fast), PersistentEntries: len(c.persistent)}
}

// Len returns the number of persistent-tier entries
func (c *TieredCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.persistent)
}

// HealthCheck reports store reachability when the backend supports it
func (c *TieredCache) HealthCheck(ctx context.Context) error {
	if hc, ok := c.store.(interfaces.HealthChecker); ok {
		return hc.HealthCheck(ctx)
	}
	return nil
}

// Close closes the underlying store
func (c *TieredCache) Close() error {
	c.saveMu.Lock()
	defer c.saveMu.Unlock()
	return c.store.Close()
}
