// Package database implements the sqlite backend of the persistent cache tier
package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"labsync/internal/logging"
	dbconfig "labsync/pkg/database"
	"labsync/pkg/interfaces"
	"labsync/pkg/types"
)

var _ interfaces.SnapshotStore = (*Manager)(nil)

// Manager stores cache snapshots in sqlite. All writes go through one
// goroutine; reads use the pool directly.
type Manager struct {
	db           *sql.DB
	config       *dbconfig.Config
	writeChannel chan writeOperation // TECHNICAL: single-writer pattern for SQLite
	shutdown     chan struct{}
	wg           sync.WaitGroup
	closed       bool
	mu           sync.RWMutex
	logger       *slog.Logger
	retryDelay   time.Duration
	writeTimeout time.Duration
}

type writeOperation struct {
	operation func(*sql.DB) error
	result    chan error
}

// Option configures a Manager
type Option func(*Manager)

func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithRetryDelay sets the pause before the single write retry
func WithRetryDelay(d time.Duration) Option {
	return func(m *Manager) { m.retryDelay = d }
}

// NewManager opens the database, applies embedded migrations and starts the
// writer goroutine
func NewManager(ctx context.Context, config *dbconfig.Config, opts ...Option) (*Manager, error) {
	db, err := dbconfig.Open(config)
	if err != nil {
		return nil, err
	}

	migrations := dbconfig.NewMigrationManager(db)
	if err := migrations.ApplyMigrations(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	if err := migrations.ValidateSchema(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("database schema invalid: %w", err)
	}

	manager := &Manager{
		db:           db,
		config:       config,
		writeChannel: make(chan writeOperation, 100),
		shutdown:     make(chan struct{}),
		logger:       logging.NewNop(),
		retryDelay:   5 * time.Second,
		writeTimeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(manager)
	}

	// ARCHITECTURAL DISCOVERY: single-writer goroutine prevents SQLite write contention
	manager.wg.Add(1)
	go manager.writeLoop()

	return manager, nil
}

func (m *Manager) writeLoop() {
	defer m.wg.Done()

	for {
		select {
		case op := <-m.writeChannel:
			// FUNCTIONAL DISCOVERY: a failed write is retried exactly once
			err := op.operation(m.db)
			if err != nil {
				m.logger.Warn("database write failed, retrying", "error", err, "delay", m.retryDelay)
				time.Sleep(m.retryDelay)
				err = op.operation(m.db)
				if err != nil {
					m.logger.Error("database write failed after retry", "error", err)
				}
			}
			op.result <- err

		case <-m.shutdown:
			m.logger.Debug("database write loop shutting down")
			return
		}
	}
}

// executeWrite queues a write operation and waits for completion
func (m *Manager) executeWrite(ctx context.Context, operation func(*sql.DB) error) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return ErrManagerClosed
	}
	m.mu.RUnlock()

	result := make(chan error, 1)
	timer := time.NewTimer(m.writeTimeout)
	defer timer.Stop()

	select {
	case m.writeChannel <- writeOperation{operation: operation, result: result}:
	case <-timer.C:
		return ErrWriteTimeout
	case <-ctx.Done():
		return ctx.Err()
	case <-m.shutdown:
		return ErrManagerClosed
	}

	// Once queued the operation always completes; wait for it so callers
	// observe writes in submission order.
	return <-result
}

// Save replaces the cache_entries table with entries in one transaction
func (m *Manager) Save(ctx context.Context, entries map[string]types.CacheRecord) error {
	rows := make(map[string]string, len(entries))
	for key, rec := range entries {
		payload, err := json.Marshal(rec.Payload)
		if err != nil {
			return fmt.Errorf("failed to marshal payload for %s: %w", key, err)
		}
		rows[key] = string(payload)
	}

	return m.executeWrite(ctx, func(db *sql.DB) error {
		// The write loop outlives ctx cancellation of a queued op, so the
		// transaction uses a background context.
		txCtx := context.Background()
		tx, err := db.BeginTx(txCtx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		if _, err := tx.ExecContext(txCtx, `DELETE FROM cache_entries`); err != nil {
			return fmt.Errorf("failed to clear cache entries: %w", err)
		}

		stmt, err := tx.PrepareContext(txCtx, `INSERT INTO cache_entries (key, payload, created_at) VALUES (?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("failed to prepare insert: %w", err)
		}
		defer func() { _ = stmt.Close() }()

		for key, payload := range rows {
			if _, err := stmt.ExecContext(txCtx, key, payload, entries[key].CreatedAt.UTC()); err != nil {
				return fmt.Errorf("failed to insert cache entry %s: %w", key, err)
			}
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit cache snapshot: %w", err)
		}
		return nil
	})
}

// Load reads every row of cache_entries
func (m *Manager) Load(ctx context.Context) (map[string]types.CacheRecord, error) {
	rows, err := m.db.QueryContext(ctx, `SELECT key, payload, created_at FROM cache_entries`)
	if err != nil {
		return nil, fmt.Errorf("failed to query cache entries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	entries := make(map[string]types.CacheRecord)
	for rows.Next() {
		var (
			key       string
			payload   string
			createdAt time.Time
		)
		if err := rows.Scan(&key, &payload, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan cache entry: %w", err)
		}

		var doc types.Document
		if err := json.Unmarshal([]byte(payload), &doc); err != nil {
			return nil, fmt.Errorf("failed to unmarshal cache entry %s: %w", key, err)
		}
		entries[key] = types.CacheRecord{Payload: doc, CreatedAt: createdAt}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating cache entries: %w", err)
	}
	return entries, nil
}

// HealthCheck validates connectivity and that the cache table is readable
func (m *Manager) HealthCheck(ctx context.Context) error {
	if err := m.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	var n int
	if err := m.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM cache_entries").Scan(&n); err != nil {
		return fmt.Errorf("database read test failed: %w", err)
	}
	return nil
}

// Close stops the writer and closes the pool. Safe to call more than once.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.shutdown)
	m.wg.Wait()

	if err := m.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}
