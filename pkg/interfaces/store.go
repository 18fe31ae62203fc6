package interfaces

import (
	"context"

	"labsync/pkg/types"
)

// SnapshotStore persists the whole persistent cache tier.
// FUNCTIONAL DISCOVERY: Save always receives the complete table; backends
// replace their previous contents rather than merging.
type SnapshotStore interface {
	// Load returns the last saved table. A missing snapshot is an empty table,
	// not an error.
	Load(ctx context.Context) (map[string]types.CacheRecord, error)

	// Save atomically replaces the stored table
	Save(ctx context.Context, entries map[string]types.CacheRecord) error

	Close() error
}

// HealthChecker is implemented by stores that can report reachability
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}
