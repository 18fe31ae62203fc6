package database

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	dbconfig "labsync/pkg/database"
	"labsync/pkg/interfaces"
	"labsync/pkg/types"
)

func setupTestDB(t *testing.T) *Manager {
	t.Helper()
	config := dbconfig.DefaultConfig()
	config.DatabasePath = filepath.Join(t.TempDir(), "test.db")

	manager, err := NewManager(context.Background(), config, WithRetryDelay(10*time.Millisecond))
	if err != nil {
		t.Fatalf("Failed to create manager: %v", err)
	}
	t.Cleanup(func() { _ = manager.Close() })
	return manager
}

func TestManager_InterfaceCompliance(t *testing.T) {
	var _ interfaces.SnapshotStore = &Manager{}
	var _ interfaces.HealthChecker = &Manager{}
}

func TestManager_LoadEmptyDatabase(t *testing.T) {
	manager := setupTestDB(t)

	entries, err := manager.Load(context.Background())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("Expected empty table, got %d entries", len(entries))
	}
}

func TestManager_SaveThenLoad(t *testing.T) {
	manager := setupTestDB(t)
	ctx := context.Background()
	created := time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC)

	err := manager.Save(ctx, map[string]types.CacheRecord{
		"water-h2o": {Payload: types.Document{"uvVis": "peak", "ir": []any{"3400"}}, CreatedAt: created},
	})
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	entries, err := manager.Load(ctx)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	rec, ok := entries["water-h2o"]
	if !ok {
		t.Fatal("Expected water-h2o to be stored")
	}
	if rec.Payload["uvVis"] != "peak" {
		t.Errorf("Payload uvVis = %v, want peak", rec.Payload["uvVis"])
	}
	if !rec.CreatedAt.Equal(created) {
		t.Errorf("CreatedAt = %v, want %v", rec.CreatedAt, created)
	}
}

func TestManager_SaveReplacesWholeTable(t *testing.T) {
	manager := setupTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	first := map[string]types.CacheRecord{
		"a": {Payload: types.Document{"v": 1.0}, CreatedAt: now},
		"b": {Payload: types.Document{"v": 2.0}, CreatedAt: now},
	}
	if err := manager.Save(ctx, first); err != nil {
		t.Fatalf("first Save failed: %v", err)
	}

	second := map[string]types.CacheRecord{
		"c": {Payload: types.Document{"v": 3.0}, CreatedAt: now},
	}
	if err := manager.Save(ctx, second); err != nil {
		t.Fatalf("second Save failed: %v", err)
	}

	entries, err := manager.Load(ctx)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("Expected 1 entry after replacement, got %d", len(entries))
	}
	if _, ok := entries["c"]; !ok {
		t.Error("Expected key c to survive replacement")
	}
}

func TestManager_SingleWriterPattern(t *testing.T) {
	manager := setupTestDB(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			entries := map[string]types.CacheRecord{
				fmt.Sprintf("key-%d", i): {Payload: types.Document{"i": float64(i)}, CreatedAt: time.Now()},
			}
			errs <- manager.Save(ctx, entries)
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Errorf("concurrent Save failed: %v", err)
		}
	}

	entries, err := manager.Load(ctx)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("Each save replaces the table; expected 1 entry, got %d", len(entries))
	}
}

func TestManager_HealthCheckBehavior(t *testing.T) {
	manager := setupTestDB(t)

	if err := manager.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck failed on healthy database: %v", err)
	}
}

func TestManager_CleanShutdown(t *testing.T) {
	manager := setupTestDB(t)

	if err := manager.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := manager.Close(); err != nil {
		t.Errorf("second Close should be a no-op, got %v", err)
	}

	err := manager.Save(context.Background(), map[string]types.CacheRecord{})
	if err != ErrManagerClosed {
		t.Errorf("Save after Close error = %v, want ErrManagerClosed", err)
	}
}

func TestManager_InvalidConfig(t *testing.T) {
	_, err := NewManager(context.Background(), &dbconfig.Config{})
	if err == nil {
		t.Error("Expected error for empty config")
	}
}

func TestManager_RejectsIncompatibleSchema(t *testing.T) {
	config := dbconfig.DefaultConfig()
	config.DatabasePath = filepath.Join(t.TempDir(), "legacy.db")

	db, err := sql.Open("sqlite3", config.DatabasePath)
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	if _, err := db.Exec("CREATE TABLE cache_entries (key TEXT PRIMARY KEY, payload BLOB, created_at DATETIME)"); err != nil {
		t.Fatalf("Failed to create legacy table: %v", err)
	}
	_ = db.Close()

	manager, err := NewManager(context.Background(), config)
	if err == nil {
		_ = manager.Close()
		t.Fatal("NewManager should reject a cache_entries table with the wrong column types")
	}
}
