package database

import (
	"context"
	"testing"
)

func TestSchemaValidator_EmptyDatabase(t *testing.T) {
	db := openTestDB(t)
	validator := NewSchemaValidator(db)
	ctx := context.Background()

	if err := validator.ValidateTablesExist(ctx); err == nil {
		t.Error("ValidateTablesExist should fail on empty database")
	}
	if err := validator.ValidateIndexes(ctx); err == nil {
		t.Error("ValidateIndexes should fail on empty database")
	}
}

func TestSchemaValidator_MigratedDatabase(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	if err := NewMigrationManager(db).ApplyMigrations(ctx); err != nil {
		t.Fatalf("ApplyMigrations failed: %v", err)
	}

	validator := NewSchemaValidator(db)
	if err := validator.ValidateTablesExist(ctx); err != nil {
		t.Errorf("ValidateTablesExist: %v", err)
	}
	if err := validator.ValidateTableStructure(ctx); err != nil {
		t.Errorf("ValidateTableStructure: %v", err)
	}
	if err := validator.ValidateIndexes(ctx); err != nil {
		t.Errorf("ValidateIndexes: %v", err)
	}
	if err := validator.ValidateConstraints(ctx); err != nil {
		t.Errorf("ValidateConstraints: %v", err)
	}

	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM cache_entries").Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 0 {
		t.Errorf("constraint probe leaked %d rows", count)
	}
}

func TestSchemaValidator_WrongColumnType(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	_, err := db.Exec(`CREATE TABLE cache_entries (key TEXT PRIMARY KEY, payload BLOB NOT NULL, created_at DATETIME NOT NULL)`)
	if err != nil {
		t.Fatalf("create table: %v", err)
	}

	if err := NewSchemaValidator(db).ValidateTableStructure(ctx); err == nil {
		t.Error("ValidateTableStructure should reject a BLOB payload column")
	}
}
