// Package storagetest opens migrated in-memory databases for package tests.
package storagetest

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"maaspace/internal/config"
	"maaspace/internal/storage"
)

// Open returns a migrated sqlite ":memory:" database closed at test end.
func Open(t *testing.T) *storage.DB {
	t.Helper()
	cfg := &config.Config{
		Databases: map[string]config.DatabaseConfig{
			"sqlite3": {DSN: ":memory:"},
		},
	}
	db, err := storage.Open("sqlite3", cfg)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := storage.Migrate(context.Background(), db); err != nil {
		db.Close()
		t.Fatalf("migrate db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// InsertUser creates a bare user row and returns its id.
func InsertUser(t *testing.T, db *storage.DB, email string) string {
	t.Helper()
	id := uuid.NewString()
	_, err := db.ExecContext(context.Background(),
		`INSERT INTO users (id, email, password_hash, created_at) VALUES (?, ?, '', ?)`,
		id, email, time.Now().UTC())
	if err != nil {
		t.Fatalf("insert user: %v", err)
	}
	return id
}
