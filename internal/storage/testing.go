package storage

import (
	"io"
	"log/slog"
	"path/filepath"
	"testing"
)

// NewTestDB opens a migrated database in a temporary directory that is
// closed when the test ends. It is exported for use in other package tests.
func NewTestDB(tb testing.TB) *DB {
	tb.Helper()

	config := DefaultConfig(filepath.Join(tb.TempDir(), "test.db"))
	config.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	db, err := Open(config)
	if err != nil {
		tb.Fatalf("Failed to open test database: %v", err)
	}
	tb.Cleanup(func() { _ = db.Close() })
	return db
}
