package database

import (
	"path/filepath"
	"testing"

	"github.com/seanankenbruck/ecommerce-insights/internal/observability"
)

// OpenTestStore opens a migrated store in t.TempDir() and registers cleanup
func OpenTestStore(t *testing.T) *Store {
	t.Helper()

	store, err := Open(Config{Path: filepath.Join(t.TempDir(), "test.db")}, observability.NopLogger())
	if err != nil {
		t.Fatalf("open test store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	if err := RunMigrations(store.DB()); err != nil {
		t.Fatalf("run migrations: %v", err)
	}
	return store
}
