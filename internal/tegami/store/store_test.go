package store_test

import (
	"path/filepath"
	"testing"

	"github.com/bdobrica/Tegami/internal/tegami/store"
)

func TestNew_AppliesMigrations(t *testing.T) {
	s, err := store.New(":memory:")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()

	v, err := s.SchemaVersion()
	if err != nil {
		t.Fatalf("SchemaVersion: %v", err)
	}
	if v != 2 {
		t.Errorf("schema version = %d, want 2", v)
	}

	if _, err := s.DB().Exec(`INSERT INTO kv (key, value, updated_at, size) VALUES ('k', 'v', 'now', 1)`); err != nil {
		t.Fatalf("kv table not usable: %v", err)
	}
}

func TestNew_ReopenIsIdempotent(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "tegami.db")

	first, err := store.New(dbPath)
	if err != nil {
		t.Fatalf("first open: %v", err)
	}
	if _, err := first.DB().Exec(`INSERT INTO kv (key, value, updated_at) VALUES ('global_x', '1', 'now')`); err != nil {
		t.Fatalf("insert: %v", err)
	}
	first.Close()

	second, err := store.New(dbPath)
	if err != nil {
		t.Fatalf("second open: %v", err)
	}
	defer second.Close()

	var value string
	if err := second.DB().QueryRow(`SELECT value FROM kv WHERE key = 'global_x'`).Scan(&value); err != nil {
		t.Fatalf("row lost across reopen: %v", err)
	}
	if value != "1" {
		t.Errorf("value = %q, want 1", value)
	}
}
