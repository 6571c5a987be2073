package kv

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/bdobrica/Tegami/internal/tegami/store"
)

// SQLite is the device-local Backend. It is always reachable while the
// database file is, and optionally enforces a byte quota across all keys.
type SQLite struct {
	db    *store.Store
	quota int64
}

var _ Backend = (*SQLite)(nil)

// NewSQLite returns a backend on db's kv table. quota <= 0 disables the
// size limit.
func NewSQLite(db *store.Store, quota int64) *SQLite {
	return &SQLite{db: db, quota: quota}
}

func (s *SQLite) Name() string { return "sqlite" }

func (s *SQLite) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.DB().QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("kv sqlite: get %q: %w", key, err)
	}
	return value, true, nil
}

// Set upserts value. With a quota configured, a write that would push the
// table past it fails with ErrQuotaExceeded and leaves the old value intact.
func (s *SQLite) Set(ctx context.Context, key, value string) error {
	size := int64(len(value))
	tx, err := s.db.DB().BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("kv sqlite: begin: %w", err)
	}
	defer tx.Rollback()

	if s.quota > 0 {
		var used int64
		if err := tx.QueryRowContext(ctx,
			`SELECT COALESCE(SUM(size), 0) FROM kv WHERE key <> ?`, key,
		).Scan(&used); err != nil {
			return fmt.Errorf("kv sqlite: measure usage: %w", err)
		}
		if used+size > s.quota {
			return fmt.Errorf("kv sqlite: set %q (%d bytes, %d of %d used): %w",
				key, size, used, s.quota, ErrQuotaExceeded)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO kv (key, value, updated_at, size)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value      = excluded.value,
			updated_at = excluded.updated_at,
			size       = excluded.size
	`, key, value, time.Now().UTC().Format(time.RFC3339Nano), size); err != nil {
		return fmt.Errorf("kv sqlite: set %q: %w", key, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("kv sqlite: commit %q: %w", key, err)
	}
	return nil
}

// Usage reports the bytes currently stored.
func (s *SQLite) Usage(ctx context.Context) (int64, error) {
	var used int64
	err := s.db.DB().QueryRowContext(ctx, `SELECT COALESCE(SUM(size), 0) FROM kv`).Scan(&used)
	if err != nil {
		return 0, fmt.Errorf("kv sqlite: usage: %w", err)
	}
	return used, nil
}
