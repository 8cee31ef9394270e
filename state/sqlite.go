package state

import (
	"context"
	"database/sql"
	"time"

	"github.com/teranos/vigil/db"
	"github.com/teranos/vigil/errors"
)

// SQLiteStore persists keys in the kv_state table. The table is created by
// the db package's embedded migrations; open the handle through
// db.OpenWithMigrations before constructing a store on it.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a store over an already-open database handle.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// wrapStoreErr adds context and marks closed-handle failures with
// db.ErrClosed, keeping the shutdown race recognizable to callers after
// wrapping.
func wrapStoreErr(err error, format string, args ...interface{}) error {
	err = errors.Wrapf(err, format, args...)
	if db.IsClosed(err) {
		err = errors.Mark(err, db.ErrClosed)
	}
	return err
}

// Get returns the value at key, with found=false when the key is absent.
func (s *SQLiteStore) Get(ctx context.Context, key string) (string, bool, error) {
	query := `SELECT value FROM kv_state WHERE key = ?`

	var value string
	err := s.db.QueryRowContext(ctx, query, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, wrapStoreErr(err, "failed to read state key %q", key)
	}

	return value, true, nil
}

// Set writes value under key. Each overwrite bumps the row's version so
// concurrent writers are at least observable after the fact.
func (s *SQLiteStore) Set(ctx context.Context, key, value string) error {
	query := `
		INSERT INTO kv_state (key, value, version, updated_at)
		VALUES (?, ?, 1, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			version = kv_state.version + 1,
			updated_at = excluded.updated_at
	`

	_, err := s.db.ExecContext(ctx, query, key, value, time.Now().Format(time.RFC3339Nano))
	if err != nil {
		return wrapStoreErr(err, "failed to write state key %q", key)
	}

	return nil
}

// Remove deletes key. Removing an absent key is not an error.
func (s *SQLiteStore) Remove(ctx context.Context, key string) error {
	query := `DELETE FROM kv_state WHERE key = ?`

	if _, err := s.db.ExecContext(ctx, query, key); err != nil {
		return wrapStoreErr(err, "failed to remove state key %q", key)
	}

	return nil
}

// Close is a no-op: the database handle is shared and owned by the caller.
func (s *SQLiteStore) Close() error {
	return nil
}

// Version returns the write counter for key, 0 when absent. Diagnostic use
// only (db stats command, tests).
func (s *SQLiteStore) Version(ctx context.Context, key string) (int64, error) {
	query := `SELECT version FROM kv_state WHERE key = ?`

	var version int64
	err := s.db.QueryRowContext(ctx, query, key).Scan(&version)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, wrapStoreErr(err, "failed to read version for state key %q", key)
	}

	return version, nil
}
