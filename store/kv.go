package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hazyhaar/blockreasons/dbopen"
)

// KV is the key-value collaborator: whole values per key, no field-level
// updates, no compare-and-swap.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
}

// batchSetter is implemented by KVs that can write several keys atomically.
type batchSetter interface {
	SetMany(ctx context.Context, values map[string][]byte) error
}

// Schema is the single table backing SQLiteKV.
const Schema = `
CREATE TABLE IF NOT EXISTS kv (
    key        TEXT PRIMARY KEY,
    value      TEXT NOT NULL,
    updated_at INTEGER NOT NULL
);`

// SQLiteKV stores each key as one row.
type SQLiteKV struct {
	DB *sql.DB
}

// NewSQLiteKV applies Schema and returns a KV over db.
func NewSQLiteKV(db *sql.DB) (*SQLiteKV, error) {
	if _, err := db.Exec(Schema); err != nil {
		return nil, fmt.Errorf("store: apply schema: %w", err)
	}
	return &SQLiteKV{DB: db}, nil
}

// Get returns the value stored under key and whether it exists.
func (s *SQLiteKV) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var value string
	err := s.DB.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("store: get %s: %w", key, err)
	}
	return []byte(value), true, nil
}

// Set replaces the value under key.
func (s *SQLiteKV) Set(ctx context.Context, key string, value []byte) error {
	_, err := dbopen.Exec(ctx, s.DB, upsertSQL, key, string(value), time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("store: set %s: %w", key, err)
	}
	return nil
}

// SetMany replaces several keys in one transaction.
func (s *SQLiteKV) SetMany(ctx context.Context, values map[string][]byte) error {
	now := time.Now().UnixMilli()
	return dbopen.RunTx(ctx, s.DB, func(tx *sql.Tx) error {
		for key, value := range values {
			if _, err := tx.ExecContext(ctx, upsertSQL, key, string(value), now); err != nil {
				return fmt.Errorf("store: set %s: %w", key, err)
			}
		}
		return nil
	})
}

// updated_at never repeats: two writes in the same millisecond still move
// the revision.
const upsertSQL = `
INSERT INTO kv (key, value, updated_at)
VALUES (?1, ?2, MAX(?3, (SELECT COALESCE(MAX(updated_at), 0) + 1 FROM kv)))
ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`

// Revision returns the latest write stamp across all keys, 0 when empty.
func (s *SQLiteKV) Revision(ctx context.Context) (int64, error) {
	var rev int64
	err := s.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(updated_at), 0) FROM kv`).Scan(&rev)
	if err != nil {
		return 0, fmt.Errorf("store: revision: %w", err)
	}
	return rev, nil
}
