// Package dbopen opens the SQLite file backing the record store. The page
// watcher and the admin API may hold the same file from two processes, so
// every pooled connection gets the same pragmas through the DSN:
//
//	busy_timeout = 10000   wait for the other writer instead of failing
//	journal_mode = WAL     readers never block the writer
//	synchronous  = NORMAL
//
// and transactions start IMMEDIATE, taking the write lock up front for the
// store's read-modify-write cycles. Writers still retry on SQLITE_BUSY
// (see RunTx and Exec).
//
// Usage:
//
//	db, err := dbopen.Open("blockreasons.db", dbopen.WithMkdirAll())
//
// In tests:
//
//	db := dbopen.OpenMemory(t)
package dbopen

import (
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// Memory is the path of a private in-memory database.
const Memory = ":memory:"

type config struct {
	busyTimeout time.Duration
	synchronous string
	mkdirAll    bool
	schemas     []string
}

// Option customises Open behaviour.
type Option func(*config)

// WithBusyTimeout sets PRAGMA busy_timeout. Default: 10s.
func WithBusyTimeout(d time.Duration) Option { return func(c *config) { c.busyTimeout = d } }

// WithSynchronous sets PRAGMA synchronous. Default: "NORMAL".
func WithSynchronous(mode string) Option { return func(c *config) { c.synchronous = mode } }

// WithMkdirAll creates the parent directory of the database file.
func WithMkdirAll() Option { return func(c *config) { c.mkdirAll = true } }

// WithSchema queues SQL to execute once the database is open.
func WithSchema(s string) Option { return func(c *config) { c.schemas = append(c.schemas, s) } }

// DSN builds the modernc.org/sqlite data source name for path.
func DSN(path string, opts ...Option) string {
	cfg := apply(opts)
	q := url.Values{}
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", cfg.busyTimeout.Milliseconds()))
	if path != Memory {
		q.Add("_pragma", "journal_mode(WAL)")
	}
	q.Add("_pragma", "synchronous("+cfg.synchronous+")")
	q.Set("_txlock", "immediate")
	return "file:" + path + "?" + q.Encode()
}

// Open opens the SQLite database at path and verifies it answers.
func Open(path string, opts ...Option) (*sql.DB, error) {
	cfg := apply(opts)

	if cfg.mkdirAll && path != Memory {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("dbopen: mkdir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", DSN(path, opts...))
	if err != nil {
		return nil, fmt.Errorf("dbopen: open %s: %w", path, err)
	}
	if path == Memory {
		// Each connection to :memory: is its own database.
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("dbopen: ping %s: %w", path, err)
	}

	for _, s := range cfg.schemas {
		if _, err := db.Exec(s); err != nil {
			db.Close()
			return nil, fmt.Errorf("dbopen: exec schema: %w", err)
		}
	}
	return db, nil
}

// OpenMemory opens an in-memory database closed by t.Cleanup.
func OpenMemory(t testing.TB, opts ...Option) *sql.DB {
	t.Helper()
	db, err := Open(Memory, opts...)
	if err != nil {
		t.Fatalf("dbopen.OpenMemory: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func apply(opts []Option) config {
	cfg := config{
		busyTimeout: 10 * time.Second,
		synchronous: "NORMAL",
	}
	for _, o := range opts {
		o(&cfg)
	}
	return cfg
}
