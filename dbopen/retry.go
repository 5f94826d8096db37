package dbopen

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// Backoff is the retry policy applied while SQLite reports BUSY. Wait i
// (1-based) sleeps i*Step.
type Backoff struct {
	Attempts int
	Step     time.Duration
}

// DefaultBackoff is used by RunTx and Exec: 3 attempts, 100/200 ms apart.
var DefaultBackoff = Backoff{Attempts: 3, Step: 100 * time.Millisecond}

// Do runs op until it succeeds, fails with a non-BUSY error, or the
// attempts are used up.
func (b Backoff) Do(ctx context.Context, op func() error) error {
	attempts := max(b.Attempts, 1)
	var err error
	for i := 1; i <= attempts; i++ {
		if err = op(); err == nil || !IsBusy(err) {
			return err
		}
		if i == attempts {
			break
		}
		t := time.NewTimer(time.Duration(i) * b.Step)
		select {
		case <-ctx.Done():
			t.Stop()
			return fmt.Errorf("dbopen: gave up waiting for lock: %w", ctx.Err())
		case <-t.C:
		}
	}
	return fmt.Errorf("dbopen: still busy after %d attempts: %w", attempts, err)
}

// IsBusy reports whether err means another connection holds the lock.
func IsBusy(err error) bool {
	if err == nil {
		return false
	}
	var serr *sqlite.Error
	if errors.As(err, &serr) {
		switch serr.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return true
		}
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

// RunTx runs fn inside a transaction, retrying the whole transaction while
// the database is busy. fn must be safe to re-run.
func RunTx(ctx context.Context, db *sql.DB, fn func(*sql.Tx) error) error {
	return DefaultBackoff.Do(ctx, func() error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("dbopen: begin: %w", err)
		}
		if err := fn(tx); err != nil {
			tx.Rollback()
			return err
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("dbopen: commit: %w", err)
		}
		return nil
	})
}

// Exec runs one statement with the RunTx retry policy.
func Exec(ctx context.Context, db *sql.DB, query string, args ...any) (sql.Result, error) {
	var res sql.Result
	err := DefaultBackoff.Do(ctx, func() error {
		var err error
		res, err = db.ExecContext(ctx, query, args...)
		return err
	})
	return res, err
}
