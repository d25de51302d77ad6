// Package sqlite is the single-file backend of the reconciler. It mirrors the
// PostgreSQL schema, including the unique indexes the idempotent operations
// rely on, so every service behaves the same on either driver.
//
// Timestamps are stored as RFC 3339 text and dates as YYYY-MM-DD. Amounts are
// stored as decimal text.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"
)

const (
	timeLayout = time.RFC3339Nano
	dateLayout = time.DateOnly
)

// Options configures Open.
type Options struct {
	// SkipGuards leaves out the unique indexes so a legacy file holding
	// duplicates can still be opened and cleaned.
	SkipGuards bool
	// BusyTimeout defaults to five seconds.
	BusyTimeout time.Duration
}

// Store owns the database handle and hands out per-domain repositories.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and applies the schema.
func Open(ctx context.Context, path string, opts Options) (*Store, error) {
	busy := opts.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=%d", path, busy.Milliseconds())
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("store/sqlite: open: %w", err)
	}
	// One writer at a time; waiting on the pool is cheaper than SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if err := migrate(ctx, db, opts.SkipGuards); err != nil {
		db.Close()
		return nil, fmt.Errorf("store/sqlite: migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// DB exposes the handle for seeding and tests.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Ping checks the handle is usable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close releases the handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func isUniqueViolation(err error) bool {
	var se sqlite3.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.ExtendedCode == sqlite3.ErrConstraintUnique || se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}

func isForeignKeyViolation(err error) bool {
	var se sqlite3.Error
	return errors.As(err, &se) && se.ExtendedCode == sqlite3.ErrConstraintForeignKey
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(raw string) (time.Time, error) {
	t, err := time.Parse(timeLayout, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("store/sqlite: timestamp %q: %w", raw, err)
	}
	return t, nil
}

func parseOptionalTime(raw sql.NullString) (*time.Time, error) {
	if !raw.Valid || raw.String == "" {
		return nil, nil
	}
	t, err := parseTime(raw.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
