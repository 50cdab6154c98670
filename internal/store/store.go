// Package store persists legislatures, parties, deputies and expenses in
// SQLite. Every write is a single INSERT ... ON CONFLICT DO UPDATE keyed on
// the record's natural key, so concurrent syncs of the same record converge
// on one row without application-level locking.
package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"log/slog"
	"time"

	// Pure-Go SQLite driver (no CGO).
	_ "modernc.org/sqlite"
)

// DefaultChunkSize bounds the number of rows per bulk upsert statement.
const DefaultChunkSize = 50

// Sentinel errors. Use errors.Is to check.
var (
	ErrNotFound           = errors.New("store: not found")
	ErrBigDeleteTriggered = errors.New("store: big-delete protection triggered")
)

// Store is the sole writer to the sync database. The *sql.DB is shared with
// the job queue.
type Store struct {
	db        *sql.DB
	logger    *slog.Logger
	chunkSize int
	nowFunc   func() time.Time // injectable for deterministic tests
}

// Open opens (creating if needed) the SQLite database at path, applies
// pending migrations, and returns a ready Store. The database uses WAL mode
// with synchronous=FULL and enforced foreign keys.
func Open(ctx context.Context, path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	// DSN parameters ensure pragmas apply to every connection from the pool.
	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)"+
			"&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)",
		path,
	)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: opening database %s: %w", path, err)
	}

	// Sole-writer pattern: only one connection writes at a time.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: connecting to %s: %w", path, err)
	}

	if err := runMigrations(ctx, db, logger); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("store opened", slog.String("db_path", path))

	return &Store{
		db:        db,
		logger:    logger,
		chunkSize: DefaultChunkSize,
		nowFunc:   time.Now,
	}, nil
}

// DB returns the underlying database handle for collaborators that share it
// (the job queue).
func (s *Store) DB() *sql.DB {
	return s.db
}

// SetChunkSize sets the number of rows per bulk upsert statement.
// Values < 1 restore the default.
func (s *Store) SetChunkSize(n int) {
	if n < 1 {
		n = DefaultChunkSize
	}

	s.chunkSize = n
}

// Close closes the database.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("store: closing database: %w", err)
	}

	return nil
}

// IsUnavailable reports whether err means the database (or the caller's
// context) is gone, as opposed to a per-record failure such as a constraint
// violation. Sync runs stop on these instead of counting them per record.
func IsUnavailable(err error) bool {
	return errors.Is(err, sql.ErrConnDone) ||
		errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// nullString converts an optional string to a SQL value.
func nullString(s *string) any {
	if s == nil {
		return nil
	}

	return *s
}

// nullInt converts an optional integer to a SQL value.
func nullInt[T int | int64](v *T) any {
	if v == nil {
		return nil
	}

	return int64(*v)
}

// nullJSON converts a raw JSON value to a SQL value; empty means NULL.
func nullJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}

	return string(b)
}

func strPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}

	v := ns.String

	return &v
}

func timePtr(ni sql.NullInt64) *time.Time {
	if !ni.Valid {
		return nil
	}

	t := time.Unix(0, ni.Int64).UTC()

	return &t
}
