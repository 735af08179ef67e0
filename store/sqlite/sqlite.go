/*
Package sqlite provides the SQLite-backed store of timestamped records.

PURPOSE:
  Owns the single embedded-database connection of the process and
  serializes every use of it. The go-sqlite3 connection has no locking of
  its own, so Store is the only way in.

CONCURRENCY:
  WithConn holds a sync.Mutex for the whole query lifecycle:
  prepare -> iterate rows -> map results. Callers block until the lock
  is free; there is no timeout and no FIFO guarantee. The lock is
  released on every exit path, including errors and panics.

  The *sql.DB pool is capped at one connection and that connection is
  pinned with db.Conn, so no query can bypass the lock.

KEY TABLES:
  times: time (TEXT, RFC3339 in the offset it was recorded in) plus the
         instant as unix_sec/unix_nsec. The instant is UNIQUE, so the same
         moment written with two offsets is one record: the first one wins.

MIGRATION:
  Schema is applied with goose from the embedded migrations/ directory on
  New(), before the connection is pinned.

USAGE:
  store, err := sqlite.New(ctx, ":memory:", sqlite.WithLogger(logger))
  if err != nil {
      return err
  }
  defer store.Close()

  err = store.EachTime(ctx, func(t time.Time) error { ... })

SEE ALSO:
  - migrate.go: goose wiring
  - timeslot/generator.go: Seed input
  - api/handlers.go: ListTimes reads through EachTime
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"iter"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/warp/timeslots/timeslot"
)

var (
	// ErrDuplicateTime is returned when an instant is already stored.
	ErrDuplicateTime = errors.New("time already recorded")

	// ErrClosed is returned by operations on a closed store.
	ErrClosed = errors.New("store closed")
)

// Store gates the one SQLite connection.
type Store struct {
	db   *sql.DB
	conn *sql.Conn
	mu   sync.Mutex
	log  *zap.Logger

	acquisitions atomic.Uint64
	failures     atomic.Uint64
	waitNanos    atomic.Int64
	holdNanos    atomic.Int64
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for migrations and seeding.
func WithLogger(log *zap.Logger) Option {
	return func(s *Store) {
		if log != nil {
			s.log = log
		}
	}
}

// New opens the database at dbPath, applies migrations and pins the
// connection. Use ":memory:" for an in-memory database.
func New(ctx context.Context, dbPath string, opts ...Option) (*Store, error) {
	s := &Store{log: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection, kept forever. ":memory:" databases live and die with it.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := migrate(ctx, db, s.log); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	conn, err := db.Conn(ctx)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to pin connection: %w", err)
	}

	s.db = db
	s.conn = conn
	return s, nil
}

// Close releases the connection and the database. Callers blocked in
// WithConn finish first.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	if dbErr := s.db.Close(); err == nil {
		err = dbErr
	}
	return err
}

// =============================================================================
// SCOPED ACQUISITION
// =============================================================================

// WithConn runs fn with exclusive use of the connection. No two fn bodies
// ever overlap. The lock is released before WithConn returns, whatever fn
// does. fn's error is returned unchanged.
//
// ctx is not consulted while waiting for the lock; pass it to the queries
// made inside fn.
func (s *Store) WithConn(ctx context.Context, fn func(conn *sql.Conn) error) error {
	waitStart := time.Now()
	s.mu.Lock()
	acquired := time.Now()
	defer func() {
		s.holdNanos.Add(int64(time.Since(acquired)))
		s.mu.Unlock()
	}()

	s.acquisitions.Add(1)
	s.waitNanos.Add(int64(acquired.Sub(waitStart)))

	if s.conn == nil {
		s.failures.Add(1)
		return ErrClosed
	}
	if err := fn(s.conn); err != nil {
		s.failures.Add(1)
		return err
	}
	return nil
}

// Stats is a snapshot of lock usage.
type Stats struct {
	Acquisitions uint64
	Failures     uint64
	Wait         time.Duration
	Hold         time.Duration
}

// Stats returns lock counters accumulated since New.
func (s *Store) Stats() Stats {
	return Stats{
		Acquisitions: s.acquisitions.Load(),
		Failures:     s.failures.Load(),
		Wait:         time.Duration(s.waitNanos.Load()),
		Hold:         time.Duration(s.holdNanos.Load()),
	}
}

// =============================================================================
// TIMES
// =============================================================================

// EachTime calls fn for every stored instant, in the order SQLite returns
// them, while holding the connection. fn must not call back into the Store.
func (s *Store) EachTime(ctx context.Context, fn func(t time.Time) error) error {
	return s.WithConn(ctx, func(conn *sql.Conn) error {
		rows, err := conn.QueryContext(ctx, "SELECT time FROM times")
		if err != nil {
			return fmt.Errorf("failed to query times: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var raw string
			if err := rows.Scan(&raw); err != nil {
				return fmt.Errorf("failed to scan time: %w", err)
			}
			t, err := timeslot.Parse(raw)
			if err != nil {
				return fmt.Errorf("failed to read time: %w", err)
			}
			if err := fn(t); err != nil {
				return err
			}
		}
		return rows.Err()
	})
}

// Insert stores one instant. It returns ErrDuplicateTime if the instant is
// already stored, in any offset.
func (s *Store) Insert(ctx context.Context, t time.Time) error {
	return s.WithConn(ctx, func(conn *sql.Conn) error {
		_, err := conn.ExecContext(ctx,
			"INSERT INTO times (time, unix_sec, unix_nsec) VALUES (?, ?, ?)",
			timeslot.Format(t), t.Unix(), t.Nanosecond())
		if err != nil {
			if isUniqueConstraintError(err) {
				return fmt.Errorf("%w: %s", ErrDuplicateTime, timeslot.Format(t))
			}
			return fmt.Errorf("failed to insert time: %w", err)
		}
		return nil
	})
}

// Seed inserts every instant of seq atomically, skipping instants already
// stored in any offset. It returns the number of rows added.
func (s *Store) Seed(ctx context.Context, seq iter.Seq[time.Time]) (int, error) {
	var added int
	err := s.WithConn(ctx, func(conn *sql.Conn) error {
		tx, err := conn.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer tx.Rollback()

		stmt, err := tx.PrepareContext(ctx, "INSERT OR IGNORE INTO times (time, unix_sec, unix_nsec) VALUES (?, ?, ?)")
		if err != nil {
			return fmt.Errorf("failed to prepare seed: %w", err)
		}
		defer stmt.Close()

		for t := range seq {
			res, err := stmt.ExecContext(ctx, timeslot.Format(t), t.Unix(), t.Nanosecond())
			if err != nil {
				return fmt.Errorf("failed to seed %s: %w", timeslot.Format(t), err)
			}
			n, _ := res.RowsAffected()
			added += int(n)
		}
		return tx.Commit()
	})
	if err != nil {
		return 0, err
	}
	s.log.Debug("store seeded", zap.Int("added", added))
	return added, nil
}

// Count returns the number of stored instants.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	err := s.WithConn(ctx, func(conn *sql.Conn) error {
		return conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM times").Scan(&n)
	})
	return n, err
}

// =============================================================================
// HELPERS
// =============================================================================

func isUniqueConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	switch sqliteErr.ExtendedCode {
	case sqlite3.ErrConstraintPrimaryKey, sqlite3.ErrConstraintUnique:
		return true
	}
	return sqliteErr.Code == sqlite3.ErrConstraint && strings.Contains(sqliteErr.Error(), "UNIQUE")
}
