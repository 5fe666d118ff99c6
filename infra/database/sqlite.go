// Package database owns the embedded SQLite store and the Redis client.
package database

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"mailvault/pkg/apperr"
)

// =============================================================================
// SQLite Store
// =============================================================================

// StoreConfig holds SQLite pool configuration.
type StoreConfig struct {
	PoolSize       int
	AcquireTimeout time.Duration
}

// DefaultStoreConfig returns the store defaults.
func DefaultStoreConfig() *StoreConfig {
	return &StoreConfig{
		PoolSize:       20,
		AcquireTimeout: 5 * time.Second,
	}
}

// Store wraps the pooled SQLite handle. Acquisition is bounded: when the pool
// is exhausted past the timeout, a one-off ephemeral connection keeps the
// caller live instead of blocking indefinitely.
type Store struct {
	db  *sqlx.DB
	dsn string
	cfg *StoreConfig
}

// buildDSN applies the WAL pragmas the store runs with.
func buildDSN(path string) string {
	base := "file:" + path
	if path == ":memory:" {
		base = "file::memory:?mode=memory&cache=shared"
	}
	sep := "?"
	if path == ":memory:" {
		sep = "&"
	}
	pragmas := url.Values{}
	pragmas.Add("_pragma", "journal_mode(WAL)")
	pragmas.Add("_pragma", "synchronous(NORMAL)")
	pragmas.Add("_pragma", "temp_store(MEMORY)")
	pragmas.Add("_pragma", "busy_timeout(5000)")
	return base + sep + pragmas.Encode() + "&_txlock=immediate"
}

// Open opens the store and verifies connectivity.
func Open(path string, cfg *StoreConfig) (*Store, error) {
	if cfg == nil {
		cfg = DefaultStoreConfig()
	}

	dsn := buildDSN(path)
	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	db.SetMaxOpenConns(cfg.PoolSize)
	db.SetMaxIdleConns(cfg.PoolSize)
	db.SetConnMaxLifetime(0)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return &Store{db: db, dsn: dsn, cfg: cfg}, nil
}

// DB exposes the pooled handle for read paths.
func (s *Store) DB() *sqlx.DB {
	return s.db
}

// Close closes the pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// InitSchema creates all tables touched by the core. Idempotent.
func (s *Store) InitSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// WithTx runs fn inside an immediate-mode transaction. Acquisition is capped
// by AcquireTimeout; on exhaustion an ephemeral connection is used instead.
// On any failure between begin and commit the pooled handle is discarded, not
// returned. Rollback is idempotent.
func (s *Store) WithTx(ctx context.Context, fn func(*sqlx.Tx) error) error {
	acquireCtx, cancel := context.WithTimeout(ctx, s.cfg.AcquireTimeout)
	conn, err := s.db.Connx(acquireCtx)
	cancel()

	if err != nil {
		return s.withEphemeralTx(ctx, err, fn)
	}

	tx, err := conn.BeginTxx(ctx, nil)
	if err != nil {
		discard(conn)
		return apperr.DatabaseError("begin", err)
	}

	if err := fn(tx); err != nil {
		_ = tx.Rollback() // second rollback on an aborted tx is a no-op
		discard(conn)
		return err
	}

	if err := tx.Commit(); err != nil {
		_ = tx.Rollback()
		discard(conn)
		return apperr.DatabaseError("commit", err)
	}

	return conn.Close()
}

// withEphemeralTx keeps liveness when the pool is saturated.
func (s *Store) withEphemeralTx(ctx context.Context, acquireErr error, fn func(*sqlx.Tx) error) error {
	eph, err := sqlx.Open("sqlite", s.dsn)
	if err != nil {
		return apperr.StoreUnavailable(errors.Join(acquireErr, err))
	}
	defer eph.Close()
	eph.SetMaxOpenConns(1)

	tx, err := eph.BeginTxx(ctx, nil)
	if err != nil {
		return apperr.StoreUnavailable(errors.Join(acquireErr, err))
	}

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		_ = tx.Rollback()
		return apperr.DatabaseError("commit", err)
	}
	return nil
}

// discard marks the connection bad so the pool drops it instead of reusing a
// handle whose transaction state is unknown.
func discard(conn *sqlx.Conn) {
	_ = conn.Raw(func(driverConn any) error {
		return driver.ErrBadConn
	})
	_ = conn.Close()
}

// Stats returns pool statistics.
type Stats struct {
	OpenConns int `json:"open_conns"`
	InUse     int `json:"in_use"`
	Idle      int `json:"idle"`
	WaitCount int `json:"wait_count"`
}

// GetStats returns store pool statistics.
func (s *Store) GetStats() Stats {
	st := s.db.Stats()
	return Stats{
		OpenConns: st.OpenConnections,
		InUse:     st.InUse,
		Idle:      st.Idle,
		WaitCount: int(st.WaitCount),
	}
}
