// Package db provides the pooled PostgreSQL query executor and the
// reference-counted transaction handle shared by nested storage calls.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/fruitsalade/doctree/internal/logging"
	"github.com/fruitsalade/doctree/internal/metrics"
)

// ErrTransaction is the class of every failure to acquire, begin, commit or
// reuse a transaction.
var ErrTransaction = errors.New("transaction error")

// IsConflict reports whether err is a serialization failure or a deadlock.
// The failed transaction has rolled back and may be run again.
func IsConflict(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "40001" || pqErr.Code == "40P01"
	}
	return false
}

// Querier is the statement surface shared by pooled connections and transactions.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Config holds pool settings.
type Config struct {
	DatabaseURL     string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	AcquireTimeout  time.Duration
}

// Executor owns the connection pool. All statements run either on a
// connection acquired for a single call or on a transaction handle.
type Executor struct {
	db             *sql.DB
	acquireTimeout time.Duration
}

// Open creates the pool and verifies connectivity.
func Open(cfg Config) (*Executor, error) {
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	e := New(db, cfg.AcquireTimeout)

	ctx, cancel := context.WithTimeout(context.Background(), e.acquireTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	logging.Info("database pool ready",
		zap.Int("max_open_conns", cfg.MaxOpenConns),
		zap.Int("max_idle_conns", cfg.MaxIdleConns),
		zap.Duration("acquire_timeout", e.acquireTimeout))
	return e, nil
}

// New wraps an existing pool. A non-positive timeout falls back to 5s.
func New(db *sql.DB, acquireTimeout time.Duration) *Executor {
	if acquireTimeout <= 0 {
		acquireTimeout = 5 * time.Second
	}
	return &Executor{db: db, acquireTimeout: acquireTimeout}
}

// DB returns the underlying pool.
func (e *Executor) DB() *sql.DB {
	return e.db
}

// Close drains and closes the pool.
func (e *Executor) Close() error {
	logging.Info("closing database pool")
	return e.db.Close()
}

// UpdateConnectionMetrics updates the database connection gauges.
func (e *Executor) UpdateConnectionMetrics() {
	stats := e.db.Stats()
	metrics.SetDBConnections(stats.OpenConnections, stats.InUse)
}

// acquire takes a connection from the pool, waiting at most acquireTimeout.
// The deadline bounds only the wait; the returned connection outlives it.
func (e *Executor) acquire(ctx context.Context) (*sql.Conn, error) {
	actx, cancel := context.WithTimeout(ctx, e.acquireTimeout)
	defer cancel()

	conn, err := e.db.Conn(actx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			metrics.RecordAcquireTimeout()
			return nil, fmt.Errorf("%w: connection pool exhausted after %s", ErrTransaction, e.acquireTimeout)
		}
		return nil, fmt.Errorf("%w: acquire connection: %v", ErrTransaction, err)
	}
	return conn, nil
}

// Do runs fn on tx when tx is non-nil, otherwise on a pooled connection held
// for the duration of fn.
func (e *Executor) Do(ctx context.Context, tx *Tx, fn func(q Querier) error) error {
	if tx != nil {
		q, err := tx.querier()
		if err != nil {
			return err
		}
		return fn(q)
	}

	conn, err := e.acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()
	return fn(conn)
}

// Begin returns a transaction handle. With a non-nil parent the parent is
// retained and returned; otherwise a connection is acquired and a new
// transaction begins on it. Every successful Begin must be paired with Release.
func (e *Executor) Begin(ctx context.Context, parent *Tx) (*Tx, error) {
	if parent != nil {
		if err := parent.retain(); err != nil {
			return nil, err
		}
		return parent, nil
	}

	conn, err := e.acquire(ctx)
	if err != nil {
		return nil, err
	}
	sqlTx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: begin: %w", ErrTransaction, err)
	}
	return &Tx{conn: conn, tx: sqlTx, refs: 1}, nil
}

// InTx runs fn inside a transaction scope, joining parent when non-nil.
// The scope is released with fn's error, so only the outermost scope commits
// or rolls back.
func (e *Executor) InTx(ctx context.Context, parent *Tx, fn func(tx *Tx) error) (err error) {
	tx, err := e.Begin(ctx, parent)
	if err != nil {
		return err
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Release(fmt.Errorf("panic: %v", p))
			panic(p)
		}
	}()
	return tx.Release(fn(tx))
}
