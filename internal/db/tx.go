package db

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/fruitsalade/doctree/internal/logging"
	"github.com/fruitsalade/doctree/internal/metrics"
)

// ErrTxDone is returned when a handle is used after its outermost release.
var ErrTxDone = fmt.Errorf("%w: transaction already finished", ErrTransaction)

// Tx is a transaction bound to one pooled connection and shared by nested
// callers. refs counts open scopes; the scope that drops it to zero commits,
// unless any scope was released with an error, in which case it rolls back.
type Tx struct {
	mu     sync.Mutex
	conn   *sql.Conn
	tx     *sql.Tx
	refs   int
	failed bool
	done   bool
}

// Depth returns the number of open scopes.
func (t *Tx) Depth() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.refs
}

func (t *Tx) retain() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return ErrTxDone
	}
	t.refs++
	return nil
}

func (t *Tx) querier() (Querier, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return nil, ErrTxDone
	}
	return t.tx, nil
}

// Release closes one scope. cause is the scope's outcome and is returned
// unchanged unless finishing the transaction itself fails.
func (t *Tx) Release(cause error) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.done {
		if cause != nil {
			return cause
		}
		return ErrTxDone
	}
	if cause != nil {
		t.failed = true
	}
	t.refs--
	if t.refs > 0 {
		return cause
	}

	t.done = true
	defer t.conn.Close()

	if t.failed {
		if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			logging.Warn("rollback failed", zap.Error(err))
			metrics.RecordTransaction("error")
		} else {
			metrics.RecordTransaction("rollback")
		}
		if cause == nil {
			return fmt.Errorf("%w: rolled back after nested failure", ErrTransaction)
		}
		logging.Debug("transaction rolled back", zap.Error(cause))
		return cause
	}

	if err := t.tx.Commit(); err != nil {
		metrics.RecordTransaction("error")
		return fmt.Errorf("%w: commit: %w", ErrTransaction, err)
	}
	metrics.RecordTransaction("commit")
	return nil
}
