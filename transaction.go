package wire

import (
	"context"

	"github.com/relaydb/pgwire/backend"
	"github.com/relaydb/pgwire/codes"
	pgerror "github.com/relaydb/pgwire/errors"
	"github.com/relaydb/pgwire/pkg/types"
)

// TxnState is the session's transaction status, mirrored in the status
// byte of every ReadyForQuery message.
type TxnState int

const (
	// TxnIdle means no transaction is active; a new statement begins an
	// implicit transaction that commits (or rolls back) with it.
	TxnIdle TxnState = iota
	// TxnActive means an explicit BEGIN is open and accepting statements.
	TxnActive
	// TxnFailed means an explicit transaction suffered an error and every
	// statement except COMMIT/ROLLBACK/the failing Sync is rejected with
	// SQLSTATE 25P02 until one of those arrives.
	TxnFailed
)

// Status reports the ReadyForQuery status byte for the current state.
func (s TxnState) Status() types.ServerStatus {
	switch s {
	case TxnActive:
		return types.ServerTransactionBlock
	case TxnFailed:
		return types.ServerTransactionFailed
	default:
		return types.ServerIdle
	}
}

// Transaction owns the session's transaction state machine and drives the
// backend.Driver's Begin/Commit/Rollback/Abort accordingly. A plain
// statement outside an explicit BEGIN runs in an implicit transaction:
// Begin still opens one (so errors abort cleanly) but it closes with
// CommitImplicit at the statement's end rather than waiting for COMMIT.
type Transaction struct {
	state    TxnState
	explicit bool
	driver   backend.Driver

	// idleTimeout records that the current (or most recent) TxnFailed
	// transition came from the idle-in-transaction timeout rather than an
	// ordinary statement error, so CheckFailed can report the more specific
	// SQLSTATE 25P03 instead of 25P02.
	idleTimeout bool
}

// NewTransaction returns a Transaction bound to driver, starting idle.
func NewTransaction(driver backend.Driver) *Transaction {
	return &Transaction{driver: driver}
}

// State reports the current TxnState.
func (t *Transaction) State() TxnState { return t.state }

// Explicit reports whether the open transaction was started by BEGIN
// rather than implicitly for a single statement.
func (t *Transaction) Explicit() bool { return t.explicit }

// EnsureOpen opens an implicit transaction if none is active. Called
// before executing any statement outside of BEGIN/COMMIT/ROLLBACK.
func (t *Transaction) EnsureOpen(ctx context.Context) error {
	if t.state != TxnIdle {
		return nil
	}
	if err := t.driver.Begin(ctx); err != nil {
		return err
	}
	t.state = TxnActive
	t.explicit = false
	return nil
}

// Begin opens an explicit transaction. Calling BEGIN while one is already
// active is accepted (PostgreSQL just warns); this keeps the existing
// transaction and marks it explicit.
func (t *Transaction) Begin(ctx context.Context) error {
	if t.state == TxnIdle {
		if err := t.driver.Begin(ctx); err != nil {
			return err
		}
		t.state = TxnActive
	}
	t.explicit = true
	return nil
}

// Commit commits the active transaction and returns to idle. Committing
// a failed transaction rolls it back instead, matching PostgreSQL's
// COMMIT-in-aborted-transaction behavior (server-side rollback, client
// still sees ROLLBACK as the effective outcome).
func (t *Transaction) Commit(ctx context.Context) error {
	if t.state == TxnFailed {
		return t.Rollback(ctx)
	}
	if t.state == TxnIdle {
		return nil
	}
	if err := t.driver.Commit(ctx); err != nil {
		return err
	}
	t.state = TxnIdle
	t.explicit = false
	return nil
}

// Rollback rolls back the active transaction and returns to idle.
func (t *Transaction) Rollback(ctx context.Context) error {
	if t.state == TxnIdle {
		return nil
	}
	err := t.driver.Rollback(ctx)
	t.state = TxnIdle
	t.explicit = false
	return err
}

// Fail marks the active explicit transaction as failed after a statement
// error. An implicit transaction instead rolls back immediately, since
// there is no client-visible block to keep open.
func (t *Transaction) Fail(ctx context.Context) {
	if t.state != TxnActive {
		return
	}
	t.idleTimeout = false
	if !t.explicit {
		t.driver.Abort(ctx)
		t.state = TxnIdle
		return
	}
	t.driver.Abort(ctx)
	t.state = TxnFailed
}

// FailIdleTimeout is Fail's idle-in-transaction-timeout variant (spec.md
// §5): it has the same effect but tags the resulting TxnFailed state so
// CheckFailed reports SQLSTATE 25P03 rather than the generic 25P02 on the
// client's next statement.
func (t *Transaction) FailIdleTimeout(ctx context.Context) {
	wasActive := t.state == TxnActive
	t.Fail(ctx)
	if wasActive && t.state == TxnFailed {
		t.idleTimeout = true
	}
}

// CommitImplicit closes an implicit (non-BEGIN) transaction after a
// single statement completes successfully.
func (t *Transaction) CommitImplicit(ctx context.Context) error {
	if t.state != TxnActive || t.explicit {
		return nil
	}
	if err := t.driver.Commit(ctx); err != nil {
		return err
	}
	t.state = TxnIdle
	return nil
}

// CheckFailed returns SQLSTATE 25P02 (or 25P03 if the failure came from the
// idle-in-transaction timeout) if the transaction is in the failed state,
// since every statement but COMMIT/ROLLBACK must be rejected until one of
// those arrives.
func (t *Transaction) CheckFailed() error {
	if t.state != TxnFailed {
		return nil
	}
	if t.idleTimeout {
		return pgerror.WithCode(
			errIdleInTransactionTimeout,
			codes.IdleInTransactionSessionTimeout,
		)
	}
	return pgerror.WithCode(
		errInFailedTransaction,
		codes.InFailedSQLTransaction,
	)
}

var errInFailedTransaction = transactionFailedError{}
var errIdleInTransactionTimeout = idleInTransactionTimeoutError{}

type transactionFailedError struct{}

func (transactionFailedError) Error() string {
	return "current transaction is aborted, commands ignored until end of transaction block"
}

type idleInTransactionTimeoutError struct{}

func (idleInTransactionTimeoutError) Error() string {
	return "terminating transaction due to idle-in-transaction timeout"
}
