package wire

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaydb/pgwire/backend"
	"github.com/relaydb/pgwire/codes"
	pgerror "github.com/relaydb/pgwire/errors"
	"github.com/relaydb/pgwire/pkg/types"
)

func TestTransactionImplicitLifecycle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	driver := backend.NewMemory()
	txn := NewTransaction(driver)

	assert.Equal(t, TxnIdle, txn.State())
	assert.Equal(t, types.ServerIdle, txn.State().Status())

	require.NoError(t, txn.EnsureOpen(ctx))
	assert.Equal(t, TxnActive, txn.State())
	assert.False(t, txn.Explicit())

	require.NoError(t, txn.CommitImplicit(ctx))
	assert.Equal(t, TxnIdle, txn.State())
}

func TestTransactionExplicitBeginCommit(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	txn := NewTransaction(backend.NewMemory())

	require.NoError(t, txn.Begin(ctx))
	assert.Equal(t, TxnActive, txn.State())
	assert.True(t, txn.Explicit())
	assert.Equal(t, types.ServerTransactionBlock, txn.State().Status())

	// CommitImplicit must not close an explicit transaction.
	require.NoError(t, txn.CommitImplicit(ctx))
	assert.Equal(t, TxnActive, txn.State())

	require.NoError(t, txn.Commit(ctx))
	assert.Equal(t, TxnIdle, txn.State())
	assert.False(t, txn.Explicit())
}

func TestTransactionExplicitRollback(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	txn := NewTransaction(backend.NewMemory())

	require.NoError(t, txn.Begin(ctx))
	require.NoError(t, txn.Rollback(ctx))
	assert.Equal(t, TxnIdle, txn.State())
}

func TestTransactionFailThenCommitRollsBack(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	txn := NewTransaction(backend.NewMemory())

	require.NoError(t, txn.Begin(ctx))
	txn.Fail(ctx)
	assert.Equal(t, TxnFailed, txn.State())
	assert.Equal(t, types.ServerTransactionFailed, txn.State().Status())

	err := txn.CheckFailed()
	require.Error(t, err)
	assert.Equal(t, codes.InFailedSQLTransaction, pgerror.GetCode(err))

	// PostgreSQL treats COMMIT on a failed transaction as ROLLBACK.
	require.NoError(t, txn.Commit(ctx))
	assert.Equal(t, TxnIdle, txn.State())
	assert.NoError(t, txn.CheckFailed())
}

func TestTransactionFailImplicitRollsBackImmediately(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	txn := NewTransaction(backend.NewMemory())

	require.NoError(t, txn.EnsureOpen(ctx))
	txn.Fail(ctx)

	// An implicit transaction has no client-visible block to keep open, so
	// a failure rolls it back to idle instead of entering TxnFailed.
	assert.Equal(t, TxnIdle, txn.State())
	assert.NoError(t, txn.CheckFailed())
}

func TestTransactionFailIdleTimeoutReportsDistinctSQLSTATE(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	txn := NewTransaction(backend.NewMemory())

	require.NoError(t, txn.Begin(ctx))
	txn.FailIdleTimeout(ctx)
	assert.Equal(t, TxnFailed, txn.State())

	err := txn.CheckFailed()
	require.Error(t, err)
	assert.Equal(t, codes.IdleInTransactionSessionTimeout, pgerror.GetCode(err))

	// COMMIT/ROLLBACK still recover from an idle-timeout failure like any
	// other, and the next ordinary Fail no longer reports 25P03.
	require.NoError(t, txn.Rollback(ctx))
	assert.NoError(t, txn.CheckFailed())

	require.NoError(t, txn.Begin(ctx))
	txn.Fail(ctx)
	assert.Equal(t, codes.InFailedSQLTransaction, pgerror.GetCode(txn.CheckFailed()))
}

func TestTransactionBeginWhileActiveKeepsTransactionAndMarksExplicit(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	txn := NewTransaction(backend.NewMemory())

	require.NoError(t, txn.EnsureOpen(ctx))
	assert.False(t, txn.Explicit())

	require.NoError(t, txn.Begin(ctx))
	assert.Equal(t, TxnActive, txn.State())
	assert.True(t, txn.Explicit())
}
