package wire

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaydb/pgwire/backend"
)

// fakeBatchDriver is a minimal backend.Driver double that only implements
// ExecuteBatch, since runBatch is the only thing under test here.
type fakeBatchDriver struct {
	backend.Driver
	counts []int64
	err    error
	calls  [][]backend.BatchStatement
}

func (f *fakeBatchDriver) ExecuteBatch(ctx context.Context, stmts []backend.BatchStatement) ([]int64, error) {
	f.calls = append(f.calls, stmts)
	if f.err != nil {
		return f.counts, f.err
	}
	return f.counts, nil
}

func TestPendingQueueBatchCandidatesOnlyUnresolvedDML(t *testing.T) {
	t.Parallel()

	q := NewPendingQueue()
	q.Enqueue(&PendingEntry{Kind: PendingBatchedDML, DMLVerb: "INSERT"})
	q.Enqueue(&PendingEntry{Kind: PendingImmediate, Tag: "SELECT"})
	q.Enqueue(&PendingEntry{Kind: PendingBatchedDML, DMLVerb: "INSERT", Tag: "INSERT"}) // already resolved

	idx := q.BatchCandidates()
	assert.Equal(t, []int{0}, idx)
}

func TestRunBatchSuccessDistributesCounts(t *testing.T) {
	t.Parallel()

	q := NewPendingQueue()
	q.Enqueue(&PendingEntry{Kind: PendingBatchedDML, DMLVerb: "INSERT", SQL: "INSERT INTO t VALUES ($1)",
		Params: []backend.BatchStatement{{SQL: "INSERT INTO t VALUES ($1)", Params: []any{int32(1)}}}})
	q.Enqueue(&PendingEntry{Kind: PendingBatchedDML, DMLVerb: "INSERT", SQL: "INSERT INTO t VALUES ($1)",
		Params: []backend.BatchStatement{{SQL: "INSERT INTO t VALUES ($1)", Params: []any{int32(2)}}}})

	driver := &fakeBatchDriver{counts: []int64{1, 1}}
	require.NoError(t, runBatch(context.Background(), driver, q, 0))

	require.Len(t, driver.calls, 1, "both entries must go out in a single ExecuteBatch call")
	entries := q.Drain()
	require.Len(t, entries, 2)
	for _, e := range entries {
		assert.NoError(t, e.Err)
		assert.Equal(t, int64(1), e.UpdateCount)
		assert.Equal(t, "INSERT", e.Tag)
	}
}

func TestRunBatchPartialFailureMarksOnlyFailingEntryAndDiscardsLater(t *testing.T) {
	t.Parallel()

	q := NewPendingQueue()
	for i := 0; i < 3; i++ {
		q.Enqueue(&PendingEntry{Kind: PendingBatchedDML, DMLVerb: "INSERT",
			Params: []backend.BatchStatement{{SQL: "INSERT INTO t VALUES ($1)", Params: []any{int32(i)}}}})
	}

	wantErr := errors.New("constraint violation")
	driver := &fakeBatchDriver{err: &backend.PartialBatchError{Succeeded: 1, Counts: []int64{1}, Err: wantErr}}
	require.NoError(t, runBatch(context.Background(), driver, q, 0))

	entries := q.Drain()
	require.Len(t, entries, 3)

	assert.NoError(t, entries[0].Err)
	assert.Equal(t, int64(1), entries[0].UpdateCount)

	assert.ErrorIs(t, entries[1].Err, wantErr)
	assert.False(t, entries[1].Discard)

	assert.NoError(t, entries[2].Err)
	assert.True(t, entries[2].Discard)
}

func TestRunBatchRespectsMaxBatchSize(t *testing.T) {
	t.Parallel()

	q := NewPendingQueue()
	for i := 0; i < 5; i++ {
		q.Enqueue(&PendingEntry{Kind: PendingBatchedDML, DMLVerb: "INSERT",
			Params: []backend.BatchStatement{{SQL: "INSERT INTO t VALUES ($1)", Params: []any{int32(i)}}}})
	}

	driver := &fakeBatchDriver{counts: []int64{1, 1}}
	require.NoError(t, runBatch(context.Background(), driver, q, 2))

	// 5 candidates chunked by 2 => 3 ExecuteBatch calls (2, 2, 1).
	require.Len(t, driver.calls, 3)
	assert.Len(t, driver.calls[0], 2)
	assert.Len(t, driver.calls[1], 2)
	assert.Len(t, driver.calls[2], 1)
}

func TestPendingQueueClearDiscardsWithoutResolving(t *testing.T) {
	t.Parallel()

	q := NewPendingQueue()
	q.Enqueue(&PendingEntry{Kind: PendingBatchedDML})
	q.Clear()
	assert.Equal(t, 0, q.Len())
	assert.Empty(t, q.Drain())
}
