package wire

import (
	"context"
	"fmt"

	"github.com/relaydb/pgwire/backend"
	"github.com/relaydb/pgwire/codes"
	pgerror "github.com/relaydb/pgwire/errors"
)

// runBatch submits every queued DML entry that has not yet been resolved
// through backend.Driver.ExecuteBatch, one call per chunk of at most
// maxBatchSize entries (a single call when maxBatchSize is 0), then
// distributes the resulting per-statement counts back onto those entries
// in order. This
// is the cross-Sync batching the pipelined extended-query protocol makes
// possible: a client can queue many Bind+Execute pairs before a single
// Sync, and the session engine forwards them to the backend in one round
// trip instead of one per statement.
func runBatch(ctx context.Context, driver backend.Driver, queue *PendingQueue, maxBatchSize int) error {
	indices := queue.BatchCandidates()
	if len(indices) == 0 {
		return nil
	}

	chunkSize := len(indices)
	if maxBatchSize > 0 && maxBatchSize < chunkSize {
		chunkSize = maxBatchSize
	}

	for start := 0; start < len(indices); start += chunkSize {
		if err := ctx.Err(); err != nil {
			cancelled := pgerror.WithCode(fmt.Errorf("canceling statement due to user request"), codes.QueryCanceled)
			queue.ResolveBatch(indices[start:], nil, cancelled)
			return nil
		}

		end := start + chunkSize
		if end > len(indices) {
			end = len(indices)
		}
		chunk := indices[start:end]

		stmts := make([]backend.BatchStatement, len(chunk))
		for i, idx := range chunk {
			e := queue.entries[idx]
			var params []any
			if len(e.Params) == 1 {
				params = e.Params[0].Params
			}
			stmts[i] = backend.BatchStatement{SQL: e.SQL, Params: params}
		}

		counts, err := driver.ExecuteBatch(ctx, stmts)
		switch partial, ok := err.(*backend.PartialBatchError); {
		case ok:
			queue.ResolveBatch(chunk, partial.Counts, partial)
		case err != nil:
			queue.ResolveBatch(chunk, nil, err)
		default:
			queue.ResolveBatch(chunk, counts, nil)
			continue
		}
		// Later chunks never reached the backend; they produce no response.
		for _, idx := range indices[end:] {
			queue.entries[idx].Discard = true
		}
		return nil
	}
	return nil
}

// flushBatch dispatches any DML queued since the last flush as one backend
// batch and writes out its resolved responses right away, without ending
// the pipelined group: no unnamed-portal invalidation, no ReadyForQuery.
// SELECT, transaction-control, Flush, and the batch-size ceiling all need
// queued writes to already be visible before they run, the same guarantee
// Sync gives at the end of the group.
func (s *Session) flushBatch() error {
	if err := runBatch(s.ctx, s.Driver, s.Queue, s.BatchConfig.MaxBatchSize); err != nil {
		return err
	}
	for _, entry := range s.Queue.Drain() {
		if err := s.writeEntry(entry); err != nil {
			return err
		}
	}
	return nil
}
