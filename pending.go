package wire

import "github.com/relaydb/pgwire/backend"

// PendingKind distinguishes the two shapes a queued command can take
// before Sync resolves the pipeline.
type PendingKind int

const (
	// PendingImmediate commands already carry their final result (a
	// completed SELECT, DDL, local-intercept reply, or an error) and just
	// need their response written out in order.
	PendingImmediate PendingKind = iota
	// PendingBatchedDML commands are queued DML statements that will run
	// together in one backend.Driver.ExecuteBatch call at Sync; their
	// UpdateCount/Err fields are empty until ResolveBatch fills them in.
	PendingBatchedDML
)

// PendingEntry is one queued response in the session's Pending-Result
// Queue: the generalization of the extended-query pipeline's "respond to
// N requests without N nested call frames" requirement. The engine
// appends one entry per Bind+Execute (or simple-query statement) as it
// is processed, and drains the queue in order at Sync, whether or not
// the underlying work ran synchronously.
type PendingEntry struct {
	Kind PendingKind

	// Portal is set for extended-query Execute entries so the drain step
	// can format a RowDescription/DataRow stream or PortalSuspended.
	Portal *Portal
	// DMLVerb is the classifier-reported verb ("INSERT"/"UPDATE"/...),
	// used to format the CommandComplete tag once UpdateCount is known.
	DMLVerb string
	SQL     string
	Params  []backend.BatchStatement

	UpdateCount int64
	HasRowSet   bool
	Columns     Columns
	Rows        [][]any
	Tag         string
	Err         error

	// Discard marks an entry that must produce no wire response at all: a
	// batched DML statement queued after the one that failed a partial
	// batch. The batch never reached it, but unlike the failing statement
	// itself it is reported as silently having "no results" rather than a
	// second ErrorResponse.
	Discard bool
}

// PendingQueue holds the commands accumulated between one Sync and the
// next. It never grows beyond the statements that arrive before the
// client sends Sync, per the pipelining that extended-query mode allows.
type PendingQueue struct {
	entries []*PendingEntry
}

// NewPendingQueue returns an empty queue.
func NewPendingQueue() *PendingQueue {
	return &PendingQueue{}
}

// Enqueue appends entry to the queue.
func (q *PendingQueue) Enqueue(entry *PendingEntry) {
	q.entries = append(q.entries, entry)
}

// Len reports the number of queued entries.
func (q *PendingQueue) Len() int { return len(q.entries) }

// BatchCandidates returns the indices (in queue order) of entries still
// awaiting a batch result.
func (q *PendingQueue) BatchCandidates() []int {
	var idx []int
	for i, e := range q.entries {
		if e.Kind == PendingBatchedDML && e.Err == nil && e.Tag == "" {
			idx = append(idx, i)
		}
	}
	return idx
}

// ResolveBatch distributes counts (and, on partial failure, the error at
// the failing statement) back onto the queued entries at indices, in
// order. A backend that fails partway through a batch reports
// *backend.PartialBatchError; exactly the statement at the failure
// position gets the error, and every statement after it is marked
// Discard, since the batch never reached them and they are reported as
// silently having no results rather than each raising their own
// ErrorResponse.
func (q *PendingQueue) ResolveBatch(indices []int, counts []int64, batchErr error) {
	partial, isPartial := batchErr.(*backend.PartialBatchError)
	for i, idx := range indices {
		e := q.entries[idx]
		switch {
		case isPartial && i < partial.Succeeded:
			e.UpdateCount = partial.Counts[i]
			e.Tag = e.DMLVerb
		case isPartial && i == partial.Succeeded:
			e.Err = partial.Err
		case isPartial:
			e.Discard = true
		case batchErr != nil:
			e.Err = batchErr
		case i < len(counts):
			e.UpdateCount = counts[i]
			e.Tag = e.DMLVerb
		}
	}
}

// Drain returns every queued entry in order and empties the queue.
func (q *PendingQueue) Drain() []*PendingEntry {
	out := q.entries
	q.entries = nil
	return out
}

// Clear discards every queued entry without resolving it, for the error
// path where Sync abandons the rest of the pipeline.
func (q *PendingQueue) Clear() {
	q.entries = nil
}
