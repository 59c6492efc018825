// Package backend defines the contract the session engine uses to reach
// the actual SQL engine behind this module. The contract itself is in
// scope; any concrete driver's internal behavior is not (per spec, the
// backend driver is an external collaborator). This package also
// provides Memory, an in-memory reference implementation used only to
// exercise the session engine's own tests end to end.
package backend

import (
	"context"

	"github.com/lib/pq/oid"
)

// Column describes one result column a Driver reports back to the
// session engine, independent of the wire-level Column type so this
// package carries no dependency on the protocol layer.
type Column struct {
	Name string
	OID  oid.Oid
}

// Result is the outcome of a single Execute call: either a row set (for
// statements that produce one, e.g. SELECT) or an update count (for
// DML/DDL), never both.
type Result struct {
	Columns     []Column
	Rows        [][]any
	HasRowSet   bool
	UpdateCount int64
	Tag         string
}

// BatchStatement is one parameterized statement submitted as part of an
// ExecuteBatch call. Positional params are addressed as $1, $2, ... in SQL,
// the same convention Execute uses.
type BatchStatement struct {
	SQL    string
	Params []any
}

// PartialBatchError is returned by ExecuteBatch when the backend executed
// a prefix of the batch before failing. Succeeded is the number of leading
// statements that committed; Counts holds their update counts; Err is the
// error the first failing statement (at index Succeeded) produced.
type PartialBatchError struct {
	Succeeded int
	Counts    []int64
	Err       error
}

func (e *PartialBatchError) Error() string { return e.Err.Error() }
func (e *PartialBatchError) Unwrap() error { return e.Err }

// DescribeResult reports the parameter and result shape of a statement
// without executing it, for the extended-query Describe message.
type DescribeResult struct {
	ParamOIDs []oid.Oid
	Columns   []Column
	// IndexedColumns is the number of Columns participating in a
	// secondary index on the target table, used by the COPY engine's
	// mutation-limit accounting (cost per row = columns + indexed
	// columns). Backends that do not track index metadata report 0,
	// which under-counts cost but never over-counts it.
	IndexedColumns int
}

// Driver is the backend connection contract. A Driver is owned 1:1 by a
// single session for that session's lifetime; implementations need not
// be safe for concurrent use by multiple goroutines.
type Driver interface {
	// Begin starts an explicit transaction.
	Begin(ctx context.Context) error
	// Commit commits the current transaction.
	Commit(ctx context.Context) error
	// Rollback rolls back the current transaction.
	Rollback(ctx context.Context) error

	// Execute runs a single parameterized statement and returns its
	// result. params are positional, addressed as $1, $2, ... in sql.
	Execute(ctx context.Context, sql string, params []any) (*Result, error)

	// ExecuteBatch runs stmts as a single backend round trip, returning
	// one update count per statement in order. Used by the session
	// engine's batching layer to distribute an aggregate result back
	// onto the individual queued commands that contributed to it. A
	// backend that fails partway through returns *PartialBatchError.
	ExecuteBatch(ctx context.Context, stmts []BatchStatement) ([]int64, error)

	// Describe reports the parameter and result shape sql would have if
	// executed, without running it or any side effect. hintOIDs carries
	// the client's explicit parameter type hints (0 = unspecified).
	Describe(ctx context.Context, sql string, hintOIDs []oid.Oid) (*DescribeResult, error)

	// SetSessionParameter and GetSessionParameter track backend-visible
	// session configuration (distinct from the wire-level
	// ParameterStatus values the protocol layer owns).
	SetSessionParameter(ctx context.Context, name, value string) error
	GetSessionParameter(ctx context.Context, name string) (string, bool)

	// OpenReadOnly starts a read-only transaction, used for statements
	// the session engine knows cannot mutate (plain SELECT outside an
	// explicit transaction block).
	OpenReadOnly(ctx context.Context) error

	// Abort discards any in-flight work after a backend error leaves the
	// current transaction unusable, without returning an error itself.
	Abort(ctx context.Context)
}
