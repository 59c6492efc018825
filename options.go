package wire

import (
	"context"
	"time"

	"github.com/relaydb/pgwire/copy"
)

// BatchConfig tunes the session engine's cross-Sync DML batching.
type BatchConfig struct {
	// MaxBatchSize caps how many queued DML statements are forwarded to a
	// single backend.Driver.ExecuteBatch call; 0 means unbounded (every
	// statement queued since the last Sync goes in one call).
	MaxBatchSize int
}

// DefaultBatchConfig returns the batching defaults a freshly built Server
// uses.
func DefaultBatchConfig() BatchConfig {
	return BatchConfig{MaxBatchSize: 0}
}

// CopyConfig tunes the COPY sub-protocol engine's commit policy.
type CopyConfig struct {
	// MaxMutations caps the accounted cost (rows * (columns + indexed
	// columns)) a single COPY IN may apply before the Policy kicks in.
	// Zero means unbounded.
	MaxMutations int64
	// Policy governs whether exceeding MaxMutations discards the whole
	// COPY (Atomic) or keeps whatever already committed (Partitioned).
	Policy copy.Policy
	// ChunkRows is how many decoded rows accumulate before the engine
	// flushes them to the backend as one ExecuteBatch call, bounding
	// memory on a large COPY IN.
	ChunkRows int
}

// DefaultCopyConfig returns the COPY defaults a freshly built Server uses.
func DefaultCopyConfig() CopyConfig {
	return CopyConfig{MaxMutations: 0, Policy: copy.Atomic, ChunkRows: 1000}
}

// OptionFn configures a Server at construction time.
type OptionFn func(*Server)

// WithBatchConfig overrides the server's DML batching configuration.
func WithBatchConfig(cfg BatchConfig) OptionFn {
	return func(s *Server) { s.BatchConfig = cfg }
}

// WithCopyConfig overrides the server's COPY sub-protocol configuration.
func WithCopyConfig(cfg CopyConfig) OptionFn {
	return func(s *Server) { s.CopyConfig = cfg }
}

// WithBufferedMsgSize overrides the maximum message size the protocol
// reader accepts before returning a message-size-exceeded error.
func WithBufferedMsgSize(size int) OptionFn {
	return func(s *Server) { s.BufferedMsgSize = size }
}

// WithVersion overrides the server_version ParameterStatus value reported
// at handshake.
func WithVersion(version string) OptionFn {
	return func(s *Server) { s.Version = version }
}

// WithIdleTransactionTimeout bounds how long a session may sit idle with an
// explicit transaction open (spec.md §5) before the engine fails it with
// SQLSTATE 25P03. Zero (the default) disables the timeout.
func WithIdleTransactionTimeout(d time.Duration) OptionFn {
	return func(s *Server) { s.IdleTransactionTimeout = d }
}

// WithCancelRequest registers an additional hook invoked whenever a Cancel
// message names this server's processID/secretKey, alongside the server's
// own built-in session table lookup (which always runs first and aborts
// the target session's context).
func WithCancelRequest(fn func(ctx context.Context, processID, secretKey int32) error) OptionFn {
	return func(s *Server) { s.CancelRequest = fn }
}
