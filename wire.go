package wire

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"log/slog"

	"github.com/rs/zerolog"

	"github.com/relaydb/pgwire/backend"
	"github.com/relaydb/pgwire/pkg/buffer"
	"github.com/relaydb/pgwire/pkg/types"
)

// NewDriverFn constructs the backend.Driver a single connection's Session
// uses for its lifetime. It runs once per accepted connection, after
// authentication succeeds, so a driver can be scoped to the
// authenticated user/database.
type NewDriverFn func(ctx context.Context) (backend.Driver, error)

// ListenAndServe opens a new Postgres server using the given address,
// backed by newDriver for every accepted connection, and default
// configurations. This is the simplest way to stand up a server for
// testing purposes.
func ListenAndServe(address string, newDriver NewDriverFn) error {
	server, err := NewServer(newDriver)
	if err != nil {
		return err
	}

	return server.ListenAndServe(address)
}

// NewServer constructs a new Postgres server using the given backend
// driver factory and server options.
func NewServer(newDriver NewDriverFn, options ...OptionFn) (*Server, error) {
	srv := &Server{
		newDriver:   newDriver,
		logger:      slog.Default(),
		zlog:        zerolog.New(os.Stderr).With().Timestamp().Logger(),
		closer:      make(chan struct{}),
		BatchConfig: DefaultBatchConfig(),
		CopyConfig:  DefaultCopyConfig(),
		sessions:    make(map[int32]*registeredSession),
	}

	for _, option := range options {
		option(srv)
	}

	return srv, nil
}

// Server contains options for listening to an address.
type Server struct {
	closing atomic.Bool
	wg      sync.WaitGroup
	logger  *slog.Logger
	zlog    zerolog.Logger

	Auth            AuthStrategy
	BufferedMsgSize int
	Parameters      Parameters
	TLSConfig       *tls.Config
	Certificates    []tls.Certificate
	ClientCAs       *x509.CertPool
	ClientAuth      tls.ClientAuthType

	newDriver NewDriverFn

	BatchConfig            BatchConfig
	CopyConfig             CopyConfig
	IdleTransactionTimeout time.Duration

	// CancelRequest, if set, is consulted in addition to the server's own
	// session table when a Cancel message arrives; it lets a caller observe
	// or extend cancellation (e.g. forwarding it to a backend driver keyed
	// differently). The built-in session table always runs first.
	CancelRequest func(ctx context.Context, processID, secretKey int32) error

	// sessions is the administrative session table spec.md §5 describes:
	// guarded by mutex, touched only on insert/remove and on a Cancel
	// lookup, never during normal per-session traffic.
	sessionMu sync.Mutex
	sessions  map[int32]*registeredSession

	Version string
	closer  chan struct{}
}

// registeredSession is the session table's entry: enough to verify a
// Cancel request's secret key and abort the target session's context.
type registeredSession struct {
	secretKey int32
	cancel    context.CancelFunc
}

// register adds a freshly accepted connection's cancellation handle to the
// session table and returns its processID/secretKey pair plus a deregister
// function the caller defers.
func (srv *Server) register(cancel context.CancelFunc) (processID, secretKey int32, deregister func()) {
	srv.sessionMu.Lock()
	defer srv.sessionMu.Unlock()

	for {
		processID = rand.Int31()
		if _, taken := srv.sessions[processID]; !taken && processID != 0 {
			break
		}
	}
	secretKey = rand.Int31()

	srv.sessions[processID] = &registeredSession{secretKey: secretKey, cancel: cancel}

	return processID, secretKey, func() {
		srv.sessionMu.Lock()
		delete(srv.sessions, processID)
		srv.sessionMu.Unlock()
	}
}

// cancelSession aborts the target session's context if processID/secretKey
// match an entry in the session table. It is the built-in implementation of
// spec.md §5's Cancel message: the target session observes ctx.Err() at its
// next safe point (between rows of a result stream, or before the next
// statement of a batch) and aborts the in-flight backend operation there.
func (srv *Server) cancelSession(processID, secretKey int32) bool {
	srv.sessionMu.Lock()
	entry, ok := srv.sessions[processID]
	srv.sessionMu.Unlock()

	if !ok || entry.secretKey != secretKey {
		return false
	}

	entry.cancel()
	return true
}

// ListenAndServe opens a new Postgres server on the preconfigured address and
// starts accepting and serving incoming client connections.
func (srv *Server) ListenAndServe(address string) error {
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return err
	}

	return srv.Serve(listener)
}

// Serve accepts and serves incoming Postgres client connections using the
// preconfigured configurations. The given listener will be closed once the
// server is gracefully closed.
func (srv *Server) Serve(listener net.Listener) error {
	defer srv.logger.Info("closing server")

	srv.logger.Info("serving incoming connections", slog.String("addr", listener.Addr().String()))
	srv.wg.Add(1)

	go func() {
		defer srv.wg.Done()
		<-srv.closer

		err := listener.Close()
		if err != nil {
			srv.logger.Error("unexpected error while attempting to close the net listener", "err", err)
		}
	}()

	for {
		conn, err := listener.Accept()
		if errors.Is(err, net.ErrClosed) {
			return nil
		}

		if err != nil {
			return err
		}

		go func() {
			ctx := context.Background()
			err := srv.serve(ctx, conn)
			if err != nil {
				srv.zlog.Error().Err(err).Msg("client connection terminated")
			}
		}()
	}
}

func (srv *Server) serve(ctx context.Context, conn net.Conn) error {
	defer conn.Close()

	srv.logger.Debug("serving a new client connection")

	conn, version, reader, err := srv.Handshake(conn)
	if err != nil {
		return err
	}

	if version == types.VersionCancel {
		return conn.Close()
	}

	srv.logger.Debug("handshake successful, validating authentication")

	writer := buffer.NewWriter(srv.logger, conn)
	ctx, err = srv.readClientParameters(ctx, reader)
	if err != nil {
		return err
	}

	if err := srv.handleAuth(ctx, reader, writer); err != nil {
		return err
	}

	srv.logger.Debug("connection authenticated, writing server parameters")

	ctx, err = srv.writeParameters(ctx, writer, srv.Parameters)
	if err != nil {
		return err
	}

	driver, err := srv.newDriver(ctx)
	if err != nil {
		return fmt.Errorf("failed to open backend driver: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	processID, secretKey, deregister := srv.register(cancel)
	defer deregister()

	if err := writeBackendKeyData(writer, processID, secretKey); err != nil {
		return err
	}
	if err := readyForQuery(writer, types.ServerIdle); err != nil {
		return err
	}

	session := NewSession(ctx, driver, reader, writer, srv.zlog.With().Str("remote", conn.RemoteAddr().String()).Logger())
	session.BatchConfig = srv.BatchConfig
	session.CopyConfig = srv.CopyConfig
	session.IdleTransactionTimeout = srv.IdleTransactionTimeout
	session.conn = conn

	return session.Run()
}

// Close gracefully closes the underlaying Postgres server.
func (srv *Server) Close() error {
	if srv.closing.Load() {
		return nil
	}

	srv.closing.Store(true)
	close(srv.closer)
	srv.wg.Wait()
	return nil
}
