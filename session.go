package wire

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/lib/pq/oid"
	"github.com/rs/zerolog"

	"github.com/relaydb/pgwire/backend"
	"github.com/relaydb/pgwire/classifier"
	"github.com/relaydb/pgwire/codec"
	"github.com/relaydb/pgwire/codes"
	pgerror "github.com/relaydb/pgwire/errors"
	"github.com/relaydb/pgwire/intercept"
	"github.com/relaydb/pgwire/pkg/buffer"
	"github.com/relaydb/pgwire/pkg/types"
)

// Session owns the per-connection extended-query pipeline: the statement
// and portal registries, the transaction state machine, the pending
// response queue used to batch DML across a Sync, and the codec settings
// negotiated for this connection. A Session is used by exactly one
// goroutine (the connection's read loop), so none of its state needs
// locking.
type Session struct {
	ctx context.Context

	Driver   backend.Driver
	Registry *codec.Registry
	Settings codec.Settings

	Statements *StatementRegistry
	Portals    *PortalRegistry
	Txn        *Transaction
	Queue      *PendingQueue

	BatchConfig BatchConfig
	CopyConfig  CopyConfig

	// IdleTransactionTimeout, when nonzero, bounds how long the session may
	// sit idle (waiting for the next frame) while an explicit transaction is
	// open. Exceeding it moves the transaction to TxnFailed with a synthetic
	// error (spec.md §5), surfaced to the client the next time it sends a
	// statement and hits the failed-transaction gate. Zero disables it; the
	// backend driver's own deadlines, if any, are a separate concern.
	IdleTransactionTimeout time.Duration

	// conn, if non-nil, is the underlying network connection used to set a
	// read deadline for IdleTransactionTimeout. Tests that drive a Session
	// directly over a bytes.Buffer leave this nil, which simply disables
	// the idle-in-transaction timeout.
	conn net.Conn

	reader *buffer.Reader
	writer *buffer.Writer
	log    zerolog.Logger
}

// NewSession constructs a Session for one connection, wired to driver and
// the given reader/writer pair.
func NewSession(ctx context.Context, driver backend.Driver, reader *buffer.Reader, writer *buffer.Writer, log zerolog.Logger) *Session {
	return &Session{
		ctx:         ctx,
		Driver:      driver,
		Registry:    codec.NewRegistry(),
		Settings:    codec.DefaultSettings(),
		Statements:  NewStatementRegistry(),
		Portals:     NewPortalRegistry(),
		Txn:         NewTransaction(driver),
		Queue:       NewPendingQueue(),
		BatchConfig: DefaultBatchConfig(),
		CopyConfig:  DefaultCopyConfig(),
		reader:      reader,
		writer:      writer,
		log:         log,
	}
}

// Run drives the session's message loop until Terminate, EOF, or an
// unrecoverable error.
func (s *Session) Run() error {
	for {
		typ, _, err := s.readNextMsg()
		if err != nil {
			if s.idleTransactionTimedOut(err) {
				s.Txn.FailIdleTimeout(s.ctx)
				continue
			}
			return err
		}

		done, err := s.dispatch(typ)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}
}

// readNextMsg reads the next frame, first arming a read deadline if the
// session is idling inside an open explicit transaction and
// IdleTransactionTimeout is configured. The deadline is always cleared
// again once a frame (or a real error) arrives, so it never bleeds into
// unrelated reads.
func (s *Session) readNextMsg() (types.ClientMessage, int, error) {
	if s.conn != nil && s.IdleTransactionTimeout > 0 && s.Txn.State() == TxnActive {
		_ = s.conn.SetReadDeadline(time.Now().Add(s.IdleTransactionTimeout))
		defer s.conn.SetReadDeadline(time.Time{})
	}

	return s.reader.ReadTypedMsg()
}

// idleTransactionTimedOut reports whether err is a read-deadline timeout
// while the transaction is still open, i.e. the idle-in-transaction
// deadline armed by readNextMsg fired rather than the connection dying.
func (s *Session) idleTransactionTimedOut(err error) bool {
	if s.Txn.State() != TxnActive {
		return false
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func (s *Session) dispatch(typ types.ClientMessage) (terminated bool, err error) {
	switch typ {
	case types.ClientSimpleQuery:
		return false, s.handleSimpleQuery()
	case types.ClientParse:
		return false, s.handleParse()
	case types.ClientBind:
		return false, s.handleBind()
	case types.ClientDescribe:
		return false, s.handleDescribe()
	case types.ClientExecute:
		return false, s.handleExecute()
	case types.ClientClose:
		return false, s.handleClose()
	case types.ClientFlush:
		// Flush dispatches any pending batch and emits its responses but,
		// unlike Sync, does not end the pipelined group: no unnamed-portal
		// invalidation, no ReadyForQuery.
		if err := s.flushBatch(); err != nil {
			return false, err
		}
		return false, s.writer.Error()
	case types.ClientSync:
		return false, s.handleSync()
	case types.ClientCopyData, types.ClientCopyDone, types.ClientCopyFail:
		// COPY sub-protocol messages arriving outside an active COPY are a
		// protocol violation; a well-behaved client never sends these
		// unless the engine has already entered copy mode.
		return false, s.fail(pgerror.WithCode(fmt.Errorf("unexpected copy message outside COPY"), codes.ProtocolViolation))
	case types.ClientTerminate:
		return true, nil
	default:
		return false, s.fail(pgerror.WithCode(fmt.Errorf("unrecognized message type %q", byte(typ)), codes.ProtocolViolation))
	}
}

// fail writes an ErrorResponse for err without a trailing ReadyForQuery;
// the caller is mid-pipeline and ReadyForQuery is only sent at Sync.
func (s *Session) fail(err error) error {
	return writeErrorResponse(s.writer, pgerror.Flatten(err))
}

// checkCancelled reports a Cancel-message abort (spec.md §5) as SQLSTATE
// 57014, the safe point a row-streaming loop or batch dispatch checks
// between rows / before the next statement.
func (s *Session) checkCancelled() error {
	if s.ctx.Err() == nil {
		return nil
	}
	return pgerror.WithCode(fmt.Errorf("canceling statement due to user request"), codes.QueryCanceled)
}

// ---- Simple Query ----

func (s *Session) handleSimpleQuery() error {
	sql, err := s.reader.GetString()
	if err != nil {
		return err
	}

	if sql == "" {
		s.writer.Start(types.ServerEmptyQuery)
		if err := s.writer.End(); err != nil {
			return err
		}
		return readyForQuery(s.writer, s.Txn.State().Status())
	}

	stmts, err := classifier.Statements(sql)
	if err != nil {
		if werr := s.fail(err); werr != nil {
			return werr
		}
		return readyForQuery(s.writer, s.Txn.State().Status())
	}

	failed := false
	for _, stmt := range stmts {
		if err := s.execSimple(stmt); err != nil {
			if werr := s.fail(err); werr != nil {
				return werr
			}
			s.Txn.Fail(s.ctx)
			failed = true
			break
		}
	}

	// A multi-statement Query string runs as one implicit transaction: it
	// only commits once every statement in it has succeeded, mirroring how
	// extended-query mode defers the same decision to Sync.
	if !failed {
		if err := s.Txn.CommitImplicit(s.ctx); err != nil {
			if werr := s.fail(err); werr != nil {
				return werr
			}
			s.Txn.Fail(s.ctx)
		}
	}

	return readyForQuery(s.writer, s.Txn.State().Status())
}

func (s *Session) execSimple(stmt classifier.Statement) error {
	if !bypassesFailedGate(stmt) {
		if err := s.Txn.CheckFailed(); err != nil {
			return err
		}
	}

	switch stmt.Category {
	case classifier.CategoryLocalIntercept:
		return s.execIntercept(stmt.Intercept)
	case classifier.CategoryTransaction:
		return s.execTransactionControl(stmt)
	case classifier.CategorySetting:
		return s.execSetting(stmt)
	case classifier.CategoryCopy:
		return s.beginCopy(stmt, "")
	default:
		return s.execDriverStatement(stmt, nil)
	}
}

func (s *Session) execIntercept(entry *intercept.Entry) error {
	cols := make(Columns, len(entry.Columns))
	for i, c := range entry.Columns {
		cols[i] = Column{Name: c.Name, OID: c.OID, Format: TextFormat}
	}
	if err := WriteRowDescription(s.writer, cols); err != nil {
		return err
	}
	for _, row := range entry.Rows {
		if err := WriteDataRow(s.writer, s.Registry, s.Settings, cols, row); err != nil {
			return err
		}
	}
	// The canned tag already carries its row count ("SELECT 1"), so it is
	// sent as is rather than through writeCommandComplete.
	s.writer.Start(types.ServerCommandComplete)
	s.writer.AddString(entry.Tag)
	s.writer.AddNullTerminate()
	return s.writer.End()
}

// bypassesFailedGate reports whether stmt must run even while the
// transaction is in the failed state: COMMIT and ROLLBACK are the only
// statements that can ever end a failed transaction block, so they skip
// the SQLSTATE 25P02 rejection every other statement gets.
func bypassesFailedGate(stmt classifier.Statement) bool {
	if stmt.Category != classifier.CategoryTransaction {
		return false
	}
	kind, _ := classifier.Transaction(stmt)
	return kind == classifier.TxnCommit || kind == classifier.TxnRollback
}

func (s *Session) execTransactionControl(stmt classifier.Statement) error {
	kind, _ := classifier.Transaction(stmt)
	switch kind {
	case classifier.TxnBegin:
		if err := s.Txn.Begin(s.ctx); err != nil {
			return err
		}
		return s.writeCommandComplete("BEGIN", 0)
	case classifier.TxnCommit:
		tag := "COMMIT"
		if s.Txn.State() == TxnFailed {
			tag = "ROLLBACK"
		}
		if err := s.Txn.Commit(s.ctx); err != nil {
			return err
		}
		return s.writeCommandComplete(tag, 0)
	case classifier.TxnRollback:
		if err := s.Txn.Rollback(s.ctx); err != nil {
			return err
		}
		return s.writeCommandComplete("ROLLBACK", 0)
	default:
		// SAVEPOINT/RELEASE/ROLLBACK TO are forwarded to the backend
		// verbatim; the reference Memory backend and most SQL engines
		// accept the same grammar.
		res, err := s.Driver.Execute(s.ctx, stmt.SQL, nil)
		if err != nil {
			return err
		}
		return s.writeCommandComplete(res.Tag, 0)
	}
}

func (s *Session) execSetting(stmt classifier.Statement) error {
	setting, ok := classifier.ExtractSetting(stmt)
	if !ok {
		return pgerror.WithCode(fmt.Errorf("unrecognized setting statement"), codes.Syntax)
	}

	switch setting.Kind {
	case classifier.SettingShow:
		value, _ := s.Driver.GetSessionParameter(s.ctx, setting.Name)
		cols := Columns{{Name: setting.Name, OID: oid.T_text, Format: TextFormat}}
		if err := WriteRowDescription(s.writer, cols); err != nil {
			return err
		}
		if err := WriteDataRow(s.writer, s.Registry, s.Settings, cols, []any{value}); err != nil {
			return err
		}
		return s.writeCommandComplete("SHOW", 0)
	case classifier.SettingReset, classifier.SettingSet:
		if err := s.applySetting(setting); err != nil {
			return err
		}
		tag := "SET"
		if setting.Kind == classifier.SettingReset {
			tag = "RESET"
		}
		return s.writeCommandComplete(tag, 0)
	default:
		return pgerror.WithCode(fmt.Errorf("unrecognized setting statement"), codes.Syntax)
	}
}

// applySetting updates either the codec layer's own Settings (DateStyle,
// TimeZone) or forwards the parameter to the backend driver, depending on
// whether the parameter affects wire encoding or backend behavior.
func (s *Session) applySetting(setting classifier.Setting) error {
	switch setting.Name {
	case "datestyle":
		if !setting.IsDefault {
			s.Settings.DateStyle = setting.Value
		} else {
			s.Settings.DateStyle = "ISO, MDY"
		}
		return nil
	case "timezone":
		if setting.IsDefault {
			s.Settings.TimeZone = nil
			return nil
		}
		loc, err := loadLocation(setting.Value)
		if err != nil {
			return pgerror.WithCode(fmt.Errorf("invalid value for parameter %q: %q", setting.Name, setting.Value), codes.InvalidParameterValue)
		}
		s.Settings.TimeZone = loc
		return nil
	default:
		return s.Driver.SetSessionParameter(s.ctx, setting.Name, setting.Value)
	}
}

func (s *Session) execDriverStatement(stmt classifier.Statement, params []any) error {
	if err := s.Txn.EnsureOpen(s.ctx); err != nil {
		return err
	}

	res, err := s.Driver.Execute(s.ctx, stmt.SQL, params)
	if err != nil {
		return err
	}

	if res.HasRowSet {
		cols := FromBackend(res.Columns)
		if err := WriteRowDescription(s.writer, cols); err != nil {
			return err
		}
		for _, row := range res.Rows {
			if err := s.checkCancelled(); err != nil {
				return err
			}
			if err := WriteDataRow(s.writer, s.Registry, s.Settings, cols, row); err != nil {
				return err
			}
		}
		return s.writeTaggedComplete(stmt, res, true)
	}

	return s.writeTaggedComplete(stmt, res, false)
}

func (s *Session) writeTaggedComplete(stmt classifier.Statement, res *backend.Result, hasRowSet bool) error {
	tag := res.Tag
	count := res.UpdateCount
	if hasRowSet {
		count = int64(len(res.Rows))
		if tag == "" {
			tag = "SELECT"
		}
	} else if tag == "" {
		tag = classifier.DMLVerb(stmt)
	}
	return s.writeCommandComplete(tag, count)
}

// writeCommandComplete writes a CommandComplete tag in PostgreSQL's
// verb-specific format: INSERT carries an extra leading 0 (the OID of
// the inserted row, unused since PostgreSQL 8.0), everything else is
// "VERB count".
func (s *Session) writeCommandComplete(tag string, count int64) error {
	var text string
	switch tag {
	case "INSERT":
		text = fmt.Sprintf("INSERT 0 %d", count)
	case "", "OK":
		text = "OK"
	case "BEGIN", "COMMIT", "ROLLBACK", "SET", "RESET", "SHOW", "CREATE TABLE", "DROP TABLE",
		"TRUNCATE TABLE", "ALTER TABLE", "CREATE INDEX", "PREPARE", "DEALLOCATE":
		text = tag
	default:
		text = fmt.Sprintf("%s %d", tag, count)
	}

	s.writer.Start(types.ServerCommandComplete)
	s.writer.AddString(text)
	s.writer.AddNullTerminate()
	return s.writer.End()
}
