package wire

import (
	"fmt"
	"time"

	"github.com/lib/pq/oid"

	"github.com/relaydb/pgwire/backend"
	"github.com/relaydb/pgwire/classifier"
	"github.com/relaydb/pgwire/codes"
	pgerror "github.com/relaydb/pgwire/errors"
	"github.com/relaydb/pgwire/intercept"
	"github.com/relaydb/pgwire/pkg/buffer"
	"github.com/relaydb/pgwire/pkg/types"
)

func loadLocation(name string) (*time.Location, error) {
	return time.LoadLocation(name)
}

// handleParse implements the Parse message: classify sql, ask the
// backend to describe its shape (honoring any client-supplied OID
// hints), and store it under name (overwriting the anonymous slot, or
// rejecting a reused named slot with SQLSTATE 42P05).
func (s *Session) handleParse() error {
	name, err := s.reader.GetString()
	if err != nil {
		return err
	}
	sql, err := s.reader.GetString()
	if err != nil {
		return err
	}
	numParams, err := s.reader.GetUint16()
	if err != nil {
		return err
	}
	hints := make([]oid.Oid, numParams)
	for i := range hints {
		raw, err := s.reader.GetUint32()
		if err != nil {
			return err
		}
		hints[i] = oid.Oid(raw)
	}

	stmt, err := classifier.Classify(sql)
	if err != nil {
		return s.fail(err)
	}
	if stmt.Category != classifier.CategoryLocalIntercept {
		// Rejects more than one top-level statement with 42601.
		if _, _, err := classifier.ParsePlaceholders(sql); err != nil {
			return s.fail(err)
		}
	}

	prepared := &PreparedStatement{Name: name, Statement: stmt, ParamOIDs: hints}

	if stmt.Category != classifier.CategoryLocalIntercept && stmt.Category != classifier.CategoryTransaction &&
		stmt.Category != classifier.CategorySetting {
		desc, err := s.Driver.Describe(s.ctx, sql, hints)
		if err != nil {
			return s.fail(err)
		}
		if len(hints) == 0 {
			prepared.ParamOIDs = desc.ParamOIDs
		} else {
			prepared.ParamOIDs = mergeOIDs(hints, desc.ParamOIDs)
		}
		prepared.Columns = FromBackend(desc.Columns)
	} else if stmt.Category == classifier.CategoryLocalIntercept && stmt.Intercept != nil {
		prepared.Columns = interceptColumns(stmt.Intercept)
	}

	if err := s.Statements.Store(prepared); err != nil {
		return s.fail(err)
	}

	s.writer.Start(types.ServerParseComplete)
	return s.writer.End()
}

func mergeOIDs(hints, inferred []oid.Oid) []oid.Oid {
	n := len(hints)
	if len(inferred) > n {
		n = len(inferred)
	}
	out := make([]oid.Oid, n)
	for i := range out {
		switch {
		case i < len(hints) && hints[i] != 0:
			out[i] = hints[i]
		case i < len(inferred):
			out[i] = inferred[i]
		default:
			out[i] = oid.T_text
		}
	}
	return out
}

func interceptColumns(entry *intercept.Entry) Columns {
	if entry == nil {
		return nil
	}
	cols := make(Columns, len(entry.Columns))
	for i, c := range entry.Columns {
		cols[i] = Column{Name: c.Name, OID: c.OID, Format: TextFormat}
	}
	return cols
}

// handleBind implements the Bind message: resolve the named statement,
// decode the wire parameters against its inferred OIDs, and register a
// new Portal (overwriting the unnamed slot, or rejecting a reused named
// slot with SQLSTATE 42P03).
func (s *Session) handleBind() error {
	portalName, err := s.reader.GetString()
	if err != nil {
		return err
	}
	stmtName, err := s.reader.GetString()
	if err != nil {
		return err
	}

	numParamFormats, err := s.reader.GetUint16()
	if err != nil {
		return err
	}
	paramFormats := make([]int16, numParamFormats)
	for i := range paramFormats {
		v, err := s.reader.GetUint16()
		if err != nil {
			return err
		}
		paramFormats[i] = int16(v)
	}

	numParams, err := s.reader.GetUint16()
	if err != nil {
		return err
	}
	params := make([]Parameter, numParams)
	for i := range params {
		size, err := s.reader.GetInt32()
		if err != nil {
			return err
		}
		data, err := s.reader.GetBytes(int(size))
		if err != nil {
			return err
		}
		format := TextFormat
		switch {
		case len(paramFormats) == 1:
			format = FormatCode(paramFormats[0])
		case i < len(paramFormats):
			format = FormatCode(paramFormats[i])
		}
		params[i] = Parameter{Format: format, Data: data}
	}

	numResultFormats, err := s.reader.GetUint16()
	if err != nil {
		return err
	}
	resultFormats := make([]int16, numResultFormats)
	for i := range resultFormats {
		v, err := s.reader.GetUint16()
		if err != nil {
			return err
		}
		resultFormats[i] = int16(v)
	}

	stmt, ok := s.Statements.Get(stmtName)
	if !ok {
		return s.fail(pgerror.WithCode(fmt.Errorf("prepared statement %q does not exist", stmtName), codes.UndefinedPreparedStatement))
	}

	decoded, err := DecodeParams(s.Registry, s.Settings, stmt.ParamOIDs, params)
	if err != nil {
		return s.fail(err)
	}

	portal := &Portal{
		Name:      portalName,
		Statement: stmt,
		Params:    decoded,
		Columns:   stmt.Columns.ApplyFormats(resultFormats),
	}
	if err := s.Portals.Store(portal); err != nil {
		return s.fail(err)
	}

	s.writer.Start(types.ServerBindComplete)
	return s.writer.End()
}

// handleDescribe implements the Describe message for both 'S' (statement)
// and 'P' (portal) targets.
func (s *Session) handleDescribe() error {
	kind, err := s.reader.GetPrepareType()
	if err != nil {
		return err
	}
	name, err := s.reader.GetString()
	if err != nil {
		return err
	}

	switch types.DescribeMessage(kind) {
	case types.DescribeStatement:
		stmt, ok := s.Statements.Get(name)
		if !ok {
			return s.fail(pgerror.WithCode(fmt.Errorf("prepared statement %q does not exist", name), codes.UndefinedPreparedStatement))
		}
		if err := writeParameterDescription(s.writer, stmt.ParamOIDs); err != nil {
			return err
		}
		if len(stmt.Columns) == 0 {
			return WriteNoData(s.writer)
		}
		return WriteRowDescription(s.writer, stmt.Columns)
	case types.DescribePortal:
		portal, ok := s.Portals.Get(name)
		if !ok {
			return s.fail(pgerror.WithCode(fmt.Errorf("portal %q does not exist", name), codes.InvalidCursorName))
		}
		if len(portal.Columns) == 0 {
			return WriteNoData(s.writer)
		}
		return WriteRowDescription(s.writer, portal.Columns)
	default:
		return s.fail(pgerror.WithCode(fmt.Errorf("unrecognized describe target %q", kind), codes.ProtocolViolation))
	}
}

func writeParameterDescription(writer *buffer.Writer, oids []oid.Oid) error {
	writer.Start(types.ServerParameterDescription)
	writer.AddInt16(int16(len(oids)))
	for _, o := range oids {
		writer.AddInt32(int32(o))
	}
	return writer.End()
}

// handleExecute implements the Execute message. DML statements are
// enqueued as PendingBatchedDML so Sync can run them as one backend
// batch; every other portal category (local-intercept, transaction
// control, setting, COPY, SELECT) is resolved immediately and writes its
// response right away, since none of those participate in batching.
func (s *Session) handleExecute() error {
	name, err := s.reader.GetString()
	if err != nil {
		return err
	}
	maxRows, err := s.reader.GetInt32()
	if err != nil {
		return err
	}

	portal, ok := s.Portals.Get(name)
	if !ok {
		return s.fail(pgerror.WithCode(fmt.Errorf("portal %q does not exist", name), codes.InvalidCursorName))
	}

	stmt := portal.Statement.Statement

	if !bypassesFailedGate(stmt) {
		if err := s.Txn.CheckFailed(); err != nil {
			return s.fail(err)
		}
	}

	switch stmt.Category {
	case classifier.CategoryLocalIntercept:
		return s.execInterceptPortal(portal)
	case classifier.CategoryTransaction:
		if err := s.flushBatch(); err != nil {
			return err
		}
		if err := s.execTransactionControl(stmt); err != nil {
			s.Txn.Fail(s.ctx)
			return s.fail(err)
		}
		return nil
	case classifier.CategorySetting:
		if err := s.execSetting(stmt); err != nil {
			return s.fail(err)
		}
		return nil
	case classifier.CategoryCopy:
		return s.beginCopy(stmt, name)
	case classifier.CategoryDML:
		return s.queueDML(portal, stmt)
	default:
		return s.execPortalImmediate(portal, maxRows)
	}
}

func (s *Session) execInterceptPortal(portal *Portal) error {
	if err := s.execIntercept(portal.Statement.Statement.Intercept); err != nil {
		return s.fail(err)
	}
	return nil
}

// queueDML defers a DML portal's execution to Sync's batch dispatch.
func (s *Session) queueDML(portal *Portal, stmt classifier.Statement) error {
	if err := s.Txn.EnsureOpen(s.ctx); err != nil {
		return s.fail(err)
	}
	s.Queue.Enqueue(&PendingEntry{
		Kind:    PendingBatchedDML,
		Portal:  portal,
		DMLVerb: classifier.DMLVerb(stmt),
		SQL:     stmt.SQL,
		Params:  []backend.BatchStatement{{SQL: stmt.SQL, Params: portal.Params}},
	})

	// Trigger (c): once the queue has piled up to the configured ceiling,
	// dispatch it eagerly instead of letting it grow unbounded until Sync.
	if max := s.BatchConfig.MaxBatchSize; max > 0 && len(s.Queue.BatchCandidates()) >= max {
		return s.flushBatch()
	}
	return nil
}

// execPortalImmediate runs a non-DML statement (SELECT or forwarded
// passthrough) right away and writes its DataRows and CommandComplete (or
// PortalSuspended) directly, after flushing any queued DML so the
// responses stay in request order.
func (s *Session) execPortalImmediate(portal *Portal, maxRows int32) error {
	// Execute requires results (trigger d), and a SELECT reading back rows
	// written earlier in the same pipelined group (trigger a) both need
	// any queued DML flushed first, or this portal won't see their effect.
	if err := s.flushBatch(); err != nil {
		return err
	}

	if err := s.Txn.EnsureOpen(s.ctx); err != nil {
		return s.fail(err)
	}

	if !portal.executed {
		res, err := s.Driver.Execute(s.ctx, portal.Statement.Statement.SQL, portal.Params)
		if err != nil {
			return s.fail(err)
		}
		portal.bind(res.Rows, res.HasRowSet, res.Tag, res.UpdateCount)
		if len(portal.Columns) == 0 && len(res.Columns) > 0 {
			portal.Columns = FromBackend(res.Columns)
		}
	}

	rows, suspended := portal.Next(maxRows)
	for _, row := range rows {
		if err := s.checkCancelled(); err != nil {
			return s.fail(err)
		}
		if err := WriteDataRow(s.writer, s.Registry, s.Settings, portal.Columns, row); err != nil {
			return err
		}
	}

	if suspended {
		s.writer.Start(types.ServerPortalSuspended)
		return s.writer.End()
	}

	tag := portal.tag
	count := portal.updated
	if portal.hasRows {
		count = int64(len(portal.rows))
		if tag == "" {
			tag = "SELECT"
		}
	} else if tag == "" {
		tag = classifier.DMLVerb(portal.Statement.Statement)
	}
	return s.writeCommandComplete(tag, count)
}

// handleClose implements the Close message for both statement and
// portal targets.
func (s *Session) handleClose() error {
	kind, err := s.reader.GetPrepareType()
	if err != nil {
		return err
	}
	name, err := s.reader.GetString()
	if err != nil {
		return err
	}

	switch types.DescribeMessage(kind) {
	case types.DescribeStatement:
		s.Statements.Close(name)
	case types.DescribePortal:
		s.Portals.Close(name)
	default:
		return s.fail(pgerror.WithCode(fmt.Errorf("unrecognized close target %q", kind), codes.ProtocolViolation))
	}

	s.writer.Start(types.ServerCloseComplete)
	return s.writer.End()
}

// handleSync implements the Sync message: dispatch any queued DML as one
// batch, drain the pending queue writing one response per entry in
// order, invalidate the unnamed portal, and send ReadyForQuery.
func (s *Session) handleSync() error {
	if err := s.flushBatch(); err != nil {
		return err
	}

	s.Portals.InvalidateUnnamed()

	if err := s.Txn.CommitImplicit(s.ctx); err != nil {
		return err
	}

	return readyForQuery(s.writer, s.Txn.State().Status())
}

func (s *Session) writeEntry(entry *PendingEntry) error {
	if entry.Discard {
		return nil
	}
	if entry.Err != nil {
		s.Txn.Fail(s.ctx)
		return s.fail(entry.Err)
	}
	return s.writeCommandComplete(entry.Tag, entry.UpdateCount)
}
