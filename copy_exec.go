package wire

import (
	"fmt"
	"strings"

	"github.com/lib/pq/oid"
	pg_query "github.com/pganalyze/pg_query_go/v6"

	"github.com/relaydb/pgwire/backend"
	"github.com/relaydb/pgwire/classifier"
	"github.com/relaydb/pgwire/codes"
	pgcopy "github.com/relaydb/pgwire/copy"
	pgerror "github.com/relaydb/pgwire/errors"
	"github.com/relaydb/pgwire/pkg/types"
)

// beginCopy drives the COPY sub-protocol to completion in one call: for
// COPY ... TO it streams the result set out as CopyData messages, and for
// COPY ... FROM STDIN it blocks reading CopyData/CopyDone/CopyFail
// directly off the session's reader until the client ends the stream,
// applying the configured mutation-limit policy along the way.
func (s *Session) beginCopy(stmt classifier.Statement, portalName string) error {
	if stmt.Tree == nil || len(stmt.Tree.Stmts) == 0 {
		return s.fail(pgerror.WithCode(fmt.Errorf("invalid COPY statement"), codes.Syntax))
	}
	node, ok := stmt.Tree.Stmts[0].Stmt.Node.(*pg_query.Node_CopyStmt)
	if !ok {
		return s.fail(pgerror.WithCode(fmt.Errorf("invalid COPY statement"), codes.Syntax))
	}
	copyStmt := node.CopyStmt

	if copyStmt.Relation == nil {
		return s.fail(pgerror.WithCode(fmt.Errorf("COPY of a query result is not supported"), codes.FeatureNotSupported))
	}
	table := copyStmt.Relation.Relname

	format, err := copyFormat(copyStmt.Options)
	if err != nil {
		return s.fail(err)
	}

	columnList := copyColumnNames(copyStmt.Attlist)
	selectSQL := "SELECT * FROM " + table
	if len(columnList) > 0 {
		selectSQL = "SELECT " + strings.Join(columnList, ", ") + " FROM " + table
	}

	desc, err := s.Driver.Describe(s.ctx, selectSQL, nil)
	if err != nil {
		return s.fail(err)
	}

	if copyStmt.IsFrom {
		return s.runCopyIn(format, table, columnList, desc)
	}
	return s.runCopyOut(format, selectSQL, desc)
}

func copyFormat(options []*pg_query.Node) (pgcopy.Format, error) {
	for _, opt := range options {
		def, ok := opt.Node.(*pg_query.Node_DefElem)
		if !ok || !strings.EqualFold(def.DefElem.Defname, "format") {
			continue
		}
		str, ok := def.DefElem.Arg.Node.(*pg_query.Node_String_)
		if !ok {
			continue
		}
		switch strings.ToLower(str.String_.Sval) {
		case "csv":
			return pgcopy.CSVFormat, nil
		case "binary":
			return pgcopy.Binary, nil
		case "text":
			return pgcopy.Text, nil
		default:
			return pgcopy.Text, pgerror.WithCode(fmt.Errorf("COPY format %q not recognized", str.String_.Sval), codes.InvalidParameterValue)
		}
	}
	return pgcopy.Text, nil
}

func copyColumnNames(attlist []*pg_query.Node) []string {
	names := make([]string, 0, len(attlist))
	for _, n := range attlist {
		if str, ok := n.Node.(*pg_query.Node_String_); ok {
			names = append(names, str.String_.Sval)
		}
	}
	return names
}

func oidsOf(cols []backend.Column) []oid.Oid {
	out := make([]oid.Oid, len(cols))
	for i, c := range cols {
		out[i] = c.OID
	}
	return out
}

func formatWireByte(f pgcopy.Format) int16 {
	if f == pgcopy.Binary {
		return 1
	}
	return 0
}

// runCopyOut streams selectSQL's result set to the client as a COPY OUT.
func (s *Session) runCopyOut(format pgcopy.Format, selectSQL string, desc *backend.DescribeResult) error {
	res, err := s.Driver.Execute(s.ctx, selectSQL, nil)
	if err != nil {
		return s.fail(err)
	}

	columnOIDs := oidsOf(desc.Columns)
	encoder := pgcopy.NewEncoder(format, columnOIDs, s.Registry, s.Settings)

	s.writer.Start(types.ServerCopyOutResponse)
	s.writer.AddByte(byte(formatWireByte(format)))
	s.writer.AddInt16(int16(len(columnOIDs)))
	for range columnOIDs {
		s.writer.AddInt16(formatWireByte(format))
	}
	if err := s.writer.End(); err != nil {
		return err
	}

	if header := encoder.Header(); header != nil {
		if err := s.writeCopyData(header); err != nil {
			return err
		}
	}
	for _, row := range res.Rows {
		if err := s.checkCancelled(); err != nil {
			return s.fail(err)
		}
		data, err := encoder.EncodeRow(row)
		if err != nil {
			return err
		}
		if err := s.writeCopyData(data); err != nil {
			return err
		}
	}
	if trailer := encoder.Trailer(); trailer != nil {
		if err := s.writeCopyData(trailer); err != nil {
			return err
		}
	}

	s.writer.Start(types.ServerCopyDone)
	if err := s.writer.End(); err != nil {
		return err
	}

	return s.writeCommandComplete("COPY", int64(len(res.Rows)))
}

func (s *Session) writeCopyData(payload []byte) error {
	s.writer.Start(types.ServerCopyData)
	s.writer.AddBytes(payload)
	return s.writer.End()
}

// runCopyIn reads CopyData chunks directly off the session's reader (the
// COPY sub-protocol is not itself pipelined with Parse/Bind/Execute) and
// applies the configured mutation-limit policy: Atomic buffers every
// decoded row and inserts them in one ExecuteBatch only once the whole
// stream is in and within budget; Partitioned inserts in ChunkRows-sized
// batches as they fill, so exceeding the limit partway through still
// keeps whatever already committed.
func (s *Session) runCopyIn(format pgcopy.Format, table string, columnList []string, desc *backend.DescribeResult) error {
	columnOIDs := oidsOf(desc.Columns)
	decoder := pgcopy.NewDecoder(format, columnOIDs, s.Registry, s.Settings)
	insertSQL := buildInsertSQL(table, columnList, len(columnOIDs))

	cost := pgcopy.MutationCost(len(columnOIDs), desc.IndexedColumns)
	limit := s.CopyConfig.MaxMutations
	chunkRows := s.CopyConfig.ChunkRows
	if chunkRows <= 0 {
		chunkRows = 1000
	}

	s.writer.Start(types.ServerCopyInResponse)
	s.writer.AddByte(byte(formatWireByte(format)))
	s.writer.AddInt16(int16(len(columnOIDs)))
	for range columnOIDs {
		s.writer.AddInt16(formatWireByte(format))
	}
	if err := s.writer.End(); err != nil {
		return err
	}

	var pending [][]any
	var totalRows int64
	var totalCost int64
	flush := func() error {
		if len(pending) == 0 {
			return nil
		}
		stmts := make([]backend.BatchStatement, len(pending))
		for i, row := range pending {
			stmts[i] = backend.BatchStatement{SQL: insertSQL, Params: row}
		}
		if _, err := s.Driver.ExecuteBatch(s.ctx, stmts); err != nil {
			return err
		}
		pending = pending[:0]
		return nil
	}

	for {
		typ, _, err := s.reader.ReadTypedMsg()
		if err != nil {
			return err
		}

		switch typ {
		case types.ClientCopyData:
			chunk := make([]byte, len(s.reader.Msg))
			copy(chunk, s.reader.Msg)
			decoder.Feed(chunk)
			rows, err := decoder.DrainRows()
			if err != nil {
				return s.abortCopyIn(err)
			}
			for _, row := range rows {
				if err := s.checkCancelled(); err != nil {
					return s.abortCopyIn(err)
				}
				totalRows++
				totalCost += cost
				if limit > 0 && totalCost > limit {
					if s.CopyConfig.Policy == pgcopy.Atomic {
						return s.abortCopyIn(pgerror.WithHint(pgerror.WithCode(
							fmt.Errorf("COPY exceeds mutation limit of %d", limit),
							codes.ProgramLimitExceeded,
						), "switch to partitioned non-atomic mode and retry"))
					}
					// Partitioned: commit what fits, then stop accepting
					// further rows from this stream.
					if err := flush(); err != nil {
						return s.abortCopyIn(err)
					}
					if err := s.drainCopyIn(); err != nil {
						return s.fail(err)
					}
					return s.finishCopyIn(totalRows - 1)
				}
				pending = append(pending, row)
				if s.CopyConfig.Policy == pgcopy.Partitioned && len(pending) >= chunkRows {
					if err := flush(); err != nil {
						return s.abortCopyIn(err)
					}
				}
			}

		case types.ClientCopyDone:
			if err := flush(); err != nil {
				return s.abortCopyIn(err)
			}
			return s.finishCopyIn(totalRows)

		case types.ClientCopyFail:
			reason, _ := s.reader.GetString()
			pending = nil
			return s.fail(pgerror.WithCode(fmt.Errorf("COPY failed on client side: %s", reason), codes.QueryCanceled))

		default:
			return s.fail(pgerror.WithCode(fmt.Errorf("unexpected message %q during COPY", byte(typ)), codes.ProtocolViolation))
		}
	}
}

// abortCopyIn enters the error-draining substate before reporting err: the
// client may already have further CopyData (or CopyDone/CopyFail) in
// flight for the COPY this engine is abandoning, and without discarding it
// first, Session.Run's next dispatch reads it as a stray frame outside any
// active COPY and kills the connection with a protocol violation instead
// of leaving the session usable for whatever the client sends next.
func (s *Session) abortCopyIn(err error) error {
	s.Txn.Fail(s.ctx)
	if derr := s.drainCopyIn(); derr != nil {
		return s.fail(derr)
	}
	return s.fail(err)
}

// drainCopyIn discards CopyData frames until CopyDone or CopyFail ends the
// stream, the error-draining substate abortCopyIn and the mutation-limit
// branches of runCopyIn rely on to keep the wire in sync after abandoning
// a COPY mid-stream.
func (s *Session) drainCopyIn() error {
	for {
		typ, _, err := s.reader.ReadTypedMsg()
		if err != nil {
			return err
		}
		switch typ {
		case types.ClientCopyData:
			continue
		case types.ClientCopyDone:
			return nil
		case types.ClientCopyFail:
			_, _ = s.reader.GetString()
			return nil
		default:
			return pgerror.WithCode(fmt.Errorf("unexpected message %q while draining COPY", byte(typ)), codes.ProtocolViolation)
		}
	}
}

func (s *Session) finishCopyIn(rows int64) error {
	return s.writeCommandComplete("COPY", rows)
}

func buildInsertSQL(table string, columnList []string, n int) string {
	placeholders := make([]string, n)
	for i := range placeholders {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}
	if len(columnList) == 0 {
		return fmt.Sprintf("INSERT INTO %s VALUES (%s)", table, strings.Join(placeholders, ", "))
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, strings.Join(columnList, ", "), strings.Join(placeholders, ", "))
}
