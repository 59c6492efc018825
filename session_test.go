package wire

import (
	"bytes"
	"context"
	"testing"

	"github.com/neilotoole/slogt"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaydb/pgwire/backend"
	"github.com/relaydb/pgwire/codes"
	pgcopy "github.com/relaydb/pgwire/copy"
	"github.com/relaydb/pgwire/pkg/buffer"
	"github.com/relaydb/pgwire/pkg/types"
)

// newTestSession builds a Session over the in-memory reference backend.
// Its writer is wired to out so a test can inspect every server message
// the session produces; its reader is replaced per step via send.
func newTestSession(t *testing.T) (s *Session, out *bytes.Buffer) {
	t.Helper()
	out = &bytes.Buffer{}
	reader := buffer.NewReader(slogt.New(t), &bytes.Buffer{}, buffer.DefaultBufferSize)
	writer := buffer.NewWriter(slogt.New(t), out)
	s = NewSession(context.Background(), backend.NewMemory(), reader, writer, zerolog.Nop())
	return s, out
}

// writeClientMsg appends one client message of type typ, built by fn, to
// buf in wire format.
func writeClientMsg(t *testing.T, buf *bytes.Buffer, typ types.ClientMessage, fn func(w *buffer.Writer)) {
	t.Helper()
	w := buffer.NewWriter(slogt.New(t), buf)
	w.Start(types.ServerMessage(typ))
	if fn != nil {
		fn(w)
	}
	require.NoError(t, w.End())
}

// send replaces s's reader with a single client message of type typ, and
// leaves it positioned past the type/length header so the next handler
// call can read its body directly via GetString/GetInt32/etc.
func send(t *testing.T, s *Session, typ types.ClientMessage, fn func(w *buffer.Writer)) {
	t.Helper()
	buf := &bytes.Buffer{}
	writeClientMsg(t, buf, typ, fn)
	s.reader = buffer.NewReader(slogt.New(t), buf, buffer.DefaultBufferSize)
	_, _, err := s.reader.ReadTypedMsg()
	require.NoError(t, err)
}

type serverMsg struct {
	Type types.ServerMessage
	Body []byte
}

// drainMessages parses every complete server message currently written to
// out and empties it, so later assertions in the same test only see
// messages produced after the previous drainMessages call.
func drainMessages(t *testing.T, out *bytes.Buffer) []serverMsg {
	t.Helper()
	data := append([]byte(nil), out.Bytes()...)
	out.Reset()

	r := buffer.NewReader(slogt.New(t), bytes.NewReader(data), buffer.DefaultBufferSize)
	var msgs []serverMsg
	for {
		typ, _, err := r.ReadTypedMsg()
		if err != nil {
			break
		}
		body := append([]byte(nil), r.Msg...)
		msgs = append(msgs, serverMsg{Type: types.ServerMessage(typ), Body: body})
	}
	return msgs
}

func typesOf(msgs []serverMsg) []types.ServerMessage {
	out := make([]types.ServerMessage, len(msgs))
	for i, m := range msgs {
		out[i] = m.Type
	}
	return out
}

func findMsg(msgs []serverMsg, typ types.ServerMessage) (serverMsg, bool) {
	for _, m := range msgs {
		if m.Type == typ {
			return m, true
		}
	}
	return serverMsg{}, false
}

func bodyReader(body []byte) *buffer.Reader {
	return &buffer.Reader{Msg: append([]byte(nil), body...)}
}

func commandCompleteText(t *testing.T, m serverMsg) string {
	t.Helper()
	require.Equal(t, types.ServerCommandComplete, m.Type)
	text, err := bodyReader(m.Body).GetString()
	require.NoError(t, err)
	return text
}

// errorFields parses an ErrorResponse body into its field-type -> value map.
func errorFields(t *testing.T, m serverMsg) map[byte]string {
	t.Helper()
	require.Equal(t, types.ServerErrorResponse, m.Type)
	r := bodyReader(m.Body)
	out := map[byte]string{}
	for {
		b, err := r.GetBytes(1)
		require.NoError(t, err)
		if b[0] == 0 {
			return out
		}
		s, err := r.GetString()
		require.NoError(t, err)
		out[b[0]] = s
	}
}

// parseDataRow decodes a DataRow body into its raw column byte slices
// (nil for SQL NULL).
func parseDataRow(t *testing.T, m serverMsg) [][]byte {
	t.Helper()
	require.Equal(t, types.ServerDataRow, m.Type)
	r := bodyReader(m.Body)
	n, err := r.GetUint16()
	require.NoError(t, err)
	vals := make([][]byte, n)
	for i := range vals {
		size, err := r.GetInt32()
		require.NoError(t, err)
		if size == -1 {
			continue
		}
		b, err := r.GetBytes(int(size))
		require.NoError(t, err)
		vals[i] = append([]byte(nil), b...)
	}
	return vals
}

func readyStatus(t *testing.T, m serverMsg) types.ServerStatus {
	t.Helper()
	require.Equal(t, types.ServerReady, m.Type)
	require.Len(t, m.Body, 1)
	return types.ServerStatus(m.Body[0])
}

// runSimpleQuery drives sql through the simple-query protocol and returns
// the server messages it produced.
func runSimpleQuery(t *testing.T, s *Session, out *bytes.Buffer, sql string) []serverMsg {
	t.Helper()
	send(t, s, types.ClientSimpleQuery, func(w *buffer.Writer) {
		w.AddString(sql)
		w.AddNullTerminate()
	})
	require.NoError(t, s.handleSimpleQuery())
	return drainMessages(t, out)
}

func TestSimpleQueryHelloWorld(t *testing.T) {
	t.Parallel()

	s, out := newTestSession(t)
	msgs := runSimpleQuery(t, s, out, "SELECT 'Hello World!'")

	require.Equal(t,
		[]types.ServerMessage{types.ServerRowDescription, types.ServerDataRow, types.ServerCommandComplete, types.ServerReady},
		typesOf(msgs))

	row, _ := findMsg(msgs, types.ServerDataRow)
	vals := parseDataRow(t, row)
	require.Len(t, vals, 1)
	assert.Equal(t, "Hello World!", string(vals[0]))

	complete, _ := findMsg(msgs, types.ServerCommandComplete)
	assert.Equal(t, "SELECT 1", commandCompleteText(t, complete))

	ready, _ := findMsg(msgs, types.ServerReady)
	assert.Equal(t, types.ServerIdle, readyStatus(t, ready))
}

func TestSimpleQueryEmptyString(t *testing.T) {
	t.Parallel()

	s, out := newTestSession(t)
	msgs := runSimpleQuery(t, s, out, "")

	require.Equal(t, []types.ServerMessage{types.ServerEmptyQuery, types.ServerReady}, typesOf(msgs))
}

func TestExtendedQueryInsertPipeline(t *testing.T) {
	t.Parallel()

	s, out := newTestSession(t)
	runSimpleQuery(t, s, out, "CREATE TABLE t (id int4, name text)")

	// Parse an INSERT with two positional parameters, no client hints.
	send(t, s, types.ClientParse, func(w *buffer.Writer) {
		w.AddString("")
		w.AddNullTerminate()
		w.AddString("INSERT INTO t (id, name) VALUES ($1, $2)")
		w.AddNullTerminate()
		w.AddInt16(0)
	})
	require.NoError(t, s.handleParse())

	// Bind text-format parameters "1" and "hello".
	send(t, s, types.ClientBind, func(w *buffer.Writer) {
		w.AddString("") // portal
		w.AddNullTerminate()
		w.AddString("") // statement
		w.AddNullTerminate()
		w.AddInt16(0) // param format codes: all text
		w.AddInt16(2) // num params
		w.AddInt32(1)
		w.AddBytes([]byte("1"))
		w.AddInt32(5)
		w.AddBytes([]byte("hello"))
		w.AddInt16(0) // result format codes: all text
	})
	require.NoError(t, s.handleBind())

	send(t, s, types.ClientDescribe, func(w *buffer.Writer) {
		w.AddByte(byte(types.DescribePortal))
		w.AddString("")
		w.AddNullTerminate()
	})
	require.NoError(t, s.handleDescribe())

	send(t, s, types.ClientExecute, func(w *buffer.Writer) {
		w.AddString("")
		w.AddNullTerminate()
		w.AddInt32(0)
	})
	require.NoError(t, s.handleExecute())

	send(t, s, types.ClientSync, nil)
	require.NoError(t, s.handleSync())

	msgs := drainMessages(t, out)
	require.Equal(t, []types.ServerMessage{
		types.ServerParseComplete,
		types.ServerBindComplete,
		types.ServerNoData,
		types.ServerCommandComplete,
		types.ServerReady,
	}, typesOf(msgs))

	complete, _ := findMsg(msgs, types.ServerCommandComplete)
	assert.Equal(t, "INSERT 0 1", commandCompleteText(t, complete))

	ready, _ := findMsg(msgs, types.ServerReady)
	assert.Equal(t, types.ServerIdle, readyStatus(t, ready))
}

func TestPortalSuspensionAcrossExecutes(t *testing.T) {
	t.Parallel()

	s, out := newTestSession(t)
	runSimpleQuery(t, s, out, "CREATE TABLE t (id int4)")

	for i := 0; i < 3; i++ {
		send(t, s, types.ClientParse, func(w *buffer.Writer) {
			w.AddString("")
			w.AddNullTerminate()
			w.AddString("INSERT INTO t (id) VALUES ($1)")
			w.AddNullTerminate()
			w.AddInt16(0)
		})
		require.NoError(t, s.handleParse())

		send(t, s, types.ClientBind, func(w *buffer.Writer) {
			w.AddString("")
			w.AddNullTerminate()
			w.AddString("")
			w.AddNullTerminate()
			w.AddInt16(0)
			w.AddInt16(1)
			digit := []byte{byte('0' + i)}
			w.AddInt32(int32(len(digit)))
			w.AddBytes(digit)
			w.AddInt16(0)
		})
		require.NoError(t, s.handleBind())

		send(t, s, types.ClientExecute, func(w *buffer.Writer) {
			w.AddString("")
			w.AddNullTerminate()
			w.AddInt32(0)
		})
		require.NoError(t, s.handleExecute())

		send(t, s, types.ClientSync, nil)
		require.NoError(t, s.handleSync())
	}
	drainMessages(t, out) // discard the three INSERT round trips

	send(t, s, types.ClientParse, func(w *buffer.Writer) {
		w.AddString("")
		w.AddNullTerminate()
		w.AddString("SELECT * FROM t")
		w.AddNullTerminate()
		w.AddInt16(0)
	})
	require.NoError(t, s.handleParse())

	send(t, s, types.ClientBind, func(w *buffer.Writer) {
		w.AddString("cur")
		w.AddNullTerminate()
		w.AddString("")
		w.AddNullTerminate()
		w.AddInt16(0)
		w.AddInt16(0)
		w.AddInt16(0)
	})
	require.NoError(t, s.handleBind())

	send(t, s, types.ClientExecute, func(w *buffer.Writer) {
		w.AddString("cur")
		w.AddNullTerminate()
		w.AddInt32(2)
	})
	require.NoError(t, s.handleExecute())
	firstBatch := drainMessages(t, out)
	require.Equal(t, []types.ServerMessage{types.ServerDataRow, types.ServerDataRow, types.ServerPortalSuspended}, typesOf(firstBatch))

	send(t, s, types.ClientExecute, func(w *buffer.Writer) {
		w.AddString("cur")
		w.AddNullTerminate()
		w.AddInt32(0)
	})
	require.NoError(t, s.handleExecute())
	secondBatch := drainMessages(t, out)
	require.Equal(t, []types.ServerMessage{types.ServerDataRow, types.ServerCommandComplete}, typesOf(secondBatch))

	complete, _ := findMsg(secondBatch, types.ServerCommandComplete)
	assert.Equal(t, "SELECT 3", commandCompleteText(t, complete))
}

func TestImplicitTransactionMidStringFailureAbortsRest(t *testing.T) {
	t.Parallel()

	s, out := newTestSession(t)
	msgs := runSimpleQuery(t, s, out, "SELECT * FROM missing_table; SELECT 1")

	// The failing first statement aborts the implicit transaction and the
	// second statement never runs: only an ErrorResponse then ReadyForQuery.
	require.Equal(t, []types.ServerMessage{types.ServerErrorResponse, types.ServerReady}, typesOf(msgs))

	ready, _ := findMsg(msgs, types.ServerReady)
	assert.Equal(t, types.ServerIdle, readyStatus(t, ready), "an implicit transaction rolls back immediately, it never enters the failed state")
}

func TestFailedTransactionGateRejectsUntilRollback(t *testing.T) {
	t.Parallel()

	s, out := newTestSession(t)

	beginMsgs := runSimpleQuery(t, s, out, "BEGIN")
	require.Equal(t, []types.ServerMessage{types.ServerCommandComplete, types.ServerReady}, typesOf(beginMsgs))
	ready, _ := findMsg(beginMsgs, types.ServerReady)
	assert.Equal(t, types.ServerTransactionBlock, readyStatus(t, ready))

	failMsgs := runSimpleQuery(t, s, out, "SELECT * FROM missing_table")
	require.Equal(t, []types.ServerMessage{types.ServerErrorResponse, types.ServerReady}, typesOf(failMsgs))
	ready, _ = findMsg(failMsgs, types.ServerReady)
	assert.Equal(t, types.ServerTransactionFailed, readyStatus(t, ready))

	blockedMsgs := runSimpleQuery(t, s, out, "SELECT 1")
	require.Equal(t, []types.ServerMessage{types.ServerErrorResponse, types.ServerReady}, typesOf(blockedMsgs))
	errMsg, _ := findMsg(blockedMsgs, types.ServerErrorResponse)
	fields := errorFields(t, errMsg)
	assert.Equal(t, string(codes.InFailedSQLTransaction), fields['C'])
	ready, _ = findMsg(blockedMsgs, types.ServerReady)
	assert.Equal(t, types.ServerTransactionFailed, readyStatus(t, ready), "still failed, ROLLBACK has not arrived yet")

	rollbackMsgs := runSimpleQuery(t, s, out, "ROLLBACK")
	require.Equal(t, []types.ServerMessage{types.ServerCommandComplete, types.ServerReady}, typesOf(rollbackMsgs))
	ready, _ = findMsg(rollbackMsgs, types.ServerReady)
	assert.Equal(t, types.ServerIdle, readyStatus(t, ready), "ROLLBACK must always be able to end a failed transaction")
}

func TestDuplicateStatementAndPortalNameRejected(t *testing.T) {
	t.Parallel()

	s, out := newTestSession(t)

	send(t, s, types.ClientParse, func(w *buffer.Writer) {
		w.AddString("s1")
		w.AddNullTerminate()
		w.AddString("SELECT 1")
		w.AddNullTerminate()
		w.AddInt16(0)
	})
	require.NoError(t, s.handleParse())
	drainMessages(t, out)

	send(t, s, types.ClientParse, func(w *buffer.Writer) {
		w.AddString("s1")
		w.AddNullTerminate()
		w.AddString("SELECT 2")
		w.AddNullTerminate()
		w.AddInt16(0)
	})
	require.NoError(t, s.handleParse()) // the handler itself never errors; it writes ErrorResponse
	msgs := drainMessages(t, out)
	require.Len(t, msgs, 1)
	fields := errorFields(t, msgs[0])
	assert.Equal(t, string(codes.DuplicatePreparedStatement), fields['C'])

	// Bind two portals under the same name "p1" off statement "s1".
	send(t, s, types.ClientBind, func(w *buffer.Writer) {
		w.AddString("p1")
		w.AddNullTerminate()
		w.AddString("s1")
		w.AddNullTerminate()
		w.AddInt16(0)
		w.AddInt16(0)
		w.AddInt16(0)
	})
	require.NoError(t, s.handleBind())
	drainMessages(t, out)

	send(t, s, types.ClientBind, func(w *buffer.Writer) {
		w.AddString("p1")
		w.AddNullTerminate()
		w.AddString("s1")
		w.AddNullTerminate()
		w.AddInt16(0)
		w.AddInt16(0)
		w.AddInt16(0)
	})
	require.NoError(t, s.handleBind())
	msgs = drainMessages(t, out)
	require.Len(t, msgs, 1)
	fields = errorFields(t, msgs[0])
	assert.Equal(t, string(codes.DuplicateCursor), fields['C'])
}

func TestBatchedDMLDistributesCommandCompletesInOrder(t *testing.T) {
	t.Parallel()

	s, out := newTestSession(t)
	runSimpleQuery(t, s, out, "CREATE TABLE t (id int4)")

	parseAndBindInsert := func(value byte) {
		send(t, s, types.ClientParse, func(w *buffer.Writer) {
			w.AddString("")
			w.AddNullTerminate()
			w.AddString("INSERT INTO t (id) VALUES ($1)")
			w.AddNullTerminate()
			w.AddInt16(0)
		})
		require.NoError(t, s.handleParse())
		drainMessages(t, out)

		send(t, s, types.ClientBind, func(w *buffer.Writer) {
			w.AddString("")
			w.AddNullTerminate()
			w.AddString("")
			w.AddNullTerminate()
			w.AddInt16(0)
			w.AddInt16(1)
			w.AddInt32(1)
			w.AddBytes([]byte{value})
			w.AddInt16(0)
		})
		require.NoError(t, s.handleBind())
		drainMessages(t, out)

		send(t, s, types.ClientExecute, func(w *buffer.Writer) {
			w.AddString("")
			w.AddNullTerminate()
			w.AddInt32(0)
		})
		require.NoError(t, s.handleExecute())
		drainMessages(t, out)
	}

	// Three Bind+Execute pairs pipelined before a single Sync: the session
	// engine must forward them to the backend as one ExecuteBatch call and
	// distribute the per-statement CommandComplete responses back in order.
	parseAndBindInsert('1')
	parseAndBindInsert('2')
	parseAndBindInsert('3')

	send(t, s, types.ClientSync, nil)
	require.NoError(t, s.handleSync())
	msgs := drainMessages(t, out)

	require.Equal(t, []types.ServerMessage{
		types.ServerCommandComplete,
		types.ServerCommandComplete,
		types.ServerCommandComplete,
		types.ServerReady,
	}, typesOf(msgs))
	for _, m := range msgs[:3] {
		assert.Equal(t, "INSERT 0 1", commandCompleteText(t, m))
	}
}

func TestCopyInTextSmall(t *testing.T) {
	t.Parallel()

	s, out := newTestSession(t)
	runSimpleQuery(t, s, out, "CREATE TABLE t (id int4, name text)")

	buf := &bytes.Buffer{}
	writeClientMsg(t, buf, types.ClientSimpleQuery, func(w *buffer.Writer) {
		w.AddString("COPY t FROM STDIN")
		w.AddNullTerminate()
	})
	writeClientMsg(t, buf, types.ClientCopyData, func(w *buffer.Writer) {
		w.AddBytes([]byte("1\tfoo\n2\tbar\n"))
	})
	writeClientMsg(t, buf, types.ClientCopyDone, nil)

	s.reader = buffer.NewReader(slogt.New(t), buf, buffer.DefaultBufferSize)
	typ, _, err := s.reader.ReadTypedMsg()
	require.NoError(t, err)
	require.Equal(t, types.ClientSimpleQuery, typ)
	require.NoError(t, s.handleSimpleQuery())

	msgs := drainMessages(t, out)
	require.Equal(t, []types.ServerMessage{
		types.ServerCopyInResponse,
		types.ServerCommandComplete,
		types.ServerReady,
	}, typesOf(msgs))
	complete, _ := findMsg(msgs, types.ServerCommandComplete)
	assert.Equal(t, "COPY 2", commandCompleteText(t, complete))

	selectMsgs := runSimpleQuery(t, s, out, "SELECT count(*) FROM t")
	row, _ := findMsg(selectMsgs, types.ServerDataRow)
	vals := parseDataRow(t, row)
	assert.Equal(t, "2", string(vals[0]))
}

func TestCopyInAtomicPolicyAbortsWholeStreamOverLimit(t *testing.T) {
	t.Parallel()

	s, out := newTestSession(t)
	s.CopyConfig.MaxMutations = 2 // cost is columns(1)+indexed(0) per row; limit = 2 rows
	runSimpleQuery(t, s, out, "CREATE TABLE t (id int4)")

	buf := &bytes.Buffer{}
	writeClientMsg(t, buf, types.ClientSimpleQuery, func(w *buffer.Writer) {
		w.AddString("COPY t FROM STDIN")
		w.AddNullTerminate()
	})
	writeClientMsg(t, buf, types.ClientCopyData, func(w *buffer.Writer) {
		w.AddBytes([]byte("1\n2\n3\n")) // 3 rows, exceeds the 2-row budget
	})
	writeClientMsg(t, buf, types.ClientCopyDone, nil)

	s.reader = buffer.NewReader(slogt.New(t), buf, buffer.DefaultBufferSize)
	typ, _, err := s.reader.ReadTypedMsg()
	require.NoError(t, err)
	require.Equal(t, types.ClientSimpleQuery, typ)
	require.NoError(t, s.handleSimpleQuery())

	msgs := drainMessages(t, out)
	require.Equal(t, []types.ServerMessage{types.ServerCopyInResponse, types.ServerErrorResponse, types.ServerReady}, typesOf(msgs))
	errMsg, _ := findMsg(msgs, types.ServerErrorResponse)
	fields := errorFields(t, errMsg)
	assert.Equal(t, string(codes.ProgramLimitExceeded), fields['C'])

	countMsgs := runSimpleQuery(t, s, out, "SELECT count(*) FROM t")
	row, _ := findMsg(countMsgs, types.ServerDataRow)
	vals := parseDataRow(t, row)
	assert.Equal(t, "0", string(vals[0]), "Atomic policy must discard every row once the limit is exceeded")
}

// TestCopyInAbortDrainsRestOfStreamKeepingWireInSync reproduces the stray-
// frame desync a naive abort leaves behind: the client keeps streaming
// CopyData/CopyDone after the mutation limit trips mid-chunk, and those
// bytes must be discarded by the error-draining substate rather than
// surfacing to the next dispatch call as an out-of-COPY protocol
// violation. Unlike the other COPY tests, this one deliberately keeps a
// single reader across both the aborted COPY and the statement that
// follows it instead of swapping in a fresh one, so a regression here
// would actually fail.
func TestCopyInAbortDrainsRestOfStreamKeepingWireInSync(t *testing.T) {
	t.Parallel()

	s, out := newTestSession(t)
	s.CopyConfig.MaxMutations = 2
	runSimpleQuery(t, s, out, "CREATE TABLE t (id int4)")

	buf := &bytes.Buffer{}
	writeClientMsg(t, buf, types.ClientSimpleQuery, func(w *buffer.Writer) {
		w.AddString("COPY t FROM STDIN")
		w.AddNullTerminate()
	})
	writeClientMsg(t, buf, types.ClientCopyData, func(w *buffer.Writer) {
		w.AddBytes([]byte("1\n2\n3\n")) // exceeds the 2-row budget mid-chunk
	})
	writeClientMsg(t, buf, types.ClientCopyDone, nil)
	writeClientMsg(t, buf, types.ClientSimpleQuery, func(w *buffer.Writer) {
		w.AddString("SELECT 1")
		w.AddNullTerminate()
	})

	s.reader = buffer.NewReader(slogt.New(t), buf, buffer.DefaultBufferSize)

	typ, _, err := s.reader.ReadTypedMsg()
	require.NoError(t, err)
	require.Equal(t, types.ClientSimpleQuery, typ)
	require.NoError(t, s.handleSimpleQuery())

	abortMsgs := drainMessages(t, out)
	errMsg, ok := findMsg(abortMsgs, types.ServerErrorResponse)
	require.True(t, ok)
	assert.Equal(t, string(codes.ProgramLimitExceeded), errorFields(t, errMsg)['C'])

	// The next frame on the same reader must be the follow-up SimpleQuery,
	// not a stray CopyDone left over from the aborted COPY.
	nextTyp, _, err := s.reader.ReadTypedMsg()
	require.NoError(t, err)
	require.Equal(t, types.ClientSimpleQuery, nextTyp)

	done, err := s.dispatch(nextTyp)
	require.NoError(t, err)
	assert.False(t, done)

	msgs := drainMessages(t, out)
	row, ok := findMsg(msgs, types.ServerDataRow)
	require.True(t, ok)
	vals := parseDataRow(t, row)
	assert.Equal(t, "1", string(vals[0]))
}

func TestCopyInPartitionedPolicyKeepsWhatFitsOverLimit(t *testing.T) {
	t.Parallel()

	s, out := newTestSession(t)
	s.CopyConfig.MaxMutations = 2
	s.CopyConfig.Policy = pgcopy.Partitioned
	runSimpleQuery(t, s, out, "CREATE TABLE t (id int4)")

	buf := &bytes.Buffer{}
	writeClientMsg(t, buf, types.ClientSimpleQuery, func(w *buffer.Writer) {
		w.AddString("COPY t FROM STDIN")
		w.AddNullTerminate()
	})
	writeClientMsg(t, buf, types.ClientCopyData, func(w *buffer.Writer) {
		w.AddBytes([]byte("1\n2\n3\n"))
	})
	writeClientMsg(t, buf, types.ClientCopyDone, nil)

	s.reader = buffer.NewReader(slogt.New(t), buf, buffer.DefaultBufferSize)
	typ, _, err := s.reader.ReadTypedMsg()
	require.NoError(t, err)
	require.Equal(t, types.ClientSimpleQuery, typ)
	require.NoError(t, s.handleSimpleQuery())

	msgs := drainMessages(t, out)
	require.Equal(t, []types.ServerMessage{types.ServerCopyInResponse, types.ServerCommandComplete, types.ServerReady}, typesOf(msgs))
	complete, _ := findMsg(msgs, types.ServerCommandComplete)
	assert.Equal(t, "COPY 2", commandCompleteText(t, complete), "Partitioned policy keeps the rows that already fit")

	countMsgs := runSimpleQuery(t, s, out, "SELECT count(*) FROM t")
	row, _ := findMsg(countMsgs, types.ServerDataRow)
	vals := parseDataRow(t, row)
	assert.Equal(t, "2", string(vals[0]))
}

func TestUnknownPortalOnExecuteReportsInvalidCursorName(t *testing.T) {
	t.Parallel()

	s, out := newTestSession(t)
	send(t, s, types.ClientExecute, func(w *buffer.Writer) {
		w.AddString("does-not-exist")
		w.AddNullTerminate()
		w.AddInt32(0)
	})
	require.NoError(t, s.handleExecute())

	msgs := drainMessages(t, out)
	require.Len(t, msgs, 1)
	fields := errorFields(t, msgs[0])
	assert.Equal(t, string(codes.InvalidCursorName), fields['C'])
}

func TestUnknownStatementOnBindReportsUndefinedPreparedStatement(t *testing.T) {
	t.Parallel()

	s, out := newTestSession(t)
	send(t, s, types.ClientBind, func(w *buffer.Writer) {
		w.AddString("")
		w.AddNullTerminate()
		w.AddString("does-not-exist")
		w.AddNullTerminate()
		w.AddInt16(0)
		w.AddInt16(0)
		w.AddInt16(0)
	})
	require.NoError(t, s.handleBind())

	msgs := drainMessages(t, out)
	require.Len(t, msgs, 1)
	fields := errorFields(t, msgs[0])
	assert.Equal(t, string(codes.UndefinedPreparedStatement), fields['C'])
}

// countingDriver wraps backend.Memory to count Commit/Abort calls, since
// Memory itself has no durable state to inspect for a commit/rollback
// assertion: Commit and Rollback just flip an inTxn flag.
type countingDriver struct {
	*backend.Memory
	commits int
	aborts  int
}

func newCountingDriver() *countingDriver {
	return &countingDriver{Memory: backend.NewMemory()}
}

func (d *countingDriver) Commit(ctx context.Context) error {
	d.commits++
	return d.Memory.Commit(ctx)
}

func (d *countingDriver) Abort(ctx context.Context) {
	d.aborts++
	d.Memory.Abort(ctx)
}

func newTestSessionWithDriver(t *testing.T, driver backend.Driver) (s *Session, out *bytes.Buffer) {
	t.Helper()
	out = &bytes.Buffer{}
	reader := buffer.NewReader(slogt.New(t), &bytes.Buffer{}, buffer.DefaultBufferSize)
	writer := buffer.NewWriter(slogt.New(t), out)
	s = NewSession(context.Background(), driver, reader, writer, zerolog.Nop())
	return s, out
}

// TestImplicitMultiStatementDefersCommitUntilWholeStringSucceeds covers
// spec.md's scenario of a multi-statement Query string where a later
// statement fails: the whole string is one implicit transaction, so the
// first statement's INSERT must not already be committed to the backend
// by the time the second statement fails, and the third never runs.
func TestImplicitMultiStatementDefersCommitUntilWholeStringSucceeds(t *testing.T) {
	t.Parallel()

	driver := newCountingDriver()
	s, out := newTestSessionWithDriver(t, driver)

	msgs := runSimpleQuery(t, s, out,
		"INSERT INTO accounts (balance) VALUES (1); SELECT * FROM missing_table; INSERT INTO accounts (balance) VALUES (3)")

	require.Equal(t,
		[]types.ServerMessage{types.ServerCommandComplete, types.ServerErrorResponse, types.ServerReady},
		typesOf(msgs),
		"the first INSERT completes, the second statement errors, the third never runs")

	ready, _ := findMsg(msgs, types.ServerReady)
	assert.Equal(t, types.ServerIdle, readyStatus(t, ready))

	assert.Equal(t, 0, driver.commits, "the first INSERT's implicit transaction must not commit before the whole Query string finishes")
	assert.Equal(t, 1, driver.aborts, "the failing second statement rolls back the whole string, including the already-run first INSERT")
}

// TestImplicitMultiStatementCommitsOnceWhenEveryStatementSucceeds is the
// mirror case: a multi-statement string where every statement succeeds
// must still result in exactly one backend commit for the whole string,
// not one per statement.
func TestImplicitMultiStatementCommitsOnceWhenEveryStatementSucceeds(t *testing.T) {
	t.Parallel()

	driver := newCountingDriver()
	s, out := newTestSessionWithDriver(t, driver)

	msgs := runSimpleQuery(t, s, out,
		"INSERT INTO accounts (balance) VALUES (1); INSERT INTO accounts (balance) VALUES (2)")

	require.Equal(t,
		[]types.ServerMessage{types.ServerCommandComplete, types.ServerCommandComplete, types.ServerReady},
		typesOf(msgs))

	ready, _ := findMsg(msgs, types.ServerReady)
	assert.Equal(t, types.ServerIdle, readyStatus(t, ready))

	assert.Equal(t, 1, driver.commits, "two statements in one Query string still commit as a single implicit transaction")
	assert.Equal(t, 0, driver.aborts)
}
