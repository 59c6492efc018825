package backend

import (
	"context"
	"fmt"
	"strings"
	"sync"

	pg_query "github.com/pganalyze/pg_query_go/v6"
	"github.com/lib/pq/oid"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"
)

// Memory is an in-memory reference Driver, used only to exercise the
// session engine's own tests end to end (batch distribution, the COPY
// mutation-limit scenario, implicit-transaction rollback on mid-string
// failure) without depending on a real SQL engine. It understands a
// deliberately small slice of SQL: CREATE TABLE, INSERT ... VALUES,
// unqualified UPDATE/DELETE (applied to every row — there is no query
// planner here), "SELECT * FROM t" / "SELECT count(*) FROM t", and
// FROM-less literal SELECTs such as SELECT 'Hello World!'.
type Memory struct {
	mu        sync.Mutex
	tables    map[string]*memTable
	sessionPs map[string]string
	inTxn     bool
}

type memTable struct {
	columns []Column
	rows    [][]any
}

// NewMemory constructs an empty Memory backend.
func NewMemory() *Memory {
	return &Memory{
		tables:    make(map[string]*memTable),
		sessionPs: make(map[string]string),
	}
}

func (m *Memory) Begin(ctx context.Context) error    { m.inTxn = true; return nil }
func (m *Memory) Commit(ctx context.Context) error   { m.inTxn = false; return nil }
func (m *Memory) Rollback(ctx context.Context) error { m.inTxn = false; return nil }
func (m *Memory) OpenReadOnly(ctx context.Context) error {
	return nil
}
func (m *Memory) Abort(ctx context.Context) { m.inTxn = false }

func (m *Memory) SetSessionParameter(ctx context.Context, name, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessionPs[name] = value
	return nil
}

func (m *Memory) GetSessionParameter(ctx context.Context, name string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.sessionPs[name]
	return v, ok
}

// Execute runs a single statement against the in-memory table set.
func (m *Memory) Execute(ctx context.Context, sql string, params []any) (*Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tree, err := pg_query.Parse(sql)
	if err != nil || len(tree.Stmts) == 0 {
		return nil, fmt.Errorf("memory backend: cannot parse: %w", err)
	}
	return m.execNode(tree.Stmts[0].Stmt, params)
}

// ExecuteBatch runs stmts in order against the same in-memory state,
// stopping at (and reporting) the first error as a *PartialBatchError.
func (m *Memory) ExecuteBatch(ctx context.Context, stmts []BatchStatement) ([]int64, error) {
	counts := make([]int64, 0, len(stmts))
	for i, s := range stmts {
		res, err := m.Execute(ctx, s.SQL, s.Params)
		if err != nil {
			return counts, &PartialBatchError{Succeeded: i, Counts: counts, Err: err}
		}
		counts = append(counts, res.UpdateCount)
	}
	return counts, nil
}

func (m *Memory) execNode(node *pg_query.Node, params []any) (*Result, error) {
	switch n := node.Node.(type) {
	case *pg_query.Node_CreateStmt:
		return m.execCreate(n.CreateStmt)
	case *pg_query.Node_InsertStmt:
		return m.execInsert(n.InsertStmt, params)
	case *pg_query.Node_UpdateStmt:
		return m.execUpdateDelete(n.UpdateStmt.Relation, "UPDATE")
	case *pg_query.Node_DeleteStmt:
		return m.execUpdateDelete(n.DeleteStmt.Relation, "DELETE")
	case *pg_query.Node_SelectStmt:
		return m.execSelect(n.SelectStmt, params)
	case *pg_query.Node_TruncateStmt:
		for _, rel := range n.TruncateStmt.Relations {
			if rv, ok := rel.Node.(*pg_query.Node_RangeVar); ok {
				if t, ok := m.tables[rv.RangeVar.Relname]; ok {
					t.rows = nil
				}
			}
		}
		return &Result{Tag: "TRUNCATE TABLE"}, nil
	default:
		return &Result{Tag: "OK"}, nil
	}
}

func (m *Memory) execCreate(stmt *pg_query.CreateStmt) (*Result, error) {
	if stmt.Relation == nil {
		return nil, fmt.Errorf("memory backend: CREATE TABLE missing relation")
	}
	name := stmt.Relation.Relname
	cols := make([]Column, 0, len(stmt.TableElts))
	for _, elt := range stmt.TableElts {
		def, ok := elt.Node.(*pg_query.Node_ColumnDef)
		if !ok {
			continue
		}
		cols = append(cols, Column{Name: def.ColumnDef.Colname, OID: pgTypeOID(def.ColumnDef.TypeName)})
	}
	m.tables[name] = &memTable{columns: cols}
	return &Result{Tag: "CREATE TABLE"}, nil
}

func pgTypeOID(tn *pg_query.TypeName) oid.Oid {
	if tn == nil || len(tn.Names) == 0 {
		return oid.T_text
	}
	last := tn.Names[len(tn.Names)-1]
	str, ok := last.Node.(*pg_query.Node_String_)
	if !ok {
		return oid.T_text
	}
	switch strings.ToLower(str.String_.Sval) {
	case "int2", "smallint":
		return oid.T_int2
	case "int4", "int", "integer", "serial":
		return oid.T_int4
	case "int8", "bigint", "bigserial":
		return oid.T_int8
	case "bool", "boolean":
		return oid.T_bool
	case "float4", "real":
		return oid.T_float4
	case "float8", "double precision":
		return oid.T_float8
	case "numeric", "decimal":
		return oid.T_numeric
	case "bytea":
		return oid.T_bytea
	case "date":
		return oid.T_date
	case "timestamp":
		return oid.T_timestamp
	case "timestamptz":
		return oid.T_timestamptz
	case "json":
		return oid.T_json
	case "jsonb":
		return oid.T_jsonb
	case "uuid":
		return oid.T_uuid
	default:
		return oid.T_text
	}
}

func (m *Memory) execInsert(stmt *pg_query.InsertStmt, params []any) (*Result, error) {
	if stmt.Relation == nil {
		return nil, fmt.Errorf("memory backend: INSERT missing relation")
	}
	name := stmt.Relation.Relname
	t, ok := m.tables[name]
	if !ok {
		t = &memTable{}
		m.tables[name] = t
	}

	sel, ok := stmt.SelectStmt.Node.(*pg_query.Node_SelectStmt)
	if !ok || len(sel.SelectStmt.ValuesLists) == 0 {
		return nil, fmt.Errorf("memory backend: INSERT without VALUES is not supported")
	}

	inserted := int64(0)
	for _, vlist := range sel.SelectStmt.ValuesLists {
		list, ok := vlist.Node.(*pg_query.Node_List)
		if !ok {
			continue
		}
		row := make([]any, len(list.List.Items))
		for i, item := range list.List.Items {
			row[i] = evalScalar(item, params)
		}
		if len(t.columns) == 0 {
			t.columns = make([]Column, len(row))
			for i := range row {
				t.columns[i] = Column{Name: fmt.Sprintf("col%d", i+1), OID: oid.T_text}
			}
		}
		t.rows = append(t.rows, row)
		inserted++
	}

	return &Result{UpdateCount: inserted, Tag: "INSERT"}, nil
}

func (m *Memory) execUpdateDelete(rel *pg_query.RangeVar, verb string) (*Result, error) {
	if rel == nil {
		return nil, fmt.Errorf("memory backend: %s missing relation", verb)
	}
	t, ok := m.tables[rel.Relname]
	if !ok {
		return &Result{UpdateCount: 0, Tag: verb}, nil
	}
	n := int64(len(t.rows))
	if verb == "DELETE" {
		t.rows = nil
	}
	return &Result{UpdateCount: n, Tag: verb}, nil
}

func (m *Memory) execSelect(stmt *pg_query.SelectStmt, params []any) (*Result, error) {
	if len(stmt.FromClause) == 0 {
		return m.execLiteralSelect(stmt, params)
	}

	rv, ok := stmt.FromClause[0].Node.(*pg_query.Node_RangeVar)
	if !ok {
		return nil, fmt.Errorf("memory backend: unsupported FROM clause")
	}
	t, ok := m.tables[rv.RangeVar.Relname]
	if !ok {
		return nil, fmt.Errorf("memory backend: unknown table %q", rv.RangeVar.Relname)
	}

	if isCountStar(stmt.TargetList) {
		return &Result{
			HasRowSet: true,
			Columns:   []Column{{Name: "count", OID: oid.T_int8}},
			Rows:      [][]any{{int64(len(t.rows))}},
			Tag:       "SELECT",
		}, nil
	}

	rows := make([][]any, len(t.rows))
	copy(rows, t.rows)
	return &Result{HasRowSet: true, Columns: t.columns, Rows: rows, Tag: "SELECT"}, nil
}

func (m *Memory) execLiteralSelect(stmt *pg_query.SelectStmt, params []any) (*Result, error) {
	cols := make([]Column, len(stmt.TargetList))
	row := make([]any, len(stmt.TargetList))
	for i, target := range stmt.TargetList {
		rt, ok := target.Node.(*pg_query.Node_ResTarget)
		if !ok {
			return nil, fmt.Errorf("memory backend: unsupported SELECT target")
		}
		val := evalScalar(rt.ResTarget.Val, params)
		row[i] = val
		name := rt.ResTarget.Name
		if name == "" {
			name = "?column?"
		}
		cols[i] = Column{Name: name, OID: oidForValue(val)}
	}
	return &Result{HasRowSet: true, Columns: cols, Rows: [][]any{row}, Tag: "SELECT"}, nil
}

func isCountStar(targets []*pg_query.Node) bool {
	if len(targets) != 1 {
		return false
	}
	rt, ok := targets[0].Node.(*pg_query.Node_ResTarget)
	if !ok {
		return false
	}
	call, ok := rt.ResTarget.Val.Node.(*pg_query.Node_FuncCall)
	if !ok || len(call.FuncCall.Funcname) == 0 {
		return false
	}
	last, ok := call.FuncCall.Funcname[len(call.FuncCall.Funcname)-1].Node.(*pg_query.Node_String_)
	return ok && last.String_.Sval == "count"
}

func evalScalar(node *pg_query.Node, params []any) any {
	if node == nil {
		return nil
	}
	switch n := node.Node.(type) {
	case *pg_query.Node_AConst:
		if n.AConst.Isnull {
			return nil
		}
		switch v := n.AConst.Val.(type) {
		case *pg_query.A_Const_Sval:
			return v.Sval.Sval
		case *pg_query.A_Const_Ival:
			return int64(v.Ival.Ival)
		case *pg_query.A_Const_Fval:
			return v.Fval.Fval
		case *pg_query.A_Const_Boolval:
			return v.Boolval.Boolval
		default:
			return nil
		}
	case *pg_query.Node_ParamRef:
		idx := int(n.ParamRef.Number) - 1
		if idx >= 0 && idx < len(params) {
			return params[idx]
		}
		return nil
	default:
		return nil
	}
}

func oidForValue(v any) oid.Oid {
	switch v.(type) {
	case string:
		return oid.T_text
	case int64, int32:
		return oid.T_int8
	case float64, float32:
		return oid.T_float8
	case bool:
		return oid.T_bool
	default:
		return oid.T_text
	}
}

// Describe infers parameter and result shape without executing sql. It is
// a best-effort implementation grounded on the same table registry Execute
// uses: it resolves "SELECT * FROM t" style queries and INSERT ... VALUES
// parameter positions against known table schemas, and falls back to text
// for anything it cannot infer (an unknown-shape query reports NoData).
func (m *Memory) Describe(ctx context.Context, sql string, hintOIDs []oid.Oid) (*DescribeResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tree, err := pg_query.Parse(sql)
	if err != nil || len(tree.Stmts) == 0 {
		return nil, fmt.Errorf("memory backend: cannot parse: %w", err)
	}

	paramCount := maxParamOrdinal(tree.Stmts[0].Stmt)
	result := &DescribeResult{ParamOIDs: make([]oid.Oid, paramCount)}
	for i := range result.ParamOIDs {
		if i < len(hintOIDs) && hintOIDs[i] != 0 {
			result.ParamOIDs[i] = hintOIDs[i]
		} else {
			result.ParamOIDs[i] = oid.T_text
		}
	}

	switch n := tree.Stmts[0].Stmt.Node.(type) {
	case *pg_query.Node_SelectStmt:
		if len(n.SelectStmt.FromClause) == 1 {
			if rv, ok := n.SelectStmt.FromClause[0].Node.(*pg_query.Node_RangeVar); ok {
				if t, ok := m.tables[rv.RangeVar.Relname]; ok && !isCountStar(n.SelectStmt.TargetList) {
					result.Columns = t.columns
				}
			}
		}
	case *pg_query.Node_InsertStmt:
		if n.InsertStmt.Relation != nil {
			if t, ok := m.tables[n.InsertStmt.Relation.Relname]; ok {
				for i := range result.ParamOIDs {
					if i < len(t.columns) && (i >= len(hintOIDs) || hintOIDs[i] == 0) {
						result.ParamOIDs[i] = t.columns[i].OID
					}
				}
			}
		}
	}

	return result, nil
}

// maxParamOrdinal duplicates classifier.Placeholders' tree walk rather than
// importing the classifier package, which would create backend->classifier
// ->backend (Memory is a test double for the very Driver the classifier's
// caller, the session engine, depends on).
func maxParamOrdinal(node *pg_query.Node) int {
	max := 0
	walkParamRefs(node, &max)
	return max
}

func walkParamRefs(msg proto.Message, max *int) {
	if msg == nil {
		return
	}
	rm := msg.ProtoReflect()
	if !rm.IsValid() {
		return
	}
	rm.Range(func(fd protoreflect.FieldDescriptor, v protoreflect.Value) bool {
		if fd.IsList() {
			list := v.List()
			for i := 0; i < list.Len(); i++ {
				walkParamRefValue(fd, list.Get(i), max)
			}
			return true
		}
		walkParamRefValue(fd, v, max)
		return true
	})
}

func walkParamRefValue(fd protoreflect.FieldDescriptor, v protoreflect.Value, max *int) {
	if fd.Kind() != protoreflect.MessageKind && fd.Kind() != protoreflect.GroupKind {
		return
	}
	sub := v.Message()
	if !sub.IsValid() {
		return
	}
	subMsg, ok := sub.Interface().(proto.Message)
	if !ok {
		return
	}
	if ref, ok := subMsg.(*pg_query.ParamRef); ok {
		if int(ref.Number) > *max {
			*max = int(ref.Number)
		}
		return
	}
	walkParamRefs(subMsg, max)
}
