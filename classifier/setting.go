package classifier

import (
	"strconv"

	pg_query "github.com/pganalyze/pg_query_go/v6"
)

// SettingKind distinguishes SET/RESET/SHOW, which the session engine
// handles with different response shapes.
type SettingKind int

const (
	SettingUnknown SettingKind = iota
	SettingSet
	SettingReset
	SettingShow
)

// Setting describes a SET/RESET/SHOW statement's target parameter name
// and, for SET, the literal text of its single value argument.
type Setting struct {
	Kind  SettingKind
	Name  string
	Value string
	// IsDefault is true for "SET x TO DEFAULT" / "RESET x".
	IsDefault bool
}

// ExtractSetting extracts the parameter name/value from stmt. Only meaningful
// when stmt.Category is CategorySetting.
func ExtractSetting(stmt Statement) (Setting, bool) {
	if stmt.Tree == nil || len(stmt.Tree.Stmts) == 0 {
		return Setting{}, false
	}
	node := stmt.Tree.Stmts[0].Stmt
	if node == nil {
		return Setting{}, false
	}

	switch n := node.Node.(type) {
	case *pg_query.Node_VariableSetStmt:
		return extractVariableSet(n.VariableSetStmt), true
	case *pg_query.Node_VariableShowStmt:
		return Setting{Kind: SettingShow, Name: n.VariableShowStmt.Name}, true
	default:
		return Setting{}, false
	}
}

func extractVariableSet(stmt *pg_query.VariableSetStmt) Setting {
	if stmt == nil {
		return Setting{}
	}

	s := Setting{Name: stmt.Name}
	switch stmt.Kind {
	case pg_query.VariableSetKind_VAR_RESET, pg_query.VariableSetKind_VAR_RESET_ALL:
		s.Kind = SettingReset
		s.IsDefault = true
		return s
	default:
		s.Kind = SettingSet
	}

	if len(stmt.Args) == 0 {
		s.IsDefault = true
		return s
	}

	switch arg := stmt.Args[0].Node.(type) {
	case *pg_query.Node_AConst:
		s.Value = aConstText(arg.AConst)
	case *pg_query.Node_ColumnRef:
		// "SET x TO DEFAULT" parses DEFAULT as a bare identifier reference.
		if len(arg.ColumnRef.Fields) == 1 {
			if str, ok := arg.ColumnRef.Fields[0].Node.(*pg_query.Node_String_); ok && str.String_.Sval == "default" {
				s.IsDefault = true
			}
		}
	}
	return s
}

func aConstText(c *pg_query.A_Const) string {
	if c == nil {
		return ""
	}
	switch v := c.Val.(type) {
	case *pg_query.A_Const_Sval:
		return v.Sval.Sval
	case *pg_query.A_Const_Ival:
		return strconv.FormatInt(int64(v.Ival.Ival), 10)
	case *pg_query.A_Const_Fval:
		return v.Fval.Fval
	case *pg_query.A_Const_Boolval:
		if v.Boolval.Boolval {
			return "true"
		}
		return "false"
	default:
		return ""
	}
}
