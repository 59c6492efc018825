package classifier

import (
	pg_query "github.com/pganalyze/pg_query_go/v6"
)

// Rewrite applies the fixed set of statement-shape rewrites this module
// needs before handing a statement's SQL text to the backend driver:
// stripping a top-level "FOR UPDATE"/"FOR SHARE" locking clause (the
// backend driver contract has no notion of row locks) and substituting
// any embedded pg_catalog.version()/version() call with the module's
// canned version string, so queries that reference it as one column
// among several (rather than the whole statement, which the
// local-intercept table already answers) still resolve. The mutated tree
// is re-rendered to SQL via pg_query.Deparse.
func Rewrite(tree *pg_query.ParseResult, versionString string) (string, error) {
	for _, raw := range tree.Stmts {
		stmt := raw.Stmt
		if stmt == nil {
			continue
		}
		if sel, ok := stmt.Node.(*pg_query.Node_SelectStmt); ok {
			stripForUpdate(sel.SelectStmt)
			substituteVersionCalls(sel.SelectStmt, versionString)
		}
	}
	return pg_query.Deparse(tree)
}

// stripForUpdate drops a top-level row-locking clause from a SELECT.
func stripForUpdate(sel *pg_query.SelectStmt) {
	if sel == nil {
		return
	}
	sel.LockingClause = nil
}

// substituteVersionCalls replaces any version()/pg_catalog.version() call
// in sel's target list with a string literal, in place.
func substituteVersionCalls(sel *pg_query.SelectStmt, versionString string) {
	if sel == nil {
		return
	}
	for _, target := range sel.TargetList {
		rt, ok := target.Node.(*pg_query.Node_ResTarget)
		if !ok || rt.ResTarget.Val == nil {
			continue
		}
		call, ok := rt.ResTarget.Val.Node.(*pg_query.Node_FuncCall)
		if !ok || !isVersionCall(call.FuncCall) {
			continue
		}
		rt.ResTarget.Val = stringLiteralNode(versionString)
	}
}

func isVersionCall(call *pg_query.FuncCall) bool {
	if call == nil || len(call.Funcname) == 0 {
		return false
	}
	last := call.Funcname[len(call.Funcname)-1]
	name, ok := last.Node.(*pg_query.Node_String_)
	return ok && name.String_.Sval == "version"
}

func stringLiteralNode(s string) *pg_query.Node {
	return &pg_query.Node{
		Node: &pg_query.Node_AConst{
			AConst: &pg_query.A_Const{
				Val: &pg_query.A_Const_Sval{Sval: &pg_query.String{Sval: s}},
			},
		},
	}
}
