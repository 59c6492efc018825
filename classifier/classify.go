// Package classifier categorizes SQL text using the compiled PostgreSQL
// grammar (pganalyze/pg_query_go) instead of keyword sniffing, and
// extracts or rewrites statements built on the same parse tree.
package classifier

import (
	"fmt"
	"strings"

	pg_query "github.com/pganalyze/pg_query_go/v6"

	"github.com/relaydb/pgwire/codes"
	pgerror "github.com/relaydb/pgwire/errors"
	"github.com/relaydb/pgwire/intercept"
)

// Category is the coarse statement kind the session engine dispatches on.
type Category int

const (
	CategoryUnknown Category = iota
	CategorySelect
	CategoryDML
	CategoryDDL
	CategoryCopy
	CategoryTransaction
	CategorySetting
	CategoryPrepared
	CategoryLocalIntercept
)

func (c Category) String() string {
	switch c {
	case CategorySelect:
		return "SELECT"
	case CategoryDML:
		return "DML"
	case CategoryDDL:
		return "DDL"
	case CategoryCopy:
		return "COPY"
	case CategoryTransaction:
		return "TRANSACTION"
	case CategorySetting:
		return "SETTING"
	case CategoryPrepared:
		return "PREPARED"
	case CategoryLocalIntercept:
		return "LOCAL_INTERCEPT"
	default:
		return "UNKNOWN"
	}
}

// Statement is the result of classifying a single piece of SQL text.
type Statement struct {
	SQL       string
	Category  Category
	Tree      *pg_query.ParseResult // nil for CategoryLocalIntercept
	Intercept *intercept.Entry      // non-nil only for CategoryLocalIntercept
}

// Classify parses sql with the PostgreSQL grammar and assigns a Category.
// When the grammar rejects the text outright, the local-intercept table is
// consulted (by whitespace-normalized text) before giving up with a parse
// error: this keeps driver-handshake strings that are not standard SQL
// (and never will parse) from being reported as syntax errors.
func Classify(sql string) (Statement, error) {
	tree, err := pg_query.Parse(sql)
	if err != nil {
		if entry, ok := intercept.Lookup(sql); ok {
			return Statement{SQL: sql, Category: CategoryLocalIntercept, Intercept: entry}, nil
		}
		return Statement{}, pgerror.WithCode(fmt.Errorf("syntax error: %w", err), codes.Syntax)
	}

	if entry, ok := intercept.Lookup(sql); ok {
		return Statement{SQL: sql, Category: CategoryLocalIntercept, Tree: tree, Intercept: entry}, nil
	}

	if len(tree.Stmts) == 0 {
		return Statement{SQL: sql, Category: CategoryUnknown, Tree: tree}, nil
	}

	stmt := tree.Stmts[0].Stmt
	return Statement{SQL: sql, Category: categorize(stmt), Tree: tree}, nil
}

// Statements splits sql (as the simple Query protocol allows) into its
// top-level statements and classifies each independently.
func Statements(sql string) ([]Statement, error) {
	tree, err := pg_query.Parse(sql)
	if err != nil {
		if entry, ok := intercept.Lookup(sql); ok {
			return []Statement{{SQL: sql, Category: CategoryLocalIntercept, Intercept: entry}}, nil
		}
		return nil, pgerror.WithCode(fmt.Errorf("syntax error: %w", err), codes.Syntax)
	}
	if len(tree.Stmts) == 0 {
		return nil, nil
	}

	out := make([]Statement, 0, len(tree.Stmts))
	for _, raw := range tree.Stmts {
		text, err := pg_query.Deparse(&pg_query.ParseResult{Stmts: []*pg_query.RawStmt{raw}})
		if err != nil {
			text = sql
		}
		out = append(out, Statement{
			SQL:      text,
			Category: categorize(raw.Stmt),
			Tree:     &pg_query.ParseResult{Stmts: []*pg_query.RawStmt{raw}},
		})
	}
	return out, nil
}

func categorize(stmt *pg_query.Node) Category {
	if stmt == nil {
		return CategoryUnknown
	}
	switch stmt.Node.(type) {
	case *pg_query.Node_SelectStmt:
		return CategorySelect
	case *pg_query.Node_InsertStmt, *pg_query.Node_UpdateStmt, *pg_query.Node_DeleteStmt, *pg_query.Node_MergeStmt:
		return CategoryDML
	case *pg_query.Node_CreateStmt, *pg_query.Node_AlterTableStmt, *pg_query.Node_DropStmt,
		*pg_query.Node_IndexStmt, *pg_query.Node_CreateSchemaStmt, *pg_query.Node_RenameStmt,
		*pg_query.Node_TruncateStmt:
		return CategoryDDL
	case *pg_query.Node_CopyStmt:
		return CategoryCopy
	case *pg_query.Node_TransactionStmt:
		return CategoryTransaction
	case *pg_query.Node_VariableSetStmt, *pg_query.Node_VariableShowStmt:
		return CategorySetting
	case *pg_query.Node_PrepareStmt, *pg_query.Node_ExecuteStmt, *pg_query.Node_DeallocateStmt:
		return CategoryPrepared
	default:
		return CategoryUnknown
	}
}

// NormalizeText collapses runs of whitespace and trims the result, the
// same normalization the local-intercept table keys on.
func NormalizeText(sql string) string {
	return strings.Join(strings.Fields(sql), " ")
}

// DMLVerb reports the specific DML verb of stmt (INSERT/UPDATE/DELETE/
// MERGE), for CommandComplete tag formatting. Only meaningful when
// stmt.Category is CategoryDML.
func DMLVerb(stmt Statement) string {
	if stmt.Tree == nil || len(stmt.Tree.Stmts) == 0 {
		return ""
	}
	node := stmt.Tree.Stmts[0].Stmt
	if node == nil {
		return ""
	}
	switch node.Node.(type) {
	case *pg_query.Node_InsertStmt:
		return "INSERT"
	case *pg_query.Node_UpdateStmt:
		return "UPDATE"
	case *pg_query.Node_DeleteStmt:
		return "DELETE"
	case *pg_query.Node_MergeStmt:
		return "MERGE"
	default:
		return ""
	}
}

// TransactionKind is the specific transaction-control operation a
// CategoryTransaction statement requests.
type TransactionKind int

const (
	TxnUnknown TransactionKind = iota
	TxnBegin
	TxnCommit
	TxnRollback
	TxnSavepoint
	TxnRelease
	TxnRollbackTo
)

// Transaction reports the TransactionKind of stmt and, for SAVEPOINT/
// RELEASE/ROLLBACK TO, the savepoint name. Only meaningful when
// stmt.Category is CategoryTransaction.
func Transaction(stmt Statement) (TransactionKind, string) {
	if stmt.Tree == nil || len(stmt.Tree.Stmts) == 0 {
		return TxnUnknown, ""
	}
	node := stmt.Tree.Stmts[0].Stmt
	if node == nil {
		return TxnUnknown, ""
	}
	txn, ok := node.Node.(*pg_query.Node_TransactionStmt)
	if !ok || txn.TransactionStmt == nil {
		return TxnUnknown, ""
	}

	name := txn.TransactionStmt.SavepointName
	switch txn.TransactionStmt.Kind {
	case pg_query.TransactionStmtKind_TRANS_STMT_BEGIN, pg_query.TransactionStmtKind_TRANS_STMT_START:
		return TxnBegin, name
	case pg_query.TransactionStmtKind_TRANS_STMT_COMMIT:
		return TxnCommit, name
	case pg_query.TransactionStmtKind_TRANS_STMT_ROLLBACK:
		return TxnRollback, name
	case pg_query.TransactionStmtKind_TRANS_STMT_SAVEPOINT:
		return TxnSavepoint, name
	case pg_query.TransactionStmtKind_TRANS_STMT_RELEASE:
		return TxnRelease, name
	case pg_query.TransactionStmtKind_TRANS_STMT_ROLLBACK_TO:
		return TxnRollbackTo, name
	default:
		return TxnUnknown, name
	}
}
