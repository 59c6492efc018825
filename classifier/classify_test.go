package classifier

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyCategories(t *testing.T) {
	t.Parallel()

	cases := []struct {
		sql  string
		want Category
	}{
		{"SELECT 1", CategorySelect},
		{"INSERT INTO t (a) VALUES (1)", CategoryDML},
		{"UPDATE t SET a = 1", CategoryDML},
		{"DELETE FROM t", CategoryDML},
		{"CREATE TABLE t (a int)", CategoryDDL},
		{"ALTER TABLE t ADD COLUMN b int", CategoryDDL},
		{"DROP TABLE t", CategoryDDL},
		{"COPY t FROM STDIN", CategoryCopy},
		{"BEGIN", CategoryTransaction},
		{"COMMIT", CategoryTransaction},
		{"SET search_path TO public", CategorySetting},
		{"SHOW search_path", CategorySetting},
		{"PREPARE p AS SELECT 1", CategoryPrepared},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.sql, func(t *testing.T) {
			t.Parallel()

			stmt, err := Classify(tc.sql)
			require.NoError(t, err)
			assert.Equal(t, tc.want, stmt.Category, "sql: %s", tc.sql)
		})
	}
}

func TestClassifyFallsBackToLocalIntercept(t *testing.T) {
	t.Parallel()

	stmt, err := Classify("select version()")
	require.NoError(t, err)
	assert.Equal(t, CategoryLocalIntercept, stmt.Category)
	require.NotNil(t, stmt.Intercept)
	assert.Equal(t, "SELECT 1", stmt.Intercept.Tag)
}

func TestClassifySyntaxErrorWithoutInterceptMatch(t *testing.T) {
	t.Parallel()

	_, err := Classify("SELEKT totally not sql (")
	require.Error(t, err)
}

func TestStatementsSplitsMultipleStatements(t *testing.T) {
	t.Parallel()

	stmts, err := Statements("SELECT 1; SELECT 2")
	require.NoError(t, err)
	require.Len(t, stmts, 2)
	assert.Equal(t, CategorySelect, stmts[0].Category)
	assert.Equal(t, CategorySelect, stmts[1].Category)
}

func TestNormalizeText(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "select 1", NormalizeText("  select   1  "))
}
