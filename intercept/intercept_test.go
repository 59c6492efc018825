package intercept

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookupIsCaseAndWhitespaceInsensitive(t *testing.T) {
	t.Parallel()

	e, ok := Lookup("  SELECT   version()  ")
	require.True(t, ok)
	assert.Equal(t, "SELECT 1", e.Tag)
	require.Len(t, e.Rows, 1)
}

func TestLookupMiss(t *testing.T) {
	t.Parallel()

	_, ok := Lookup("select * from orders")
	assert.False(t, ok)
}

func TestEmptyResultEntriesReportZeroRows(t *testing.T) {
	t.Parallel()

	e, ok := Lookup("select oid, typname from pg_type")
	require.True(t, ok)
	assert.Empty(t, e.Rows)
	assert.Equal(t, "SELECT 0", e.Tag)
}
