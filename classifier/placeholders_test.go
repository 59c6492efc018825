package classifier

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePlaceholdersSortedDeduplicated(t *testing.T) {
	t.Parallel()

	_, params, err := ParsePlaceholders("SELECT * FROM t WHERE a = $2 AND b = $1 OR c = $2")
	require.NoError(t, err)
	assert.Equal(t, []int32{1, 2}, params)
}

func TestParsePlaceholdersNoParams(t *testing.T) {
	t.Parallel()

	_, params, err := ParsePlaceholders("SELECT 1")
	require.NoError(t, err)
	assert.Empty(t, params)
}

func TestParsePlaceholdersRejectsMultipleStatements(t *testing.T) {
	t.Parallel()

	_, _, err := ParsePlaceholders("SELECT 1; SELECT 2")
	require.Error(t, err)
}

func TestParsePlaceholdersFindsNestedParamRef(t *testing.T) {
	t.Parallel()

	_, params, err := ParsePlaceholders(
		"SELECT * FROM t WHERE a IN (SELECT b FROM u WHERE c = $1) AND d = $2")
	require.NoError(t, err)
	assert.Equal(t, []int32{1, 2}, params)
}
