package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaydb/pgwire/classifier"
	"github.com/relaydb/pgwire/codes"
	pgerror "github.com/relaydb/pgwire/errors"
)

func TestStatementRegistryAnonymousSlotOverwrites(t *testing.T) {
	t.Parallel()

	reg := NewStatementRegistry()
	first := &PreparedStatement{Name: "", Statement: classifier.Statement{SQL: "SELECT 1"}}
	second := &PreparedStatement{Name: "", Statement: classifier.Statement{SQL: "SELECT 2"}}

	require.NoError(t, reg.Store(first))
	require.NoError(t, reg.Store(second))

	got, ok := reg.Get("")
	require.True(t, ok)
	assert.Equal(t, "SELECT 2", got.Statement.SQL)
}

func TestStatementRegistryDuplicateNameRejected(t *testing.T) {
	t.Parallel()

	reg := NewStatementRegistry()
	require.NoError(t, reg.Store(&PreparedStatement{Name: "s1", Statement: classifier.Statement{SQL: "SELECT 1"}}))

	err := reg.Store(&PreparedStatement{Name: "s1", Statement: classifier.Statement{SQL: "SELECT 2"}})
	require.Error(t, err)
	assert.Equal(t, codes.DuplicatePreparedStatement, pgerror.GetCode(err))

	got, ok := reg.Get("s1")
	require.True(t, ok)
	assert.Equal(t, "SELECT 1", got.Statement.SQL, "rejected Store must not overwrite the existing entry")
}

func TestStatementRegistryCloseAndUnknown(t *testing.T) {
	t.Parallel()

	reg := NewStatementRegistry()
	require.NoError(t, reg.Store(&PreparedStatement{Name: "s1"}))

	reg.Close("s1")
	_, ok := reg.Get("s1")
	assert.False(t, ok)

	// Closing an unknown name is a no-op, not an error.
	reg.Close("does-not-exist")

	_, ok = reg.Get("")
	assert.False(t, ok)
}

func TestStatementRegistryCloseAll(t *testing.T) {
	t.Parallel()

	reg := NewStatementRegistry()
	require.NoError(t, reg.Store(&PreparedStatement{Name: ""}))
	require.NoError(t, reg.Store(&PreparedStatement{Name: "s1"}))

	reg.CloseAll()
	_, ok := reg.Get("")
	assert.False(t, ok)
	_, ok = reg.Get("s1")
	assert.False(t, ok)
}

func TestPortalRegistryAnonymousSlotOverwrites(t *testing.T) {
	t.Parallel()

	reg := NewPortalRegistry()
	require.NoError(t, reg.Store(&Portal{Name: "", tag: "SELECT"}))
	require.NoError(t, reg.Store(&Portal{Name: "", tag: "INSERT"}))

	got, ok := reg.Get("")
	require.True(t, ok)
	assert.Equal(t, "INSERT", got.tag)
}

func TestPortalRegistryDuplicateNameRejected(t *testing.T) {
	t.Parallel()

	reg := NewPortalRegistry()
	require.NoError(t, reg.Store(&Portal{Name: "p1"}))

	err := reg.Store(&Portal{Name: "p1"})
	require.Error(t, err)
	assert.Equal(t, codes.DuplicateCursor, pgerror.GetCode(err))
}

func TestPortalRegistryInvalidateUnnamedKeepsNamed(t *testing.T) {
	t.Parallel()

	reg := NewPortalRegistry()
	require.NoError(t, reg.Store(&Portal{Name: ""}))
	require.NoError(t, reg.Store(&Portal{Name: "p1"}))

	reg.InvalidateUnnamed()

	_, ok := reg.Get("")
	assert.False(t, ok, "Sync must invalidate the unnamed portal")
	_, ok = reg.Get("p1")
	assert.True(t, ok, "named portals survive Sync")
}

func TestPortalNextSuspendsAtMaxRows(t *testing.T) {
	t.Parallel()

	p := &Portal{}
	p.bind([][]any{{1}, {2}, {3}}, true, "SELECT", 0)

	rows, suspended := p.Next(2)
	assert.True(t, suspended)
	assert.Equal(t, [][]any{{1}, {2}}, rows)
	assert.False(t, p.Exhausted())

	rows, suspended = p.Next(2)
	assert.False(t, suspended)
	assert.Equal(t, [][]any{{3}}, rows)
	assert.True(t, p.Exhausted())
}

func TestPortalNextZeroMeansUnlimited(t *testing.T) {
	t.Parallel()

	p := &Portal{}
	p.bind([][]any{{1}, {2}, {3}}, true, "SELECT", 0)

	rows, suspended := p.Next(0)
	assert.False(t, suspended)
	assert.Len(t, rows, 3)
	assert.True(t, p.Exhausted())
}
