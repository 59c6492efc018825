package codec

import (
	"testing"

	"github.com/lib/pq/oid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIntArrayTextRoundTrip(t *testing.T) {
	t.Parallel()

	set := DefaultSettings()
	c := newArrayCodec(oid.T_int4array, newInt4Codec(), oid.T_int4)
	want := []any{int32(1), int32(2), nil, int32(-7)}

	text, err := c.EncodeText(want, set)
	require.NoError(t, err)
	assert.Equal(t, "{1,2,NULL,-7}", string(text))

	got, err := c.DecodeText(text, set)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestTextArrayQuotingRoundTrip(t *testing.T) {
	t.Parallel()

	set := DefaultSettings()
	c := newArrayCodec(oid.T_textarray, newTextCodec(oid.T_text), oid.T_text)
	want := []any{"hello", "has,comma", `has "quote"`, "", "NULL"}

	text, err := c.EncodeText(want, set)
	require.NoError(t, err)

	got, err := c.DecodeText(text, set)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestIntArrayBinaryRoundTrip(t *testing.T) {
	t.Parallel()

	set := DefaultSettings()
	c := newArrayCodec(oid.T_int4array, newInt4Codec(), oid.T_int4)
	want := []any{int32(10), nil, int32(30)}

	bin, err := c.EncodeBinary(want, set)
	require.NoError(t, err)

	got, err := c.DecodeBinary(bin, set)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestEmptyArrayBinaryRoundTrip(t *testing.T) {
	t.Parallel()

	set := DefaultSettings()
	c := newArrayCodec(oid.T_int4array, newInt4Codec(), oid.T_int4)

	bin, err := c.EncodeBinary([]any{}, set)
	require.NoError(t, err)

	got, err := c.DecodeBinary(bin, set)
	require.NoError(t, err)
	assert.Equal(t, []any{}, got)
}
