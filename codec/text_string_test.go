package codec

import (
	"testing"

	"github.com/google/uuid"
	"github.com/lib/pq/oid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTextCodecRoundTrip(t *testing.T) {
	t.Parallel()

	set := DefaultSettings()
	c := newTextCodec(oid.T_text)

	for _, s := range []string{"", "hello", "with 'quotes' and \"stuff\"", "unicode: héllo"} {
		text, err := c.EncodeText(s, set)
		require.NoError(t, err)
		got, err := c.DecodeText(text, set)
		require.NoError(t, err)
		assert.Equal(t, s, got)
	}
}

func TestByteaTextRoundTrip(t *testing.T) {
	t.Parallel()

	set := DefaultSettings()
	c := newByteaCodec()
	want := []byte{0x00, 0xDE, 0xAD, 0xBE, 0xEF, 0xFF}

	text, err := c.EncodeText(want, set)
	require.NoError(t, err)
	assert.Equal(t, `\x00deadbeefff`, string(text))

	got, err := c.DecodeText(text, set)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestByteaLegacyEscapeDecode(t *testing.T) {
	t.Parallel()

	c := newByteaCodec()
	got, err := c.DecodeText([]byte(`\000\001abc`), DefaultSettings())
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 1, 'a', 'b', 'c'}, got)
}

func TestByteaBinaryRoundTrip(t *testing.T) {
	t.Parallel()

	set := DefaultSettings()
	c := newByteaCodec()
	want := []byte{1, 2, 3, 4, 5}

	bin, err := c.EncodeBinary(want, set)
	require.NoError(t, err)
	got, err := c.DecodeBinary(bin, set)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestUUIDRoundTrip(t *testing.T) {
	t.Parallel()

	set := DefaultSettings()
	c := newUUIDCodec()
	want := uuid.New()

	text, err := c.EncodeText(want, set)
	require.NoError(t, err)
	got, err := c.DecodeText(text, set)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	bin, err := c.EncodeBinary(want, set)
	require.NoError(t, err)
	require.Len(t, bin, 16)
	got2, err := c.DecodeBinary(bin, set)
	require.NoError(t, err)
	assert.Equal(t, want, got2)
}
