package codec

import (
	"testing"

	"github.com/lib/pq/oid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONEncodeTextCanonicalizesSpacing(t *testing.T) {
	t.Parallel()

	c := newJSONCodec(oid.T_json)
	text, err := c.EncodeText([]byte(`{"a":1,"b":[1,2,3]}`), DefaultSettings())
	require.NoError(t, err)
	assert.Equal(t, `{"a": 1, "b": [1, 2, 3]}`, string(text))
}

func TestJSONBBinaryHasVersionByte(t *testing.T) {
	t.Parallel()

	set := DefaultSettings()
	c := newJSONCodec(oid.T_jsonb)
	bin, err := c.EncodeBinary([]byte(`{"a":1}`), set)
	require.NoError(t, err)
	require.NotEmpty(t, bin)
	assert.Equal(t, byte(1), bin[0])

	got, err := c.DecodeBinary(bin, set)
	require.NoError(t, err)
	assert.Equal(t, `{"a": 1}`, string(got.([]byte)))
}

func TestJSONDecodeTextPassesThrough(t *testing.T) {
	t.Parallel()

	c := newJSONCodec(oid.T_json)
	got, err := c.DecodeText([]byte(`{"raw":true}`), DefaultSettings())
	require.NoError(t, err)
	assert.Equal(t, `{"raw":true}`, string(got.([]byte)))
}
