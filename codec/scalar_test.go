package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScalarTextRoundTrip(t *testing.T) {
	t.Parallel()

	set := DefaultSettings()

	cases := []struct {
		name  string
		codec Codec
		value any
	}{
		{"bool true", newBoolCodec(), true},
		{"bool false", newBoolCodec(), false},
		{"int2", newInt2Codec(), int16(-1234)},
		{"int4", newInt4Codec(), int32(-123456)},
		{"int8", newInt8Codec(), int64(-123456789012)},
		{"float4", newFloat4Codec(), float32(3.5)},
		{"float8", newFloat8Codec(), float64(-2.5e10)},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			text, err := tc.codec.EncodeText(tc.value, set)
			require.NoError(t, err)

			got, err := tc.codec.DecodeText(text, set)
			require.NoError(t, err)
			assert.Equal(t, tc.value, got)
		})
	}
}

func TestScalarBinaryRoundTrip(t *testing.T) {
	t.Parallel()

	set := DefaultSettings()

	cases := []struct {
		name  string
		codec Codec
		value any
	}{
		{"bool", newBoolCodec(), true},
		{"int2", newInt2Codec(), int16(30000)},
		{"int4", newInt4Codec(), int32(2000000000)},
		{"int8", newInt8Codec(), int64(9000000000000000000)},
		{"float4", newFloat4Codec(), float32(1.25)},
		{"float8", newFloat8Codec(), float64(1.25e100)},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			bin, err := tc.codec.EncodeBinary(tc.value, set)
			require.NoError(t, err)

			got, err := tc.codec.DecodeBinary(bin, set)
			require.NoError(t, err)
			assert.Equal(t, tc.value, got)
		})
	}
}

func TestInt4DecodeTextInvalid(t *testing.T) {
	t.Parallel()

	_, err := newInt4Codec().DecodeText([]byte("not-a-number"), DefaultSettings())
	require.Error(t, err)
}

func TestBoolDecodeBinaryWrongLength(t *testing.T) {
	t.Parallel()

	_, err := newBoolCodec().DecodeBinary([]byte{0, 0}, DefaultSettings())
	require.Error(t, err)
}
