package codec

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNumericTextRoundTrip(t *testing.T) {
	t.Parallel()

	set := DefaultSettings()
	c := newNumericCodec()

	for _, s := range []string{"0", "1", "-1", "123.456", "-0.0001", "10000", "99999.99999", "0.00"} {
		s := s
		t.Run(s, func(t *testing.T) {
			t.Parallel()

			d, err := decimal.NewFromString(s)
			require.NoError(t, err)

			text, err := c.EncodeText(d, set)
			require.NoError(t, err)

			got, err := c.DecodeText(text, set)
			require.NoError(t, err)
			assert.True(t, d.Equal(got.(decimal.Decimal)), "got %s, want %s", got, d)
		})
	}
}

func TestNumericBinaryRoundTrip(t *testing.T) {
	t.Parallel()

	set := DefaultSettings()
	c := newNumericCodec()

	for _, s := range []string{
		"0", "1", "-1", "123.456", "-0.0001", "10000",
		"99999.99999", "0.00", "12345678901234567890.123456789",
		"0.1", "100", "-100.5", "3.14159265358979",
	} {
		s := s
		t.Run(s, func(t *testing.T) {
			t.Parallel()

			d, err := decimal.NewFromString(s)
			require.NoError(t, err)

			bin, err := c.EncodeBinary(d, set)
			require.NoError(t, err)
			require.True(t, len(bin) >= 8)

			got, err := c.DecodeBinary(bin, set)
			require.NoError(t, err)
			assert.True(t, d.Equal(got.(decimal.Decimal)), "got %s, want %s", got, d)
		})
	}
}

func TestNumericBinaryRejectsNaN(t *testing.T) {
	t.Parallel()

	c := newNumericCodec()
	nan := []byte{0, 0, 0, 0, 0xC0, 0, 0, 0}
	_, err := c.DecodeBinary(nan, DefaultSettings())
	require.Error(t, err)
}
