package codec

import (
	"encoding/binary"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaydb/pgwire/codes"
	pgerror "github.com/relaydb/pgwire/errors"
)

func TestDateRoundTrip(t *testing.T) {
	t.Parallel()

	set := DefaultSettings()
	c := newDateCodec()
	want := time.Date(2024, 3, 17, 0, 0, 0, 0, time.UTC)

	text, err := c.EncodeText(want, set)
	require.NoError(t, err)
	assert.Equal(t, "2024-03-17", string(text))

	got, err := c.DecodeText(text, set)
	require.NoError(t, err)
	assert.True(t, want.Equal(got.(time.Time)))

	bin, err := c.EncodeBinary(want, set)
	require.NoError(t, err)
	require.Len(t, bin, 4)

	got2, err := c.DecodeBinary(bin, set)
	require.NoError(t, err)
	assert.True(t, want.Equal(got2.(time.Time)))
}

func TestTimestampRoundTrip(t *testing.T) {
	t.Parallel()

	set := DefaultSettings()
	c := newTimestampCodec()
	want := time.Date(2024, 3, 17, 13, 45, 30, 500000000, time.UTC)

	bin, err := c.EncodeBinary(want, set)
	require.NoError(t, err)

	got, err := c.DecodeBinary(bin, set)
	require.NoError(t, err)
	assert.True(t, want.Equal(got.(time.Time)))
}

func TestTimestampDecodeTextAcceptsISORegardlessOfDateStyle(t *testing.T) {
	t.Parallel()

	set := Settings{DateStyle: "Postgres, MDY", TimeZone: time.UTC}
	c := newTimestampCodec()

	got, err := c.DecodeText([]byte("2024-03-17 13:45:30"), set)
	require.NoError(t, err)
	want := time.Date(2024, 3, 17, 13, 45, 30, 0, time.UTC)
	assert.True(t, want.Equal(got.(time.Time)))
}

func TestTimestamptzEncodeTextUsesSessionZone(t *testing.T) {
	t.Parallel()

	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	set := Settings{DateStyle: "ISO, MDY", TimeZone: loc}
	c := newTimestamptzCodec()

	want := time.Date(2024, 3, 17, 13, 45, 30, 0, time.UTC)
	text, err := c.EncodeText(want, set)
	require.NoError(t, err)

	got, err := c.DecodeText(text, set)
	require.NoError(t, err)
	assert.True(t, want.Equal(got.(time.Time)))
}

func TestDateDecodeTextInvalid(t *testing.T) {
	t.Parallel()

	_, err := newDateCodec().DecodeText([]byte("not-a-date"), DefaultSettings())
	require.Error(t, err)
}

// TestTimestampDecodeBinaryRejectsOverflow mirrors EncodeBinary's range
// check: a wire value whose microsecond count overflows the int64
// nanosecond multiplication must be rejected rather than silently
// wrapping into a bogus time.Time.
func TestTimestampDecodeBinaryRejectsOverflow(t *testing.T) {
	t.Parallel()

	set := DefaultSettings()
	c := newTimestampCodec()

	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(int64(math.MaxInt64)))

	_, err := c.DecodeBinary(buf, set)
	require.Error(t, err)
	assert.Equal(t, codes.DatetimeFieldOverflow, pgerror.GetCode(err))
}
