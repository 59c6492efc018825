package codec

import (
	"encoding/binary"
	"math"
	"strings"
	"time"

	"github.com/lib/pq/oid"
)

// pgEpoch is the zero point of PostgreSQL's binary date/time encodings.
var pgEpoch = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)

const (
	dateTextLayout       = "2006-01-02"
	timestampTextLayout  = "2006-01-02 15:04:05.999999999"
	timestamptzOutLayout = "2006-01-02 15:04:05.999999999-07"
)

type dateCodec struct{}

func newDateCodec() Codec { return dateCodec{} }

func (dateCodec) OID() oid.Oid { return oid.T_date }

// DecodeText accepts ISO-style "YYYY-MM-DD" regardless of the session's
// configured DateStyle. EncodeText likewise always emits the ISO style;
// neither direction reads DateStyle.
func (c dateCodec) DecodeText(data []byte, _ Settings) (any, error) {
	t, err := time.Parse(dateTextLayout, strings.TrimSpace(string(data)))
	if err != nil {
		return nil, NewInvalidDatetimeFormat(c.OID(), string(data))
	}
	return t, nil
}

func (c dateCodec) DecodeBinary(data []byte, _ Settings) (any, error) {
	if len(data) != 4 {
		return nil, NewInvalidBinaryRepresentation(c.OID(), "expected 4 bytes")
	}
	days := int32(binary.BigEndian.Uint32(data))
	return pgEpoch.AddDate(0, 0, int(days)), nil
}

func (c dateCodec) EncodeText(v any, _ Settings) ([]byte, error) {
	return []byte(v.(time.Time).Format(dateTextLayout)), nil
}

func (c dateCodec) EncodeBinary(v any, _ Settings) ([]byte, error) {
	t := v.(time.Time)
	// Unix seconds rather than t.Sub: a Duration saturates about 292 years
	// from the epoch, which would silently clamp far dates.
	days := (t.Unix() - pgEpoch.Unix()) / 86400
	if days > math.MaxInt32 || days < math.MinInt32 {
		return nil, NewDatetimeFieldOverflow(c.OID())
	}
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, uint32(int32(days)))
	return buf, nil
}

type timestampCodec struct {
	oidVal oid.Oid
	zoned  bool
}

func newTimestampCodec() Codec { return timestampCodec{oidVal: oid.T_timestamp} }
func newTimestamptzCodec() Codec {
	return timestampCodec{oidVal: oid.T_timestamptz, zoned: true}
}

func (c timestampCodec) OID() oid.Oid { return c.oidVal }

func (c timestampCodec) DecodeText(data []byte, set Settings) (any, error) {
	s := strings.TrimSpace(string(data))
	if c.zoned {
		if t, err := time.Parse(timestamptzOutLayout, s); err == nil {
			return t.UTC(), nil
		}
		if t, err := time.Parse(time.RFC3339Nano, strings.Replace(s, " ", "T", 1)); err == nil {
			return t.UTC(), nil
		}
		// No explicit offset: interpret in the session time zone.
		t, err := time.ParseInLocation(timestampTextLayout, s, set.TimeZone)
		if err != nil {
			return nil, NewInvalidDatetimeFormat(c.OID(), s)
		}
		return t.UTC(), nil
	}
	t, err := time.Parse(timestampTextLayout, s)
	if err != nil {
		return nil, NewInvalidDatetimeFormat(c.OID(), s)
	}
	return t, nil
}

func (c timestampCodec) DecodeBinary(data []byte, _ Settings) (any, error) {
	if len(data) != 8 {
		return nil, NewInvalidBinaryRepresentation(c.OID(), "expected 8 bytes")
	}
	micros := int64(binary.BigEndian.Uint64(data))
	if micros > math.MaxInt64/int64(time.Microsecond) || micros < math.MinInt64/int64(time.Microsecond) {
		return nil, NewDatetimeFieldOverflow(c.OID())
	}
	t := pgEpoch.Add(time.Duration(micros) * time.Microsecond)
	if c.zoned {
		return t.UTC(), nil
	}
	return t, nil
}

func (c timestampCodec) EncodeText(v any, set Settings) ([]byte, error) {
	t := v.(time.Time)
	if c.zoned {
		return []byte(t.In(set.TimeZone).Format(timestamptzOutLayout)), nil
	}
	return []byte(t.Format(timestampTextLayout)), nil
}

func (c timestampCodec) EncodeBinary(v any, _ Settings) ([]byte, error) {
	t := v.(time.Time)
	d := t.Sub(pgEpoch)
	// t.Sub saturates instead of overflowing; a saturated result means t
	// lies outside the range a Duration can express.
	if d == time.Duration(math.MaxInt64) || d == time.Duration(math.MinInt64) {
		return nil, NewDatetimeFieldOverflow(c.OID())
	}
	micros := d.Nanoseconds() / int64(time.Microsecond)
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(micros))
	return buf, nil
}
