package codec

import (
	"encoding/binary"
	"math"
	"strconv"
	"strings"

	"github.com/lib/pq/oid"
)

type boolCodec struct{}

func newBoolCodec() Codec { return boolCodec{} }

func (boolCodec) OID() oid.Oid { return oid.T_bool }

func (c boolCodec) DecodeText(data []byte, _ Settings) (any, error) {
	switch strings.TrimSpace(string(data)) {
	case "t", "true", "TRUE", "True", "1", "yes", "YES", "y", "Y":
		return true, nil
	case "f", "false", "FALSE", "False", "0", "no", "NO", "n", "N":
		return false, nil
	default:
		return nil, NewInvalidTextRepresentation(c.OID(), data)
	}
}

func (c boolCodec) DecodeBinary(data []byte, _ Settings) (any, error) {
	if len(data) != 1 {
		return nil, NewInvalidBinaryRepresentation(c.OID(), "expected 1 byte")
	}
	return data[0] != 0, nil
}

func (boolCodec) EncodeText(v any, _ Settings) ([]byte, error) {
	if v.(bool) {
		return []byte("t"), nil
	}
	return []byte("f"), nil
}

func (boolCodec) EncodeBinary(v any, _ Settings) ([]byte, error) {
	if v.(bool) {
		return []byte{1}, nil
	}
	return []byte{0}, nil
}

type int2Codec struct{}

func newInt2Codec() Codec { return int2Codec{} }

func (int2Codec) OID() oid.Oid { return oid.T_int2 }

func (c int2Codec) DecodeText(data []byte, _ Settings) (any, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 16)
	if err != nil {
		return nil, NewInvalidTextRepresentation(c.OID(), data)
	}
	return int16(n), nil
}

func (c int2Codec) DecodeBinary(data []byte, _ Settings) (any, error) {
	if len(data) != 2 {
		return nil, NewInvalidBinaryRepresentation(c.OID(), "expected 2 bytes")
	}
	return int16(binary.BigEndian.Uint16(data)), nil
}

func (int2Codec) EncodeText(v any, _ Settings) ([]byte, error) {
	return strconv.AppendInt(nil, int64(v.(int16)), 10), nil
}

func (int2Codec) EncodeBinary(v any, _ Settings) ([]byte, error) {
	buf := make([]byte, 2)
	binary.BigEndian.PutUint16(buf, uint16(v.(int16)))
	return buf, nil
}

type int4Codec struct{}

func newInt4Codec() Codec { return int4Codec{} }

func (int4Codec) OID() oid.Oid { return oid.T_int4 }

func (c int4Codec) DecodeText(data []byte, _ Settings) (any, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 32)
	if err != nil {
		return nil, NewInvalidTextRepresentation(c.OID(), data)
	}
	return int32(n), nil
}

func (c int4Codec) DecodeBinary(data []byte, _ Settings) (any, error) {
	if len(data) != 4 {
		return nil, NewInvalidBinaryRepresentation(c.OID(), "expected 4 bytes")
	}
	return int32(binary.BigEndian.Uint32(data)), nil
}

func (int4Codec) EncodeText(v any, _ Settings) ([]byte, error) {
	return strconv.AppendInt(nil, int64(v.(int32)), 10), nil
}

func (int4Codec) EncodeBinary(v any, _ Settings) ([]byte, error) {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, uint32(v.(int32)))
	return buf, nil
}

type int8Codec struct{}

func newInt8Codec() Codec { return int8Codec{} }

func (int8Codec) OID() oid.Oid { return oid.T_int8 }

func (c int8Codec) DecodeText(data []byte, _ Settings) (any, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return nil, NewInvalidTextRepresentation(c.OID(), data)
	}
	return n, nil
}

func (c int8Codec) DecodeBinary(data []byte, _ Settings) (any, error) {
	if len(data) != 8 {
		return nil, NewInvalidBinaryRepresentation(c.OID(), "expected 8 bytes")
	}
	return int64(binary.BigEndian.Uint64(data)), nil
}

func (int8Codec) EncodeText(v any, _ Settings) ([]byte, error) {
	return strconv.AppendInt(nil, v.(int64), 10), nil
}

func (int8Codec) EncodeBinary(v any, _ Settings) ([]byte, error) {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(v.(int64)))
	return buf, nil
}

type float4Codec struct{}

func newFloat4Codec() Codec { return float4Codec{} }

func (float4Codec) OID() oid.Oid { return oid.T_float4 }

func (c float4Codec) DecodeText(data []byte, _ Settings) (any, error) {
	n, err := strconv.ParseFloat(strings.TrimSpace(string(data)), 32)
	if err != nil {
		return nil, NewInvalidTextRepresentation(c.OID(), data)
	}
	return float32(n), nil
}

func (c float4Codec) DecodeBinary(data []byte, _ Settings) (any, error) {
	if len(data) != 4 {
		return nil, NewInvalidBinaryRepresentation(c.OID(), "expected 4 bytes")
	}
	return math.Float32frombits(binary.BigEndian.Uint32(data)), nil
}

func (float4Codec) EncodeText(v any, _ Settings) ([]byte, error) {
	return strconv.AppendFloat(nil, float64(v.(float32)), 'g', -1, 32), nil
}

func (float4Codec) EncodeBinary(v any, _ Settings) ([]byte, error) {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, math.Float32bits(v.(float32)))
	return buf, nil
}

type float8Codec struct{}

func newFloat8Codec() Codec { return float8Codec{} }

func (float8Codec) OID() oid.Oid { return oid.T_float8 }

func (c float8Codec) DecodeText(data []byte, _ Settings) (any, error) {
	n, err := strconv.ParseFloat(strings.TrimSpace(string(data)), 64)
	if err != nil {
		return nil, NewInvalidTextRepresentation(c.OID(), data)
	}
	return n, nil
}

func (c float8Codec) DecodeBinary(data []byte, _ Settings) (any, error) {
	if len(data) != 8 {
		return nil, NewInvalidBinaryRepresentation(c.OID(), "expected 8 bytes")
	}
	return math.Float64frombits(binary.BigEndian.Uint64(data)), nil
}

func (float8Codec) EncodeText(v any, _ Settings) ([]byte, error) {
	return strconv.AppendFloat(nil, v.(float64), 'g', -1, 64), nil
}

func (float8Codec) EncodeBinary(v any, _ Settings) ([]byte, error) {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, math.Float64bits(v.(float64)))
	return buf, nil
}
