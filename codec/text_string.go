package codec

import (
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq/oid"
)

// textCodec implements text/varchar/bpchar, all of which share a wire
// representation: the bytes are the string, verbatim, in both formats.
type textCodec struct {
	oid oid.Oid
}

func newTextCodec(o oid.Oid) Codec { return textCodec{oid: o} }

func (c textCodec) OID() oid.Oid { return c.oid }

func (c textCodec) DecodeText(data []byte, _ Settings) (any, error) {
	return string(data), nil
}

func (c textCodec) DecodeBinary(data []byte, _ Settings) (any, error) {
	return string(data), nil
}

func (c textCodec) EncodeText(v any, _ Settings) ([]byte, error) {
	return []byte(v.(string)), nil
}

func (c textCodec) EncodeBinary(v any, _ Settings) ([]byte, error) {
	return []byte(v.(string)), nil
}

// byteaCodec implements bytea. Text format accepts both the modern hex
// encoding ("\x...") and the legacy backslash-octal escape encoding on
// decode, and always produces hex on encode, matching modern PostgreSQL
// servers (bytea_output = hex).
type byteaCodec struct{}

func newByteaCodec() Codec { return byteaCodec{} }

func (byteaCodec) OID() oid.Oid { return oid.T_bytea }

func (c byteaCodec) DecodeText(data []byte, _ Settings) (any, error) {
	if len(data) >= 2 && data[0] == '\\' && data[1] == 'x' {
		out := make([]byte, hex.DecodedLen(len(data)-2))
		if _, err := hex.Decode(out, data[2:]); err != nil {
			return nil, NewInvalidTextRepresentation(c.OID(), data)
		}
		return out, nil
	}
	return decodeLegacyBytea(data)
}

func decodeLegacyBytea(data []byte) ([]byte, error) {
	out := make([]byte, 0, len(data))
	for i := 0; i < len(data); {
		if data[i] != '\\' {
			out = append(out, data[i])
			i++
			continue
		}
		if i+1 < len(data) && data[i+1] == '\\' {
			out = append(out, '\\')
			i += 2
			continue
		}
		if i+3 < len(data) {
			var n byte
			ok := true
			for k := 1; k <= 3; k++ {
				d := data[i+k]
				if d < '0' || d > '7' {
					ok = false
					break
				}
				n = n*8 + (d - '0')
			}
			if ok {
				out = append(out, n)
				i += 4
				continue
			}
		}
		return nil, NewInvalidTextRepresentation(oid.T_bytea, data)
	}
	return out, nil
}

func (byteaCodec) DecodeBinary(data []byte, _ Settings) (any, error) {
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

func (byteaCodec) EncodeText(v any, _ Settings) ([]byte, error) {
	b := v.([]byte)
	out := make([]byte, 2+hex.EncodedLen(len(b)))
	out[0], out[1] = '\\', 'x'
	hex.Encode(out[2:], b)
	return out, nil
}

func (byteaCodec) EncodeBinary(v any, _ Settings) ([]byte, error) {
	return v.([]byte), nil
}

// uuidCodec implements uuid using google/uuid for both text parsing and
// the 16-byte binary layout, which matches PostgreSQL's wire format.
type uuidCodec struct{}

func newUUIDCodec() Codec { return uuidCodec{} }

func (uuidCodec) OID() oid.Oid { return oid.T_uuid }

func (c uuidCodec) DecodeText(data []byte, _ Settings) (any, error) {
	id, err := uuid.ParseBytes(data)
	if err != nil {
		return nil, NewInvalidTextRepresentation(c.OID(), data)
	}
	return id, nil
}

func (c uuidCodec) DecodeBinary(data []byte, _ Settings) (any, error) {
	id, err := uuid.FromBytes(data)
	if err != nil {
		return nil, NewInvalidBinaryRepresentation(c.OID(), fmt.Sprintf("expected 16 bytes: %v", err))
	}
	return id, nil
}

func (uuidCodec) EncodeText(v any, _ Settings) ([]byte, error) {
	id := v.(uuid.UUID)
	return []byte(id.String()), nil
}

func (uuidCodec) EncodeBinary(v any, _ Settings) ([]byte, error) {
	id := v.(uuid.UUID)
	b := id
	return b[:], nil
}
