package codec

import (
	"bytes"
	"encoding/json"

	"github.com/lib/pq/oid"
)

// jsonCodec implements json and jsonb. Decoded values are the raw JSON
// bytes rather than a parsed tree: the backend driver is responsible for
// interpreting JSON, the wire layer only transports it. On encode the
// bytes are re-marshaled through encoding/json to normalize whitespace to
// a single space after each ':' and ',', matching the canonical form
// PostgreSQL emits; the input is otherwise passed through untouched.
type jsonCodec struct {
	oid    oid.Oid
	binHdr bool // jsonb binary format is prefixed with a version byte
}

func newJSONCodec(o oid.Oid) Codec {
	return jsonCodec{oid: o, binHdr: o == oid.T_jsonb}
}

func (c jsonCodec) OID() oid.Oid { return c.oid }

func (c jsonCodec) DecodeText(data []byte, _ Settings) (any, error) {
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

func (c jsonCodec) DecodeBinary(data []byte, _ Settings) (any, error) {
	if c.binHdr {
		if len(data) < 1 || data[0] != 1 {
			return nil, NewInvalidBinaryRepresentation(c.OID(), "unrecognized jsonb version")
		}
		data = data[1:]
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

func (c jsonCodec) EncodeText(v any, _ Settings) ([]byte, error) {
	return canonicalizeJSONSpacing(v.([]byte))
}

func (c jsonCodec) EncodeBinary(v any, set Settings) ([]byte, error) {
	text, err := c.EncodeText(v, set)
	if err != nil {
		return nil, err
	}
	if !c.binHdr {
		return text, nil
	}
	return append([]byte{1}, text...), nil
}

// canonicalizeJSONSpacing re-emits raw through encoding/json's compact
// encoder and then reintroduces the single space after ':' and ',' that
// PostgreSQL's jsonb output uses, without altering key order or number
// formatting.
func canonicalizeJSONSpacing(raw []byte) ([]byte, error) {
	var compact bytes.Buffer
	if err := json.Compact(&compact, raw); err != nil {
		return raw, nil
	}
	return spaceJSON(compact.Bytes()), nil
}

// spaceJSON inserts a single space after every ':' and ',' outside of
// string literals, at any nesting depth.
func spaceJSON(compact []byte) []byte {
	out := make([]byte, 0, len(compact)+len(compact)/4)
	inString := false
	escaped := false
	for _, b := range compact {
		out = append(out, b)
		if inString {
			if escaped {
				escaped = false
			} else if b == '\\' {
				escaped = true
			} else if b == '"' {
				inString = false
			}
			continue
		}
		switch b {
		case '"':
			inString = true
		case ':', ',':
			out = append(out, ' ')
		}
	}
	return out
}
