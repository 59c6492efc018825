package codec

import (
	"github.com/lib/pq/oid"
)

// Codec converts a single PostgreSQL type between its wire representations
// and a Go value. DecodeText/DecodeBinary receive settings so date/time
// codecs can honor the session's negotiated DateStyle and TimeZone.
type Codec interface {
	// OID reports the PostgreSQL type this codec implements.
	OID() oid.Oid
	// DecodeText parses a text-format wire value. data is never nil; a SQL
	// NULL is represented at the row level, not passed to the codec.
	DecodeText(data []byte, set Settings) (any, error)
	// DecodeBinary parses a binary-format wire value.
	DecodeBinary(data []byte, set Settings) (any, error)
	// EncodeText renders v in the type's text wire format.
	EncodeText(v any, set Settings) ([]byte, error)
	// EncodeBinary renders v in the type's binary wire format.
	EncodeBinary(v any, set Settings) ([]byte, error)
}

// Registry looks up the Codec for a wire OID.
type Registry struct {
	codecs map[oid.Oid]Codec
}

// NewRegistry builds a Registry populated with every type this module
// supports. Unsupported OIDs are absent from the map; callers distinguish
// "not found" with Lookup's ok return and report NewUnsupportedOID.
func NewRegistry() *Registry {
	r := &Registry{codecs: make(map[oid.Oid]Codec, 32)}
	for _, c := range []Codec{
		newBoolCodec(),
		newInt2Codec(),
		newInt4Codec(),
		newInt8Codec(),
		newFloat4Codec(),
		newFloat8Codec(),
		newNumericCodec(),
		newTextCodec(oid.T_text),
		newTextCodec(oid.T_varchar),
		newTextCodec(oid.T_bpchar),
		newByteaCodec(),
		newUUIDCodec(),
		newDateCodec(),
		newTimestampCodec(),
		newTimestamptzCodec(),
		newJSONCodec(oid.T_json),
		newJSONCodec(oid.T_jsonb),
		newArrayCodec(oid.T_int4array, newInt4Codec(), oid.T_int4),
		newArrayCodec(oid.T_textarray, newTextCodec(oid.T_text), oid.T_text),
	} {
		r.codecs[c.OID()] = c
	}
	return r
}

// Lookup returns the Codec registered for oid, or ok=false if none exists.
func (r *Registry) Lookup(o oid.Oid) (Codec, bool) {
	c, ok := r.codecs[o]
	return c, ok
}

// MustLookup returns the Codec for oid, or a NewUnsupportedOID error.
func (r *Registry) MustLookup(o oid.Oid) (Codec, error) {
	c, ok := r.codecs[o]
	if !ok {
		return nil, NewUnsupportedOID(o)
	}
	return c, nil
}
