package wire

import (
	"github.com/lib/pq/oid"

	"github.com/relaydb/pgwire/codec"
)

// Parameter is one Bind-message argument: its negotiated wire format and
// raw bytes, decoded lazily against the statement's inferred parameter
// OID once the target statement is known.
type Parameter struct {
	Format FormatCode
	Data   []byte // nil means SQL NULL
}

// Decode converts p to a Go value of the type identified by oid, using
// registry and the session's negotiated settings. A NULL parameter
// decodes to nil with no error.
func (p Parameter) Decode(registry *codec.Registry, set codec.Settings, o oid.Oid) (any, error) {
	if p.Data == nil {
		return nil, nil
	}
	c, err := registry.MustLookup(o)
	if err != nil {
		return nil, err
	}
	if p.Format == BinaryFormat {
		return c.DecodeBinary(p.Data, set)
	}
	return c.DecodeText(p.Data, set)
}

// DecodeParams decodes every parameter in params against the paramOIDs a
// Describe/Parse step inferred. Parameters beyond len(paramOIDs) decode
// as text, matching PostgreSQL's behavior for an unresolved OID (treated
// as "unknown", interpreted as text).
func DecodeParams(registry *codec.Registry, set codec.Settings, paramOIDs []oid.Oid, params []Parameter) ([]any, error) {
	out := make([]any, len(params))
	for i, p := range params {
		o := oid.T_text
		if i < len(paramOIDs) && paramOIDs[i] != 0 {
			o = paramOIDs[i]
		}
		v, err := p.Decode(registry, set, o)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}
