package wire

import (
	"github.com/lib/pq/oid"

	"github.com/relaydb/pgwire/backend"
	"github.com/relaydb/pgwire/codec"
	"github.com/relaydb/pgwire/pkg/buffer"
	"github.com/relaydb/pgwire/pkg/types"
)

// Column is the wire-level column descriptor the session engine builds
// RowDescription/DataRow messages from. It carries the same fields
// backend.Column does plus the format code the client negotiated for it.
type Column struct {
	Name   string
	OID    oid.Oid
	Format FormatCode
}

// Columns is an ordered set of result columns.
type Columns []Column

// FromBackend converts a backend's result columns to wire Columns, with
// every column defaulting to text format; callers that negotiated
// per-column binary formats overwrite Format afterward via ApplyFormats.
func FromBackend(cols []backend.Column) Columns {
	out := make(Columns, len(cols))
	for i, c := range cols {
		out[i] = Column{Name: c.Name, OID: c.OID, Format: TextFormat}
	}
	return out
}

// ApplyFormats assigns format codes to cols following the wire protocol's
// rule for a Bind format-code list: zero codes means all-text, one code
// means that code applies to every column, and N codes map positionally.
func (cols Columns) ApplyFormats(codes []int16) Columns {
	if len(codes) == 0 {
		return cols
	}
	for i := range cols {
		switch {
		case len(codes) == 1:
			cols[i].Format = FormatCode(codes[0])
		case i < len(codes):
			cols[i].Format = FormatCode(codes[i])
		}
	}
	return cols
}

// WriteRowDescription writes a RowDescription message describing cols.
func WriteRowDescription(writer *buffer.Writer, cols Columns) error {
	writer.Start(types.ServerRowDescription)
	writer.AddInt16(int16(len(cols)))
	for _, col := range cols {
		writer.AddString(col.Name)
		writer.AddInt32(0) // table OID, unknown to this backend
		writer.AddInt16(0) // column attribute number, unknown
		writer.AddInt32(int32(col.OID))
		writer.AddInt16(typeLen(col.OID))
		writer.AddInt32(-1) // type modifier
		writer.AddInt16(int16(col.Format))
	}
	return writer.End()
}

// WriteNoData writes the NoData message for statements with no result
// row set (DML/DDL, or an unresolved Describe target).
func WriteNoData(writer *buffer.Writer) error {
	writer.Start(types.ServerNoData)
	return writer.End()
}

// EncodeValue renders val in the wire format col.Format expects for
// col.OID, using registry's codec and the session's negotiated settings.
// A nil val encodes as SQL NULL (nil return, no error).
func EncodeValue(registry *codec.Registry, set codec.Settings, col Column, val any) ([]byte, error) {
	if val == nil {
		return nil, nil
	}
	c, err := registry.MustLookup(col.OID)
	if err != nil {
		return nil, err
	}
	if col.Format == BinaryFormat {
		return c.EncodeBinary(val, set)
	}
	return c.EncodeText(val, set)
}

// WriteDataRow encodes one result row using cols' negotiated formats and
// registry for type-specific marshaling.
func WriteDataRow(writer *buffer.Writer, registry *codec.Registry, set codec.Settings, cols Columns, row []any) error {
	writer.Start(types.ServerDataRow)
	writer.AddInt16(int16(len(row)))
	for i, val := range row {
		var col Column
		if i < len(cols) {
			col = cols[i]
		}
		encoded, err := EncodeValue(registry, set, col, val)
		if err != nil {
			return err
		}
		if encoded == nil {
			writer.AddInt32(-1)
			continue
		}
		writer.AddInt32(int32(len(encoded)))
		writer.AddBytes(encoded)
	}
	return writer.End()
}

// typeLen reports the fixed wire length PostgreSQL advertises for OID, or
// -1 for variable-length types.
func typeLen(id oid.Oid) int16 {
	switch id {
	case oid.T_bool:
		return 1
	case oid.T_int2:
		return 2
	case oid.T_int4, oid.T_float4, oid.T_date:
		return 4
	case oid.T_int8, oid.T_float8, oid.T_timestamp, oid.T_timestamptz:
		return 8
	case oid.T_uuid:
		return 16
	default:
		return -1
	}
}
