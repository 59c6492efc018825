package copy

import (
	"encoding/binary"
	"strings"

	"github.com/lib/pq/oid"

	"github.com/relaydb/pgwire/codec"
)

// Encoder renders decoded rows back into a COPY OUT wire stream.
type Encoder struct {
	format Format
	oids   []oid.Oid
	reg    *codec.Registry
	set    codec.Settings
}

// NewEncoder returns an Encoder for format, encoding each row's fields
// against oids in positional order.
func NewEncoder(format Format, oids []oid.Oid, reg *codec.Registry, set codec.Settings) *Encoder {
	return &Encoder{format: format, oids: oids, reg: reg, set: set}
}

// Header returns the bytes that must precede every row in this format's
// stream (empty for text/CSV, the binary signature+flags for Binary).
func (e *Encoder) Header() []byte {
	if e.format != Binary {
		return nil
	}
	header := make([]byte, 0, len(BinarySignature)+8)
	header = append(header, BinarySignature...)
	header = append(header, 0, 0, 0, 0) // flags
	header = append(header, 0, 0, 0, 0) // header extension length
	return header
}

// Trailer returns the bytes that must terminate the stream (the
// 2-byte -1 field count for Binary, nothing for text or CSV).
func (e *Encoder) Trailer() []byte {
	switch e.format {
	case Binary:
		return []byte{0xff, 0xff}
	default:
		return nil
	}
}

// EncodeRow renders one row as a single COPY data chunk.
func (e *Encoder) EncodeRow(row []any) ([]byte, error) {
	switch e.format {
	case Binary:
		return e.encodeBinaryRow(row)
	case CSVFormat:
		return e.encodeDelimitedRow(row, ',', true)
	default:
		return e.encodeDelimitedRow(row, '\t', false)
	}
}

func (e *Encoder) encodeBinaryRow(row []any) ([]byte, error) {
	out := make([]byte, 2)
	binary.BigEndian.PutUint16(out, uint16(len(row)))
	for i, v := range row {
		if v == nil {
			out = append(out, 0xff, 0xff, 0xff, 0xff)
			continue
		}
		c, err := e.reg.MustLookup(e.oids[i])
		if err != nil {
			return nil, err
		}
		data, err := c.EncodeBinary(v, e.set)
		if err != nil {
			return nil, err
		}
		size := make([]byte, 4)
		binary.BigEndian.PutUint32(size, uint32(len(data)))
		out = append(out, size...)
		out = append(out, data...)
	}
	return out, nil
}

func (e *Encoder) encodeDelimitedRow(row []any, sep byte, csvQuote bool) ([]byte, error) {
	fields := make([]string, len(row))
	for i, v := range row {
		if v == nil {
			fields[i] = `\N`
			continue
		}
		c, err := e.reg.MustLookup(e.oids[i])
		if err != nil {
			return nil, err
		}
		data, err := c.EncodeText(v, e.set)
		if err != nil {
			return nil, err
		}
		text := string(data)
		if csvQuote {
			if strings.ContainsAny(text, ",\"\n\r") {
				text = `"` + strings.ReplaceAll(text, `"`, `""`) + `"`
			}
		} else {
			text = escapeCopyText(text)
		}
		fields[i] = text
	}

	line := strings.Join(fields, string(sep))
	return append([]byte(line), '\n'), nil
}

func escapeCopyText(s string) string {
	if !strings.ContainsAny(s, "\t\n\r\\") {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '\t':
			b.WriteString(`\t`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\\':
			b.WriteString(`\\`)
		default:
			b.WriteByte(s[i])
		}
	}
	return b.String()
}
