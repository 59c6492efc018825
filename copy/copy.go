// Package copy implements the COPY sub-protocol's text/CSV/binary framing
// and the mutation-limit accounting the session engine applies while a
// COPY IN is in progress.
package copy

import (
	"bytes"
	"encoding/binary"
	"encoding/csv"
	"fmt"
	"strings"

	"github.com/lib/pq/oid"

	"github.com/relaydb/pgwire/codec"
	"github.com/relaydb/pgwire/codes"
	pgerror "github.com/relaydb/pgwire/errors"
)

// Format is the COPY data framing the client negotiated.
type Format int

const (
	Text Format = iota
	CSVFormat
	Binary
)

// BinarySignature is the fixed 11-byte header every binary COPY stream
// starts with.
var BinarySignature = []byte("PGCOPY\n\377\r\n\000")

// Policy governs how a COPY IN's rows are committed relative to the
// mutation limit: Atomic fails (and discards) the entire COPY the moment
// the limit would be exceeded, Partitioned commits what fits so far in
// separate backend transactions as the limit is reached.
type Policy int

const (
	Atomic Policy = iota
	Partitioned
)

// MutationCost is the accounting unit the mutation limit is measured in:
// one row against a table with c columns and x indexed columns costs
// c+x, mirroring the cost of writing the row plus maintaining each index.
func MutationCost(columns, indexedColumns int) int64 {
	return int64(columns + indexedColumns)
}

// Decoder incrementally parses a COPY IN byte stream for one of the
// three wire formats into decoded rows, given the target columns' OIDs.
type Decoder struct {
	format  Format
	oids    []oid.Oid
	names   []string
	reg     *codec.Registry
	set     codec.Settings
	buf     bytes.Buffer
	started bool
}

// NewDecoder returns a Decoder for format, decoding each row's fields
// against oids in positional order.
func NewDecoder(format Format, oids []oid.Oid, reg *codec.Registry, set codec.Settings) *Decoder {
	return &Decoder{format: format, oids: oids, reg: reg, set: set}
}

// Feed appends one CopyData chunk's payload to the decoder's buffer.
func (d *Decoder) Feed(chunk []byte) {
	d.buf.Write(chunk)
}

// DrainRows extracts every complete row currently buffered, leaving any
// trailing partial row (text/CSV: an unterminated line; binary: a
// truncated tuple header) for the next Feed.
func (d *Decoder) DrainRows() ([][]any, error) {
	switch d.format {
	case Text:
		return d.drainText('\t')
	case CSVFormat:
		return d.drainCSV()
	case Binary:
		return d.drainBinary()
	default:
		return nil, fmt.Errorf("copy: unknown format")
	}
}

func (d *Decoder) drainText(sep byte) ([][]any, error) {
	var rows [][]any
	for {
		line, ok := d.takeLine()
		if !ok {
			return rows, nil
		}
		if line == "\\." {
			return rows, nil
		}
		fields := strings.Split(line, string(sep))
		row, err := d.decodeTextFields(fields)
		if err != nil {
			return rows, err
		}
		rows = append(rows, row)
	}
}

func (d *Decoder) takeLine() (string, bool) {
	data := d.buf.Bytes()
	idx := bytes.IndexByte(data, '\n')
	if idx == -1 {
		return "", false
	}
	line := string(bytes.TrimSuffix(data[:idx], []byte("\r")))
	d.buf.Next(idx + 1)
	return line, true
}

func (d *Decoder) decodeTextFields(fields []string) ([]any, error) {
	if len(fields) != len(d.oids) {
		return nil, pgerror.WithCode(
			fmt.Errorf("copy: row has %d columns, expected %d", len(fields), len(d.oids)),
			codes.BadCopyFileFormat,
		)
	}
	row := make([]any, len(fields))
	for i, f := range fields {
		if f == `\N` {
			row[i] = nil
			continue
		}
		unescaped := unescapeCopyText(f)
		c, err := d.reg.MustLookup(d.oids[i])
		if err != nil {
			return nil, err
		}
		v, err := c.DecodeText([]byte(unescaped), d.set)
		if err != nil {
			return nil, err
		}
		row[i] = v
	}
	return row, nil
}

func unescapeCopyText(s string) string {
	if !strings.ContainsRune(s, '\\') {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) {
			i++
			switch s[i] {
			case 't':
				b.WriteByte('\t')
			case 'n':
				b.WriteByte('\n')
			case 'r':
				b.WriteByte('\r')
			case '\\':
				b.WriteByte('\\')
			default:
				b.WriteByte(s[i])
			}
			continue
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

func (d *Decoder) drainCSV() ([][]any, error) {
	data := d.buf.Bytes()
	lastNL := bytes.LastIndexByte(data, '\n')
	if lastNL == -1 {
		return nil, nil
	}
	complete := data[:lastNL+1]
	reader := csv.NewReader(bytes.NewReader(complete))
	reader.FieldsPerRecord = -1

	var rows [][]any
	for {
		record, err := reader.Read()
		if err != nil {
			break
		}
		if len(record) == 1 && record[0] == `\.` {
			continue
		}
		row, err := d.decodeTextFields(record)
		if err != nil {
			return rows, err
		}
		rows = append(rows, row)
	}
	d.buf.Next(lastNL + 1)
	return rows, nil
}

func (d *Decoder) drainBinary() ([][]any, error) {
	if !d.started {
		if d.buf.Len() < len(BinarySignature)+8 {
			return nil, nil
		}
		data := d.buf.Bytes()
		if !bytes.Equal(data[:len(BinarySignature)], BinarySignature) {
			return nil, pgerror.WithCode(fmt.Errorf("copy: invalid binary signature"), codes.BadCopyFileFormat)
		}
		d.buf.Next(len(BinarySignature) + 8) // signature + flags(4) + header-extension length(4)
		d.started = true
	}

	var rows [][]any
	for {
		data := d.buf.Bytes()
		if len(data) < 2 {
			return rows, nil
		}
		nfields := int16(binary.BigEndian.Uint16(data[:2]))
		if nfields == -1 {
			d.buf.Next(2)
			return rows, nil
		}
		pos := 2
		row := make([]any, nfields)
		for i := 0; i < int(nfields); i++ {
			if len(data) < pos+4 {
				return rows, nil
			}
			size := int32(binary.BigEndian.Uint32(data[pos : pos+4]))
			pos += 4
			if size < 0 {
				row[i] = nil
				continue
			}
			if len(data) < pos+int(size) {
				return rows, nil
			}
			c, err := d.reg.MustLookup(d.oids[i])
			if err != nil {
				return rows, err
			}
			v, err := c.DecodeBinary(data[pos:pos+int(size)], d.set)
			if err != nil {
				return rows, err
			}
			row[i] = v
			pos += int(size)
		}
		d.buf.Next(pos)
		rows = append(rows, row)
	}
}
