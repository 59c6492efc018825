package codec

import (
	"encoding/binary"
	"strings"

	"github.com/lib/pq/oid"
)

// arrayCodec implements a one-dimensional PostgreSQL array over any element
// Codec. Decoded/encoded Go values are []any holding the element codec's
// native Go type, with untyped nil marking a SQL NULL element.
type arrayCodec struct {
	arrayOID oid.Oid
	elem     Codec
	elemOID  oid.Oid
}

func newArrayCodec(arrayOID oid.Oid, elem Codec, elemOID oid.Oid) Codec {
	return arrayCodec{arrayOID: arrayOID, elem: elem, elemOID: elemOID}
}

func (c arrayCodec) OID() oid.Oid { return c.arrayOID }

// DecodeText parses the PostgreSQL array literal syntax "{a,b,c}". Elements
// matching exactly NULL (unquoted) decode to a nil element; a
// double-quoted element is always a literal string, even if it reads
// "NULL", and supports backslash escaping of '"' and '\'.
func (c arrayCodec) DecodeText(data []byte, set Settings) (any, error) {
	s := strings.TrimSpace(string(data))
	if len(s) < 2 || s[0] != '{' || s[len(s)-1] != '}' {
		return nil, NewInvalidTextRepresentation(c.OID(), data)
	}
	body := s[1 : len(s)-1]
	fields, err := splitArrayLiteral(body)
	if err != nil {
		return nil, NewInvalidTextRepresentation(c.OID(), data)
	}
	out := make([]any, len(fields))
	for i, f := range fields {
		if f.null {
			out[i] = nil
			continue
		}
		v, err := c.elem.DecodeText([]byte(f.text), set)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

type arrayField struct {
	text string
	null bool
}

// splitArrayLiteral splits a PostgreSQL array literal body on top-level
// commas, honoring double-quoted elements and backslash escapes.
func splitArrayLiteral(body string) ([]arrayField, error) {
	if body == "" {
		return nil, nil
	}
	var fields []arrayField
	var cur strings.Builder
	quoted := false
	sawQuotes := false
	escaped := false
	for i := 0; i < len(body); i++ {
		ch := body[i]
		if escaped {
			cur.WriteByte(ch)
			escaped = false
			continue
		}
		switch {
		case ch == '\\' && quoted:
			escaped = true
		case ch == '"':
			quoted = !quoted
			sawQuotes = true
		case ch == ',' && !quoted:
			fields = append(fields, finishArrayField(cur.String(), sawQuotes))
			cur.Reset()
			sawQuotes = false
		default:
			cur.WriteByte(ch)
		}
	}
	fields = append(fields, finishArrayField(cur.String(), sawQuotes))
	return fields, nil
}

func finishArrayField(text string, wasQuoted bool) arrayField {
	if !wasQuoted && text == "NULL" {
		return arrayField{null: true}
	}
	return arrayField{text: text}
}

func (c arrayCodec) DecodeBinary(data []byte, set Settings) (any, error) {
	if len(data) < 12 {
		return nil, NewInvalidBinaryRepresentation(c.OID(), "header truncated")
	}
	ndim := int(int32(binary.BigEndian.Uint32(data[0:4])))
	hasNull := binary.BigEndian.Uint32(data[4:8]) != 0
	off := 12 // skip ndim, hasnull, element oid
	if ndim == 0 {
		return []any{}, nil
	}
	if ndim != 1 {
		return nil, NewInvalidBinaryRepresentation(c.OID(), "only one-dimensional arrays are supported")
	}
	if len(data) < off+8 {
		return nil, NewInvalidBinaryRepresentation(c.OID(), "dimension header truncated")
	}
	n := int(int32(binary.BigEndian.Uint32(data[off : off+4])))
	off += 8 // dimension length + lower bound

	out := make([]any, n)
	for i := 0; i < n; i++ {
		if len(data) < off+4 {
			return nil, NewInvalidBinaryRepresentation(c.OID(), "element length truncated")
		}
		ln := int32(binary.BigEndian.Uint32(data[off : off+4]))
		off += 4
		if ln < 0 {
			if !hasNull {
				return nil, NewInvalidBinaryRepresentation(c.OID(), "null element without hasnull flag")
			}
			out[i] = nil
			continue
		}
		if len(data) < off+int(ln) {
			return nil, NewInvalidBinaryRepresentation(c.OID(), "element data truncated")
		}
		v, err := c.elem.DecodeBinary(data[off:off+int(ln)], set)
		if err != nil {
			return nil, err
		}
		out[i] = v
		off += int(ln)
	}
	return out, nil
}

func (c arrayCodec) EncodeText(v any, set Settings) ([]byte, error) {
	elems := v.([]any)
	parts := make([]string, len(elems))
	for i, e := range elems {
		if e == nil {
			parts[i] = "NULL"
			continue
		}
		raw, err := c.elem.EncodeText(e, set)
		if err != nil {
			return nil, err
		}
		parts[i] = quoteArrayElement(string(raw))
	}
	return []byte("{" + strings.Join(parts, ",") + "}"), nil
}

// quoteArrayElement double-quotes an array element when it contains
// characters that would otherwise be ambiguous in array literal syntax:
// a comma, brace, quote, backslash or space, and when it is empty or the
// bare word NULL.
func quoteArrayElement(s string) string {
	needsQuote := s == "" || s == "NULL" || strings.ContainsAny(s, `{},"\ `)
	if !needsQuote {
		return s
	}
	var b strings.Builder
	b.WriteByte('"')
	for i := 0; i < len(s); i++ {
		if s[i] == '"' || s[i] == '\\' {
			b.WriteByte('\\')
		}
		b.WriteByte(s[i])
	}
	b.WriteByte('"')
	return b.String()
}

func (c arrayCodec) EncodeBinary(v any, set Settings) ([]byte, error) {
	elems := v.([]any)

	if len(elems) == 0 {
		buf := make([]byte, 12)
		binary.BigEndian.PutUint32(buf[8:12], uint32(c.elemOID))
		return buf, nil
	}

	hasNull := 0
	for _, e := range elems {
		if e == nil {
			hasNull = 1
			break
		}
	}

	var encoded [][]byte
	for _, e := range elems {
		if e == nil {
			encoded = append(encoded, nil)
			continue
		}
		raw, err := c.elem.EncodeBinary(e, set)
		if err != nil {
			return nil, err
		}
		encoded = append(encoded, raw)
	}

	buf := make([]byte, 12+8)
	binary.BigEndian.PutUint32(buf[0:4], uint32(1)) // ndim
	binary.BigEndian.PutUint32(buf[4:8], uint32(hasNull))
	binary.BigEndian.PutUint32(buf[8:12], uint32(c.elemOID))
	binary.BigEndian.PutUint32(buf[12:16], uint32(len(elems))) // dimension length
	binary.BigEndian.PutUint32(buf[16:20], uint32(1))          // lower bound

	for _, raw := range encoded {
		lenBuf := make([]byte, 4)
		if raw == nil {
			binary.BigEndian.PutUint32(lenBuf, uint32(int32(-1)))
			buf = append(buf, lenBuf...)
			continue
		}
		binary.BigEndian.PutUint32(lenBuf, uint32(int32(len(raw))))
		buf = append(buf, lenBuf...)
		buf = append(buf, raw...)
	}
	return buf, nil
}
