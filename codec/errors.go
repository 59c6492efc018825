package codec

import (
	"fmt"

	"github.com/lib/pq/oid"

	"github.com/relaydb/pgwire/codes"
	pgerror "github.com/relaydb/pgwire/errors"
)

// typeName gives a human-readable name for the OIDs this package's codecs
// support, for use in error messages. Kept local rather than pulled from
// lib/pq/oid, which exports only the Oid constants and no name table.
var typeName = map[oid.Oid]string{
	oid.T_bool:        "boolean",
	oid.T_int2:        "smallint",
	oid.T_int4:        "integer",
	oid.T_int8:        "bigint",
	oid.T_float4:      "real",
	oid.T_float8:      "double precision",
	oid.T_numeric:     "numeric",
	oid.T_text:        "text",
	oid.T_varchar:     "character varying",
	oid.T_bpchar:      "character",
	oid.T_bytea:       "bytea",
	oid.T_date:        "date",
	oid.T_timestamp:   "timestamp without time zone",
	oid.T_timestamptz: "timestamp with time zone",
	oid.T_json:        "json",
	oid.T_jsonb:       "jsonb",
	oid.T_uuid:        "uuid",
}

func nameOf(o oid.Oid) string {
	if name, ok := typeName[o]; ok {
		return name
	}
	return fmt.Sprintf("oid(%d)", o)
}

// NewInvalidTextRepresentation reports that the given text could not be
// parsed into a value of the given type.
func NewInvalidTextRepresentation(o oid.Oid, text []byte) error {
	err := fmt.Errorf("invalid input syntax for type %s: %q", nameOf(o), text)
	return pgerror.WithCode(err, codes.InvalidTextRepresentation)
}

// NewInvalidBinaryRepresentation reports that the given binary payload did
// not have the expected shape for the given type.
func NewInvalidBinaryRepresentation(o oid.Oid, reason string) error {
	err := fmt.Errorf("invalid binary representation for type %s: %s", nameOf(o), reason)
	return pgerror.WithCode(err, codes.InvalidBinaryRepresentation)
}

// NewNumericOutOfRange reports that a decoded numeric value overflows the
// target representation.
func NewNumericOutOfRange(o oid.Oid) error {
	err := fmt.Errorf("numeric value out of range for type %s", nameOf(o))
	return pgerror.WithCode(err, codes.NumericValueOutOfRange)
}

// NewInvalidDatetimeFormat reports that a date/time value could not be
// parsed, or decoded outside its representable range.
func NewInvalidDatetimeFormat(o oid.Oid, text string) error {
	err := fmt.Errorf("invalid input syntax for type %s: %q", nameOf(o), text)
	return pgerror.WithCode(err, codes.InvalidDatetimeFormat)
}

// NewDatetimeFieldOverflow reports that a binary date/timestamp value is
// outside the representable calendar range.
func NewDatetimeFieldOverflow(o oid.Oid) error {
	err := fmt.Errorf("%s value out of representable range", nameOf(o))
	return pgerror.WithCode(err, codes.DatetimeFieldOverflow)
}

// NewUnsupportedOID reports that no codec is registered for the given OID.
func NewUnsupportedOID(o oid.Oid) error {
	err := fmt.Errorf("unsupported type oid: %d", o)
	return pgerror.WithCode(err, codes.FeatureNotSupported)
}
