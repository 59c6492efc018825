package codec

import (
	"encoding/binary"
	"math/big"
	"strings"

	"github.com/lib/pq/oid"
	"github.com/shopspring/decimal"
)

// nbase is PostgreSQL's NUMERIC digit base: each wire digit group holds a
// value in [0, 9999] and represents four decimal digits.
const nbase = 10000

const numericNaNSign = 0xC000
const numericNegSign = 0x4000

type numericCodec struct{}

func newNumericCodec() Codec { return numericCodec{} }

func (numericCodec) OID() oid.Oid { return oid.T_numeric }

func (c numericCodec) DecodeText(data []byte, _ Settings) (any, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, NewInvalidTextRepresentation(c.OID(), data)
	}
	return d, nil
}

func (numericCodec) EncodeText(v any, _ Settings) ([]byte, error) {
	return []byte(v.(decimal.Decimal).String()), nil
}

func (c numericCodec) DecodeBinary(data []byte, _ Settings) (any, error) {
	if len(data) < 8 {
		return nil, NewInvalidBinaryRepresentation(c.OID(), "header truncated")
	}
	ndigits := int(int16(binary.BigEndian.Uint16(data[0:2])))
	weight := int(int16(binary.BigEndian.Uint16(data[2:4])))
	sign := binary.BigEndian.Uint16(data[4:6])
	dscale := int(binary.BigEndian.Uint16(data[6:8]))

	if sign == numericNaNSign {
		return nil, NewInvalidBinaryRepresentation(c.OID(), "NaN is not representable")
	}
	if sign != 0 && sign != numericNegSign {
		return nil, NewInvalidBinaryRepresentation(c.OID(), "unrecognized sign")
	}
	if ndigits < 0 || len(data) != 8+ndigits*2 {
		return nil, NewInvalidBinaryRepresentation(c.OID(), "digit count mismatch")
	}

	coeff := new(big.Int)
	base := big.NewInt(nbase)
	for i := 0; i < ndigits; i++ {
		digit := int64(binary.BigEndian.Uint16(data[8+i*2 : 10+i*2]))
		if digit >= nbase {
			return nil, NewInvalidBinaryRepresentation(c.OID(), "digit out of range")
		}
		coeff.Mul(coeff, base)
		coeff.Add(coeff, big.NewInt(digit))
	}

	// coeff holds ndigits base-10000 groups; the last group's decimal
	// exponent is 4*(weight-(ndigits-1)).
	exp10 := int32(0)
	if ndigits > 0 {
		exp10 = int32(4 * (weight - (ndigits - 1)))
	}
	d := decimal.NewFromBigInt(coeff, exp10)
	if sign == numericNegSign {
		d = d.Neg()
	}
	return d.Rescale(int32(-dscale)), nil
}

func (numericCodec) EncodeBinary(v any, _ Settings) ([]byte, error) {
	d := v.(decimal.Decimal)
	coeff := d.Coefficient()
	exp := d.Exponent()

	var sign uint16
	if coeff.Sign() < 0 {
		sign = numericNegSign
		coeff = new(big.Int).Abs(coeff)
	}

	var dscale uint16
	if exp < 0 {
		dscale = uint16(-exp)
	}

	if coeff.Sign() == 0 {
		buf := make([]byte, 8)
		binary.BigEndian.PutUint16(buf[6:8], dscale)
		return buf, nil
	}

	digitsStr := coeff.String()
	pointPos := len(digitsStr) + int(exp)

	var intPart, fracPart string
	switch {
	case pointPos <= 0:
		fracPart = strings.Repeat("0", -pointPos) + digitsStr
	case pointPos >= len(digitsStr):
		intPart = digitsStr + strings.Repeat("0", pointPos-len(digitsStr))
	default:
		intPart = digitsStr[:pointPos]
		fracPart = digitsStr[pointPos:]
	}

	if pad := (4 - len(intPart)%4) % 4; pad > 0 {
		intPart = strings.Repeat("0", pad) + intPart
	}
	if pad := (4 - len(fracPart)%4) % 4; pad > 0 {
		fracPart = fracPart + strings.Repeat("0", pad)
	}

	intGroups := len(intPart) / 4
	fracGroups := len(fracPart) / 4
	weight := intGroups - 1

	groups := make([]int16, 0, intGroups+fracGroups)
	all := intPart + fracPart
	for i := 0; i < len(all); i += 4 {
		var n int64
		for _, ch := range all[i : i+4] {
			n = n*10 + int64(ch-'0')
		}
		groups = append(groups, int16(n))
	}

	for len(groups) > 0 && groups[len(groups)-1] == 0 {
		groups = groups[:len(groups)-1]
	}
	for len(groups) > 0 && groups[0] == 0 {
		groups = groups[1:]
		weight--
	}

	buf := make([]byte, 8+len(groups)*2)
	binary.BigEndian.PutUint16(buf[0:2], uint16(int16(len(groups))))
	binary.BigEndian.PutUint16(buf[2:4], uint16(int16(weight)))
	binary.BigEndian.PutUint16(buf[4:6], sign)
	binary.BigEndian.PutUint16(buf[6:8], dscale)
	for i, g := range groups {
		binary.BigEndian.PutUint16(buf[8+i*2:10+i*2], uint16(g))
	}
	return buf, nil
}
