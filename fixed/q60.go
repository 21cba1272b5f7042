// Package fixed implements the unsigned 68.60 fixed-point number used for share
// indices, share balances and USD values. Values are stored as 128 raw bits
// where the low 60 bits hold the fraction. Intermediate products are computed
// on 256-bit integers so that every operation can either saturate at the
// 128-bit ceiling or report an explicit overflow.
package fixed

import (
	"errors"
	"fmt"
	"math"
	"math/big"
	"strings"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

// FracBits is the number of fractional bits carried by a Q60 value.
const FracBits = 60

// MaxDecimals is the largest power of ten that fits the 68 integer bits.
const MaxDecimals = 20

var (
	// ErrOverflow reports a result that does not fit the target width.
	ErrOverflow = errors.New("fixed: overflow")
	// ErrUnderflow reports a subtraction below zero.
	ErrUnderflow = errors.New("fixed: underflow")
	// ErrDivisionByZero reports a zero divisor.
	ErrDivisionByZero = errors.New("fixed: division by zero")
	// ErrInvalidDecimal reports a malformed or negative decimal literal.
	ErrInvalidDecimal = errors.New("fixed: invalid decimal")
)

var (
	max128   = uint256.Int{math.MaxUint64, math.MaxUint64, 0, 0}
	scaleDec = decimal.NewFromBigInt(new(big.Int).Lsh(big.NewInt(1), FracBits), 0)
)

// Q60 is an unsigned fixed-point value with 68 integer and 60 fractional bits.
// The zero value is 0.
type Q60 struct {
	bits uint256.Int
}

// Zero returns the zero value.
func Zero() Q60 { return Q60{} }

// One returns 1.0.
func One() Q60 { return FromUint64(1) }

// Max returns the largest representable value (2^128-1 raw bits).
func Max() Q60 { return Q60{bits: max128} }

// FromUint64 converts an integer to Q60. Every uint64 fits the integer part.
func FromUint64(n uint64) Q60 {
	var q Q60
	q.bits.SetUint64(n)
	q.bits.Lsh(&q.bits, FracBits)
	return q
}

// FromParts rebuilds a value from its packed 128-bit representation.
func FromParts(hi, lo uint64) Q60 {
	return Q60{bits: uint256.Int{lo, hi, 0, 0}}
}

// FromBits wraps raw bits, rejecting values wider than 128 bits.
func FromBits(bits *uint256.Int) (Q60, error) {
	if bits == nil {
		return Q60{}, nil
	}
	if bits.Gt(&max128) {
		return Q60{}, ErrOverflow
	}
	return Q60{bits: *bits}, nil
}

// FromBig wraps raw bits held in a big integer.
func FromBig(b *big.Int) (Q60, error) {
	if b == nil || b.Sign() == 0 {
		return Q60{}, nil
	}
	if b.Sign() < 0 {
		return Q60{}, ErrUnderflow
	}
	bits, overflow := uint256.FromBig(b)
	if overflow {
		return Q60{}, ErrOverflow
	}
	return FromBits(bits)
}

// Pow10 returns 10^exp, failing when the value exceeds the integer range.
func Pow10(exp uint8) (Q60, error) {
	if exp > MaxDecimals {
		return Q60{}, ErrOverflow
	}
	var n uint256.Int
	n.Exp(uint256.NewInt(10), uint256.NewInt(uint64(exp)))
	n.Lsh(&n, FracBits)
	if n.Gt(&max128) {
		return Q60{}, ErrOverflow
	}
	return Q60{bits: n}, nil
}

// Parts returns the packed 128-bit representation.
func (q Q60) Parts() (hi, lo uint64) {
	return q.bits[1], q.bits[0]
}

// Bits returns a copy of the raw bits.
func (q Q60) Bits() *uint256.Int {
	return q.bits.Clone()
}

// Big returns the raw bits as a big integer.
func (q Q60) Big() *big.Int {
	return q.bits.ToBig()
}

// IsZero reports whether the value is exactly zero.
func (q Q60) IsZero() bool { return q.bits.IsZero() }

// Cmp compares two values and returns -1, 0 or +1.
func (q Q60) Cmp(o Q60) int { return q.bits.Cmp(&o.bits) }

// Min returns the smaller of q and o.
func (q Q60) Min(o Q60) Q60 {
	if q.Cmp(o) <= 0 {
		return q
	}
	return o
}

// Add returns q+o or ErrOverflow.
func (q Q60) Add(o Q60) (Q60, error) {
	var sum uint256.Int
	sum.Add(&q.bits, &o.bits)
	if sum.Gt(&max128) {
		return Q60{}, ErrOverflow
	}
	return Q60{bits: sum}, nil
}

// SaturatingAdd returns q+o clamped to Max.
func (q Q60) SaturatingAdd(o Q60) Q60 {
	sum, err := q.Add(o)
	if err != nil {
		return Max()
	}
	return sum
}

// Sub returns q-o or ErrUnderflow.
func (q Q60) Sub(o Q60) (Q60, error) {
	if q.bits.Lt(&o.bits) {
		return Q60{}, ErrUnderflow
	}
	var diff uint256.Int
	diff.Sub(&q.bits, &o.bits)
	return Q60{bits: diff}, nil
}

// Mul returns q*o truncated toward zero or ErrOverflow.
func (q Q60) Mul(o Q60) (Q60, error) {
	var product uint256.Int
	// Both operands are below 2^128 so the product fits 256 bits.
	product.Mul(&q.bits, &o.bits)
	product.Rsh(&product, FracBits)
	if product.Gt(&max128) {
		return Q60{}, ErrOverflow
	}
	return Q60{bits: product}, nil
}

// SaturatingMul returns q*o clamped to Max.
func (q Q60) SaturatingMul(o Q60) Q60 {
	product, err := q.Mul(o)
	if err != nil {
		return Max()
	}
	return product
}

// Div returns q/o truncated toward zero. It fails on a zero divisor or when the
// quotient exceeds the 128-bit range.
func (q Q60) Div(o Q60) (Q60, error) {
	if o.bits.IsZero() {
		return Q60{}, ErrDivisionByZero
	}
	var num uint256.Int
	num.Lsh(&q.bits, FracBits)
	num.Div(&num, &o.bits)
	if num.Gt(&max128) {
		return Q60{}, ErrOverflow
	}
	return Q60{bits: num}, nil
}

// SaturatingDiv returns q/o clamped to Max. A zero divisor is still an error.
func (q Q60) SaturatingDiv(o Q60) (Q60, error) {
	quo, err := q.Div(o)
	if errors.Is(err, ErrOverflow) {
		return Max(), nil
	}
	return quo, err
}

// MulUint64 multiplies the raw bits by k, clamping at Max.
func (q Q60) MulUint64(k uint64) Q60 {
	var product uint256.Int
	product.Mul(&q.bits, uint256.NewInt(k))
	if product.Gt(&max128) {
		return Max()
	}
	return Q60{bits: product}
}

// DivUint64 divides the raw bits by k, truncating. Dividing by zero yields Max.
func (q Q60) DivUint64(k uint64) Q60 {
	if k == 0 {
		return Max()
	}
	var quo uint256.Int
	quo.Div(&q.bits, uint256.NewInt(k))
	return Q60{bits: quo}
}

// Ratio divides the raw bits of q by the raw bits of o and returns the integer
// quotient, clamped to the uint64 range.
func (q Q60) Ratio(o Q60) (uint64, error) {
	if o.bits.IsZero() {
		return 0, ErrDivisionByZero
	}
	var quo uint256.Int
	quo.Div(&q.bits, &o.bits)
	if !quo.IsUint64() {
		return math.MaxUint64, nil
	}
	return quo.Uint64(), nil
}

// Floor returns the integer part, failing when it exceeds uint64.
func (q Q60) Floor() (uint64, error) {
	var whole uint256.Int
	whole.Rsh(&q.bits, FracBits)
	if !whole.IsUint64() {
		return 0, ErrOverflow
	}
	return whole.Uint64(), nil
}

// Decimal renders the value as a decimal rounded to 18 places.
func (q Q60) Decimal() decimal.Decimal {
	return decimal.NewFromBigInt(q.bits.ToBig(), 0).DivRound(scaleDec, 18)
}

// String renders the value as a decimal string without trailing zeros.
func (q Q60) String() string {
	return q.Decimal().String()
}

// Parse converts a non-negative decimal literal to Q60, truncating digits
// beyond the 60-bit resolution.
func Parse(s string) (Q60, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return Q60{}, ErrInvalidDecimal
	}
	d, err := decimal.NewFromString(trimmed)
	if err != nil {
		return Q60{}, fmt.Errorf("%w: %v", ErrInvalidDecimal, err)
	}
	return FromDecimal(d)
}

// FromDecimal converts a non-negative decimal to Q60, truncating toward zero.
func FromDecimal(d decimal.Decimal) (Q60, error) {
	if d.Sign() < 0 {
		return Q60{}, ErrInvalidDecimal
	}
	scaled := d.Mul(scaleDec).Truncate(0)
	return FromBig(scaled.BigInt())
}

// MustParse is Parse for constants in tests and fixtures.
func MustParse(s string) Q60 {
	q, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return q
}

// MarshalText encodes the value as a decimal string.
func (q Q60) MarshalText() ([]byte, error) {
	return []byte(q.String()), nil
}

// UnmarshalText decodes a decimal string.
func (q *Q60) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*q = parsed
	return nil
}
