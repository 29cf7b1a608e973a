// Package fixedpoint implements the WAD-scaled fixed-point number used for
// every share and reward-per-share value in the farm engine.
//
// A Decimal stores value * 10^18 in an unsigned integer bounded to 192 bits.
// Intermediate products are computed on 256 bits (512 bits for mul-div), so
// multiplying two WAD values and dividing by a third cannot overflow before
// the final range check. There is no floating point anywhere in this package.
package fixedpoint

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

var (
	// ErrOverflow is returned when a result does not fit the target width
	// (192 bits for a Decimal, 64 bits for an integer extraction).
	ErrOverflow = errors.New("fixedpoint: integer overflow")

	// ErrUnderflow is returned when a subtraction would go below zero.
	ErrUnderflow = errors.New("fixedpoint: subtraction underflow")

	// ErrDivisionByZero is returned when dividing by a zero value.
	ErrDivisionByZero = errors.New("fixedpoint: division by zero")

	// ErrInvalidText is returned by UnmarshalText for malformed input.
	ErrInvalidText = errors.New("fixedpoint: invalid decimal text")
)

// Scale is the number of fractional decimal digits carried by a Decimal.
const Scale = 18

const maxBits = 192

// wad is 10^18 as a 256-bit integer. Never mutate.
var wad = uint256.NewInt(1_000_000_000_000_000_000)

// Decimal is a non-negative fixed-point number. The zero value is 0.
// It is a plain value type: copying a Decimal copies the number.
type Decimal struct {
	v uint256.Int
}

// Zero returns 0.
func Zero() Decimal { return Decimal{} }

// One returns 1.
func One() Decimal {
	var d Decimal
	d.v.Set(wad)
	return d
}

// FromUint64 returns n as a Decimal. Every uint64 fits, so this cannot fail.
func FromUint64(n uint64) Decimal {
	var d Decimal
	d.v.Mul(uint256.NewInt(n), wad)
	return d
}

// FromScaled interprets raw as an already-scaled value (raw / 10^18).
func FromScaled(raw *uint256.Int) (Decimal, error) {
	if raw.BitLen() > maxBits {
		return Decimal{}, ErrOverflow
	}
	var d Decimal
	d.v.Set(raw)
	return d, nil
}

// FromScaledUint64 interprets raw as an already-scaled value.
func FromScaledUint64(raw uint64) Decimal {
	var d Decimal
	d.v.SetUint64(raw)
	return d
}

// Raw returns a copy of the scaled representation.
func (d Decimal) Raw() *uint256.Int {
	return d.v.Clone()
}

// RawAsWhole returns the scaled representation reinterpreted as a whole
// number, i.e. raw * 10^18. Delegated farms keep stake as raw integer
// counts and use this to feed reward math.
func (d Decimal) RawAsWhole() (Decimal, error) {
	return checked(new(uint256.Int).MulOverflow(&d.v, wad))
}

func checked(z *uint256.Int, overflow bool) (Decimal, error) {
	if overflow || z.BitLen() > maxBits {
		return Decimal{}, ErrOverflow
	}
	return Decimal{v: *z}, nil
}

// Add returns d + o.
func (d Decimal) Add(o Decimal) (Decimal, error) {
	return checked(new(uint256.Int).AddOverflow(&d.v, &o.v))
}

// Sub returns d - o. Subtracting more than d holds is ErrUnderflow.
func (d Decimal) Sub(o Decimal) (Decimal, error) {
	if d.v.Lt(&o.v) {
		return Decimal{}, ErrUnderflow
	}
	var r Decimal
	r.v.Sub(&d.v, &o.v)
	return r, nil
}

// SaturatingSub returns d - o, or 0 when o > d.
func (d Decimal) SaturatingSub(o Decimal) Decimal {
	if d.v.Lt(&o.v) {
		return Decimal{}
	}
	var r Decimal
	r.v.Sub(&d.v, &o.v)
	return r
}

// Mul returns d * o, rounded down.
func (d Decimal) Mul(o Decimal) (Decimal, error) {
	return checked(new(uint256.Int).MulDivOverflow(&d.v, &o.v, wad))
}

// MulUint64 returns d * n.
func (d Decimal) MulUint64(n uint64) (Decimal, error) {
	return checked(new(uint256.Int).MulOverflow(&d.v, uint256.NewInt(n)))
}

// Div returns d / o, rounded down.
func (d Decimal) Div(o Decimal) (Decimal, error) {
	if o.v.IsZero() {
		return Decimal{}, ErrDivisionByZero
	}
	return checked(new(uint256.Int).MulDivOverflow(&d.v, wad, &o.v))
}

// DivUint64 returns d / n, rounded down.
func (d Decimal) DivUint64(n uint64) (Decimal, error) {
	if n == 0 {
		return Decimal{}, ErrDivisionByZero
	}
	var r Decimal
	r.v.Div(&d.v, uint256.NewInt(n))
	return r, nil
}

// Floor returns the integer part of d.
func (d Decimal) Floor() (uint64, error) {
	q := new(uint256.Int).Div(&d.v, wad)
	if !q.IsUint64() {
		return 0, ErrOverflow
	}
	return q.Uint64(), nil
}

// Ceil returns the smallest integer >= d.
func (d Decimal) Ceil() (uint64, error) {
	q, rem := new(uint256.Int), new(uint256.Int)
	q.DivMod(&d.v, wad, rem)
	if !rem.IsZero() {
		q.AddUint64(q, 1)
	}
	if !q.IsUint64() {
		return 0, ErrOverflow
	}
	return q.Uint64(), nil
}

// Cmp compares d and o and returns -1, 0 or +1.
func (d Decimal) Cmp(o Decimal) int { return d.v.Cmp(&o.v) }

func (d Decimal) Lt(o Decimal) bool  { return d.v.Lt(&o.v) }
func (d Decimal) Gt(o Decimal) bool  { return d.v.Gt(&o.v) }
func (d Decimal) Eq(o Decimal) bool  { return d.v.Eq(&o.v) }
func (d Decimal) IsZero() bool       { return d.v.IsZero() }
func (d Decimal) IsPositive() bool   { return !d.v.IsZero() }
func (d Decimal) Lte(o Decimal) bool { return !d.v.Gt(&o.v) }

// Min returns the smaller of a and b.
func Min(a, b Decimal) Decimal {
	if a.Lt(b) {
		return a
	}
	return b
}

// MulDivUint64 returns d * b / c, rounded down.
func (d Decimal) MulDivUint64(b, c uint64) (Decimal, error) {
	if c == 0 {
		return Decimal{}, ErrDivisionByZero
	}
	return checked(new(uint256.Int).MulDivOverflow(&d.v, uint256.NewInt(b), uint256.NewInt(c)))
}

// RawUint64 returns the scaled representation as an integer. Delegated
// farms store whole stake counts this way.
func (d Decimal) RawUint64() (uint64, error) {
	if !d.v.IsUint64() {
		return 0, ErrOverflow
	}
	return d.v.Uint64(), nil
}

// FullMulDiv returns a * b / c with a 512-bit intermediate, rounded down.
func FullMulDiv(a Decimal, b uint64, c Decimal) (Decimal, error) {
	if c.v.IsZero() {
		return Decimal{}, ErrDivisionByZero
	}
	num, overflow := new(uint256.Int).MulOverflow(uint256.NewInt(b), wad)
	if overflow {
		return Decimal{}, ErrOverflow
	}
	return checked(new(uint256.Int).MulDivOverflow(&a.v, num, &c.v))
}

// ToDecimal renders d as an exact shopspring decimal for display and
// NUMERIC storage.
func (d Decimal) ToDecimal() decimal.Decimal {
	return decimal.NewFromBigInt(d.v.ToBig(), -Scale)
}

// FromDecimal converts an exact shopspring decimal. Negative values, values
// with more than 18 fractional digits and values beyond 192 bits are
// rejected.
func FromDecimal(x decimal.Decimal) (Decimal, error) {
	if x.IsNegative() {
		return Decimal{}, fmt.Errorf("%w: negative value %s", ErrInvalidText, x)
	}
	scaled := x.Shift(Scale)
	if !scaled.IsInteger() {
		return Decimal{}, fmt.Errorf("%w: more than %d fractional digits in %s", ErrInvalidText, Scale, x)
	}
	return fromBig(scaled.BigInt())
}

func fromBig(b *big.Int) (Decimal, error) {
	z, overflow := uint256.FromBig(b)
	if overflow {
		return Decimal{}, ErrOverflow
	}
	return FromScaled(z)
}

// String renders d with all 18 fractional digits.
func (d Decimal) String() string {
	return d.ToDecimal().StringFixed(Scale)
}

// MarshalText implements encoding.TextMarshaler.
func (d Decimal) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Decimal) UnmarshalText(text []byte) error {
	x, err := decimal.NewFromString(string(text))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidText, err)
	}
	parsed, err := FromDecimal(x)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
