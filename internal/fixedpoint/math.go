package fixedpoint

import (
	"fmt"
	"math/bits"

	"github.com/holiman/uint256"
)

// BpsDivFactor is the denominator of every basis-point value.
const BpsDivFactor uint64 = 10_000

var powersOfTen = [20]uint64{
	1,
	10,
	100,
	1_000,
	10_000,
	100_000,
	1_000_000,
	10_000_000,
	100_000_000,
	1_000_000_000,
	10_000_000_000,
	100_000_000_000,
	1_000_000_000_000,
	10_000_000_000_000,
	100_000_000_000_000,
	1_000_000_000_000_000,
	10_000_000_000_000_000,
	100_000_000_000_000_000,
	1_000_000_000_000_000_000,
	10_000_000_000_000_000_000,
}

// TenPow returns 10^x for x in [0, 19].
func TenPow(x uint64) (uint64, error) {
	if x >= uint64(len(powersOfTen)) {
		return 0, fmt.Errorf("%w: 10^%d does not fit in 64 bits", ErrOverflow, x)
	}
	return powersOfTen[x], nil
}

// MulDiv64 returns a * b / c with a 128-bit intermediate, rounded down.
func MulDiv64(a, b, c uint64) (uint64, error) {
	if c == 0 {
		return 0, ErrDivisionByZero
	}
	hi, lo := bits.Mul64(a, b)
	if hi >= c {
		return 0, ErrOverflow
	}
	q, _ := bits.Div64(hi, lo, c)
	return q, nil
}

// Add64 returns a + b or ErrOverflow.
func Add64(a, b uint64) (uint64, error) {
	sum, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return 0, ErrOverflow
	}
	return sum, nil
}

// Sub64 returns a - b or ErrUnderflow.
func Sub64(a, b uint64) (uint64, error) {
	if b > a {
		return 0, ErrUnderflow
	}
	return a - b, nil
}

// Mul64 returns a * b or ErrOverflow.
func Mul64(a, b uint64) (uint64, error) {
	hi, lo := bits.Mul64(a, b)
	if hi != 0 {
		return 0, ErrOverflow
	}
	return lo, nil
}

// Wide is a checked 256-bit accumulator for integer pipelines whose
// intermediates exceed 64 bits but whose result must fit in one.
type Wide struct {
	v   uint256.Int
	err error
}

// NewWide starts a pipeline at n.
func NewWide(n uint64) *Wide {
	w := &Wide{}
	w.v.SetUint64(n)
	return w
}

// Mul multiplies the accumulator by n.
func (w *Wide) Mul(n uint64) *Wide {
	if w.err != nil {
		return w
	}
	if _, overflow := w.v.MulOverflow(&w.v, uint256.NewInt(n)); overflow {
		w.err = ErrOverflow
	}
	return w
}

// Div divides the accumulator by n, rounding down.
func (w *Wide) Div(n uint64) *Wide {
	if w.err != nil {
		return w
	}
	if n == 0 {
		w.err = ErrDivisionByZero
		return w
	}
	w.v.Div(&w.v, uint256.NewInt(n))
	return w
}

// Uint64 returns the accumulated value, or ErrOverflow when it no longer
// fits in 64 bits.
func (w *Wide) Uint64() (uint64, error) {
	if w.err != nil {
		return 0, w.err
	}
	if !w.v.IsUint64() {
		return 0, ErrOverflow
	}
	return w.v.Uint64(), nil
}

// Fail poisons the pipeline with err unless it already failed.
func (w *Wide) Fail(err error) *Wide {
	if w.err == nil {
		w.err = err
	}
	return w
}
