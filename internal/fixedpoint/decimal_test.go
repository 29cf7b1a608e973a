package fixedpoint

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(t *testing.T, s string) Decimal {
	t.Helper()
	var d Decimal
	require.NoError(t, d.UnmarshalText([]byte(s)))
	return d
}

// --- Arithmetic ---

func TestAddSub(t *testing.T) {
	a := FromUint64(7)
	b := dec(t, "2.5")

	sum, err := a.Add(b)
	require.NoError(t, err)
	assert.Equal(t, "9.500000000000000000", sum.String())

	diff, err := sum.Sub(a)
	require.NoError(t, err)
	assert.True(t, diff.Eq(b))

	_, err = b.Sub(a)
	assert.ErrorIs(t, err, ErrUnderflow)
	assert.True(t, b.SaturatingSub(a).IsZero())
}

func TestMulDivRoundDown(t *testing.T) {
	third, err := One().DivUint64(3)
	require.NoError(t, err)
	assert.Equal(t, "0.333333333333333333", third.String())

	back, err := third.MulUint64(3)
	require.NoError(t, err)
	assert.True(t, back.Lt(One()), "floor division never rounds up")

	q, err := FromUint64(10).Div(FromUint64(4))
	require.NoError(t, err)
	assert.Equal(t, "2.500000000000000000", q.String())

	p, err := q.Mul(dec(t, "0.4"))
	require.NoError(t, err)
	assert.True(t, p.Eq(One()))

	_, err = One().Div(Zero())
	assert.ErrorIs(t, err, ErrDivisionByZero)
}

func TestOverflowAt192Bits(t *testing.T) {
	max := new(uint256.Int).Lsh(uint256.NewInt(1), 192)
	max.SubUint64(max, 1)
	top, err := FromScaled(max)
	require.NoError(t, err)

	_, err = top.Add(FromScaledUint64(1))
	assert.ErrorIs(t, err, ErrOverflow)

	_, err = top.MulUint64(2)
	assert.ErrorIs(t, err, ErrOverflow)

	_, err = FromScaled(new(uint256.Int).Lsh(uint256.NewInt(1), 192))
	assert.ErrorIs(t, err, ErrOverflow)
}

func TestFloorCeil(t *testing.T) {
	x := dec(t, "41.000000000000000001")
	f, err := x.Floor()
	require.NoError(t, err)
	assert.Equal(t, uint64(41), f)

	c, err := x.Ceil()
	require.NoError(t, err)
	assert.Equal(t, uint64(42), c)

	exact := FromUint64(42)
	c, err = exact.Ceil()
	require.NoError(t, err)
	assert.Equal(t, uint64(42), c)

	big, err := FromUint64(math.MaxUint64).Add(One())
	require.NoError(t, err)
	_, err = big.Floor()
	assert.ErrorIs(t, err, ErrOverflow)
}

func TestFullMulDivAvoidsIntermediateOverflow(t *testing.T) {
	// a * b alone would exceed 192 bits: (2^100 * 1e18) * 2^63 * 1e18.
	a := FromUint64(1 << 50)
	a, err := a.MulUint64(1 << 50)
	require.NoError(t, err)
	c, err := a.MulUint64(2)
	require.NoError(t, err)

	got, err := FullMulDiv(a, 1<<63, c)
	require.NoError(t, err)
	assert.True(t, got.Eq(FromUint64(1<<62)))
}

func TestRawAsWhole(t *testing.T) {
	raw := FromScaledUint64(500)
	whole, err := raw.RawAsWhole()
	require.NoError(t, err)
	assert.True(t, whole.Eq(FromUint64(500)))

	n, err := raw.RawUint64()
	require.NoError(t, err)
	assert.Equal(t, uint64(500), n)

	_, err = FromUint64(100).RawUint64()
	assert.ErrorIs(t, err, ErrOverflow)
}

func TestMulDivUint64(t *testing.T) {
	got, err := FromUint64(1000).MulDivUint64(3, 7)
	require.NoError(t, err)
	assert.Equal(t, "428.571428571428571428", got.String())

	_, err = One().MulDivUint64(1, 0)
	assert.ErrorIs(t, err, ErrDivisionByZero)
}

// --- Integer helpers ---

func TestMulDiv64(t *testing.T) {
	got, err := MulDiv64(math.MaxUint64, 2500, 10_000)
	require.NoError(t, err)
	assert.Equal(t, uint64(math.MaxUint64/4), got)

	_, err = MulDiv64(math.MaxUint64, 3, 2)
	assert.ErrorIs(t, err, ErrOverflow)

	_, err = MulDiv64(1, 1, 0)
	assert.ErrorIs(t, err, ErrDivisionByZero)
}

func TestTenPow(t *testing.T) {
	p, err := TenPow(19)
	require.NoError(t, err)
	assert.Equal(t, uint64(10_000_000_000_000_000_000), p)

	_, err = TenPow(20)
	assert.ErrorIs(t, err, ErrOverflow)
}

func TestWidePipeline(t *testing.T) {
	v, err := NewWide(math.MaxUint64).Mul(1000).Div(1000).Uint64()
	require.NoError(t, err)
	assert.Equal(t, uint64(math.MaxUint64), v)

	_, err = NewWide(math.MaxUint64).Mul(2).Uint64()
	assert.ErrorIs(t, err, ErrOverflow)
}

// --- Encoding ---

func TestJSONIsExact(t *testing.T) {
	type wrapper struct {
		Share Decimal `json:"share"`
	}
	in := wrapper{Share: dec(t, "123.000000000000000007")}
	data, err := json.Marshal(in)
	require.NoError(t, err)
	assert.JSONEq(t, `{"share":"123.000000000000000007"}`, string(data))

	var out wrapper
	require.NoError(t, json.Unmarshal(data, &out))
	assert.True(t, out.Share.Eq(in.Share))
}

func TestFromDecimalRejectsInvalid(t *testing.T) {
	_, err := FromDecimal(decimal.RequireFromString("-1"))
	assert.ErrorIs(t, err, ErrInvalidText)

	_, err = FromDecimal(decimal.RequireFromString("0.0000000000000000001"))
	assert.ErrorIs(t, err, ErrInvalidText)

	var d Decimal
	assert.Error(t, d.UnmarshalText([]byte("abc")))
}
