package fixed

import (
	"encoding/json"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFromUint64Floor(t *testing.T) {
	for _, n := range []uint64{0, 1, 7, 1_000_000, 1<<63 + 5} {
		got, err := FromUint64(n).Floor()
		require.NoError(t, err)
		require.Equal(t, n, got)
	}
}

func TestPackedPartsRoundTrip(t *testing.T) {
	q := MustParse("12345.678")
	hi, lo := q.Parts()
	require.Equal(t, 0, FromParts(hi, lo).Cmp(q))

	maxHi, maxLo := Max().Parts()
	require.Equal(t, ^uint64(0), maxHi)
	require.Equal(t, ^uint64(0), maxLo)
}

func TestMulDiv(t *testing.T) {
	product, err := MustParse("1.5").Mul(FromUint64(2))
	require.NoError(t, err)
	require.Equal(t, "3", product.String())

	quo, err := FromUint64(1000).Div(MustParse("1.25"))
	require.NoError(t, err)
	require.Equal(t, 0, quo.Cmp(FromUint64(800)))

	_, err = One().Div(Zero())
	require.ErrorIs(t, err, ErrDivisionByZero)

	_, err = Max().Mul(FromUint64(2))
	require.ErrorIs(t, err, ErrOverflow)
	require.Equal(t, 0, Max().SaturatingMul(FromUint64(2)).Cmp(Max()))

	sat, err := Max().SaturatingDiv(MustParse("0.5"))
	require.NoError(t, err)
	require.Equal(t, 0, sat.Cmp(Max()))
}

func TestAddSub(t *testing.T) {
	_, err := Max().Add(One())
	require.ErrorIs(t, err, ErrOverflow)
	require.Equal(t, 0, Max().SaturatingAdd(One()).Cmp(Max()))

	_, err = One().Sub(FromUint64(2))
	require.ErrorIs(t, err, ErrUnderflow)

	diff, err := FromUint64(5).Sub(FromUint64(2))
	require.NoError(t, err)
	require.Equal(t, "3", diff.String())
}

func TestRawIntegerHelpers(t *testing.T) {
	require.Equal(t, 0, Max().MulUint64(2).Cmp(Max()))
	require.Equal(t, 0, FromUint64(9).DivUint64(3).Cmp(FromUint64(3)))

	ratio, err := FromUint64(10).Ratio(FromUint64(4))
	require.NoError(t, err)
	require.Equal(t, uint64(2), ratio)

	_, err = One().Ratio(Zero())
	require.ErrorIs(t, err, ErrDivisionByZero)
}

func TestPow10Bounds(t *testing.T) {
	p, err := Pow10(MaxDecimals)
	require.NoError(t, err)
	require.Equal(t, "100000000000000000000", p.String())

	_, err = Pow10(MaxDecimals + 1)
	require.ErrorIs(t, err, ErrOverflow)
}

func TestParseAndJSON(t *testing.T) {
	_, err := Parse("-1")
	require.ErrorIs(t, err, ErrInvalidDecimal)
	_, err = Parse("not-a-number")
	require.ErrorIs(t, err, ErrInvalidDecimal)

	type payload struct {
		Price Q60 `json:"price"`
	}
	raw, err := json.Marshal(payload{Price: MustParse("1.5")})
	require.NoError(t, err)
	require.JSONEq(t, `{"price":"1.5"}`, string(raw))

	var decoded payload
	require.NoError(t, json.Unmarshal([]byte(`{"price":"2.25"}`), &decoded))
	require.Equal(t, 0, decoded.Price.Cmp(MustParse("2.25")))
}

func TestFromBig(t *testing.T) {
	_, err := FromBig(big.NewInt(-1))
	require.ErrorIs(t, err, ErrUnderflow)

	tooWide := new(big.Int).Lsh(big.NewInt(1), 128)
	_, err = FromBig(tooWide)
	require.ErrorIs(t, err, ErrOverflow)

	q := MustParse("3.75")
	back, err := FromBig(q.Big())
	require.NoError(t, err)
	require.Equal(t, 0, back.Cmp(q))
}
