package math

import (
	"math/big"
	"sync"
)

// All monetary quantities share a single fixed-point scale: token amounts,
// USD prices, USD values, offering ratios and bid percentages are int64
// values carrying six decimal places. One whole unit is 1_000_000.
const (
	DecimalPrecision = 6
	Scale            = 1_000_000
)

// Ratio constants expressed at Scale (parts-per-million).
const (
	RatioZero = 0
	RatioOne  = Scale
)

type RoundingMode int

const (
	RoundHalfEven RoundingMode = iota // Banker's rounding (default)
	RoundDown
	RoundUp
)

var int128Pool = &sync.Pool{
	New: func() interface{} {
		return new(big.Int)
	},
}

func getInt128() *big.Int {
	return int128Pool.Get().(*big.Int)
}

func putInt128(v *big.Int) {
	v.SetInt64(0) // Clear before returning to pool
	int128Pool.Put(v)
}

// MulInt128 performs a * b using int128 to prevent overflow.
// The caller owns the returned value until it is released via DivInt128.
func MulInt128(a, b int64) *big.Int {
	result := getInt128()
	result.Mul(big.NewInt(a), big.NewInt(b))
	return result
}

// DivInt128 performs numerator / denominator with rounding and releases
// the numerator back to the pool.
func DivInt128(numerator *big.Int, denominator int64, roundingMode RoundingMode) int64 {
	denom := big.NewInt(denominator)
	quotient := getInt128()
	remainder := getInt128()

	quotient.DivMod(numerator, denom, remainder)

	result := quotient.Int64()

	switch roundingMode {
	case RoundHalfEven:
		half := big.NewInt(denominator / 2)
		cmp := remainder.Cmp(half)
		if cmp > 0 {
			result++
		} else if cmp == 0 && denominator%2 == 0 {
			if result%2 != 0 {
				result++
			}
		}
	case RoundUp:
		if remainder.Sign() > 0 {
			result++
		}
	}

	putInt128(quotient)
	putInt128(remainder)
	putInt128(numerator)

	return result
}

// MulDiv computes a * b / denominator through an int128 intermediate.
func MulDiv(a, b, denominator int64, roundingMode RoundingMode) int64 {
	return DivInt128(MulInt128(a, b), denominator, roundingMode)
}

// ValueOf converts a token amount to its USD value at the given price.
// Both operands are at Scale; so is the result.
func ValueOf(amount, price int64) int64 {
	return MulDiv(amount, price, Scale, RoundHalfEven)
}

// ApplyRatio scales an amount by a ratio expressed at Scale.
// Used for offering-ratio slices and bid percentages; rounds down so a
// partial fill can never exceed the balance it is carved from.
func ApplyRatio(amount, ratio int64) int64 {
	return MulDiv(amount, ratio, Scale, RoundDown)
}

// ToUnits converts a USD value into token units at the given token price.
func ToUnits(value, price int64) int64 {
	return MulDiv(value, Scale, price, RoundHalfEven)
}

// Lerp linearly interpolates between (t0,r0) and (t1,r1) at t.
// t must lie in [t0, t1]; t0 < t1.
func Lerp(t, t0, t1, r0, r1 int64) int64 {
	num := MulInt128(t-t0, r1-r0)
	return r0 + DivInt128(num, t1-t0, RoundDown)
}
