package math

import (
	"math/big"
	"sync"
)

// RatePrecision is the fixed scaling constant for per-second vesting rates.
// Rates are stored as (RatePrecision * totalAmount) / duration so that
// rounding loss is deferred to the final division when computing vested
// amounts. Cumulative rounding error over a full stream stays strictly below
// one base unit.
const RatePrecision int64 = 1_000_000

// Int128 is a pooled big.Int for intermediate calculations
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

// MultiplyInt128 performs a * b using int128 to prevent overflow
func MultiplyInt128(a, b int64) *big.Int {
	result := getInt128()
	result.Mul(big.NewInt(a), big.NewInt(b))
	return result
}

// DivideInt128 performs numerator / denominator with rounding
func DivideInt128(numerator *big.Int, denominator int64, roundingMode RoundingMode) int64 {
	denom := big.NewInt(denominator)
	quotient := getInt128()
	remainder := getInt128()

	quotient.DivMod(numerator, denom, remainder)

	result := quotient.Int64()

	switch roundingMode {
	case RoundUp:
		if remainder.Sign() != 0 {
			result++
		}
	case RoundHalfEven:
		// Banker's rounding: if remainder == denominator/2, round to even
		half := big.NewInt(denominator / 2)
		cmp := remainder.Cmp(half)

		if cmp > 0 {
			result++
		} else if cmp == 0 && denominator%2 == 0 {
			if result%2 != 0 {
				result++
			}
		}
	}

	putInt128(quotient)
	putInt128(remainder)

	return result
}

type RoundingMode int

const (
	// RoundDown is the default for all vesting entitlement math: accrued
	// amounts never round up past what has actually elapsed.
	RoundDown RoundingMode = iota
	RoundUp
	RoundHalfEven
)

// ComputeRatePerSecond derives the scaled per-second rate for a stream:
// (RatePrecision * totalAmount) / duration. Multiplying before dividing is
// what keeps sub-unit-per-second streams from flooring to a zero rate.
func ComputeRatePerSecond(totalAmount, durationSeconds int64) int64 {
	scaled := MultiplyInt128(RatePrecision, totalAmount)
	result := DivideInt128(scaled, durationSeconds, RoundDown)
	putInt128(scaled)
	return result
}

// VestedFromRate computes the gross vested amount for an elapsed interval:
// (elapsedSeconds * ratePerSecond) / RatePrecision, rounded down.
// Callers own the end-of-stream exact-total branch; this formula is only
// valid strictly inside the vesting window.
func VestedFromRate(elapsedSeconds, ratePerSecond int64) int64 {
	raw := MultiplyInt128(elapsedSeconds, ratePerSecond)
	result := DivideInt128(raw, RatePrecision, RoundDown)
	putInt128(raw)
	return result
}
