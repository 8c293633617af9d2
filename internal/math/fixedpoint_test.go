package math_test

import (
	fpmath "VestLedger/internal/math"
	"testing"
)

func TestComputeRatePerSecond_ExactDivision(t *testing.T) {
	// 2000 units over 1000 seconds -> 2 units/sec, scaled by 1e6
	rate := fpmath.ComputeRatePerSecond(2000, 1000)
	if rate != 2_000_000 {
		t.Errorf("rate: got %d, want 2_000_000", rate)
	}
}

func TestComputeRatePerSecond_NonIntegerRate(t *testing.T) {
	// 1000 units over 300 seconds -> 3.333333 units/sec after scaling
	rate := fpmath.ComputeRatePerSecond(1000, 300)
	if rate != 3_333_333 {
		t.Errorf("rate: got %d, want 3_333_333", rate)
	}
}

func TestVestedFromRate_HalfwayExact(t *testing.T) {
	// 2000 USDC with 6 decimals over 300 seconds: at t=150 exactly half
	// must have vested — the scaled rate avoids truncation drift.
	rate := fpmath.ComputeRatePerSecond(2_000_000_000, 300)
	vested := fpmath.VestedFromRate(150, rate)
	if vested != 1_000_000_000 {
		t.Errorf("vested at halfway: got %d, want 1_000_000_000", vested)
	}
}

func TestVestedFromRate_NeverExceedsLinear(t *testing.T) {
	// For an awkward rate, the scaled formula must stay within one base unit
	// below the ideal linear value and never exceed it.
	total := int64(1_000_003)
	duration := int64(77_777)
	rate := fpmath.ComputeRatePerSecond(total, duration)

	for _, elapsed := range []int64{1, 13, 500, 40_000, 77_776} {
		vested := fpmath.VestedFromRate(elapsed, rate)

		ideal := fpmath.MultiplyInt128(total, elapsed)
		idealFloor := fpmath.DivideInt128(ideal, duration, fpmath.RoundDown)

		if vested > idealFloor {
			t.Errorf("elapsed=%d: vested %d exceeds linear floor %d", elapsed, vested, idealFloor)
		}
		if idealFloor-vested > 1 {
			t.Errorf("elapsed=%d: vested %d drifts more than one unit below %d", elapsed, vested, idealFloor)
		}
	}
}

func TestDivideInt128_RoundDown(t *testing.T) {
	num := fpmath.MultiplyInt128(7, 1)
	got := fpmath.DivideInt128(num, 2, fpmath.RoundDown)
	if got != 3 {
		t.Errorf("7/2 round-down: got %d, want 3", got)
	}
}

func TestDivideInt128_RoundUp(t *testing.T) {
	num := fpmath.MultiplyInt128(7, 1)
	got := fpmath.DivideInt128(num, 2, fpmath.RoundUp)
	if got != 4 {
		t.Errorf("7/2 round-up: got %d, want 4", got)
	}
}

func TestDivideInt128_RoundHalfEven(t *testing.T) {
	// 5/2 = 2.5 -> rounds to even 2; 7/2 = 3.5 -> rounds to even 4
	five := fpmath.MultiplyInt128(5, 1)
	if got := fpmath.DivideInt128(five, 2, fpmath.RoundHalfEven); got != 2 {
		t.Errorf("5/2 banker's: got %d, want 2", got)
	}
	seven := fpmath.MultiplyInt128(7, 1)
	if got := fpmath.DivideInt128(seven, 2, fpmath.RoundHalfEven); got != 4 {
		t.Errorf("7/2 banker's: got %d, want 4", got)
	}
}

func TestMultiplyInt128_NoOverflow(t *testing.T) {
	// Values whose product overflows int64 must survive the int128 path.
	a := int64(4_000_000_000)
	b := int64(4_000_000_000)
	product := fpmath.MultiplyInt128(a, b)

	got := fpmath.DivideInt128(product, b, fpmath.RoundDown)
	if got != a {
		t.Errorf("(a*b)/b: got %d, want %d", got, a)
	}
}
