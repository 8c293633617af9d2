package query

import (
	"testing"

	fpmath "VestLedger/internal/math"
)

// The query side re-derives vesting values from projected columns; these must
// agree with the in-memory account math for the same inputs.

func TestElapsedSeconds_Clamped(t *testing.T) {
	start, stop := int64(1000), int64(2000)

	if got := elapsedSeconds(start, stop, 500); got != 0 {
		t.Errorf("before start: got %d, want 0", got)
	}
	if got := elapsedSeconds(start, stop, 1000); got != 0 {
		t.Errorf("at start: got %d, want 0", got)
	}
	if got := elapsedSeconds(start, stop, 1400); got != 400 {
		t.Errorf("mid window: got %d, want 400", got)
	}
	if got := elapsedSeconds(start, stop, 2000); got != 1000 {
		t.Errorf("at stop: got %d, want 1000", got)
	}
	if got := elapsedSeconds(start, stop, 9999); got != 1000 {
		t.Errorf("after stop: got %d, want 1000", got)
	}
}

func TestVestedAmount_ExactAtStop(t *testing.T) {
	// 2999 over 1000s does not divide evenly; the stop-time branch must
	// still return the exact total
	total := int64(2999)
	start, stop := int64(0), int64(1000)
	rate := fpmath.ComputeRatePerSecond(total, stop-start)

	if got := vestedAmount(total, start, stop, rate, stop); got != total {
		t.Errorf("at stop: got %d, want %d", got, total)
	}
	if got := vestedAmount(total, start, stop, rate, stop+500); got != total {
		t.Errorf("past stop: got %d, want %d", got, total)
	}

	mid := vestedAmount(total, start, stop, rate, 500)
	if mid < 1498 || mid > 1500 {
		t.Errorf("midpoint: got %d, want ~1499", mid)
	}
}

func TestVestedAmount_MatchesRateFormula(t *testing.T) {
	total := int64(2_000_000_000)
	start, stop := int64(0), int64(300)
	rate := fpmath.ComputeRatePerSecond(total, stop-start)

	got := vestedAmount(total, start, stop, rate, 150)
	want := fpmath.VestedFromRate(150, rate)
	if got != want {
		t.Errorf("mid window: got %d, want %d", got, want)
	}
	if got != total/2 {
		t.Errorf("half of an evenly divisible stream: got %d, want %d", got, total/2)
	}
}

func TestWithdrawnAmount(t *testing.T) {
	active := &StreamResponse{Status: "active", TotalAmount: 2000, RemainingBalance: 1200}
	if got := withdrawnAmount(active); got != 800 {
		t.Errorf("active: got %d, want 800", got)
	}

	// remaining_balance is zeroed at cancellation, so the gap no longer
	// measures withdrawals
	cancelled := &StreamResponse{Status: "cancelled", TotalAmount: 2000, RemainingBalance: 0}
	if got := withdrawnAmount(cancelled); got != 0 {
		t.Errorf("cancelled: got %d, want 0", got)
	}
}
