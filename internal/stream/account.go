package stream

import (
	"fmt"

	"VestLedger/internal/asset"
	fpmath "VestLedger/internal/math"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a vesting stream
type Status int32

const (
	// StatusActive: time-based accrual in effect, no cancellation yet
	StatusActive Status = iota
	// StatusCancelled: recipient entitlement frozen, accrual permanently stopped
	StatusCancelled
)

func (s Status) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// VestingAccount owns all state and business rules for one linear vesting
// stream between exactly two parties. Configuration is fixed at Initialize;
// balances mutate only through Withdraw, Cancel and RecoverExcess.
//
// All mutations follow effects-before-transfer ordering: the balance change is
// committed to the struct BEFORE the external asset transfer is invoked, so a
// re-entrant call during the transfer observes the already-decremented state.
// A failed transfer restores exactly the delta of the failing call.
type VestingAccount struct {
	// StreamID doubles as the stream's account identity on the asset ledger:
	// deposits fund this account, withdrawals and recoveries drain it.
	StreamID  uuid.UUID
	Payer     uuid.UUID
	Recipient uuid.UUID
	Asset     string

	TotalAmount int64
	StartTime   int64 // unix seconds
	StopTime    int64 // unix seconds

	// RatePerSecond is scaled by fpmath.RatePrecision (computed once)
	RatePerSecond int64

	// RemainingBalance is the upper bound of what is still owed in total.
	// Starts at TotalAmount, decreases only via active-state withdrawals,
	// and is zeroed at cancellation.
	RemainingBalance int64

	// RecipientCancelBalance is zero while active; once cancelled it holds
	// the recipient's frozen entitlement and decreases via post-cancel
	// withdrawals.
	RecipientCancelBalance int64

	Status      Status
	Initialized bool

	// Version increments on every mutation (projection ordering)
	Version int64
}

// NewVestingAccount constructs an empty, uninitialized account under the given
// identity. The factory assigns the identity deterministically before calling
// Initialize.
func NewVestingAccount(streamID uuid.UUID) *VestingAccount {
	return &VestingAccount{StreamID: streamID}
}

// Initialize sets the immutable stream configuration. Validation order is
// fixed and fails fast on the first violation. May be invoked at most once.
func (a *VestingAccount) Initialize(
	payer, recipient uuid.UUID,
	totalAmount int64,
	assetSymbol string,
	startTime, stopTime int64,
) error {
	if a.Initialized {
		return ErrAlreadyInitialized
	}
	if payer == uuid.Nil {
		return ErrNilPayer
	}
	if recipient == uuid.Nil {
		return ErrNilRecipient
	}
	if recipient == a.StreamID {
		return ErrRecipientIsStream
	}
	if totalAmount <= 0 {
		return ErrZeroAmount
	}
	if stopTime <= startTime {
		return ErrInvalidWindow
	}

	duration := stopTime - startTime
	if totalAmount < duration {
		// The per-second rate would floor to zero — a meaningless stream
		return ErrAmountBelowDuration
	}

	a.Payer = payer
	a.Recipient = recipient
	a.Asset = assetSymbol
	a.TotalAmount = totalAmount
	a.StartTime = startTime
	a.StopTime = stopTime
	a.RatePerSecond = fpmath.ComputeRatePerSecond(totalAmount, duration)
	a.RemainingBalance = totalAmount
	a.Status = StatusActive
	a.Initialized = true
	a.Version++

	return nil
}

// Duration returns the vesting window length in seconds.
func (a *VestingAccount) Duration() int64 {
	return a.StopTime - a.StartTime
}

// ElapsedTime returns the number of seconds of the window consumed at `now`,
// clamped to [0, duration].
func (a *VestingAccount) ElapsedTime(now int64) int64 {
	if now <= a.StartTime {
		return 0
	}
	if now >= a.StopTime {
		return a.Duration()
	}
	return now - a.StartTime
}

// VestedAmount returns the recipient's gross entitlement at `now`, before
// withdrawals and ignoring cancellation. At or past StopTime it is exactly
// TotalAmount — an explicit branch, not the rate formula, so no dust remains
// however poorly TotalAmount divides the duration.
func (a *VestingAccount) VestedAmount(now int64) int64 {
	if now <= a.StartTime {
		return 0
	}
	if now >= a.StopTime {
		return a.TotalAmount
	}
	return fpmath.VestedFromRate(a.ElapsedTime(now), a.RatePerSecond)
}

// withdrawn is the amount already paid out while active, tracked implicitly
// as the gap between TotalAmount and RemainingBalance.
func (a *VestingAccount) withdrawn() int64 {
	return a.TotalAmount - a.RemainingBalance
}

// recipientNet is the recipient's current withdrawable balance in the active
// state: gross vested minus everything already withdrawn.
func (a *VestingAccount) recipientNet(now int64) int64 {
	return a.VestedAmount(now) - a.withdrawn()
}

// BalanceOf returns the queried party's current entitlement at `now`.
// Once cancelled, the recipient's balance is the frozen cancel balance and is
// no longer time-dependent; the payer's recoverable excess is a separate
// query (RecoverableExcess) because it tracks the live ledger balance.
func (a *VestingAccount) BalanceOf(who uuid.UUID, now int64) int64 {
	if !a.Initialized {
		return 0
	}

	if a.Status == StatusCancelled {
		if who == a.Recipient {
			return a.RecipientCancelBalance
		}
		return 0
	}

	switch who {
	case a.Recipient:
		return a.recipientNet(now)
	case a.Payer:
		return a.RemainingBalance - a.recipientNet(now)
	default:
		return 0
	}
}

// Withdraw pays `amount` of the asset to the recipient. Callable by either
// party. In the active state the amount is checked against the time-based net
// balance and decrements RemainingBalance; once cancelled it draws from the
// frozen RecipientCancelBalance instead.
func (a *VestingAccount) Withdraw(caller uuid.UUID, amount, now int64, ledger asset.Ledger) error {
	if !a.Initialized {
		return ErrNotInitialized
	}
	if caller != a.Payer && caller != a.Recipient {
		return ErrNotAuthorized
	}
	if amount <= 0 {
		return ErrZeroWithdrawal
	}

	if a.Status == StatusCancelled {
		if amount > a.RecipientCancelBalance {
			return fmt.Errorf("%w: have=%d, need=%d", ErrInsufficientBalance, a.RecipientCancelBalance, amount)
		}

		// Commit before transfer: a nested call sees the decremented balance
		a.RecipientCancelBalance -= amount
		a.Version++

		if err := ledger.Transfer(a.StreamID, a.Recipient, amount); err != nil {
			a.RecipientCancelBalance += amount
			a.Version++
			return fmt.Errorf("asset transfer: %w", err)
		}
		return nil
	}

	available := a.recipientNet(now)
	if amount > available {
		return fmt.Errorf("%w: have=%d, need=%d", ErrInsufficientBalance, available, amount)
	}

	// Commit before transfer (see type comment)
	a.RemainingBalance -= amount
	a.Version++

	if err := ledger.Transfer(a.StreamID, a.Recipient, amount); err != nil {
		a.RemainingBalance += amount
		a.Version++
		return fmt.Errorf("asset transfer: %w", err)
	}
	return nil
}

// Cancel freezes the recipient's entitlement at its current vested value and
// permanently ends time-based accrual. Callable once, by either party, only
// while value remains. The payer's excess is computed and reported but NOT
// transferred: under-funded streams may be topped up later, and the excess
// can change between cancellation and recovery.
//
// Returns the frozen recipient balance and the payer excess as of `now`.
func (a *VestingAccount) Cancel(caller uuid.UUID, now int64, ledger asset.Ledger) (recipientBalance, payerExcess int64, err error) {
	if !a.Initialized {
		return 0, 0, ErrNotInitialized
	}
	if caller != a.Payer && caller != a.Recipient {
		return 0, 0, ErrNotAuthorized
	}
	if a.Status == StatusCancelled {
		return 0, 0, ErrStreamCancelled
	}
	if a.RemainingBalance == 0 {
		// Nothing left for either party — cancellation is meaningless
		return 0, 0, ErrStreamExhausted
	}

	recipientBalance = a.recipientNet(now)

	// Freeze the entitlement and zero the remaining pool. Zeroing is what
	// guarantees that value sent to the stream's account AFTER cancellation
	// can never be claimed by the recipient: the active-path formula is
	// permanently bypassed.
	a.RecipientCancelBalance = recipientBalance
	a.RemainingBalance = 0
	a.Status = StatusCancelled
	a.Version++

	payerExcess = ledger.BalanceOf(a.StreamID) - recipientBalance
	if payerExcess < 0 {
		// Under-funded at cancellation time: recipient is owed more than is
		// on hand; the payer recovers nothing until a top-up arrives.
		payerExcess = 0
	}

	return recipientBalance, payerExcess, nil
}

// RecoverableExcess reports how much the payer could currently recover: the
// live ledger balance beyond what must stay untouched for the recipient.
// Reads the ledger fresh on every call — deposits can land at any time.
func (a *VestingAccount) RecoverableExcess(ledger asset.Ledger) int64 {
	balance := ledger.BalanceOf(a.StreamID)

	floor := a.RemainingBalance
	if a.RecipientCancelBalance > floor {
		floor = a.RecipientCancelBalance
	}

	excess := balance - floor
	if excess < 0 {
		return 0
	}
	return excess
}

// RecoverExcess transfers `amount` of the stream's surplus asset balance to a
// payer-chosen destination. The floor that must remain is re-checked AFTER
// the transfer, defending against any concurrent change to the ledger balance
// between computing the cap and moving the funds.
func (a *VestingAccount) RecoverExcess(caller uuid.UUID, amount int64, destination uuid.UUID, ledger asset.Ledger) error {
	if !a.Initialized {
		return ErrNotInitialized
	}
	if caller != a.Payer {
		return ErrNotPayer
	}
	if amount <= 0 {
		return ErrZeroWithdrawal
	}

	// The amount that must remain to still pay the recipient in full under
	// either active or cancelled semantics. Capped at the current balance:
	// an under-funded stream cannot be drained below what it actually holds.
	current := ledger.BalanceOf(a.StreamID)
	required := a.RemainingBalance
	if a.RecipientCancelBalance > required {
		required = a.RecipientCancelBalance
	}
	if current < required {
		required = current
	}

	if err := ledger.Transfer(a.StreamID, destination, amount); err != nil {
		return fmt.Errorf("asset transfer: %w", err)
	}

	// Post-transfer check, not a pre-computed cap
	if ledger.BalanceOf(a.StreamID) < required {
		if restoreErr := ledger.Transfer(destination, a.StreamID, amount); restoreErr != nil {
			return fmt.Errorf("%w (restore also failed: %v)", ErrExcessFloorViolated, restoreErr)
		}
		return ErrExcessFloorViolated
	}

	a.Version++
	return nil
}

// IsExhausted reports whether both parties' entitlements are fully withdrawn.
// Not a tracked state — derived from the balances.
func (a *VestingAccount) IsExhausted() bool {
	return a.Initialized && a.RemainingBalance == 0 && a.RecipientCancelBalance == 0
}
