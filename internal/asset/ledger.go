package asset

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Ledger is the external fungible-token collaborator consumed by the vesting
// core. The core only decides amounts; the ledger moves value and reports
// balances. Balances are never assumed cached across a call boundary — every
// computation that depends on funding re-reads BalanceOf.
type Ledger interface {
	// Transfer moves amount from one account to another. It must either
	// fully apply or fail with no effect.
	Transfer(from, to uuid.UUID, amount int64) error

	// BalanceOf reports the live balance of an account.
	BalanceOf(account uuid.UUID) int64
}

var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrNonPositiveAmount = errors.New("transfer amount must be positive")
)

// TokenLedger is an in-memory Ledger used by tests and the simulation path.
// Thread-safe: unlike the deterministic core, the ledger is also read by the
// query surface.
type TokenLedger struct {
	mu       sync.Mutex
	balances map[uuid.UUID]int64
}

func NewTokenLedger() *TokenLedger {
	return &TokenLedger{
		balances: make(map[uuid.UUID]int64),
	}
}

// Mint credits freshly issued units to an account. Used to model external
// deposits funding a stream.
func (tl *TokenLedger) Mint(account uuid.UUID, amount int64) error {
	if amount <= 0 {
		return ErrNonPositiveAmount
	}
	tl.mu.Lock()
	defer tl.mu.Unlock()
	tl.balances[account] += amount
	return nil
}

func (tl *TokenLedger) Transfer(from, to uuid.UUID, amount int64) error {
	if amount <= 0 {
		return ErrNonPositiveAmount
	}
	tl.mu.Lock()
	defer tl.mu.Unlock()

	if tl.balances[from] < amount {
		return fmt.Errorf("%w: account %s has %d, need %d",
			ErrInsufficientFunds, from, tl.balances[from], amount)
	}

	tl.balances[from] -= amount
	tl.balances[to] += amount
	return nil
}

func (tl *TokenLedger) BalanceOf(account uuid.UUID) int64 {
	tl.mu.Lock()
	defer tl.mu.Unlock()
	return tl.balances[account]
}

// Snapshot returns a copy of all balances (for state hashing and snapshots)
func (tl *TokenLedger) Snapshot() map[uuid.UUID]int64 {
	tl.mu.Lock()
	defer tl.mu.Unlock()

	snapshot := make(map[uuid.UUID]int64, len(tl.balances))
	for k, v := range tl.balances {
		snapshot[k] = v
	}
	return snapshot
}

// Restore overwrites an account balance (snapshot recovery only).
func (tl *TokenLedger) Restore(account uuid.UUID, balance int64) {
	tl.mu.Lock()
	defer tl.mu.Unlock()
	tl.balances[account] = balance
}
