package event

import (
	"time"

	"github.com/google/uuid"
)

// Withdraw requests payout of vested funds to the stream's recipient.
// Either party may issue it; funds always land at the recipient.
type Withdraw struct {
	WithdrawalID uuid.UUID
	Stream       uuid.UUID
	Caller       uuid.UUID
	Amount       int64
	Sequence     int64
	Timestamp    time.Time
}

func (w *Withdraw) IdempotencyKey() string {
	return w.WithdrawalID.String()
}

func (w *Withdraw) EventType() EventType {
	return EventTypeWithdraw
}

func (w *Withdraw) StreamID() *uuid.UUID {
	return &w.Stream
}

func (w *Withdraw) SourceSequence() int64 {
	return w.Sequence
}

// Cancel requests one-time early termination of a stream, freezing the
// recipient's entitlement at its current vested value.
type Cancel struct {
	CancellationID uuid.UUID
	Stream         uuid.UUID
	Caller         uuid.UUID
	Sequence       int64
	Timestamp      time.Time
}

func (c *Cancel) IdempotencyKey() string {
	return c.CancellationID.String()
}

func (c *Cancel) EventType() EventType {
	return EventTypeCancel
}

func (c *Cancel) StreamID() *uuid.UUID {
	return &c.Stream
}

func (c *Cancel) SourceSequence() int64 {
	return c.Sequence
}

// RecoverExcess requests payer reclamation of surplus stream funding to a
// payer-chosen destination.
type RecoverExcess struct {
	RecoveryID  uuid.UUID
	Stream      uuid.UUID
	Caller      uuid.UUID
	Amount      int64
	Destination uuid.UUID
	Sequence    int64
	Timestamp   time.Time
}

func (r *RecoverExcess) IdempotencyKey() string {
	return r.RecoveryID.String()
}

func (r *RecoverExcess) EventType() EventType {
	return EventTypeRecoverExcess
}

func (r *RecoverExcess) StreamID() *uuid.UUID {
	return &r.Stream
}

func (r *RecoverExcess) SourceSequence() int64 {
	return r.Sequence
}
