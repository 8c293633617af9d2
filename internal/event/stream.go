package event

import (
	"time"

	"github.com/google/uuid"
)

// CreateStream requests creation of a new vesting stream. The stream identity
// does not exist yet — it is derived deterministically by the factory from
// these parameters.
type CreateStream struct {
	CommandID   uuid.UUID
	Creator     uuid.UUID
	Payer       uuid.UUID
	Recipient   uuid.UUID
	TotalAmount int64
	Asset       string
	StartTime   int64
	StopTime    int64
	Nonce       uint64
	Sequence    int64
	Timestamp   time.Time
}

func (c *CreateStream) IdempotencyKey() string {
	return c.CommandID.String()
}

func (c *CreateStream) EventType() EventType {
	return EventTypeCreateStream
}

func (c *CreateStream) StreamID() *uuid.UUID {
	return nil // Identity assigned by the factory during processing
}

func (c *CreateStream) SourceSequence() int64 {
	return c.Sequence
}

// Deposit records external funding landing on a stream's asset account.
// Streams can be funded before, during, or after their window — including
// after cancellation (where the deposit becomes payer excess).
type Deposit struct {
	DepositID uuid.UUID
	Stream    uuid.UUID
	From      uuid.UUID
	Amount    int64
	Sequence  int64
	Timestamp time.Time
}

func (d *Deposit) IdempotencyKey() string {
	return d.DepositID.String()
}

func (d *Deposit) EventType() EventType {
	return EventTypeDeposit
}

func (d *Deposit) StreamID() *uuid.UUID {
	return &d.Stream
}

func (d *Deposit) SourceSequence() int64 {
	return d.Sequence
}
