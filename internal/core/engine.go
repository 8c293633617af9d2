package core

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"VestLedger/internal/asset"
	"VestLedger/internal/event"
	"VestLedger/internal/factory"
	"VestLedger/internal/observability"
	"VestLedger/internal/stream"

	"github.com/google/uuid"
)

// TransferKind classifies a value movement for persistence and projections
type TransferKind string

const (
	TransferKindDeposit    TransferKind = "deposit"
	TransferKindWithdrawal TransferKind = "withdrawal"
	TransferKindRecovery   TransferKind = "recovery"
)

// TransferRecord is one applied value movement on the asset ledger
type TransferRecord struct {
	TransferID uuid.UUID
	EventRef   string
	Sequence   int64
	From       uuid.UUID
	To         uuid.UUID
	Amount     int64
	Kind       TransferKind
	Timestamp  time.Time
}

type CoreOutput struct {
	Envelope   *event.EventEnvelope
	Transfers  []TransferRecord
	StateDelta []byte
}

// DeterministicCore is the single-threaded event processor. It owns the
// stream registry and the in-memory asset ledger; everything downstream
// (persistence, projections, publishing) consumes its outputs via channels.
type DeterministicCore struct {
	sequence          int64
	hasher            *StateHasher
	factory           *factory.Factory
	ledger            *asset.TokenLedger
	idempotency       *IdempotencyChecker
	sequenceValidator *SequenceValidator
	metrics           *observability.Metrics

	persistChan    chan<- CoreOutput
	projectionChan chan<- CoreOutput
}

func NewDeterministicCore(
	startSequence int64,
	persistChan, projectionChan chan<- CoreOutput,
	dbChecker DBIdempotencyChecker,
	metrics *observability.Metrics,
) *DeterministicCore {
	return &DeterministicCore{
		sequence:          startSequence,
		hasher:            NewStateHasher(),
		factory:           factory.NewFactory(),
		ledger:            asset.NewTokenLedger(),
		idempotency:       NewIdempotencyChecker(1_000_000, dbChecker),
		sequenceValidator: NewSequenceValidator(),
		metrics:           metrics,
		persistChan:       persistChan,
		projectionChan:    projectionChan,
	}
}

// ProcessEvent is the main processing pipeline
func (c *DeterministicCore) ProcessEvent(evt event.Event) error {
	start := time.Now()
	eventType := evt.EventType().String()
	idempotencyKey := evt.IdempotencyKey()

	// Step 1: Idempotency check (two-tier)
	isDuplicate := c.idempotency.IsDuplicate(eventType, idempotencyKey)

	// Step 2: Sequence validation
	partition := c.getPartition(evt)
	if err := c.sequenceValidator.ValidateSequence(partition, evt.SourceSequence(), idempotencyKey, isDuplicate); err != nil {
		if c.metrics != nil {
			c.metrics.EventOutOfOrder.WithLabelValues(partition).Inc()
		}
		return fmt.Errorf("sequence validation failed: %w", err)
	}

	if isDuplicate {
		if c.metrics != nil {
			c.metrics.CoreEventsRejected.WithLabelValues(eventType, "duplicate").Inc()
		}
		return nil
	}

	// Step 3: Event dispatch — mutate state, collect applied transfers
	streamID, transfers, err := c.dispatchEvent(evt)
	if err != nil {
		if c.metrics != nil {
			c.metrics.CoreEventsRejected.WithLabelValues(eventType, "validation").Inc()
		}
		return fmt.Errorf("dispatch failed: %w", err)
	}

	// Step 4: Compute state digest and hash
	stateDigest := c.computeStateDigest(streamID, transfers)
	prevHash := c.hasher.GetPrevHash()
	stateHash := c.hasher.ComputeHash(c.sequence, stateDigest)

	payload, err := json.Marshal(evt)
	if err != nil {
		panic(fmt.Sprintf("FATAL: cannot marshal applied event %s: %v", eventType, err))
	}

	envelope := &event.EventEnvelope{
		Sequence:       c.sequence,
		IdempotencyKey: idempotencyKey,
		EventType:      evt.EventType(),
		StreamID:       streamID,
		Timestamp:      c.getEventTimestamp(evt),
		SourceSequence: evt.SourceSequence(),
		Payload:        payload,
		StateHash:      stateHash,
		PrevHash:       prevHash,
	}

	output := CoreOutput{
		Envelope:   envelope,
		Transfers:  transfers,
		StateDelta: stateDigest,
	}
	c.sequence++

	// Step 5: Emit outputs.
	// Persistence uses a BLOCKING send (backpressure): the core stalls until
	// the persistence worker drains. This guarantees no event is lost.
	c.persistChan <- output

	// Projections use a NON-BLOCKING send with silent drop. Projection
	// workers can rebuild from the event log if they fall behind.
	select {
	case c.projectionChan <- output:
	default:
		if c.metrics != nil {
			c.metrics.ProjectionDrops.WithLabelValues("streams").Inc()
		}
	}

	// Step 6: Mark as processed (add to LRU)
	c.idempotency.MarkProcessed(eventType, idempotencyKey)

	if c.metrics != nil {
		c.metrics.CoreEventsApplied.WithLabelValues(eventType).Inc()
		c.metrics.CoreEventDuration.WithLabelValues(eventType).Observe(time.Since(start).Seconds())
		c.metrics.CoreSequence.Set(float64(c.sequence))
	}

	return nil
}

// ReplayEvent re-applies an event already recorded in the event log during
// startup recovery. The idempotency tiers are skipped: every replayed event
// has a row in the log by definition, so the DB tier would report it as a
// duplicate and the rebuild would silently apply nothing. No outputs are
// emitted either — the log row being read IS the persisted record, and the
// downstream workers are not running yet.
func (c *DeterministicCore) ReplayEvent(evt event.Event) error {
	eventType := evt.EventType().String()
	idempotencyKey := evt.IdempotencyKey()

	partition := c.getPartition(evt)
	if err := c.sequenceValidator.ValidateSequence(partition, evt.SourceSequence(), idempotencyKey, false); err != nil {
		return fmt.Errorf("sequence validation failed: %w", err)
	}

	streamID, transfers, err := c.dispatchEvent(evt)
	if err != nil {
		return fmt.Errorf("dispatch failed: %w", err)
	}

	stateDigest := c.computeStateDigest(streamID, transfers)
	c.hasher.ComputeHash(c.sequence, stateDigest)
	c.sequence++

	// Replayed keys still enter the LRU so live duplicates arriving after
	// recovery are caught on the hot path.
	c.idempotency.MarkProcessed(eventType, idempotencyKey)

	if c.metrics != nil {
		c.metrics.CoreSequence.Set(float64(c.sequence))
	}

	return nil
}

// getPartition determines the partition key for sequence validation.
// Stream-scoped commands are ordered per stream; creation commands (which
// have no stream yet) share the global partition.
func (c *DeterministicCore) getPartition(evt event.Event) string {
	if streamID := evt.StreamID(); streamID != nil {
		return fmt.Sprintf("stream:%s", *streamID)
	}
	return "global"
}

// getEventTimestamp extracts the versioned timestamp from the event.
// The core MUST NOT call time.Now(): all timestamps are versioned inputs
// carried on the commands themselves.
func (c *DeterministicCore) getEventTimestamp(evt event.Event) time.Time {
	switch e := evt.(type) {
	case *event.CreateStream:
		return e.Timestamp
	case *event.Deposit:
		return e.Timestamp
	case *event.Withdraw:
		return e.Timestamp
	case *event.Cancel:
		return e.Timestamp
	case *event.RecoverExcess:
		return e.Timestamp
	default:
		panic(fmt.Sprintf("FATAL: getEventTimestamp called with unhandled event type %T — deterministic core cannot use wall-clock time", evt))
	}
}

func (c *DeterministicCore) dispatchEvent(evt event.Event) (*uuid.UUID, []TransferRecord, error) {
	switch e := evt.(type) {
	case *event.CreateStream:
		return c.handleCreateStream(e)
	case *event.Deposit:
		return c.handleDeposit(e)
	case *event.Withdraw:
		return c.handleWithdraw(e)
	case *event.Cancel:
		return c.handleCancel(e)
	case *event.RecoverExcess:
		return c.handleRecoverExcess(e)
	default:
		return nil, nil, fmt.Errorf("unknown event type: %T", evt)
	}
}

func (c *DeterministicCore) handleCreateStream(evt *event.CreateStream) (*uuid.UUID, []TransferRecord, error) {
	acct, err := c.factory.Create(factory.CreateParams{
		Creator:     evt.Creator,
		Payer:       evt.Payer,
		Recipient:   evt.Recipient,
		TotalAmount: evt.TotalAmount,
		Asset:       evt.Asset,
		StartTime:   evt.StartTime,
		StopTime:    evt.StopTime,
		Nonce:       evt.Nonce,
	})
	if err != nil {
		return nil, nil, err
	}

	if c.metrics != nil {
		c.metrics.StreamsCreated.Inc()
		c.metrics.ActiveStreams.Inc()
	}

	return &acct.StreamID, nil, nil
}

// handleDeposit credits external funding onto a stream's asset account.
// The target does not need to be a registered stream yet: a predicted
// identity can be funded before the CreateStream command lands.
func (c *DeterministicCore) handleDeposit(evt *event.Deposit) (*uuid.UUID, []TransferRecord, error) {
	if err := c.ledger.Mint(evt.Stream, evt.Amount); err != nil {
		return nil, nil, err
	}

	if c.metrics != nil {
		c.metrics.DepositsApplied.Inc()
		c.metrics.DepositAmount.Add(float64(evt.Amount))
	}

	transfers := []TransferRecord{{
		TransferID: evt.DepositID,
		EventRef:   evt.IdempotencyKey(),
		Sequence:   c.sequence,
		From:       evt.From,
		To:         evt.Stream,
		Amount:     evt.Amount,
		Kind:       TransferKindDeposit,
		Timestamp:  evt.Timestamp,
	}}
	return &evt.Stream, transfers, nil
}

func (c *DeterministicCore) handleWithdraw(evt *event.Withdraw) (*uuid.UUID, []TransferRecord, error) {
	acct, err := c.factory.Get(evt.Stream)
	if err != nil {
		return nil, nil, err
	}

	if err := acct.Withdraw(evt.Caller, evt.Amount, evt.Timestamp.Unix(), c.ledger); err != nil {
		return nil, nil, err
	}

	if c.metrics != nil {
		c.metrics.WithdrawalsApplied.Inc()
		c.metrics.WithdrawalAmount.Add(float64(evt.Amount))
	}

	transfers := []TransferRecord{{
		TransferID: evt.WithdrawalID,
		EventRef:   evt.IdempotencyKey(),
		Sequence:   c.sequence,
		From:       evt.Stream,
		To:         acct.Recipient,
		Amount:     evt.Amount,
		Kind:       TransferKindWithdrawal,
		Timestamp:  evt.Timestamp,
	}}
	return &evt.Stream, transfers, nil
}

// handleCancel freezes the recipient entitlement. No value moves: both
// parties withdraw on their own schedule after cancellation.
func (c *DeterministicCore) handleCancel(evt *event.Cancel) (*uuid.UUID, []TransferRecord, error) {
	acct, err := c.factory.Get(evt.Stream)
	if err != nil {
		return nil, nil, err
	}

	if _, _, err := acct.Cancel(evt.Caller, evt.Timestamp.Unix(), c.ledger); err != nil {
		return nil, nil, err
	}

	if c.metrics != nil {
		c.metrics.StreamsCancelled.Inc()
		c.metrics.ActiveStreams.Dec()
	}

	return &evt.Stream, nil, nil
}

func (c *DeterministicCore) handleRecoverExcess(evt *event.RecoverExcess) (*uuid.UUID, []TransferRecord, error) {
	acct, err := c.factory.Get(evt.Stream)
	if err != nil {
		return nil, nil, err
	}

	if err := acct.RecoverExcess(evt.Caller, evt.Amount, evt.Destination, c.ledger); err != nil {
		return nil, nil, err
	}

	if c.metrics != nil {
		c.metrics.RecoveriesApplied.Inc()
		c.metrics.RecoveryAmount.Add(float64(evt.Amount))
	}

	transfers := []TransferRecord{{
		TransferID: evt.RecoveryID,
		EventRef:   evt.IdempotencyKey(),
		Sequence:   c.sequence,
		From:       evt.Stream,
		To:         evt.Destination,
		Amount:     evt.Amount,
		Kind:       TransferKindRecovery,
		Timestamp:  evt.Timestamp,
	}}
	return &evt.Stream, transfers, nil
}

// computeStateDigest creates canonical bytes over the accounts touched by
// this event: the stream's structural state plus the ledger balances of
// every party to an applied transfer.
func (c *DeterministicCore) computeStateDigest(streamID *uuid.UUID, transfers []TransferRecord) []byte {
	affected := make(map[uuid.UUID]bool)
	if streamID != nil {
		affected[*streamID] = true
	}
	for _, t := range transfers {
		affected[t.From] = true
		affected[t.To] = true
	}

	accounts := make([]uuid.UUID, 0, len(affected))
	for id := range affected {
		accounts = append(accounts, id)
	}
	sort.Slice(accounts, func(i, j int) bool {
		return accounts[i].String() < accounts[j].String()
	})

	digest := make([]byte, 0, len(accounts)*24+64)

	for _, id := range accounts {
		digest = append(digest, id[:]...)
		digest = appendInt64LE(digest, c.ledger.BalanceOf(id))
	}

	// Structural stream state, when the touched stream is registered
	if streamID != nil {
		if acct, err := c.factory.Get(*streamID); err == nil {
			digest = appendInt64LE(digest, acct.RemainingBalance)
			digest = appendInt64LE(digest, acct.RecipientCancelBalance)
			digest = appendInt64LE(digest, int64(acct.Status))
			digest = appendInt64LE(digest, acct.Version)
		}
	}

	return digest
}

func appendInt64LE(buf []byte, v int64) []byte {
	return append(buf,
		byte(v),
		byte(v>>8),
		byte(v>>16),
		byte(v>>24),
		byte(v>>32),
		byte(v>>40),
		byte(v>>48),
		byte(v>>56),
	)
}

// --- Snapshot Restore & Startup Methods ---

// SnapshotState holds the serializable in-memory state for restore.
type SnapshotState struct {
	Sequence        int64
	StateHash       [32]byte
	PrevHash        [32]byte
	Streams         []*stream.VestingAccount
	Balances        map[uuid.UUID]int64
	SequenceState   map[string]int64
	IdempotencyKeys []string
}

// RestoreFromSnapshot restores the core's in-memory state from a snapshot.
// On warm restart: load the latest snapshot, then replay events past it.
func (c *DeterministicCore) RestoreFromSnapshot(snap *SnapshotState) {
	c.sequence = snap.Sequence + 1 // Next sequence to assign

	c.hasher.SetPrevHash(snap.StateHash)

	for _, acct := range snap.Streams {
		c.factory.Restore(acct)
	}

	for account, balance := range snap.Balances {
		c.ledger.Restore(account, balance)
	}

	for partition, nextSeq := range snap.SequenceState {
		c.sequenceValidator.SetExpectedSequence(partition, nextSeq)
	}
}

// WarmLRU loads recent idempotency keys into the LRU cache, avoiding
// cold-path DB lookups for recently processed events.
func (c *DeterministicCore) WarmLRU(keys []string) {
	c.idempotency.lru.WarmFromKeys(keys)
}

// GetSequence returns the current global sequence number.
func (c *DeterministicCore) GetSequence() int64 {
	return c.sequence
}

// GetStateHash returns the current state hash (chain tip).
func (c *DeterministicCore) GetStateHash() [32]byte {
	return c.hasher.GetPrevHash()
}

// CreateSnapshotState captures the current in-memory state for persistence.
func (c *DeterministicCore) CreateSnapshotState() *SnapshotState {
	return &SnapshotState{
		Sequence:        c.sequence - 1, // Last processed sequence
		StateHash:       c.hasher.GetPrevHash(),
		Streams:         c.factory.All(),
		Balances:        c.ledger.Snapshot(),
		SequenceState:   c.sequenceValidator.GetAllPartitions(),
		IdempotencyKeys: c.idempotency.lru.GetAllKeys(),
	}
}

// Factory exposes the stream registry for read-only query access.
func (c *DeterministicCore) Factory() *factory.Factory {
	return c.factory
}

// Ledger exposes the asset ledger for read-only query access.
func (c *DeterministicCore) Ledger() *asset.TokenLedger {
	return c.ledger
}
