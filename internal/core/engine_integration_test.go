package core_test

import (
	"testing"
	"time"

	"VestLedger/internal/core"
	"VestLedger/internal/event"
	"VestLedger/internal/factory"

	"github.com/google/uuid"
)

// --- Test helpers ---

const windowStart int64 = 1_700_000_000

// newTestCore creates a DeterministicCore with buffered channels and no DB checker.
func newTestCore() (*core.DeterministicCore, chan core.CoreOutput, chan core.CoreOutput) {
	persistChan := make(chan core.CoreOutput, 1024)
	projChan := make(chan core.CoreOutput, 1024)
	c := core.NewDeterministicCore(0, persistChan, projChan, nil, nil)
	return c, persistChan, projChan
}

func testCreateParams() factory.CreateParams {
	return factory.CreateParams{
		Creator:     uuid.MustParse("550e8400-e29b-41d4-a716-446655440000"),
		Payer:       uuid.MustParse("550e8400-e29b-41d4-a716-446655440001"),
		Recipient:   uuid.MustParse("550e8400-e29b-41d4-a716-446655440002"),
		TotalAmount: 2000,
		Asset:       "USDC",
		StartTime:   windowStart,
		StopTime:    windowStart + 1000,
	}
}

func mustCreateStream(p factory.CreateParams, seq int64) *event.CreateStream {
	return &event.CreateStream{
		CommandID:   uuid.New(),
		Creator:     p.Creator,
		Payer:       p.Payer,
		Recipient:   p.Recipient,
		TotalAmount: p.TotalAmount,
		Asset:       p.Asset,
		StartTime:   p.StartTime,
		StopTime:    p.StopTime,
		Nonce:       p.Nonce,
		Sequence:    seq,
		Timestamp:   time.Unix(windowStart-100, 0),
	}
}

func mustDeposit(streamID uuid.UUID, amount, seq int64) *event.Deposit {
	return &event.Deposit{
		DepositID: uuid.New(),
		Stream:    streamID,
		From:      uuid.MustParse("550e8400-e29b-41d4-a716-446655440001"),
		Amount:    amount,
		Sequence:  seq,
		Timestamp: time.Unix(windowStart-50, 0),
	}
}

func mustWithdraw(streamID, caller uuid.UUID, amount, seq, now int64) *event.Withdraw {
	return &event.Withdraw{
		WithdrawalID: uuid.New(),
		Stream:       streamID,
		Caller:       caller,
		Amount:       amount,
		Sequence:     seq,
		Timestamp:    time.Unix(now, 0),
	}
}

func mustCancel(streamID, caller uuid.UUID, seq, now int64) *event.Cancel {
	return &event.Cancel{
		CancellationID: uuid.New(),
		Stream:         streamID,
		Caller:         caller,
		Sequence:       seq,
		Timestamp:      time.Unix(now, 0),
	}
}

func mustRecoverExcess(streamID, caller, dest uuid.UUID, amount, seq, now int64) *event.RecoverExcess {
	return &event.RecoverExcess{
		RecoveryID:  uuid.New(),
		Stream:      streamID,
		Caller:      caller,
		Amount:      amount,
		Destination: dest,
		Sequence:    seq,
		Timestamp:   time.Unix(now, 0),
	}
}

func drainOutputs(ch chan core.CoreOutput) []core.CoreOutput {
	var outputs []core.CoreOutput
	for {
		select {
		case o := <-ch:
			outputs = append(outputs, o)
		default:
			return outputs
		}
	}
}

// ============================================================================
// Test: Stream Creation
// ============================================================================

func TestCreateStream_RegistersStream(t *testing.T) {
	c, persistCh, _ := newTestCore()
	p := testCreateParams()

	err := c.ProcessEvent(mustCreateStream(p, 0))
	if err != nil {
		t.Fatalf("ProcessEvent failed: %v", err)
	}

	outputs := drainOutputs(persistCh)
	if len(outputs) != 1 {
		t.Fatalf("expected 1 output, got %d", len(outputs))
	}

	env := outputs[0].Envelope
	if env.EventType != event.EventTypeCreateStream {
		t.Errorf("expected CreateStream event type, got %v", env.EventType)
	}
	if env.StreamID == nil {
		t.Fatal("expected stream id on envelope")
	}

	predicted := factory.Predict(p)
	if *env.StreamID != predicted {
		t.Errorf("envelope stream id %s != predicted %s", env.StreamID, predicted)
	}

	if _, err := c.Factory().Get(predicted); err != nil {
		t.Errorf("stream not registered: %v", err)
	}
}

func TestCreateStream_DuplicateParams_Fails(t *testing.T) {
	c, persistCh, _ := newTestCore()
	p := testCreateParams()

	if err := c.ProcessEvent(mustCreateStream(p, 0)); err != nil {
		t.Fatalf("first create failed: %v", err)
	}
	drainOutputs(persistCh)

	err := c.ProcessEvent(mustCreateStream(p, 1))
	if err == nil {
		t.Fatal("expected error for colliding stream parameters, got nil")
	}
}

// ============================================================================
// Test: Deposit Flow
// ============================================================================

func TestDeposit_FundsPredictedAccountBeforeCreation(t *testing.T) {
	c, persistCh, _ := newTestCore()
	p := testCreateParams()
	predicted := factory.Predict(p)

	// Fund the predicted identity before the stream exists
	err := c.ProcessEvent(mustDeposit(predicted, 2000, 0))
	if err != nil {
		t.Fatalf("deposit failed: %v", err)
	}

	outputs := drainOutputs(persistCh)
	if len(outputs) != 1 {
		t.Fatalf("expected 1 output, got %d", len(outputs))
	}

	transfers := outputs[0].Transfers
	if len(transfers) != 1 {
		t.Fatalf("expected 1 transfer record, got %d", len(transfers))
	}
	if transfers[0].Kind != core.TransferKindDeposit {
		t.Errorf("expected deposit transfer, got %s", transfers[0].Kind)
	}
	if transfers[0].To != predicted {
		t.Errorf("deposit landed on %s, want %s", transfers[0].To, predicted)
	}

	if got := c.Ledger().BalanceOf(predicted); got != 2000 {
		t.Errorf("stream account balance: got %d, want 2000", got)
	}

	// Creation after funding works normally
	if err := c.ProcessEvent(mustCreateStream(p, 0)); err != nil {
		t.Fatalf("create after funding failed: %v", err)
	}
}

// ============================================================================
// Test: Withdrawal Flow
// ============================================================================

func TestWithdraw_PaysRecipient(t *testing.T) {
	c, persistCh, _ := newTestCore()
	p := testCreateParams()
	streamID := factory.Predict(p)

	if err := c.ProcessEvent(mustCreateStream(p, 0)); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if err := c.ProcessEvent(mustDeposit(streamID, 2000, 0)); err != nil {
		t.Fatalf("deposit failed: %v", err)
	}
	drainOutputs(persistCh)

	// Halfway: vested = 1000
	err := c.ProcessEvent(mustWithdraw(streamID, p.Recipient, 800, 1, windowStart+500))
	if err != nil {
		t.Fatalf("withdraw failed: %v", err)
	}

	outputs := drainOutputs(persistCh)
	if len(outputs) != 1 {
		t.Fatalf("expected 1 output, got %d", len(outputs))
	}
	tr := outputs[0].Transfers[0]
	if tr.Kind != core.TransferKindWithdrawal {
		t.Errorf("expected withdrawal transfer, got %s", tr.Kind)
	}
	if tr.From != streamID || tr.To != p.Recipient {
		t.Errorf("transfer %s -> %s, want %s -> %s", tr.From, tr.To, streamID, p.Recipient)
	}

	if got := c.Ledger().BalanceOf(p.Recipient); got != 800 {
		t.Errorf("recipient balance: got %d, want 800", got)
	}
	if got := c.Ledger().BalanceOf(streamID); got != 1200 {
		t.Errorf("stream balance: got %d, want 1200", got)
	}
}

func TestWithdraw_ExceedsVested_Fails(t *testing.T) {
	c, persistCh, _ := newTestCore()
	p := testCreateParams()
	streamID := factory.Predict(p)

	if err := c.ProcessEvent(mustCreateStream(p, 0)); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if err := c.ProcessEvent(mustDeposit(streamID, 2000, 0)); err != nil {
		t.Fatalf("deposit failed: %v", err)
	}
	drainOutputs(persistCh)

	// Only 1000 vested at the halfway point
	err := c.ProcessEvent(mustWithdraw(streamID, p.Recipient, 1001, 1, windowStart+500))
	if err == nil {
		t.Fatal("expected error for over-withdrawal, got nil")
	}
}

func TestWithdraw_UnknownStream_Fails(t *testing.T) {
	c, _, _ := newTestCore()

	err := c.ProcessEvent(mustWithdraw(uuid.New(), uuid.New(), 100, 0, windowStart+500))
	if err == nil {
		t.Fatal("expected error for unknown stream, got nil")
	}
}

// ============================================================================
// Test: Cancellation
// ============================================================================

func TestCancel_FreezesEntitlement(t *testing.T) {
	c, persistCh, _ := newTestCore()
	p := testCreateParams()
	streamID := factory.Predict(p)

	if err := c.ProcessEvent(mustCreateStream(p, 0)); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if err := c.ProcessEvent(mustDeposit(streamID, 2000, 0)); err != nil {
		t.Fatalf("deposit failed: %v", err)
	}
	drainOutputs(persistCh)

	if err := c.ProcessEvent(mustCancel(streamID, p.Payer, 1, windowStart+500)); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}

	outputs := drainOutputs(persistCh)
	if len(outputs) != 1 {
		t.Fatalf("expected 1 output, got %d", len(outputs))
	}
	if len(outputs[0].Transfers) != 0 {
		t.Errorf("cancellation must not move value, got %d transfers", len(outputs[0].Transfers))
	}

	acct, err := c.Factory().Get(streamID)
	if err != nil {
		t.Fatalf("get stream: %v", err)
	}
	if acct.RecipientCancelBalance != 1000 {
		t.Errorf("frozen balance: got %d, want 1000", acct.RecipientCancelBalance)
	}
	if acct.RemainingBalance != 0 {
		t.Errorf("remaining balance after cancel: got %d, want 0", acct.RemainingBalance)
	}

	// Post-cancel withdrawal draws from the frozen balance
	if err := c.ProcessEvent(mustWithdraw(streamID, p.Recipient, 1000, 2, windowStart+999_999)); err != nil {
		t.Fatalf("post-cancel withdraw failed: %v", err)
	}
	if got := c.Ledger().BalanceOf(p.Recipient); got != 1000 {
		t.Errorf("recipient balance: got %d, want 1000", got)
	}
}

// ============================================================================
// Test: Excess Recovery
// ============================================================================

func TestRecoverExcess_SkimsOverfunding(t *testing.T) {
	c, persistCh, _ := newTestCore()
	p := testCreateParams()
	streamID := factory.Predict(p)
	dest := uuid.New()

	if err := c.ProcessEvent(mustCreateStream(p, 0)); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	// Over-fund: 2600 against a 2000 obligation
	if err := c.ProcessEvent(mustDeposit(streamID, 2600, 0)); err != nil {
		t.Fatalf("deposit failed: %v", err)
	}
	drainOutputs(persistCh)

	if err := c.ProcessEvent(mustRecoverExcess(streamID, p.Payer, dest, 600, 1, windowStart+100)); err != nil {
		t.Fatalf("recover failed: %v", err)
	}

	outputs := drainOutputs(persistCh)
	tr := outputs[0].Transfers[0]
	if tr.Kind != core.TransferKindRecovery {
		t.Errorf("expected recovery transfer, got %s", tr.Kind)
	}
	if got := c.Ledger().BalanceOf(dest); got != 600 {
		t.Errorf("destination balance: got %d, want 600", got)
	}
	if got := c.Ledger().BalanceOf(streamID); got != 2000 {
		t.Errorf("stream balance: got %d, want 2000", got)
	}
}

func TestRecoverExcess_ViolatesFloor_Fails(t *testing.T) {
	c, persistCh, _ := newTestCore()
	p := testCreateParams()
	streamID := factory.Predict(p)

	if err := c.ProcessEvent(mustCreateStream(p, 0)); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if err := c.ProcessEvent(mustDeposit(streamID, 2600, 0)); err != nil {
		t.Fatalf("deposit failed: %v", err)
	}
	drainOutputs(persistCh)

	err := c.ProcessEvent(mustRecoverExcess(streamID, p.Payer, uuid.New(), 601, 1, windowStart+100))
	if err == nil {
		t.Fatal("expected floor violation, got nil")
	}
	if got := c.Ledger().BalanceOf(streamID); got != 2600 {
		t.Errorf("failed recovery must restore the stream balance, got %d", got)
	}
}

// ============================================================================
// Test: Idempotency
// ============================================================================

func TestIdempotency_DuplicateCommand_Ignored(t *testing.T) {
	c, persistCh, _ := newTestCore()
	p := testCreateParams()

	create := mustCreateStream(p, 0)

	if err := c.ProcessEvent(create); err != nil {
		t.Fatalf("first process failed: %v", err)
	}
	outputs1 := drainOutputs(persistCh)
	if len(outputs1) != 1 {
		t.Fatalf("expected 1 output on first process, got %d", len(outputs1))
	}

	// Same command again — silently ignored
	if err := c.ProcessEvent(create); err != nil {
		t.Fatalf("duplicate should not error: %v", err)
	}
	outputs2 := drainOutputs(persistCh)
	if len(outputs2) != 0 {
		t.Errorf("expected 0 outputs for duplicate, got %d", len(outputs2))
	}
}

// ============================================================================
// Test: Sequence Validation
// ============================================================================

func TestSequenceValidation_GapDetected(t *testing.T) {
	c, persistCh, _ := newTestCore()
	p := testCreateParams()
	streamID := factory.Predict(p)

	if err := c.ProcessEvent(mustCreateStream(p, 0)); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if err := c.ProcessEvent(mustDeposit(streamID, 2000, 0)); err != nil {
		t.Fatalf("deposit 0 failed: %v", err)
	}
	drainOutputs(persistCh)

	// Skip stream seq 1, send seq 2 — should detect gap
	err := c.ProcessEvent(mustDeposit(streamID, 100, 2))
	if err == nil {
		t.Fatal("expected sequence gap error, got nil")
	}
}

func TestSequenceValidation_PerStreamPartitions(t *testing.T) {
	c, persistCh, _ := newTestCore()

	p1 := testCreateParams()
	p2 := testCreateParams()
	p2.Nonce = 1

	if err := c.ProcessEvent(mustCreateStream(p1, 0)); err != nil {
		t.Fatalf("create 1 failed: %v", err)
	}
	if err := c.ProcessEvent(mustCreateStream(p2, 1)); err != nil {
		t.Fatalf("create 2 failed: %v", err)
	}

	// Both streams start their own partition at seq 0
	if err := c.ProcessEvent(mustDeposit(factory.Predict(p1), 2000, 0)); err != nil {
		t.Fatalf("deposit stream 1 failed: %v", err)
	}
	if err := c.ProcessEvent(mustDeposit(factory.Predict(p2), 2000, 0)); err != nil {
		t.Fatalf("deposit stream 2 failed: %v", err)
	}
	drainOutputs(persistCh)
}

// ============================================================================
// Test: State Hash Chain
// ============================================================================

func TestStateHashChain_Deterministic(t *testing.T) {
	// Process the same commands twice — state hashes must be identical
	p := testCreateParams()
	streamID := factory.Predict(p)
	commandID := uuid.New()
	depositID := uuid.New()

	processEvents := func() [][32]byte {
		c, persistCh, _ := newTestCore()

		create := mustCreateStream(p, 0)
		create.CommandID = commandID
		if err := c.ProcessEvent(create); err != nil {
			t.Fatalf("create failed: %v", err)
		}

		deposit := mustDeposit(streamID, 2000, 0)
		deposit.DepositID = depositID
		if err := c.ProcessEvent(deposit); err != nil {
			t.Fatalf("deposit failed: %v", err)
		}

		outputs := drainOutputs(persistCh)
		hashes := make([][32]byte, len(outputs))
		for i, o := range outputs {
			copy(hashes[i][:], o.Envelope.StateHash[:])
		}
		return hashes
	}

	hashes1 := processEvents()
	hashes2 := processEvents()

	if len(hashes1) != len(hashes2) {
		t.Fatalf("different number of outputs: %d vs %d", len(hashes1), len(hashes2))
	}
	for i := range hashes1 {
		if hashes1[i] != hashes2[i] {
			t.Errorf("hash %d differs: %x vs %x", i, hashes1[i], hashes2[i])
		}
	}
}

func TestStateHashChain_Linked(t *testing.T) {
	c, persistCh, _ := newTestCore()
	p := testCreateParams()
	streamID := factory.Predict(p)

	if err := c.ProcessEvent(mustCreateStream(p, 0)); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if err := c.ProcessEvent(mustDeposit(streamID, 2000, 0)); err != nil {
		t.Fatalf("deposit failed: %v", err)
	}

	outputs := drainOutputs(persistCh)
	if len(outputs) != 2 {
		t.Fatalf("expected 2 outputs, got %d", len(outputs))
	}
	if outputs[1].Envelope.PrevHash != outputs[0].Envelope.StateHash {
		t.Error("second envelope's prev_hash must equal first envelope's state_hash")
	}
}

// ============================================================================
// Test: Envelope Integrity
// ============================================================================

func TestEnvelope_HasCorrectFields(t *testing.T) {
	c, persistCh, _ := newTestCore()
	p := testCreateParams()

	create := mustCreateStream(p, 0)
	if err := c.ProcessEvent(create); err != nil {
		t.Fatalf("ProcessEvent failed: %v", err)
	}

	outputs := drainOutputs(persistCh)
	env := outputs[0].Envelope

	if env.Sequence != 0 {
		t.Errorf("expected sequence 0, got %d", env.Sequence)
	}
	if env.IdempotencyKey != create.IdempotencyKey() {
		t.Errorf("idempotency key mismatch: %s vs %s", env.IdempotencyKey, create.IdempotencyKey())
	}
	if env.EventType != event.EventTypeCreateStream {
		t.Errorf("event type mismatch: %v vs %v", env.EventType, event.EventTypeCreateStream)
	}
	if len(env.Payload) == 0 {
		t.Error("payload should carry the serialized command")
	}
	if !env.Timestamp.Equal(create.Timestamp) {
		t.Errorf("envelope timestamp must be the versioned input timestamp")
	}
}

// ============================================================================
// Test: Projection Channel (non-blocking drop)
// ============================================================================

func TestProjectionChannel_DropsOnFull(t *testing.T) {
	persistCh := make(chan core.CoreOutput, 1024)
	projCh := make(chan core.CoreOutput, 1) // Tiny buffer — will fill up
	c := core.NewDeterministicCore(0, persistCh, projCh, nil, nil)

	p := testCreateParams()
	streamID := factory.Predict(p)

	if err := c.ProcessEvent(mustCreateStream(p, 0)); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	for i := int64(0); i < 4; i++ {
		if err := c.ProcessEvent(mustDeposit(streamID, 100, i)); err != nil {
			t.Fatalf("deposit %d failed: %v", i, err)
		}
	}

	// All 5 must succeed (projection drops are silent)
	persistOutputs := drainOutputs(persistCh)
	if len(persistOutputs) != 5 {
		t.Errorf("expected 5 persist outputs, got %d", len(persistOutputs))
	}
}

// ============================================================================
// Test: Snapshot & Restore
// ============================================================================

func TestSnapshotRestore_RoundTrip(t *testing.T) {
	c, persistCh, _ := newTestCore()
	p := testCreateParams()
	streamID := factory.Predict(p)

	if err := c.ProcessEvent(mustCreateStream(p, 0)); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if err := c.ProcessEvent(mustDeposit(streamID, 2000, 0)); err != nil {
		t.Fatalf("deposit failed: %v", err)
	}
	if err := c.ProcessEvent(mustWithdraw(streamID, p.Recipient, 500, 1, windowStart+500)); err != nil {
		t.Fatalf("withdraw failed: %v", err)
	}
	drainOutputs(persistCh)

	snap := c.CreateSnapshotState()
	if snap.Sequence != 2 {
		t.Errorf("snapshot sequence: got %d, want 2", snap.Sequence)
	}

	restored, persistCh2, projCh2 := newTestCore()
	_ = projCh2
	restored.RestoreFromSnapshot(snap)
	restored.WarmLRU(snap.IdempotencyKeys)

	if restored.GetSequence() != 3 {
		t.Errorf("restored next sequence: got %d, want 3", restored.GetSequence())
	}
	if restored.GetStateHash() != c.GetStateHash() {
		t.Error("restored state hash must match the original chain tip")
	}

	acct, err := restored.Factory().Get(streamID)
	if err != nil {
		t.Fatalf("restored stream missing: %v", err)
	}
	if acct.RemainingBalance != 1500 {
		t.Errorf("restored remaining balance: got %d, want 1500", acct.RemainingBalance)
	}
	if got := restored.Ledger().BalanceOf(streamID); got != 1500 {
		t.Errorf("restored stream account balance: got %d, want 1500", got)
	}
	if got := restored.Ledger().BalanceOf(p.Recipient); got != 500 {
		t.Errorf("restored recipient balance: got %d, want 500", got)
	}

	// Both cores continue identically from here
	next := mustWithdraw(streamID, p.Recipient, 100, 2, windowStart+600)
	if err := c.ProcessEvent(next); err != nil {
		t.Fatalf("original continue failed: %v", err)
	}
	copyEvt := *next
	if err := restored.ProcessEvent(&copyEvt); err != nil {
		t.Fatalf("restored continue failed: %v", err)
	}
	drainOutputs(persistCh)
	drainOutputs(persistCh2)

	if restored.GetStateHash() != c.GetStateHash() {
		t.Error("original and restored cores diverged after identical input")
	}
}
