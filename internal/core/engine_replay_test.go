package core_test

import (
	"testing"

	"VestLedger/internal/core"
	"VestLedger/internal/event"
	"VestLedger/internal/factory"
)

// ============================================================================
// Test: Event Replay (startup recovery)
// ============================================================================

// logBackedChecker simulates the Postgres idempotency tier after a restart:
// every event being replayed already has a row in the event log, so the DB
// tier reports it as a duplicate.
type logBackedChecker struct {
	rows map[string]bool
}

func (c *logBackedChecker) IsDuplicate(eventType, idempotencyKey string) (bool, error) {
	return c.rows[eventType+":"+idempotencyKey], nil
}

func loggedRows(events []event.Event) map[string]bool {
	rows := make(map[string]bool, len(events))
	for _, evt := range events {
		rows[evt.EventType().String()+":"+evt.IdempotencyKey()] = true
	}
	return rows
}

func TestReplay_RebuildsStateWithDBTierWired(t *testing.T) {
	p := testCreateParams()
	streamID := factory.Predict(p)

	events := []event.Event{
		mustCreateStream(p, 0),
		mustDeposit(streamID, 2000, 0),
		mustWithdraw(streamID, p.Recipient, 500, 1, windowStart+500),
	}

	// First run: process everything live
	first, persistCh, _ := newTestCore()
	for i, evt := range events {
		if err := first.ProcessEvent(evt); err != nil {
			t.Fatalf("process %d failed: %v", i, err)
		}
	}
	drainOutputs(persistCh)

	// Restart: the DB tier now holds a row for every logged event
	persistCh2 := make(chan core.CoreOutput, 1)
	projCh2 := make(chan core.CoreOutput, 1)
	second := core.NewDeterministicCore(0, persistCh2, projCh2, &logBackedChecker{rows: loggedRows(events)}, nil)

	for i, evt := range events {
		if err := second.ReplayEvent(evt); err != nil {
			t.Fatalf("replay %d failed: %v", i, err)
		}
	}

	if second.GetSequence() != first.GetSequence() {
		t.Errorf("replayed sequence: got %d, want %d", second.GetSequence(), first.GetSequence())
	}
	if second.GetStateHash() != first.GetStateHash() {
		t.Error("replayed core's hash chain diverged from the original")
	}

	acct, err := second.Factory().Get(streamID)
	if err != nil {
		t.Fatalf("replayed stream missing: %v", err)
	}
	if acct.RemainingBalance != 1500 {
		t.Errorf("replayed remaining balance: got %d, want 1500", acct.RemainingBalance)
	}
	if got := second.Ledger().BalanceOf(streamID); got != 1500 {
		t.Errorf("replayed stream account balance: got %d, want 1500", got)
	}
	if got := second.Ledger().BalanceOf(p.Recipient); got != 500 {
		t.Errorf("replayed recipient balance: got %d, want 500", got)
	}

	// A live redelivery of a replayed command is still deduplicated
	if err := second.ProcessEvent(events[2]); err != nil {
		t.Fatalf("duplicate after replay should be silently ignored: %v", err)
	}
	if second.GetSequence() != first.GetSequence() {
		t.Error("duplicate after replay must not advance the sequence")
	}
}

func TestReplay_HotPathSkipsLoggedEvents(t *testing.T) {
	// ProcessEvent consults the DB tier, which reports logged events as
	// duplicates — recovery must therefore not go through ProcessEvent.
	p := testCreateParams()
	create := mustCreateStream(p, 0)
	rows := loggedRows([]event.Event{create})

	persistCh := make(chan core.CoreOutput, 16)
	projCh := make(chan core.CoreOutput, 16)

	c := core.NewDeterministicCore(0, persistCh, projCh, &logBackedChecker{rows: rows}, nil)
	if err := c.ProcessEvent(create); err != nil {
		t.Fatalf("duplicate skip should not error: %v", err)
	}
	if c.Factory().Len() != 0 {
		t.Fatal("hot path must not re-apply an event the log already has")
	}

	c2 := core.NewDeterministicCore(0, persistCh, projCh, &logBackedChecker{rows: rows}, nil)
	if err := c2.ReplayEvent(create); err != nil {
		t.Fatalf("replay failed: %v", err)
	}
	if c2.Factory().Len() != 1 {
		t.Error("replay must apply logged events")
	}
}

func TestReplay_EmitsNoOutputs(t *testing.T) {
	// Replay runs before the persistence and projection workers start, so it
	// must never touch the output channels: more events than either channel
	// can hold, applied without a consumer on the other end.
	persistCh := make(chan core.CoreOutput, 1)
	projCh := make(chan core.CoreOutput, 1)
	c := core.NewDeterministicCore(0, persistCh, projCh, nil, nil)

	p := testCreateParams()
	streamID := factory.Predict(p)

	replayed := []event.Event{
		mustCreateStream(p, 0),
		mustDeposit(streamID, 1000, 0),
		mustDeposit(streamID, 1000, 1),
		mustWithdraw(streamID, p.Recipient, 500, 2, windowStart+500),
	}
	for i, evt := range replayed {
		if err := c.ReplayEvent(evt); err != nil {
			t.Fatalf("replay %d failed: %v", i, err)
		}
	}

	if got := drainOutputs(persistCh); len(got) != 0 {
		t.Errorf("replay emitted %d persist outputs, want 0", len(got))
	}
	if got := drainOutputs(projCh); len(got) != 0 {
		t.Errorf("replay emitted %d projection outputs, want 0", len(got))
	}
}
