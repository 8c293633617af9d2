package ingestion_test

import (
	"context"
	"testing"
	"time"

	"VestLedger/internal/event"
	"VestLedger/internal/ingestion"

	"github.com/google/uuid"
)

func TestSubmit_QueuesValidCommand(t *testing.T) {
	ch := make(chan event.Event, 1)
	svc := ingestion.NewAdminIngestService(ch)

	evt := &event.Withdraw{
		WithdrawalID: uuid.New(),
		Stream:       uuid.New(),
		Caller:       uuid.New(),
		Amount:       100,
		Sequence:     0,
		Timestamp:    time.Unix(1_700_000_000, 0),
	}

	if err := svc.Submit(context.Background(), evt); err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	select {
	case got := <-ch:
		if got != evt {
			t.Error("queued command is not the submitted command")
		}
	default:
		t.Fatal("command not queued")
	}
}

func TestSubmit_RejectsNonPositiveAmount(t *testing.T) {
	ch := make(chan event.Event, 1)
	svc := ingestion.NewAdminIngestService(ch)

	evt := &event.Deposit{
		DepositID: uuid.New(),
		Stream:    uuid.New(),
		From:      uuid.New(),
		Amount:    0,
		Timestamp: time.Unix(1_700_000_000, 0),
	}

	if err := svc.Submit(context.Background(), evt); err == nil {
		t.Fatal("expected error for zero amount")
	}

	select {
	case <-ch:
		t.Fatal("rejected command must not be queued")
	default:
	}
}

func TestSubmit_RejectsInvertedWindow(t *testing.T) {
	ch := make(chan event.Event, 1)
	svc := ingestion.NewAdminIngestService(ch)

	evt := &event.CreateStream{
		CommandID:   uuid.New(),
		Creator:     uuid.New(),
		Payer:       uuid.New(),
		Recipient:   uuid.New(),
		TotalAmount: 2000,
		Asset:       "USDC",
		StartTime:   1_700_001_000,
		StopTime:    1_700_000_000,
		Timestamp:   time.Unix(1_700_000_000, 0),
	}

	if err := svc.Submit(context.Background(), evt); err == nil {
		t.Fatal("expected error for stop before start")
	}
}

func TestSubmit_ContextCancelledOnFullQueue(t *testing.T) {
	ch := make(chan event.Event) // unbuffered, no consumer
	svc := ingestion.NewAdminIngestService(ch)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	evt := &event.Cancel{
		CancellationID: uuid.New(),
		Stream:         uuid.New(),
		Caller:         uuid.New(),
		Timestamp:      time.Unix(1_700_000_000, 0),
	}

	if err := svc.Submit(ctx, evt); err == nil {
		t.Fatal("expected context error on full queue")
	}
}
