package ingestion

import (
	"VestLedger/internal/event"
	"context"
	"fmt"
)

// AdminIngestService accepts commands arriving outside the NATS path (the
// HTTP ingest routes, operator tooling). Commands carry caller-assigned
// source sequences under the same per-partition contract as NATS ingestion;
// the service validates payload shape at the edge, the core enforces ordering
// and domain rules.
type AdminIngestService struct {
	eventChan chan<- event.Event
}

func NewAdminIngestService(eventChan chan<- event.Event) *AdminIngestService {
	return &AdminIngestService{eventChan: eventChan}
}

// Submit validates a parsed command and queues it for the core. Blocks on a
// full queue until ctx is done.
func (s *AdminIngestService) Submit(ctx context.Context, evt event.Event) error {
	if err := validateCommand(evt); err != nil {
		return err
	}

	select {
	case s.eventChan <- evt:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// validateCommand rejects structurally invalid commands at the edge so they
// never consume a per-partition sequence slot in the core.
func validateCommand(evt event.Event) error {
	switch e := evt.(type) {
	case *event.CreateStream:
		if e.TotalAmount <= 0 {
			return fmt.Errorf("total amount must be positive")
		}
		if e.StopTime <= e.StartTime {
			return fmt.Errorf("stop time must be after start time")
		}
	case *event.Deposit:
		if e.Amount <= 0 {
			return fmt.Errorf("amount must be positive")
		}
	case *event.Withdraw:
		if e.Amount <= 0 {
			return fmt.Errorf("amount must be positive")
		}
	case *event.Cancel:
		// No amount to validate
	case *event.RecoverExcess:
		if e.Amount <= 0 {
			return fmt.Errorf("amount must be positive")
		}
	default:
		return fmt.Errorf("unsupported command type %T", evt)
	}
	return nil
}
