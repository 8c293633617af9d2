package ingestion

import (
	"encoding/json"
	"fmt"
	"time"

	"VestLedger/internal/event"

	"github.com/google/uuid"
)

// ParseRawEvent converts a RawEvent (JSON bytes + command type string) into a
// typed event.Event. The ingestion shell validates, parses, and converts raw
// commands before sending anything to the deterministic core.
func ParseRawEvent(raw RawEvent, eventType string) (event.Event, error) {
	switch eventType {
	case "CreateStream":
		return parseCreateStream(raw.Data)
	case "Deposit":
		return parseDeposit(raw.Data)
	case "Withdraw":
		return parseWithdraw(raw.Data)
	case "Cancel":
		return parseCancel(raw.Data)
	case "RecoverExcess":
		return parseRecoverExcess(raw.Data)
	default:
		return nil, fmt.Errorf("unknown event type: %s", eventType)
	}
}

// --- JSON wire formats ---
// These structs represent the JSON payloads received from NATS.
// Field names use snake_case to match upstream producers.

type createStreamJSON struct {
	CommandID   string `json:"command_id"`
	Creator     string `json:"creator"`
	Payer       string `json:"payer"`
	Recipient   string `json:"recipient"`
	TotalAmount int64  `json:"total_amount"`
	Asset       string `json:"asset"`
	StartTime   int64  `json:"start_time"`
	StopTime    int64  `json:"stop_time"`
	Nonce       uint64 `json:"nonce,omitempty"`
	Sequence    int64  `json:"sequence"`
	TimestampUs int64  `json:"timestamp_us"`
}

func parseCreateStream(data []byte) (*event.CreateStream, error) {
	var j createStreamJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse CreateStream: %w", err)
	}

	commandID, err := uuid.Parse(j.CommandID)
	if err != nil {
		return nil, fmt.Errorf("parse command_id: %w", err)
	}
	creator, err := uuid.Parse(j.Creator)
	if err != nil {
		return nil, fmt.Errorf("parse creator: %w", err)
	}
	payer, err := uuid.Parse(j.Payer)
	if err != nil {
		return nil, fmt.Errorf("parse payer: %w", err)
	}
	recipient, err := uuid.Parse(j.Recipient)
	if err != nil {
		return nil, fmt.Errorf("parse recipient: %w", err)
	}

	return &event.CreateStream{
		CommandID:   commandID,
		Creator:     creator,
		Payer:       payer,
		Recipient:   recipient,
		TotalAmount: j.TotalAmount,
		Asset:       j.Asset,
		StartTime:   j.StartTime,
		StopTime:    j.StopTime,
		Nonce:       j.Nonce,
		Sequence:    j.Sequence,
		Timestamp:   time.UnixMicro(j.TimestampUs),
	}, nil
}

type depositJSON struct {
	DepositID   string `json:"deposit_id"`
	StreamID    string `json:"stream_id"`
	From        string `json:"from"`
	Amount      int64  `json:"amount"`
	Sequence    int64  `json:"sequence"`
	TimestampUs int64  `json:"timestamp_us"`
}

func parseDeposit(data []byte) (*event.Deposit, error) {
	var j depositJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse Deposit: %w", err)
	}
	depositID, err := uuid.Parse(j.DepositID)
	if err != nil {
		return nil, fmt.Errorf("parse deposit_id: %w", err)
	}
	streamID, err := uuid.Parse(j.StreamID)
	if err != nil {
		return nil, fmt.Errorf("parse stream_id: %w", err)
	}
	from, err := uuid.Parse(j.From)
	if err != nil {
		return nil, fmt.Errorf("parse from: %w", err)
	}
	return &event.Deposit{
		DepositID: depositID,
		Stream:    streamID,
		From:      from,
		Amount:    j.Amount,
		Sequence:  j.Sequence,
		Timestamp: time.UnixMicro(j.TimestampUs),
	}, nil
}

type withdrawJSON struct {
	WithdrawalID string `json:"withdrawal_id"`
	StreamID     string `json:"stream_id"`
	Caller       string `json:"caller"`
	Amount       int64  `json:"amount"`
	Sequence     int64  `json:"sequence"`
	TimestampUs  int64  `json:"timestamp_us"`
}

func parseWithdraw(data []byte) (*event.Withdraw, error) {
	var j withdrawJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse Withdraw: %w", err)
	}
	withdrawalID, err := uuid.Parse(j.WithdrawalID)
	if err != nil {
		return nil, fmt.Errorf("parse withdrawal_id: %w", err)
	}
	streamID, err := uuid.Parse(j.StreamID)
	if err != nil {
		return nil, fmt.Errorf("parse stream_id: %w", err)
	}
	caller, err := uuid.Parse(j.Caller)
	if err != nil {
		return nil, fmt.Errorf("parse caller: %w", err)
	}
	return &event.Withdraw{
		WithdrawalID: withdrawalID,
		Stream:       streamID,
		Caller:       caller,
		Amount:       j.Amount,
		Sequence:     j.Sequence,
		Timestamp:    time.UnixMicro(j.TimestampUs),
	}, nil
}

type cancelJSON struct {
	CancellationID string `json:"cancellation_id"`
	StreamID       string `json:"stream_id"`
	Caller         string `json:"caller"`
	Sequence       int64  `json:"sequence"`
	TimestampUs    int64  `json:"timestamp_us"`
}

func parseCancel(data []byte) (*event.Cancel, error) {
	var j cancelJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse Cancel: %w", err)
	}
	cancellationID, err := uuid.Parse(j.CancellationID)
	if err != nil {
		return nil, fmt.Errorf("parse cancellation_id: %w", err)
	}
	streamID, err := uuid.Parse(j.StreamID)
	if err != nil {
		return nil, fmt.Errorf("parse stream_id: %w", err)
	}
	caller, err := uuid.Parse(j.Caller)
	if err != nil {
		return nil, fmt.Errorf("parse caller: %w", err)
	}
	return &event.Cancel{
		CancellationID: cancellationID,
		Stream:         streamID,
		Caller:         caller,
		Sequence:       j.Sequence,
		Timestamp:      time.UnixMicro(j.TimestampUs),
	}, nil
}

type recoverExcessJSON struct {
	RecoveryID  string `json:"recovery_id"`
	StreamID    string `json:"stream_id"`
	Caller      string `json:"caller"`
	Amount      int64  `json:"amount"`
	Destination string `json:"destination"`
	Sequence    int64  `json:"sequence"`
	TimestampUs int64  `json:"timestamp_us"`
}

func parseRecoverExcess(data []byte) (*event.RecoverExcess, error) {
	var j recoverExcessJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse RecoverExcess: %w", err)
	}
	recoveryID, err := uuid.Parse(j.RecoveryID)
	if err != nil {
		return nil, fmt.Errorf("parse recovery_id: %w", err)
	}
	streamID, err := uuid.Parse(j.StreamID)
	if err != nil {
		return nil, fmt.Errorf("parse stream_id: %w", err)
	}
	caller, err := uuid.Parse(j.Caller)
	if err != nil {
		return nil, fmt.Errorf("parse caller: %w", err)
	}
	destination, err := uuid.Parse(j.Destination)
	if err != nil {
		return nil, fmt.Errorf("parse destination: %w", err)
	}
	return &event.RecoverExcess{
		RecoveryID:  recoveryID,
		Stream:      streamID,
		Caller:      caller,
		Amount:      j.Amount,
		Destination: destination,
		Sequence:    j.Sequence,
		Timestamp:   time.UnixMicro(j.TimestampUs),
	}, nil
}
