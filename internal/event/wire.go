package event

import "encoding/json"

// Wire format for persisted and published command payloads. Matches the JSON
// accepted by the ingestion parser, so event-log rows replay through the same
// path that live NATS messages take. UUIDs travel as strings, timestamps as
// unix microseconds.

func (e *CreateStream) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
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
	}{
		CommandID:   e.CommandID.String(),
		Creator:     e.Creator.String(),
		Payer:       e.Payer.String(),
		Recipient:   e.Recipient.String(),
		TotalAmount: e.TotalAmount,
		Asset:       e.Asset,
		StartTime:   e.StartTime,
		StopTime:    e.StopTime,
		Nonce:       e.Nonce,
		Sequence:    e.Sequence,
		TimestampUs: e.Timestamp.UnixMicro(),
	})
}

func (e *Deposit) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		DepositID   string `json:"deposit_id"`
		StreamID    string `json:"stream_id"`
		From        string `json:"from"`
		Amount      int64  `json:"amount"`
		Sequence    int64  `json:"sequence"`
		TimestampUs int64  `json:"timestamp_us"`
	}{
		DepositID:   e.DepositID.String(),
		StreamID:    e.Stream.String(),
		From:        e.From.String(),
		Amount:      e.Amount,
		Sequence:    e.Sequence,
		TimestampUs: e.Timestamp.UnixMicro(),
	})
}

func (e *Withdraw) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		WithdrawalID string `json:"withdrawal_id"`
		StreamID     string `json:"stream_id"`
		Caller       string `json:"caller"`
		Amount       int64  `json:"amount"`
		Sequence     int64  `json:"sequence"`
		TimestampUs  int64  `json:"timestamp_us"`
	}{
		WithdrawalID: e.WithdrawalID.String(),
		StreamID:     e.Stream.String(),
		Caller:       e.Caller.String(),
		Amount:       e.Amount,
		Sequence:     e.Sequence,
		TimestampUs:  e.Timestamp.UnixMicro(),
	})
}

func (e *Cancel) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		CancellationID string `json:"cancellation_id"`
		StreamID       string `json:"stream_id"`
		Caller         string `json:"caller"`
		Sequence       int64  `json:"sequence"`
		TimestampUs    int64  `json:"timestamp_us"`
	}{
		CancellationID: e.CancellationID.String(),
		StreamID:       e.Stream.String(),
		Caller:         e.Caller.String(),
		Sequence:       e.Sequence,
		TimestampUs:    e.Timestamp.UnixMicro(),
	})
}

func (e *RecoverExcess) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		RecoveryID  string `json:"recovery_id"`
		StreamID    string `json:"stream_id"`
		Caller      string `json:"caller"`
		Amount      int64  `json:"amount"`
		Destination string `json:"destination"`
		Sequence    int64  `json:"sequence"`
		TimestampUs int64  `json:"timestamp_us"`
	}{
		RecoveryID:  e.RecoveryID.String(),
		StreamID:    e.Stream.String(),
		Caller:      e.Caller.String(),
		Amount:      e.Amount,
		Destination: e.Destination.String(),
		Sequence:    e.Sequence,
		TimestampUs: e.Timestamp.UnixMicro(),
	})
}
