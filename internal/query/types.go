package query

// StreamResponse represents a vesting stream for API queries. The static
// configuration comes from the projection row; elapsed/vested values are
// derived at query time from the caller-supplied `now`.
type StreamResponse struct {
	StreamID  string `json:"stream_id"`
	Payer     string `json:"payer"`
	Recipient string `json:"recipient"`
	Asset     string `json:"asset"`

	TotalAmount   int64 `json:"total_amount"`
	StartTime     int64 `json:"start_time"`
	StopTime      int64 `json:"stop_time"`
	RatePerSecond int64 `json:"rate_per_second"`

	RemainingBalance       int64  `json:"remaining_balance"`
	RecipientCancelBalance int64  `json:"recipient_cancel_balance"`
	Status                 string `json:"status"`
	Version                int64  `json:"version"`

	// Derived values (computed at query time, NOT projection columns)
	ElapsedSeconds int64 `json:"elapsed_seconds"`
	VestedAmount   int64 `json:"vested_amount"`
	Withdrawn      int64 `json:"withdrawn"`

	AsOfSequence int64 `json:"as_of_sequence"` // projection watermark
}

// EntitlementResponse holds the per-party withdrawable balances of one stream
// at a point in time.
type EntitlementResponse struct {
	StreamID string `json:"stream_id"`

	RecipientBalance  int64 `json:"recipient_balance"`
	PayerBalance      int64 `json:"payer_balance"`
	RecoverableExcess int64 `json:"recoverable_excess"`

	AsOfSequence int64 `json:"as_of_sequence"`
}

// BalanceResponse represents a single account's projected ledger balance.
type BalanceResponse struct {
	Account      string `json:"account"`
	Balance      int64  `json:"balance"`
	LastSequence int64  `json:"last_sequence"`
	AsOfSequence int64  `json:"as_of_sequence"`
}

// TransferHistoryEntry represents a transfer record for API queries.
type TransferHistoryEntry struct {
	TransferID  string `json:"transfer_id"`
	StreamID    string `json:"stream_id"`
	FromAccount string `json:"from_account"`
	ToAccount   string `json:"to_account"`
	Amount      int64  `json:"amount"`
	Kind        string `json:"kind"`
	Sequence    int64  `json:"sequence"`
	OccurredAt  int64  `json:"occurred_at"`
}

// IntegrityReport is the result of an integrity verification check.
type IntegrityReport struct {
	IsHealthy        bool              `json:"is_healthy"`
	HashChainBreaks  []int64           `json:"hash_chain_breaks,omitempty"`
	NegativeBalances []NegativeBalance `json:"negative_balances,omitempty"`
	OverdrawnStreams []string          `json:"overdrawn_streams,omitempty"`
}

// NegativeBalance flags an account whose projected balance went below zero.
type NegativeBalance struct {
	Account string `json:"account"`
	Balance int64  `json:"balance"`
}
