package query

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	fpmath "VestLedger/internal/math"
	"VestLedger/internal/observability"

	"github.com/google/uuid"
)

// QueryService provides read-only access to projection tables. Queries are
// served via gRPC and HTTP/JSON, reading from PostgreSQL projections. All
// responses include as_of_sequence for freshness semantics: the watermark of
// the last event the projection worker has applied.
type QueryService struct {
	db      *sql.DB
	metrics *observability.Metrics
}

func NewQueryService(db *sql.DB, metrics *observability.Metrics) *QueryService {
	return &QueryService{db: db, metrics: metrics}
}

// GetStream returns one stream's projected state plus time-derived values.
// Vested and elapsed amounts are computed at query time from `now`, never
// stored: the projection row only carries the static configuration and the
// event-driven balances.
func (qs *QueryService) GetStream(
	ctx context.Context,
	streamID uuid.UUID,
	now int64,
) (*StreamResponse, error) {
	defer qs.observe("get_stream", time.Now())

	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	var s StreamResponse
	err = qs.db.QueryRowContext(ctx, `
		SELECT stream_id, payer, recipient, asset, total_amount, start_time, stop_time,
		       rate_per_second, remaining_balance, recipient_cancel_balance, status, version
		FROM projections.streams
		WHERE stream_id = $1
	`, streamID).Scan(
		&s.StreamID, &s.Payer, &s.Recipient, &s.Asset, &s.TotalAmount, &s.StartTime, &s.StopTime,
		&s.RatePerSecond, &s.RemainingBalance, &s.RecipientCancelBalance, &s.Status, &s.Version,
	)
	if err == sql.ErrNoRows {
		qs.countError("get_stream")
		return nil, fmt.Errorf("stream %s not found", streamID)
	}
	if err != nil {
		qs.countError("get_stream")
		return nil, err
	}

	s.ElapsedSeconds = elapsedSeconds(s.StartTime, s.StopTime, now)
	s.VestedAmount = vestedAmount(s.TotalAmount, s.StartTime, s.StopTime, s.RatePerSecond, now)
	s.Withdrawn = withdrawnAmount(&s)
	s.AsOfSequence = asOfSeq

	return &s, nil
}

// GetEntitlements returns the per-party withdrawable balances of a stream,
// mirroring the core's balance semantics from projected state.
func (qs *QueryService) GetEntitlements(
	ctx context.Context,
	streamID uuid.UUID,
	now int64,
) (*EntitlementResponse, error) {
	defer qs.observe("get_entitlements", time.Now())

	s, err := qs.GetStream(ctx, streamID, now)
	if err != nil {
		return nil, err
	}

	streamBalance, err := qs.getProjectedBalance(ctx, s.StreamID)
	if err != nil {
		qs.countError("get_entitlements")
		return nil, err
	}

	resp := &EntitlementResponse{
		StreamID:     s.StreamID,
		AsOfSequence: s.AsOfSequence,
	}

	if s.Status == "cancelled" {
		resp.RecipientBalance = s.RecipientCancelBalance
	} else {
		net := s.VestedAmount - s.Withdrawn
		resp.RecipientBalance = net
		resp.PayerBalance = s.RemainingBalance - net
	}

	// Excess beyond the floor that must stay on hand for the recipient
	floor := s.RemainingBalance
	if s.RecipientCancelBalance > floor {
		floor = s.RecipientCancelBalance
	}
	if excess := streamBalance - floor; excess > 0 {
		resp.RecoverableExcess = excess
	}

	return resp, nil
}

// GetBalance returns an account's projected ledger balance. Stream accounts,
// recipients and recovery destinations all live in the same balance table.
func (qs *QueryService) GetBalance(
	ctx context.Context,
	account uuid.UUID,
) (*BalanceResponse, error) {
	defer qs.observe("get_balance", time.Now())

	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	resp := &BalanceResponse{
		Account:      account.String(),
		AsOfSequence: asOfSeq,
	}

	err = qs.db.QueryRowContext(ctx, `
		SELECT balance, last_sequence FROM projections.balances
		WHERE account = $1
	`, account.String()).Scan(&resp.Balance, &resp.LastSequence)
	if err == sql.ErrNoRows {
		return resp, nil // Unknown account: zero balance
	}
	if err != nil {
		qs.countError("get_balance")
		return nil, err
	}

	return resp, nil
}

// ListStreamsByParty returns all streams where the given account is payer or
// recipient, newest first.
func (qs *QueryService) ListStreamsByParty(
	ctx context.Context,
	party uuid.UUID,
	now int64,
) ([]StreamResponse, error) {
	defer qs.observe("list_streams", time.Now())

	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT stream_id, payer, recipient, asset, total_amount, start_time, stop_time,
		       rate_per_second, remaining_balance, recipient_cancel_balance, status, version
		FROM projections.streams
		WHERE payer = $1 OR recipient = $1
		ORDER BY last_sequence DESC
	`, party.String())
	if err != nil {
		qs.countError("list_streams")
		return nil, err
	}
	defer rows.Close()

	var streams []StreamResponse
	for rows.Next() {
		var s StreamResponse
		if err := rows.Scan(
			&s.StreamID, &s.Payer, &s.Recipient, &s.Asset, &s.TotalAmount, &s.StartTime, &s.StopTime,
			&s.RatePerSecond, &s.RemainingBalance, &s.RecipientCancelBalance, &s.Status, &s.Version,
		); err != nil {
			return nil, err
		}
		s.ElapsedSeconds = elapsedSeconds(s.StartTime, s.StopTime, now)
		s.VestedAmount = vestedAmount(s.TotalAmount, s.StartTime, s.StopTime, s.RatePerSecond, now)
		s.Withdrawn = withdrawnAmount(&s)
		s.AsOfSequence = asOfSeq
		streams = append(streams, s)
	}

	return streams, rows.Err()
}

// ListTransfers returns transfer history for a stream with cursor-based
// pagination (descending sequence, `afterSequence` as the exclusive cursor).
func (qs *QueryService) ListTransfers(
	ctx context.Context,
	streamID uuid.UUID,
	limit int,
	afterSequence *int64,
) ([]TransferHistoryEntry, error) {
	defer qs.observe("list_transfers", time.Now())

	query := `
		SELECT transfer_id, stream_id, from_account, to_account, amount, kind, sequence,
		       EXTRACT(EPOCH FROM occurred_at)::bigint
		FROM projections.transfers
		WHERE stream_id = $1
	`
	args := []interface{}{streamID.String()}
	argIdx := 2

	if afterSequence != nil {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *afterSequence)
		argIdx++
	}

	query += " ORDER BY sequence DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		qs.countError("list_transfers")
		return nil, err
	}
	defer rows.Close()

	var entries []TransferHistoryEntry
	for rows.Next() {
		var e TransferHistoryEntry
		if err := rows.Scan(
			&e.TransferID, &e.StreamID, &e.FromAccount, &e.ToAccount,
			&e.Amount, &e.Kind, &e.Sequence, &e.OccurredAt,
		); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

// --- Admin APIs ---

// VerifyIntegrity checks hash chain continuity and balance invariants.
func (qs *QueryService) VerifyIntegrity(ctx context.Context) (*IntegrityReport, error) {
	defer qs.observe("verify_integrity", time.Now())

	report := &IntegrityReport{}

	// Check hash chain continuity
	rows, err := qs.db.QueryContext(ctx, `
		SELECT e1.sequence
		FROM event_log.events e1
		LEFT JOIN event_log.events e2 ON e2.sequence = e1.sequence - 1
		WHERE e1.sequence > 0 AND e1.prev_hash != COALESCE(e2.state_hash, e1.prev_hash)
		LIMIT 10
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var seq int64
		if err := rows.Scan(&seq); err != nil {
			return nil, err
		}
		report.HashChainBreaks = append(report.HashChainBreaks, seq)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// No account may go below zero: transfers are always balance-checked in
	// the core, so a negative projection means a projection defect
	balanceRows, err := qs.db.QueryContext(ctx, `
		SELECT account, balance
		FROM projections.balances
		WHERE balance < 0
		LIMIT 10
	`)
	if err != nil {
		return nil, err
	}
	defer balanceRows.Close()

	for balanceRows.Next() {
		var nb NegativeBalance
		if err := balanceRows.Scan(&nb.Account, &nb.Balance); err != nil {
			return nil, err
		}
		report.NegativeBalances = append(report.NegativeBalances, nb)
	}
	if err := balanceRows.Err(); err != nil {
		return nil, err
	}

	// Active streams must never owe more than their configured total
	streamRows, err := qs.db.QueryContext(ctx, `
		SELECT stream_id
		FROM projections.streams
		WHERE remaining_balance < 0 OR remaining_balance > total_amount
		LIMIT 10
	`)
	if err != nil {
		return nil, err
	}
	defer streamRows.Close()

	for streamRows.Next() {
		var id string
		if err := streamRows.Scan(&id); err != nil {
			return nil, err
		}
		report.OverdrawnStreams = append(report.OverdrawnStreams, id)
	}
	if err := streamRows.Err(); err != nil {
		return nil, err
	}

	report.IsHealthy = len(report.HashChainBreaks) == 0 &&
		len(report.NegativeBalances) == 0 &&
		len(report.OverdrawnStreams) == 0
	return report, nil
}

// --- helpers ---

func (qs *QueryService) getWatermark(ctx context.Context) (int64, error) {
	var seq int64
	err := qs.db.QueryRowContext(ctx, `
		SELECT COALESCE(last_sequence, 0) FROM projections.watermark WHERE worker_id = 'main'
	`).Scan(&seq)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return seq, err
}

func (qs *QueryService) getProjectedBalance(ctx context.Context, account string) (int64, error) {
	var balance int64
	err := qs.db.QueryRowContext(ctx, `
		SELECT COALESCE(balance, 0) FROM projections.balances
		WHERE account = $1
	`, account).Scan(&balance)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return balance, err
}

func (qs *QueryService) observe(method string, start time.Time) {
	if qs.metrics == nil {
		return
	}
	qs.metrics.QueryRequests.WithLabelValues(method).Inc()
	qs.metrics.QueryDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
}

func (qs *QueryService) countError(method string) {
	if qs.metrics == nil {
		return
	}
	qs.metrics.QueryErrors.WithLabelValues(method).Inc()
}

// Query-side mirrors of the core's vesting math, operating on projected
// columns instead of in-memory accounts.

func elapsedSeconds(startTime, stopTime, now int64) int64 {
	if now <= startTime {
		return 0
	}
	if now >= stopTime {
		return stopTime - startTime
	}
	return now - startTime
}

func vestedAmount(totalAmount, startTime, stopTime, ratePerSecond, now int64) int64 {
	if now <= startTime {
		return 0
	}
	if now >= stopTime {
		return totalAmount
	}
	return fpmath.VestedFromRate(now-startTime, ratePerSecond)
}

func withdrawnAmount(s *StreamResponse) int64 {
	if s.Status == "cancelled" {
		return 0 // Withdrawn-while-active is not reconstructible after cancel
	}
	return s.TotalAmount - s.RemainingBalance
}
