package projection

import (
	"context"
	"database/sql"
	"fmt"

	"VestLedger/internal/observability"

	"github.com/rs/zerolog"
)

// ProjectionOutput mirrors the data needed by projection workers.
// The orchestrator bridges between core.CoreOutput and this.
type ProjectionOutput struct {
	Sequence  int64
	EventType string
	Stream    *StreamState
	Transfers []TransferEntry
	Timestamp int64
}

// StreamState is the post-event state of the touched stream.
type StreamState struct {
	StreamID               string
	Payer                  string
	Recipient              string
	Asset                  string
	TotalAmount            int64
	StartTime              int64
	StopTime               int64
	RatePerSecond          int64
	RemainingBalance       int64
	RecipientCancelBalance int64
	Status                 string
	Version                int64
}

// TransferEntry is a simplified transfer for projection consumption.
type TransferEntry struct {
	TransferID  string
	FromAccount string
	ToAccount   string
	Amount      int64
	Kind        string
}

// ProjectionWorker updates projection tables from processed events.
// The projection channel is non-blocking with drop: if projections fall
// behind, they can be rebuilt from the event log.
type ProjectionWorker struct {
	db        *sql.DB
	inputChan <-chan ProjectionOutput
	lastSeq   int64
	log       zerolog.Logger
}

func NewProjectionWorker(db *sql.DB, inputChan <-chan ProjectionOutput) *ProjectionWorker {
	return &ProjectionWorker{
		db:        db,
		inputChan: inputChan,
		log:       observability.NewLogger("projection"),
	}
}

// Run starts the projection worker loop.
func (pw *ProjectionWorker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case output, ok := <-pw.inputChan:
			if !ok {
				return nil
			}

			if err := pw.processOutput(ctx, output); err != nil {
				// Continue — projections are eventually consistent and can
				// be rebuilt from the event log
				pw.log.Warn().
					Int64("sequence", output.Sequence).
					Err(err).
					Msg("projection update failed")
			}

			pw.lastSeq = output.Sequence
		}
	}
}

func (pw *ProjectionWorker) processOutput(ctx context.Context, output ProjectionOutput) error {
	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if output.Stream != nil {
		if err := pw.upsertStreamProjection(ctx, tx, output.Sequence, output.Stream); err != nil {
			return fmt.Errorf("stream projection: %w", err)
		}
	}

	for _, t := range output.Transfers {
		if err := pw.updateTransferProjections(ctx, tx, output, t); err != nil {
			return fmt.Errorf("transfer projection: %w", err)
		}
	}

	// Update projection watermark
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.watermark (worker_id, last_sequence, updated_at)
		VALUES ('main', $1, NOW())
		ON CONFLICT (worker_id) DO UPDATE SET last_sequence = $1, updated_at = NOW()
	`, output.Sequence); err != nil {
		return fmt.Errorf("watermark update: %w", err)
	}

	return tx.Commit()
}

func (pw *ProjectionWorker) upsertStreamProjection(ctx context.Context, tx *sql.Tx, sequence int64, s *StreamState) error {
	// Version guard: a stale update (replay, drop + rebuild overlap) must not
	// overwrite a newer row.
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.streams
			(stream_id, payer, recipient, asset, total_amount, start_time, stop_time,
			 rate_per_second, remaining_balance, recipient_cancel_balance, status, version, last_sequence)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (stream_id) DO UPDATE SET
			remaining_balance = EXCLUDED.remaining_balance,
			recipient_cancel_balance = EXCLUDED.recipient_cancel_balance,
			status = EXCLUDED.status,
			version = EXCLUDED.version,
			last_sequence = EXCLUDED.last_sequence
		WHERE projections.streams.version < EXCLUDED.version
	`, s.StreamID, s.Payer, s.Recipient, s.Asset, s.TotalAmount, s.StartTime, s.StopTime,
		s.RatePerSecond, s.RemainingBalance, s.RecipientCancelBalance, s.Status, s.Version, sequence)
	return err
}

func (pw *ProjectionWorker) updateTransferProjections(ctx context.Context, tx *sql.Tx, output ProjectionOutput, t TransferEntry) error {
	streamID := ""
	if output.Stream != nil {
		streamID = output.Stream.StreamID
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.transfers
			(transfer_id, stream_id, from_account, to_account, amount, kind, sequence, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, to_timestamp($8))
		ON CONFLICT (transfer_id) DO NOTHING
	`, t.TransferID, streamID, t.FromAccount, t.ToAccount, t.Amount, t.Kind, output.Sequence, output.Timestamp); err != nil {
		return err
	}

	// Credit side: every transfer lands on an in-ledger account
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.balances (account, balance, last_sequence)
		VALUES ($1, $2, $3)
		ON CONFLICT (account)
		DO UPDATE SET balance = projections.balances.balance + $2, last_sequence = $3
	`, t.ToAccount, t.Amount, output.Sequence); err != nil {
		return err
	}

	// Debit side: deposits originate outside the ledger, nothing to debit
	if t.Kind != "deposit" {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO projections.balances (account, balance, last_sequence)
			VALUES ($1, -$2, $3)
			ON CONFLICT (account)
			DO UPDATE SET balance = projections.balances.balance - $2, last_sequence = $3
		`, t.FromAccount, t.Amount, output.Sequence); err != nil {
			return err
		}
	}

	return nil
}

// RebuildProjections rebuilds the balance and transfer projections from the
// event log. Stream rows are rebuilt separately: the orchestrator re-emits
// the full stream registry after replaying the log through the core.
func RebuildProjections(ctx context.Context, db *sql.DB) error {
	log := observability.NewLogger("projection")

	truncateStatements := []string{
		`TRUNCATE projections.balances`,
		`TRUNCATE projections.transfers`,
		`TRUNCATE projections.streams`,
		`DELETE FROM projections.watermark WHERE worker_id = 'main'`,
	}

	for _, stmt := range truncateStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("truncate failed: %w", err)
		}
	}

	// Replay transfer history
	if _, err := db.ExecContext(ctx, `
		INSERT INTO projections.transfers
			(transfer_id, stream_id, from_account, to_account, amount, kind, sequence, occurred_at)
		SELECT transfer_id,
		       CASE WHEN kind = 'deposit' THEN to_account ELSE from_account END AS stream_id,
		       from_account, to_account, amount, kind, sequence, timestamp
		FROM event_log.transfers
		ON CONFLICT (transfer_id) DO NOTHING
	`); err != nil {
		return fmt.Errorf("rebuild transfers: %w", err)
	}

	// Credits: every transfer lands in-ledger
	if _, err := db.ExecContext(ctx, `
		INSERT INTO projections.balances (account, balance, last_sequence)
		SELECT
			to_account AS account,
			SUM(amount) AS balance,
			MAX(sequence) AS last_sequence
		FROM event_log.transfers
		GROUP BY to_account
		ON CONFLICT (account) DO UPDATE
			SET balance = EXCLUDED.balance, last_sequence = EXCLUDED.last_sequence
	`); err != nil {
		return fmt.Errorf("rebuild credit balances: %w", err)
	}

	// Debits: deposits are external mints, their from side is not debited
	if _, err := db.ExecContext(ctx, `
		INSERT INTO projections.balances (account, balance, last_sequence)
		SELECT
			from_account AS account,
			-SUM(amount) AS balance,
			MAX(sequence) AS last_sequence
		FROM event_log.transfers
		WHERE kind <> 'deposit'
		GROUP BY from_account
		ON CONFLICT (account) DO UPDATE
			SET balance = projections.balances.balance + EXCLUDED.balance,
			    last_sequence = GREATEST(projections.balances.last_sequence, EXCLUDED.last_sequence)
	`); err != nil {
		return fmt.Errorf("rebuild debit balances: %w", err)
	}

	log.Info().Msg("projection rebuild complete")
	return nil
}
