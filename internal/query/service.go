// Package query provides read-only access to the Postgres event and
// journal log. Live position and auction state is answered by the engine
// from memory; this service covers history and audit.
package query

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

type Service struct {
	db *sql.DB
}

func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

// GetEventHistory returns event-log rows, newest first, optionally filtered
// by event type. Cursor-based pagination via afterSequence.
func (qs *Service) GetEventHistory(
	ctx context.Context,
	eventType *string,
	limit int,
	afterSequence *int64,
) ([]EventHistoryEntry, error) {
	query := `
		SELECT sequence, event_type, payload, EXTRACT(EPOCH FROM timestamp)::bigint
		FROM cdp.events
		WHERE TRUE
	`
	args := []interface{}{}
	argIdx := 1

	if eventType != nil {
		query += fmt.Sprintf(" AND event_type = $%d", argIdx)
		args = append(args, *eventType)
		argIdx++
	}

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
		return nil, err
	}
	defer rows.Close()

	var entries []EventHistoryEntry
	for rows.Next() {
		var e EventHistoryEntry
		if err := rows.Scan(&e.Sequence, &e.EventType, &e.Payload, &e.Timestamp); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

// GetAuctionHistory returns every event recorded for one auction nonce:
// the start, each accepted bid, and the close.
func (qs *Service) GetAuctionHistory(ctx context.Context, nonce uint64) ([]EventHistoryEntry, error) {
	rows, err := qs.db.QueryContext(ctx, `
		SELECT sequence, event_type, payload, EXTRACT(EPOCH FROM timestamp)::bigint
		FROM cdp.events
		WHERE event_type IN ('auction_started', 'bid_placed', 'auction_closed')
		  AND (payload->>'nonce')::bigint = $1
		ORDER BY sequence ASC
	`, int64(nonce))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []EventHistoryEntry
	for rows.Next() {
		var e EventHistoryEntry
		if err := rows.Scan(&e.Sequence, &e.EventType, &e.Payload, &e.Timestamp); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

// GetJournalHistory returns journal entries touching a user's accounts,
// newest first, with cursor-based pagination.
func (qs *Service) GetJournalHistory(
	ctx context.Context,
	account uuid.UUID,
	limit int,
	afterSequence *int64,
) ([]JournalHistoryEntry, error) {
	accountPrefix := fmt.Sprintf("user:%s:%%", account)

	query := `
		SELECT journal_id, batch_id, op_ref, sequence,
		       debit_account, credit_account, asset_id, amount, journal_type, timestamp
		FROM cdp.journal
		WHERE (debit_account LIKE $1 OR credit_account LIKE $1)
	`
	args := []interface{}{accountPrefix}
	argIdx := 2

	if afterSequence != nil {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *afterSequence)
		argIdx++
	}

	query += " ORDER BY sequence DESC, journal_id"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []JournalHistoryEntry
	for rows.Next() {
		var e JournalHistoryEntry
		if err := rows.Scan(
			&e.JournalID, &e.BatchID, &e.OpRef, &e.Sequence,
			&e.DebitAccount, &e.CreditAccount, &e.AssetID, &e.Amount,
			&e.JournalType, &e.Timestamp,
		); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

// VerifyIntegrity checks the persisted log for sequence gaps and journal
// rows that reference no event. Admin API.
func (qs *Service) VerifyIntegrity(ctx context.Context) (*IntegrityReport, error) {
	report := &IntegrityReport{}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT e1.sequence
		FROM cdp.events e1
		LEFT JOIN cdp.events e2 ON e2.sequence = e1.sequence - 1
		WHERE e1.sequence > (SELECT MIN(sequence) FROM cdp.events)
		  AND e2.sequence IS NULL
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
		report.SequenceGaps = append(report.SequenceGaps, seq)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	err = qs.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM cdp.journal j
		LEFT JOIN cdp.events e ON e.sequence = j.sequence
		WHERE e.sequence IS NULL
	`).Scan(&report.OrphanJournals)
	if err != nil {
		return nil, err
	}

	report.IsHealthy = len(report.SequenceGaps) == 0 && report.OrphanJournals == 0
	return report, nil
}

// LastPersistedSequence returns the highest sequence in the event log, or
// zero when the log is empty.
func (qs *Service) LastPersistedSequence(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	err := qs.db.QueryRowContext(ctx, `SELECT MAX(sequence) FROM cdp.events`).Scan(&seq)
	if err != nil {
		return 0, err
	}
	if !seq.Valid {
		return 0, nil
	}
	return seq.Int64, nil
}
