package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/safetrade/escrowd/internal/escrow"
)

const transactionColumns = `
	id, status, buyer_id, seller_id, price_cents, quantity, version,
	tracking_number, shipping_carrier,
	next_auto_transition_at, is_auto_transition_scheduled,
	created_at, updated_at`

// Read returns the current snapshot for a transaction.
// Returns ErrNotFound if no row exists.
func (s *Store) Read(ctx context.Context, id string) (escrow.Transaction, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions WHERE id = ?
	`, id)

	txn, err := scanTransaction(row)
	if err == sql.ErrNoRows {
		return escrow.Transaction{}, ErrNotFound
	}
	if err != nil {
		return escrow.Transaction{}, fmt.Errorf("read %s: %w", id, err)
	}
	return txn, nil
}

// QueryDue returns scheduled transactions whose deadline is at or before
// the given instant, oldest deadline first. The fire job walks this set
// and CAS-applies a timeout to each.
func (s *Store) QueryDue(ctx context.Context, before time.Time, limit int) ([]escrow.Transaction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE is_auto_transition_scheduled = 1
		  AND next_auto_transition_at IS NOT NULL
		  AND next_auto_transition_at <= ?
		ORDER BY next_auto_transition_at ASC
		LIMIT ?
	`, millis(before), limit)
	if err != nil {
		return nil, fmt.Errorf("query due: %w", err)
	}
	return collectTransactions(rows, "query due")
}

// QueryScheduled returns every transaction with an active schedule,
// oldest deadline first. The consistency audit re-derives each deadline
// from this set.
func (s *Store) QueryScheduled(ctx context.Context, limit int) ([]escrow.Transaction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE is_auto_transition_scheduled = 1
		  AND next_auto_transition_at IS NOT NULL
		ORDER BY next_auto_transition_at ASC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query scheduled: %w", err)
	}
	return collectTransactions(rows, "query scheduled")
}

// QueryUnscheduled returns transactions in the given statuses that lack a
// schedule, optionally bounded to rows updated at or after updatedAfter
// (pass the zero time for a full sweep). This feeds the scheduling-
// assignment job.
func (s *Store) QueryUnscheduled(ctx context.Context, updatedAfter time.Time, statuses []escrow.Status, limit int) ([]escrow.Transaction, error) {
	if len(statuses) == 0 {
		return nil, nil
	}

	args := statusArgs(statuses)
	query := `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE status IN (` + placeholders(len(statuses)) + `)
		  AND is_auto_transition_scheduled = 0`
	if !updatedAfter.IsZero() {
		query += `
		  AND updated_at >= ?`
		args = append(args, millis(updatedAfter))
	}
	query += `
		ORDER BY updated_at ASC
		LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query unscheduled: %w", err)
	}
	return collectTransactions(rows, "query unscheduled")
}

// QueryInconsistentSchedules returns rows violating the scheduling
// invariant: flag set without a deadline, deadline present without the
// flag, or any schedule state on a status that never auto-advances
// (terminal statuses included). Read-only; the validator classifies the
// results.
func (s *Store) QueryInconsistentSchedules(ctx context.Context) ([]escrow.Transaction, error) {
	auto := escrow.AutoAdvancingStatuses()

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE (is_auto_transition_scheduled = 1) != (next_auto_transition_at IS NOT NULL)
		   OR (status NOT IN (`+placeholders(len(auto))+`)
		       AND (is_auto_transition_scheduled = 1 OR next_auto_transition_at IS NOT NULL))
		ORDER BY updated_at ASC
	`, statusArgs(auto)...)
	if err != nil {
		return nil, fmt.Errorf("query inconsistent schedules: %w", err)
	}
	return collectTransactions(rows, "query inconsistent schedules")
}

// QueryStalled returns non-terminal transactions untouched since the
// cutoff. Reported by the validator for operator review; never mutated
// automatically.
func (s *Store) QueryStalled(ctx context.Context, untouchedSince time.Time) ([]escrow.Transaction, error) {
	terminal := []escrow.Status{escrow.StatusCancelled, escrow.StatusRefunded, escrow.StatusFundsReleased}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE status NOT IN (`+placeholders(len(terminal))+`)
		  AND updated_at < ?
		ORDER BY updated_at ASC
	`, append(statusArgs(terminal), millis(untouchedSince))...)
	if err != nil {
		return nil, fmt.Errorf("query stalled: %w", err)
	}
	return collectTransactions(rows, "query stalled")
}

// CountScheduled returns the number of transactions with an active
// schedule.
func (s *Store) CountScheduled(ctx context.Context) (int64, error) {
	return s.countWhere(ctx, `is_auto_transition_scheduled = 1`)
}

// CountDueBefore returns the number of scheduled transactions whose
// deadline is at or before the given instant.
func (s *Store) CountDueBefore(ctx context.Context, before time.Time) (int64, error) {
	return s.countWhere(ctx, `is_auto_transition_scheduled = 1 AND next_auto_transition_at <= ?`, millis(before))
}

// CountDueBetween returns scheduled transactions due inside (from, to].
// The health report uses it for the upcoming-24h figure.
func (s *Store) CountDueBetween(ctx context.Context, from, to time.Time) (int64, error) {
	return s.countWhere(ctx, `is_auto_transition_scheduled = 1 AND next_auto_transition_at > ? AND next_auto_transition_at <= ?`, millis(from), millis(to))
}

// CountAutoFired returns the number of automatic transitions recorded in
// the history at or after since.
func (s *Store) CountAutoFired(ctx context.Context, since time.Time) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM transaction_history
		WHERE actor = ? AND recorded_at >= ?
	`, escrow.SystemActor.Label(), millis(since)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count auto fired: %w", err)
	}
	return n, nil
}

// CountByStatus returns the fleet breakdown by status.
func (s *Store) CountByStatus(ctx context.Context) (map[escrow.Status]int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT status, COUNT(*) FROM transactions GROUP BY status
	`)
	if err != nil {
		return nil, fmt.Errorf("count by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[escrow.Status]int64)
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("count by status: scan: %w", err)
		}
		counts[escrow.Status(status)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("count by status: %w", err)
	}
	return counts, nil
}

// History returns the append-only status history for a transaction in
// insertion order.
func (s *Store) History(ctx context.Context, id string) ([]escrow.HistoryEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT transaction_id, status, actor, notes, recorded_at
		FROM transaction_history
		WHERE transaction_id = ?
		ORDER BY id ASC
	`, id)
	if err != nil {
		return nil, fmt.Errorf("history %s: %w", id, err)
	}
	defer rows.Close()

	var entries []escrow.HistoryEntry
	for rows.Next() {
		var e escrow.HistoryEntry
		var status string
		var recordedAt int64
		if err := rows.Scan(&e.TransactionID, &status, &e.Actor, &e.Notes, &recordedAt); err != nil {
			return nil, fmt.Errorf("history %s: scan: %w", id, err)
		}
		e.Status = escrow.Status(status)
		e.RecordedAt = fromMillis(recordedAt)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history %s: %w", id, err)
	}
	return entries, nil
}

func (s *Store) countWhere(ctx context.Context, where string, args ...any) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM transactions WHERE `+where, args...).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count transactions: %w", err)
	}
	return n, nil
}

// scanner matches both sql.Row and sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row scanner) (escrow.Transaction, error) {
	var (
		txn       escrow.Transaction
		status    string
		deadline  sql.NullInt64
		scheduled int
		createdAt int64
		updatedAt int64
	)
	err := row.Scan(
		&txn.ID, &status, &txn.BuyerID, &txn.SellerID,
		&txn.PriceCents, &txn.Quantity, &txn.Version,
		&txn.TrackingNumber, &txn.ShippingCarrier,
		&deadline, &scheduled, &createdAt, &updatedAt,
	)
	if err != nil {
		return escrow.Transaction{}, err
	}

	txn.Status = escrow.Status(status)
	txn.IsAutoTransitionScheduled = scheduled == 1
	if deadline.Valid {
		t := fromMillis(deadline.Int64)
		txn.NextAutoTransitionAt = &t
	}
	txn.CreatedAt = fromMillis(createdAt)
	txn.UpdatedAt = fromMillis(updatedAt)
	return txn, nil
}

func collectTransactions(rows *sql.Rows, op string) ([]escrow.Transaction, error) {
	defer rows.Close()

	var out []escrow.Transaction
	for rows.Next() {
		txn, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: scan: %w", op, err)
		}
		out = append(out, txn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return out, nil
}
