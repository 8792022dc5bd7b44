package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/safetrade/escrowd/internal/escrow"
)

// Update is the field set written by a successful CompareAndSwap. The
// status, scheduling fields and history entry commit in one SQL
// transaction so a transaction can never be observed in an auto-advancing
// status without its schedule.
type Update struct {
	Status          escrow.Status
	TrackingNumber  string
	ShippingCarrier string

	NextAutoTransitionAt      *time.Time
	IsAutoTransitionScheduled bool

	// UpdatedAt becomes the status-entry time of the new status.
	UpdatedAt time.Time

	History escrow.HistoryEntry
}

// Create inserts a new transaction and its initial history row.
// Fails if the ID already exists.
func (s *Store) Create(ctx context.Context, txn escrow.Transaction) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("create transaction: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	_, err = tx.ExecContext(ctx, `
		INSERT INTO transactions
		(id, status, buyer_id, seller_id, price_cents, quantity, version,
		 tracking_number, shipping_carrier,
		 next_auto_transition_at, is_auto_transition_scheduled,
		 created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, 1, ?, ?, ?, ?, ?, ?)
	`,
		txn.ID,
		string(txn.Status),
		txn.BuyerID,
		txn.SellerID,
		txn.PriceCents,
		txn.Quantity,
		txn.TrackingNumber,
		txn.ShippingCarrier,
		nullMillis(txn.NextAutoTransitionAt),
		boolToInt(txn.IsAutoTransitionScheduled),
		millis(txn.CreatedAt),
		millis(txn.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("create transaction: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO transaction_history
		(transaction_id, status, actor, notes, recorded_at)
		VALUES (?, ?, ?, ?, ?)
	`,
		txn.ID,
		string(txn.Status),
		"system:create",
		"",
		millis(txn.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("create transaction: history: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("create transaction: commit: %w", err)
	}
	return nil
}

// CompareAndSwap applies a lifecycle update guarded by the version
// counter. The row update and the history append commit atomically;
// version increments by exactly one on success.
//
// Returns ErrVersionConflict if the row changed since the caller's read,
// ErrNotFound if the transaction does not exist.
func (s *Store) CompareAndSwap(ctx context.Context, id string, expectedVersion int64, upd Update) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("cas %s: begin tx: %w", id, err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		UPDATE transactions
		SET status = ?,
		    tracking_number = ?,
		    shipping_carrier = ?,
		    next_auto_transition_at = ?,
		    is_auto_transition_scheduled = ?,
		    updated_at = ?,
		    version = version + 1
		WHERE id = ? AND version = ?
	`,
		string(upd.Status),
		upd.TrackingNumber,
		upd.ShippingCarrier,
		nullMillis(upd.NextAutoTransitionAt),
		boolToInt(upd.IsAutoTransitionScheduled),
		millis(upd.UpdatedAt),
		id,
		expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("cas %s: update: %w", id, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("cas %s: rows affected: %w", id, err)
	}
	if rows == 0 {
		return casMiss(ctx, tx, id)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO transaction_history
		(transaction_id, status, actor, notes, recorded_at)
		VALUES (?, ?, ?, ?, ?)
	`,
		id,
		string(upd.History.Status),
		upd.History.Actor,
		escrow.NormalizeNotes(upd.History.Notes),
		millis(upd.History.RecordedAt),
	)
	if err != nil {
		return fmt.Errorf("cas %s: history: %w", id, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("cas %s: commit: %w", id, err)
	}
	return nil
}

// CompareAndSwapSchedule repairs scheduling bookkeeping without changing
// status or status-entry time and without a history row. Used by the
// ensure and auto-fix jobs; still version-guarded so a racing lifecycle
// write always wins.
func (s *Store) CompareAndSwapSchedule(ctx context.Context, id string, expectedVersion int64, deadline *time.Time, scheduled bool) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("cas schedule %s: begin tx: %w", id, err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		UPDATE transactions
		SET next_auto_transition_at = ?,
		    is_auto_transition_scheduled = ?,
		    version = version + 1
		WHERE id = ? AND version = ?
	`,
		nullMillis(deadline),
		boolToInt(scheduled),
		id,
		expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("cas schedule %s: update: %w", id, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("cas schedule %s: rows affected: %w", id, err)
	}
	if rows == 0 {
		return casMiss(ctx, tx, id)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("cas schedule %s: commit: %w", id, err)
	}
	return nil
}

// casMiss distinguishes a lost race from a missing row. The surrounding
// transaction is rolled back by the caller's defer either way.
func casMiss(ctx context.Context, tx *sql.Tx, id string) error {
	var one int
	err := tx.QueryRowContext(ctx, `SELECT 1 FROM transactions WHERE id = ?`, id).Scan(&one)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("cas %s: probe: %w", id, err)
	}
	return ErrVersionConflict
}

// CleanupSchedules clears scheduling bookkeeping for transactions that
// have been terminal for longer than the retention window. The
// transaction rows themselves are never deleted by this core.
//
// Bulk and idempotent: rerunning affects zero rows.
func (s *Store) CleanupSchedules(ctx context.Context, terminalBefore time.Time) (int64, error) {
	statuses := []escrow.Status{escrow.StatusCancelled, escrow.StatusRefunded, escrow.StatusFundsReleased}

	result, err := s.db.ExecContext(ctx, `
		UPDATE transactions
		SET next_auto_transition_at = NULL,
		    is_auto_transition_scheduled = 0
		WHERE status IN (`+placeholders(len(statuses))+`)
		  AND updated_at < ?
		  AND (next_auto_transition_at IS NOT NULL OR is_auto_transition_scheduled = 1)
	`, append(statusArgs(statuses), millis(terminalBefore))...)
	if err != nil {
		return 0, fmt.Errorf("cleanup schedules: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("cleanup schedules: rows affected: %w", err)
	}
	return rows, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// placeholders renders "?, ?, ?" for n parameters.
func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func statusArgs(statuses []escrow.Status) []any {
	args := make([]any, len(statuses))
	for i, s := range statuses {
		args[i] = string(s)
	}
	return args
}
