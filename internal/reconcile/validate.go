package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/safetrade/escrowd/internal/escrow"
	"github.com/safetrade/escrowd/internal/store"
)

// AnomalyKind classifies a consistency violation found by the validator.
type AnomalyKind string

const (
	// AnomalyInconsistentFlags: scheduling flag disagrees with deadline
	// presence.
	AnomalyInconsistentFlags AnomalyKind = "inconsistent_flags"

	// AnomalyScheduledTerminal: a terminal transaction still carries
	// schedule state.
	AnomalyScheduledTerminal AnomalyKind = "scheduled_terminal"

	// AnomalyScheduledNonAuto: a schedule on a live status that never
	// auto-advances, e.g. disputed.
	AnomalyScheduledNonAuto AnomalyKind = "scheduled_non_auto"

	// AnomalyMissingSchedule: an auto-advancing transaction with no
	// schedule.
	AnomalyMissingSchedule AnomalyKind = "missing_schedule"

	// AnomalyWrongDeadline: the stored deadline differs from the one
	// derived from (status, entry time).
	AnomalyWrongDeadline AnomalyKind = "wrong_deadline"

	// AnomalyStalled: a non-terminal transaction untouched beyond the
	// staleness horizon. Reported only; never auto-repaired.
	AnomalyStalled AnomalyKind = "stalled"
)

// Anomaly is one validator finding.
type Anomaly struct {
	Kind          AnomalyKind
	TransactionID string
	Status        escrow.Status
	Detail        string
}

func (a Anomaly) String() string {
	return fmt.Sprintf("%s %s (%s): %s", a.Kind, a.TransactionID, a.Status, a.Detail)
}

// Validate audits scheduling consistency without mutating anything. The
// returned anomalies are sorted by kind of query, oldest rows first
// within each.
func (j *Jobs) Validate(ctx context.Context) ([]Anomaly, error) {
	var anomalies []Anomaly

	inconsistent, err := j.store.QueryInconsistentSchedules(ctx)
	if err != nil {
		return nil, err
	}
	for _, txn := range inconsistent {
		anomalies = append(anomalies, classifyInconsistent(txn))
	}

	missing, err := j.store.QueryUnscheduled(ctx, time.Time{}, escrow.AutoAdvancingStatuses(), j.batchSize)
	if err != nil {
		return nil, err
	}
	for _, txn := range missing {
		// Flag-mismatch rows already show up in the inconsistent set.
		if !txn.ScheduleConsistent() {
			continue
		}
		anomalies = append(anomalies, Anomaly{
			Kind:          AnomalyMissingSchedule,
			TransactionID: txn.ID,
			Status:        txn.Status,
			Detail:        "auto-advancing status with no schedule",
		})
	}

	scheduled, err := j.store.QueryScheduled(ctx, j.batchSize)
	if err != nil {
		return nil, err
	}
	for _, txn := range scheduled {
		if !escrow.AutoAdvancing(txn.Status) || txn.NextAutoTransitionAt == nil {
			continue
		}
		derived, ok := j.scheduler.Next(txn.Status, txn.UpdatedAt)
		if ok && !derived.Equal(*txn.NextAutoTransitionAt) {
			anomalies = append(anomalies, Anomaly{
				Kind:          AnomalyWrongDeadline,
				TransactionID: txn.ID,
				Status:        txn.Status,
				Detail: fmt.Sprintf("stored %s, derived %s",
					txn.NextAutoTransitionAt.Format(time.RFC3339),
					derived.Format(time.RFC3339)),
			})
		}
	}

	stalled, err := j.store.QueryStalled(ctx, j.clock.Now().Add(-j.stalledAfter))
	if err != nil {
		return nil, err
	}
	for _, txn := range stalled {
		anomalies = append(anomalies, Anomaly{
			Kind:          AnomalyStalled,
			TransactionID: txn.ID,
			Status:        txn.Status,
			Detail:        fmt.Sprintf("untouched since %s", txn.UpdatedAt.Format(time.RFC3339)),
		})
	}

	j.logger.InfoContext(ctx, "validate done", "anomalies", len(anomalies))
	return anomalies, nil
}

func classifyInconsistent(txn escrow.Transaction) Anomaly {
	switch {
	case txn.Status.Terminal():
		return Anomaly{
			Kind:          AnomalyScheduledTerminal,
			TransactionID: txn.ID,
			Status:        txn.Status,
			Detail:        "terminal status carries schedule state",
		}
	case !txn.ScheduleConsistent():
		return Anomaly{
			Kind:          AnomalyInconsistentFlags,
			TransactionID: txn.ID,
			Status:        txn.Status,
			Detail:        "scheduling flag disagrees with deadline presence",
		}
	default:
		return Anomaly{
			Kind:          AnomalyScheduledNonAuto,
			TransactionID: txn.ID,
			Status:        txn.Status,
			Detail:        "schedule on a status that never auto-advances",
		}
	}
}

// AutoFix repairs every repairable anomaly: schedule state is cleared
// from terminal and non-auto statuses, missing or wrong deadlines are
// re-derived. Stalled transactions are left alone. Each repair is a
// version-guarded write, so a racing lifecycle transition always wins.
func (j *Jobs) AutoFix(ctx context.Context) (Result, error) {
	anomalies, err := j.Validate(ctx)
	if err != nil {
		return Result{}, err
	}

	var res Result
	for _, a := range anomalies {
		res.Examined++

		var fixed bool
		var fixErr error
		switch a.Kind {
		case AnomalyScheduledTerminal, AnomalyScheduledNonAuto:
			fixed, fixErr = j.repair(ctx, a.TransactionID, nil, false)
		case AnomalyInconsistentFlags, AnomalyMissingSchedule, AnomalyWrongDeadline:
			fixed, fixErr = j.rederive(ctx, a.TransactionID)
		case AnomalyStalled:
			res.Skipped++
			continue
		}

		switch {
		case fixErr != nil:
			res.Failed++
			j.logger.ErrorContext(ctx, "auto-fix failed",
				"transaction", a.TransactionID,
				"kind", string(a.Kind),
				"error", fixErr.Error())
		case fixed:
			res.Applied++
			j.logger.InfoContext(ctx, "anomaly repaired",
				"transaction", a.TransactionID,
				"kind", string(a.Kind))
		default:
			res.Skipped++
		}
	}

	j.logger.InfoContext(ctx, "auto-fix done",
		"examined", res.Examined, "applied", res.Applied,
		"skipped", res.Skipped, "failed", res.Failed)
	return res, nil
}

// rederive re-reads the row and writes the schedule a fresh derivation
// calls for, which also handles rows that moved since the audit.
func (j *Jobs) rederive(ctx context.Context, id string) (bool, error) {
	txn, err := j.store.Read(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	deadline, ok := j.scheduler.Next(txn.Status, txn.UpdatedAt)
	if !ok {
		return j.writeRepair(ctx, txn, nil, false)
	}
	return j.writeRepair(ctx, txn, &deadline, true)
}

func (j *Jobs) repair(ctx context.Context, id string, deadline *time.Time, scheduled bool) (bool, error) {
	txn, err := j.store.Read(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return j.writeRepair(ctx, txn, deadline, scheduled)
}

func (j *Jobs) writeRepair(ctx context.Context, txn escrow.Transaction, deadline *time.Time, scheduled bool) (bool, error) {
	// Already correct, nothing to write.
	if txn.IsAutoTransitionScheduled == scheduled && equalDeadline(txn.NextAutoTransitionAt, deadline) {
		return false, nil
	}

	err := j.store.CompareAndSwapSchedule(ctx, txn.ID, txn.Version, deadline, scheduled)
	if errors.Is(err, store.ErrVersionConflict) || errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func equalDeadline(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
