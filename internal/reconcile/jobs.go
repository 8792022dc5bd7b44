package reconcile

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/safetrade/escrowd/internal/clock"
	"github.com/safetrade/escrowd/internal/engine"
	"github.com/safetrade/escrowd/internal/escrow"
	"github.com/safetrade/escrowd/internal/observe"
	"github.com/safetrade/escrowd/internal/schedule"
	"github.com/safetrade/escrowd/internal/store"
)

// Defaults for the job knobs. Each is overridable through configuration.
const (
	// DefaultBatchSize bounds how many rows a single job run touches.
	DefaultBatchSize = 500

	// DefaultStalledAfter is how long a non-terminal transaction may sit
	// untouched before the validator reports it.
	DefaultStalledAfter = 14 * 24 * time.Hour

	// DefaultRetention is how long terminal transactions keep their
	// scheduling bookkeeping before cleanup clears it.
	DefaultRetention = 30 * 24 * time.Hour
)

// Jobs bundles the reconciliation jobs over shared collaborators.
type Jobs struct {
	store        *store.Store
	scheduler    *schedule.Scheduler
	transitioner *engine.Transitioner
	clock        clock.Clock
	reporter     observe.Reporter
	logger       *slog.Logger

	batchSize    int
	stalledAfter time.Duration
}

// Option tunes a Jobs instance.
type Option func(*Jobs)

// WithBatchSize bounds rows touched per run.
func WithBatchSize(n int) Option {
	return func(j *Jobs) {
		if n > 0 {
			j.batchSize = n
		}
	}
}

// WithStalledAfter sets the staleness horizon for the validator.
func WithStalledAfter(d time.Duration) Option {
	return func(j *Jobs) {
		if d > 0 {
			j.stalledAfter = d
		}
	}
}

// NewJobs wires the reconciliation jobs.
func NewJobs(st *store.Store, sched *schedule.Scheduler, tr *engine.Transitioner, clk clock.Clock, rep observe.Reporter, logger *slog.Logger, opts ...Option) *Jobs {
	j := &Jobs{
		store:        st,
		scheduler:    sched,
		transitioner: tr,
		clock:        clk,
		reporter:     rep,
		logger:       logger,
		batchSize:    DefaultBatchSize,
		stalledAfter: DefaultStalledAfter,
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// Result summarizes one mutating job run.
type Result struct {
	Examined int
	Applied  int
	Skipped  int
	Failed   int
}

// EnsureScheduling assigns the derived deadline to auto-advancing
// transactions that have none. maxAge bounds the scan to rows that
// entered their status within that window; zero scans everything.
//
// Idempotent: the deadline is a pure function of (status, entry time), so
// rerunning writes nothing new, and a racing lifecycle transition wins
// via the version guard.
func (j *Jobs) EnsureScheduling(ctx context.Context, maxAge time.Duration) (Result, error) {
	var updatedAfter time.Time
	if maxAge > 0 {
		updatedAfter = j.clock.Now().Add(-maxAge)
	}

	txns, err := j.store.QueryUnscheduled(ctx, updatedAfter, escrow.AutoAdvancingStatuses(), j.batchSize)
	if err != nil {
		return Result{}, err
	}

	var res Result
	for _, txn := range txns {
		res.Examined++
		deadline, ok := j.scheduler.Next(txn.Status, txn.UpdatedAt)
		if !ok {
			res.Skipped++
			continue
		}

		err := j.store.CompareAndSwapSchedule(ctx, txn.ID, txn.Version, &deadline, true)
		switch {
		case errors.Is(err, store.ErrVersionConflict), errors.Is(err, store.ErrNotFound):
			// A concurrent transition already moved the row; its writer
			// owns the schedule now.
			res.Skipped++
		case err != nil:
			res.Failed++
			j.logger.ErrorContext(ctx, "ensure scheduling failed",
				"transaction", txn.ID, "error", err.Error())
		default:
			res.Applied++
			j.logger.InfoContext(ctx, "schedule assigned",
				"transaction", txn.ID,
				"status", string(txn.Status),
				"deadline", deadline.Format(time.RFC3339),
			)
		}
	}

	j.logger.InfoContext(ctx, "ensure scheduling done",
		"examined", res.Examined, "applied", res.Applied,
		"skipped", res.Skipped, "failed", res.Failed)
	return res, nil
}

// FireDue applies the automatic transition to every transaction whose
// deadline has elapsed. Obsolete timeouts (row moved since the query) are
// skipped, not failed.
func (j *Jobs) FireDue(ctx context.Context) (Result, error) {
	now := j.clock.Now()
	due, err := j.store.QueryDue(ctx, now, j.batchSize)
	if err != nil {
		return Result{}, err
	}

	var res Result
	for _, txn := range due {
		res.Examined++
		applied, err := j.transitioner.FireTimeout(ctx, txn.ID)
		switch {
		case err != nil:
			res.Failed++
			j.logger.ErrorContext(ctx, "fire timeout failed",
				"transaction", txn.ID, "error", err.Error())
		case applied:
			res.Applied++
		default:
			res.Skipped++
		}
	}

	j.logger.InfoContext(ctx, "fire due done",
		"examined", res.Examined, "applied", res.Applied,
		"skipped", res.Skipped, "failed", res.Failed)
	return res, nil
}

// Cleanup clears scheduling bookkeeping on transactions that have been
// terminal longer than the retention window. Transaction and history rows
// are never deleted.
func (j *Jobs) Cleanup(ctx context.Context, retention time.Duration) (int64, error) {
	if retention <= 0 {
		retention = DefaultRetention
	}
	cutoff := j.clock.Now().Add(-retention)

	cleared, err := j.store.CleanupSchedules(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	j.logger.InfoContext(ctx, "cleanup done", "cleared", cleared)
	return cleared, nil
}

// Comprehensive is the daily full sweep: assign missing schedules with no
// age bound, fire whatever is due, repair every anomaly the validator can
// see, then publish a health report. Each phase runs even if an earlier
// one failed; the first error is returned after the sweep completes.
func (j *Jobs) Comprehensive(ctx context.Context) error {
	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	_, err := j.EnsureScheduling(ctx, 0)
	keep(err)

	_, err = j.FireDue(ctx)
	keep(err)

	_, err = j.AutoFix(ctx)
	keep(err)

	anomalies, err := j.Validate(ctx)
	keep(err)
	if err == nil && len(anomalies) > 0 {
		j.logger.WarnContext(ctx, "anomalies remain after sweep", "count", len(anomalies))
	}

	_, err = j.Health(ctx)
	keep(err)

	j.logger.InfoContext(ctx, "comprehensive sweep done")
	return firstErr
}
