package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// JobSpec is one periodic entry in the runner's schedule.
type JobSpec struct {
	Name string

	// Every is the firing interval. The first firing happens one
	// interval after Run starts, not immediately; operators use the CLI
	// to force an immediate run.
	Every time.Duration

	// Expiry bounds a single firing, retries included. Zero means the
	// firing interval is the bound.
	Expiry time.Duration

	Retry RetryPolicy

	Run func(ctx context.Context) error
}

// Runner drives the periodic jobs until its context is cancelled. Each
// job ticks independently; a slow firing delays only its own next tick.
type Runner struct {
	specs  []JobSpec
	logger *slog.Logger
}

// NewRunner builds a runner over the given specs.
func NewRunner(specs []JobSpec, logger *slog.Logger) *Runner {
	return &Runner{specs: specs, logger: logger}
}

// Run blocks until ctx is cancelled, then waits for in-flight firings to
// finish.
func (r *Runner) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, spec := range r.specs {
		wg.Add(1)
		go func(spec JobSpec) {
			defer wg.Done()
			r.loop(ctx, spec)
		}(spec)
	}
	wg.Wait()
}

func (r *Runner) loop(ctx context.Context, spec JobSpec) {
	ticker := time.NewTicker(spec.Every)
	defer ticker.Stop()

	r.logger.InfoContext(ctx, "job scheduled",
		"job", spec.Name, "every", spec.Every.String())

	for {
		select {
		case <-ctx.Done():
			r.logger.InfoContext(ctx, "job stopped", "job", spec.Name)
			return
		case <-ticker.C:
			r.fire(ctx, spec)
		}
	}
}

// fire runs one firing with the spec's expiry and retry policy. An error
// that survives all retries is logged and dropped: the next tick runs the
// job again from scratch, which is safe because every job is idempotent.
func (r *Runner) fire(ctx context.Context, spec JobSpec) {
	expiry := spec.Expiry
	if expiry <= 0 {
		expiry = spec.Every
	}
	fctx, cancel := context.WithTimeout(ctx, expiry)
	defer cancel()

	start := time.Now()
	var err error
	for attempt := 0; ; attempt++ {
		err = spec.Run(fctx)
		if err == nil || attempt >= spec.Retry.MaxRetries {
			break
		}

		delay := spec.Retry.Delay(attempt)
		r.logger.WarnContext(ctx, "job failed, retrying",
			"job", spec.Name,
			"attempt", attempt+1,
			"delay", delay.String(),
			"error", err.Error(),
		)
		select {
		case <-fctx.Done():
			err = fmt.Errorf("firing expired (%v): %w", fctx.Err(), err)
		case <-time.After(delay):
			continue
		}
		break
	}

	if err != nil {
		r.logger.ErrorContext(ctx, "job failed",
			"job", spec.Name,
			"elapsed", time.Since(start).String(),
			"error", err.Error(),
		)
		return
	}
	r.logger.InfoContext(ctx, "job completed",
		"job", spec.Name,
		"elapsed", time.Since(start).String(),
	)
}

// Default firing intervals, mirroring the production beat schedule.
const (
	DefaultEnsureEvery        = 5 * time.Minute
	DefaultFireEvery          = 30 * time.Minute
	DefaultValidateEvery      = 15 * time.Minute
	DefaultFixEvery           = time.Hour
	DefaultHealthEvery        = 4 * time.Hour
	DefaultCleanupEvery       = 24 * time.Hour
	DefaultComprehensiveEvery = 24 * time.Hour
)

// DefaultSpecs wires the full periodic schedule over a Jobs instance.
// maxAge bounds the frequent ensure scan; the daily comprehensive sweep
// covers older rows. retention feeds the cleanup job.
func DefaultSpecs(jobs *Jobs, maxAge, retention time.Duration) []JobSpec {
	return []JobSpec{
		{
			Name:  "ensure-scheduling",
			Every: DefaultEnsureEvery,
			Retry: EnsureRetry,
			Run: func(ctx context.Context) error {
				_, err := jobs.EnsureScheduling(ctx, maxAge)
				return err
			},
		},
		{
			Name:   "fire-due",
			Every:  DefaultFireEvery,
			Expiry: 20 * time.Minute,
			Retry:  FireRetry,
			Run: func(ctx context.Context) error {
				_, err := jobs.FireDue(ctx)
				return err
			},
		},
		{
			Name:   "validate",
			Every:  DefaultValidateEvery,
			Expiry: 10 * time.Minute,
			Run: func(ctx context.Context) error {
				_, err := jobs.Validate(ctx)
				return err
			},
		},
		{
			Name:   "auto-fix",
			Every:  DefaultFixEvery,
			Expiry: 30 * time.Minute,
			Retry:  FixRetry,
			Run: func(ctx context.Context) error {
				_, err := jobs.AutoFix(ctx)
				return err
			},
		},
		{
			Name:   "health",
			Every:  DefaultHealthEvery,
			Expiry: time.Hour,
			Run: func(ctx context.Context) error {
				_, err := jobs.Health(ctx)
				return err
			},
		},
		{
			Name:   "cleanup",
			Every:  DefaultCleanupEvery,
			Expiry: time.Hour,
			Run: func(ctx context.Context) error {
				_, err := jobs.Cleanup(ctx, retention)
				return err
			},
		},
		{
			Name:   "comprehensive",
			Every:  DefaultComprehensiveEvery,
			Expiry: 2 * time.Hour,
			Retry:  SweepRetry,
			Run:    jobs.Comprehensive,
		},
	}
}
