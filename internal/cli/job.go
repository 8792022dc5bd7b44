package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

// JobOptions holds flags for the job command.
type JobOptions struct {
	*RootOptions
	Database string

	// MaxAgeHours bounds the ensure-scheduling scan; 0 scans everything.
	MaxAgeHours int

	// DaysOld overrides the cleanup retention window.
	DaysOld int
}

// jobNames lists the runnable jobs in help order.
var jobNames = []string{"ensure", "fire", "validate", "fix", "health", "cleanup", "comprehensive"}

// NewJobCommand creates the job command.
func NewJobCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &JobOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "job <name>",
		Short: "Run one reconciliation job immediately",
		Long: `Run a single reconciliation job once and exit. Jobs are idempotent, so
running one by hand while the serve loop is active is safe.

Jobs:
  ensure         assign missing schedules to auto-advancing transactions
  fire           apply automatic transitions whose deadline elapsed
  validate       audit scheduling consistency (read-only)
  fix            repair every repairable anomaly
  health         build and publish a health report
  cleanup        clear schedule state on old terminal transactions
  comprehensive  full sweep: ensure + fire + fix + validate + health

Example:
  escrowd job fire --db ./escrowd.db
  escrowd job ensure --max-age-hours 48
  escrowd job cleanup --days-old 60`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJob(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (overrides config)")
	cmd.Flags().IntVar(&opts.MaxAgeHours, "max-age-hours", 0, "ensure: only scan rows updated within this window (0 = all)")
	cmd.Flags().IntVar(&opts.DaysOld, "days-old", 0, "cleanup: clear schedules on transactions terminal for this many days (0 = config default)")

	return cmd
}

func runJob(opts *JobOptions, name string, cmd *cobra.Command) error {
	a, err := newApp(opts.RootOptions, opts.Database)
	if err != nil {
		return err
	}
	defer a.close()

	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	switch name {
	case "ensure":
		res, err := a.jobs.EnsureScheduling(ctx, time.Duration(opts.MaxAgeHours)*time.Hour)
		if err != nil {
			return WrapExitError(ExitFailure, "ensure scheduling failed", err)
		}
		return formatter.Success(resultSummary("ensure", res.Examined, res.Applied, res.Skipped, res.Failed))

	case "fire":
		res, err := a.jobs.FireDue(ctx)
		if err != nil {
			return WrapExitError(ExitFailure, "fire due failed", err)
		}
		return formatter.Success(resultSummary("fire", res.Examined, res.Applied, res.Skipped, res.Failed))

	case "validate":
		anomalies, err := a.jobs.Validate(ctx)
		if err != nil {
			return WrapExitError(ExitFailure, "validate failed", err)
		}
		if len(anomalies) == 0 {
			return formatter.Success("validate: no anomalies")
		}
		var b strings.Builder
		fmt.Fprintf(&b, "validate: %d anomalies\n", len(anomalies))
		for _, anomaly := range anomalies {
			fmt.Fprintf(&b, "  %s\n", anomaly)
		}
		if err := formatter.Success(strings.TrimRight(b.String(), "\n")); err != nil {
			return err
		}
		return NewExitError(ExitFailure, fmt.Sprintf("%d anomalies found", len(anomalies)))

	case "fix":
		res, err := a.jobs.AutoFix(ctx)
		if err != nil {
			return WrapExitError(ExitFailure, "auto-fix failed", err)
		}
		return formatter.Success(resultSummary("fix", res.Examined, res.Applied, res.Skipped, res.Failed))

	case "health":
		report, err := a.jobs.Health(ctx)
		if err != nil {
			return WrapExitError(ExitFailure, "health report failed", err)
		}
		if opts.Format == "json" {
			return formatter.Success(report.Fields())
		}
		return formatter.Success(strings.TrimRight(report.Render(), "\n"))

	case "cleanup":
		retention := a.cfg.Jobs.Retention.Std()
		if opts.DaysOld > 0 {
			retention = time.Duration(opts.DaysOld) * 24 * time.Hour
		}
		cleared, err := a.jobs.Cleanup(ctx, retention)
		if err != nil {
			return WrapExitError(ExitFailure, "cleanup failed", err)
		}
		return formatter.Success(fmt.Sprintf("cleanup: cleared %d schedules", cleared))

	case "comprehensive":
		if err := a.jobs.Comprehensive(ctx); err != nil {
			return WrapExitError(ExitFailure, "comprehensive sweep failed", err)
		}
		return formatter.Success("comprehensive: sweep complete")

	default:
		return NewExitError(ExitCommandError,
			fmt.Sprintf("unknown job %q: must be one of %s", name, strings.Join(jobNames, ", ")))
	}
}

func resultSummary(name string, examined, applied, skipped, failed int) string {
	return fmt.Sprintf("%s: examined=%d applied=%d skipped=%d failed=%d",
		name, examined, applied, skipped, failed)
}
