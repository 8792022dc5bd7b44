package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/safetrade/escrowd/internal/reconcile"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Database string
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the periodic reconciliation jobs",
		Long: `Run the full reconciliation schedule against the database: schedule
assignment, due-timeout firing, consistency audits, anomaly repair,
health reporting and schedule cleanup, each on its own interval.

Example:
  escrowd serve --db ./escrowd.db
  escrowd serve --config /etc/escrowd.yaml --verbose`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (overrides config)")

	return cmd
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	a, err := newApp(opts.RootOptions, opts.Database)
	if err != nil {
		return err
	}
	defer a.close()

	// Setup signal handling for graceful shutdown. Use the command's
	// context if available (for testing), otherwise create one.
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan) // Prevent signal handler leak

	go func() {
		select {
		case sig := <-sigChan:
			a.logger.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	specs := reconcile.DefaultSpecs(a.jobs, a.cfg.Jobs.MaxAge.Std(), a.cfg.Jobs.Retention.Std())
	runner := reconcile.NewRunner(specs, a.logger)

	a.logger.Info("reconciliation runner starting",
		"db", a.cfg.Database.Path, "jobs", len(specs))
	fmt.Fprintln(cmd.OutOrStdout(), "Runner started. Press Ctrl-C to stop.")

	runner.Run(ctx)

	a.logger.Info("runner stopped gracefully")
	return nil
}
