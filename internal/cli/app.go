package cli

import (
	"io"
	"log/slog"
	"os"

	"github.com/safetrade/escrowd/internal/clock"
	"github.com/safetrade/escrowd/internal/config"
	"github.com/safetrade/escrowd/internal/engine"
	"github.com/safetrade/escrowd/internal/notify"
	"github.com/safetrade/escrowd/internal/observe"
	"github.com/safetrade/escrowd/internal/reconcile"
	"github.com/safetrade/escrowd/internal/schedule"
	"github.com/safetrade/escrowd/internal/store"
)

// app is the wired service: every command builds one from the config and
// tears it down when done.
type app struct {
	cfg          config.Config
	store        *store.Store
	scheduler    *schedule.Scheduler
	transitioner *engine.Transitioner
	jobs         *reconcile.Jobs
	logger       *slog.Logger

	closers []io.Closer
}

// newApp loads the config, opens the database and wires the service. The
// database path flag, when non-empty, overrides the config.
func newApp(opts *RootOptions, dbOverride string) (*app, error) {
	cfg, err := config.Load(opts.Config)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if dbOverride != "" {
		cfg.Database.Path = dbOverride
	}

	logLevel := slog.LevelInfo
	if opts.Verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	st, err := store.Open(cfg.Database.Path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}

	a := &app{
		cfg:       cfg,
		store:     st,
		scheduler: schedule.New(cfg.ScheduleWindows()),
		logger:    logger,
		closers:   []io.Closer{st},
	}

	var notifier notify.Notifier = &notify.Log{Logger: logger}
	if cfg.Kafka.Broker != "" {
		k := notify.NewKafka(cfg.Kafka.Broker, cfg.Kafka.Topic)
		a.closers = append(a.closers, k)
		notifier = k
	}

	var reporter observe.Reporter = &observe.Log{Logger: logger}
	if cfg.Redis.Addr != "" {
		r := observe.NewRedis(cfg.Redis.Addr, cfg.Redis.Prefix, cfg.Redis.TTL.Std())
		a.closers = append(a.closers, r)
		reporter = r
	}

	eng := engine.New(a.scheduler)
	a.transitioner = engine.NewTransitioner(st, eng, notifier, clock.System{}, engine.UUIDv7Generator{}, logger)
	a.jobs = reconcile.NewJobs(st, a.scheduler, a.transitioner, clock.System{}, reporter, logger,
		reconcile.WithBatchSize(cfg.Jobs.BatchSize),
		reconcile.WithStalledAfter(cfg.Jobs.StalledAfter.Std()),
	)
	return a, nil
}

// close tears down in reverse wiring order.
func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			a.logger.Error("close failed", "error", err.Error())
		}
	}
}
