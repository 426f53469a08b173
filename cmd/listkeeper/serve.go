package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/listkeeper/listkeeper/config"
	"github.com/listkeeper/listkeeper/inventory"
	"github.com/listkeeper/listkeeper/listing"
	"github.com/listkeeper/listkeeper/logger"
	"github.com/listkeeper/listkeeper/platform"
	"github.com/listkeeper/listkeeper/queue"
	"github.com/listkeeper/listkeeper/schedule"
	"github.com/listkeeper/listkeeper/tracker"
	"github.com/listkeeper/listkeeper/worker"
)

// reconcileScheduleName is the built-in recurring drift sweep
const reconcileScheduleName = "reconcile-all-platforms"

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the sync engine: worker pool, scheduler and config watcher",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
}

func runServe() error {
	conn, err := openDB()
	if err != nil {
		return err
	}
	defer conn.Close()

	q := queue.New(conn)
	items := inventory.NewStore(conn)
	machine := inventory.NewMachine(conn)
	trk := tracker.New(conn)

	adapters := buildAdapters(cfg)
	logger.Logger.Infow("Configured platforms", "platforms", adapters.Names())

	registry := worker.NewRegistry()
	listing.NewHandlers(items, machine, trk, q, adapters).Register(registry)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool := worker.NewPool(q, registry, cfg.Worker)
	pool.Start(ctx)
	defer pool.Stop()

	ticker, err := startScheduler(ctx, schedule.NewStore(conn), q, cfg.Scheduler)
	if err != nil {
		return err
	}
	if ticker != nil {
		defer ticker.Stop()
	}

	if flagConfig != "" {
		watcher, err := config.NewWatcher(flagConfig)
		if err != nil {
			logger.Logger.Warnw("Config watcher disabled", "error", err)
		} else {
			watcher.OnReload(func(newCfg *config.Config) error {
				// Worker counts and intervals apply on restart; applying
				// platform toggles here would mean re-registering
				// adapters mid-flight, so just surface the change
				logger.Logger.Infow("Config file changed",
					"platforms", newCfg.EnabledPlatforms())
				return nil
			})
			watcher.Start()
			defer watcher.Stop()
		}
	}

	logger.Logger.Infow("listkeeper serving",
		"database", cfg.Database.Path,
		"workers", cfg.Worker.Workers)

	<-ctx.Done()
	logger.Logger.Infow("Shutting down")
	return nil
}

// startScheduler seeds the built-in reconcile schedule and launches the tick
// loop. A zero reconcile interval skips the seeding; a zero tick interval
// leaves the scheduler off entirely and returns a nil ticker.
func startScheduler(ctx context.Context, schedules *schedule.Store, q *queue.Queue, sc config.SchedulerConfig) (*schedule.Ticker, error) {
	if sc.ReconcileIntervalSeconds > 0 {
		if err := schedules.Ensure(ctx, schedule.NewRecurring(
			reconcileScheduleName,
			listing.JobTypeReconcile,
			nil,
			time.Duration(sc.ReconcileIntervalSeconds)*time.Second,
		)); err != nil {
			return nil, err
		}
	}

	if sc.TickIntervalSeconds <= 0 {
		logger.Logger.Infow("Scheduler disabled", "tick_interval_seconds", sc.TickIntervalSeconds)
		return nil, nil
	}

	ticker := schedule.NewTicker(schedules, q,
		time.Duration(sc.TickIntervalSeconds)*time.Second)
	ticker.Start(ctx)
	return ticker, nil
}

// buildAdapters registers an adapter per enabled platform, each capped at
// its configured call rate.
//
// TODO(adapters): swap the in-memory fakes for the real marketplace clients
// once API credentials handling lands
func buildAdapters(c *config.Config) *platform.Registry {
	registry := platform.NewRegistry()
	for _, name := range c.EnabledPlatforms() {
		pc := c.Platforms[name]
		registry.Register(platform.WithRateLimit(platform.NewFake(name), pc.MaxCallsPerMinute))
	}
	return registry
}
