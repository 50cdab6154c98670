package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/tonimelisma/camara-sync/internal/config"
	"github.com/tonimelisma/camara-sync/internal/jobs"
	"github.com/tonimelisma/camara-sync/internal/sync"
)

// staleTriggerLimit bounds the deputies refreshed per scheduled stale sweep.
const staleTriggerLimit = 100

func newWorkCmd() *cobra.Command {
	var drain bool

	cmd := &cobra.Command{
		Use:   "work",
		Short: "Run job workers until interrupted",
		Long: `Run the worker pool against the job queue. Jobs dispatched by
"sync --detach" or "stale --detach" are processed here. With --drain the
command exits once the queue is idle.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := mustCLIContext(cmd.Context())
			ctx := shutdownContext(cmd.Context(), cc.Logger)

			a, err := openApp(ctx, cc)
			if err != nil {
				return err
			}
			defer a.Close()

			if drain {
				return drainQueue(ctx, a)
			}

			cc.Statusf("Workers running (%d). Press Ctrl-C to stop.\n", a.sched.Config().Workers)

			return a.pool.Run(ctx)
		},
	}

	cmd.Flags().BoolVar(&drain, "drain", false, "exit when the job queue is empty")

	return cmd
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run workers and scheduled syncs as a daemon",
		Long: `Run the worker pool and fire the [schedule] triggers: the deputies
listing sync, the current-year expense sync and the stale sweep.

SIGHUP (or "camara-sync reload") re-reads the config file and replaces the
schedule. Other settings take effect on restart. One daemon may run per
database.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := mustCLIContext(cmd.Context())
			ctx := shutdownContext(cmd.Context(), cc.Logger)

			hup, stop := reloadSignals()
			defer stop()

			return runServe(ctx, cc, hup)
		},
	}
}

func newReloadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reload",
		Short: "Ask a running serve daemon to reload its config",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := mustCLIContext(cmd.Context())

			pid, err := sendSIGHUP(servePIDPath(cc.Cfg.Database.Path))
			if err != nil {
				return err
			}

			cc.Statusf("Reload requested (PID %d)\n", pid)

			return nil
		},
	}
}

// runServe holds the PID lock and runs the worker pool next to the cron
// supervisor until ctx is canceled.
func runServe(ctx context.Context, cc *CLIContext, hup <-chan os.Signal) error {
	cleanup, err := writePIDFile(servePIDPath(cc.Cfg.Database.Path))
	if err != nil {
		return err
	}
	defer cleanup()

	a, err := openApp(ctx, cc)
	if err != nil {
		return err
	}
	defer a.Close()

	cc.Statusf("Serving %s with %d workers\n", cc.Cfg.Database.Path, a.sched.Config().Workers)

	for _, t := range scheduledTriggers(a, cc.Cfg) {
		cc.Statusf("  %-9s %s\n", t.Name, describeSchedule(t.Spec))
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.pool.Run(gctx)
	})

	g.Go(func() error {
		return superviseCron(gctx, cc, a, hup)
	})

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}

	cc.Logger.Info("serve stopped")

	return err
}

// superviseCron runs the schedule from the current config and swaps it for
// a freshly loaded one on every value received from hup. A config that
// fails to load keeps the running schedule.
func superviseCron(ctx context.Context, cc *CLIContext, a *app, hup <-chan os.Signal) error {
	current, err := startCron(ctx, a, a.cfg)
	if err != nil {
		return err
	}

	defer func() { current.Stop() }()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-hup:
			cc.Logger.Info("reload requested, re-reading config")

			next, reloadErr := reloadCron(ctx, cc, a)
			if reloadErr != nil {
				cc.Logger.Warn("config reload failed, keeping current schedule",
					slog.String("error", reloadErr.Error()),
				)

				continue
			}

			current.Stop()
			current = next
		}
	}
}

func reloadCron(ctx context.Context, cc *CLIContext, a *app) (*jobs.Cron, error) {
	resolved, err := loadConfig(cc.Flags)
	if err != nil {
		return nil, err
	}

	if resolved.Database.Path != a.cfg.Database.Path {
		cc.Logger.Warn("database path change ignored until restart",
			slog.String("current", a.cfg.Database.Path),
			slog.String("configured", resolved.Database.Path),
		)
	}

	c, err := startCron(ctx, a, resolved)
	if err != nil {
		return nil, err
	}

	a.cfg.Schedule = resolved.Schedule

	return c, nil
}

func startCron(ctx context.Context, a *app, cfg *config.Resolved) (*jobs.Cron, error) {
	c := jobs.NewCron(ctx, a.logger)

	for _, t := range scheduledTriggers(a, cfg) {
		if err := c.Add(t); err != nil {
			return nil, err
		}
	}

	c.Start()

	return c, nil
}

// scheduledTriggers maps the [schedule] section onto cron triggers. An empty
// expression disables its trigger.
func scheduledTriggers(a *app, cfg *config.Resolved) []jobs.Trigger {
	reconcile := cfg.Sync.Reconcile

	return []jobs.Trigger{
		{
			Name: "deputies",
			Spec: cfg.Schedule.Deputies,
			Run: func(ctx context.Context) error {
				if _, err := a.orch.SyncReference(ctx); err != nil {
					return err
				}

				res, err := a.orch.SyncDeputies(ctx, sync.DeputiesOpts{Reconcile: reconcile})
				if err != nil {
					return err
				}

				a.logger.Info("scheduled deputies sync finished",
					slog.String("state", res.State.String()),
					slog.Int("created", res.Stats.Created),
					slog.Int("updated", res.Stats.Updated),
					slog.Int("removed", res.Stats.Removed),
				)

				return nil
			},
		},
		{
			Name: "expenses",
			Spec: cfg.Schedule.Expenses,
			Run: func(ctx context.Context) error {
				_, _, err := a.orch.SyncAllExpenses(ctx, time.Now().Year())
				return err
			},
		},
		{
			Name: "stale",
			Spec: cfg.Schedule.Stale,
			Run: func(ctx context.Context) error {
				_, _, err := a.orch.SyncStale(ctx, cfg.Sync.StaleAfter(), staleTriggerLimit)
				return err
			},
		},
	}
}

// describeSchedule is the human-readable form of a trigger spec.
func describeSchedule(spec string) string {
	if spec == "" {
		return "disabled"
	}

	return fmt.Sprintf("%q", spec)
}
