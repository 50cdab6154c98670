package jobs

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// Trigger is a periodic action, typically one that dispatches a batch.
type Trigger struct {
	Name string
	Spec string // standard five-field cron expression or @every/@hourly descriptor
	Run  func(ctx context.Context) error
}

// Cron fires triggers on their schedules. A trigger still running when its
// next tick arrives is skipped for that tick.
type Cron struct {
	c      *cron.Cron
	logger *slog.Logger
	ctx    context.Context
}

// NewCron creates a stopped Cron. Triggers run with ctx.
func NewCron(ctx context.Context, logger *slog.Logger) *Cron {
	if logger == nil {
		logger = slog.Default()
	}

	cl := cronLogger{logger: logger}

	return &Cron{
		c: cron.New(
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		logger: logger,
		ctx:    ctx,
	}
}

// Add registers t. An empty Spec disables the trigger.
func (c *Cron) Add(t Trigger) error {
	if t.Spec == "" {
		c.logger.Debug("cron trigger disabled", slog.String("trigger", t.Name))
		return nil
	}

	_, err := c.c.AddFunc(t.Spec, func() {
		c.logger.Info("cron trigger firing", slog.String("trigger", t.Name))

		if err := t.Run(c.ctx); err != nil {
			c.logger.Error("cron trigger failed",
				slog.String("trigger", t.Name),
				slog.String("error", err.Error()),
			)
		}
	})
	if err != nil {
		return fmt.Errorf("jobs: adding cron trigger %s (%q): %w", t.Name, t.Spec, err)
	}

	c.logger.Info("cron trigger registered",
		slog.String("trigger", t.Name),
		slog.String("spec", t.Spec),
	)

	return nil
}

// Len returns the number of registered triggers.
func (c *Cron) Len() int {
	return len(c.c.Entries())
}

// Start begins firing triggers in the background.
func (c *Cron) Start() {
	c.c.Start()
}

// Stop stops the scheduler and waits for running triggers to finish.
func (c *Cron) Stop() {
	<-c.c.Stop().Done()
}

// ValidateSpec reports whether spec parses as a cron schedule.
func ValidateSpec(spec string) error {
	if _, err := cron.ParseStandard(spec); err != nil {
		return fmt.Errorf("jobs: invalid cron spec %q: %w", spec, err)
	}

	return nil
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append([]any{slog.String("error", err.Error())}, keysAndValues...)...)
}
