package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Scheduling defaults.
const (
	DefaultWorkers      = 4
	DefaultMaxAttempts  = 3
	DefaultTimeout      = 120 * time.Second
	DefaultStagger      = 500 * time.Millisecond
	DefaultPollInterval = time.Second
	DefaultReclaimGrace = 30 * time.Second
	defaultListLimit    = 20
)

// DefaultBackoff is the delay before each retry, indexed by attempt-1. The
// last entry repeats for later attempts.
var DefaultBackoff = []time.Duration{10 * time.Second, 30 * time.Second, 60 * time.Second}

// Config holds scheduler and worker settings. Zero values take defaults.
type Config struct {
	Workers      int
	MaxAttempts  int
	Backoff      []time.Duration
	Timeout      time.Duration
	Stagger      time.Duration
	PollInterval time.Duration
	ReclaimGrace time.Duration
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}

	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}

	if len(c.Backoff) == 0 {
		c.Backoff = DefaultBackoff
	}

	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}

	if c.Stagger < 0 {
		c.Stagger = 0
	} else if c.Stagger == 0 {
		c.Stagger = DefaultStagger
	}

	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}

	if c.ReclaimGrace <= 0 {
		c.ReclaimGrace = DefaultReclaimGrace
	}

	return c
}

// backoffFor returns the retry delay after the given (1-based) attempt.
func (c Config) backoffFor(attempt int) time.Duration {
	i := attempt - 1
	if i < 0 {
		i = 0
	}

	if i >= len(c.Backoff) {
		i = len(c.Backoff) - 1
	}

	return c.Backoff[i]
}

// DispatchOpts tunes one Dispatch call. The zero value allows failures and
// uses the configured stagger, attempts and timeout.
type DispatchOpts struct {
	// FailFast cancels the batch on the first permanently failed job.
	FailFast    bool
	Stagger     time.Duration
	MaxAttempts int
	Timeout     time.Duration
}

// Scheduler creates, inspects and cancels batches.
type Scheduler struct {
	q       *Queue
	cfg     Config
	logger  *slog.Logger
	sleepFn func(ctx context.Context, d time.Duration) error
}

// NewScheduler creates a Scheduler over q.
func NewScheduler(q *Queue, cfg Config, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}

	return &Scheduler{
		q:       q,
		cfg:     cfg.withDefaults(),
		logger:  logger,
		sleepFn: sleepCtx,
	}
}

// Queue returns the underlying queue.
func (s *Scheduler) Queue() *Queue {
	return s.q
}

// Config returns the effective configuration.
func (s *Scheduler) Config() Config {
	return s.cfg
}

// Dispatch creates a batch named name and enqueues units into it. Unit i
// becomes available at now + i*stagger. Units whose unique key is already
// in flight are collapsed; the returned count is what was actually enqueued.
// A batch with nothing enqueued is finished immediately.
func (s *Scheduler) Dispatch(ctx context.Context, name string, units []Unit, opts DispatchOpts) (string, int, error) {
	stagger := s.cfg.Stagger
	if opts.Stagger != 0 {
		stagger = max(opts.Stagger, 0)
	}

	maxAttempts := s.cfg.MaxAttempts
	if opts.MaxAttempts > 0 {
		maxAttempts = opts.MaxAttempts
	}

	timeout := s.cfg.Timeout
	if opts.Timeout > 0 {
		timeout = opts.Timeout
	}

	batchID := uuid.NewString()
	now := s.q.nowFunc()

	tx, err := s.q.db.BeginTx(ctx, nil)
	if err != nil {
		return "", 0, fmt.Errorf("jobs: begin dispatch: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	allow := 1
	if opts.FailFast {
		allow = 0
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO batches (id, name, total, allow_failures, created_at) VALUES (?, ?, 0, ?, ?)`,
		batchID, name, allow, now.UnixNano())
	if err != nil {
		return "", 0, fmt.Errorf("jobs: creating batch %s: %w", name, err)
	}

	enqueued := 0

	for _, u := range units {
		availableAt := now.Add(time.Duration(enqueued) * stagger)

		ok, err := s.q.enqueue(ctx, tx, batchID, u, availableAt, maxAttempts, timeout)
		if err != nil {
			return "", 0, err
		}

		if ok {
			enqueued++
		}
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE batches SET total = ? WHERE id = ?`, enqueued, batchID); err != nil {
		return "", 0, fmt.Errorf("jobs: setting batch total: %w", err)
	}

	if err := markFinished(ctx, tx, batchID, now.UnixNano()); err != nil {
		return "", 0, err
	}

	if err := tx.Commit(); err != nil {
		return "", 0, fmt.Errorf("jobs: commit dispatch: %w", err)
	}

	s.logger.Info("batch dispatched",
		slog.String("batch_id", batchID),
		slog.String("name", name),
		slog.Int("units", len(units)),
		slog.Int("enqueued", enqueued),
	)

	return batchID, enqueued, nil
}

// Enqueue dispatches a single unit in its own batch and reports whether it
// was enqueued (false when the same unique key is already in flight).
func (s *Scheduler) Enqueue(ctx context.Context, name string, u Unit) (bool, error) {
	_, n, err := s.Dispatch(ctx, name, []Unit{u}, DispatchOpts{})
	if err != nil {
		return false, err
	}

	return n == 1, nil
}

// Cancel cancels a batch: pending jobs are canceled, running jobs finish.
func (s *Scheduler) Cancel(ctx context.Context, batchID string) error {
	n, err := s.q.cancelBatch(ctx, batchID)
	if err != nil {
		return err
	}

	s.logger.Info("batch cancelled",
		slog.String("batch_id", batchID),
		slog.Int("canceled_jobs", n),
	)

	return nil
}

// Status returns aggregate job counts for a batch.
func (s *Scheduler) Status(ctx context.Context, batchID string) (*BatchStatus, error) {
	return s.q.batchStatus(ctx, batchID)
}

// List returns the most recent batches, newest first. limit <= 0 means 20.
func (s *Scheduler) List(ctx context.Context, limit int) ([]Batch, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}

	return s.q.listBatches(ctx, limit)
}

// Wait polls until the batch is finished or ctx is done.
func (s *Scheduler) Wait(ctx context.Context, batchID string, poll time.Duration) (*BatchStatus, error) {
	if poll <= 0 {
		poll = s.cfg.PollInterval
	}

	for {
		st, err := s.Status(ctx, batchID)
		if err != nil {
			return nil, err
		}

		if st.Finished() {
			return st, nil
		}

		if err := s.sleepFn(ctx, poll); err != nil {
			return st, err
		}
	}
}

// WaitIdle polls until no job of any batch is pending or running. Units
// dispatched by running handlers are included, so it covers fan-out batches
// whose ids the caller never saw.
func (s *Scheduler) WaitIdle(ctx context.Context, poll time.Duration) error {
	if poll <= 0 {
		poll = s.cfg.PollInterval
	}

	for {
		n, err := s.q.outstanding(ctx)
		if err != nil {
			return err
		}

		if n == 0 {
			return nil
		}

		if err := s.sleepFn(ctx, poll); err != nil {
			return err
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
