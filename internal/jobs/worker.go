package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// Handler runs one job. Returning nil completes it; returning an error
// retries it with backoff until MaxAttempts, unless wrapped with Permanent.
type Handler func(ctx context.Context, job *Job) error

// WorkerPool claims jobs and runs them through per-kind handlers.
type WorkerPool struct {
	sched    *Scheduler
	logger   *slog.Logger
	handlers map[string]Handler
	mu       sync.RWMutex

	succeeded atomic.Int32
	failed    atomic.Int32
	retried   atomic.Int32
	canceled  atomic.Int32
}

// NewWorkerPool creates a pool without starting any workers.
func NewWorkerPool(sched *Scheduler, logger *slog.Logger) *WorkerPool {
	if logger == nil {
		logger = slog.Default()
	}

	return &WorkerPool{
		sched:    sched,
		logger:   logger,
		handlers: make(map[string]Handler),
	}
}

// Handle registers h for jobs of the given kind, replacing any previous one.
func (wp *WorkerPool) Handle(kind string, h Handler) {
	wp.mu.Lock()
	defer wp.mu.Unlock()

	wp.handlers[kind] = h
}

func (wp *WorkerPool) handler(kind string) (Handler, bool) {
	wp.mu.RLock()
	defer wp.mu.RUnlock()

	h, ok := wp.handlers[kind]

	return h, ok
}

// PoolStats counts job outcomes since the pool was created.
type PoolStats struct {
	Succeeded int
	Failed    int
	Retried   int
	Canceled  int
}

// Stats returns outcome counters.
func (wp *WorkerPool) Stats() PoolStats {
	return PoolStats{
		Succeeded: int(wp.succeeded.Load()),
		Failed:    int(wp.failed.Load()),
		Retried:   int(wp.retried.Load()),
		Canceled:  int(wp.canceled.Load()),
	}
}

// Run starts the configured number of workers plus a stale-claim reclaimer
// and blocks until ctx is canceled. In-flight jobs run to completion under
// their own timeout before Run returns.
func (wp *WorkerPool) Run(ctx context.Context) error {
	cfg := wp.sched.cfg

	if _, err := wp.sched.q.ReclaimStale(ctx, cfg.ReclaimGrace); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	for i := range cfg.Workers {
		g.Go(func() error {
			wp.worker(gctx, i)
			return nil
		})
	}

	g.Go(func() error {
		wp.reclaimLoop(gctx)
		return nil
	})

	wp.logger.Info("worker pool started", slog.Int("workers", cfg.Workers))

	err := g.Wait()

	wp.logger.Info("worker pool stopped",
		slog.Int("succeeded", int(wp.succeeded.Load())),
		slog.Int("failed", int(wp.failed.Load())),
	)

	return err
}

// RunOnce claims and processes jobs until none is ready. It is the
// synchronous drain used by tests and single-shot commands.
func (wp *WorkerPool) RunOnce(ctx context.Context) (int, error) {
	processed := 0

	for {
		job, err := wp.sched.q.Claim(ctx)
		if err != nil {
			return processed, err
		}

		if job == nil {
			return processed, nil
		}

		wp.process(ctx, job)
		processed++
	}
}

func (wp *WorkerPool) worker(ctx context.Context, n int) {
	poll := wp.sched.cfg.PollInterval

	for {
		if ctx.Err() != nil {
			return
		}

		job, err := wp.sched.q.Claim(ctx)
		if err != nil {
			if ctx.Err() == nil {
				wp.logger.Error("worker: claim failed",
					slog.Int("worker", n),
					slog.String("error", err.Error()),
				)
			}
		}

		if job == nil {
			if sleepCtx(ctx, poll) != nil {
				return
			}

			continue
		}

		// The job outcome is recorded even after shutdown starts.
		wp.process(context.WithoutCancel(ctx), job)
	}
}

func (wp *WorkerPool) reclaimLoop(ctx context.Context) {
	cfg := wp.sched.cfg
	interval := cfg.Timeout + cfg.ReclaimGrace

	for sleepCtx(ctx, interval) == nil {
		if _, err := wp.sched.q.ReclaimStale(ctx, cfg.ReclaimGrace); err != nil && ctx.Err() == nil {
			wp.logger.Error("worker: reclaim failed", slog.String("error", err.Error()))
		}
	}
}

// process runs one claimed job: batch cancellation is checked first, then
// the handler runs under the job's timeout, and the outcome is recorded.
func (wp *WorkerPool) process(ctx context.Context, job *Job) {
	q := wp.sched.q
	logger := wp.logger.With(
		slog.Int64("job_id", job.ID),
		slog.String("kind", job.Kind),
		slog.String("batch_id", job.BatchID),
		slog.Int("attempt", job.Attempts),
	)

	cancelled, err := q.batchCancelled(ctx, job.BatchID)
	if err != nil {
		logger.Error("worker: cancellation check failed", slog.String("error", err.Error()))
		wp.retry(ctx, logger, job, err)

		return
	}

	if cancelled {
		if err := q.Cancel(ctx, job.ID); err != nil {
			logger.Error("worker: cancel failed", slog.String("error", err.Error()))
			return
		}

		wp.canceled.Add(1)
		logger.Debug("worker: batch cancelled, job skipped")

		return
	}

	start := time.Now()
	runErr := wp.run(ctx, job)

	if runErr == nil {
		if err := q.Complete(ctx, job.ID); err != nil {
			logger.Error("worker: complete failed", slog.String("error", err.Error()))
			return
		}

		wp.succeeded.Add(1)
		logger.Debug("worker: job done", slog.Int64("duration_ms", time.Since(start).Milliseconds()))

		return
	}

	if IsPermanent(runErr) || job.Attempts >= job.MaxAttempts {
		wp.fail(ctx, logger, job, runErr)
		return
	}

	wp.retry(ctx, logger, job, runErr)
}

// run invokes the handler under the job's timeout, converting a panic into
// an error.
func (wp *WorkerPool) run(ctx context.Context, job *Job) (err error) {
	h, ok := wp.handler(job.Kind)
	if !ok {
		return Permanent(fmt.Errorf("%w: %s", ErrNoHandler, job.Kind))
	}

	timeout := job.Timeout
	if timeout <= 0 {
		timeout = wp.sched.cfg.Timeout
	}

	jobCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			wp.logger.Error("worker: panic in job handler",
				slog.Int64("job_id", job.ID),
				slog.String("kind", job.Kind),
				slog.Any("panic", r),
			)

			err = fmt.Errorf("panic: %v", r)
		}
	}()

	return h(jobCtx, job)
}

func (wp *WorkerPool) retry(ctx context.Context, logger *slog.Logger, job *Job, cause error) {
	delay := wp.sched.cfg.backoffFor(job.Attempts)
	next := wp.sched.q.nowFunc().Add(delay)

	if err := wp.sched.q.Retry(ctx, job.ID, next, cause.Error()); err != nil {
		logger.Error("worker: retry failed", slog.String("error", err.Error()))
		return
	}

	wp.retried.Add(1)
	logger.Warn("worker: job failed, will retry",
		slog.String("error", cause.Error()),
		slog.Duration("backoff", delay),
	)
}

func (wp *WorkerPool) fail(ctx context.Context, logger *slog.Logger, job *Job, cause error) {
	q := wp.sched.q

	if err := q.Fail(ctx, job.ID, cause.Error()); err != nil {
		logger.Error("worker: fail failed", slog.String("error", err.Error()))
		return
	}

	wp.failed.Add(1)
	logger.Error("worker: job failed permanently", slog.String("error", cause.Error()))

	b, err := q.batch(ctx, job.BatchID)
	if err != nil {
		logger.Error("worker: loading batch failed", slog.String("error", err.Error()))
		return
	}

	if b.AllowFailures || b.Cancelled() {
		return
	}

	if err := wp.sched.Cancel(ctx, job.BatchID); err != nil {
		logger.Error("worker: cancelling fail-fast batch failed", slog.String("error", err.Error()))
	}
}
