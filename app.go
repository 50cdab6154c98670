package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/tonimelisma/camara-sync/internal/camara"
	"github.com/tonimelisma/camara-sync/internal/config"
	"github.com/tonimelisma/camara-sync/internal/jobs"
	"github.com/tonimelisma/camara-sync/internal/store"
	"github.com/tonimelisma/camara-sync/internal/sync"
)

// dbDirPermissions is applied when creating the database directory.
const dbDirPermissions = 0o700

// app holds the components a command needs, wired from the resolved config.
type app struct {
	cfg    *config.Resolved
	logger *slog.Logger
	store  *store.Store
	client *camara.Client
	sched  *jobs.Scheduler
	pool   *jobs.WorkerPool
	orch   *sync.Orchestrator
}

// openApp opens the database (applying migrations), builds the API client,
// job scheduler, worker pool and orchestrator, and registers the job
// handlers. Callers must Close the app.
func openApp(ctx context.Context, cc *CLIContext) (*app, error) {
	cfg := cc.Cfg
	logger := cc.Logger

	if dir := filepath.Dir(cfg.Database.Path); dir != "" {
		if err := os.MkdirAll(dir, dbDirPermissions); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	st, err := store.Open(ctx, cfg.Database.Path, logger)
	if err != nil {
		return nil, err
	}

	st.SetChunkSize(cfg.Sync.ChunkSize)

	client, err := camara.NewClient(clientConfig(cfg), &http.Client{}, logger)
	if err != nil {
		return nil, errors.Join(err, st.Close())
	}

	sched := jobs.NewScheduler(jobs.NewQueue(st.DB(), logger), schedulerConfig(cfg), logger)
	pool := jobs.NewWorkerPool(sched, logger)

	orch := sync.New(client, st, sched, orchestratorConfig(cfg), logger)
	orch.Register(pool)

	return &app{
		cfg:    cfg,
		logger: logger,
		store:  st,
		client: client,
		sched:  sched,
		pool:   pool,
		orch:   orch,
	}, nil
}

// Close releases the database.
func (a *app) Close() error {
	return a.store.Close()
}

func clientConfig(cfg *config.Resolved) camara.Config {
	api := cfg.API

	return camara.Config{
		BaseURL: api.BaseURL,
		Timeout: api.TimeoutDuration(),
		Retry: camara.RetryPolicy{
			MaxAttempts: api.MaxAttempts,
			Delay:       api.RetryDelayDuration(),
		},
		MaxPages:  api.MaxPages,
		PageSize:  api.PageSize,
		CacheTTL:  api.CacheTTLDuration(),
		CacheSize: api.CacheSize,
		UserAgent: api.UserAgent,
	}
}

func schedulerConfig(cfg *config.Resolved) jobs.Config {
	j := cfg.Jobs

	stagger := j.StaggerDuration()
	if stagger == 0 {
		// jobs.Config treats zero as "use the default"; negative disables.
		stagger = -1
	}

	return jobs.Config{
		Workers:      j.Workers,
		MaxAttempts:  j.MaxAttempts,
		Backoff:      j.BackoffDurations(),
		Timeout:      j.TimeoutDuration(),
		Stagger:      stagger,
		PollInterval: j.PollIntervalDuration(),
		ReclaimGrace: j.ReclaimGraceDuration(),
	}
}

func orchestratorConfig(cfg *config.Resolved) sync.Config {
	s := cfg.Sync

	return sync.Config{
		Legislature:      s.CurrentLegislature,
		StaleAfter:       s.StaleAfter(),
		FirstExpenseYear: s.FirstExpenseYear,
		DeleteGuard: store.DeleteGuard{
			MinItems:   s.BigDeleteMinItems,
			MaxCount:   s.BigDeleteThreshold,
			MaxPercent: float64(s.BigDeletePercentage),
		},
	}
}
