package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/tonimelisma/camara-sync/internal/sync"
)

type syncOpts struct {
	deputies    bool
	expenses    bool
	details     bool
	noReconcile bool
	force       bool
	detach      bool
	year        int
}

func newSyncCmd() *cobra.Command {
	var opts syncOpts

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Synchronize deputies and expenses",
		Long: `Sync reference data and the current legislature's deputies, then fan out
per-deputy expense (and optionally detail) jobs.

With neither --deputies nor --expenses both are synced. --expenses alone
dispatches expense jobs for every stored deputy without re-listing.

Without --detach the command runs an in-process worker pool until the job
queue drains. With --detach jobs are left for "camara-sync work" or
"camara-sync serve".`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSync(cmd.Context(), mustCLIContext(cmd.Context()), opts)
		},
	}

	cmd.Flags().BoolVar(&opts.deputies, "deputies", false, "sync the deputies listing")
	cmd.Flags().BoolVar(&opts.expenses, "expenses", false, "sync deputy expenses")
	cmd.Flags().BoolVar(&opts.details, "details", false, "refresh every deputy from the detail endpoint")
	cmd.Flags().BoolVar(&opts.noReconcile, "no-reconcile", false, "keep deputies missing from the listing")
	cmd.Flags().BoolVar(&opts.force, "force", false, "override big-delete protection")
	cmd.Flags().BoolVar(&opts.detach, "detach", false, "dispatch jobs and return without running them")
	cmd.Flags().IntVar(&opts.year, "year", 0, "expense year (default: every year since first_expense_year)")

	return cmd
}

// syncSummary is the --json output of sync.
type syncSummary struct {
	Reference *sync.Result `json:"reference,omitempty"`
	Deputies  *sync.Result `json:"deputies,omitempty"`
	Batches   []string     `json:"batches"`
	Enqueued  int          `json:"enqueued,omitempty"`
}

func runSync(ctx context.Context, cc *CLIContext, opts syncOpts) error {
	if opts.year < 0 {
		return fmt.Errorf("%w: --year must be positive", errUsage)
	}

	if !opts.deputies && !opts.expenses {
		opts.deputies, opts.expenses = true, true
	}

	ctx = shutdownContext(ctx, cc.Logger)

	a, err := openApp(ctx, cc)
	if err != nil {
		return err
	}
	defer a.Close()

	summary := syncSummary{Batches: []string{}}

	if opts.deputies {
		summary.Reference, err = a.orch.SyncReference(ctx)
		if err != nil {
			return err
		}

		summary.Deputies, err = a.orch.SyncDeputies(ctx, sync.DeputiesOpts{
			Reconcile: a.cfg.Sync.Reconcile && !opts.noReconcile,
			Force:     opts.force,
			Details:   opts.details,
			Expenses:  opts.expenses,
			Year:      opts.year,
		})
		if err != nil {
			return err
		}

		summary.Batches = append(summary.Batches, summary.Deputies.BatchIDs...)
	} else {
		batchID, n, dispatchErr := a.orch.SyncAllExpenses(ctx, opts.year)
		if dispatchErr != nil {
			return dispatchErr
		}

		summary.Batches = append(summary.Batches, batchID)
		summary.Enqueued = n
	}

	if !opts.detach && len(summary.Batches) > 0 {
		cc.Statusf("Running jobs for %d batch(es)...\n", len(summary.Batches))

		if err := drainQueue(ctx, a); err != nil {
			return err
		}

		// A unit that failed after committing some expense chunks never
		// reached its own total recompute.
		if opts.expenses {
			if err := a.store.Expenses().RecomputeAllTotals(ctx); err != nil {
				return err
			}
		}
	}

	if cc.Flags.JSON {
		return printJSON(cc.Stdout, summary)
	}

	printSyncSummary(cc, summary)

	return nil
}

// drainQueue runs the worker pool until the queue is idle or ctx is done.
func drainQueue(ctx context.Context, a *app) error {
	poolCtx, stopPool := context.WithCancel(ctx)
	defer stopPool()

	g, gctx := errgroup.WithContext(poolCtx)

	g.Go(func() error {
		return a.pool.Run(gctx)
	})

	g.Go(func() error {
		defer stopPool()

		return a.sched.WaitIdle(gctx, 0)
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) && ctx.Err() == nil {
		err = nil
	}

	stats := a.pool.Stats()
	a.logger.Info("job queue drained",
		slog.Int("succeeded", stats.Succeeded),
		slog.Int("failed", stats.Failed),
		slog.Int("retried", stats.Retried),
		slog.Int("canceled", stats.Canceled),
	)

	return err
}

func printSyncSummary(cc *CLIContext, s syncSummary) {
	if s.Reference != nil {
		st := s.Reference.Stats
		fmt.Fprintf(cc.Stdout, "Reference: %d created, %d updated, %d failed\n", st.Created, st.Updated, st.Failed)
	}

	if s.Deputies != nil {
		st := s.Deputies.Stats
		fmt.Fprintf(cc.Stdout, "Deputies:  %d created, %d updated, %d failed, %d removed\n",
			st.Created, st.Updated, st.Failed, st.Removed)

		if !s.Deputies.Complete {
			fmt.Fprintln(cc.Stdout, "Warning: listing incomplete; reconciliation skipped")
		}

		if s.Deputies.ReconcileError != "" {
			fmt.Fprintf(cc.Stdout, "Warning: reconciliation removed nothing: %s\n", s.Deputies.ReconcileError)
			cc.Statusf("Re-run with --force to remove deputies missing upstream.\n")
		}
	}

	if s.Enqueued > 0 {
		fmt.Fprintf(cc.Stdout, "Expense jobs enqueued: %d\n", s.Enqueued)
	}

	for _, id := range s.Batches {
		fmt.Fprintf(cc.Stdout, "Batch: %s\n", id)
	}
}
