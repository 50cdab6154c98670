package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newStaleCmd() *cobra.Command {
	var (
		minutes int
		limit   int
		detach  bool
	)

	cmd := &cobra.Command{
		Use:   "stale",
		Short: "Refresh deputies whose last sync is older than the freshness window",
		Long: `Select up to --limit deputies not synced within --minutes (never-synced
first) and dispatch one refresh job for each. Without --detach the jobs run
in-process until the queue drains.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := mustCLIContext(cmd.Context())

			if minutes < 0 || limit < 0 {
				return fmt.Errorf("%w: --minutes and --limit must not be negative", errUsage)
			}

			ctx := shutdownContext(cmd.Context(), cc.Logger)

			a, err := openApp(ctx, cc)
			if err != nil {
				return err
			}
			defer a.Close()

			batchID, n, err := a.orch.SyncStale(ctx, time.Duration(minutes)*time.Minute, limit)
			if err != nil {
				return err
			}

			if n > 0 && !detach {
				cc.Statusf("Refreshing %d stale deputies...\n", n)

				if err := drainQueue(ctx, a); err != nil {
					return err
				}
			}

			if cc.Flags.JSON {
				return printJSON(cc.Stdout, struct {
					Batch    string `json:"batch"`
					Enqueued int    `json:"enqueued"`
				}{batchID, n})
			}

			if n == 0 {
				fmt.Fprintln(cc.Stdout, "No stale deputies.")
				return nil
			}

			fmt.Fprintf(cc.Stdout, "Stale deputies refreshed: %d (batch %s)\n", n, batchID)

			return nil
		},
	}

	cmd.Flags().IntVar(&minutes, "minutes", 0, "freshness window in minutes (default: sync.stale_minutes)")
	cmd.Flags().IntVar(&limit, "limit", 100, "maximum deputies to refresh")
	cmd.Flags().BoolVar(&detach, "detach", false, "dispatch jobs and return without running them")

	return cmd
}
