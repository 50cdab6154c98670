package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/camara-sync/internal/jobs"
)

func newBatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Inspect and cancel job batches",
	}

	cmd.AddCommand(newBatchListCmd())
	cmd.AddCommand(newBatchStatusCmd())
	cmd.AddCommand(newBatchCancelCmd())

	return cmd
}

func newBatchListCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent batches, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := mustCLIContext(cmd.Context())
			ctx := cmd.Context()

			a, err := openApp(ctx, cc)
			if err != nil {
				return err
			}
			defer a.Close()

			batches, err := a.sched.List(ctx, limit)
			if err != nil {
				return err
			}

			if cc.Flags.JSON {
				out := make([]batchJSON, 0, len(batches))
				for i := range batches {
					out = append(out, toBatchJSON(&batches[i], nil))
				}

				return printJSON(cc.Stdout, out)
			}

			if len(batches) == 0 {
				cc.Statusf("No batches.\n")
				return nil
			}

			rows := make([][]string, 0, len(batches))
			for i := range batches {
				b := &batches[i]
				rows = append(rows, []string{
					b.ID, b.Name, strconv.Itoa(b.Total), batchState(b), formatTime(&b.CreatedAt),
				})
			}

			printTable(cc.Stdout, []string{"ID", "NAME", "JOBS", "STATE", "CREATED"}, rows)

			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "maximum batches to list")

	return cmd
}

func newBatchStatusCmd() *cobra.Command {
	var wait bool

	cmd := &cobra.Command{
		Use:   "status <batch-id>",
		Short: "Show job counts for a batch",
		Long: `Show job counts for a batch. With --wait the command polls until no job
of the batch is pending or running; workers must be running elsewhere
("camara-sync work" or "camara-sync serve").`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc := mustCLIContext(cmd.Context())
			ctx := shutdownContext(cmd.Context(), cc.Logger)

			a, err := openApp(ctx, cc)
			if err != nil {
				return err
			}
			defer a.Close()

			var st *jobs.BatchStatus
			if wait {
				st, err = a.sched.Wait(ctx, args[0], 0)
			} else {
				st, err = a.sched.Status(ctx, args[0])
			}

			if err != nil {
				return err
			}

			if cc.Flags.JSON {
				return printJSON(cc.Stdout, toBatchJSON(&st.Batch, st))
			}

			printBatchStatus(cc, st)

			return nil
		},
	}

	cmd.Flags().BoolVar(&wait, "wait", false, "wait until the batch finishes")

	return cmd
}

func newBatchCancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <batch-id>",
		Short: "Cancel a batch's pending jobs",
		Long:  `Cancel every pending job of a batch. Jobs already running finish.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc := mustCLIContext(cmd.Context())
			ctx := cmd.Context()

			a, err := openApp(ctx, cc)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.sched.Cancel(ctx, args[0]); err != nil {
				return err
			}

			st, err := a.sched.Status(ctx, args[0])
			if err != nil {
				return err
			}

			if cc.Flags.JSON {
				return printJSON(cc.Stdout, toBatchJSON(&st.Batch, st))
			}

			fmt.Fprintf(cc.Stdout, "Batch %s cancelled (%d canceled, %d running)\n", st.ID, st.Canceled, st.Running)

			return nil
		},
	}
}

type batchCounts struct {
	Pending  int `json:"pending"`
	Running  int `json:"running"`
	Done     int `json:"done"`
	Failed   int `json:"failed"`
	Canceled int `json:"canceled"`
}

type batchJSON struct {
	ID            string       `json:"id"`
	Name          string       `json:"name"`
	Total         int          `json:"total"`
	AllowFailures bool         `json:"allow_failures"`
	State         string       `json:"state"`
	CreatedAt     time.Time    `json:"created_at"`
	CancelledAt   *time.Time   `json:"cancelled_at,omitempty"`
	FinishedAt    *time.Time   `json:"finished_at,omitempty"`
	Jobs          *batchCounts `json:"jobs,omitempty"`
}

func toBatchJSON(b *jobs.Batch, st *jobs.BatchStatus) batchJSON {
	out := batchJSON{
		ID:            b.ID,
		Name:          b.Name,
		Total:         b.Total,
		AllowFailures: b.AllowFailures,
		State:         batchState(b),
		CreatedAt:     b.CreatedAt,
		CancelledAt:   b.CancelledAt,
		FinishedAt:    b.FinishedAt,
	}

	if st != nil {
		out.Jobs = &batchCounts{
			Pending:  st.Pending,
			Running:  st.Running,
			Done:     st.Done,
			Failed:   st.Failed,
			Canceled: st.Canceled,
		}
	}

	return out
}

// batchState summarizes a batch in one word.
func batchState(b *jobs.Batch) string {
	switch {
	case b.Cancelled():
		return "cancelled"
	case b.FinishedAt != nil:
		return "finished"
	default:
		return "running"
	}
}

func printBatchStatus(cc *CLIContext, st *jobs.BatchStatus) {
	w := cc.Stdout

	fmt.Fprintf(w, "Batch %s (%s): %s\n", st.ID, st.Name, batchState(&st.Batch))
	fmt.Fprintf(w, "  Created:  %s\n", formatTime(&st.CreatedAt))
	fmt.Fprintf(w, "  Jobs:     %d\n", st.Total)
	fmt.Fprintf(w, "  Pending:  %d\n", st.Pending)
	fmt.Fprintf(w, "  Running:  %d\n", st.Running)
	fmt.Fprintf(w, "  Done:     %d\n", st.Done)
	fmt.Fprintf(w, "  Failed:   %d\n", st.Failed)
	fmt.Fprintf(w, "  Canceled: %d\n", st.Canceled)
}
