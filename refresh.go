package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/camara-sync/internal/sync"
)

func newRefreshCmd() *cobra.Command {
	var (
		expenses bool
		year     int
	)

	cmd := &cobra.Command{
		Use:   "refresh <external-id>",
		Short: "Refresh one deputy from the detail endpoint",
		Long: `Synchronously refresh a single deputy. A deputy unknown upstream is
skipped and its local row left untouched. With --expenses the deputy's
expenses for --year (default: the current year) are refreshed too.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc := mustCLIContext(cmd.Context())
			ctx := cmd.Context()

			id, err := parseExternalID(args[0])
			if err != nil {
				return err
			}

			a, err := openApp(ctx, cc)
			if err != nil {
				return err
			}
			defer a.Close()

			out := refreshOutput{}

			out.Deputy, err = a.orch.SyncDeputy(ctx, id)
			if err != nil {
				return err
			}

			if expenses && out.Deputy.Stats.Skipped == 0 {
				if year <= 0 {
					year = time.Now().Year()
				}

				out.Expenses, err = a.orch.SyncDeputyExpenses(ctx, id, year)
				if err != nil {
					return err
				}
			}

			if cc.Flags.JSON {
				return printJSON(cc.Stdout, out)
			}

			printRefresh(cc, id, year, out)

			return nil
		},
	}

	cmd.Flags().BoolVar(&expenses, "expenses", false, "also refresh the deputy's expenses")
	cmd.Flags().IntVar(&year, "year", 0, "expense year (default: current year)")

	return cmd
}

type refreshOutput struct {
	Deputy   *sync.Result `json:"deputy"`
	Expenses *sync.Result `json:"expenses,omitempty"`
}

func printRefresh(cc *CLIContext, id int64, year int, out refreshOutput) {
	switch st := out.Deputy.Stats; {
	case st.Skipped > 0:
		fmt.Fprintf(cc.Stdout, "Deputy %d not found upstream; nothing changed\n", id)
	case st.Created > 0:
		fmt.Fprintf(cc.Stdout, "Deputy %d created\n", id)
	default:
		fmt.Fprintf(cc.Stdout, "Deputy %d updated\n", id)
	}

	if out.Expenses != nil {
		st := out.Expenses.Stats
		fmt.Fprintf(cc.Stdout, "Expenses %d: %d created, %d updated, %d failed\n",
			year, st.Created, st.Updated, st.Failed)
	}
}

func parseExternalID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: external id must be a positive integer, got %q", errUsage, s)
	}

	return id, nil
}
