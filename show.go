package main

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/tonimelisma/camara-sync/internal/model"
	"github.com/tonimelisma/camara-sync/internal/store"
)

func newShowCmd() *cobra.Command {
	var (
		staleMinutes int
		wait         bool
		expenses     bool
	)

	cmd := &cobra.Command{
		Use:   "show <external-id>",
		Short: "Show a stored deputy, queueing a refresh when stale",
		Long: `Print a deputy from the local database. When the deputy is missing or
its last sync is older than the freshness window a refresh job is queued.
With --wait the refresh runs in-process before the deputy is printed.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc := mustCLIContext(cmd.Context())
			ctx := cmd.Context()

			id, err := parseExternalID(args[0])
			if err != nil {
				return err
			}

			if staleMinutes < 0 {
				return fmt.Errorf("%w: --stale-minutes must not be negative", errUsage)
			}

			a, err := openApp(ctx, cc)
			if err != nil {
				return err
			}
			defer a.Close()

			queued, err := a.orch.EnsureFresh(ctx, id, time.Duration(staleMinutes)*time.Minute)
			if err != nil {
				return err
			}

			if queued && wait {
				if err := drainQueue(shutdownContext(ctx, cc.Logger), a); err != nil {
					return err
				}

				queued = false
			}

			d, err := a.store.Deputies().DeputyByExternalID(ctx, id)
			if errors.Is(err, store.ErrNotFound) {
				if queued {
					cc.Statusf("Deputy %d is not stored yet; refresh queued\n", id)
					return nil
				}

				return fmt.Errorf("deputy %d not found", id)
			}

			if err != nil {
				return err
			}

			view := deputyView{Deputy: d, RefreshQueued: queued}

			if expenses {
				if view.Years, err = a.store.Expenses().Years(ctx, d.ID); err != nil {
					return err
				}
			}

			if cc.Flags.JSON {
				return printJSON(cc.Stdout, view.json())
			}

			printDeputy(cc, view)

			return nil
		},
	}

	cmd.Flags().IntVar(&staleMinutes, "stale-minutes", 0, "freshness window (default: sync.stale_minutes)")
	cmd.Flags().BoolVar(&wait, "wait", false, "run a queued refresh before printing")
	cmd.Flags().BoolVar(&expenses, "expenses", false, "list the years with stored expenses")

	return cmd
}

type deputyView struct {
	Deputy        *model.Deputy
	Years         []int
	RefreshQueued bool
}

type deputyJSON struct {
	ExternalID    int64      `json:"external_id"`
	Name          string     `json:"name"`
	CivilName     *string    `json:"civil_name,omitempty"`
	State         string     `json:"state"`
	Party         string     `json:"party"`
	Legislature   *int64     `json:"legislature,omitempty"`
	Status        *string    `json:"status,omitempty"`
	Email         *string    `json:"email,omitempty"`
	PhotoURL      *string    `json:"photo_url,omitempty"`
	TotalExpenses string     `json:"total_expenses"`
	LastSyncedAt  *time.Time `json:"last_synced_at"`
	ExpenseYears  []int      `json:"expense_years,omitempty"`
	RefreshQueued bool       `json:"refresh_queued"`
}

func (v deputyView) json() deputyJSON {
	d := v.Deputy

	return deputyJSON{
		ExternalID:    d.ExternalID,
		Name:          d.Name,
		CivilName:     d.CivilName,
		State:         d.StateCode,
		Party:         d.PartyAcronym,
		Legislature:   d.LegislatureExternalID,
		Status:        d.Status,
		Email:         d.Email,
		PhotoURL:      d.PhotoURL,
		TotalExpenses: d.TotalExpenses.StringFixed(2),
		LastSyncedAt:  d.LastSyncedAt,
		ExpenseYears:  v.Years,
		RefreshQueued: v.RefreshQueued,
	}
}

func printDeputy(cc *CLIContext, v deputyView) {
	d := v.Deputy
	w := cc.Stdout

	fmt.Fprintf(w, "%s (%s-%s)\n", d.Name, d.PartyAcronym, d.StateCode)
	fmt.Fprintf(w, "  External ID:    %d\n", d.ExternalID)
	fmt.Fprintf(w, "  Civil name:     %s\n", orDash(d.CivilName))

	if d.LegislatureExternalID != nil {
		fmt.Fprintf(w, "  Legislature:    %d\n", *d.LegislatureExternalID)
	}

	fmt.Fprintf(w, "  Status:         %s\n", orDash(d.Status))
	fmt.Fprintf(w, "  Email:          %s\n", orDash(d.Email))
	fmt.Fprintf(w, "  Total expenses: %s\n", formatMoney(d.TotalExpenses))
	fmt.Fprintf(w, "  Last synced:    %s\n", formatTime(d.LastSyncedAt))

	if len(v.Years) > 0 {
		fmt.Fprintf(w, "  Expense years:  %s\n", joinInts(v.Years))
	}

	if v.RefreshQueued {
		fmt.Fprintln(w, "  (stale; refresh queued)")
	}
}

func joinInts(vs []int) string {
	out := ""

	for i, v := range vs {
		if i > 0 {
			out += ", "
		}

		out += strconv.Itoa(v)
	}

	return out
}

func newListCmd() *cobra.Command {
	var f store.DeputyFilter

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored deputies",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := mustCLIContext(cmd.Context())
			ctx := cmd.Context()

			a, err := openApp(ctx, cc)
			if err != nil {
				return err
			}
			defer a.Close()

			deputies, err := a.store.Deputies().ListDeputies(ctx, f)
			if err != nil {
				return err
			}

			if cc.Flags.JSON {
				out := make([]deputyJSON, 0, len(deputies))
				for i := range deputies {
					out = append(out, deputyView{Deputy: &deputies[i]}.json())
				}

				return printJSON(cc.Stdout, out)
			}

			if len(deputies) == 0 {
				cc.Statusf("No deputies stored. Run \"camara-sync sync\" first.\n")
				return nil
			}

			total := decimal.Zero
			rows := make([][]string, 0, len(deputies))

			for i := range deputies {
				d := &deputies[i]
				total = total.Add(d.TotalExpenses)
				rows = append(rows, []string{
					strconv.FormatInt(d.ExternalID, 10),
					d.Name,
					d.PartyAcronym,
					d.StateCode,
					formatMoney(d.TotalExpenses),
					formatTime(d.LastSyncedAt),
				})
			}

			printTable(cc.Stdout, []string{"ID", "NAME", "PARTY", "UF", "EXPENSES", "LAST SYNCED"}, rows)
			fmt.Fprintf(cc.Stdout, "\n%d deputies, %s total\n", len(deputies), formatMoney(total))

			return nil
		},
	}

	cmd.Flags().StringVar(&f.StateCode, "state", "", "filter by state code (e.g. SP)")
	cmd.Flags().StringVar(&f.PartyAcronym, "party", "", "filter by party acronym")
	cmd.Flags().StringVar(&f.Name, "name", "", "filter by name substring")
	cmd.Flags().IntVar(&f.Limit, "limit", 0, "maximum rows (0 = all)")
	cmd.Flags().IntVar(&f.Offset, "offset", 0, "rows to skip")

	return cmd
}
