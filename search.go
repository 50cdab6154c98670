package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/camara-sync/internal/camara"
)

func newSearchCmd() *cobra.Command {
	var (
		name, state, party string
		page, perPage      int
	)

	cmd := &cobra.Command{
		Use:   "search",
		Short: "Search deputies upstream without storing them",
		Long: `Query one page of the upstream deputies listing. Results are served from
a short-lived in-memory cache (api.cache_ttl) and nothing is written to the
database. An unreachable API yields an empty result.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := mustCLIContext(cmd.Context())
			ctx := cmd.Context()

			a, err := openApp(ctx, cc)
			if err != nil {
				return err
			}
			defer a.Close()

			filters := map[string]string{
				"name":    name,
				"state":   state,
				"party":   party,
				"order":   "ASC",
				"orderBy": "nome",
			}

			if page > 0 {
				filters["page"] = strconv.Itoa(page)
			}

			if perPage > 0 {
				filters["perPage"] = strconv.Itoa(perPage)
			}

			result := a.client.ListDeputies(ctx, filters)
			total := a.client.CountDeputies(ctx, map[string]string{"name": name, "state": state, "party": party})

			hits := make([]deputyJSON, 0, len(result.Data))

			for _, raw := range result.Data {
				d, mapErr := camara.DeputyFromSource(raw)
				if mapErr != nil {
					cc.Logger.Debug("skipping malformed search result")
					continue
				}

				hits = append(hits, deputyView{Deputy: &d}.json())
			}

			if cc.Flags.JSON {
				return printJSON(cc.Stdout, struct {
					Total    int          `json:"total"`
					Deputies []deputyJSON `json:"deputies"`
				}{total, hits})
			}

			if len(hits) == 0 {
				fmt.Fprintln(cc.Stdout, "No deputies found.")
				return nil
			}

			rows := make([][]string, 0, len(hits))
			for _, h := range hits {
				rows = append(rows, []string{strconv.FormatInt(h.ExternalID, 10), h.Name, h.Party, h.State})
			}

			printTable(cc.Stdout, []string{"ID", "NAME", "PARTY", "UF"}, rows)
			fmt.Fprintf(cc.Stdout, "\n%d shown, about %d matching\n", len(hits), total)

			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "name substring")
	cmd.Flags().StringVar(&state, "state", "", "state code (e.g. SP)")
	cmd.Flags().StringVar(&party, "party", "", "party acronym")
	cmd.Flags().IntVar(&page, "page", 0, "page number")
	cmd.Flags().IntVar(&perPage, "per-page", 0, "results per page (default: api.page_size)")

	return cmd
}
