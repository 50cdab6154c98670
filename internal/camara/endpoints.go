package camara

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"time"
)

// API endpoints.
const (
	endpointDeputies     = "deputados"
	endpointLegislatures = "legislaturas"
	endpointParties      = "partidos"
)

// Legislature numbering anchor: the 57th legislature began on 2023-02-01 and
// each term lasts four years.
const (
	anchorLegislature     = 57
	anchorLegislatureYear = 2023
	legislatureYears      = 4
)

// filterAliases maps the English filter names accepted by Deputies to the
// API's query parameter names. API names map to themselves.
var filterAliases = map[string]string{
	"name":        "nome",
	"state":       "siglaUf",
	"party":       "siglaPartido",
	"legislature": "idLegislatura",
	"page":        "pagina",
	"perPage":     "itens",
	"order":       "ordem",
	"orderBy":     "ordenarPor",
	"year":        "ano",
	"month":       "mes",
	"supplier":    "cnpjCpfFornecedor",
}

// NormalizeFilters converts a filter map into API query parameters, renaming
// English aliases and dropping empty values. Unknown keys pass through.
func NormalizeFilters(filters map[string]string) url.Values {
	q := make(url.Values, len(filters))

	for k, v := range filters {
		if v == "" {
			continue
		}

		if alias, ok := filterAliases[k]; ok {
			k = alias
		}

		q.Set(k, v)
	}

	return q
}

// Deputies returns a Pager over the deputies listing with the given filters.
func (c *Client) Deputies(ctx context.Context, filters map[string]string) *Pager {
	q := NormalizeFilters(filters)
	if q.Get("itens") == "" {
		q.Set("itens", strconv.Itoa(c.cfg.PageSize))
	}

	return c.Paginate(ctx, endpointDeputies, q)
}

// CurrentDeputies returns a Pager over the deputies of the given legislature,
// ordered by name.
func (c *Client) CurrentDeputies(ctx context.Context, legislature int) *Pager {
	return c.Deputies(ctx, map[string]string{
		"idLegislatura": strconv.Itoa(legislature),
		"ordem":         "ASC",
		"ordenarPor":    "nome",
	})
}

// ListDeputies returns one cached page of the deputies listing, for
// read-side lookups that tolerate a few minutes of staleness.
func (c *Client) ListDeputies(ctx context.Context, filters map[string]string) *Page {
	return c.Cached(ctx, endpointDeputies, NormalizeFilters(filters))
}

// CountDeputies estimates how many deputies match the filters.
func (c *Client) CountDeputies(ctx context.Context, filters map[string]string) int {
	return c.Count(ctx, endpointDeputies, NormalizeFilters(filters))
}

// Deputy fetches the detail record of one deputy.
func (c *Client) Deputy(ctx context.Context, externalID int64) (json.RawMessage, error) {
	return c.Detail(ctx, endpointDeputies+"/"+strconv.FormatInt(externalID, 10))
}

// DeputyExpenses returns a Pager over a deputy's reimbursement documents for
// one year. A month of 0 covers the whole year.
func (c *Client) DeputyExpenses(ctx context.Context, externalID int64, year, month int) *Pager {
	q := url.Values{}
	q.Set("ano", strconv.Itoa(year))

	if month > 0 {
		q.Set("mes", strconv.Itoa(month))
	}

	q.Set("itens", strconv.Itoa(c.cfg.PageSize))

	return c.Paginate(ctx, fmt.Sprintf("%s/%d/despesas", endpointDeputies, externalID), q)
}

// Legislatures returns a Pager over all legislatures.
func (c *Client) Legislatures(ctx context.Context) *Pager {
	q := url.Values{}
	q.Set("itens", strconv.Itoa(c.cfg.PageSize))

	return c.Paginate(ctx, endpointLegislatures, q)
}

// Parties returns a Pager over all parties.
func (c *Client) Parties(ctx context.Context) *Pager {
	q := url.Values{}
	q.Set("itens", strconv.Itoa(c.cfg.PageSize))

	return c.Paginate(ctx, endpointParties, q)
}

// Party fetches the detail record of one party.
func (c *Client) Party(ctx context.Context, externalID int64) (json.RawMessage, error) {
	return c.Detail(ctx, endpointParties+"/"+strconv.FormatInt(externalID, 10))
}

// CurrentLegislature asks the API which legislature is in session on now's
// date. When the API has no answer it falls back to LegislatureForDate.
func (c *Client) CurrentLegislature(ctx context.Context, now time.Time) int {
	q := url.Values{}
	q.Set("data", now.Format(time.DateOnly))

	page := c.Cached(ctx, endpointLegislatures, q)

	for _, raw := range page.Data {
		var rec struct {
			ID flexInt `json:"id"`
		}

		if err := json.Unmarshal(raw, &rec); err != nil || rec.ID <= 0 {
			continue
		}

		return int(rec.ID)
	}

	fallback := LegislatureForDate(now)
	c.logger.Warn("current legislature not reported by API, using computed value",
		slog.Int("legislature", fallback),
	)

	return fallback
}

// LegislatureForDate computes the legislature in session on t from the
// four-year cycle that starts every February 1st.
func LegislatureForDate(t time.Time) int {
	t = t.UTC()

	years := t.Year() - anchorLegislatureYear
	if t.Month() < time.February {
		years--
	}

	terms := years / legislatureYears
	if years < 0 && years%legislatureYears != 0 {
		terms--
	}

	return anchorLegislature + terms
}

// IsNotFound reports whether err means the record does not exist upstream.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
