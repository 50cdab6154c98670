package camara

import (
	"context"
	"encoding/json"
	"iter"
	"log/slog"
	"net/url"
	"regexp"
	"strconv"
	"sync/atomic"
)

// lastPagePattern extracts the page number from a rel=last href.
var lastPagePattern = regexp.MustCompile(`[?&]pagina=(\d+)`)

// Pager is a lazy, single-use walk over a paginated listing. Pages are
// fetched strictly in order by following each page's rel=next link.
//
// A page that fails after all retries ends the walk early without an error
// (fail soft); Complete reports whether the listing was read to its natural
// end, which callers must check before acting on the absence of a record.
type Pager struct {
	client   *Client
	ctx      context.Context //nolint:containedctx // bound to one lazy walk
	endpoint string
	params   url.Values

	started  atomic.Bool
	pages    int
	complete bool
	err      error
}

// Paginate returns a Pager over endpoint. No request is made until Records
// is iterated.
func (c *Client) Paginate(ctx context.Context, endpoint string, params url.Values) *Pager {
	return &Pager{
		client:   c,
		ctx:      ctx,
		endpoint: endpoint,
		params:   cloneValues(params),
	}
}

// Records yields every record of every page. The sequence can be consumed
// once; a second call yields nothing.
func (p *Pager) Records() iter.Seq[json.RawMessage] {
	return func(yield func(json.RawMessage) bool) {
		if !p.started.CompareAndSwap(false, true) {
			p.client.logger.Warn("pager already consumed",
				slog.String("endpoint", p.endpoint),
			)

			return
		}

		p.walk(yield)
	}
}

func (p *Pager) walk(yield func(json.RawMessage) bool) {
	logger := p.client.logger
	page, err := p.client.Get(p.ctx, p.endpoint, p.params)

	for {
		if err != nil {
			p.err = err
			logger.Warn("listing page failed, stopping pagination",
				slog.String("endpoint", p.endpoint),
				slog.Int("pages_read", p.pages),
				slog.String("error", err.Error()),
			)

			return
		}

		p.pages++

		for _, rec := range page.Data {
			if !yield(rec) {
				return
			}
		}

		next, ok := page.Link("next")
		if !ok {
			p.complete = true

			logger.Debug("pagination complete",
				slog.String("endpoint", p.endpoint),
				slog.Int("pages", p.pages),
			)

			return
		}

		if p.pages >= p.client.cfg.MaxPages {
			logger.Warn("page cap reached, listing truncated",
				slog.String("endpoint", p.endpoint),
				slog.Int("max_pages", p.client.cfg.MaxPages),
			)

			return
		}

		nextURL, resolveErr := p.client.resolveURL(next)
		if resolveErr != nil {
			page, err = nil, resolveErr
			continue
		}

		page, err = p.client.getURL(p.ctx, nextURL)
	}
}

// Pages returns the number of pages fetched successfully so far.
func (p *Pager) Pages() int {
	return p.pages
}

// Complete reports whether the walk reached a page without a next link.
// It is false before iteration, after a failed page, after the page cap,
// and when the consumer stopped early.
func (p *Pager) Complete() bool {
	return p.complete
}

// Err returns the error that ended the walk early, if any.
func (p *Pager) Err() error {
	return p.err
}

// Count estimates the number of records of a listing by requesting a single
// item per page and reading the page number of the rel=last link. It falls
// back to the size of the returned page when no last link is present.
func (c *Client) Count(ctx context.Context, endpoint string, params url.Values) int {
	q := cloneValues(params)
	q.Set("itens", "1")

	page := c.GetSoft(ctx, endpoint, q)

	if last, ok := page.Link("last"); ok {
		if m := lastPagePattern.FindStringSubmatch(last); m != nil {
			if n, err := strconv.Atoi(m[1]); err == nil {
				return n
			}
		}
	}

	return len(page.Data)
}

func cloneValues(v url.Values) url.Values {
	out := make(url.Values, len(v))
	for k, vals := range v {
		out[k] = append([]string(nil), vals...)
	}

	return out
}
