package camara

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"net/url"
)

// Cached returns a listing page from the in-memory cache, fetching it with
// Get on a miss. Entries live for the configured CacheTTL. Concurrent misses
// for the same key share one request. Failed fetches yield an empty page and
// are not cached.
//
// The returned page is shared between callers and must not be modified.
// Sync paths never use Cached: they need the current upstream state.
func (c *Client) Cached(ctx context.Context, endpoint string, params url.Values) *Page {
	key := cacheKey(endpoint, params)

	if page, ok := c.cache.Get(key); ok {
		return page
	}

	v, _, _ := c.flights.Do(key, func() (any, error) {
		page, err := c.Get(ctx, endpoint, params)
		if err != nil {
			c.logger.Warn("camara API request failed, serving empty page",
				slog.String("endpoint", endpoint),
				slog.String("error", err.Error()),
			)

			return emptyPage(), nil
		}

		c.cache.Add(key, page)

		return page, nil
	})

	page, ok := v.(*Page)
	if !ok {
		return emptyPage()
	}

	return page
}

// cacheKey hashes the endpoint and the sorted, encoded parameters.
func cacheKey(endpoint string, params url.Values) string {
	sum := sha256.Sum256([]byte("camara:" + endpoint + "?" + params.Encode()))
	return hex.EncodeToString(sum[:])
}
