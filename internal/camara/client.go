package camara

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"
)

// Client defaults.
const (
	DefaultBaseURL   = "https://dadosabertos.camara.leg.br/api/v2/"
	DefaultTimeout   = 30 * time.Second
	DefaultMaxPages  = 1000
	DefaultPageSize  = 100
	DefaultCacheTTL  = 5 * time.Minute
	DefaultCacheSize = 256
	DefaultUserAgent = "camara-sync/0.1"

	// maxErrorBody bounds how much of an error response is kept in APIError.
	maxErrorBody = 4 << 10
)

// Config controls a Client. Zero values fall back to the package defaults.
type Config struct {
	BaseURL   string
	Timeout   time.Duration // per HTTP attempt
	Retry     RetryPolicy
	MaxPages  int
	PageSize  int
	CacheTTL  time.Duration
	CacheSize int
	UserAgent string
}

func (c Config) withDefaults() Config {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}

	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}

	c.Retry = c.Retry.withDefaults()

	if c.MaxPages <= 0 {
		c.MaxPages = DefaultMaxPages
	}

	if c.PageSize <= 0 {
		c.PageSize = DefaultPageSize
	}

	if c.CacheTTL <= 0 {
		c.CacheTTL = DefaultCacheTTL
	}

	if c.CacheSize <= 0 {
		c.CacheSize = DefaultCacheSize
	}

	if c.UserAgent == "" {
		c.UserAgent = DefaultUserAgent
	}

	return c
}

// Client is an HTTP client for the Chamber of Deputies open-data API.
// It is safe for concurrent use.
type Client struct {
	cfg        Config
	baseURL    *url.URL
	httpClient *http.Client
	logger     *slog.Logger

	cache   *expirable.LRU[string, *Page]
	flights singleflight.Group

	// sleepFunc is called to wait between retries. Defaults to timeSleep.
	// Tests override this to avoid real delays.
	sleepFunc func(ctx context.Context, d time.Duration) error
}

// NewClient creates a Camara API client. A nil httpClient means
// http.DefaultClient; the per-attempt timeout is applied through the request
// context, so a shared transport is fine.
func NewClient(cfg Config, httpClient *http.Client, logger *slog.Logger) (*Client, error) {
	cfg = cfg.withDefaults()

	if logger == nil {
		logger = slog.Default()
	}

	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/") + "/")
	if err != nil {
		return nil, fmt.Errorf("camara: parsing base URL %q: %w", cfg.BaseURL, err)
	}

	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("camara: base URL %q must be http or https", cfg.BaseURL)
	}

	return &Client{
		cfg:        cfg,
		baseURL:    base,
		httpClient: httpClient,
		logger:     logger,
		cache:      expirable.NewLRU[string, *Page](cfg.CacheSize, nil, cfg.CacheTTL),
		sleepFunc:  timeSleep,
	}, nil
}

// PageSize returns the configured number of items requested per listing page.
func (c *Client) PageSize() int {
	return c.cfg.PageSize
}

// Link is one entry of the envelope's links array.
type Link struct {
	Rel  string `json:"rel"`
	Href string `json:"href"`
}

// Page is one decoded listing envelope. Data holds the raw records so mapping
// failures stay per-record.
type Page struct {
	Data  []json.RawMessage
	Links []Link
}

// Link returns the href of the first link with the given relation.
func (p *Page) Link(rel string) (string, bool) {
	for _, l := range p.Links {
		if l.Rel == rel && l.Href != "" {
			return l.Href, true
		}
	}

	return "", false
}

func emptyPage() *Page {
	return &Page{Data: []json.RawMessage{}, Links: []Link{}}
}

// envelope mirrors the API response body. Listings carry an array under
// "dados"; detail endpoints carry an object.
type envelope struct {
	Dados json.RawMessage `json:"dados"`
	Links []Link          `json:"links"`
}

// Get fetches one listing page, retrying transient failures. Errors are
// returned to the caller; see GetSoft for the best-effort variant.
func (c *Client) Get(ctx context.Context, endpoint string, params url.Values) (*Page, error) {
	return c.getURL(ctx, c.endpointURL(endpoint, params))
}

// GetSoft is the best-effort form of Get: when every attempt fails it logs a
// warning and returns an empty page so bulk syncs can continue.
func (c *Client) GetSoft(ctx context.Context, endpoint string, params url.Values) *Page {
	page, err := c.Get(ctx, endpoint, params)
	if err != nil {
		c.logger.Warn("camara API request failed, continuing with empty page",
			slog.String("endpoint", endpoint),
			slog.String("params", params.Encode()),
			slog.String("error", err.Error()),
		)

		return emptyPage()
	}

	return page
}

// Detail fetches a detail endpoint and returns the raw "dados" object.
// A missing record yields an error wrapping ErrNotFound.
func (c *Client) Detail(ctx context.Context, endpoint string) (json.RawMessage, error) {
	body, err := c.do(ctx, c.endpointURL(endpoint, nil))
	if err != nil {
		return nil, err
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: decoding %s: %w", ErrUnexpectedResponse, endpoint, err)
	}

	dados := bytes.TrimSpace(env.Dados)
	if len(dados) == 0 || bytes.Equal(dados, []byte("null")) {
		return nil, fmt.Errorf("camara: %s: %w", endpoint, ErrNotFound)
	}

	if dados[0] != '{' {
		return nil, fmt.Errorf("%w: %s: dados is not an object", ErrUnexpectedResponse, endpoint)
	}

	return json.RawMessage(dados), nil
}

func (c *Client) getURL(ctx context.Context, rawURL string) (*Page, error) {
	body, err := c.do(ctx, rawURL)
	if err != nil {
		return nil, err
	}

	return decodePage(body, rawURL)
}

func decodePage(body []byte, rawURL string) (*Page, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: decoding %s: %w", ErrUnexpectedResponse, rawURL, err)
	}

	page := emptyPage()
	if env.Links != nil {
		page.Links = env.Links
	}

	dados := bytes.TrimSpace(env.Dados)
	if len(dados) == 0 || bytes.Equal(dados, []byte("null")) {
		return page, nil
	}

	if dados[0] != '[' {
		return nil, fmt.Errorf("%w: %s: dados is not an array", ErrUnexpectedResponse, rawURL)
	}

	if err := json.Unmarshal(dados, &page.Data); err != nil {
		return nil, fmt.Errorf("%w: decoding records of %s: %w", ErrUnexpectedResponse, rawURL, err)
	}

	return page, nil
}

// endpointURL joins endpoint onto the base URL and encodes params (sorted by
// key, so equal parameter sets produce equal URLs).
func (c *Client) endpointURL(endpoint string, params url.Values) string {
	u := c.baseURL.JoinPath(strings.Trim(endpoint, "/"))
	if len(params) > 0 {
		u.RawQuery = params.Encode()
	}

	return u.String()
}

// resolveURL turns a link href into an absolute URL. Hrefs from the API are
// absolute; relative ones are resolved against the base URL.
func (c *Client) resolveURL(href string) (string, error) {
	ref, err := url.Parse(href)
	if err != nil {
		return "", fmt.Errorf("camara: invalid link %q: %w", href, err)
	}

	return c.baseURL.ResolveReference(ref).String(), nil
}

// do executes a GET with retry and returns the response body of the first
// 2xx answer.
func (c *Client) do(ctx context.Context, rawURL string) ([]byte, error) {
	policy := c.cfg.Retry

	for attempt := 1; ; attempt++ {
		status, header, body, err := c.doOnce(ctx, rawURL)
		if err != nil {
			// Context cancellation is not retryable.
			if ctx.Err() != nil {
				return nil, fmt.Errorf("camara: request canceled: %w", ctx.Err())
			}

			if policy.shouldRetry(attempt) {
				c.logger.Warn("retrying after network error",
					slog.String("url", rawURL),
					slog.Int("attempt", attempt),
					slog.Duration("delay", policy.Delay),
					slog.String("error", err.Error()),
				)

				if sleepErr := c.sleepFunc(ctx, policy.Delay); sleepErr != nil {
					return nil, fmt.Errorf("camara: request canceled: %w", sleepErr)
				}

				continue
			}

			return nil, fmt.Errorf("%w: GET %s failed after %d attempts: %w",
				ErrUnavailable, rawURL, attempt, err)
		}

		if status >= http.StatusOK && status < http.StatusMultipleChoices {
			c.logger.Debug("request succeeded",
				slog.String("url", rawURL),
				slog.Int("status", status),
				slog.Int("attempt", attempt),
			)

			return body, nil
		}

		if isRetryable(status) && policy.shouldRetry(attempt) {
			delay := policy.delayFor(status, header)
			c.logger.Warn("retrying after HTTP error",
				slog.String("url", rawURL),
				slog.Int("status", status),
				slog.Int("attempt", attempt),
				slog.Duration("delay", delay),
			)

			if err := c.sleepFunc(ctx, delay); err != nil {
				return nil, fmt.Errorf("camara: request canceled: %w", err)
			}

			continue
		}

		apiErr := &APIError{
			StatusCode: status,
			URL:        rawURL,
			Message:    string(body),
			Err:        classifyStatus(status),
		}

		if attempt > 1 {
			c.logger.Error("request failed after retries",
				slog.String("url", rawURL),
				slog.Int("status", status),
				slog.Int("attempts", attempt),
			)
		}

		return nil, apiErr
	}
}

// doOnce executes a single GET (no retry) bounded by the per-attempt timeout.
// The body is fully read so the timeout also covers the transfer.
func (c *Client) doOnce(ctx context.Context, rawURL string) (int, http.Header, []byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, http.NoBody)
	if err != nil {
		return 0, nil, nil, fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.cfg.UserAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, nil, err
	}
	defer resp.Body.Close()

	var reader io.Reader = resp.Body
	if resp.StatusCode >= http.StatusMultipleChoices {
		reader = io.LimitReader(resp.Body, maxErrorBody)
	}

	body, err := io.ReadAll(reader)
	if err != nil {
		return 0, nil, nil, fmt.Errorf("reading response body: %w", err)
	}

	return resp.StatusCode, resp.Header, body, nil
}
