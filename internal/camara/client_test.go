package camara

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// noopSleep is a sleep function that returns immediately, for fast tests.
func noopSleep(_ context.Context, _ time.Duration) error {
	return nil
}

// newTestClient creates a Client pointing at the given httptest server
// with instant retry sleeps for fast tests.
func newTestClient(t *testing.T, url string) *Client {
	t.Helper()

	c, err := NewClient(Config{BaseURL: url, PageSize: 2}, http.DefaultClient, slog.Default())
	require.NoError(t, err)

	c.sleepFunc = noopSleep

	return c
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

func TestNewClient_Defaults(t *testing.T) {
	t.Parallel()

	c, err := NewClient(Config{}, nil, nil)
	require.NoError(t, err)

	assert.Equal(t, DefaultBaseURL, c.baseURL.String())
	assert.Equal(t, DefaultMaxAttempts, c.cfg.Retry.MaxAttempts)
	assert.Equal(t, DefaultRetryDelay, c.cfg.Retry.Delay)
	assert.Equal(t, DefaultTimeout, c.cfg.Timeout)
	assert.Equal(t, DefaultMaxPages, c.cfg.MaxPages)
	assert.Equal(t, DefaultPageSize, c.PageSize())
}

func TestNewClient_RejectsBadScheme(t *testing.T) {
	t.Parallel()

	_, err := NewClient(Config{BaseURL: "ftp://example.com"}, nil, nil)
	require.Error(t, err)
}

func TestGet_Success(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/deputados", r.URL.Path)
		assert.Equal(t, "SP", r.URL.Query().Get("siglaUf"))
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		assert.Equal(t, DefaultUserAgent, r.Header.Get("User-Agent"))

		writeJSON(w, http.StatusOK, `{"dados":[{"id":1},{"id":2}],"links":[{"rel":"self","href":"x"}]}`)
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	page, err := client.Get(context.Background(), "deputados", NormalizeFilters(map[string]string{"state": "SP"}))
	require.NoError(t, err)

	assert.Len(t, page.Data, 2)
	assert.JSONEq(t, `{"id":1}`, string(page.Data[0]))
	require.Len(t, page.Links, 1)
	assert.Equal(t, "self", page.Links[0].Rel)
}

func TestGet_RetriesTransientThenSucceeds(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			writeJSON(w, http.StatusServiceUnavailable, `{}`)
			return
		}

		writeJSON(w, http.StatusOK, `{"dados":[{"id":7}],"links":[]}`)
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	page, err := client.Get(context.Background(), "deputados", nil)
	require.NoError(t, err)

	assert.Len(t, page.Data, 1)
	assert.Equal(t, int32(3), calls.Load())
}

func TestGet_ExhaustsRetries(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		writeJSON(w, http.StatusInternalServerError, `boom`)
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	_, err := client.Get(context.Background(), "deputados", nil)
	require.Error(t, err)

	assert.ErrorIs(t, err, ErrServerError)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusInternalServerError, apiErr.StatusCode)
	assert.Equal(t, "boom", apiErr.Message)
	assert.Equal(t, int32(DefaultMaxAttempts), calls.Load())
}

func TestGet_DoesNotRetryClientErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		status   int
		sentinel error
	}{
		{"bad request", http.StatusBadRequest, ErrBadRequest},
		{"not found", http.StatusNotFound, ErrNotFound},
		{"forbidden", http.StatusForbidden, ErrUnexpectedResponse},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var calls atomic.Int32

			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				calls.Add(1)
				writeJSON(w, tt.status, `{}`)
			}))
			defer srv.Close()

			client := newTestClient(t, srv.URL)
			_, err := client.Get(context.Background(), "deputados", nil)

			assert.ErrorIs(t, err, tt.sentinel)
			assert.Equal(t, int32(1), calls.Load())
		})
	}
}

func TestGet_RetryAfterHonoured(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "2")
			writeJSON(w, http.StatusTooManyRequests, `{}`)

			return
		}

		writeJSON(w, http.StatusOK, `{"dados":[]}`)
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)

	var mu sync.Mutex
	var slept []time.Duration

	client.sleepFunc = func(_ context.Context, d time.Duration) error {
		mu.Lock()
		slept = append(slept, d)
		mu.Unlock()

		return nil
	}

	_, err := client.Get(context.Background(), "deputados", nil)
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{2 * time.Second}, slept)
}

func TestGet_FixedDelayBetweenAttempts(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusBadGateway, `{}`)
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)

	var slept []time.Duration
	client.sleepFunc = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}

	_, err := client.Get(context.Background(), "deputados", nil)
	require.Error(t, err)
	assert.Equal(t, []time.Duration{DefaultRetryDelay, DefaultRetryDelay}, slept)
}

func TestGet_NetworkErrorExhaustion(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) {}))
	url := srv.URL
	srv.Close()

	client := newTestClient(t, url)
	_, err := client.Get(context.Background(), "deputados", nil)

	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestGet_ContextCanceled(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusServiceUnavailable, `{}`)
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	client.sleepFunc = timeSleep

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.Get(ctx, "deputados", nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestGet_RejectsNonArrayDados(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, `{"dados":{"id":1}}`)
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	_, err := client.Get(context.Background(), "deputados", nil)

	assert.ErrorIs(t, err, ErrUnexpectedResponse)
}

func TestGetSoft_EmptyPageOnExhaustion(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		writeJSON(w, http.StatusGatewayTimeout, `{}`)
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	page := client.GetSoft(context.Background(), "deputados", nil)

	require.NotNil(t, page)
	assert.NotNil(t, page.Data)
	assert.Empty(t, page.Data)
	assert.NotNil(t, page.Links)
	assert.Empty(t, page.Links)
	assert.Equal(t, int32(DefaultMaxAttempts), calls.Load())
}

func TestDetail(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/deputados/204521":
			writeJSON(w, http.StatusOK, `{"dados":{"id":204521,"nomeCivil":"Maria"}}`)
		case "/deputados/1":
			writeJSON(w, http.StatusOK, `{"dados":null}`)
		default:
			writeJSON(w, http.StatusNotFound, `{"status":404}`)
		}
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)

	raw, err := client.Deputy(context.Background(), 204521)
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":204521,"nomeCivil":"Maria"}`, string(raw))

	_, err = client.Deputy(context.Background(), 1)
	assert.True(t, IsNotFound(err))

	_, err = client.Deputy(context.Background(), 2)
	assert.True(t, IsNotFound(err))
}
