package camara

import (
	"context"
	"net/http"
	"strconv"
	"time"
)

// Retry defaults. The source API is slow but rarely down for long, so a short
// fixed delay between a small number of attempts is enough.
const (
	DefaultMaxAttempts = 3
	DefaultRetryDelay  = 200 * time.Millisecond

	// maxRetryAfter caps a server-provided Retry-After so a misbehaving
	// upstream cannot park a worker for minutes.
	maxRetryAfter = 30 * time.Second
)

// RetryPolicy bounds how often and how long the client retries transient
// failures (network errors, 408, 429 and 5xx).
type RetryPolicy struct {
	MaxAttempts int
	Delay       time.Duration
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultMaxAttempts
	}

	if p.Delay <= 0 {
		p.Delay = DefaultRetryDelay
	}

	return p
}

// shouldRetry reports whether another attempt is allowed after the given
// 1-based attempt number failed.
func (p RetryPolicy) shouldRetry(attempt int) bool {
	return attempt < p.MaxAttempts
}

// delayFor returns the wait before the next attempt. For 429 responses with
// a Retry-After header in seconds, that value is used instead of the fixed delay.
func (p RetryPolicy) delayFor(status int, header http.Header) time.Duration {
	if status == http.StatusTooManyRequests && header != nil {
		if ra := header.Get("Retry-After"); ra != "" {
			if seconds, err := strconv.Atoi(ra); err == nil && seconds > 0 {
				return min(time.Duration(seconds)*time.Second, maxRetryAfter)
			}
		}
	}

	return p.Delay
}

// timeSleep waits for the given duration or until the context is canceled.
// It is the default sleepFunc for Client.
func timeSleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
