// Package camara provides an HTTP client for the Chamber of Deputies
// open-data API (dados abertos) with bounded retry, lazy pagination over
// rel=next links, a short-lived listing cache, and record mappers.
package camara

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for HTTP status code classification and record mapping.
// Use errors.Is(err, camara.ErrNotFound) to check.
var (
	ErrBadRequest         = errors.New("camara: bad request")
	ErrNotFound           = errors.New("camara: not found")
	ErrThrottled          = errors.New("camara: throttled")
	ErrServerError        = errors.New("camara: server error")
	ErrUnavailable        = errors.New("camara: source unavailable")
	ErrUnexpectedResponse = errors.New("camara: unexpected response")
	ErrMalformedRecord    = errors.New("camara: malformed record")
)

// APIError wraps a sentinel error with HTTP status code, the requested URL,
// and the response body for debugging.
type APIError struct {
	StatusCode int
	URL        string
	Message    string
	Err        error // sentinel, for errors.Is()
}

func (e *APIError) Error() string {
	return fmt.Sprintf("camara: HTTP %d for %s: %s", e.StatusCode, e.URL, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// classifyStatus maps an HTTP status code to a sentinel error.
// Returns nil for 2xx success codes.
func classifyStatus(code int) error {
	switch code {
	case http.StatusBadRequest:
		return ErrBadRequest
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusTooManyRequests:
		return ErrThrottled
	default:
		if code >= http.StatusInternalServerError {
			return ErrServerError
		}

		if code >= http.StatusMultipleChoices {
			return ErrUnexpectedResponse
		}

		return nil
	}
}

// isRetryable reports whether the given HTTP status code should be retried.
func isRetryable(code int) bool {
	switch code {
	case http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

// malformed builds a mapping error that wraps ErrMalformedRecord.
func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedRecord, fmt.Sprintf(format, args...))
}
