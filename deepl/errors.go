package deepl

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Sentinel errors. Every *APIError unwraps to exactly one of them, so callers
// classify failures with errors.Is.
var (
	// ErrRateLimited is returned for HTTP 429. Retryable after RetryAfter.
	ErrRateLimited = errors.New("rate limited")
	// ErrAuth is returned for HTTP 401/403. Fatal for a run.
	ErrAuth = errors.New("authentication failed")
	// ErrQuotaExceeded is returned for HTTP 456 (character quota used up). Fatal for a run.
	ErrQuotaExceeded = errors.New("quota exceeded")
	// ErrNetwork is returned for transport failures and 5xx responses. Retryable.
	ErrNetwork = errors.New("network error")
	// ErrRequest is returned for any other non-2xx response (bad request,
	// payload too large, unknown glossary...). Not retryable.
	ErrRequest = errors.New("request rejected")
)

// StatusQuotaExceeded is the DeepL-specific status for an exhausted quota.
const StatusQuotaExceeded = 456

// APIError is a failed call to the DeepL API.
type APIError struct {
	// StatusCode is the HTTP status, 0 for transport failures.
	StatusCode int
	// Message is the server's error message or the transport error text.
	Message string
	// RetryAfter is the server-requested delay before retrying, 0 if none.
	RetryAfter time.Duration

	kind error
}

func (e *APIError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("deepl: %v: %s", e.kind, e.Message)
	}
	if e.Message == "" {
		return fmt.Sprintf("deepl: %v (HTTP %d)", e.kind, e.StatusCode)
	}
	return fmt.Sprintf("deepl: %v (HTTP %d): %s", e.kind, e.StatusCode, e.Message)
}

// Unwrap returns the sentinel matching the failure class.
func (e *APIError) Unwrap() error {
	return e.kind
}

// Retryable reports whether the same request may succeed later.
func (e *APIError) Retryable() bool {
	return e.kind == ErrRateLimited || e.kind == ErrNetwork
}

// classify maps an HTTP status to its sentinel.
func classify(status int) error {
	switch {
	case status == http.StatusTooManyRequests:
		return ErrRateLimited
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ErrAuth
	case status == StatusQuotaExceeded:
		return ErrQuotaExceeded
	case status >= 500:
		return ErrNetwork
	default:
		return ErrRequest
	}
}

// NewAPIError returns the error a response with the given status would
// produce.
func NewAPIError(status int, message string) *APIError {
	return &APIError{StatusCode: status, Message: message, kind: classify(status)}
}

func newStatusError(resp *http.Response, body []byte) *APIError {
	return &APIError{
		StatusCode: resp.StatusCode,
		Message:    errorMessage(body),
		RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		kind:       classify(resp.StatusCode),
	}
}

func newNetworkError(err error) *APIError {
	return &APIError{Message: err.Error(), kind: ErrNetwork}
}

// parseRetryAfter accepts delta-seconds or an HTTP date.
func parseRetryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
