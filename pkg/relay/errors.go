package relay

import (
	"fmt"
	"time"
)

// UpstreamError represents an error response from the upstream provider.
type UpstreamError struct {
	// AccountID is the account whose call failed.
	AccountID string

	// StatusCode is the upstream HTTP status code.
	StatusCode int

	// RetryAfter is the cooldown the upstream requested (429 only).
	RetryAfter time.Duration

	// Body is the upstream error body, truncated for logging.
	Body string
}

// Error implements the error interface.
func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream error (status %d) on account %q: %s", e.StatusCode, e.AccountID, e.Body)
}

// Retryable reports whether another account may succeed where this one
// failed. Client-shaped errors (400, 404, 413, 422) will fail on any
// account and are returned to the client as-is.
func (e *UpstreamError) Retryable() bool {
	switch e.StatusCode {
	case 429, 401, 403:
		return true
	}
	return e.StatusCode >= 500
}

// ExhaustedError is returned when every attempted account failed.
type ExhaustedError struct {
	// Attempts is the number of distinct accounts tried.
	Attempts int

	// LastErr is the error from the final attempt.
	LastErr error
}

// Error implements the error interface.
func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("all %d account attempts failed: %v", e.Attempts, e.LastErr)
}

// Unwrap returns the final attempt's error.
func (e *ExhaustedError) Unwrap() error {
	return e.LastErr
}
