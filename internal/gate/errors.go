package gate

import (
	"fmt"
	"time"
)

// The adapter translates platform failures into these variants at the
// transport boundary, so classification can match on type instead of
// probing unstructured fields.

// RateLimitError reports that the platform rejected an operation for flood
// control and told us how long to back off.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited: retry after %s", e.RetryAfter)
}

// StatusError carries the HTTP status the platform API returned.
type StatusError struct {
	Code        int
	Description string
}

func (e *StatusError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("api status %d: %s", e.Code, e.Description)
	}
	return fmt.Sprintf("api status %d", e.Code)
}

// NetworkError wraps a transport-level failure (connection reset or
// refused, timeout, DNS trouble).
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("network error during %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("network error: %v", e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }
