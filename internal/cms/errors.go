package cms

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

// NetworkError reports a non-2xx response from the content API.
type NetworkError struct {
	Status int
	// Body holds the first bytes of the response body for diagnostics.
	Body string
}

// Error implements the error interface.
func (e *NetworkError) Error() string {
	return fmt.Sprintf("HTTP %d", e.Status)
}

// NotFound reports whether the API answered 404.
func (e *NetworkError) NotFound() bool { return e.Status == 404 }

// TransportError reports a failure to reach the API (DNS, connection refused, reset).
type TransportError struct {
	Cause error
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	if e.Cause == nil {
		return "cms: transport failure"
	}
	return "cms: transport failure: " + e.Cause.Error()
}

// Unwrap exposes the underlying error.
func (e *TransportError) Unwrap() error { return e.Cause }

// TimeoutError reports that a request exceeded its deadline.
type TimeoutError struct {
	After time.Duration
}

// Error implements the error interface.
func (e *TimeoutError) Error() string {
	if e.After <= 0 {
		return "cms: request timed out"
	}
	return fmt.Sprintf("cms: request timed out after %s", e.After)
}

// Timeout lets callers treat the error like a net.Error.
func (e *TimeoutError) Timeout() bool { return true }

// Is matches context.DeadlineExceeded so generic deadline checks keep working.
func (e *TimeoutError) Is(target error) bool { return target == context.DeadlineExceeded }

// MalformedResponseError reports a body that is not JSON or not the expected shape.
type MalformedResponseError struct {
	Reason string
	Cause  error
}

// Error implements the error interface.
func (e *MalformedResponseError) Error() string {
	msg := "cms: malformed response"
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap exposes the underlying error.
func (e *MalformedResponseError) Unwrap() error { return e.Cause }

// IsNotFound reports whether err is a 404 from the content API.
func IsNotFound(err error) bool {
	var netErr *NetworkError
	return errors.As(err, &netErr) && netErr.NotFound()
}

// classifyError maps a failed round trip onto the error taxonomy. parent is the
// caller's context; reqCtx carries the per-request ceiling.
func classifyError(parent, reqCtx context.Context, limit time.Duration, err error) error {
	if errors.Is(parent.Err(), context.Canceled) {
		return fmt.Errorf("cms: request canceled: %w", context.Canceled)
	}
	if errors.Is(parent.Err(), context.DeadlineExceeded) || errors.Is(reqCtx.Err(), context.DeadlineExceeded) {
		return &TimeoutError{After: limit}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &TimeoutError{After: limit}
	}
	return &TransportError{Cause: err}
}

func truncateBody(b []byte) string {
	const limit = 256
	if len(b) > limit {
		b = b[:limit]
	}
	return strings.TrimSpace(string(b))
}
