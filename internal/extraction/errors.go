package extraction

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Common extraction errors
var (
	// ErrUnsupportedFormat is returned when the input is unrecognised or corrupt.
	// It is terminal: never retried.
	ErrUnsupportedFormat = errors.New("unsupported or corrupt document")

	// ErrTimeout is returned when a single extraction attempt exceeded its deadline.
	ErrTimeout = errors.New("extraction attempt timed out")

	// ErrRateLimited is returned when the provider signalled throttling.
	ErrRateLimited = errors.New("provider rate limited the request")

	// ErrProvider is returned when the provider answered with a failure status.
	ErrProvider = errors.New("provider returned an error")

	// ErrTransport is returned on DNS or connection level failures.
	ErrTransport = errors.New("transport failure")

	// ErrCircuitOpen is returned when the provider's circuit breaker refuses calls.
	ErrCircuitOpen = errors.New("circuit breaker is open")

	// ErrCacheUnavailable marks cache backend failures. It is logged, never returned to callers.
	ErrCacheUnavailable = errors.New("cache backend unavailable")

	// ErrEmptyDocument is returned when the request carries no bytes.
	ErrEmptyDocument = errors.New("document is empty")

	// ErrDocumentTooLarge is returned when the request exceeds the configured size limit.
	ErrDocumentTooLarge = errors.New("document exceeds maximum size limit")

	// ErrInvalidMediaType is returned when the request's media type is unknown.
	ErrInvalidMediaType = errors.New("invalid media type")
)

// RequestError reports a request rejected before any extraction attempt.
type RequestError struct {
	Op      string
	Err     error
	Details string
}

func (e *RequestError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("extraction: %s failed: %s: %v", e.Op, e.Details, e.Err)
	}
	return fmt.Sprintf("extraction: %s failed: %v", e.Op, e.Err)
}

func (e *RequestError) Unwrap() error { return e.Err }

// NewRequestError creates a new RequestError.
func NewRequestError(op string, err error, details string) *RequestError {
	return &RequestError{Op: op, Err: err, Details: details}
}

// UnsupportedFormatError wraps local decode failures (corrupt PDF, unknown image encoding).
type UnsupportedFormatError struct {
	// Op is the operation that failed (e.g., "ExtractNative", "ExtractOCR").
	Op string

	// Err is the underlying error.
	Err error

	// Details provides additional context about the failure.
	Details string
}

// Error implements the error interface.
func (e *UnsupportedFormatError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("extraction: %s failed: %s: %v", e.Op, e.Details, e.Err)
	}
	return fmt.Sprintf("extraction: %s failed: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for error unwrapping.
func (e *UnsupportedFormatError) Unwrap() error {
	return e.Err
}

// Is reports a match against ErrUnsupportedFormat regardless of the wrapped cause.
func (e *UnsupportedFormatError) Is(target error) bool {
	return target == ErrUnsupportedFormat
}

// NewUnsupportedFormatError creates a new UnsupportedFormatError.
func NewUnsupportedFormatError(op string, err error, details string) *UnsupportedFormatError {
	return &UnsupportedFormatError{
		Op:      op,
		Err:     err,
		Details: details,
	}
}

// WrapUnsupportedFormat wraps an error as an UnsupportedFormatError if it isn't already one.
func WrapUnsupportedFormat(op string, err error, details string) error {
	if err == nil {
		return nil
	}

	var ufErr *UnsupportedFormatError
	if errors.As(err, &ufErr) {
		return err // Already wrapped
	}

	return NewUnsupportedFormatError(op, err, details)
}

// TimeoutError reports an attempt that exceeded its deadline.
type TimeoutError struct {
	Provider string
	Timeout  time.Duration
	Err      error
}

func (e *TimeoutError) Error() string {
	if e.Timeout > 0 {
		return fmt.Sprintf("extraction: %s: attempt timed out after %v: %v", e.Provider, e.Timeout, e.Err)
	}
	return fmt.Sprintf("extraction: %s: attempt timed out: %v", e.Provider, e.Err)
}

func (e *TimeoutError) Unwrap() error { return e.Err }

func (e *TimeoutError) Is(target error) bool { return target == ErrTimeout }

// RateLimitedError reports provider throttling. RetryAfter carries the
// provider's hint when one was sent.
type RateLimitedError struct {
	Provider   string
	RetryAfter time.Duration
	Err        error
}

func (e *RateLimitedError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("extraction: %s: rate limited (retry after %v): %v", e.Provider, e.RetryAfter, e.Err)
	}
	return fmt.Sprintf("extraction: %s: rate limited: %v", e.Provider, e.Err)
}

func (e *RateLimitedError) Unwrap() error { return e.Err }

func (e *RateLimitedError) Is(target error) bool { return target == ErrRateLimited }

// ProviderError reports a failure status from the provider. 5xx style
// failures are retryable, 4xx style failures are terminal.
type ProviderError struct {
	Provider   string
	StatusCode int
	Message    string
	Retryable  bool
	Err        error
}

func (e *ProviderError) Error() string {
	msg := fmt.Sprintf("extraction: %s: provider error", e.Provider)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += fmt.Sprintf(": %v", e.Err)
	}
	return msg
}

func (e *ProviderError) Unwrap() error { return e.Err }

func (e *ProviderError) Is(target error) bool { return target == ErrProvider }

// TransportError reports a connection level failure.
type TransportError struct {
	Provider string
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("extraction: %s: transport failure: %v", e.Provider, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

func (e *TransportError) Is(target error) bool { return target == ErrTransport }

// CircuitOpenError is returned without touching the network while the
// provider's breaker is open. LastErr is the most recent underlying failure
// seen by the caller, if any.
type CircuitOpenError struct {
	Provider string
	OpenedAt time.Time
	LastErr  error
}

func (e *CircuitOpenError) Error() string {
	if e.LastErr != nil {
		return fmt.Sprintf("extraction: %s: circuit open since %s: last error: %v", e.Provider, e.OpenedAt.Format(time.RFC3339), e.LastErr)
	}
	return fmt.Sprintf("extraction: %s: circuit open since %s", e.Provider, e.OpenedAt.Format(time.RFC3339))
}

func (e *CircuitOpenError) Unwrap() error { return e.LastErr }

func (e *CircuitOpenError) Is(target error) bool { return target == ErrCircuitOpen }

// CacheUnavailableError wraps a cache backend failure.
type CacheUnavailableError struct {
	Op  string
	Err error
}

func (e *CacheUnavailableError) Error() string {
	return fmt.Sprintf("cache: %s failed: %v", e.Op, e.Err)
}

func (e *CacheUnavailableError) Unwrap() error { return e.Err }

func (e *CacheUnavailableError) Is(target error) bool { return target == ErrCacheUnavailable }

// IsRetryable reports whether err belongs to the retryable class:
// timeouts, rate limiting, transport failures and 5xx provider errors.
// Caller cancellation is never retryable.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}

	var provErr *ProviderError
	switch {
	case errors.Is(err, ErrCircuitOpen), errors.Is(err, ErrUnsupportedFormat):
		return false
	case errors.Is(err, ErrTimeout), errors.Is(err, ErrRateLimited), errors.Is(err, ErrTransport):
		return true
	case errors.As(err, &provErr):
		return provErr.Retryable
	default:
		return false
	}
}

// RetryAfter returns the provider-supplied retry hint carried by err, or 0.
func RetryAfter(err error) time.Duration {
	var rlErr *RateLimitedError
	if errors.As(err, &rlErr) {
		return rlErr.RetryAfter
	}
	return 0
}
