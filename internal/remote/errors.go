package remote

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"syscall"
	"time"

	"docextract/internal/extraction"
)

// StatusError converts a non-2xx HTTP status into the extraction taxonomy:
// 429 is rate limiting, 408 a timeout, 5xx a retryable provider error and
// everything else a terminal provider error.
func StatusError(provider string, status int, message string, retryAfter time.Duration, err error) error {
	switch {
	case status == http.StatusTooManyRequests:
		if err == nil {
			err = errors.New(statusText(status, message))
		}
		return &extraction.RateLimitedError{Provider: provider, RetryAfter: retryAfter, Err: err}
	case status == http.StatusRequestTimeout:
		if err == nil {
			err = errors.New(statusText(status, message))
		}
		return &extraction.TimeoutError{Provider: provider, Err: err}
	default:
		return &extraction.ProviderError{
			Provider:   provider,
			StatusCode: status,
			Message:    message,
			Retryable:  status >= 500,
			Err:        err,
		}
	}
}

func statusText(status int, message string) string {
	text := strconv.Itoa(status) + " " + http.StatusText(status)
	if message != "" {
		text += ": " + message
	}
	return text
}

// ClassifyTransport maps an error raised below the provider protocol
// (dialing, TLS, deadlines) into the extraction taxonomy. Caller
// cancellation is returned as the context error. Errors that already carry
// an extraction class pass through unchanged.
func ClassifyTransport(ctx context.Context, provider string, timeout time.Duration, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		return ctx.Err()
	}
	if isClassified(err) {
		return err
	}

	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return &extraction.TimeoutError{Provider: provider, Timeout: timeout, Err: err}
	}

	if misconfigured(err) {
		return &extraction.ProviderError{Provider: provider, Message: "client misconfiguration", Err: err}
	}

	var (
		opErr  *net.OpError
		dnsErr *net.DNSError
		urlErr *url.Error
	)
	switch {
	case errors.As(err, &opErr),
		errors.As(err, &dnsErr),
		errors.As(err, &urlErr),
		errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF):
		return &extraction.TransportError{Provider: provider, Err: err}
	}

	return &extraction.ProviderError{Provider: provider, Message: "unexpected client error", Err: err}
}

// misconfigured reports failures that retrying cannot fix: certificate
// verification and malformed base URLs.
func misconfigured(err error) bool {
	var (
		verifyErr    *tls.CertificateVerificationError
		authorityErr x509.UnknownAuthorityError
		hostErr      x509.HostnameError
		invalidErr   x509.CertificateInvalidError
		recordErr    tls.RecordHeaderError
	)
	if errors.As(err, &verifyErr) ||
		errors.As(err, &authorityErr) ||
		errors.As(err, &hostErr) ||
		errors.As(err, &invalidErr) ||
		errors.As(err, &recordErr) {
		return true
	}

	msg := err.Error()
	return strings.Contains(msg, "unsupported protocol scheme") ||
		strings.Contains(msg, "no Host in request URL")
}

func isClassified(err error) bool {
	for _, sentinel := range []error{
		extraction.ErrTimeout,
		extraction.ErrRateLimited,
		extraction.ErrProvider,
		extraction.ErrTransport,
		extraction.ErrUnsupportedFormat,
		extraction.ErrCircuitOpen,
	} {
		if errors.Is(err, sentinel) {
			return true
		}
	}
	return false
}

// ParseRetryAfter reads a Retry-After header given either as delay seconds
// or as an HTTP date. Unparseable or past values yield 0.
func ParseRetryAfter(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil {
		if secs <= 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
