package gcloud

import (
	"context"
	"errors"
	"time"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"docextract/internal/extraction"
	"docextract/internal/remote"
)

// mapError converts a client error into the extraction taxonomy.
func (e *Extractor) mapError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); errors.Is(ctxErr, context.Canceled) {
		return ctxErr
	}

	st, ok := status.FromError(err)
	if !ok {
		return remote.ClassifyTransport(ctx, e.Kind().String(), e.cfg.Timeout, err)
	}
	return e.mapStatus(st.Code(), st.Message(), retryDelay(st), err)
}

// mapStatus classifies a gRPC status code. Unavailable, Internal, Unknown
// and Aborted are retryable; other failures mean the request itself was
// refused.
func (e *Extractor) mapStatus(code codes.Code, message string, retryAfter time.Duration, err error) error {
	provider := e.Kind().String()
	if err == nil {
		err = status.Error(code, message)
	}

	switch code {
	case codes.DeadlineExceeded:
		return &extraction.TimeoutError{Provider: provider, Timeout: e.cfg.Timeout, Err: err}
	case codes.ResourceExhausted:
		return &extraction.RateLimitedError{Provider: provider, RetryAfter: retryAfter, Err: err}
	case codes.Unavailable, codes.Internal, codes.Unknown, codes.Aborted:
		return &extraction.ProviderError{
			Provider:   provider,
			StatusCode: int(code),
			Message:    message,
			Retryable:  true,
			Err:        err,
		}
	default:
		return &extraction.ProviderError{
			Provider:   provider,
			StatusCode: int(code),
			Message:    message,
			Err:        err,
		}
	}
}

func (e *Extractor) malformed(message string) error {
	return &extraction.ProviderError{Provider: e.Kind().String(), Message: message}
}

// retryDelay reads the server's RetryInfo detail, if present.
func retryDelay(st *status.Status) time.Duration {
	for _, detail := range st.Details() {
		if info, ok := detail.(*errdetails.RetryInfo); ok {
			return info.GetRetryDelay().AsDuration()
		}
	}
	return 0
}

func codeOf(code int32) codes.Code {
	return codes.Code(uint32(code))
}
