package remote

import (
	"context"
	"encoding/base64"
	"net/http"
)

// IdempotencyHeader carries the request's idempotency key on HTTP providers.
const IdempotencyHeader = "Idempotency-Key"

type idempotencyKey struct{}

// WithIdempotencyKey returns a context carrying key for outgoing requests.
func WithIdempotencyKey(ctx context.Context, key string) context.Context {
	if key == "" {
		return ctx
	}
	return context.WithValue(ctx, idempotencyKey{}, key)
}

// IdempotencyKey returns the key stored by WithIdempotencyKey, if any.
func IdempotencyKey(ctx context.Context) string {
	key, _ := ctx.Value(idempotencyKey{}).(string)
	return key
}

// HTTPDoer is the subset of *http.Client providers send requests through.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// IdempotentDoer stamps the context's idempotency key on every request.
type IdempotentDoer struct {
	Next HTTPDoer
}

// Do implements HTTPDoer.
func (d IdempotentDoer) Do(req *http.Request) (*http.Response, error) {
	if key := IdempotencyKey(req.Context()); key != "" && req.Header.Get(IdempotencyHeader) == "" {
		req = req.Clone(req.Context())
		req.Header.Set(IdempotencyHeader, key)
	}
	return d.Next.Do(req)
}

// DataURI encodes data as a base64 data: URI.
func DataURI(mimeType string, data []byte) string {
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data)
}
