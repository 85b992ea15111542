package openaicompat

import (
	"context"
	"net/http"
	"sync"
	"time"

	"docextract/internal/remote"
)

// retryHint records the Retry-After header of a throttled response, which
// the go-openai error types do not expose.
type retryHint struct {
	mu         sync.Mutex
	retryAfter time.Duration
}

func (h *retryHint) set(d time.Duration) {
	h.mu.Lock()
	h.retryAfter = d
	h.mu.Unlock()
}

func (h *retryHint) get() time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.retryAfter
}

type hintKey struct{}

func withHint(ctx context.Context) (context.Context, *retryHint) {
	h := &retryHint{}
	return context.WithValue(ctx, hintKey{}, h), h
}

type hintDoer struct {
	next remote.HTTPDoer
}

func (d hintDoer) Do(req *http.Request) (*http.Response, error) {
	resp, err := d.next.Do(req)
	if err != nil || resp.StatusCode != http.StatusTooManyRequests {
		return resp, err
	}
	if h, ok := req.Context().Value(hintKey{}).(*retryHint); ok {
		h.set(remote.ParseRetryAfter(resp.Header.Get("Retry-After"), time.Now()))
	}
	return resp, err
}
