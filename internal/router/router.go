// Package router decides how each document is turned into text: cache
// first, then the PDF text layer, then the configured remote provider
// behind retries and a circuit breaker.
package router

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"docextract/internal/cache"
	"docextract/internal/extraction"
	"docextract/internal/factory"
	"docextract/internal/logger"
	"docextract/internal/remote"
	"docextract/internal/retry"
)

const (
	DefaultAttemptTimeout = 30 * time.Second
	DefaultCacheOpTimeout = 2 * time.Second
)

// Config configures a Router.
type Config struct {
	MaxDocumentBytes int
	AttemptTimeout   time.Duration
	CacheTTL         time.Duration
	CacheOpTimeout   time.Duration
}

// TextLayer reads the embedded text of searchable PDFs.
type TextLayer interface {
	IsSearchable(pdf []byte) (bool, error)
	ExtractNative(pdf []byte) (string, error)
}

// Router is safe for concurrent use.
type Router struct {
	cfg       Config
	providers *factory.Factory
	textLayer TextLayer
	cache     cache.Cache
	policy    *retry.Policy
	log       zerolog.Logger
	now       func() time.Time
}

// New creates a Router. A nil cache disables caching.
func New(providers *factory.Factory, textLayer TextLayer, c cache.Cache, policy *retry.Policy, cfg Config) *Router {
	if cfg.MaxDocumentBytes <= 0 {
		cfg.MaxDocumentBytes = extraction.DefaultMaxDocumentBytes
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = DefaultAttemptTimeout
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = cache.DefaultTTL
	}
	if cfg.CacheOpTimeout <= 0 {
		cfg.CacheOpTimeout = DefaultCacheOpTimeout
	}
	if c == nil {
		c = cache.Noop{}
	}
	if policy == nil {
		policy = retry.New(retry.DefaultConfig())
	}

	return &Router{
		cfg:       cfg,
		providers: providers,
		textLayer: textLayer,
		cache:     c,
		policy:    policy,
		log:       logger.WithComponent("router"),
		now:       time.Now,
	}
}

// Extract returns the text of one document. Invalid requests are rejected
// before any cache or provider call. Cache failures never fail the call.
func (r *Router) Extract(ctx context.Context, req extraction.Request) (extraction.Result, error) {
	start := r.now()

	if err := req.Validate(r.cfg.MaxDocumentBytes); err != nil {
		return extraction.Result{}, err
	}

	log := logger.WithRequestID(r.log, uuid.NewString()).With().
		Str("filename", req.Filename).
		Str("mime", req.MIMEType).
		Str("media_type", string(req.MediaType)).
		Int("size_bytes", len(req.Data)).
		Logger()

	hash := extraction.Hash(req.Data, req.MediaType)
	idempotencyKey := req.IdempotencyKey
	if idempotencyKey == "" {
		idempotencyKey = hash
	}

	if text, ok := r.lookup(ctx, hash); ok {
		res := r.result(start, text, extraction.ProviderCache, 0)
		log.Info().Str("provider", string(res.Provider)).Int64("latency_ms", res.LatencyMs).Msg("Served from cache")
		return res, nil
	}

	if req.MediaType == extraction.MediaPDF {
		if text, ok := r.fromTextLayer(log, req.Data); ok {
			r.store(ctx, log, hash, text)
			res := r.result(start, text, extraction.ProviderNative, 0)
			log.Info().Str("provider", string(res.Provider)).Int64("latency_ms", res.LatencyMs).Msg("Extracted PDF text layer")
			return res, nil
		}
	}

	text, attempts, err := r.extractRemote(ctx, log, req, idempotencyKey)
	if err != nil {
		log.Warn().
			Err(err).
			Int("attempts", attempts).
			Int64("latency_ms", r.now().Sub(start).Milliseconds()).
			Msg("Extraction failed")
		return extraction.Result{}, err
	}

	r.store(ctx, log, hash, text)
	res := r.result(start, text, extraction.ProviderRemote, attempts)
	log.Info().
		Str("provider", string(res.Provider)).
		Int("attempts", attempts).
		Int64("latency_ms", res.LatencyMs).
		Int("text_length", len(text)).
		Msg("Extracted by remote provider")
	return res, nil
}

// HealthCheck pings the active provider.
func (r *Router) HealthCheck(ctx context.Context) bool {
	ext, br, err := r.providers.Active(ctx)
	if err != nil {
		r.log.Warn().Err(err).Msg("Health check: provider unavailable")
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, r.cfg.AttemptTimeout)
	defer cancel()

	snap := br.Snapshot()
	if err := ext.Ping(ctx); err != nil {
		r.log.Warn().
			Err(err).
			Str("provider", ext.Kind().String()).
			Str("breaker_state", snap.State.String()).
			Msg("Health check failed")
		return false
	}

	r.log.Debug().
		Str("provider", ext.Kind().String()).
		Str("breaker_state", snap.State.String()).
		Msg("Health check passed")
	return true
}

func (r *Router) fromTextLayer(log zerolog.Logger, data []byte) (string, bool) {
	searchable, err := r.textLayer.IsSearchable(data)
	if err != nil {
		log.Debug().Err(err).Msg("Searchability check failed, using remote provider")
		return "", false
	}
	if !searchable {
		log.Debug().Msg("PDF has no text layer, using remote provider")
		return "", false
	}

	text, err := r.textLayer.ExtractNative(data)
	if err != nil {
		log.Debug().Err(err).Msg("Text layer extraction failed, using remote provider")
		return "", false
	}
	return text, true
}

func (r *Router) extractRemote(ctx context.Context, log zerolog.Logger, req extraction.Request, idempotencyKey string) (string, int, error) {
	ext, gate, err := r.providers.Active(ctx)
	if err != nil {
		return "", 0, err
	}

	call := ext.ExtractImage
	if req.MediaType == extraction.MediaPDF {
		call = ext.ExtractDocument
	}

	rreq := remote.Request{
		Data:           req.Data,
		MIMEType:       req.MIMEType,
		Filename:       req.Filename,
		IdempotencyKey: idempotencyKey,
	}
	provider := ext.Kind().String()

	return r.policy.Execute(ctx, gate, func(ctx context.Context, attempt int) (string, error) {
		attemptCtx, cancel := context.WithTimeout(ctx, r.cfg.AttemptTimeout)
		defer cancel()

		started := time.Now()
		text, err := call(attemptCtx, rreq)
		if err != nil && ctx.Err() == nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) && !errors.Is(err, extraction.ErrTimeout) {
			err = &extraction.TimeoutError{Provider: provider, Timeout: r.cfg.AttemptTimeout, Err: err}
		}

		log.Info().
			Str("provider", provider).
			Int("attempt", attempt).
			Int64("latency_ms", time.Since(started).Milliseconds()).
			Str("outcome", outcome(err)).
			Err(err).
			Msg("Remote extraction attempt")

		return text, err
	})
}

func (r *Router) lookup(ctx context.Context, key string) (string, bool) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.CacheOpTimeout)
	defer cancel()
	return r.cache.Get(ctx, key)
}

// store writes synchronously on a context detached from the caller, so a
// caller that gives up right after extraction still populates the cache.
func (r *Router) store(ctx context.Context, log zerolog.Logger, key, text string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.cfg.CacheOpTimeout)
	defer cancel()
	r.cache.Put(ctx, key, text, r.cfg.CacheTTL)
	log.Debug().Int("text_length", len(text)).Msg("Cached extraction result")
}

func (r *Router) result(start time.Time, text string, provider extraction.Provider, attempts int) extraction.Result {
	return extraction.Result{
		Text:      text,
		Provider:  provider,
		LatencyMs: r.now().Sub(start).Milliseconds(),
		Attempt:   attempts,
	}
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	case extraction.IsRetryable(err):
		return "retryable_error"
	default:
		return "terminal_error"
	}
}
