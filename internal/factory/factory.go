// Package factory owns provider construction. The provider kind is fixed at
// construction, every kind gets its own circuit breaker, and the active
// extractor is built lazily on first use and cached until invalidated.
package factory

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"docextract/internal/breaker"
	"docextract/internal/logger"
	"docextract/internal/native"
	"docextract/internal/remote"
	"docextract/internal/remote/gcloud"
	"docextract/internal/remote/local"
	"docextract/internal/remote/openaicompat"
)

// Builder constructs a provider instance.
type Builder func(ctx context.Context) (remote.Extractor, error)

// Option customises a Factory.
type Option func(*Factory)

// WithBuilder registers the builder for a provider kind, replacing any previous one.
func WithBuilder(kind remote.Kind, b Builder) Option {
	return func(f *Factory) {
		f.builders[kind] = b
	}
}

// WithClock sets the clock used by the breakers (for testing).
func WithClock(now func() time.Time) Option {
	return func(f *Factory) {
		f.now = now
	}
}

// Factory hands out the active provider and its breaker.
type Factory struct {
	kind     remote.Kind
	builders map[remote.Kind]Builder
	breakers map[remote.Kind]*breaker.Breaker
	now      func() time.Time
	log      zerolog.Logger

	builds singleflight.Group

	mu     sync.Mutex
	active remote.Extractor
}

// New creates a factory for the given provider kind. A builder for that
// kind must be registered through the options.
func New(kind remote.Kind, breakerCfg breaker.Config, opts ...Option) (*Factory, error) {
	f := &Factory{
		kind:     kind,
		builders: make(map[remote.Kind]Builder),
		breakers: make(map[remote.Kind]*breaker.Breaker),
		log:      logger.WithComponent("factory"),
	}
	for _, opt := range opts {
		opt(f)
	}

	known := false
	for _, k := range remote.Kinds() {
		known = known || k == kind
	}
	if !known {
		return nil, fmt.Errorf("factory: unknown provider kind %v", kind)
	}
	if f.builders[kind] == nil {
		return nil, fmt.Errorf("factory: no builder registered for provider %s", kind)
	}

	if f.now != nil {
		breakerCfg.Now = f.now
	}
	for _, k := range remote.Kinds() {
		f.breakers[k] = breaker.New(k.String(), breakerCfg)
	}

	f.log.Info().Str("provider", kind.String()).Msg("Extraction provider selected")
	return f, nil
}

// Kind returns the configured provider kind.
func (f *Factory) Kind() remote.Kind {
	return f.kind
}

// Breaker returns the breaker guarding the given provider kind.
func (f *Factory) Breaker(kind remote.Kind) *breaker.Breaker {
	return f.breakers[kind]
}

// Active returns the provider instance, building it on first use, together
// with its breaker. Concurrent first callers share one build, which runs
// detached from their cancellation; each caller stops waiting when its own
// context ends. A failed build is not cached.
func (f *Factory) Active(ctx context.Context) (remote.Extractor, *breaker.Breaker, error) {
	if ext := f.cached(); ext != nil {
		return ext, f.breakers[f.kind], nil
	}

	ch := f.builds.DoChan(f.kind.String(), func() (any, error) {
		return f.build(context.WithoutCancel(ctx))
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, nil, res.Err
		}
		return res.Val.(remote.Extractor), f.breakers[f.kind], nil
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	}
}

func (f *Factory) cached() remote.Extractor {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active
}

func (f *Factory) build(ctx context.Context) (remote.Extractor, error) {
	// A caller that missed the cache may start a flight after another one finished.
	if ext := f.cached(); ext != nil {
		return ext, nil
	}

	start := time.Now()
	ext, err := f.builders[f.kind](ctx)
	if err != nil {
		return nil, fmt.Errorf("build %s provider: %w", f.kind, err)
	}

	f.mu.Lock()
	f.active = ext
	f.mu.Unlock()

	f.log.Debug().
		Str("provider", f.kind.String()).
		Dur("duration", time.Since(start)).
		Msg("Provider built")
	return ext, nil
}

// Invalidate closes and drops the cached provider instance. The next call
// to Active builds a fresh one. Breaker state is kept.
//
// The old instance is closed immediately, so Invalidate must not run while
// calls on it are still in flight.
func (f *Factory) Invalidate() error {
	f.mu.Lock()
	ext := f.active
	f.active = nil
	f.mu.Unlock()

	if closer, ok := ext.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			return fmt.Errorf("close %s provider: %w", f.kind, err)
		}
	}
	return nil
}

// Close releases the cached provider instance.
func (f *Factory) Close() error {
	return f.Invalidate()
}

// Native builds the local OCR provider.
func Native(engine *native.Extractor) Builder {
	return func(context.Context) (remote.Extractor, error) {
		return local.New(engine), nil
	}
}

// OpenAI builds the OpenAI-compatible provider.
func OpenAI(cfg openaicompat.Config) Builder {
	return func(context.Context) (remote.Extractor, error) {
		return openaicompat.New(cfg)
	}
}

// Google builds the Cloud Vision / Document AI provider.
func Google(cfg gcloud.Config) Builder {
	return func(ctx context.Context) (remote.Extractor, error) {
		return gcloud.New(ctx, cfg)
	}
}
