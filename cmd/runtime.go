package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"docextract/internal/cache"
	"docextract/internal/config"
	"docextract/internal/factory"
	"docextract/internal/native"
	"docextract/internal/remote"
	"docextract/internal/retry"
	"docextract/internal/router"
)

// runtime holds the wired extraction stack for one command invocation.
type runtime struct {
	cfg       *config.Config
	router    *router.Router
	providers *factory.Factory
	redis     *cache.RedisCache
	log       zerolog.Logger
}

func newRuntime(log zerolog.Logger) (*runtime, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	nativeExt := native.New(cfg.GetNativeConfig())

	providers, err := factory.New(cfg.ProviderKind(), cfg.GetBreakerConfig(),
		factory.WithBuilder(remote.KindNative, factory.Native(nativeExt)),
		factory.WithBuilder(remote.KindOpenAI, factory.OpenAI(cfg.GetOpenAIConfig())),
		factory.WithBuilder(remote.KindGoogle, factory.Google(cfg.GetGoogleConfig())),
	)
	if err != nil {
		return nil, err
	}

	rt := &runtime{cfg: cfg, providers: providers, log: log}

	var c cache.Cache = cache.Noop{}
	if cacheCfg := cfg.GetCacheConfig(); cacheCfg.Enabled() {
		rt.redis = cache.NewRedisCache(cacheCfg)
		c = rt.redis
	} else {
		log.Debug().Msg("No cache address configured, caching disabled")
	}

	rt.router = router.New(providers, nativeExt, c, retry.New(cfg.GetRetryConfig()), cfg.GetRouterConfig())
	return rt, nil
}

func (rt *runtime) Close() {
	if err := rt.providers.Close(); err != nil {
		rt.log.Warn().Err(err).Msg("Failed to close provider")
	}
	if rt.redis != nil {
		if err := rt.redis.Close(); err != nil {
			rt.log.Warn().Err(err).Msg("Failed to close cache client")
		}
	}
}

// createContextWithTimeout creates a context with timeout and signal handling
func createContextWithTimeout(timeout time.Duration, log zerolog.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)

	// Handle interrupt signals for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigChan)
		select {
		case sig := <-sigChan:
			log.Info().
				Str("signal", sig.String()).
				Msg("Received interrupt signal, canceling extraction")
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, cancel
}
