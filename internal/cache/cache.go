// Package cache stores extracted text keyed by content hash.
//
// The production backend is Redis: entries are written with a native TTL so
// expiry needs no in-process bookkeeping. The cache is an optimisation only;
// backend failures degrade to misses and are never returned to callers.
package cache

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"docextract/internal/extraction"
	"docextract/internal/logger"
)

const (
	DefaultTTL          = time.Hour
	DefaultWarnInterval = 30 * time.Second
	DefaultKeyPrefix    = "docextract:text:"
)

// Cache is the contract the router relies on.
type Cache interface {
	// Get returns the cached text and true on a hit. Backend failures are misses.
	Get(ctx context.Context, key string) (string, bool)

	// Put stores text under key for ttl. Zero ttl uses the cache default.
	Put(ctx context.Context, key, text string, ttl time.Duration)
}

// Config configures a RedisCache.
type Config struct {
	Addr     string
	Password string
	DB       int

	TTL       time.Duration
	KeyPrefix string

	// WarnInterval bounds how often backend failures are logged.
	WarnInterval time.Duration

	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// MaxRetries follows go-redis semantics: 0 keeps the client default, -1 disables retries.
	MaxRetries int
}

// Enabled reports whether a backend address is configured.
func (c Config) Enabled() bool {
	return c.Addr != ""
}

// RedisCache is a Cache backed by a Redis-protocol server.
type RedisCache struct {
	client       *redis.Client
	ttl          time.Duration
	prefix       string
	warnInterval time.Duration
	log          zerolog.Logger
	now          func() time.Time

	mu       sync.Mutex
	degraded bool
	lastWarn time.Time
}

// NewRedisCache creates a cache client. No connection is made until first use.
func NewRedisCache(cfg Config) *RedisCache {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = DefaultKeyPrefix
	}
	if cfg.WarnInterval <= 0 {
		cfg.WarnInterval = DefaultWarnInterval
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		MaxRetries:   cfg.MaxRetries,
	})

	return &RedisCache{
		client:       client,
		ttl:          cfg.TTL,
		prefix:       cfg.KeyPrefix,
		warnInterval: cfg.WarnInterval,
		log:          logger.WithComponent("cache").With().Str("addr", cfg.Addr).Logger(),
		now:          time.Now,
	}
}

// Get implements Cache.
func (c *RedisCache) Get(ctx context.Context, key string) (string, bool) {
	text, err := c.client.Get(ctx, c.prefix+key).Result()
	switch {
	case errors.Is(err, redis.Nil):
		c.markHealthy()
		return "", false
	case callerGone(ctx, err):
		return "", false
	case err != nil:
		c.markDegraded(&extraction.CacheUnavailableError{Op: "Get", Err: err})
		return "", false
	default:
		c.markHealthy()
		return text, true
	}
}

// Put implements Cache.
func (c *RedisCache) Put(ctx context.Context, key, text string, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.ttl
	}
	if err := c.client.Set(ctx, c.prefix+key, text, ttl).Err(); err != nil {
		if callerGone(ctx, err) {
			return
		}
		c.markDegraded(&extraction.CacheUnavailableError{Op: "Put", Err: err})
		return
	}
	c.markHealthy()
}

// Ping checks backend reachability.
func (c *RedisCache) Ping(ctx context.Context) error {
	if err := c.client.Ping(ctx).Err(); err != nil {
		return &extraction.CacheUnavailableError{Op: "Ping", Err: err}
	}
	return nil
}

// Close releases the connection pool.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

// callerGone reports whether err comes from ctx ending rather than from the backend.
func callerGone(ctx context.Context, err error) bool {
	return ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded))
}

// markDegraded logs at most once per warn interval while the backend keeps failing.
func (c *RedisCache) markDegraded(err error) {
	c.mu.Lock()
	now := c.now()
	shouldLog := !c.degraded || now.Sub(c.lastWarn) >= c.warnInterval
	c.degraded = true
	if shouldLog {
		c.lastWarn = now
	}
	c.mu.Unlock()

	if shouldLog {
		c.log.Warn().
			Err(err).
			Dur("suppress_for", c.warnInterval).
			Msg("Cache backend unavailable, serving without cache")
	}
}

func (c *RedisCache) markHealthy() {
	c.mu.Lock()
	recovered := c.degraded
	c.degraded = false
	c.mu.Unlock()

	if recovered {
		c.log.Info().Msg("Cache backend recovered")
	}
}

// Noop is a Cache that never hits. Used when no backend is configured.
type Noop struct{}

// Get implements Cache.
func (Noop) Get(context.Context, string) (string, bool) { return "", false }

// Put implements Cache.
func (Noop) Put(context.Context, string, string, time.Duration) {}
