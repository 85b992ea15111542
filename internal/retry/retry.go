// Package retry runs an extraction attempt under bounded exponential backoff
// with jitter, consulting a circuit breaker before every attempt.
package retry

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"time"

	"github.com/rs/zerolog"

	"docextract/internal/extraction"
	"docextract/internal/logger"
)

const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = 500 * time.Millisecond
	DefaultMaxDelay    = 8 * time.Second
	DefaultJitter      = 0.2
)

// Config configures a Policy.
type Config struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration

	// Jitter is the relative randomisation band, 0.2 means ±20%.
	Jitter float64

	// MaxElapsed caps the wall-clock time across all attempts and sleeps.
	// Zero derives MaxAttempts × MaxDelay × 2.
	MaxElapsed time.Duration
}

// DefaultConfig returns the stock retry settings.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: DefaultMaxAttempts,
		BaseDelay:   DefaultBaseDelay,
		MaxDelay:    DefaultMaxDelay,
		Jitter:      DefaultJitter,
	}
}

// Gate admits or refuses a single attempt. *breaker.Breaker satisfies it.
type Gate interface {
	Allow() (func(error), error)
}

// Operation performs one attempt. attempt is 1-based.
type Operation func(ctx context.Context, attempt int) (string, error)

// Policy executes operations with retries.
type Policy struct {
	cfg Config
	log zerolog.Logger

	random func() float64
	sleep  func(ctx context.Context, d time.Duration) error
	now    func() time.Time
}

// New creates a Policy, filling zero values from DefaultConfig.
func New(cfg Config) *Policy {
	def := DefaultConfig()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = def.BaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = def.MaxDelay
	}
	if cfg.MaxDelay < cfg.BaseDelay {
		cfg.MaxDelay = cfg.BaseDelay
	}
	if cfg.Jitter < 0 || cfg.Jitter >= 1 {
		cfg.Jitter = def.Jitter
	}
	if cfg.MaxElapsed <= 0 {
		cfg.MaxElapsed = time.Duration(cfg.MaxAttempts) * cfg.MaxDelay * 2
	}

	return &Policy{
		cfg:    cfg,
		log:    logger.WithComponent("retry"),
		random: rand.Float64,
		sleep:  sleepContext,
		now:    time.Now,
	}
}

// Config returns the effective configuration.
func (p *Policy) Config() Config {
	return p.cfg
}

// Backoff returns the un-jittered delay after the given 1-based attempt:
// min(MaxDelay, BaseDelay × 2^(attempt-1)).
func (p *Policy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(p.cfg.BaseDelay) * math.Pow(2, float64(attempt-1))
	if d >= float64(p.cfg.MaxDelay) {
		return p.cfg.MaxDelay
	}
	return time.Duration(d)
}

func (p *Policy) delay(attempt int, err error) time.Duration {
	d := p.Backoff(attempt)
	if p.cfg.Jitter > 0 {
		factor := 1 + p.cfg.Jitter*(2*p.random()-1)
		d = time.Duration(float64(d) * factor)
	}
	if hint := extraction.RetryAfter(err); hint > d {
		d = hint
	}
	return d
}

// Execute runs op until it succeeds, fails terminally, the attempt budget
// is spent or the wall-clock ceiling is reached. It returns the text, the
// number of attempts made and, on failure, the last underlying error.
//
// gate is consulted before every attempt; a refusal aborts with
// *extraction.CircuitOpenError without consuming an attempt. A nil gate
// admits everything. An attempt cut short by the caller's own context is
// reported to the gate as context.Canceled, whatever the provider returned.
func (p *Policy) Execute(ctx context.Context, gate Gate, op Operation) (string, int, error) {
	deadline := p.now().Add(p.cfg.MaxElapsed)
	runCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	var lastErr error
	attempts := 0

	for attempts < p.cfg.MaxAttempts {
		if err := ctx.Err(); err != nil {
			return "", attempts, err
		}

		done := func(error) {}
		if gate != nil {
			d, err := gate.Allow()
			if err != nil {
				return "", attempts, withLastErr(err, lastErr)
			}
			done = d
		}

		attempts++
		text, err := op(runCtx, attempts)
		if err != nil && ctx.Err() != nil {
			// The caller gave up; the attempt says nothing about provider health.
			done(context.Canceled)
		} else {
			done(err)
		}
		if err == nil {
			return text, attempts, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return "", attempts, ctx.Err()
		}
		if !extraction.IsRetryable(err) {
			return "", attempts, err
		}
		if attempts >= p.cfg.MaxAttempts {
			break
		}

		wait := p.delay(attempts, err)
		if p.now().Add(wait).After(deadline) {
			p.log.Warn().
				Err(err).
				Int("attempt", attempts).
				Dur("delay", wait).
				Dur("max_elapsed", p.cfg.MaxElapsed).
				Msg("Retry ceiling reached, giving up")
			break
		}

		p.log.Debug().
			Err(err).
			Int("attempt", attempts).
			Dur("delay", wait).
			Msg("Attempt failed, retrying")

		if err := p.sleep(ctx, wait); err != nil {
			return "", attempts, err
		}
	}

	return "", attempts, lastErr
}

// withLastErr attaches the most recent attempt error to a breaker refusal.
func withLastErr(err, lastErr error) error {
	var openErr *extraction.CircuitOpenError
	if lastErr == nil || !errors.As(err, &openErr) {
		return err
	}
	cp := *openErr
	cp.LastErr = lastErr
	return &cp
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
