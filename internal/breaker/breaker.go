// Package breaker implements a per-provider three-state circuit breaker.
//
// A Breaker is closed while the provider behaves, opens after a run of
// consecutive failures and, once the recovery timeout has elapsed, lets a
// single probe through in the half-open state. All state transitions happen
// under one mutex that covers the full read-evaluate-transition sequence.
package breaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"docextract/internal/extraction"
	"docextract/internal/logger"
)

const (
	DefaultFailureThreshold = 5
	DefaultRecoveryTimeout  = 30 * time.Second
)

// State is the breaker's current mode.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// Config configures a Breaker.
type Config struct {
	FailureThreshold int
	RecoveryTimeout  time.Duration

	// Now is the clock; defaults to time.Now.
	Now func() time.Time
}

// Snapshot is a point-in-time copy of the breaker state.
type Snapshot struct {
	State               State
	ConsecutiveFailures int
	OpenedAt            time.Time
	TrialInFlight       bool
}

// Breaker guards one remote provider.
type Breaker struct {
	name      string
	threshold int
	recovery  time.Duration
	now       func() time.Time
	log       zerolog.Logger

	mu                    sync.Mutex
	state                 State
	consecutiveFailures   int
	openedAt              time.Time
	halfOpenTrialInFlight bool
}

// New creates a closed breaker for the named provider.
func New(name string, cfg Config) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultFailureThreshold
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = DefaultRecoveryTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Breaker{
		name:      name,
		threshold: cfg.FailureThreshold,
		recovery:  cfg.RecoveryTimeout,
		now:       cfg.Now,
		log:       logger.WithComponent("breaker").With().Str("provider", name).Logger(),
		state:     StateClosed,
	}
}

// Name returns the provider the breaker guards.
func (b *Breaker) Name() string {
	return b.name
}

// Allow asks permission for one call. On success it returns a done callback
// that must be invoked exactly once with the call's outcome; extra calls are
// ignored. When the breaker refuses, a *extraction.CircuitOpenError is
// returned and no call may be made.
func (b *Breaker) Allow() (func(error), error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return b.doneFunc(false), nil

	case StateOpen:
		if b.now().Sub(b.openedAt) < b.recovery {
			return nil, b.openError()
		}
		b.transition(StateHalfOpen)
		b.halfOpenTrialInFlight = true
		return b.doneFunc(true), nil

	default: // StateHalfOpen
		if b.halfOpenTrialInFlight {
			return nil, b.openError()
		}
		// A previous probe was cancelled; this caller takes the slot.
		b.halfOpenTrialInFlight = true
		return b.doneFunc(true), nil
	}
}

// Snapshot returns a copy of the current state.
func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	return Snapshot{
		State:               b.state,
		ConsecutiveFailures: b.consecutiveFailures,
		OpenedAt:            b.openedAt,
		TrialInFlight:       b.halfOpenTrialInFlight,
	}
}

type outcome int

const (
	outcomeSuccess outcome = iota
	outcomeFailure
	outcomeNeutral
)

// classify maps a call result onto breaker bookkeeping. Terminal errors
// (4xx, unsupported input) mean the provider answered, so they count as
// success for health purposes.
func classify(err error) outcome {
	switch {
	case err == nil:
		return outcomeSuccess
	case errors.Is(err, context.Canceled):
		return outcomeNeutral
	case extraction.IsRetryable(err):
		return outcomeFailure
	default:
		return outcomeSuccess
	}
}

func (b *Breaker) doneFunc(probe bool) func(error) {
	var once sync.Once
	return func(err error) {
		once.Do(func() { b.record(probe, classify(err)) })
	}
}

func (b *Breaker) record(probe bool, o outcome) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if probe {
		b.halfOpenTrialInFlight = false
		switch o {
		case outcomeSuccess:
			b.consecutiveFailures = 0
			b.transition(StateClosed)
		case outcomeFailure:
			b.openedAt = b.now()
			b.transition(StateOpen)
		}
		return
	}

	// Results of calls admitted while closed are stale once the state moved on.
	if b.state != StateClosed {
		return
	}

	switch o {
	case outcomeSuccess:
		b.consecutiveFailures = 0
	case outcomeFailure:
		b.consecutiveFailures++
		if b.consecutiveFailures >= b.threshold {
			b.openedAt = b.now()
			b.transition(StateOpen)
		}
	}
}

// transition must be called with b.mu held.
func (b *Breaker) transition(to State) {
	if b.state == to {
		return
	}
	from := b.state
	b.state = to

	event := b.log.Info()
	if to == StateOpen {
		event = b.log.Warn()
	}
	event.
		Str("from", from.String()).
		Str("to", to.String()).
		Int("consecutive_failures", b.consecutiveFailures).
		Msg("Circuit breaker state changed")
}

func (b *Breaker) openError() error {
	return &extraction.CircuitOpenError{
		Provider: b.name,
		OpenedAt: b.openedAt,
	}
}
