// Package resilience provides the circuit breaker, retry, and admission
// control primitives protecting calls to prediction backends.
package resilience

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rotisserie/eris"
)

// CircuitState represents the state of a circuit breaker.
type CircuitState int

const (
	// CircuitClosed is the normal operating state — requests flow through.
	CircuitClosed CircuitState = iota
	// CircuitOpen means too many failures — requests are rejected immediately.
	CircuitOpen
	// CircuitHalfOpen allows probe requests to test recovery.
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned when a call is rejected because the circuit is open.
var ErrCircuitOpen = eris.New("circuit breaker is open")

// CircuitBreakerConfig controls circuit breaker behavior.
type CircuitBreakerConfig struct {
	// FailureThreshold is the number of consecutive failures before opening
	// the circuit. Default: 5.
	FailureThreshold int

	// RecoveryTimeout is how long the circuit stays open before transitioning
	// to half-open. Default: 30s.
	RecoveryTimeout time.Duration

	// SuccessThreshold is the number of consecutive successes required in
	// half-open state before closing the circuit. Default: 1.
	SuccessThreshold int

	// ShouldTrip optionally overrides the default check. If nil, every
	// non-nil error counts toward the failure threshold.
	ShouldTrip func(err error) bool

	// OnStateChange is called when the circuit transitions between states.
	OnStateChange func(from, to CircuitState)
}

// DefaultCircuitBreakerConfig returns sensible defaults.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: 5,
		RecoveryTimeout:  30 * time.Second,
		SuccessThreshold: 1,
	}
}

// CircuitBreaker implements the circuit breaker pattern for a single backend.
// A cancelled attempt (caller context cancellation) is recorded as neither
// success nor failure; a per-call timeout counts as a failure.
type CircuitBreaker struct {
	cfg   CircuitBreakerConfig
	mu    sync.Mutex
	state CircuitState

	consecutiveFailures int
	successCount        int
	lastFailureTime     time.Time

	// nowFunc allows test injection of time.
	nowFunc func() time.Time
}

// NewCircuitBreaker creates a circuit breaker with the given config.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = 30 * time.Second
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = 1
	}
	return &CircuitBreaker{
		cfg:     cfg,
		state:   CircuitClosed,
		nowFunc: time.Now,
	}
}

// Guard runs fn through the circuit breaker. Returns ErrCircuitOpen without
// invoking fn while the circuit is open and the recovery timeout has not
// elapsed. Every completed invocation updates the failure/success counters.
func (cb *CircuitBreaker) Guard(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := cb.allowRequest(); err != nil {
		return err
	}

	err := fn(ctx)
	cb.recordResult(ctx, err)
	return err
}

// GuardVal is like Guard but preserves a return value.
func GuardVal[T any](ctx context.Context, cb *CircuitBreaker, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if err := cb.allowRequest(); err != nil {
		return zero, err
	}

	val, err := fn(ctx)
	cb.recordResult(ctx, err)
	return val, err
}

// State returns the current circuit state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	// An open circuit past its recovery timeout is observably half-open.
	if cb.state == CircuitOpen && cb.nowFunc().Sub(cb.lastFailureTime) >= cb.cfg.RecoveryTimeout {
		return CircuitHalfOpen
	}
	return cb.state
}

// Reset forces the circuit back to closed state. Useful for testing or
// manual recovery.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	old := cb.state
	cb.state = CircuitClosed
	cb.consecutiveFailures = 0
	cb.successCount = 0
	if old != CircuitClosed && cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(old, CircuitClosed)
	}
}

// Counters returns the current failure count and state for observability.
func (cb *CircuitBreaker) Counters() (consecutiveFailures int, state CircuitState) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.consecutiveFailures, cb.state
}

// LastFailure returns the timestamp of the most recent failure.
func (cb *CircuitBreaker) LastFailure() time.Time {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.lastFailureTime
}

func (cb *CircuitBreaker) allowRequest() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		return nil
	case CircuitOpen:
		if cb.nowFunc().Sub(cb.lastFailureTime) >= cb.cfg.RecoveryTimeout {
			cb.transition(CircuitHalfOpen)
			return nil // allow probe request
		}
		return ErrCircuitOpen
	case CircuitHalfOpen:
		return nil // allow probe request
	default:
		return nil
	}
}

func (cb *CircuitBreaker) recordResult(ctx context.Context, err error) {
	// A cancelled attempt must not shift breaker accounting in either
	// direction. Deadline expiry of the individual call still counts as a
	// failure below.
	if errors.Is(ctx.Err(), context.Canceled) {
		return
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	shouldTrip := cb.cfg.ShouldTrip
	if shouldTrip == nil {
		shouldTrip = func(e error) bool { return e != nil }
	}

	if err == nil || !shouldTrip(err) {
		switch cb.state {
		case CircuitHalfOpen:
			cb.successCount++
			if cb.successCount >= cb.cfg.SuccessThreshold {
				cb.transition(CircuitClosed)
				cb.consecutiveFailures = 0
				cb.successCount = 0
			}
		case CircuitClosed:
			cb.consecutiveFailures = 0
		}
		return
	}

	cb.consecutiveFailures++
	cb.lastFailureTime = cb.nowFunc()

	switch cb.state {
	case CircuitClosed:
		if cb.consecutiveFailures >= cb.cfg.FailureThreshold {
			cb.transition(CircuitOpen)
		}
	case CircuitHalfOpen:
		// Any failure in half-open reopens the circuit.
		cb.transition(CircuitOpen)
		cb.successCount = 0
	}
}

func (cb *CircuitBreaker) transition(to CircuitState) {
	from := cb.state
	cb.state = to
	if cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(from, to)
	}
}

// BackendBreakers manages circuit breakers for multiple backends. Breakers
// are created lazily and never retired while their backend stays registered.
type BackendBreakers struct {
	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker
	cfg      CircuitBreakerConfig
}

// NewBackendBreakers creates a registry of per-backend circuit breakers.
func NewBackendBreakers(cfg CircuitBreakerConfig) *BackendBreakers {
	return &BackendBreakers{
		breakers: make(map[string]*CircuitBreaker),
		cfg:      cfg,
	}
}

// Get returns the circuit breaker for the named backend, creating one if needed.
func (bb *BackendBreakers) Get(backend string) *CircuitBreaker {
	bb.mu.RLock()
	cb, ok := bb.breakers[backend]
	bb.mu.RUnlock()
	if ok {
		return cb
	}

	bb.mu.Lock()
	defer bb.mu.Unlock()
	// Double-check after acquiring write lock.
	if cb, ok = bb.breakers[backend]; ok {
		return cb
	}
	cb = NewCircuitBreaker(bb.cfg)
	bb.breakers[backend] = cb
	return cb
}

// States returns a snapshot of all circuit breaker states.
func (bb *BackendBreakers) States() map[string]CircuitState {
	bb.mu.RLock()
	defer bb.mu.RUnlock()
	states := make(map[string]CircuitState, len(bb.breakers))
	for name, cb := range bb.breakers {
		states[name] = cb.State()
	}
	return states
}
