package resilience

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestCircuitBreaker_ClosedState_PassesThrough(t *testing.T) {
	cb := NewCircuitBreaker(DefaultCircuitBreakerConfig())

	var calls int
	err := cb.Guard(context.Background(), func(_ context.Context) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
	if cb.State() != CircuitClosed {
		t.Errorf("expected closed state, got %s", cb.State())
	}
}

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	cfg := CircuitBreakerConfig{
		FailureThreshold: 3,
		RecoveryTimeout:  1 * time.Minute,
	}
	cb := NewCircuitBreaker(cfg)

	// Fail 3 times to trip the breaker.
	for i := 0; i < 3; i++ {
		_ = cb.Guard(context.Background(), func(_ context.Context) error {
			return errors.New("fail")
		})
	}

	if cb.State() != CircuitOpen {
		t.Errorf("expected open state after %d failures, got %s", cfg.FailureThreshold, cb.State())
	}

	// Next call should be rejected immediately without invoking fn.
	err := cb.Guard(context.Background(), func(_ context.Context) error {
		t.Error("should not be called when circuit is open")
		return nil
	})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("expected ErrCircuitOpen, got %v", err)
	}
}

func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	cfg := CircuitBreakerConfig{
		FailureThreshold: 3,
		RecoveryTimeout:  1 * time.Minute,
	}
	cb := NewCircuitBreaker(cfg)

	for i := 0; i < 2; i++ {
		_ = cb.Guard(context.Background(), func(_ context.Context) error {
			return errors.New("fail")
		})
	}

	failures, state := cb.Counters()
	if failures != 2 {
		t.Errorf("expected 2 consecutive failures, got %d", failures)
	}
	if state != CircuitClosed {
		t.Errorf("expected closed state, got %s", state)
	}

	_ = cb.Guard(context.Background(), func(_ context.Context) error { return nil })

	failures, _ = cb.Counters()
	if failures != 0 {
		t.Errorf("expected failure count reset to 0, got %d", failures)
	}
}

func TestCircuitBreaker_HalfOpenAfterRecoveryTimeout(t *testing.T) {
	cfg := CircuitBreakerConfig{
		FailureThreshold: 1,
		RecoveryTimeout:  30 * time.Second,
	}
	cb := NewCircuitBreaker(cfg)

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	cb.nowFunc = func() time.Time { return now }

	_ = cb.Guard(context.Background(), func(_ context.Context) error {
		return errors.New("fail")
	})
	if cb.State() != CircuitOpen {
		t.Fatalf("expected open, got %s", cb.State())
	}

	// Advance past the recovery timeout.
	now = now.Add(31 * time.Second)
	if cb.State() != CircuitHalfOpen {
		t.Fatalf("expected half-open after recovery timeout, got %s", cb.State())
	}

	// Probe is allowed through.
	var calls int
	err := cb.Guard(context.Background(), func(_ context.Context) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected probe error: %v", err)
	}
	if calls != 1 {
		t.Errorf("expected probe to be invoked once, got %d", calls)
	}
	if cb.State() != CircuitClosed {
		t.Errorf("expected closed after successful probe, got %s", cb.State())
	}
}

func TestCircuitBreaker_SuccessThresholdInHalfOpen(t *testing.T) {
	cfg := CircuitBreakerConfig{
		FailureThreshold: 1,
		RecoveryTimeout:  10 * time.Second,
		SuccessThreshold: 2,
	}
	cb := NewCircuitBreaker(cfg)

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	cb.nowFunc = func() time.Time { return now }

	_ = cb.Guard(context.Background(), func(_ context.Context) error {
		return errors.New("fail")
	})
	now = now.Add(11 * time.Second)

	// First probe succeeds but one success is not enough.
	_ = cb.Guard(context.Background(), func(_ context.Context) error { return nil })
	if cb.State() != CircuitHalfOpen {
		t.Fatalf("expected half-open after 1/2 successes, got %s", cb.State())
	}

	// Second success closes.
	_ = cb.Guard(context.Background(), func(_ context.Context) error { return nil })
	if cb.State() != CircuitClosed {
		t.Fatalf("expected closed after 2/2 successes, got %s", cb.State())
	}
}

func TestCircuitBreaker_FailureInHalfOpenReopens(t *testing.T) {
	cfg := CircuitBreakerConfig{
		FailureThreshold: 1,
		RecoveryTimeout:  10 * time.Second,
		SuccessThreshold: 3,
	}
	cb := NewCircuitBreaker(cfg)

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	cb.nowFunc = func() time.Time { return now }

	_ = cb.Guard(context.Background(), func(_ context.Context) error {
		return errors.New("fail")
	})
	now = now.Add(11 * time.Second)

	_ = cb.Guard(context.Background(), func(_ context.Context) error { return nil })
	_ = cb.Guard(context.Background(), func(_ context.Context) error {
		return errors.New("probe fail")
	})

	_, state := cb.Counters()
	if state != CircuitOpen {
		t.Fatalf("expected reopened circuit after half-open failure, got %s", state)
	}
}

func TestCircuitBreaker_CancelledAttemptNotRecorded(t *testing.T) {
	cfg := CircuitBreakerConfig{
		FailureThreshold: 2,
		RecoveryTimeout:  1 * time.Minute,
	}
	cb := NewCircuitBreaker(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	_ = cb.Guard(ctx, func(ctx context.Context) error {
		cancel()
		return ctx.Err()
	})

	failures, state := cb.Counters()
	if failures != 0 {
		t.Errorf("cancelled attempt must not count as failure, got %d", failures)
	}
	if state != CircuitClosed {
		t.Errorf("expected closed state, got %s", state)
	}
}

func TestCircuitBreaker_ShouldTripFilter(t *testing.T) {
	sentinel := errors.New("business rejection")
	cfg := CircuitBreakerConfig{
		FailureThreshold: 1,
		RecoveryTimeout:  1 * time.Minute,
		ShouldTrip: func(err error) bool {
			return !errors.Is(err, sentinel)
		},
	}
	cb := NewCircuitBreaker(cfg)

	_ = cb.Guard(context.Background(), func(_ context.Context) error {
		return sentinel
	})
	if cb.State() != CircuitClosed {
		t.Errorf("filtered error must not trip breaker, got %s", cb.State())
	}
}

func TestCircuitBreaker_OnStateChange(t *testing.T) {
	var transitions []string
	cfg := CircuitBreakerConfig{
		FailureThreshold: 1,
		RecoveryTimeout:  1 * time.Minute,
		OnStateChange: func(from, to CircuitState) {
			transitions = append(transitions, from.String()+"->"+to.String())
		},
	}
	cb := NewCircuitBreaker(cfg)

	_ = cb.Guard(context.Background(), func(_ context.Context) error {
		return errors.New("fail")
	})

	if len(transitions) != 1 || transitions[0] != "closed->open" {
		t.Errorf("expected [closed->open], got %v", transitions)
	}
}

func TestCircuitBreaker_ConcurrentGuards(t *testing.T) {
	cfg := CircuitBreakerConfig{
		FailureThreshold: 100,
		RecoveryTimeout:  1 * time.Minute,
	}
	cb := NewCircuitBreaker(cfg)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = cb.Guard(context.Background(), func(_ context.Context) error {
				if i%2 == 0 {
					return errors.New("fail")
				}
				return nil
			})
		}(i)
	}
	wg.Wait()

	// No assertion on exact count (interleaving dependent); the race detector
	// verifies counter integrity.
	if cb.State() == CircuitOpen {
		t.Errorf("breaker should not open below threshold")
	}
}

func TestGuardVal_PreservesValue(t *testing.T) {
	cb := NewCircuitBreaker(DefaultCircuitBreakerConfig())

	val, err := GuardVal(context.Background(), cb, func(_ context.Context) (string, error) {
		return "result", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if val != "result" {
		t.Errorf("expected result, got %q", val)
	}
}

func TestBackendBreakers_PerBackendIsolation(t *testing.T) {
	bb := NewBackendBreakers(CircuitBreakerConfig{
		FailureThreshold: 1,
		RecoveryTimeout:  1 * time.Minute,
	})

	_ = bb.Get("claude").Guard(context.Background(), func(_ context.Context) error {
		return errors.New("fail")
	})

	states := bb.States()
	if states["claude"] != CircuitOpen {
		t.Errorf("expected claude breaker open, got %s", states["claude"])
	}

	if bb.Get("rules").State() != CircuitClosed {
		t.Errorf("rules breaker must be unaffected by claude failures")
	}
}

func TestBackendBreakers_GetReturnsSameInstance(t *testing.T) {
	bb := NewBackendBreakers(DefaultCircuitBreakerConfig())
	if bb.Get("a") != bb.Get("a") {
		t.Error("expected stable breaker instance per backend")
	}
}
