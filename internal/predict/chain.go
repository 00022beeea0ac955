package predict

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/Ghostmonday/formmonkeyplatform/internal/model"
	"github.com/Ghostmonday/formmonkeyplatform/internal/resilience"
)

// implausibleError marks a backend response that completed but failed the
// plausibility check. It counts as a failure for breaker and retry
// accounting, while still carrying the fields for the last-resort path.
type implausibleError struct {
	reason string
}

func (e *implausibleError) Error() string {
	return "implausible prediction: " + e.reason
}

// ChainConfig tunes the orchestrator.
type ChainConfig struct {
	// Retry bounds the per-backend attempt loop.
	Retry resilience.RetryConfig

	// ConfidenceFloor is the minimum confidence at least one predicted field
	// must reach for an outcome to be plausible. Default: 0.2.
	ConfidenceFloor float64
}

// Chain iterates registered backends in descending priority order, routing
// every call through the governor and that backend's circuit breaker.
// Predict never fails for business reasons: the lowest-priority backend is
// required to be free and infallible, runs without a breaker, and its
// result is returned as a last resort even when implausible.
type Chain struct {
	entries  []Registration // sorted by descending priority
	governor *resilience.Governor
	breakers *resilience.BackendBreakers
	cfg      ChainConfig
}

// NewChain creates the orchestrator over the given backend registrations.
func NewChain(regs []Registration, gov *resilience.Governor, breakers *resilience.BackendBreakers, cfg ChainConfig) *Chain {
	if cfg.ConfidenceFloor <= 0 {
		cfg.ConfidenceFloor = 0.2
	}
	entries := make([]Registration, len(regs))
	copy(entries, regs)
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Priority > entries[j].Priority
	})
	return &Chain{
		entries:  entries,
		governor: gov,
		breakers: breakers,
		cfg:      cfg,
	}
}

// Backends returns the registered backend names in fallback order.
func (c *Chain) Backends() []string {
	names := make([]string, len(c.entries))
	for i, e := range c.entries {
		names[i] = e.Backend.Name()
	}
	return names
}

// Predict runs the fallback chain for one request. The returned outcome is
// owned exclusively by the caller. The only error returned is caller
// cancellation; every backend-level failure is recovered internally.
func (c *Chain) Predict(ctx context.Context, req model.PredictionRequest) (*model.PredictionOutcome, error) {
	outcome := &model.PredictionOutcome{DocumentID: req.DocumentID}
	var lastResort []model.PredictedField

	for i, entry := range c.entries {
		if err := ctx.Err(); err != nil {
			return nil, eris.Wrap(err, "predict: request cancelled")
		}

		name := entry.Backend.Name()

		if !entry.Free {
			if _, err := c.governor.Admit(entry.CostEstimate); err != nil {
				// Not a failure — skip the paid backend and fall through.
				outcome.AttemptTrace = append(outcome.AttemptTrace, model.Attempt{
					Backend: name,
					Status:  model.AttemptDenied,
					Error:   err.Error(),
				})
				zap.L().Debug("governor denied backend, falling through",
					zap.String("backend", name),
				)
				continue
			}
		}

		isFallback := i == len(c.entries)-1
		fields, trace, done := c.tryBackend(ctx, entry, req, isFallback)
		outcome.AttemptTrace = append(outcome.AttemptTrace, trace...)

		if done {
			stampSource(fields, name)
			outcome.Fields = fields
			outcome.CompletedAt = time.Now().UTC()
			return outcome, nil
		}
		if err := ctx.Err(); err != nil {
			return nil, eris.Wrap(err, "predict: request cancelled")
		}
		if isFallback && fields != nil {
			lastResort = fields
		}
	}

	// Everything exhausted: the fallback backend's result stands even when
	// implausible, since it is required to be infallible.
	if lastResort != nil {
		stampSource(lastResort, c.entries[len(c.entries)-1].Backend.Name())
		outcome.Fields = lastResort
		outcome.AttemptTrace = append(outcome.AttemptTrace, model.Attempt{
			Backend: c.entries[len(c.entries)-1].Backend.Name(),
			Status:  model.AttemptLastResort,
		})
	}
	outcome.CompletedAt = time.Now().UTC()
	return outcome, nil
}

// tryBackend runs the bounded retry loop for one backend. It returns the
// predicted fields (which may be non-nil even on failure, for the
// last-resort path), the attempts taken, and whether a plausible result was
// produced. The terminal fallback runs without breaker gating: a run of
// unextractable documents must not lock every later caller out of the one
// backend that always answers.
func (c *Chain) tryBackend(ctx context.Context, entry Registration, req model.PredictionRequest, terminal bool) ([]model.PredictedField, []model.Attempt, bool) {
	name := entry.Backend.Name()
	maxAttempts := c.cfg.Retry.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}

	call := func(ctx context.Context) ([]model.PredictedField, error) {
		callCtx := ctx
		if entry.Timeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, entry.Timeout)
			defer cancel()
		}
		fields, err := entry.Backend.Predict(callCtx, req)
		if err != nil {
			return nil, err
		}
		if reason, ok := c.implausible(fields); ok {
			return fields, &implausibleError{reason: reason}
		}
		return fields, nil
	}

	var lastFields []model.PredictedField
	var attempts []model.Attempt

	for attempt := 0; attempt < maxAttempts; attempt++ {
		start := time.Now()
		var fields []model.PredictedField
		var err error
		if terminal {
			fields, err = call(ctx)
		} else {
			fields, err = resilience.GuardVal(ctx, c.breakers.Get(name), call)
		}
		elapsed := time.Since(start)

		if err == nil {
			attempts = append(attempts, model.Attempt{
				Backend:  name,
				Status:   model.AttemptSucceeded,
				Duration: elapsed,
			})
			return fields, attempts, true
		}

		if fields != nil {
			lastFields = fields
		}

		// A tripped breaker skips to the next backend without consuming
		// retry budget.
		if errors.Is(err, resilience.ErrCircuitOpen) {
			attempts = append(attempts, model.Attempt{
				Backend: name,
				Status:  model.AttemptCircuitOpen,
				Error:   err.Error(),
			})
			return lastFields, attempts, false
		}

		if errors.Is(ctx.Err(), context.Canceled) {
			attempts = append(attempts, model.Attempt{
				Backend:  name,
				Status:   model.AttemptCancelled,
				Duration: elapsed,
			})
			return lastFields, attempts, false
		}

		status := model.AttemptFailed
		var imp *implausibleError
		if errors.As(err, &imp) {
			status = model.AttemptImplausible
		}
		attempts = append(attempts, model.Attempt{
			Backend:  name,
			Status:   status,
			Error:    err.Error(),
			Duration: elapsed,
		})

		zap.L().Warn("backend attempt failed",
			zap.String("backend", name),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)

		if attempt >= maxAttempts-1 {
			break
		}

		delay := resilience.Backoff(attempt, c.cfg.Retry)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return lastFields, attempts, false
		case <-timer.C:
		}
	}

	return lastFields, attempts, false
}

// implausible rejects outcomes with zero predicted fields or with no field
// above the confidence floor.
func (c *Chain) implausible(fields []model.PredictedField) (string, bool) {
	if len(fields) == 0 {
		return "no fields predicted", true
	}
	for _, f := range fields {
		if f.Confidence >= c.cfg.ConfidenceFloor {
			return "", false
		}
	}
	return fmt.Sprintf("no field above confidence floor %.2f", c.cfg.ConfidenceFloor), true
}

func stampSource(fields []model.PredictedField, backend string) {
	for i := range fields {
		if fields[i].SourceBackend == "" {
			fields[i].SourceBackend = backend
		}
	}
}
