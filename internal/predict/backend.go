// Package predict drives the ordered fallback chain of prediction backends.
package predict

import (
	"context"
	"time"

	"github.com/Ghostmonday/formmonkeyplatform/internal/model"
)

// Backend is a pluggable field-prediction capability. Implementations may be
// rule-based, a local model, or a remote API; the chain has no knowledge of
// their internals.
type Backend interface {
	// Name identifies the backend in traces, breaker state, and provenance.
	Name() string

	// Predict extracts field values from the request's document text.
	Predict(ctx context.Context, req model.PredictionRequest) ([]model.PredictedField, error)
}

// Registration binds a backend into the chain with its routing metadata.
// Backends are tried in descending Priority order. Free backends bypass the
// governor; the lowest-priority registration must be free and infallible.
type Registration struct {
	Backend      Backend
	Priority     int
	CostEstimate float64 // estimated USD per call, used for admission
	Free         bool
	Timeout      time.Duration // per-call timeout; 0 = no per-call deadline
}
