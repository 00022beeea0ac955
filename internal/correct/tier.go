package correct

import "github.com/Ghostmonday/formmonkeyplatform/internal/model"

// Tier confidence ceilings. A correction of a low-confidence prediction
// is urgent — the model was unsure and a human just confirmed it was
// wrong. High-confidence misses are the interesting ones for learning
// but not for latency.
const (
	immediateCeiling = 0.5
	batchedCeiling   = 0.8
)

// RouteTier classifies a correction by the confidence of the prediction
// it overrides. A critical-error reason code forces the immediate tier
// regardless of confidence.
func RouteTier(c model.Correction) model.Tier {
	if c.ReasonCode == model.ReasonCriticalError {
		return model.TierImmediate
	}
	conf := c.OriginalPrediction.Confidence
	switch {
	case conf < immediateCeiling:
		return model.TierImmediate
	case conf < batchedCeiling:
		return model.TierBatched
	default:
		return model.TierDeferred
	}
}
