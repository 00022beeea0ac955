package model

import "time"

// ReasonCode explains why a human corrected a predicted value.
type ReasonCode string

const (
	ReasonWrongValue    ReasonCode = "wrong-value"
	ReasonFormatting    ReasonCode = "formatting"
	ReasonIncomplete    ReasonCode = "incomplete"
	ReasonCriticalError ReasonCode = "critical-error"
	ReasonOther         ReasonCode = "other"
)

// Tier is the urgency class assigned to a correction.
type Tier string

const (
	TierImmediate Tier = "immediate"
	TierBatched   Tier = "batched"
	TierDeferred  Tier = "deferred"
)

// Correction is a human revision of a predicted field value. Never mutated
// after creation — a superseding correction is a new entity.
type Correction struct {
	ID                 string         `json:"id"`
	FieldID            string         `json:"field_id"`
	OriginalPrediction PredictedField `json:"original_prediction"` // immutable snapshot
	CorrectedValue     string         `json:"corrected_value"`
	ReasonCode         ReasonCode     `json:"reason_code"`
	Timestamp          time.Time      `json:"timestamp"`
	ActorID            string         `json:"actor_id"`
}

// Severity grades a validation issue.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityWarning  Severity = "warning"
)

// Issue is a single validation finding for a correction.
type Issue struct {
	Severity Severity `json:"severity"`
	Code     string   `json:"code"`
	Message  string   `json:"message"`
}

// CorrectionStatus records the durable disposition of a correction.
type CorrectionStatus string

const (
	CorrectionCommitted  CorrectionStatus = "committed"
	CorrectionPending    CorrectionStatus = "pending"  // batched, awaiting flush
	CorrectionSuperseded CorrectionStatus = "superseded"
	CorrectionRejected   CorrectionStatus = "rejected"
	CorrectionUnresolved CorrectionStatus = "unresolved" // manual conflict policy
)

// CorrectionResult is the per-correction outcome returned to the caller.
type CorrectionResult struct {
	CorrectionID string           `json:"correction_id"`
	Accepted     bool             `json:"accepted"`
	Status       CorrectionStatus `json:"status"`
	Issues       []Issue          `json:"issues,omitempty"`
	Tier         Tier             `json:"tier,omitempty"`
	VersionID    *int64           `json:"version_id,omitempty"`
	// Conflicts holds the full conflict set when the manual resolution
	// policy declines to pick a winner.
	Conflicts []Correction `json:"conflicts,omitempty"`
}

// StoredCorrection is a correction as persisted, carrying its routing
// tier and current disposition alongside the immutable correction itself.
type StoredCorrection struct {
	Correction
	Status CorrectionStatus `json:"status"`
	Tier   Tier             `json:"tier"`
}

// HasCritical reports whether any issue is critical.
func HasCritical(issues []Issue) bool {
	for _, is := range issues {
		if is.Severity == SeverityCritical {
			return true
		}
	}
	return false
}

// ConflictSet groups ≥2 corrections observed for the same field within the
// resolution window. Transient: consumed by the resolver and discarded.
type ConflictSet struct {
	FieldID     string       `json:"field_id"`
	Corrections []Correction `json:"corrections"`
}
