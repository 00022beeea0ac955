package model

import "time"

// Producer identifies what produced a field version.
type Producer string

const (
	ProducedByPrediction Producer = "prediction"
	ProducedByCorrection Producer = "correction"
	ProducedByRollback   Producer = "rollback"
)

// FieldVersion is one immutable entry in a field's append-only history.
// VersionID increases monotonically per field starting at 1. PreviousVersionID
// is nil only for a field's first version.
type FieldVersion struct {
	FieldID           string    `json:"field_id"`
	VersionID         int64     `json:"version_id"`
	Value             string    `json:"value"`
	Confidence        float64   `json:"confidence"`
	ProducedBy        Producer  `json:"produced_by"`
	Timestamp         time.Time `json:"timestamp"`
	PreviousVersionID *int64    `json:"previous_version_id,omitempty"`
}
