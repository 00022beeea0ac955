package model

import "time"

// AuditAction identifies what kind of event an audit entry records.
type AuditAction string

const (
	AuditPrediction     AuditAction = "prediction"
	AuditCorrection     AuditAction = "correction"
	AuditConflict       AuditAction = "conflict"
	AuditRollback       AuditAction = "rollback"
	AuditValidationFail AuditAction = "validation_failure"
)

// AuditEvent is one immutable entry in the audit trail. Detail carries
// action-specific JSON (attempt traces, conflict sets, issue lists).
type AuditEvent struct {
	ID        string      `json:"id"`
	FieldID   string      `json:"field_id,omitempty"`
	Action    AuditAction `json:"action"`
	ActorID   string      `json:"actor_id,omitempty"`
	Detail    []byte      `json:"detail,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
}

// FieldStat is an aggregated view of correction activity for one field,
// maintained by the deferred-learning analyzer.
type FieldStat struct {
	FieldName       string    `json:"field_name"`
	Corrections     int64     `json:"corrections"`
	AvgConfDelta    float64   `json:"avg_confidence_delta"`
	TopReason       string    `json:"top_reason"`
	LastCorrectedAt time.Time `json:"last_corrected_at"`
}
