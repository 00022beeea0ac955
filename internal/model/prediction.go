package model

import "time"

// PredictionRequest carries document text and the fields to predict.
// Immutable once submitted.
type PredictionRequest struct {
	DocumentID   string   `json:"document_id"`
	Text         string   `json:"text"`
	DocumentType string   `json:"document_type,omitempty"` // optional hint, e.g. "lease", "nda"
	Fields       []string `json:"fields,omitempty"`        // empty = all catalog fields
}

// Alternative is a lower-ranked candidate value for a predicted field.
type Alternative struct {
	Value      string  `json:"value"`
	Confidence float64 `json:"confidence"`
}

// PredictedField is a single field prediction from a backend.
type PredictedField struct {
	Name          string        `json:"name"`
	Type          FieldType     `json:"type"`
	Value         string        `json:"value"`
	Confidence    float64       `json:"confidence"` // ∈ [0,1]
	SourceBackend string        `json:"source_backend"`
	Alternatives  []Alternative `json:"alternatives,omitempty"`
}

// AttemptStatus describes how a single backend attempt ended.
type AttemptStatus string

const (
	AttemptSucceeded     AttemptStatus = "succeeded"
	AttemptFailed        AttemptStatus = "failed"
	AttemptCircuitOpen   AttemptStatus = "circuit_open"
	AttemptDenied        AttemptStatus = "admission_denied"
	AttemptImplausible   AttemptStatus = "implausible"
	AttemptCancelled     AttemptStatus = "cancelled"
	AttemptLastResort    AttemptStatus = "last_resort"
)

// Attempt records one entry in a prediction's attempt trace.
type Attempt struct {
	Backend  string        `json:"backend"`
	Status   AttemptStatus `json:"status"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration_ns,omitempty"`
}

// PredictionOutcome is the terminal result of running the fallback chain.
// Owned exclusively by the caller once returned.
type PredictionOutcome struct {
	DocumentID   string           `json:"document_id"`
	Fields       []PredictedField `json:"fields"`
	AttemptTrace []Attempt        `json:"attempt_trace"`
	CompletedAt  time.Time        `json:"completed_at"`
}

// FieldByName returns the predicted field with the given name, or nil.
func (o *PredictionOutcome) FieldByName(name string) *PredictedField {
	for i := range o.Fields {
		if o.Fields[i].Name == name {
			return &o.Fields[i]
		}
	}
	return nil
}
