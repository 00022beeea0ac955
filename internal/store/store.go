package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/Ghostmonday/formmonkeyplatform/internal/model"
)

// ErrVersionNotFound is returned when a rollback or lookup names a
// version that was never written.
var ErrVersionNotFound = eris.New("store: version not found")

// ErrUnknownField is returned when a rollback targets a field that has
// no version history at all.
var ErrUnknownField = eris.New("store: field has no history")

// reverseVersions flips a newest-first scan into chronological order.
func reverseVersions(vs []model.FieldVersion) {
	for i, j := 0, len(vs)-1; i < j; i, j = i+1, j-1 {
		vs[i], vs[j] = vs[j], vs[i]
	}
}

// CorrectionFilter specifies criteria for listing corrections.
type CorrectionFilter struct {
	FieldID string                 `json:"field_id,omitempty"`
	Status  model.CorrectionStatus `json:"status,omitempty"`
	Limit   int                    `json:"limit,omitempty"`
	Offset  int                    `json:"offset,omitempty"`
}

// Store defines the persistence interface for field versions, corrections,
// and the audit trail. Field versions are append-only: nothing in this
// interface mutates or deletes a version row once written.
type Store interface {
	// Field versions. AppendVersion assigns the next per-field version
	// number and returns the stored version. AppendVersions does the same
	// for a batch in one transaction.
	AppendVersion(ctx context.Context, v model.FieldVersion) (*model.FieldVersion, error)
	AppendVersions(ctx context.Context, vs []model.FieldVersion) ([]model.FieldVersion, error)
	LatestVersion(ctx context.Context, fieldID string) (*model.FieldVersion, error)
	GetVersion(ctx context.Context, fieldID string, versionID int64) (*model.FieldVersion, error)
	// History returns a field's versions in chronological order. Limit
	// bounds the result to the newest entries.
	History(ctx context.Context, fieldID string, limit int) ([]model.FieldVersion, error)

	// Rollback appends a new version carrying the target version's value.
	// The target remains in history untouched. A toVersionID of zero
	// targets the version immediately preceding the current latest.
	Rollback(ctx context.Context, fieldID string, toVersionID int64) (*model.FieldVersion, error)

	// Corrections
	SaveCorrection(ctx context.Context, c model.Correction, status model.CorrectionStatus, tier model.Tier) error
	UpdateCorrectionStatus(ctx context.Context, correctionID string, status model.CorrectionStatus) error
	ListCorrections(ctx context.Context, filter CorrectionFilter) ([]model.StoredCorrection, error)

	// Audit trail
	AppendAudit(ctx context.Context, e model.AuditEvent) error

	// Learning aggregates
	UpsertFieldStats(ctx context.Context, stats []model.FieldStat) error
	ListFieldStats(ctx context.Context) ([]model.FieldStat, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
