package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ghostmonday/formmonkeyplatform/internal/model"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func TestSQLite_AppendVersionAssignsMonotonicIDs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	v1, err := s.AppendVersion(ctx, model.FieldVersion{
		FieldID:    "effective_date",
		Value:      "2026-01-05",
		Confidence: 0.9,
		ProducedBy: model.ProducedByPrediction,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), v1.VersionID)
	assert.Nil(t, v1.PreviousVersionID)

	v2, err := s.AppendVersion(ctx, model.FieldVersion{
		FieldID:    "effective_date",
		Value:      "2026-01-06",
		Confidence: 1.0,
		ProducedBy: model.ProducedByCorrection,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), v2.VersionID)
	require.NotNil(t, v2.PreviousVersionID)
	assert.Equal(t, int64(1), *v2.PreviousVersionID)

	// A different field has its own numbering.
	other, err := s.AppendVersion(ctx, model.FieldVersion{
		FieldID:    "party_a",
		Value:      "ACME",
		ProducedBy: model.ProducedByPrediction,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), other.VersionID)
}

func TestSQLite_LatestVersion(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	got, err := s.LatestVersion(ctx, "effective_date")
	require.NoError(t, err)
	assert.Nil(t, got)

	for _, val := range []string{"a", "b", "c"} {
		_, err := s.AppendVersion(ctx, model.FieldVersion{
			FieldID: "effective_date", Value: val, ProducedBy: model.ProducedByPrediction,
		})
		require.NoError(t, err)
	}

	got, err = s.LatestVersion(ctx, "effective_date")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, int64(3), got.VersionID)
	assert.Equal(t, "c", got.Value)
}

func TestSQLite_History(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, val := range []string{"a", "b", "c"} {
		_, err := s.AppendVersion(ctx, model.FieldVersion{
			FieldID: "effective_date", Value: val, ProducedBy: model.ProducedByPrediction,
		})
		require.NoError(t, err)
	}

	history, err := s.History(ctx, "effective_date", 0)
	require.NoError(t, err)
	require.Len(t, history, 3)
	// Chronological order.
	assert.Equal(t, int64(1), history[0].VersionID)
	assert.Equal(t, int64(3), history[2].VersionID)

	// Limit keeps the newest N, still returned oldest first.
	limited, err := s.History(ctx, "effective_date", 2)
	require.NoError(t, err)
	require.Len(t, limited, 2)
	assert.Equal(t, int64(2), limited[0].VersionID)
	assert.Equal(t, int64(3), limited[1].VersionID)
}

func TestSQLite_GetVersionNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetVersion(context.Background(), "effective_date", 7)
	assert.True(t, eris.Is(err, ErrVersionNotFound))
}

func TestSQLite_Rollback(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, val := range []string{"original", "corrected"} {
		_, err := s.AppendVersion(ctx, model.FieldVersion{
			FieldID: "effective_date", Value: val, Confidence: 0.8,
			ProducedBy: model.ProducedByPrediction,
		})
		require.NoError(t, err)
	}

	rolled, err := s.Rollback(ctx, "effective_date", 1)
	require.NoError(t, err)
	assert.Equal(t, int64(3), rolled.VersionID)
	assert.Equal(t, "original", rolled.Value)
	assert.Equal(t, model.ProducedByRollback, rolled.ProducedBy)
	require.NotNil(t, rolled.PreviousVersionID)
	assert.Equal(t, int64(2), *rolled.PreviousVersionID)

	// History keeps every version; nothing was deleted.
	history, err := s.History(ctx, "effective_date", 0)
	require.NoError(t, err)
	assert.Len(t, history, 3)

	_, err = s.Rollback(ctx, "effective_date", 42)
	assert.True(t, eris.Is(err, ErrVersionNotFound))
}

func TestSQLite_RollbackDefaultsToPreviousVersion(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, val := range []string{"first", "second", "third"} {
		_, err := s.AppendVersion(ctx, model.FieldVersion{
			FieldID: "party_a", Value: val, Confidence: 0.8,
			ProducedBy: model.ProducedByPrediction,
		})
		require.NoError(t, err)
	}

	// No explicit target: restore the version just before the latest.
	rolled, err := s.Rollback(ctx, "party_a", 0)
	require.NoError(t, err)
	assert.Equal(t, int64(4), rolled.VersionID)
	assert.Equal(t, "second", rolled.Value)
}

func TestSQLite_RollbackUnknownField(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Rollback(context.Background(), "never_written", 0)
	assert.True(t, eris.Is(err, ErrUnknownField))
}

func TestSQLite_RollbackSingleVersionNoPredecessor(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.AppendVersion(ctx, model.FieldVersion{
		FieldID: "party_a", Value: "only", Confidence: 0.8,
		ProducedBy: model.ProducedByPrediction,
	})
	require.NoError(t, err)

	_, err = s.Rollback(ctx, "party_a", 0)
	assert.True(t, eris.Is(err, ErrVersionNotFound))
}

func TestSQLite_AppendVersionsBatch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.AppendVersion(ctx, model.FieldVersion{
		FieldID: "party_a", Value: "ACME", ProducedBy: model.ProducedByPrediction,
	})
	require.NoError(t, err)

	out, err := s.AppendVersions(ctx, []model.FieldVersion{
		{FieldID: "party_a", Value: "ACME Corp", ProducedBy: model.ProducedByCorrection},
		{FieldID: "party_b", Value: "Beta LLC", ProducedBy: model.ProducedByCorrection},
		{FieldID: "party_a", Value: "ACME Corporation", ProducedBy: model.ProducedByCorrection},
	})
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.Equal(t, int64(2), out[0].VersionID)
	assert.Equal(t, int64(1), out[1].VersionID)
	assert.Equal(t, int64(3), out[2].VersionID)
}

func TestSQLite_Corrections(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	c := model.Correction{
		ID:      uuid.New().String(),
		FieldID: "effective_date",
		OriginalPrediction: model.PredictedField{
			Name: "effective_date", Value: "2026-01-05", Confidence: 0.6,
		},
		CorrectedValue: "2026-01-06",
		ReasonCode:     model.ReasonWrongValue,
		Timestamp:      time.Now().UTC(),
		ActorID:        "reviewer-1",
	}
	require.NoError(t, s.SaveCorrection(ctx, c, model.CorrectionPending, model.TierBatched))

	got, err := s.ListCorrections(ctx, CorrectionFilter{FieldID: "effective_date"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, c.ID, got[0].ID)
	assert.Equal(t, model.CorrectionPending, got[0].Status)
	assert.Equal(t, model.TierBatched, got[0].Tier)
	assert.Equal(t, "2026-01-05", got[0].OriginalPrediction.Value)

	require.NoError(t, s.UpdateCorrectionStatus(ctx, c.ID, model.CorrectionCommitted))

	committed, err := s.ListCorrections(ctx, CorrectionFilter{Status: model.CorrectionCommitted})
	require.NoError(t, err)
	assert.Len(t, committed, 1)

	pending, err := s.ListCorrections(ctx, CorrectionFilter{Status: model.CorrectionPending})
	require.NoError(t, err)
	assert.Empty(t, pending)

	err = s.UpdateCorrectionStatus(ctx, "no-such-id", model.CorrectionCommitted)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestSQLite_AuditEvents(t *testing.T) {
	s := newTestStore(t)
	err := s.AppendAudit(context.Background(), model.AuditEvent{
		FieldID: "effective_date",
		Action:  model.AuditCorrection,
		ActorID: "reviewer-1",
		Detail:  []byte(`{"reason_code":"wrong-value"}`),
	})
	assert.NoError(t, err)
}

func TestSQLite_FieldStats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, s.UpsertFieldStats(ctx, []model.FieldStat{
		{FieldName: "effective_date", Corrections: 3, AvgConfDelta: -0.2, TopReason: "wrong-value", LastCorrectedAt: now},
		{FieldName: "party_a", Corrections: 1, AvgConfDelta: 0.1, TopReason: "formatting", LastCorrectedAt: now},
	}))

	// Upsert replaces on conflict.
	require.NoError(t, s.UpsertFieldStats(ctx, []model.FieldStat{
		{FieldName: "effective_date", Corrections: 5, AvgConfDelta: -0.3, TopReason: "wrong-value", LastCorrectedAt: now},
	}))

	stats, err := s.ListFieldStats(ctx)
	require.NoError(t, err)
	require.Len(t, stats, 2)
	assert.Equal(t, "effective_date", stats[0].FieldName)
	assert.Equal(t, int64(5), stats[0].Corrections)
}
