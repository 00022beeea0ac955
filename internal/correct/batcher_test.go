package correct

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/Ghostmonday/formmonkeyplatform/internal/model"
	"github.com/Ghostmonday/formmonkeyplatform/internal/store"
)

func pendingCorrection(t *testing.T, st store.Store, fieldID, value string) model.Correction {
	t.Helper()
	c := model.Correction{
		ID:                 uuid.New().String(),
		FieldID:            fieldID,
		OriginalPrediction: model.PredictedField{Name: fieldID, Value: "old", Confidence: 0.6},
		CorrectedValue:     value,
		ReasonCode:         model.ReasonWrongValue,
		Timestamp:          time.Now().UTC(),
	}
	if err := st.SaveCorrection(context.Background(), c, model.CorrectionPending, model.TierBatched); err != nil {
		t.Fatal(err)
	}
	return c
}

func waitForCommitted(t *testing.T, st store.Store, n int) []model.StoredCorrection {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		got, err := st.ListCorrections(context.Background(), store.CorrectionFilter{Status: model.CorrectionCommitted})
		if err != nil {
			t.Fatal(err)
		}
		if len(got) >= n {
			return got
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for %d committed corrections, have %d", n, len(got))
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestBatcher_FlushOnSize(t *testing.T) {
	st := newTestStore(t)
	b := NewBatcher(st, 2, time.Hour)
	defer b.Close()

	b.Add(pendingCorrection(t, st, "party_a", "ACME Corp"))
	b.Add(pendingCorrection(t, st, "party_b", "Beta LLC"))

	waitForCommitted(t, st, 2)

	v, err := st.LatestVersion(context.Background(), "party_a")
	if err != nil {
		t.Fatal(err)
	}
	if v == nil || v.Value != "ACME Corp" || v.ProducedBy != model.ProducedByCorrection {
		t.Errorf("unexpected version: %+v", v)
	}
	if b.Pending() != 0 {
		t.Errorf("queue should be empty after flush, have %d", b.Pending())
	}
}

func TestBatcher_FlushOnTimer(t *testing.T) {
	st := newTestStore(t)
	b := NewBatcher(st, 100, 30*time.Millisecond)
	defer b.Close()

	b.Add(pendingCorrection(t, st, "effective_date", "2026-01-06"))

	waitForCommitted(t, st, 1)

	v, err := st.LatestVersion(context.Background(), "effective_date")
	if err != nil {
		t.Fatal(err)
	}
	if v == nil || v.Value != "2026-01-06" {
		t.Errorf("timer flush did not commit: %+v", v)
	}
}

func TestBatcher_CloseFlushesRemainder(t *testing.T) {
	st := newTestStore(t)
	b := NewBatcher(st, 100, time.Hour)

	b.Add(pendingCorrection(t, st, "party_a", "ACME Corp"))
	b.Close()

	got, err := st.ListCorrections(context.Background(), store.CorrectionFilter{Status: model.CorrectionCommitted})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Errorf("Close must flush synchronously, got %d committed", len(got))
	}

	// Adds after Close are dropped.
	b.Add(pendingCorrection(t, st, "party_b", "Beta"))
	if b.Pending() != 0 {
		t.Error("add after close must be a no-op")
	}
}

// flakyStore fails AppendVersions a set number of times before recovering.
type flakyStore struct {
	store.Store
	failures int
}

func (f *flakyStore) AppendVersions(ctx context.Context, vs []model.FieldVersion) ([]model.FieldVersion, error) {
	if f.failures > 0 {
		f.failures--
		return nil, context.DeadlineExceeded
	}
	return f.Store.AppendVersions(ctx, vs)
}

func TestBatcher_RecoverRequeuesPending(t *testing.T) {
	st := newTestStore(t)

	// Rows left pending by a previous run.
	pendingCorrection(t, st, "party_a", "ACME Corp")
	pendingCorrection(t, st, "party_b", "Beta LLC")

	// An immediate-tier row must not be requeued, whatever its status.
	imm := model.Correction{
		ID: uuid.New().String(), FieldID: "notice_email",
		OriginalPrediction: model.PredictedField{Name: "notice_email", Value: "old", Confidence: 0.3},
		CorrectedValue:     "legal@acmecorp.example",
		ReasonCode:         model.ReasonWrongValue,
		Timestamp:          time.Now().UTC(),
	}
	if err := st.SaveCorrection(context.Background(), imm, model.CorrectionPending, model.TierImmediate); err != nil {
		t.Fatal(err)
	}

	b := NewBatcher(st, 100, time.Hour)
	n, err := b.Recover(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 || b.Pending() != 2 {
		t.Fatalf("expected 2 requeued corrections, got n=%d pending=%d", n, b.Pending())
	}

	b.Close()
	waitForCommitted(t, st, 2)

	v, err := st.LatestVersion(context.Background(), "party_a")
	if err != nil {
		t.Fatal(err)
	}
	if v == nil || v.Value != "ACME Corp" {
		t.Errorf("recovered correction was not committed: %+v", v)
	}
}

func TestBatcher_FailedFlushRequeues(t *testing.T) {
	st := &flakyStore{Store: newTestStore(t), failures: 1}
	b := NewBatcher(st, 1, time.Hour)
	defer b.Close()

	b.Add(pendingCorrection(t, st, "party_a", "ACME Corp"))

	// The failed batch returns to the queue instead of vanishing.
	deadline := time.After(3 * time.Second)
	for b.Pending() != 1 {
		select {
		case <-deadline:
			t.Fatalf("failed batch was not requeued, pending=%d", b.Pending())
		case <-time.After(10 * time.Millisecond):
		}
	}

	b.Flush()
	waitForCommitted(t, st, 1)
}

func TestBatcher_SameFieldKeepsOrder(t *testing.T) {
	st := newTestStore(t)
	b := NewBatcher(st, 2, time.Hour)
	defer b.Close()

	b.Add(pendingCorrection(t, st, "party_a", "first"))
	b.Add(pendingCorrection(t, st, "party_a", "second"))

	waitForCommitted(t, st, 2)

	history, err := st.History(context.Background(), "party_a", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 versions, got %d", len(history))
	}
	// Chronological: the second add got the higher version number.
	if history[0].Value != "first" || history[1].Value != "second" {
		t.Errorf("batch must preserve insertion order: %+v", history)
	}
}
