package correct

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/Ghostmonday/formmonkeyplatform/internal/model"
	"github.com/Ghostmonday/formmonkeyplatform/internal/store"
)

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return s
}

func issueCodes(issues []model.Issue) map[string]model.Severity {
	out := make(map[string]model.Severity, len(issues))
	for _, is := range issues {
		out[is.Code] = is.Severity
	}
	return out
}

func TestValidate_Format(t *testing.T) {
	v := NewValidator(model.DefaultCatalog(), newTestStore(t))

	tests := []struct {
		name     string
		fieldID  string
		value    string
		wantCode string
		wantSev  model.Severity
	}{
		{"bad email", "notice_email", "not-an-email", CodeBadFormat, model.SeverityCritical},
		{"good email", "notice_email", "legal@acme.example", "", ""},
		{"bad phone", "notice_phone", "12ab", CodeBadFormat, model.SeverityCritical},
		{"good phone", "notice_phone", "(415) 555-0142", "", ""},
		{"bad date", "effective_date", "sometime soon", CodeBadFormat, model.SeverityCritical},
		{"iso date", "effective_date", "2026-01-05", "", ""},
		{"long date", "effective_date", "January 5, 2026", "", ""},
		{"bad currency", "contract_value", "lots", CodeBadFormat, model.SeverityCritical},
		{"good currency", "contract_value", "$125,000.00", "", ""},
		{"bad checkbox", "auto_renewal", "maybe", CodeBadFormat, model.SeverityCritical},
		{"good checkbox", "auto_renewal", "true", "", ""},
		{"unknown field", "no_such_field", "x", CodeUnknownField, model.SeverityCritical},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, issues, err := v.Validate(context.Background(), model.Correction{
				FieldID:        tt.fieldID,
				CorrectedValue: tt.value,
				OriginalPrediction: model.PredictedField{
					Name: tt.fieldID, Value: "something-else",
				},
			})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			codes := issueCodes(issues)
			if tt.wantCode == "" {
				if len(codes) != 0 {
					t.Errorf("expected no issues, got %v", codes)
				}
				return
			}
			if sev, ok := codes[tt.wantCode]; !ok || sev != tt.wantSev {
				t.Errorf("expected %s/%s, got %v", tt.wantCode, tt.wantSev, codes)
			}
		})
	}
}

func TestValidate_RequiredEmptiness(t *testing.T) {
	v := NewValidator(model.DefaultCatalog(), newTestStore(t))

	// Required field corrected to empty: critical.
	_, issues, err := v.Validate(context.Background(), model.Correction{
		FieldID:            "party_a",
		CorrectedValue:     "   ",
		OriginalPrediction: model.PredictedField{Name: "party_a", Value: "ACME"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if sev := issueCodes(issues)[CodeRequiredEmpty]; sev != model.SeverityCritical {
		t.Errorf("required empty must be critical, got %v", issues)
	}

	// Optional field corrected to empty: warning only.
	_, issues, err = v.Validate(context.Background(), model.Correction{
		FieldID:            "contract_value",
		CorrectedValue:     "",
		OriginalPrediction: model.PredictedField{Name: "contract_value", Value: "$5"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if sev := issueCodes(issues)[CodeRequiredEmpty]; sev != model.SeverityWarning {
		t.Errorf("optional empty must be a warning, got %v", issues)
	}
}

func TestValidate_NoOp(t *testing.T) {
	v := NewValidator(model.DefaultCatalog(), newTestStore(t))

	_, issues, err := v.Validate(context.Background(), model.Correction{
		FieldID:            "party_a",
		CorrectedValue:     "ACME Corporation",
		OriginalPrediction: model.PredictedField{Name: "party_a", Value: "ACME Corporation"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if sev := issueCodes(issues)[CodeNoOp]; sev != model.SeverityWarning {
		t.Errorf("no-op must be a warning, got %v", issues)
	}
}

func TestValidate_DateOrdering(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	// Commit a termination date, then try to move the effective date past it.
	if _, err := st.AppendVersion(ctx, model.FieldVersion{
		FieldID: "termination_date", Value: "2027-01-05",
		ProducedBy: model.ProducedByPrediction,
	}); err != nil {
		t.Fatal(err)
	}

	v := NewValidator(model.DefaultCatalog(), st)

	_, issues, err := v.Validate(ctx, model.Correction{
		FieldID:            "effective_date",
		CorrectedValue:     "2027-06-01",
		OriginalPrediction: model.PredictedField{Name: "effective_date", Value: "2026-01-05"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if sev := issueCodes(issues)[CodeDateOrdering]; sev != model.SeverityCritical {
		t.Errorf("effective after termination must be critical, got %v", issues)
	}

	// In range is fine.
	_, issues, err = v.Validate(ctx, model.Correction{
		FieldID:            "effective_date",
		CorrectedValue:     "2026-06-01",
		OriginalPrediction: model.PredictedField{Name: "effective_date", Value: "2026-01-05"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := issueCodes(issues)[CodeDateOrdering]; ok {
		t.Errorf("in-range date flagged: %v", issues)
	}
}

func TestValidate_DateOrderingReverse(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	if _, err := st.AppendVersion(ctx, model.FieldVersion{
		FieldID: "effective_date", Value: "2026-06-01",
		ProducedBy: model.ProducedByPrediction,
	}); err != nil {
		t.Fatal(err)
	}

	v := NewValidator(model.DefaultCatalog(), st)

	// Moving the termination date before the committed effective date.
	_, issues, err := v.Validate(ctx, model.Correction{
		FieldID:            "termination_date",
		CorrectedValue:     "2026-01-05",
		OriginalPrediction: model.PredictedField{Name: "termination_date", Value: "2027-01-05"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if sev := issueCodes(issues)[CodeDateOrdering]; sev != model.SeverityCritical {
		t.Errorf("termination before effective must be critical, got %v", issues)
	}
}

func TestSanitize(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		changed bool
	}{
		{"plain", "ACME Corporation", "ACME Corporation", false},
		{"script tag", `ACME<script>alert(1)</script>`, "ACMEalert(1)", true},
		{"javascript scheme", "javascript:alert(1)", "alert(1)", true},
		{"event handler", `x onclick=steal()`, "x steal()", true},
		{"control chars", "ACME\x00Corp", "ACMECorp", true},
		{"whitespace trimmed", "  ACME  ", "ACME", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, changed := Sanitize(tt.in)
			if got != tt.want || changed != tt.changed {
				t.Errorf("Sanitize(%q) = (%q, %v), want (%q, %v)", tt.in, got, changed, tt.want, tt.changed)
			}
		})
	}
}
