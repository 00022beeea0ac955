package correct

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/Ghostmonday/formmonkeyplatform/internal/model"
	"github.com/Ghostmonday/formmonkeyplatform/internal/store"
)

// Issue codes emitted by the correction pipeline.
const (
	CodeUnknownField  = "unknown-field"
	CodeRequiredEmpty = "required-empty"
	CodeBadFormat     = "bad-format"
	CodeDateOrdering  = "date-ordering"
	CodeNoOp          = "no-op"
	CodeSanitized     = "sanitized"
	CodeDuplicateID   = "duplicate-id"
)

var (
	emailPattern       = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)
	phonePattern       = regexp.MustCompile(`^(?:\+1[\s.\-]?)?\(?\d{3}\)?[\s.\-]?\d{3}[\s.\-]?\d{4}$`)
	currencyPattern    = regexp.MustCompile(`^\$?\s?\d{1,3}(?:,\d{3})*(?:\.\d{2})?$|^\$?\d+(?:\.\d{2})?$`)
	scriptTagPattern   = regexp.MustCompile(`(?is)<\s*/?\s*script[^>]*>`)
	jsSchemePattern    = regexp.MustCompile(`(?i)javascript\s*:`)
	eventAttrPattern   = regexp.MustCompile(`(?i)\bon[a-z]+\s*=`)
	controlRunePattern = regexp.MustCompile("[\x00-\x08\x0b\x0c\x0e-\x1f]")
)

var dateLayouts = []string{
	"2006-01-02",
	"January 2, 2006",
	"Jan 2, 2006",
	"01/02/2006",
}

// Validator checks a correction against the field catalog and the
// committed version history before it is allowed near the version store.
type Validator struct {
	catalog *model.FieldCatalog
	store   store.Store
}

// NewValidator creates a validator. The store is consulted for cross-field
// checks against committed sibling values.
func NewValidator(catalog *model.FieldCatalog, st store.Store) *Validator {
	return &Validator{catalog: catalog, store: st}
}

// Validate sanitizes the corrected value and returns it along with every
// issue found. Critical issues mean the correction must be rejected;
// warnings accompany an accepted correction.
func (v *Validator) Validate(ctx context.Context, c model.Correction) (string, []model.Issue, error) {
	var issues []model.Issue

	sanitized, changed := Sanitize(c.CorrectedValue)
	if changed {
		issues = append(issues, model.Issue{
			Severity: model.SeverityWarning,
			Code:     CodeSanitized,
			Message:  "corrected value contained markup or control characters and was sanitized",
		})
	}

	def := v.catalog.ByName(c.FieldID)
	if def == nil {
		issues = append(issues, model.Issue{
			Severity: model.SeverityCritical,
			Code:     CodeUnknownField,
			Message:  fmt.Sprintf("field %q is not in the catalog", c.FieldID),
		})
		return sanitized, issues, nil
	}

	if strings.TrimSpace(sanitized) == "" {
		sev := model.SeverityWarning
		if def.LegallyRequired {
			sev = model.SeverityCritical
		}
		issues = append(issues, model.Issue{
			Severity: sev,
			Code:     CodeRequiredEmpty,
			Message:  fmt.Sprintf("field %q corrected to empty", c.FieldID),
		})
		return sanitized, issues, nil
	}

	if issue := checkFormat(def, sanitized); issue != nil {
		issues = append(issues, *issue)
	}

	if def.Type == model.FieldTypeDate {
		ordering, err := v.checkDateOrdering(ctx, def, sanitized)
		if err != nil {
			return sanitized, issues, err
		}
		issues = append(issues, ordering...)
	}

	if sanitized == c.OriginalPrediction.Value {
		issues = append(issues, model.Issue{
			Severity: model.SeverityWarning,
			Code:     CodeNoOp,
			Message:  "corrected value matches the original prediction",
		})
	}

	return sanitized, issues, nil
}

// Sanitize strips script tags, javascript: schemes, inline event handler
// attributes, and control characters from a reviewer-supplied value.
// Reviewer input reaches rendered documents, so markup never passes
// through verbatim.
func Sanitize(value string) (string, bool) {
	out := value
	out = scriptTagPattern.ReplaceAllString(out, "")
	out = jsSchemePattern.ReplaceAllString(out, "")
	out = eventAttrPattern.ReplaceAllString(out, "")
	out = controlRunePattern.ReplaceAllString(out, "")
	out = strings.TrimSpace(out)
	return out, out != strings.TrimSpace(value)
}

func checkFormat(def *model.FieldDef, value string) *model.Issue {
	ok := true
	switch def.Type {
	case model.FieldTypeEmail:
		ok = emailPattern.MatchString(value)
	case model.FieldTypePhone:
		ok = phonePattern.MatchString(value)
	case model.FieldTypeCurrency:
		ok = currencyPattern.MatchString(value)
	case model.FieldTypeDate:
		_, err := parseDate(value)
		ok = err == nil
	case model.FieldTypeCheckbox:
		switch strings.ToLower(value) {
		case "true", "false", "yes", "no", "checked", "unchecked":
		default:
			ok = false
		}
	}
	if ok {
		return nil
	}
	return &model.Issue{
		Severity: model.SeverityCritical,
		Code:     CodeBadFormat,
		Message:  fmt.Sprintf("%q is not a valid %s value", value, def.Type),
	}
}

// checkDateOrdering compares the corrected date against the committed
// value of its paired field in both directions: a field declared
// PairedBefore must not land after its partner, and correcting the
// partner must not move it before this field.
func (v *Validator) checkDateOrdering(ctx context.Context, def *model.FieldDef, value string) ([]model.Issue, error) {
	corrected, err := parseDate(value)
	if err != nil {
		return nil, nil // format issue already reported
	}

	var issues []model.Issue

	if def.PairedBefore != "" {
		partner, err := v.committedDate(ctx, def.PairedBefore)
		if err != nil {
			return nil, err
		}
		if partner != nil && corrected.After(*partner) {
			issues = append(issues, model.Issue{
				Severity: model.SeverityCritical,
				Code:     CodeDateOrdering,
				Message:  fmt.Sprintf("%s must not be after %s", def.Name, def.PairedBefore),
			})
		}
	}

	for i := range v.catalog.Fields {
		earlier := &v.catalog.Fields[i]
		if earlier.PairedBefore != def.Name {
			continue
		}
		partner, err := v.committedDate(ctx, earlier.Name)
		if err != nil {
			return nil, err
		}
		if partner != nil && corrected.Before(*partner) {
			issues = append(issues, model.Issue{
				Severity: model.SeverityCritical,
				Code:     CodeDateOrdering,
				Message:  fmt.Sprintf("%s must not be before %s", def.Name, earlier.Name),
			})
		}
	}

	return issues, nil
}

// committedDate returns the parsed date of a field's latest committed
// version, or nil when the field has no history or an unparseable value.
func (v *Validator) committedDate(ctx context.Context, fieldID string) (*time.Time, error) {
	latest, err := v.store.LatestVersion(ctx, fieldID)
	if err != nil {
		return nil, eris.Wrapf(err, "correct: latest version for %s", fieldID)
	}
	if latest == nil {
		return nil, nil
	}
	t, err := parseDate(latest.Value)
	if err != nil {
		return nil, nil
	}
	return &t, nil
}

func parseDate(value string) (time.Time, error) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
	}
	return time.Time{}, eris.Errorf("correct: unparseable date %q", value)
}
