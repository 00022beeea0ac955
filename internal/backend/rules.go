package backend

import (
	"context"
	"regexp"
	"strings"

	"github.com/Ghostmonday/formmonkeyplatform/internal/model"
)

// RulesBackend extracts field values from document text with regular
// expressions. It never calls out over the network and never returns an
// error, which makes it the terminal entry of every fallback chain: when
// all remote backends are down, rules-based extraction still produces
// something to show the reviewer.
type RulesBackend struct {
	catalog *model.FieldCatalog
}

// NewRulesBackend creates a rules extractor over the given field catalog.
func NewRulesBackend(catalog *model.FieldCatalog) *RulesBackend {
	return &RulesBackend{catalog: catalog}
}

func (b *RulesBackend) Name() string { return "rules" }

var (
	emailPattern = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	phonePattern = regexp.MustCompile(`(?:\+1[\s.\-]?)?\(?\d{3}\)?[\s.\-]?\d{3}[\s.\-]?\d{4}`)
	// ISO dates plus the long form common in legal instruments
	// ("effective as of January 5, 2026").
	isoDatePattern  = regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}\b`)
	longDatePattern = regexp.MustCompile(`\b(January|February|March|April|May|June|July|August|September|October|November|December)\s+\d{1,2},\s+\d{4}\b`)
	currencyPattern = regexp.MustCompile(`\$\s?\d{1,3}(?:,\d{3})*(?:\.\d{2})?`)
	// "between ACME Corp ("Party A") and Beta LLC" — capture the names
	// around the conjunction in the recital clause.
	partyPattern = regexp.MustCompile(`(?i)between\s+([A-Z][A-Za-z0-9&.,'\- ]{2,60}?)\s*(?:\([^)]*\))?\s+and\s+([A-Z][A-Za-z0-9&.,'\- ]{2,60}?)(?:\s*\(|,|\.|\n|$)`)
	statePattern = regexp.MustCompile(`(?i)laws\s+of\s+(?:the\s+)?(?:State\s+of\s+)?([A-Z][a-z]+(?:\s[A-Z][a-z]+)?)`)
)

// Confidence assigned per extraction method. Regex matches are inherently
// lower-confidence than model output, with pattern specificity setting
// the ceiling.
const (
	confExact   = 0.75 // unambiguous formats: email, ISO date, currency
	confPattern = 0.55 // loose formats: phone, long-form date
	confGuess   = 0.35 // positional heuristics: party names, governing law
)

// Predict scans the document text for every requested field whose type has
// a rule. Fields with no matching rule are omitted rather than emitted
// empty.
func (b *RulesBackend) Predict(_ context.Context, req model.PredictionRequest) ([]model.PredictedField, error) {
	defs := b.requestedDefs(req)

	var out []model.PredictedField
	parties := partyPattern.FindStringSubmatch(req.Text)
	partyUsed := 0

	for _, def := range defs {
		var pf *model.PredictedField
		switch def.Type {
		case model.FieldTypeEmail:
			pf = firstMatch(def, emailPattern, req.Text, confExact)
		case model.FieldTypePhone:
			pf = firstMatch(def, phonePattern, req.Text, confPattern)
		case model.FieldTypeDate:
			pf = b.extractDate(def, req.Text)
		case model.FieldTypeCurrency:
			pf = firstMatch(def, currencyPattern, req.Text, confExact)
		case model.FieldTypeParty:
			if parties != nil && partyUsed < 2 {
				pf = &model.PredictedField{
					Name:       def.Name,
					Type:       def.Type,
					Value:      strings.TrimSpace(parties[partyUsed+1]),
					Confidence: confGuess,
				}
				partyUsed++
			}
		case model.FieldTypeSelect:
			if def.Name == "governing_law" {
				if m := statePattern.FindStringSubmatch(req.Text); m != nil {
					pf = &model.PredictedField{
						Name:       def.Name,
						Type:       def.Type,
						Value:      strings.TrimSpace(m[1]),
						Confidence: confGuess,
					}
				}
			}
		}
		if pf != nil {
			out = append(out, *pf)
		}
	}

	return out, nil
}

func (b *RulesBackend) requestedDefs(req model.PredictionRequest) []model.FieldDef {
	if len(req.Fields) == 0 {
		return b.catalog.Fields
	}
	defs := make([]model.FieldDef, 0, len(req.Fields))
	for _, name := range req.Fields {
		if def := b.catalog.ByName(name); def != nil {
			defs = append(defs, *def)
		}
	}
	return defs
}

func (b *RulesBackend) extractDate(def model.FieldDef, text string) *model.PredictedField {
	if m := isoDatePattern.FindString(text); m != "" {
		return &model.PredictedField{Name: def.Name, Type: def.Type, Value: m, Confidence: confExact}
	}
	if m := longDatePattern.FindString(text); m != "" {
		return &model.PredictedField{Name: def.Name, Type: def.Type, Value: m, Confidence: confPattern}
	}
	return nil
}

func firstMatch(def model.FieldDef, re *regexp.Regexp, text string, conf float64) *model.PredictedField {
	m := re.FindString(text)
	if m == "" {
		return nil
	}
	return &model.PredictedField{
		Name:       def.Name,
		Type:       def.Type,
		Value:      strings.TrimSpace(m),
		Confidence: conf,
	}
}
