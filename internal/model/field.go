package model

// FieldType classifies a document field for validation and extraction.
type FieldType string

const (
	FieldTypeText      FieldType = "text"
	FieldTypeEmail     FieldType = "email"
	FieldTypePhone     FieldType = "phone"
	FieldTypeDate      FieldType = "date"
	FieldTypeAddress   FieldType = "address"
	FieldTypeCurrency  FieldType = "currency"
	FieldTypeParty     FieldType = "party"
	FieldTypeSignature FieldType = "signature"
	FieldTypeCheckbox  FieldType = "checkbox"
	FieldTypeSelect    FieldType = "select"
)

// FieldDef describes a named field the engine knows how to predict and
// validate. LegallyRequired marks fields whose emptiness is a critical
// validation failure (party identity, operative dates, signatures).
// PairedBefore links a date field that must not be after its partner,
// e.g. effective_date → termination_date.
type FieldDef struct {
	Name            string    `json:"name" yaml:"name" mapstructure:"name"`
	Type            FieldType `json:"type" yaml:"type" mapstructure:"type"`
	LegallyRequired bool      `json:"legally_required,omitempty" yaml:"legally_required" mapstructure:"legally_required"`
	PairedBefore    string    `json:"paired_before,omitempty" yaml:"paired_before" mapstructure:"paired_before"`
}

// FieldCatalog is an indexed collection of field definitions.
type FieldCatalog struct {
	Fields   []FieldDef
	byName   map[string]*FieldDef
	required []*FieldDef
}

// NewFieldCatalog creates a FieldCatalog with indexed lookups.
func NewFieldCatalog(fields []FieldDef) *FieldCatalog {
	c := &FieldCatalog{
		Fields: fields,
		byName: make(map[string]*FieldDef, len(fields)),
	}
	for i := range c.Fields {
		f := &c.Fields[i]
		c.byName[f.Name] = f
		if f.LegallyRequired {
			c.required = append(c.required, f)
		}
	}
	return c
}

// ByName returns the field definition for the given name, or nil if unknown.
func (c *FieldCatalog) ByName(name string) *FieldDef {
	return c.byName[name]
}

// Required returns all legally required field definitions.
func (c *FieldCatalog) Required() []*FieldDef {
	return c.required
}

// DefaultCatalog returns the built-in legal form field set. Deployments
// override this via the fields section of the config file.
func DefaultCatalog() *FieldCatalog {
	return NewFieldCatalog([]FieldDef{
		{Name: "party_a", Type: FieldTypeParty, LegallyRequired: true},
		{Name: "party_b", Type: FieldTypeParty, LegallyRequired: true},
		{Name: "effective_date", Type: FieldTypeDate, LegallyRequired: true, PairedBefore: "termination_date"},
		{Name: "termination_date", Type: FieldTypeDate},
		{Name: "execution_date", Type: FieldTypeDate, LegallyRequired: true},
		{Name: "contract_value", Type: FieldTypeCurrency},
		{Name: "notice_email", Type: FieldTypeEmail},
		{Name: "notice_phone", Type: FieldTypePhone},
		{Name: "notice_address", Type: FieldTypeAddress},
		{Name: "signature_a", Type: FieldTypeSignature, LegallyRequired: true},
		{Name: "signature_b", Type: FieldTypeSignature, LegallyRequired: true},
		{Name: "governing_law", Type: FieldTypeSelect},
		{Name: "auto_renewal", Type: FieldTypeCheckbox},
	})
}
