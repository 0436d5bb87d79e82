package metadata

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Definitions is the on-disk YAML layout for a set of components.
type Definitions struct {
	APIVersion      string               `yaml:"api_version"`
	Objects         []ObjectSpec         `yaml:"objects"`
	Fields          []FieldSpec          `yaml:"fields"`
	ValidationRules []ValidationRuleSpec `yaml:"validation_rules"`
	WorkflowRules   []WorkflowRuleSpec   `yaml:"workflow_rules"`
}

type ObjectSpec struct {
	Name             string               `yaml:"name"`
	Label            string               `yaml:"label"`
	PluralLabel      string               `yaml:"plural_label"`
	Description      string               `yaml:"description"`
	SharingModel     SharingModel         `yaml:"sharing_model"`
	NameFieldLabel   string               `yaml:"name_field_label"`
	NameFieldType    FieldType            `yaml:"name_field_type"`
	EnableActivities *bool                `yaml:"enable_activities"`
	EnableBulkAPI    *bool                `yaml:"enable_bulk_api"`
	EnableFeeds      *bool                `yaml:"enable_feeds"`
	EnableReports    *bool                `yaml:"enable_reports"`
	EnableSearch     *bool                `yaml:"enable_search"`
	EnableSharing    *bool                `yaml:"enable_sharing"`
	Fields           []FieldSpec          `yaml:"fields"`
	ValidationRules  []ValidationRuleSpec `yaml:"validation_rules"`
	WorkflowRules    []WorkflowRuleSpec   `yaml:"workflow_rules"`
}

type FieldSpec struct {
	Object               string          `yaml:"object"`
	Name                 string          `yaml:"name"`
	Label                string          `yaml:"label"`
	Type                 FieldType       `yaml:"type"`
	Description          string          `yaml:"description"`
	HelpText             string          `yaml:"help_text"`
	Required             bool            `yaml:"required"`
	Unique               bool            `yaml:"unique"`
	ExternalID           bool            `yaml:"external_id"`
	Length               int             `yaml:"length"`
	VisibleLines         int             `yaml:"visible_lines"`
	Precision            int             `yaml:"precision"`
	Scale                *int            `yaml:"scale"`
	ReferenceTo          string          `yaml:"reference_to"`
	RelationshipName     string          `yaml:"relationship_name"`
	DeleteConstraint     string          `yaml:"delete_constraint"`
	Formula              string          `yaml:"formula"`
	FormulaTreatBlanksAs string          `yaml:"formula_treat_blanks_as"`
	DefaultValue         string          `yaml:"default_value"`
	Values               []PicklistEntry `yaml:"values"`
	Sorted               bool            `yaml:"sorted"`
	ValueSetName         string          `yaml:"value_set_name"`
}

type PicklistEntry struct {
	Name    string `yaml:"name"`
	Label   string `yaml:"label"`
	Default bool   `yaml:"default"`
	Color   string `yaml:"color"`
}

type ValidationRuleSpec struct {
	Object            string `yaml:"object"`
	Name              string `yaml:"name"`
	Active            *bool  `yaml:"active"`
	Description       string `yaml:"description"`
	Formula           string `yaml:"formula"`
	ErrorMessage      string `yaml:"error_message"`
	ErrorDisplayField string `yaml:"error_display_field"`
}

type WorkflowRuleSpec struct {
	Object      string `yaml:"object"`
	Name        string `yaml:"name"`
	Active      *bool  `yaml:"active"`
	Description string `yaml:"description"`
	Formula     string `yaml:"formula"`
	TriggerType string `yaml:"trigger_type"`
}

// LoadComponentsFile reads component definitions from a YAML file.
func LoadComponentsFile(path string) ([]Component, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("metadata: read %s: %w", path, err)
	}
	return LoadComponents(data)
}

// LoadComponents parses YAML definitions and returns the components they
// describe, already validated, along with the declared API version.
func LoadComponents(data []byte) ([]Component, string, error) {
	var defs Definitions
	if err := decodeStrict(data, &defs); err != nil {
		return nil, "", fmt.Errorf("metadata: parse definitions: %w", err)
	}
	out, err := defs.Components()
	if err != nil {
		return nil, "", err
	}
	return out, defs.APIVersion, nil
}

func decodeStrict(data []byte, v any) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	return dec.Decode(v)
}

// Components builds and validates every component in the definitions.
// Components nested under an object inherit its name.
func (d Definitions) Components() ([]Component, error) {
	var out []Component
	for _, o := range d.Objects {
		out = append(out, o.build())
		for _, f := range o.Fields {
			f.Object = o.Name
			out = append(out, f.build())
		}
		for _, r := range o.ValidationRules {
			r.Object = o.Name
			out = append(out, r.build())
		}
		for _, r := range o.WorkflowRules {
			r.Object = o.Name
			out = append(out, r.build())
		}
	}
	for _, f := range d.Fields {
		out = append(out, f.build())
	}
	for _, r := range d.ValidationRules {
		out = append(out, r.build())
	}
	for _, r := range d.WorkflowRules {
		out = append(out, r.build())
	}

	seen := make(map[Key]bool, len(out))
	for _, c := range out {
		if err := c.Validate(); err != nil {
			return nil, err
		}
		k := KeyOf(c)
		if seen[k] {
			return nil, fmt.Errorf("metadata: %s defined twice", k)
		}
		seen[k] = true
	}
	return out, nil
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}

func (s ObjectSpec) build() Component {
	o := NewObject(s.Name, s.Label, s.PluralLabel)
	o.Description = s.Description
	if s.SharingModel != "" {
		o.SharingModel = s.SharingModel
	}
	if s.NameFieldLabel != "" {
		o.NameField.Label = s.NameFieldLabel
	}
	if s.NameFieldType != "" {
		o.NameField.Type = s.NameFieldType
	}
	o.EnableActivities = boolOr(s.EnableActivities, o.EnableActivities)
	o.EnableBulkAPI = boolOr(s.EnableBulkAPI, o.EnableBulkAPI)
	o.EnableFeeds = boolOr(s.EnableFeeds, o.EnableFeeds)
	o.EnableReports = boolOr(s.EnableReports, o.EnableReports)
	o.EnableSearch = boolOr(s.EnableSearch, o.EnableSearch)
	o.EnableSharing = boolOr(s.EnableSharing, o.EnableSharing)
	return o
}

func (s FieldSpec) build() Component {
	f := &Field{
		Object:               s.Object,
		Name:                 s.Name,
		Label:                s.Label,
		FieldType:            s.Type,
		Description:          s.Description,
		HelpText:             s.HelpText,
		Required:             s.Required,
		Unique:               s.Unique,
		ExternalID:           s.ExternalID,
		Length:               s.Length,
		VisibleLines:         s.VisibleLines,
		Precision:            s.Precision,
		Scale:                s.Scale,
		ReferenceTo:          s.ReferenceTo,
		RelationshipName:     s.RelationshipName,
		DeleteConstraint:     s.DeleteConstraint,
		Formula:              s.Formula,
		FormulaTreatBlanksAs: s.FormulaTreatBlanksAs,
		DefaultValue:         s.DefaultValue,
	}
	if s.ValueSetName != "" {
		f.ValueSet = &ValueSet{Restricted: true, ValueSetName: s.ValueSetName}
	}
	if len(s.Values) > 0 {
		if f.ValueSet == nil {
			f.ValueSet = &ValueSet{Restricted: true}
		}
		values := make([]PicklistValue, len(s.Values))
		for i, v := range s.Values {
			values[i] = PicklistValue{FullName: v.Name, Label: v.Label, Default: v.Default, Color: v.Color}
		}
		f.ValueSet.Definition = &ValueSetDefinition{Sorted: s.Sorted, Values: values}
	}
	return f
}

func (s ValidationRuleSpec) build() Component {
	return &ValidationRule{
		Object:                s.Object,
		Name:                  s.Name,
		Active:                boolOr(s.Active, true),
		Description:           s.Description,
		ErrorConditionFormula: s.Formula,
		ErrorMessage:          s.ErrorMessage,
		ErrorDisplayField:     s.ErrorDisplayField,
	}
}

func (s WorkflowRuleSpec) build() Component {
	return &WorkflowRule{
		Object:      s.Object,
		Name:        s.Name,
		Active:      boolOr(s.Active, true),
		Description: s.Description,
		Formula:     s.Formula,
		TriggerType: s.TriggerType,
	}
}
