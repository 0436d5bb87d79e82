package metadata

import (
	"encoding/xml"
	"fmt"
	"strings"
)

// FieldType is the data type of a custom field.
type FieldType string

const (
	FieldAutoNumber          FieldType = "AutoNumber"
	FieldCheckbox            FieldType = "Checkbox"
	FieldCurrency            FieldType = "Currency"
	FieldDate                FieldType = "Date"
	FieldDateTime            FieldType = "DateTime"
	FieldEmail               FieldType = "Email"
	FieldLookup              FieldType = "Lookup"
	FieldMasterDetail        FieldType = "MasterDetail"
	FieldNumber              FieldType = "Number"
	FieldPercent             FieldType = "Percent"
	FieldPhone               FieldType = "Phone"
	FieldPicklist            FieldType = "Picklist"
	FieldMultiselectPicklist FieldType = "MultiselectPicklist"
	FieldText                FieldType = "Text"
	FieldTextArea            FieldType = "TextArea"
	FieldLongTextArea        FieldType = "LongTextArea"
	FieldURL                 FieldType = "Url"
	FieldFormula             FieldType = "Formula"
)

var validFieldTypes = map[FieldType]bool{
	FieldAutoNumber: true, FieldCheckbox: true, FieldCurrency: true, FieldDate: true,
	FieldDateTime: true, FieldEmail: true, FieldLookup: true, FieldMasterDetail: true,
	FieldNumber: true, FieldPercent: true, FieldPhone: true, FieldPicklist: true,
	FieldMultiselectPicklist: true, FieldText: true, FieldTextArea: true,
	FieldLongTextArea: true, FieldURL: true, FieldFormula: true,
}

func (t FieldType) isNumeric() bool {
	return t == FieldNumber || t == FieldCurrency || t == FieldPercent
}

func (t FieldType) isPicklist() bool {
	return t == FieldPicklist || t == FieldMultiselectPicklist
}

func (t FieldType) isRelationship() bool {
	return t == FieldLookup || t == FieldMasterDetail
}

// PicklistValue is one option of a picklist field.
type PicklistValue struct {
	FullName string `xml:"fullName"`
	Default  bool   `xml:"default"`
	Label    string `xml:"label"`
	Color    string `xml:"color,omitempty"`
}

// ValueSet holds the ordered options of a picklist field. A field bound to a
// global value set carries ValueSetName and no Definition.
type ValueSet struct {
	Restricted   bool                `xml:"restricted"`
	ValueSetName string              `xml:"valueSetName,omitempty"`
	Definition   *ValueSetDefinition `xml:"valueSetDefinition,omitempty"`
}

func (vs *ValueSet) values() []PicklistValue {
	if vs == nil || vs.Definition == nil {
		return nil
	}
	return vs.Definition.Values
}

type ValueSetDefinition struct {
	Sorted bool            `xml:"sorted"`
	Values []PicklistValue `xml:"value"`
}

// Field is a custom field on an object.
type Field struct {
	XMLName              xml.Name  `xml:"http://soap.sforce.com/2006/04/metadata CustomField"`
	Object               string    `xml:"-"`
	Name                 string    `xml:"fullName"`
	Label                string    `xml:"label"`
	FieldType            FieldType `xml:"type"`
	Description          string    `xml:"description,omitempty"`
	HelpText             string    `xml:"inlineHelpText,omitempty"`
	Required             bool      `xml:"required,omitempty"`
	Unique               bool      `xml:"unique,omitempty"`
	ExternalID           bool      `xml:"externalId,omitempty"`
	Length               int       `xml:"length,omitempty"`
	VisibleLines         int       `xml:"visibleLines,omitempty"`
	Precision            int       `xml:"precision,omitempty"`
	Scale                *int      `xml:"scale,omitempty"`
	ReferenceTo          string    `xml:"referenceTo,omitempty"`
	RelationshipName     string    `xml:"relationshipName,omitempty"`
	RelationshipLabel    string    `xml:"relationshipLabel,omitempty"`
	DeleteConstraint     string    `xml:"deleteConstraint,omitempty"`
	Formula              string    `xml:"formula,omitempty"`
	FormulaTreatBlanksAs string    `xml:"formulaTreatBlanksAs,omitempty"`
	DefaultValue         string    `xml:"defaultValue,omitempty"`
	ValueSet             *ValueSet `xml:"valueSet,omitempty"`
}

// NewPicklistField builds a restricted picklist field with the given options.
func NewPicklistField(object, name, label string, values ...PicklistValue) *Field {
	return &Field{
		Object:    object,
		Name:      name,
		Label:     label,
		FieldType: FieldPicklist,
		ValueSet: &ValueSet{
			Restricted: true,
			Definition: &ValueSetDefinition{Values: values},
		},
	}
}

func (f *Field) Type() Type { return TypeCustomField }

func (f *Field) FullName() string { return f.Object + "." + f.Name }

// Validate checks the field definition before it is encoded.
func (f *Field) Validate() error {
	if f.Object == "" {
		return fmt.Errorf("metadata: field %q has no object", f.Name)
	}
	if !isCustomName(f.Name) {
		return fmt.Errorf("metadata: field name %q must end with __c", f.Name)
	}
	if f.Label == "" {
		return fmt.Errorf("metadata: field %s has no label", f.FullName())
	}
	if !validFieldTypes[f.FieldType] {
		return fmt.Errorf("metadata: field %s has unknown type %q", f.FullName(), f.FieldType)
	}
	switch {
	case f.FieldType == FieldText && f.Length > 255:
		return fmt.Errorf("metadata: text field %s length %d exceeds 255", f.FullName(), f.Length)
	case f.FieldType.isRelationship() && f.ReferenceTo == "":
		return fmt.Errorf("metadata: %s field %s needs referenceTo", f.FieldType, f.FullName())
	case f.FieldType == FieldFormula && f.Formula == "":
		return fmt.Errorf("metadata: formula field %s has no formula", f.FullName())
	case f.FieldType.isNumeric() && f.Scale != nil && *f.Scale > f.Precision && f.Precision != 0:
		return fmt.Errorf("metadata: field %s scale %d exceeds precision %d", f.FullName(), *f.Scale, f.Precision)
	}
	if f.FieldType.isPicklist() {
		values := f.ValueSet.values()
		switch {
		case f.ValueSet != nil && f.ValueSet.ValueSetName != "" && len(values) > 0:
			return fmt.Errorf("metadata: picklist field %s names value set %q and also defines values", f.FullName(), f.ValueSet.ValueSetName)
		case f.ValueSet != nil && f.ValueSet.ValueSetName != "":
			return nil
		case len(values) == 0:
			return fmt.Errorf("metadata: picklist field %s has no values", f.FullName())
		}
		defaults := 0
		seen := make(map[string]bool)
		for _, v := range values {
			if v.FullName == "" {
				return fmt.Errorf("metadata: picklist field %s has an unnamed value", f.FullName())
			}
			if seen[v.FullName] {
				return fmt.Errorf("metadata: picklist field %s repeats value %q", f.FullName(), v.FullName)
			}
			seen[v.FullName] = true
			if v.Default {
				defaults++
			}
		}
		if defaults > 1 {
			return fmt.Errorf("metadata: picklist field %s marks %d values as default", f.FullName(), defaults)
		}
	}
	return nil
}

func (f *Field) document() any {
	d := *f
	switch {
	case d.FieldType == FieldText && d.Length == 0:
		d.Length = 255
	case d.FieldType == FieldLongTextArea:
		if d.Length == 0 {
			d.Length = 32000
		}
		if d.VisibleLines == 0 {
			d.VisibleLines = 3
		}
	case d.FieldType.isNumeric():
		if d.Precision == 0 {
			d.Precision = 18
		}
		if d.Scale == nil {
			zero := 0
			d.Scale = &zero
		}
	case d.FieldType.isRelationship() && d.RelationshipName == "":
		d.RelationshipName = strings.TrimSuffix(d.Name, "__c") + "__r"
	}
	if d.FieldType.isPicklist() && d.ValueSet != nil && d.ValueSet.Definition != nil {
		vs := *d.ValueSet
		def := *vs.Definition
		values := make([]PicklistValue, len(def.Values))
		copy(values, def.Values)
		hasDefault := false
		for i := range values {
			if values[i].Label == "" {
				values[i].Label = values[i].FullName
			}
			hasDefault = hasDefault || values[i].Default
		}
		if !hasDefault && len(values) > 0 {
			values[0].Default = true
		}
		def.Values = values
		vs.Definition = &def
		d.ValueSet = &vs
	}
	return &d
}

func decodeField(fullName string, data []byte) (Component, error) {
	obj, _, err := splitQualified(fullName)
	if err != nil {
		return nil, err
	}
	f := &Field{}
	if err := xml.Unmarshal(data, f); err != nil {
		return nil, err
	}
	f.Object = obj
	return f, nil
}
