package metadata

import (
	"encoding/xml"
	"fmt"
)

// SharingModel controls default record access for an object.
type SharingModel string

const (
	SharingPrivate            SharingModel = "Private"
	SharingReadOnly           SharingModel = "ReadOnly"
	SharingReadWrite          SharingModel = "ReadWrite"
	SharingControlledByParent SharingModel = "ControlledByParent"
)

// NameField describes the record name field of a custom object.
type NameField struct {
	Label         string    `xml:"label"`
	Type          FieldType `xml:"type"`
	DisplayFormat string    `xml:"displayFormat,omitempty"`
}

// Object is a custom object definition.
type Object struct {
	XMLName          xml.Name     `xml:"http://soap.sforce.com/2006/04/metadata CustomObject"`
	Name             string       `xml:"fullName"`
	Label            string       `xml:"label"`
	PluralLabel      string       `xml:"pluralLabel"`
	Description      string       `xml:"description,omitempty"`
	NameField        NameField    `xml:"nameField"`
	SharingModel     SharingModel `xml:"sharingModel"`
	DeploymentStatus string       `xml:"deploymentStatus"`
	EnableActivities bool         `xml:"enableActivities"`
	EnableBulkAPI    bool         `xml:"enableBulkApi"`
	EnableFeeds      bool         `xml:"enableFeeds"`
	EnableReports    bool         `xml:"enableReports"`
	EnableSearch     bool         `xml:"enableSearch"`
	EnableSharing    bool         `xml:"enableSharing"`
}

// NewObject returns an object with the platform's usual defaults: read/write
// sharing, a text name field, and bulk API, reports, search and sharing enabled.
func NewObject(name, label, pluralLabel string) *Object {
	return &Object{
		Name:          name,
		Label:         label,
		PluralLabel:   pluralLabel,
		NameField:     NameField{Label: "Name", Type: FieldText},
		SharingModel:  SharingReadWrite,
		EnableBulkAPI: true,
		EnableReports: true,
		EnableSearch:  true,
		EnableSharing: true,
	}
}

func (o *Object) Type() Type { return TypeCustomObject }

func (o *Object) FullName() string { return o.Name }

// Validate checks the object definition before it is encoded.
func (o *Object) Validate() error {
	if !isCustomName(o.Name) {
		return fmt.Errorf("metadata: object name %q must end with __c", o.Name)
	}
	if o.Label == "" {
		return fmt.Errorf("metadata: object %s has no label", o.Name)
	}
	switch o.SharingModel {
	case "", SharingPrivate, SharingReadOnly, SharingReadWrite, SharingControlledByParent:
	default:
		return fmt.Errorf("metadata: object %s has unknown sharing model %q", o.Name, o.SharingModel)
	}
	switch o.NameField.Type {
	case "", FieldText, FieldAutoNumber:
	default:
		return fmt.Errorf("metadata: object %s name field must be Text or AutoNumber, got %q", o.Name, o.NameField.Type)
	}
	return nil
}

func (o *Object) document() any {
	d := *o
	if d.PluralLabel == "" {
		d.PluralLabel = d.Label + "s"
	}
	if d.NameField.Label == "" {
		d.NameField.Label = "Name"
	}
	if d.NameField.Type == "" {
		d.NameField.Type = FieldText
	}
	if d.NameField.Type == FieldAutoNumber && d.NameField.DisplayFormat == "" {
		d.NameField.DisplayFormat = "{0000}"
	}
	if d.SharingModel == "" {
		d.SharingModel = SharingReadWrite
	}
	if d.DeploymentStatus == "" {
		d.DeploymentStatus = "Deployed"
	}
	return &d
}

func decodeObject(fullName string, data []byte) (Component, error) {
	o := &Object{}
	if err := xml.Unmarshal(data, o); err != nil {
		return nil, err
	}
	return o, nil
}
