package metadata

import (
	"encoding/xml"
	"fmt"
)

// ValidationRule rejects record saves whose error condition evaluates to true.
type ValidationRule struct {
	XMLName               xml.Name `xml:"http://soap.sforce.com/2006/04/metadata ValidationRule"`
	Object                string   `xml:"-"`
	Name                  string   `xml:"fullName"`
	Active                bool     `xml:"active"`
	Description           string   `xml:"description,omitempty"`
	ErrorConditionFormula string   `xml:"errorConditionFormula"`
	ErrorMessage          string   `xml:"errorMessage"`
	ErrorDisplayField     string   `xml:"errorDisplayField,omitempty"`
}

func (r *ValidationRule) Type() Type { return TypeValidationRule }

func (r *ValidationRule) FullName() string { return r.Object + "." + r.Name }

func (r *ValidationRule) Validate() error {
	if r.Object == "" || r.Name == "" {
		return fmt.Errorf("metadata: validation rule needs an object and a name, got %q", r.FullName())
	}
	if r.ErrorConditionFormula == "" {
		return fmt.Errorf("metadata: validation rule %s has no error condition", r.FullName())
	}
	if r.ErrorMessage == "" {
		return fmt.Errorf("metadata: validation rule %s has no error message", r.FullName())
	}
	return nil
}

func (r *ValidationRule) document() any {
	d := *r
	return &d
}

func decodeValidationRule(fullName string, data []byte) (Component, error) {
	obj, _, err := splitQualified(fullName)
	if err != nil {
		return nil, err
	}
	r := &ValidationRule{}
	if err := xml.Unmarshal(data, r); err != nil {
		return nil, err
	}
	r.Object = obj
	return r, nil
}

// Workflow rule trigger types.
const (
	TriggerOnCreate                   = "onCreateOnly"
	TriggerOnCreateOrTriggeringUpdate = "onCreateOrTriggeringUpdate"
	TriggerOnAllChanges               = "onAllChanges"
)

// WorkflowRule evaluates a formula on record changes.
type WorkflowRule struct {
	XMLName     xml.Name `xml:"http://soap.sforce.com/2006/04/metadata WorkflowRule"`
	Object      string   `xml:"-"`
	Name        string   `xml:"fullName"`
	Active      bool     `xml:"active"`
	Description string   `xml:"description,omitempty"`
	Formula     string   `xml:"formula"`
	TriggerType string   `xml:"triggerType"`
}

func (r *WorkflowRule) Type() Type { return TypeWorkflowRule }

func (r *WorkflowRule) FullName() string { return r.Object + "." + r.Name }

func (r *WorkflowRule) Validate() error {
	if r.Object == "" || r.Name == "" {
		return fmt.Errorf("metadata: workflow rule needs an object and a name, got %q", r.FullName())
	}
	if r.Formula == "" {
		return fmt.Errorf("metadata: workflow rule %s has no formula", r.FullName())
	}
	switch r.TriggerType {
	case "", TriggerOnCreate, TriggerOnCreateOrTriggeringUpdate, TriggerOnAllChanges:
	default:
		return fmt.Errorf("metadata: workflow rule %s has unknown trigger type %q", r.FullName(), r.TriggerType)
	}
	return nil
}

func (r *WorkflowRule) document() any {
	d := *r
	if d.TriggerType == "" {
		d.TriggerType = TriggerOnCreateOrTriggeringUpdate
	}
	return &d
}

func decodeWorkflowRule(fullName string, data []byte) (Component, error) {
	obj, _, err := splitQualified(fullName)
	if err != nil {
		return nil, err
	}
	r := &WorkflowRule{}
	if err := xml.Unmarshal(data, r); err != nil {
		return nil, err
	}
	r.Object = obj
	return r, nil
}
