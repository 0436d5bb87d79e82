package metadata

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"strings"
)

//go:embed templates/*.yaml
var templateFS embed.FS

// ErrUnknownTemplate is returned for a template id that is not bundled.
var ErrUnknownTemplate = errors.New("metadata: unknown template")

// TemplateInfo describes a bundled definition set.
type TemplateInfo struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Description   string `json:"description"`
	TakesObject   bool   `json:"takes_object"`
	DefaultObject string `json:"default_object,omitempty"`
}

type templateFile struct {
	Name          string      `yaml:"name"`
	Description   string      `yaml:"description"`
	TakesObject   bool        `yaml:"takes_object"`
	DefaultObject string      `yaml:"default_object"`
	Definitions   Definitions `yaml:"definitions"`
}

// Templates lists the bundled templates ordered by id.
func Templates() ([]TemplateInfo, error) {
	entries, err := fs.ReadDir(templateFS, "templates")
	if err != nil {
		return nil, err
	}
	out := make([]TemplateInfo, 0, len(entries))
	for _, e := range entries {
		id, ok := strings.CutSuffix(e.Name(), ".yaml")
		if !ok {
			continue
		}
		t, err := readTemplate(id)
		if err != nil {
			return nil, err
		}
		out = append(out, TemplateInfo{
			ID:            id,
			Name:          t.Name,
			Description:   t.Description,
			TakesObject:   t.TakesObject,
			DefaultObject: t.DefaultObject,
		})
	}
	return out, nil
}

// Template builds the components of a bundled template. Templates that take
// an object place their fields on object, or on their default object when
// object is empty.
func Template(id, object string) ([]Component, error) {
	t, err := readTemplate(id)
	if err != nil {
		return nil, err
	}
	defs := t.Definitions
	if t.TakesObject {
		if object == "" {
			object = t.DefaultObject
		}
		if object == "" {
			return nil, fmt.Errorf("metadata: template %s needs an object", id)
		}
		defs = defs.on(object)
	} else if object != "" {
		return nil, fmt.Errorf("metadata: template %s does not take an object", id)
	}
	return defs.Components()
}

func readTemplate(id string) (*templateFile, error) {
	if id == "" || strings.ContainsAny(id, `/\.`) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTemplate, id)
	}
	data, err := templateFS.ReadFile(path.Join("templates", id+".yaml"))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTemplate, id)
	}
	if err != nil {
		return nil, err
	}
	var t templateFile
	if err := decodeStrict(data, &t); err != nil {
		return nil, fmt.Errorf("metadata: parse template %s: %w", id, err)
	}
	return &t, nil
}

// on returns a copy with every top-level field and rule moved to object.
func (d Definitions) on(object string) Definitions {
	out := d
	out.Fields = make([]FieldSpec, len(d.Fields))
	for i, f := range d.Fields {
		f.Object = object
		out.Fields[i] = f
	}
	out.ValidationRules = make([]ValidationRuleSpec, len(d.ValidationRules))
	for i, r := range d.ValidationRules {
		r.Object = object
		out.ValidationRules[i] = r
	}
	out.WorkflowRules = make([]WorkflowRuleSpec, len(d.WorkflowRules))
	for i, r := range d.WorkflowRules {
		r.Object = object
		out.WorkflowRules[i] = r
	}
	return out
}
