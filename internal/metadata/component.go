// Package metadata models configuration components and converts them to and
// from the markup documents and zip archives used by the metadata API.
package metadata

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"sort"
	"strings"
)

// Namespace is the XML namespace of every metadata document.
const Namespace = "http://soap.sforce.com/2006/04/metadata"

// Type names a component type as it appears in a manifest.
type Type string

const (
	TypeCustomObject   Type = "CustomObject"
	TypeCustomField    Type = "CustomField"
	TypeValidationRule Type = "ValidationRule"
	TypeWorkflowRule   Type = "WorkflowRule"
)

// Component is one deployable configuration unit.
type Component interface {
	Type() Type
	// FullName is the fully-qualified name, e.g. "Account.Tier__c".
	FullName() string
	Validate() error
	// document returns the value encoded as the component's markup, with
	// defaults applied.
	document() any
}

type typeInfo struct {
	dir    string
	suffix string
	phase  int
	decode func(fullName string, data []byte) (Component, error)
}

var registry = map[Type]typeInfo{
	TypeCustomObject:   {dir: "objects", suffix: "object", phase: 1, decode: decodeObject},
	TypeCustomField:    {dir: "fields", suffix: "field", phase: 2, decode: decodeField},
	TypeValidationRule: {dir: "validationRules", suffix: "validationRule", phase: 3, decode: decodeValidationRule},
	TypeWorkflowRule:   {dir: "workflowRules", suffix: "workflowRule", phase: 3, decode: decodeWorkflowRule},
}

// Types returns every supported component type, sorted.
func Types() []Type {
	out := make([]Type, 0, len(registry))
	for t := range registry {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// IsSupported reports whether t can be encoded and decoded.
func IsSupported(t Type) bool {
	_, ok := registry[t]
	return ok
}

// DocumentPath returns the archive path of a component document.
func DocumentPath(t Type, fullName string) (string, error) {
	info, ok := registry[t]
	if !ok {
		return "", fmt.Errorf("metadata: unsupported component type %q", t)
	}
	return info.dir + "/" + fullName + "." + info.suffix, nil
}

func typeForPath(path string) (Type, string, bool) {
	dir, file, ok := strings.Cut(path, "/")
	if !ok || strings.Contains(file, "/") {
		return "", "", false
	}
	for t, info := range registry {
		if info.dir != dir {
			continue
		}
		name, found := strings.CutSuffix(file, "."+info.suffix)
		if !found || name == "" {
			return "", "", false
		}
		return t, name, true
	}
	return "", "", false
}

// Key identifies a component independent of its content.
type Key struct {
	Type     Type
	FullName string
}

func (k Key) String() string {
	return string(k.Type) + ":" + k.FullName
}

// KeyOf returns the identity of c.
func KeyOf(c Component) Key {
	return Key{Type: c.Type(), FullName: c.FullName()}
}

// Marshal encodes a component as its markup document.
func Marshal(c Component) ([]byte, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	body, err := xml.MarshalIndent(c.document(), "", "    ")
	if err != nil {
		return nil, fmt.Errorf("metadata: encode %s: %w", KeyOf(c), err)
	}
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	buf.Write(body)
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

// Unmarshal decodes a document of type t named fullName.
func Unmarshal(t Type, fullName string, data []byte) (Component, error) {
	info, ok := registry[t]
	if !ok {
		return nil, fmt.Errorf("metadata: unsupported component type %q", t)
	}
	c, err := info.decode(fullName, data)
	if err != nil {
		return nil, fmt.Errorf("metadata: decode %s:%s: %w", t, fullName, err)
	}
	if c.FullName() != fullName {
		return nil, fmt.Errorf("metadata: document %s:%s declares name %q", t, fullName, c.FullName())
	}
	return c, nil
}

// splitQualified splits "Object.Name" into its parts.
func splitQualified(fullName string) (string, string, error) {
	obj, name, ok := strings.Cut(fullName, ".")
	if !ok || obj == "" || name == "" {
		return "", "", fmt.Errorf("name %q is not qualified by an object", fullName)
	}
	return obj, name, nil
}

func isCustomName(name string) bool {
	return strings.HasSuffix(name, "__c") && len(name) > len("__c")
}
