package metadata

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"sort"
)

// Wildcard matches every component of a type in a retrieve manifest.
const Wildcard = "*"

// DefaultAPIVersion is used when a manifest does not declare one.
const DefaultAPIVersion = "60.0"

// Manifest is the ordered set of (type, name) entries an archive contains.
type Manifest struct {
	APIVersion string
	entries    []Key
}

// NewManifest builds a manifest from entries, sorting by type then name and
// dropping duplicates.
func NewManifest(apiVersion string, entries ...Key) *Manifest {
	m := &Manifest{APIVersion: apiVersion}
	m.Add(entries...)
	return m
}

// ManifestFor returns the manifest describing components.
func ManifestFor(apiVersion string, components []Component) *Manifest {
	keys := make([]Key, len(components))
	for i, c := range components {
		keys[i] = KeyOf(c)
	}
	return NewManifest(apiVersion, keys...)
}

// Add inserts entries, keeping the manifest sorted and unique.
func (m *Manifest) Add(entries ...Key) {
	seen := make(map[Key]bool, len(m.entries)+len(entries))
	merged := make([]Key, 0, len(m.entries)+len(entries))
	for _, k := range append(append([]Key{}, m.entries...), entries...) {
		if seen[k] {
			continue
		}
		seen[k] = true
		merged = append(merged, k)
	}
	sort.SliceStable(merged, func(i, j int) bool {
		if merged[i].Type != merged[j].Type {
			return merged[i].Type < merged[j].Type
		}
		return merged[i].FullName < merged[j].FullName
	})
	m.entries = merged
}

// Entries returns a copy of the sorted entries.
func (m *Manifest) Entries() []Key {
	return append([]Key(nil), m.entries...)
}

// Len returns the number of entries.
func (m *Manifest) Len() int { return len(m.entries) }

// Contains reports whether the manifest lists k, directly or through a
// wildcard entry for its type.
func (m *Manifest) Contains(k Key) bool {
	for _, e := range m.entries {
		if e.Type == k.Type && (e.FullName == k.FullName || e.FullName == Wildcard) {
			return true
		}
	}
	return false
}

// HasWildcard reports whether t is requested with a wildcard member.
func (m *Manifest) HasWildcard(t Type) bool {
	for _, e := range m.entries {
		if e.Type == t && e.FullName == Wildcard {
			return true
		}
	}
	return false
}

// Types returns the distinct types in manifest order.
func (m *Manifest) Types() []Type {
	var out []Type
	for _, e := range m.entries {
		if len(out) == 0 || out[len(out)-1] != e.Type {
			out = append(out, e.Type)
		}
	}
	return out
}

// PackageTypes is one <types> block of a package manifest.
type PackageTypes struct {
	Members []string `xml:"members"`
	Name    string   `xml:"name"`
}

type packageDoc struct {
	XMLName xml.Name       `xml:"http://soap.sforce.com/2006/04/metadata Package"`
	Types   []PackageTypes `xml:"types"`
	Version string         `xml:"version"`
}

// Groups returns the entries grouped by type in the layout of a package manifest.
func (m *Manifest) Groups() []PackageTypes {
	var groups []PackageTypes
	for _, e := range m.entries {
		if len(groups) == 0 || groups[len(groups)-1].Name != string(e.Type) {
			groups = append(groups, PackageTypes{Name: string(e.Type)})
		}
		g := &groups[len(groups)-1]
		g.Members = append(g.Members, e.FullName)
	}
	return groups
}

// Encode renders the manifest as package.xml.
func (m *Manifest) Encode() ([]byte, error) {
	version := m.APIVersion
	if version == "" {
		version = DefaultAPIVersion
	}
	doc := packageDoc{Types: m.Groups(), Version: version}
	body, err := xml.MarshalIndent(doc, "", "    ")
	if err != nil {
		return nil, fmt.Errorf("metadata: encode manifest: %w", err)
	}
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	buf.Write(body)
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

// DecodeManifest parses a package.xml document.
func DecodeManifest(data []byte) (*Manifest, error) {
	var doc packageDoc
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("metadata: decode manifest: %w", err)
	}
	var keys []Key
	for _, g := range doc.Types {
		if g.Name == "" {
			return nil, fmt.Errorf("metadata: manifest has a types block without a name")
		}
		for _, member := range g.Members {
			keys = append(keys, Key{Type: Type(g.Name), FullName: member})
		}
	}
	return NewManifest(doc.Version, keys...), nil
}
