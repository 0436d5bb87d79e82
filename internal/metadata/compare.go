package metadata

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Change is one attribute that differs between two versions of a component.
type Change struct {
	Attribute string `json:"attribute"`
	From      string `json:"from"`
	To        string `json:"to"`
}

// Modification lists the attribute changes of one component.
type Modification struct {
	Key     Key      `json:"key"`
	Changes []Change `json:"changes"`
}

// Diff is the structural difference between a source and a target set.
type Diff struct {
	Added     []Key          `json:"added"`
	Modified  []Modification `json:"modified"`
	Removed   []Key          `json:"removed"`
	Unchanged []Key          `json:"unchanged"`
}

// HasChanges reports whether anything was added, modified or removed.
func (d *Diff) HasChanges() bool {
	return len(d.Added)+len(d.Modified)+len(d.Removed) > 0
}

func (d *Diff) Summary() string {
	return fmt.Sprintf("%d added, %d modified, %d removed, %d unchanged",
		len(d.Added), len(d.Modified), len(d.Removed), len(d.Unchanged))
}

// Compare diffs source against target. Added components exist only in target,
// removed ones only in source. Attribute order inside documents is irrelevant.
func Compare(source, target []Component) (*Diff, error) {
	src, err := attributeIndex(source)
	if err != nil {
		return nil, err
	}
	dst, err := attributeIndex(target)
	if err != nil {
		return nil, err
	}

	diff := &Diff{}
	for _, k := range sortedKeys(dst) {
		before, ok := src[k]
		if !ok {
			diff.Added = append(diff.Added, k)
			continue
		}
		changes := diffAttributes(before, dst[k])
		if len(changes) == 0 {
			diff.Unchanged = append(diff.Unchanged, k)
		} else {
			diff.Modified = append(diff.Modified, Modification{Key: k, Changes: changes})
		}
	}
	for _, k := range sortedKeys(src) {
		if _, ok := dst[k]; !ok {
			diff.Removed = append(diff.Removed, k)
		}
	}
	return diff, nil
}

func attributeIndex(components []Component) (map[Key]map[string]string, error) {
	out := make(map[Key]map[string]string, len(components))
	for _, c := range components {
		attrs, err := Attributes(c)
		if err != nil {
			return nil, err
		}
		out[KeyOf(c)] = attrs
	}
	return out, nil
}

func sortedKeys(m map[Key]map[string]string) []Key {
	keys := make([]Key, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	return keys
}

func diffAttributes(before, after map[string]string) []Change {
	names := make(map[string]bool, len(before)+len(after))
	for k := range before {
		names[k] = true
	}
	for k := range after {
		names[k] = true
	}
	var changes []Change
	for name := range names {
		from, to := before[name], after[name]
		if from != to {
			changes = append(changes, Change{Attribute: name, From: from, To: to})
		}
	}
	sort.Slice(changes, func(i, j int) bool { return changes[i].Attribute < changes[j].Attribute })
	return changes
}

// Attributes flattens a component's markup into dotted paths such as
// "valueSet.valueSetDefinition.value[1].label". Repeated siblings after the
// first carry an occurrence index.
func Attributes(c Component) (map[string]string, error) {
	body, err := xml.Marshal(c.document())
	if err != nil {
		return nil, fmt.Errorf("metadata: encode %s: %w", KeyOf(c), err)
	}

	type frame struct {
		path     string
		counts   map[string]int
		text     strings.Builder
		hasChild bool
	}
	attrs := make(map[string]string)
	dec := xml.NewDecoder(bytes.NewReader(body))
	var stack []*frame
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("metadata: flatten %s: %w", KeyOf(c), err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			f := &frame{counts: make(map[string]int)}
			if n := len(stack); n > 0 {
				parent := stack[n-1]
				parent.hasChild = true
				name := t.Name.Local
				if i := parent.counts[name]; i > 0 {
					name += "[" + strconv.Itoa(i) + "]"
				}
				parent.counts[t.Name.Local]++
				f.path = name
				if parent.path != "" {
					f.path = parent.path + "." + name
				}
			}
			stack = append(stack, f)
		case xml.CharData:
			if n := len(stack); n > 0 {
				stack[n-1].text.Write(t)
			}
		case xml.EndElement:
			f := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if !f.hasChild && f.path != "" {
				attrs[f.path] = strings.TrimSpace(f.text.String())
			}
		}
	}
	return attrs, nil
}

// DeploymentPhases groups components so that objects deploy before their
// fields and fields before rules that reference them.
func DeploymentPhases(components []Component) [][]Component {
	byPhase := make(map[int][]Component)
	for _, c := range components {
		p := registry[c.Type()].phase
		byPhase[p] = append(byPhase[p], c)
	}
	phases := make([]int, 0, len(byPhase))
	for p := range byPhase {
		phases = append(phases, p)
	}
	sort.Ints(phases)

	out := make([][]Component, 0, len(phases))
	for _, p := range phases {
		group := byPhase[p]
		sort.SliceStable(group, func(i, j int) bool { return KeyOf(group[i]).String() < KeyOf(group[j]).String() })
		out = append(out, group)
	}
	return out
}

// Filter keeps components whose type is in types (all types when empty) and
// whose full name matches pattern (all names when nil).
func Filter(components []Component, types []Type, pattern *regexp.Regexp) []Component {
	allowed := make(map[Type]bool, len(types))
	for _, t := range types {
		allowed[t] = true
	}
	var out []Component
	for _, c := range components {
		if len(allowed) > 0 && !allowed[c.Type()] {
			continue
		}
		if pattern != nil && !pattern.MatchString(c.FullName()) {
			continue
		}
		out = append(out, c)
	}
	return out
}
