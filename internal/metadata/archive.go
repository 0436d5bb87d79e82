package metadata

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/Harsh-BH/crmjobs/internal/domain"
)

// ManifestFile is the name of the manifest document at the archive root.
const ManifestFile = "package.xml"

// Archive is a decoded deploy or retrieve package.
type Archive struct {
	Manifest   *Manifest
	Components []Component
	// Missing lists manifest entries without a document. It is only populated
	// when parsing with AllowMissing.
	Missing []Key
}

// ParseOption customises ParseArchive.
type ParseOption func(*parseOptions)

type parseOptions struct {
	allowMissing bool
}

// AllowMissing accepts manifest entries that have no document, as in a
// retrieve of components that do not exist remotely.
func AllowMissing() ParseOption {
	return func(o *parseOptions) { o.allowMissing = true }
}

// BuildArchive packages components with their manifest. Every manifest entry
// must have exactly one component and every component must be listed.
func BuildArchive(m *Manifest, components []Component) ([]byte, error) {
	byKey := make(map[Key]Component, len(components))
	var unexpected []string
	for _, c := range components {
		k := KeyOf(c)
		if !IsSupported(k.Type) {
			return nil, fmt.Errorf("metadata: unsupported component type %q", k.Type)
		}
		if _, dup := byKey[k]; dup {
			return nil, &domain.MalformedArchiveError{Reason: "component listed twice: " + k.String()}
		}
		byKey[k] = c
		if !m.Contains(k) || k.FullName == Wildcard {
			unexpected = append(unexpected, k.String())
		}
	}
	var missing []string
	for _, e := range m.entries {
		if e.FullName == Wildcard {
			return nil, &domain.MalformedArchiveError{Reason: "deploy manifest cannot use wildcard for " + string(e.Type)}
		}
		if _, ok := byKey[e]; !ok {
			missing = append(missing, e.String())
		}
	}
	if len(missing) > 0 || len(unexpected) > 0 {
		sort.Strings(unexpected)
		return nil, &domain.MalformedArchiveError{
			Reason:     "manifest and components disagree",
			Missing:    missing,
			Unexpected: unexpected,
		}
	}

	manifest, err := m.Encode()
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	if err := writeZipEntry(zw, ManifestFile, manifest); err != nil {
		return nil, err
	}
	for _, e := range m.entries {
		c := byKey[e]
		doc, err := Marshal(c)
		if err != nil {
			return nil, err
		}
		path, err := DocumentPath(e.Type, e.FullName)
		if err != nil {
			return nil, err
		}
		if err := writeZipEntry(zw, path, doc); err != nil {
			return nil, err
		}
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("metadata: finish archive: %w", err)
	}
	return buf.Bytes(), nil
}

func writeZipEntry(zw *zip.Writer, name string, data []byte) error {
	w, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Deflate})
	if err != nil {
		return fmt.Errorf("metadata: add %s: %w", name, err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("metadata: write %s: %w", name, err)
	}
	return nil
}

// ParseArchive decodes a package. The manifest may sit at the root or inside a
// single top-level folder, as in retrieve results.
func ParseArchive(data []byte, opts ...ParseOption) (*Archive, error) {
	var o parseOptions
	for _, opt := range opts {
		opt(&o)
	}
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, &domain.MalformedArchiveError{Reason: "not a zip archive: " + err.Error()}
	}

	prefix, err := findManifest(zr.File)
	if err != nil {
		return nil, err
	}

	var (
		manifest *Manifest
		docs     = make(map[Key][]byte)
		stray    []string
	)
	for _, f := range zr.File {
		if f.FileInfo().IsDir() || !strings.HasPrefix(f.Name, prefix) {
			continue
		}
		rel := strings.TrimPrefix(f.Name, prefix)
		content, err := readZipFile(f)
		if err != nil {
			return nil, err
		}
		if rel == ManifestFile {
			manifest, err = DecodeManifest(content)
			if err != nil {
				return nil, &domain.MalformedArchiveError{Reason: err.Error()}
			}
			continue
		}
		t, name, ok := typeForPath(rel)
		if !ok {
			stray = append(stray, rel)
			continue
		}
		docs[Key{Type: t, FullName: name}] = content
	}

	var (
		missing, unexpected []string
		missingKeys         []Key
	)
	for _, e := range manifest.entries {
		if !IsSupported(e.Type) {
			unexpected = append(unexpected, "unsupported type "+string(e.Type))
			continue
		}
		if e.FullName == Wildcard {
			continue
		}
		if _, ok := docs[e]; !ok {
			missingKeys = append(missingKeys, e)
			if !o.allowMissing {
				missing = append(missing, e.String())
			}
		}
	}
	keys := make([]Key, 0, len(docs))
	for k := range docs {
		if !manifest.Contains(k) {
			unexpected = append(unexpected, k.String())
			continue
		}
		keys = append(keys, k)
	}
	unexpected = append(unexpected, stray...)
	if len(missing) > 0 || len(unexpected) > 0 {
		sort.Strings(unexpected)
		return nil, &domain.MalformedArchiveError{
			Reason:     "manifest and documents disagree",
			Missing:    missing,
			Unexpected: unexpected,
		}
	}

	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Type != keys[j].Type {
			return keys[i].Type < keys[j].Type
		}
		return keys[i].FullName < keys[j].FullName
	})
	archive := &Archive{Manifest: manifest, Components: make([]Component, 0, len(keys))}
	if o.allowMissing {
		archive.Missing = missingKeys
	}
	for _, k := range keys {
		c, err := Unmarshal(k.Type, k.FullName, docs[k])
		if err != nil {
			return nil, &domain.MalformedArchiveError{Reason: err.Error()}
		}
		archive.Components = append(archive.Components, c)
	}
	return archive, nil
}

func findManifest(files []*zip.File) (string, error) {
	var prefixes []string
	for _, f := range files {
		switch {
		case f.Name == ManifestFile:
			prefixes = append(prefixes, "")
		case strings.Count(f.Name, "/") == 1 && strings.HasSuffix(f.Name, "/"+ManifestFile):
			prefixes = append(prefixes, strings.TrimSuffix(f.Name, ManifestFile))
		}
	}
	switch len(prefixes) {
	case 0:
		return "", &domain.MalformedArchiveError{Reason: "no " + ManifestFile + " found"}
	case 1:
		return prefixes[0], nil
	default:
		return "", &domain.MalformedArchiveError{Reason: "multiple manifests: " + strings.Join(prefixes, ", ")}
	}
}

func readZipFile(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, &domain.MalformedArchiveError{Reason: fmt.Sprintf("open %s: %v", f.Name, err)}
	}
	defer rc.Close()
	content, err := io.ReadAll(rc)
	if err != nil {
		return nil, &domain.MalformedArchiveError{Reason: fmt.Sprintf("read %s: %v", f.Name, err)}
	}
	return content, nil
}
