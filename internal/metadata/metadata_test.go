package metadata_test

import (
	"archive/zip"
	"bytes"
	"errors"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Harsh-BH/crmjobs/internal/domain"
	"github.com/Harsh-BH/crmjobs/internal/metadata"
)

func tierField() *metadata.Field {
	return metadata.NewPicklistField("Account", "Tier__c", "Tier",
		metadata.PicklistValue{FullName: "Gold"},
		metadata.PicklistValue{FullName: "Silver"},
	)
}

func sampleComponents() []metadata.Component {
	return []metadata.Component{
		&metadata.ValidationRule{
			Object:                "Account",
			Name:                  "Tier_Required",
			Active:                true,
			ErrorConditionFormula: "ISBLANK(TEXT(Tier__c))",
			ErrorMessage:          "Tier is required",
		},
		tierField(),
		metadata.NewObject("Review__c", "Review", "Reviews"),
		&metadata.Field{Object: "Review__c", Name: "Body__c", Label: "Body", FieldType: metadata.FieldLongTextArea},
	}
}

func zipOf(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestMarshal_FieldDefaults(t *testing.T) {
	text := &metadata.Field{Object: "Account", Name: "Code__c", Label: "Code", FieldType: metadata.FieldText}
	doc, err := metadata.Marshal(text)
	require.NoError(t, err)
	assert.Contains(t, string(doc), `<CustomField xmlns="http://soap.sforce.com/2006/04/metadata">`)
	assert.Contains(t, string(doc), "<length>255</length>")

	num := &metadata.Field{Object: "Account", Name: "Score__c", Label: "Score", FieldType: metadata.FieldNumber}
	doc, err = metadata.Marshal(num)
	require.NoError(t, err)
	assert.Contains(t, string(doc), "<precision>18</precision>")
	assert.Contains(t, string(doc), "<scale>0</scale>")

	lookup := &metadata.Field{Object: "Case", Name: "Parent_Account__c", Label: "Parent", FieldType: metadata.FieldLookup, ReferenceTo: "Account"}
	doc, err = metadata.Marshal(lookup)
	require.NoError(t, err)
	assert.Contains(t, string(doc), "<relationshipName>Parent_Account__r</relationshipName>")
}

// Test: a picklist without a marked default designates its first value.
func TestMarshal_PicklistSingleDefault(t *testing.T) {
	doc, err := metadata.Marshal(tierField())
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(string(doc), "<default>true</default>"))
	assert.Less(t, strings.Index(string(doc), "Gold"), strings.Index(string(doc), "Silver"))

	f := tierField()
	f.ValueSet.Definition.Values[0].Default = true
	f.ValueSet.Definition.Values[1].Default = true
	_, err = metadata.Marshal(f)
	assert.Error(t, err)
}

func TestValidate_Rejections(t *testing.T) {
	cases := map[string]metadata.Component{
		"standard name":   &metadata.Field{Object: "Account", Name: "Tier", Label: "Tier", FieldType: metadata.FieldText},
		"no object":       &metadata.Field{Name: "Tier__c", Label: "Tier", FieldType: metadata.FieldText},
		"long text":       &metadata.Field{Object: "Account", Name: "T__c", Label: "T", FieldType: metadata.FieldText, Length: 300},
		"lookup target":   &metadata.Field{Object: "Account", Name: "L__c", Label: "L", FieldType: metadata.FieldLookup},
		"empty picklist":  &metadata.Field{Object: "Account", Name: "P__c", Label: "P", FieldType: metadata.FieldPicklist},
		"object suffix":   metadata.NewObject("Review", "Review", "Reviews"),
		"rule no message": &metadata.ValidationRule{Object: "Account", Name: "R", ErrorConditionFormula: "true"},
		"bad trigger":     &metadata.WorkflowRule{Object: "Lead", Name: "W", Formula: "true", TriggerType: "sometimes"},
	}
	for name, c := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Error(t, c.Validate())
		})
	}
}

// Test: equal entry sets encode to identical manifests regardless of input order.
func TestManifest_Deterministic(t *testing.T) {
	a := metadata.ManifestFor("60.0", sampleComponents())
	reversed := sampleComponents()
	for i, j := 0, len(reversed)-1; i < j; i, j = i+1, j-1 {
		reversed[i], reversed[j] = reversed[j], reversed[i]
	}
	reversed = append(reversed, tierField())
	b := metadata.ManifestFor("60.0", reversed)

	docA, err := a.Encode()
	require.NoError(t, err)
	docB, err := b.Encode()
	require.NoError(t, err)
	assert.Equal(t, docA, docB)
	assert.Equal(t, 4, b.Len())

	entries := a.Entries()
	assert.Equal(t, metadata.Key{Type: metadata.TypeCustomField, FullName: "Account.Tier__c"}, entries[0])
	assert.Equal(t, metadata.Key{Type: metadata.TypeValidationRule, FullName: "Account.Tier_Required"}, entries[3])

	decoded, err := metadata.DecodeManifest(docA)
	require.NoError(t, err)
	assert.Equal(t, a.Entries(), decoded.Entries())
	assert.Equal(t, "60.0", decoded.APIVersion)
}

func TestArchive_RoundTrip(t *testing.T) {
	components := sampleComponents()
	manifest := metadata.ManifestFor("60.0", components)

	data, err := metadata.BuildArchive(manifest, components)
	require.NoError(t, err)

	archive, err := metadata.ParseArchive(data)
	require.NoError(t, err)
	assert.Equal(t, manifest.Entries(), archive.Manifest.Entries())
	require.Len(t, archive.Components, 4)

	diff, err := metadata.Compare(components, archive.Components)
	require.NoError(t, err)
	assert.False(t, diff.HasChanges(), diff.Summary())
	assert.Len(t, diff.Unchanged, 4)

	again, err := metadata.BuildArchive(manifest, archive.Components)
	require.NoError(t, err)
	assert.Equal(t, data, again)
}

func TestBuildArchive_ManifestMismatch(t *testing.T) {
	components := sampleComponents()
	manifest := metadata.ManifestFor("60.0", components[:2])

	_, err := metadata.BuildArchive(manifest, components)
	var mae *domain.MalformedArchiveError
	require.ErrorAs(t, err, &mae)
	assert.Len(t, mae.Unexpected, 2)
}

// Test: a manifest of two components with one document missing is rejected.
func TestParseArchive_MissingDocument(t *testing.T) {
	manifest := metadata.NewManifest("60.0",
		metadata.Key{Type: metadata.TypeCustomObject, FullName: "Review__c"},
		metadata.Key{Type: metadata.TypeCustomField, FullName: "Review__c.Body__c"},
	)
	pkg, err := manifest.Encode()
	require.NoError(t, err)
	objDoc, err := metadata.Marshal(metadata.NewObject("Review__c", "Review", "Reviews"))
	require.NoError(t, err)

	data := zipOf(t, map[string]string{
		"package.xml":              string(pkg),
		"objects/Review__c.object": string(objDoc),
	})
	_, err = metadata.ParseArchive(data)
	require.True(t, errors.Is(err, domain.ErrMalformedArchive), "got %v", err)

	var mae *domain.MalformedArchiveError
	require.ErrorAs(t, err, &mae)
	assert.Equal(t, []string{"CustomField:Review__c.Body__c"}, mae.Missing)
}

// Test: retrieve results may omit documents for components that do not exist.
func TestParseArchive_AllowMissing(t *testing.T) {
	manifest := metadata.NewManifest("60.0",
		metadata.Key{Type: metadata.TypeCustomObject, FullName: "Review__c"},
		metadata.Key{Type: metadata.TypeCustomField, FullName: "Review__c.Body__c"},
	)
	pkg, err := manifest.Encode()
	require.NoError(t, err)
	objDoc, err := metadata.Marshal(metadata.NewObject("Review__c", "Review", "Reviews"))
	require.NoError(t, err)

	archive, err := metadata.ParseArchive(zipOf(t, map[string]string{
		"unpackaged/package.xml":              string(pkg),
		"unpackaged/objects/Review__c.object": string(objDoc),
	}), metadata.AllowMissing())
	require.NoError(t, err)
	assert.Len(t, archive.Components, 1)
	assert.Equal(t, []metadata.Key{{Type: metadata.TypeCustomField, FullName: "Review__c.Body__c"}}, archive.Missing)
}

func TestParseArchive_UnlistedDocument(t *testing.T) {
	manifest := metadata.NewManifest("60.0", metadata.Key{Type: metadata.TypeCustomObject, FullName: "Review__c"})
	pkg, err := manifest.Encode()
	require.NoError(t, err)
	objDoc, err := metadata.Marshal(metadata.NewObject("Review__c", "Review", "Reviews"))
	require.NoError(t, err)
	otherDoc, err := metadata.Marshal(metadata.NewObject("Other__c", "Other", "Others"))
	require.NoError(t, err)

	_, err = metadata.ParseArchive(zipOf(t, map[string]string{
		"package.xml":              string(pkg),
		"objects/Review__c.object": string(objDoc),
		"objects/Other__c.object":  string(otherDoc),
	}))
	var mae *domain.MalformedArchiveError
	require.ErrorAs(t, err, &mae)
	assert.Equal(t, []string{"CustomObject:Other__c"}, mae.Unexpected)
}

func TestParseArchive_WildcardUnderFolder(t *testing.T) {
	manifest := metadata.NewManifest("60.0", metadata.Key{Type: metadata.TypeCustomObject, FullName: metadata.Wildcard})
	pkg, err := manifest.Encode()
	require.NoError(t, err)
	objDoc, err := metadata.Marshal(metadata.NewObject("Review__c", "Review", "Reviews"))
	require.NoError(t, err)

	archive, err := metadata.ParseArchive(zipOf(t, map[string]string{
		"unpackaged/package.xml":              string(pkg),
		"unpackaged/objects/Review__c.object": string(objDoc),
	}))
	require.NoError(t, err)
	require.Len(t, archive.Components, 1)
	assert.Equal(t, "Review__c", archive.Components[0].FullName())
}

func TestParseArchive_NotAZip(t *testing.T) {
	_, err := metadata.ParseArchive([]byte("definitely not a zip"))
	assert.ErrorIs(t, err, domain.ErrMalformedArchive)

	_, err = metadata.ParseArchive(zipOf(t, map[string]string{"objects/A__c.object": "<x/>"}))
	assert.ErrorIs(t, err, domain.ErrMalformedArchive)
}

func TestCompare(t *testing.T) {
	remote := []metadata.Component{
		tierField(),
		metadata.NewObject("Legacy__c", "Legacy", "Legacies"),
		metadata.NewObject("Review__c", "Review", "Reviews"),
	}
	changed := tierField()
	changed.Label = "Customer Tier"
	changed.ValueSet.Definition.Values = append(changed.ValueSet.Definition.Values, metadata.PicklistValue{FullName: "Bronze"})
	local := []metadata.Component{
		metadata.NewObject("Review__c", "Review", "Reviews"),
		changed,
		&metadata.Field{Object: "Review__c", Name: "Body__c", Label: "Body", FieldType: metadata.FieldTextArea},
	}

	diff, err := metadata.Compare(remote, local)
	require.NoError(t, err)
	assert.Equal(t, []metadata.Key{{Type: metadata.TypeCustomField, FullName: "Review__c.Body__c"}}, diff.Added)
	assert.Equal(t, []metadata.Key{{Type: metadata.TypeCustomObject, FullName: "Legacy__c"}}, diff.Removed)
	assert.Equal(t, []metadata.Key{{Type: metadata.TypeCustomObject, FullName: "Review__c"}}, diff.Unchanged)
	require.Len(t, diff.Modified, 1)

	changes := diff.Modified[0].Changes
	attrs := make(map[string]metadata.Change)
	for _, c := range changes {
		attrs[c.Attribute] = c
	}
	assert.Equal(t, metadata.Change{Attribute: "label", From: "Tier", To: "Customer Tier"}, attrs["label"])
	assert.Equal(t, "Bronze", attrs["valueSet.valueSetDefinition.value[2].fullName"].To)
	assert.Equal(t, "1 added, 1 modified, 1 removed, 1 unchanged", diff.Summary())
}

// Test: a retrieved picklist bound to a global value set has no inline values.
func TestCompare_GlobalValueSetPicklist(t *testing.T) {
	manifest := metadata.NewManifest("60.0", metadata.Key{Type: metadata.TypeCustomField, FullName: "Account.Tier__c"})
	pkg, err := manifest.Encode()
	require.NoError(t, err)
	fieldDoc := `<?xml version="1.0" encoding="UTF-8"?>
<CustomField xmlns="http://soap.sforce.com/2006/04/metadata">
    <fullName>Tier__c</fullName>
    <label>Tier</label>
    <type>Picklist</type>
    <valueSet>
        <restricted>true</restricted>
        <valueSetName>Tiers</valueSetName>
    </valueSet>
</CustomField>`

	archive, err := metadata.ParseArchive(zipOf(t, map[string]string{
		"unpackaged/package.xml":                  string(pkg),
		"unpackaged/fields/Account.Tier__c.field": fieldDoc,
	}))
	require.NoError(t, err)
	require.Len(t, archive.Components, 1)
	remote := archive.Components[0].(*metadata.Field)
	require.NotNil(t, remote.ValueSet)
	assert.Equal(t, "Tiers", remote.ValueSet.ValueSetName)
	assert.Nil(t, remote.ValueSet.Definition)
	require.NoError(t, remote.Validate())

	doc, err := metadata.Marshal(remote)
	require.NoError(t, err)
	assert.Contains(t, string(doc), "<valueSetName>Tiers</valueSetName>")
	assert.NotContains(t, string(doc), "valueSetDefinition")

	diff, err := metadata.Compare(archive.Components, []metadata.Component{tierField()})
	require.NoError(t, err)
	require.Len(t, diff.Modified, 1)
	attrs := make(map[string]metadata.Change)
	for _, c := range diff.Modified[0].Changes {
		attrs[c.Attribute] = c
	}
	assert.Equal(t, metadata.Change{Attribute: "valueSet.valueSetName", From: "Tiers", To: ""}, attrs["valueSet.valueSetName"])
	assert.Equal(t, "Gold", attrs["valueSet.valueSetDefinition.value.fullName"].To)
}

func TestLoadComponents_ValueSetName(t *testing.T) {
	components, _, err := metadata.LoadComponents([]byte(`
fields:
  - object: Account
    name: Tier__c
    label: Tier
    type: Picklist
    value_set_name: Tiers
`))
	require.NoError(t, err)
	require.Len(t, components, 1)
	tier := components[0].(*metadata.Field)
	assert.Equal(t, "Tiers", tier.ValueSet.ValueSetName)

	_, _, err = metadata.LoadComponents([]byte(`
fields:
  - object: Account
    name: Tier__c
    label: Tier
    type: Picklist
    value_set_name: Tiers
    values:
      - name: Gold
`))
	assert.Error(t, err)
}

func TestDeploymentPhasesAndFilter(t *testing.T) {
	phases := metadata.DeploymentPhases(sampleComponents())
	require.Len(t, phases, 3)
	assert.Equal(t, metadata.TypeCustomObject, phases[0][0].Type())
	assert.Len(t, phases[1], 2)
	assert.Equal(t, metadata.TypeValidationRule, phases[2][0].Type())

	fields := metadata.Filter(sampleComponents(), []metadata.Type{metadata.TypeCustomField}, regexp.MustCompile(`^Review__c\.`))
	require.Len(t, fields, 1)
	assert.Equal(t, "Review__c.Body__c", fields[0].FullName())
}

func TestLoadComponents(t *testing.T) {
	data := []byte(`
api_version: "61.0"
objects:
  - name: Review__c
    label: Review
    sharing_model: ReadOnly
    enable_activities: true
    fields:
      - name: Rating__c
        label: Rating
        type: Number
        precision: 2
        scale: 1
    validation_rules:
      - name: Rating_Range
        formula: "Rating__c > 5"
        error_message: Rating must be at most 5
fields:
  - object: Account
    name: Tier__c
    label: Tier
    type: Picklist
    values:
      - name: Gold
      - name: Silver
        default: true
`)
	components, version, err := metadata.LoadComponents(data)
	require.NoError(t, err)
	assert.Equal(t, "61.0", version)
	require.Len(t, components, 4)

	obj, ok := components[0].(*metadata.Object)
	require.True(t, ok)
	assert.Equal(t, metadata.SharingReadOnly, obj.SharingModel)
	assert.True(t, obj.EnableActivities)
	assert.True(t, obj.EnableReports)

	assert.Equal(t, "Review__c.Rating__c", components[1].FullName())
	assert.Equal(t, "Review__c.Rating_Range", components[2].FullName())

	tier := components[3].(*metadata.Field)
	assert.True(t, tier.ValueSet.Definition.Values[1].Default)
}

func TestLoadComponents_Invalid(t *testing.T) {
	_, _, err := metadata.LoadComponents([]byte("fields:\n  - object: Account\n    name: Bad\n    label: Bad\n    type: Text\n"))
	assert.Error(t, err)

	_, _, err = metadata.LoadComponents([]byte("unknown_section: []\n"))
	assert.Error(t, err)
}
