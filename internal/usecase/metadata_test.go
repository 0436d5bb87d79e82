package usecase_test

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/Harsh-BH/crmjobs/internal/domain"
	"github.com/Harsh-BH/crmjobs/internal/metadata"
	repomock "github.com/Harsh-BH/crmjobs/internal/repository/mock"
	"github.com/Harsh-BH/crmjobs/internal/usecase"
)

func (f *fixture) metadata(store *repomock.ArchiveStore) *usecase.MetadataUsecase {
	if store == nil {
		return usecase.NewMetadataUsecase(f.backend, f.poller, f.deps(), nil, "60.0", zap.NewNop())
	}
	return usecase.NewMetadataUsecase(f.backend, f.poller, f.deps(), store, "60.0", zap.NewNop())
}

func reviewObject() *metadata.Object {
	return metadata.NewObject("Review__c", "Review", "Reviews")
}

func scoreField() *metadata.Field {
	return &metadata.Field{Object: "Review__c", Name: "Score__c", Label: "Score", FieldType: metadata.FieldNumber}
}

func zipOf(t *testing.T, files map[string][]byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range files {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("create %s: %v", name, err)
		}
		if _, err := w.Write(content); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}
	return buf.Bytes()
}

func marshal(t *testing.T, c metadata.Component) []byte {
	t.Helper()
	doc, err := metadata.Marshal(c)
	if err != nil {
		t.Fatalf("marshal %s: %v", c.FullName(), err)
	}
	return doc
}

func manifestOf(t *testing.T, keys ...metadata.Key) []byte {
	t.Helper()
	pkg, err := metadata.NewManifest("60.0", keys...).Encode()
	if err != nil {
		t.Fatalf("encode manifest: %v", err)
	}
	return pkg
}

// Test: deploy packages the components with a manifest and reports
// component outcomes without failing the call.
func TestDeploy_ComponentOutcomes(t *testing.T) {
	f := newFixture()
	f.backend.DeployReportFn = func(ctx context.Context, job *domain.Job) (*metadata.DeployReport, error) {
		return &metadata.DeployReport{
			Success: false,
			Status:  "SucceededPartial",
			Components: []metadata.ComponentOutcome{
				{Type: metadata.TypeCustomObject, FullName: "Review__c", Success: true, Created: true},
				{Type: metadata.TypeCustomField, FullName: "Review__c.Score__c", Problem: "Invalid precision", ProblemType: "Error"},
			},
		}, nil
	}

	opts := metadata.DeployOptions{RollbackOnError: true}
	result, err := f.metadata(nil).Deploy(context.Background(), []metadata.Component{reviewObject(), scoreField()}, opts)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if failures := result.Failures(); len(failures) != 1 || failures[0].FullName != "Review__c.Score__c" {
		t.Errorf("unexpected failures %+v", failures)
	}

	spec := f.backend.Specs[0]
	if spec.Kind != domain.KindDeploy || spec.Options[metadata.OptionRollbackOnError] != "true" {
		t.Errorf("unexpected spec %+v", spec)
	}
	archive, err := metadata.ParseArchive(spec.Payload)
	if err != nil {
		t.Fatalf("deployed archive does not parse: %v", err)
	}
	if len(archive.Components) != 2 || archive.Manifest.Len() != 2 {
		t.Errorf("expected 2 components in archive, got %d", len(archive.Components))
	}

	outcomes := f.sink.Recorded()
	if len(outcomes) != 1 || outcomes[0].SuccessCount != 1 || outcomes[0].FailedCount != 1 {
		t.Errorf("unexpected outcomes %+v", outcomes)
	}
}

// Test: an archive whose manifest lists a component with no document is
// rejected before any remote call.
func TestDeployArchive_Malformed(t *testing.T) {
	f := newFixture()
	data := zipOf(t, map[string][]byte{
		"package.xml": manifestOf(t,
			metadata.Key{Type: metadata.TypeCustomObject, FullName: "Review__c"},
			metadata.Key{Type: metadata.TypeCustomField, FullName: "Review__c.Score__c"},
		),
		"objects/Review__c.object": marshal(t, reviewObject()),
	})

	_, err := f.metadata(nil).DeployArchive(context.Background(), data, metadata.DeployOptions{})
	if !errors.Is(err, domain.ErrMalformedArchive) {
		t.Fatalf("expected ErrMalformedArchive, got %v", err)
	}
	var mae *domain.MalformedArchiveError
	if !errors.As(err, &mae) || len(mae.Missing) != 1 {
		t.Errorf("unexpected error %+v", mae)
	}
	if calls := f.backend.CallNames(); len(calls) != 0 {
		t.Errorf("expected zero remote calls, got %v", calls)
	}
}

func TestDeploy_Validation(t *testing.T) {
	f := newFixture()
	uc := f.metadata(nil)

	if _, err := uc.Deploy(context.Background(), nil, metadata.DeployOptions{}); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("expected ErrValidation for no components, got %v", err)
	}

	bad := &metadata.Field{Object: "Review__c", Name: "Score", Label: "Score", FieldType: metadata.FieldNumber}
	_, err := uc.Deploy(context.Background(), []metadata.Component{reviewObject(), bad}, metadata.DeployOptions{})
	var ve *domain.ValidationError
	if !errors.As(err, &ve) || len(ve.Indices) != 1 || ve.Indices[0] != 1 {
		t.Errorf("expected validation error on index 1, got %v", err)
	}

	opts := metadata.DeployOptions{TestLevel: metadata.TestLevelSpecified}
	if _, err := uc.Deploy(context.Background(), []metadata.Component{reviewObject()}, opts); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("expected ErrValidation for RunSpecifiedTests without tests, got %v", err)
	}
	if calls := f.backend.CallNames(); len(calls) != 0 {
		t.Errorf("expected zero remote calls, got %v", calls)
	}
}

// Test: a failed deploy without a remote message is explained from the report.
func TestDeploy_Failed(t *testing.T) {
	f := newFixture()
	f.backend.StatusSequence = []domain.JobState{domain.StateInProgress, domain.StateFailed}
	f.backend.DeployReportFn = func(ctx context.Context, job *domain.Job) (*metadata.DeployReport, error) {
		return &metadata.DeployReport{
			Status: "Failed",
			Components: []metadata.ComponentOutcome{
				{Type: metadata.TypeCustomField, FullName: "Review__c.Score__c", Problem: "Invalid precision", ProblemType: "Error"},
			},
			Tests: &metadata.TestSummary{NumTestsRun: 1, NumFailures: 1, Failures: []metadata.TestFailure{
				{Name: "ReviewTest", MethodName: "testScore", Message: "Assertion failed"},
			}},
		}, nil
	}

	_, err := f.metadata(nil).Deploy(context.Background(), []metadata.Component{reviewObject(), scoreField()}, metadata.DeployOptions{})
	var jf *domain.JobFailure
	if !errors.As(err, &jf) {
		t.Fatalf("expected JobFailure, got %v", err)
	}
	for _, want := range []string{"CustomField Review__c.Score__c: Invalid precision", "test ReviewTest.testScore: Assertion failed"} {
		if !strings.Contains(jf.Message, want) {
			t.Errorf("message %q missing %q", jf.Message, want)
		}
	}
}

// Test: retrieve decodes the archive and stores it.
func TestRetrieve(t *testing.T) {
	f := newFixture()
	zipped := zipOf(t, map[string][]byte{
		"unpackaged/package.xml":              manifestOf(t, metadata.Key{Type: metadata.TypeCustomObject, FullName: "Review__c"}),
		"unpackaged/objects/Review__c.object": marshal(t, reviewObject()),
	})
	f.backend.RetrieveReportFn = func(ctx context.Context, job *domain.Job) (*metadata.RetrieveReport, error) {
		return &metadata.RetrieveReport{Success: true, Status: "Succeeded", ZipFile: zipped}, nil
	}
	store := &repomock.ArchiveStore{}

	manifest := metadata.NewManifest("60.0", metadata.Key{Type: metadata.TypeCustomObject, FullName: "Review__c"})
	result, err := f.metadata(store).Retrieve(context.Background(), manifest)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Components) != 1 || result.Components[0].FullName() != "Review__c" {
		t.Errorf("unexpected components %v", result.Components)
	}
	wantURI := "mem://retrieve/" + result.Job.ID + ".zip"
	if result.ArchiveURI != wantURI {
		t.Errorf("expected archive uri %s, got %s", wantURI, result.ArchiveURI)
	}
	if !bytes.Equal(store.Objects["retrieve/"+result.Job.ID+".zip"], zipped) {
		t.Error("archive was not stored")
	}

	decoded, err := metadata.DecodeManifest(f.backend.Specs[0].Payload)
	if err != nil || decoded.Len() != 1 {
		t.Errorf("expected the manifest as retrieve payload, got %v", err)
	}

	if _, err := f.metadata(nil).Retrieve(context.Background(), metadata.NewManifest("60.0")); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("expected ErrValidation for an empty manifest, got %v", err)
	}
}

// Test: compare reports local-only components as added and attribute changes
// as modified.
func TestCompare(t *testing.T) {
	f := newFixture()
	remoteObject := reviewObject()
	zipped := zipOf(t, map[string][]byte{
		"unpackaged/package.xml": manifestOf(t,
			metadata.Key{Type: metadata.TypeCustomObject, FullName: "Review__c"},
			metadata.Key{Type: metadata.TypeCustomField, FullName: "Review__c.Score__c"},
		),
		"unpackaged/objects/Review__c.object": marshal(t, remoteObject),
	})
	f.backend.RetrieveReportFn = func(ctx context.Context, job *domain.Job) (*metadata.RetrieveReport, error) {
		return &metadata.RetrieveReport{
			Success:  true,
			ZipFile:  zipped,
			Messages: []string{"unpackaged/package.xml: Entity of type 'CustomField' named 'Review__c.Score__c' cannot be found"},
		}, nil
	}

	localObject := reviewObject()
	localObject.Label = "Product Review"
	diff, err := f.metadata(nil).Compare(context.Background(), []metadata.Component{localObject, scoreField()})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(diff.Added) != 1 || diff.Added[0].FullName != "Review__c.Score__c" {
		t.Errorf("unexpected added %v", diff.Added)
	}
	if len(diff.Modified) != 1 || diff.Modified[0].Key.FullName != "Review__c" {
		t.Errorf("unexpected modified %v", diff.Modified)
	}
	if len(diff.Removed) != 0 {
		t.Errorf("unexpected removed %v", diff.Removed)
	}
}
