package reconcile

import (
	"errors"
	"testing"

	"github.com/Harsh-BH/crmjobs/internal/domain"
	"github.com/Harsh-BH/crmjobs/internal/rowcodec"
)

func decode(t *testing.T, payload string) *rowcodec.Table {
	t.Helper()
	table, err := rowcodec.Decode([]byte(payload))
	if err != nil {
		t.Fatalf("decode %q: %v", payload, err)
	}
	return table
}

func submission() Submission {
	return Submission{
		Records: []domain.Record{
			{"Name": "Acme", "Industry": "Tech"},
			{"Name": "Globex", "Industry": ""},
			{"Name": "Initech", "Industry": "Tech"},
		},
		Columns: []string{"Industry", "Name"},
	}
}

// Test: one server-side failure splits 2/1 and the error names the field.
func TestReconcile_PartialFailure(t *testing.T) {
	out := Outputs{
		Successful: decode(t, "sf__Id,sf__Created,Industry,Name\n001A,true,Tech,Initech\n001B,true,Tech,Acme\n"),
		Failed:     decode(t, "sf__Id,sf__Error,Industry,Name\n,REQUIRED_FIELD_MISSING:Required fields are missing: [Industry]:Industry --,,Globex\n"),
	}

	result, err := Reconcile(&domain.Job{ID: "750x"}, submission(), out)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.SuccessCount() != 2 || result.FailedCount() != 1 {
		t.Fatalf("expected 2/1, got %d/%d", result.SuccessCount(), result.FailedCount())
	}
	if result.SuccessIndices[0] != 0 || result.SuccessIndices[1] != 2 {
		t.Errorf("success records must keep submission order, got %v", result.SuccessIndices)
	}
	if result.SuccessIDs[0] != "001B" || result.SuccessIDs[1] != "001A" {
		t.Errorf("ids must follow their records, got %v", result.SuccessIDs)
	}
	if result.FailedIndices[0] != 1 {
		t.Errorf("expected failed index 1, got %v", result.FailedIndices)
	}
	e := result.Errors[0]
	if e.Code != "REQUIRED_FIELD_MISSING" {
		t.Errorf("unexpected code %q", e.Code)
	}
	if len(e.Fields) != 1 || e.Fields[0] != "Industry" {
		t.Errorf("expected fields [Industry], got %v", e.Fields)
	}
	if e.Message != "Required fields are missing: [Industry]" {
		t.Errorf("unexpected message %q", e.Message)
	}
}

// Test: duplicate submitted rows are claimed in submission order.
func TestReconcile_DuplicateRows(t *testing.T) {
	sub := Submission{
		Records: []domain.Record{{"Name": "Same"}, {"Name": "Same"}, {"Name": "Same"}},
		Columns: []string{"Name"},
	}
	out := Outputs{
		Successful: decode(t, "sf__Id,sf__Created,Name\n001A,true,Same\n001B,true,Same\n"),
		Failed:     decode(t, "sf__Id,sf__Error,Name\n,DUPLICATE_VALUE:duplicate value found:Name --,Same\n"),
	}

	result, err := Reconcile(nil, sub, out)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.SuccessIndices[0] != 0 || result.SuccessIndices[1] != 1 || result.FailedIndices[0] != 2 {
		t.Errorf("unexpected indices %v / %v", result.SuccessIndices, result.FailedIndices)
	}
}

// Test: unprocessed rows become UNPROCESSED failures.
func TestReconcile_Unprocessed(t *testing.T) {
	out := Outputs{
		Successful:  decode(t, "sf__Id,sf__Created,Industry,Name\n001A,true,Tech,Acme\n"),
		Unprocessed: decode(t, "Industry,Name\n,Globex\nTech,Initech\n"),
	}

	result, err := Reconcile(nil, submission(), out)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.FailedCount() != 2 {
		t.Fatalf("expected 2 failures, got %d", result.FailedCount())
	}
	for i, e := range result.Errors {
		if e.Code != CodeUnprocessed {
			t.Errorf("error %d: expected %s, got %s", i, CodeUnprocessed, e.Code)
		}
	}
}

// Test: missing result rows break the count invariant.
func TestReconcile_CountMismatch(t *testing.T) {
	out := Outputs{
		Successful: decode(t, "sf__Id,sf__Created,Industry,Name\n001A,true,Tech,Acme\n"),
	}
	_, err := Reconcile(nil, submission(), out)
	if !errors.Is(err, domain.ErrReconciliation) {
		t.Fatalf("expected ErrReconciliation, got %v", err)
	}
}

// Test: a result row matching nothing submitted is rejected.
func TestReconcile_UnknownRow(t *testing.T) {
	out := Outputs{
		Successful: decode(t, "sf__Id,sf__Created,Industry,Name\n001A,true,Tech,Umbrella\n"),
	}
	_, err := Reconcile(nil, submission(), out)
	if !errors.Is(err, domain.ErrReconciliation) {
		t.Fatalf("expected ErrReconciliation, got %v", err)
	}
}

// Test: 18 character ids in results match 15 character submitted ids.
func TestReconcile_IDForms(t *testing.T) {
	sub := Submission{
		Records: []domain.Record{{"Id": "001000000000001"}, {"Id": "001000000000002"}},
		Columns: []string{"Id"},
	}
	out := Outputs{
		Successful: decode(t, "sf__Id,sf__Created,Id\n001000000000002AAA,false,001000000000002AAA\n"),
		Failed:     decode(t, "sf__Id,sf__Error,Id\n001000000000001AAA,ENTITY_IS_DELETED:entity is deleted:--,001000000000001AAA\n"),
	}

	result, err := Reconcile(nil, sub, out)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.FailedIndices[0] != 0 || result.SuccessIndices[0] != 1 {
		t.Errorf("unexpected indices %v / %v", result.SuccessIndices, result.FailedIndices)
	}
	if result.Errors[0].Message != "entity is deleted" || len(result.Errors[0].Fields) != 0 {
		t.Errorf("unexpected error %+v", result.Errors[0])
	}
}

// Test: explicit status code and field columns win over the parsed error text.
func TestReconcile_ExplicitColumns(t *testing.T) {
	sub := Submission{Records: []domain.Record{{"Name": "A"}}, Columns: []string{"Name"}}
	out := Outputs{
		Failed: decode(t, "sf__Id,sf__Error,sf__StatusCode,sf__Fields,Name\n,bad value,FIELD_CUSTOM_VALIDATION_EXCEPTION,\"Name,Phone\",A\n"),
	}
	result, err := Reconcile(nil, sub, out)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	e := result.Errors[0]
	if e.Code != "FIELD_CUSTOM_VALIDATION_EXCEPTION" || len(e.Fields) != 2 || e.Fields[1] != "Phone" {
		t.Errorf("unexpected error %+v", e)
	}
}

// Test: null tokens in results match nil submitted values.
func TestReconcile_NullValues(t *testing.T) {
	sub := Submission{
		Records: []domain.Record{{"Id": "001000000000001", "Phone": nil}},
		Columns: []string{"Id", "Phone"},
	}
	out := Outputs{Successful: decode(t, "sf__Id,sf__Created,Id,Phone\n001000000000001,false,001000000000001,#N/A\n")}
	if _, err := Reconcile(nil, sub, out); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestParseError(t *testing.T) {
	tests := []struct {
		raw     string
		code    string
		message string
		fields  []string
	}{
		{"INVALID_EMAIL_ADDRESS:Email: invalid email address: bad:Email --", "INVALID_EMAIL_ADDRESS", "Email: invalid email address: bad", []string{"Email"}},
		{"STRING_TOO_LONG:Name: data value too large:Name,Site --", "STRING_TOO_LONG", "Name: data value too large", []string{"Name", "Site"}},
		{"ENTITY_IS_DELETED:entity is deleted:--", "ENTITY_IS_DELETED", "entity is deleted", nil},
		{"something went wrong", CodeUnknown, "something went wrong", nil},
		{"", CodeUnknown, "", nil},
	}
	for _, tt := range tests {
		got := ParseError(tt.raw)
		if got.Code != tt.code || got.Message != tt.message || len(got.Fields) != len(tt.fields) {
			t.Errorf("ParseError(%q) = %+v", tt.raw, got)
			continue
		}
		for i := range tt.fields {
			if got.Fields[i] != tt.fields[i] {
				t.Errorf("ParseError(%q) fields = %v, want %v", tt.raw, got.Fields, tt.fields)
			}
		}
	}
}
