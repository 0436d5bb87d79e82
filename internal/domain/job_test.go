package domain_test

import (
	"errors"
	"slices"
	"testing"

	"github.com/Harsh-BH/crmjobs/internal/domain"
)

// Test: forward transitions and re-observations are accepted.
func TestValidateTransition_Forward(t *testing.T) {
	path := []domain.JobState{
		domain.StateOpen,
		domain.StateUploadInProgress,
		domain.StateUploadComplete,
		domain.StateUploadComplete,
		domain.StateInProgress,
		domain.StateComplete,
		domain.StateComplete,
	}
	prev := domain.JobState("")
	for _, next := range path {
		if err := domain.ValidateTransition(prev, next); err != nil {
			t.Fatalf("%s -> %s: unexpected error: %v", prev, next, err)
		}
		prev = next
	}
}

// Test: skipping intermediate states is allowed, moving backwards is not.
func TestValidateTransition_Backward(t *testing.T) {
	if err := domain.ValidateTransition(domain.StateOpen, domain.StateInProgress); err != nil {
		t.Errorf("skip forward should be allowed: %v", err)
	}

	cases := []struct{ prev, next domain.JobState }{
		{domain.StateInProgress, domain.StateOpen},
		{domain.StateInProgress, domain.StateQueued},
		{domain.StateComplete, domain.StateInProgress},
		{domain.StateFailed, domain.StateComplete},
	}
	for _, tc := range cases {
		err := domain.ValidateTransition(tc.prev, tc.next)
		if !errors.Is(err, domain.ErrInvalidTransition) {
			t.Errorf("%s -> %s: expected ErrInvalidTransition, got %v", tc.prev, tc.next, err)
		}
	}
}

// Test: unknown remote states are rejected.
func TestValidateTransition_Unknown(t *testing.T) {
	err := domain.ValidateTransition(domain.StateOpen, domain.JobState("Exploded"))
	if !errors.Is(err, domain.ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestJobState_IsTerminal(t *testing.T) {
	terminal := map[domain.JobState]bool{
		domain.StateOpen:             false,
		domain.StateUploadInProgress: false,
		domain.StateUploadComplete:   false,
		domain.StateQueued:           false,
		domain.StateInProgress:       false,
		domain.StateComplete:         true,
		domain.StateFailed:           true,
		domain.StateAborted:          true,
	}
	for state, want := range terminal {
		if got := state.IsTerminal(); got != want {
			t.Errorf("%s.IsTerminal() = %v, want %v", state, got, want)
		}
	}
}

func TestOperation_Requirements(t *testing.T) {
	if !domain.OpUpdate.RequiresID() || !domain.OpDelete.RequiresID() || !domain.OpHardDelete.RequiresID() {
		t.Error("update, delete and hardDelete must require Id")
	}
	if domain.OpInsert.RequiresID() || domain.OpUpsert.RequiresID() {
		t.Error("insert and upsert must not require Id")
	}
	if !domain.OpUpsert.RequiresExternalID() {
		t.Error("upsert must require an external id")
	}
	if domain.OpQueryAll.Kind() != domain.KindQuery {
		t.Errorf("queryAll kind = %s", domain.OpQueryAll.Kind())
	}
}

// Test: typed errors match their sentinels and unwrap causes.
func TestErrors_Is(t *testing.T) {
	cause := errors.New("connection reset")

	var err error = &domain.SubmissionError{Step: "upload", JobID: "750x", Err: cause}
	if !errors.Is(err, domain.ErrSubmission) || !errors.Is(err, cause) {
		t.Errorf("SubmissionError should match sentinel and cause: %v", err)
	}

	err = &domain.TimeoutError{Job: &domain.Job{ID: "750x", State: domain.StateInProgress}}
	if !errors.Is(err, domain.ErrTimeout) {
		t.Errorf("TimeoutError should match ErrTimeout")
	}
	var te *domain.TimeoutError
	if !errors.As(err, &te) || te.Job.State != domain.StateInProgress {
		t.Errorf("TimeoutError should carry the last snapshot")
	}

	err = &domain.ValidationError{Op: domain.OpUpdate, Field: "Id", Indices: []int{0, 2}, Reason: "missing Id"}
	if !errors.Is(err, domain.ErrValidation) {
		t.Errorf("ValidationError should match ErrValidation")
	}
	if errors.Is(err, domain.ErrSubmission) {
		t.Errorf("ValidationError must not match ErrSubmission")
	}
}

func TestBulkResult_Stats(t *testing.T) {
	r := &domain.BulkResult{
		SuccessRecords: []domain.Record{{"Name": "a"}, {"Name": "b"}, {"Name": "c"}},
		FailedRecords:  []domain.Record{{"Name": ""}},
	}
	if r.Total() != 4 {
		t.Errorf("Total() = %d", r.Total())
	}
	if r.SuccessRate() != 75 {
		t.Errorf("SuccessRate() = %v", r.SuccessRate())
	}
	if r.IsSuccessful() {
		t.Error("IsSuccessful() should be false with failures")
	}
	empty := &domain.BulkResult{}
	if empty.SuccessRate() != 0 {
		t.Errorf("empty SuccessRate() = %v", empty.SuccessRate())
	}
}

// Test: merged chunk results keep indices relative to the whole submission.
func TestBulkResult_Merge(t *testing.T) {
	total := &domain.BulkResult{}
	total.Merge(&domain.BulkResult{
		Job:            &domain.Job{ID: "750A"},
		SuccessRecords: []domain.Record{{"Name": "a"}, {"Name": "b"}},
		SuccessIndices: []int{0, 1},
	}, 0)
	total.Merge(&domain.BulkResult{
		Job:            &domain.Job{ID: "750B"},
		SuccessRecords: []domain.Record{{"Name": "d"}},
		SuccessIndices: []int{1},
		FailedRecords:  []domain.Record{{"Name": "c"}},
		FailedIndices:  []int{0},
		Errors:         []domain.RecordError{{Code: "DUPLICATE_VALUE"}},
	}, 2)

	if total.Job.ID != "750A" {
		t.Errorf("expected first chunk's job, got %s", total.Job.ID)
	}
	if !slices.Equal(total.SuccessIndices, []int{0, 1, 3}) {
		t.Errorf("unexpected success indices %v", total.SuccessIndices)
	}
	if !slices.Equal(total.FailedIndices, []int{2}) || total.Errors[0].Code != "DUPLICATE_VALUE" {
		t.Errorf("unexpected failures %v %v", total.FailedIndices, total.Errors)
	}
}
