package mock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Harsh-BH/crmjobs/internal/domain"
	"github.com/Harsh-BH/crmjobs/internal/metadata"
	"github.com/Harsh-BH/crmjobs/internal/remote"
)

var (
	_ remote.BulkAPI     = (*Backend)(nil)
	_ remote.MetadataAPI = (*Backend)(nil)
)

// Call records one invocation on the Backend.
type Call struct {
	Name  string
	JobID string
}

// Backend is an in-memory remote API. Each job walks through StatusSequence,
// one state per status call, and stays on the last state.
type Backend struct {
	mu sync.Mutex

	CreateJobFn          func(ctx context.Context, spec *domain.JobSpec) (*domain.Job, error)
	UploadPayloadFn      func(ctx context.Context, job *domain.Job, payload []byte) error
	CloseJobFn           func(ctx context.Context, job *domain.Job) (*domain.Job, error)
	JobStatusFn          func(ctx context.Context, job *domain.Job) (*domain.Job, error)
	AbortJobFn           func(ctx context.Context, job *domain.Job) (*domain.Job, error)
	SuccessfulResultsFn  func(ctx context.Context, job *domain.Job) ([]byte, error)
	FailedResultsFn      func(ctx context.Context, job *domain.Job) ([]byte, error)
	UnprocessedRecordsFn func(ctx context.Context, job *domain.Job) ([]byte, error)
	DeployReportFn       func(ctx context.Context, job *domain.Job) (*metadata.DeployReport, error)
	RetrieveReportFn     func(ctx context.Context, job *domain.Job) (*metadata.RetrieveReport, error)

	StatusSequence []domain.JobState
	ErrorMessage   string

	SuccessPayload     []byte
	FailedPayload      []byte
	UnprocessedPayload []byte
	QueryPages         [][]byte

	Calls    []Call
	Specs    []*domain.JobSpec
	Uploaded map[string][]byte

	jobs  map[string]*domain.Job
	polls map[string]int
	seq   int
}

// NewBackend creates a backend whose jobs complete on the second status call.
func NewBackend() *Backend {
	return &Backend{
		StatusSequence: []domain.JobState{domain.StateInProgress, domain.StateComplete},
		Uploaded:       make(map[string][]byte),
		jobs:           make(map[string]*domain.Job),
		polls:          make(map[string]int),
	}
}

func (b *Backend) record(name, jobID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Calls = append(b.Calls, Call{Name: name, JobID: jobID})
}

// CallNames returns the recorded call names in order.
func (b *Backend) CallNames() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	names := make([]string, len(b.Calls))
	for i, c := range b.Calls {
		names[i] = c.Name
	}
	return names
}

// CountCalls returns how many times name was called.
func (b *Backend) CountCalls(name string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, c := range b.Calls {
		if c.Name == name {
			n++
		}
	}
	return n
}

// Seed registers an existing remote job, as if created by another process.
func (b *Backend) Seed(job *domain.Job) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.jobs[job.ID] = job.Clone()
}

func (b *Backend) CreateJob(ctx context.Context, spec *domain.JobSpec) (*domain.Job, error) {
	b.record("create", "")
	b.mu.Lock()
	b.Specs = append(b.Specs, spec)
	b.mu.Unlock()
	if b.CreateJobFn != nil {
		return b.CreateJobFn(ctx, spec)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.seq++
	state := domain.StateQueued
	switch spec.Kind {
	case domain.KindIngest:
		state = domain.StateOpen
	case domain.KindQuery:
		state = domain.StateUploadComplete
	}
	job := &domain.Job{
		ID:              fmt.Sprintf("750%012d", b.seq),
		Kind:            spec.Kind,
		Operation:       spec.Operation,
		Object:          spec.Object,
		ExternalIDField: spec.ExternalIDField,
		State:           state,
		CreatedAt:       time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	b.jobs[job.ID] = job
	return job.Clone(), nil
}

func (b *Backend) UploadPayload(ctx context.Context, job *domain.Job, payload []byte) error {
	b.record("upload", job.ID)
	if b.UploadPayloadFn != nil {
		return b.UploadPayloadFn(ctx, job, payload)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Uploaded[job.ID] = payload
	return nil
}

func (b *Backend) CloseJob(ctx context.Context, job *domain.Job) (*domain.Job, error) {
	b.record("close", job.ID)
	if b.CloseJobFn != nil {
		return b.CloseJobFn(ctx, job)
	}
	return b.setState(job.ID, domain.StateUploadComplete)
}

func (b *Backend) JobStatus(ctx context.Context, job *domain.Job) (*domain.Job, error) {
	b.record("status", job.ID)
	if b.JobStatusFn != nil {
		return b.JobStatusFn(ctx, job)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	stored, ok := b.jobs[job.ID]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	if stored.State.IsTerminal() {
		return stored.Clone(), nil
	}
	i := b.polls[job.ID]
	if i >= len(b.StatusSequence) {
		i = len(b.StatusSequence) - 1
	}
	b.polls[job.ID]++
	stored.State = b.StatusSequence[i]
	if stored.State == domain.StateFailed || stored.State == domain.StateAborted {
		stored.ErrorMessage = b.ErrorMessage
	}
	return stored.Clone(), nil
}

func (b *Backend) AbortJob(ctx context.Context, job *domain.Job) (*domain.Job, error) {
	b.record("abort", job.ID)
	if b.AbortJobFn != nil {
		return b.AbortJobFn(ctx, job)
	}
	return b.setState(job.ID, domain.StateAborted)
}

func (b *Backend) setState(id string, state domain.JobState) (*domain.Job, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	stored, ok := b.jobs[id]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	stored.State = state
	return stored.Clone(), nil
}

func (b *Backend) SuccessfulResults(ctx context.Context, job *domain.Job) ([]byte, error) {
	b.record("successfulResults", job.ID)
	if b.SuccessfulResultsFn != nil {
		return b.SuccessfulResultsFn(ctx, job)
	}
	return b.SuccessPayload, nil
}

func (b *Backend) FailedResults(ctx context.Context, job *domain.Job) ([]byte, error) {
	b.record("failedResults", job.ID)
	if b.FailedResultsFn != nil {
		return b.FailedResultsFn(ctx, job)
	}
	return b.FailedPayload, nil
}

func (b *Backend) UnprocessedRecords(ctx context.Context, job *domain.Job) ([]byte, error) {
	b.record("unprocessedRecords", job.ID)
	if b.UnprocessedRecordsFn != nil {
		return b.UnprocessedRecordsFn(ctx, job)
	}
	return b.UnprocessedPayload, nil
}

// QueryResults serves QueryPages with locators "1", "2", ...
func (b *Backend) QueryResults(ctx context.Context, job *domain.Job, locator string) ([]byte, string, error) {
	b.record("queryResults", job.ID)
	page := 0
	if locator != "" {
		if _, err := fmt.Sscanf(locator, "%d", &page); err != nil {
			return nil, "", fmt.Errorf("bad locator %q", locator)
		}
	}
	if page >= len(b.QueryPages) {
		return nil, "", nil
	}
	next := ""
	if page+1 < len(b.QueryPages) {
		next = fmt.Sprint(page + 1)
	}
	return b.QueryPages[page], next, nil
}

func (b *Backend) DeployReport(ctx context.Context, job *domain.Job) (*metadata.DeployReport, error) {
	b.record("deployReport", job.ID)
	if b.DeployReportFn != nil {
		return b.DeployReportFn(ctx, job)
	}
	return &metadata.DeployReport{Success: true, Status: "Succeeded"}, nil
}

func (b *Backend) RetrieveReport(ctx context.Context, job *domain.Job) (*metadata.RetrieveReport, error) {
	b.record("retrieveReport", job.ID)
	if b.RetrieveReportFn != nil {
		return b.RetrieveReportFn(ctx, job)
	}
	return nil, fmt.Errorf("no retrieve report configured")
}
