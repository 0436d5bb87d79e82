// Package submitter creates remote jobs and hands them their payload.
package submitter

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/Harsh-BH/crmjobs/internal/domain"
	"github.com/Harsh-BH/crmjobs/internal/metrics"
)

// Submission steps reported in *domain.SubmissionError.
const (
	StepCreate = "create"
	StepUpload = "upload"
	StepClose  = "close"
)

const abortTimeout = 30 * time.Second

// Backend is the lifecycle surface shared by every remote job API.
type Backend interface {
	CreateJob(ctx context.Context, spec *domain.JobSpec) (*domain.Job, error)
	UploadPayload(ctx context.Context, job *domain.Job, payload []byte) error
	CloseJob(ctx context.Context, job *domain.Job) (*domain.Job, error)
	JobStatus(ctx context.Context, job *domain.Job) (*domain.Job, error)
	AbortJob(ctx context.Context, job *domain.Job) (*domain.Job, error)
}

// Submitter runs the create, upload and close steps for one job.
type Submitter struct {
	backend Backend
	logger  *zap.Logger
}

// NewSubmitter creates a Submitter for backend.
func NewSubmitter(backend Backend, logger *zap.Logger) *Submitter {
	return &Submitter{backend: backend, logger: logger}
}

// Submit creates the remote job described by spec. Ingest jobs then receive
// their payload and are closed; other kinds carry the payload in the create
// call. On failure after create, the orphaned remote job is aborted on a
// best-effort basis and no Job is returned.
func (s *Submitter) Submit(ctx context.Context, spec *domain.JobSpec) (*domain.Job, error) {
	job, err := s.backend.CreateJob(ctx, spec)
	if err != nil {
		metrics.SubmissionFailures.WithLabelValues(string(spec.Kind), StepCreate).Inc()
		return nil, &domain.SubmissionError{Step: StepCreate, Err: err}
	}
	metrics.JobsSubmitted.WithLabelValues(string(spec.Kind), string(spec.Operation)).Inc()

	s.logger.Info("Remote job created",
		zap.String("job_id", job.ID),
		zap.String("kind", string(job.Kind)),
		zap.String("operation", string(job.Operation)),
		zap.String("object", job.Object),
		zap.String("state", string(job.State)),
	)

	if !spec.Kind.AcceptsUpload() {
		return job, nil
	}

	if err := s.backend.UploadPayload(ctx, job, spec.Payload); err != nil {
		return nil, s.fail(job, StepUpload, err)
	}
	s.logger.Debug("Payload uploaded",
		zap.String("job_id", job.ID),
		zap.Int("bytes", len(spec.Payload)),
	)

	closed, err := s.backend.CloseJob(ctx, job)
	if err != nil {
		return nil, s.fail(job, StepClose, err)
	}
	return closed, nil
}

func (s *Submitter) fail(job *domain.Job, step string, cause error) error {
	metrics.SubmissionFailures.WithLabelValues(string(job.Kind), step).Inc()
	s.logger.Error("Job submission failed, aborting orphaned job",
		zap.String("job_id", job.ID),
		zap.String("step", step),
		zap.Error(cause),
	)

	// Best-effort: the caller's context may already be cancelled.
	abortCtx, cancel := context.WithTimeout(context.Background(), abortTimeout)
	defer cancel()
	if _, err := s.backend.AbortJob(abortCtx, job); err != nil {
		s.logger.Warn("Failed to abort orphaned job",
			zap.String("job_id", job.ID),
			zap.Error(err),
		)
	}
	return &domain.SubmissionError{Step: step, JobID: job.ID, Err: cause}
}
