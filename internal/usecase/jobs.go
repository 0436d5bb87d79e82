package usecase

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/Harsh-BH/crmjobs/internal/domain"
	"github.com/Harsh-BH/crmjobs/internal/poller"
	"github.com/Harsh-BH/crmjobs/internal/remote"
)

// JobsUsecase inspects and controls remote jobs by id, whichever facade
// submitted them.
type JobsUsecase struct {
	bulk     *orchestrator
	metadata *orchestrator
	logger   *zap.Logger
}

// NewJobsUsecase creates a JobsUsecase. Either API may be nil when that job
// family is not configured.
func NewJobsUsecase(bulk remote.BulkAPI, meta remote.MetadataAPI, p *poller.Poller, deps Dependencies, logger *zap.Logger) *JobsUsecase {
	uc := &JobsUsecase{logger: logger}
	if bulk != nil {
		uc.bulk = newOrchestrator(bulk, p, deps, logger)
	}
	if meta != nil {
		uc.metadata = newOrchestrator(meta, p, deps, logger)
	}
	return uc
}

func (uc *JobsUsecase) route(kind domain.JobKind, id string) (*orchestrator, *domain.Job, error) {
	if strings.TrimSpace(id) == "" {
		return nil, nil, &domain.ValidationError{Field: "id", Reason: "job id is required"}
	}
	var o *orchestrator
	switch kind {
	case domain.KindIngest, domain.KindQuery:
		o = uc.bulk
	case domain.KindDeploy, domain.KindRetrieve:
		o = uc.metadata
	default:
		return nil, nil, &domain.ValidationError{Field: "kind", Reason: fmt.Sprintf("unknown job kind %q", kind)}
	}
	if o == nil {
		return nil, nil, &domain.ValidationError{Field: "kind", Reason: fmt.Sprintf("no backend configured for %s jobs", kind)}
	}
	return o, &domain.Job{ID: id, Kind: kind}, nil
}

// Status fetches one snapshot of a job.
func (uc *JobsUsecase) Status(ctx context.Context, kind domain.JobKind, id string) (*domain.Job, error) {
	o, job, err := uc.route(kind, id)
	if err != nil {
		return nil, err
	}
	snapshot, err := o.backend.JobStatus(ctx, job)
	if err != nil {
		uc.logger.Error("Failed to fetch job status", zap.String("job_id", id), zap.String("kind", string(kind)), zap.Error(err))
		return nil, fmt.Errorf("usecase: status of job %s: %w", id, err)
	}
	return snapshot, nil
}

// Abort asks the remote system to stop a job. Timeouts never abort on their
// own; this is the only path that does.
func (uc *JobsUsecase) Abort(ctx context.Context, kind domain.JobKind, id string) (*domain.Job, error) {
	o, job, err := uc.route(kind, id)
	if err != nil {
		return nil, err
	}
	aborted, err := o.backend.AbortJob(ctx, job)
	if err != nil {
		uc.logger.Error("Failed to abort job", zap.String("job_id", id), zap.String("kind", string(kind)), zap.Error(err))
		return nil, fmt.Errorf("usecase: abort job %s: %w", id, err)
	}
	uc.logger.Info("Job abort requested",
		zap.String("job_id", id),
		zap.String("kind", string(kind)),
		zap.String("state", string(aborted.State)),
	)
	return aborted, nil
}

// Resume polls an existing job until it is terminal and returns the final
// snapshot. A job that ended Failed or Aborted is returned as *JobFailure.
// Use the facades' Resume methods to also fetch results.
func (uc *JobsUsecase) Resume(ctx context.Context, kind domain.JobKind, id string, opts ...RunOption) (*domain.Job, error) {
	o, job, err := uc.route(kind, id)
	if err != nil {
		return nil, err
	}
	current, err := o.backend.JobStatus(ctx, job)
	if err != nil {
		return nil, fmt.Errorf("usecase: status of job %s: %w", id, err)
	}
	inv, final, err := o.resume(ctx, current, buildRunOptions(opts), o.poller.Policy())
	if err != nil {
		return nil, err
	}
	o.finish(ctx, inv, final, string(final.State), final.RecordsProcessed-final.RecordsFailed, final.RecordsFailed, "")
	return final, nil
}

// Watch polls a job until it is terminal, passing every snapshot to
// onProgress. Unlike Resume it records no outcome and publishes no events,
// so any number of observers can watch the same job.
func (uc *JobsUsecase) Watch(ctx context.Context, kind domain.JobKind, id string, onProgress poller.ProgressFunc) (*domain.Job, error) {
	o, job, err := uc.route(kind, id)
	if err != nil {
		return nil, err
	}
	current, err := o.backend.JobStatus(ctx, job)
	if err != nil {
		return nil, fmt.Errorf("usecase: status of job %s: %w", id, err)
	}
	if onProgress != nil {
		onProgress(*current)
	}
	return o.poller.PollUntilTerminal(ctx, current, o.backend.JobStatus, onProgress)
}
