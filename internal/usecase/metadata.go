package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/Harsh-BH/crmjobs/internal/domain"
	"github.com/Harsh-BH/crmjobs/internal/metadata"
	"github.com/Harsh-BH/crmjobs/internal/poller"
	"github.com/Harsh-BH/crmjobs/internal/remote"
	"github.com/Harsh-BH/crmjobs/internal/repository"
)

// MetadataUsecase deploys, retrieves and compares configuration components.
type MetadataUsecase struct {
	api        remote.MetadataAPI
	orch       *orchestrator
	store      repository.ArchiveStore
	apiVersion string
	logger     *zap.Logger
}

// NewMetadataUsecase creates a MetadataUsecase. store may be nil, in which
// case retrieved archives are only returned in memory.
func NewMetadataUsecase(api remote.MetadataAPI, p *poller.Poller, deps Dependencies, store repository.ArchiveStore, apiVersion string, logger *zap.Logger) *MetadataUsecase {
	if apiVersion == "" {
		apiVersion = metadata.DefaultAPIVersion
	}
	return &MetadataUsecase{
		api:        api,
		orch:       newOrchestrator(api, p, deps, logger),
		store:      store,
		apiVersion: apiVersion,
		logger:     logger,
	}
}

// Deploy packages components with a generated manifest and deploys them.
// Component-level failures in a completed deploy are reported in the result,
// not as an error.
func (uc *MetadataUsecase) Deploy(ctx context.Context, components []metadata.Component, opts metadata.DeployOptions, runOpts ...RunOption) (*metadata.DeployResult, error) {
	if len(components) == 0 {
		return nil, &domain.ValidationError{Op: domain.OpDeploy, Field: "components", Reason: "at least one component is required"}
	}
	var invalid []int
	var reasons []string
	for i, c := range components {
		if err := c.Validate(); err != nil {
			invalid = append(invalid, i)
			reasons = append(reasons, err.Error())
		}
	}
	if len(invalid) > 0 {
		return nil, &domain.ValidationError{Op: domain.OpDeploy, Field: "components", Indices: invalid, Reason: strings.Join(reasons, "; ")}
	}

	archive, err := metadata.BuildArchive(metadata.ManifestFor(uc.apiVersion, components), components)
	if err != nil {
		return nil, err
	}
	return uc.deploy(ctx, archive, opts, runOpts)
}

// DeployArchive deploys a prebuilt archive. The archive is parsed first so
// a manifest that disagrees with its documents never reaches the remote
// system.
func (uc *MetadataUsecase) DeployArchive(ctx context.Context, archive []byte, opts metadata.DeployOptions, runOpts ...RunOption) (*metadata.DeployResult, error) {
	if _, err := metadata.ParseArchive(archive); err != nil {
		uc.logger.Debug("Rejected deploy archive", zap.Error(err))
		return nil, err
	}
	return uc.deploy(ctx, archive, opts, runOpts)
}

func (uc *MetadataUsecase) deploy(ctx context.Context, archive []byte, opts metadata.DeployOptions, runOpts []RunOption) (*metadata.DeployResult, error) {
	if err := opts.Validate(); err != nil {
		return nil, &domain.ValidationError{Op: domain.OpDeploy, Field: "options", Reason: err.Error()}
	}
	spec := &domain.JobSpec{
		Kind:      domain.KindDeploy,
		Operation: domain.OpDeploy,
		Payload:   archive,
		Options:   opts.Options(),
	}
	ro := buildRunOptions(runOpts)
	inv, job, err := uc.orch.submitAndWait(ctx, spec, ro, uc.orch.poller.Policy())
	if err != nil {
		return nil, uc.explainDeployFailure(ctx, err)
	}
	return uc.deployReport(ctx, inv, job)
}

// ResumeDeploy waits on a deploy submitted earlier.
func (uc *MetadataUsecase) ResumeDeploy(ctx context.Context, job *domain.Job, runOpts ...RunOption) (*metadata.DeployResult, error) {
	if job.Kind != domain.KindDeploy {
		return nil, &domain.ValidationError{Op: job.Operation, Field: "kind", Reason: "resume expects a deploy job, got " + string(job.Kind)}
	}
	inv, final, err := uc.orch.resume(ctx, job, buildRunOptions(runOpts), uc.orch.poller.Policy())
	if err != nil {
		return nil, uc.explainDeployFailure(ctx, err)
	}
	return uc.deployReport(ctx, inv, final)
}

func (uc *MetadataUsecase) deployReport(ctx context.Context, inv *invocation, job *domain.Job) (*metadata.DeployResult, error) {
	report, err := uc.api.DeployReport(ctx, job)
	if err != nil {
		uc.orch.finish(ctx, inv, job, OutcomeResultsError, 0, 0, err.Error())
		return nil, fmt.Errorf("usecase: fetch deploy report for job %s: %w", job.ID, err)
	}
	result := &metadata.DeployResult{Job: job, DeployReport: *report}
	failed := len(result.Failures())
	uc.orch.finish(ctx, inv, job, string(domain.StateComplete), len(result.Components)-failed, failed, report.ErrorMessage)
	return result, nil
}

// explainDeployFailure fills an empty JobFailure message from the deploy
// report, which names the failing components.
func (uc *MetadataUsecase) explainDeployFailure(ctx context.Context, err error) error {
	var failure *domain.JobFailure
	if !errors.As(err, &failure) || failure.Message != "" || failure.Job.State != domain.StateFailed {
		return err
	}
	report, rerr := uc.api.DeployReport(ctx, failure.Job)
	if rerr != nil {
		uc.logger.Warn("Failed to fetch report for failed deploy", zap.String("job_id", failure.Job.ID), zap.Error(rerr))
		return err
	}
	var problems []string
	if report.ErrorMessage != "" {
		problems = append(problems, report.ErrorMessage)
	}
	for _, c := range (&metadata.DeployResult{DeployReport: *report}).Failures() {
		problems = append(problems, fmt.Sprintf("%s %s: %s", c.Type, c.FullName, c.Problem))
	}
	if report.Tests != nil {
		for _, f := range report.Tests.Failures {
			problems = append(problems, fmt.Sprintf("test %s.%s: %s", f.Name, f.MethodName, f.Message))
		}
	}
	return &domain.JobFailure{Job: failure.Job, Message: strings.Join(problems, "; ")}
}

// Retrieve fetches the components listed in manifest and decodes the
// returned archive. Entries that do not exist remotely are reported in
// Messages and left out of Components.
func (uc *MetadataUsecase) Retrieve(ctx context.Context, manifest *metadata.Manifest, runOpts ...RunOption) (*metadata.RetrieveResult, error) {
	if manifest == nil || manifest.Len() == 0 {
		return nil, &domain.ValidationError{Op: domain.OpRetrieve, Field: "manifest", Reason: "manifest lists no components"}
	}
	payload, err := manifest.Encode()
	if err != nil {
		return nil, &domain.ValidationError{Op: domain.OpRetrieve, Field: "manifest", Reason: err.Error()}
	}
	spec := &domain.JobSpec{
		Kind:      domain.KindRetrieve,
		Operation: domain.OpRetrieve,
		Payload:   payload,
	}
	inv, job, err := uc.orch.submitAndWait(ctx, spec, buildRunOptions(runOpts), uc.orch.poller.Policy())
	if err != nil {
		return nil, err
	}
	return uc.retrieveResult(ctx, inv, job)
}

// ResumeRetrieve waits on a retrieve submitted earlier.
func (uc *MetadataUsecase) ResumeRetrieve(ctx context.Context, job *domain.Job, runOpts ...RunOption) (*metadata.RetrieveResult, error) {
	if job.Kind != domain.KindRetrieve {
		return nil, &domain.ValidationError{Op: job.Operation, Field: "kind", Reason: "resume expects a retrieve job, got " + string(job.Kind)}
	}
	inv, final, err := uc.orch.resume(ctx, job, buildRunOptions(runOpts), uc.orch.poller.Policy())
	if err != nil {
		return nil, err
	}
	return uc.retrieveResult(ctx, inv, final)
}

func (uc *MetadataUsecase) retrieveResult(ctx context.Context, inv *invocation, job *domain.Job) (*metadata.RetrieveResult, error) {
	report, err := uc.api.RetrieveReport(ctx, job)
	if err != nil {
		uc.orch.finish(ctx, inv, job, OutcomeResultsError, 0, 0, err.Error())
		return nil, fmt.Errorf("usecase: fetch retrieve result for job %s: %w", job.ID, err)
	}
	archive, err := metadata.ParseArchive(report.ZipFile, metadata.AllowMissing())
	if err != nil {
		uc.logger.Error("Failed to decode retrieved archive", zap.String("job_id", job.ID), zap.Error(err))
		uc.orch.finish(ctx, inv, job, OutcomeResultsError, 0, 0, err.Error())
		return nil, err
	}

	result := &metadata.RetrieveResult{
		Job:        job,
		Success:    report.Success,
		Files:      report.Files,
		Messages:   report.Messages,
		Manifest:   archive.Manifest,
		Components: archive.Components,
		Archive:    report.ZipFile,
	}
	if uc.store != nil {
		key := fmt.Sprintf("retrieve/%s.zip", job.ID)
		uri, err := uc.store.Put(ctx, key, report.ZipFile)
		if err != nil {
			uc.logger.Warn("Failed to store retrieved archive", zap.String("job_id", job.ID), zap.String("key", key), zap.Error(err))
		} else {
			result.ArchiveURI = uri
		}
	}

	uc.orch.finish(ctx, inv, job, string(domain.StateComplete), len(archive.Components), len(archive.Missing), strings.Join(report.Messages, "; "))
	return result, nil
}

// Compare retrieves the remote counterparts of local and diffs them. Added
// components exist only locally, removed ones only remotely.
func (uc *MetadataUsecase) Compare(ctx context.Context, local []metadata.Component, runOpts ...RunOption) (*metadata.Diff, error) {
	if len(local) == 0 {
		return nil, &domain.ValidationError{Op: domain.OpRetrieve, Field: "components", Reason: "at least one component is required"}
	}
	retrieved, err := uc.Retrieve(ctx, metadata.ManifestFor(uc.apiVersion, local), runOpts...)
	if err != nil {
		return nil, err
	}
	diff, err := metadata.Compare(retrieved.Components, local)
	if err != nil {
		return nil, fmt.Errorf("usecase: compare components: %w", err)
	}
	uc.logger.Info("Compared components with remote",
		zap.String("job_id", retrieved.Job.ID),
		zap.String("summary", diff.Summary()),
	)
	return diff, nil
}
