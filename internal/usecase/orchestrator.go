package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Harsh-BH/crmjobs/internal/domain"
	"github.com/Harsh-BH/crmjobs/internal/metrics"
	"github.com/Harsh-BH/crmjobs/internal/poller"
	"github.com/Harsh-BH/crmjobs/internal/publisher"
	"github.com/Harsh-BH/crmjobs/internal/repository"
	"github.com/Harsh-BH/crmjobs/internal/submitter"
)

// Outcome labels for orchestrations that ended without a usable result.
const (
	OutcomeTimeout      = "timeout"
	OutcomePollError    = "poll_error"
	OutcomeResultsError = "results_error"
)

// Dependencies carries the optional collaborators shared by the facades. Nil
// fields are skipped.
type Dependencies struct {
	Guard     repository.SubmissionGuard
	Sink      repository.OutcomeSink
	Publisher publisher.Publisher
}

// RunOption customises one orchestration call.
type RunOption func(*runOptions)

type runOptions struct {
	idempotencyKey string
	timeout        time.Duration
	onProgress     poller.ProgressFunc
}

// WithIdempotencyKey rejects the call with ErrDuplicateSubmission while
// another call holding the same key is in flight or recently finished.
// It only takes effect when a SubmissionGuard is configured.
func WithIdempotencyKey(key string) RunOption {
	return func(o *runOptions) { o.idempotencyKey = key }
}

// WithTimeout overrides the poll timeout for this call.
func WithTimeout(d time.Duration) RunOption {
	return func(o *runOptions) { o.timeout = d }
}

// WithProgress receives every status snapshot observed while waiting.
func WithProgress(fn poller.ProgressFunc) RunOption {
	return func(o *runOptions) { o.onProgress = fn }
}

func buildRunOptions(opts []RunOption) *runOptions {
	o := &runOptions{}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// orchestrator is the submit, wait and report skeleton shared by the bulk and
// metadata facades.
type orchestrator struct {
	backend   submitter.Backend
	submitter *submitter.Submitter
	poller    *poller.Poller
	deps      Dependencies
	logger    *zap.Logger
}

func newOrchestrator(backend submitter.Backend, p *poller.Poller, deps Dependencies, logger *zap.Logger) *orchestrator {
	return &orchestrator{
		backend:   backend,
		submitter: submitter.NewSubmitter(backend, logger),
		poller:    p,
		deps:      deps,
		logger:    logger,
	}
}

// invocation tracks one orchestration from submission to its reported outcome.
type invocation struct {
	id       uuid.UUID
	key      string
	started  time.Time
	job      *domain.Job
	finished bool
}

func newInvocation(key string) *invocation {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return &invocation{id: id, key: key, started: time.Now()}
}

// submitAndWait creates the remote job and waits for a terminal state. A
// completed job is returned with the invocation still open; the caller must
// finish it once results are fetched. Every error path finishes it here.
func (o *orchestrator) submitAndWait(ctx context.Context, spec *domain.JobSpec, ro *runOptions, policy poller.Policy) (*invocation, *domain.Job, error) {
	inv := newInvocation(ro.idempotencyKey)

	if inv.key != "" && o.deps.Guard != nil {
		acquired, err := o.deps.Guard.Acquire(ctx, inv.key)
		if err != nil {
			o.logger.Error("Failed to acquire submission guard", zap.Error(err), zap.String("key", inv.key))
			return nil, nil, err
		}
		if !acquired {
			o.logger.Info("Duplicate submission rejected", zap.String("key", inv.key))
			return nil, nil, domain.ErrDuplicateSubmission
		}
	}

	job, err := o.submitter.Submit(ctx, spec)
	if err != nil {
		if inv.key != "" && o.deps.Guard != nil {
			_ = o.deps.Guard.Discard(detached(ctx), inv.key)
		}
		return nil, nil, err
	}
	inv.job = job
	o.publish(ctx, inv, publisher.EventSubmitted, job, "")

	job, err = o.wait(ctx, inv, job, ro, policy)
	return inv, job, err
}

// resume waits on an existing remote job.
func (o *orchestrator) resume(ctx context.Context, job *domain.Job, ro *runOptions, policy poller.Policy) (*invocation, *domain.Job, error) {
	inv := newInvocation("")
	inv.job = job
	job, err := o.wait(ctx, inv, job, ro, policy)
	return inv, job, err
}

func (o *orchestrator) wait(ctx context.Context, inv *invocation, job *domain.Job, ro *runOptions, policy poller.Policy) (*domain.Job, error) {
	if ro.timeout > 0 {
		policy = policy.WithTimeout(ro.timeout)
	}

	metrics.OrchestrationsActive.Inc()
	defer metrics.OrchestrationsActive.Dec()

	kind := string(job.Kind)
	status := func(ctx context.Context, j *domain.Job) (*domain.Job, error) {
		metrics.StatusPolls.WithLabelValues(kind).Inc()
		return o.backend.JobStatus(ctx, j)
	}
	lastState := job.State
	progress := func(j domain.Job) {
		if j.State != lastState {
			lastState = j.State
			o.publish(ctx, inv, publisher.EventProgress, &j, "")
		}
		if ro.onProgress != nil {
			ro.onProgress(j)
		}
	}

	final, err := o.poller.PollWithPolicy(ctx, policy, job, status, progress)
	if err != nil {
		var te *domain.TimeoutError
		var pe *domain.PollError
		switch {
		case errors.As(err, &te):
			o.logger.Warn("Stopped waiting for remote job, it is still running remotely",
				zap.String("job_id", job.ID),
				zap.Duration("elapsed", te.Elapsed),
			)
			o.finish(ctx, inv, te.Job, OutcomeTimeout, 0, 0, err.Error())
		case errors.As(err, &pe):
			o.finish(ctx, inv, pe.Job, OutcomePollError, 0, 0, err.Error())
		default:
			o.finish(ctx, inv, job, OutcomePollError, 0, 0, err.Error())
		}
		return nil, err
	}
	inv.job = final

	if final.State == domain.StateFailed || final.State == domain.StateAborted {
		o.finish(ctx, inv, final, string(final.State), 0, 0, final.ErrorMessage)
		return nil, &domain.JobFailure{Job: final, Message: final.ErrorMessage}
	}
	return final, nil
}

// finish reports the outcome once: metrics, ledger row, finished event and
// guard release. Reporting failures are logged, never returned.
func (o *orchestrator) finish(ctx context.Context, inv *invocation, job *domain.Job, result string, success, failed int, detail string) {
	if inv == nil || inv.finished {
		return
	}
	inv.finished = true
	if job == nil {
		job = inv.job
	}
	now := time.Now()
	kind := string(job.Kind)
	metrics.JobsFinished.WithLabelValues(kind, result).Inc()
	metrics.JobDuration.WithLabelValues(kind).Observe(now.Sub(inv.started).Seconds())

	sctx := detached(ctx)
	if o.deps.Sink != nil {
		err := o.deps.Sink.Record(sctx, &repository.Outcome{
			InvocationID: inv.id,
			Job:          job,
			Result:       result,
			SuccessCount: success,
			FailedCount:  failed,
			Detail:       detail,
			StartedAt:    inv.started,
			FinishedAt:   now,
		})
		if err != nil {
			o.logger.Warn("Failed to record job outcome", zap.String("job_id", job.ID), zap.Error(err))
		}
	}
	o.publish(sctx, inv, publisher.EventFinished, job, result)

	if inv.key != "" && o.deps.Guard != nil {
		if err := o.deps.Guard.Release(sctx, inv.key); err != nil {
			o.logger.Warn("Failed to release submission guard", zap.String("key", inv.key), zap.Error(err))
		}
	}

	o.logger.Info("Orchestration finished",
		zap.String("job_id", job.ID),
		zap.String("kind", kind),
		zap.String("result", result),
		zap.Int("success", success),
		zap.Int("failed", failed),
		zap.Duration("elapsed", now.Sub(inv.started)),
	)
}

func (o *orchestrator) publish(ctx context.Context, inv *invocation, eventType string, job *domain.Job, outcome string) {
	if o.deps.Publisher == nil || job == nil {
		return
	}
	event := publisher.NewEvent(inv.id, eventType, job)
	event.Outcome = outcome
	if err := o.deps.Publisher.Publish(ctx, event); err != nil {
		o.logger.Warn("Failed to publish job event",
			zap.String("job_id", job.ID),
			zap.String("type", eventType),
			zap.Error(err),
		)
	}
}

// detached keeps ctx values but survives its cancellation, for reporting after
// a timeout or cancel. The sinks bound their own I/O.
func detached(ctx context.Context) context.Context {
	return context.WithoutCancel(ctx)
}
