// Package poller waits for remote jobs to reach a terminal state using
// exponential backoff.
package poller

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Harsh-BH/crmjobs/internal/domain"
)

const (
	DefaultInitialDelay = 2 * time.Second
	DefaultFactor       = 1.5
	DefaultMaxDelay     = 30 * time.Second
	DefaultTimeout      = 10 * time.Minute
)

// Policy configures the wait between status checks.
type Policy struct {
	InitialDelay time.Duration
	Factor       float64
	MaxDelay     time.Duration
	Timeout      time.Duration
}

// DefaultPolicy returns 2s initial delay, factor 1.5, 30s cap and a 10 minute timeout.
func DefaultPolicy() Policy {
	return Policy{
		InitialDelay: DefaultInitialDelay,
		Factor:       DefaultFactor,
		MaxDelay:     DefaultMaxDelay,
		Timeout:      DefaultTimeout,
	}
}

// WithTimeout returns a copy of p with a different timeout.
func (p Policy) WithTimeout(d time.Duration) Policy {
	p.Timeout = d
	return p
}

// Validate rejects policies that would spin or never advance.
func (p Policy) Validate() error {
	switch {
	case p.InitialDelay <= 0:
		return fmt.Errorf("poller: initial delay must be positive")
	case p.Factor < 1:
		return fmt.Errorf("poller: backoff factor must be at least 1")
	case p.MaxDelay < p.InitialDelay:
		return fmt.Errorf("poller: max delay must be at least the initial delay")
	case p.Timeout <= 0:
		return fmt.Errorf("poller: timeout must be positive")
	}
	return nil
}

// Next returns the delay that follows d.
func (p Policy) Next(d time.Duration) time.Duration {
	next := time.Duration(float64(d) * p.Factor)
	if next > p.MaxDelay {
		return p.MaxDelay
	}
	return next
}

// StatusFunc fetches a fresh snapshot of job from the remote system.
type StatusFunc func(ctx context.Context, job *domain.Job) (*domain.Job, error)

// ProgressFunc observes every snapshot, including the terminal one.
type ProgressFunc func(job domain.Job)

// Poller repeatedly checks a job's status until it is terminal or the policy
// timeout elapses. It is the only component that advances Job.State.
type Poller struct {
	policy Policy
	clock  Clock
	logger *zap.Logger
}

// Option customises a Poller.
type Option func(*Poller)

// WithClock replaces the wall clock, mainly for tests.
func WithClock(c Clock) Option {
	return func(p *Poller) { p.clock = c }
}

// NewPoller creates a poller with the given policy.
func NewPoller(policy Policy, logger *zap.Logger, opts ...Option) *Poller {
	p := &Poller{
		policy: policy,
		clock:  RealClock{},
		logger: logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Policy returns the poller's default policy.
func (p *Poller) Policy() Policy { return p.policy }

// PollUntilTerminal polls with the poller's default policy.
func (p *Poller) PollUntilTerminal(ctx context.Context, job *domain.Job, status StatusFunc, onProgress ProgressFunc) (*domain.Job, error) {
	return p.PollWithPolicy(ctx, p.policy, job, status, onProgress)
}

// PollWithPolicy checks the job status, sleeping between checks according to
// policy. A job that is already terminal is returned unchanged without any
// remote call. When the timeout elapses the remote job is left running and a
// *domain.TimeoutError carrying the last snapshot is returned.
func (p *Poller) PollWithPolicy(ctx context.Context, policy Policy, job *domain.Job, status StatusFunc, onProgress ProgressFunc) (*domain.Job, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	if job.State.IsTerminal() {
		return job.Clone(), nil
	}

	start := p.clock.Now()
	delay := policy.InitialDelay
	current := job.Clone()

	for attempt := 1; ; attempt++ {
		next, err := status(ctx, current)
		if err != nil {
			if ctx.Err() != nil {
				return nil, p.timeout(current, start, policy, ctx.Err())
			}
			return nil, &domain.PollError{Job: current, Err: err}
		}
		if err := domain.ValidateTransition(current.State, next.State); err != nil {
			return nil, &domain.PollError{Job: current, Err: err}
		}

		snapshot := next.Clone()
		snapshot.LastPolledAt = p.clock.Now()
		if snapshot.State != current.State {
			p.logger.Debug("Job state changed",
				zap.String("job_id", snapshot.ID),
				zap.String("kind", string(snapshot.Kind)),
				zap.String("from", string(current.State)),
				zap.String("to", string(snapshot.State)),
				zap.Int("attempt", attempt),
			)
		}
		current = snapshot

		if onProgress != nil {
			onProgress(*current)
		}
		if current.State.IsTerminal() {
			return current, nil
		}

		if p.clock.Now().Sub(start) >= policy.Timeout {
			return nil, p.timeout(current, start, policy, nil)
		}

		if err := p.clock.Sleep(ctx, delay); err != nil {
			return nil, p.timeout(current, start, policy, err)
		}
		delay = policy.Next(delay)
	}
}

func (p *Poller) timeout(job *domain.Job, start time.Time, policy Policy, cause error) error {
	elapsed := p.clock.Now().Sub(start)
	p.logger.Warn("Stopped waiting for job, remote job left running",
		zap.String("job_id", job.ID),
		zap.String("state", string(job.State)),
		zap.Duration("elapsed", elapsed),
		zap.Duration("timeout", policy.Timeout),
		zap.NamedError("cause", cause),
	)
	return &domain.TimeoutError{Job: job, Elapsed: elapsed, Timeout: policy.Timeout, Cause: cause}
}
