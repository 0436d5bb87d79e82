package poller_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/Harsh-BH/crmjobs/internal/domain"
	"github.com/Harsh-BH/crmjobs/internal/poller"
)

// scripted returns the given states in order, repeating the last one.
func scripted(states ...domain.JobState) (poller.StatusFunc, *int) {
	calls := 0
	return func(ctx context.Context, job *domain.Job) (*domain.Job, error) {
		i := calls
		if i >= len(states) {
			i = len(states) - 1
		}
		calls++
		next := job.Clone()
		next.State = states[i]
		return next, nil
	}, &calls
}

func newJob(state domain.JobState) *domain.Job {
	return &domain.Job{ID: "750000000000001", Kind: domain.KindIngest, Operation: domain.OpInsert, State: state}
}

func secondsPolicy(initial, factor, max, timeout float64) poller.Policy {
	return poller.Policy{
		InitialDelay: time.Duration(initial * float64(time.Second)),
		Factor:       factor,
		MaxDelay:     time.Duration(max * float64(time.Second)),
		Timeout:      time.Duration(timeout * float64(time.Second)),
	}
}

// Test: backoff 2, 1.5, 30 with a 10s timeout sleeps 2, 3, 4.5, 6.75 then times out.
func TestPoll_TimeoutBackoffSequence(t *testing.T) {
	clock := poller.NewFakeClock(time.Unix(0, 0))
	p := poller.NewPoller(secondsPolicy(2, 1.5, 30, 10), zap.NewNop(), poller.WithClock(clock))
	status, calls := scripted(domain.StateInProgress)

	_, err := p.PollUntilTerminal(context.Background(), newJob(domain.StateUploadComplete), status, nil)

	var te *domain.TimeoutError
	if !errors.As(err, &te) {
		t.Fatalf("expected TimeoutError, got %v", err)
	}
	if te.Job.State != domain.StateInProgress {
		t.Errorf("expected last snapshot InProgress, got %s", te.Job.State)
	}
	want := []time.Duration{2 * time.Second, 3 * time.Second, 4500 * time.Millisecond, 6750 * time.Millisecond}
	got := clock.Sleeps()
	if len(got) != len(want) {
		t.Fatalf("expected sleeps %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sleep %d: expected %v, got %v", i, want[i], got[i])
		}
	}
	if *calls != 5 {
		t.Errorf("expected 5 status calls, got %d", *calls)
	}
}

// Test: delays never exceed the configured maximum.
func TestPoll_DelayCapped(t *testing.T) {
	clock := poller.NewFakeClock(time.Unix(0, 0))
	p := poller.NewPoller(secondsPolicy(20, 2, 30, 1000), zap.NewNop(), poller.WithClock(clock))
	status, _ := scripted(domain.StateInProgress, domain.StateInProgress, domain.StateInProgress, domain.StateComplete)

	job, err := p.PollUntilTerminal(context.Background(), newJob(domain.StateUploadComplete), status, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if job.State != domain.StateComplete {
		t.Errorf("expected JobComplete, got %s", job.State)
	}
	got := clock.Sleeps()
	want := []time.Duration{20 * time.Second, 30 * time.Second, 30 * time.Second}
	if len(got) != len(want) {
		t.Fatalf("expected sleeps %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sleep %d: expected %v, got %v", i, want[i], got[i])
		}
	}
}

// Test: every snapshot reaches the progress callback and states never regress.
func TestPoll_ProgressMonotonic(t *testing.T) {
	clock := poller.NewFakeClock(time.Unix(0, 0))
	p := poller.NewPoller(poller.DefaultPolicy(), zap.NewNop(), poller.WithClock(clock))
	status, _ := scripted(domain.StateUploadComplete, domain.StateInProgress, domain.StateInProgress, domain.StateComplete)

	var seen []domain.JobState
	job, err := p.PollUntilTerminal(context.Background(), newJob(domain.StateOpen), status, func(j domain.Job) {
		seen = append(seen, j.State)
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(seen) != 4 {
		t.Fatalf("expected 4 progress callbacks, got %d", len(seen))
	}
	for i := 1; i < len(seen); i++ {
		if err := domain.ValidateTransition(seen[i-1], seen[i]); err != nil {
			t.Errorf("non-monotonic progress: %v", err)
		}
	}
	if job.LastPolledAt.IsZero() {
		t.Error("expected LastPolledAt to be stamped")
	}
}

// Test: polling an already-terminal job twice makes no remote call.
func TestPoll_TerminalIsIdempotent(t *testing.T) {
	p := poller.NewPoller(poller.DefaultPolicy(), zap.NewNop(), poller.WithClock(poller.NewFakeClock(time.Unix(0, 0))))
	status, calls := scripted(domain.StateInProgress)
	done := newJob(domain.StateFailed)
	done.ErrorMessage = "InvalidBatch"

	first, err := p.PollUntilTerminal(context.Background(), done, status, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := p.PollUntilTerminal(context.Background(), first, status, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if *first != *second || *first != *done {
		t.Errorf("expected identical snapshots, got %+v and %+v", first, second)
	}
	if *calls != 0 {
		t.Errorf("expected no status calls, got %d", *calls)
	}
}

// Test: a remote state moving backwards is reported, not accepted.
func TestPoll_RegressionIsPollError(t *testing.T) {
	p := poller.NewPoller(poller.DefaultPolicy(), zap.NewNop(), poller.WithClock(poller.NewFakeClock(time.Unix(0, 0))))
	status, _ := scripted(domain.StateInProgress, domain.StateOpen)

	_, err := p.PollUntilTerminal(context.Background(), newJob(domain.StateUploadComplete), status, nil)
	if !errors.Is(err, domain.ErrPollFailed) || !errors.Is(err, domain.ErrInvalidTransition) {
		t.Errorf("expected PollError wrapping ErrInvalidTransition, got %v", err)
	}
}

// Test: a status-call failure is distinct from a remote job failure.
func TestPoll_StatusErrorIsPollError(t *testing.T) {
	p := poller.NewPoller(poller.DefaultPolicy(), zap.NewNop(), poller.WithClock(poller.NewFakeClock(time.Unix(0, 0))))
	boom := errors.New("503 service unavailable")
	status := func(ctx context.Context, job *domain.Job) (*domain.Job, error) { return nil, boom }

	_, err := p.PollUntilTerminal(context.Background(), newJob(domain.StateUploadComplete), status, nil)
	if !errors.Is(err, domain.ErrPollFailed) || !errors.Is(err, boom) {
		t.Errorf("expected PollError wrapping cause, got %v", err)
	}
	if errors.Is(err, domain.ErrJobFailed) {
		t.Error("poll failure must not look like a job failure")
	}
}

// Test: cancelling the context ends the wait with a TimeoutError wrapping the cause.
func TestPoll_ContextCancelled(t *testing.T) {
	p := poller.NewPoller(poller.DefaultPolicy(), zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	status := func(ctx context.Context, job *domain.Job) (*domain.Job, error) {
		cancel()
		next := job.Clone()
		next.State = domain.StateInProgress
		return next, nil
	}

	start := time.Now()
	_, err := p.PollUntilTerminal(ctx, newJob(domain.StateUploadComplete), status, nil)
	if !errors.Is(err, domain.ErrTimeout) || !errors.Is(err, context.Canceled) {
		t.Errorf("expected TimeoutError wrapping context.Canceled, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Error("cancelled wait should return promptly")
	}
}

func TestPolicy_Validate(t *testing.T) {
	if err := poller.DefaultPolicy().Validate(); err != nil {
		t.Errorf("default policy invalid: %v", err)
	}
	bad := []poller.Policy{
		secondsPolicy(0, 1.5, 30, 10),
		secondsPolicy(2, 0.5, 30, 10),
		secondsPolicy(2, 1.5, 1, 10),
		secondsPolicy(2, 1.5, 30, 0),
	}
	for i, pol := range bad {
		if err := pol.Validate(); err == nil {
			t.Errorf("policy %d: expected validation error", i)
		}
	}
}
