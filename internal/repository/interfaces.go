package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/Harsh-BH/crmjobs/internal/domain"
)

// Outcome summarises one finished orchestration for reporting. It is written
// once and never read back by the orchestrators.
type Outcome struct {
	InvocationID uuid.UUID
	Job          *domain.Job
	// Result is the terminal job state, or "timeout" / "poll_error" when the
	// local wait ended first.
	Result       string
	SuccessCount int
	FailedCount  int
	Detail       string
	StartedAt    time.Time
	FinishedAt   time.Time
}

// OutcomeSink stores orchestration outcomes.
type OutcomeSink interface {
	Record(ctx context.Context, outcome *Outcome) error
}

// SubmissionGuard is a distributed lock keyed by a caller idempotency key.
type SubmissionGuard interface {
	// Acquire returns true if the key was free and is now held, false if a
	// submission with the same key is in flight or recently finished.
	Acquire(ctx context.Context, key string) (bool, error)

	// Release keeps the key for a retention window so replays of a finished
	// submission are still rejected.
	Release(ctx context.Context, key string) error

	// Discard frees the key immediately, for submissions that never created
	// a remote job.
	Discard(ctx context.Context, key string) error
}

// ArchiveStore keeps retrieved metadata archives.
type ArchiveStore interface {
	// Put stores data under key and returns a URI describing its location.
	Put(ctx context.Context, key string, data []byte) (string, error)
	Get(ctx context.Context, key string) ([]byte, error)
}
