package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrValidation is matched by every *ValidationError.
	ErrValidation = errors.New("invalid request")

	// ErrSubmission is matched by every *SubmissionError.
	ErrSubmission = errors.New("job submission failed")

	// ErrJobFailed is matched by every *JobFailure.
	ErrJobFailed = errors.New("remote job did not complete")

	// ErrTimeout is matched by every *TimeoutError.
	ErrTimeout = errors.New("timed out waiting for remote job")

	// ErrMalformedArchive is matched by every *MalformedArchiveError.
	ErrMalformedArchive = errors.New("malformed metadata archive")

	// ErrPollFailed is matched by every *PollError.
	ErrPollFailed = errors.New("failed to poll remote job status")

	// ErrInvalidTransition is returned when a status observation would move a
	// job backwards through its lifecycle.
	ErrInvalidTransition = errors.New("invalid job state transition")

	// ErrReconciliation is returned when result rows cannot be aligned 1:1
	// with the submitted records.
	ErrReconciliation = errors.New("result reconciliation failed")

	// ErrResults is returned when a finished job's results cannot be
	// downloaded or decoded.
	ErrResults = errors.New("failed to collect job results")

	// ErrDuplicateSubmission is returned when an idempotency key is already held
	// by another in-flight orchestration.
	ErrDuplicateSubmission = errors.New("duplicate submission for idempotency key")

	// ErrAbortUnsupported is returned when the remote API cannot abort a job kind.
	ErrAbortUnsupported = errors.New("abort not supported for job kind")

	// ErrJobNotFound is returned when the remote system does not know a job id.
	ErrJobNotFound = errors.New("job not found")
)

// ValidationError reports a request rejected locally before any remote call.
type ValidationError struct {
	Op      Operation
	Field   string
	Indices []int
	Reason  string
}

func (e *ValidationError) Error() string {
	var b strings.Builder
	b.WriteString("validation failed")
	if e.Op != "" {
		fmt.Fprintf(&b, " for %s", e.Op)
	}
	b.WriteString(": ")
	b.WriteString(e.Reason)
	if len(e.Indices) > 0 {
		shown := e.Indices
		if len(shown) > 10 {
			shown = shown[:10]
		}
		fmt.Fprintf(&b, " (records %v", shown)
		if len(e.Indices) > len(shown) {
			fmt.Fprintf(&b, " and %d more", len(e.Indices)-len(shown))
		}
		b.WriteString(")")
	}
	return b.String()
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// SubmissionError reports that creating, uploading to, or closing a remote job
// failed. JobID is set when the create step succeeded.
type SubmissionError struct {
	Step  string
	JobID string
	Err   error
}

func (e *SubmissionError) Error() string {
	if e.JobID != "" {
		return fmt.Sprintf("submission failed at %s (job %s): %v", e.Step, e.JobID, e.Err)
	}
	return fmt.Sprintf("submission failed at %s: %v", e.Step, e.Err)
}

func (e *SubmissionError) Unwrap() error { return e.Err }

func (e *SubmissionError) Is(target error) bool { return target == ErrSubmission }

// JobFailure reports a remote job that reached Failed or Aborted.
type JobFailure struct {
	Job     *Job
	Message string
}

func (e *JobFailure) Error() string {
	msg := e.Message
	if msg == "" {
		msg = "no diagnostic from remote"
	}
	return fmt.Sprintf("job %s ended %s: %s", e.Job.ID, e.Job.State, msg)
}

func (e *JobFailure) Is(target error) bool { return target == ErrJobFailed }

// TimeoutError reports that the local wait ended before the remote job reached
// a terminal state. The remote job is left running; Job is the last snapshot.
type TimeoutError struct {
	Job     *Job
	Elapsed time.Duration
	Timeout time.Duration
	Cause   error
}

func (e *TimeoutError) Error() string {
	state := JobState("unknown")
	id := ""
	if e.Job != nil {
		state, id = e.Job.State, e.Job.ID
	}
	if e.Cause != nil {
		return fmt.Sprintf("stopped waiting for job %s in state %s after %s: %v", id, state, e.Elapsed, e.Cause)
	}
	return fmt.Sprintf("job %s still %s after %s (timeout %s)", id, state, e.Elapsed, e.Timeout)
}

func (e *TimeoutError) Unwrap() error { return e.Cause }

func (e *TimeoutError) Is(target error) bool { return target == ErrTimeout }

// PollError reports a failure to obtain a status snapshot.
type PollError struct {
	Job *Job
	Err error
}

func (e *PollError) Error() string {
	id := ""
	if e.Job != nil {
		id = e.Job.ID
	}
	return fmt.Sprintf("poll job %s: %v", id, e.Err)
}

func (e *PollError) Unwrap() error { return e.Err }

func (e *PollError) Is(target error) bool { return target == ErrPollFailed }

// MalformedArchiveError reports an archive whose manifest and documents disagree.
type MalformedArchiveError struct {
	Reason     string
	Missing    []string
	Unexpected []string
}

func (e *MalformedArchiveError) Error() string {
	var b strings.Builder
	b.WriteString("malformed archive: ")
	b.WriteString(e.Reason)
	if len(e.Missing) > 0 {
		fmt.Fprintf(&b, "; missing documents: %s", strings.Join(e.Missing, ", "))
	}
	if len(e.Unexpected) > 0 {
		fmt.Fprintf(&b, "; documents not in manifest: %s", strings.Join(e.Unexpected, ", "))
	}
	return b.String()
}

func (e *MalformedArchiveError) Is(target error) bool { return target == ErrMalformedArchive }
