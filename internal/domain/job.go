package domain

import (
	"fmt"
	"time"
)

// JobKind identifies which remote job family a Job belongs to.
type JobKind string

const (
	KindIngest   JobKind = "ingest"
	KindQuery    JobKind = "query"
	KindDeploy   JobKind = "deploy"
	KindRetrieve JobKind = "retrieve"
)

// ValidKinds lists every supported job kind.
var ValidKinds = map[JobKind]bool{
	KindIngest:   true,
	KindQuery:    true,
	KindDeploy:   true,
	KindRetrieve: true,
}

// AcceptsUpload reports whether jobs of this kind receive their payload in a
// separate upload step followed by a close. Other kinds carry the payload
// inline in the create request.
func (k JobKind) AcceptsUpload() bool {
	return k == KindIngest
}

// Operation is the remote operation a job performs.
type Operation string

const (
	OpInsert     Operation = "insert"
	OpUpdate     Operation = "update"
	OpUpsert     Operation = "upsert"
	OpDelete     Operation = "delete"
	OpHardDelete Operation = "hardDelete"
	OpQuery      Operation = "query"
	OpQueryAll   Operation = "queryAll"
	OpDeploy     Operation = "deploy"
	OpRetrieve   Operation = "retrieve"
)

// RequiresID reports whether every record must carry a record identifier.
func (o Operation) RequiresID() bool {
	return o == OpUpdate || o == OpDelete || o == OpHardDelete
}

// RequiresExternalID reports whether the operation matches on a declared
// external identifier field.
func (o Operation) RequiresExternalID() bool {
	return o == OpUpsert
}

// IsDelete reports whether the payload consists only of record identifiers.
func (o Operation) IsDelete() bool {
	return o == OpDelete || o == OpHardDelete
}

// Kind returns the job family that executes this operation.
func (o Operation) Kind() JobKind {
	switch o {
	case OpQuery, OpQueryAll:
		return KindQuery
	case OpDeploy:
		return KindDeploy
	case OpRetrieve:
		return KindRetrieve
	default:
		return KindIngest
	}
}

// JobState represents the lifecycle state of a remote job.
type JobState string

const (
	StateOpen             JobState = "Open"
	StateUploadInProgress JobState = "UploadInProgress"
	StateUploadComplete   JobState = "UploadComplete"
	StateQueued           JobState = "Queued"
	StateInProgress       JobState = "InProgress"
	StateComplete         JobState = "JobComplete"
	StateFailed           JobState = "Failed"
	StateAborted          JobState = "Aborted"
)

var stateRank = map[JobState]int{
	StateOpen:             0,
	StateUploadInProgress: 1,
	StateUploadComplete:   2,
	StateQueued:           2,
	StateInProgress:       3,
	StateComplete:         4,
	StateFailed:           4,
	StateAborted:          4,
}

// IsTerminal returns true if the job has reached a final state.
func (s JobState) IsTerminal() bool {
	return s == StateComplete || s == StateFailed || s == StateAborted
}

// IsKnown reports whether s is part of the lifecycle graph.
func (s JobState) IsKnown() bool {
	_, ok := stateRank[s]
	return ok
}

// ValidateTransition checks that moving from prev to next keeps the lifecycle
// monotonic. Re-observing the same state is allowed; a terminal state can only
// be observed as itself.
func ValidateTransition(prev, next JobState) error {
	if !next.IsKnown() {
		return fmt.Errorf("%w: unknown state %q", ErrInvalidTransition, next)
	}
	if prev == "" || prev == next {
		return nil
	}
	if prev.IsTerminal() {
		return fmt.Errorf("%w: %s is terminal, observed %s", ErrInvalidTransition, prev, next)
	}
	if stateRank[next] < stateRank[prev] {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, prev, next)
	}
	return nil
}

// Job is a local snapshot of one remote asynchronous job.
type Job struct {
	ID               string    `json:"id"`
	Kind             JobKind   `json:"kind"`
	Operation        Operation `json:"operation"`
	Object           string    `json:"object,omitempty"`
	State            JobState  `json:"state"`
	ExternalIDField  string    `json:"external_id_field,omitempty"`
	RecordsProcessed int       `json:"records_processed"`
	RecordsFailed    int       `json:"records_failed"`
	ErrorMessage     string    `json:"error_message,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	LastPolledAt     time.Time `json:"last_polled_at,omitempty"`
}

// Clone returns an independent copy of the snapshot.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	c := *j
	return &c
}

// JobSpec describes a job to be created remotely.
type JobSpec struct {
	Kind            JobKind
	Operation       Operation
	Object          string
	ExternalIDField string
	// Payload is the uploaded data for ingest jobs, or the inline document
	// (archive, manifest) for deploy and retrieve jobs.
	Payload []byte
	// Query holds the query text for query jobs.
	Query string
	// Options carries kind-specific creation options.
	Options map[string]string
}
