package mock

import (
	"context"
	"fmt"
	"sync"

	"github.com/Harsh-BH/crmjobs/internal/repository"
)

// ---- OutcomeSink mock ----

var _ repository.OutcomeSink = (*OutcomeSink)(nil)

// OutcomeSink is a test double for repository.OutcomeSink.
type OutcomeSink struct {
	mu sync.Mutex

	RecordFn func(ctx context.Context, outcome *repository.Outcome) error

	Outcomes []*repository.Outcome
}

func (m *OutcomeSink) Record(ctx context.Context, outcome *repository.Outcome) error {
	m.mu.Lock()
	m.Outcomes = append(m.Outcomes, outcome)
	m.mu.Unlock()
	if m.RecordFn != nil {
		return m.RecordFn(ctx, outcome)
	}
	return nil
}

// Recorded returns a copy of the recorded outcomes.
func (m *OutcomeSink) Recorded() []*repository.Outcome {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*repository.Outcome(nil), m.Outcomes...)
}

// ---- SubmissionGuard mock ----

var _ repository.SubmissionGuard = (*SubmissionGuard)(nil)

// SubmissionGuard is an in-memory repository.SubmissionGuard. Keys stay held
// after Release and are freed by Discard.
type SubmissionGuard struct {
	mu sync.Mutex

	AcquireFn func(ctx context.Context, key string) (bool, error)

	held map[string]bool

	AcquireCalls []string
	ReleaseCalls []string
	DiscardCalls []string
}

func (m *SubmissionGuard) Acquire(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.AcquireCalls = append(m.AcquireCalls, key)
	if m.AcquireFn != nil {
		return m.AcquireFn(ctx, key)
	}
	if m.held == nil {
		m.held = make(map[string]bool)
	}
	if m.held[key] {
		return false, nil
	}
	m.held[key] = true
	return true, nil
}

func (m *SubmissionGuard) Release(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ReleaseCalls = append(m.ReleaseCalls, key)
	return nil
}

func (m *SubmissionGuard) Discard(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.DiscardCalls = append(m.DiscardCalls, key)
	delete(m.held, key)
	return nil
}

// ---- ArchiveStore mock ----

var _ repository.ArchiveStore = (*ArchiveStore)(nil)

// ArchiveStore is an in-memory repository.ArchiveStore.
type ArchiveStore struct {
	mu sync.Mutex

	PutFn func(ctx context.Context, key string, data []byte) (string, error)

	Objects map[string][]byte
}

func (m *ArchiveStore) Put(ctx context.Context, key string, data []byte) (string, error) {
	if m.PutFn != nil {
		return m.PutFn(ctx, key, data)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Objects == nil {
		m.Objects = make(map[string][]byte)
	}
	m.Objects[key] = data
	return "mem://" + key, nil
}

func (m *ArchiveStore) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.Objects[key]
	if !ok {
		return nil, fmt.Errorf("archive %s not found", key)
	}
	return data, nil
}
