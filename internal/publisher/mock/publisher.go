package mock

import (
	"context"
	"sync"

	"github.com/Harsh-BH/crmjobs/internal/publisher"
)

// Ensure MockPublisher implements publisher.Publisher.
var _ publisher.Publisher = (*MockPublisher)(nil)

// MockPublisher is a mock event publisher for testing.
type MockPublisher struct {
	mu        sync.Mutex
	Published []*publisher.Event
	PublishFn func(ctx context.Context, event *publisher.Event) error
}

// NewMockPublisher creates a new mock publisher.
func NewMockPublisher() *MockPublisher {
	return &MockPublisher{}
}

func (m *MockPublisher) Publish(ctx context.Context, event *publisher.Event) error {
	if m.PublishFn != nil {
		return m.PublishFn(ctx, event)
	}
	m.mu.Lock()
	m.Published = append(m.Published, event)
	m.mu.Unlock()
	return nil
}

// Types returns the published event types in order.
func (m *MockPublisher) Types() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.Published))
	for i, e := range m.Published {
		out[i] = e.Type
	}
	return out
}

func (m *MockPublisher) Close() error {
	return nil
}
