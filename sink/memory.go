package sink

import (
	"context"
	"sync"
)

// Memory records events for inspection. Safe for concurrent use.
type Memory struct {
	mu     sync.Mutex
	events []Event
	closed bool

	// ErrorOnPublish, if non-nil, is returned by Publish.
	ErrorOnPublish error
}

// NewMemory creates an empty memory sink.
func NewMemory() *Memory {
	return &Memory{}
}

// Publish records e.
func (m *Memory) Publish(_ context.Context, e Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ErrorOnPublish != nil {
		return m.ErrorOnPublish
	}
	m.events = append(m.events, e)
	return nil
}

// Close marks the sink closed.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Events returns a copy of recorded events in publish order.
func (m *Memory) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Event(nil), m.events...)
}

// Closed reports whether Close was called.
func (m *Memory) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}
