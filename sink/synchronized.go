package sink

import (
	"context"
	"sync"
)

// Synchronized serializes Publish and Close on an underlying sink.
type Synchronized struct {
	mu   sync.Mutex
	sink Sink
}

// NewSynchronized wraps s. Wrapping an already synchronized sink returns it unchanged.
func NewSynchronized(s Sink) *Synchronized {
	if already, ok := s.(*Synchronized); ok {
		return already
	}
	return &Synchronized{sink: s}
}

// Publish delivers e while holding the lock.
func (s *Synchronized) Publish(ctx context.Context, e Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sink.Publish(ctx, e)
}

// Close closes the underlying sink.
func (s *Synchronized) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sink.Close()
}
