package sink

import (
	"context"
	"io"

	"go.uber.org/multierr"

	"github.com/pithecene-io/testpipe/iox"
)

// Multi publishes every event to each sink in order. A failing sink does
// not stop delivery to the rest; errors are combined.
type Multi []Sink

// Publish delivers e to every sink.
func (m Multi) Publish(ctx context.Context, e Event) error {
	var errs error
	for _, s := range m {
		errs = multierr.Append(errs, s.Publish(ctx, e))
	}
	return errs
}

// Close closes every sink, last first.
func (m Multi) Close() error {
	closers := make([]io.Closer, len(m))
	for i, s := range m {
		closers[i] = s
	}
	return iox.CloseAll(closers...)
}
