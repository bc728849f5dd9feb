// Package iox provides I/O helpers for resource cleanup.
package iox

import (
	"io"

	"go.uber.org/multierr"
)

// DiscardClose closes c and discards the error.
// Use in defer statements where close errors are unactionable:
//
//	defer iox.DiscardClose(resp.Body)
func DiscardClose(c io.Closer) { _ = c.Close() }

// CloseFunc returns a cleanup function that closes c.
// Designed for t.Cleanup registration:
//
//	t.Cleanup(iox.CloseFunc(srv))
func CloseFunc(c io.Closer) func() {
	return func() { _ = c.Close() }
}

// CloseAll closes every non-nil closer in reverse order and combines
// their errors. Every closer is closed even when an earlier one fails.
func CloseAll(closers ...io.Closer) error {
	var err error
	for i := len(closers) - 1; i >= 0; i-- {
		if closers[i] == nil {
			continue
		}
		err = multierr.Append(err, closers[i].Close())
	}
	return err
}

// NopCloser adapts a writer that must not be closed, such as os.Stdout,
// into an io.WriteCloser.
func NopCloser(w io.Writer) io.WriteCloser { return nopCloser{w} }

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }
