package runtime

import (
	"errors"
	"fmt"

	"github.com/pithecene-io/testpipe/types"
)

// DispatchError is a failure while serving a request from a child. It
// triggers the abort signal: a broken protocol exchange leaves the run
// in an undefined state.
type DispatchError struct {
	// ConnID is the failing connection's sequence number.
	ConnID int
	// Handshake is the handshake recorded on the connection, if any.
	Handshake *types.Handshake
	// Err is the underlying error.
	Err error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("dispatch failed on connection %d (%s): %v", e.ConnID, e.Handshake, e.Err)
}

func (e *DispatchError) Unwrap() error {
	return e.Err
}

// IsDispatchError returns true if err is or wraps a DispatchError.
func IsDispatchError(err error) bool {
	var de *DispatchError
	return errors.As(err, &de)
}

// DiscoveryError is a discovery run whose child exited non-zero.
// No partitions are launched after it.
type DiscoveryError struct {
	Exit *types.ProcessExit
}

func (e *DiscoveryError) Error() string {
	return fmt.Sprintf("test discovery failed with exit code %d\nStandard Output:\n%s\n\nStandard Error:\n%s",
		e.Exit.ExitCode, e.Exit.Stdout, e.Exit.Stderr)
}

// IsDiscoveryError returns true if err is or wraps a DiscoveryError.
func IsDiscoveryError(err error) bool {
	var de *DiscoveryError
	return errors.As(err, &de)
}
