// Package sink defines the external result sink boundary: the event a
// consumer sees for every test result (real or synthetic) and the sinks
// that deliver them.
package sink

import (
	"context"
	"fmt"
	"time"

	"github.com/pithecene-io/testpipe/types"
)

// State is the externally visible reporting state of an event.
// Each outcome maps to exactly one state.
type State string

const (
	StatePassed     State = "passed"
	StateSkipped    State = "skipped"
	StateFailed     State = "failed"
	StateError      State = "error"
	StateTimeout    State = "timeout"
	StateCancelled  State = "cancelled"
	StateInProgress State = "in_progress"
)

// StateFor maps an outcome to its reporting state.
func StateFor(o types.Outcome) (State, error) {
	switch o {
	case types.OutcomePassed:
		return StatePassed, nil
	case types.OutcomeSkipped:
		return StateSkipped, nil
	case types.OutcomeFailed:
		return StateFailed, nil
	case types.OutcomeError:
		return StateError, nil
	case types.OutcomeTimeout:
		return StateTimeout, nil
	case types.OutcomeCancelled:
		return StateCancelled, nil
	case types.OutcomeInProgress:
		return StateInProgress, nil
	default:
		return "", fmt.Errorf("no reporting state for outcome %v", o)
	}
}

// Event is one reported result.
type Event struct {
	// TestID is the test uid, or the partition id (Batch-2) for synthetic entries.
	TestID      string `json:"test_id" msgpack:"test_id"`
	DisplayName string `json:"display_name" msgpack:"display_name"`
	State       State  `json:"state" msgpack:"state"`
	// Partition is the partition id that produced the event; empty for unpartitioned runs.
	Partition string `json:"partition,omitempty" msgpack:"partition,omitempty"`
	// Reason is the human-readable reason; for synthetic entries, the failure message.
	Reason *string `json:"reason,omitempty" msgpack:"reason,omitempty"`

	// Auxiliary data, attached when present.
	Duration   *time.Duration        `json:"duration,omitempty" msgpack:"duration,omitempty"`
	Stdout     *string               `json:"stdout,omitempty" msgpack:"stdout,omitempty"`
	Stderr     *string               `json:"stderr,omitempty" msgpack:"stderr,omitempty"`
	Exceptions []types.ExceptionInfo `json:"exceptions,omitempty" msgpack:"exceptions,omitempty"`

	// Synthetic marks a partition failure entry, not a real test.
	Synthetic bool `json:"synthetic,omitempty" msgpack:"synthetic,omitempty"`
	// ExitCode is set on synthetic entries.
	ExitCode *int `json:"exit_code,omitempty" msgpack:"exit_code,omitempty"`
}

// ResultEvent builds the event for a real test result.
// Empty captured stdout/stderr are not attached.
func ResultEvent(r types.TestResult, partition string) (Event, error) {
	state, err := StateFor(r.Outcome)
	if err != nil {
		return Event{}, err
	}
	return Event{
		TestID:      r.UID,
		DisplayName: r.DisplayName,
		State:       state,
		Partition:   partition,
		Reason:      r.Reason,
		Duration:    r.Duration,
		Stdout:      nonEmpty(r.Stdout),
		Stderr:      nonEmpty(r.Stderr),
		Exceptions:  r.Exceptions,
	}, nil
}

// SyntheticFailureEvent builds the entry for a partition whose process failed outright.
func SyntheticFailureEvent(partitionID, displayName, message string, exitCode int) Event {
	code := exitCode
	return Event{
		TestID:      partitionID,
		DisplayName: displayName,
		State:       StateError,
		Partition:   partitionID,
		Reason:      &message,
		Synthetic:   true,
		ExitCode:    &code,
	}
}

func nonEmpty(s *string) *string {
	if s == nil || *s == "" {
		return nil
	}
	return s
}

// Sink receives events. Implementations need not be safe for concurrent
// use; wrap them with Synchronized when publishing from several partitions.
type Sink interface {
	// Publish delivers one event.
	Publish(ctx context.Context, e Event) error
	// Close releases any resources held by the sink.
	Close() error
}
