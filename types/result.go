package types

import (
	"fmt"
	"time"
)

// Outcome is the closed set of states a single test result can report.
// Values match the wire states per CONTRACT_PIPE.md; 0 (discovered) is
// never a valid result outcome.
type Outcome uint8

const (
	OutcomePassed     Outcome = 1
	OutcomeSkipped    Outcome = 2
	OutcomeFailed     Outcome = 3
	OutcomeError      Outcome = 4
	OutcomeTimeout    Outcome = 5
	OutcomeCancelled  Outcome = 6
	OutcomeInProgress Outcome = 7
)

var outcomeNames = map[Outcome]string{
	OutcomePassed:     "passed",
	OutcomeSkipped:    "skipped",
	OutcomeFailed:     "failed",
	OutcomeError:      "error",
	OutcomeTimeout:    "timeout",
	OutcomeCancelled:  "cancelled",
	OutcomeInProgress: "in_progress",
}

// Outcomes lists every valid outcome in wire order.
var Outcomes = []Outcome{
	OutcomePassed, OutcomeSkipped, OutcomeFailed, OutcomeError,
	OutcomeTimeout, OutcomeCancelled, OutcomeInProgress,
}

// ParseOutcome converts a wire state to an Outcome.
// An unrecognized state is an error, never a silent default.
func ParseOutcome(state uint8) (Outcome, error) {
	o := Outcome(state)
	if _, ok := outcomeNames[o]; !ok {
		return 0, fmt.Errorf("unknown test state %d", state)
	}
	return o, nil
}

// String returns the lowercase outcome name.
func (o Outcome) String() string {
	if name, ok := outcomeNames[o]; ok {
		return name
	}
	return fmt.Sprintf("outcome(%d)", uint8(o))
}

// MarshalText implements encoding.TextMarshaler for json/yaml output.
func (o Outcome) MarshalText() ([]byte, error) {
	if _, ok := outcomeNames[o]; !ok {
		return nil, fmt.Errorf("invalid outcome %d", uint8(o))
	}
	return []byte(o.String()), nil
}

// IsFailure reports whether the outcome counts as a failing test.
func (o Outcome) IsFailure() bool {
	switch o {
	case OutcomeFailed, OutcomeError, OutcomeTimeout, OutcomeCancelled:
		return true
	default:
		return false
	}
}

// ExceptionInfo is one flattened exception attached to a non-passed result.
type ExceptionInfo struct {
	Message    string `json:"message" yaml:"message" msgpack:"message"`
	Type       string `json:"type" yaml:"type" msgpack:"type"`
	StackTrace string `json:"stack_trace" yaml:"stack_trace" msgpack:"stack_trace"`
}

// TestResult is the result of one test as reported by the child executable.
type TestResult struct {
	UID         string         `json:"uid"`
	DisplayName string         `json:"display_name"`
	Outcome     Outcome        `json:"outcome"`
	Duration    *time.Duration `json:"duration,omitempty"`
	Reason      *string        `json:"reason,omitempty"`
	Stdout      *string        `json:"stdout,omitempty"`
	Stderr      *string        `json:"stderr,omitempty"`
	// Exceptions is only populated for non-passed outcomes.
	Exceptions []ExceptionInfo `json:"exceptions,omitempty"`
	// SessionUID is the child's test session id, if reported.
	SessionUID *string `json:"session_uid,omitempty"`
}

// TicksPerDuration is the number of time.Duration units in one wire tick.
// Durations travel as 100ns ticks.
const TicksPerDuration = 100 * time.Nanosecond

// DurationFromTicks converts a wire tick count into a duration.
// Returns nil when no tick count was provided.
func DurationFromTicks(ticks *int64) *time.Duration {
	if ticks == nil {
		return nil
	}
	d := time.Duration(*ticks) * TicksPerDuration
	return &d
}

// TicksFromDuration converts a duration into a wire tick count.
func TicksFromDuration(d *time.Duration) *int64 {
	if d == nil {
		return nil
	}
	ticks := int64(*d / TicksPerDuration)
	return &ticks
}
