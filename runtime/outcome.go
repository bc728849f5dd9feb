package runtime

import "fmt"

// Controller exit codes.
const (
	ExitCodeSuccess      = 0 // every test passed or was skipped
	ExitCodeTestFailures = 1 // at least one test failed
	ExitCodeInfraFailure = 2 // a child failed without reporting a failing test
	ExitCodeConfigError  = 3 // invalid configuration, nothing was run
)

// RunStatus classifies a completed run.
type RunStatus string

const (
	StatusSuccess      RunStatus = "success"
	StatusTestFailures RunStatus = "test_failures"
	StatusInfraFailure RunStatus = "infra_failure"
)

// RunOutcome is the classified result of a run.
type RunOutcome struct {
	Status  RunStatus `json:"status"`
	Message string    `json:"message"`
}

// ExitCode returns the controller exit code for the outcome.
func (o *RunOutcome) ExitCode() int {
	switch o.Status {
	case StatusSuccess:
		return ExitCodeSuccess
	case StatusTestFailures:
		return ExitCodeTestFailures
	default:
		return ExitCodeInfraFailure
	}
}

// DetermineOutcome classifies a run.
//
// Infrastructure failures take precedence: a crashed child may have
// taken failing results with it, so its partition cannot be trusted to
// be complete.
func DetermineOutcome(result *RunResult) *RunOutcome {
	if result == nil {
		return &RunOutcome{Status: StatusInfraFailure, Message: "run did not complete"}
	}
	if n := result.InfraFailures(); n > 0 {
		return &RunOutcome{
			Status:  StatusInfraFailure,
			Message: fmt.Sprintf("%d of %d partitions failed without a failing test", n, len(result.Partitions)),
		}
	}
	if n := result.Failed(); n > 0 {
		return &RunOutcome{
			Status:  StatusTestFailures,
			Message: fmt.Sprintf("%d of %d tests failed", n, result.Results()),
		}
	}
	return &RunOutcome{
		Status:  StatusSuccess,
		Message: fmt.Sprintf("%d tests completed", result.Results()),
	}
}
