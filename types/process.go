package types

// ProcessExit is produced exactly once when a spawned child terminates.
type ProcessExit struct {
	// PID is the child's process id.
	PID int `json:"pid"`
	// ExitCode is the child's exit code (-1 when killed by a signal).
	ExitCode int `json:"exit_code"`
	// Stdout is the full captured standard output.
	Stdout string `json:"stdout"`
	// Stderr is the full captured standard error.
	Stderr string `json:"stderr"`
}

// Succeeded reports whether the child exited with code 0.
func (p *ProcessExit) Succeeded() bool {
	return p != nil && p.ExitCode == 0
}
