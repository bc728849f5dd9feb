package types

// CommandLineOption describes one option a child executable accepts,
// reported in response to --help.
type CommandLineOption struct {
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description" yaml:"description"`
	IsHidden    *bool  `json:"is_hidden,omitempty" yaml:"is_hidden,omitempty"`
	IsBuiltIn   *bool  `json:"is_built_in,omitempty" yaml:"is_built_in,omitempty"`
}

// FileArtifact is a file produced by the child during a run.
type FileArtifact struct {
	FullPath        *string `json:"full_path,omitempty"`
	DisplayName     *string `json:"display_name,omitempty"`
	Description     *string `json:"description,omitempty"`
	TestUID         *string `json:"test_uid,omitempty"`
	TestDisplayName *string `json:"test_display_name,omitempty"`
	SessionUID      *string `json:"session_uid,omitempty"`
}

// SessionEventType discriminates test session lifecycle events.
type SessionEventType uint8

const (
	SessionStarted  SessionEventType = 0
	SessionFinished SessionEventType = 1
)

func (s SessionEventType) String() string {
	switch s {
	case SessionStarted:
		return "started"
	case SessionFinished:
		return "finished"
	default:
		return "unknown"
	}
}

// SessionEvent reports a test session starting or finishing in the child.
type SessionEvent struct {
	Type        SessionEventType `json:"type"`
	SessionUID  *string          `json:"session_uid,omitempty"`
	ExecutionID *string          `json:"execution_id,omitempty"`
}
