package ipc

import (
	"context"
	"fmt"

	"github.com/pithecene-io/testpipe/types"
)

// Serializer ids per CONTRACT_PIPE.md. Ids 1 and 2 are reserved.
const (
	VoidResponseID              uint32 = 0
	CommandLineOptionMessagesID uint32 = 3
	ModuleMessageID             uint32 = 4
	DiscoveredTestMessagesID    uint32 = 5
	TestResultMessagesID        uint32 = 6
	FileArtifactMessagesID      uint32 = 7
	TestSessionEventID          uint32 = 8
	HandshakeMessageID          uint32 = 9
)

// Message is the closed set of records exchanged over a pipe.
// Only types in this package implement it.
type Message interface {
	SerializerID() uint32
	isMessage()
}

// VoidResponse acknowledges a request that carries no reply data.
type VoidResponse struct{}

// HandshakeMessage carries handshake properties. Exchanged once per connection.
type HandshakeMessage struct {
	Handshake *types.Handshake
}

// CommandLineOptionMessages lists the options a child executable accepts.
type CommandLineOptionMessages struct {
	ModulePath string
	Options    []types.CommandLineOption
}

// ModuleMessage describes the test module a child hosts.
type ModuleMessage struct {
	ModulePath                   string
	ProjectPath                  string
	TargetFramework              string
	IsTestingPlatformApplication string
}

// DiscoveredTestMessages reports a batch of discovered tests.
type DiscoveredTestMessages struct {
	ExecutionID string
	InstanceID  string
	Tests       []types.DiscoveredTest
}

// SuccessfulTestResult is a wire-level result without exception data.
// State is the raw wire state; it is validated on conversion.
type SuccessfulTestResult struct {
	UID         string
	DisplayName string
	State       byte
	Duration    *int64 // ticks
	Reason      *string
	Stdout      *string
	Stderr      *string
	SessionUID  *string
}

// ExceptionMessage is one wire-level exception.
type ExceptionMessage struct {
	Message    *string
	Type       *string
	StackTrace *string
}

// FailedTestResult is a wire-level result carrying exception data.
type FailedTestResult struct {
	UID         string
	DisplayName string
	State       byte
	Duration    *int64 // ticks
	Reason      *string
	Exceptions  []ExceptionMessage
	Stdout      *string
	Stderr      *string
	SessionUID  *string
}

// TestResultMessages reports a batch of test results.
type TestResultMessages struct {
	ExecutionID string
	InstanceID  string
	Successful  []SuccessfulTestResult
	Failed      []FailedTestResult
}

// Len returns the total number of results in the batch.
func (m *TestResultMessages) Len() int {
	return len(m.Successful) + len(m.Failed)
}

// FileArtifactMessages reports files produced by the child.
type FileArtifactMessages struct {
	ExecutionID string
	InstanceID  string
	Artifacts   []types.FileArtifact
}

// TestSessionEvent reports a session starting or finishing.
type TestSessionEvent struct {
	Event types.SessionEvent
}

// UnknownMessage is a message whose serializer id has no registration.
// Only produced by a permissive codec; receivers acknowledge it with VoidResponse.
type UnknownMessage struct {
	ID      uint32
	Payload []byte
}

func (*VoidResponse) SerializerID() uint32              { return VoidResponseID }
func (*HandshakeMessage) SerializerID() uint32          { return HandshakeMessageID }
func (*CommandLineOptionMessages) SerializerID() uint32 { return CommandLineOptionMessagesID }
func (*ModuleMessage) SerializerID() uint32             { return ModuleMessageID }
func (*DiscoveredTestMessages) SerializerID() uint32    { return DiscoveredTestMessagesID }
func (*TestResultMessages) SerializerID() uint32        { return TestResultMessagesID }
func (*FileArtifactMessages) SerializerID() uint32      { return FileArtifactMessagesID }
func (*TestSessionEvent) SerializerID() uint32          { return TestSessionEventID }
func (m *UnknownMessage) SerializerID() uint32          { return m.ID }

func (*VoidResponse) isMessage()              {}
func (*HandshakeMessage) isMessage()          {}
func (*CommandLineOptionMessages) isMessage() {}
func (*ModuleMessage) isMessage()             {}
func (*DiscoveredTestMessages) isMessage()    {}
func (*TestResultMessages) isMessage()        {}
func (*FileArtifactMessages) isMessage()      {}
func (*TestSessionEvent) isMessage()          {}
func (*UnknownMessage) isMessage()            {}

// Handler receives requests of every kind a controller can be sent.
// Adding a message kind adds a method here, so every handler must address it.
type Handler interface {
	HandleHandshake(ctx context.Context, m *HandshakeMessage) (Message, error)
	HandleCommandLineOptions(ctx context.Context, m *CommandLineOptionMessages) (Message, error)
	HandleModule(ctx context.Context, m *ModuleMessage) (Message, error)
	HandleDiscoveredTests(ctx context.Context, m *DiscoveredTestMessages) (Message, error)
	HandleTestResults(ctx context.Context, m *TestResultMessages) (Message, error)
	HandleFileArtifacts(ctx context.Context, m *FileArtifactMessages) (Message, error)
	HandleSessionEvent(ctx context.Context, m *TestSessionEvent) (Message, error)
	HandleUnknown(ctx context.Context, m *UnknownMessage) (Message, error)
}

// Dispatch routes a decoded request to the matching Handler method.
func Dispatch(ctx context.Context, h Handler, m Message) (Message, error) {
	switch msg := m.(type) {
	case *HandshakeMessage:
		return h.HandleHandshake(ctx, msg)
	case *CommandLineOptionMessages:
		return h.HandleCommandLineOptions(ctx, msg)
	case *ModuleMessage:
		return h.HandleModule(ctx, msg)
	case *DiscoveredTestMessages:
		return h.HandleDiscoveredTests(ctx, msg)
	case *TestResultMessages:
		return h.HandleTestResults(ctx, msg)
	case *FileArtifactMessages:
		return h.HandleFileArtifacts(ctx, msg)
	case *TestSessionEvent:
		return h.HandleSessionEvent(ctx, msg)
	case *UnknownMessage:
		return h.HandleUnknown(ctx, msg)
	case *VoidResponse:
		return nil, NewUnexpectedMessageError(msg, "request dispatch")
	default:
		return nil, fmt.Errorf("unhandled message type %T", m)
	}
}

// UnimplementedHandler rejects every request except unknown ones, which it acknowledges.
// Embed it to implement only the methods a receiver cares about.
type UnimplementedHandler struct{}

func (UnimplementedHandler) HandleHandshake(_ context.Context, m *HandshakeMessage) (Message, error) {
	return nil, NewUnexpectedMessageError(m, "this session")
}

func (UnimplementedHandler) HandleCommandLineOptions(_ context.Context, m *CommandLineOptionMessages) (Message, error) {
	return nil, NewUnexpectedMessageError(m, "this session")
}

func (UnimplementedHandler) HandleModule(_ context.Context, m *ModuleMessage) (Message, error) {
	return nil, NewUnexpectedMessageError(m, "this session")
}

func (UnimplementedHandler) HandleDiscoveredTests(_ context.Context, m *DiscoveredTestMessages) (Message, error) {
	return nil, NewUnexpectedMessageError(m, "this session")
}

func (UnimplementedHandler) HandleTestResults(_ context.Context, m *TestResultMessages) (Message, error) {
	return nil, NewUnexpectedMessageError(m, "this session")
}

func (UnimplementedHandler) HandleFileArtifacts(_ context.Context, m *FileArtifactMessages) (Message, error) {
	return nil, NewUnexpectedMessageError(m, "this session")
}

func (UnimplementedHandler) HandleSessionEvent(_ context.Context, m *TestSessionEvent) (Message, error) {
	return nil, NewUnexpectedMessageError(m, "this session")
}

func (UnimplementedHandler) HandleUnknown(context.Context, *UnknownMessage) (Message, error) {
	return &VoidResponse{}, nil
}
