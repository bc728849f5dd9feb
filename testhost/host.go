// Package testhost is the child side of the pipe protocol: a small host
// that lists and runs Go test cases on behalf of a testpipe controller.
//
// A host started without --dotnet-test-pipe runs standalone and prints
// one line per result.
package testhost

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	goruntime "runtime"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pithecene-io/testpipe/ipc"
	"github.com/pithecene-io/testpipe/pipe"
	"github.com/pithecene-io/testpipe/types"
)

// Host exit codes.
const (
	ExitCodeSuccess      = 0
	ExitCodeTestFailures = 2
	ExitCodeHostError    = 3
)

// HostType identifies a testhost in handshakes.
const HostType = "testhost"

// DefaultDialTimeout bounds the wait for the controller's endpoint.
const DefaultDialTimeout = 30 * time.Second

// Host lists and runs a fixed set of cases.
type Host struct {
	// ModulePath is reported in the handshake and module message.
	// Defaults to the running executable.
	ModulePath string
	Cases      []Case
	// Options are reported in response to --help.
	Options []types.CommandLineOption
	// Stdout and Stderr default to the process streams.
	Stdout io.Writer
	Stderr io.Writer
	// DialTimeout defaults to DefaultDialTimeout.
	DialTimeout time.Duration
	// ProtocolVersions advertised in the handshake.
	// Defaults to types.SupportedProtocolVersions.
	ProtocolVersions []string
}

// Main runs the host with the process arguments and exits.
func (h *Host) Main() {
	os.Exit(h.Run(context.Background(), os.Args[1:]))
}

// Run runs the host with args and returns its exit code.
func (h *Host) Run(ctx context.Context, args []string) int {
	a, err := ParseArgs(args)
	if err != nil {
		fmt.Fprintf(h.stderr(), "testhost: %v\n", err)
		return ExitCodeHostError
	}

	if a.PipeName == "" {
		return h.runStandalone(ctx, a)
	}

	code, err := h.serve(ctx, a)
	if err != nil {
		fmt.Fprintf(h.stderr(), "testhost: %v\n", err)
		return ExitCodeHostError
	}
	return code
}

func (h *Host) stdout() io.Writer {
	if h.Stdout == nil {
		return os.Stdout
	}
	return h.Stdout
}

func (h *Host) stderr() io.Writer {
	if h.Stderr == nil {
		return os.Stderr
	}
	return h.Stderr
}

func (h *Host) modulePath() string {
	if h.ModulePath != "" {
		return h.ModulePath
	}
	exe, err := os.Executable()
	if err != nil {
		return os.Args[0]
	}
	return exe
}

// selected returns the cases to list or run, in host order.
func (h *Host) selected(filter []string) []Case {
	if len(filter) == 0 {
		return h.Cases
	}
	want := make(map[string]bool, len(filter))
	for _, id := range filter {
		want[id] = true
	}
	var out []Case
	for _, c := range h.Cases {
		if want[c.UID] {
			out = append(out, c)
		}
	}
	return out
}

func (h *Host) runStandalone(ctx context.Context, a *Args) int {
	w := h.stdout()
	switch {
	case a.Help:
		for _, o := range h.Options {
			fmt.Fprintf(w, "  --%-24s %s\n", o.Name, o.Description)
		}
		return ExitCodeSuccess
	case a.ListTests:
		for _, c := range h.selected(a.FilterUIDs) {
			fmt.Fprintln(w, c.UID)
		}
		return ExitCodeSuccess
	}

	code := ExitCodeSuccess
	for _, c := range h.selected(a.FilterUIDs) {
		r, _ := run(ctx, c, "")
		line := fmt.Sprintf("%s %s", r.Outcome, r.DisplayName)
		if r.Reason != nil {
			line += ": " + *r.Reason
		}
		fmt.Fprintln(w, line)
		if r.Outcome.IsFailure() {
			code = ExitCodeTestFailures
		}
	}
	return code
}

// session is one connection to a controller.
type session struct {
	client      *pipe.Client
	executionID string
	instanceID  string
}

func (s *session) send(ctx context.Context, m ipc.Message) error {
	resp, err := s.client.Request(ctx, m)
	if err != nil {
		return err
	}
	if _, ok := resp.(*ipc.VoidResponse); !ok {
		return ipc.NewUnexpectedMessageError(resp, "acknowledgement")
	}
	return nil
}

func (h *Host) serve(ctx context.Context, a *Args) (code int, err error) {
	timeout := h.DialTimeout
	if timeout <= 0 {
		timeout = DefaultDialTimeout
	}
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	client, err := pipe.Dial(dialCtx, a.PipeName, ipc.NewDefaultCodec(ipc.Permissive))
	cancel()
	if err != nil {
		return 0, err
	}
	defer func() {
		err = errors.Join(err, client.Close())
	}()

	s := &session{client: client, instanceID: uuid.NewString()}
	peer, err := client.Handshake(ctx, h.handshake(s.instanceID))
	if err != nil {
		return 0, fmt.Errorf("handshake: %w", err)
	}
	s.executionID, _ = peer.Get(types.HandshakeExecutionID)
	if v, _ := peer.Get(types.HandshakeSupportedProtocolVersions); v == "" {
		fmt.Fprintln(h.stderr(), "testhost: controller negotiated no protocol version")
	}

	if err := s.send(ctx, &ipc.ModuleMessage{
		ModulePath:                   h.modulePath(),
		IsTestingPlatformApplication: "true",
	}); err != nil {
		return 0, err
	}

	switch {
	case a.Help:
		return ExitCodeSuccess, s.send(ctx, &ipc.CommandLineOptionMessages{
			ModulePath: h.modulePath(),
			Options:    h.Options,
		})
	case a.ListTests:
		return ExitCodeSuccess, h.list(ctx, s, a)
	default:
		return h.runAll(ctx, s, a)
	}
}

func (h *Host) handshake(instanceID string) *types.Handshake {
	versions := h.ProtocolVersions
	if versions == nil {
		versions = types.SupportedProtocolVersions
	}
	return types.NewHandshake().
		Set(types.HandshakePID, strconv.Itoa(os.Getpid())).
		Set(types.HandshakeArchitecture, goruntime.GOARCH).
		Set(types.HandshakeRuntime, goruntime.Version()).
		Set(types.HandshakeOS, goruntime.GOOS).
		Set(types.HandshakeSupportedProtocolVersions, strings.Join(versions, types.ProtocolVersionSeparator)).
		Set(types.HandshakeHostType, HostType).
		Set(types.HandshakeModulePath, h.modulePath()).
		Set(types.HandshakeInstanceID, instanceID)
}

func (h *Host) list(ctx context.Context, s *session, a *Args) error {
	cases := h.selected(a.FilterUIDs)
	tests := make([]types.DiscoveredTest, len(cases))
	for i, c := range cases {
		tests[i] = c.Discovered()
	}
	return s.send(ctx, &ipc.DiscoveredTestMessages{
		ExecutionID: s.executionID,
		InstanceID:  s.instanceID,
		Tests:       tests,
	})
}

func (h *Host) runAll(ctx context.Context, s *session, a *Args) (int, error) {
	sessionUID := uuid.NewString()
	if err := s.send(ctx, sessionEvent(types.SessionStarted, sessionUID, s.executionID)); err != nil {
		return 0, err
	}

	code := ExitCodeSuccess
	for _, c := range h.selected(a.FilterUIDs) {
		r, artifacts := run(ctx, c, sessionUID)
		if r.Outcome.IsFailure() {
			code = ExitCodeTestFailures
		}
		if err := s.send(ctx, resultMessage(s, r)); err != nil {
			return 0, fmt.Errorf("report %s: %w", c.UID, err)
		}
		if len(artifacts) > 0 {
			if err := s.send(ctx, &ipc.FileArtifactMessages{
				ExecutionID: s.executionID,
				InstanceID:  s.instanceID,
				Artifacts:   artifacts,
			}); err != nil {
				return 0, fmt.Errorf("report %s artifacts: %w", c.UID, err)
			}
		}
	}

	if err := s.send(ctx, sessionEvent(types.SessionFinished, sessionUID, s.executionID)); err != nil {
		return 0, err
	}
	return code, nil
}

func sessionEvent(typ types.SessionEventType, sessionUID, executionID string) *ipc.TestSessionEvent {
	return &ipc.TestSessionEvent{Event: types.SessionEvent{
		Type:        typ,
		SessionUID:  optional(sessionUID),
		ExecutionID: optional(executionID),
	}}
}

// resultMessage puts failing outcomes, with their exceptions, in the
// failed list and everything else in the successful list.
func resultMessage(s *session, r types.TestResult) *ipc.TestResultMessages {
	m := &ipc.TestResultMessages{ExecutionID: s.executionID, InstanceID: s.instanceID}
	if !r.Outcome.IsFailure() {
		m.Successful = []ipc.SuccessfulTestResult{{
			UID:         r.UID,
			DisplayName: r.DisplayName,
			State:       byte(r.Outcome),
			Duration:    types.TicksFromDuration(r.Duration),
			Reason:      r.Reason,
			Stdout:      r.Stdout,
			Stderr:      r.Stderr,
			SessionUID:  r.SessionUID,
		}}
		return m
	}

	exceptions := make([]ipc.ExceptionMessage, len(r.Exceptions))
	for i, e := range r.Exceptions {
		exceptions[i] = ipc.ExceptionMessage{
			Message:    optional(e.Message),
			Type:       optional(e.Type),
			StackTrace: optional(e.StackTrace),
		}
	}
	m.Failed = []ipc.FailedTestResult{{
		UID:         r.UID,
		DisplayName: r.DisplayName,
		State:       byte(r.Outcome),
		Duration:    types.TicksFromDuration(r.Duration),
		Reason:      r.Reason,
		Exceptions:  exceptions,
		Stdout:      r.Stdout,
		Stderr:      r.Stderr,
		SessionUID:  r.SessionUID,
	}}
	return m
}
