package runtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/pithecene-io/testpipe/ipc"
	"github.com/pithecene-io/testpipe/log"
	"github.com/pithecene-io/testpipe/metrics"
	"github.com/pithecene-io/testpipe/pipe"
	"github.com/pithecene-io/testpipe/types"
)

// Child arguments.
const (
	ServerFlag         = "--server"
	ServerName         = "dotnettestcli"
	PipeNameFlag       = "--dotnet-test-pipe"
	ListTestsFlag      = "--list-tests"
	FilterUIDFlag      = "--filter-uid"
	HelpFlag           = "--help"
	ResponseFilePrefix = "@"

	// FilterUIDTerminator brackets an id list the host takes verbatim.
	FilterUIDTerminator = "--"
)

// AppConfig configures a TestApplication.
type AppConfig struct {
	// Path is the test executable. Required.
	Path string
	// Args are passed to the child before the endpoint arguments.
	Args []string
	// WorkingDir is optional.
	WorkingDir string
	// Env is appended to the child's inherited environment.
	Env []string

	// ExecutionID is sent in the handshake reply; generated when empty.
	ExecutionID string
	// StrictVersion makes an empty negotiated protocol version fatal.
	StrictVersion bool
	// DisposeTimeout bounds the wait for the accept loop at disposal.
	DisposeTimeout time.Duration

	// Logger is optional.
	Logger *log.Logger
	// Collector is optional; all Collector methods are nil-safe.
	Collector *metrics.Collector
	// Abort is invoked on the first dispatch failure. Defaults to ExitAbort.
	Abort AbortFunc
	// ProcessFactory overrides process creation (for testing).
	// If nil, uses NewProcessManager.
	ProcessFactory ProcessFactory
}

// Callbacks receive the child's notifications for the duration of one Run.
// Calls are serialized per Run, even across connections. A nil callback
// acknowledges the message and drops it. A callback error aborts the run.
type Callbacks struct {
	// AfterStart runs once the child has started. The handshake reply is
	// held until it returns.
	AfterStart func(ctx context.Context, pid int) error

	OnDiscoveredTests func(m *ipc.DiscoveredTestMessages) error
	OnTestResults     func(m *ipc.TestResultMessages) error
	OnFileArtifacts   func(m *ipc.FileArtifactMessages) error
	OnSessionEvent    func(m *ipc.TestSessionEvent) error
	OnOptions         func(m *ipc.CommandLineOptionMessages) error
	OnModule          func(m *ipc.ModuleMessage) error
}

// TestApplication ties one child process's lifetime to one pipe endpoint.
type TestApplication struct {
	config AppConfig
	logger *log.Logger
}

// NewTestApplication creates a new test application.
func NewTestApplication(config AppConfig) (*TestApplication, error) {
	if config.Path == "" {
		return nil, errors.New("executable path is required")
	}
	if config.ExecutionID == "" {
		config.ExecutionID = uuid.NewString()
	}
	if config.ProcessFactory == nil {
		config.ProcessFactory = NewProcessManager
	}
	if config.Abort == nil {
		config.Abort = ExitAbort(config.Logger)
	}
	return &TestApplication{config: config, logger: config.Logger}, nil
}

// EndpointArgs returns the arguments naming endpoint to a child.
func EndpointArgs(endpoint string) []string {
	return []string{ServerFlag, ServerName, PipeNameFlag, endpoint}
}

// Run executes the child once.
//
// Execution flow:
//  1. Create a fresh endpoint and start its accept loop
//  2. Spawn the child with the endpoint arguments appended
//  3. Run AfterStart, then release the handshake reply
//  4. Wait for the child to exit
//  5. Stop the accept loop and dispose every connection
//  6. Return the exit record
//
// A dispatch failure invokes Abort and is also returned as a *DispatchError
// alongside the exit record.
func (a *TestApplication) Run(ctx context.Context, cb Callbacks) (*types.ProcessExit, error) {
	endpoint := pipe.NewEndpointName()
	r := &appRun{
		app:          a,
		cb:           cb,
		afterStarted: make(chan struct{}),
	}

	srv, err := pipe.Listen(pipe.ServerConfig{
		Name:           endpoint,
		Handler:        r,
		Codec:          ipc.NewDefaultCodec(ipc.Permissive),
		OnError:        r.onConnError,
		Logger:         a.logger,
		DisposeTimeout: a.config.DisposeTimeout,
	})
	if err != nil {
		return nil, err
	}

	srvCtx, cancelSrv := context.WithCancel(ctx)
	defer cancelSrv()
	srv.Start(srvCtx)

	args := append(append([]string(nil), a.config.Args...), EndpointArgs(endpoint)...)
	proc := a.config.ProcessFactory(&ProcessConfig{
		Path:       a.config.Path,
		Args:       args,
		WorkingDir: a.config.WorkingDir,
		Env:        a.config.Env,
	})

	a.logger.Debug("starting child", map[string]any{
		"endpoint": endpoint,
		"args":     args,
	})

	if err := proc.Start(ctx); err != nil {
		a.config.Collector.IncProcessLaunchFailure()
		return nil, multierr.Append(err, srv.Close())
	}
	a.config.Collector.IncProcessLaunchSuccess()

	var afterErr error
	if cb.AfterStart != nil {
		afterErr = cb.AfterStart(ctx, proc.PID())
		if afterErr != nil {
			afterErr = fmt.Errorf("after-start callback: %w", afterErr)
			_ = proc.Kill()
		}
	}
	close(r.afterStarted)

	exit, waitErr := proc.Wait()
	cancelSrv()
	closeErr := srv.Close()

	if waitErr != nil {
		return nil, multierr.Combine(waitErr, afterErr, closeErr)
	}

	a.logger.Debug("child exited", map[string]any{
		"pid":       exit.PID,
		"exit_code": exit.ExitCode,
	})

	return exit, multierr.Combine(afterErr, r.dispatchErr(), closeErr)
}

// appRun is the per-Run request handler.
type appRun struct {
	app          *TestApplication
	cb           Callbacks
	afterStarted chan struct{}

	// cbMu serializes callbacks across connections.
	cbMu sync.Mutex

	errOnce sync.Once
	errMu   sync.Mutex
	err     *DispatchError
}

func (r *appRun) ServeMessage(ctx context.Context, conn *pipe.Conn, req ipc.Message) (ipc.Message, error) {
	return ipc.Dispatch(ctx, &connHandler{run: r, conn: conn}, req)
}

// onConnError records the first dispatch failure and fires Abort once.
func (r *appRun) onConnError(conn *pipe.Conn, err error) {
	if ipc.IsProtocolError(err) || ipc.IsFatalFrameError(err) {
		r.app.config.Collector.IncProtocolErrors()
	}
	de := &DispatchError{ConnID: conn.ID(), Handshake: conn.Handshake(), Err: err}
	r.errOnce.Do(func() {
		r.errMu.Lock()
		r.err = de
		r.errMu.Unlock()
		r.app.config.Abort(de)
	})
}

func (r *appRun) dispatchErr() error {
	r.errMu.Lock()
	defer r.errMu.Unlock()
	if r.err == nil {
		return nil
	}
	return r.err
}

func (r *appRun) call(fn func() error) (ipc.Message, error) {
	r.cbMu.Lock()
	defer r.cbMu.Unlock()
	if err := fn(); err != nil {
		return nil, err
	}
	return &ipc.VoidResponse{}, nil
}

// connHandler binds a run to one connection.
type connHandler struct {
	run  *appRun
	conn *pipe.Conn
}

func (h *connHandler) HandleHandshake(ctx context.Context, m *ipc.HandshakeMessage) (ipc.Message, error) {
	select {
	case <-h.run.afterStarted:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	app := h.run.app
	negotiated := NegotiateVersion(m.Handshake.ProtocolVersions(), types.SupportedProtocolVersions)
	if negotiated == "" {
		fields := map[string]any{
			"peer_versions": m.Handshake.ProtocolVersions(),
			"supported":     types.SupportedProtocolVersions,
		}
		if app.config.StrictVersion {
			return nil, fmt.Errorf("no common protocol version: peer %v, supported %v",
				m.Handshake.ProtocolVersions(), types.SupportedProtocolVersions)
		}
		app.logger.Warn("no common protocol version, continuing", fields)
	}

	instanceID, _ := m.Handshake.Get(types.HandshakeInstanceID)
	app.config.Collector.IncHandshakeCompleted()
	app.logger.Debug("handshake", map[string]any{
		"conn":       h.conn.ID(),
		"peer":       m.Handshake.String(),
		"negotiated": negotiated,
	})

	return &ipc.HandshakeMessage{
		Handshake: ControllerHandshake(negotiated, app.config.ExecutionID, instanceID),
	}, nil
}

func (h *connHandler) HandleCommandLineOptions(_ context.Context, m *ipc.CommandLineOptionMessages) (ipc.Message, error) {
	return h.run.call(func() error {
		if h.run.cb.OnOptions == nil {
			return nil
		}
		return h.run.cb.OnOptions(m)
	})
}

func (h *connHandler) HandleModule(_ context.Context, m *ipc.ModuleMessage) (ipc.Message, error) {
	return h.run.call(func() error {
		if h.run.cb.OnModule == nil {
			return nil
		}
		return h.run.cb.OnModule(m)
	})
}

func (h *connHandler) HandleDiscoveredTests(_ context.Context, m *ipc.DiscoveredTestMessages) (ipc.Message, error) {
	return h.run.call(func() error {
		if h.run.cb.OnDiscoveredTests == nil {
			return nil
		}
		return h.run.cb.OnDiscoveredTests(m)
	})
}

func (h *connHandler) HandleTestResults(_ context.Context, m *ipc.TestResultMessages) (ipc.Message, error) {
	return h.run.call(func() error {
		if h.run.cb.OnTestResults == nil {
			return nil
		}
		return h.run.cb.OnTestResults(m)
	})
}

func (h *connHandler) HandleFileArtifacts(_ context.Context, m *ipc.FileArtifactMessages) (ipc.Message, error) {
	h.run.app.config.Collector.AddArtifacts(len(m.Artifacts))
	return h.run.call(func() error {
		if h.run.cb.OnFileArtifacts == nil {
			return nil
		}
		return h.run.cb.OnFileArtifacts(m)
	})
}

func (h *connHandler) HandleSessionEvent(_ context.Context, m *ipc.TestSessionEvent) (ipc.Message, error) {
	return h.run.call(func() error {
		if h.run.cb.OnSessionEvent == nil {
			return nil
		}
		return h.run.cb.OnSessionEvent(m)
	})
}

func (h *connHandler) HandleUnknown(_ context.Context, m *ipc.UnknownMessage) (ipc.Message, error) {
	h.run.app.config.Collector.IncUnknownMessages()
	h.run.app.logger.Debug("acknowledging unknown message", map[string]any{
		"conn":          h.conn.ID(),
		"serializer_id": m.ID,
	})
	return &ipc.VoidResponse{}, nil
}
