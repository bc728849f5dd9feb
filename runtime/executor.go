package runtime

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/pithecene-io/testpipe/types"
)

// DefaultWaitDelay bounds how long Wait keeps draining stdio after the
// child exits, in case a grandchild still holds the pipes open.
const DefaultWaitDelay = 5 * time.Second

// ProcessConfig configures one child process.
type ProcessConfig struct {
	// Path is the test executable.
	Path string
	// Args are the full arguments, endpoint arguments included.
	Args []string
	// WorkingDir is optional; defaults to the controller's working directory.
	WorkingDir string
	// Env is appended to the inherited environment.
	Env []string
}

// Process abstracts child process lifecycle for testing.
type Process interface {
	Start(ctx context.Context) error
	PID() int
	Wait() (*types.ProcessExit, error)
	Kill() error
}

// ProcessFactory creates a Process. Used for test injection.
type ProcessFactory func(config *ProcessConfig) Process

// ProcessManager runs a child with stdout and stderr captured in memory.
// Capture is driven by os/exec's copying goroutines, so it never blocks
// on, and is never blocked by, pipe protocol I/O.
type ProcessManager struct {
	config *ProcessConfig
	cmd    *exec.Cmd
	stdout syncBuffer
	stderr syncBuffer
}

// NewProcessManager creates a new process manager.
func NewProcessManager(config *ProcessConfig) Process {
	return &ProcessManager{config: config}
}

// Start starts the child. Cancelling ctx kills it.
func (m *ProcessManager) Start(ctx context.Context) error {
	m.cmd = exec.CommandContext(ctx, m.config.Path, m.config.Args...)
	m.cmd.Dir = m.config.WorkingDir
	if len(m.config.Env) > 0 {
		m.cmd.Env = append(os.Environ(), m.config.Env...)
	}
	m.cmd.Stdout = &m.stdout
	m.cmd.Stderr = &m.stderr
	m.cmd.WaitDelay = DefaultWaitDelay

	if err := m.cmd.Start(); err != nil {
		return fmt.Errorf("failed to start %s: %w", m.config.Path, err)
	}
	return nil
}

// PID returns the child's process id, or 0 before Start.
func (m *ProcessManager) PID() int {
	if m.cmd == nil || m.cmd.Process == nil {
		return 0
	}
	return m.cmd.Process.Pid
}

// Wait waits for the child to exit and returns its exit record.
// Must be called after Start.
func (m *ProcessManager) Wait() (*types.ProcessExit, error) {
	if m.cmd == nil {
		return nil, errors.New("process not started")
	}

	err := m.cmd.Wait()

	exit := &types.ProcessExit{
		PID:    m.PID(),
		Stdout: m.stdout.String(),
		Stderr: m.stderr.String(),
	}

	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			if errors.Is(err, exec.ErrWaitDelay) {
				// Exited, but stdio outlived it; the exit code stands.
				exit.ExitCode = m.cmd.ProcessState.ExitCode()
				return exit, nil
			}
			return nil, fmt.Errorf("process wait failed: %w", err)
		}
		exit.ExitCode = exitErr.ExitCode()
	}

	return exit, nil
}

// Kill terminates the child.
func (m *ProcessManager) Kill() error {
	if m.cmd != nil && m.cmd.Process != nil {
		return m.cmd.Process.Kill()
	}
	return nil
}

// syncBuffer is a bytes.Buffer safe for one writer and concurrent readers.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
