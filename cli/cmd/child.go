package cmd

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/testpipe/cli/config"
	"github.com/pithecene-io/testpipe/log"
	"github.com/pithecene-io/testpipe/metrics"
	"github.com/pithecene-io/testpipe/runtime"
	"github.com/pithecene-io/testpipe/types"
)

// Controller exit codes.
const (
	exitSuccess       = runtime.ExitCodeSuccess
	exitTestFailures  = runtime.ExitCodeTestFailures
	exitInfraFailure  = runtime.ExitCodeInfraFailure
	exitConfigError   = runtime.ExitCodeConfigError
	exitProtocolAbort = runtime.ExitCodeProtocolAbort
)

// invocation is the per-command state shared by every child-launching
// command.
type invocation struct {
	opts      *config.Options
	runID     string
	logger    *log.Logger
	collector *metrics.Collector
}

// newInvocation validates options and builds the run's logger and
// metrics collector. An empty mode is derived from the partitioning.
func newInvocation(c *cli.Context, mode string) (*invocation, error) {
	opts, err := loadOptions(c)
	if err != nil {
		return nil, configExit(err)
	}
	if err := opts.Validate(); err != nil {
		return nil, configExit(err)
	}
	level, err := log.ParseLevel(opts.LogLevel)
	if err != nil {
		return nil, configExit(&config.Error{Field: "--log-level", Msg: err.Error()})
	}

	if mode == "" {
		kind, _ := partitioning(opts.PartitionCounts())
		mode = kind.Mode()
	}
	runID := uuid.NewString()
	logger := log.NewLoggerWithWriter(log.RunContext{RunID: runID, Executable: opts.Executable}, level, c.App.ErrWriter)
	return &invocation{
		opts:      opts,
		runID:     runID,
		logger:    logger,
		collector: metrics.NewCollector(mode, runID),
	}, nil
}

// appConfig is the base child configuration for this invocation.
func (inv *invocation) appConfig() runtime.AppConfig {
	return runtime.AppConfig{
		Path:          inv.opts.Executable,
		Args:          inv.opts.ChildArgs,
		WorkingDir:    inv.opts.WorkingDir,
		ExecutionID:   inv.runID,
		StrictVersion: inv.opts.StrictVersion,
		Logger:        inv.logger,
		Collector:     inv.collector,
	}
}

// include returns the --filter predicate, or nil when no filter is set.
func (inv *invocation) include() (runtime.Predicate, error) {
	if inv.opts.Filter == "" {
		return nil, nil
	}
	f, err := runtime.ParseTreeFilter(inv.opts.Filter)
	if err != nil {
		return nil, configExit(&config.Error{Field: "--filter", Msg: err.Error()})
	}
	return f.Predicate(), nil
}

// signalContext is canceled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// childFailed converts a non-zero discovery or help exit into a CLI error
// carrying the child's stderr.
func childFailed(what string, exit *types.ProcessExit) error {
	msg := what + " failed with exit code " + strconv.Itoa(exit.ExitCode)
	if s := strings.TrimSpace(exit.Stderr); s != "" {
		msg += ":\n" + s
	}
	return cli.Exit(msg, exitInfraFailure)
}
