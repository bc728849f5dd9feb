package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/testpipe/ipc"
	"github.com/pithecene-io/testpipe/iox"
	"github.com/pithecene-io/testpipe/metrics"
	"github.com/pithecene-io/testpipe/runtime"
	"github.com/pithecene-io/testpipe/sink"
	"github.com/pithecene-io/testpipe/types"
)

// forwardDialTimeout bounds connecting to an external controller.
const forwardDialTimeout = 30 * time.Second

// RunCommand returns the run command, the only command that executes tests.
func RunCommand() *cli.Command {
	flags := append(childFlags(), selectionFlags()...)
	flags = append(flags, runFlags()...)
	return &cli.Command{
		Name:      "run",
		Usage:     "Run the tests of a test executable, optionally split into batches or shards",
		ArgsUsage: "<executable> [-- child-args...]",
		Flags:     append(flags, ReadOnlyFlags()...),
		Action:    runAction,
	}
}

func partitioning(batch, shard int) (runtime.PartitionKind, int) {
	switch {
	case batch > 0:
		return runtime.PartitionBatch, batch
	case shard > 0:
		return runtime.PartitionShard, shard
	default:
		return runtime.PartitionNone, 1
	}
}

func runAction(c *cli.Context) error {
	inv, err := newInvocation(c, "")
	if err != nil {
		return err
	}
	defer func() { _ = inv.logger.Sync() }()

	if inv.opts.ListTests {
		return listTests(c, inv)
	}
	kind, count := partitioning(inv.opts.PartitionCounts())

	include, err := inv.include()
	if err != nil {
		return err
	}

	ctx, cancel := signalContext(c.Context)
	defer cancel()

	results, err := openSinks(ctx, inv, c.App.Writer, c.App.ErrWriter)
	if err != nil {
		return cli.Exit(err.Error(), exitInfraFailure)
	}

	engine, err := runtime.NewEngine(runtime.EngineConfig{
		Kind:        kind,
		Count:       count,
		MaxParallel: inv.opts.MaxParallel,
		App:         inv.appConfig(),
		Sink:        results,
		Include:     include,
		FilterUIDs:  inv.opts.FilterUIDs,
		Logger:      inv.logger,
		Collector:   inv.collector,
	})
	if err != nil {
		_ = results.Close()
		return configExit(err)
	}

	inv.logger.Info("run starting", map[string]any{
		"mode":         kind.Mode(),
		"count":        count,
		"max_parallel": inv.opts.MaxParallel,
	})
	result, runErr := engine.Run(ctx)
	if err := results.Close(); err != nil {
		inv.logger.Warn("closing result sinks", map[string]any{"error": err.Error()})
	}

	exitCode, message := classify(result, runErr)
	inv.logger.Info("run finished", map[string]any{
		"exit_code": exitCode,
		"message":   message,
	})

	snap := inv.collector.Snapshot()
	report := runtime.BuildRunReport(inv.runID, inv.opts.Executable, result, snap, exitCode)
	if runErr != nil {
		report.Message = message
	}
	if report.Mode == "" {
		report.Mode = kind.Mode()
	}
	if path := inv.opts.Report; path != "" {
		if err := runtime.WriteRunReport(report, path); err != nil {
			inv.logger.Error("writing run report", map[string]any{"error": err.Error()})
		}
	}
	if path := inv.opts.MetricsTextfile; path != "" {
		if err := metrics.WriteTextfile(path, snap); err != nil {
			inv.logger.Error("writing metrics textfile", map[string]any{"error": err.Error()})
		}
	}
	notify(c.Context, inv, report, len(partitionsOf(result)))

	if exitCode == exitSuccess {
		return nil
	}
	if runErr == nil {
		// the console sink already printed the summary
		message = ""
	}
	return cli.Exit(message, exitCode)
}

// classify maps an engine result and error to the controller exit code.
func classify(result *runtime.RunResult, err error) (int, string) {
	switch {
	case err == nil:
		outcome := runtime.DetermineOutcome(result)
		return outcome.ExitCode(), outcome.Message
	case runtime.IsDiscoveryError(err):
		return exitInfraFailure, err.Error()
	case ipc.IsProtocolError(err), runtime.IsDispatchError(err):
		return exitProtocolAbort, err.Error()
	case errors.Is(err, context.Canceled):
		return exitInfraFailure, "run canceled"
	default:
		return exitInfraFailure, err.Error()
	}
}

func partitionsOf(result *runtime.RunResult) []*runtime.PartitionResult {
	if result == nil {
		return nil
	}
	return result.Partitions
}

// openSinks builds the result sinks selected by the options: the console
// always, plus the msgpack frame stream and the external controller
// forwarder when configured.
func openSinks(ctx context.Context, inv *invocation, stdout, stderr io.Writer) (sink.Sink, error) {
	consoleOut := stdout
	if inv.opts.ResultsOut == "-" {
		consoleOut = stderr
	}
	sinks := sink.Multi{sink.NewConsole(consoleOut, inv.opts.Quiet)}

	switch path := inv.opts.ResultsOut; path {
	case "":
	case "-":
		sinks = append(sinks, sink.NewFrameSink(iox.NopCloser(stdout)))
	default:
		f, err := os.Create(path)
		if err != nil {
			return nil, fmt.Errorf("opening results output: %w", err)
		}
		sinks = append(sinks, sink.NewFrameSink(f))
	}

	if name := inv.opts.ForwardPipe(); name != "" {
		dialCtx, cancel := context.WithTimeout(ctx, forwardDialTimeout)
		defer cancel()
		hs := runtime.ControllerHandshake(
			strings.Join(types.SupportedProtocolVersions, types.ProtocolVersionSeparator),
			inv.runID, uuid.NewString())
		fwd, err := sink.DialForwarder(dialCtx, name, hs)
		if err != nil {
			_ = sinks.Close()
			return nil, fmt.Errorf("connecting to --dotnet-test-pipe %s: %w", name, err)
		}
		inv.logger.Info("forwarding results", map[string]any{
			"pipe": name,
			"peer": fwd.Peer().String(),
		})
		sinks = append(sinks, fwd)
	}
	return sinks, nil
}
