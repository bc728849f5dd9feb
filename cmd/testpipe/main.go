// Package main provides the testpipe CLI entrypoint.
//
// Only `run` executes tests; discover and options launch the child in
// discovery mode and never run anything.
//
// Usage:
//
//	testpipe <command> [options] <executable> [-- child-args...]
//
// Exit codes:
//   - 0: success
//   - 1: test failures
//   - 2: partition or process infrastructure failure
//   - 3: configuration error
//   - 70: protocol abort
package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/testpipe/cli/cmd"
	"github.com/pithecene-io/testpipe/runtime"
	"github.com/pithecene-io/testpipe/types"
)

// Commit is set via ldflags at build time.
var commit = "unknown"

// exitUsage is used for errors urfave/cli raises itself, such as an
// unknown flag. A bad command line is a configuration error.
const exitUsage = runtime.ExitCodeConfigError

func newApp() *cli.App {
	return &cli.App{
		Name:    "testpipe",
		Usage:   "Run .NET test executables over the test platform pipe protocol",
		Version: fmt.Sprintf("%s (commit: %s, protocol: %s)", types.Version, commit, types.ProtocolVersion),
		// test UIDs and child arguments may contain commas
		DisableSliceFlagSeparator: true,
		ExitErrHandler:            exitErrHandler,
		Commands: []*cli.Command{
			cmd.RunCommand(),
			cmd.DiscoverCommand(),
			cmd.OptionsCommand(),
			cmd.VersionCommand(commit),
		},
	}
}

func main() {
	if err := newApp().Run(os.Args); err != nil {
		// ExitErrHandler already exited for command errors; this is a
		// parse failure raised before any command ran.
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitUsage)
	}
}

// exitErrHandler preserves exit codes from cli.Exit.
func exitErrHandler(_ *cli.Context, err error) {
	if err == nil {
		return
	}
	os.Exit(reportExit(os.Stderr, err))
}

// reportExit prints the message carried by err, if any, and returns the
// process exit code for it.
func reportExit(w io.Writer, err error) int {
	var exitCoder cli.ExitCoder
	if errors.As(err, &exitCoder) {
		code := exitCoder.ExitCode()
		// cli.Exit("", N).Error() is empty; nothing worth printing
		if msg := exitCoder.Error(); msg != "" && msg != fmt.Sprintf("exit status %d", code) {
			fmt.Fprintln(w, msg)
		}
		return code
	}
	fmt.Fprintf(w, "Error: %v\n", err)
	return exitUsage
}
