// Package cmd provides CLI commands for the testpipe binary.
package cmd

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/testpipe/cli/config"
)

// Shared flags for read-only output.
var (
	// FormatFlag selects output format: json, table, yaml.
	FormatFlag = &cli.StringFlag{
		Name:    "format",
		Aliases: []string{"f"},
		Usage:   "Output format: json, table, yaml",
	}

	// NoColorFlag disables colored output.
	NoColorFlag = &cli.BoolFlag{
		Name:  "no-color",
		Usage: "Disable colored output",
	}
)

// ReadOnlyFlags returns the shared flags for commands that render output.
func ReadOnlyFlags() []cli.Flag {
	return []cli.Flag{
		FormatFlag,
		NoColorFlag,
	}
}

// childFlags select and configure the child executable. Shared by every
// command that launches one.
func childFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  "config",
			Usage: "Path to a testpipe.yaml config file",
		},
		&cli.StringFlag{
			Name:  "working-dir",
			Usage: "Working directory for the child process",
		},
		&cli.StringFlag{
			Name:  "log-level",
			Usage: "Log level: debug, info, warn, error",
			Value: "info",
		},
		&cli.BoolFlag{
			Name:  "strict-version",
			Usage: "Abort when the child shares no protocol version",
		},
	}
}

// selectionFlags choose which discovered tests run.
func selectionFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  "filter",
			Usage: "Tree filter: /Namespace/Type/Method with * and ** globs and [key=value] traits",
		},
		&cli.StringSliceFlag{
			Name:  "filter-uid",
			Usage: "Run only the test with this id (repeatable)",
		},
	}
}

// runFlags returns the flags specific to testpipe run.
func runFlags() []cli.Flag {
	return []cli.Flag{
		&cli.IntFlag{
			Name:  "batch-count",
			Usage: "Split the run into N batches (N > 1)",
		},
		&cli.IntFlag{
			Name:  "shard-count",
			Usage: "Split the run into N shards (N > 1)",
		},
		&cli.IntFlag{
			Name:  "max-parallel",
			Usage: "Maximum concurrently running partitions (0 = unbounded)",
		},
		&cli.BoolFlag{
			Name:  "list-tests",
			Usage: "List discovered tests instead of running them",
		},
		&cli.StringFlag{
			Name:  "server",
			Usage: "Forward results to an external controller (only " + config.ServerName + ")",
		},
		&cli.StringSliceFlag{
			Name:  "dotnet-test-pipe",
			Usage: "Pipe name of the external controller (with --server)",
		},
		&cli.StringFlag{
			Name:  "report",
			Usage: "Write a JSON run report to PATH (- for stderr)",
		},
		&cli.StringFlag{
			Name:  "results-out",
			Usage: "Write framed msgpack result events to PATH (- for stdout)",
		},
		&cli.StringFlag{
			Name:  "metrics-textfile",
			Usage: "Write Prometheus textfile metrics to PATH",
		},
		&cli.BoolFlag{
			Name:  "quiet",
			Usage: "Only print failing tests and the summary",
		},
	}
}

// loadOptions resolves Options from the command line and, if given, the
// config file. The first positional argument is the executable; the rest
// are forwarded to the child. Returns *config.Error on bad input.
func loadOptions(c *cli.Context) (*config.Options, error) {
	opts := &config.Options{
		WorkingDir:      c.String("working-dir"),
		LogLevel:        c.String("log-level"),
		StrictVersion:   c.Bool("strict-version"),
		Filter:          c.String("filter"),
		FilterUIDs:      c.StringSlice("filter-uid"),
		BatchCount:      intIfSet(c, "batch-count"),
		ShardCount:      intIfSet(c, "shard-count"),
		MaxParallel:     c.Int("max-parallel"),
		ListTests:       c.Bool("list-tests"),
		Server:          c.String("server"),
		PipeNames:       c.StringSlice("dotnet-test-pipe"),
		Report:          c.String("report"),
		ResultsOut:      c.String("results-out"),
		MetricsTextfile: c.String("metrics-textfile"),
		Quiet:           c.Bool("quiet"),
	}
	if c.Args().Present() {
		opts.Executable = c.Args().First()
		opts.ChildArgs = c.Args().Tail()
		// flag parsing stops at the executable, so a separator after it
		// is still in the tail
		if len(opts.ChildArgs) > 0 && opts.ChildArgs[0] == "--" {
			opts.ChildArgs = opts.ChildArgs[1:]
		}
	}

	if path := c.String("config"); path != "" {
		cfg, err := config.Load(path)
		if err != nil {
			if config.IsError(err) {
				return nil, err
			}
			return nil, &config.Error{Field: "--config", Msg: err.Error()}
		}
		opts.ApplyDefaults(cfg, c.IsSet)
	}
	return opts, nil
}

// intIfSet returns the flag's value, or nil when it was not given, so an
// explicit zero is still validated.
func intIfSet(c *cli.Context, name string) *int {
	if !c.IsSet(name) {
		return nil
	}
	n := c.Int(name)
	return &n
}

// configExit converts a configuration error into the CLI exit error.
func configExit(err error) error {
	return cli.Exit(err.Error(), exitConfigError)
}

// usageError reports a bad command line as a configuration error.
func usageError(format string, args ...any) error {
	return configExit(&config.Error{Msg: fmt.Sprintf(format, args...)})
}
