package config

import (
	"errors"
	"fmt"
)

// ServerName is the only --server value testpipe accepts.
const ServerName = "dotnettestcli"

// Error is a configuration error detected before any process is spawned.
type Error struct {
	// Field names the offending option, e.g. "--batch-count".
	Field string
	Msg   string
}

func (e *Error) Error() string {
	if e.Field == "" {
		return "invalid configuration: " + e.Msg
	}
	return fmt.Sprintf("invalid configuration: %s: %s", e.Field, e.Msg)
}

// IsError reports whether err is a configuration error.
func IsError(err error) bool {
	var ce *Error
	return errors.As(err, &ce)
}

func errorf(field, format string, args ...any) error {
	return &Error{Field: field, Msg: fmt.Sprintf(format, args...)}
}

// Options is the resolved configuration for one testpipe invocation.
// It is built once at startup from the config file and CLI flags,
// then passed down explicitly.
type Options struct {
	Executable string
	// ChildArgs are forwarded verbatim to every child process.
	ChildArgs  []string
	WorkingDir string

	// Nil means unset. A supplied count must be greater than 1, and
	// supplying both is a configuration error.
	BatchCount *int
	ShardCount *int
	// MaxParallel limits concurrent partitions. Zero is unbounded.
	MaxParallel int

	ListTests  bool
	FilterUIDs []string
	Filter     string

	// Server and PipeNames select forwarding to an external controller.
	Server    string
	PipeNames []string

	Report          string
	ResultsOut      string
	MetricsTextfile string
	LogLevel        string
	Quiet           bool
	StrictVersion   bool

	Adapter AdapterConfig
}

// Validate checks option combinations.
func (o *Options) Validate() error {
	if o.Executable == "" {
		return errorf("executable", "a test executable is required")
	}
	if o.BatchCount != nil && *o.BatchCount <= 1 {
		return errorf("--batch-count", "must be greater than 1, got %d", *o.BatchCount)
	}
	if o.ShardCount != nil && *o.ShardCount <= 1 {
		return errorf("--shard-count", "must be greater than 1, got %d", *o.ShardCount)
	}
	if o.BatchCount != nil && o.ShardCount != nil {
		return errorf("", "--batch-count and --shard-count cannot be combined")
	}
	if o.ListTests && (o.BatchCount != nil || o.ShardCount != nil) {
		return errorf("--list-tests", "cannot be combined with --batch-count or --shard-count")
	}
	if o.MaxParallel < 0 {
		return errorf("--max-parallel", "must not be negative, got %d", o.MaxParallel)
	}

	switch o.Server {
	case "":
		if len(o.PipeNames) > 0 {
			return errorf("--dotnet-test-pipe", "requires --server %s", ServerName)
		}
	case ServerName:
		if len(o.PipeNames) != 1 {
			return errorf("--dotnet-test-pipe", "--server %s requires exactly one pipe name, got %d", ServerName, len(o.PipeNames))
		}
		if o.PipeNames[0] == "" {
			return errorf("--dotnet-test-pipe", "pipe name must not be empty")
		}
	default:
		return errorf("--server", "unsupported value %q (only %s is supported)", o.Server, ServerName)
	}

	switch o.Adapter.Type {
	case "", "webhook", "redis":
	default:
		return errorf("adapter.type", "unknown adapter %q (must be webhook or redis)", o.Adapter.Type)
	}
	if o.Adapter.Type != "" && o.Adapter.URL == "" {
		return errorf("adapter.url", "required when adapter.type is %s", o.Adapter.Type)
	}
	return nil
}

// PartitionCounts returns the batch and shard counts, zero when unset.
func (o *Options) PartitionCounts() (batch, shard int) {
	if o.BatchCount != nil {
		batch = *o.BatchCount
	}
	if o.ShardCount != nil {
		shard = *o.ShardCount
	}
	return batch, shard
}

// ForwardPipe returns the external controller pipe, or "" when results
// are not forwarded.
func (o *Options) ForwardPipe() string {
	if o.Server != ServerName || len(o.PipeNames) == 0 {
		return ""
	}
	return o.PipeNames[0]
}

// ApplyDefaults copies config file values into fields the CLI left unset.
// isSet reports whether a flag was given on the command line.
func (o *Options) ApplyDefaults(cfg *Config, isSet func(name string) bool) {
	if cfg == nil {
		return
	}
	if o.Executable == "" {
		o.Executable = cfg.Executable
	}
	if len(o.ChildArgs) == 0 {
		o.ChildArgs = cfg.Args
	}
	str := func(dst *string, flag, v string) {
		if !isSet(flag) && v != "" {
			*dst = v
		}
	}
	num := func(dst *int, flag string, v int) {
		if !isSet(flag) && v != 0 {
			*dst = v
		}
	}
	count := func(dst **int, flag string, v *int) {
		if !isSet(flag) && v != nil {
			*dst = v
		}
	}
	str(&o.WorkingDir, "working-dir", cfg.WorkingDir)
	str(&o.Filter, "filter", cfg.Filter)
	str(&o.Report, "report", cfg.Report)
	str(&o.ResultsOut, "results-out", cfg.ResultsOut)
	str(&o.MetricsTextfile, "metrics-textfile", cfg.MetricsTextfile)
	str(&o.LogLevel, "log-level", cfg.LogLevel)
	count(&o.BatchCount, "batch-count", cfg.BatchCount)
	count(&o.ShardCount, "shard-count", cfg.ShardCount)
	num(&o.MaxParallel, "max-parallel", cfg.MaxParallel)
	if !isSet("strict-version") && cfg.Protocol.StrictVersion {
		o.StrictVersion = true
	}
	if o.Adapter.Type == "" {
		o.Adapter = cfg.Adapter
	}
}
