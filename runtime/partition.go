package runtime

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pithecene-io/testpipe/ipc"
	"github.com/pithecene-io/testpipe/log"
	"github.com/pithecene-io/testpipe/metrics"
	"github.com/pithecene-io/testpipe/sink"
	"github.com/pithecene-io/testpipe/types"
)

// PartitionKind selects how a run is split across child processes.
type PartitionKind int

const (
	// PartitionNone runs everything in one child.
	PartitionNone PartitionKind = iota
	// PartitionBatch splits the run into batches.
	PartitionBatch
	// PartitionShard splits the run into shards.
	PartitionShard
)

// String returns the partition label used in ids ("Batch", "Shard").
func (k PartitionKind) String() string {
	switch k {
	case PartitionBatch:
		return "Batch"
	case PartitionShard:
		return "Shard"
	default:
		return "Single"
	}
}

// Mode returns the metrics and report mode name.
func (k PartitionKind) Mode() string {
	switch k {
	case PartitionBatch:
		return "batch"
	case PartitionShard:
		return "shard"
	default:
		return "single"
	}
}

// Partition is the set of tests assigned to one child. Immutable once built.
type Partition struct {
	// Index is 1-based among non-empty partitions.
	Index int `json:"index"`
	// ID is "Batch-1", "Shard-2", or empty for an unpartitioned run.
	ID    string                 `json:"id"`
	Tests []types.DiscoveredTest `json:"-"`
}

// UIDs returns the partition's test ids in order.
func (p Partition) UIDs() []string { return types.UIDs(p.Tests) }

// DisplayName returns the name of the partition's failure entry.
func (p Partition) DisplayName(kind PartitionKind) string {
	return fmt.Sprintf("[%s %d failure]", kind, p.Index)
}

// BuildPartitions assigns tests to n buckets by position: test i goes to
// bucket i mod n. Assignment is deterministic for a fixed order. Empty
// buckets are dropped, so fewer than n partitions come back when there
// are fewer than n tests.
func BuildPartitions(kind PartitionKind, tests []types.DiscoveredTest, n int) ([]Partition, error) {
	if n < 1 {
		return nil, fmt.Errorf("partition count must be at least 1, got %d", n)
	}
	buckets := make([][]types.DiscoveredTest, n)
	for i, t := range tests {
		buckets[i%n] = append(buckets[i%n], t)
	}

	var out []Partition
	for _, b := range buckets {
		if len(b) == 0 {
			continue
		}
		idx := len(out) + 1
		p := Partition{Index: idx, Tests: b}
		if kind != PartitionNone {
			p.ID = fmt.Sprintf("%s-%d", kind, idx)
		}
		out = append(out, p)
	}
	return out, nil
}

// EngineConfig configures a partitioned run.
type EngineConfig struct {
	Kind PartitionKind
	// Count is the requested partition count. Validated by the caller;
	// ignored for PartitionNone.
	Count int
	// MaxParallel limits concurrently running partitions; 0 is unbounded.
	MaxParallel int

	// App is the base child configuration shared by every partition.
	App AppConfig
	// Sink receives every result and synthetic failure entry. It is
	// wrapped with sink.NewSynchronized.
	Sink sink.Sink
	// Include selects discovered tests before partitioning.
	Include Predicate
	// FilterUIDs restricts the run to the given ids.
	FilterUIDs []string

	Logger    *log.Logger
	Collector *metrics.Collector
}

// PartitionResult is the outcome of one partition's child.
type PartitionResult struct {
	Partition Partition          `json:"partition"`
	Tests     int                `json:"tests"`
	Exit      *types.ProcessExit `json:"exit,omitempty"`
	// Results and Failed count real results reported by the child.
	Results int `json:"results"`
	Failed  int `json:"failed"`
	// Synthetic is true when a failure entry was emitted for the partition.
	Synthetic bool `json:"synthetic"`
	// Canceled is true when the run was canceled before the child exited
	// cleanly. No failure entry is emitted for it.
	Canceled bool `json:"canceled,omitempty"`
	// StartErr is set when the child could not be launched.
	StartErr  error                `json:"-"`
	Artifacts []types.FileArtifact `json:"artifacts,omitempty"`
}

// ExitCode returns the child's exit code, or -1 if it never ran.
func (r *PartitionResult) ExitCode() int {
	if r.Exit == nil {
		return -1
	}
	return r.Exit.ExitCode
}

// InfraFailure reports a child that failed without reporting a failing
// test. A canceled child is not an infrastructure failure.
func (r *PartitionResult) InfraFailure() bool {
	return !r.Canceled && r.ExitCode() != 0 && r.Failed == 0
}

// RunResult aggregates every partition of one logical run.
type RunResult struct {
	Kind       PartitionKind      `json:"-"`
	Discovered int                `json:"discovered"`
	Partitions []*PartitionResult `json:"partitions"`
	Duration   time.Duration      `json:"-"`
}

// Results returns the number of real results across partitions.
func (r *RunResult) Results() int {
	n := 0
	for _, p := range r.Partitions {
		n += p.Results
	}
	return n
}

// Failed returns the number of failing real results across partitions.
func (r *RunResult) Failed() int {
	n := 0
	for _, p := range r.Partitions {
		n += p.Failed
	}
	return n
}

// SyntheticFailures returns the number of failure entries emitted.
func (r *RunResult) SyntheticFailures() int {
	n := 0
	for _, p := range r.Partitions {
		if p.Synthetic {
			n++
		}
	}
	return n
}

// InfraFailures returns the number of partitions that failed outright.
func (r *RunResult) InfraFailures() int {
	n := 0
	for _, p := range r.Partitions {
		if p.InfraFailure() {
			n++
		}
	}
	return n
}

// Artifacts returns all file artifacts in partition order.
func (r *RunResult) Artifacts() []types.FileArtifact {
	var out []types.FileArtifact
	for _, p := range r.Partitions {
		out = append(out, p.Artifacts...)
	}
	return out
}

// Engine runs tests across concurrently launched children and folds their
// results into one sink.
type Engine struct {
	config EngineConfig
	sink   sink.Sink
	logger *log.Logger
}

// NewEngine creates an engine.
func NewEngine(config EngineConfig) (*Engine, error) {
	if config.Sink == nil {
		return nil, errors.New("result sink is required")
	}
	if config.Kind != PartitionNone && config.Count < 1 {
		return nil, fmt.Errorf("%s count must be at least 1, got %d", config.Kind.Mode(), config.Count)
	}
	if config.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must not be negative, got %d", config.MaxParallel)
	}
	if config.App.Logger == nil {
		config.App.Logger = config.Logger
	}
	if config.App.Collector == nil {
		config.App.Collector = config.Collector
	}
	return &Engine{
		config: config,
		sink:   sink.NewSynchronized(config.Sink),
		logger: config.Logger,
	}, nil
}

// needsDiscovery reports whether the run must list tests first.
func (e *Engine) needsDiscovery() bool {
	return e.config.Kind != PartitionNone || e.config.Include != nil
}

// Run executes the whole logical run. Partitioned or filtered runs discover
// first; a discovery child exiting non-zero is a *DiscoveryError and no
// partition is launched.
func (e *Engine) Run(ctx context.Context) (*RunResult, error) {
	if !e.needsDiscovery() {
		start := time.Now()
		single := Partition{Index: 1}
		pr, err := e.runPartition(ctx, single, e.config.FilterUIDs)
		if err == nil {
			err = ctx.Err()
		}
		return &RunResult{
			Kind:       PartitionNone,
			Partitions: []*PartitionResult{pr},
			Duration:   time.Since(start),
		}, err
	}

	tests, exit, err := NewDiscoveryClient(e.config.App).DiscoverTests(ctx)
	if err != nil {
		return nil, fmt.Errorf("discovery: %w", err)
	}
	if !exit.Succeeded() {
		return nil, &DiscoveryError{Exit: exit}
	}
	e.logger.Info("discovered tests", map[string]any{"count": len(tests)})
	return e.RunTests(ctx, tests)
}

// RunTests partitions already discovered tests and runs every non-empty
// partition concurrently.
func (e *Engine) RunTests(ctx context.Context, tests []types.DiscoveredTest) (*RunResult, error) {
	start := time.Now()
	selected := Filter(tests, e.include())

	n := e.config.Count
	if e.config.Kind == PartitionNone {
		n = 1
	}
	partitions, err := BuildPartitions(e.config.Kind, selected, n)
	if err != nil {
		return nil, err
	}

	result := &RunResult{
		Kind:       e.config.Kind,
		Discovered: len(tests),
		Partitions: make([]*PartitionResult, len(partitions)),
	}

	e.logger.Info("running partitions", map[string]any{
		"mode":       e.config.Kind.Mode(),
		"requested":  n,
		"partitions": len(partitions),
		"tests":      len(selected),
	})

	g, gctx := errgroup.WithContext(ctx)
	if e.config.MaxParallel > 0 {
		g.SetLimit(e.config.MaxParallel)
	}
	for i, p := range partitions {
		g.Go(func() error {
			pr, err := e.runPartition(gctx, p, p.UIDs())
			result.Partitions[i] = pr
			return err
		})
	}
	err = g.Wait()
	result.Duration = time.Since(start)
	if err != nil {
		return result, err
	}
	return result, ctx.Err()
}

// include combines the inclusion predicate with the id filter.
func (e *Engine) include() Predicate {
	include := e.config.Include
	if len(e.config.FilterUIDs) == 0 {
		return include
	}
	ids := make(map[string]bool, len(e.config.FilterUIDs))
	for _, id := range e.config.FilterUIDs {
		ids[id] = true
	}
	return func(t types.DiscoveredTest) bool {
		return ids[t.UID] && (include == nil || include(t))
	}
}

// runPartition runs one child. A non-nil error is fatal to the whole run;
// a child that fails outright yields a failure entry instead.
func (e *Engine) runPartition(ctx context.Context, p Partition, ids []string) (*PartitionResult, error) {
	app := e.config.App
	if p.ID != "" {
		app.Logger = app.Logger.With(map[string]any{"partition": p.ID})
	}

	var client *ExecutionClient
	if len(ids) == 0 && p.ID == "" {
		client = NewRunAllClient(app)
	} else {
		client = NewFilteredClient(app, ids)
	}

	pr := &PartitionResult{Partition: p, Tests: len(p.Tests)}
	e.config.Collector.IncPartitionStarted()

	summary, err := client.StreamTests(ctx, func(r types.TestResult) error {
		pr.Results++
		if r.Outcome.IsFailure() {
			pr.Failed++
		}
		ev, err := sink.ResultEvent(r, p.ID)
		if err != nil {
			return err
		}
		return e.sink.Publish(ctx, ev)
	})
	if summary != nil {
		pr.Exit = summary.Exit
		pr.Artifacts = summary.Artifacts
	}

	switch {
	case err == nil:
	case IsDispatchError(err) || ipc.IsProtocolError(err):
		return pr, err
	case pr.Exit == nil:
		pr.StartErr = err
	default:
		// The exit record stands; close errors are reported, not fatal.
		app.Logger.Warn("partition completed with errors", map[string]any{"error": err.Error()})
	}

	if pr.ExitCode() == 0 {
		e.config.Collector.IncPartitionSucceeded()
		return pr, nil
	}
	if ctx.Err() != nil {
		// killed by cancellation, not crashed
		pr.Canceled = true
		app.Logger.Warn("partition canceled", map[string]any{
			"exit_code": pr.ExitCode(),
			"results":   pr.Results,
		})
		return pr, nil
	}
	e.config.Collector.IncPartitionFailed()

	app.Logger.Warn("partition failed", map[string]any{
		"exit_code": pr.ExitCode(),
		"results":   pr.Results,
	})
	if e.config.Kind == PartitionNone {
		return pr, nil
	}

	pr.Synthetic = true
	e.config.Collector.IncSyntheticFailure()
	ev := sink.SyntheticFailureEvent(p.ID, p.DisplayName(e.config.Kind), e.failureMessage(pr), pr.ExitCode())
	if err := e.sink.Publish(ctx, ev); err != nil {
		return pr, fmt.Errorf("publish %s failure: %w", p.ID, err)
	}
	return pr, nil
}

// failureMessage embeds the partition's captured stdio.
func (e *Engine) failureMessage(pr *PartitionResult) string {
	stdout, stderr := "", ""
	if pr.Exit != nil {
		stdout, stderr = pr.Exit.Stdout, pr.Exit.Stderr
	}
	if pr.StartErr != nil {
		stderr = pr.StartErr.Error()
	}
	return fmt.Sprintf("%s %d failed with exit code %d.\nStandard Output:\n%s\n\nStandard Error:\n%s",
		e.config.Kind, pr.Partition.Index, pr.ExitCode(), stdout, stderr)
}
