package runtime

import (
	"context"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/pithecene-io/testpipe/ipc"
	"github.com/pithecene-io/testpipe/types"
)

// MaxInlineFilterBytes is the largest id filter passed directly as
// arguments. Larger filters, and filters holding ids that would parse as
// a flag or a response file, go through a response file. There the ids
// are bracketed by FilterUIDTerminator, so an id equal to it cannot be
// sent at all.
const MaxInlineFilterBytes = 32 * 1024

// ExecutionSummary is everything an execution run reported besides results.
type ExecutionSummary struct {
	Exit      *types.ProcessExit   `json:"exit"`
	Results   int                  `json:"results"`
	Artifacts []types.FileArtifact `json:"artifacts,omitempty"`
	Sessions  []types.SessionEvent `json:"sessions,omitempty"`
}

// ExecutionClient runs tests in a child, either all or a given id subset.
type ExecutionClient struct {
	config AppConfig
	filter []string
	all    bool
}

// NewRunAllClient runs every test; arguments pass through unchanged.
func NewRunAllClient(config AppConfig) *ExecutionClient {
	return &ExecutionClient{config: config, all: true}
}

// NewFilteredClient runs only the tests with the given ids.
func NewFilteredClient(config AppConfig, ids []string) *ExecutionClient {
	return &ExecutionClient{config: config, filter: append([]string(nil), ids...)}
}

// RunTests runs the child and returns every result.
func (c *ExecutionClient) RunTests(ctx context.Context) ([]types.TestResult, *ExecutionSummary, error) {
	var results []types.TestResult
	summary, err := c.StreamTests(ctx, func(r types.TestResult) error {
		results = append(results, r)
		return nil
	})
	return results, summary, err
}

// StreamTests runs the child, calling onResult for each result in the
// order the child reports them. Calls are never concurrent.
func (c *ExecutionClient) StreamTests(ctx context.Context, onResult func(types.TestResult) error) (*ExecutionSummary, error) {
	config := c.config
	args, cleanup, err := c.buildArgs()
	if err != nil {
		return nil, err
	}
	defer cleanup()
	config.Args = args

	app, err := NewTestApplication(config)
	if err != nil {
		return nil, err
	}

	var (
		mu      sync.Mutex
		summary ExecutionSummary
	)
	exit, err := app.Run(ctx, Callbacks{
		OnTestResults: func(m *ipc.TestResultMessages) error {
			results, err := ConvertResults(m)
			if err != nil {
				return err
			}
			for _, r := range results {
				c.config.Collector.IncResult(r.Outcome.String())
				if err := onResult(r); err != nil {
					return fmt.Errorf("result %s: %w", r.UID, err)
				}
			}
			mu.Lock()
			summary.Results += len(results)
			mu.Unlock()
			return nil
		},
		OnFileArtifacts: func(m *ipc.FileArtifactMessages) error {
			mu.Lock()
			defer mu.Unlock()
			summary.Artifacts = append(summary.Artifacts, m.Artifacts...)
			return nil
		},
		OnSessionEvent: func(m *ipc.TestSessionEvent) error {
			mu.Lock()
			defer mu.Unlock()
			summary.Sessions = append(summary.Sessions, m.Event)
			return nil
		},
	})

	mu.Lock()
	defer mu.Unlock()
	summary.Exit = exit
	return &summary, err
}

// buildArgs returns the child arguments for this client and a cleanup
// func removing any response file.
func (c *ExecutionClient) buildArgs() ([]string, func(), error) {
	args := append([]string(nil), c.config.Args...)
	noop := func() {}
	if c.all {
		return args, noop, nil
	}

	if !needsResponseFile(c.filter) {
		args = append(args, FilterUIDFlag)
		return append(args, c.filter...), noop, nil
	}

	if slices.Contains(c.filter, FilterUIDTerminator) {
		return nil, noop, fmt.Errorf("test id %q cannot be passed to a child", FilterUIDTerminator)
	}
	rsp := append([]string{FilterUIDFlag, FilterUIDTerminator}, c.filter...)
	path, err := writeResponseFile(append(rsp, FilterUIDTerminator))
	if err != nil {
		return nil, noop, err
	}
	return append(args, ResponseFilePrefix+path), func() { _ = os.Remove(path) }, nil
}

// needsResponseFile reports whether ids are too long for the command line
// or contain ids the host would read as a flag or a response file.
func needsResponseFile(ids []string) bool {
	total := 0
	for _, id := range ids {
		total += len(id) + 1
		if strings.HasPrefix(id, ResponseFilePrefix) || strings.HasPrefix(id, "--") {
			return true
		}
	}
	return total > MaxInlineFilterBytes
}

// writeResponseFile writes one quoted argument per line.
func writeResponseFile(args []string) (string, error) {
	f, err := os.CreateTemp("", "testpipe-filter-*.rsp")
	if err != nil {
		return "", fmt.Errorf("failed to create response file: %w", err)
	}
	var b strings.Builder
	for _, a := range args {
		b.WriteString(strconv.Quote(a))
		b.WriteByte('\n')
	}
	if _, err := f.WriteString(b.String()); err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return "", fmt.Errorf("failed to write response file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(f.Name())
		return "", fmt.Errorf("failed to close response file: %w", err)
	}
	return f.Name(), nil
}
