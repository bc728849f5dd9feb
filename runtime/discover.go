package runtime

import (
	"context"
	"sync"

	"github.com/pithecene-io/testpipe/ipc"
	"github.com/pithecene-io/testpipe/types"
)

// DiscoveryClient lists the tests a child would run without running them.
type DiscoveryClient struct {
	config AppConfig
}

// NewDiscoveryClient creates a discovery client for one executable.
func NewDiscoveryClient(config AppConfig) *DiscoveryClient {
	return &DiscoveryClient{config: config}
}

// DiscoverTests runs the child once with --list-tests and returns every
// test it reported, in report order. A child that reports results during
// discovery violates the protocol.
func (c *DiscoveryClient) DiscoverTests(ctx context.Context) ([]types.DiscoveredTest, *types.ProcessExit, error) {
	config := c.config
	config.Args = append(append([]string(nil), c.config.Args...), ListTestsFlag)

	app, err := NewTestApplication(config)
	if err != nil {
		return nil, nil, err
	}

	var (
		mu    sync.Mutex
		tests []types.DiscoveredTest
	)
	exit, err := app.Run(ctx, Callbacks{
		OnDiscoveredTests: func(m *ipc.DiscoveredTestMessages) error {
			mu.Lock()
			defer mu.Unlock()
			tests = append(tests, m.Tests...)
			return nil
		},
		OnTestResults: func(m *ipc.TestResultMessages) error {
			return ipc.NewUnexpectedMessageError(m, "discovery")
		},
	})

	mu.Lock()
	defer mu.Unlock()
	c.config.Collector.AddTestsDiscovered(len(tests))
	return tests, exit, err
}
