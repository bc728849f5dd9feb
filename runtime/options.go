package runtime

import (
	"context"
	"sync"

	"github.com/pithecene-io/testpipe/ipc"
	"github.com/pithecene-io/testpipe/types"
)

// QueryOptions runs the child once with --help and returns the options
// it reports.
func QueryOptions(ctx context.Context, config AppConfig) ([]types.CommandLineOption, *types.ProcessExit, error) {
	config.Args = append(append([]string(nil), config.Args...), HelpFlag)

	app, err := NewTestApplication(config)
	if err != nil {
		return nil, nil, err
	}

	var (
		mu      sync.Mutex
		options []types.CommandLineOption
	)
	exit, err := app.Run(ctx, Callbacks{
		OnOptions: func(m *ipc.CommandLineOptionMessages) error {
			mu.Lock()
			defer mu.Unlock()
			options = append(options, m.Options...)
			return nil
		},
	})

	mu.Lock()
	defer mu.Unlock()
	return options, exit, err
}
