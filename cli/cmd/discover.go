package cmd

import (
	"fmt"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/testpipe/cli/render"
	"github.com/pithecene-io/testpipe/runtime"
	"github.com/pithecene-io/testpipe/types"
)

// TestRow is the table view of one discovered test.
type TestRow struct {
	UID         string   `json:"uid"`
	DisplayName string   `json:"display_name"`
	Path        string   `json:"path"`
	Location    string   `json:"location,omitempty"`
	Traits      []string `json:"traits,omitempty"`
}

// NewTestRow flattens t for table output.
func NewTestRow(t types.DiscoveredTest) TestRow {
	row := TestRow{
		UID:         t.UID,
		DisplayName: t.DisplayName,
		Path:        "/" + strings.Join(runtime.TreePath(t), "/"),
	}
	if t.FilePath != nil {
		row.Location = *t.FilePath
		if t.LineNumber != nil {
			row.Location += fmt.Sprintf(":%d", *t.LineNumber)
		}
	}
	for _, tr := range t.Traits {
		if tr.Value != nil {
			row.Traits = append(row.Traits, tr.Key+"="+*tr.Value)
		} else {
			row.Traits = append(row.Traits, tr.Key)
		}
	}
	return row
}

// DiscoverCommand returns the discover command.
func DiscoverCommand() *cli.Command {
	flags := append(childFlags(), selectionFlags()...)
	return &cli.Command{
		Name:      "discover",
		Usage:     "List the tests a test executable reports, without running them",
		ArgsUsage: "<executable> [-- child-args...]",
		Flags:     append(flags, ReadOnlyFlags()...),
		Action:    discoverAction,
	}
}

func discoverAction(c *cli.Context) error {
	inv, err := newInvocation(c, "discover")
	if err != nil {
		return err
	}
	defer func() { _ = inv.logger.Sync() }()
	return listTests(c, inv)
}

// listTests discovers, filters and renders tests. Shared by discover and
// run --list-tests.
func listTests(c *cli.Context, inv *invocation) error {
	include, err := inv.include()
	if err != nil {
		return err
	}
	r, err := render.NewRenderer(c)
	if err != nil {
		return usageError("%v", err)
	}

	ctx, cancel := signalContext(c.Context)
	defer cancel()

	tests, exit, err := runtime.NewDiscoveryClient(inv.appConfig()).DiscoverTests(ctx)
	if err != nil {
		code, msg := classify(nil, err)
		return cli.Exit("discovery failed: "+msg, code)
	}
	if !exit.Succeeded() {
		return childFailed("discovery", exit)
	}

	tests = runtime.Filter(tests, include)
	if ids := inv.opts.FilterUIDs; len(ids) > 0 {
		tests = runtime.Filter(tests, uidSet(ids))
	}

	if r.Format() != render.FormatTable {
		if tests == nil {
			tests = []types.DiscoveredTest{}
		}
		return r.Render(tests)
	}
	rows := make([]TestRow, len(tests))
	for i, t := range tests {
		rows[i] = NewTestRow(t)
	}
	return r.Render(rows)
}

func uidSet(ids []string) runtime.Predicate {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return func(t types.DiscoveredTest) bool {
		_, ok := set[t.UID]
		return ok
	}
}
