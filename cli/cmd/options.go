package cmd

import (
	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/testpipe/cli/render"
	"github.com/pithecene-io/testpipe/runtime"
	"github.com/pithecene-io/testpipe/types"
)

// OptionRow is the table view of one child command-line option.
type OptionRow struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Hidden      bool   `json:"hidden"`
	BuiltIn     bool   `json:"built_in"`
}

// OptionsCommand returns the options command.
func OptionsCommand() *cli.Command {
	return &cli.Command{
		Name:      "options",
		Usage:     "Show the command-line options a test executable accepts",
		ArgsUsage: "<executable> [-- child-args...]",
		Flags:     append(childFlags(), ReadOnlyFlags()...),
		Action:    optionsAction,
	}
}

func optionsAction(c *cli.Context) error {
	inv, err := newInvocation(c, "options")
	if err != nil {
		return err
	}
	defer func() { _ = inv.logger.Sync() }()

	r, err := render.NewRenderer(c)
	if err != nil {
		return usageError("%v", err)
	}

	ctx, cancel := signalContext(c.Context)
	defer cancel()

	opts, exit, err := runtime.QueryOptions(ctx, inv.appConfig())
	if err != nil {
		code, msg := classify(nil, err)
		return cli.Exit("options query failed: "+msg, code)
	}
	if !exit.Succeeded() {
		return childFailed("options query", exit)
	}

	rows := make([]OptionRow, len(opts))
	for i, o := range opts {
		rows[i] = NewOptionRow(o)
	}
	return r.Render(rows)
}

// NewOptionRow flattens o for output.
func NewOptionRow(o types.CommandLineOption) OptionRow {
	return OptionRow{
		Name:        o.Name,
		Description: o.Description,
		Hidden:      o.IsHidden != nil && *o.IsHidden,
		BuiltIn:     o.IsBuiltIn != nil && *o.IsBuiltIn,
	}
}
