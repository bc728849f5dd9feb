package testhost

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Arguments the controller passes to a child.
const (
	ServerFlag         = "--server"
	ServerName         = "dotnettestcli"
	PipeNameFlag       = "--dotnet-test-pipe"
	ListTestsFlag      = "--list-tests"
	FilterUIDFlag      = "--filter-uid"
	HelpFlag           = "--help"
	ResponseFilePrefix = "@"

	// FilterUIDTerminator opens and closes an id list taken verbatim, so
	// ids may start with "--".
	FilterUIDTerminator = "--"
)

// Args is a parsed child command line.
type Args struct {
	Server     string
	PipeName   string
	ListTests  bool
	Help       bool
	FilterUIDs []string
	// Rest holds arguments the host does not recognize, in order.
	Rest []string
}

// ParseArgs parses a child command line after expanding response files.
// --filter-uid takes every following argument up to the next flag. When
// the first of them is "--", it instead takes every argument up to the
// closing "--".
func ParseArgs(args []string) (*Args, error) {
	expanded, err := ExpandResponseFiles(args)
	if err != nil {
		return nil, err
	}

	a := &Args{}
	for i := 0; i < len(expanded); i++ {
		arg := expanded[i]
		switch arg {
		case ServerFlag, PipeNameFlag:
			if i+1 >= len(expanded) {
				return nil, fmt.Errorf("%s requires a value", arg)
			}
			i++
			if arg == ServerFlag {
				a.Server = expanded[i]
			} else {
				a.PipeName = expanded[i]
			}
		case ListTestsFlag:
			a.ListTests = true
		case HelpFlag:
			a.Help = true
		case FilterUIDFlag:
			if i+1 < len(expanded) && expanded[i+1] == FilterUIDTerminator {
				i++
				for i+1 < len(expanded) && expanded[i+1] != FilterUIDTerminator {
					i++
					a.FilterUIDs = append(a.FilterUIDs, expanded[i])
				}
				i++ // closing terminator
				break
			}
			for i+1 < len(expanded) && !strings.HasPrefix(expanded[i+1], "--") {
				i++
				a.FilterUIDs = append(a.FilterUIDs, expanded[i])
			}
		default:
			a.Rest = append(a.Rest, arg)
		}
	}

	if a.Server != "" && a.Server != ServerName {
		return nil, fmt.Errorf("unsupported %s %q", ServerFlag, a.Server)
	}
	if a.Server != "" && a.PipeName == "" {
		return nil, fmt.Errorf("%s %s requires %s", ServerFlag, a.Server, PipeNameFlag)
	}
	return a, nil
}

// ExpandResponseFiles replaces every @path argument with the arguments
// read from path. Response files do not nest.
func ExpandResponseFiles(args []string) ([]string, error) {
	var out []string
	for _, arg := range args {
		if !strings.HasPrefix(arg, ResponseFilePrefix) || len(arg) == len(ResponseFilePrefix) {
			out = append(out, arg)
			continue
		}
		read, err := ReadResponseFile(strings.TrimPrefix(arg, ResponseFilePrefix))
		if err != nil {
			return nil, fmt.Errorf("response file: %w", err)
		}
		out = append(out, read...)
	}
	return out, nil
}

// ReadResponseFile parses a response file: one argument per line, either
// bare or Go-quoted. Blank lines are skipped.
func ReadResponseFile(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var out []string
	for i, line := range strings.Split(string(data), "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		if strings.HasPrefix(line, `"`) {
			unq, err := strconv.Unquote(line)
			if err != nil {
				return nil, fmt.Errorf("%s:%d: %w", path, i+1, err)
			}
			line = unq
		}
		out = append(out, line)
	}
	return out, nil
}
