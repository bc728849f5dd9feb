package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/testpipe/cli/config"
	"github.com/pithecene-io/testpipe/ipc"
	"github.com/pithecene-io/testpipe/runtime"
	"github.com/pithecene-io/testpipe/sink"
	"github.com/pithecene-io/testpipe/testhost"
	"github.com/pithecene-io/testpipe/types"
)

// Child processes are this test binary re-executed as a testhost.
const (
	helperEnv  = "TESTPIPE_CMD_HELPER"
	failEnv    = "TESTPIPE_CMD_FAIL"
	crashEnv   = "TESTPIPE_CMD_CRASH"
	helperName = "cmd-helper"
)

func TestMain(m *testing.M) {
	if os.Getenv(helperEnv) == "1" {
		helperHost().Main()
	}
	os.Exit(m.Run())
}

func helperHost() *testhost.Host {
	mk := func(typ, method string, run func(*testhost.T)) testhost.Case {
		return testhost.Case{
			UID:        typ + "." + method,
			Namespace:  "Sample",
			TypeName:   typ,
			MethodName: method,
			Run:        run,
		}
	}
	cases := []testhost.Case{
		mk("Math", "Adds", nil),
		mk("Math", "Subtracts", func(t *testhost.T) {
			if os.Getenv(failEnv) == "1" {
				t.Errorf("expected 1, got 2")
			}
		}),
		mk("Strings", "Concat", func(*testhost.T) {
			if os.Getenv(crashEnv) == "1" {
				os.Exit(42)
			}
		}),
		mk("Strings", "Split", nil),
	}
	cases[0].Traits = []types.Trait{{Key: "Category", Value: types.StrPtr("Fast")}}
	hidden := true
	return &testhost.Host{
		ModulePath: helperName,
		Cases:      cases,
		Options: []types.CommandLineOption{
			{Name: "--seed", Description: "Random seed"},
			{Name: "--internal", Description: "Internal", IsHidden: &hidden},
		},
	}
}

func helperExecutable(t *testing.T) string {
	t.Helper()
	exe, err := os.Executable()
	if err != nil {
		t.Fatalf("os.Executable: %v", err)
	}
	t.Setenv(helperEnv, "1")
	return exe
}

func newTestApp(stdout, stderr *bytes.Buffer) *cli.App {
	return &cli.App{
		Name:                      "testpipe",
		Writer:                    stdout,
		ErrWriter:                 stderr,
		DisableSliceFlagSeparator: true,
		ExitErrHandler:            func(*cli.Context, error) {},
		Commands: []*cli.Command{
			RunCommand(),
			DiscoverCommand(),
			OptionsCommand(),
			VersionCommand("abc123"),
		},
	}
}

// runApp runs the CLI and returns the exit code with captured streams.
func runApp(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	err := newTestApp(&stdout, &stderr).RunContext(t.Context(), append([]string{"testpipe"}, args...))
	code := 0
	if err != nil {
		var ec cli.ExitCoder
		if !errors.As(err, &ec) {
			t.Fatalf("unexpected error type %T: %v", err, err)
		}
		code = ec.ExitCode()
		if msg := ec.Error(); msg != "" {
			stderr.WriteString(msg)
		}
	}
	return code, stdout.String(), stderr.String()
}

func readReport(t *testing.T, path string) runtime.RunReport {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read report: %v", err)
	}
	var r runtime.RunReport
	if err := json.Unmarshal(data, &r); err != nil {
		t.Fatalf("unmarshal report: %v", err)
	}
	return r
}

func TestReadOnlyFlags(t *testing.T) {
	var names []string
	for _, f := range ReadOnlyFlags() {
		names = append(names, f.Names()[0])
	}
	if strings.Join(names, ",") != "format,no-color" {
		t.Errorf("ReadOnlyFlags = %v", names)
	}
}

func TestLoadOptions_ChildArgs(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		exe      string
		wantTail []string
	}{
		{"no child args", []string{"./tests"}, "./tests", nil},
		{"separator dropped", []string{"./tests", "--", "--seed", "1"}, "./tests", []string{"--seed", "1"}},
		{"bare child flags", []string{"./tests", "--seed", "1"}, "./tests", []string{"--seed", "1"}},
		{"uid with comma", []string{"--filter-uid", "A.B(1,2)", "./tests"}, "./tests", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got *config.Options
			app := &cli.App{
				Name:                      "testpipe",
				DisableSliceFlagSeparator: true,
				Commands: []*cli.Command{{
					Name:   "run",
					Flags:  append(append(childFlags(), selectionFlags()...), runFlags()...),
					Action: func(c *cli.Context) error {
						var err error
						got, err = loadOptions(c)
						return err
					},
				}},
			}
			if err := app.Run(append([]string{"testpipe", "run"}, tt.args...)); err != nil {
				t.Fatalf("run: %v", err)
			}
			if got.Executable != tt.exe {
				t.Errorf("Executable = %q, want %q", got.Executable, tt.exe)
			}
			if strings.Join(got.ChildArgs, " ") != strings.Join(tt.wantTail, " ") {
				t.Errorf("ChildArgs = %q, want %q", got.ChildArgs, tt.wantTail)
			}
			if tt.name == "uid with comma" && (len(got.FilterUIDs) != 1 || got.FilterUIDs[0] != "A.B(1,2)") {
				t.Errorf("FilterUIDs = %q", got.FilterUIDs)
			}
		})
	}
}

func TestPartitioning(t *testing.T) {
	tests := []struct {
		batch, shard int
		kind         runtime.PartitionKind
		count        int
	}{
		{0, 0, runtime.PartitionNone, 1},
		{3, 0, runtime.PartitionBatch, 3},
		{0, 4, runtime.PartitionShard, 4},
	}
	for _, tt := range tests {
		kind, count := partitioning(tt.batch, tt.shard)
		if kind != tt.kind || count != tt.count {
			t.Errorf("partitioning(%d, %d) = %v/%d, want %v/%d", tt.batch, tt.shard, kind, count, tt.kind, tt.count)
		}
	}
}

func TestClassify(t *testing.T) {
	crashed := &runtime.RunResult{Kind: runtime.PartitionShard, Partitions: []*runtime.PartitionResult{
		{Exit: &types.ProcessExit{ExitCode: 3}},
	}}
	tests := []struct {
		name   string
		result *runtime.RunResult
		err    error
		want   int
	}{
		{"success", &runtime.RunResult{}, nil, exitSuccess},
		{"infra", crashed, nil, exitInfraFailure},
		{"discovery", nil, &runtime.DiscoveryError{Exit: &types.ProcessExit{ExitCode: 1}}, exitInfraFailure},
		{"protocol", nil, &ipc.ProtocolError{Kind: ipc.ProtocolMalformed}, exitProtocolAbort},
		{"canceled", nil, context.Canceled, exitInfraFailure},
		{"other", nil, errors.New("boom"), exitInfraFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got, _ := classify(tt.result, tt.err); got != tt.want {
				t.Errorf("classify() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestRun_ConfigErrorsSpawnNothing(t *testing.T) {
	exe := helperExecutable(t)
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"no executable", []string{"run"}, "executable"},
		{"batch count one", []string{"run", "--batch-count", "1", exe}, "--batch-count"},
		{"batch count zero", []string{"run", "--batch-count", "0", exe}, "--batch-count"},
		{"shard count zero", []string{"run", "--shard-count", "0", exe}, "--shard-count"},
		{"batch and shard", []string{"run", "--batch-count", "2", "--shard-count", "2", exe}, "cannot be combined"},
		{"shard with list", []string{"run", "--shard-count", "2", "--list-tests", exe}, "--list-tests"},
		{"unknown server", []string{"run", "--server", "other", exe}, "unsupported"},
		{"server without pipe", []string{"run", "--server", config.ServerName, exe}, "exactly one"},
		{"bad filter", []string{"run", "--filter", "Sample", exe}, "--filter"},
		{"bad log level", []string{"run", "--log-level", "loud", exe}, "--log-level"},
		{"missing config", []string{"run", "--config", "/nonexistent/testpipe.yaml", exe}, "not found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			report := filepath.Join(t.TempDir(), "report.json")
			args := append([]string{tt.args[0], "--report", report}, tt.args[1:]...)
			code, _, stderr := runApp(t, args...)
			if code != exitConfigError {
				t.Errorf("exit code = %d, want %d (stderr: %s)", code, exitConfigError, stderr)
			}
			if !strings.Contains(stderr, tt.want) {
				t.Errorf("stderr should contain %q:\n%s", tt.want, stderr)
			}
			if _, err := os.Stat(report); err == nil {
				t.Error("a configuration error must not produce a run report")
			}
		})
	}
}

func TestRun_BatchesSucceed(t *testing.T) {
	exe := helperExecutable(t)
	dir := t.TempDir()
	report := filepath.Join(dir, "report.json")
	results := filepath.Join(dir, "results.bin")
	prom := filepath.Join(dir, "testpipe.prom")

	code, stdout, stderr := runApp(t, "run",
		"--batch-count", "2",
		"--report", report,
		"--results-out", results,
		"--metrics-textfile", prom,
		exe)
	if code != exitSuccess {
		t.Fatalf("exit code = %d, want 0\nstdout:\n%s\nstderr:\n%s", code, stdout, stderr)
	}
	if !strings.Contains(stdout, "4 passed") {
		t.Errorf("console summary missing:\n%s", stdout)
	}

	r := readReport(t, report)
	if r.Mode != "batch" || r.Outcome != runtime.StatusSuccess || r.ExitCode != 0 {
		t.Errorf("report = %+v", r)
	}
	if r.Discovered != 4 || r.Results != 4 || len(r.Partitions) != 2 {
		t.Fatalf("report counts: discovered=%d results=%d partitions=%d", r.Discovered, r.Results, len(r.Partitions))
	}
	if r.Partitions[0].ID != "Batch-1" || r.Partitions[1].ID != "Batch-2" {
		t.Errorf("partition ids = %q, %q", r.Partitions[0].ID, r.Partitions[1].ID)
	}

	f, err := os.Open(results)
	if err != nil {
		t.Fatalf("open results: %v", err)
	}
	defer f.Close()
	events, err := sink.ReadFrames(f)
	if err != nil {
		t.Fatalf("read frames: %v", err)
	}
	if len(events) != 4 {
		t.Errorf("result events = %d, want 4", len(events))
	}

	data, err := os.ReadFile(prom)
	if err != nil {
		t.Fatalf("read textfile: %v", err)
	}
	if !strings.Contains(string(data), `testpipe_partitions_started{mode="batch"`) {
		t.Errorf("textfile missing partitions metric:\n%s", data)
	}
}

func TestRun_TestFailureExitCode(t *testing.T) {
	exe := helperExecutable(t)
	t.Setenv(failEnv, "1")

	code, stdout, _ := runApp(t, "run", "--shard-count", "2", exe)
	if code != exitTestFailures {
		t.Fatalf("exit code = %d, want %d\n%s", code, exitTestFailures, stdout)
	}
	if !strings.Contains(stdout, "expected 1, got 2") {
		t.Errorf("failure reason not printed:\n%s", stdout)
	}
}

func TestRun_CrashedShardIsInfraFailure(t *testing.T) {
	exe := helperExecutable(t)
	t.Setenv(crashEnv, "1")
	report := filepath.Join(t.TempDir(), "report.json")

	code, stdout, _ := runApp(t, "run", "--shard-count", "2", "--report", report, exe)
	if code != exitInfraFailure {
		t.Fatalf("exit code = %d, want %d\n%s", code, exitInfraFailure, stdout)
	}
	if !strings.Contains(stdout, "[Shard 1 failure]") {
		t.Errorf("synthetic failure entry not printed:\n%s", stdout)
	}

	r := readReport(t, report)
	if r.SyntheticFailures != 1 || r.Outcome != runtime.StatusInfraFailure {
		t.Errorf("report = %+v", r)
	}
	var crashed *runtime.ReportPartition
	for i := range r.Partitions {
		if r.Partitions[i].Synthetic {
			crashed = &r.Partitions[i]
		}
	}
	if crashed == nil || crashed.ID != "Shard-1" || crashed.ExitCode != 42 {
		t.Errorf("crashed partition = %+v", crashed)
	}
}

func TestRun_SingleFilteredByUID(t *testing.T) {
	exe := helperExecutable(t)
	report := filepath.Join(t.TempDir(), "report.json")

	code, stdout, stderr := runApp(t, "run",
		"--filter-uid", "Math.Adds",
		"--filter-uid", "Strings.Split",
		"--report", report, exe)
	if code != exitSuccess {
		t.Fatalf("exit code = %d\n%s\n%s", code, stdout, stderr)
	}
	r := readReport(t, report)
	if r.Mode != "single" || r.Results != 2 || len(r.Partitions) != 1 || r.Partitions[0].ID != "" {
		t.Errorf("report = %+v", r)
	}
}

func TestRun_ConfigFileDefaults(t *testing.T) {
	exe := helperExecutable(t)
	dir := t.TempDir()
	report := filepath.Join(dir, "report.json")
	cfg := filepath.Join(dir, "testpipe.yaml")
	yaml := "executable: " + exe + "\nbatch_count: 3\nreport: " + report + "\nfilter: /Sample/Math/*\n"
	if err := os.WriteFile(cfg, []byte(yaml), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	code, stdout, stderr := runApp(t, "run", "--config", cfg)
	if code != exitSuccess {
		t.Fatalf("exit code = %d\n%s\n%s", code, stdout, stderr)
	}
	r := readReport(t, report)
	// two Math tests across three requested batches: empty batches are dropped
	if r.Mode != "batch" || r.Results != 2 || len(r.Partitions) != 2 {
		t.Errorf("report = %+v", r)
	}
}

func TestRun_ListTests(t *testing.T) {
	exe := helperExecutable(t)
	code, stdout, stderr := runApp(t, "run", "--list-tests", "--format", "json", exe)
	if code != exitSuccess {
		t.Fatalf("exit code = %d\n%s", code, stderr)
	}
	var tests []types.DiscoveredTest
	if err := json.Unmarshal([]byte(stdout), &tests); err != nil {
		t.Fatalf("unmarshal: %v\n%s", err, stdout)
	}
	if len(tests) != 4 {
		t.Errorf("tests = %d, want 4", len(tests))
	}
}

func TestDiscover_TableWithFilter(t *testing.T) {
	exe := helperExecutable(t)
	code, stdout, stderr := runApp(t, "discover", "--format", "table", "--no-color", "--filter", "/**/Adds[Category=Fast]", exe)
	if code != exitSuccess {
		t.Fatalf("exit code = %d\n%s", code, stderr)
	}
	lines := strings.Split(strings.TrimSpace(stdout), "\n")
	if len(lines) != 2 {
		t.Fatalf("lines = %d, want header + 1:\n%s", len(lines), stdout)
	}
	if !strings.Contains(lines[1], "/Sample/Math/Adds") || !strings.Contains(lines[1], "Category=Fast") {
		t.Errorf("row = %q", lines[1])
	}
}

func TestOptions_JSON(t *testing.T) {
	exe := helperExecutable(t)
	code, stdout, stderr := runApp(t, "options", "--format", "json", exe)
	if code != exitSuccess {
		t.Fatalf("exit code = %d\n%s", code, stderr)
	}
	var rows []OptionRow
	if err := json.Unmarshal([]byte(stdout), &rows); err != nil {
		t.Fatalf("unmarshal: %v\n%s", err, stdout)
	}
	if len(rows) != 2 || rows[0].Name != "--seed" || !rows[1].Hidden {
		t.Errorf("rows = %+v", rows)
	}
}

func TestVersion_JSON(t *testing.T) {
	code, stdout, _ := runApp(t, "version", "--format", "json")
	if code != exitSuccess {
		t.Fatalf("exit code = %d", code)
	}
	var v VersionResponse
	if err := json.Unmarshal([]byte(stdout), &v); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if v.Version != types.Version || v.Commit != "abc123" || v.Protocol != types.ProtocolVersion {
		t.Errorf("version = %+v", v)
	}
}

func TestVersion_InvalidFormat(t *testing.T) {
	code, _, stderr := runApp(t, "version", "--format", "xml")
	if code != exitConfigError || !strings.Contains(stderr, "invalid format") {
		t.Errorf("exit code = %d, stderr = %q", code, stderr)
	}
}

func TestNewTestRow(t *testing.T) {
	line := int32(12)
	row := NewTestRow(types.DiscoveredTest{
		UID:         "u1",
		DisplayName: "Adds two numbers",
		FilePath:    types.StrPtr("math_test.go"),
		LineNumber:  &line,
		Namespace:   types.StrPtr("Sample"),
		TypeName:    types.StrPtr("Math"),
		Traits:      []types.Trait{{Key: "Slow"}, {Key: "Owner", Value: types.StrPtr("core")}},
	})
	if row.Path != "/Sample/Math/Adds two numbers" {
		t.Errorf("Path = %q", row.Path)
	}
	if row.Location != "math_test.go:12" {
		t.Errorf("Location = %q", row.Location)
	}
	if strings.Join(row.Traits, ",") != "Slow,Owner=core" {
		t.Errorf("Traits = %v", row.Traits)
	}
}

func TestRunCompletedEvent(t *testing.T) {
	report := &runtime.RunReport{
		RunID: "r1", Executable: "./tests", Mode: "shard",
		Outcome: runtime.StatusTestFailures, ExitCode: 1,
		Discovered: 9, Results: 9, Failed: 2, DurationMs: 1200,
	}
	now := time.Date(2026, 10, 14, 9, 30, 0, 0, time.FixedZone("X", 3600))
	ev := runCompletedEvent(report, "report.json", 3, now)
	if ev.Outcome != "test_failures" || ev.Partitions != 3 || ev.Failed != 2 || ev.ReportPath != "report.json" {
		t.Errorf("event = %+v", ev)
	}
	if ev.Timestamp != "2026-10-14T08:30:00Z" {
		t.Errorf("Timestamp = %q", ev.Timestamp)
	}
	if runCompletedEvent(report, "-", 3, now).ReportPath != "" {
		t.Error("stderr report should not be advertised as a path")
	}
}

func TestNewAdapter(t *testing.T) {
	if a, err := newAdapter(config.AdapterConfig{}); a != nil || err != nil {
		t.Errorf("no adapter: got %v, %v", a, err)
	}
	retries := 0
	a, err := newAdapter(config.AdapterConfig{Type: "webhook", URL: "http://localhost:1", Retries: &retries})
	if err != nil || a == nil {
		t.Fatalf("webhook adapter: %v", err)
	}
	_ = a.Close()
	if _, err := newAdapter(config.AdapterConfig{Type: "redis", URL: "::bad"}); err == nil {
		t.Error("expected error for invalid redis URL")
	}
	if _, err := newAdapter(config.AdapterConfig{Type: "kafka"}); err == nil {
		t.Error("expected error for unknown adapter")
	}
}
