package runtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/pithecene-io/testpipe/metrics"
	"github.com/pithecene-io/testpipe/types"
)

// RunReport is the structured JSON report written by --report.
// Field names are part of the documented contract.
type RunReport struct {
	RunID      string    `json:"run_id"`
	Executable string    `json:"executable"`
	Mode       string    `json:"mode"`
	Outcome    RunStatus `json:"outcome"`
	Message    string    `json:"message"`
	ExitCode   int       `json:"exit_code"`
	DurationMs int64     `json:"duration_ms"`

	Discovered        int `json:"discovered"`
	Results           int `json:"results"`
	Failed            int `json:"failed"`
	SyntheticFailures int `json:"synthetic_failures"`

	Partitions []ReportPartition    `json:"partitions"`
	Artifacts  []types.FileArtifact `json:"artifacts,omitempty"`
	Metrics    *metrics.Snapshot    `json:"metrics"`
}

// ReportPartition holds one partition's stats in the report.
type ReportPartition struct {
	ID        string `json:"id,omitempty"`
	Tests     int    `json:"tests"`
	ExitCode  int    `json:"exit_code"`
	Results   int    `json:"results"`
	Failed    int    `json:"failed"`
	Synthetic bool   `json:"synthetic,omitempty"`
	Canceled  bool   `json:"canceled,omitempty"`
	Error     string `json:"error,omitempty"`
	Stderr    string `json:"stderr,omitempty"`
}

// BuildRunReport composes a RunReport from a RunResult and metrics snapshot.
// The exitCode is the process exit code that will be returned to the caller.
func BuildRunReport(runID, executable string, result *RunResult, snap metrics.Snapshot, exitCode int) *RunReport {
	outcome := DetermineOutcome(result)
	report := &RunReport{
		RunID:      runID,
		Executable: executable,
		Outcome:    outcome.Status,
		Message:    outcome.Message,
		ExitCode:   exitCode,
		Metrics:    &snap,
		Partitions: []ReportPartition{},
	}
	if result == nil {
		return report
	}

	report.Mode = result.Kind.Mode()
	report.DurationMs = result.Duration.Milliseconds()
	report.Discovered = result.Discovered
	report.Results = result.Results()
	report.Failed = result.Failed()
	report.SyntheticFailures = result.SyntheticFailures()
	report.Artifacts = result.Artifacts()

	for _, p := range result.Partitions {
		if p == nil {
			continue
		}
		rp := ReportPartition{
			ID:        p.Partition.ID,
			Tests:     p.Tests,
			ExitCode:  p.ExitCode(),
			Results:   p.Results,
			Failed:    p.Failed,
			Synthetic: p.Synthetic,
			Canceled:  p.Canceled,
		}
		if p.StartErr != nil {
			rp.Error = p.StartErr.Error()
		}
		if p.Exit != nil && p.ExitCode() != 0 {
			rp.Stderr = p.Exit.Stderr
		}
		report.Partitions = append(report.Partitions, rp)
	}

	return report
}

// WriteRunReport writes the report as JSON to the specified path.
// If path is "-", writes to stderr.
func WriteRunReport(report *RunReport, path string) error {
	if path == "" {
		return errors.New("report path must not be empty")
	}

	if path == "-" {
		if err := writeRunReportTo(report, os.Stderr); err != nil {
			return fmt.Errorf("failed to write report to stderr: %w", err)
		}
		return nil
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("failed to write report to %s: %w", path, err)
	}
	if err := writeRunReportTo(report, f); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write report to %s: %w", path, err)
	}
	return f.Close()
}

// writeRunReportTo writes report JSON to any writer.
func writeRunReportTo(report *RunReport, w io.Writer) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}
	data = append(data, '\n')
	_, err = w.Write(data)
	return err
}
