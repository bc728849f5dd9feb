package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/pithecene-io/testpipe/adapter"
	"github.com/pithecene-io/testpipe/adapter/redis"
	"github.com/pithecene-io/testpipe/adapter/webhook"
	"github.com/pithecene-io/testpipe/cli/config"
	"github.com/pithecene-io/testpipe/runtime"
	"github.com/pithecene-io/testpipe/types"
)

// notifyTimeout bounds the whole notification, retries included.
const notifyTimeout = 30 * time.Second

// newAdapter builds the adapter selected by cfg, or nil when none is set.
func newAdapter(cfg config.AdapterConfig) (adapter.Adapter, error) {
	switch cfg.Type {
	case "":
		return nil, nil
	case "webhook":
		retries := webhook.DefaultRetries
		if cfg.Retries != nil {
			retries = *cfg.Retries
		}
		return webhook.New(webhook.Config{
			URL:     cfg.URL,
			Headers: cfg.Headers,
			Timeout: cfg.Timeout.Duration,
			Retries: retries,
		})
	case "redis":
		retries := redis.DefaultRetries
		if cfg.Retries != nil {
			retries = *cfg.Retries
		}
		return redis.New(redis.Config{
			URL:     cfg.URL,
			Channel: cfg.Channel,
			Timeout: cfg.Timeout.Duration,
			Retries: retries,
		})
	default:
		return nil, fmt.Errorf("unknown adapter type %q", cfg.Type)
	}
}

// runCompletedEvent builds the notification payload from a finished run.
func runCompletedEvent(report *runtime.RunReport, reportPath string, partitions int, now time.Time) *adapter.RunCompletedEvent {
	ev := &adapter.RunCompletedEvent{
		ContractVersion:   types.Version,
		EventType:         adapter.EventTypeRunCompleted,
		RunID:             report.RunID,
		Executable:        report.Executable,
		Mode:              report.Mode,
		Outcome:           string(report.Outcome),
		ExitCode:          report.ExitCode,
		Partitions:        partitions,
		Discovered:        report.Discovered,
		Results:           report.Results,
		Failed:            report.Failed,
		SyntheticFailures: report.SyntheticFailures,
		Timestamp:         now.UTC().Format(time.RFC3339),
		DurationMs:        report.DurationMs,
	}
	if reportPath != "-" {
		ev.ReportPath = reportPath
	}
	return ev
}

// notify publishes the run-completed event. Failures are logged and never
// change the exit code.
func notify(ctx context.Context, inv *invocation, report *runtime.RunReport, partitions int) {
	a, err := newAdapter(inv.opts.Adapter)
	if err != nil {
		inv.logger.Warn("adapter setup failed", map[string]any{"error": err.Error()})
		return
	}
	if a == nil {
		return
	}
	defer func() { _ = a.Close() }()

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	defer cancel()

	ev := runCompletedEvent(report, inv.opts.Report, partitions, time.Now())
	if err := a.Publish(ctx, ev); err != nil {
		inv.logger.Warn("run notification failed", map[string]any{
			"adapter": inv.opts.Adapter.Type,
			"error":   err.Error(),
		})
		return
	}
	inv.logger.Debug("run notification sent", map[string]any{"adapter": inv.opts.Adapter.Type})
}
