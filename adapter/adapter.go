// Package adapter defines the boundary for run-completed notifications.
//
// Adapters publish one event per testpipe run to a downstream system
// (a webhook endpoint or a redis channel). The CLI owns adapter lifecycle;
// users provide configuration only. A failed notification never changes
// the run's exit code.
package adapter

import (
	"context"
	"fmt"
	"time"
)

// EventTypeRunCompleted is the only event type published.
const EventTypeRunCompleted = "run_completed"

// RunCompletedEvent is the payload published when a run finishes.
type RunCompletedEvent struct {
	ContractVersion   string `json:"contract_version"`
	EventType         string `json:"event_type"`
	RunID             string `json:"run_id"`
	Executable        string `json:"executable"`
	Mode              string `json:"mode"`    // single, batch, shard
	Outcome           string `json:"outcome"` // success, test_failures, infra_failure
	ExitCode          int    `json:"exit_code"`
	Partitions        int    `json:"partitions"`
	Discovered        int    `json:"discovered"`
	Results           int    `json:"results"`
	Failed            int    `json:"failed"`
	SyntheticFailures int    `json:"synthetic_failures"`
	ReportPath        string `json:"report_path,omitempty"`
	Timestamp         string `json:"timestamp"` // RFC 3339
	DurationMs        int64  `json:"duration_ms"`
}

// Adapter publishes run completion events to a downstream system.
// Implementations are single-use per run.
type Adapter interface {
	// Publish sends a run completion event to the downstream system.
	// Must respect context cancellation and deadlines.
	Publish(ctx context.Context, event *RunCompletedEvent) error

	// Close releases adapter resources.
	Close() error
}

// BaseBackoff is the delay before the first retry. Each further retry
// doubles it.
var BaseBackoff = 500 * time.Millisecond

// Retry calls attempt up to 1+retries times with exponential backoff
// between calls. It stops early when attempt succeeds, when permanent
// reports the error as non-retriable, or when ctx is done. name prefixes
// returned errors.
func Retry(ctx context.Context, name string, retries int, permanent func(error) bool, attempt func(context.Context) error) error {
	attempts := 1 + retries
	var lastErr error
	for i := range attempts {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%s: context canceled: %w", name, err)
		}
		if i > 0 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("%s: context canceled during backoff: %w", name, ctx.Err())
			case <-time.After(BaseBackoff << (i - 1)):
			}
		}

		lastErr = attempt(ctx)
		if lastErr == nil {
			return nil
		}
		if permanent != nil && permanent(lastErr) {
			return fmt.Errorf("%s: non-retriable error: %w", name, lastErr)
		}
	}
	return fmt.Errorf("%s: failed after %d attempts: %w", name, attempts, lastErr)
}
