package testhost

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/pithecene-io/testpipe/types"
)

// Case is one test a host can list and run.
type Case struct {
	UID         string
	DisplayName string
	Namespace   string
	TypeName    string
	MethodName  string
	FilePath    string
	Line        int32
	Traits      []types.Trait
	// Timeout fails the case with a timeout outcome when exceeded. Zero disables it.
	Timeout time.Duration
	// Run is the test body. A case with no body passes.
	Run func(t *T)
}

// Discovered returns the case as reported during discovery.
func (c Case) Discovered() types.DiscoveredTest {
	d := types.DiscoveredTest{
		UID:         c.UID,
		DisplayName: c.displayName(),
		Namespace:   optional(c.Namespace),
		TypeName:    optional(c.TypeName),
		MethodName:  optional(c.MethodName),
		FilePath:    optional(c.FilePath),
		Traits:      c.Traits,
	}
	if c.Line > 0 {
		line := c.Line
		d.LineNumber = &line
	}
	return d
}

func (c Case) displayName() string {
	if c.DisplayName != "" {
		return c.DisplayName
	}
	if c.MethodName != "" {
		return c.MethodName
	}
	return c.UID
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// T is the handle a test body reports through. Safe for concurrent use.
type T struct {
	ctx context.Context

	mu         sync.Mutex
	outcome    types.Outcome
	reason     string
	stdout     strings.Builder
	stderr     strings.Builder
	exceptions []types.ExceptionInfo
	artifacts  []types.FileArtifact
}

func newT(ctx context.Context) *T {
	return &T{ctx: ctx, outcome: types.OutcomePassed}
}

// Context is cancelled when the case times out or the host stops.
func (t *T) Context() context.Context { return t.ctx }

// Logf writes to the case's captured stdout.
func (t *T) Logf(format string, args ...any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintf(&t.stdout, format+"\n", args...)
}

// Stderrf writes to the case's captured stderr.
func (t *T) Stderrf(format string, args ...any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintf(&t.stderr, format+"\n", args...)
}

// Errorf fails the case with a formatted reason.
func (t *T) Errorf(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	t.mu.Lock()
	defer t.mu.Unlock()
	t.setLocked(types.OutcomeFailed, msg)
	t.exceptions = append(t.exceptions, types.ExceptionInfo{
		Message: msg,
		Type:    "testhost.Failure",
	})
}

// Skip marks the case skipped.
func (t *T) Skip(reason string) { t.SetOutcome(types.OutcomeSkipped, reason) }

// SetOutcome sets the reported outcome. Later failures do not downgrade
// to a passing outcome.
func (t *T) SetOutcome(o types.Outcome, reason string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.setLocked(o, reason)
}

func (t *T) setLocked(o types.Outcome, reason string) {
	if t.outcome.IsFailure() && !o.IsFailure() {
		return
	}
	t.outcome = o
	t.reason = reason
}

// Attach reports a file produced by the case.
func (t *T) Attach(path, description string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.artifacts = append(t.artifacts, types.FileArtifact{
		FullPath:    types.StrPtr(path),
		Description: optional(description),
	})
}

// run executes c and returns its result and artifacts.
func run(ctx context.Context, c Case, sessionUID string) (types.TestResult, []types.FileArtifact) {
	runCtx, cancel := ctx, context.CancelFunc(func() {})
	if c.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, c.Timeout)
	}
	defer cancel()

	t := newT(runCtx)
	start := time.Now()
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer func() {
			if r := recover(); r != nil {
				t.mu.Lock()
				t.setLocked(types.OutcomeError, fmt.Sprint(r))
				t.exceptions = append(t.exceptions, types.ExceptionInfo{
					Message:    fmt.Sprint(r),
					Type:       "panic",
					StackTrace: string(debug.Stack()),
				})
				t.mu.Unlock()
			}
		}()
		if c.Run != nil {
			c.Run(t)
		}
	}()

	select {
	case <-done:
	case <-runCtx.Done():
		if ctx.Err() != nil {
			t.SetOutcome(types.OutcomeCancelled, "run cancelled")
		} else {
			t.SetOutcome(types.OutcomeTimeout, fmt.Sprintf("timed out after %s", c.Timeout))
		}
	}
	elapsed := time.Since(start)

	t.mu.Lock()
	defer t.mu.Unlock()
	r := types.TestResult{
		UID:         c.UID,
		DisplayName: c.displayName(),
		Outcome:     t.outcome,
		Duration:    &elapsed,
		Reason:      optional(t.reason),
		Stdout:      optional(t.stdout.String()),
		Stderr:      optional(t.stderr.String()),
		SessionUID:  optional(sessionUID),
	}
	if t.outcome != types.OutcomePassed {
		r.Exceptions = append([]types.ExceptionInfo(nil), t.exceptions...)
	}

	artifacts := make([]types.FileArtifact, len(t.artifacts))
	for i, a := range t.artifacts {
		a.TestUID = types.StrPtr(c.UID)
		a.TestDisplayName = types.StrPtr(r.DisplayName)
		a.SessionUID = optional(sessionUID)
		artifacts[i] = a
	}
	return r, artifacts
}
