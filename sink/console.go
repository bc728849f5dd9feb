package sink

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// Color palette.
var (
	successColor = lipgloss.Color("#10B981") // Green
	warningColor = lipgloss.Color("#F59E0B") // Amber
	errorColor   = lipgloss.Color("#EF4444") // Red
	mutedColor   = lipgloss.Color("#6B7280") // Gray
)

var stateLabels = map[State]string{
	StatePassed:     "PASS",
	StateSkipped:    "SKIP",
	StateFailed:     "FAIL",
	StateError:      "ERROR",
	StateTimeout:    "TIMEOUT",
	StateCancelled:  "CANCEL",
	StateInProgress: "RUN",
}

// Console writes one line per event and a summary on Close.
// Colors are enabled only when w is a terminal.
type Console struct {
	w     io.Writer
	quiet bool

	label   map[State]lipgloss.Style
	muted   lipgloss.Style
	counts  map[State]int
	order   []State
	started time.Time
}

// NewConsole creates a console sink. When quiet, only non-passing events are printed.
func NewConsole(w io.Writer, quiet bool) *Console {
	r := lipgloss.NewRenderer(w)
	success := r.NewStyle().Foreground(successColor).Bold(true)
	warning := r.NewStyle().Foreground(warningColor).Bold(true)
	failure := r.NewStyle().Foreground(errorColor).Bold(true)

	return &Console{
		w:     w,
		quiet: quiet,
		label: map[State]lipgloss.Style{
			StatePassed:     success,
			StateSkipped:    warning,
			StateInProgress: warning,
			StateFailed:     failure,
			StateError:      failure,
			StateTimeout:    failure,
			StateCancelled:  failure,
		},
		muted:   r.NewStyle().Foreground(mutedColor),
		counts:  make(map[State]int),
		order:   []State{StatePassed, StateFailed, StateError, StateTimeout, StateCancelled, StateSkipped, StateInProgress},
		started: time.Now(),
	}
}

// Publish writes e.
func (c *Console) Publish(_ context.Context, e Event) error {
	c.counts[e.State]++
	if c.quiet && (e.State == StatePassed || e.State == StateSkipped || e.State == StateInProgress) {
		return nil
	}

	var b strings.Builder
	b.WriteString(c.label[e.State].Render(fmt.Sprintf("%-7s", stateLabels[e.State])))
	b.WriteString(" ")
	b.WriteString(displayName(e))
	if e.Duration != nil {
		b.WriteString(c.muted.Render(fmt.Sprintf(" (%s)", e.Duration.Round(time.Millisecond))))
	}
	if e.Partition != "" && !e.Synthetic {
		b.WriteString(c.muted.Render(" [" + e.Partition + "]"))
	}
	b.WriteString("\n")

	if e.State != StatePassed && e.Reason != nil && *e.Reason != "" {
		b.WriteString(indent(*e.Reason, "        "))
	}
	for _, ex := range e.Exceptions {
		if ex.StackTrace != "" {
			b.WriteString(c.muted.Render(indent(ex.StackTrace, "          ")))
		}
	}

	_, err := io.WriteString(c.w, b.String())
	return err
}

func displayName(e Event) string {
	if e.DisplayName != "" {
		return e.DisplayName
	}
	return e.TestID
}

func indent(s, prefix string) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	for i, l := range lines {
		lines[i] = prefix + l
	}
	return strings.Join(lines, "\n") + "\n"
}

// Close writes the summary line.
func (c *Console) Close() error {
	var parts []string
	total := 0
	for _, s := range c.order {
		if n := c.counts[s]; n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", n, s))
			total += n
		}
	}
	if total == 0 {
		parts = append(parts, "no results")
	}
	_, err := fmt.Fprintf(c.w, "\n%s %s\n",
		strings.Join(parts, ", "),
		c.muted.Render(fmt.Sprintf("in %s", time.Since(c.started).Round(time.Millisecond))))
	return err
}
