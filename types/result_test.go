package types //nolint:revive // types is a valid package name

import (
	"encoding/json"
	"testing"
	"time"
)

func TestParseOutcome_AllWireStates(t *testing.T) {
	for _, want := range Outcomes {
		got, err := ParseOutcome(uint8(want))
		if err != nil {
			t.Fatalf("ParseOutcome(%d) error: %v", want, err)
		}
		if got != want {
			t.Errorf("ParseOutcome(%d) = %v, want %v", want, got, want)
		}
	}
}

func TestParseOutcome_RejectsUnknown(t *testing.T) {
	for _, state := range []uint8{0, 8, 42, 255} {
		if _, err := ParseOutcome(state); err == nil {
			t.Errorf("ParseOutcome(%d) expected error", state)
		}
	}
}

func TestOutcome_IsFailure(t *testing.T) {
	cases := map[Outcome]bool{
		OutcomePassed:     false,
		OutcomeSkipped:    false,
		OutcomeInProgress: false,
		OutcomeFailed:     true,
		OutcomeError:      true,
		OutcomeTimeout:    true,
		OutcomeCancelled:  true,
	}
	for o, want := range cases {
		if got := o.IsFailure(); got != want {
			t.Errorf("%v.IsFailure() = %v, want %v", o, got, want)
		}
	}
}

func TestOutcome_JSON(t *testing.T) {
	b, err := json.Marshal(TestResult{UID: "a", Outcome: OutcomeTimeout})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var raw map[string]any
	if err := json.Unmarshal(b, &raw); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if raw["outcome"] != "timeout" {
		t.Errorf("outcome = %v, want timeout", raw["outcome"])
	}
}

func TestDurationTicks(t *testing.T) {
	if DurationFromTicks(nil) != nil {
		t.Error("DurationFromTicks(nil) should be nil")
	}
	ticks := int64(15_000_000) // 1.5s
	d := DurationFromTicks(&ticks)
	if *d != 1500*time.Millisecond {
		t.Errorf("duration = %v, want 1.5s", *d)
	}
	back := TicksFromDuration(d)
	if *back != ticks {
		t.Errorf("ticks = %d, want %d", *back, ticks)
	}
}
