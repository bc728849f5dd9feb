package log

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestLogger_RunContextFields(t *testing.T) {
	var buf bytes.Buffer
	l := NewLoggerWithWriter(RunContext{RunID: "run-1", Executable: "/bin/tests"}, zapcore.DebugLevel, &buf)
	l.With(map[string]any{"partition": "Batch-2"}).Info("partition started", map[string]any{"tests": 3})

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("invalid JSON line %q: %v", buf.String(), err)
	}
	if entry["run_id"] != "run-1" {
		t.Errorf("run_id = %v, want run-1", entry["run_id"])
	}
	if entry["executable"] != "/bin/tests" {
		t.Errorf("executable = %v", entry["executable"])
	}
	if entry["partition"] != "Batch-2" {
		t.Errorf("partition = %v, want Batch-2", entry["partition"])
	}
	if entry["message"] != "partition started" {
		t.Errorf("message = %v", entry["message"])
	}
}

func TestLogger_LevelFilters(t *testing.T) {
	var buf bytes.Buffer
	l := NewLoggerWithWriter(RunContext{RunID: "r"}, zapcore.WarnLevel, &buf)
	l.Info("dropped", nil)
	l.Warn("kept", nil)

	if strings.Contains(buf.String(), "dropped") {
		t.Error("info entry should be filtered at warn level")
	}
	if !strings.Contains(buf.String(), "kept") {
		t.Error("warn entry missing")
	}
}

func TestLogger_NilSafe(t *testing.T) {
	var l *Logger
	l.Info("ignored", nil)
	l.With(map[string]any{"a": 1}).Error("ignored", nil)
	NewNop().Warn("ignored", nil)
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    zapcore.Level
		wantErr bool
	}{
		{"", zapcore.InfoLevel, false},
		{"debug", zapcore.DebugLevel, false},
		{"WARN", zapcore.WarnLevel, false},
		{"error", zapcore.ErrorLevel, false},
		{"verbose", zapcore.InfoLevel, true},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
