package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{" warning ", slog.LevelWarn},
		{"error", slog.LevelError},
		{"invalid", slog.LevelInfo},
		{"", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := parseLevel(tt.input); got != tt.expected {
				t.Errorf("parseLevel(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}

func TestGet(t *testing.T) {
	defaultLogger = nil
	defer func() { defaultLogger = nil }()

	l := Get()
	if l == nil {
		t.Fatal("Get() should return a logger")
	}
	if l != Get() {
		t.Error("Get() should return the same logger instance")
	}
}

func TestLoggingFunctions(t *testing.T) {
	var buf bytes.Buffer
	defaultLogger = New(&buf, "debug", false)
	defer func() { defaultLogger = nil }()

	Debug("debug message", "tick", 3)
	if !strings.Contains(buf.String(), "debug message") || !strings.Contains(buf.String(), "tick=3") {
		t.Errorf("Debug message not logged: %q", buf.String())
	}
	buf.Reset()

	WithComponent("sim").Info("info message")
	if !strings.Contains(buf.String(), "component=sim") {
		t.Errorf("component missing: %q", buf.String())
	}
	buf.Reset()

	Warn("warn message")
	Error("error message")
	if !strings.Contains(buf.String(), "warn message") || !strings.Contains(buf.String(), "error message") {
		t.Errorf("Warn/Error not logged: %q", buf.String())
	}
}

func TestLevelFilters(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, "warn", false)
	l.Info("hidden")
	if buf.Len() != 0 {
		t.Errorf("info should be filtered at warn level, got %q", buf.String())
	}
}

func TestJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	New(&buf, "info", true).Info("frame written", "tick", 12)

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("output is not JSON: %v (%q)", err, buf.String())
	}
	if rec["msg"] != "frame written" || rec["tick"] != float64(12) {
		t.Errorf("unexpected record %v", rec)
	}
}
