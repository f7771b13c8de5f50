package logging

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
		expected Level
	}{
		{"DEBUG", LevelDebug},
		{"  debug ", LevelDebug},
		{"INFO", LevelInfo},
		{"warn", LevelWarn},
		{"WARNING", LevelWarn},
		{"error", LevelError},
		{"", LevelInfo},
		{"TRACE", LevelInfo},
	}

	for _, tc := range tests {
		t.Run(tc.input, func(t *testing.T) {
			if got := ParseLevel(tc.input); got != tc.expected {
				t.Errorf("ParseLevel(%q) = %v, want %v", tc.input, got, tc.expected)
			}
		})
	}
}

func TestLevelToSlogLevel(t *testing.T) {
	tests := []struct {
		level    Level
		expected slog.Level
	}{
		{LevelDebug, slog.LevelDebug},
		{LevelInfo, slog.LevelInfo},
		{LevelWarn, slog.LevelWarn},
		{LevelError, slog.LevelError},
		{Level(42), slog.LevelInfo},
	}

	for _, tc := range tests {
		if got := tc.level.ToSlogLevel(); got != tc.expected {
			t.Errorf("Level(%d).ToSlogLevel() = %v, want %v", tc.level, got, tc.expected)
		}
	}
}

func TestLevelString(t *testing.T) {
	if LevelWarn.String() != "WARN" {
		t.Errorf("LevelWarn.String() = %q", LevelWarn.String())
	}
	if Level(99).String() != "INFO" {
		t.Errorf("Level(99).String() = %q, want INFO", Level(99).String())
	}
}

func TestParseFormat(t *testing.T) {
	tests := map[string]Format{
		"json":  FormatJSON,
		" JSON": FormatJSON,
		"text":  FormatText,
		"":      FormatText,
		"xml":   FormatText,
	}
	for in, want := range tests {
		if got := ParseFormat(in); got != want {
			t.Errorf("ParseFormat(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestSetupWithWriter_Level(t *testing.T) {
	var buf bytes.Buffer

	logger := SetupWithWriter(LevelInfo, FormatText, &buf)
	logger.Debug("debug message")
	if buf.Len() > 0 {
		t.Error("debug message should not be logged at INFO level")
	}
	logger.Info("info message", "path", "/")
	if !strings.Contains(buf.String(), "path=/") {
		t.Errorf("text output = %q", buf.String())
	}

	buf.Reset()
	logger = SetupWithWriter(LevelDebug, FormatText, &buf)
	logger.Debug("debug message")
	if buf.Len() == 0 {
		t.Error("debug message should be logged at DEBUG level")
	}
}

func TestSetupWithWriter_JSON(t *testing.T) {
	var buf bytes.Buffer

	logger := SetupWithWriter(LevelInfo, FormatJSON, &buf)
	logger.Warn("store unavailable", "error", "disk full")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("output is not JSON: %v (%q)", err, buf.String())
	}
	if rec["msg"] != "store unavailable" || rec["level"] != "WARN" || rec["error"] != "disk full" {
		t.Errorf("record = %v", rec)
	}
}
