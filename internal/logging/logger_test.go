package logging

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNew_WritesJSONToFile(t *testing.T) {
	dir := t.TempDir()

	logger, err := New(dir, LevelInfo)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	logger.Info("pipeline started", "session_id", "20250101_120000")
	if err := logger.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "docpipe.log"))
	if err != nil {
		t.Fatalf("failed to read log file: %v", err)
	}

	var entry map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(string(data))), &entry); err != nil {
		t.Fatalf("log line is not valid JSON: %v", err)
	}

	if entry["msg"] != "pipeline started" {
		t.Errorf("expected msg 'pipeline started', got %v", entry["msg"])
	}
	if entry["session_id"] != "20250101_120000" {
		t.Errorf("expected session_id attribute, got %v", entry["session_id"])
	}
}

func TestLogger_ChildAttributes(t *testing.T) {
	dir := t.TempDir()

	logger, err := New(dir, LevelDebug)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	child := logger.WithSession("sess-1").WithStage("docs").WithTopic(3)
	child.Debug("invoking generator")
	if err := logger.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "docpipe.log"))
	if err != nil {
		t.Fatalf("failed to read log file: %v", err)
	}

	var entry map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(string(data))), &entry); err != nil {
		t.Fatalf("log line is not valid JSON: %v", err)
	}

	if entry["session_id"] != "sess-1" {
		t.Errorf("expected session_id 'sess-1', got %v", entry["session_id"])
	}
	if entry["stage"] != "docs" {
		t.Errorf("expected stage 'docs', got %v", entry["stage"])
	}
	if entry["topic_id"] != float64(3) {
		t.Errorf("expected topic_id 3, got %v", entry["topic_id"])
	}
}

func TestLogger_LevelFiltering(t *testing.T) {
	dir := t.TempDir()

	logger, err := New(dir, LevelWarn)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	logger.Debug("should be filtered")
	logger.Info("should be filtered")
	logger.Warn("should appear")
	if err := logger.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "docpipe.log"))
	if err != nil {
		t.Fatalf("failed to read log file: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected 1 log line, got %d", len(lines))
	}
	if !strings.Contains(lines[0], "should appear") {
		t.Errorf("expected the WARN line, got %q", lines[0])
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"DEBUG", slog.LevelDebug},
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"WARN", slog.LevelWarn},
		{"ERROR", slog.LevelError},
		{"bogus", slog.LevelInfo},
		{"", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := parseLevel(tt.input); got != tt.want {
				t.Errorf("parseLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestNopLogger(t *testing.T) {
	logger := NopLogger()
	// Must not panic and must accept all helpers.
	logger.WithSession("s").WithStage("ideas").Info("discarded")
	if err := logger.Close(); err != nil {
		t.Errorf("Close on NopLogger should be a no-op, got %v", err)
	}
}
