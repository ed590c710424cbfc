package log

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestSetup(t *testing.T) {
	logger = nil
	once = *new(sync.Once)

	Setup("DEBUG", "text")
	if logger == nil {
		t.Fatal("Logger should not be nil")
	}
	if !logger.Enabled(context.Background(), slog.LevelDebug) {
		t.Error("expected DEBUG to be enabled after Setup(\"DEBUG\")")
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		" WARN ":  slog.LevelWarn,
		"error":   slog.LevelError,
		"info":    slog.LevelInfo,
		"verbose": slog.LevelInfo,
		"":        slog.LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNewLoggerTextFormat(t *testing.T) {
	var buf bytes.Buffer
	l := newLogger(&buf, "info", "text")
	l.Info("cycle finished", "jobs", 3)

	if !strings.Contains(buf.String(), "msg=\"cycle finished\"") {
		t.Errorf("expected text output, got %q", buf.String())
	}
}

func TestContextHelpers(t *testing.T) {
	var buf bytes.Buffer
	logger = newLogger(&buf, "info", "json")

	WithComponent("dispatch").Info("hello")

	var out map[string]any
	if err := json.Unmarshal(buf.Bytes(), &out); err != nil {
		t.Fatalf("Failed to decode JSON: %v", err)
	}

	if out["component"] != "dispatch" {
		t.Errorf("Expected component 'dispatch', got %v", out["component"])
	}
	if out["msg"] != "hello" {
		t.Errorf("Expected msg 'hello', got %v", out["msg"])
	}
}

func TestWithJob(t *testing.T) {
	var buf bytes.Buffer
	logger = slog.New(slog.NewJSONHandler(&buf, nil))

	WithJob("42").Info("job msg")

	var out map[string]any
	if err := json.Unmarshal(buf.Bytes(), &out); err != nil {
		t.Fatalf("Failed to decode JSON: %v", err)
	}

	if out["job_id"] != "42" {
		t.Errorf("Expected job_id '42', got %v", out["job_id"])
	}
}

func TestErrorLogAppend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "admin", "errors_cur.txt")
	el := NewErrorLog(path)
	el.now = func() time.Time { return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC) }

	if err := el.Append("first"); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if err := el.Append("second"); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	want := "2024-03-01T12:00:00Z: first\n2024-03-01T12:00:00Z: second\n"
	if string(data) != want {
		t.Fatalf("error log = %q, want %q", data, want)
	}
}

func TestNilErrorLogDiscards(t *testing.T) {
	var el *ErrorLog
	if NewErrorLog("") != nil {
		t.Fatal("NewErrorLog(\"\") should be nil")
	}
	if err := el.Append("ignored"); err != nil {
		t.Fatalf("nil Append() error = %v", err)
	}
	if el.Path() != "" {
		t.Fatal("nil Path() should be empty")
	}
}
