package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func newBufferLogger(level Level) (*Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	return New(Config{Level: level, Pretty: false, Output: &buf}), &buf
}

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	var entry map[string]interface{}
	line := strings.TrimSpace(strings.Split(buf.String(), "\n")[0])
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		t.Fatalf("invalid JSON log line %q: %v", line, err)
	}
	return entry
}

func TestNew(t *testing.T) {
	if New(DefaultConfig()) == nil {
		t.Fatal("New() returned nil")
	}
	if NewJSON(InfoLevel) == nil {
		t.Fatal("NewJSON() returned nil")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Level != InfoLevel {
		t.Errorf("Level = %v, want InfoLevel", cfg.Level)
	}
	if !cfg.Pretty {
		t.Error("Pretty should be true by default")
	}
	if cfg.Output == nil {
		t.Error("Output should not be nil")
	}
}

func TestLogger_Fields(t *testing.T) {
	tests := []struct {
		name  string
		build func(*Logger) *Logger
		key   string
		want  interface{}
	}{
		{"component", func(l *Logger) *Logger { return l.WithComponent("scheduler") }, "component", "scheduler"},
		{"field", func(l *Logger) *Logger { return l.WithField("k", "v") }, "k", "v"},
		{"url", func(l *Logger) *Logger { return l.WithURL("http://x/") }, "url", "http://x/"},
		{"session", func(l *Logger) *Logger { return l.WithSession("abc") }, "session", "abc"},
		{"worker", func(l *Logger) *Logger { return l.WithWorker(3) }, "worker_id", float64(3)},
		{"error", func(l *Logger) *Logger { return l.WithError(errors.New("boom")) }, "error", "boom"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, buf := newBufferLogger(InfoLevel)
			tt.build(l).Info("msg")

			entry := decodeLine(t, buf)
			if entry[tt.key] != tt.want {
				t.Errorf("%s = %v, want %v", tt.key, entry[tt.key], tt.want)
			}
		})
	}
}

func TestLogger_WithFields(t *testing.T) {
	l, buf := newBufferLogger(InfoLevel)
	l.WithFields(map[string]interface{}{"a": "1", "b": "2"}).Info("msg")

	entry := decodeLine(t, buf)
	if entry["a"] != "1" || entry["b"] != "2" {
		t.Errorf("fields missing: %v", entry)
	}
}

func TestLogger_LevelFiltering(t *testing.T) {
	l, buf := newBufferLogger(WarnLevel)

	l.Debug("debug")
	l.Info("info")
	if buf.Len() != 0 {
		t.Errorf("expected no output below warn, got %q", buf.String())
	}

	l.Warn("warn")
	if !strings.Contains(buf.String(), "warn") {
		t.Error("warn message should be logged")
	}
}

func TestLogger_SetLevel(t *testing.T) {
	l, buf := newBufferLogger(InfoLevel)
	l.SetLevel(ErrorLevel)
	l.Warnf("hidden %d", 1)
	if buf.Len() != 0 {
		t.Errorf("expected no output, got %q", buf.String())
	}
	l.Errorf("shown %d", 2)
	if !strings.Contains(buf.String(), "shown 2") {
		t.Error("error message should be logged")
	}
}

func TestLogger_RequestEvent(t *testing.T) {
	l, buf := newBufferLogger(InfoLevel)
	l.RequestEvent("xhr", "POST", "http://x/api", "button#go click")

	entry := decodeLine(t, buf)
	if entry["type"] != "xhr" || entry["method"] != "POST" || entry["url"] != "http://x/api" {
		t.Errorf("unexpected entry: %v", entry)
	}
	if entry["trigger"] != "button#go click" {
		t.Errorf("trigger = %v", entry["trigger"])
	}
}

func TestLogger_ActionEventIsDebug(t *testing.T) {
	l, buf := newBufferLogger(InfoLevel)
	l.ActionEvent("assess", "div", 3)
	if buf.Len() != 0 {
		t.Error("action events should be debug level")
	}

	l.SetLevel(DebugLevel)
	l.ActionEvent("assess", "div", 3)
	entry := decodeLine(t, buf)
	if entry["action"] != "assess" || entry["pending"] != float64(3) {
		t.Errorf("unexpected entry: %v", entry)
	}
}

func TestLogger_ErrorEvent(t *testing.T) {
	l, buf := newBufferLogger(InfoLevel)
	l.ErrorEvent(errors.New("dispatch threw"), "a#x", "dispatch")

	entry := decodeLine(t, buf)
	if entry["level"] != "error" || entry["operation"] != "dispatch" {
		t.Errorf("unexpected entry: %v", entry)
	}
}

func TestLogger_StatsEvent(t *testing.T) {
	l, buf := newBufferLogger(InfoLevel)
	l.StatsEvent(map[string]interface{}{"requests": 4})

	entry := decodeLine(t, buf)
	if entry["requests"] != float64(4) {
		t.Errorf("requests = %v", entry["requests"])
	}
}

func TestLogger_RotatingFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "probe.log")

	var buf bytes.Buffer
	l := New(Config{
		Level:  InfoLevel,
		Output: &buf,
		File:   &FileConfig{Path: path, MaxSizeMB: 1},
	})
	l.Info("to both")

	if !strings.Contains(buf.String(), "to both") {
		t.Error("console output missing")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("log file not written: %v", err)
	}
	if !strings.Contains(string(data), "to both") {
		t.Error("file output missing")
	}
}

func TestNop(t *testing.T) {
	Nop().Error("nothing")
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    Level
		wantErr bool
	}{
		{"debug", DebugLevel, false},
		{"info", InfoLevel, false},
		{"warn", WarnLevel, false},
		{"error", ErrorLevel, false},
		{"bogus", InfoLevel, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseLevel(%q) err = %v", tt.in, err)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestGlobalLogger(t *testing.T) {
	orig := Global()
	defer SetGlobal(orig)

	l, buf := newBufferLogger(InfoLevel)
	SetGlobal(l)
	Global().Info("global")

	if !strings.Contains(buf.String(), "global") {
		t.Error("global logger not used")
	}
}
