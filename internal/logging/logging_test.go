package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, LevelWarn, false)

	l.Debug("debug line", nil)
	l.Info("info line", nil)
	l.Warn("warn line", nil)
	l.Error("error line", nil, errors.New("boom"))

	out := buf.String()
	if strings.Contains(out, "debug line") || strings.Contains(out, "info line") {
		t.Fatalf("expected debug/info to be filtered, got %q", out)
	}
	if !strings.Contains(out, "warn line") || !strings.Contains(out, "error line") {
		t.Fatalf("expected warn/error lines, got %q", out)
	}
	if !strings.Contains(out, `error="boom"`) {
		t.Errorf("expected error field in text output, got %q", out)
	}
}

func TestLogger_TextFieldsSorted(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, LevelDebug, false)

	l.Info("stored", Fields{"size": 10, "path": "2024/01/02/a.docx"})

	out := buf.String()
	pi := strings.Index(out, "path=")
	si := strings.Index(out, "size=")
	if pi < 0 || si < 0 || pi > si {
		t.Fatalf("expected sorted fields, got %q", out)
	}
}

func TestLogger_JSON(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, LevelInfo, true)

	l.Error("insert failed", Fields{"batch_id": "abc"}, errors.New("db down"))

	var entry Entry
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not json: %v (%q)", err, buf.String())
	}
	if entry.Level != LevelError || entry.Message != "insert failed" {
		t.Errorf("unexpected entry: %+v", entry)
	}
	if entry.Error != "db down" {
		t.Errorf("expected error %q, got %q", "db down", entry.Error)
	}
	if entry.Fields["batch_id"] != "abc" {
		t.Errorf("expected batch_id field, got %v", entry.Fields)
	}
	if !strings.HasPrefix(entry.Caller, "logging_test.go:") {
		t.Errorf("expected caller in test file, got %q", entry.Caller)
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]Level{
		"debug": LevelDebug,
		"info":  LevelInfo,
		"warn":  LevelWarn,
		"error": LevelError,
		"":      LevelInfo,
		"loud":  LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %q, want %q", in, got, want)
		}
	}
}
