package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewLoggerWritesJSON(t *testing.T) {
	dir := t.TempDir()

	l, err := NewLogger(dir, LevelInfo)
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	l.Info("batch started", "phase_count", 2)
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	content, err := os.ReadFile(filepath.Join(dir, "orchestrator.log"))
	if err != nil {
		t.Fatalf("reading log: %v", err)
	}

	var entry map[string]any
	if err := json.Unmarshal(content, &entry); err != nil {
		t.Fatalf("log entry is not JSON: %v\n%s", err, content)
	}
	if entry["msg"] != "batch started" {
		t.Errorf("msg = %v", entry["msg"])
	}
	if entry["phase_count"] != float64(2) {
		t.Errorf("phase_count = %v", entry["phase_count"])
	}
}

func TestChildLoggersInheritAttrs(t *testing.T) {
	dir := t.TempDir()

	l, err := NewLogger(dir, LevelDebug)
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	l.WithBatch("b1").WithPhase(2).WithAgent(3).Info("agent dispatched")
	if err := l.Close(); err != nil {
		t.Fatal(err)
	}

	content, _ := os.ReadFile(filepath.Join(dir, "orchestrator.log"))
	var entry map[string]any
	if err := json.Unmarshal(content, &entry); err != nil {
		t.Fatalf("parse: %v", err)
	}
	if entry["batch_id"] != "b1" || entry["phase_id"] != float64(2) || entry["agent_id"] != float64(3) {
		t.Errorf("attrs missing: %v", entry)
	}
}

func TestLevelFiltering(t *testing.T) {
	dir := t.TempDir()

	l, err := NewLogger(dir, LevelWarn)
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	l.Debug("hidden")
	l.Info("also hidden")
	l.Warn("visible")
	if err := l.Close(); err != nil {
		t.Fatal(err)
	}

	content, _ := os.ReadFile(filepath.Join(dir, "orchestrator.log"))
	text := string(content)
	if strings.Contains(text, "hidden") {
		t.Errorf("below-threshold entries logged:\n%s", text)
	}
	if !strings.Contains(text, "visible") {
		t.Errorf("warn entry missing:\n%s", text)
	}
}

func TestNopLogger(t *testing.T) {
	l := NopLogger()
	l.Info("discarded")
	if err := l.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}
