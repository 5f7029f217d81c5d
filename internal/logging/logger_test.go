package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewWritesJSONFileAndConsole(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "ccaid.log")
	var console bytes.Buffer

	logger, err := newLogger(path, "work", "debug", &console)
	if err != nil {
		t.Fatal(err)
	}
	logger.Debug("hello")
	_ = logger.Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var line map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(data), &line); err != nil {
		t.Fatalf("log line is not JSON: %v: %s", err, data)
	}
	if line["msg"] != "hello" || line["session"] != "work" {
		t.Errorf("line = %v", line)
	}
	if _, ok := line["ts"]; !ok {
		t.Error("missing ts field")
	}
	if !strings.Contains(console.String(), "hello") {
		t.Errorf("console output = %q, want it to contain hello", console.String())
	}
}

func TestNewLevelFilters(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ccaid.log")
	var console bytes.Buffer

	logger, err := newLogger(path, "main", "", &console)
	if err != nil {
		t.Fatal(err)
	}
	logger.Debug("hidden")
	_ = logger.Sync()
	if console.Len() != 0 {
		t.Errorf("debug logged at default level: %q", console.String())
	}
}

func TestNewRejectsBadLevel(t *testing.T) {
	if _, err := New(filepath.Join(t.TempDir(), "x.log"), "main", "loud"); err == nil {
		t.Error("New() expected error for unknown level")
	}
}
