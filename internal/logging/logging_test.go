package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/blackwell-systems/agswitch/internal/config"
)

func TestNewLevelsAndFormats(t *testing.T) {
	var buf bytes.Buffer
	log, closer, err := New(config.LogConfig{Level: "warn", Format: "json"}, &buf)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	defer closer.Close()

	log.Info("hidden")
	log.WithField("op", "switch").Warn("shown")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("got %d log lines, want 1: %q", len(lines), buf.String())
	}
	var entry map[string]interface{}
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v", err)
	}
	if entry["msg"] != "shown" || entry["op"] != "switch" {
		t.Errorf("entry = %v", entry)
	}
}

func TestNewInvalid(t *testing.T) {
	var buf bytes.Buffer
	if _, _, err := New(config.LogConfig{Level: "loud", Format: "text"}, &buf); err == nil {
		t.Error("New() with invalid level should fail")
	}
	if _, _, err := New(config.LogConfig{Level: "info", Format: "xml"}, &buf); err == nil {
		t.Error("New() with invalid format should fail")
	}
}

func TestNewFileSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "agswitch.log")
	var buf bytes.Buffer

	log, closer, err := New(config.LogConfig{Level: "info", Format: "text", File: path}, &buf)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	log.Info("to both")
	closer.Close()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("log file not written: %v", err)
	}
	if !strings.Contains(string(data), "to both") || !strings.Contains(buf.String(), "to both") {
		t.Errorf("file = %q, stderr = %q", data, buf.String())
	}
}

func TestNewFileSinkFallback(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "not-a-dir")
	if err := os.WriteFile(blocker, nil, 0600); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	log, _, err := New(config.LogConfig{Level: "info", Format: "text", File: filepath.Join(blocker, "x.log")}, &buf)
	if err != nil {
		t.Fatalf("New() should fall back to stderr, got error: %v", err)
	}
	if !strings.Contains(buf.String(), "stderr only") {
		t.Errorf("missing fallback warning: %q", buf.String())
	}
	if log.GetLevel() != logrus.InfoLevel {
		t.Errorf("level = %v", log.GetLevel())
	}
}
