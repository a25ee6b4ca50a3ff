package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap/zapcore"

	"github.com/dgnsrekt/livetiming-relay/internal/config"
)

func testLogSetup(verbose bool, cfg *config.LoggingConfig, buf *bytes.Buffer) logSetup {
	s := newLogSetup(verbose, cfg)
	s.now = func() time.Time { return time.Date(2024, 3, 2, 15, 4, 5, 0, time.UTC) }
	s.stderr = zapcore.AddSync(buf)
	return s
}

func TestLogSetup_FileHonoursConfiguredLevel(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	var console bytes.Buffer
	logger, closeFile, err := testLogSetup(false, &config.LoggingConfig{Enabled: true, Directory: dir, Level: "warn"}, &console).build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	logger.Info("lap completed")
	logger.Warn("feed stale")
	_ = logger.Sync()
	closeFile()

	data, err := os.ReadFile(filepath.Join(dir, "relay_2024-03-02_15-04-05.log"))
	if err != nil {
		t.Fatalf("reading log file: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected one line in log file, got %d: %q", len(lines), data)
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v", err)
	}
	if entry["msg"] != "feed stale" || entry["level"] != "warn" {
		t.Errorf("unexpected entry: %v", entry)
	}
	if strings.Contains(console.String(), "lap completed") {
		t.Error("info entry reached console below configured level")
	}
	if !strings.Contains(console.String(), "feed stale") {
		t.Error("warn entry missing from console")
	}
}

func TestLogSetup_VerboseLogsDebugWithoutFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	var console bytes.Buffer
	logger, closeFile, err := testLogSetup(true, &config.LoggingConfig{Directory: dir, Level: "error"}, &console).build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	defer closeFile()

	logger.Debug("negotiating")
	_ = logger.Sync()

	if !strings.Contains(console.String(), "negotiating") {
		t.Errorf("expected debug entry on console, got %q", console.String())
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Errorf("log directory created while file logging disabled: %v", err)
	}
}

func TestLogSetup_RejectsUnknownLevel(t *testing.T) {
	var console bytes.Buffer
	if _, _, err := testLogSetup(false, &config.LoggingConfig{Level: "chatty"}, &console).build(); err == nil {
		t.Fatal("expected error for unknown level")
	}
}
