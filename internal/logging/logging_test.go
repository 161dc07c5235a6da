package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"openqr/internal/config"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected Level
		hasError bool
	}{
		{"debug", LevelDebug, false},
		{"DEBUG", LevelDebug, false},
		{"info", LevelInfo, false},
		{"", LevelInfo, false},
		{"warn", LevelWarn, false},
		{"warning", LevelWarn, false},
		{"error", LevelError, false},
		{"invalid", LevelInfo, true},
	}

	for _, test := range tests {
		t.Run(test.input, func(t *testing.T) {
			level, err := ParseLevel(test.input)
			if test.hasError && err == nil {
				t.Error("expected error, got nil")
			}
			if !test.hasError && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if !test.hasError && level != test.expected {
				t.Errorf("expected %v, got %v", test.expected, level)
			}
		})
	}
}

func TestParseFormat(t *testing.T) {
	if f, err := ParseFormat("JSON"); err != nil || f != FormatJSON {
		t.Errorf("json: %v %v", f, err)
	}
	if f, err := ParseFormat(""); err != nil || f != FormatText {
		t.Errorf("empty: %v %v", f, err)
	}
	if _, err := ParseFormat("xml"); err == nil {
		t.Error("expected error for xml")
	}
}

func TestFromSettings(t *testing.T) {
	dataDir := t.TempDir()
	s := config.DefaultConfig().Logging

	cfg, err := FromSettings(s, dataDir)
	if err != nil {
		t.Fatalf("FromSettings failed: %v", err)
	}
	if cfg.FilePath != filepath.Join(dataDir, "logs", "openqr.log") {
		t.Errorf("default file path: %s", cfg.FilePath)
	}
	if cfg.Output != "stderr" || cfg.Level != LevelInfo {
		t.Errorf("unexpected config: %+v", cfg)
	}

	s.FilePath = "custom/app.log"
	s.Level = "debug"
	s.Format = "json"
	cfg, err = FromSettings(s, dataDir)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.FilePath != filepath.Join(dataDir, "custom", "app.log") {
		t.Errorf("relative file path: %s", cfg.FilePath)
	}
	if cfg.Level != LevelDebug || cfg.Format != FormatJSON {
		t.Errorf("level/format not applied: %+v", cfg)
	}

	s.Level = "chatty"
	if _, err := FromSettings(s, dataDir); err == nil {
		t.Error("expected error for bad level")
	}
}

func TestShouldRedact(t *testing.T) {
	for key, want := range map[string]bool{
		"password":      true,
		"API_KEY":       true,
		"auth_token":    true,
		"client_secret": true,
		"host":          false,
		"url":           false,
		"keycode":       false,
		"id":            false,
	} {
		if got := shouldRedact(key); got != want {
			t.Errorf("shouldRedact(%q) = %v, want %v", key, got, want)
		}
	}
}

func TestFileLoggerJSON(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "logs", "openqr.log")
	cfg := DefaultConfig()
	cfg.Output = "file"
	cfg.Format = FormatJSON
	cfg.FilePath = logPath

	logger, err := New(cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	logger.WithComponent("history").Info("scan stored", "host", "a.io", "token", "hunter2")
	if err := logger.Close(); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatal(err)
	}
	var entry map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(data), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v: %s", err, data)
	}
	if entry["msg"] != "scan stored" || entry["host"] != "a.io" {
		t.Errorf("unexpected entry: %v", entry)
	}
	if entry["token"] != "[REDACTED]" {
		t.Errorf("token not redacted: %v", entry["token"])
	}
	if entry["component"] != "history" {
		t.Errorf("component: %v", entry["component"])
	}
}

func TestSetDefault(t *testing.T) {
	prev := slog.Default()
	defer slog.SetDefault(prev)

	l, err := New(DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	SetDefault(l)
	if Default() != l {
		t.Error("Default did not return installed logger")
	}
}

func TestFileRotatorRotates(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "test.log")
	r, err := NewFileRotator(RotatorOptions{Path: logPath, MaxSizeMB: 1, MaxBackups: 1})
	if err != nil {
		t.Fatalf("NewFileRotator failed: %v", err)
	}

	chunk := []byte(strings.Repeat("x", 600*1024) + "\n")
	for i := 0; i < 3; i++ {
		if _, err := r.Write(chunk); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
	}
	if err := r.Close(); err != nil {
		t.Fatal(err)
	}

	backups, err := r.Backups()
	if err != nil {
		t.Fatal(err)
	}
	if len(backups) != 1 {
		t.Errorf("expected 1 backup after pruning, got %v", backups)
	}
	info, err := os.Stat(logPath)
	if err != nil {
		t.Fatal(err)
	}
	if info.Size() != int64(len(chunk)) {
		t.Errorf("current file size %d, want %d", info.Size(), len(chunk))
	}
}

func TestFileRotatorCompresses(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "test.log")
	r, err := NewFileRotator(RotatorOptions{Path: logPath, MaxSizeMB: 1, MaxBackups: 5, Compress: true})
	if err != nil {
		t.Fatal(err)
	}

	chunk := []byte(strings.Repeat("y", 700*1024) + "\n")
	for i := 0; i < 2; i++ {
		if _, err := r.Write(chunk); err != nil {
			t.Fatal(err)
		}
	}
	if err := r.Close(); err != nil {
		t.Fatal(err)
	}

	backups, err := r.Backups()
	if err != nil {
		t.Fatal(err)
	}
	if len(backups) != 1 || !strings.HasSuffix(backups[0], ".gz") {
		t.Errorf("expected one gzipped backup, got %v", backups)
	}
}

func TestFileRotatorRequiresPath(t *testing.T) {
	if _, err := NewFileRotator(RotatorOptions{}); err == nil {
		t.Error("expected error without path")
	}
}
