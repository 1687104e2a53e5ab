// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package logging

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewTransferLoggerDisabled(t *testing.T) {
	base := slog.New(slog.NewTextHandler(os.Stderr, nil))

	logger, closer, path, err := NewTransferLogger(base, "", "mirror-a", "mirror-a-42")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer closer.Close()

	if logger != base {
		t.Error("expected base logger when transferLogDir is empty")
	}
	if path != "" {
		t.Errorf("expected empty path, got %q", path)
	}
}

func TestNewTransferLoggerCreatesFileAndLogs(t *testing.T) {
	dir := t.TempDir()
	var baseBuf bytes.Buffer
	base := slog.New(slog.NewJSONHandler(&baseBuf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	logger, closer, logPath, err := NewTransferLogger(base, dir, "mirror-a", "mirror-a-42")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	hostDir := filepath.Join(dir, "mirror-a")
	if _, err := os.Stat(hostDir); os.IsNotExist(err) {
		t.Fatalf("host dir not created: %s", hostDir)
	}

	expectedPath := filepath.Join(hostDir, "mirror-a-42.log")
	if logPath != expectedPath {
		t.Errorf("expected path %q, got %q", expectedPath, logPath)
	}

	logger.Info("sent file", "file", "incoming.dat", "bytes", 1024)
	closer.Close()

	if !strings.Contains(baseBuf.String(), "sent file") {
		t.Errorf("log message not found in base handler output: %s", baseBuf.String())
	}

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("reading transfer log file: %v", err)
	}
	content := string(data)
	if !strings.Contains(content, "sent file") {
		t.Errorf("log message not found in transfer file: %s", content)
	}
	if !strings.Contains(content, "incoming.dat") {
		t.Errorf("file attr not found in transfer file: %s", content)
	}
}

func TestNewTransferLoggerDebugOnlyInFile(t *testing.T) {
	dir := t.TempDir()

	var baseBuf bytes.Buffer
	base := slog.New(slog.NewJSONHandler(&baseBuf, &slog.HandlerOptions{Level: slog.LevelInfo}))

	logger, closer, logPath, err := NewTransferLogger(base, dir, "mirror-a", "sess-debug")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	logger.Debug("debug only message")
	logger.Info("info for both")
	closer.Close()

	if strings.Contains(baseBuf.String(), "debug only message") {
		t.Error("DEBUG message should not appear in base handler with INFO level")
	}
	if !strings.Contains(baseBuf.String(), "info for both") {
		t.Error("INFO message missing from base handler")
	}

	data, _ := os.ReadFile(logPath)
	content := string(data)
	if !strings.Contains(content, "debug only message") {
		t.Errorf("DEBUG message missing from transfer file: %s", content)
	}
	if !strings.Contains(content, "info for both") {
		t.Errorf("INFO message missing from transfer file: %s", content)
	}
}

func TestRemoveTransferLog(t *testing.T) {
	dir := t.TempDir()
	hostDir := filepath.Join(dir, "mirror-a")
	os.MkdirAll(hostDir, 0755)

	logPath := filepath.Join(hostDir, "to-remove.log")
	os.WriteFile(logPath, []byte("test"), 0644)

	RemoveTransferLog(dir, "mirror-a", "to-remove")

	if _, err := os.Stat(logPath); !os.IsNotExist(err) {
		t.Error("transfer log file should have been removed")
	}
}

func TestRemoveTransferLogNoOpWhenEmpty(t *testing.T) {
	RemoveTransferLog("", "mirror-a", "sess")
}
