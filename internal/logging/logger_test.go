// Copyright 2026 The zfssend Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewLoggerJSONFormat(t *testing.T) {
	logger, closer := NewLogger("info", "json", "")
	defer closer.Close()
	if logger == nil {
		t.Fatal("expected non-nil logger")
	}
}

func TestNewLoggerTextFormat(t *testing.T) {
	logger, closer := NewLogger("debug", "text", "")
	defer closer.Close()
	if logger == nil {
		t.Fatal("expected non-nil logger")
	}
}

func TestNewLoggerUnknownFormatDefaultsToJSON(t *testing.T) {
	logger, closer := NewLogger("info", "unknown", "")
	defer closer.Close()
	if logger == nil {
		t.Fatal("expected non-nil logger")
	}
}

func TestNewLoggerAllLevels(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "warning", "error", "unknown"} {
		logger, closer := NewLogger(level, "json", "")
		defer closer.Close()
		if logger == nil {
			t.Errorf("expected non-nil logger for level %q", level)
		}
	}
}

func TestNewLoggerWithFileOutput(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "recv.log")

	logger, closer := NewLogger("info", "json", logFile)
	if logger == nil {
		t.Fatal("expected non-nil logger")
	}
	logger.Info("receive started", "toguid", 42)
	closer.Close()

	data, err := os.ReadFile(logFile)
	if err != nil {
		t.Fatalf("reading log file: %v", err)
	}
	content := string(data)
	if !strings.Contains(content, "receive started") || !strings.Contains(content, "toguid") {
		t.Errorf("log file missing expected content: %s", content)
	}
}

func TestNewLoggerWithInvalidFilePathFallsBackToStdout(t *testing.T) {
	logger, closer := NewLogger("info", "json", "/nonexistent/dir/test.log")
	defer closer.Close()
	if logger == nil {
		t.Fatal("expected non-nil logger even with an invalid file path")
	}
	logger.Info("still works")
}
