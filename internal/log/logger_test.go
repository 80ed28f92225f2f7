// Copyright 2025 Umut Candan
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package log

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestNewJSONLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&Config{Level: "info", Format: FormatJSON, Output: &buf})

	logger.Info("test message", slog.String(WorkflowKey, "greet"))

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if entry["msg"] != "test message" {
		t.Errorf("msg = %v", entry["msg"])
	}
	if entry[WorkflowKey] != "greet" {
		t.Errorf("workflow = %v", entry[WorkflowKey])
	}
}

func TestNewTextLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&Config{Level: "info", Format: FormatText, Output: &buf})

	logger.Info("hello")
	if !strings.Contains(buf.String(), "msg=hello") {
		t.Errorf("output = %q", buf.String())
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&Config{Level: "warn", Format: FormatJSON, Output: &buf})

	logger.Debug("dropped")
	logger.Info("dropped too")
	if buf.Len() != 0 {
		t.Errorf("low levels not filtered: %q", buf.String())
	}

	logger.Warn("kept")
	if buf.Len() == 0 {
		t.Error("warn was filtered out")
	}
}

func TestFromEnvDebug(t *testing.T) {
	t.Setenv("AUTOAGENT_DEBUG", "1")
	cfg := FromEnv()
	if cfg.Level != "debug" || !cfg.AddSource {
		t.Errorf("cfg = %+v", cfg)
	}
}

func TestFromEnvLevelPrecedence(t *testing.T) {
	t.Setenv("AUTOAGENT_DEBUG", "")
	t.Setenv("AUTOAGENT_LOG_LEVEL", "warn")
	t.Setenv("LOG_LEVEL", "error")
	cfg := FromEnv()
	if cfg.Level != "warn" {
		t.Errorf("level = %q, want AUTOAGENT_LOG_LEVEL to win", cfg.Level)
	}
}

func TestParseLevelFallback(t *testing.T) {
	if parseLevel("nonsense") != slog.LevelInfo {
		t.Error("unknown level should default to info")
	}
}

func TestWithRunContext(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&Config{Level: "info", Format: FormatJSON, Output: &buf})

	WithRunContext(logger, "run-123", "greet").Info("step done")

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if entry[RunIDKey] != "run-123" || entry[WorkflowKey] != "greet" {
		t.Errorf("entry = %v", entry)
	}
}
