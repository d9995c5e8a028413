// Copyright 2025 Tom Barlow
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
	"context"
	"encoding/json"
	"strings"
	"testing"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var entries []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]any
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Fatalf("invalid JSON line %q: %v", line, err)
		}
		entries = append(entries, entry)
	}
	return entries
}

func TestLogExchangeStart(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&Config{Level: "debug", Format: FormatJSON, Output: &buf})

	LogExchangeStart(context.Background(), logger, &Exchange{
		Method:    "GET",
		URL:       "https://api.test.com/items?query=shoes",
		RequestID: "req-1",
		Metadata:  map[string]any{"session": "shop"},
	})

	entries := decodeLines(t, &buf)
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}

	entry := entries[0]
	if entry["event"] != "request" {
		t.Errorf("event = %v, want request", entry["event"])
	}
	if entry["method"] != "GET" {
		t.Errorf("method = %v, want GET", entry["method"])
	}
	if entry["request_id"] != "req-1" {
		t.Errorf("request_id = %v, want req-1", entry["request_id"])
	}
	if entry["session"] != "shop" {
		t.Errorf("session metadata = %v, want shop", entry["session"])
	}
	if _, ok := entry["attempt"]; ok {
		t.Error("first attempt should not log an attempt number")
	}
}

func TestLogExchangeStart_RetryAttempt(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&Config{Level: "debug", Format: FormatJSON, Output: &buf})

	LogExchangeStart(context.Background(), logger, &Exchange{
		Method:  "GET",
		URL:     "u",
		Attempt: 2,
	})

	entries := decodeLines(t, &buf)
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if entries[0]["attempt"] != float64(2) {
		t.Errorf("attempt = %v, want 2", entries[0]["attempt"])
	}
}

func TestLogExchangeEnd_Levels(t *testing.T) {
	t.Run("success logs at debug", func(t *testing.T) {
		var buf bytes.Buffer
		logger := New(&Config{Level: "debug", Format: FormatJSON, Output: &buf})

		LogExchangeEnd(context.Background(), logger, &Exchange{Method: "GET", URL: "u"}, &ExchangeResult{
			StatusCode: 200,
			DurationMs: 12,
			BodyBytes:  42,
		})

		entries := decodeLines(t, &buf)
		if len(entries) != 1 {
			t.Fatalf("expected 1 entry, got %d", len(entries))
		}
		if entries[0]["level"] != "DEBUG" {
			t.Errorf("level = %v, want DEBUG", entries[0]["level"])
		}
		if entries[0]["status"] != float64(200) {
			t.Errorf("status = %v, want 200", entries[0]["status"])
		}
		if entries[0]["body_bytes"] != float64(42) {
			t.Errorf("body_bytes = %v, want 42", entries[0]["body_bytes"])
		}
	})

	t.Run("failure logs at error", func(t *testing.T) {
		var buf bytes.Buffer
		logger := New(&Config{Level: "debug", Format: FormatJSON, Output: &buf})

		LogExchangeEnd(context.Background(), logger, &Exchange{Method: "GET", URL: "u"}, &ExchangeResult{
			Error:      "connection refused",
			DurationMs: 3,
		})

		entries := decodeLines(t, &buf)
		if len(entries) != 1 {
			t.Fatalf("expected 1 entry, got %d", len(entries))
		}
		if entries[0]["level"] != "ERROR" {
			t.Errorf("level = %v, want ERROR", entries[0]["level"])
		}
		if entries[0]["error"] != "connection refused" {
			t.Errorf("error = %v, want connection refused", entries[0]["error"])
		}
	})
}
