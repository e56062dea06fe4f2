package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func newFileLogger(t *testing.T) (*Logger, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "audit.log")
	l, err := NewLogger(Config{
		Enabled:      true,
		Output:       "file:" + path,
		BufferSize:   10,
		MaxFieldSize: 32,
	})
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}
	return l, path
}

func readLines(t *testing.T, path string) []map[string]any {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open audit log: %v", err)
	}
	defer f.Close()

	var records []map[string]any
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var rec map[string]any
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			t.Fatalf("audit line is not JSON: %v", err)
		}
		records = append(records, rec)
	}
	return records
}

func TestLoggerWritesEvents(t *testing.T) {
	l, path := newFileLogger(t)

	l.ToolInvoked(context.Background(), "session-1", "user-1", "web_search", "call-1", json.RawMessage(`{"query":"go"}`))
	l.ToolCompleted(context.Background(), "session-1", "user-1", "web_search", "call-1", true, "three results", 120*time.Millisecond)
	if err := l.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	records := readLines(t, path)
	if len(records) != 2 {
		t.Fatalf("wrote %d records, want 2", len(records))
	}
	if records[0]["audit_type"] != string(EventToolInvocation) {
		t.Errorf("first record type = %v, want tool_invocation", records[0]["audit_type"])
	}
	if records[0]["tool_name"] != "web_search" {
		t.Errorf("tool_name = %v, want web_search", records[0]["tool_name"])
	}
	if records[0]["audit_id"] == "" {
		t.Error("audit_id not assigned")
	}
	if records[1]["success"] != true {
		t.Errorf("completion success = %v, want true", records[1]["success"])
	}
}

func TestLoggerTruncatesLargeFields(t *testing.T) {
	l, path := newFileLogger(t)

	big := strings.Repeat("x", 500)
	l.ToolCompleted(context.Background(), "s", "u", "execute_code", "call-1", true, big, time.Second)
	if err := l.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	records := readLines(t, path)
	out, _ := records[0]["output"].(string)
	if !strings.HasSuffix(out, "...(truncated)") {
		t.Fatalf("output not truncated: %d chars", len(out))
	}
	if len(out) > 64 {
		t.Fatalf("truncated output still %d chars", len(out))
	}
}

func TestDisabledLoggerDiscards(t *testing.T) {
	l, err := NewLogger(Config{Enabled: false})
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}
	// Must not panic or block.
	l.ToolInvoked(context.Background(), "s", "u", "t", "c", nil)
	l.RateLimited(context.Background(), "u", "chat", false)
	if err := l.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
}
