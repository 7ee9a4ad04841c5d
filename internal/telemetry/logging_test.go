package telemetry_test

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/basket/trackd/internal/telemetry"
)

func TestNewLogger_WritesJSONLWithRedaction(t *testing.T) {
	dir := t.TempDir()
	logger, closer, err := telemetry.NewLogger(dir, "info", true)
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}

	logger.Info("store opened", "db_path", "/tmp/x.db", "auth_token", "hunter2")
	logger.Debug("suppressed at info level")
	if err := closer.Close(); err != nil {
		t.Fatalf("close logger: %v", err)
	}

	f, err := os.Open(filepath.Join(dir, "logs", "system.jsonl"))
	if err != nil {
		t.Fatalf("open log file: %v", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	var lines []map[string]any
	for scanner.Scan() {
		var entry map[string]any
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			t.Fatalf("log line is not JSON: %v", err)
		}
		lines = append(lines, entry)
	}
	if len(lines) != 1 {
		t.Fatalf("expected 1 log line, got %d", len(lines))
	}
	entry := lines[0]
	if entry["auth_token"] != "[REDACTED]" {
		t.Errorf("auth_token = %v, want [REDACTED]", entry["auth_token"])
	}
	if entry["db_path"] != "/tmp/x.db" {
		t.Errorf("db_path = %v, want /tmp/x.db", entry["db_path"])
	}
	if _, hasTimestamp := entry["timestamp"]; !hasTimestamp {
		t.Error("expected timestamp key in log entry")
	}
	if strings.Contains(scanner.Text(), "hunter2") {
		t.Error("secret leaked into log file")
	}
}
