package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jannetahkola/mc-server-manager/internal/config"
)

func TestInitAndCloseLogger(t *testing.T) {
	root := t.TempDir()
	logPath := filepath.Join(root, "app.log")

	_, err := Init(config.LoggingConfig{
		Level:      "info",
		Format:     "json",
		File:       logPath,
		MaxSize:    10,
		MaxBackups: 1,
		MaxAge:     1,
	})
	if err != nil {
		t.Fatalf("failed to init logger: %v", err)
	}

	L().Info("test_log")
	if err := Close(); err != nil {
		t.Fatalf("failed to close logger: %v", err)
	}

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("failed to read log file: %v", err)
	}
	if !strings.Contains(string(data), "test_log") {
		t.Fatalf("expected log file to contain the record, got %q", data)
	}
}

func TestSlogWriterComponentAndLevel(t *testing.T) {
	var buf bytes.Buffer
	w := slogWriter{logger: New(&buf, config.LoggingConfig{Level: "debug"})}

	w.Write([]byte("[Lifecycle] State STOPPED -> STARTING\n"))
	w.Write([]byte("[Files] Download to /srv/server.jar failed: boom\n"))
	w.Write([]byte("[Lifecycle] Warning: no readiness signal\n"))
	w.Write([]byte("plain message\n"))

	var records []map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var record map[string]interface{}
		if err := json.Unmarshal([]byte(line), &record); err != nil {
			t.Fatalf("invalid json record %q: %v", line, err)
		}
		records = append(records, record)
	}

	if len(records) != 4 {
		t.Fatalf("expected 4 records, got %d", len(records))
	}
	if records[0]["component"] != "Lifecycle" || records[0]["msg"] != "State STOPPED -> STARTING" || records[0]["level"] != "INFO" {
		t.Fatalf("unexpected record: %v", records[0])
	}
	if records[1]["level"] != "ERROR" || records[2]["level"] != "WARN" {
		t.Fatalf("unexpected levels: %v %v", records[1]["level"], records[2]["level"])
	}
	if _, ok := records[3]["component"]; ok || records[3]["msg"] != "plain message" {
		t.Fatalf("unexpected plain record: %v", records[3])
	}
}

func TestParseLevel(t *testing.T) {
	if parseLevel("DEBUG").String() != "DEBUG" || parseLevel("warning").String() != "WARN" || parseLevel("bogus").String() != "INFO" {
		t.Fatalf("unexpected level parsing")
	}
}
