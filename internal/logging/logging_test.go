package logging

import (
	"bytes"
	"encoding/json"
	"testing"
)

func TestNewWithWriter(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, "api-server", "prod")
	logger.Debug("hidden")
	logger.Info("booking created", "booking_id", "b1")

	var line map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line); err != nil {
		t.Fatalf("expected exactly one JSON line, got %q: %v", buf.String(), err)
	}
	if line["service"] != "api-server" || line["booking_id"] != "b1" {
		t.Fatalf("unexpected record %v", line)
	}
}

func TestNewWithWriter_DevLogsDebug(t *testing.T) {
	var buf bytes.Buffer
	NewWithWriter(&buf, "seed", "dev").Debug("visible")
	if buf.Len() == 0 {
		t.Fatalf("debug record dropped in dev")
	}
}
