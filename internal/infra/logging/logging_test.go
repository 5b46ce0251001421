package logging_test

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"ai-request-queue/internal/config"
	"ai-request-queue/internal/infra/logging"
)

func TestWith_AttachesContextIDs(t *testing.T) {
	var buf bytes.Buffer
	base := logging.NewWithWriter(&buf, config.LogConfig{Level: "debug", Format: "json"}, false)

	ctx := logging.WithTraceID(context.Background(), "t-1")
	ctx = logging.WithRequestID(ctx, "r-1")
	logging.With(ctx, base).Info().Msg("hello")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("expected json line, got %q: %v", buf.String(), err)
	}
	if line["trace_id"] != "t-1" || line["request_id"] != "r-1" || line["message"] != "hello" {
		t.Fatalf("unexpected fields %v", line)
	}
	if _, ok := line["session_id"]; ok {
		t.Fatalf("session_id should be absent")
	}
	if logging.TraceIDFrom(ctx) != "t-1" {
		t.Fatalf("trace id not readable from ctx")
	}
}

func TestRedact(t *testing.T) {
	if got := logging.Redact("short", false); got != "***" {
		t.Fatalf("got %q", got)
	}
	if got := logging.Redact("list files in my Downloads", false); got != "list...ds" {
		t.Fatalf("got %q", got)
	}
	if got := logging.Redact("anything", true); got != "anything" {
		t.Fatalf("dev should not redact, got %q", got)
	}
}
