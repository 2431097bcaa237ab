package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"go.opentelemetry.io/otel/trace"
)

func newBufferLogger(t *testing.T, level LogLevel) (*ZapLogger, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	log, err := NewZapLogger(Config{Level: level, Format: JSONFormat, Service: "nimqueue", Output: &buf})
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	return log, &buf
}

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var entries []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]any
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Fatalf("invalid JSON log line %q: %v", line, err)
		}
		entries = append(entries, entry)
	}
	return entries
}

func TestNewZapLogger(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{name: "json info", config: Config{Level: InfoLevel, Format: JSONFormat}},
		{name: "text debug", config: Config{Level: DebugLevel, Format: TextFormat}},
		{name: "zero value", config: Config{}},
		{name: "bad level", config: Config{Level: "trace"}, wantErr: true},
		{name: "bad format", config: Config{Format: "xml"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewZapLogger(tt.config)
			if (err != nil) != tt.wantErr {
				t.Fatalf("wantErr=%v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestZapLogger_LevelFilteringAndFields(t *testing.T) {
	log, buf := newBufferLogger(t, WarnLevel)
	log.Debug("hidden")
	log.Info("hidden")
	log.Warn("queue still has jobs", "connection", "vanilla", "remaining", 3)
	log.Error("failed")

	entries := decodeLines(t, buf)
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	first := entries[0]
	if first["level"] != "warn" || first["message"] != "queue still has jobs" {
		t.Fatalf("unexpected entry: %v", first)
	}
	if first["connection"] != "vanilla" || first["remaining"] != float64(3) || first["service"] != "nimqueue" {
		t.Fatalf("missing fields: %v", first)
	}
	if _, ok := first["timestamp"]; !ok {
		t.Fatalf("missing timestamp: %v", first)
	}
}

func TestZapLogger_With(t *testing.T) {
	log, buf := newBufferLogger(t, InfoLevel)
	child := log.With("component", "scheduler")
	child.With("queue", "mail").Info("tick")

	entry := decodeLines(t, buf)[0]
	if entry["component"] != "scheduler" || entry["queue"] != "mail" {
		t.Fatalf("expected inherited fields, got %v", entry)
	}
}

func TestZapLogger_WithContext(t *testing.T) {
	log, buf := newBufferLogger(t, InfoLevel)

	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	ctx := trace.ContextWithSpanContext(
		ContextWithRequestID(context.Background(), "req-1"),
		trace.NewSpanContext(trace.SpanContextConfig{TraceID: traceID, SpanID: spanID, TraceFlags: trace.FlagsSampled}),
	)
	log.WithContext(ctx).Info("with ids")
	log.WithContext(context.Background()).Info("without ids")

	entries := decodeLines(t, buf)
	if entries[0]["request_id"] != "req-1" || entries[0]["trace_id"] != traceID.String() || entries[0]["span_id"] != spanID.String() {
		t.Fatalf("expected ids, got %v", entries[0])
	}
	if _, ok := entries[1]["request_id"]; ok {
		t.Fatalf("unexpected request_id: %v", entries[1])
	}
}

func TestRequestIDFromContext(t *testing.T) {
	if got := RequestIDFromContext(context.Background()); got != "" {
		t.Fatalf("expected empty id, got %q", got)
	}
	if got := RequestIDFromContext(ContextWithRequestID(context.Background(), "abc")); got != "abc" {
		t.Fatalf("expected abc, got %q", got)
	}
	//nolint:staticcheck // plain string keys are not request ids
	if got := RequestIDFromContext(context.WithValue(context.Background(), "request_id", "x")); got != "" {
		t.Fatalf("string key must not match, got %q", got)
	}
}

func TestParseLogLevelAndFormat(t *testing.T) {
	for input, want := range map[string]LogLevel{"debug": DebugLevel, "INFO": InfoLevel, "warning": WarnLevel, "error": ErrorLevel} {
		got, err := ParseLogLevel(input)
		if err != nil || got != want {
			t.Fatalf("ParseLogLevel(%q) = %q, %v", input, got, err)
		}
	}
	if _, err := ParseLogLevel("trace"); err == nil {
		t.Fatal("expected error for trace")
	}
	for input, want := range map[string]LogFormat{"json": JSONFormat, "text": TextFormat, "console": TextFormat} {
		got, err := ParseLogFormat(input)
		if err != nil || got != want {
			t.Fatalf("ParseLogFormat(%q) = %q, %v", input, got, err)
		}
	}
	if _, err := ParseLogFormat("xml"); err == nil {
		t.Fatal("expected error for xml")
	}
}
