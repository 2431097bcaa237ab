package queue

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/nimburion/nimqueue/pkg/observability/logger"
)

type queueTestLogger struct{}

func (l *queueTestLogger) Debug(string, ...any) {}
func (l *queueTestLogger) Info(string, ...any)  {}
func (l *queueTestLogger) Warn(string, ...any)  {}
func (l *queueTestLogger) Error(string, ...any) {}
func (l *queueTestLogger) With(...any) logger.Logger {
	return l
}
func (l *queueTestLogger) WithContext(context.Context) logger.Logger {
	return l
}

func mustPayload(t *testing.T, value any) Payload {
	t.Helper()
	payload, err := MarshalPayload(value)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return payload
}

func decodeMap(t *testing.T, payload Payload) map[string]any {
	t.Helper()
	out := map[string]any{}
	if err := json.Unmarshal(payload, &out); err != nil {
		t.Fatalf("decode payload %s: %v", payload, err)
	}
	return out
}

func newMemoryDriver(t *testing.T) *Driver {
	t.Helper()
	driver, err := NewDriver(ConnectionConfig{Name: "vanilla", Kind: KindMemory}, NewMemoryStore(), &queueTestLogger{})
	if err != nil {
		t.Fatalf("new driver: %v", err)
	}
	return driver
}
