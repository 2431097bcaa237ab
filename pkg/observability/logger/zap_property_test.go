package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// Every entry is one parseable JSON object with timestamp, level and message,
// plus request_id whenever the context carries one.
func TestProperty_StructuredLoggingFormat(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	genMessage := gen.AlphaString().SuchThat(func(s string) bool { return len(s) > 0 && len(s) < 200 })
	genRequestID := gen.OneGenOf(gen.Const(""), gen.Identifier().Map(func(s string) string { return "req-" + s }))

	properties.Property("log entries are valid JSON with required fields", prop.ForAll(
		func(message, requestID string) bool {
			var buf bytes.Buffer
			log, err := NewZapLogger(Config{Level: DebugLevel, Format: JSONFormat, Output: &buf})
			if err != nil {
				return false
			}
			ctx := context.Background()
			if requestID != "" {
				ctx = ContextWithRequestID(ctx, requestID)
			}
			log.WithContext(ctx).Info(message, "queue", "default")

			var entry map[string]any
			if err := json.Unmarshal([]byte(strings.TrimSpace(buf.String())), &entry); err != nil {
				return false
			}
			for _, key := range []string{"timestamp", "level", "message", "queue"} {
				if _, ok := entry[key]; !ok {
					return false
				}
			}
			if requestID == "" {
				_, has := entry["request_id"]
				return !has
			}
			return entry["request_id"] == requestID && entry["message"] == message
		},
		genMessage,
		genRequestID,
	))

	properties.TestingRun(t)
}
