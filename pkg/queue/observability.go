package queue

import (
	"strings"

	"github.com/nimburion/nimqueue/pkg/observability/tracing"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel/trace"
)

var (
	queueEnqueuedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nimqueue_queue_enqueued_total",
			Help: "Total number of payloads added to queues",
		},
		[]string{"connection", "queue"},
	)

	queueProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nimqueue_queue_processed_total",
			Help: "Total number of popped payloads handed to a handler",
		},
		[]string{"connection", "queue", "status"},
	)

	queueDeadLetterTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nimqueue_queue_deadletter_total",
			Help: "Total number of payloads routed to the dead-letter queue",
		},
		[]string{"connection", "queue"},
	)

	queueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "nimqueue_queue_depth",
			Help: "Last observed number of items in a queue",
		},
		[]string{"connection", "queue"},
	)
)

func recordEnqueued(connection, queue string) {
	queueEnqueuedTotal.WithLabelValues(normalizeQueueLabel(connection), normalizeQueueLabel(queue)).Inc()
}

func recordProcessed(connection, queue, status string) {
	queueProcessedTotal.WithLabelValues(
		normalizeQueueLabel(connection),
		normalizeQueueLabel(queue),
		normalizeQueueLabel(status),
	).Inc()
}

func recordDeadLetter(connection, queue string) {
	queueDeadLetterTotal.WithLabelValues(normalizeQueueLabel(connection), normalizeQueueLabel(queue)).Inc()
}

func recordDepth(connection, queue string, depth int) {
	queueDepth.WithLabelValues(normalizeQueueLabel(connection), normalizeQueueLabel(queue)).Set(float64(depth))
}

func normalizeQueueLabel(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "unknown"
	}
	return trimmed
}

func finishSpan(span trace.Span, err error) {
	if err != nil {
		tracing.RecordError(span, err)
	} else {
		tracing.RecordSuccess(span)
	}
	span.End()
}
