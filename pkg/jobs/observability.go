package jobs

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	jobsDispatchedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nimqueue_jobs_dispatched_total",
			Help: "Total number of jobs dispatched by name",
		},
		[]string{"job_name", "status"},
	)

	mailSentTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nimqueue_mail_sent_total",
			Help: "Total number of mail deliveries attempted by mail jobs",
		},
		[]string{"view", "status"},
	)
)

func recordDispatched(jobName, status string) {
	jobsDispatchedTotal.WithLabelValues(
		normalizeMetricLabel(jobName, "unknown"),
		normalizeMetricLabel(status, "unknown"),
	).Inc()
}

func recordMailSent(view, status string) {
	mailSentTotal.WithLabelValues(
		normalizeMetricLabel(view, "unknown"),
		normalizeMetricLabel(status, "unknown"),
	).Inc()
}

func normalizeMetricLabel(value, fallback string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fallback
	}
	return trimmed
}
