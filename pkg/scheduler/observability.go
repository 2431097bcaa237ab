package scheduler

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/nimburion/nimqueue/pkg/jobs"
)

var (
	schedulerTicksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nimqueue_scheduler_ticks_total",
			Help: "Total number of worker ticks by outcome",
		},
		[]string{"connection", "queue", "status"},
	)

	schedulerTicksInFlight = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "nimqueue_scheduler_ticks_inflight",
			Help: "Current number of worker ticks running a handler",
		},
		[]string{"connection", "queue"},
	)

	schedulerLockRenewTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nimqueue_scheduler_lock_renew_total",
			Help: "Total number of queue lock renew operations",
		},
		[]string{"connection", "queue", "status"},
	)
)

func recordTick(binding jobs.Binding, status string) {
	schedulerTicksTotal.WithLabelValues(
		normalizeSchedulerLabel(binding.Connection),
		normalizeSchedulerLabel(binding.Queue),
		normalizeSchedulerLabel(status),
	).Inc()
}

func incrementTickInFlight(binding jobs.Binding) {
	schedulerTicksInFlight.WithLabelValues(normalizeSchedulerLabel(binding.Connection), normalizeSchedulerLabel(binding.Queue)).Inc()
}

func decrementTickInFlight(binding jobs.Binding) {
	schedulerTicksInFlight.WithLabelValues(normalizeSchedulerLabel(binding.Connection), normalizeSchedulerLabel(binding.Queue)).Dec()
}

func recordLockRenew(binding jobs.Binding, status string) {
	schedulerLockRenewTotal.WithLabelValues(
		normalizeSchedulerLabel(binding.Connection),
		normalizeSchedulerLabel(binding.Queue),
		normalizeSchedulerLabel(status),
	).Inc()
}

func normalizeSchedulerLabel(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "unknown"
	}
	return trimmed
}
