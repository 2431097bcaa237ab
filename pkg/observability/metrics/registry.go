// Package metrics exposes the process metrics in Prometheus format.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry serves the promauto vectors of every package, which live in the
// default registry together with the Go runtime and process collectors, plus
// any collector registered on it.
type Registry struct {
	registry  *prometheus.Registry
	gatherers prometheus.Gatherers
}

// NewRegistry creates a registry backed by the default gatherer.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	return &Registry{
		registry:  reg,
		gatherers: prometheus.Gatherers{prometheus.DefaultGatherer, reg},
	}
}

// Register registers an additional collector.
func (r *Registry) Register(collector prometheus.Collector) error {
	return r.registry.Register(collector)
}

// MustRegister registers collectors and panics on error.
func (r *Registry) MustRegister(collectors ...prometheus.Collector) {
	r.registry.MustRegister(collectors...)
}

// Unregister removes a collector added through Register.
func (r *Registry) Unregister(collector prometheus.Collector) bool {
	return r.registry.Unregister(collector)
}

// Handler returns the /metrics handler.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.gatherers, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Gatherer returns the combined gatherer.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.gatherers
}
