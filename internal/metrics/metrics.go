// Package metrics exposes daemon process metrics on /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles the daemon's instrument set on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	HTTPRequests  *prometheus.CounterVec
	HTTPDuration  *prometheus.HistogramVec
	PruneDeletes  *prometheus.CounterVec
	DiskUsage     prometheus.Gauge
	ProbeOutcomes *prometheus.CounterVec
	UpdateRuns    *prometheus.CounterVec
}

// New builds the instrument set and registers it together with the
// standard Go and process collectors.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nettap_http_requests_total",
			Help: "HTTP requests by method, route, and status class.",
		}, []string{"method", "route", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "nettap_http_request_duration_seconds",
			Help:    "HTTP request latency by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		PruneDeletes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nettap_prune_deleted_indices_total",
			Help: "Indices deleted by the retention manager, by mode.",
		}, []string{"mode"}),
		DiskUsage: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "nettap_disk_usage_fraction",
			Help: "Used fraction of the monitored filesystem.",
		}),
		ProbeOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nettap_health_probe_total",
			Help: "Health probe cycles by monitor and resulting status.",
		}, []string{"monitor", "status"}),
		UpdateRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nettap_update_runs_total",
			Help: "Component update attempts by outcome.",
		}, []string{"outcome"}),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.HTTPRequests,
		m.HTTPDuration,
		m.PruneDeletes,
		m.DiskUsage,
		m.ProbeOutcomes,
		m.UpdateRuns,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
