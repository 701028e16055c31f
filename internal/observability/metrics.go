// Package observability exposes the service's Prometheus metrics.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every instrument the pipeline records into. One instance is
// created at startup and shared; a fresh registry per instance keeps tests
// isolated.
type Metrics struct {
	registry *prometheus.Registry

	MessagesTotal      *prometheus.CounterVec
	GenerationDuration prometheus.Histogram
	RelayDeliveries    *prometheus.CounterVec
	KnowledgeDocs      prometheus.Gauge
}

// New creates and registers all metrics on a private registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		MessagesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wachat_messages_total",
			Help: "Inbound messages processed, by pipeline outcome.",
		}, []string{"outcome"}),
		GenerationDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "wachat_generation_duration_seconds",
			Help:    "Wall time of reply generation including tool calls.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		}),
		RelayDeliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wachat_relay_deliveries_total",
			Help: "Outbound relay deliveries, by final status.",
		}, []string{"status"}),
		KnowledgeDocs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "wachat_knowledge_docs",
			Help: "Documents currently in the knowledge base.",
		}),
	}

	registry.MustRegister(
		m.MessagesTotal,
		m.GenerationDuration,
		m.RelayDeliveries,
		m.KnowledgeDocs,
	)
	return m
}

// Handler returns the scrape endpoint for this instance's registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
