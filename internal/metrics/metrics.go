// Package metrics exposes checkout counters on /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	CheckoutsTotal    *prometheus.CounterVec
	CheckoutConflicts prometheus.Counter
	CheckoutDuration  prometheus.Histogram
	ActiveSessions    prometheus.Gauge
}

func New() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		CheckoutsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "kasir_checkouts_total",
			Help: "Checkout commits by outcome.",
		}, []string{"outcome"}),
		CheckoutConflicts: factory.NewCounter(prometheus.CounterOpts{
			Name: "kasir_checkout_conflict_retries_total",
			Help: "Commit attempts replayed after a write conflict.",
		}),
		CheckoutDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "kasir_checkout_duration_seconds",
			Help:    "Wall time of a checkout commit including retries.",
			Buckets: prometheus.DefBuckets,
		}),
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "kasir_cart_sessions_active",
			Help: "Open cart sessions.",
		}),
	}
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
