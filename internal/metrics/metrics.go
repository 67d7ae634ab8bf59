// Package metrics holds the process's Prometheus registry and the counters
// the HTTP layer, services and trade stream report into.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns a private registry rather than the global default one, so
// tests can build as many as they like.
type Metrics struct {
	registry *prometheus.Registry

	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	OrdersPlaced       *prometheus.CounterVec
	OrdersDeleted      prometheus.Counter
	Trades             prometheus.Counter
	TradedShares       prometheus.Counter
	ShareClassesActive prometheus.Gauge
	SinkErrors         *prometheus.CounterVec
}

// New creates a registry with the Go and process collectors and every
// exchange metric registered.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{registry: reg}

	m.HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests.",
	}, []string{"method", "route", "status"})

	m.HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})

	m.OrdersPlaced = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "orders_placed_total",
		Help: "Orders accepted, by type and side.",
	}, []string{"type", "side"})

	m.OrdersDeleted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "orders_deleted_total",
		Help: "Limit orders deleted by their trader.",
	})

	m.Trades = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "trades_total",
		Help: "Trades executed.",
	})

	m.TradedShares = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "traded_shares_total",
		Help: "Shares moved by trades.",
	})

	m.ShareClassesActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "share_classes_active",
		Help: "Share classes currently backed by a deposited asset.",
	})

	m.SinkErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stream_sink_errors_total",
		Help: "Failed trade stream writes, by sink.",
	}, []string{"sink"})

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.OrdersPlaced,
		m.OrdersDeleted,
		m.Trades,
		m.TradedShares,
		m.ShareClassesActive,
		m.SinkErrors,
	)
	return m
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// SinkError counts one failed write to the named stream sink. Its signature
// matches stream.Hub.OnError.
func (m *Metrics) SinkError(sink string) {
	m.SinkErrors.WithLabelValues(sink).Inc()
}
