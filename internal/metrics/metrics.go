// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Transaction outcomes recorded by RecordTx.
const (
	TxCommit   = "commit"
	TxRollback = "rollback"
	// TxFailed covers failures where no rollback was issued, e.g. a
	// failed commit or a failed begin.
	TxFailed = "failed"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "persons_api",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "persons_api",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "route", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "persons_api",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"method", "route"},
	)

	txTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "persons_api",
			Subsystem: "store",
			Name:      "tx_total",
			Help:      "Write transactions by operation and outcome.",
		},
		[]string{"op", "outcome"},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		txTotal,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

func IncInFlight() { httpInFlight.Inc() }
func DecInFlight() { httpInFlight.Dec() }

// RecordHTTPRequest records one finished request. route is the matched
// route template, not the raw path, to keep label cardinality bounded.
func RecordHTTPRequest(method, route, status string, d time.Duration) {
	httpRequests.WithLabelValues(method, route, status).Inc()
	httpDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// RecordTx counts the outcome of a write transaction.
func RecordTx(op, outcome string) {
	txTotal.WithLabelValues(op, outcome).Inc()
}
