package metrics

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all application metrics
type Metrics struct {
	// Request counters
	Requests    atomic.Uint64
	Rejected    atomic.Uint64
	Predictions atomic.Uint64
	Uploads     atomic.Uint64

	// Latency of the last inference
	InferenceLatencyMs atomic.Uint64

	// Websocket clients
	ActiveClients atomic.Int64

	inference prometheus.Histogram
	registry  *prometheus.Registry
}

// New creates a new Metrics instance with Prometheus collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		inference: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "detect_inference_seconds",
			Help:    "Inference duration including pre and post processing",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		}),
	}

	m.registerPrometheusMetrics()

	return m
}

func (m *Metrics) registerPrometheusMetrics() {
	m.registry.MustRegister(m.inference)

	m.registry.MustRegister(prometheus.NewCounterFunc(
		prometheus.CounterOpts{
			Name: "detect_requests_total",
			Help: "Total detection requests received",
		},
		func() float64 { return float64(m.Requests.Load()) },
	))

	m.registry.MustRegister(prometheus.NewCounterFunc(
		prometheus.CounterOpts{
			Name: "detect_rejected_total",
			Help: "Total detection requests rejected before inference",
		},
		func() float64 { return float64(m.Rejected.Load()) },
	))

	m.registry.MustRegister(prometheus.NewCounterFunc(
		prometheus.CounterOpts{
			Name: "detect_predictions_total",
			Help: "Total predictions returned",
		},
		func() float64 { return float64(m.Predictions.Load()) },
	))

	m.registry.MustRegister(prometheus.NewCounterFunc(
		prometheus.CounterOpts{
			Name: "detect_uploads_saved_total",
			Help: "Total uploaded files saved to disk",
		},
		func() float64 { return float64(m.Uploads.Load()) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "detect_inference_latency_ms",
			Help: "Latency of the last inference in milliseconds",
		},
		func() float64 { return float64(m.InferenceLatencyMs.Load()) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "detect_ws_clients",
			Help: "Number of connected websocket clients",
		},
		func() float64 { return float64(m.ActiveClients.Load()) },
	))
}

// ObserveInference records one finished inference and its prediction count.
func (m *Metrics) ObserveInference(d time.Duration, predictions int) {
	m.InferenceLatencyMs.Store(uint64(d.Milliseconds()))
	m.inference.Observe(d.Seconds())
	m.Predictions.Add(uint64(predictions))
}

// Handler returns the Prometheus HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
