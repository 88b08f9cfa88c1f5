package observability

import (
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type rpcMetrics struct {
	requests  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

var (
	rpcMetricsOnce sync.Once
	rpcRegistry    *rpcMetrics

	engineMetricsOnce sync.Once
	engineRegistry    *EngineMetrics
)

// RPCMetrics returns the lazily-initialised metrics registry used to record
// JSON-RPC activity.
func RPCMetrics() *rpcMetrics {
	rpcMetricsOnce.Do(func() {
		rpcRegistry = &rpcMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "escrowd",
				Subsystem: "rpc",
				Name:      "requests_total",
				Help:      "Total JSON-RPC requests segmented by method and outcome.",
			}, []string{"method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "escrowd",
				Subsystem: "rpc",
				Name:      "errors_total",
				Help:      "Total JSON-RPC errors segmented by method and status code.",
			}, []string{"method", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "escrowd",
				Subsystem: "rpc",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for JSON-RPC handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"method"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "escrowd",
				Subsystem: "rpc",
				Name:      "throttles_total",
				Help:      "Count of requests rejected due to throttling policies.",
			}, []string{"reason"}),
		}
		prometheus.MustRegister(
			rpcRegistry.requests,
			rpcRegistry.errors,
			rpcRegistry.latency,
			rpcRegistry.throttles,
		)
	})
	return rpcRegistry
}

// Observe records the outcome of an RPC request. The status code should be the
// HTTP status that was ultimately written to the response writer.
func (m *rpcMetrics) Observe(method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if method == "" {
		method = "unknown"
	}
	outcome := "success"
	if status >= 400 {
		outcome = "error"
	}
	m.requests.WithLabelValues(method, outcome).Inc()
	if status >= 400 {
		m.errors.WithLabelValues(method, fmt.Sprintf("%d", status)).Inc()
	}
	m.latency.WithLabelValues(method).Observe(duration.Seconds())
}

// RecordThrottle increments the throttle counter for the supplied reason.
// Reasons should be stable strings such as "rate_limit" so dashboards and
// alerts remain consistent.
func (m *rpcMetrics) RecordThrottle(reason string) {
	if m == nil {
		return
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.throttles.WithLabelValues(reason).Inc()
}

// EngineMetrics captures counters for agreement lifecycle transitions.
type EngineMetrics struct {
	transitions *prometheus.CounterVec
	custody     prometheus.Gauge
}

// Engine returns the singleton metrics registry for the agreement engine.
func Engine() *EngineMetrics {
	engineMetricsOnce.Do(func() {
		engineRegistry = &EngineMetrics{
			transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "escrowd",
				Subsystem: "engine",
				Name:      "transitions_total",
				Help:      "Count of agreement lifecycle transitions segmented by operation and outcome.",
			}, []string{"operation", "outcome"}),
			custody: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "escrowd",
				Subsystem: "engine",
				Name:      "open_agreements",
				Help:      "Number of agreements currently holding custodied funds.",
			}),
		}
		prometheus.MustRegister(engineRegistry.transitions, engineRegistry.custody)
	})
	return engineRegistry
}

// RecordTransition counts one engine operation attempt.
func (m *EngineMetrics) RecordTransition(operation string, err error) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.transitions.WithLabelValues(operation, outcome).Inc()
}

// SetOpenAgreements updates the open agreement gauge.
func (m *EngineMetrics) SetOpenAgreements(n float64) {
	if m == nil {
		return
	}
	m.custody.Set(n)
}
