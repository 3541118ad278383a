package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the dispenser's Prometheus collectors. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	outcomes     *prometheus.CounterVec
	calls        *prometheus.HistogramVec
	reconciled   prometheus.Counter
	consistency  prometheus.Counter
	httpRequests *prometheus.CounterVec
	httpLatency  *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "poap",
			Subsystem: "dispenser",
			Name:      "outcomes_total",
			Help:      "Terminal verify-and-issue outcomes segmented by event, state and reason.",
		}, []string{"event", "state", "reason"}),
		calls: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "poap",
			Subsystem: "dispenser",
			Name:      "external_call_duration_seconds",
			Help:      "Latency of ledger and issuer calls segmented by call and result.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"call", "result"}),
		reconciled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "poap",
			Subsystem: "dispenser",
			Name:      "reconciled_records_total",
			Help:      "Stale PENDING records moved to FAILED by the reconciler.",
		}),
		consistency: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "poap",
			Subsystem: "dispenser",
			Name:      "consistency_errors_total",
			Help:      "Finalize calls that found the record not pending for their attempt.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "poap",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests segmented by route and status code.",
		}, []string{"route", "method", "status"}),
		httpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "poap",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency segmented by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method"}),
	}
	reg.MustRegister(m.outcomes, m.calls, m.reconciled, m.consistency, m.httpRequests, m.httpLatency)
	return m
}

func (m *Metrics) ObserveOutcome(event, state, reason string) {
	if m == nil {
		return
	}
	m.outcomes.WithLabelValues(event, state, reason).Inc()
}

// ObserveCall records one external call. result is "ok" or an error class.
func (m *Metrics) ObserveCall(call, result string, d time.Duration) {
	if m == nil {
		return
	}
	m.calls.WithLabelValues(call, result).Observe(d.Seconds())
}

func (m *Metrics) AddReconciled(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.reconciled.Add(float64(n))
}

func (m *Metrics) IncConsistencyError() {
	if m == nil {
		return
	}
	m.consistency.Inc()
}

func (m *Metrics) ObserveHTTP(route, method, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(route, method, status).Inc()
	m.httpLatency.WithLabelValues(route, method).Observe(d.Seconds())
}
