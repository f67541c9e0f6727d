// Package metrics holds the Prometheus collectors of the fetch engine.
// All methods are safe on a nil *Metrics so that components can run without
// instrumentation.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const defaultNamespace = "chainfetch"

// Metrics holds all Prometheus metrics of the engine
type Metrics struct {
	// Counters
	RPCRequestsTotal        *prometheus.CounterVec
	RetryAttemptsTotal      *prometheus.CounterVec
	ErrorsTotal             *prometheus.CounterVec
	BreakerTransitionsTotal *prometheus.CounterVec
	CacheLookupsTotal       *prometheus.CounterVec
	FetchResultsTotal       *prometheus.CounterVec
	ProgressDroppedTotal    prometheus.Counter

	// Gauges
	QueueInFlight *prometheus.GaugeVec
	QueueWaiting  *prometheus.GaugeVec

	// Histograms
	RPCDuration       *prometheus.HistogramVec
	QueueWaitDuration *prometheus.HistogramVec
	FetchDuration     *prometheus.HistogramVec
}

// New creates all metrics and registers them against reg.
// A nil reg creates unregistered collectors.
func New(reg prometheus.Registerer, namespace string) *Metrics {
	if namespace == "" {
		namespace = defaultNamespace
	}
	factory := promauto.With(reg)

	return &Metrics{
		RPCRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rpc",
			Name:      "requests_total",
			Help:      "Total number of provider calls by outcome",
		}, []string{"chain", "provider", "outcome"}),
		RetryAttemptsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "resilience",
			Name:      "retry_attempts_total",
			Help:      "Total number of retry attempts",
		}, []string{"key"}),
		ErrorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "resilience",
			Name:      "errors_total",
			Help:      "Total number of classified errors",
		}, []string{"kind"}),
		BreakerTransitionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "resilience",
			Name:      "breaker_transitions_total",
			Help:      "Circuit breaker state transitions",
		}, []string{"key", "state"}),
		CacheLookupsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Response cache lookups by result",
		}, []string{"chain", "result"}),
		FetchResultsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fetch",
			Name:      "results_total",
			Help:      "Completed contract fetches by method",
		}, []string{"chain", "method"}),
		ProgressDroppedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fetch",
			Name:      "progress_dropped_total",
			Help:      "Progress updates dropped because a subscriber was slow",
		}),
		QueueInFlight: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "in_flight",
			Help:      "Requests currently admitted by the tier queue",
		}, []string{"chain"}),
		QueueWaiting: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "waiting",
			Help:      "Requests waiting for admission",
		}, []string{"chain"}),
		RPCDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "rpc",
			Name:      "request_duration_seconds",
			Help:      "Provider call latency",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}, []string{"chain", "provider"}),
		QueueWaitDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "wait_duration_seconds",
			Help:      "Time spent waiting for admission",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}, []string{"chain"}),
		FetchDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "fetch",
			Name:      "duration_seconds",
			Help:      "End-to-end contract fetch duration",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		}, []string{"chain", "method"}),
	}
}

// RecordRPC records one provider call.
func (m *Metrics) RecordRPC(chain, provider string, err error, d time.Duration) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	m.RPCRequestsTotal.WithLabelValues(chain, provider, outcome).Inc()
	m.RPCDuration.WithLabelValues(chain, provider).Observe(d.Seconds())
}

// RecordRetry records a retry for key.
func (m *Metrics) RecordRetry(key string) {
	if m == nil {
		return
	}
	m.RetryAttemptsTotal.WithLabelValues(key).Inc()
}

// RecordError records a classified error.
func (m *Metrics) RecordError(kind string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(kind).Inc()
}

// RecordBreakerTransition records a breaker entering state.
func (m *Metrics) RecordBreakerTransition(key, state string) {
	if m == nil {
		return
	}
	m.BreakerTransitionsTotal.WithLabelValues(key, state).Inc()
}

// RecordCacheLookup records a cache hit or miss.
func (m *Metrics) RecordCacheLookup(chain string, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookupsTotal.WithLabelValues(chain, result).Inc()
}

// RecordFetch records a completed contract fetch.
func (m *Metrics) RecordFetch(chain, method string, d time.Duration) {
	if m == nil {
		return
	}
	m.FetchResultsTotal.WithLabelValues(chain, method).Inc()
	m.FetchDuration.WithLabelValues(chain, method).Observe(d.Seconds())
}

// RecordProgressDropped counts a dropped progress update.
func (m *Metrics) RecordProgressDropped() {
	if m == nil {
		return
	}
	m.ProgressDroppedTotal.Inc()
}

// SetQueueDepth publishes the queue gauges for chain.
func (m *Metrics) SetQueueDepth(chain string, inFlight, waiting int) {
	if m == nil {
		return
	}
	m.QueueInFlight.WithLabelValues(chain).Set(float64(inFlight))
	m.QueueWaiting.WithLabelValues(chain).Set(float64(waiting))
}

// ObserveQueueWait records how long a request waited for admission.
func (m *Metrics) ObserveQueueWait(chain string, d time.Duration) {
	if m == nil {
		return
	}
	m.QueueWaitDuration.WithLabelValues(chain).Observe(d.Seconds())
}
