package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	namespace = "zuid"
	subsystem = "registry"

	// allocation result label
	CreatedResultLabel = "created"
	FoundResultLabel   = "found"
	FailResultLabel    = "fail"

	registryLabelName = "registry"
	resultLabelName   = "result"
	providerLabelName = "provider"
)

// Metrics owns the collectors of one server and the registry they are
// exposed from.
type Metrics struct {
	registry *prometheus.Registry

	allocationCountVec   *prometheus.CounterVec
	allocationLatencyVec *prometheus.HistogramVec
	sequenceCountVec     *prometheus.CounterVec
	storageFailCountVec  *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		allocationCountVec: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "allocation_total",
				Help:      "registry allocation count",
			}, []string{registryLabelName, resultLabelName}),

		allocationLatencyVec: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "allocation_latency_seconds",
				Help:      "registry allocation latency, lock wait included",
				Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 16),
			}, []string{resultLabelName}),

		sequenceCountVec: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "sequence",
				Name:      "next_total",
				Help:      "sequence ids handed out",
			}, []string{providerLabelName, resultLabelName}),

		storageFailCountVec: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "storage",
				Name:      "fail_total",
				Help:      "records that could not be mirrored into audit storage",
			}, []string{providerLabelName}),
	}
	m.registry.MustRegister(m.allocationCountVec)
	m.registry.MustRegister(m.allocationLatencyVec)
	m.registry.MustRegister(m.sequenceCountVec)
	m.registry.MustRegister(m.storageFailCountVec)
	return m
}

// ObserveAllocation records one allocation call.
func (m *Metrics) ObserveAllocation(registry, result string, elapsed time.Duration) {
	m.allocationCountVec.WithLabelValues(registry, result).Inc()
	m.allocationLatencyVec.WithLabelValues(result).Observe(elapsed.Seconds())
}

// ObserveSequence records one sequence call.
func (m *Metrics) ObserveSequence(provider string, err error) {
	result := CreatedResultLabel
	if err != nil {
		result = FailResultLabel
	}
	m.sequenceCountVec.WithLabelValues(provider, result).Inc()
}

// ObserveStorageFailure records a record that was not mirrored.
func (m *Metrics) ObserveStorageFailure(provider string) {
	m.storageFailCountVec.WithLabelValues(provider).Inc()
}

// Handler serves the collectors in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Gatherer exposes the underlying registry, mostly for tests.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	return m.registry
}
