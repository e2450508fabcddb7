package batch

import (
	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	registry           *prometheus.Registry
	generationsTotal   *prometheus.CounterVec
	failuresTotal      *prometheus.CounterVec
	generationDuration *prometheus.HistogramVec
	activeGenerations  prometheus.Gauge
	outputBytesTotal   prometheus.Counter
	batchesTotal       prometheus.Counter
}

func newMetrics() *metrics {
	// Runtime collectors live in the API registry; this one only carries
	// generation metrics so the two can be gathered together.
	registry := prometheus.NewRegistry()

	m := &metrics{
		registry: registry,
		generationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "variantforge_generations_total",
			Help: "Total input/variant generations by outcome.",
		}, []string{"mode", "outcome"}),
		failuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "variantforge_generation_failures_total",
			Help: "Failed generations by failing stage.",
		}, []string{"stage"}),
		generationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "variantforge_generation_duration_seconds",
			Help:    "Duration of one input/variant generation.",
			Buckets: prometheus.DefBuckets,
		}, []string{"mode", "outcome"}),
		activeGenerations: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "variantforge_active_generations",
			Help: "Generations currently running in the pool.",
		}),
		outputBytesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "variantforge_output_bytes_total",
			Help: "Total encoded bytes of admitted full-size outputs.",
		}),
		batchesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "variantforge_batches_total",
			Help: "Total batch runs.",
		}),
	}

	registry.MustRegister(
		m.generationsTotal,
		m.failuresTotal,
		m.generationDuration,
		m.activeGenerations,
		m.outputBytesTotal,
		m.batchesTotal,
	)
	return m
}

func (m *metrics) Gatherer() prometheus.Gatherer {
	return m.registry
}
