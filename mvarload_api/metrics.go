package mvarload_api

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the counters of one run in its own registry.
type Metrics struct {
	Registry *prometheus.Registry

	VariantsParsed   prometheus.Counter
	VariantsInserted prometheus.Counter
	VariantsLinked   prometheus.Counter
	RelationshipRows *prometheus.CounterVec
	BatchesCommitted *prometheus.CounterVec
	BatchDuration    *prometheus.HistogramVec
}

func NewMetrics() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		VariantsParsed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mvarload_variants_parsed_total",
			Help: "Distinct variants parsed from input files.",
		}),
		VariantsInserted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mvarload_variants_inserted_total",
			Help: "Variants inserted with a new canonical identifier.",
		}),
		VariantsLinked: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mvarload_variants_linked_total",
			Help: "Variants already stored and only linked.",
		}),
		RelationshipRows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mvarload_relationship_rows_total",
			Help: "Relationship rows written by the materialize jobs.",
		}, []string{"job"}),
		BatchesCommitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mvarload_batches_committed_total",
			Help: "Committed batch transactions.",
		}, []string{"job"}),
		BatchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mvarload_batch_duration_seconds",
			Help:    "Duration of one batch transaction.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"job"}),
	}
	m.Registry.MustRegister(
		m.VariantsParsed, m.VariantsInserted, m.VariantsLinked,
		m.RelationshipRows, m.BatchesCommitted, m.BatchDuration,
	)
	return m
}

// observeBatch records one committed batch of job.
func (m *Metrics) observeBatch(job string, started time.Time) {
	m.BatchesCommitted.WithLabelValues(job).Inc()
	m.BatchDuration.WithLabelValues(job).Observe(time.Since(started).Seconds())
}

// WriteFile writes the registry in the textfile collector format.
func (m *Metrics) WriteFile(path string) error {
	if path == "" {
		return nil
	}
	return prometheus.WriteToTextfile(path, m.Registry)
}
