package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the engine's counters, labeled by source. An external
// collector scrapes them from the admin server; nothing in the engine
// consumes them.
type Metrics struct {
	reg *prometheus.Registry

	recordsIngested *prometheus.CounterVec
	recordsDropped  *prometheus.CounterVec
	batchesWritten  *prometheus.CounterVec
	sinkRetries     *prometheus.CounterVec
	deadLettered    *prometheus.CounterVec
	checkpointLag   *prometheus.GaugeVec
}

func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		recordsIngested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sluice",
			Name:      "records_ingested_total",
			Help:      "Records pulled from a source.",
		}, []string{"source"}),
		recordsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sluice",
			Name:      "records_dropped_total",
			Help:      "Records dropped by the transform chain or schema resolver.",
		}, []string{"source"}),
		batchesWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sluice",
			Name:      "batches_written_total",
			Help:      "Batches acknowledged by the sink.",
		}, []string{"source"}),
		sinkRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sluice",
			Name:      "sink_retries_total",
			Help:      "Failed sink write attempts that were retried.",
		}, []string{"source"}),
		deadLettered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sluice",
			Name:      "dead_letter_batches_total",
			Help:      "Batches routed to the dead-letter sink after retry exhaustion.",
		}, []string{"source"}),
		checkpointLag: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "sluice",
			Name:      "checkpoint_lag",
			Help:      "Last pulled offset minus last committed offset.",
		}, []string{"source"}),
	}
	m.reg.MustRegister(
		m.recordsIngested,
		m.recordsDropped,
		m.batchesWritten,
		m.sinkRetries,
		m.deadLettered,
		m.checkpointLag,
	)
	return m
}

// Registry exposes the underlying registry for the /metrics endpoint.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

func (m *Metrics) RecordIngested(source string)  { m.recordsIngested.WithLabelValues(source).Inc() }
func (m *Metrics) RecordDropped(source string)   { m.recordsDropped.WithLabelValues(source).Inc() }
func (m *Metrics) BatchWritten(source string)    { m.batchesWritten.WithLabelValues(source).Inc() }
func (m *Metrics) SinkRetry(source string)       { m.sinkRetries.WithLabelValues(source).Inc() }
func (m *Metrics) DeadLettered(source string)    { m.deadLettered.WithLabelValues(source).Inc() }

func (m *Metrics) SetCheckpointLag(source string, lag float64) {
	m.checkpointLag.WithLabelValues(source).Set(lag)
}

// SinkRetries reports the retry counter for a source; used by tests and the
// status endpoint.
func (m *Metrics) SinkRetries(source string) prometheus.Counter {
	return m.sinkRetries.WithLabelValues(source)
}

// RecordsDropped reports the drop counter for a source.
func (m *Metrics) RecordsDropped(source string) prometheus.Counter {
	return m.recordsDropped.WithLabelValues(source)
}
