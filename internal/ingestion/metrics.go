package ingestion

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Job outcome label values.
const (
	outcomeCompleted    = "completed"
	outcomeRetried      = "retried"
	outcomeDeadLettered = "dead_lettered"
	outcomeLeaseLost    = "lease_lost"
)

// Metrics holds the Prometheus metrics owned by the worker pool. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	// jobsTotal counts processed jobs, partitioned by outcome.
	jobsTotal *prometheus.CounterVec

	// jobDurationSeconds records the wall-clock time of each job attempt.
	jobDurationSeconds *prometheus.HistogramVec

	// chunksUpserted counts chunks written to the vector index.
	chunksUpserted prometheus.Counter

	// activeJobs is the number of jobs currently being processed.
	activeJobs prometheus.Gauge
}

// NewMetrics registers the ingestion metrics against reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		jobsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pdfrag",
			Subsystem: "ingest",
			Name:      "jobs_total",
			Help:      "Ingestion job attempts, partitioned by outcome.",
		}, []string{"outcome"}),

		jobDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "pdfrag",
			Subsystem: "ingest",
			Name:      "job_duration_seconds",
			Help:      "Wall-clock duration of ingestion job attempts.",
			Buckets:   []float64{0.5, 1, 5, 10, 30, 60, 120, 300},
		}, []string{"outcome"}),

		chunksUpserted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "pdfrag",
			Subsystem: "ingest",
			Name:      "chunks_upserted_total",
			Help:      "Chunks upserted into the vector index.",
		}),

		activeJobs: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "pdfrag",
			Subsystem: "ingest",
			Name:      "active_jobs",
			Help:      "Ingestion jobs currently being processed.",
		}),
	}
}

func (m *Metrics) observe(outcome string, seconds float64, chunks int) {
	if m == nil {
		return
	}
	m.jobsTotal.WithLabelValues(outcome).Inc()
	m.jobDurationSeconds.WithLabelValues(outcome).Observe(seconds)
	if chunks > 0 {
		m.chunksUpserted.Add(float64(chunks))
	}
}

func (m *Metrics) active(delta float64) {
	if m == nil {
		return
	}
	m.activeJobs.Add(delta)
}
