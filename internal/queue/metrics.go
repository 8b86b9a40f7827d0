package queue

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// statsTimeout bounds the Stats query run on each scrape.
const statsTimeout = 2 * time.Second

// DepthCollector exports the number of jobs per state as the
// pdfrag_queue_jobs gauge, read from the queue at scrape time.
type DepthCollector struct {
	queue *SQLiteQueue
	desc  *prometheus.Desc
	errs  prometheus.Counter
}

// NewDepthCollector returns a collector for q. Register it with
// prometheus.Registerer.MustRegister.
func NewDepthCollector(q *SQLiteQueue) *DepthCollector {
	return &DepthCollector{
		queue: q,
		desc: prometheus.NewDesc("pdfrag_queue_jobs",
			"Number of ingestion jobs in each queue state.", []string{"state"}, nil),
		errs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pdfrag",
			Subsystem: "queue",
			Name:      "stats_errors_total",
			Help:      "Failed queue depth queries during metric scrapes.",
		}),
	}
}

// Describe implements prometheus.Collector.
func (c *DepthCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.desc
	c.errs.Describe(ch)
}

// Collect implements prometheus.Collector.
func (c *DepthCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), statsTimeout)
	defer cancel()

	stats, err := c.queue.Stats(ctx)
	if err != nil {
		c.errs.Inc()
	} else {
		for state, n := range stats {
			ch <- prometheus.MustNewConstMetric(c.desc, prometheus.GaugeValue, float64(n), string(state))
		}
	}
	c.errs.Collect(ch)
}
