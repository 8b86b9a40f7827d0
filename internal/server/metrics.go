package server

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/54b3r/pdfrag-go/internal/rag"
)

// Metric label values shared across registrations.
const (
	// labelHandler is the "handler" label value used to partition metrics by
	// the logical endpoint name rather than the raw URL path.
	labelHandler = "handler"
)

// Chat and upload outcome label values.
const (
	outcomeOK       = "ok"
	outcomeRejected = "rejected"
	outcomeLimited  = "limited"
	outcomeTimeout  = "timeout"
	outcomeError    = "error"
)

// serverMetrics holds all Prometheus metrics owned by the HTTP server.
// A single instance is created in New and stored on Server so that tests can
// inject a fresh prometheus.Registry without polluting the default one.
type serverMetrics struct {
	// uploadsTotal counts POST /upload/pdf requests, partitioned by outcome:
	// "ok", "rejected" (validation) or "error".
	uploadsTotal *prometheus.CounterVec

	// uploadBytes records the size of accepted uploads.
	uploadBytes prometheus.Histogram

	// chatRequestsTotal counts completed /chat requests, partitioned by
	// outcome: "ok", "rejected", "limited", "timeout", or "error".
	chatRequestsTotal *prometheus.CounterVec

	// chatDurationSeconds records the wall-clock duration of each /chat
	// request from receipt to response.
	chatDurationSeconds *prometheus.HistogramVec

	// chatActiveRequests is the number of /chat requests currently in flight.
	chatActiveRequests prometheus.Gauge

	// httpRequestsTotal counts all HTTP requests handled by the mux,
	// partitioned by method, path pattern, and status code.
	httpRequestsTotal *prometheus.CounterVec

	// httpDurationSeconds records the latency of all HTTP requests.
	httpDurationSeconds *prometheus.HistogramVec
}

// newServerMetrics registers all server metrics against reg and returns the
// populated serverMetrics.
func newServerMetrics(reg prometheus.Registerer) *serverMetrics {
	factory := promauto.With(reg)

	return &serverMetrics{
		uploadsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pdfrag",
			Subsystem: "upload",
			Name:      "requests_total",
			Help:      "Total number of PDF uploads, partitioned by outcome.",
		}, []string{"outcome"}),

		uploadBytes: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "pdfrag",
			Subsystem: "upload",
			Name:      "size_bytes",
			Help:      "Size of accepted PDF uploads.",
			Buckets:   prometheus.ExponentialBuckets(16<<10, 4, 6),
		}),

		chatRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pdfrag",
			Subsystem: "chat",
			Name:      "requests_total",
			Help:      "Total number of /chat requests completed, partitioned by outcome.",
		}, []string{"outcome"}),

		chatDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "pdfrag",
			Subsystem: "chat",
			Name:      "duration_seconds",
			Help:      "Wall-clock duration of /chat requests from receipt to response.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"outcome"}),

		chatActiveRequests: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "pdfrag",
			Subsystem: "chat",
			Name:      "active_requests",
			Help:      "Number of /chat requests currently in flight.",
		}),

		httpRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pdfrag",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled by the server, partitioned by method, handler, and status code.",
		}, []string{"method", labelHandler, "code"}),

		httpDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "pdfrag",
			Subsystem: "http",
			Name:      "duration_seconds",
			Help:      "Latency of HTTP requests handled by the server.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", labelHandler}),
	}
}

// NewStepObserver registers pdfrag_chat_step_duration_seconds against reg
// and returns a rag.StepObserver that records the embed, search and
// generate steps of each question into it.
func NewStepObserver(reg prometheus.Registerer) rag.StepObserver {
	steps := promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "pdfrag",
		Subsystem: "chat",
		Name:      "step_duration_seconds",
		Help:      "Latency of each external call made while answering a question.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"step", "outcome"})

	return func(step string, elapsed time.Duration, err error) {
		outcome := outcomeOK
		if err != nil {
			outcome = outcomeError
		}
		steps.WithLabelValues(step, outcome).Observe(elapsed.Seconds())
	}
}
