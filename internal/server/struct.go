package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/afero"

	"github.com/54b3r/pdfrag-go/internal/gateway"
	"github.com/54b3r/pdfrag-go/internal/queue"
	"github.com/54b3r/pdfrag-go/internal/rag"
	"github.com/54b3r/pdfrag-go/internal/retrieval"
	"github.com/54b3r/pdfrag-go/internal/session"
	"github.com/54b3r/pdfrag-go/internal/store"
)

// Config holds the HTTP server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1).
	Host string
	// Port is the TCP port to listen on (default: 8080).
	Port int
	// ReadTimeout is the maximum duration for reading the request, upload included.
	ReadTimeout time.Duration
	// WriteTimeout is the maximum duration for writing the response.
	WriteTimeout time.Duration
	// ShutdownTimeout is the maximum duration for a graceful shutdown.
	ShutdownTimeout time.Duration
	// ChatTimeout bounds a whole /chat request (embed + search + generate).
	// Defaults to 2m if zero.
	ChatTimeout time.Duration
	// Logger is the structured logger used by the server and its handlers.
	// If nil, [slog.Default] is used.
	Logger *slog.Logger
	// Pingers is the ordered list of dependency probes run by GET /api/ready.
	// If empty, /api/ready returns 200 with no checks (liveness-only mode).
	Pingers []Pinger
	// RateLimit is the sustained request rate allowed per IP on rate-limited
	// endpoints (requests/second). Defaults to 10 if zero.
	RateLimit float64
	// RateBurst is the maximum instantaneous burst per IP. Defaults to 20 if zero.
	RateBurst int
	// APIKey is the Bearer token required on all protected /api/* routes.
	// If empty, authentication is disabled (development mode).
	APIKey string
	// MetricsRegistry is where server metrics are registered.
	// Defaults to prometheus.DefaultRegisterer.
	MetricsRegistry prometheus.Registerer
	// MetricsGatherer is exposed on GET /metrics.
	// Defaults to prometheus.DefaultGatherer.
	MetricsGatherer prometheus.Gatherer
}

// uploader is the interface handleUpload calls. *gateway.Gateway satisfies it.
type uploader interface {
	Upload(ctx context.Context, req gateway.Request) (*gateway.Result, error)
	MaxBytes() int64
}

// answerer is the interface handleChat calls. *retrieval.Orchestrator
// satisfies it; tests inject a fake.
type answerer interface {
	Answer(ctx context.Context, q retrieval.Query) (*retrieval.Answer, error)
}

// governor gates chat turns on a session. *session.Governor satisfies it.
type governor interface {
	Get(ctx context.Context, id string) (*session.View, error)
	Turn(ctx context.Context, id, text string, answer session.AnswerFunc) (string, *store.Session, error)
	Reset(ctx context.Context, id string) error
}

// documentReader looks up document metadata. *store.SQLiteStore satisfies it.
type documentReader interface {
	GetDocument(ctx context.Context, id string) (*store.Document, error)
}

// jobReader looks up ingestion jobs. *queue.SQLiteQueue satisfies it.
type jobReader interface {
	Get(ctx context.Context, id string) (*queue.Job, error)
}

// objectOpener reads stored PDFs. *objectstore.Store satisfies it.
type objectOpener interface {
	Open(name string) (afero.File, error)
}

// Deps are the collaborators behind the HTTP surface. Gateway, Orchestrator
// and Objects are required; the rest disable their routes when nil.
type Deps struct {
	Gateway      uploader
	Orchestrator answerer
	Objects      objectOpener
	Sessions     governor
	Documents    documentReader
	Jobs         jobReader
}

// Server is the HTTP server in front of the upload gateway and the
// retrieval orchestrator.
type Server struct {
	// deps holds the handlers' collaborators.
	deps Deps
	// cfg holds the resolved server configuration.
	cfg *Config
	// httpServer is the underlying net/http server.
	httpServer *http.Server
	// log is the structured logger for this server instance.
	log *slog.Logger
	// pingers is the ordered list of dependency probes for GET /api/ready.
	pingers []Pinger
	// stopRL stops the rate limiter's background eviction goroutine on shutdown.
	stopRL func()
	// metrics holds all Prometheus instruments for this server instance.
	metrics *serverMetrics
}

// errorResponse is the JSON body of every non-2xx response.
type errorResponse struct {
	// Message is safe to show to end users.
	Message string `json:"message"`
	// Hint names the action that clears the error, e.g. "reset".
	Hint string `json:"hint,omitempty"`
}

// uploadData is the data member of a successful upload response.
type uploadData struct {
	// Filename is the stored name, also the documentId.
	Filename string `json:"filename"`
	// URL is where GET /pdf/{filename} serves the document.
	URL string `json:"url"`
	// DocumentID identifies the document in retrieval and session calls.
	DocumentID string `json:"documentId"`
	// JobID identifies the ingestion job.
	JobID string `json:"jobId"`
	// SessionID is the chat session opened for the document.
	SessionID string `json:"sessionId,omitempty"`
}

// uploadResponse is the JSON response for POST /upload/pdf.
type uploadResponse struct {
	Message string     `json:"message"`
	Data    uploadData `json:"data"`
}

// chatResponse is the JSON response for GET /chat.
type chatResponse struct {
	// Response is the grounded answer.
	Response string `json:"response"`
	// Doc is the retrieved provenance, best match first.
	Doc []rag.ScoredChunk `json:"doc"`
	// SessionID echoes the governing session, if any.
	SessionID string `json:"sessionId,omitempty"`
	// MessageCount is the number of user turns used so far.
	MessageCount int `json:"messageCount,omitempty"`
	// Limit is the session's turn limit.
	Limit int `json:"limit,omitempty"`
}

// documentResponse is the JSON response for GET /api/documents/{id}.
type documentResponse struct {
	*store.Document
	// Job is the ingestion job state, when known.
	Job *queue.Job `json:"job,omitempty"`
}
