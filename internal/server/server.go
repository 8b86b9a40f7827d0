// Package server implements the HTTP surface of the PDF assistant: PDF
// upload, grounded chat, stored PDF download, session and document lookups,
// health probes and Prometheus metrics.
// The server is started by the `pdfrag serve` CLI command.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/54b3r/pdfrag-go/internal/logging"
)

// New constructs a Server from the provided collaborators and config.
func New(deps Deps, cfg *Config) (*Server, error) {
	if deps.Gateway == nil {
		return nil, fmt.Errorf("server: gateway must not be nil")
	}
	if deps.Orchestrator == nil {
		return nil, fmt.Errorf("server: orchestrator must not be nil")
	}
	if deps.Objects == nil {
		return nil, fmt.Errorf("server: object store must not be nil")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.ReadTimeout == 0 {
		// Uploads are read in full before the handler returns.
		cfg.ReadTimeout = 60 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 3 * time.Minute
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.ChatTimeout == 0 {
		cfg.ChatTimeout = 2 * time.Minute
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = defaultRateLimit
	}
	if cfg.RateBurst == 0 {
		cfg.RateBurst = defaultRateBurst
	}
	if cfg.MetricsRegistry == nil {
		cfg.MetricsRegistry = prometheus.DefaultRegisterer
	}
	if cfg.MetricsGatherer == nil {
		cfg.MetricsGatherer = prometheus.DefaultGatherer
	}

	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	if cfg.APIKey == "" {
		log.Warn("server: API key not set, /api/* endpoints are unauthenticated")
	}

	s := &Server{
		deps:    deps,
		cfg:     cfg,
		log:     log,
		pingers: cfg.Pingers,
		metrics: newServerMetrics(cfg.MetricsRegistry),
	}

	rl, stopRL := newRateLimiter(cfg.RateLimit, cfg.RateBurst, log)
	s.stopRL = stopRL

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      s.routes(rl),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return s, nil
}

// routes builds the request multiplexer. The public routes keep the paths
// browser clients already use; everything under /api/ except the probes
// sits behind the Bearer token.
func (s *Server) routes(rl *rateLimiter) http.Handler {
	protect := func(h http.HandlerFunc) http.Handler {
		return authMiddleware(s.cfg.APIKey, h)
	}
	limited := func(scope string, h http.HandlerFunc) http.Handler {
		return rl.middleware(scope, h)
	}

	mux := http.NewServeMux()
	mux.Handle("POST /upload/pdf", s.instrument("upload", limited("upload", s.handleUpload)))
	mux.Handle("GET /chat", s.instrument("chat", limited("chat", s.handleChat)))
	mux.Handle("GET /pdf/{filename}", s.instrument("pdf", http.HandlerFunc(s.handlePDF)))

	mux.Handle("GET /api/sessions/{id}", s.instrument("session_get", protect(s.handleSessionGet)))
	mux.Handle("DELETE /api/sessions/{id}", s.instrument("session_reset", protect(s.handleSessionReset)))
	mux.Handle("GET /api/documents/{id}", s.instrument("document_get", protect(s.handleDocumentGet)))

	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/ready", s.handleReady)
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.cfg.MetricsGatherer, promhttp.HandlerOpts{}))

	return requestLogger(s.log, corsMiddleware(mux))
}

// Handler returns the root handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Start begins listening and serving HTTP requests. It blocks until the
// context is cancelled, then performs a graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	defer s.stopRL()

	errCh := make(chan error, 1)

	go func() {
		s.log.Info("server listening", slog.String("addr", "http://"+s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server: listen error: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server: graceful shutdown failed: %w", err)
		}
		s.log.Info("server stopped")
		return nil
	}
}

// handleHealth handles GET /api/health for liveness checks.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(r.Context(), w, http.StatusOK, map[string]string{"status": "ok"})
}

// writeJSON encodes v as the response body with the given status.
func writeJSON(ctx context.Context, w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.FromContext(ctx).Error("response encode error", slog.Any("error", err))
	}
}
