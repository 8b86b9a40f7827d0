package server

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/54b3r/pdfrag-go/internal/logging"
)

// TestRequestLogger_GeneratesID verifies that a request without an ID gets
// a fresh one echoed in the response and visible to the handler's logger.
func TestRequestLogger_GeneratesID(t *testing.T) {
	t.Parallel()

	var sawLogger bool
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sawLogger = logging.FromContext(r.Context()) != slog.Default()
		w.WriteHeader(http.StatusTeapot)
	})

	w := httptest.NewRecorder()
	requestLogger(logging.Discard(), inner).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/chat", nil))

	if w.Code != http.StatusTeapot {
		t.Errorf("expected handler status to pass through, got %d", w.Code)
	}
	if id := w.Header().Get(requestIDHeader); len(id) != 36 {
		t.Errorf("expected a generated UUID, got %q", id)
	}
	if !sawLogger {
		t.Error("expected a logger in the request context")
	}
}

// TestRequestLogger_PropagatesID verifies that a caller-supplied ID is
// reused and an oversized one is replaced.
func TestRequestLogger_PropagatesID(t *testing.T) {
	t.Parallel()

	h := requestLogger(logging.Discard(), okHandler)

	req := httptest.NewRequest(http.MethodGet, "/chat", nil)
	req.Header.Set(requestIDHeader, "trace-123")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if got := w.Header().Get(requestIDHeader); got != "trace-123" {
		t.Errorf("expected propagated id, got %q", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/chat", nil)
	long := strings.Repeat("x", maxRequestIDLen+1)
	req.Header.Set(requestIDHeader, long)
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if got := w.Header().Get(requestIDHeader); got == long || got == "" {
		t.Errorf("expected oversized id to be replaced, got %q", got)
	}
}

// TestCORS_Headers verifies that ordinary responses carry the CORS headers.
func TestCORS_Headers(t *testing.T) {
	t.Parallel()

	w := httptest.NewRecorder()
	corsMiddleware(okHandler).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/chat", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Allow-Origin: expected *, got %q", got)
	}
	if got := w.Header().Get("Access-Control-Expose-Headers"); !strings.Contains(got, requestIDHeader) {
		t.Errorf("Expose-Headers: expected %s, got %q", requestIDHeader, got)
	}
}
