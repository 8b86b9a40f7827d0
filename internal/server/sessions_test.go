package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/54b3r/pdfrag-go/internal/session"
)

func TestSessionRoutes_GetAndReset(t *testing.T) {
	t.Parallel()

	st := newStack(t, 0)
	data := st.uploadManual(t)
	if w := st.do(chatRequest("How long is the warranty?", data.SessionID)); w.Code != http.StatusOK {
		t.Fatalf("chat: expected 200, got %d", w.Code)
	}

	w := st.do(httptest.NewRequest(http.MethodGet, "/api/sessions/"+data.SessionID, nil))
	if w.Code != http.StatusOK {
		t.Fatalf("get: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var view session.View
	decode(t, w.Body, &view)
	if view.TurnCount != 1 || len(view.Messages) != 2 {
		t.Errorf("expected 1 turn and 2 messages, got %d and %d", view.TurnCount, len(view.Messages))
	}
	if view.DocumentID != data.DocumentID {
		t.Errorf("documentId: got %q", view.DocumentID)
	}

	w = st.do(httptest.NewRequest(http.MethodDelete, "/api/sessions/"+data.SessionID, nil))
	if w.Code != http.StatusOK {
		t.Fatalf("reset: expected 200, got %d", w.Code)
	}
	if w := st.do(chatRequest("How long is the warranty?", data.SessionID)); w.Code != http.StatusNotFound {
		t.Errorf("chat after reset: expected 404, got %d", w.Code)
	}
	if w := st.do(httptest.NewRequest(http.MethodDelete, "/api/sessions/"+data.SessionID, nil)); w.Code != http.StatusNotFound {
		t.Errorf("second reset: expected 404, got %d", w.Code)
	}
}

func TestDocumentRoute_IncludesJob(t *testing.T) {
	t.Parallel()

	st := newStack(t, 0)
	data := st.uploadManual(t)

	w := st.do(httptest.NewRequest(http.MethodGet, "/api/documents/"+data.DocumentID, nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		DocumentID string `json:"documentId"`
		Job        *struct {
			ID    string `json:"id"`
			State string `json:"state"`
		} `json:"job"`
	}
	decode(t, w.Body, &resp)
	if resp.DocumentID != data.DocumentID {
		t.Errorf("documentId: got %q", resp.DocumentID)
	}
	if resp.Job == nil || resp.Job.ID != data.JobID || resp.Job.State != "pending" {
		t.Errorf("job: got %+v", resp.Job)
	}

	if w := st.do(httptest.NewRequest(http.MethodGet, "/api/documents/missing", nil)); w.Code != http.StatusNotFound {
		t.Errorf("missing document: expected 404, got %d", w.Code)
	}
}

func TestProtectedRoutes_RequireKey(t *testing.T) {
	t.Parallel()

	st := newStack(t, 0)
	st.srv.cfg.APIKey = "secret"
	rl, stop := newRateLimiter(1000, 1000, st.srv.log)
	t.Cleanup(stop)
	h := st.srv.routes(rl)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/sessions/abc", nil))
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}

	// The public chat route stays open.
	w = httptest.NewRecorder()
	h.ServeHTTP(w, chatRequest("hello there", ""))
	if w.Code != http.StatusOK {
		t.Errorf("chat: expected 200, got %d", w.Code)
	}
}
