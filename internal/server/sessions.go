package server

import (
	"net/http"

	"github.com/54b3r/pdfrag-go/internal/apperr"
)

// handleSessionGet handles GET /api/sessions/{id}, returning the session's
// counters and transcript.
func (s *Server) handleSessionGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if s.deps.Sessions == nil {
		writeError(ctx, w, apperr.E(apperr.NotFound, "server.session_get", "sessions are not enabled", nil))
		return
	}
	view, err := s.deps.Sessions.Get(ctx, r.PathValue("id"))
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(ctx, w, http.StatusOK, view)
}

// handleSessionReset handles DELETE /api/sessions/{id}. The session and its
// transcript are discarded; chatting again requires a new upload.
func (s *Server) handleSessionReset(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if s.deps.Sessions == nil {
		writeError(ctx, w, apperr.E(apperr.NotFound, "server.session_reset", "sessions are not enabled", nil))
		return
	}
	if err := s.deps.Sessions.Reset(ctx, r.PathValue("id")); err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(ctx, w, http.StatusOK, map[string]string{"message": "session reset"})
}

// handleDocumentGet handles GET /api/documents/{id}, returning the upload
// metadata and, when known, the state of its ingestion job.
func (s *Server) handleDocumentGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if s.deps.Documents == nil {
		writeError(ctx, w, apperr.E(apperr.NotFound, "server.document_get", "document lookup is not enabled", nil))
		return
	}
	doc, err := s.deps.Documents.GetDocument(ctx, r.PathValue("id"))
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	resp := documentResponse{Document: doc}
	if s.deps.Jobs != nil && doc.JobID != "" {
		job, err := s.deps.Jobs.Get(ctx, doc.JobID)
		if err != nil && apperr.KindOf(err) != apperr.NotFound {
			writeError(ctx, w, err)
			return
		}
		resp.Job = job
	}
	writeJSON(ctx, w, http.StatusOK, resp)
}
