package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/54b3r/pdfrag-go/internal/apperr"
	"github.com/54b3r/pdfrag-go/internal/logging"
	"github.com/54b3r/pdfrag-go/internal/rag"
	"github.com/54b3r/pdfrag-go/internal/retrieval"
	"github.com/54b3r/pdfrag-go/internal/store"
)

// sessionHeader carries the session ID when it is not in the query string.
const sessionHeader = "X-Session-ID"

// handleChat handles GET /chat?message=... requests. With a session
// (?session= or X-Session-ID) the turn is counted against the session's
// limit and retrieval is scoped to its document; without one the question
// runs against the whole index, optionally narrowed with ?document=.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	message := q.Get("message")
	sessionID := q.Get("session")
	if sessionID == "" {
		sessionID = r.Header.Get(sessionHeader)
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.ChatTimeout)
	defer cancel()
	ctx, log := logging.With(ctx, "session_id", sessionID)

	s.metrics.chatActiveRequests.Inc()
	defer s.metrics.chatActiveRequests.Dec()
	start := time.Now()

	resp, err := s.chat(ctx, message, sessionID, q.Get("document"))

	outcome := chatOutcome(ctx, err)
	s.metrics.chatRequestsTotal.WithLabelValues(outcome).Inc()
	s.metrics.chatDurationSeconds.WithLabelValues(outcome).Observe(time.Since(start).Seconds())

	if err != nil {
		writeError(ctx, w, err)
		return
	}
	log.Info("chat answered",
		slog.Int("chunks", len(resp.Doc)),
		slog.Duration("elapsed", time.Since(start)),
	)
	writeJSON(ctx, w, http.StatusOK, resp)
}

// chat answers one question, through the session governor when a session
// is named.
func (s *Server) chat(ctx context.Context, message, sessionID, documentID string) (*chatResponse, error) {
	const op = "server.chat"

	if sessionID == "" {
		ans, err := s.deps.Orchestrator.Answer(ctx, retrieval.Query{Text: message, DocumentID: documentID})
		if err != nil {
			return nil, err
		}
		return &chatResponse{Response: ans.Text, Doc: ans.Chunks}, nil
	}

	if s.deps.Sessions == nil {
		return nil, apperr.E(apperr.NotFound, op, "sessions are not enabled", nil)
	}

	var chunks []rag.ScoredChunk
	reply, sess, err := s.deps.Sessions.Turn(ctx, sessionID, message, func(ctx context.Context, sess *store.Session) (string, error) {
		ans, err := s.deps.Orchestrator.Answer(ctx, retrieval.Query{Text: message, DocumentID: sess.DocumentID})
		if err != nil {
			return "", err
		}
		chunks = ans.Chunks
		return ans.Text, nil
	})
	if err != nil {
		return nil, err
	}
	if chunks == nil {
		chunks = []rag.ScoredChunk{}
	}
	return &chatResponse{
		Response:     reply,
		Doc:          chunks,
		SessionID:    sess.ID,
		MessageCount: sess.TurnCount,
		Limit:        sess.TurnLimit,
	}, nil
}

// chatOutcome maps a chat result to its metric label.
func chatOutcome(ctx context.Context, err error) string {
	switch {
	case err == nil:
		return outcomeOK
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return outcomeTimeout
	}
	switch apperr.KindOf(err) {
	case apperr.Validation:
		return outcomeRejected
	case apperr.LimitExceeded:
		return outcomeLimited
	default:
		return outcomeError
	}
}
