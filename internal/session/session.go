// Package session enforces the per-document chat turn limit. A session is
// created for each upload; every accepted user turn consumes one unit of the
// limit before the question reaches retrieval, so a session that has used
// all of its turns never costs a model call. Reset discards the session and
// a new upload is needed to start another.
package session

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/54b3r/pdfrag-go/internal/apperr"
	"github.com/54b3r/pdfrag-go/internal/config"
	"github.com/54b3r/pdfrag-go/internal/store"
)

// DefaultLimit is the number of user turns a session accepts.
const DefaultLimit = 5

// Store is the persistence the Governor needs. *store.SQLiteStore satisfies it.
type Store interface {
	CreateSession(ctx context.Context, sess *store.Session) error
	GetSession(ctx context.Context, id string) (*store.Session, error)
	ReserveTurn(ctx context.Context, sessionID, content string) (*store.Session, error)
	Append(ctx context.Context, sessionID string, role store.Role, content string) error
	Messages(ctx context.Context, sessionID string) ([]store.Message, error)
	DeleteSession(ctx context.Context, sessionID string) error
}

// AnswerFunc produces the assistant reply for an accepted turn. It receives
// the session after the turn was counted.
type AnswerFunc func(ctx context.Context, sess *store.Session) (string, error)

// View is a session together with its message history.
type View struct {
	store.Session
	Messages []store.Message `json:"messages"`
}

// Governor creates sessions and gates user turns on them.
type Governor struct {
	store Store
	limit int
}

// New returns a Governor allowing limit user turns per session.
// A non-positive limit selects DefaultLimit.
func New(st Store, limit int) *Governor {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Governor{store: st, limit: limit}
}

// LimitFromEnv reads SESSION_MESSAGE_LIMIT.
func LimitFromEnv() (int, error) {
	return config.Int("SESSION_MESSAGE_LIMIT", DefaultLimit)
}

// Limit returns the per-session turn limit.
func (g *Governor) Limit() int { return g.limit }

// Create starts a session for a freshly uploaded document.
func (g *Governor) Create(ctx context.Context, documentID, pdfName string) (*store.Session, error) {
	sess := &store.Session{
		ID:         uuid.NewString(),
		DocumentID: documentID,
		PDFName:    pdfName,
		TurnLimit:  g.limit,
	}
	if err := g.store.CreateSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("session: create: %w", err)
	}
	return sess, nil
}

// Get returns the session and its messages, oldest first.
func (g *Governor) Get(ctx context.Context, id string) (*View, error) {
	sess, err := g.store.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	msgs, err := g.store.Messages(ctx, id)
	if err != nil {
		return nil, err
	}
	return &View{Session: *sess, Messages: msgs}, nil
}

// Turn accepts one user message. It fails with apperr.Validation for an
// empty message, apperr.NotFound for an unknown session and
// apperr.LimitExceeded once the session has used every turn; in all three
// cases answer is not called. A turn stays counted when answer fails. On
// success the reply is appended to the session and returned.
func (g *Governor) Turn(ctx context.Context, id, text string, answer AnswerFunc) (string, *store.Session, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", nil, apperr.Validationf("session.turn", "message must not be empty")
	}
	sess, err := g.store.ReserveTurn(ctx, id, text)
	if err != nil {
		return "", nil, err
	}

	reply, err := answer(ctx, sess)
	if err != nil {
		return "", sess, err
	}
	if err := g.store.Append(ctx, id, store.RoleAssistant, reply); err != nil {
		return "", sess, fmt.Errorf("session: record reply: %w", err)
	}
	return reply, sess, nil
}

// Reset discards the session and its history.
func (g *Governor) Reset(ctx context.Context, id string) error {
	return g.store.DeleteSession(ctx, id)
}
