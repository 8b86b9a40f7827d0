package session

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/54b3r/pdfrag-go/internal/apperr"
	"github.com/54b3r/pdfrag-go/internal/store"
)

func newGovernor(t *testing.T, limit int) *Governor {
	t.Helper()
	db, err := store.OpenDB(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	st, err := store.New(db)
	require.NoError(t, err)
	return New(st, limit)
}

func echo(calls *int) AnswerFunc {
	return func(_ context.Context, sess *store.Session) (string, error) {
		*calls++
		return fmt.Sprintf("answer %d", sess.TurnCount), nil
	}
}

func TestGovernor_SixthTurnRejectedWithoutAnswering(t *testing.T) {
	g := newGovernor(t, 0)
	ctx := context.Background()
	sess, err := g.Create(ctx, "1-a-manual.pdf", "manual.pdf")
	require.NoError(t, err)
	assert.Equal(t, DefaultLimit, sess.TurnLimit)

	calls := 0
	for i := 1; i <= 5; i++ {
		reply, s, err := g.Turn(ctx, sess.ID, "question", echo(&calls))
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("answer %d", i), reply)
		assert.Equal(t, i, s.TurnCount)
	}

	_, _, err = g.Turn(ctx, sess.ID, "one more", echo(&calls))
	assert.True(t, errors.Is(err, apperr.ErrLimitExceeded))
	assert.Equal(t, 5, calls, "rejected turn must not reach retrieval")

	view, err := g.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, view.TurnCount)
	require.Len(t, view.Messages, 10)
	assert.Equal(t, store.RoleUser, view.Messages[0].Role)
	assert.Equal(t, store.RoleAssistant, view.Messages[1].Role)
}

func TestGovernor_EmptyMessageNotCounted(t *testing.T) {
	g := newGovernor(t, 2)
	ctx := context.Background()
	sess, err := g.Create(ctx, "doc", "doc.pdf")
	require.NoError(t, err)

	calls := 0
	_, _, err = g.Turn(ctx, sess.ID, "   ", echo(&calls))
	assert.Equal(t, apperr.Validation, apperr.KindOf(err))

	view, err := g.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, view.TurnCount)
	assert.Zero(t, calls)
}

func TestGovernor_FailedAnswerStillCounts(t *testing.T) {
	g := newGovernor(t, 2)
	ctx := context.Background()
	sess, err := g.Create(ctx, "doc", "doc.pdf")
	require.NoError(t, err)

	boom := apperr.E(apperr.Transient, "retrieval", "", errors.New("model down"))
	_, s, err := g.Turn(ctx, sess.ID, "q", func(context.Context, *store.Session) (string, error) { return "", boom })
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 1, s.TurnCount)

	view, err := g.Get(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, view.Messages, 1, "only the user message is recorded")
}

func TestGovernor_ResetDiscardsSession(t *testing.T) {
	g := newGovernor(t, 1)
	ctx := context.Background()
	sess, err := g.Create(ctx, "doc", "doc.pdf")
	require.NoError(t, err)

	calls := 0
	_, _, err = g.Turn(ctx, sess.ID, "q", echo(&calls))
	require.NoError(t, err)
	require.NoError(t, g.Reset(ctx, sess.ID))

	_, _, err = g.Turn(ctx, sess.ID, "q", echo(&calls))
	assert.Equal(t, apperr.NotFound, apperr.KindOf(err), "reset requires a new upload")
	_, err = g.Get(ctx, sess.ID)
	assert.Equal(t, apperr.NotFound, apperr.KindOf(err))

	fresh, err := g.Create(ctx, "doc2", "other.pdf")
	require.NoError(t, err)
	assert.NotEqual(t, sess.ID, fresh.ID)
	_, _, err = g.Turn(ctx, fresh.ID, "q", echo(&calls))
	require.NoError(t, err)
}
