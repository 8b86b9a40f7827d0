package rag

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/54b3r/pdfrag-go/internal/apperr"
)

func TestDedupKey_Deterministic(t *testing.T) {
	t.Parallel()

	a := DedupKey("doc.pdf", 2, "warranty text")
	b := DedupKey("doc.pdf", 2, "warranty text")
	assert.Equal(t, a, b)
	assert.Len(t, a, 36)

	assert.NotEqual(t, a, DedupKey("doc.pdf", 3, "warranty text"))
	assert.NotEqual(t, a, DedupKey("other.pdf", 2, "warranty text"))
	assert.NotEqual(t, a, DedupKey("doc.pdf", 2, "warranty text!"))
	// The separator prevents ("a1", 2) and ("a", 12) from colliding.
	assert.NotEqual(t, DedupKey("a1", 2, "x"), DedupKey("a", 12, "x"))
}

func TestMemoryStore_UpsertIsIdempotent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := NewMemoryStore(2)

	c := NewChunk("doc.pdf", 1, "hello")
	c.Vector = []float32{1, 0}
	require.NoError(t, store.Upsert(ctx, []Chunk{c}))
	require.NoError(t, store.Upsert(ctx, []Chunk{c}))
	assert.Equal(t, 1, store.Len())
}

func TestMemoryStore_RejectsWrongDimension(t *testing.T) {
	t.Parallel()
	store := NewMemoryStore(3)
	c := NewChunk("doc.pdf", 1, "hello")
	c.Vector = []float32{1, 0}
	require.Error(t, store.Upsert(context.Background(), []Chunk{c}))
	assert.Equal(t, 0, store.Len())
}

func TestMemoryStore_SearchRanksAndFilters(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := NewMemoryStore(2)

	near := NewChunk("a.pdf", 1, "near")
	near.Vector = []float32{1, 0.1}
	far := NewChunk("a.pdf", 2, "far")
	far.Vector = []float32{0, 1}
	other := NewChunk("b.pdf", 1, "other doc")
	other.Vector = []float32{1, 0}
	require.NoError(t, store.Upsert(ctx, []Chunk{near, far, other}))

	got, err := store.Search(ctx, []float32{1, 0}, SearchOptions{TopK: 2})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "other doc", got[0].Text)
	assert.Equal(t, "near", got[1].Text)

	got, err = store.Search(ctx, []float32{1, 0}, SearchOptions{TopK: 5, DocumentID: "a.pdf"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "near", got[0].Text)
	assert.Equal(t, "far", got[1].Text)
}

func TestMemoryStore_EmptySearch(t *testing.T) {
	t.Parallel()
	got, err := NewMemoryStore(2).Search(context.Background(), []float32{1, 0}, SearchOptions{TopK: 2})
	require.NoError(t, err)
	assert.Empty(t, got)
}

type stubEmbedder struct {
	vec   []float32
	err   error
	delay time.Duration
}

func (s *stubEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.err != nil {
		return nil, s.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = s.vec
	}
	return out, nil
}

func TestRetriever_DefaultsTopKAndObservesSteps(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := NewMemoryStore(2)
	for i, v := range [][]float32{{1, 0}, {0.9, 0.1}, {0, 1}} {
		c := NewChunk("doc.pdf", i+1, "page")
		c.Vector = v
		require.NoError(t, store.Upsert(ctx, []Chunk{c}))
	}

	var steps []string
	r, err := NewRetriever(&stubEmbedder{vec: []float32{1, 0}}, store, &RetrieverConfig{
		Observer: func(step string, _ time.Duration, _ error) { steps = append(steps, step) },
	})
	require.NoError(t, err)

	got, err := r.Retrieve(ctx, "query", SearchOptions{})
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Equal(t, []string{StepEmbed, StepSearch}, steps)
}

func TestRetriever_EmbedTimeoutIsTransient(t *testing.T) {
	t.Parallel()
	r, err := NewRetriever(&stubEmbedder{vec: []float32{1}, delay: time.Second}, NewMemoryStore(1), &RetrieverConfig{
		EmbedTimeout: 10 * time.Millisecond,
	})
	require.NoError(t, err)

	_, err = r.Retrieve(context.Background(), "query", SearchOptions{})
	require.Error(t, err)
	assert.Equal(t, apperr.Transient, apperr.KindOf(err))
}

func TestRetriever_PropagatesEmbedError(t *testing.T) {
	t.Parallel()
	boom := errors.New("invalid api key")
	r, err := NewRetriever(&stubEmbedder{err: boom}, NewMemoryStore(1), nil)
	require.NoError(t, err)

	_, err = r.Retrieve(context.Background(), "query", SearchOptions{})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, apperr.Internal, apperr.KindOf(err))
}

func TestNewRetriever_RejectsNil(t *testing.T) {
	t.Parallel()
	_, err := NewRetriever(nil, NewMemoryStore(1), nil)
	require.Error(t, err)
	_, err = NewRetriever(&stubEmbedder{}, nil, nil)
	require.Error(t, err)
}

// TestPGVectorStore_Integration runs against a live Postgres when
// PGVECTOR_TEST_DSN is set.
func TestPGVectorStore_Integration(t *testing.T) {
	dsn := os.Getenv("PGVECTOR_TEST_DSN")
	if dsn == "" {
		t.Skip("PGVECTOR_TEST_DSN not set")
	}
	ctx := context.Background()
	store, err := NewPGVectorStore(ctx, &PGVectorConfig{DSN: dsn, Table: "pdfrag_test_chunks", VectorSize: 2})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	c := NewChunk("it.pdf", 1, "integration")
	c.Vector = []float32{1, 0}
	require.NoError(t, store.Upsert(ctx, []Chunk{c}))
	require.NoError(t, store.Upsert(ctx, []Chunk{c}))

	got, err := store.Search(ctx, []float32{1, 0}, SearchOptions{TopK: 5, DocumentID: "it.pdf"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, c.DedupKey, got[0].DedupKey)
}

// TestQdrantStore_Integration runs against a live Qdrant when
// QDRANT_TEST_HOST is set (gRPC port 6334).
func TestQdrantStore_Integration(t *testing.T) {
	host := os.Getenv("QDRANT_TEST_HOST")
	if host == "" {
		t.Skip("QDRANT_TEST_HOST not set")
	}
	ctx := context.Background()
	store, err := NewQdrantStore(ctx, &QdrantConfig{Host: host, Collection: "pdfrag_test", VectorSize: 2})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	require.NoError(t, store.Ping(ctx))

	a := NewChunk("it.pdf", 1, "integration")
	a.Vector = []float32{1, 0}
	b := NewChunk("other.pdf", 1, "elsewhere")
	b.Vector = []float32{1, 0.1}
	require.NoError(t, store.Upsert(ctx, []Chunk{a, b}))
	require.NoError(t, store.Upsert(ctx, []Chunk{a}))

	got, err := store.Search(ctx, []float32{1, 0}, SearchOptions{TopK: 5, DocumentID: "it.pdf"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, a.DedupKey, got[0].DedupKey)
	assert.Equal(t, 1, got[0].Page)
}
