package rag

import (
	"context"
	"math"
	"sort"
	"sync"
)

// MemoryStore is an in-process VectorStore using brute-force cosine
// similarity. It backs VECTOR_BACKEND=memory and the package tests.
type MemoryStore struct {
	mu     sync.RWMutex
	dim    int
	chunks map[string]Chunk
}

// NewMemoryStore returns an empty MemoryStore. A dim of zero accepts any
// dimensionality, fixed by the first upsert.
func NewMemoryStore(dim int) *MemoryStore {
	return &MemoryStore{dim: dim, chunks: make(map[string]Chunk)}
}

// Upsert stores or replaces chunks keyed by DedupKey.
func (m *MemoryStore) Upsert(_ context.Context, chunks []Chunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range chunks {
		if m.dim == 0 {
			m.dim = len(c.Vector)
		}
		if err := checkDimension(c, m.dim); err != nil {
			return err
		}
		c.Vector = append([]float32(nil), c.Vector...)
		m.chunks[c.DedupKey] = c
	}
	return nil
}

// Search ranks every stored chunk against vector and returns the top opts.TopK.
func (m *MemoryStore) Search(ctx context.Context, vector []float32, opts SearchOptions) ([]ScoredChunk, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]ScoredChunk, 0, len(m.chunks))
	for _, c := range m.chunks {
		if opts.DocumentID != "" && c.DocumentID != opts.DocumentID {
			continue
		}
		out = append(out, ScoredChunk{Chunk: c, Score: cosine(vector, c.Vector)})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].DedupKey < out[j].DedupKey
	})
	if opts.TopK > 0 && len(out) > opts.TopK {
		out = out[:opts.TopK]
	}
	return out, nil
}

// Len reports how many chunks are stored.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.chunks)
}

// Ping always succeeds.
func (m *MemoryStore) Ping(context.Context) error { return nil }

// Name identifies the store in readiness responses.
func (m *MemoryStore) Name() string { return "memory" }

// Close is a no-op.
func (m *MemoryStore) Close() error { return nil }

func cosine(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}
