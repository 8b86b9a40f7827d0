// Package rag defines the retrieval-augmented generation building blocks:
// the Chunk unit stored in the vector index, the Embedder and VectorStore
// interfaces, and the Retriever that combines them for query-time lookup.
// Concrete backends (Qdrant, pgvector, in-memory) satisfy VectorStore so the
// ingestion worker and the retrieval orchestrator never depend on one.
package rag

import (
	"context"
	"strconv"

	"github.com/google/uuid"
)

// dedupNamespace scopes UUIDv5 dedup keys to this application so they never
// collide with point IDs written by other tools into a shared collection.
var dedupNamespace = uuid.MustParse("8f6b2a1e-3c4d-5e6f-8a9b-0c1d2e3f4a5b")

// Chunk is one indexed unit of document text (one page) plus its vector.
type Chunk struct {
	// DedupKey is the deterministic identity of the chunk; see [DedupKey].
	// Upserts are keyed by it so redelivered jobs overwrite, not duplicate.
	DedupKey string `json:"id"`

	// DocumentID is the stored name of the source document.
	DocumentID string `json:"documentId"`

	// Page is the 1-based page number the text was extracted from.
	Page int `json:"page"`

	// Text is the extracted page text.
	Text string `json:"text"`

	// Vector is the embedding of Text. Omitted from provenance responses.
	Vector []float32 `json:"-"`
}

// ScoredChunk is a Chunk returned by a similarity search.
type ScoredChunk struct {
	Chunk

	// Score is the similarity score assigned by the index (cosine, higher is closer).
	Score float32 `json:"score"`
}

// NewChunk builds a Chunk for the given page and derives its DedupKey.
func NewChunk(documentID string, page int, text string) Chunk {
	return Chunk{
		DedupKey:   DedupKey(documentID, page, text),
		DocumentID: documentID,
		Page:       page,
		Text:       text,
	}
}

// DedupKey returns the deterministic hash of (documentID, page, text) as a
// UUIDv5 string, which is a valid point ID for every supported backend.
func DedupKey(documentID string, page int, text string) string {
	data := make([]byte, 0, len(documentID)+len(text)+16)
	data = append(data, documentID...)
	data = append(data, 0)
	data = strconv.AppendInt(data, int64(page), 10)
	data = append(data, 0)
	data = append(data, text...)
	return uuid.NewSHA1(dedupNamespace, data).String()
}

// SearchOptions narrows a similarity search.
type SearchOptions struct {
	// TopK is the maximum number of chunks to return.
	TopK int

	// DocumentID, when non-empty, restricts results to one document.
	DocumentID string
}

// VectorStore is the interface for persisting and searching chunk embeddings
// within one named collection.
// Implementations must be safe to call from multiple goroutines.
type VectorStore interface {
	// Upsert stores or replaces chunks keyed by their DedupKey. Every chunk
	// must carry a vector of the collection's dimensionality.
	Upsert(ctx context.Context, chunks []Chunk) error

	// Search returns up to opts.TopK chunks nearest to vector, closest first.
	// An empty collection yields an empty slice and no error.
	Search(ctx context.Context, vector []float32, opts SearchOptions) ([]ScoredChunk, error)

	// Close releases any resources held by the store.
	Close() error
}

// Embedder is the interface for converting text into dense vector embeddings.
// Implementations must be safe to call from multiple goroutines.
type Embedder interface {
	// Embed converts a batch of texts into their corresponding embeddings.
	// The returned slice is parallel to the input slice.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Retriever is the high-level interface used by the orchestrator to fetch
// the chunks relevant to a query. It combines embedding and vector search.
// Implementations must be safe to call from multiple goroutines.
type Retriever interface {
	// Retrieve returns the chunks most relevant to query.
	Retrieve(ctx context.Context, query string, opts SearchOptions) ([]ScoredChunk, error)
}
