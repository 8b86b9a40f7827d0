package rag

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/54b3r/pdfrag-go/internal/apperr"
	"github.com/54b3r/pdfrag-go/internal/tracing"
)

// Step names reported to a StepObserver.
const (
	StepEmbed  = "embed"
	StepSearch = "search"
)

// StepObserver is notified after each external call made by the retriever.
type StepObserver func(step string, elapsed time.Duration, err error)

// RetrieverConfig holds the tunables for a DefaultRetriever.
type RetrieverConfig struct {
	// DefaultTopK is used when Retrieve is called with TopK <= 0. Defaults to 2.
	DefaultTopK int
	// EmbedTimeout bounds the query embedding call. Defaults to 30s.
	EmbedTimeout time.Duration
	// SearchTimeout bounds the vector search call. Defaults to 10s.
	SearchTimeout time.Duration
	// Observer, if set, receives per-step latency and outcome.
	Observer StepObserver
}

// DefaultRetriever implements Retriever by combining an Embedder and a
// VectorStore. Each of the two calls runs under its own timeout derived from
// the caller's context, so cancelling the request cancels whichever is in flight.
type DefaultRetriever struct {
	// embedder converts query text to a dense vector.
	embedder Embedder
	// store performs the vector similarity search.
	store VectorStore
	// cfg holds the resolved tunables.
	cfg RetrieverConfig
}

// NewRetriever constructs a DefaultRetriever from the given Embedder and VectorStore.
func NewRetriever(embedder Embedder, store VectorStore, cfg *RetrieverConfig) (*DefaultRetriever, error) {
	if embedder == nil {
		return nil, fmt.Errorf("rag: embedder must not be nil")
	}
	if store == nil {
		return nil, fmt.Errorf("rag: store must not be nil")
	}
	resolved := RetrieverConfig{}
	if cfg != nil {
		resolved = *cfg
	}
	if resolved.DefaultTopK <= 0 {
		resolved.DefaultTopK = 2
	}
	if resolved.EmbedTimeout <= 0 {
		resolved.EmbedTimeout = 30 * time.Second
	}
	if resolved.SearchTimeout <= 0 {
		resolved.SearchTimeout = 10 * time.Second
	}
	if resolved.Observer == nil {
		resolved.Observer = func(string, time.Duration, error) {}
	}
	return &DefaultRetriever{embedder: embedder, store: store, cfg: resolved}, nil
}

// Retrieve embeds the query and returns the nearest chunks. Provider
// failures are classified (Transient when retryable) but never retried here.
func (r *DefaultRetriever) Retrieve(ctx context.Context, query string, opts SearchOptions) ([]ScoredChunk, error) {
	if opts.TopK <= 0 {
		opts.TopK = r.cfg.DefaultTopK
	}

	vector, err := r.embedQuery(ctx, query)
	if err != nil {
		return nil, err
	}

	spanCtx, span := tracing.Start(ctx, "rag.search", attribute.Int("search.top_k", opts.TopK))
	searchCtx, cancel := context.WithTimeout(spanCtx, r.cfg.SearchTimeout)
	defer cancel()
	start := time.Now()
	chunks, err := r.store.Search(searchCtx, vector, opts)
	r.cfg.Observer(StepSearch, time.Since(start), err)
	tracing.End(span, err)
	if err != nil {
		return nil, apperr.Classify("rag.search", fmt.Errorf("rag: vector search failed: %w", err))
	}

	return chunks, nil
}

// embedQuery embeds a single query string under the embed timeout.
func (r *DefaultRetriever) embedQuery(ctx context.Context, query string) ([]float32, error) {
	spanCtx, span := tracing.Start(ctx, "rag.embed")
	embedCtx, cancel := context.WithTimeout(spanCtx, r.cfg.EmbedTimeout)
	defer cancel()

	start := time.Now()
	embeddings, err := r.embedder.Embed(embedCtx, []string{query})
	r.cfg.Observer(StepEmbed, time.Since(start), err)
	tracing.End(span, err)
	if err != nil {
		return nil, apperr.Classify("rag.embed", fmt.Errorf("rag: embedding query failed: %w", err))
	}
	if len(embeddings) == 0 || len(embeddings[0]) == 0 {
		return nil, fmt.Errorf("rag: embedder returned empty result for query")
	}
	return embeddings[0], nil
}
