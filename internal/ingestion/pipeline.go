// Package ingestion turns queued upload jobs into indexed vector entries.
// The Pipeline loads a stored PDF, extracts one chunk per page, embeds the
// chunks in batches and upserts them keyed by dedupKey, so delivering the same
// job twice converges to the same index state. The Pool runs many pipelines
// concurrently against the job queue.
package ingestion

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/54b3r/pdfrag-go/internal/apperr"
	"github.com/54b3r/pdfrag-go/internal/config"
	"github.com/54b3r/pdfrag-go/internal/objectstore"
	"github.com/54b3r/pdfrag-go/internal/pdftext"
	"github.com/54b3r/pdfrag-go/internal/queue"
	"github.com/54b3r/pdfrag-go/internal/rag"
)

// Config holds the configuration for the ingestion pipeline.
type Config struct {
	// BatchSize is the maximum number of chunks sent per Embed call.
	// Defaults to 32 if zero.
	BatchSize int

	// EmbedTimeout bounds each Embed call.
	// Defaults to 30s if zero.
	EmbedTimeout time.Duration

	// EmbedTries is the number of attempts per batch before the job fails.
	// Defaults to 3 if zero.
	EmbedTries int

	// RetryInitial is the first in-job retry delay. Defaults to 500ms if zero.
	RetryInitial time.Duration
}

// ConfigFromEnv reads EMBED_BATCH_SIZE and EMBED_TIMEOUT.
func ConfigFromEnv() (*Config, error) {
	batch, err := config.Int("EMBED_BATCH_SIZE", 32)
	if err != nil {
		return nil, err
	}
	timeout, err := config.Duration("EMBED_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, err
	}
	return &Config{BatchSize: batch, EmbedTimeout: timeout}, nil
}

// Pipeline orchestrates the load → extract → embed → upsert flow for one
// stored document.
type Pipeline struct {
	// objects holds the uploaded PDF bytes.
	objects *objectstore.Store

	// extractor splits a PDF into per-page text.
	extractor pdftext.Extractor

	// embedder converts page text into dense vector embeddings.
	embedder rag.Embedder

	// store persists the embedded chunks.
	store rag.VectorStore

	// cfg holds the resolved pipeline configuration.
	cfg *Config
}

// NewPipeline constructs a Pipeline from the provided dependencies and config.
func NewPipeline(objects *objectstore.Store, extractor pdftext.Extractor, embedder rag.Embedder, store rag.VectorStore, cfg *Config) (*Pipeline, error) {
	if objects == nil {
		return nil, fmt.Errorf("ingestion: object store must not be nil")
	}
	if extractor == nil {
		return nil, fmt.Errorf("ingestion: extractor must not be nil")
	}
	if embedder == nil {
		return nil, fmt.Errorf("ingestion: embedder must not be nil")
	}
	if store == nil {
		return nil, fmt.Errorf("ingestion: store must not be nil")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 32
	}
	if cfg.EmbedTimeout <= 0 {
		cfg.EmbedTimeout = 30 * time.Second
	}
	if cfg.EmbedTries <= 0 {
		cfg.EmbedTries = 3
	}
	if cfg.RetryInitial <= 0 {
		cfg.RetryInitial = 500 * time.Millisecond
	}
	return &Pipeline{objects: objects, extractor: extractor, embedder: embedder, store: store, cfg: cfg}, nil
}

// Ingest indexes the document a job payload points at and returns the number
// of chunks upserted. Nothing is written to the index until every batch has
// been embedded, so a failed attempt leaves no partial document behind.
// Progress is reported via the optional progress callback.
func (p *Pipeline) Ingest(ctx context.Context, job queue.Payload, progress func(msg string)) (int, error) {
	if progress == nil {
		progress = func(string) {}
	}
	const op = "ingestion.ingest"

	pages, err := p.extract(ctx, job.Filename)
	if err != nil {
		return 0, err
	}
	pages = pdftext.NonEmpty(pages)
	if len(pages) == 0 {
		return 0, apperr.E(apperr.Parse, op, "document has no extractable text", nil)
	}
	progress(fmt.Sprintf("extracted %d pages with text from %s", len(pages), job.Filename))

	chunks := make([]rag.Chunk, len(pages))
	for i, pg := range pages {
		chunks[i] = rag.NewChunk(job.DocumentID, pg.Number, pg.Text)
	}

	for start := 0; start < len(chunks); start += p.cfg.BatchSize {
		end := min(start+p.cfg.BatchSize, len(chunks))
		batch := chunks[start:end]
		texts := make([]string, len(batch))
		for i, c := range batch {
			texts[i] = c.Text
		}

		vectors, err := p.embedBatch(ctx, texts)
		if err != nil {
			return 0, fmt.Errorf("ingestion: embedding pages %d-%d of %s: %w", batch[0].Page, batch[len(batch)-1].Page, job.Filename, err)
		}
		for i := range batch {
			batch[i].Vector = vectors[i]
		}
		progress(fmt.Sprintf("embedded %d/%d chunks", end, len(chunks)))
	}

	if err := p.store.Upsert(ctx, chunks); err != nil {
		return 0, apperr.Classify(op, fmt.Errorf("ingestion: upsert failed for %s: %w", job.Filename, err))
	}
	progress(fmt.Sprintf("ingested %d chunks from %s", len(chunks), job.Filename))
	return len(chunks), nil
}

// extract opens the stored object and runs the extractor over it.
func (p *Pipeline) extract(ctx context.Context, name string) ([]pdftext.Page, error) {
	f, err := p.objects.Open(name)
	if err != nil {
		if errors.Is(err, objectstore.ErrNotFound) {
			// The upload is gone; retrying cannot bring it back.
			return nil, apperr.E(apperr.Parse, "ingestion.extract", "stored document is missing", err)
		}
		return nil, fmt.Errorf("ingestion: open %s: %w", name, err)
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("ingestion: stat %s: %w", name, err)
	}
	pages, err := p.extractor.Extract(ctx, f, fi.Size())
	if err != nil {
		return nil, fmt.Errorf("ingestion: extract %s: %w", name, err)
	}
	return pages, nil
}

// embedBatch embeds texts, retrying transient failures with exponential
// backoff up to cfg.EmbedTries attempts. Each attempt gets its own timeout.
func (p *Pipeline) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.cfg.RetryInitial
	eb.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(p.cfg.EmbedTries-1)), ctx)

	return backoff.RetryWithData(func() ([][]float32, error) {
		callCtx, cancel := context.WithTimeout(ctx, p.cfg.EmbedTimeout)
		defer cancel()

		vectors, err := p.embedder.Embed(callCtx, texts)
		if err == nil && len(vectors) != len(texts) {
			err = fmt.Errorf("embedder returned %d vectors for %d texts", len(vectors), len(texts))
		}
		if err != nil {
			err = apperr.Classify("ingestion.embed", err)
			if !apperr.Retryable(err) {
				return nil, backoff.Permanent(err)
			}
			return nil, err
		}
		return vectors, nil
	}, policy)
}
