package rag

import (
	"context"
	"fmt"

	"github.com/qdrant/go-client/qdrant"
)

// Payload field names written alongside every Qdrant point.
const (
	payloadDocumentID = "documentId"
	payloadPage       = "page"
	payloadText       = "text"
)

// QdrantConfig holds connection parameters for a Qdrant vector store instance.
type QdrantConfig struct {
	// Host is the Qdrant server hostname (default: localhost).
	Host string

	// Port is the Qdrant gRPC port (default: 6334).
	Port int

	// Collection is the Qdrant collection name to use (default: pdf-rag).
	Collection string

	// VectorSize is the dimensionality of the embeddings stored in this collection.
	VectorSize uint64

	// APIKey is the optional Qdrant API key for authenticated clusters.
	APIKey string

	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool
}

// QdrantStore implements VectorStore backed by a Qdrant instance.
type QdrantStore struct {
	// client is the underlying Qdrant gRPC client.
	client *qdrant.Client

	// cfg holds the resolved configuration for this store.
	cfg *QdrantConfig
}

// NewQdrantStore creates a new QdrantStore, ensuring the target collection
// exists (creating it if necessary), and returns a ready-to-use VectorStore.
func NewQdrantStore(ctx context.Context, cfg *QdrantConfig) (*QdrantStore, error) {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 6334
	}
	if cfg.Collection == "" {
		cfg.Collection = "pdf-rag"
	}
	if cfg.VectorSize == 0 {
		return nil, fmt.Errorf("qdrant: vector size must be set")
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: failed to create client: %w", err)
	}

	store := &QdrantStore{client: client, cfg: cfg}
	if err := store.ensureCollection(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}

	return store, nil
}

// ensureCollection creates the Qdrant collection and its documentId payload
// index if the collection does not already exist.
func (s *QdrantStore) ensureCollection(ctx context.Context) error {
	exists, err := s.client.CollectionExists(ctx, s.cfg.Collection)
	if err != nil {
		return fmt.Errorf("qdrant: failed to check collection existence: %w", err)
	}
	if exists {
		return nil
	}

	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.cfg.Collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     s.cfg.VectorSize,
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("qdrant: failed to create collection %q: %w", s.cfg.Collection, err)
	}

	wait := true
	_, err = s.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
		CollectionName: s.cfg.Collection,
		Wait:           &wait,
		FieldName:      payloadDocumentID,
		FieldType:      qdrant.FieldType_FieldTypeKeyword.Enum(),
	})
	if err != nil {
		return fmt.Errorf("qdrant: failed to index %q on %q: %w", payloadDocumentID, s.cfg.Collection, err)
	}

	return nil
}

// Upsert stores or replaces chunks. The point ID is the chunk's DedupKey,
// so a second upsert of the same page overwrites the first.
func (s *QdrantStore) Upsert(ctx context.Context, chunks []Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	points := make([]*qdrant.PointStruct, 0, len(chunks))
	for _, c := range chunks {
		if err := checkDimension(c, int(s.cfg.VectorSize)); err != nil {
			return err
		}
		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(c.DedupKey),
			Vectors: qdrant.NewVectors(c.Vector...),
			Payload: qdrant.NewValueMap(map[string]any{
				payloadDocumentID: c.DocumentID,
				payloadPage:       int64(c.Page),
				payloadText:       c.Text,
			}),
		})
	}

	wait := true
	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.cfg.Collection,
		Wait:           &wait,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("qdrant: upsert failed: %w", err)
	}

	return nil
}

// Search performs a cosine similarity search and returns the top-k results.
func (s *QdrantStore) Search(ctx context.Context, vector []float32, opts SearchOptions) ([]ScoredChunk, error) {
	limit := uint64(opts.TopK)
	req := &qdrant.QueryPoints{
		CollectionName: s.cfg.Collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
	}
	if opts.DocumentID != "" {
		req.Filter = &qdrant.Filter{
			Must: []*qdrant.Condition{qdrant.NewMatch(payloadDocumentID, opts.DocumentID)},
		}
	}

	results, err := s.client.Query(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("qdrant: search failed: %w", err)
	}

	out := make([]ScoredChunk, 0, len(results))
	for _, r := range results {
		sc := ScoredChunk{Score: r.GetScore()}
		sc.DedupKey = r.GetId().GetUuid()
		if p := r.GetPayload(); p != nil {
			sc.DocumentID = p[payloadDocumentID].GetStringValue()
			sc.Page = int(p[payloadPage].GetIntegerValue())
			sc.Text = p[payloadText].GetStringValue()
		}
		out = append(out, sc)
	}

	return out, nil
}

// Ping checks that the Qdrant server is reachable.
func (s *QdrantStore) Ping(ctx context.Context) error {
	if _, err := s.client.HealthCheck(ctx); err != nil {
		return fmt.Errorf("qdrant: health check failed: %w", err)
	}
	return nil
}

// Name identifies the store in readiness responses.
func (s *QdrantStore) Name() string { return "qdrant" }

// Close closes the underlying gRPC connection.
func (s *QdrantStore) Close() error {
	return s.client.Close()
}

// checkDimension rejects chunks whose vector does not match the collection.
func checkDimension(c Chunk, want int) error {
	if len(c.Vector) != want {
		return fmt.Errorf("rag: chunk %s (page %d) has %d dimensions, collection expects %d",
			c.DedupKey, c.Page, len(c.Vector), want)
	}
	return nil
}
