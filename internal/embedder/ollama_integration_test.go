package embedder

import (
	"context"
	"math"
	"os"
	"testing"
	"time"
)

// TestOllamaEmbedder_Live embeds a question and two manual passages against a
// running Ollama and checks the question lands nearer the passage that
// answers it. Set OLLAMA_TEST_HOST (e.g. http://localhost:11434) to run it;
// the model defaults to nomic-embed-text.
func TestOllamaEmbedder_Live(t *testing.T) {
	host := os.Getenv("OLLAMA_TEST_HOST")
	if host == "" {
		t.Skip("OLLAMA_TEST_HOST not set")
	}
	model := firstNonEmpty(os.Getenv("EMBEDDING_MODEL"), "nomic-embed-text")

	emb := NewOllamaEmbedder(&OllamaConfig{Host: host, Model: model})

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	vecs, err := emb.Embed(ctx, []string{
		"How long is the warranty?",
		"The warranty period is 24 months from the date of purchase.",
		"Install the unit on a flat surface away from heat sources.",
	})
	if err != nil {
		t.Fatalf("embed with %s: %v (is the model pulled?)", model, err)
	}
	if len(vecs) != 3 {
		t.Fatalf("expected 3 vectors, got %d", len(vecs))
	}
	for i, v := range vecs {
		if len(v) != len(vecs[0]) || len(v) == 0 {
			t.Fatalf("vector %d: dim %d, want %d", i, len(v), len(vecs[0]))
		}
	}

	relevant, other := cosine(vecs[0], vecs[1]), cosine(vecs[0], vecs[2])
	if relevant <= other {
		t.Errorf("warranty passage scored %.3f, install passage %.3f", relevant, other)
	}
	t.Logf("model=%s dim=%d (EMBEDDING_DIMENSIONS for the vector index)", model, len(vecs[0]))
}

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
