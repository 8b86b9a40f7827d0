package embedder

import (
	"fmt"
	"os"
	"time"

	"github.com/54b3r/pdfrag-go/internal/config"
	"github.com/54b3r/pdfrag-go/internal/rag"
)

// Default embedding models per backend.
const (
	defaultOllamaModel  = "nomic-embed-text"
	defaultOpenAIModel  = "text-embedding-3-small"
	defaultMistralModel = "mistral-embed"

	defaultMistralBaseURL = "https://api.mistral.ai/v1"

	// defaultOllamaDimensions is the output dimension of nomic-embed-text.
	defaultOllamaDimensions = 768
	// defaultOpenAIDimensions is the output dimension of text-embedding-3-small.
	defaultOpenAIDimensions = 1536
	// defaultMistralDimensions is the fixed output dimension of mistral-embed.
	defaultMistralDimensions = 1024
)

// Backend resolves the effective embedding backend: EMBEDDING_PROVIDER, then
// MODEL_PROVIDER, then "ollama".
func Backend() string {
	if b := os.Getenv("EMBEDDING_PROVIDER"); b != "" {
		return b
	}
	return config.String("MODEL_PROVIDER", "ollama")
}

// DefaultDimensions returns the embedding vector size for the given backend.
// The vector index is created with this size, so it must match what the
// model emits. EMBEDDING_DIMENSIONS always takes precedence when set.
func DefaultDimensions(backend string) int {
	if v, err := config.Int("EMBEDDING_DIMENSIONS", 0); err == nil && v > 0 {
		return v
	}
	switch backend {
	case "ollama":
		return defaultOllamaDimensions
	case "mistral":
		return defaultMistralDimensions
	default:
		return defaultOpenAIDimensions
	}
}

// NewFromEnv constructs a rag.Embedder using cascading defaults that inherit
// from the generation provider configuration when embedding-specific
// overrides are not set.
//
// Resolution order:
//
//  1. EMBEDDING_PROVIDER, else MODEL_PROVIDER, else ollama
//  2. Per-backend credentials are inherited from the provider's env vars
//  3. EMBEDDING_MODEL overrides the default model for the resolved backend
//  4. EMBEDDING_API_KEY overrides the inherited API key
//  5. EMBEDDING_ENDPOINT overrides the inherited endpoint
//  6. EMBEDDING_DIMENSIONS is sent to OpenAI/Azure as the requested size
//  7. EMBED_TIMEOUT sets the HTTP client timeout
func NewFromEnv() (rag.Embedder, error) {
	backend := Backend()
	timeout, err := config.Duration("EMBED_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("embedder: %w", err)
	}

	switch backend {
	case "ollama":
		return NewOllamaEmbedder(&OllamaConfig{
			Host:    firstNonEmpty(os.Getenv("EMBEDDING_ENDPOINT"), config.String("OLLAMA_HOST", "http://localhost:11434")),
			Model:   config.String("EMBEDDING_MODEL", defaultOllamaModel),
			Timeout: timeout,
		}), nil

	case "openai":
		apiKey := firstNonEmpty(os.Getenv("EMBEDDING_API_KEY"), os.Getenv("OPENAI_API_KEY"))
		if apiKey == "" {
			return nil, fmt.Errorf("embedder: openai requires OPENAI_API_KEY or EMBEDDING_API_KEY")
		}
		return NewOpenAIEmbedder(&OpenAIConfig{
			BaseURL:    config.String("EMBEDDING_ENDPOINT", "https://api.openai.com/v1"),
			APIKey:     apiKey,
			Model:      config.String("EMBEDDING_MODEL", defaultOpenAIModel),
			Dimensions: DefaultDimensions(backend),
			Timeout:    timeout,
		}), nil

	case "azure":
		apiKey := firstNonEmpty(os.Getenv("EMBEDDING_API_KEY"), os.Getenv("AZURE_OPENAI_API_KEY"))
		if apiKey == "" {
			return nil, fmt.Errorf("embedder: azure requires AZURE_OPENAI_API_KEY or EMBEDDING_API_KEY")
		}
		endpoint := firstNonEmpty(os.Getenv("EMBEDDING_ENDPOINT"), os.Getenv("AZURE_OPENAI_ENDPOINT"))
		if endpoint == "" {
			return nil, fmt.Errorf("embedder: azure requires AZURE_OPENAI_ENDPOINT or EMBEDDING_ENDPOINT")
		}
		return NewOpenAIEmbedder(&OpenAIConfig{
			Backend:    "azure",
			BaseURL:    endpoint + "/openai",
			APIKey:     apiKey,
			Model:      config.String("EMBEDDING_MODEL", defaultOpenAIModel),
			Dimensions: DefaultDimensions(backend),
			Azure:      true,
			APIVersion: config.String("AZURE_OPENAI_API_VERSION", "2025-04-01-preview"),
			Timeout:    timeout,
		}), nil

	case "mistral":
		apiKey := firstNonEmpty(os.Getenv("EMBEDDING_API_KEY"), os.Getenv("MISTRAL_API_KEY"))
		if apiKey == "" {
			return nil, fmt.Errorf("embedder: mistral requires MISTRAL_API_KEY or EMBEDDING_API_KEY")
		}
		// mistral-embed has a fixed output size and rejects the dimensions field.
		return NewOpenAIEmbedder(&OpenAIConfig{
			Backend: "mistral",
			BaseURL: config.String("EMBEDDING_ENDPOINT", defaultMistralBaseURL),
			APIKey:  apiKey,
			Model:   config.String("EMBEDDING_MODEL", defaultMistralModel),
			Timeout: timeout,
		}), nil

	default:
		return nil, fmt.Errorf("embedder: unknown backend %q, valid values: ollama, openai, azure, mistral", backend)
	}
}

// firstNonEmpty returns the first non-empty argument.
func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
