// Package embedder provides implementations of the rag.Embedder interface for
// converting page text into dense vector embeddings. Each implementation
// talks to its backend (Ollama, OpenAI, Azure OpenAI, Mistral) over plain
// HTTP; Mistral and OpenAI share the OpenAI-compatible embeddings API.
package embedder

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// OpenAIEmbedder implements rag.Embedder using the OpenAI embeddings REST
// API or a compatible one (Azure OpenAI, Mistral). It is safe for concurrent use.
type OpenAIEmbedder struct {
	// backend names the provider in errors and metrics.
	backend string
	// baseURL is the API base (e.g. "https://api.openai.com/v1" or an Azure endpoint).
	baseURL string
	// apiKey is the Bearer token (OpenAI, Mistral) or api-key header value (Azure).
	apiKey string
	// model is the embedding model name (e.g. "mistral-embed").
	model string
	// dimensions is sent as the "dimensions" request field when > 0.
	dimensions int
	// azure selects Azure-style auth (api-key header) and deployment URLs.
	azure bool
	// apiVersion is the Azure OpenAI api-version query param.
	apiVersion string
	// client is the shared HTTP client.
	client *http.Client
}

// OpenAIConfig holds the settings for constructing an OpenAIEmbedder.
type OpenAIConfig struct {
	// Backend names the provider in errors (default: "openai").
	Backend string
	// BaseURL is the API base URL. For OpenAI: "https://api.openai.com/v1".
	// For Azure: "https://<resource>.openai.azure.com/openai".
	BaseURL string
	// APIKey is the authentication key.
	APIKey string
	// Model is the embedding model name.
	Model string
	// Dimensions is the requested vector length (0 = model default, field omitted).
	Dimensions int
	// Azure enables Azure OpenAI mode (api-key header + api-version param).
	Azure bool
	// APIVersion is the Azure OpenAI API version. Ignored when Azure is false.
	APIVersion string
	// Timeout is the HTTP client timeout (default: 30s). Per-call deadlines
	// come from the caller's context.
	Timeout time.Duration
}

// NewOpenAIEmbedder constructs an OpenAIEmbedder from the given config.
func NewOpenAIEmbedder(cfg *OpenAIConfig) *OpenAIEmbedder {
	backend := cfg.Backend
	if backend == "" {
		backend = "openai"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &OpenAIEmbedder{
		backend:    backend,
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
		azure:      cfg.Azure,
		apiVersion: cfg.APIVersion,
		client:     &http.Client{Timeout: timeout},
	}
}

// openaiEmbedRequest is the JSON body sent to the embeddings endpoint.
type openaiEmbedRequest struct {
	Input      []string `json:"input"`
	Model      string   `json:"model"`
	Dimensions int      `json:"dimensions,omitempty"`
}

// openaiEmbedResponse is the JSON body returned from the embeddings endpoint.
type openaiEmbedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
}

// Embed converts a batch of texts into their corresponding embeddings.
// The returned slice is parallel to the input slice.
func (e *OpenAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	url := e.baseURL + "/embeddings"
	header := http.Header{}
	if e.azure {
		url = e.baseURL + "/deployments/" + e.model + "/embeddings?api-version=" + e.apiVersion
		header.Set("api-key", e.apiKey)
	} else {
		header.Set("Authorization", "Bearer "+e.apiKey)
	}

	var result openaiEmbedResponse
	err := postJSON(ctx, e.client, e.backend, url, header, openaiEmbedRequest{
		Input:      texts,
		Model:      e.model,
		Dimensions: e.dimensions,
	}, &result)
	if err != nil {
		return nil, err
	}

	if len(result.Data) != len(texts) {
		return nil, fmt.Errorf("%s embedder: expected %d embeddings, got %d", e.backend, len(texts), len(result.Data))
	}

	// The API may return data out of order; place by index.
	embeddings := make([][]float32, len(texts))
	for _, d := range result.Data {
		if d.Index < 0 || d.Index >= len(texts) {
			return nil, fmt.Errorf("%s embedder: index %d out of range [0, %d)", e.backend, d.Index, len(texts))
		}
		embeddings[d.Index] = d.Embedding
	}

	return embeddings, nil
}
