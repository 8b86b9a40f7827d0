package provider

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/components/model"

	"github.com/54b3r/pdfrag-go/internal/config"
)

// defaultMistralBaseURL is Mistral's OpenAI-compatible API root.
const defaultMistralBaseURL = "https://api.mistral.ai/v1"

// ConfigFromEnv reads provider configuration from environment variables.
// MODEL_PROVIDER selects the backend; each provider uses its own native
// credential env vars.
//
// Environment variables:
//
//	MODEL_PROVIDER = ollama | openai | azure | mistral | gemini | ark (default: ollama)
//
//	Ollama:  OLLAMA_HOST (default: http://localhost:11434), OLLAMA_MODEL (default: llama3)
//	OpenAI:  OPENAI_API_KEY, OPENAI_MODEL (default: gpt-4o-mini)
//	Azure:   AZURE_OPENAI_API_KEY, AZURE_OPENAI_ENDPOINT, AZURE_OPENAI_DEPLOYMENT,
//	         AZURE_OPENAI_API_VERSION (default: 2024-02-01)
//	Mistral: MISTRAL_API_KEY, MISTRAL_MODEL (default: mistral-small-latest),
//	         MISTRAL_BASE_URL (default: https://api.mistral.ai/v1)
//	Gemini:  GOOGLE_API_KEY, GEMINI_MODEL (default: gemini-2.0-flash)
//	Ark:     ARK_API_KEY, ARK_MODEL, ARK_BASE_URL
//
//	Shared:  MODEL_MAX_TOKENS (default: 1024), MODEL_TEMPERATURE (default: 0)
func ConfigFromEnv() (*Config, error) {
	maxTokens, err := config.Int("MODEL_MAX_TOKENS", 1024)
	if err != nil {
		return nil, fmt.Errorf("provider: %w", err)
	}
	temperature, err := config.Float("MODEL_TEMPERATURE", 0)
	if err != nil {
		return nil, fmt.Errorf("provider: %w", err)
	}

	return &Config{
		Backend: Backend(config.String("MODEL_PROVIDER", string(BackendOllama))),
		Ollama: ProviderOllama{
			Host:  config.String("OLLAMA_HOST", "http://localhost:11434"),
			Model: config.String("OLLAMA_MODEL", "llama3"),
		},
		OpenAI: ProviderOpenAI{
			APIKey: config.String("OPENAI_API_KEY", ""),
			Model:  config.String("OPENAI_MODEL", "gpt-4o-mini"),
		},
		AzureOpenAI: ProviderAzureOpenAI{
			APIKey:     config.String("AZURE_OPENAI_API_KEY", ""),
			Endpoint:   config.String("AZURE_OPENAI_ENDPOINT", ""),
			Deployment: config.String("AZURE_OPENAI_DEPLOYMENT", ""),
			APIVersion: config.String("AZURE_OPENAI_API_VERSION", "2024-02-01"),
		},
		Mistral: ProviderMistral{
			APIKey:  config.String("MISTRAL_API_KEY", ""),
			Model:   config.String("MISTRAL_MODEL", "mistral-small-latest"),
			BaseURL: config.String("MISTRAL_BASE_URL", defaultMistralBaseURL),
		},
		Gemini: ProviderGemini{
			APIKey: config.String("GOOGLE_API_KEY", ""),
			Model:  config.String("GEMINI_MODEL", "gemini-2.0-flash"),
		},
		Ark: ProviderArk{
			APIKey:  config.String("ARK_API_KEY", ""),
			Model:   config.String("ARK_MODEL", ""),
			BaseURL: config.String("ARK_BASE_URL", ""),
		},
		Tuning: SharedTuning{
			MaxTokens:   maxTokens,
			Temperature: float32(temperature),
		},
	}, nil
}

// NewFromEnv constructs a chat model from ConfigFromEnv.
func NewFromEnv(ctx context.Context) (model.ToolCallingChatModel, *Config, error) {
	cfg, err := ConfigFromEnv()
	if err != nil {
		return nil, nil, err
	}
	m, err := New(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	return m, cfg, nil
}

// New constructs a chat model from an explicit Config, delegating to the
// appropriate backend constructor. It validates the config first so callers
// get a clear error at startup rather than on the first request.
func New(ctx context.Context, cfg *Config) (model.ToolCallingChatModel, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	var (
		m   model.ToolCallingChatModel
		err error
	)
	switch cfg.Backend {
	case BackendOllama:
		m, err = newOllama(ctx, cfg)
	case BackendOpenAI:
		m, err = newOpenAI(ctx, cfg)
	case BackendAzure:
		m, err = newAzure(ctx, cfg)
	case BackendMistral:
		m, err = newMistral(ctx, cfg)
	case BackendGemini:
		m, err = newGemini(ctx, cfg)
	case BackendArk:
		m, err = newArk(ctx, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("provider: construct %s model: %w", cfg.Backend, err)
	}
	return m, nil
}
