// Package provider selects and constructs the generation provider used by
// the retrieval orchestrator. Every backend is an eino chat model, so the
// orchestrator only sees model.BaseChatModel.
// Supported backends: Ollama, OpenAI, Azure OpenAI, Mistral, Google Gemini, Volcengine Ark.
package provider

import (
	"fmt"
	"regexp"
	"strings"
)

// Backend enumerates the supported generation providers.
type Backend string

const (
	// BackendOllama selects a locally running Ollama instance.
	BackendOllama Backend = "ollama"
	// BackendOpenAI selects the OpenAI API.
	BackendOpenAI Backend = "openai"
	// BackendAzure selects Azure OpenAI Service.
	BackendAzure Backend = "azure"
	// BackendMistral selects the Mistral API through its OpenAI-compatible endpoint.
	BackendMistral Backend = "mistral"
	// BackendGemini selects Google Gemini via AI Studio.
	BackendGemini Backend = "gemini"
	// BackendArk selects Volcengine Ark.
	BackendArk Backend = "ark"
)

// Config holds all provider-level configuration. Only the block matching
// Backend is consulted.
type Config struct {
	// Backend identifies which provider to use.
	Backend Backend

	Ollama      ProviderOllama
	OpenAI      ProviderOpenAI
	AzureOpenAI ProviderAzureOpenAI
	Mistral     ProviderMistral
	Gemini      ProviderGemini
	Ark         ProviderArk

	// Tuning applies to every backend that supports it.
	Tuning SharedTuning
}

// ProviderOllama holds Ollama settings (OLLAMA_HOST, OLLAMA_MODEL).
type ProviderOllama struct {
	Host  string
	Model string
}

// ProviderOpenAI holds OpenAI settings (OPENAI_API_KEY, OPENAI_MODEL).
type ProviderOpenAI struct {
	APIKey string
	Model  string
}

// ProviderAzureOpenAI holds Azure OpenAI settings.
type ProviderAzureOpenAI struct {
	APIKey     string
	Endpoint   string
	Deployment string
	APIVersion string
}

// ProviderMistral holds Mistral settings (MISTRAL_API_KEY, MISTRAL_MODEL, MISTRAL_BASE_URL).
type ProviderMistral struct {
	APIKey  string
	Model   string
	BaseURL string
}

// ProviderGemini holds Gemini settings (GOOGLE_API_KEY, GEMINI_MODEL).
type ProviderGemini struct {
	APIKey string
	Model  string
}

// ProviderArk holds Volcengine Ark settings (ARK_API_KEY, ARK_MODEL, ARK_BASE_URL).
type ProviderArk struct {
	APIKey  string
	Model   string
	BaseURL string
}

// SharedTuning holds generation parameters common to all backends.
type SharedTuning struct {
	// MaxTokens caps the number of tokens the model may generate per response.
	MaxTokens int
	// Temperature controls response randomness (0.0–1.0).
	Temperature float32
}

// Validate reports the first missing setting for the selected backend, named
// by its env var so the operator knows what to set.
func (c *Config) Validate() error {
	var missing []string
	need := func(val, env string) {
		if strings.TrimSpace(val) == "" {
			missing = append(missing, env)
		}
	}

	switch c.Backend {
	case BackendOllama:
		need(c.Ollama.Host, "OLLAMA_HOST")
		need(c.Ollama.Model, "OLLAMA_MODEL")
	case BackendOpenAI:
		need(c.OpenAI.APIKey, "OPENAI_API_KEY")
		need(c.OpenAI.Model, "OPENAI_MODEL")
	case BackendAzure:
		need(c.AzureOpenAI.APIKey, "AZURE_OPENAI_API_KEY")
		need(c.AzureOpenAI.Endpoint, "AZURE_OPENAI_ENDPOINT")
		need(c.AzureOpenAI.Deployment, "AZURE_OPENAI_DEPLOYMENT")
	case BackendMistral:
		need(c.Mistral.APIKey, "MISTRAL_API_KEY")
		need(c.Mistral.Model, "MISTRAL_MODEL")
	case BackendGemini:
		need(c.Gemini.APIKey, "GOOGLE_API_KEY")
		need(c.Gemini.Model, "GEMINI_MODEL")
	case BackendArk:
		need(c.Ark.APIKey, "ARK_API_KEY")
		need(c.Ark.Model, "ARK_MODEL")
	default:
		return fmt.Errorf("provider: unknown backend %q, valid values: ollama, openai, azure, mistral, gemini, ark", c.Backend)
	}

	if len(missing) > 0 {
		return fmt.Errorf("provider: %s backend requires %s", c.Backend, strings.Join(missing, ", "))
	}
	if c.Tuning.Temperature < 0 || c.Tuning.Temperature > 2 {
		return fmt.Errorf("provider: MODEL_TEMPERATURE %.2f out of range [0, 2]", c.Tuning.Temperature)
	}
	return nil
}

// ModelName returns the model or deployment that the selected backend will call.
func (c *Config) ModelName() string {
	switch c.Backend {
	case BackendOllama:
		return c.Ollama.Model
	case BackendOpenAI:
		return c.OpenAI.Model
	case BackendAzure:
		return c.AzureOpenAI.Deployment
	case BackendMistral:
		return c.Mistral.Model
	case BackendGemini:
		return c.Gemini.Model
	case BackendArk:
		return c.Ark.Model
	}
	return ""
}

// azureReasoningPattern matches o-series and codex deployments, which reject
// temperature and max_tokens.
var azureReasoningPattern = regexp.MustCompile(`^(o[1-9]|codex)(\b|-|$)`)

// isAzureReasoningModel reports whether the deployment name identifies a
// reasoning model.
func isAzureReasoningModel(deployment string) bool {
	return azureReasoningPattern.MatchString(strings.ToLower(deployment))
}
