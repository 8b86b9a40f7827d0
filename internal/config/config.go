// Package config provides YAML-based configuration for pdfrag.
// Configuration is loaded with a layered precedence: defaults → YAML file → env vars.
// Environment variables always win, so container deployments can override any
// value without editing the file.
//
// File search order:
//  1. --config CLI flag (explicit path)
//  2. PDFRAG_CONFIG environment variable
//  3. ~/.pdfrag/config.yaml
//  4. ./pdfrag.yaml
//
// If no file is found the system runs entirely from env vars.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the top-level YAML configuration structure.
// Field names use yaml tags that mirror the env var naming (lowercase, underscored).
type Config struct {
	// Model configures the generation provider.
	Model ModelConfig `yaml:"model"`

	// Embedding configures the embedding provider.
	Embedding EmbeddingConfig `yaml:"embedding"`

	// Vector configures the vector index backend.
	Vector VectorConfig `yaml:"vector"`

	// Server configures the HTTP server.
	Server ServerConfig `yaml:"server"`

	// Upload configures the upload gateway and object store.
	Upload UploadConfig `yaml:"upload"`

	// Queue configures the durable job queue.
	Queue QueueConfig `yaml:"queue"`

	// Worker configures the ingestion worker pool.
	Worker WorkerConfig `yaml:"worker"`

	// Retrieval configures the retrieval orchestrator.
	Retrieval RetrievalConfig `yaml:"retrieval"`

	// Session configures the session governor.
	Session SessionConfig `yaml:"session"`

	// Storage configures the SQLite database holding jobs, documents and sessions.
	Storage StorageConfig `yaml:"storage"`

	// Logging configures structured logging.
	Logging LoggingConfig `yaml:"logging"`

	// Tracing configures Langfuse and OpenTelemetry.
	Tracing TracingConfig `yaml:"tracing"`
}

// ModelConfig holds generation provider settings.
type ModelConfig struct {
	// Provider selects the backend: ollama, openai, azure, mistral, gemini, ark.
	Provider string `yaml:"provider"`
	// MaxTokens is the maximum number of tokens in the response.
	MaxTokens int `yaml:"max_tokens"`
	// Temperature controls response randomness (0.0–1.0).
	Temperature float32 `yaml:"temperature"`

	Ollama  EndpointModel `yaml:"ollama"`
	OpenAI  KeyModel      `yaml:"openai"`
	Mistral KeyModel      `yaml:"mistral"`
	Gemini  KeyModel      `yaml:"gemini"`
	Ark     KeyModel      `yaml:"ark"`
	Azure   AzureConfig   `yaml:"azure"`
}

// EndpointModel is a provider addressed by host and model name.
type EndpointModel struct {
	Host  string `yaml:"host"`
	Model string `yaml:"model"`
}

// KeyModel is a hosted provider addressed by API key and model name.
// Prefer the provider's *_API_KEY env var over putting keys in the file.
type KeyModel struct {
	APIKey string `yaml:"api_key"`
	Model  string `yaml:"model"`
}

// AzureConfig holds Azure OpenAI provider settings.
type AzureConfig struct {
	// APIKey is the Azure OpenAI API key. Prefer env var AZURE_OPENAI_API_KEY.
	APIKey string `yaml:"api_key"`
	// Endpoint is the Azure OpenAI resource endpoint.
	Endpoint string `yaml:"endpoint"`
	// Deployment is the Azure OpenAI deployment name.
	Deployment string `yaml:"deployment"`
	// APIVersion is the Azure OpenAI API version.
	APIVersion string `yaml:"api_version"`
}

// EmbeddingConfig holds embedding provider settings.
type EmbeddingConfig struct {
	// Provider selects the embedding backend (ollama, openai, azure, mistral).
	Provider string `yaml:"provider"`
	// Model is the embedding model name.
	Model string `yaml:"model"`
	// Dimensions overrides the embedding vector size.
	Dimensions int `yaml:"dimensions"`
	// APIKey is the embedding API key. Prefer env var EMBEDDING_API_KEY.
	APIKey string `yaml:"api_key"`
	// Endpoint is the embedding API endpoint.
	Endpoint string `yaml:"endpoint"`
	// BatchSize is the number of page texts per embedding call.
	BatchSize int `yaml:"batch_size"`
	// Timeout bounds one embedding call, e.g. "30s".
	Timeout string `yaml:"timeout"`
}

// VectorConfig selects and configures the vector index.
type VectorConfig struct {
	// Backend is qdrant, pgvector or memory.
	Backend string `yaml:"backend"`

	Qdrant struct {
		Host       string `yaml:"host"`
		Port       int    `yaml:"port"`
		Collection string `yaml:"collection"`
		APIKey     string `yaml:"api_key"`
		TLS        bool   `yaml:"tls"`
	} `yaml:"qdrant"`

	PGVector struct {
		DSN   string `yaml:"dsn"`
		Table string `yaml:"table"`
	} `yaml:"pgvector"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	// APIKey is the Bearer token for the /api routes. Prefer env var PDFRAG_API_KEY.
	APIKey string `yaml:"api_key"`
	// RateLimitRPS is the sustained per-IP request rate on /chat and /upload/pdf.
	RateLimitRPS float64 `yaml:"rate_limit_rps"`
	// RateLimitBurst is the per-IP burst allowance.
	RateLimitBurst int `yaml:"rate_limit_burst"`
}

// UploadConfig holds upload gateway settings.
type UploadConfig struct {
	Dir      string `yaml:"dir"`
	MaxBytes int64  `yaml:"max_bytes"`
}

// QueueConfig holds job queue settings. Durations are Go duration strings.
type QueueConfig struct {
	MaxAttempts       int    `yaml:"max_attempts"`
	VisibilityTimeout string `yaml:"visibility_timeout"`
	BackoffInitial    string `yaml:"backoff_initial"`
	BackoffMax        string `yaml:"backoff_max"`
	PollInterval      string `yaml:"poll_interval"`
}

// WorkerConfig holds ingestion worker settings.
type WorkerConfig struct {
	Concurrency int `yaml:"concurrency"`
	// Extractor is native or pdftotext.
	Extractor string `yaml:"extractor"`
}

// RetrievalConfig holds retrieval orchestrator settings.
type RetrievalConfig struct {
	TopK             int    `yaml:"top_k"`
	MaxContextTokens int    `yaml:"max_context_tokens"`
	SearchTimeout    string `yaml:"search_timeout"`
	GenerateTimeout  string `yaml:"generate_timeout"`
}

// SessionConfig holds session governor settings.
type SessionConfig struct {
	MessageLimit int `yaml:"message_limit"`
}

// StorageConfig holds the SQLite path.
type StorageConfig struct {
	DBPath string `yaml:"db_path"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error.
	Level string `yaml:"level"`
	// Format is the log output format: json, text.
	Format string `yaml:"format"`
}

// TracingConfig holds Langfuse and OpenTelemetry settings.
type TracingConfig struct {
	// PublicKey is the Langfuse public key. Prefer env var LANGFUSE_PUBLIC_KEY.
	PublicKey string `yaml:"public_key"`
	// SecretKey is the Langfuse secret key. Prefer env var LANGFUSE_SECRET_KEY.
	SecretKey string `yaml:"secret_key"`
	// Host is the Langfuse API host.
	Host string `yaml:"host"`
	// OTLPEndpoint is the OTLP/gRPC collector address (host:port).
	OTLPEndpoint string `yaml:"otlp_endpoint"`
}

// envMapping maps YAML config fields to their corresponding env var names.
// Only non-empty YAML values are applied; env vars always take precedence.
var envMapping = []struct {
	envKey string
	value  func(*Config) string
}{
	{"MODEL_PROVIDER", func(c *Config) string { return c.Model.Provider }},
	{"MODEL_MAX_TOKENS", func(c *Config) string { return intStr(c.Model.MaxTokens) }},
	{"MODEL_TEMPERATURE", func(c *Config) string { return float32Str(c.Model.Temperature) }},
	{"OLLAMA_HOST", func(c *Config) string { return c.Model.Ollama.Host }},
	{"OLLAMA_MODEL", func(c *Config) string { return c.Model.Ollama.Model }},
	{"OPENAI_API_KEY", func(c *Config) string { return c.Model.OpenAI.APIKey }},
	{"OPENAI_MODEL", func(c *Config) string { return c.Model.OpenAI.Model }},
	{"MISTRAL_API_KEY", func(c *Config) string { return c.Model.Mistral.APIKey }},
	{"MISTRAL_MODEL", func(c *Config) string { return c.Model.Mistral.Model }},
	{"GOOGLE_API_KEY", func(c *Config) string { return c.Model.Gemini.APIKey }},
	{"GEMINI_MODEL", func(c *Config) string { return c.Model.Gemini.Model }},
	{"ARK_API_KEY", func(c *Config) string { return c.Model.Ark.APIKey }},
	{"ARK_MODEL", func(c *Config) string { return c.Model.Ark.Model }},
	{"AZURE_OPENAI_API_KEY", func(c *Config) string { return c.Model.Azure.APIKey }},
	{"AZURE_OPENAI_ENDPOINT", func(c *Config) string { return c.Model.Azure.Endpoint }},
	{"AZURE_OPENAI_DEPLOYMENT", func(c *Config) string { return c.Model.Azure.Deployment }},
	{"AZURE_OPENAI_API_VERSION", func(c *Config) string { return c.Model.Azure.APIVersion }},
	{"EMBEDDING_PROVIDER", func(c *Config) string { return c.Embedding.Provider }},
	{"EMBEDDING_MODEL", func(c *Config) string { return c.Embedding.Model }},
	{"EMBEDDING_DIMENSIONS", func(c *Config) string { return intStr(c.Embedding.Dimensions) }},
	{"EMBEDDING_API_KEY", func(c *Config) string { return c.Embedding.APIKey }},
	{"EMBEDDING_ENDPOINT", func(c *Config) string { return c.Embedding.Endpoint }},
	{"EMBED_BATCH_SIZE", func(c *Config) string { return intStr(c.Embedding.BatchSize) }},
	{"EMBED_TIMEOUT", func(c *Config) string { return c.Embedding.Timeout }},
	{"VECTOR_BACKEND", func(c *Config) string { return c.Vector.Backend }},
	{"QDRANT_HOST", func(c *Config) string { return c.Vector.Qdrant.Host }},
	{"QDRANT_PORT", func(c *Config) string { return intStr(c.Vector.Qdrant.Port) }},
	{"QDRANT_COLLECTION", func(c *Config) string { return c.Vector.Qdrant.Collection }},
	{"QDRANT_API_KEY", func(c *Config) string { return c.Vector.Qdrant.APIKey }},
	{"QDRANT_TLS", func(c *Config) string { return boolStr(c.Vector.Qdrant.TLS) }},
	{"PGVECTOR_DSN", func(c *Config) string { return c.Vector.PGVector.DSN }},
	{"PGVECTOR_TABLE", func(c *Config) string { return c.Vector.PGVector.Table }},
	{"PDFRAG_HOST", func(c *Config) string { return c.Server.Host }},
	{"PDFRAG_PORT", func(c *Config) string { return intStr(c.Server.Port) }},
	{"PDFRAG_API_KEY", func(c *Config) string { return c.Server.APIKey }},
	{"PDFRAG_RATE_LIMIT_RPS", func(c *Config) string { return float64Str(c.Server.RateLimitRPS) }},
	{"PDFRAG_RATE_LIMIT_BURST", func(c *Config) string { return intStr(c.Server.RateLimitBurst) }},
	{"UPLOAD_DIR", func(c *Config) string { return c.Upload.Dir }},
	{"UPLOAD_MAX_BYTES", func(c *Config) string { return int64Str(c.Upload.MaxBytes) }},
	{"QUEUE_MAX_ATTEMPTS", func(c *Config) string { return intStr(c.Queue.MaxAttempts) }},
	{"QUEUE_VISIBILITY_TIMEOUT", func(c *Config) string { return c.Queue.VisibilityTimeout }},
	{"QUEUE_BACKOFF_INITIAL", func(c *Config) string { return c.Queue.BackoffInitial }},
	{"QUEUE_BACKOFF_MAX", func(c *Config) string { return c.Queue.BackoffMax }},
	{"QUEUE_POLL_INTERVAL", func(c *Config) string { return c.Queue.PollInterval }},
	{"WORKER_CONCURRENCY", func(c *Config) string { return intStr(c.Worker.Concurrency) }},
	{"PDF_EXTRACTOR", func(c *Config) string { return c.Worker.Extractor }},
	{"RETRIEVAL_TOP_K", func(c *Config) string { return intStr(c.Retrieval.TopK) }},
	{"RETRIEVAL_MAX_CONTEXT_TOKENS", func(c *Config) string { return intStr(c.Retrieval.MaxContextTokens) }},
	{"SEARCH_TIMEOUT", func(c *Config) string { return c.Retrieval.SearchTimeout }},
	{"GENERATE_TIMEOUT", func(c *Config) string { return c.Retrieval.GenerateTimeout }},
	{"SESSION_MESSAGE_LIMIT", func(c *Config) string { return intStr(c.Session.MessageLimit) }},
	{"PDFRAG_DB", func(c *Config) string { return c.Storage.DBPath }},
	{"LOG_LEVEL", func(c *Config) string { return c.Logging.Level }},
	{"LOG_FORMAT", func(c *Config) string { return c.Logging.Format }},
	{"LANGFUSE_PUBLIC_KEY", func(c *Config) string { return c.Tracing.PublicKey }},
	{"LANGFUSE_SECRET_KEY", func(c *Config) string { return c.Tracing.SecretKey }},
	{"LANGFUSE_HOST", func(c *Config) string { return c.Tracing.Host }},
	{"OTEL_EXPORTER_OTLP_ENDPOINT", func(c *Config) string { return c.Tracing.OTLPEndpoint }},
}

// Load reads a YAML config file and applies non-empty values as environment
// variables. Existing env vars are never overwritten (env always wins).
// Returns the path that was loaded, or empty string if no file was found.
func Load(explicitPath string, log *slog.Logger) (string, error) {
	path := resolveConfigPath(explicitPath)
	if path == "" {
		log.Debug("config: no YAML config file found, using env vars only")
		return "", nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("config: failed to read %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return "", fmt.Errorf("config: failed to parse %s: %w", path, err)
	}

	applied := 0
	for _, m := range envMapping {
		yamlVal := m.value(&cfg)
		if yamlVal == "" {
			continue
		}
		if os.Getenv(m.envKey) != "" {
			continue
		}
		if err := os.Setenv(m.envKey, yamlVal); err != nil {
			return "", fmt.Errorf("config: failed to set %s: %w", m.envKey, err)
		}
		applied++
	}

	log.Info("config: loaded YAML config",
		slog.String("path", path),
		slog.Int("keys_applied", applied),
	)

	return path, nil
}

// resolveConfigPath returns the first config file path that exists.
// An explicit path that does not exist resolves to "" rather than falling
// through to the defaults.
func resolveConfigPath(explicit string) string {
	if explicit != "" {
		if _, err := os.Stat(explicit); err == nil {
			return explicit
		}
		return ""
	}

	candidates := []string{os.Getenv("PDFRAG_CONFIG")}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".pdfrag", "config.yaml"))
	}
	candidates = append(candidates, "pdfrag.yaml")

	for _, p := range candidates {
		if p == "" {
			continue
		}
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// intStr converts an int to string, returning "" for zero values.
func intStr(v int) string {
	if v == 0 {
		return ""
	}
	return fmt.Sprintf("%d", v)
}

// int64Str converts an int64 to string, returning "" for zero values.
func int64Str(v int64) string {
	if v == 0 {
		return ""
	}
	return fmt.Sprintf("%d", v)
}

// float32Str converts a float32 to string, returning "" for zero values.
func float32Str(v float32) string {
	return float64Str(float64(v))
}

// float64Str converts a float64 to string, returning "" for zero values.
func float64Str(v float64) string {
	if v == 0 {
		return ""
	}
	return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.4f", v), "0"), ".")
}

// boolStr converts a bool to string, returning "" for false.
func boolStr(v bool) string {
	if !v {
		return ""
	}
	return "true"
}
