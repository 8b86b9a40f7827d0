// Package audit emits one structured log entry per CLI command invocation:
// the command name, the config file in effect, and the operational
// environment with every credential reduced to "set" or "unset".
package audit

import (
	"context"
	"log/slog"
	"os"
	"strings"
)

// auditEntry defines an env var to include in the audit log.
type auditEntry struct {
	// key is the environment variable name.
	key string
	// secret indicates the value should be redacted to presence/absence.
	secret bool
}

// auditKeys is the ordered list of env vars included in every audit log entry.
var auditKeys = []auditEntry{
	{"MODEL_PROVIDER", false},
	{"OLLAMA_HOST", false},
	{"OLLAMA_MODEL", false},
	{"OPENAI_API_KEY", true},
	{"OPENAI_MODEL", false},
	{"AZURE_OPENAI_API_KEY", true},
	{"AZURE_OPENAI_ENDPOINT", false},
	{"AZURE_OPENAI_DEPLOYMENT", false},
	{"MISTRAL_API_KEY", true},
	{"MISTRAL_MODEL", false},
	{"GOOGLE_API_KEY", true},
	{"GEMINI_MODEL", false},
	{"ARK_API_KEY", true},
	{"ARK_MODEL", false},
	{"EMBEDDING_PROVIDER", false},
	{"EMBEDDING_MODEL", false},
	{"EMBEDDING_API_KEY", true},
	{"VECTOR_BACKEND", false},
	{"QDRANT_HOST", false},
	{"QDRANT_PORT", false},
	{"QDRANT_COLLECTION", false},
	{"QDRANT_API_KEY", true},
	{"PGVECTOR_DSN", true},
	{"PDFRAG_DB", false},
	{"PDFRAG_API_KEY", true},
	{"UPLOAD_DIR", false},
	{"PDF_EXTRACTOR", false},
	{"WORKER_CONCURRENCY", false},
	{"RETRIEVAL_TOP_K", false},
	{"SESSION_MESSAGE_LIMIT", false},
	{"LOG_LEVEL", false},
	{"LOG_FORMAT", false},
	{"LANGFUSE_PUBLIC_KEY", true},
	{"LANGFUSE_SECRET_KEY", true},
	{"OTEL_EXPORTER_OTLP_ENDPOINT", false},
}

// secretEnvKeys is the set of keys whose values must never be logged.
var secretEnvKeys = func() map[string]bool {
	m := make(map[string]bool)
	for _, e := range auditKeys {
		if e.secret {
			m[e.key] = true
		}
	}
	return m
}()

// LogCommandStart emits a structured audit entry when a CLI command begins.
func LogCommandStart(ctx context.Context, log *slog.Logger, command, configPath string) {
	log.LogAttrs(ctx, slog.LevelInfo, "audit: command start", commandAttrs(command, configPath, os.Getenv)...)
}

// commandAttrs builds the audit attributes using getenv for lookups.
func commandAttrs(command, configPath string, getenv func(string) string) []slog.Attr {
	attrs := make([]slog.Attr, 0, len(auditKeys)+2)
	attrs = append(attrs,
		slog.String("command", command),
		slog.String("config_file", sanitiseConfigPath(configPath)),
	)
	for _, entry := range auditKeys {
		attrs = append(attrs, slog.String(entry.key, SanitiseKey(entry.key, getenv(entry.key))))
	}
	return attrs
}

// SanitiseKey returns "set" or "unset" for known secret keys, or the actual
// value for non-secret keys. This is safe to use in log messages.
func SanitiseKey(key, value string) string {
	if secretEnvKeys[key] {
		return presence(value)
	}
	return valOrUnset(value)
}

// presence returns "set" if the value is non-empty, "unset" otherwise.
func presence(v string) string {
	if v != "" {
		return "set"
	}
	return "unset"
}

// valOrUnset returns the value if non-empty, "unset" otherwise.
func valOrUnset(v string) string {
	if v != "" {
		return v
	}
	return "unset"
}

// sanitiseConfigPath returns the config path with the home directory
// collapsed to "~", or "none" if empty.
func sanitiseConfigPath(p string) string {
	if p == "" {
		return "none"
	}
	home, err := os.UserHomeDir()
	if err == nil && home != "" && strings.HasPrefix(p, home) {
		return "~" + p[len(home):]
	}
	return p
}
