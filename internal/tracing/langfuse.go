// Package tracing wires the two optional tracing sinks: Langfuse callbacks
// for generation calls made through eino, and OpenTelemetry spans for the
// upload, ingestion and retrieval steps. Both are disabled when their
// environment variables are unset.
package tracing

import (
	"os"

	"github.com/cloudwego/eino-ext/callbacks/langfuse"
	"github.com/cloudwego/eino/callbacks"
)

// SetupLangfuse initialises the Langfuse callback handler if
// LANGFUSE_PUBLIC_KEY and LANGFUSE_SECRET_KEY are set and registers it as a
// global eino callback. Returns a flush function that must be called before
// process exit, or nil when Langfuse is not configured.
func SetupLangfuse() (flush func(), enabled bool) {
	handler, flusher, ok := langfuseHandler(os.Getenv)
	if !ok {
		return nil, false
	}
	callbacks.AppendGlobalHandlers(handler)
	return flusher, true
}

func langfuseHandler(getenv func(string) string) (callbacks.Handler, func(), bool) {
	publicKey := getenv("LANGFUSE_PUBLIC_KEY")
	secretKey := getenv("LANGFUSE_SECRET_KEY")
	if publicKey == "" || secretKey == "" {
		return nil, nil, false
	}
	host := getenv("LANGFUSE_HOST")
	if host == "" {
		host = "http://localhost:3000"
	}

	handler, flusher := langfuse.NewLangfuseHandler(&langfuse.Config{
		Host:      host,
		PublicKey: publicKey,
		SecretKey: secretKey,
	})
	return handler, flusher, true
}
