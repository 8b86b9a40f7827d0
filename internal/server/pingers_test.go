package server

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cloudwego/eino/schema"

	"github.com/54b3r/pdfrag-go/internal/provider"
	"github.com/54b3r/pdfrag-go/internal/rag/ragtest"
)

func TestLLMPinger_UsesHealthEndpoint(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tags" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	m := &ragtest.ChatModel{}
	cfg := &provider.Config{Backend: provider.BackendOllama, Ollama: provider.ProviderOllama{Host: srv.URL}}
	p := NewLLMPinger(m, cfg, "ollama")

	if err := p.Ping(context.Background()); err != nil {
		t.Fatalf("ping: %v", err)
	}
	if m.Calls() != 0 {
		t.Errorf("health endpoint available, model must not be called; got %d calls", m.Calls())
	}
}

func TestLLMPinger_FallsBackToGenerate(t *testing.T) {
	t.Parallel()

	m := &ragtest.ChatModel{}
	cfg := &provider.Config{Backend: provider.BackendGemini}
	p := NewLLMPinger(m, cfg, "gemini")

	if err := p.Ping(context.Background()); err != nil {
		t.Fatalf("ping: %v", err)
	}
	if m.Calls() != 1 {
		t.Errorf("want 1 generate call, got %d", m.Calls())
	}

	m.Reply = func(context.Context, []*schema.Message) (string, error) { return "", errors.New("down") }
	if err := p.Ping(context.Background()); err == nil {
		t.Error("expected error when generate fails")
	}
}
