package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/54b3r/pdfrag-go/internal/logging"
	"github.com/54b3r/pdfrag-go/internal/provider"
)

// healthChecker is the zero-cost probe exposed by *provider.Config.
type healthChecker interface {
	HealthCheck(ctx context.Context, client *http.Client) error
}

// LLMPinger probes an LLM backend for GET /api/ready. It prefers the
// backend's listing endpoint and only sends a single-token Generate when
// the backend has none.
type LLMPinger struct {
	// model is the chat model used by the Generate fallback.
	model model.BaseChatModel
	// healthCheck is the provider's zero-cost probe. May be nil.
	healthCheck healthChecker
	// client is the HTTP client used by healthCheck.
	client *http.Client
	// name identifies the backend in readiness responses (e.g. "ollama").
	name string
}

// NewLLMPinger constructs an LLMPinger for the given model and provider
// config. hc may be nil, in which case every probe uses Generate.
func NewLLMPinger(m model.BaseChatModel, hc *provider.Config, name string) *LLMPinger {
	p := &LLMPinger{model: m, client: http.DefaultClient, name: name}
	if hc != nil {
		p.healthCheck = hc
	}
	return p
}

// Name returns the backend label used in readiness responses.
func (p *LLMPinger) Name() string { return p.name }

// Ping probes the LLM backend for readiness.
func (p *LLMPinger) Ping(ctx context.Context) error {
	if p.healthCheck != nil {
		err := p.healthCheck.HealthCheck(ctx, p.client)
		if err == nil {
			return nil
		}
		if !errors.Is(err, provider.ErrNoHealthCheck) {
			return fmt.Errorf("%s health check failed: %w", p.name, err)
		}
	}
	if p.model == nil {
		return fmt.Errorf("%s: no health check and no model to probe", p.name)
	}

	// Consumes tokens.
	logging.FromContext(ctx).Debug("pinger: falling back to Generate-based health check",
		slog.String("backend", p.name),
	)
	resp, err := p.model.Generate(ctx, []*schema.Message{schema.UserMessage("ping")})
	if err != nil {
		return fmt.Errorf("generate failed: %w", err)
	}
	if resp == nil {
		return fmt.Errorf("generate returned nil response")
	}
	return nil
}
