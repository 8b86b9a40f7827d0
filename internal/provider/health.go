package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// ErrNoHealthCheck is returned by HealthCheck for backends that expose no
// zero-cost probe endpoint.
var ErrNoHealthCheck = errors.New("provider: backend has no health check endpoint")

// healthRequest builds a request against an endpoint that proves the backend
// is reachable and accepts the credentials without generating tokens.
func (c *Config) healthRequest(ctx context.Context) (*http.Request, error) {
	var (
		url    string
		bearer string
	)
	switch c.Backend {
	case BackendOllama:
		url = strings.TrimRight(c.Ollama.Host, "/") + "/api/tags"
	case BackendOpenAI:
		url, bearer = "https://api.openai.com/v1/models", c.OpenAI.APIKey
	case BackendMistral:
		base := c.Mistral.BaseURL
		if base == "" {
			base = defaultMistralBaseURL
		}
		url, bearer = strings.TrimRight(base, "/")+"/models", c.Mistral.APIKey
	default:
		return nil, ErrNoHealthCheck
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("provider: health request: %w", err)
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	return req, nil
}

// HealthCheck probes the backend's model listing endpoint. It returns
// ErrNoHealthCheck for backends without one, so callers can fall back to
// a generate call.
func (c *Config) HealthCheck(ctx context.Context, client *http.Client) error {
	req, err := c.healthRequest(ctx)
	if err != nil {
		return err
	}
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("provider: %s unreachable: %w", c.Backend, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("provider: %s health check: HTTP %d", c.Backend, resp.StatusCode)
	}
	return nil
}
