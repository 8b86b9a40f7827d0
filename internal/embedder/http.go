package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/54b3r/pdfrag-go/internal/apperr"
)

// maxErrorBody caps how much of a failed response body is kept in the error.
const maxErrorBody = 512

// StatusError is returned when an embedding endpoint answers with a non-2xx status.
type StatusError struct {
	// Backend is the embedder that made the call (ollama, openai, azure, mistral).
	Backend string
	// Status is the HTTP status code.
	Status int
	// Message is the provider's error message, or a prefix of the raw body.
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s embedder: HTTP %d", e.Backend, e.Status)
	}
	return fmt.Sprintf("%s embedder: HTTP %d: %s", e.Backend, e.Status, e.Message)
}

// postJSON sends in as a JSON POST and decodes a 2xx response into out.
// Rate limiting and server errors come back as apperr.Transient so the
// caller's retry policy can tell them apart from bad requests.
func postJSON(ctx context.Context, client *http.Client, backend, url string, header http.Header, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("%s embedder: marshal request: %w", backend, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("%s embedder: create request: %w", backend, err)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return apperr.Classify(backend+".embed", fmt.Errorf("%s embedder: request failed: %w", backend, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		se := &StatusError{Backend: backend, Status: resp.StatusCode, Message: errorMessage(raw)}
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return apperr.E(apperr.Transient, backend+".embed", "", se)
		}
		return se
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s embedder: decode response: %w", backend, err)
	}
	return nil
}

// errorMessage extracts a message from the common provider error shapes:
// {"error":{"message":..}}, {"error":".."} and {"message":..}.
func errorMessage(raw []byte) string {
	var shaped struct {
		Error   json.RawMessage `json:"error"`
		Message string          `json:"message"`
	}
	if json.Unmarshal(raw, &shaped) == nil {
		if shaped.Message != "" {
			return shaped.Message
		}
		var nested struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(shaped.Error, &nested) == nil && nested.Message != "" {
			return nested.Message
		}
		var flat string
		if json.Unmarshal(shaped.Error, &flat) == nil && flat != "" {
			return flat
		}
	}
	return strings.TrimSpace(string(raw))
}
