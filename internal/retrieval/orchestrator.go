// Package retrieval answers questions about uploaded documents. The
// Orchestrator embeds the question, looks up the nearest chunks, binds the
// chat model to that context with a grounding instruction and returns the
// completion together with the chunks it was given.
package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"go.opentelemetry.io/otel/attribute"

	"github.com/54b3r/pdfrag-go/internal/apperr"
	"github.com/54b3r/pdfrag-go/internal/budget"
	"github.com/54b3r/pdfrag-go/internal/config"
	"github.com/54b3r/pdfrag-go/internal/logging"
	"github.com/54b3r/pdfrag-go/internal/rag"
	"github.com/54b3r/pdfrag-go/internal/tracing"
)

// StepGenerate is the step name reported for the chat model call.
const StepGenerate = "generate"

// NoContextNotice stands in for the context section when retrieval found
// nothing, so the model reports the gap instead of guessing.
const NoContextNotice = "(No passages from the document matched this question.)"

// systemPrompt binds the model to the retrieved context. The context block
// is appended after it.
const systemPrompt = `You are a document assistant. You answer questions about a PDF the user uploaded.

Rules:
- Answer only from the context passages below. Do not use outside knowledge.
- If the context does not contain the answer, say plainly that the information is not available in the document. Never invent facts, numbers or names.
- Cite the page of every passage you rely on, in the form (page N).
- Keep answers short and direct.`

// Config holds the dependencies and tunables of an Orchestrator.
type Config struct {
	// ChatModel is the generation backend constructed by the provider factory.
	ChatModel model.BaseChatModel

	// Retriever performs the embed and search steps.
	Retriever rag.Retriever

	// TopK is the number of chunks retrieved per question. Defaults to 2 if zero.
	TopK int

	// GenerateTimeout bounds the chat model call. Defaults to 60s if zero.
	GenerateTimeout time.Duration

	// MaxContextTokens is the estimated token budget for the prompt. Lower
	// ranked passages are dropped to fit. Defaults to
	// budget.DefaultMaxContextTokens if zero.
	MaxContextTokens int

	// Observer, if set, receives the latency and outcome of the generate step.
	Observer rag.StepObserver
}

// ConfigFromEnv reads RETRIEVAL_TOP_K, GENERATE_TIMEOUT and
// RETRIEVAL_MAX_CONTEXT_TOKENS into a Config without dependencies.
func ConfigFromEnv() (*Config, error) {
	topK, err := config.Int("RETRIEVAL_TOP_K", 2)
	if err != nil {
		return nil, err
	}
	timeout, err := config.Duration("GENERATE_TIMEOUT", 60*time.Second)
	if err != nil {
		return nil, err
	}
	maxTokens, err := config.Int("RETRIEVAL_MAX_CONTEXT_TOKENS", budget.DefaultMaxContextTokens)
	if err != nil {
		return nil, err
	}
	return &Config{TopK: topK, GenerateTimeout: timeout, MaxContextTokens: maxTokens}, nil
}

// Query is one question.
type Query struct {
	// Text is the user's question.
	Text string
	// DocumentID, when set, restricts retrieval to one document.
	DocumentID string
	// TopK overrides the configured number of chunks when positive.
	TopK int
}

// Answer is a grounded completion and its provenance.
type Answer struct {
	// Text is the model's answer.
	Text string
	// Chunks are the retrieved passages, best match first.
	Chunks []rag.ScoredChunk
}

// Orchestrator runs the embed → search → generate path for a question.
type Orchestrator struct {
	// chatModel produces the answer.
	chatModel model.BaseChatModel

	// retriever finds the context passages.
	retriever rag.Retriever

	// topK is the number of passages requested per question.
	topK int

	// generateTimeout bounds the chat model call.
	generateTimeout time.Duration

	// maxContextTokens is the prompt budget.
	maxContextTokens int

	// observer receives generate step timings.
	observer rag.StepObserver
}

// New constructs an Orchestrator from the provided Config.
func New(cfg *Config) (*Orchestrator, error) {
	if cfg == nil || cfg.ChatModel == nil {
		return nil, fmt.Errorf("retrieval: ChatModel must not be nil")
	}
	if cfg.Retriever == nil {
		return nil, fmt.Errorf("retrieval: Retriever must not be nil")
	}
	o := &Orchestrator{
		chatModel:        cfg.ChatModel,
		retriever:        cfg.Retriever,
		topK:             cfg.TopK,
		generateTimeout:  cfg.GenerateTimeout,
		maxContextTokens: cfg.MaxContextTokens,
		observer:         cfg.Observer,
	}
	if o.topK <= 0 {
		o.topK = 2
	}
	if o.generateTimeout <= 0 {
		o.generateTimeout = 60 * time.Second
	}
	if o.maxContextTokens <= 0 {
		o.maxContextTokens = budget.DefaultMaxContextTokens
	}
	if o.observer == nil {
		o.observer = func(string, time.Duration, error) {}
	}
	return o, nil
}

// Answer produces a grounded answer for q. An empty question is rejected
// with apperr.Validation before any provider is called. Provider failures
// are returned as a single error and never retried; an empty index yields
// an answer with no chunks.
func (o *Orchestrator) Answer(ctx context.Context, q Query) (*Answer, error) {
	const op = "retrieval.answer"
	text := strings.TrimSpace(q.Text)
	if text == "" {
		return nil, apperr.Validationf(op, "message must not be empty")
	}
	topK := q.TopK
	if topK <= 0 {
		topK = o.topK
	}

	chunks, err := o.retriever.Retrieve(ctx, text, rag.SearchOptions{TopK: topK, DocumentID: q.DocumentID})
	if err != nil {
		return nil, err
	}
	if chunks == nil {
		chunks = []rag.ScoredChunk{}
	}

	messages := o.buildMessages(ctx, text, chunks)
	reply, err := o.generate(ctx, messages)
	if err != nil {
		return nil, err
	}

	logging.FromContext(ctx).Debug("retrieval: answered",
		slog.Int("chunks", len(chunks)),
		slog.String("document_id", q.DocumentID),
	)
	return &Answer{Text: reply, Chunks: chunks}, nil
}

// generate calls the chat model under the generate timeout.
func (o *Orchestrator) generate(ctx context.Context, messages []*schema.Message) (string, error) {
	ctx, span := tracing.Start(ctx, "retrieval.generate", attribute.Int("prompt.messages", len(messages)))
	genCtx, cancel := context.WithTimeout(ctx, o.generateTimeout)
	defer cancel()

	start := time.Now()
	msg, err := o.chatModel.Generate(genCtx, messages)
	o.observer(StepGenerate, time.Since(start), err)
	tracing.End(span, err)
	if err != nil {
		return "", apperr.Classify("retrieval.generate", fmt.Errorf("retrieval: generation failed: %w", err))
	}
	if msg == nil {
		return "", fmt.Errorf("retrieval: model returned no message")
	}
	return strings.TrimSpace(msg.Content), nil
}

// buildMessages serialises the retrieved chunks into the system instruction,
// dropping the lowest ranked passages when the prompt would exceed the
// token budget.
func (o *Orchestrator) buildMessages(ctx context.Context, question string, chunks []rag.ScoredChunk) []*schema.Message {
	passages := make([]string, len(chunks))
	for i, c := range chunks {
		passages[i] = formatPassage(c)
	}

	reserved := budget.EstimateMessages([]*schema.Message{
		schema.SystemMessage(systemPrompt + contextHeader),
		schema.UserMessage(question),
	})
	fitted := budget.FitPassages(passages, reserved, o.maxContextTokens)
	if dropped := len(passages) - len(fitted); dropped > 0 {
		logging.FromContext(ctx).Warn("budget: dropped passages to fit context window",
			slog.Int("dropped", dropped),
			slog.Int("retained", len(fitted)),
			slog.Int("max_tokens", o.maxContextTokens),
		)
	}

	return []*schema.Message{
		schema.SystemMessage(buildSystemPrompt(fitted)),
		schema.UserMessage(question),
	}
}

const contextHeader = "\n\n## Context\n\n"

// buildSystemPrompt appends the context passages to the grounding rules.
func buildSystemPrompt(passages []string) string {
	var sb strings.Builder
	sb.WriteString(systemPrompt)
	sb.WriteString(contextHeader)
	if len(passages) == 0 {
		sb.WriteString(NoContextNotice)
		return sb.String()
	}
	for i, p := range passages {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(p)
	}
	return sb.String()
}

func formatPassage(c rag.ScoredChunk) string {
	return fmt.Sprintf("[page %d]\n%s", c.Page, c.Text)
}
