package retrieval

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/54b3r/pdfrag-go/internal/apperr"
	"github.com/54b3r/pdfrag-go/internal/rag"
	"github.com/54b3r/pdfrag-go/internal/rag/ragtest"
)

var passageRe = regexp.MustCompile(`\[page (\d+)\]\n([^\n]+)`)

// groundedReply answers with the first context passage that shares a word
// with the question, and admits ignorance otherwise.
func groundedReply(_ context.Context, input []*schema.Message) (string, error) {
	system, question := input[0].Content, strings.ToLower(input[len(input)-1].Content)
	for _, m := range passageRe.FindAllStringSubmatch(system, -1) {
		for _, w := range strings.Fields(strings.Trim(question, "?")) {
			if len(w) > 4 && strings.Contains(strings.ToLower(m[2]), w) {
				return m[2] + " (page " + m[1] + ")", nil
			}
		}
	}
	return "That information is not available in the document.", nil
}

type fixture struct {
	embedder *ragtest.Embedder
	index    *rag.MemoryStore
	model    *ragtest.ChatModel
	steps    []string
	orch     *Orchestrator
}

func newFixture(t *testing.T, cfg *Config) *fixture {
	t.Helper()
	f := &fixture{
		embedder: &ragtest.Embedder{},
		index:    rag.NewMemoryStore(ragtest.Dim),
		model:    &ragtest.ChatModel{Reply: groundedReply},
	}
	observe := func(step string, _ time.Duration, _ error) { f.steps = append(f.steps, step) }
	retriever, err := rag.NewRetriever(f.embedder, f.index, &rag.RetrieverConfig{Observer: observe})
	require.NoError(t, err)

	if cfg == nil {
		cfg = &Config{}
	}
	cfg.ChatModel, cfg.Retriever, cfg.Observer = f.model, retriever, observe
	f.orch, err = New(cfg)
	require.NoError(t, err)
	return f
}

func (f *fixture) index3Pages(t *testing.T, docID string) {
	t.Helper()
	pages := []string{
		"Welcome to the product manual.",
		"The warranty period is 24 months.",
		"Contact support by email.",
	}
	chunks := make([]rag.Chunk, len(pages))
	for i, p := range pages {
		chunks[i] = rag.NewChunk(docID, i+1, p)
		chunks[i].Vector = ragtest.Vector(p)
	}
	require.NoError(t, f.index.Upsert(context.Background(), chunks))
}

func TestAnswer_GroundedOnRetrievedPage(t *testing.T) {
	f := newFixture(t, nil)
	f.index3Pages(t, "1-a-manual.pdf")

	ans, err := f.orch.Answer(context.Background(), Query{Text: "What is the warranty period?"})
	require.NoError(t, err)
	assert.Contains(t, ans.Text, "24 months")
	require.Len(t, ans.Chunks, 2, "default k is 2")
	assert.Equal(t, 2, ans.Chunks[0].Page)
	assert.Equal(t, []string{rag.StepEmbed, rag.StepSearch, StepGenerate}, f.steps)

	input := f.model.LastInput()
	require.Len(t, input, 2)
	assert.Equal(t, schema.System, input[0].Role)
	assert.Contains(t, input[0].Content, "Answer only from the context")
	assert.Contains(t, input[0].Content, "[page 2]\nThe warranty period is 24 months.")
	assert.Equal(t, "What is the warranty period?", input[1].Content)
}

func TestAnswer_EmptyIndexDoesNotFabricate(t *testing.T) {
	f := newFixture(t, nil)

	ans, err := f.orch.Answer(context.Background(), Query{Text: "What is the warranty period?"})
	require.NoError(t, err)
	assert.Empty(t, ans.Chunks)
	assert.NotNil(t, ans.Chunks)
	assert.Contains(t, ans.Text, "not available")
	assert.Contains(t, f.model.LastInput()[0].Content, NoContextNotice)
}

func TestAnswer_EmptyQuestionRejected(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.orch.Answer(context.Background(), Query{Text: " \t"})
	assert.Equal(t, apperr.Validation, apperr.KindOf(err))
	assert.Zero(t, f.embedder.Calls())
	assert.Zero(t, f.model.Calls())
}

func TestAnswer_ScopedToDocument(t *testing.T) {
	f := newFixture(t, nil)
	f.index3Pages(t, "doc-a")
	f.index3Pages(t, "doc-b")

	ans, err := f.orch.Answer(context.Background(), Query{Text: "warranty period", DocumentID: "doc-b", TopK: 3})
	require.NoError(t, err)
	require.Len(t, ans.Chunks, 3)
	for _, c := range ans.Chunks {
		assert.Equal(t, "doc-b", c.DocumentID)
	}
}

func TestAnswer_EmbedFailureSkipsGeneration(t *testing.T) {
	f := newFixture(t, nil)
	f.embedder.FailWith(errors.New("HTTP 503: overloaded"))

	_, err := f.orch.Answer(context.Background(), Query{Text: "warranty?"})
	require.Error(t, err)
	assert.Equal(t, apperr.Transient, apperr.KindOf(err))
	assert.Zero(t, f.model.Calls(), "no retry and no generation after a failed step")
	assert.Equal(t, 1, f.embedder.Calls())
}

func TestAnswer_GenerateTimeout(t *testing.T) {
	f := newFixture(t, &Config{GenerateTimeout: 20 * time.Millisecond})
	f.model.Reply = func(ctx context.Context, _ []*schema.Message) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}

	start := time.Now()
	_, err := f.orch.Answer(context.Background(), Query{Text: "warranty?"})
	require.Error(t, err)
	assert.Equal(t, apperr.Transient, apperr.KindOf(err))
	assert.Less(t, time.Since(start), time.Second)
}

func TestAnswer_CallerCancellationPropagates(t *testing.T) {
	f := newFixture(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	f.model.Reply = func(ctx context.Context, _ []*schema.Message) (string, error) {
		cancel()
		<-ctx.Done()
		return "", ctx.Err()
	}

	_, err := f.orch.Answer(ctx, Query{Text: "warranty?"})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAnswer_ContextBudgetDropsLowerRankedPassages(t *testing.T) {
	f := newFixture(t, &Config{MaxContextTokens: 200})
	long := strings.Repeat("warranty terms apply ", 60)
	chunks := []rag.Chunk{
		rag.NewChunk("doc", 1, "The warranty period is 24 months."),
		rag.NewChunk("doc", 2, long),
	}
	for i := range chunks {
		chunks[i].Vector = ragtest.Vector(chunks[i].Text)
	}
	require.NoError(t, f.index.Upsert(context.Background(), chunks))

	ans, err := f.orch.Answer(context.Background(), Query{Text: "What is the warranty period?"})
	require.NoError(t, err)
	assert.Len(t, ans.Chunks, 2, "provenance is returned unchanged")
	system := f.model.LastInput()[0].Content
	assert.Contains(t, system, "[page 1]")
	assert.NotContains(t, system, "[page 2]")
}

func TestNew_RequiresDependencies(t *testing.T) {
	_, err := New(&Config{})
	assert.Error(t, err)
	_, err = New(&Config{ChatModel: &ragtest.ChatModel{}})
	assert.Error(t, err)
}
