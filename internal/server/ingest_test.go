package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/54b3r/pdfrag-go/internal/ingestion"
	"github.com/54b3r/pdfrag-go/internal/pdftext"
	"github.com/54b3r/pdfrag-go/internal/pdftext/pdftexttest"
	"github.com/54b3r/pdfrag-go/internal/queue"
	"github.com/54b3r/pdfrag-go/internal/rag/ragtest"
)

// drain runs every pending job through a single-worker pool that uses the
// in-process PDF extractor.
func (st *stack) drain(t *testing.T) {
	t.Helper()

	pipeline, err := ingestion.NewPipeline(st.objects, pdftext.NewNative(), &ragtest.Embedder{}, st.index, nil)
	if err != nil {
		t.Fatalf("pipeline: %v", err)
	}
	pool, err := ingestion.NewPool(st.queue, pipeline, &ingestion.PoolConfig{Concurrency: 1}, nil)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}

	ctx := context.Background()
	for {
		lease, err := st.queue.Claim(ctx)
		if errors.Is(err, queue.ErrEmpty) {
			return
		}
		if err != nil {
			t.Fatalf("claim: %v", err)
		}
		pool.Process(ctx, lease, 0)
	}
}

// TestUploadIngestChat_ThreePageManual uploads a real three-page PDF, lets
// the worker index it and asks about the page-two warranty.
func TestUploadIngestChat_ThreePageManual(t *testing.T) {
	t.Parallel()

	st := newStack(t, 0)
	w := st.upload(t, "pdf", "application/pdf", pdftexttest.Build(manualPages...))
	if w.Code != http.StatusOK {
		t.Fatalf("upload: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var up uploadResponse
	decode(t, w.Body, &up)

	st.drain(t)

	job, err := st.queue.Get(context.Background(), up.Data.JobID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if job.State != queue.StateCompleted {
		t.Fatalf("job state: want completed, got %s (last error %q)", job.State, job.LastError)
	}
	if n := st.index.Len(); n != len(manualPages) {
		t.Errorf("index: expected %d chunks, got %d", len(manualPages), n)
	}

	w = st.do(chatRequest("How long is the warranty?", up.Data.SessionID))
	if w.Code != http.StatusOK {
		t.Fatalf("chat: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp chatResponse
	decode(t, w.Body, &resp)

	if !strings.Contains(resp.Response, "24 months") {
		t.Errorf("response: expected the warranty period, got %q", resp.Response)
	}
	if len(resp.Doc) == 0 || len(resp.Doc) > 2 {
		t.Fatalf("doc: expected 1-2 chunks, got %d", len(resp.Doc))
	}
	if resp.Doc[0].Page != 2 || resp.Doc[0].DocumentID != up.Data.DocumentID {
		t.Errorf("doc[0]: want page 2 of %s, got page %d of %s", up.Data.DocumentID, resp.Doc[0].Page, resp.Doc[0].DocumentID)
	}
	if resp.MessageCount != 1 {
		t.Errorf("messageCount: want 1, got %d", resp.MessageCount)
	}
}
