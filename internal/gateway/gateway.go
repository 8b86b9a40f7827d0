// Package gateway accepts uploaded PDFs: it validates them, stores the bytes,
// records the document, enqueues its ingestion job and opens a chat session,
// then returns without waiting for indexing. An upload either ends with a
// durable job or leaves nothing behind.
package gateway

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/54b3r/pdfrag-go/internal/apperr"
	"github.com/54b3r/pdfrag-go/internal/config"
	"github.com/54b3r/pdfrag-go/internal/logging"
	"github.com/54b3r/pdfrag-go/internal/objectstore"
	"github.com/54b3r/pdfrag-go/internal/queue"
	"github.com/54b3r/pdfrag-go/internal/store"
	"github.com/54b3r/pdfrag-go/internal/tracing"
)

// DefaultMaxBytes is the upload size limit (5 MiB).
const DefaultMaxBytes int64 = 5 << 20

// DocumentStore records uploaded documents.
type DocumentStore interface {
	CreateDocument(ctx context.Context, d *store.Document) error
	SetDocumentJob(ctx context.Context, documentID, jobID string) error
	DeleteDocument(ctx context.Context, id string) error
}

// Enqueuer is the producer side of the job queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, p queue.Payload) (*queue.Job, error)
}

// SessionStarter opens a chat session for a new document.
type SessionStarter interface {
	Create(ctx context.Context, documentID, pdfName string) (*store.Session, error)
}

// Request is one upload.
type Request struct {
	// OriginalName is the client-supplied file name.
	OriginalName string
	// ContentType is the declared media type.
	ContentType string
	// Size is the declared size, or -1 when unknown.
	Size int64
	// Body streams the file contents.
	Body io.Reader
}

// Result describes an accepted upload.
type Result struct {
	Document  *store.Document
	JobID     string
	SessionID string
}

// Gateway is the upload entry point.
type Gateway struct {
	objects  *objectstore.Store
	docs     DocumentStore
	queue    Enqueuer
	sessions SessionStarter
	maxBytes int64
}

// New constructs a Gateway. sessions may be nil, in which case no session is
// opened on upload. A non-positive maxBytes selects DefaultMaxBytes.
func New(objects *objectstore.Store, docs DocumentStore, q Enqueuer, sessions SessionStarter, maxBytes int64) (*Gateway, error) {
	if objects == nil || docs == nil || q == nil {
		return nil, fmt.Errorf("gateway: object store, document store and queue are required")
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &Gateway{objects: objects, docs: docs, queue: q, sessions: sessions, maxBytes: maxBytes}, nil
}

// MaxBytesFromEnv reads UPLOAD_MAX_BYTES.
func MaxBytesFromEnv() (int64, error) {
	return config.Int64("UPLOAD_MAX_BYTES", DefaultMaxBytes)
}

// MaxBytes returns the upload size limit.
func (g *Gateway) MaxBytes() int64 { return g.maxBytes }

// Upload validates and persists req and enqueues its ingestion job.
// Validation failures, the size limit included, happen before anything is
// written. If the session or the job cannot be created the stored object,
// document row and session are removed; a failed enqueue is reported as
// apperr.QueueDelivery.
func (g *Gateway) Upload(ctx context.Context, req Request) (*Result, error) {
	const op = "gateway.upload"
	ctx, span := tracing.Start(ctx, "upload",
		attribute.String("upload.name", req.OriginalName),
		attribute.Int64("upload.size", req.Size),
	)
	res, err := g.upload(ctx, op, req)
	tracing.End(span, err)
	return res, err
}

func (g *Gateway) upload(ctx context.Context, op string, req Request) (*Result, error) {
	if !IsPDF(req.ContentType) {
		return nil, apperr.Validationf(op, "only PDF files are allowed, got %q", req.ContentType)
	}
	if req.Size > g.maxBytes {
		return nil, apperr.Validationf(op, "file exceeds the %d byte limit", g.maxBytes)
	}
	if req.Size == 0 {
		return nil, apperr.Validationf(op, "file is empty")
	}
	if req.Body == nil {
		return nil, apperr.Validationf(op, "no file provided")
	}

	// The body is read in full, one byte past the limit, so an oversized or
	// empty upload is rejected before the object store sees it.
	data, err := io.ReadAll(io.LimitReader(req.Body, g.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("gateway: read upload: %w", err)
	}
	if int64(len(data)) > g.maxBytes {
		return nil, apperr.Validationf(op, "file exceeds the %d byte limit", g.maxBytes)
	}
	if len(data) == 0 {
		return nil, apperr.Validationf(op, "file is empty")
	}

	name := g.objects.NewName(req.OriginalName)
	n, err := g.objects.Put(name, bytes.NewReader(data), g.maxBytes)
	if err != nil {
		return nil, fmt.Errorf("gateway: store upload: %w", err)
	}

	ctx, log := logging.With(ctx, "document_id", name)
	doc := &store.Document{
		ID:           name,
		OriginalName: objectstore.SanitiseName(req.OriginalName),
		ContentType:  "application/pdf",
		SizeBytes:    n,
		Path:         g.objects.Path(name),
	}
	if err := g.docs.CreateDocument(ctx, doc); err != nil {
		_ = g.objects.Remove(name)
		return nil, fmt.Errorf("gateway: record document: %w", err)
	}

	// The session is opened before the job exists; once enqueued, the upload
	// can no longer fail. Deleting the document row also drops its sessions.
	var sessionID string
	if g.sessions != nil {
		sess, err := g.sessions.Create(ctx, name, doc.OriginalName)
		if err != nil {
			g.rollback(ctx, name)
			return nil, fmt.Errorf("gateway: open session: %w", err)
		}
		sessionID = sess.ID
	}

	job, err := g.queue.Enqueue(ctx, queue.Payload{
		Filename:    name,
		Destination: g.objects.Dir(),
		Path:        doc.Path,
		DocumentID:  name,
	})
	if err != nil {
		g.rollback(ctx, name)
		log.Error("gateway: enqueue failed, upload rolled back", "error", err)
		return nil, apperr.E(apperr.QueueDelivery, op, "could not schedule the document for indexing", err)
	}
	if err := g.docs.SetDocumentJob(ctx, name, job.ID); err != nil {
		// The job is durable and will index the document regardless.
		log.Warn("gateway: could not link job to document", "job_id", job.ID, "error", err)
	}
	doc.JobID = job.ID

	res := &Result{Document: doc, JobID: job.ID, SessionID: sessionID}
	log.Info("gateway: upload accepted", "job_id", job.ID, "size_bytes", n, "session_id", res.SessionID)
	return res, nil
}

func (g *Gateway) rollback(ctx context.Context, name string) {
	log := logging.FromContext(ctx)
	if err := g.docs.DeleteDocument(ctx, name); err != nil && apperr.KindOf(err) != apperr.NotFound {
		log.Warn("gateway: rollback document row", "error", err)
	}
	if err := g.objects.Remove(name); err != nil {
		log.Warn("gateway: rollback stored object", "error", err)
	}
}

// IsPDF reports whether a declared media type denotes a PDF. Parameters are
// ignored and the bare token "pdf" is accepted.
func IsPDF(contentType string) bool {
	ct := strings.TrimSpace(strings.ToLower(contentType))
	if ct == "pdf" {
		return true
	}
	mt, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return false
	}
	return mt == "application/pdf"
}
