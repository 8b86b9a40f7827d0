package server

import (
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"

	"github.com/54b3r/pdfrag-go/internal/apperr"
	"github.com/54b3r/pdfrag-go/internal/gateway"
	"github.com/54b3r/pdfrag-go/internal/logging"
)

// uploadField is the multipart field carrying the PDF.
const uploadField = "pdf"

// multipartOverhead is allowed on top of the file limit for boundaries and
// part headers.
const multipartOverhead = 1 << 20

// handleUpload handles POST /upload/pdf. The "pdf" part is streamed straight
// into the gateway, which enforces the media type and size limit before the
// document is recorded and its ingestion job enqueued.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	const op = "server.upload"
	ctx := r.Context()

	r.Body = http.MaxBytesReader(w, r.Body, s.deps.Gateway.MaxBytes()+multipartOverhead)

	mr, err := r.MultipartReader()
	if err != nil {
		s.metrics.uploadsTotal.WithLabelValues(outcomeRejected).Inc()
		writeError(ctx, w, apperr.Validationf(op, "expected a multipart/form-data body with a %q file field", uploadField))
		return
	}

	part, err := findPart(mr, uploadField)
	if err != nil {
		s.metrics.uploadsTotal.WithLabelValues(outcomeRejected).Inc()
		writeError(ctx, w, uploadReadError(op, err))
		return
	}
	defer part.Close()

	res, err := s.deps.Gateway.Upload(ctx, gateway.Request{
		OriginalName: part.FileName(),
		ContentType:  part.Header.Get("Content-Type"),
		Size:         -1,
		Body:         part,
	})
	if err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			err = apperr.Validationf(op, "file exceeds the %d byte limit", s.deps.Gateway.MaxBytes())
		}
		outcome := outcomeError
		if apperr.KindOf(err) == apperr.Validation {
			outcome = outcomeRejected
		}
		s.metrics.uploadsTotal.WithLabelValues(outcome).Inc()
		writeError(ctx, w, err)
		return
	}

	s.metrics.uploadsTotal.WithLabelValues(outcomeOK).Inc()
	s.metrics.uploadBytes.Observe(float64(res.Document.SizeBytes))
	logging.FromContext(ctx).Info("upload accepted",
		slog.String("document_id", res.Document.ID),
		slog.String("job_id", res.JobID),
	)

	writeJSON(ctx, w, http.StatusOK, uploadResponse{
		Message: "File uploaded successfully",
		Data: uploadData{
			Filename:   res.Document.ID,
			URL:        publicURL(r, "/pdf/"+url.PathEscape(res.Document.ID)),
			DocumentID: res.Document.ID,
			JobID:      res.JobID,
			SessionID:  res.SessionID,
		},
	})
}

// errNoFilePart marks a multipart body without the expected file field.
var errNoFilePart = errors.New("no file part")

// findPart advances mr to the named part, discarding any parts before it.
func findPart(mr *multipart.Reader, field string) (*multipart.Part, error) {
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return nil, errNoFilePart
		}
		if err != nil {
			return nil, err
		}
		if part.FormName() == field {
			return part, nil
		}
		_ = part.Close()
	}
}

// uploadReadError classifies a failure to locate the file part.
func uploadReadError(op string, err error) error {
	var mbe *http.MaxBytesError
	switch {
	case errors.Is(err, errNoFilePart):
		return apperr.Validationf(op, "no file provided in the %q field", uploadField)
	case errors.As(err, &mbe):
		return apperr.Validationf(op, "request body is too large")
	default:
		return apperr.E(apperr.Validation, op, "malformed multipart body", err)
	}
}

// publicURL builds an absolute URL for path on the host the client used.
func publicURL(r *http.Request, path string) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if p := r.Header.Get("X-Forwarded-Proto"); p == "http" || p == "https" {
		scheme = p
	}
	return scheme + "://" + r.Host + path
}
