package server

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/54b3r/pdfrag-go/internal/apperr"
	"github.com/54b3r/pdfrag-go/internal/logging"
	"github.com/54b3r/pdfrag-go/internal/objectstore"
)

// handlePDF handles GET /pdf/{filename}, streaming a stored upload back to
// the client. Range requests are honoured so viewers can page through
// large documents.
func (s *Server) handlePDF(w http.ResponseWriter, r *http.Request) {
	const op = "server.pdf"
	ctx := r.Context()
	name := r.PathValue("filename")

	if !objectstore.ValidName(name) {
		writeError(ctx, w, apperr.E(apperr.NotFound, op, "file not found", nil))
		return
	}

	f, err := s.deps.Objects.Open(name)
	if err != nil {
		if errors.Is(err, objectstore.ErrNotFound) {
			err = apperr.E(apperr.NotFound, op, "file not found", err)
		}
		writeError(ctx, w, err)
		return
	}
	defer f.Close()

	var modTime time.Time
	if info, err := f.Stat(); err == nil {
		modTime = info.ModTime()
	} else {
		logging.FromContext(ctx).Warn("pdf: stat failed", slog.String("filename", name), slog.Any("error", err))
	}

	w.Header().Set("Content-Type", "application/pdf")
	http.ServeContent(w, r, name, modTime, f)
}
