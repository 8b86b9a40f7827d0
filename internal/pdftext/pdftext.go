// Package pdftext extracts per-page plain text from PDF documents.
//
// Two extractors are provided: Native parses the document in-process with
// github.com/ledongthuc/pdf, and Poppler shells out to pdftotext, which copes
// better with unusual encodings. Both report unreadable input as an
// apperr.Parse error so the ingestion worker can dead-letter the job.
package pdftext

import (
	"context"
	"fmt"
	"io"
	"strings"
)

// Page is the text of one PDF page.
type Page struct {
	// Number is the 1-based page number.
	Number int
	// Text is the extracted text, whitespace-trimmed.
	Text string
}

// Extractor turns a PDF into one Page per page, in page order. Pages with no
// extractable text are still returned with an empty Text.
type Extractor interface {
	Extract(ctx context.Context, r io.ReaderAt, size int64) ([]Page, error)
}

// Extractor names accepted by New (PDF_EXTRACTOR).
const (
	ExtractorNative    = "native"
	ExtractorPdftotext = "pdftotext"
)

// New returns the extractor registered under name.
func New(name string) (Extractor, error) {
	switch name {
	case "", ExtractorNative:
		return NewNative(), nil
	case ExtractorPdftotext:
		return NewPoppler(nil), nil
	default:
		return nil, fmt.Errorf("pdftext: unknown extractor %q, valid values: native, pdftotext", name)
	}
}

// NonEmpty filters out pages that have no text.
func NonEmpty(pages []Page) []Page {
	out := make([]Page, 0, len(pages))
	for _, p := range pages {
		if strings.TrimSpace(p.Text) != "" {
			out = append(out, p)
		}
	}
	return out
}
