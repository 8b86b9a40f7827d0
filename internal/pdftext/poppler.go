package pdftext

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/54b3r/pdfrag-go/internal/apperr"
)

// CommandRunner executes an external command and returns its stdout.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// execRunner runs commands with os/exec.
type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// Poppler extracts text by running `pdftotext -layout`. pdftotext separates
// pages with form feeds, which is how page numbers are recovered.
type Poppler struct {
	runner CommandRunner
	binary string
}

// NewPoppler returns a Poppler extractor. A nil runner uses os/exec.
func NewPoppler(runner CommandRunner) *Poppler {
	if runner == nil {
		runner = execRunner{}
	}
	return &Poppler{runner: runner, binary: "pdftotext"}
}

// Extract spools the document to a temp file and converts it.
func (p *Poppler) Extract(ctx context.Context, r io.ReaderAt, size int64) ([]Page, error) {
	if size <= 0 {
		return nil, apperr.E(apperr.Parse, "pdftext.pdftotext", "empty PDF", nil)
	}

	tmp, err := os.CreateTemp("", "pdfrag-*.pdf")
	if err != nil {
		return nil, fmt.Errorf("pdftext: create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	_, err = io.Copy(tmp, io.NewSectionReader(r, 0, size))
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return nil, fmt.Errorf("pdftext: spool PDF: %w", err)
	}

	out, err := p.runner.Run(ctx, p.binary, "-layout", "-enc", "UTF-8", tmp.Name(), "-")
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return nil, fmt.Errorf("pdftext: %s not installed (brew install poppler / apt install poppler-utils): %w", p.binary, err)
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && len(exitErr.Stderr) > 0 {
			err = fmt.Errorf("%w: %s", err, strings.TrimSpace(string(exitErr.Stderr)))
		}
		return nil, apperr.E(apperr.Parse, "pdftext.pdftotext", "could not read PDF", err)
	}
	return splitPages(string(out)), nil
}

// splitPages splits pdftotext output on form feeds. pdftotext terminates
// every page with one, so the trailing empty segment is dropped.
func splitPages(out string) []Page {
	parts := strings.Split(out, "\f")
	if len(parts) > 1 && strings.TrimSpace(parts[len(parts)-1]) == "" {
		parts = parts[:len(parts)-1]
	}
	pages := make([]Page, 0, len(parts))
	for i, part := range parts {
		pages = append(pages, Page{Number: i + 1, Text: strings.TrimSpace(part)})
	}
	return pages
}
