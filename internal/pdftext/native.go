package pdftext

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/54b3r/pdfrag-go/internal/apperr"
)

// Native extracts text in-process.
type Native struct{}

// NewNative returns a Native extractor.
func NewNative() *Native { return &Native{} }

// Extract reads every page's plain text. The parser panics on some
// malformed inputs; those panics are returned as Parse errors.
func (n *Native) Extract(ctx context.Context, r io.ReaderAt, size int64) (pages []Page, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			pages = nil
			err = apperr.E(apperr.Parse, "pdftext.native", "malformed PDF", fmt.Errorf("pdftext: parser panic: %v", rec))
		}
	}()

	if size <= 0 {
		return nil, apperr.E(apperr.Parse, "pdftext.native", "empty PDF", nil)
	}
	reader, err := pdf.NewReader(r, size)
	if err != nil {
		return nil, apperr.E(apperr.Parse, "pdftext.native", "could not open PDF", err)
	}

	total := reader.NumPage()
	pages = make([]Page, 0, total)
	for i := 1; i <= total; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page := reader.Page(i)
		if page.V.IsNull() {
			pages = append(pages, Page{Number: i})
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return nil, apperr.E(apperr.Parse, "pdftext.native", fmt.Sprintf("could not read page %d", i), err)
		}
		pages = append(pages, Page{Number: i, Text: strings.TrimSpace(text)})
	}
	return pages, nil
}
