package pdftext

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/54b3r/pdfrag-go/internal/apperr"
	"github.com/54b3r/pdfrag-go/internal/pdftext/pdftexttest"
)

// mockRunner is a test double for CommandRunner.
type mockRunner struct {
	output []byte
	err    error
	args   []string
}

func (m *mockRunner) Run(_ context.Context, _ string, args ...string) ([]byte, error) {
	m.args = args
	return m.output, m.err
}

func TestNew(t *testing.T) {
	e, err := New("")
	require.NoError(t, err)
	assert.IsType(t, &Native{}, e)

	e, err = New(ExtractorPdftotext)
	require.NoError(t, err)
	assert.IsType(t, &Poppler{}, e)

	_, err = New("ocr")
	assert.Error(t, err)
}

func TestNative_ExtractsEachPage(t *testing.T) {
	data := pdftexttest.Build(
		"Welcome to the product manual.",
		"The warranty period is 24 months (see terms).",
		"",
	)
	pages, err := NewNative().Extract(context.Background(), bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	require.Len(t, pages, 3)
	assert.Equal(t, Page{Number: 1, Text: "Welcome to the product manual."}, pages[0])
	assert.Equal(t, Page{Number: 2, Text: "The warranty period is 24 months (see terms)."}, pages[1])
	assert.Equal(t, Page{Number: 3}, pages[2])
	assert.Len(t, NonEmpty(pages), 2)
}

func TestNative_HonoursCancellation(t *testing.T) {
	data := pdftexttest.Build("one", "two")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewNative().Extract(ctx, bytes.NewReader(data), int64(len(data)))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNative_RejectsNonPDF(t *testing.T) {
	data := []byte("this is definitely not a pdf document")
	_, err := NewNative().Extract(context.Background(), bytes.NewReader(data), int64(len(data)))
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrParse)
}

func TestNative_RejectsEmpty(t *testing.T) {
	_, err := NewNative().Extract(context.Background(), bytes.NewReader(nil), 0)
	assert.ErrorIs(t, err, apperr.ErrParse)
}

func TestPoppler_SplitsOnFormFeed(t *testing.T) {
	runner := &mockRunner{output: []byte("Intro page\n\fWarranty: 24 months\n\f\n\fLast page\f")}
	data := []byte("%PDF-1.4 fake")

	pages, err := NewPoppler(runner).Extract(context.Background(), bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	require.Len(t, pages, 4)
	assert.Equal(t, Page{Number: 1, Text: "Intro page"}, pages[0])
	assert.Equal(t, Page{Number: 2, Text: "Warranty: 24 months"}, pages[1])
	assert.Equal(t, Page{Number: 3, Text: ""}, pages[2])
	assert.Equal(t, 4, pages[3].Number)

	assert.Equal(t, []string{"-layout", "-enc", "UTF-8"}, runner.args[:3])
	assert.Equal(t, "-", runner.args[len(runner.args)-1])

	nonEmpty := NonEmpty(pages)
	assert.Len(t, nonEmpty, 3)
}

func TestPoppler_CommandFailureIsParseError(t *testing.T) {
	runner := &mockRunner{err: errors.New("exit status 1")}
	data := []byte("garbage")
	_, err := NewPoppler(runner).Extract(context.Background(), bytes.NewReader(data), int64(len(data)))
	assert.ErrorIs(t, err, apperr.ErrParse)
}

func TestPoppler_MissingBinaryIsNotParseError(t *testing.T) {
	runner := &mockRunner{err: &exec.Error{Name: "pdftotext", Err: exec.ErrNotFound}}
	data := []byte("%PDF-1.4")
	_, err := NewPoppler(runner).Extract(context.Background(), bytes.NewReader(data), int64(len(data)))
	require.Error(t, err)
	assert.NotErrorIs(t, err, apperr.ErrParse)
}
