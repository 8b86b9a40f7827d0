// Command pdfrag is the entry point for the PDF question-answering service.
// It provides a CLI interface (via Cobra) for the HTTP server, the ingestion
// worker pool and one-off uploads, questions and queue maintenance.
package main

import (
	"fmt"
	"os"

	"github.com/54b3r/pdfrag-go/cmd/pdfrag/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
