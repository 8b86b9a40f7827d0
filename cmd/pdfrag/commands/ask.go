package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/54b3r/pdfrag-go/internal/logging"
	"github.com/54b3r/pdfrag-go/internal/retrieval"
)

// NewAskCmd constructs the `pdfrag ask` command, which answers one question
// from the indexed documents and prints the answer and its sources.
func NewAskCmd() *cobra.Command {
	var documentID string
	var topK int

	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask a question about the indexed documents",
		Long: `Ask a natural language question about the uploaded PDFs.

The question is embedded, the closest pages are retrieved from the vector
index and the chat model answers using only those pages. Use --document to
restrict retrieval to one upload.

Examples:
  pdfrag ask "how long is the warranty?"
  pdfrag ask --document 1718000000000-abc-manual.pdf "who do I contact for support?"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logging.New()
			ctx := logging.WithLogger(cmd.Context(), log)

			rt, err := openRuntime(log)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}
			defer rt.Close()

			if err := rt.startTracing(ctx); err != nil {
				return fmt.Errorf("ask: %w", err)
			}

			c, err := rt.newChat(ctx, nil)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}

			ans, err := c.orchestrator.Answer(ctx, retrieval.Query{Text: args[0], DocumentID: documentID, TopK: topK})
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, ans.Text)
			if len(ans.Chunks) > 0 {
				fmt.Fprintln(out, "\nSources:")
				for _, ch := range ans.Chunks {
					fmt.Fprintf(out, "  %s page %d (score %.3f)\n", ch.DocumentID, ch.Page, ch.Score)
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&documentID, "document", "d", "", "Restrict retrieval to this document ID")
	cmd.Flags().IntVarP(&topK, "top-k", "k", 0, "Number of passages to retrieve (default RETRIEVAL_TOP_K)")

	return cmd
}
