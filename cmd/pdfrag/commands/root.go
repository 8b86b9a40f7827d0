// Package commands defines all Cobra CLI commands for the pdfrag binary.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/54b3r/pdfrag-go/internal/audit"
	"github.com/54b3r/pdfrag-go/internal/config"
	"github.com/54b3r/pdfrag-go/internal/logging"
)

// configPath holds the --config flag value for YAML config file override.
var configPath string

// loadedConfigPath stores the resolved config file path for audit logging.
var loadedConfigPath string

// NewRootCmd constructs the root Cobra command that all subcommands attach to.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "pdfrag",
		Short: "pdfrag answers questions about the PDFs you upload",
		Long: `pdfrag is a retrieval-augmented question-answering service for PDF documents.

Uploaded PDFs are stored, queued and indexed page by page in a vector store
by a pool of background workers. Questions are answered by a chat model
that is only allowed to use the passages retrieved for them.

Model and embedding providers are selected via MODEL_PROVIDER and
EMBEDDING_PROVIDER or a YAML config file (~/.pdfrag/config.yaml).
See 'pdfrag --help' for available commands.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			log := logging.New()

			// Load YAML config (env vars always override YAML values).
			path, err := config.Load(configPath, log)
			if err != nil {
				return err
			}
			loadedConfigPath = path

			audit.LogCommandStart(cmd.Context(), log, cmd.Name(), loadedConfigPath)

			return nil
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file (default: ~/.pdfrag/config.yaml)")

	root.AddCommand(
		NewServeCmd(),
		NewWorkerCmd(),
		NewIngestCmd(),
		NewAskCmd(),
		NewJobsCmd(),
		NewVersionCmd(),
	)

	return root
}
