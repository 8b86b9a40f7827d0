package commands

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/54b3r/pdfrag-go/internal/gateway"
	"github.com/54b3r/pdfrag-go/internal/ingestion"
	"github.com/54b3r/pdfrag-go/internal/logging"
	"github.com/54b3r/pdfrag-go/internal/queue"
)

// NewIngestCmd constructs the `pdfrag ingest` command, which uploads a local
// PDF through the same gateway as POST /upload/pdf.
func NewIngestCmd() *cobra.Command {
	var sync bool

	cmd := &cobra.Command{
		Use:   "ingest <file.pdf>",
		Short: "Upload a PDF and queue it for indexing",
		Long: `Upload a local PDF file and enqueue its ingestion job.

The file is stored in UPLOAD_DIR and recorded in PDFRAG_DB exactly as an HTTP
upload would be. Without --sync a running 'pdfrag serve' or 'pdfrag worker'
indexes it; with --sync this process works the queue until the new job is
completed or dead-lettered. Jobs queued ahead of it in the same database are
processed first, since the queue hands out jobs in enqueue order.

Examples:
  pdfrag ingest ./manual.pdf
  pdfrag ingest --sync ./manual.pdf`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logging.New()
			ctx := logging.WithLogger(cmd.Context(), log)

			rt, err := openRuntime(log)
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}
			defer rt.Close()

			path := args[0]
			f, err := os.Open(path)
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}
			defer f.Close()
			info, err := f.Stat()
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}

			res, err := rt.gateway.Upload(ctx, gateway.Request{
				OriginalName: filepath.Base(path),
				ContentType:  mime.TypeByExtension(filepath.Ext(path)),
				Size:         info.Size(),
				Body:         f,
			})
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "document: %s\njob:      %s\nsession:  %s\n", res.Document.ID, res.JobID, res.SessionID)

			if !sync {
				return nil
			}

			pool, err := rt.newPool(ctx)
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}
			job, err := settle(ctx, rt.queue, pool, res.JobID)
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}
			fmt.Fprintf(out, "state:    %s\n", job.State)
			if job.State != queue.StateCompleted {
				if job.LastError != "" {
					return fmt.Errorf("ingest: job %s is %s: %s", job.ID, job.State, job.LastError)
				}
				return fmt.Errorf("ingest: job %s is %s", job.ID, job.State)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&sync, "sync", false, "Index the document in this process before exiting")

	return cmd
}

// syncPollInterval is how often --sync looks again while its job waits out
// a retry delay.
const syncPollInterval = 500 * time.Millisecond

// settle processes jobs inline until jobID reaches a terminal state.
func settle(ctx context.Context, q *queue.SQLiteQueue, pool *ingestion.Pool, jobID string) (*queue.Job, error) {
	for {
		job, err := q.Get(ctx, jobID)
		if err != nil {
			return nil, err
		}
		if job.State == queue.StateCompleted || job.State == queue.StateDead {
			return job, nil
		}

		lease, err := q.Claim(ctx)
		if errors.Is(err, queue.ErrEmpty) {
			// The job is backing off or held by another worker.
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(syncPollInterval):
			}
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("claim: %w", err)
		}
		pool.Process(ctx, lease, 0)
	}
}
