package commands

import (
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/54b3r/pdfrag-go/internal/logging"
)

// NewWorkerCmd constructs the `pdfrag worker` command, which runs only the
// ingestion worker pool against the shared job queue.
func NewWorkerCmd() *cobra.Command {
	var metricsAddr string

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run the ingestion worker pool",
		Long: `Run the ingestion worker pool without the HTTP server.

Workers claim jobs from the queue in PDFRAG_DB, read the uploaded PDF from
UPLOAD_DIR, extract and embed each page and write the chunks to the vector
index. WORKER_CONCURRENCY sets the number of workers (default 100).

Examples:
  pdfrag worker
  WORKER_CONCURRENCY=8 pdfrag worker --metrics-addr :9100`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			rt, err := openRuntime(log)
			if err != nil {
				return fmt.Errorf("worker: %w", err)
			}
			defer rt.Close()

			if err := rt.startTracing(ctx); err != nil {
				return fmt.Errorf("worker: %w", err)
			}

			pool, err := rt.newPool(ctx)
			if err != nil {
				return fmt.Errorf("worker: %w", err)
			}

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error { return pool.Run(gctx) })
			if metricsAddr != "" {
				mux := http.NewServeMux()
				mux.Handle("GET /metrics", promhttp.HandlerFor(rt.registry, promhttp.HandlerOpts{}))
				ms := &http.Server{Addr: metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
				g.Go(func() error {
					log.Info("worker metrics listening", slog.String("addr", metricsAddr))
					if err := ms.ListenAndServe(); err != nil && err != http.ErrServerClosed {
						return fmt.Errorf("worker: metrics listener: %w", err)
					}
					return nil
				})
				g.Go(func() error {
					<-gctx.Done()
					return ms.Close()
				})
			}
			return g.Wait()
		},
	}

	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Address to expose /metrics on (disabled if empty)")

	return cmd
}
