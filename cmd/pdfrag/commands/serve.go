package commands

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/54b3r/pdfrag-go/internal/config"
	"github.com/54b3r/pdfrag-go/internal/logging"
	"github.com/54b3r/pdfrag-go/internal/server"
)

// NewServeCmd constructs the `pdfrag serve` command, which starts the HTTP
// server and, unless --no-worker is given, the ingestion worker pool.
func NewServeCmd() *cobra.Command {
	var host string
	var port int
	var noWorker bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the pdfrag HTTP server and ingestion workers",
		Long: `Start the pdfrag HTTP server.

The server accepts PDF uploads on POST /upload/pdf, answers questions on
GET /chat?message=..., and serves stored documents on GET /pdf/{filename}.
Uploaded documents are indexed by a worker pool running in the same process
unless --no-worker is set, in which case run 'pdfrag worker' separately
against the same PDFRAG_DB and UPLOAD_DIR.

Examples:
  pdfrag serve
  pdfrag serve --port 9090
  VECTOR_BACKEND=memory MODEL_PROVIDER=ollama pdfrag serve`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			log.Info("serve starting",
				slog.String("provider", os.Getenv("MODEL_PROVIDER")),
				slog.Bool("worker", !noWorker),
			)

			rt, err := openRuntime(log)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			defer rt.Close()

			if err := rt.startTracing(ctx); err != nil {
				return fmt.Errorf("serve: %w", err)
			}

			c, err := rt.newChat(ctx, server.NewStepObserver(rt.registry))
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}

			pingers := []server.Pinger{rt.docs}
			if p, ok := rt.index.(server.Pinger); ok {
				pingers = append(pingers, p)
			}
			pingers = append(pingers, server.NewLLMPinger(c.model, c.provider, string(c.provider.Backend)))

			rateLimit, err := config.Float("PDFRAG_RATE_LIMIT_RPS", 0)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			rateBurst, err := config.Int("PDFRAG_RATE_LIMIT_BURST", 0)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			if !cmd.Flags().Changed("host") {
				host = config.String("PDFRAG_HOST", host)
			}
			if !cmd.Flags().Changed("port") {
				if port, err = config.Int("PDFRAG_PORT", port); err != nil {
					return fmt.Errorf("serve: %w", err)
				}
			}

			srv, err := server.New(server.Deps{
				Gateway:      rt.gateway,
				Orchestrator: c.orchestrator,
				Objects:      rt.objects,
				Sessions:     rt.sessions,
				Documents:    rt.docs,
				Jobs:         rt.queue,
			}, &server.Config{
				Host:            host,
				Port:            port,
				Logger:          log,
				Pingers:         pingers,
				RateLimit:       rateLimit,
				RateBurst:       rateBurst,
				APIKey:          os.Getenv("PDFRAG_API_KEY"),
				MetricsRegistry: rt.registry,
				MetricsGatherer: rt.registry,
			})
			if err != nil {
				return fmt.Errorf("serve: failed to create server: %w", err)
			}

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error { return srv.Start(gctx) })
			if !noWorker {
				pool, err := rt.newPool(ctx)
				if err != nil {
					return fmt.Errorf("serve: %w", err)
				}
				g.Go(func() error { return pool.Run(gctx) })
			}
			return g.Wait()
		},
	}

	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "Host address to bind to")
	cmd.Flags().IntVarP(&port, "port", "p", 8080, "TCP port to listen on")
	cmd.Flags().BoolVar(&noWorker, "no-worker", false, "Do not run the ingestion worker pool in this process")

	return cmd
}
