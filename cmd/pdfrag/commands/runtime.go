package commands

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/54b3r/pdfrag-go/internal/config"
	"github.com/54b3r/pdfrag-go/internal/embedder"
	"github.com/54b3r/pdfrag-go/internal/gateway"
	"github.com/54b3r/pdfrag-go/internal/ingestion"
	"github.com/54b3r/pdfrag-go/internal/objectstore"
	"github.com/54b3r/pdfrag-go/internal/pdftext"
	"github.com/54b3r/pdfrag-go/internal/provider"
	"github.com/54b3r/pdfrag-go/internal/queue"
	"github.com/54b3r/pdfrag-go/internal/rag"
	"github.com/54b3r/pdfrag-go/internal/retrieval"
	"github.com/54b3r/pdfrag-go/internal/session"
	"github.com/54b3r/pdfrag-go/internal/store"
	"github.com/54b3r/pdfrag-go/internal/tracing"
	"github.com/54b3r/pdfrag-go/internal/version"
)

// runtime holds the components shared by the serve, worker, ingest, ask and
// jobs commands. Fields are populated lazily by the open* methods so each
// command only connects to what it uses.
type runtime struct {
	log      *slog.Logger
	registry *prometheus.Registry

	db       *sql.DB
	docs     *store.SQLiteStore
	queue    *queue.SQLiteQueue
	objects  *objectstore.Store
	sessions *session.Governor
	gateway  *gateway.Gateway

	embedder rag.Embedder
	index    rag.VectorStore

	closers []func()
}

// openRuntime opens the SQLite database and the components that live on it:
// metadata store, job queue, object store, session governor and gateway.
func openRuntime(log *slog.Logger) (*runtime, error) {
	rt := &runtime{log: log, registry: prometheus.NewRegistry()}
	rt.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	dbPath := config.Path("PDFRAG_DB", "")
	if dbPath == "" {
		p, err := store.DefaultDBPath()
		if err != nil {
			return nil, err
		}
		dbPath = p
	}
	db, err := store.OpenDB(dbPath)
	if err != nil {
		return nil, err
	}
	rt.db = db
	rt.closers = append(rt.closers, func() { _ = db.Close() })
	log.Info("database opened", slog.String("path", dbPath))

	if rt.docs, err = store.New(db); err != nil {
		rt.Close()
		return nil, err
	}

	qcfg, err := queue.ConfigFromEnv()
	if err != nil {
		rt.Close()
		return nil, err
	}
	if rt.queue, err = queue.NewSQLite(db, qcfg); err != nil {
		rt.Close()
		return nil, err
	}
	rt.registry.MustRegister(queue.NewDepthCollector(rt.queue))

	uploadDir := config.Path("UPLOAD_DIR", "./uploads")
	if rt.objects, err = objectstore.NewOS(uploadDir); err != nil {
		rt.Close()
		return nil, err
	}

	limit, err := session.LimitFromEnv()
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.sessions = session.New(rt.docs, limit)

	maxBytes, err := gateway.MaxBytesFromEnv()
	if err != nil {
		rt.Close()
		return nil, err
	}
	if rt.gateway, err = gateway.New(rt.objects, rt.docs, rt.queue, rt.sessions, maxBytes); err != nil {
		rt.Close()
		return nil, err
	}
	return rt, nil
}

// openIndex builds the embedder and connects to the vector index selected
// by VECTOR_BACKEND.
func (rt *runtime) openIndex(ctx context.Context) error {
	if rt.index != nil {
		return nil
	}
	if err := embedder.Validate(rt.log); err != nil {
		return err
	}
	emb, err := embedder.NewFromEnv()
	if err != nil {
		return fmt.Errorf("failed to initialise embedder: %w", err)
	}
	rt.embedder = emb

	index, err := buildVectorStore(ctx, rt.log)
	if err != nil {
		return err
	}
	rt.index = index
	rt.closers = append(rt.closers, func() { _ = index.Close() })
	return nil
}

// buildVectorStore constructs the vector index named by VECTOR_BACKEND.
func buildVectorStore(ctx context.Context, log *slog.Logger) (rag.VectorStore, error) {
	backend := config.String("VECTOR_BACKEND", "qdrant")
	dim := embedder.DefaultDimensions(embedder.Backend())

	switch backend {
	case "qdrant":
		port, err := config.Int("QDRANT_PORT", 6334)
		if err != nil {
			return nil, err
		}
		cfg := &rag.QdrantConfig{
			Host:       config.String("QDRANT_HOST", "localhost"),
			Port:       port,
			Collection: config.String("QDRANT_COLLECTION", "pdf-rag"),
			VectorSize: uint64(dim), //nolint:gosec // dimensions are bounded
			APIKey:     os.Getenv("QDRANT_API_KEY"),
			UseTLS:     config.Bool("QDRANT_TLS"),
		}
		s, err := rag.NewQdrantStore(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to Qdrant at %s:%d: %w", cfg.Host, cfg.Port, err)
		}
		log.Info("qdrant store ready",
			slog.String("host", cfg.Host),
			slog.Int("port", cfg.Port),
			slog.String("collection", cfg.Collection),
			slog.Int("dimensions", dim),
		)
		return s, nil
	case "pgvector":
		dsn := os.Getenv("PGVECTOR_DSN")
		if dsn == "" {
			return nil, errors.New("VECTOR_BACKEND=pgvector requires PGVECTOR_DSN")
		}
		s, err := rag.NewPGVectorStore(ctx, &rag.PGVectorConfig{
			DSN:        dsn,
			Table:      config.String("PGVECTOR_TABLE", "pdf_rag_chunks"),
			VectorSize: dim,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to connect to pgvector: %w", err)
		}
		log.Info("pgvector store ready", slog.Int("dimensions", dim))
		return s, nil
	case "memory":
		log.Warn("using the in-memory vector index, indexed documents are lost on exit")
		return rag.NewMemoryStore(dim), nil
	default:
		return nil, fmt.Errorf("unknown VECTOR_BACKEND %q (want qdrant, pgvector or memory)", backend)
	}
}

// newPool builds the ingestion pipeline and worker pool.
func (rt *runtime) newPool(ctx context.Context) (*ingestion.Pool, error) {
	if err := rt.openIndex(ctx); err != nil {
		return nil, err
	}
	extractor, err := pdftext.New(config.String("PDF_EXTRACTOR", "native"))
	if err != nil {
		return nil, err
	}
	pcfg, err := ingestion.ConfigFromEnv()
	if err != nil {
		return nil, err
	}
	pipeline, err := ingestion.NewPipeline(rt.objects, extractor, rt.embedder, rt.index, pcfg)
	if err != nil {
		return nil, err
	}
	poolCfg, err := ingestion.PoolConfigFromEnv()
	if err != nil {
		return nil, err
	}
	return ingestion.NewPool(rt.queue, pipeline, poolCfg, ingestion.NewMetrics(rt.registry))
}

// chat bundles the orchestrator with the model it drives, for readiness probes.
type chat struct {
	orchestrator *retrieval.Orchestrator
	provider     *provider.Config
	model        model.ToolCallingChatModel
}

// newChat builds the chat model, retriever and orchestrator. observer may be nil.
func (rt *runtime) newChat(ctx context.Context, observer rag.StepObserver) (*chat, error) {
	if err := rt.openIndex(ctx); err != nil {
		return nil, err
	}
	chatModel, providerCfg, err := provider.NewFromEnv(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialise model provider: %w", err)
	}
	rt.log.Info("provider initialised", slog.String("provider", string(providerCfg.Backend)))

	searchTimeout, err := config.Duration("SEARCH_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, err
	}
	embedTimeout, err := config.Duration("EMBED_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, err
	}
	rcfg, err := retrieval.ConfigFromEnv()
	if err != nil {
		return nil, err
	}
	retriever, err := rag.NewRetriever(rt.embedder, rt.index, &rag.RetrieverConfig{
		DefaultTopK:   rcfg.TopK,
		EmbedTimeout:  embedTimeout,
		SearchTimeout: searchTimeout,
		Observer:      observer,
	})
	if err != nil {
		return nil, err
	}
	rcfg.ChatModel, rcfg.Retriever, rcfg.Observer = chatModel, retriever, observer
	orch, err := retrieval.New(rcfg)
	if err != nil {
		return nil, err
	}
	return &chat{orchestrator: orch, provider: providerCfg, model: chatModel}, nil
}

// startTracing enables Langfuse and OpenTelemetry when configured and
// registers their flush functions with the runtime.
func (rt *runtime) startTracing(ctx context.Context) error {
	if flush, ok := tracing.SetupLangfuse(); ok {
		rt.closers = append(rt.closers, flush)
		rt.log.Info("langfuse tracing enabled")
	} else {
		rt.log.Info("langfuse tracing disabled", slog.String("reason", "LANGFUSE_PUBLIC_KEY not set"))
	}

	tp, err := tracing.InitOTel(ctx, tracing.OTelConfig{
		ServiceVersion: version.Version,
		Endpoint:       os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		Insecure:       config.Bool("OTEL_EXPORTER_OTLP_INSECURE"),
	})
	if err != nil {
		return err
	}
	rt.closers = append(rt.closers, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			rt.log.Warn("tracing: shutdown failed", slog.Any("error", err))
		}
	})
	return nil
}

// Close releases everything opened by the runtime, newest first.
func (rt *runtime) Close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i]()
	}
	rt.closers = nil
}
