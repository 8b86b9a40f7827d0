package ingestion

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/54b3r/pdfrag-go/internal/apperr"
	"github.com/54b3r/pdfrag-go/internal/config"
	"github.com/54b3r/pdfrag-go/internal/logging"
	"github.com/54b3r/pdfrag-go/internal/queue"
	"github.com/54b3r/pdfrag-go/internal/tracing"
)

// PoolConfig holds the worker pool tunables.
type PoolConfig struct {
	// Concurrency is the number of concurrent workers. Defaults to 100 if zero.
	Concurrency int

	// PollInterval is how long an idle worker waits before claiming again.
	// Defaults to 500ms if zero.
	PollInterval time.Duration

	// VisibilityTimeout is the queue's lease length; leases are extended
	// every VisibilityTimeout/3 while a job runs. Defaults to 5m if zero.
	VisibilityTimeout time.Duration
}

// PoolConfigFromEnv reads WORKER_CONCURRENCY, QUEUE_POLL_INTERVAL and
// QUEUE_VISIBILITY_TIMEOUT.
func PoolConfigFromEnv() (*PoolConfig, error) {
	n, err := config.Int("WORKER_CONCURRENCY", 100)
	if err != nil {
		return nil, err
	}
	poll, err := config.Duration("QUEUE_POLL_INTERVAL", 500*time.Millisecond)
	if err != nil {
		return nil, err
	}
	vis, err := config.Duration("QUEUE_VISIBILITY_TIMEOUT", 5*time.Minute)
	if err != nil {
		return nil, err
	}
	return &PoolConfig{Concurrency: n, PollInterval: poll, VisibilityTimeout: vis}, nil
}

// Pool is a bounded set of workers that claim jobs from the queue and run
// them through the Pipeline. Workers share nothing but the queue and the
// vector index.
type Pool struct {
	queue    queue.Queue
	pipeline *Pipeline
	cfg      *PoolConfig
	metrics  *Metrics
}

// NewPool constructs a Pool. metrics may be nil.
func NewPool(q queue.Queue, pipeline *Pipeline, cfg *PoolConfig, metrics *Metrics) (*Pool, error) {
	if q == nil {
		return nil, fmt.Errorf("ingestion: queue must not be nil")
	}
	if pipeline == nil {
		return nil, fmt.Errorf("ingestion: pipeline must not be nil")
	}
	if cfg == nil {
		cfg = &PoolConfig{}
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 100
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	if cfg.VisibilityTimeout <= 0 {
		cfg.VisibilityTimeout = 5 * time.Minute
	}
	return &Pool{queue: q, pipeline: pipeline, cfg: cfg, metrics: metrics}, nil
}

// Run starts the workers and blocks until ctx is cancelled. A job that is
// in flight when ctx is cancelled runs to completion before its worker exits.
func (p *Pool) Run(ctx context.Context) error {
	log := logging.FromContext(ctx)
	log.Info("ingestion: worker pool starting",
		"concurrency", p.cfg.Concurrency,
		"poll_interval", p.cfg.PollInterval,
		"visibility_timeout", p.cfg.VisibilityTimeout,
	)

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < p.cfg.Concurrency; i++ {
		worker := i
		g.Go(func() error {
			p.work(gctx, worker)
			return nil
		})
	}
	err := g.Wait()
	log.Info("ingestion: worker pool stopped")
	return err
}

// work is one worker's claim loop.
func (p *Pool) work(ctx context.Context, worker int) {
	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if ctx.Err() != nil {
			return
		}
		lease, err := p.queue.Claim(ctx)
		if err == nil {
			p.Process(context.WithoutCancel(ctx), lease, worker)
			continue
		}
		if !errors.Is(err, queue.ErrEmpty) && ctx.Err() == nil {
			logging.FromContext(ctx).Error("ingestion: claim failed", "worker", worker, "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Process runs one leased job and settles it with Ack or Nack. While the job
// runs its lease is extended periodically; if the lease is lost the job's
// context is cancelled and the outcome is left to the queue's redelivery.
func (p *Pool) Process(ctx context.Context, lease *queue.Lease, worker int) {
	job := lease.Job
	ctx, log := logging.With(ctx,
		"job_id", job.ID,
		"document_id", job.Payload.DocumentID,
		"attempt", job.Attempt,
		"worker", worker,
	)
	ctx, span := tracing.Start(ctx, "ingest.job",
		attribute.String("job.id", job.ID),
		attribute.Int("job.attempt", job.Attempt),
	)

	p.metrics.active(1)
	defer p.metrics.active(-1)
	start := time.Now()
	log.Info("ingestion: job started")

	jobCtx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		p.heartbeat(jobCtx, cancel, lease)
	}()

	chunks, err := p.pipeline.Ingest(jobCtx, job.Payload, func(msg string) { log.Debug("ingestion: " + msg) })
	cancel()
	wg.Wait()
	tracing.End(span, err)

	elapsed := time.Since(start)
	if err == nil {
		if ackErr := p.queue.Ack(ctx, lease); ackErr != nil {
			// The chunks are in the index; redelivery will overwrite them.
			log.Warn("ingestion: ack failed", "error", ackErr)
			p.metrics.observe(outcomeLeaseLost, elapsed.Seconds(), chunks)
			return
		}
		log.Info("ingestion: job completed", "chunks", chunks, "duration", elapsed)
		p.metrics.observe(outcomeCompleted, elapsed.Seconds(), chunks)
		return
	}

	retryable := apperr.KindOf(err) != apperr.Parse
	state, nackErr := p.queue.Nack(ctx, lease, err, retryable)
	switch {
	case nackErr != nil:
		log.Warn("ingestion: nack failed", "error", nackErr, "cause", err)
		p.metrics.observe(outcomeLeaseLost, elapsed.Seconds(), 0)
	case state == queue.StateDead:
		log.Error("ingestion: job dead-lettered", "error", err, "kind", apperr.KindOf(err), "duration", elapsed)
		p.metrics.observe(outcomeDeadLettered, elapsed.Seconds(), 0)
	default:
		log.Warn("ingestion: job failed, will retry", "error", err, "kind", apperr.KindOf(err), "duration", elapsed)
		p.metrics.observe(outcomeRetried, elapsed.Seconds(), 0)
	}
}

// heartbeat extends the lease every VisibilityTimeout/3 until ctx is done.
// A lost lease cancels the job.
func (p *Pool) heartbeat(ctx context.Context, cancel context.CancelFunc, lease *queue.Lease) {
	interval := p.cfg.VisibilityTimeout / 3
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.queue.Extend(ctx, lease, p.cfg.VisibilityTimeout); err != nil {
				if ctx.Err() != nil {
					return
				}
				logging.FromContext(ctx).Warn("ingestion: lease extension failed", "error", err)
				if errors.Is(err, queue.ErrLeaseLost) {
					cancel()
					return
				}
			}
		}
	}
}
