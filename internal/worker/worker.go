// Package worker implements the job consumption loop.
package worker

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/tracker-mirror/internal/catalog"
	"github.com/JakeFAU/tracker-mirror/internal/jobs"
	"github.com/JakeFAU/tracker-mirror/internal/logging"
	"github.com/JakeFAU/tracker-mirror/internal/metrics"
	"github.com/JakeFAU/tracker-mirror/internal/telemetry"
)

// Source hands out queued jobs.
type Source interface {
	Dequeue(ctx context.Context) (catalog.Delivery, error)
}

// Handler runs one job.
type Handler interface {
	Handle(ctx context.Context, job catalog.Job) error
}

// Config controls Worker behavior.
type Config struct {
	// JobTimeout bounds a single job; zero means no limit.
	JobTimeout time.Duration
	// ErrorBackoff is the pause after a failed dequeue.
	ErrorBackoff time.Duration
}

// Worker consumes jobs from a Source and runs them through a Handler.
type Worker struct {
	source  Source
	handler Handler
	cfg     Config
	logger  *zap.Logger
}

// New constructs a Worker.
func New(source Source, handler Handler, cfg Config, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ErrorBackoff <= 0 {
		cfg.ErrorBackoff = time.Second
	}
	return &Worker{source: source, handler: handler, cfg: cfg, logger: logger}
}

// Run blocks, consuming jobs until the context finishes.
func (w *Worker) Run(ctx context.Context) {
	for {
		d, err := w.source.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(w.cfg.ErrorBackoff):
			}
			continue
		}
		w.logger.Debug("dequeued job", zap.String("job", d.Job.Name), zap.String("job_id", d.Job.ID))
		w.process(ctx, d)
	}
}

func (w *Worker) process(ctx context.Context, d catalog.Delivery) {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	jobCtx := ctx
	if w.cfg.JobTimeout > 0 {
		var cancel context.CancelFunc
		jobCtx, cancel = context.WithTimeout(ctx, w.cfg.JobTimeout)
		defer cancel()
	}

	jobCtx, span := telemetry.Tracer().Start(jobCtx, d.Job.Name,
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("job.id", d.Job.ID),
			attribute.Int("job.attempt", d.Job.Attempt),
		),
	)
	defer span.End()

	logger := logging.ForJob(w.logger, d.Job)
	start := time.Now()
	err := w.handler.Handle(jobCtx, d.Job)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	switch {
	case err == nil:
		metrics.ObserveJob(d.Job.Name, "succeeded")
		logger.Debug("job finished", zap.Duration("duration", time.Since(start)))
		ack(d)
	case errors.Is(err, jobs.ErrMalformed):
		// redelivery cannot help
		metrics.ObserveJob(d.Job.Name, "dropped")
		logger.Error("dropping malformed job", zap.Error(err))
		ack(d)
	default:
		metrics.ObserveJob(d.Job.Name, "failed")
		logger.Error("job failed", zap.Duration("duration", time.Since(start)), zap.Error(err))
		nack(d)
	}
}

func ack(d catalog.Delivery) {
	if d.Ack != nil {
		d.Ack()
	}
}

func nack(d catalog.Delivery) {
	if d.Nack != nil {
		d.Nack()
	}
}
