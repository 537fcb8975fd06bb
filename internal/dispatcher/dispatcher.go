// Package dispatcher manages worker fan-out over the job queue.
package dispatcher

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/tracker-mirror/internal/catalog"
	"github.com/JakeFAU/tracker-mirror/internal/worker"
)

// IdlePoll is how often RunUntilIdle checks the backlog.
const IdlePoll = 50 * time.Millisecond

// Backlog reports jobs a queue has accepted and not yet settled, in-flight
// ones included.
type Backlog interface {
	Pending() int64
}

// Dispatcher fans out queue work to a pool of workers. It is also the
// catalog.Queue handed to job producers, so follow-up jobs go through it.
type Dispatcher struct {
	queue   catalog.Queue
	workers []*worker.Worker
	logger  *zap.Logger
}

// New creates a Dispatcher.
func New(queue catalog.Queue, workers []*worker.Worker, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		queue:   queue,
		workers: workers,
		logger:  logger,
	}
}

// Run starts all workers and blocks until the context finishes.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, w := range d.workers {
		wg.Add(1)
		go func(wk *worker.Worker) {
			defer wg.Done()
			wk.Run(ctx)
		}(w)
	}
	<-ctx.Done()
	wg.Wait()
}

// RunUntilIdle starts the workers, runs seed, and returns once backlog is
// empty, so every job seed schedules, directly or through other jobs, has
// been worked off. Workers are stopped before it returns.
func (d *Dispatcher) RunUntilIdle(ctx context.Context, backlog Backlog, seed func(context.Context) error) error {
	workCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		d.Run(workCtx)
	}()
	defer func() {
		cancel()
		<-done
	}()

	if err := seed(ctx); err != nil {
		return err
	}
	ticker := time.NewTicker(IdlePoll)
	defer ticker.Stop()
	for backlog.Pending() > 0 {
		select {
		case <-ctx.Done():
			return fmt.Errorf("drain queue: %w", ctx.Err())
		case <-ticker.C:
		}
	}
	return nil
}

// Enqueue proxies to the underlying queue.
func (d *Dispatcher) Enqueue(ctx context.Context, job catalog.Job) error {
	if err := d.queue.Enqueue(ctx, job); err != nil {
		return fmt.Errorf("queue enqueue: %w", err)
	}
	d.logger.Debug("job enqueued", zap.String("job", job.Name), zap.String("job_id", job.ID))
	return nil
}
