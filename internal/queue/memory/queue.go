// Package memory provides a work queue for local development.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/JakeFAU/tracker-mirror/internal/catalog"
)

// DefaultMaxAttempts bounds redeliveries of a failing job.
const DefaultMaxAttempts = 3

// ErrClosed is returned once the queue has been closed.
var ErrClosed = errors.New("queue closed")

// Queue is a bounded in-memory queue with context-aware operations. Nacked
// jobs are put back until they have been attempted maxAttempts times.
type Queue struct {
	ch          chan catalog.Job
	maxAttempts int
	done        chan struct{}
	closeOnce   sync.Once
	dropped     atomic.Int64
	pending     atomic.Int64
}

// NewQueue constructs a new queue with the provided capacity.
func NewQueue(capacity, maxAttempts int) *Queue {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Queue{
		ch:          make(chan catalog.Job, capacity),
		maxAttempts: maxAttempts,
		done:        make(chan struct{}),
	}
}

// Enqueue pushes a job into the queue. On a full queue it waits for room
// until the context ends or the queue closes.
func (q *Queue) Enqueue(ctx context.Context, job catalog.Job) error {
	if q.isClosed() {
		return ErrClosed
	}
	if job.Attempt == 0 {
		job.Attempt = 1
	}
	q.pending.Add(1)
	select {
	case q.ch <- job:
		return nil
	default:
	}
	select {
	case <-ctx.Done():
		q.pending.Add(-1)
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case <-q.done:
		q.pending.Add(-1)
		return ErrClosed
	case q.ch <- job:
		return nil
	}
}

// Dequeue pops the next job, respecting context cancellation.
func (q *Queue) Dequeue(ctx context.Context) (catalog.Delivery, error) {
	select {
	case <-ctx.Done():
		return catalog.Delivery{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case <-q.done:
		return catalog.Delivery{}, ErrClosed
	case job := <-q.ch:
		return catalog.Delivery{
			Job:  job,
			Ack:  func() { q.pending.Add(-1) },
			Nack: func() { q.retry(job) },
		}, nil
	}
}

// Len reports the number of queued jobs.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Pending counts jobs enqueued but not yet acked or dropped, including the
// ones currently being handled.
func (q *Queue) Pending() int64 {
	return q.pending.Load()
}

// Dropped counts jobs discarded after their last attempt or on a full queue.
func (q *Queue) Dropped() int64 {
	return q.dropped.Load()
}

func (q *Queue) retry(job catalog.Job) {
	if q.isClosed() || job.Attempt >= q.maxAttempts {
		q.drop()
		return
	}
	job.Attempt++
	select {
	case q.ch <- job:
	default:
		q.drop()
	}
}

func (q *Queue) drop() {
	q.dropped.Add(1)
	q.pending.Add(-1)
}

func (q *Queue) isClosed() bool {
	select {
	case <-q.done:
		return true
	default:
		return false
	}
}

// Close stops the queue for shutdown and releases blocked callers. Jobs
// still buffered are abandoned.
func (q *Queue) Close() {
	q.closeOnce.Do(func() { close(q.done) })
}
