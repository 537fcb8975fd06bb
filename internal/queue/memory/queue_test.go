package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/JakeFAU/tracker-mirror/internal/catalog"
)

func TestQueueEnqueueDequeue(t *testing.T) {
	t.Parallel()

	q := NewQueue(1, 0)
	result := make(chan catalog.Delivery, 1)
	errCh := make(chan error, 1)

	go func() {
		d, err := q.Dequeue(context.Background())
		if err != nil {
			errCh <- err
			return
		}
		result <- d
	}()

	time.Sleep(10 * time.Millisecond) // allow goroutine to start
	if err := q.Enqueue(context.Background(), catalog.Job{ID: "job-1", Name: "render_feed"}); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	select {
	case err := <-errCh:
		t.Fatalf("Dequeue() error = %v", err)
	case got := <-result:
		if got.Job.ID != "job-1" || got.Job.Attempt != 1 {
			t.Fatalf("expected first attempt of job-1, got %+v", got.Job)
		}
	case <-time.After(time.Second):
		t.Fatal("dequeue did not return job")
	}
}

func TestQueueCancelationErrors(t *testing.T) {
	t.Parallel()

	q := NewQueue(1, 0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := q.Dequeue(ctx); err == nil ||
		err.Error() != "dequeue canceled: context canceled" {
		t.Fatalf("expected dequeue cancel error, got %v", err)
	}

	if err := q.Enqueue(context.Background(), catalog.Job{ID: "primed"}); err != nil {
		t.Fatalf("failed to prime queue: %v", err)
	}
	if err := q.Enqueue(ctx, catalog.Job{ID: "blocked"}); err == nil ||
		err.Error() != "enqueue canceled: context canceled" {
		t.Fatalf("expected enqueue cancel error, got %v", err)
	}
}

func TestQueueNackRedeliversUntilMaxAttempts(t *testing.T) {
	t.Parallel()

	q := NewQueue(4, 2)
	ctx := context.Background()
	if err := q.Enqueue(ctx, catalog.Job{ID: "job-1"}); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	first, err := q.Dequeue(ctx)
	if err != nil {
		t.Fatalf("Dequeue() error = %v", err)
	}
	first.Nack()

	second, err := q.Dequeue(ctx)
	if err != nil {
		t.Fatalf("Dequeue() error = %v", err)
	}
	if second.Job.Attempt != 2 {
		t.Fatalf("expected attempt 2, got %d", second.Job.Attempt)
	}
	second.Nack()

	if q.Len() != 0 {
		t.Fatalf("expected job to be dropped, queue has %d", q.Len())
	}
	if q.Dropped() != 1 {
		t.Fatalf("expected one dropped job, got %d", q.Dropped())
	}
	if q.Pending() != 0 {
		t.Fatalf("expected nothing pending, got %d", q.Pending())
	}
}

func TestQueuePendingTracksAcks(t *testing.T) {
	t.Parallel()

	q := NewQueue(4, 1)
	ctx := context.Background()
	for _, id := range []string{"a", "b"} {
		if err := q.Enqueue(ctx, catalog.Job{ID: id}); err != nil {
			t.Fatalf("Enqueue() error = %v", err)
		}
	}
	if q.Pending() != 2 {
		t.Fatalf("expected 2 pending, got %d", q.Pending())
	}

	d, err := q.Dequeue(ctx)
	if err != nil {
		t.Fatalf("Dequeue() error = %v", err)
	}
	if q.Pending() != 2 {
		t.Fatalf("in-flight job must stay pending, got %d", q.Pending())
	}
	d.Ack()
	if q.Pending() != 1 {
		t.Fatalf("expected 1 pending after ack, got %d", q.Pending())
	}
}

func TestQueueClose(t *testing.T) {
	t.Parallel()

	q := NewQueue(1, 0)
	q.Close()
	q.Close()
	if _, err := q.Dequeue(context.Background()); err == nil {
		t.Fatal("expected error from closed queue")
	}
	if err := q.Enqueue(context.Background(), catalog.Job{ID: "late"}); err == nil {
		t.Fatal("expected error enqueueing on closed queue")
	}
}

func TestQueueCloseReleasesBlockedEnqueue(t *testing.T) {
	t.Parallel()

	q := NewQueue(1, 0)
	ctx := context.Background()
	if err := q.Enqueue(ctx, catalog.Job{ID: "primed", Name: "render_feed"}); err != nil {
		t.Fatalf("failed to prime queue: %v", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- q.Enqueue(ctx, catalog.Job{ID: "blocked", Name: "render_feed"})
	}()
	time.Sleep(10 * time.Millisecond) // let the producer block on the full queue

	closed := make(chan struct{})
	go func() {
		q.Close()
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatal("Close() blocked behind a producer waiting on a full queue")
	}

	select {
	case err := <-errCh:
		if !errors.Is(err, ErrClosed) {
			t.Fatalf("expected ErrClosed, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("blocked Enqueue() was not released by Close()")
	}
	if q.Pending() != 1 {
		t.Fatalf("expected only the primed job pending, got %d", q.Pending())
	}
}
