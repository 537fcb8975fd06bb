// Package pubsub implements the work queue on Google Cloud Pub/Sub.
package pubsub

import (
	"context"
	"errors"
	"fmt"
	"sync"

	pubsub "cloud.google.com/go/pubsub/v2"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/JakeFAU/tracker-mirror/internal/catalog"
)

// Message attributes carrying job metadata.
const (
	AttrJobName = "job_name"
	AttrJobID   = "job_id"
)

// Queue publishes jobs to a topic and consumes them from a subscription.
type Queue struct {
	publisher  *pubsub.Publisher
	subscriber *pubsub.Subscriber
	logger     *zap.Logger

	startOnce  sync.Once
	deliveries chan catalog.Delivery
	done       chan struct{}
	recvErr    error
}

// New creates a Queue. subscriber may be nil for publish-only use.
func New(publisher *pubsub.Publisher, subscriber *pubsub.Subscriber, logger *zap.Logger) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{
		publisher:  publisher,
		subscriber: subscriber,
		logger:     logger,
		deliveries: make(chan catalog.Delivery),
		done:       make(chan struct{}),
	}
}

// Enqueue publishes the job and waits for the server to accept it.
func (q *Queue) Enqueue(ctx context.Context, job catalog.Job) error {
	if q.publisher == nil {
		return fmt.Errorf("pubsub publisher is not configured")
	}
	msg := &pubsub.Message{
		Data: job.Payload,
		Attributes: map[string]string{
			AttrJobName: job.Name,
			AttrJobID:   job.ID,
		},
	}
	otel.GetTextMapPropagator().Inject(ctx, &pubsubCarrier{attrs: msg.Attributes})

	result := q.publisher.Publish(ctx, msg)
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish %s: %w", job.Name, err)
	}
	return nil
}

// Dequeue returns the next received job. Receiving starts on first use and
// stops when ctx of that first call ends.
func (q *Queue) Dequeue(ctx context.Context) (catalog.Delivery, error) {
	if q.subscriber == nil {
		return catalog.Delivery{}, errors.New("pubsub subscriber is not configured")
	}
	q.startOnce.Do(func() { go q.receive(ctx) })

	select {
	case <-ctx.Done():
		return catalog.Delivery{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case <-q.done:
		if q.recvErr != nil {
			return catalog.Delivery{}, fmt.Errorf("receive: %w", q.recvErr)
		}
		return catalog.Delivery{}, errors.New("subscription closed")
	case d := <-q.deliveries:
		return d, nil
	}
}

func (q *Queue) receive(ctx context.Context) {
	defer close(q.done)
	err := q.subscriber.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		job := catalog.Job{
			ID:      msg.Attributes[AttrJobID],
			Name:    msg.Attributes[AttrJobName],
			Payload: msg.Data,
			Attempt: 1,
		}
		if msg.DeliveryAttempt != nil {
			job.Attempt = *msg.DeliveryAttempt
		}
		select {
		case q.deliveries <- catalog.Delivery{Job: job, Ack: msg.Ack, Nack: msg.Nack}:
		case <-ctx.Done():
			msg.Nack()
		}
	})
	if err != nil && ctx.Err() == nil {
		q.logger.Error("pubsub receive stopped", zap.Error(err))
		q.recvErr = err
	}
}

// Close flushes pending publishes.
func (q *Queue) Close() {
	if q.publisher != nil {
		q.publisher.Stop()
	}
}

// pubsubCarrier implements propagation.TextMapCarrier for Pub/Sub attributes.
type pubsubCarrier struct {
	attrs map[string]string
}

func (c *pubsubCarrier) Get(key string) string {
	return c.attrs[key]
}

func (c *pubsubCarrier) Set(key, value string) {
	c.attrs[key] = value
}

func (c *pubsubCarrier) Keys() []string {
	keys := make([]string, 0, len(c.attrs))
	for k := range c.attrs {
		keys = append(keys, k)
	}
	return keys
}
