// Package consumer runs the long-lived message loop that feeds call
// ingestion jobs into the analysis pipeline. Delivery is at-least-once:
// a message is acknowledged only after the pipeline completes, and a
// failed call is re-enqueued before its original offset is committed.
// Re-enqueueing matters because commits are positional per partition:
// messages are processed concurrently, and a later offset committed by a
// successful call would otherwise advance past an earlier failed one and
// lose it. The pipeline's idempotent persistence absorbs the resulting
// redeliveries.
package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/fixadev/callwatch/internal/domain"
	"github.com/fixadev/callwatch/internal/metrics"
	"github.com/fixadev/callwatch/internal/ports"
)

// receiveRetryDelay paces reconnect attempts after transport errors.
const receiveRetryDelay = 5 * time.Second

// CallPipeline is the processing surface the consumer needs, implemented
// by pipeline.Pipeline.
type CallPipeline interface {
	Run(ctx context.Context, job domain.IngestJob) (*domain.Call, error)
}

// Consumer polls the queue and processes each message's call through the
// pipeline, up to a bounded number concurrently.
type Consumer struct {
	queue          ports.Queue
	pipeline       CallPipeline
	log            *logrus.Entry
	maxConcurrency int64
}

// New creates a consumer. maxConcurrency bounds how many calls are
// processed in parallel; values below 1 are treated as 1.
func New(queue ports.Queue, pipeline CallPipeline, maxConcurrency int, log *logrus.Logger) (*Consumer, error) {
	switch {
	case queue == nil:
		return nil, fmt.Errorf("consumer: queue cannot be nil")
	case pipeline == nil:
		return nil, fmt.Errorf("consumer: pipeline cannot be nil")
	case log == nil:
		return nil, fmt.Errorf("consumer: logger cannot be nil")
	}
	if maxConcurrency < 1 {
		maxConcurrency = 1
	}

	return &Consumer{
		queue:          queue,
		pipeline:       pipeline,
		log:            log.WithField("component", "consumer"),
		maxConcurrency: int64(maxConcurrency),
	}, nil
}

// Run consumes messages until the context ends. It returns the context's
// error after in-flight calls finish.
func (c *Consumer) Run(ctx context.Context) error {
	c.log.WithField("maxConcurrency", c.maxConcurrency).Info("queue consumer started")

	sem := semaphore.NewWeighted(c.maxConcurrency)
	var wg sync.WaitGroup

	for {
		msg, err := c.queue.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			c.log.WithError(err).Error("failed to receive message, retrying")
			select {
			case <-ctx.Done():
			case <-time.After(receiveRetryDelay):
			}
			if ctx.Err() != nil {
				break
			}
			continue
		}

		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func(msg ports.Message) {
			defer wg.Done()
			defer sem.Release(1)
			c.process(ctx, msg)
		}(msg)
	}

	wg.Wait()
	c.log.Info("queue consumer stopped")
	return ctx.Err()
}

// process handles one delivery. Malformed or invalid payloads are logged
// and acknowledged so they are not redelivered forever; pipeline failures
// re-enqueue the job for retry and then acknowledge the original
// delivery, so a concurrent commit of a later offset cannot skip it.
func (c *Consumer) process(ctx context.Context, msg ports.Message) {
	var job domain.IngestJob
	if err := json.Unmarshal(msg.Body, &job); err != nil {
		c.log.WithError(err).Error("dropping unparseable message")
		c.drop(ctx, msg)
		return
	}
	if err := job.Validate(); err != nil {
		c.log.WithError(err).WithField("callId", job.CallID).Error("dropping invalid ingest job")
		c.drop(ctx, msg)
		return
	}

	log := c.log.WithField("callId", job.CallID)
	log.Info("processing call")

	if _, err := c.pipeline.Run(ctx, job); err != nil {
		log.WithError(err).Error("pipeline failed, re-enqueueing for retry")
		c.requeue(ctx, msg, log)
		return
	}

	if err := c.queue.Acknowledge(ctx, msg); err != nil {
		log.WithError(err).Error("failed to acknowledge message")
		return
	}
	metrics.QueueMessages.WithLabelValues("processed").Inc()
}

// requeue sends the failed job back onto the queue and only then
// acknowledges the original delivery. If the re-send fails the original
// stays unacknowledged; redelivery then waits for a restart or rebalance,
// but the job is never lost. The pipeline's idempotent upsert makes
// every retry safe.
func (c *Consumer) requeue(ctx context.Context, msg ports.Message, log *logrus.Entry) {
	if err := c.queue.Send(ctx, msg.Body); err != nil {
		log.WithError(err).Error("failed to re-enqueue, leaving message unacknowledged")
		metrics.QueueMessages.WithLabelValues("requeue_failed").Inc()
		return
	}
	if err := c.queue.Acknowledge(ctx, msg); err != nil {
		log.WithError(err).Error("failed to acknowledge re-enqueued message")
		return
	}
	metrics.QueueMessages.WithLabelValues("retried").Inc()
}

func (c *Consumer) drop(ctx context.Context, msg ports.Message) {
	if err := c.queue.Acknowledge(ctx, msg); err != nil {
		c.log.WithError(err).Error("failed to acknowledge dropped message")
	}
	metrics.QueueMessages.WithLabelValues("dropped").Inc()
}
