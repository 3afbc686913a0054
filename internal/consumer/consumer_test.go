package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fixadev/callwatch/internal/domain"
	"github.com/fixadev/callwatch/internal/ports"
)

// fakeQueue models Kafka's positional commits: every message carries an
// integer offset, and committing an offset implicitly commits everything
// below it. Send appends at the tail, like re-enqueueing on a topic.
type fakeQueue struct {
	mu           sync.Mutex
	messages     chan ports.Message
	acked        []ports.Message
	sent         [][]byte
	sendErr      error
	nextOffset   int
	maxCommitted int
}

func newFakeQueue(bodies ...[]byte) *fakeQueue {
	q := &fakeQueue{
		messages:     make(chan ports.Message, len(bodies)+8),
		nextOffset:   len(bodies),
		maxCommitted: -1,
	}
	for i, body := range bodies {
		q.messages <- ports.Message{Body: body, Ack: i}
	}
	return q
}

func (q *fakeQueue) Receive(ctx context.Context) (ports.Message, error) {
	select {
	case msg := <-q.messages:
		return msg, nil
	case <-ctx.Done():
		return ports.Message{}, ctx.Err()
	}
}

func (q *fakeQueue) Acknowledge(_ context.Context, msg ports.Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.acked = append(q.acked, msg)
	if offset := msg.Ack.(int); offset > q.maxCommitted {
		q.maxCommitted = offset
	}
	return nil
}

func (q *fakeQueue) Send(_ context.Context, body []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.sendErr != nil {
		return q.sendErr
	}
	q.sent = append(q.sent, body)
	q.messages <- ports.Message{Body: body, Ack: q.nextOffset}
	q.nextOffset++
	return nil
}

func (q *fakeQueue) ackCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.acked)
}

func (q *fakeQueue) sentCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.sent)
}

func (q *fakeQueue) committedOffset() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.maxCommitted
}

type fakePipeline struct {
	mu       sync.Mutex
	err      error
	failOnce map[string]error
	jobs     []domain.IngestJob
}

func (p *fakePipeline) Run(_ context.Context, job domain.IngestJob) (*domain.Call, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.jobs = append(p.jobs, job)
	if err, ok := p.failOnce[job.CallID]; ok {
		delete(p.failOnce, job.CallID)
		return nil, err
	}
	if p.err != nil {
		return nil, p.err
	}
	return &domain.Call{CustomerCallID: job.CallID}, nil
}

func (p *fakePipeline) jobCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.jobs)
}

func (p *fakePipeline) jobCountFor(callID string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, job := range p.jobs {
		if job.CallID == callID {
			n++
		}
	}
	return n
}

func discardLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func jobBody(t *testing.T) []byte {
	return jobBodyFor(t, "call-1")
}

func jobBodyFor(t *testing.T, callID string) []byte {
	t.Helper()
	body, err := json.Marshal(domain.IngestJob{
		CallID:       callID,
		RecordingURL: "https://example.com/rec.wav",
		OwnerID:      "owner-1",
		CreatedAt:    time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	return body
}

func TestConsumerAcknowledgesAfterSuccess(t *testing.T) {
	queue := newFakeQueue(jobBody(t))
	pipe := &fakePipeline{}
	c, err := New(queue, pipe, 2, discardLogger())
	require.NoError(t, err)

	c.process(context.Background(), ports.Message{Body: jobBody(t), Ack: 0})

	assert.Equal(t, 1, pipe.jobCount())
	assert.Equal(t, 1, queue.ackCount())
	assert.Zero(t, queue.sentCount())
}

func TestConsumerRequeuesFailedMessageThenAcknowledges(t *testing.T) {
	queue := newFakeQueue()
	pipe := &fakePipeline{err: errors.New("transcription down")}
	c, err := New(queue, pipe, 2, discardLogger())
	require.NoError(t, err)

	body := jobBody(t)
	c.process(context.Background(), ports.Message{Body: body, Ack: 0})

	assert.Equal(t, 1, pipe.jobCount())
	require.Equal(t, 1, queue.sentCount(), "failed calls go back on the queue")
	assert.Equal(t, body, queue.sent[0])
	assert.Equal(t, 1, queue.ackCount(), "original delivery is acknowledged after the re-send")
}

func TestConsumerLeavesMessageUnacknowledgedWhenRequeueFails(t *testing.T) {
	queue := newFakeQueue()
	queue.sendErr = errors.New("broker unreachable")
	pipe := &fakePipeline{err: errors.New("transcription down")}
	c, err := New(queue, pipe, 2, discardLogger())
	require.NoError(t, err)

	c.process(context.Background(), ports.Message{Body: jobBody(t), Ack: 0})

	assert.Equal(t, 1, pipe.jobCount())
	assert.Zero(t, queue.ackCount(), "offset stays uncommitted so a restart redelivers")
}

// A failed call must survive a later offset on the same partition being
// committed by a concurrent success. Committing offset 1 implicitly
// commits offset 0, so without the re-send the first call would be lost.
func TestConsumerFailedCallSurvivesPositionalCommits(t *testing.T) {
	queue := newFakeQueue(jobBodyFor(t, "call-1"), jobBodyFor(t, "call-2"))
	pipe := &fakePipeline{failOnce: map[string]error{"call-1": errors.New("scorer down")}}
	c, err := New(queue, pipe, 2, discardLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	require.Eventually(t, func() bool { return pipe.jobCountFor("call-1") == 2 },
		2*time.Second, 10*time.Millisecond, "first call is retried after its failure")
	require.Eventually(t, func() bool { return queue.ackCount() == 3 },
		2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("consumer did not stop after cancellation")
	}

	assert.Equal(t, 1, pipe.jobCountFor("call-2"))
	assert.Equal(t, 1, queue.sentCount())
	assert.Equal(t, 2, queue.committedOffset(), "commit advanced past the retry's offset")
}

func TestConsumerDropsUnparseableMessage(t *testing.T) {
	queue := newFakeQueue()
	pipe := &fakePipeline{}
	c, err := New(queue, pipe, 2, discardLogger())
	require.NoError(t, err)

	c.process(context.Background(), ports.Message{Body: []byte("not json"), Ack: 0})

	assert.Zero(t, pipe.jobCount(), "unparseable payloads never reach the pipeline")
	assert.Equal(t, 1, queue.ackCount(), "poison messages are acknowledged, not redelivered")
}

func TestConsumerDropsInvalidJob(t *testing.T) {
	queue := newFakeQueue()
	pipe := &fakePipeline{}
	c, err := New(queue, pipe, 2, discardLogger())
	require.NoError(t, err)

	body, err := json.Marshal(domain.IngestJob{CallID: "call-1"})
	require.NoError(t, err)

	c.process(context.Background(), ports.Message{Body: body, Ack: 0})

	assert.Zero(t, pipe.jobCount())
	assert.Equal(t, 1, queue.ackCount())
}

func TestConsumerRunProcessesUntilCancelled(t *testing.T) {
	queue := newFakeQueue(jobBody(t), jobBody(t))
	pipe := &fakePipeline{}
	c, err := New(queue, pipe, 2, discardLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	require.Eventually(t, func() bool { return queue.ackCount() == 2 },
		2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("consumer did not stop after cancellation")
	}

	assert.Equal(t, 2, pipe.jobCount())
}

func TestConsumerNewValidation(t *testing.T) {
	log := discardLogger()
	queue := newFakeQueue()
	pipe := &fakePipeline{}

	_, err := New(nil, pipe, 1, log)
	assert.Error(t, err)
	_, err = New(queue, nil, 1, log)
	assert.Error(t, err)
	_, err = New(queue, pipe, 1, nil)
	assert.Error(t, err)

	c, err := New(queue, pipe, 0, log)
	require.NoError(t, err)
	assert.Equal(t, int64(1), c.maxConcurrency, "concurrency below 1 is clamped")
}
