// Package queue implements the message-queue transport port on Kafka.
package queue

import (
	"context"
	"fmt"

	"github.com/segmentio/kafka-go"

	"github.com/fixadev/callwatch/internal/ports"
)

var _ ports.Queue = (*Kafka)(nil)

// Kafka adapts a kafka-go reader/writer pair to the Queue port. Offsets
// are committed explicitly, so an unacknowledged message is redelivered
// after a consumer restart. Commits are positional per partition:
// committing an offset implicitly commits everything before it, so a
// failed message must be re-enqueued before any later offset on the
// same partition is committed.
type Kafka struct {
	reader *kafka.Reader
	writer *kafka.Writer
}

// Config holds the Kafka connection settings.
type Config struct {
	Brokers []string
	Topic   string
	GroupID string
}

// New creates a Kafka queue for the given topic and consumer group.
func New(cfg Config) *Kafka {
	return &Kafka{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers: cfg.Brokers,
			Topic:   cfg.Topic,
			GroupID: cfg.GroupID,
			// Explicit commits only; see Acknowledge.
			CommitInterval: 0,
		}),
		writer: &kafka.Writer{
			Addr:     kafka.TCP(cfg.Brokers...),
			Topic:    cfg.Topic,
			Balancer: &kafka.LeastBytes{},
		},
	}
}

// Receive blocks until a message arrives or the context ends. The
// message's offset is not committed until Acknowledge.
func (k *Kafka) Receive(ctx context.Context) (ports.Message, error) {
	msg, err := k.reader.FetchMessage(ctx)
	if err != nil {
		return ports.Message{}, fmt.Errorf("fetching message: %w", err)
	}
	return ports.Message{Body: msg.Value, Ack: msg}, nil
}

// Acknowledge commits the message's offset.
func (k *Kafka) Acknowledge(ctx context.Context, msg ports.Message) error {
	kafkaMsg, ok := msg.Ack.(kafka.Message)
	if !ok {
		return fmt.Errorf("message ack handle is %T, expected kafka.Message", msg.Ack)
	}
	if err := k.reader.CommitMessages(ctx, kafkaMsg); err != nil {
		return fmt.Errorf("committing offset: %w", err)
	}
	return nil
}

// Send enqueues a new message body on the topic.
func (k *Kafka) Send(ctx context.Context, body []byte) error {
	if err := k.writer.WriteMessages(ctx, kafka.Message{Value: body}); err != nil {
		return fmt.Errorf("writing message: %w", err)
	}
	return nil
}

// Close releases the reader and writer.
func (k *Kafka) Close() error {
	if err := k.reader.Close(); err != nil {
		return err
	}
	return k.writer.Close()
}
