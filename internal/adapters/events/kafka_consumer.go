package events

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// KafkaConsumer reads order and checkout topics as one consumer group.
// Offsets are committed explicitly through Commit, never on read, so an event
// whose handler failed is redelivered after a restart or rebalance.
type KafkaConsumer struct {
	reader    *kafka.Reader
	quietWait time.Duration
}

func NewKafkaConsumer(brokers []string, groupID string, topics []string) (*KafkaConsumer, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka consumer requires at least one broker")
	}
	if groupID == "" {
		return nil, fmt.Errorf("kafka consumer requires group id")
	}
	if len(topics) == 0 {
		return nil, fmt.Errorf("kafka consumer requires at least one topic")
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		GroupID:        groupID,
		GroupTopics:    topics,
		MinBytes:       1,
		MaxBytes:       10e6,
		MaxWait:        500 * time.Millisecond,
		CommitInterval: 0,
		StartOffset:    kafka.FirstOffset,
	})
	return &KafkaConsumer{reader: reader, quietWait: 250 * time.Millisecond}, nil
}

// Fetch returns up to max uncommitted messages, stopping early once the
// broker goes quiet.
func (c *KafkaConsumer) Fetch(ctx context.Context, max int) ([]Message, error) {
	if max <= 0 {
		max = 1
	}
	out := make([]Message, 0, max)
	for len(out) < max {
		fetchCtx, cancel := context.WithTimeout(ctx, c.quietWait)
		msg, err := c.reader.FetchMessage(fetchCtx)
		cancel()
		if err != nil {
			switch {
			case ctx.Err() != nil:
				return out, ctx.Err()
			case errors.Is(err, context.DeadlineExceeded):
				return out, nil
			default:
				return out, err
			}
		}
		out = append(out, Message{
			Topic:     msg.Topic,
			Partition: msg.Partition,
			Offset:    msg.Offset,
			Key:       string(msg.Key),
			Payload:   msg.Value,
		})
	}
	return out, nil
}

// Commit acknowledges msgs for the group. kafka-go commits the highest offset
// per partition, so callers pass messages in the order they were handled.
func (c *KafkaConsumer) Commit(ctx context.Context, msgs ...Message) error {
	if len(msgs) == 0 {
		return nil
	}
	acks := make([]kafka.Message, 0, len(msgs))
	for _, m := range msgs {
		acks = append(acks, kafka.Message{Topic: m.Topic, Partition: m.Partition, Offset: m.Offset})
	}
	return c.reader.CommitMessages(ctx, acks...)
}

func (c *KafkaConsumer) Close() error {
	return c.reader.Close()
}
