package kafka

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

type Producer struct {
	w messageWriter
}

func NewProducer(brokers []string) *Producer {
	return &Producer{
		w: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Balancer:               &kafka.Hash{},
			AllowAutoTopicCreation: true,
		},
	}
}

func newProducerWithWriter(w messageWriter) *Producer {
	return &Producer{w: w}
}

func (p *Producer) Close() error {
	if c, ok := p.w.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}

func (p *Producer) Publish(ctx context.Context, topic string, key, value []byte) error {
	if err := p.w.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   key,
		Value: value,
	}); err != nil {
		return errors.Wrap(err, "kafka publish")
	}
	return nil
}

type Publisher interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

// PublishAttempts is how many times PublishJSON tries before giving up.
var PublishAttempts = 3

// PublishJSON marshals v and publishes it keyed by key. Kafka may be not ready
// right after docker compose starts, so a few short retries are made.
func PublishJSON(ctx context.Context, p Publisher, topic, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return errors.Wrap(err, "marshal kafka msg")
	}

	var pubErr error
	for i := 0; i < PublishAttempts; i++ {
		if pubErr = p.Publish(ctx, topic, []byte(key), b); pubErr == nil {
			return nil
		}
		slog.Warn("kafka publish failed", "topic", topic, "key", key, "attempt", i+1, "error", pubErr.Error())
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(150*(i+1)) * time.Millisecond):
		}
	}
	return pubErr
}
