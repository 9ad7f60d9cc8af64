package kafka

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/BearBump/ShipBox/internal/broker/messages"
	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
)

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// StatusApplier stores one decoded shipment.status_changed event.
type StatusApplier func(ctx context.Context, m messages.ShipmentStatusChanged) error

// Consumer reads shipment.status_changed events of one consumer group.
type Consumer struct {
	r messageReader
	// skip reports an apply error that no retry can fix.
	skip func(error) bool
}

func NewConsumer(brokers []string, topic, groupID string) *Consumer {
	cfg := kafka.ReaderConfig{
		Brokers:           brokers,
		GroupID:           groupID,
		StartOffset:       kafka.FirstOffset,
		MaxWait:           time.Second,
		HeartbeatInterval: 3 * time.Second,
		SessionTimeout:    30 * time.Second,
	}
	if groupID != "" {
		cfg.GroupTopics = []string{topic}
	} else {
		cfg.Topic = topic
	}
	return &Consumer{r: kafka.NewReader(cfg)}
}

func newConsumerWithReader(r messageReader) *Consumer {
	return &Consumer{r: r}
}

// WithSkip sets the filter for permanent apply errors. Such messages are
// committed and dropped, everything else stops the consumer uncommitted.
func (c *Consumer) WithSkip(fn func(error) bool) *Consumer {
	c.skip = fn
	return c
}

func (c *Consumer) Close() error {
	return c.r.Close()
}

// ConsumeStatusChanges runs until ctx is done or a message fails with an error
// the skip filter does not accept. The offset is committed only after the
// message was applied or deliberately dropped.
func (c *Consumer) ConsumeStatusChanges(ctx context.Context, apply StatusApplier) error {
	for {
		msg, err := c.r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return errors.Wrap(err, "fetch status message")
		}
		if err := c.handle(ctx, msg, apply); err != nil {
			return err
		}
		if err := c.r.CommitMessages(ctx, msg); err != nil {
			return errors.Wrapf(err, "commit offset %d", msg.Offset)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, msg kafka.Message, apply StatusApplier) error {
	var m messages.ShipmentStatusChanged
	if err := json.Unmarshal(msg.Value, &m); err != nil {
		// Битое сообщение не починится, держать партицию нельзя.
		slog.Error("bad status message",
			"partition", msg.Partition,
			"offset", msg.Offset,
			"error", err.Error(),
		)
		return nil
	}
	// Продюсеры ключуют по id отгрузки.
	if m.ShipmentID == "" {
		m.ShipmentID = string(msg.Key)
	}

	err := apply(ctx, m)
	switch {
	case err == nil:
		return nil
	case c.skip != nil && c.skip(err):
		slog.Warn("status message skipped",
			"shipment_id", m.ShipmentID,
			"status", m.Status,
			"offset", msg.Offset,
			"error", err.Error(),
		)
		return nil
	default:
		return errors.Wrapf(err, "apply status of %s", m.ShipmentID)
	}
}
