package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	last []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	w.last = append([]kafka.Message{}, msgs...)
	return w.err
}

func TestProducer_Publish(t *testing.T) {
	fw := &fakeWriter{}
	p := newProducerWithWriter(fw)

	require.NoError(t, p.Publish(context.Background(), TopicShipmentCreated, []byte("k"), []byte("v")))
	require.Len(t, fw.last, 1)
	require.Equal(t, TopicShipmentCreated, fw.last[0].Topic)
	require.Equal(t, []byte("k"), fw.last[0].Key)
	require.Equal(t, []byte("v"), fw.last[0].Value)
}

func TestNewProducer(t *testing.T) {
	p := NewProducer([]string{"localhost:0"})
	require.NotNil(t, p)
}



type flakyPublisher struct {
	fails int
	calls int
	key   []byte
	value []byte
}

func (p *flakyPublisher) Publish(ctx context.Context, topic string, key, value []byte) error {
	p.calls++
	if p.calls <= p.fails {
		return errors.New("leader not available")
	}
	p.key, p.value = key, value
	return nil
}

func TestPublishJSON_RetriesThenSucceeds(t *testing.T) {
	fp := &flakyPublisher{fails: 1}
	err := PublishJSON(context.Background(), fp, TopicShipmentCreated, "ST-S001-Colombo", map[string]string{"shipment_id": "ST-S001-Colombo"})
	require.NoError(t, err)
	require.Equal(t, 2, fp.calls)
	require.Equal(t, []byte("ST-S001-Colombo"), fp.key)

	var got map[string]string
	require.NoError(t, json.Unmarshal(fp.value, &got))
	require.Equal(t, "ST-S001-Colombo", got["shipment_id"])
}

func TestPublishJSON_GivesUp(t *testing.T) {
	fp := &flakyPublisher{fails: 100}
	err := PublishJSON(context.Background(), fp, TopicShipmentCreated, "k", struct{}{})
	require.Error(t, err)
	require.Equal(t, PublishAttempts, fp.calls)
}

func TestPublishJSON_MarshalError(t *testing.T) {
	fp := &flakyPublisher{}
	err := PublishJSON(context.Background(), fp, TopicShipmentCreated, "k", make(chan int))
	require.Error(t, err)
	require.Zero(t, fp.calls)
}
