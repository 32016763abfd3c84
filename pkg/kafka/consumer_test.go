package kafka

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodedMessage(t *testing.T, offset int64, eventID string) kafka.Message {
	t.Helper()
	event, err := NewEvent("RESERVE", "SKU-1|store-1", "product", "svc", stockPayload{SKU: "SKU-1"})
	require.NoError(t, err)
	event.WithEventID(eventID)
	data, err := event.Marshal()
	require.NoError(t, err)
	return kafka.Message{Topic: "stocksync.inventory.events", Offset: offset, Key: event.Key(), Value: data}
}

func runUntilDrained(t *testing.T, c *Consumer, r *fakeReader) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Start(ctx) }()

	select {
	case <-r.drained:
	case <-time.After(5 * time.Second):
		t.Fatal("consumer did not drain queue")
	}
	cancel()
	require.NoError(t, <-done)
}

func TestConsumer_HandlesAndCommits(t *testing.T) {
	r := newFakeReader(encodedMessage(t, 1, "e1"), encodedMessage(t, 2, "e2"))

	var seen []string
	handler := func(_ context.Context, e *Event) error {
		seen = append(seen, e.EventID)
		return nil
	}
	c := NewConsumerWithReader(r, ConsumerConfig{Topic: "stocksync.inventory.events", GroupID: "central"}, handler, testLogger())

	runUntilDrained(t, c, r)

	assert.Equal(t, []string{"e1", "e2"}, seen)
	assert.Len(t, r.commits(), 2)
}

func TestConsumer_RetriesThenDeadLetters(t *testing.T) {
	r := newFakeReader(encodedMessage(t, 5, "bad"))
	dlqWriter := &fakeWriter{}

	var calls atomic.Int32
	handler := func(context.Context, *Event) error {
		calls.Add(1)
		return errors.New("db unavailable")
	}
	c := NewConsumerWithReader(r, ConsumerConfig{
		Topic:      "stocksync.inventory.events",
		GroupID:    "central",
		MaxRetries: 2,
		RetryDelay: time.Millisecond,
	}, handler, testLogger()).WithDLQ(NewDLQProducerWithWriter(dlqWriter, testLogger()))

	runUntilDrained(t, c, r)

	assert.Equal(t, int32(2), calls.Load())
	assert.Len(t, r.commits(), 1)

	dlq := dlqWriter.written()
	require.Len(t, dlq, 1)
	assert.Equal(t, "stocksync.dlq.stocksync.inventory.events", dlq[0].Topic)
}

func TestConsumer_UndecodableGoesToDLQ(t *testing.T) {
	r := newFakeReader(kafka.Message{Topic: "stocksync.inventory.events", Offset: 9, Value: []byte("garbage")})
	dlqWriter := &fakeWriter{}

	called := false
	handler := func(context.Context, *Event) error {
		called = true
		return nil
	}
	c := NewConsumerWithReader(r, ConsumerConfig{Topic: "stocksync.inventory.events", GroupID: "central"}, handler, testLogger()).
		WithDLQ(NewDLQProducerWithWriter(dlqWriter, testLogger()))

	runUntilDrained(t, c, r)

	assert.False(t, called)
	assert.Len(t, dlqWriter.written(), 1)
	assert.Len(t, r.commits(), 1)
}

func TestConsumer_IncompleteEnvelopeGoesToDLQ(t *testing.T) {
	r := newFakeReader(kafka.Message{
		Topic:  "stocksync.inventory.events",
		Offset: 11,
		Value:  []byte(`{"event_id":"e-partial","event_type":"RESERVE","data":{"sku":"SKU-1"}}`),
	})
	dlqWriter := &fakeWriter{}

	called := false
	handler := func(context.Context, *Event) error {
		called = true
		return nil
	}
	c := NewConsumerWithReader(r, ConsumerConfig{Topic: "stocksync.inventory.events", GroupID: "central"}, handler, testLogger()).
		WithDLQ(NewDLQProducerWithWriter(dlqWriter, testLogger()))

	runUntilDrained(t, c, r)

	assert.False(t, called)
	require.Len(t, dlqWriter.written(), 1)
	assert.Len(t, r.commits(), 1)
}

func TestConsumer_CloseIsIdempotent(t *testing.T) {
	r := newFakeReader()
	c := NewConsumerWithReader(r, ConsumerConfig{}, nil, testLogger())
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	assert.True(t, r.closed)
}
