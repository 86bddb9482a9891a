package kafka

import (
	"context"
	stderrors "errors"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockKafkaReader replays a fixed message list, then blocks until ctx ends.
type mockKafkaReader struct {
	messages  []kafka.Message
	committed []int64
	commitErr error
	closed    bool
}

func (m *mockKafkaReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	if len(m.messages) > 0 {
		msg := m.messages[0]
		m.messages = m.messages[1:]
		return msg, nil
	}
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (m *mockKafkaReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	if m.commitErr != nil {
		return m.commitErr
	}
	for _, msg := range msgs {
		m.committed = append(m.committed, msg.Offset)
	}
	return nil
}

func (m *mockKafkaReader) Close() error {
	m.closed = true
	return nil
}

func newTestConsumerConfig() ConsumerConfig {
	return ConsumerConfig{
		Brokers: []string{"localhost:9092"},
		GroupID: "test-group",
	}
}

func envelopeMessage(t *testing.T, offset int64, payload any) kafka.Message {
	t.Helper()
	env, err := NewEventEnvelope("test.event", "test", payload)
	require.NoError(t, err)
	msg, err := env.ToMessage(TopicRealizations)
	require.NoError(t, err)
	return kafka.Message{Topic: msg.Topic, Offset: offset, Value: msg.Value}
}

func TestValidateConsumerConfig(t *testing.T) {
	assert.NoError(t, ValidateConsumerConfig(newTestConsumerConfig()))

	cfg := newTestConsumerConfig()
	cfg.Brokers = nil
	assert.Error(t, ValidateConsumerConfig(cfg))

	cfg = newTestConsumerConfig()
	cfg.GroupID = ""
	assert.Error(t, ValidateConsumerConfig(cfg))

	cfg = newTestConsumerConfig()
	cfg.AutoOffsetReset = "middle"
	assert.Error(t, ValidateConsumerConfig(cfg))
}

func TestConsume_HandlesAndCommits(t *testing.T) {
	reader := &mockKafkaReader{messages: []kafka.Message{
		envelopeMessage(t, 0, map[string]int{"trial": 0}),
		envelopeMessage(t, 1, map[string]int{"trial": 1}),
	}}
	c := newConsumer(reader, newTestConsumerConfig(), nil)

	var trials []int
	err := c.Consume(context.Background(), func(_ context.Context, env *EventEnvelope) error {
		var p map[string]int
		if err := env.DecodePayload(&p); err != nil {
			return err
		}
		trials = append(trials, p["trial"])
		if len(trials) == 2 {
			return ErrStopConsuming
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1}, trials)
	assert.Equal(t, []int64{0, 1}, reader.committed)
	assert.Equal(t, int64(2), c.Processed())
}

func TestConsume_SkipsUndecodableMessages(t *testing.T) {
	reader := &mockKafkaReader{messages: []kafka.Message{
		{Topic: TopicRealizations, Offset: 0, Value: []byte("not json")},
		envelopeMessage(t, 1, 1),
	}}
	c := newConsumer(reader, newTestConsumerConfig(), nil)

	calls := 0
	err := c.Consume(context.Background(), func(context.Context, *EventEnvelope) error {
		calls++
		return ErrStopConsuming
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, []int64{0, 1}, reader.committed)
	assert.Equal(t, int64(1), c.Failed())
}

func TestConsume_RetriesHandler(t *testing.T) {
	reader := &mockKafkaReader{messages: []kafka.Message{envelopeMessage(t, 5, 1)}}
	cfg := newTestConsumerConfig()
	cfg.MaxRetries = 2
	cfg.RetryBackoff = 1
	c := newConsumer(reader, cfg, nil)

	calls := 0
	err := c.Consume(context.Background(), func(context.Context, *EventEnvelope) error {
		calls++
		if calls < 3 {
			return stderrors.New("transient")
		}
		return ErrStopConsuming
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, int64(1), c.Processed())
}

func TestConsume_StopsOnCancel(t *testing.T) {
	reader := &mockKafkaReader{}
	c := newConsumer(reader, newTestConsumerConfig(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, c.Consume(ctx, func(context.Context, *EventEnvelope) error { return nil }))
}

func TestConsume_CommitFailure(t *testing.T) {
	reader := &mockKafkaReader{
		messages:  []kafka.Message{envelopeMessage(t, 0, 1)},
		commitErr: stderrors.New("rebalance"),
	}
	c := newConsumer(reader, newTestConsumerConfig(), nil)
	err := c.Consume(context.Background(), func(context.Context, *EventEnvelope) error { return nil })
	assert.Error(t, err)
}

func TestConsumer_Close(t *testing.T) {
	reader := &mockKafkaReader{}
	c := newConsumer(reader, newTestConsumerConfig(), nil)
	require.NoError(t, c.Close())
	assert.True(t, reader.closed)
}
