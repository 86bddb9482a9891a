package kafka

import (
	"context"
	stderrors "errors"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockKafkaConn struct {
	created  []kafka.TopicConfig
	existing map[string]bool
	err      error
}

func (m *mockKafkaConn) CreateTopics(topics ...kafka.TopicConfig) error {
	if m.err != nil {
		return m.err
	}
	m.created = append(m.created, topics...)
	return nil
}

func (m *mockKafkaConn) ReadPartitions(topics ...string) ([]kafka.Partition, error) {
	var out []kafka.Partition
	for _, t := range topics {
		if m.existing[t] {
			out = append(out, kafka.Partition{Topic: t})
		}
	}
	return out, nil
}

func (m *mockKafkaConn) Close() error { return nil }

func TestDefaultTopics(t *testing.T) {
	defaults := DefaultTopics()
	require.Len(t, defaults, 2)
	assert.Equal(t, TopicRealizations, defaults[0].Name)
}

func TestEnsureTopics_CreatesMissingOnly(t *testing.T) {
	conn := &mockKafkaConn{existing: map[string]bool{TopicDeadLetter: true}}
	m := newTopicManager(conn, nil)

	require.NoError(t, m.EnsureTopics(context.Background(), DefaultTopics()))
	require.Len(t, conn.created, 1)
	assert.Equal(t, TopicRealizations, conn.created[0].Topic)
	assert.Equal(t, "retention.ms", conn.created[0].ConfigEntries[0].ConfigName)
	require.NoError(t, m.Close())
}

func TestCreateTopic_Validation(t *testing.T) {
	m := newTopicManager(&mockKafkaConn{}, nil)
	ctx := context.Background()
	assert.Error(t, m.CreateTopic(ctx, TopicConfig{}))
	assert.Error(t, m.CreateTopic(ctx, TopicConfig{Name: "x", ReplicationFactor: 1}))
	assert.Error(t, m.CreateTopic(ctx, TopicConfig{Name: "x", NumPartitions: 1}))
}

func TestCreateTopic_Failure(t *testing.T) {
	m := newTopicManager(&mockKafkaConn{err: stderrors.New("denied")}, nil)
	err := m.CreateTopic(context.Background(), TopicConfig{Name: "x", NumPartitions: 1, ReplicationFactor: 1})
	assert.Error(t, err)
}

func TestEventEnvelope_RoundTrip(t *testing.T) {
	env, err := NewEventEnvelope("e", "src", []float64{1.5, 2})
	require.NoError(t, err)
	assert.NotEmpty(t, env.EventID)
	assert.Equal(t, "v1", env.SchemaVersion)

	msg, err := env.ToMessage("topic")
	require.NoError(t, err)
	assert.Equal(t, "e", msg.Headers["event_type"])

	decoded, err := MessageToEventEnvelope(kafka.Message{Value: msg.Value})
	require.NoError(t, err)
	var got []float64
	require.NoError(t, decoded.DecodePayload(&got))
	assert.Equal(t, []float64{1.5, 2}, got)

	_, err = MessageToEventEnvelope(kafka.Message{})
	assert.Error(t, err)
	assert.Error(t, (&EventEnvelope{}).DecodePayload(&got))
}
