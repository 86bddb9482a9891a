package kafka

import (
	"context"
	stderrors "errors"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/turtacn/GradeSim/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/GradeSim/pkg/errors"
	"github.com/turtacn/GradeSim/pkg/types/common"
)

// ErrStopConsuming may be returned by a handler to end Consume after the
// current message is committed.
var ErrStopConsuming = stderrors.New("stop consuming")

// ConsumerConfig holds configuration for the Consumer.
type ConsumerConfig struct {
	Brokers         []string       `mapstructure:"brokers"`
	GroupID         string         `mapstructure:"group_id"`
	Topic           string         `mapstructure:"topic"`
	AutoOffsetReset string         `mapstructure:"auto_offset_reset"`
	MaxWait         time.Duration  `mapstructure:"max_wait"`
	MaxRetries      int            `mapstructure:"max_retries"`
	RetryBackoff    time.Duration  `mapstructure:"retry_backoff"`
	DeadLetterTopic string         `mapstructure:"dead_letter_topic"`
	Security        SecurityConfig `mapstructure:"security"`
}

// ConsumerMetrics holds consumer counters.
type ConsumerMetrics struct {
	MessagesConsumed     atomic.Int64
	MessagesProcessed    atomic.Int64
	MessagesFailed       atomic.Int64
	MessagesDeadLettered atomic.Int64
}

// ReaderInterface abstracts kafka.Reader for testing.
type ReaderInterface interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// EnvelopeHandler processes one decoded event.
type EnvelopeHandler func(ctx context.Context, env *EventEnvelope) error

// Consumer reads realization events with a consumer group.
type Consumer struct {
	reader     ReaderInterface
	config     ConsumerConfig
	logger     logging.Logger
	deadLetter *Producer
	metrics    *ConsumerMetrics
}

// NewConsumer creates a new Consumer.
func NewConsumer(cfg ConsumerConfig, logger logging.Logger) (*Consumer, error) {
	if err := ValidateConsumerConfig(cfg); err != nil {
		return nil, err
	}
	cfg = withConsumerDefaults(cfg)

	tlsConfig, mech, err := cfg.Security.build()
	if err != nil {
		return nil, err
	}
	readerCfg := kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		GroupID:     cfg.GroupID,
		Topic:       cfg.Topic,
		MaxWait:     cfg.MaxWait,
		StartOffset: kafka.FirstOffset,
		Dialer: &kafka.Dialer{
			Timeout:       10 * time.Second,
			DualStack:     true,
			TLS:           tlsConfig,
			SASLMechanism: mech,
		},
	}
	if cfg.AutoOffsetReset == "latest" {
		readerCfg.StartOffset = kafka.LastOffset
	}

	c := newConsumer(kafka.NewReader(readerCfg), cfg, logger)
	if cfg.DeadLetterTopic != "" {
		dl, err := NewProducer(ProducerConfig{
			Brokers:  cfg.Brokers,
			Topic:    cfg.DeadLetterTopic,
			Security: cfg.Security,
		}, logger)
		if err != nil {
			return nil, err
		}
		c.deadLetter = dl
	}
	return c, nil
}

func newConsumer(r ReaderInterface, cfg ConsumerConfig, logger logging.Logger) *Consumer {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Consumer{
		reader:  r,
		config:  withConsumerDefaults(cfg),
		logger:  logger.Named("kafka"),
		metrics: &ConsumerMetrics{},
	}
}

func withConsumerDefaults(cfg ConsumerConfig) ConsumerConfig {
	if cfg.Topic == "" {
		cfg.Topic = TopicRealizations
	}
	if cfg.AutoOffsetReset == "" {
		cfg.AutoOffsetReset = "earliest"
	}
	if cfg.MaxWait == 0 {
		cfg.MaxWait = time.Second
	}
	if cfg.RetryBackoff == 0 {
		cfg.RetryBackoff = 200 * time.Millisecond
	}
	return cfg
}

// Consume fetches messages until ctx is done or handler returns
// ErrStopConsuming.  Each message is committed after it is handled; messages
// that cannot be decoded or keep failing are dead-lettered (when configured)
// and committed so the group keeps moving.
func (c *Consumer) Consume(ctx context.Context, handler EnvelopeHandler) error {
	for {
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return errors.Wrap(err, errors.CodeMessageQueueError, "fetch failed")
		}
		c.metrics.MessagesConsumed.Add(1)

		stop := false
		env, err := MessageToEventEnvelope(m)
		if err == nil {
			err = c.handle(ctx, env, handler)
			if stderrors.Is(err, ErrStopConsuming) {
				stop, err = true, nil
			}
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.metrics.MessagesFailed.Add(1)
			c.logger.WithError(err).Warn("message dropped",
				logging.String("topic", m.Topic),
				logging.Int64("offset", m.Offset))
			c.sendToDeadLetter(ctx, m, err)
		} else {
			c.metrics.MessagesProcessed.Add(1)
		}

		if err := c.reader.CommitMessages(ctx, m); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return errors.Wrap(err, errors.CodeMessageQueueError, "commit failed")
		}
		if stop {
			return nil
		}
	}
}

func (c *Consumer) handle(ctx context.Context, env *EventEnvelope, handler EnvelopeHandler) error {
	backoff := c.config.RetryBackoff
	err := handler(ctx, env)
	for attempt := 0; err != nil && attempt < c.config.MaxRetries; attempt++ {
		if stderrors.Is(err, ErrStopConsuming) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		err = handler(ctx, env)
	}
	return err
}

func (c *Consumer) sendToDeadLetter(ctx context.Context, m kafka.Message, cause error) {
	if c.deadLetter == nil {
		return
	}
	msg := &common.ProducerMessage{
		Topic: c.config.DeadLetterTopic,
		Key:   m.Key,
		Value: m.Value,
		Headers: map[string]string{
			"original_topic": m.Topic,
			"error_message":  cause.Error(),
		},
	}
	if len(msg.Value) == 0 {
		msg.Value = []byte("{}")
	}
	if err := c.deadLetter.Publish(ctx, msg); err != nil {
		c.logger.WithError(err).Error("failed to dead-letter message")
		return
	}
	c.metrics.MessagesDeadLettered.Add(1)
}

// Processed returns the number of successfully handled messages.
func (c *Consumer) Processed() int64 { return c.metrics.MessagesProcessed.Load() }

// Failed returns the number of dropped messages.
func (c *Consumer) Failed() int64 { return c.metrics.MessagesFailed.Load() }

// Close closes the reader and the dead-letter producer.
func (c *Consumer) Close() error {
	err := c.reader.Close()
	if c.deadLetter != nil {
		if derr := c.deadLetter.Close(); err == nil {
			err = derr
		}
	}
	c.logger.Info("kafka consumer closed", logging.Int64("consumed", c.metrics.MessagesConsumed.Load()))
	if err != nil {
		return errors.Wrap(err, errors.CodeMessageQueueError, "failed to close consumer")
	}
	return nil
}

// ValidateConsumerConfig validates configuration.
func ValidateConsumerConfig(cfg ConsumerConfig) error {
	if len(cfg.Brokers) == 0 {
		return errors.New(errors.ErrCodeValidation, "brokers required")
	}
	if cfg.GroupID == "" {
		return errors.New(errors.ErrCodeValidation, "GroupID required")
	}
	if cfg.AutoOffsetReset != "" && cfg.AutoOffsetReset != "earliest" && cfg.AutoOffsetReset != "latest" {
		return errors.New(errors.ErrCodeValidation, "invalid AutoOffsetReset")
	}
	if cfg.MaxRetries < 0 {
		return errors.New(errors.ErrCodeValidation, "MaxRetries must be >= 0")
	}
	return cfg.Security.Validate()
}
