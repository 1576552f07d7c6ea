package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	kafkago "github.com/segmentio/kafka-go"

	"media-transcription/config"
	"media-transcription/event"
)

type publisher struct {
	writer *kafkago.Writer
	mu     sync.RWMutex
	closed bool
}

// NewPublisher returns an asynchronous Publisher. Delivery results are reported to the
// logger attached to ctx.
func NewPublisher(ctx context.Context, cfg *config.Kafka) event.Publisher {
	logger := zerolog.Ctx(ctx).With().Str("component", "kafka.publisher").Logger()

	writer := &kafkago.Writer{
		Addr:                   kafkago.TCP(cfg.Brokers...),
		Balancer:               &kafkago.Hash{},
		BatchTimeout:           cfg.BatchTimeout,
		WriteTimeout:           cfg.WriteTimeout,
		RequiredAcks:           kafkago.RequireAll,
		AllowAutoTopicCreation: true,
		Async:                  true,
		Completion: func(messages []kafkago.Message, err error) {
			for _, m := range messages {
				if err != nil {
					logger.Error().Err(err).Str("topic", m.Topic).Str("key", string(m.Key)).Msg("failed to deliver event")
					continue
				}
				logger.Debug().Str("topic", m.Topic).Str("key", string(m.Key)).Int("partition", m.Partition).Int64("offset", m.Offset).Msg("event delivered")
			}
		},
		ErrorLogger: kafkago.LoggerFunc(func(msg string, args ...interface{}) {
			logger.Error().Msgf("writer: "+msg, args...)
		}),
	}

	logger.Info().Strs("brokers", cfg.Brokers).Msg("kafka publisher initialized")
	return &publisher{writer: writer}
}

func (p *publisher) Publish(ctx context.Context, topic, key string, payload any) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return fmt.Errorf("publish to %s: publisher is closed", topic)
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", topic, err)
	}
	return p.writer.WriteMessages(ctx, kafkago.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "content-type", Value: []byte("application/json")},
		},
	})
}

// Close flushes pending messages.
func (p *publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	return p.writer.Close()
}
