package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"media-transcription/config"
	"media-transcription/event"
)

type publisher struct {
	mu       sync.Mutex
	ch       *amqp.Channel
	exchange string
	logger   zerolog.Logger
}

// NewPublisher opens a channel in confirm mode. Broker confirms are awaited in the
// background and logged.
func NewPublisher(ctx context.Context, conn *amqp.Connection, cfg *config.RabbitMQ) (event.Publisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, err
	}
	if err := ch.Confirm(false); err != nil {
		ch.Close()
		return nil, fmt.Errorf("enable publisher confirms: %w", err)
	}
	if err := ch.ExchangeDeclare(cfg.ExchangeName, cfg.Kind, true, false, false, false, nil); err != nil {
		ch.Close()
		return nil, err
	}

	return &publisher{
		ch:       ch,
		exchange: cfg.ExchangeName,
		logger:   zerolog.Ctx(ctx).With().Str("component", "rabbitmq.publisher").Str("exchange", cfg.ExchangeName).Logger(),
	}, nil
}

func (p *publisher) Publish(ctx context.Context, topic, key string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", topic, err)
	}

	p.mu.Lock()
	confirm, err := p.ch.PublishWithDeferredConfirmWithContext(ctx, p.exchange, topic, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    key,
		Timestamp:    time.Now(),
		Body:         body,
	})
	p.mu.Unlock()
	if err != nil {
		return err
	}

	go func() {
		wctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		acked, err := confirm.WaitContext(wctx)
		switch {
		case err != nil:
			p.logger.Error().Err(err).Str("routing_key", topic).Str("key", key).Msg("no confirm for event")
		case !acked:
			p.logger.Error().Str("routing_key", topic).Str("key", key).Msg("event nacked by broker")
		default:
			p.logger.Debug().Str("routing_key", topic).Str("key", key).Msg("event confirmed")
		}
	}()
	return nil
}

func (p *publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ch.Close()
}
