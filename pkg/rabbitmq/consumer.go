package rabbitmq

import (
	"context"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"media-transcription/config"
	"media-transcription/event"
)

type topology struct {
	exchange      string
	queue         string
	routingKey    string
	dlx           string
	dlq           string
	dlqRoutingKey string
}

// topologyFor names one durable queue per consumer group and topic. Every queue
// dead-letters into its own DLQ on a shared DLX.
func topologyFor(cfg *config.RabbitMQ, topic, groupID string) topology {
	queue := groupID + "." + topic
	return topology{
		exchange:      cfg.ExchangeName,
		queue:         queue,
		routingKey:    topic,
		dlx:           cfg.ExchangeName + "_dlx",
		dlq:           queue + ".dlq",
		dlqRoutingKey: "dlq." + topic,
	}
}

type subscriber struct {
	conn       *amqp.Connection
	cfg        *config.RabbitMQ
	numWorkers int
}

func NewSubscriber(conn *amqp.Connection, cfg *config.RabbitMQ, numWorkers int) event.Subscriber {
	if numWorkers < 1 {
		numWorkers = 1
	}
	return &subscriber{
		conn:       conn,
		cfg:        cfg,
		numWorkers: numWorkers,
	}
}

func (c *subscriber) Subscribe(ctx context.Context, topic, groupID string, handler event.Handler) error {
	ch, err := c.conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	tp := topologyFor(c.cfg, topic, groupID)
	logger := zerolog.Ctx(ctx).With().Str("queue", tp.queue).Logger()

	err = ch.ExchangeDeclare(tp.exchange, c.cfg.Kind, true, false, false, false, nil)
	if err != nil {
		logger.Error().Err(err).Str("exchange", tp.exchange).Msg("failed to declare exchange")
		return err
	}

	err = ch.ExchangeDeclare(tp.dlx, c.cfg.Kind, true, false, false, false, nil)
	if err != nil {
		logger.Error().Err(err).Str("exchange", tp.dlx).Msg("failed to declare dlx")
		return err
	}

	dlq, err := ch.QueueDeclare(tp.dlq, true, false, false, false, nil)
	if err != nil {
		logger.Error().Err(err).Str("dlq", tp.dlq).Msg("failed to declare dlq")
		return err
	}

	err = ch.QueueBind(dlq.Name, tp.dlqRoutingKey, tp.dlx, false, nil)
	if err != nil {
		logger.Error().Err(err).Msg("failed to bind dlq")
		return err
	}

	args := amqp.Table{
		"x-dead-letter-exchange":    tp.dlx,
		"x-dead-letter-routing-key": tp.dlqRoutingKey,
	}
	q, err := ch.QueueDeclare(tp.queue, true, false, false, false, args)
	if err != nil {
		logger.Error().Err(err).Msg("failed to declare queue")
		return err
	}

	err = ch.QueueBind(q.Name, tp.routingKey, tp.exchange, false, nil)
	if err != nil {
		logger.Error().Err(err).Msg("failed to bind queue")
		return err
	}

	err = ch.Qos(c.numWorkers, 0, false)
	if err != nil {
		logger.Error().Err(err).Msg("failed to set QoS")
		return err
	}

	deliveries, err := ch.Consume(tp.queue, "", false, false, false, false, nil)
	if err != nil {
		logger.Error().Err(err).Msg("failed to consume queue")
		return err
	}

	logger.Info().
		Str("exchange", tp.exchange).
		Str("routing_key", tp.routingKey).
		Int("workers", c.numWorkers).
		Msg("rabbitmq subscriber started")

	jobs := make(chan amqp.Delivery, c.numWorkers)
	var wg sync.WaitGroup
	for i := 1; i <= c.numWorkers; i++ {
		wg.Add(1)
		go func(workerId int) {
			defer wg.Done()
			wctx := logger.With().Int("worker_id", workerId).Logger().WithContext(ctx)
			for msg := range jobs {
				dispatch(wctx, topic, msg, handler)
			}
		}(i)
	}

	for {
		select {
		case delivery, ok := <-deliveries:
			if !ok {
				close(jobs)
				wg.Wait()
				return nil
			}

			jobs <- delivery
		case <-ctx.Done():
			close(jobs)
			wg.Wait()
			return ctx.Err()
		}
	}
}

// dispatch acks a handled delivery and rejects a failed one into the dead-letter queue.
func dispatch(ctx context.Context, topic string, msg amqp.Delivery, handler event.Handler) {
	err := handler(ctx, event.Message{
		Topic: topic,
		Key:   msg.MessageId,
		Value: msg.Body,
	})
	if err != nil && ctx.Err() != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("message_id", msg.MessageId).Msg("message interrupted, requeueing")
		if nackErr := msg.Nack(false, true); nackErr != nil {
			zerolog.Ctx(ctx).Error().Err(nackErr).Msg("failed to requeue message")
		}
		return
	}
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("message_id", msg.MessageId).Msg("failed to handle message, sending to DLQ")
		if nackErr := msg.Nack(false, false); nackErr != nil {
			zerolog.Ctx(ctx).Error().Err(nackErr).Msg("failed to nack message to send to DLQ")
		}
		return
	}
	if ackErr := msg.Ack(false); ackErr != nil {
		zerolog.Ctx(ctx).Error().Err(ackErr).Msg("failed to acknowledge message")
	}
}
