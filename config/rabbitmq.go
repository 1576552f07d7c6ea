package config

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

func (r *RabbitMQ) URI() string {
	return amqp.URI{
		Scheme:   "amqp",
		Host:     r.Host,
		Port:     r.Port,
		Username: r.User,
		Password: r.Pass,
		Vhost:    "/",
	}.String()
}

// NewRabbitMQConn dials the broker with exponential backoff. The connection is closed
// when ctx is done; an unexpected close is logged.
func NewRabbitMQConn(ctx context.Context, cfg *RabbitMQ) (*amqp.Connection, error) {
	logger := zerolog.Ctx(ctx).With().Str("host", cfg.Host).Int("port", cfg.Port).Logger()

	operation := func() (*amqp.Connection, error) {
		return amqp.Dial(cfg.URI())
	}
	notify := func(err error, next time.Duration) {
		logger.Warn().Err(err).Dur("retry_in", next).Msg("failed to connect to RabbitMQ, retrying")
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxInterval = 10 * time.Second
	conn, err := backoff.Retry(ctx, operation, backoff.WithBackOff(bo), backoff.WithMaxTries(5), backoff.WithNotify(notify))
	if err != nil {
		logger.Error().Err(err).Msg("giving up connecting to RabbitMQ")
		return nil, err
	}
	logger.Info().Msg("connected to RabbitMQ")

	closed := conn.NotifyClose(make(chan *amqp.Error, 1))
	go func() {
		select {
		case <-ctx.Done():
			if err := conn.Close(); err != nil && !conn.IsClosed() {
				logger.Error().Err(err).Msg("failed to close RabbitMQ connection")
			}
			logger.Info().Msg("RabbitMQ connection closed")
		case amqpErr, ok := <-closed:
			if ok && amqpErr != nil {
				logger.Error().Err(amqpErr).Msg("RabbitMQ connection lost")
			}
		}
	}()

	return conn, nil
}
