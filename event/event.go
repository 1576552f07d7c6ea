package event

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"
)

type Message struct {
	Topic     string
	Key       string
	Value     []byte
	Partition int
	Offset    int64
}

// Handler processes one delivered message. The transport acknowledges the message only
// after Handler returns.
type Handler func(ctx context.Context, msg Message) error

// Publisher is fire-and-forget: a nil error means the message was accepted for delivery.
// Delivery confirmation is logged asynchronously.
type Publisher interface {
	Publish(ctx context.Context, topic, key string, payload any) error
	Close() error
}

type Subscriber interface {
	Subscribe(ctx context.Context, topic, groupID string, handler Handler) error
}

// WithRetry retries a failing handler with exponential backoff, up to maxTries calls.
// Errors wrapped with backoff.Permanent are not retried.
func WithRetry(handler Handler, maxTries uint, newBackOff func() backoff.BackOff) Handler {
	if newBackOff == nil {
		newBackOff = func() backoff.BackOff {
			bo := backoff.NewExponentialBackOff()
			bo.MaxInterval = 10 * time.Second
			return bo
		}
	}
	return func(ctx context.Context, msg Message) error {
		operation := func() (struct{}, error) {
			return struct{}{}, handler(ctx, msg)
		}
		notify := func(err error, next time.Duration) {
			zerolog.Ctx(ctx).Warn().Err(err).
				Str("topic", msg.Topic).
				Str("key", msg.Key).
				Dur("retry_in", next).
				Msg("message handler failed, retrying")
		}
		_, err := backoff.Retry(ctx, operation,
			backoff.WithBackOff(newBackOff()),
			backoff.WithMaxTries(maxTries),
			backoff.WithNotify(notify),
		)
		return err
	}
}
