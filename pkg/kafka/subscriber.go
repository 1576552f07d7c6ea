package kafka

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	kafkago "github.com/segmentio/kafka-go"

	"media-transcription/config"
	"media-transcription/event"
)

type subscriber struct {
	cfg     *config.Kafka
	readers int
}

// NewSubscriber consumes each topic with the given number of readers in one consumer
// group. Partitions are spread across readers, so one key is never handled twice at once.
func NewSubscriber(cfg *config.Kafka, readers int) event.Subscriber {
	if readers < 1 {
		readers = 1
	}
	return &subscriber{cfg: cfg, readers: readers}
}

func (s *subscriber) Subscribe(ctx context.Context, topic, groupID string, handler event.Handler) error {
	logger := zerolog.Ctx(ctx).With().Str("topic", topic).Str("group_id", groupID).Logger()
	logger.Info().Int("readers", s.readers).Strs("brokers", s.cfg.Brokers).Msg("kafka subscriber started")

	errs := make([]error, s.readers)
	var wg sync.WaitGroup
	for i := 0; i < s.readers; i++ {
		wg.Add(1)
		go func(readerId int) {
			defer wg.Done()
			reader := kafkago.NewReader(kafkago.ReaderConfig{
				Brokers:     s.cfg.Brokers,
				Topic:       topic,
				GroupID:     groupID,
				StartOffset: kafkago.FirstOffset,
				MinBytes:    1,
				MaxBytes:    10e6,
				ErrorLogger: kafkago.LoggerFunc(func(msg string, args ...interface{}) {
					logger.Error().Int("reader_id", readerId).Msgf("reader: "+msg, args...)
				}),
			})
			defer reader.Close()

			rctx := logger.With().Int("reader_id", readerId).Logger().WithContext(ctx)
			errs[readerId] = consume(rctx, reader, handler)
		}(i)
	}
	wg.Wait()

	if ctx.Err() != nil {
		return ctx.Err()
	}
	return errors.Join(errs...)
}

type fetcher interface {
	FetchMessage(ctx context.Context) (kafkago.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafkago.Message) error
}

// consume commits a message once the handler returns, whether or not it failed; a
// failed message is left to the batch reconciliation run. A message whose handler was
// cut short by shutdown is not committed, so it is redelivered to the group.
func consume(ctx context.Context, reader fetcher, handler event.Handler) error {
	logger := zerolog.Ctx(ctx)
	failures := 0
	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			failures++
			if failures <= 3 {
				logger.Error().Err(err).Int("failures", failures).Msg("kafka fetch error")
			}
			wait := time.Duration(failures) * time.Second
			if wait > 30*time.Second {
				wait = 30 * time.Second
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
			continue
		}
		failures = 0

		if err := handler(ctx, event.Message{
			Topic:     msg.Topic,
			Key:       string(msg.Key),
			Value:     msg.Value,
			Partition: msg.Partition,
			Offset:    msg.Offset,
		}); err != nil {
			if ctx.Err() != nil {
				logger.Warn().Err(err).Str("key", string(msg.Key)).Int64("offset", msg.Offset).Msg("message interrupted, leaving offset uncommitted")
				return ctx.Err()
			}
			logger.Error().Err(err).Str("key", string(msg.Key)).Int64("offset", msg.Offset).Msg("message processing failed")
		}

		if err := reader.CommitMessages(context.WithoutCancel(ctx), msg); err != nil {
			logger.Error().Err(err).Int64("offset", msg.Offset).Msg("failed to commit message")
		}
	}
}
