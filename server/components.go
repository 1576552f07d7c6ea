package server

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"media-transcription/cache"
	"media-transcription/config"
	"media-transcription/constant"
	"media-transcription/event"
	"media-transcription/pipeline"
	"media-transcription/pkg/kafka"
	"media-transcription/pkg/rabbitmq"
	"media-transcription/provider"
	"media-transcription/repository"
	"media-transcription/service"
	"media-transcription/storage"
	"media-transcription/trigger"
)

type components struct {
	repo           repository.MediaRepository
	orch           pipeline.Orchestrator
	uploads        service.UploadService
	transcriptions service.TranscriptionService
	events         trigger.EventTrigger
	batch          trigger.BatchTrigger
	publisher      event.Publisher
	subscriber     event.Subscriber

	redis *goredis.Client
	amqp  *amqp.Connection
}

func newComponents(ctx context.Context, cfg *config.Config, subscribe bool) (*components, error) {
	db, err := repository.NewPostgres(cfg.DB, cfg.App.Environment)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := repository.Migrate(db); err != nil {
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	if err := storage.EnsureBucket(ctx, cfg.Storage, cfg.MinIOBucket); err != nil {
		return nil, err
	}

	c := &components{repo: repository.NewRepo(db)}

	c.redis, err = cache.NewRedisClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		return nil, err
	}
	resultCache := cache.NewRedisCache(c.redis, cfg.Redis.TTL)

	switch cfg.EventBus.Driver {
	case constant.EventBusKafka:
		c.publisher = kafka.NewPublisher(ctx, cfg.Kafka)
		if subscribe {
			c.subscriber = kafka.NewSubscriber(cfg.Kafka, cfg.EventBus.Workers)
		}
	case constant.EventBusRabbitMQ:
		c.amqp, err = config.NewRabbitMQConn(ctx, cfg.Queue)
		if err != nil {
			c.close(ctx)
			return nil, err
		}
		c.publisher, err = rabbitmq.NewPublisher(ctx, c.amqp, cfg.Queue)
		if err != nil {
			c.close(ctx)
			return nil, err
		}
		if subscribe {
			c.subscriber = rabbitmq.NewSubscriber(c.amqp, cfg.Queue, cfg.EventBus.Workers)
		}
	default:
		c.close(ctx)
		return nil, fmt.Errorf("unknown event bus driver %q", cfg.EventBus.Driver)
	}

	blobs := storage.NewMinIOStore(cfg.Storage, cfg.MinIOBucket)
	transcriber := provider.NewWhisperClient(cfg.Provider.URL, cfg.Provider.Timeout)

	c.orch = pipeline.NewOrchestrator(c.repo, blobs, transcriber, resultCache, c.publisher, cfg.Pipeline)
	c.uploads = service.NewUploadService(c.repo, blobs, c.publisher)
	c.transcriptions = service.NewTranscriptionService(c.repo, resultCache)
	c.events = trigger.NewEventTrigger(c.orch)
	c.batch = trigger.NewBatchTrigger(c.repo, c.orch, cfg.Pipeline)

	zerolog.Ctx(ctx).Info().
		Str("event_bus", string(cfg.EventBus.Driver)).
		Str("provider", cfg.Provider.URL).
		Msg("components initialized")
	return c, nil
}

func (c *components) close(ctx context.Context) {
	if c.publisher != nil {
		if err := c.publisher.Close(); err != nil {
			zerolog.Ctx(ctx).Error().Err(err).Msg("failed to close event publisher")
		}
	}
	if c.amqp != nil && !c.amqp.IsClosed() {
		if err := c.amqp.Close(); err != nil {
			zerolog.Ctx(ctx).Error().Err(err).Msg("failed to close RabbitMQ connection")
		}
	}
	if c.redis != nil {
		if err := c.redis.Close(); err != nil {
			zerolog.Ctx(ctx).Error().Err(err).Msg("failed to close redis client")
		}
	}
}
