package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"media-transcription/entities"
)

const keyPrefix = "transcriptions"

// ResultCache holds transcription results keyed by media file id.
type ResultCache interface {
	Get(ctx context.Context, mediaID uint64) (*entities.TranscriptionResult, bool, error)
	Put(ctx context.Context, result *entities.TranscriptionResult) error
	Evict(ctx context.Context, mediaID uint64) error
}

type redisCache struct {
	client *goredis.Client
	ttl    time.Duration
}

func NewRedisClient(ctx context.Context, addr, password string, db int) (*goredis.Client, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	zerolog.Ctx(ctx).Info().Str("addr", addr).Msg("connected to redis")
	return client, nil
}

func NewRedisCache(client *goredis.Client, ttl time.Duration) ResultCache {
	return &redisCache{
		client: client,
		ttl:    ttl,
	}
}

func key(mediaID uint64) string {
	return keyPrefix + ":" + strconv.FormatUint(mediaID, 10)
}

func (c *redisCache) Get(ctx context.Context, mediaID uint64) (*entities.TranscriptionResult, bool, error) {
	raw, err := c.client.Get(ctx, key(mediaID)).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("cache get %d: %w", mediaID, err)
	}

	var result entities.TranscriptionResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, false, fmt.Errorf("cache unmarshal %d: %w", mediaID, err)
	}
	return &result, true, nil
}

func (c *redisCache) Put(ctx context.Context, result *entities.TranscriptionResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("cache marshal %d: %w", result.MediaFileID, err)
	}
	if err := c.client.Set(ctx, key(result.MediaFileID), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache put %d: %w", result.MediaFileID, err)
	}
	return nil
}

func (c *redisCache) Evict(ctx context.Context, mediaID uint64) error {
	if err := c.client.Del(ctx, key(mediaID)).Err(); err != nil {
		return fmt.Errorf("cache evict %d: %w", mediaID, err)
	}
	return nil
}
