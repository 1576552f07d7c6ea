package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	"media-transcription/entities"
)

func newTestCache(t *testing.T, ttl time.Duration) (ResultCache, *miniredis.Miniredis) {
	t.Helper()
	mini, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mini.Close)

	client := goredis.NewClient(&goredis.Options{Addr: mini.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisCache(client, ttl), mini
}

func TestRedisCachePutGetEvict(t *testing.T) {
	c, _ := newTestCache(t, time.Hour)
	ctx := context.Background()

	conf := 0.75
	result := &entities.TranscriptionResult{
		ID:          7,
		MediaFileID: 42,
		Transcript:  "hello world",
		Language:    "en",
		Confidence:  &conf,
		WordCount:   2,
		CompletedAt: time.Now().UTC().Truncate(time.Millisecond),
	}
	if err := c.Put(ctx, result); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, ok, err := c.Get(ctx, 42)
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if got.ID != 7 || got.Transcript != "hello world" || *got.Confidence != 0.75 {
		t.Fatalf("got %+v", got)
	}

	if err := c.Evict(ctx, 42); err != nil {
		t.Fatalf("Evict: %v", err)
	}
	if _, ok, err := c.Get(ctx, 42); err != nil || ok {
		t.Fatalf("after evict: ok=%v err=%v", ok, err)
	}
}

func TestRedisCacheMiss(t *testing.T) {
	c, _ := newTestCache(t, time.Hour)

	got, ok, err := c.Get(context.Background(), 1)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ok || got != nil {
		t.Fatalf("expected miss, got %+v", got)
	}
}

func TestRedisCacheTTL(t *testing.T) {
	c, mini := newTestCache(t, time.Minute)
	ctx := context.Background()

	if err := c.Put(ctx, &entities.TranscriptionResult{MediaFileID: 5}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if ttl := mini.TTL("transcriptions:5"); ttl != time.Minute {
		t.Fatalf("ttl = %s, want 1m", ttl)
	}

	mini.FastForward(2 * time.Minute)
	if _, ok, _ := c.Get(ctx, 5); ok {
		t.Fatal("entry should have expired")
	}
}
