// Package pipelinetest provides in-memory collaborators for orchestrator and trigger tests.
package pipelinetest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"media-transcription/config"
	"media-transcription/constant"
	"media-transcription/entities"
	"media-transcription/event"
	"media-transcription/provider"
	"media-transcription/storage"
)

func PipelineConfig() config.Pipeline {
	return config.Pipeline{
		MaxRetries:              3,
		BatchChunkSize:          5,
		BatchParallelism:        1,
		BatchScheduleExpression: "0 */5 * * * *",
		ChunkRetryLimit:         3,
		ChunkSkipLimit:          10,
		ClaimStaleAfter:         30 * time.Minute,
		ProcessingTimeout:       5 * time.Second,
	}
}

func NewMedia(status constant.MediaStatus) *entities.MediaFile {
	return &entities.MediaFile{
		OriginalFilename: "talk.mp3",
		StorageKey:       "talk-key.mp3",
		ContentType:      "audio/mpeg",
		MediaKind:        constant.MediaKindAudio,
		SizeBytes:        11,
		Status:           status,
		UploadedAt:       time.Now().UTC(),
	}
}

type MemoryBlobs struct {
	mu      sync.Mutex
	objects map[string][]byte
	// Default is returned for any key that was never put.
	Default []byte
}

func NewMemoryBlobs() *MemoryBlobs {
	return &MemoryBlobs{objects: map[string][]byte{}, Default: []byte("audio-bytes")}
}

func (b *MemoryBlobs) Put(ctx context.Context, r io.Reader, size int64, filename, contentType string) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", errors.Join(storage.ErrStorage, err)
	}
	key := storage.ObjectName(filename)
	b.mu.Lock()
	b.objects[key] = data
	b.mu.Unlock()
	return key, nil
}

func (b *MemoryBlobs) Get(ctx context.Context, key string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if data, ok := b.objects[key]; ok {
		return bytes.Clone(data), nil
	}
	if b.Default != nil {
		return bytes.Clone(b.Default), nil
	}
	return nil, errors.Join(storage.ErrStorage, fmt.Errorf("no object %s", key))
}

func (b *MemoryBlobs) Delete(ctx context.Context, key string) error {
	b.mu.Lock()
	delete(b.objects, key)
	b.mu.Unlock()
	return nil
}

func (b *MemoryBlobs) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.objects)
}

// Transcriber calls Fn for every request and tracks how many calls overlap per file.
type Transcriber struct {
	Fn func(ctx context.Context, data []byte, filename string) (*provider.Transcription, error)

	mu          sync.Mutex
	calls       int
	inFlight    int
	maxInFlight int
}

func (t *Transcriber) Transcribe(ctx context.Context, data []byte, filename string) (*provider.Transcription, error) {
	t.mu.Lock()
	t.calls++
	t.inFlight++
	if t.inFlight > t.maxInFlight {
		t.maxInFlight = t.inFlight
	}
	t.mu.Unlock()

	defer func() {
		t.mu.Lock()
		t.inFlight--
		t.mu.Unlock()
	}()

	if t.Fn == nil {
		return &provider.Transcription{Text: "hello world", Language: "en"}, nil
	}
	return t.Fn(ctx, data, filename)
}

func (t *Transcriber) Calls() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.calls
}

func (t *Transcriber) MaxInFlight() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.maxInFlight
}

func Succeed(text string) func(context.Context, []byte, string) (*provider.Transcription, error) {
	return func(context.Context, []byte, string) (*provider.Transcription, error) {
		conf := 0.9
		return &provider.Transcription{Text: text, Language: "en", Confidence: &conf}, nil
	}
}

func Fail(kind provider.ErrorKind) func(context.Context, []byte, string) (*provider.Transcription, error) {
	return func(context.Context, []byte, string) (*provider.Transcription, error) {
		return nil, &provider.Error{Kind: kind, Err: errors.New("whisper unavailable")}
	}
}

type Published struct {
	Topic   string
	Key     string
	Payload []byte
}

// Publisher records every published message.
type Publisher struct {
	mu       sync.Mutex
	messages []Published
	Err      error
}

func (p *Publisher) Publish(ctx context.Context, topic, key string, payload any) error {
	if p.Err != nil {
		return p.Err
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.messages = append(p.messages, Published{Topic: topic, Key: key, Payload: data})
	p.mu.Unlock()
	return nil
}

func (p *Publisher) Close() error { return nil }

func (p *Publisher) OnTopic(topic string) []Published {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []Published
	for _, m := range p.messages {
		if m.Topic == topic {
			out = append(out, m)
		}
	}
	return out
}

var _ event.Publisher = (*Publisher)(nil)

// Cache is an in-memory ResultCache. Setting Err makes every call fail.
type Cache struct {
	mu      sync.Mutex
	results map[uint64]entities.TranscriptionResult
	Err     error
}

func NewCache() *Cache {
	return &Cache{results: map[uint64]entities.TranscriptionResult{}}
}

func (c *Cache) Get(ctx context.Context, mediaID uint64) (*entities.TranscriptionResult, bool, error) {
	if c.Err != nil {
		return nil, false, c.Err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.results[mediaID]
	if !ok {
		return nil, false, nil
	}
	return &r, true, nil
}

func (c *Cache) Put(ctx context.Context, result *entities.TranscriptionResult) error {
	if c.Err != nil {
		return c.Err
	}
	c.mu.Lock()
	c.results[result.MediaFileID] = *result
	c.mu.Unlock()
	return nil
}

func (c *Cache) Evict(ctx context.Context, mediaID uint64) error {
	if c.Err != nil {
		return c.Err
	}
	c.mu.Lock()
	delete(c.results, mediaID)
	c.mu.Unlock()
	return nil
}
