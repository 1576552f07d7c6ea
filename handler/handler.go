package handler

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"

	"media-transcription/dto"
	"media-transcription/event"
	"media-transcription/trigger"
)

type ServiceDependencies struct {
	EventTrigger trigger.EventTrigger
}

// MediaUploadedHandler decodes an upload event and hands it to the event trigger.
// A payload that cannot be decoded is never retried.
func MediaUploadedHandler(ctx context.Context, msg event.Message, deps ServiceDependencies) error {
	var ev dto.MediaUploadEvent
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("key", msg.Key).Msg("failed to unmarshal upload event")
		return backoff.Permanent(fmt.Errorf("decode upload event: %w", err))
	}
	if ev.MediaFileID == 0 {
		return backoff.Permanent(fmt.Errorf("upload event without media file id (key %q)", msg.Key))
	}

	zerolog.Ctx(ctx).Info().
		Uint64("media_id", ev.MediaFileID).
		Str("storage_key", ev.StorageKey).
		Msg("received upload event")

	return deps.EventTrigger.Handle(ctx, ev)
}

// Bind adapts a dependency-taking handler to an event.Handler with transport retries.
func Bind(deps ServiceDependencies, maxTries uint, h func(ctx context.Context, msg event.Message, deps ServiceDependencies) error) event.Handler {
	return event.WithRetry(func(ctx context.Context, msg event.Message) error {
		return h(ctx, msg, deps)
	}, maxTries, nil)
}
