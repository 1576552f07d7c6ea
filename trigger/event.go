package trigger

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"media-transcription/dto"
	"media-transcription/pipeline"
)

type EventTrigger interface {
	Handle(ctx context.Context, ev dto.MediaUploadEvent) error
}

type eventTrigger struct {
	orch pipeline.Orchestrator
}

func NewEventTrigger(orch pipeline.Orchestrator) EventTrigger {
	return &eventTrigger{orch: orch}
}

// Handle runs one upload event through the orchestrator. Duplicate and late deliveries
// lose the claim and are dropped. Infrastructure errors and interrupted attempts are
// returned so the transport can redeliver.
func (t *eventTrigger) Handle(ctx context.Context, ev dto.MediaUploadEvent) error {
	logger := zerolog.Ctx(ctx).With().Uint64("media_id", ev.MediaFileID).Logger()

	res, err := t.orch.Run(ctx, ev.MediaFileID)
	if err != nil {
		if errors.Is(err, pipeline.ErrInterrupted) {
			logger.Warn().Err(err).Msg("upload event interrupted, media file released")
		} else {
			logger.Error().Err(err).Msg("failed to run media file from upload event")
		}
		return err
	}

	switch res.Claim {
	case pipeline.Claimed:
		logger.Info().Str("status", res.Status.String()).Msg("upload event processed")
	case pipeline.NotFound:
		logger.Warn().Msg("upload event for unknown media file dropped")
	default:
		logger.Debug().Str("claim", res.Claim.String()).Msg("upload event dropped")
	}
	return nil
}
