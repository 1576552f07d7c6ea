package service

import (
	"context"

	"github.com/rs/zerolog"

	"media-transcription/cache"
	"media-transcription/constant"
	"media-transcription/dto"
	"media-transcription/entities"
	"media-transcription/repository"
)

type TranscriptionService interface {
	GetByMediaID(ctx context.Context, mediaID uint64) (*entities.TranscriptionResult, error)
	GetByID(ctx context.Context, id uint64) (*entities.TranscriptionResult, error)
	List(ctx context.Context) ([]*entities.TranscriptionResult, error)
	HasTranscription(ctx context.Context, mediaID uint64) (bool, error)
	Delete(ctx context.Context, mediaID uint64) error
	Status(ctx context.Context, mediaID uint64) (*dto.TranscriptionStatusResponse, error)
	Statistics(ctx context.Context) (*dto.TranscriptionStatistics, error)
}

type transcriptionService struct {
	repo  repository.MediaRepository
	cache cache.ResultCache
}

func NewTranscriptionService(repo repository.MediaRepository, resultCache cache.ResultCache) TranscriptionService {
	return &transcriptionService{
		repo:  repo,
		cache: resultCache,
	}
}

// GetByMediaID reads through the cache. Cache errors fall back to the store.
func (s *transcriptionService) GetByMediaID(ctx context.Context, mediaID uint64) (*entities.TranscriptionResult, error) {
	logger := zerolog.Ctx(ctx).With().Uint64("media_id", mediaID).Logger()

	cached, ok, err := s.cache.Get(ctx, mediaID)
	if err != nil {
		logger.Warn().Err(err).Msg("transcription cache read failed")
	}
	if ok {
		logger.Debug().Msg("transcription cache hit")
		return cached, nil
	}

	result, err := s.repo.FindResultByMediaId(ctx, mediaID)
	if err != nil {
		return nil, err
	}
	if err := s.cache.Put(ctx, result); err != nil {
		logger.Warn().Err(err).Msg("failed to cache transcription result")
	}
	return result, nil
}

func (s *transcriptionService) GetByID(ctx context.Context, id uint64) (*entities.TranscriptionResult, error) {
	return s.repo.FindResultById(ctx, id)
}

func (s *transcriptionService) List(ctx context.Context) ([]*entities.TranscriptionResult, error) {
	return s.repo.FindAllResults(ctx)
}

func (s *transcriptionService) HasTranscription(ctx context.Context, mediaID uint64) (bool, error) {
	return s.repo.ResultExists(ctx, mediaID)
}

// Delete removes the stored result and evicts it from the cache.
func (s *transcriptionService) Delete(ctx context.Context, mediaID uint64) error {
	deleted, err := s.repo.DeleteResultByMediaId(ctx, mediaID)
	if err != nil {
		return err
	}
	if err := s.cache.Evict(ctx, mediaID); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Uint64("media_id", mediaID).Msg("failed to evict transcription from cache")
	}
	if !deleted {
		return repository.ErrNotFound
	}
	zerolog.Ctx(ctx).Info().Uint64("media_id", mediaID).Msg("transcription deleted")
	return nil
}

func (s *transcriptionService) Status(ctx context.Context, mediaID uint64) (*dto.TranscriptionStatusResponse, error) {
	media, err := s.repo.FindMediaById(ctx, mediaID)
	if err != nil {
		return nil, err
	}
	has, err := s.repo.ResultExists(ctx, mediaID)
	if err != nil {
		return nil, err
	}

	return &dto.TranscriptionStatusResponse{
		MediaFileID:         mediaID,
		Status:              media.Status.String(),
		HasTranscription:    has,
		Message:             statusMessage(media, has),
		ProcessingStartedAt: media.ProcessingStartedAt,
		CompletedAt:         media.CompletedAt,
		ErrorMessage:        media.ErrorMessage,
		RetryCount:          media.RetryCount,
	}, nil
}

func statusMessage(media *entities.MediaFile, hasTranscription bool) string {
	switch media.Status {
	case constant.MediaStatusUploaded:
		return "File uploaded, waiting for processing"
	case constant.MediaStatusProcessing:
		return "Transcription in progress"
	case constant.MediaStatusCompleted:
		if hasTranscription {
			return "Transcription completed successfully"
		}
		return "Processing completed but transcription not found"
	case constant.MediaStatusFailed:
		if media.ErrorMessage != nil {
			return "Transcription failed: " + *media.ErrorMessage
		}
		return "Transcription failed: Unknown error"
	}
	return "Unknown status"
}

func (s *transcriptionService) Statistics(ctx context.Context) (*dto.TranscriptionStatistics, error) {
	stats, err := s.repo.ResultStatistics(ctx)
	if err != nil {
		return nil, err
	}
	return &dto.TranscriptionStatistics{
		TotalTranscriptions:     stats.Total,
		AverageProcessingTimeMs: int64(stats.AverageProcessingTime),
		AverageConfidence:       stats.AverageConfidence,
	}, nil
}
