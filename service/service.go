package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"media-transcription/constant"
	"media-transcription/entities"
	"media-transcription/event"
	"media-transcription/pipeline"
	"media-transcription/repository"
	"media-transcription/storage"
)

// ErrInvalidUpload is returned for uploads rejected before anything is stored.
var ErrInvalidUpload = errors.New("invalid upload")

const MaxFileSize int64 = 500 * 1024 * 1024

var (
	audioContentTypes = []string{"audio/mpeg", "audio/wav", "audio/mp3", "audio/mp4", "audio/ogg", "audio/webm", "audio/x-wav", "audio/x-m4a"}
	videoContentTypes = []string{"video/mp4", "video/mpeg", "video/quicktime", "video/webm", "video/x-msvideo", "video/x-matroska", "video/avi"}
	audioExtensions   = []string{".mp3", ".wav", ".m4a", ".ogg", ".webm", ".aac", ".flac"}
	videoExtensions   = []string{".mp4", ".avi", ".mov", ".webm", ".mkv", ".mpeg", ".mpg"}
)

type UploadService interface {
	Upload(ctx context.Context, r io.Reader, size int64, filename, contentType string) (*entities.MediaFile, error)
	GetMedia(ctx context.Context, id uint64) (*entities.MediaFile, error)
	ListMedia(ctx context.Context) ([]*entities.MediaFile, error)
	ListMediaByStatus(ctx context.Context, status constant.MediaStatus) ([]*entities.MediaFile, error)
}

type uploadService struct {
	repo      repository.MediaRepository
	blobs     storage.BlobStore
	publisher event.Publisher
}

func NewUploadService(repo repository.MediaRepository, blobs storage.BlobStore, publisher event.Publisher) UploadService {
	return &uploadService{
		repo:      repo,
		blobs:     blobs,
		publisher: publisher,
	}
}

func (s *uploadService) Upload(ctx context.Context, r io.Reader, size int64, filename, contentType string) (*entities.MediaFile, error) {
	logger := zerolog.Ctx(ctx).With().Str("filename", filename).Logger()
	logger.Info().Int64("size", size).Str("content_type", contentType).Msg("starting media upload")

	kind, err := mediaKind(size, filename, contentType)
	if err != nil {
		return nil, err
	}

	key, err := s.blobs.Put(ctx, r, size, filename, contentType)
	if err != nil {
		logger.Error().Err(err).Msg("failed to upload media file")
		return nil, err
	}

	media := &entities.MediaFile{
		OriginalFilename: filename,
		StorageKey:       key,
		ContentType:      contentType,
		MediaKind:        kind,
		SizeBytes:        size,
		Status:           constant.MediaStatusUploaded,
		UploadedAt:       time.Now().UTC(),
	}
	if err := s.repo.CreateMedia(ctx, media); err != nil {
		logger.Error().Err(err).Str("storage_key", key).Msg("failed to save media file, removing object")
		if delErr := s.blobs.Delete(context.WithoutCancel(ctx), key); delErr != nil {
			logger.Error().Err(delErr).Str("storage_key", key).Msg("failed to remove orphaned object")
		}
		return nil, err
	}

	ev := pipeline.UploadEvent(*media, media.UploadedAt)
	if err := s.publisher.Publish(ctx, constant.TopicMediaUploaded, strconv.FormatUint(media.ID, 10), ev); err != nil {
		// the record stays UPLOADED and the batch run picks it up
		logger.Error().Err(err).Uint64("media_id", media.ID).Msg("failed to publish upload event")
	}

	logger.Info().Uint64("media_id", media.ID).Str("storage_key", key).Msg("media file uploaded")
	return media, nil
}

func (s *uploadService) GetMedia(ctx context.Context, id uint64) (*entities.MediaFile, error) {
	return s.repo.FindMediaById(ctx, id)
}

func (s *uploadService) ListMedia(ctx context.Context) ([]*entities.MediaFile, error) {
	return s.repo.FindAllMedia(ctx)
}

func (s *uploadService) ListMediaByStatus(ctx context.Context, status constant.MediaStatus) ([]*entities.MediaFile, error) {
	return s.repo.FindMediaByStatus(ctx, status)
}

// mediaKind validates an upload and classifies it, by content type first and by
// extension when the content type is generic.
func mediaKind(size int64, filename, contentType string) (constant.MediaKind, error) {
	if size <= 0 {
		return "", fmt.Errorf("%w: file is empty", ErrInvalidUpload)
	}
	if size > MaxFileSize {
		return "", fmt.Errorf("%w: file size exceeds maximum allowed size of 500MB", ErrInvalidUpload)
	}

	switch {
	case slices.Contains(audioContentTypes, contentType):
		return constant.MediaKindAudio, nil
	case slices.Contains(videoContentTypes, contentType):
		return constant.MediaKindVideo, nil
	}

	ext := strings.ToLower(filepath.Ext(filename))
	switch {
	case slices.Contains(audioExtensions, ext):
		return constant.MediaKindAudio, nil
	case slices.Contains(videoExtensions, ext):
		return constant.MediaKindVideo, nil
	}
	return "", fmt.Errorf("%w: unsupported file type %q, supported: audio (mp3, wav, m4a) and video (mp4, avi, mov)", ErrInvalidUpload, contentType)
}
