package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"media-transcription/constant"
	"media-transcription/entities"
)

var ErrNotFound = errors.New("record not found")

// MediaRepository is the durable store of media files and their transcription results.
// ConditionalUpdate is the only write path for an existing media file's lifecycle columns.
type MediaRepository interface {
	Transaction(ctx context.Context, callback func(tx MediaRepository) error) error
	GetDB() *gorm.DB
	CreateMedia(ctx context.Context, media *entities.MediaFile) error
	FindMediaById(ctx context.Context, id uint64) (*entities.MediaFile, error)
	FindMediaByStatus(ctx context.Context, status constant.MediaStatus) ([]*entities.MediaFile, error)
	FindStaleProcessing(ctx context.Context, startedBefore time.Time) ([]*entities.MediaFile, error)
	FindAllMedia(ctx context.Context) ([]*entities.MediaFile, error)
	ConditionalUpdate(ctx context.Context, id uint64, expectedStatus constant.MediaStatus, expectedVersion int64, updates map[string]any) (bool, error)
	CreateResult(ctx context.Context, result *entities.TranscriptionResult) error
	FindResultByMediaId(ctx context.Context, mediaId uint64) (*entities.TranscriptionResult, error)
	FindResultById(ctx context.Context, id uint64) (*entities.TranscriptionResult, error)
	FindAllResults(ctx context.Context) ([]*entities.TranscriptionResult, error)
	ResultExists(ctx context.Context, mediaId uint64) (bool, error)
	DeleteResultByMediaId(ctx context.Context, mediaId uint64) (bool, error)
	ResultStatistics(ctx context.Context) (*ResultStatistics, error)
}

type ResultStatistics struct {
	Total                 int64
	AverageProcessingTime float64
	AverageConfidence     float64
}

type repo struct {
	db *gorm.DB
}

func NewPostgres(db *sql.DB, environment string) (*gorm.DB, error) {
	level := logger.Warn
	if environment == constant.EnvironmentDevelop.String() {
		level = logger.Info
	}
	return gorm.Open(postgres.New(postgres.Config{
		Conn: db}),
		&gorm.Config{
			Logger: logger.Default.LogMode(level),
		},
	)
}

func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&entities.MediaFile{}, &entities.TranscriptionResult{})
}

func NewRepo(db *gorm.DB) MediaRepository {
	return &repo{
		db: db,
	}
}

func (r *repo) GetDB() *gorm.DB {
	return r.db
}

func (r *repo) Transaction(ctx context.Context, callback func(tx MediaRepository) error) error {
	return r.GetDB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return callback(&repo{db: tx})
	})
}

func (r *repo) CreateMedia(ctx context.Context, media *entities.MediaFile) error {
	return r.GetDB().WithContext(ctx).Create(media).Error
}

func (r *repo) FindMediaById(ctx context.Context, id uint64) (*entities.MediaFile, error) {
	media := &entities.MediaFile{}
	err := r.GetDB().WithContext(ctx).First(media, "id = ?", id).Error
	if err != nil {
		return nil, translate(err)
	}

	return media, nil
}

func (r *repo) FindMediaByStatus(ctx context.Context, status constant.MediaStatus) ([]*entities.MediaFile, error) {
	var media []*entities.MediaFile
	err := r.GetDB().WithContext(ctx).Where("status = ?", status).Order("id ASC").Find(&media).Error
	if err != nil {
		return nil, err
	}
	return media, nil
}

func (r *repo) FindStaleProcessing(ctx context.Context, startedBefore time.Time) ([]*entities.MediaFile, error) {
	var media []*entities.MediaFile
	err := r.GetDB().WithContext(ctx).
		Where("status = ? AND processing_started_at < ?", constant.MediaStatusProcessing, startedBefore).
		Order("id ASC").
		Find(&media).Error
	if err != nil {
		return nil, err
	}
	return media, nil
}

func (r *repo) FindAllMedia(ctx context.Context) ([]*entities.MediaFile, error) {
	var media []*entities.MediaFile
	err := r.GetDB().WithContext(ctx).Order("id ASC").Find(&media).Error
	if err != nil {
		return nil, err
	}
	return media, nil
}

// ConditionalUpdate applies updates only if the row still has the expected status and
// version. It reports whether the row was updated.
func (r *repo) ConditionalUpdate(ctx context.Context, id uint64, expectedStatus constant.MediaStatus, expectedVersion int64, updates map[string]any) (bool, error) {
	res := r.GetDB().WithContext(ctx).
		Model(&entities.MediaFile{}).
		Where("id = ? AND status = ? AND version = ?", id, expectedStatus, expectedVersion).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repo) CreateResult(ctx context.Context, result *entities.TranscriptionResult) error {
	return r.GetDB().WithContext(ctx).Create(result).Error
}

func (r *repo) FindResultByMediaId(ctx context.Context, mediaId uint64) (*entities.TranscriptionResult, error) {
	result := &entities.TranscriptionResult{}
	err := r.GetDB().WithContext(ctx).First(result, "media_file_id = ?", mediaId).Error
	if err != nil {
		return nil, translate(err)
	}
	return result, nil
}

func (r *repo) FindResultById(ctx context.Context, id uint64) (*entities.TranscriptionResult, error) {
	result := &entities.TranscriptionResult{}
	err := r.GetDB().WithContext(ctx).First(result, "id = ?", id).Error
	if err != nil {
		return nil, translate(err)
	}
	return result, nil
}

func (r *repo) FindAllResults(ctx context.Context) ([]*entities.TranscriptionResult, error) {
	var results []*entities.TranscriptionResult
	err := r.GetDB().WithContext(ctx).Order("id ASC").Find(&results).Error
	if err != nil {
		return nil, err
	}
	return results, nil
}

func (r *repo) ResultExists(ctx context.Context, mediaId uint64) (bool, error) {
	var count int64
	err := r.GetDB().WithContext(ctx).Model(&entities.TranscriptionResult{}).Where("media_file_id = ?", mediaId).Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *repo) DeleteResultByMediaId(ctx context.Context, mediaId uint64) (bool, error) {
	res := r.GetDB().WithContext(ctx).Where("media_file_id = ?", mediaId).Delete(&entities.TranscriptionResult{})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) ResultStatistics(ctx context.Context) (*ResultStatistics, error) {
	var row struct {
		Total         int64
		AvgProcessing float64
		AvgConfidence float64
	}
	err := r.GetDB().WithContext(ctx).
		Model(&entities.TranscriptionResult{}).
		Select("COUNT(*) AS total, COALESCE(AVG(processing_time_ms), 0) AS avg_processing, COALESCE(AVG(confidence), 0) AS avg_confidence").
		Scan(&row).Error
	if err != nil {
		return nil, err
	}
	return &ResultStatistics{
		Total:                 row.Total,
		AverageProcessingTime: row.AvgProcessing,
		AverageConfidence:     row.AvgConfidence,
	}, nil
}

func translate(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}
