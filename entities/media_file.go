package entities

import (
	"time"

	"media-transcription/constant"
)

type MediaFile struct {
	ID                  uint64               `json:"id" gorm:"primaryKey;autoIncrement"`
	OriginalFilename    string               `json:"original_filename" gorm:"type:varchar(500);not null"`
	StorageKey          string               `json:"storage_key" gorm:"type:varchar(500);not null"`
	ContentType         string               `json:"content_type" gorm:"type:varchar(255);not null"`
	MediaKind           constant.MediaKind   `json:"media_kind" gorm:"type:varchar(10);not null"`
	SizeBytes           int64                `json:"size_bytes" gorm:"not null"`
	Status              constant.MediaStatus `json:"status" gorm:"type:varchar(20);not null;index:idx_media_files_status"`
	ErrorMessage        *string              `json:"error_message" gorm:"type:text"`
	UploadedAt          time.Time            `json:"uploaded_at" gorm:"not null;index:idx_media_files_uploaded_at"`
	ProcessingStartedAt *time.Time           `json:"processing_started_at"`
	CompletedAt         *time.Time           `json:"completed_at"`
	RetryCount          int                  `json:"retry_count" gorm:"not null;default:0"`
	Version             int64                `json:"version" gorm:"not null;default:0"`
}

func (MediaFile) TableName() string {
	return "media_files"
}
