package dto

import (
	"time"

	"media-transcription/constant"
)

type MediaUploadEvent struct {
	MediaFileID uint64    `json:"mediaFileId"`
	Filename    string    `json:"filename"`
	StorageKey  string    `json:"storageKey"`
	MediaType   string    `json:"mediaType"`
	FileSize    int64     `json:"fileSize"`
	UploadedAt  time.Time `json:"uploadedAt"`
}

type TranscriptionCompletedEvent struct {
	MediaFileID           uint64               `json:"mediaFileId"`
	TranscriptionResultID uint64               `json:"transcriptionResultId,omitempty"`
	Status                constant.MediaStatus `json:"status"`
	CompletedAt           time.Time            `json:"completedAt"`
	ErrorMessage          string               `json:"errorMessage,omitempty"`
}

// Topic routes a completion event by its terminal status.
func (e TranscriptionCompletedEvent) Topic() string {
	if e.Status == constant.MediaStatusFailed {
		return constant.TopicMediaFailed
	}
	return constant.TopicMediaTranscribed
}

type ApiResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

type MediaFileResponse struct {
	ID               uint64     `json:"id"`
	OriginalFilename string     `json:"originalFilename"`
	MediaType        string     `json:"mediaType"`
	Status           string     `json:"status"`
	FileSize         int64      `json:"fileSize"`
	UploadedAt       time.Time  `json:"uploadedAt"`
	CompletedAt      *time.Time `json:"completedAt,omitempty"`
	ErrorMessage     *string    `json:"errorMessage,omitempty"`
	RetryCount       int        `json:"retryCount"`
}

type TranscriptionResultResponse struct {
	ID               uint64    `json:"id"`
	MediaFileID      uint64    `json:"mediaFileId"`
	Transcript       string    `json:"transcript"`
	Language         string    `json:"language"`
	Confidence       *float64  `json:"confidence,omitempty"`
	WordCount        int       `json:"wordCount"`
	ProcessingTimeMs int64     `json:"processingTimeMs"`
	CompletedAt      time.Time `json:"completedAt"`
}

type TranscriptionStatusResponse struct {
	MediaFileID         uint64     `json:"mediaFileId"`
	Status              string     `json:"status"`
	HasTranscription    bool       `json:"hasTranscription"`
	Message             string     `json:"message"`
	ProcessingStartedAt *time.Time `json:"processingStartedAt,omitempty"`
	CompletedAt         *time.Time `json:"completedAt,omitempty"`
	ErrorMessage        *string    `json:"errorMessage,omitempty"`
	RetryCount          int        `json:"retryCount"`
}

type TranscriptionStatistics struct {
	TotalTranscriptions     int64   `json:"totalTranscriptions"`
	AverageProcessingTimeMs int64   `json:"averageProcessingTimeMs"`
	AverageConfidence       float64 `json:"averageConfidence"`
}
