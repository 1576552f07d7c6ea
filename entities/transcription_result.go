package entities

import (
	"strings"
	"time"
)

type TranscriptionResult struct {
	ID               uint64    `json:"id" gorm:"primaryKey;autoIncrement"`
	MediaFileID      uint64    `json:"media_file_id" gorm:"not null;uniqueIndex:idx_transcription_results_media_file_id"`
	Transcript       string    `json:"transcript" gorm:"type:text;not null"`
	Language         string    `json:"language" gorm:"type:varchar(32)"`
	Confidence       *float64  `json:"confidence"`
	WordCount        int       `json:"word_count" gorm:"not null;default:0"`
	ProcessingTimeMs int64     `json:"processing_time_ms"`
	CompletedAt      time.Time `json:"completed_at" gorm:"not null"`
}

func (TranscriptionResult) TableName() string {
	return "transcription_results"
}

// CountWords splits on runs of whitespace. An empty or blank transcript has zero words.
func CountWords(transcript string) int {
	return len(strings.Fields(transcript))
}
