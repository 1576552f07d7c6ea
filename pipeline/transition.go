package pipeline

import (
	"fmt"
	"time"

	"media-transcription/constant"
	"media-transcription/dto"
	"media-transcription/entities"
	"media-transcription/provider"
)

// Effect is a side effect executed after a transition has been persisted.
type Effect interface {
	effect()
}

type CacheResult struct {
	Result *entities.TranscriptionResult
}

type PublishCompleted struct {
	MediaFileID  uint64
	Status       constant.MediaStatus
	CompletedAt  time.Time
	ErrorMessage string
	// Result is read at publish time so the event carries the id assigned on insert.
	Result *entities.TranscriptionResult
}

type PublishUploaded struct {
	Event dto.MediaUploadEvent
}

func (CacheResult) effect()      {}
func (PublishCompleted) effect() {}
func (PublishUploaded) effect()  {}

func (p PublishCompleted) Event() dto.TranscriptionCompletedEvent {
	ev := dto.TranscriptionCompletedEvent{
		MediaFileID:  p.MediaFileID,
		Status:       p.Status,
		CompletedAt:  p.CompletedAt,
		ErrorMessage: p.ErrorMessage,
	}
	if p.Result != nil {
		ev.TranscriptionResultID = p.Result.ID
	}
	return ev
}

// Transition is a state change computed from a known record state. It is applied as a
// single conditional write on (id, From, Version); Result, when set, is inserted in the
// same transaction.
type Transition struct {
	From    constant.MediaStatus
	Version int64
	Next    entities.MediaFile
	Result  *entities.TranscriptionResult
	Effects []Effect
}

func (t Transition) Updates() map[string]any {
	return map[string]any{
		"status":                t.Next.Status,
		"error_message":         t.Next.ErrorMessage,
		"processing_started_at": t.Next.ProcessingStartedAt,
		"completed_at":          t.Next.CompletedAt,
		"retry_count":           t.Next.RetryCount,
		"version":               t.Next.Version,
	}
}

func base(m entities.MediaFile) Transition {
	next := m
	next.Version = m.Version + 1
	return Transition{From: m.Status, Version: m.Version, Next: next}
}

// claimTransition moves an UPLOADED record to PROCESSING.
func claimTransition(m entities.MediaFile, now time.Time) (Transition, error) {
	if m.Status != constant.MediaStatusUploaded {
		return Transition{}, fmt.Errorf("%w: claim from %s", ErrInvalidState, m.Status)
	}
	t := base(m)
	t.Next.Status = constant.MediaStatusProcessing
	t.Next.ProcessingStartedAt = &now
	return t, nil
}

func successTransition(m entities.MediaFile, tr provider.Transcription, elapsed time.Duration, now time.Time) (Transition, error) {
	if m.Status != constant.MediaStatusProcessing {
		return Transition{}, fmt.Errorf("%w: complete from %s", ErrInvalidState, m.Status)
	}
	result := &entities.TranscriptionResult{
		MediaFileID:      m.ID,
		Transcript:       tr.Text,
		Language:         tr.Language,
		Confidence:       tr.Confidence,
		WordCount:        entities.CountWords(tr.Text),
		ProcessingTimeMs: elapsed.Milliseconds(),
		CompletedAt:      now,
	}

	t := base(m)
	t.Next.Status = constant.MediaStatusCompleted
	t.Next.CompletedAt = &now
	t.Next.ErrorMessage = nil
	t.Result = result
	t.Effects = []Effect{
		CacheResult{Result: result},
		PublishCompleted{
			MediaFileID: m.ID,
			Status:      constant.MediaStatusCompleted,
			CompletedAt: now,
			Result:      result,
		},
	}
	return t, nil
}

// failureTransition counts one business retry. The record goes back to UPLOADED while
// retries remain and to FAILED once retryCount reaches maxRetries.
func failureTransition(m entities.MediaFile, reason string, maxRetries int, now time.Time) (Transition, error) {
	if m.Status != constant.MediaStatusProcessing {
		return Transition{}, fmt.Errorf("%w: fail from %s", ErrInvalidState, m.Status)
	}
	t := base(m)
	t.Next.RetryCount = m.RetryCount + 1
	t.Next.ErrorMessage = &reason

	if t.Next.RetryCount < maxRetries {
		t.Next.Status = constant.MediaStatusUploaded
		return t, nil
	}

	t.Next.Status = constant.MediaStatusFailed
	t.Next.CompletedAt = &now
	t.Effects = []Effect{
		PublishCompleted{
			MediaFileID:  m.ID,
			Status:       constant.MediaStatusFailed,
			CompletedAt:  now,
			ErrorMessage: reason,
		},
	}
	return t, nil
}

// releaseTransition hands an interrupted attempt back to UPLOADED. The retry count is
// left alone; the attempt never reached a business outcome.
func releaseTransition(m entities.MediaFile, reason string) (Transition, error) {
	if m.Status != constant.MediaStatusProcessing {
		return Transition{}, fmt.Errorf("%w: release from %s", ErrInvalidState, m.Status)
	}
	t := base(m)
	t.Next.Status = constant.MediaStatusUploaded
	t.Next.ErrorMessage = &reason
	t.Next.ProcessingStartedAt = nil
	return t, nil
}

// resetTransition is the explicit operator action that makes a FAILED record eligible again.
func resetTransition(m entities.MediaFile, now time.Time) (Transition, error) {
	if m.Status != constant.MediaStatusFailed {
		return Transition{}, fmt.Errorf("%w: reset from %s", ErrInvalidState, m.Status)
	}
	t := base(m)
	t.Next.Status = constant.MediaStatusUploaded
	t.Next.RetryCount = 0
	t.Next.ErrorMessage = nil
	t.Next.CompletedAt = nil
	t.Effects = []Effect{
		PublishUploaded{Event: UploadEvent(t.Next, now)},
	}
	return t, nil
}

func isStale(m entities.MediaFile, staleAfter time.Duration, now time.Time) bool {
	return m.Status == constant.MediaStatusProcessing &&
		m.ProcessingStartedAt != nil &&
		now.Sub(*m.ProcessingStartedAt) > staleAfter
}

func UploadEvent(m entities.MediaFile, at time.Time) dto.MediaUploadEvent {
	return dto.MediaUploadEvent{
		MediaFileID: m.ID,
		Filename:    m.OriginalFilename,
		StorageKey:  m.StorageKey,
		MediaType:   string(m.MediaKind),
		FileSize:    m.SizeBytes,
		UploadedAt:  at,
	}
}
