package pipeline

import (
	"errors"
	"testing"
	"time"

	"media-transcription/constant"
	"media-transcription/entities"
	"media-transcription/provider"
)

func processing(retries int) entities.MediaFile {
	started := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	return entities.MediaFile{
		ID:                  42,
		OriginalFilename:    "talk.mp3",
		StorageKey:          "abc.mp3",
		MediaKind:           constant.MediaKindAudio,
		Status:              constant.MediaStatusProcessing,
		ProcessingStartedAt: &started,
		RetryCount:          retries,
		Version:             7,
	}
}

func TestClaimTransition(t *testing.T) {
	now := time.Date(2025, 3, 1, 11, 0, 0, 0, time.UTC)
	m := processing(0)
	m.Status = constant.MediaStatusUploaded

	tr, err := claimTransition(m, now)
	if err != nil {
		t.Fatalf("claimTransition: %v", err)
	}
	if tr.From != constant.MediaStatusUploaded || tr.Version != 7 {
		t.Fatalf("condition = %s@%d, want UPLOADED@7", tr.From, tr.Version)
	}
	if tr.Next.Status != constant.MediaStatusProcessing || tr.Next.Version != 8 {
		t.Fatalf("next = %s@%d, want PROCESSING@8", tr.Next.Status, tr.Next.Version)
	}
	if !tr.Next.ProcessingStartedAt.Equal(now) {
		t.Fatalf("processing started at %v, want %v", tr.Next.ProcessingStartedAt, now)
	}
	if len(tr.Effects) != 0 {
		t.Fatalf("claim has %d effects, want none", len(tr.Effects))
	}

	for _, status := range []constant.MediaStatus{constant.MediaStatusProcessing, constant.MediaStatusCompleted, constant.MediaStatusFailed} {
		m.Status = status
		if _, err := claimTransition(m, now); !errors.Is(err, ErrInvalidState) {
			t.Errorf("claim from %s: err = %v, want ErrInvalidState", status, err)
		}
	}
}

func TestSuccessTransition(t *testing.T) {
	now := time.Date(2025, 3, 1, 11, 0, 0, 0, time.UTC)
	m := processing(1)
	reason := "earlier failure"
	m.ErrorMessage = &reason

	conf := 0.87
	tr, err := successTransition(m, provider.Transcription{Text: "hello   world\n", Language: "en", Confidence: &conf}, 1500*time.Millisecond, now)
	if err != nil {
		t.Fatalf("successTransition: %v", err)
	}
	if tr.Next.Status != constant.MediaStatusCompleted {
		t.Fatalf("status = %s, want COMPLETED", tr.Next.Status)
	}
	if tr.Next.ErrorMessage != nil {
		t.Fatalf("error message not cleared: %q", *tr.Next.ErrorMessage)
	}
	if tr.Next.CompletedAt == nil || !tr.Next.CompletedAt.Equal(now) {
		t.Fatalf("completed at = %v, want %v", tr.Next.CompletedAt, now)
	}
	if tr.Next.RetryCount != 1 {
		t.Fatalf("retry count = %d, success must not change it", tr.Next.RetryCount)
	}
	if tr.Result == nil {
		t.Fatal("no result row")
	}
	if tr.Result.WordCount != 2 || tr.Result.ProcessingTimeMs != 1500 || tr.Result.MediaFileID != 42 {
		t.Fatalf("result = %+v", tr.Result)
	}
	if len(tr.Effects) != 2 {
		t.Fatalf("effects = %d, want cache and publish", len(tr.Effects))
	}

	// the published id follows the inserted row
	tr.Result.ID = 99
	pub, ok := tr.Effects[1].(PublishCompleted)
	if !ok {
		t.Fatalf("second effect is %T", tr.Effects[1])
	}
	ev := pub.Event()
	if ev.TranscriptionResultID != 99 || ev.Topic() != constant.TopicMediaTranscribed {
		t.Fatalf("event = %+v topic %s", ev, ev.Topic())
	}
}

func TestFailureTransition(t *testing.T) {
	now := time.Date(2025, 3, 1, 11, 0, 0, 0, time.UTC)

	tests := []struct {
		name       string
		retries    int
		wantStatus constant.MediaStatus
		wantEvent  bool
	}{
		{name: "first failure returns to queue", retries: 0, wantStatus: constant.MediaStatusUploaded},
		{name: "second failure returns to queue", retries: 1, wantStatus: constant.MediaStatusUploaded},
		{name: "last failure is terminal", retries: 2, wantStatus: constant.MediaStatusFailed, wantEvent: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tr, err := failureTransition(processing(tc.retries), "provider down", 3, now)
			if err != nil {
				t.Fatalf("failureTransition: %v", err)
			}
			if tr.Next.Status != tc.wantStatus {
				t.Fatalf("status = %s, want %s", tr.Next.Status, tc.wantStatus)
			}
			if tr.Next.RetryCount != tc.retries+1 {
				t.Fatalf("retry count = %d, want %d", tr.Next.RetryCount, tc.retries+1)
			}
			if tr.Next.ErrorMessage == nil || *tr.Next.ErrorMessage != "provider down" {
				t.Fatalf("error message = %v", tr.Next.ErrorMessage)
			}
			if tr.Result != nil {
				t.Fatal("failure must not produce a result row")
			}
			if got := len(tr.Effects) == 1; got != tc.wantEvent {
				t.Fatalf("effects = %d, want event %v", len(tr.Effects), tc.wantEvent)
			}
			if tc.wantEvent {
				ev := tr.Effects[0].(PublishCompleted).Event()
				if ev.Topic() != constant.TopicMediaFailed || ev.ErrorMessage != "provider down" {
					t.Fatalf("event = %+v", ev)
				}
			}
		})
	}
}

func TestResetTransition(t *testing.T) {
	now := time.Date(2025, 3, 1, 11, 0, 0, 0, time.UTC)
	m := processing(3)
	m.Status = constant.MediaStatusFailed
	reason := "boom"
	m.ErrorMessage = &reason
	m.CompletedAt = &now

	tr, err := resetTransition(m, now)
	if err != nil {
		t.Fatalf("resetTransition: %v", err)
	}
	if tr.Next.Status != constant.MediaStatusUploaded || tr.Next.RetryCount != 0 {
		t.Fatalf("next = %s retries %d", tr.Next.Status, tr.Next.RetryCount)
	}
	if tr.Next.ErrorMessage != nil || tr.Next.CompletedAt != nil {
		t.Fatal("reset must clear error message and completion time")
	}
	up, ok := tr.Effects[0].(PublishUploaded)
	if !ok || up.Event.MediaFileID != 42 {
		t.Fatalf("effects = %+v", tr.Effects)
	}

	m.Status = constant.MediaStatusCompleted
	if _, err := resetTransition(m, now); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("reset from COMPLETED: err = %v", err)
	}
}

func TestReleaseTransition(t *testing.T) {
	m := processing(2)

	tr, err := releaseTransition(m, "processing interrupted: context canceled")
	if err != nil {
		t.Fatalf("releaseTransition: %v", err)
	}
	if tr.Next.Status != constant.MediaStatusUploaded || tr.Next.RetryCount != 2 {
		t.Fatalf("next = %s retries %d, want UPLOADED with 2", tr.Next.Status, tr.Next.RetryCount)
	}
	if tr.Next.ProcessingStartedAt != nil || tr.Next.Version != m.Version+1 {
		t.Fatalf("next = %+v", tr.Next)
	}
	if len(tr.Effects) != 0 {
		t.Fatalf("effects = %+v, want none", tr.Effects)
	}

	m.Status = constant.MediaStatusUploaded
	if _, err := releaseTransition(m, "x"); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("release from UPLOADED: err = %v", err)
	}
}

func TestIsStale(t *testing.T) {
	m := processing(0)
	start := *m.ProcessingStartedAt

	if isStale(m, 30*time.Minute, start.Add(10*time.Minute)) {
		t.Fatal("fresh attempt reported stale")
	}
	if !isStale(m, 30*time.Minute, start.Add(31*time.Minute)) {
		t.Fatal("expired attempt not reported stale")
	}
	m.Status = constant.MediaStatusUploaded
	if isStale(m, 30*time.Minute, start.Add(time.Hour)) {
		t.Fatal("only PROCESSING records can be stale")
	}
}
