package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	"media-transcription/constant"
	"media-transcription/entities"
	"media-transcription/pipeline/pipelinetest"
	"media-transcription/repository"
	"media-transcription/repository/repotest"
)

func TestMediaKind(t *testing.T) {
	tests := []struct {
		name        string
		size        int64
		filename    string
		contentType string
		want        constant.MediaKind
		wantErr     bool
	}{
		{name: "audio content type", size: 10, filename: "a.bin", contentType: "audio/mpeg", want: constant.MediaKindAudio},
		{name: "video content type", size: 10, filename: "a.bin", contentType: "video/quicktime", want: constant.MediaKindVideo},
		{name: "generic type with audio extension", size: 10, filename: "Talk.FLAC", contentType: "application/octet-stream", want: constant.MediaKindAudio},
		{name: "generic type with video extension", size: 10, filename: "clip.mkv", contentType: "", want: constant.MediaKindVideo},
		{name: "webm extension is audio first", size: 10, filename: "x.webm", contentType: "", want: constant.MediaKindAudio},
		{name: "empty", size: 0, filename: "a.mp3", contentType: "audio/mpeg", wantErr: true},
		{name: "too large", size: MaxFileSize + 1, filename: "a.mp3", contentType: "audio/mpeg", wantErr: true},
		{name: "unsupported", size: 10, filename: "notes.pdf", contentType: "application/pdf", wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := mediaKind(tc.size, tc.filename, tc.contentType)
			if tc.wantErr {
				if !errors.Is(err, ErrInvalidUpload) {
					t.Fatalf("err = %v, want ErrInvalidUpload", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("mediaKind: %v", err)
			}
			if got != tc.want {
				t.Fatalf("kind = %s, want %s", got, tc.want)
			}
		})
	}
}

func TestUpload(t *testing.T) {
	ctx := context.Background()
	repo := repotest.NewRepo(t)
	blobs := pipelinetest.NewMemoryBlobs()
	publisher := &pipelinetest.Publisher{}
	svc := NewUploadService(repo, blobs, publisher)

	media, err := svc.Upload(ctx, strings.NewReader("hello audio"), 11, "Talk.MP3", "audio/mpeg")
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if media.ID == 0 || media.Status != constant.MediaStatusUploaded || media.MediaKind != constant.MediaKindAudio {
		t.Fatalf("media = %+v", media)
	}
	if !strings.HasSuffix(media.StorageKey, ".mp3") {
		t.Fatalf("storage key = %s", media.StorageKey)
	}

	stored, err := blobs.Get(ctx, media.StorageKey)
	if err != nil || string(stored) != "hello audio" {
		t.Fatalf("stored object = %q, %v", stored, err)
	}

	events := publisher.OnTopic(constant.TopicMediaUploaded)
	if len(events) != 1 {
		t.Fatalf("upload events = %d, want 1", len(events))
	}
	if !strings.Contains(string(events[0].Payload), `"mediaType":"AUDIO"`) {
		t.Fatalf("payload = %s", events[0].Payload)
	}

	found, err := svc.GetMedia(ctx, media.ID)
	if err != nil || found.OriginalFilename != "Talk.MP3" {
		t.Fatalf("GetMedia = %+v, %v", found, err)
	}
	uploaded, err := svc.ListMediaByStatus(ctx, constant.MediaStatusUploaded)
	if err != nil || len(uploaded) != 1 {
		t.Fatalf("ListMediaByStatus = %d, %v", len(uploaded), err)
	}
}

func TestUploadRejectsInvalidFiles(t *testing.T) {
	blobs := pipelinetest.NewMemoryBlobs()
	publisher := &pipelinetest.Publisher{}
	svc := NewUploadService(repotest.NewRepo(t), blobs, publisher)

	_, err := svc.Upload(context.Background(), strings.NewReader("%PDF"), 4, "notes.pdf", "application/pdf")
	if !errors.Is(err, ErrInvalidUpload) {
		t.Fatalf("err = %v, want ErrInvalidUpload", err)
	}
	if blobs.Len() != 0 || len(publisher.OnTopic(constant.TopicMediaUploaded)) != 0 {
		t.Fatal("rejected upload left side effects")
	}
}

type brokenRepo struct {
	repository.MediaRepository
}

func (brokenRepo) CreateMedia(ctx context.Context, media *entities.MediaFile) error {
	return errors.New("database is read-only")
}

func TestUploadRemovesObjectWhenRecordFails(t *testing.T) {
	blobs := pipelinetest.NewMemoryBlobs()
	publisher := &pipelinetest.Publisher{}
	repo := &brokenRepo{MediaRepository: repotest.NewRepo(t)}
	svc := NewUploadService(repo, blobs, publisher)

	if _, err := svc.Upload(context.Background(), strings.NewReader("abc"), 3, "a.wav", "audio/wav"); err == nil {
		t.Fatal("expected error")
	}
	if blobs.Len() != 0 {
		t.Fatalf("objects left = %d, want 0", blobs.Len())
	}
	if len(publisher.OnTopic(constant.TopicMediaUploaded)) != 0 {
		t.Fatal("event published for a record that was never created")
	}
}
