package handler

import (
	"context"
	"errors"
	"testing"

	"media-transcription/dto"
	"media-transcription/event"
)

type recordingTrigger struct {
	events []dto.MediaUploadEvent
	err    error
}

func (r *recordingTrigger) Handle(ctx context.Context, ev dto.MediaUploadEvent) error {
	r.events = append(r.events, ev)
	return r.err
}

func TestMediaUploadedHandler(t *testing.T) {
	trig := &recordingTrigger{}
	deps := ServiceDependencies{EventTrigger: trig}

	msg := event.Message{Topic: "media-uploaded", Key: "42", Value: []byte(`{"mediaFileId":42,"filename":"talk.mp3","storageKey":"k.mp3"}`)}
	if err := MediaUploadedHandler(context.Background(), msg, deps); err != nil {
		t.Fatalf("handler: %v", err)
	}
	if len(trig.events) != 1 || trig.events[0].MediaFileID != 42 || trig.events[0].StorageKey != "k.mp3" {
		t.Fatalf("trigger got %+v", trig.events)
	}
}

func TestBindDoesNotRetryUndecodableEvents(t *testing.T) {
	trig := &recordingTrigger{}
	deps := ServiceDependencies{EventTrigger: trig}

	calls := 0
	counting := func(ctx context.Context, msg event.Message, deps ServiceDependencies) error {
		calls++
		return MediaUploadedHandler(ctx, msg, deps)
	}
	h := Bind(deps, 5, counting)

	for _, body := range []string{`not json`, `{"filename":"x.mp3"}`} {
		calls = 0
		err := h(context.Background(), event.Message{Value: []byte(body)})
		if err == nil {
			t.Fatalf("body %q: expected error", body)
		}
		if calls != 1 {
			t.Fatalf("body %q: handler called %d times, want 1", body, calls)
		}
	}
	if len(trig.events) != 0 {
		t.Fatal("trigger called for an invalid event")
	}
}

func TestBindSurfacesTriggerErrors(t *testing.T) {
	trig := &recordingTrigger{err: errors.New("store down")}
	h := Bind(ServiceDependencies{EventTrigger: trig}, 1, MediaUploadedHandler)

	err := h(context.Background(), event.Message{Value: []byte(`{"mediaFileId":9}`)})
	if err == nil || err.Error() != "store down" {
		t.Fatalf("err = %v", err)
	}
}
