package provider

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestWhisperClientTranscribe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		file, header, err := r.FormFile("file")
		if err != nil {
			t.Errorf("FormFile: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		data, _ := io.ReadAll(file)
		if header.Filename != "talk.mp3" || string(data) != "audio-bytes" {
			t.Errorf("got filename=%q data=%q", header.Filename, data)
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"text":"hello world","language":"en","confidence":0.93,"processing_time_ms":1200}`)
	}))
	defer srv.Close()

	c := NewWhisperClient(srv.URL, 5*time.Second)
	got, err := c.Transcribe(context.Background(), []byte("audio-bytes"), "talk.mp3")
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if got.Text != "hello world" || got.Language != "en" {
		t.Fatalf("got %+v", got)
	}
	if got.Confidence == nil || *got.Confidence != 0.93 {
		t.Fatalf("confidence = %v", got.Confidence)
	}
}

func TestWhisperClientErrors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		timeout time.Duration
		kind    ErrorKind
	}{
		{
			name: "server error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
			},
			kind: ErrorKindStatus,
		},
		{
			name: "malformed body",
			handler: func(w http.ResponseWriter, r *http.Request) {
				io.WriteString(w, `{"text":`)
			},
			kind: ErrorKindMalformed,
		},
		{
			name: "confidence out of range",
			handler: func(w http.ResponseWriter, r *http.Request) {
				io.WriteString(w, `{"text":"x","confidence":1.5}`)
			},
			kind: ErrorKindMalformed,
		},
		{
			name: "timeout",
			handler: func(w http.ResponseWriter, r *http.Request) {
				time.Sleep(200 * time.Millisecond)
			},
			timeout: 20 * time.Millisecond,
			kind:    ErrorKindTimeout,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			timeout := tt.timeout
			if timeout == 0 {
				timeout = 5 * time.Second
			}
			_, err := NewWhisperClient(srv.URL, timeout).Transcribe(context.Background(), []byte("x"), "a.wav")
			var perr *Error
			if !errors.As(err, &perr) {
				t.Fatalf("err = %v, want *provider.Error", err)
			}
			if perr.Kind != tt.kind {
				t.Fatalf("kind = %s, want %s", perr.Kind, tt.kind)
			}
		})
	}
}
