package storage

import (
	"strings"
	"testing"
)

func TestObjectName(t *testing.T) {
	tests := []struct {
		filename string
		ext      string
	}{
		{"talk.MP3", ".mp3"},
		{"clip.final.mp4", ".mp4"},
		{"noext", ""},
	}

	for _, tt := range tests {
		got := ObjectName(tt.filename)
		if !strings.HasSuffix(got, tt.ext) {
			t.Fatalf("ObjectName(%q) = %q, want suffix %q", tt.filename, got, tt.ext)
		}
		if len(got) != 36+len(tt.ext) {
			t.Fatalf("ObjectName(%q) = %q, want uuid prefix", tt.filename, got)
		}
	}

	if ObjectName("a.wav") == ObjectName("a.wav") {
		t.Fatal("object names must be unique")
	}
}
