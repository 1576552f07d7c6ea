package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

type ErrorKind string

const (
	ErrorKindNetwork   ErrorKind = "network"
	ErrorKindTimeout   ErrorKind = "timeout"
	ErrorKindStatus    ErrorKind = "status"
	ErrorKindMalformed ErrorKind = "malformed_response"
)

// Error is returned for every failed transcription call.
type Error struct {
	Kind       ErrorKind
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("transcription provider %s (status %d): %v", e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("transcription provider %s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

type Transcription struct {
	Text             string   `json:"text"`
	Language         string   `json:"language"`
	Confidence       *float64 `json:"confidence"`
	ProcessingTimeMs int64    `json:"processing_time_ms"`
	Segments         int      `json:"segments"`
	Model            string   `json:"model"`
}

type Transcriber interface {
	Transcribe(ctx context.Context, data []byte, filename string) (*Transcription, error)
}

type whisperClient struct {
	url    string
	client *http.Client
}

func NewWhisperClient(url string, timeout time.Duration) Transcriber {
	return &whisperClient{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

func (c *whisperClient) Transcribe(ctx context.Context, data []byte, filename string) (*Transcription, error) {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		return nil, &Error{Kind: ErrorKindNetwork, Err: err}
	}
	if _, err := part.Write(data); err != nil {
		return nil, &Error{Kind: ErrorKindNetwork, Err: err}
	}
	if err := w.Close(); err != nil {
		return nil, &Error{Kind: ErrorKindNetwork, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, &body)
	if err != nil {
		return nil, &Error{Kind: ErrorKindNetwork, Err: err}
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	zerolog.Ctx(ctx).Info().Str("filename", filename).Int("bytes", len(data)).Str("url", c.url).Msg("sending file to whisper service")
	resp, err := c.client.Do(req)
	if err != nil {
		if isTimeout(ctx, err) {
			return nil, &Error{Kind: ErrorKindTimeout, Err: err}
		}
		return nil, &Error{Kind: ErrorKindNetwork, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		if isTimeout(ctx, err) {
			return nil, &Error{Kind: ErrorKindTimeout, Err: err}
		}
		return nil, &Error{Kind: ErrorKindNetwork, Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &Error{Kind: ErrorKindStatus, StatusCode: resp.StatusCode, Err: fmt.Errorf("whisper service returned %s", resp.Status)}
	}

	var out Transcription
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, &Error{Kind: ErrorKindMalformed, Err: err}
	}
	if out.Confidence != nil && (*out.Confidence < 0 || *out.Confidence > 1) {
		return nil, &Error{Kind: ErrorKindMalformed, Err: fmt.Errorf("confidence %v out of range", *out.Confidence)}
	}

	zerolog.Ctx(ctx).Info().
		Str("language", out.Language).
		Int("text_length", len(out.Text)).
		Int64("processing_time_ms", out.ProcessingTimeMs).
		Msg("received transcription from whisper service")

	return &out, nil
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return true
	}
	var te interface{ Timeout() bool }
	return errors.As(err, &te) && te.Timeout()
}
