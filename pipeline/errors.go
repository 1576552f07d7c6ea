package pipeline

import (
	"errors"

	"media-transcription/repository"
)

var (
	// ErrNotFound is returned for an unknown media id. It is never retried.
	ErrNotFound = repository.ErrNotFound
	// ErrConflict means a conditional write lost to a concurrent writer.
	ErrConflict = errors.New("conditional write lost to a concurrent writer")
	// ErrTransientInfra tags store failures that callers may retry.
	ErrTransientInfra = errors.New("transient infrastructure error")
	// ErrFencingViolation means a finish carried a token that no longer matches the record.
	ErrFencingViolation = errors.New("fencing violation: stale processing attempt")
	ErrInvalidState     = errors.New("operation not allowed in current status")
	// ErrInterrupted means the caller gave up on an attempt before it finished. The
	// record was released without counting a retry.
	ErrInterrupted = errors.New("processing interrupted")
)
