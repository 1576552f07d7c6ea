package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"

	"media-transcription/cache"
	"media-transcription/config"
	"media-transcription/constant"
	"media-transcription/entities"
	"media-transcription/event"
	"media-transcription/provider"
	"media-transcription/repository"
	"media-transcription/storage"
)

type ClaimStatus int

const (
	Claimed ClaimStatus = iota + 1
	AlreadyInFlight
	AlreadyTerminal
	NotFound
)

func (s ClaimStatus) String() string {
	switch s {
	case Claimed:
		return "claimed"
	case AlreadyInFlight:
		return "already_in_flight"
	case AlreadyTerminal:
		return "already_terminal"
	case NotFound:
		return "not_found"
	}
	return "unknown"
}

// Token is the processing attempt granted by a successful claim. Media is the record
// as written by the claim; Version fences every later write of this attempt.
type Token struct {
	MediaID        uint64
	PreviousStatus constant.MediaStatus
	Version        int64
	ClaimedAt      time.Time
	Media          entities.MediaFile
}

type ClaimResult struct {
	Status    ClaimStatus
	Token     *Token
	Reclaimed bool
}

type Outcome struct {
	Transcription *provider.Transcription
	Elapsed       time.Duration
	Err           error
	// Interrupted marks an attempt abandoned by its caller (shutdown, client gone).
	Interrupted bool
}

func Success(t *provider.Transcription, elapsed time.Duration) Outcome {
	return Outcome{Transcription: t, Elapsed: elapsed}
}

func Failure(err error) Outcome {
	return Outcome{Err: err}
}

func Interrupted(err error) Outcome {
	return Outcome{Err: err, Interrupted: true}
}

// RunResult reports what a trigger's call to Run did with a record.
type RunResult struct {
	Claim  ClaimStatus
	Status constant.MediaStatus
}

type Orchestrator interface {
	Claim(ctx context.Context, id uint64) (ClaimResult, error)
	Process(ctx context.Context, token Token) error
	Finish(ctx context.Context, token Token, outcome Outcome) error
	Run(ctx context.Context, id uint64) (RunResult, error)
	Reset(ctx context.Context, id uint64) error
}

type Option func(o *orchestrator)

func WithClock(now func() time.Time) Option {
	return func(o *orchestrator) { o.now = now }
}

// WithStoreBackOff replaces the backoff used when a finish write hits a store error.
func WithStoreBackOff(newBackOff func() backoff.BackOff) Option {
	return func(o *orchestrator) { o.newBackOff = newBackOff }
}

type orchestrator struct {
	repo        repository.MediaRepository
	blobs       storage.BlobStore
	transcriber provider.Transcriber
	cache       cache.ResultCache
	publisher   event.Publisher
	cfg         config.Pipeline
	now         func() time.Time
	newBackOff  func() backoff.BackOff
}

func NewOrchestrator(
	repo repository.MediaRepository,
	blobs storage.BlobStore,
	transcriber provider.Transcriber,
	resultCache cache.ResultCache,
	publisher event.Publisher,
	cfg config.Pipeline,
	opts ...Option,
) Orchestrator {
	o := &orchestrator{
		repo:        repo,
		blobs:       blobs,
		transcriber: transcriber,
		cache:       resultCache,
		publisher:   publisher,
		cfg:         cfg,
		now:         time.Now,
		newBackOff: func() backoff.BackOff {
			bo := backoff.NewExponentialBackOff()
			bo.MaxInterval = 5 * time.Second
			return bo
		},
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *orchestrator) clock() time.Time {
	return o.now().UTC()
}

func (o *orchestrator) Claim(ctx context.Context, id uint64) (ClaimResult, error) {
	logger := zerolog.Ctx(ctx).With().Uint64("media_id", id).Logger()

	media, err := o.repo.FindMediaById(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			logger.Warn().Msg("claim on unknown media file")
			return ClaimResult{Status: NotFound}, nil
		}
		return ClaimResult{}, errors.Join(ErrTransientInfra, err)
	}

	reclaimed := false
	now := o.clock()
	if isStale(*media, o.cfg.ClaimStaleAfter, now) {
		next, err := o.reclaim(ctx, *media, now)
		if err != nil {
			if errors.Is(err, ErrConflict) {
				return ClaimResult{Status: AlreadyInFlight}, nil
			}
			return ClaimResult{}, err
		}
		media = next
		reclaimed = true
	}

	switch {
	case media.Status == constant.MediaStatusProcessing:
		logger.Debug().Msg("media file already in flight")
		return ClaimResult{Status: AlreadyInFlight}, nil
	case media.Status.IsTerminal():
		logger.Debug().Str("status", media.Status.String()).Msg("media file already terminal")
		return ClaimResult{Status: AlreadyTerminal, Reclaimed: reclaimed}, nil
	}

	t, err := claimTransition(*media, now)
	if err != nil {
		return ClaimResult{}, err
	}
	ok, err := o.repo.ConditionalUpdate(ctx, id, t.From, t.Version, t.Updates())
	if err != nil {
		return ClaimResult{}, errors.Join(ErrTransientInfra, err)
	}
	if !ok {
		logger.Debug().Err(ErrConflict).Msg("claim lost the race")
		return ClaimResult{Status: AlreadyInFlight}, nil
	}

	logger.Info().Int64("version", t.Next.Version).Int("retry_count", t.Next.RetryCount).Msg("media file claimed")
	return ClaimResult{
		Status: Claimed,
		Token: &Token{
			MediaID:        id,
			PreviousStatus: t.From,
			Version:        t.Next.Version,
			ClaimedAt:      now,
			Media:          t.Next,
		},
		Reclaimed: reclaimed,
	}, nil
}

// reclaim expires the lease of an abandoned attempt. It counts as one failed attempt.
func (o *orchestrator) reclaim(ctx context.Context, media entities.MediaFile, now time.Time) (*entities.MediaFile, error) {
	reason := fmt.Sprintf("processing lease expired after %s", o.cfg.ClaimStaleAfter)
	t, err := failureTransition(media, reason, o.cfg.MaxRetries, now)
	if err != nil {
		return nil, err
	}
	ok, err := o.repo.ConditionalUpdate(ctx, media.ID, t.From, t.Version, t.Updates())
	if err != nil {
		return nil, errors.Join(ErrTransientInfra, err)
	}
	if !ok {
		return nil, ErrConflict
	}

	zerolog.Ctx(ctx).Warn().
		Uint64("media_id", media.ID).
		Time("processing_started_at", *media.ProcessingStartedAt).
		Str("status", t.Next.Status.String()).
		Int("retry_count", t.Next.RetryCount).
		Msg("reclaimed stale processing attempt")
	o.runEffects(ctx, t.Effects)
	return &t.Next, nil
}

func (o *orchestrator) Process(ctx context.Context, token Token) error {
	_, err := o.process(ctx, token)
	return err
}

func (o *orchestrator) process(ctx context.Context, token Token) (status constant.MediaStatus, err error) {
	logger := zerolog.Ctx(ctx).With().Uint64("media_id", token.MediaID).Logger()
	// finish must still land after the processing deadline fires
	finishCtx := context.WithoutCancel(ctx)

	pctx, cancel := context.WithTimeout(ctx, o.cfg.ProcessingTimeout)
	defer cancel()

	outcome := Failure(errors.New("processing aborted"))
	defer func() {
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Msg("panic while processing media file")
			outcome = Failure(fmt.Errorf("panic during processing: %v", r))
		}
		status, err = o.finish(finishCtx, token, outcome)
		if err == nil && outcome.Interrupted {
			err = fmt.Errorf("%w: %v", ErrInterrupted, outcome.Err)
		}
	}()

	start := time.Now()
	logger.Info().Str("storage_key", token.Media.StorageKey).Msg("downloading media file")
	data, derr := o.blobs.Get(pctx, token.Media.StorageKey)
	if derr != nil {
		outcome = o.failed(ctx, logger, derr, "failed to download media file")
		return
	}

	logger.Info().Int("bytes", len(data)).Msg("transcribing media file")
	result, terr := o.transcriber.Transcribe(pctx, data, token.Media.OriginalFilename)
	if terr != nil {
		outcome = o.failed(ctx, logger, terr, "transcription failed")
		return
	}
	outcome = Success(result, time.Since(start))
	return
}

// failed classifies a processing error. Only the processing deadline and real
// download or provider errors count against the record; a cancelled caller does not.
func (o *orchestrator) failed(ctx context.Context, logger zerolog.Logger, err error, msg string) Outcome {
	if ctx.Err() != nil {
		logger.Warn().Err(err).AnErr("cause", ctx.Err()).Msg("processing interrupted by caller")
		return Interrupted(ctx.Err())
	}
	logger.Error().Err(err).Msg(msg)
	return Failure(err)
}

func (o *orchestrator) Finish(ctx context.Context, token Token, outcome Outcome) error {
	_, err := o.finish(ctx, token, outcome)
	return err
}

func (o *orchestrator) finish(ctx context.Context, token Token, outcome Outcome) (constant.MediaStatus, error) {
	logger := zerolog.Ctx(ctx).With().Uint64("media_id", token.MediaID).Int64("version", token.Version).Logger()
	now := o.clock()

	var (
		t   Transition
		err error
	)
	switch {
	case outcome.Err == nil && outcome.Transcription != nil:
		t, err = successTransition(token.Media, *outcome.Transcription, outcome.Elapsed, now)
	case outcome.Interrupted:
		t, err = releaseTransition(token.Media, fmt.Sprintf("processing interrupted: %v", outcome.Err))
	default:
		cause := outcome.Err
		if cause == nil {
			cause = errors.New("transcription returned no result")
		}
		t, err = failureTransition(token.Media, cause.Error(), o.cfg.MaxRetries, now)
	}
	if err != nil {
		return "", err
	}

	if err := o.apply(ctx, t); err != nil {
		if errors.Is(err, ErrFencingViolation) {
			logger.Error().Err(err).
				Str("expected_status", t.From.String()).
				Str("attempted_status", t.Next.Status.String()).
				Msg("rejected finish from stale processing attempt")
		} else {
			logger.Error().Err(err).Msg("failed to persist processing outcome")
		}
		return "", err
	}

	entry := logger.Info()
	if t.Next.Status != constant.MediaStatusCompleted {
		entry = logger.Warn().Int("retry_count", t.Next.RetryCount).Int("max_retries", o.cfg.MaxRetries)
	}
	entry.Str("status", t.Next.Status.String()).Msg("processing outcome persisted")

	o.runEffects(ctx, t.Effects)
	return t.Next.Status, nil
}

// apply writes the transition conditionally. Store errors are retried; a missed
// condition is a fencing violation and is not.
func (o *orchestrator) apply(ctx context.Context, t Transition) error {
	operation := func() (struct{}, error) {
		if t.Result != nil {
			t.Result.ID = 0
		}
		err := o.repo.Transaction(ctx, func(tx repository.MediaRepository) error {
			ok, err := tx.ConditionalUpdate(ctx, t.Next.ID, t.From, t.Version, t.Updates())
			if err != nil {
				return errors.Join(ErrTransientInfra, err)
			}
			if !ok {
				return backoff.Permanent(fmt.Errorf("%w: media %d expected %s@%d", ErrFencingViolation, t.Next.ID, t.From, t.Version))
			}
			if t.Result != nil {
				if err := tx.CreateResult(ctx, t.Result); err != nil {
					return errors.Join(ErrTransientInfra, err)
				}
			}
			return nil
		})
		return struct{}{}, err
	}
	_, err := backoff.Retry(ctx, operation, backoff.WithBackOff(o.newBackOff()), backoff.WithMaxTries(3))
	return err
}

// runEffects executes cache and event side effects. Failures are logged only; the
// persisted transition stands.
func (o *orchestrator) runEffects(ctx context.Context, effects []Effect) {
	for _, e := range effects {
		switch e := e.(type) {
		case CacheResult:
			if o.cache == nil {
				continue
			}
			if err := o.cache.Put(ctx, e.Result); err != nil {
				zerolog.Ctx(ctx).Warn().Err(err).Uint64("media_id", e.Result.MediaFileID).Msg("failed to cache transcription result")
			}
		case PublishCompleted:
			ev := e.Event()
			if err := o.publisher.Publish(ctx, ev.Topic(), strconv.FormatUint(ev.MediaFileID, 10), ev); err != nil {
				zerolog.Ctx(ctx).Error().Err(err).Uint64("media_id", ev.MediaFileID).Msg("failed to publish completion event")
			}
		case PublishUploaded:
			if err := o.publisher.Publish(ctx, constant.TopicMediaUploaded, strconv.FormatUint(e.Event.MediaFileID, 10), e.Event); err != nil {
				zerolog.Ctx(ctx).Error().Err(err).Uint64("media_id", e.Event.MediaFileID).Msg("failed to publish upload event")
			}
		}
	}
}

func (o *orchestrator) Run(ctx context.Context, id uint64) (RunResult, error) {
	claim, err := o.Claim(ctx, id)
	if err != nil {
		return RunResult{}, err
	}
	if claim.Status != Claimed {
		return RunResult{Claim: claim.Status}, nil
	}
	status, err := o.process(ctx, *claim.Token)
	return RunResult{Claim: Claimed, Status: status}, err
}

func (o *orchestrator) Reset(ctx context.Context, id uint64) error {
	media, err := o.repo.FindMediaById(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrNotFound
		}
		return errors.Join(ErrTransientInfra, err)
	}

	t, err := resetTransition(*media, o.clock())
	if err != nil {
		return err
	}
	ok, err := o.repo.ConditionalUpdate(ctx, id, t.From, t.Version, t.Updates())
	if err != nil {
		return errors.Join(ErrTransientInfra, err)
	}
	if !ok {
		return ErrConflict
	}

	zerolog.Ctx(ctx).Info().Uint64("media_id", id).Msg("failed media file reset for reprocessing")
	o.runEffects(ctx, t.Effects)
	return nil
}
