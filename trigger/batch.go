package trigger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"media-transcription/config"
	"media-transcription/constant"
	"media-transcription/pipeline"
	"media-transcription/repository"
)

var (
	ErrRunInProgress     = errors.New("batch run already in progress")
	ErrSkipLimitExceeded = errors.New("batch skip limit exceeded")
)

type BatchStatus string

const (
	BatchRunning   BatchStatus = "RUNNING"
	BatchCompleted BatchStatus = "COMPLETED"
	BatchAborted   BatchStatus = "ABORTED"
)

// reportHistory bounds how many run reports are kept for status lookups.
const reportHistory = 50

type BatchReport struct {
	RunID      string      `json:"runId"`
	Status     BatchStatus `json:"status"`
	StartedAt  time.Time   `json:"startedAt"`
	FinishedAt time.Time   `json:"finishedAt,omitzero"`
	Read       int         `json:"read"`
	Written    int         `json:"written"`
	Failed     int         `json:"failed"`
	Filtered   int         `json:"filtered"`
	Skipped    int         `json:"skipped"`
	Error      string      `json:"error,omitempty"`
}

type BatchTrigger interface {
	// Run performs one batch run and returns its final report.
	Run(ctx context.Context) (*BatchReport, error)
	// Start begins a batch run in the background and returns its report as of start.
	// The run is bound to ctx, not to the caller's request.
	Start(ctx context.Context) (*BatchReport, error)
	// Report returns the latest report of a recent run.
	Report(runID string) (*BatchReport, bool)
}

type BatchOption func(b *batchTrigger)

func WithBatchClock(now func() time.Time) BatchOption {
	return func(b *batchTrigger) { b.now = now }
}

// WithChunkBackOff replaces the backoff between attempts of one record.
func WithChunkBackOff(newBackOff func() backoff.BackOff) BatchOption {
	return func(b *batchTrigger) { b.newBackOff = newBackOff }
}

type batchTrigger struct {
	repo       repository.MediaRepository
	orch       pipeline.Orchestrator
	cfg        config.Pipeline
	running    atomic.Bool
	now        func() time.Time
	newBackOff func() backoff.BackOff

	mu      sync.Mutex
	reports map[string]BatchReport
	order   []string
}

func NewBatchTrigger(repo repository.MediaRepository, orch pipeline.Orchestrator, cfg config.Pipeline, opts ...BatchOption) BatchTrigger {
	b := &batchTrigger{
		repo: repo,
		orch: orch,
		cfg:  cfg,
		now:  time.Now,
		newBackOff: func() backoff.BackOff {
			bo := backoff.NewExponentialBackOff()
			bo.MaxInterval = 10 * time.Second
			return bo
		},
		reports: make(map[string]BatchReport),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

type recordOutcome int

const (
	outcomeWritten recordOutcome = iota
	outcomeFailed
	outcomeFiltered
	outcomeSkipped
)

// Run processes one snapshot of eligible records. The returned report is complete
// even when the run aborts.
func (b *batchTrigger) Run(ctx context.Context) (*BatchReport, error) {
	report, err := b.begin()
	if err != nil {
		return nil, err
	}
	err = b.execute(ctx, report)
	return report, err
}

func (b *batchTrigger) Start(ctx context.Context) (*BatchReport, error) {
	report, err := b.begin()
	if err != nil {
		return nil, err
	}
	started := *report
	go func() {
		_ = b.execute(ctx, report)
	}()
	return &started, nil
}

func (b *batchTrigger) Report(runID string) (*BatchReport, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	r, ok := b.reports[runID]
	if !ok {
		return nil, false
	}
	return &r, true
}

func (b *batchTrigger) begin() (*BatchReport, error) {
	if !b.running.CompareAndSwap(false, true) {
		return nil, ErrRunInProgress
	}
	report := &BatchReport{RunID: uuid.NewString(), Status: BatchRunning, StartedAt: b.now().UTC()}
	b.save(report)
	return report, nil
}

// save records a copy of report, evicting the oldest run beyond reportHistory.
func (b *batchTrigger) save(report *BatchReport) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.reports[report.RunID]; !ok {
		b.order = append(b.order, report.RunID)
		if len(b.order) > reportHistory {
			delete(b.reports, b.order[0])
			b.order = b.order[1:]
		}
	}
	b.reports[report.RunID] = *report
}

func (b *batchTrigger) execute(ctx context.Context, report *BatchReport) error {
	defer b.running.Store(false)

	logger := zerolog.Ctx(ctx).With().Str("run_id", report.RunID).Logger()
	ctx = logger.WithContext(ctx)

	err := b.run(ctx, report)
	report.FinishedAt = b.now().UTC()
	report.Status = BatchCompleted
	if err != nil {
		report.Status = BatchAborted
		report.Error = err.Error()
	}
	b.save(report)

	logger.Info().
		Str("status", string(report.Status)).
		Int("read", report.Read).
		Int("written", report.Written).
		Int("failed", report.Failed).
		Int("filtered", report.Filtered).
		Int("skipped", report.Skipped).
		Dur("took", report.FinishedAt.Sub(report.StartedAt)).
		AnErr("abort", err).
		Msg("batch run finished")
	return err
}

func (b *batchTrigger) run(ctx context.Context, report *BatchReport) error {
	ids, err := b.snapshot(ctx)
	if err != nil {
		return err
	}
	report.Read = len(ids)
	b.save(report)
	if len(ids) == 0 {
		zerolog.Ctx(ctx).Debug().Msg("no eligible media files")
		return nil
	}

	var mu sync.Mutex
	for start := 0; start < len(ids); start += b.cfg.BatchChunkSize {
		end := min(start+b.cfg.BatchChunkSize, len(ids))

		var g errgroup.Group
		g.SetLimit(b.cfg.BatchParallelism)
		for _, id := range ids[start:end] {
			g.Go(func() error {
				outcome := b.runRecord(ctx, id)
				mu.Lock()
				defer mu.Unlock()
				switch outcome {
				case outcomeWritten:
					report.Written++
				case outcomeFailed:
					report.Failed++
				case outcomeFiltered:
					report.Filtered++
				case outcomeSkipped:
					report.Skipped++
				}
				return nil
			})
		}
		_ = g.Wait()
		b.save(report)

		if report.Skipped > b.cfg.ChunkSkipLimit {
			return fmt.Errorf("%w: %d records skipped, limit %d", ErrSkipLimitExceeded, report.Skipped, b.cfg.ChunkSkipLimit)
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	return nil
}

// snapshot lists UPLOADED records and abandoned PROCESSING records, oldest id first.
func (b *batchTrigger) snapshot(ctx context.Context) ([]uint64, error) {
	uploaded, err := b.repo.FindMediaByStatus(ctx, constant.MediaStatusUploaded)
	if err != nil {
		return nil, errors.Join(pipeline.ErrTransientInfra, err)
	}
	stale, err := b.repo.FindStaleProcessing(ctx, b.now().UTC().Add(-b.cfg.ClaimStaleAfter))
	if err != nil {
		return nil, errors.Join(pipeline.ErrTransientInfra, err)
	}

	ids := make([]uint64, 0, len(uploaded)+len(stale))
	for _, m := range uploaded {
		ids = append(ids, m.ID)
	}
	for _, m := range stale {
		ids = append(ids, m.ID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (b *batchTrigger) runRecord(ctx context.Context, id uint64) recordOutcome {
	logger := zerolog.Ctx(ctx).With().Uint64("media_id", id).Logger()

	// Once this run holds the claim, a rerun would only lose it to the record's own
	// PROCESSING state, so errors after a claim are not retried.
	operation := func() (pipeline.RunResult, error) {
		res, err := b.orch.Run(ctx, id)
		if err != nil && (res.Claim == pipeline.Claimed ||
			errors.Is(err, pipeline.ErrFencingViolation) ||
			errors.Is(err, pipeline.ErrInvalidState)) {
			return res, backoff.Permanent(err)
		}
		return res, err
	}
	notify := func(err error, next time.Duration) {
		logger.Warn().Err(err).Dur("retry_in", next).Msg("batch record failed, retrying")
	}
	res, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(b.newBackOff()),
		backoff.WithMaxTries(uint(b.cfg.ChunkRetryLimit)),
		backoff.WithNotify(notify),
	)
	if err != nil {
		logger.Error().Err(err).Str("claim", res.Claim.String()).Msg("batch record skipped")
		return outcomeSkipped
	}

	if res.Claim != pipeline.Claimed {
		logger.Debug().Str("claim", res.Claim.String()).Msg("batch record filtered")
		return outcomeFiltered
	}
	if res.Status == constant.MediaStatusCompleted {
		return outcomeWritten
	}
	return outcomeFailed
}
