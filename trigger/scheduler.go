package trigger

import (
	"context"
	"errors"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"media-transcription/config"
)

type cronLogger struct {
	logger zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg(msg)
}

// NewScheduler runs the batch trigger on expression. A tick that fires while a run is
// still going is skipped. The caller starts and stops the returned cron.
func NewScheduler(ctx context.Context, expression string, batch BatchTrigger) (*cron.Cron, error) {
	logger := cronLogger{logger: zerolog.Ctx(ctx).With().Str("component", "batch.scheduler").Logger()}

	c := cron.New(
		cron.WithParser(config.CronParser),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	_, err := c.AddFunc(expression, func() {
		if _, err := batch.Run(ctx); err != nil && !errors.Is(err, ErrRunInProgress) {
			zerolog.Ctx(ctx).Error().Err(err).Msg("scheduled batch run aborted")
		}
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}
