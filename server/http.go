package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"media-transcription/config"
	"media-transcription/constant"
	"media-transcription/handler"
	"media-transcription/repository"
	"media-transcription/trigger"
)

func RunHttp(cfg *config.Config) {
	ctx, cancel := signal.NotifyContext(setupLogger(cfg), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.Ctx(ctx).Info().Str("env", cfg.App.Environment).Bool("isProduction", cfg.App.Environment == constant.EnvironmentProduction.String()).Send()
	if cfg.App.Environment == constant.EnvironmentProduction.String() {
		gin.SetMode(gin.ReleaseMode)
	}

	c, err := newComponents(ctx, cfg, true)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("failed to initialize components")
		return
	}
	defer c.close(ctx)

	scheduler, err := trigger.NewScheduler(ctx, cfg.Pipeline.BatchScheduleExpression, c.batch)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("failed to create batch scheduler")
		return
	}
	scheduler.Start()
	zerolog.Ctx(ctx).Info().Str("schedule", cfg.Pipeline.BatchScheduleExpression).Msg("batch scheduler started")
	defer func() { <-scheduler.Stop().Done() }()

	deps := handler.ServiceDependencies{EventTrigger: c.events}
	uploaded := handler.Bind(deps, cfg.EventBus.HandlerMaxTries, handler.MediaUploadedHandler)

	r := gin.New()
	r.Use(gin.Recovery(), withLogger(ctx))
	r.MaxMultipartMemory = 32 << 20
	addHealth(r)
	newRouter(ctx, c.uploads, c.transcriptions, c.orch, c.batch).register(r)

	srv := http.Server{
		Handler:           r,
		Addr:              fmt.Sprintf(":%s", cfg.Server.HttpPort),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := c.subscriber.Subscribe(gctx, constant.TopicMediaUploaded, cfg.Kafka.GroupID, uploaded)
		if err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("upload event consumer: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		zerolog.Ctx(ctx).Info().Str("env", cfg.App.Environment).Str("port", cfg.Server.HttpPort).Msg("start http server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		zerolog.Ctx(ctx).Info().Msg("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("env", cfg.App.Environment).Msg("server stopped with error")
	}
	zerolog.Ctx(ctx).Info().Str("env", cfg.App.Environment).Msg("server shutdown")
}

// RunBatch performs one batch run and exits.
func RunBatch(cfg *config.Config) error {
	ctx, cancel := signal.NotifyContext(setupLogger(cfg), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	c, err := newComponents(ctx, cfg, false)
	if err != nil {
		return err
	}
	defer c.close(ctx)

	_, err = c.batch.Run(ctx)
	return err
}

func RunMigrate(cfg *config.Config) error {
	ctx := setupLogger(cfg)
	db, err := repository.NewPostgres(cfg.DB, cfg.App.Environment)
	if err != nil {
		return err
	}
	if err := repository.Migrate(db); err != nil {
		return err
	}
	zerolog.Ctx(ctx).Info().Msg("database migrated")
	return nil
}

func addHealth(r *gin.Engine) {
	health := func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status": "ok",
		})
	}
	r.GET("/health", health)
	r.GET("/api/v1/health", health)
}

// withLogger attaches the process logger to every request context.
func withLogger(ctx context.Context) gin.HandlerFunc {
	logger := zerolog.Ctx(ctx)
	return func(c *gin.Context) {
		start := time.Now()
		c.Request = c.Request.WithContext(logger.WithContext(c.Request.Context()))
		c.Next()
		logger.Debug().
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("took", time.Since(start)).
			Msg("http request")
	}
}

func setupLogger(cfg *config.Config) context.Context {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if cfg.App.Environment == constant.EnvironmentDevelop.String() {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	// Log to standard output
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	ctx := logger.WithContext(context.Background())

	return ctx
}
