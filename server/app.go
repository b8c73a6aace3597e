package server

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"worker-walkthrough/config"
	"worker-walkthrough/pkg/ffmpeg"
	"worker-walkthrough/pkg/notify"
	"worker-walkthrough/pkg/storage"
	"worker-walkthrough/pkg/videoapi"
	"worker-walkthrough/pkg/vision"
	"worker-walkthrough/repository"
	"worker-walkthrough/service"
)

// App holds the wired services shared by the worker and the one-shot commands.
type App struct {
	Repo           repository.Repository
	Progress       *service.ProgressStore
	Classification service.ClassificationService
	Generation     service.GenerationService
	Jobs           service.JobService

	closers []func() error
}

func NewApp(ctx context.Context, cfg *config.Config) *App {
	repo := repository.NewRepo(cfg.DB)
	store := storage.New(cfg.Storage, cfg.MinIOBucket, cfg.StorageOptions.PublicURL, storage.RetryPolicy{
		MaxTries:    cfg.StorageOptions.MaxRetries,
		MaxInterval: cfg.StorageOptions.MaxBackoff,
	})
	progress := service.NewProgressStore()

	classifier := vision.NewClient(vision.Config{
		APIKey:      cfg.Vision.APIKey,
		BaseURL:     cfg.Vision.BaseURL,
		Model:       cfg.Vision.Model,
		MaxTokens:   cfg.Vision.MaxTokens,
		Temperature: cfg.Vision.Temperature,
		Timeout:     cfg.Vision.Timeout,
		MaxRetries:  cfg.Vision.MaxRetries,
		BaseDelay:   cfg.Vision.BaseDelay,
		MaxDelay:    cfg.Vision.MaxDelay,
	})
	api := videoapi.NewClient(videoapi.Config{
		APIKey:           cfg.VideoAPI.APIKey,
		BaseURL:          cfg.VideoAPI.BaseURL,
		Model:            cfg.VideoAPI.Model,
		Timeout:          cfg.VideoAPI.Timeout,
		MaxTries:         cfg.VideoAPI.MaxTries,
		RetryInterval:    cfg.VideoAPI.RetryInterval,
		RateLimitBackoff: cfg.VideoAPI.RateLimitBackoff,
	})
	runner := ffmpeg.NewExecRunner(cfg.FFmpeg.FFmpegPath, cfg.FFmpeg.FFprobePath)

	app := &App{Repo: repo, Progress: progress}

	var notifier notify.Notifier = notify.LogNotifier{}
	if len(cfg.Kafka.Brokers) > 0 {
		kafkaNotifier := notify.NewKafkaNotifier(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		app.closers = append(app.closers, kafkaNotifier.Close)
		notifier = kafkaNotifier
		zerolog.Ctx(ctx).Info().Strs("brokers", cfg.Kafka.Brokers).Str("topic", cfg.Kafka.Topic).Msg("publishing generation events to kafka")
	}

	app.Classification = service.NewClassificationService(repo, store, classifier, nil, progress, service.ClassificationConfig{
		Concurrency:       cfg.Classification.Concurrency,
		RateLimitCooldown: cfg.Vision.RateLimitCooldown,
		MaxCooldowns:      cfg.Vision.MaxRetries,
	})

	gen := cfg.Generation
	submitter := service.NewSubmitter(repo, api, service.SubmitterConfig{
		MaxImages:      gen.MaxImagesPerRoom,
		PromptMaxChars: gen.PromptMaxChars,
		ClipDuration:   gen.ClipDuration,
		AspectRatio:    gen.AspectRatio,
	})
	composer := service.NewCompositionEngine(store, runner, service.CompositionConfig{
		ScratchDir:        gen.ScratchDir,
		CrossfadeDuration: gen.CrossfadeDuration,
		SubtitleChunk:     time.Duration(gen.SubtitleChunkSeconds * float64(time.Second)),
		SubtitleMaxChars:  gen.SubtitleMaxChars,
		SubtitleFont:      gen.SubtitleFont,
		LogoMaxWidth:      gen.LogoMaxWidth,
		LogoMaxHeight:     gen.LogoMaxHeight,
	})
	entitlements := service.NewEntitlements(repo, cfg.Subscription.CacheTTL, cfg.Subscription.Required)

	app.Generation = service.NewOrchestrator(repo, submitter, api, store, composer, notifier, progress, entitlements, service.OrchestratorConfig{
		Poll: service.PollerConfig{
			InitialDelay: gen.InitialPollDelay,
			Interval:     gen.PollInterval,
			ClipDuration: gen.ClipDuration,
		},
		AspectRatio: gen.AspectRatio,
		Transitions: gen.Transitions,
	})
	app.Jobs = service.NewJobService(repo, app.Classification, app.Generation)
	return app
}

func (a *App) Close(ctx context.Context) {
	for _, c := range a.closers {
		if err := c(); err != nil {
			zerolog.Ctx(ctx).Error().Err(err).Msg("failed to close resource")
		}
	}
}
