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

	"worker-walkthrough/config"
	"worker-walkthrough/constant"
	jobHandler "worker-walkthrough/handler"
	"worker-walkthrough/pkg/rabbitmq"
)

func RunHttp(cfg *config.Config) {
	ctx, cancel := signal.NotifyContext(SetupLogger(cfg), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.Ctx(ctx).Info().Str("env", cfg.App.Environment).Bool("isProduction", cfg.App.Environment == constant.EnvironmentProduction.String()).Send()
	if cfg.App.Environment == constant.EnvironmentProduction.String() {
		gin.SetMode(gin.ReleaseMode)
	}

	conn, err := config.NewRabbitMQConn(ctx, cfg.Queue)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("NewRabbitMQConn")
	}

	app := NewApp(ctx, cfg)
	defer app.Close(ctx)

	serviceDeps := jobHandler.ServiceDependencies{JobService: app.Jobs}

	if conn != nil {
		classificationConsumer := rabbitmq.NewConsumer(conn, cfg.Queue, rabbitmq.ClassificationBinding, cfg.Server.Workers, jobHandler.ClassificationHandler)
		go func() {
			if err := classificationConsumer.Consume(ctx, serviceDeps); err != nil {
				zerolog.Ctx(ctx).Error().Err(err).Msg("Classification consumer error")
			}
		}()

		generationConsumer := rabbitmq.NewConsumer(conn, cfg.Queue, rabbitmq.GenerationBinding, cfg.Server.Workers, jobHandler.GenerationHandler)
		go func() {
			if err := generationConsumer.Consume(ctx, serviceDeps); err != nil {
				zerolog.Ctx(ctx).Error().Err(err).Msg("Generation consumer error")
			}
		}()
	}

	r := gin.Default()
	addHealth(r)
	addProjectRoutes(r, app.Progress, app.Generation)

	handler := http.Server{
		Handler:           r,
		Addr:              fmt.Sprintf(":%s", cfg.Server.HttpPort),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		zerolog.Ctx(ctx).Info().Str("env", cfg.App.Environment).Msg("start http server")
		if err := handler.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zerolog.Ctx(ctx).Error().Str("env", cfg.App.Environment).Msg(err.Error())
		}
	}()

	<-ctx.Done()
	zerolog.Ctx(ctx).Info().Msg("shutting down server")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer shutdownCancel()
	if err := handler.Shutdown(shutdownCtx); err != nil {
		zerolog.Ctx(ctx).Error().Str("env", cfg.App.Environment).Msg(err.Error())
	}

	zerolog.Ctx(ctx).Info().Str("env", cfg.App.Environment).Msg("server shutdown")
}

func addHealth(r *gin.Engine) {
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status": "ok",
		})
	})
}

func SetupLogger(cfg *config.Config) context.Context {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if cfg.App.Environment == constant.EnvironmentDevelop.String() {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	// Log to standard output
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	ctx := logger.WithContext(context.Background())

	return ctx
}
