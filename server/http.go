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
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"recording-worker/config"
	"recording-worker/constant"
	"recording-worker/dto"
	"recording-worker/gateway"
	controlHandler "recording-worker/handler"
	"recording-worker/pkg/apperror"
	"recording-worker/pkg/rabbitmq"
	"recording-worker/repository"
	"recording-worker/service"
)

func RunHttp(cfg *config.Config) {
	ctx, cancel := signal.NotifyContext(setupLogger(cfg), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.Ctx(ctx).Info().Str("env", cfg.App.Environment).Bool("isProduction", cfg.App.Environment == constant.EnvironmentProduction.String()).Send()
	if cfg.App.Environment == constant.EnvironmentProduction.String() {
		gin.SetMode(gin.ReleaseMode)
	}

	repo := repository.NewRepo(cfg.DB)
	storage := gateway.NewMinioStorage(cfg.Storage, cfg.MinIOBucket)
	transcriber := gateway.NewHTTPTranscriber(cfg.Recording.TranscriberURL)

	if err := storage.Initialize(ctx); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("storage gateway initialization failed")
	}

	orchestrator := service.NewOrchestrator(cfg.Recording, repo, storage, transcriber)
	if err := orchestrator.Recover(ctx); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("failed to recover persisted transcription jobs")
	}
	orchestrator.Run(ctx)

	conn, err := config.NewRabbitMQConn(ctx, cfg.Queue)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("NewRabbitMQConn")
	} else {
		controlConsumer := rabbitmq.NewConsumer(conn, cfg.Queue, cfg.Server.Workers, controlHandler.ControlHandler)
		go func() {
			err := controlConsumer.Consume(ctx, controlHandler.ServiceDependencies{Orchestrator: orchestrator})
			if err != nil {
				zerolog.Ctx(ctx).Error().Err(err).Msg("Control consumer error")
			}
		}()
	}

	r := gin.Default()
	addRoutes(r, orchestrator)

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

	// Drain the core before closing the HTTP listener: every session and
	// job must reach a terminal state first.
	drainCtx, drainCancel := context.WithTimeout(setupLogger(cfg), 60*time.Second)
	if err := orchestrator.Shutdown(drainCtx); err != nil {
		zerolog.Ctx(drainCtx).Error().Err(err).Msg("orchestrator shutdown failed")
	}
	drainCancel()

	if err := handler.Shutdown(context.Background()); err != nil {
		zerolog.Ctx(ctx).Error().Str("env", cfg.App.Environment).Msg(err.Error())
	}

	zerolog.Ctx(ctx).Info().Str("env", cfg.App.Environment).Msg("server shutdown")
}

func addRoutes(r *gin.Engine, orchestrator *service.Orchestrator) {
	v1 := r.Group("/v1")

	v1.POST("/recordings", func(c *gin.Context) {
		var req dto.StartRecordingRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "errorCode": "VALIDATION", "error": err.Error()})
			return
		}
		result := orchestrator.StartRecording(c.Request.Context(), req)
		c.JSON(statusFor(result, http.StatusCreated), result)
	})

	v1.POST("/recordings/:id/stop", func(c *gin.Context) {
		id, err := uuid.Parse(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "errorCode": "VALIDATION", "error": "invalid session id"})
			return
		}
		result := orchestrator.StopRecording(c.Request.Context(), id)
		c.JSON(statusFor(result, http.StatusOK), result)
	})

	v1.GET("/recordings/:id", func(c *gin.Context) {
		id, err := uuid.Parse(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "errorCode": "VALIDATION", "error": "invalid session id"})
			return
		}
		result := orchestrator.GetStatus(c.Request.Context(), id)
		c.JSON(statusFor(result, http.StatusOK), result)
	})

	v1.GET("/recordings/:id/transcription", func(c *gin.Context) {
		id, err := uuid.Parse(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "errorCode": "VALIDATION", "error": "invalid recording id"})
			return
		}
		result := orchestrator.GetTranscriptionStatus(c.Request.Context(), id)
		c.JSON(statusFor(result, http.StatusOK), result)
	})

	v1.POST("/jobs/:id/requeue", func(c *gin.Context) {
		id, err := uuid.Parse(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "errorCode": "VALIDATION", "error": "invalid job id"})
			return
		}
		result := orchestrator.RequeueJob(c.Request.Context(), id)
		c.JSON(statusFor(result, http.StatusOK), result)
	})

	r.GET("/health", func(c *gin.Context) {
		report := orchestrator.Health(c.Request.Context())
		status := http.StatusOK
		if report.Status != "ok" {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, report)
	})
}

func statusFor(result dto.OperationResult, okStatus int) int {
	if result.Success {
		return okStatus
	}
	return apperror.Code(result.ErrorCode).HTTPStatus()
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
