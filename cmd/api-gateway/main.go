package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/attendnet/attendnet-api/api/swagger"
	"github.com/attendnet/attendnet-api/internal/handler"
	"github.com/attendnet/attendnet-api/internal/middleware"
	"github.com/attendnet/attendnet-api/internal/notifier"
	"github.com/attendnet/attendnet-api/internal/repository"
	"github.com/attendnet/attendnet-api/internal/service"
	"github.com/attendnet/attendnet-api/pkg/cache"
	"github.com/attendnet/attendnet-api/pkg/config"
	"github.com/attendnet/attendnet-api/pkg/database"
	"github.com/attendnet/attendnet-api/pkg/jobs"
	"github.com/attendnet/attendnet-api/pkg/logger"
	corsmiddleware "github.com/attendnet/attendnet-api/pkg/middleware/cors"
	reqidmiddleware "github.com/attendnet/attendnet-api/pkg/middleware/requestid"
	"github.com/attendnet/attendnet-api/pkg/storage"
)

// @title AttendNet API
// @version 1.0.0
// @description Network-presence attendance tracking for coordinator-declared sessions
// @BasePath /api/v1
// @schemes http

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close() //nolint:errcheck

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to redis", "error", err)
	}
	defer redisClient.Close() //nolint:errcheck

	loc, err := time.LoadLocation(cfg.Scheduler.Timezone)
	if err != nil {
		logr.Sugar().Fatalw("invalid scheduler timezone", "timezone", cfg.Scheduler.Timezone, "error", err)
	}

	sessionRepo := repository.NewSessionRepository(db)
	studentRepo := repository.NewStudentRepository(db)
	attendanceRepo := repository.NewAttendanceRepository(db)
	summaryRepo := repository.NewSummaryRepository(db)
	coordinatorRepo := repository.NewCoordinatorRepository(db)
	exportRepo := repository.NewExportRepository(db)

	validate := validator.New()
	clock := service.NewClock()
	events := notifier.New(redisClient, logr)
	metricsService := service.NewMetricsService()

	authService := service.NewAuthService(coordinatorRepo, validate, logr, service.AuthConfig{
		Secret:     cfg.JWT.Secret,
		Expiration: cfg.JWT.Expiration,
		Issuer:     cfg.JWT.Issuer,
	})
	studentService := service.NewStudentService(studentRepo, validate, logr)
	presenceService := service.NewPresenceService(redisClient, cfg.Scheduler.ObservationTTL, logr)
	attendanceService := service.NewAttendanceService(attendanceRepo, studentRepo, sessionRepo, events, metricsService, clock, logr)
	summaryService := service.NewSummaryService(summaryRepo, sessionRepo, attendanceRepo, events, metricsService, logr)

	finalizeQueue := jobs.NewQueue("session-finalize", summaryService.FinalizeJobHandler(), jobs.QueueConfig{
		Workers:    1,
		MaxRetries: cfg.Scheduler.FinalizeRetries,
		RetryDelay: cfg.Scheduler.FinalizeRetryDelay,
		Logger:     logr,
	})

	schedulerService := service.NewSchedulerService(
		sessionRepo,
		presenceService,
		attendanceService,
		service.NewQueueFinalizer(finalizeQueue),
		events,
		metricsService,
		clock,
		logr,
		cfg.Scheduler.FinalizeOnRecovery,
	)
	sessionService := service.NewSessionService(
		sessionRepo,
		schedulerService,
		presenceService,
		validate,
		clock,
		loc,
		cfg.Scheduler.DefaultIntervalMinutes,
		logr,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	finalizeQueue.Start(ctx)
	defer finalizeQueue.Stop()

	if err := schedulerService.RecoverAll(ctx); err != nil {
		logr.Sugar().Errorw("schedule recovery incomplete", "error", err)
	}
	defer schedulerService.CancelAll()

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsService))

	metricsHandler := handler.NewMetricsHandler(metricsService, db)
	r.GET("/health", metricsHandler.Health)
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	authHandler := handler.NewAuthHandler(authService)
	sessionHandler := handler.NewSessionHandler(sessionService)
	attendanceHandler := handler.NewAttendanceHandler(attendanceService, presenceService, sessionService)
	summaryHandler := handler.NewSummaryHandler(summaryService)
	studentHandler := handler.NewStudentHandler(studentService)

	api := r.Group(cfg.APIPrefix)
	api.POST("/auth/register", authHandler.Register)
	api.POST("/auth/login", authHandler.Login)

	protected := api.Group("", middleware.JWT(authService))
	protected.GET("/auth/profile", authHandler.Profile)

	protected.POST("/sessions", sessionHandler.Create)
	protected.GET("/sessions", sessionHandler.List)
	protected.GET("/sessions/:id", sessionHandler.Get)
	protected.PUT("/sessions/:id", sessionHandler.Update)
	protected.DELETE("/sessions/:id", sessionHandler.Delete)
	protected.POST("/sessions/:id/scan", attendanceHandler.ManualScan)
	protected.POST("/sessions/:id/observations", attendanceHandler.SubmitObservations)
	protected.GET("/sessions/:id/attendance", attendanceHandler.Records)
	protected.GET("/sessions/:id/summary", summaryHandler.GetBySession)

	protected.POST("/students", studentHandler.Register)
	protected.GET("/students", studentHandler.List)
	protected.GET("/students/:id", studentHandler.Get)

	protected.GET("/summaries", summaryHandler.List)
	protected.GET("/summaries/stats", summaryHandler.Stats)
	protected.GET("/summaries/:id", summaryHandler.Get)

	if cfg.Exports.Enabled {
		fileStore, err := storage.NewLocalStorage(cfg.Exports.StorageDir)
		if err != nil {
			logr.Sugar().Fatalw("failed to init export storage", "error", err)
		}
		signer := storage.NewSignedURLSigner(cfg.Exports.SignedURLSecret, cfg.Exports.SignedURLTTL)
		exportService := service.NewExportService(exportRepo, summaryRepo, fileStore, signer, service.ExportConfig{
			APIPrefix: cfg.APIPrefix,
			ResultTTL: cfg.Exports.SignedURLTTL,
		}, logr, nil, nil)
		exportQueue := jobs.NewQueue("summary-export", exportService.ExportJobHandler(), jobs.QueueConfig{
			Workers:    cfg.Exports.WorkerConcurrency,
			MaxRetries: cfg.Exports.WorkerRetries,
			Logger:     logr,
		})
		exportService.SetQueue(exportQueue)
		exportQueue.Start(ctx)
		defer exportQueue.Stop()

		exportHandler := handler.NewExportHandler(exportService)
		protected.POST("/sessions/:id/exports", exportHandler.Create)
		protected.GET("/exports/:id", exportHandler.Status)
		api.GET("/exports/download/:token", exportHandler.Download)
	}

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: r,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Sugar().Infow("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Errorw("server shutdown failed", "error", err)
	}
}
