package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"vigil-backend/internal/anomaly"
	"vigil-backend/internal/config"
	"vigil-backend/internal/database"
	"vigil-backend/internal/handlers"
	"vigil-backend/internal/middleware"
	"vigil-backend/internal/repository"
	"vigil-backend/internal/router"
	"vigil-backend/internal/services"
	"vigil-backend/internal/websocket"
	"vigil-backend/internal/worker"
)

func main() {
	// ──── Step 1: Load Environment Variables ────
	cfg := config.Load()
	logger := config.NewLogger(cfg.LogLevel, cfg.Env)
	logger.Info("🚀 Starting Vigil Backend...")
	logger.Info("✓ Environment variables loaded")

	// ──── Step 2: Initialize PostgreSQL Connection Pool ────
	pool, err := database.NewPostgresPool(cfg.DatabaseURL, cfg.DBMaxConns, cfg.WorkerCount)
	if err != nil {
		logger.Fatalf("✗ PostgreSQL connection failed: %v", err)
	}
	defer pool.Close()
	logger.Info("✓ PostgreSQL connected")

	// ──── Step 3: Initialize Redis Clients ────
	redisClients, err := database.NewRedisClients(cfg.RedisURL, cfg.WorkerCount)
	if err != nil {
		logger.Fatalf("✗ Redis connection failed: %v", err)
	}
	defer redisClients.Close()
	logger.Info("✓ Redis connected")

	// ──── Step 4: Run Database Migrations ────
	if err := database.RunMigrations(pool, "migrations", logger); err != nil {
		logger.Fatalf("✗ Database migration failed: %v", err)
	}
	logger.Info("✓ Database migrations applied")

	// ──── Initialize Repositories ────
	sessionRepo := repository.NewSessionRepo(pool)
	eventRepo := repository.NewEventRepo(pool)
	lessonRepo := repository.NewLessonRepo(pool)
	progressRepo := repository.NewProgressRepo(pool)
	alertRepo := repository.NewAlertRepo(pool)
	memberRepo := repository.NewMemberRepo(pool)

	// ──── Initialize Services ────
	jwtAuth := middleware.NewJWTAuth(cfg.JWTSecret)
	publisher := services.NewPublisher(redisClients.Queue, logger)
	recomputeQueue := services.NewRecomputeQueue(redisClients.Queue)

	anomalyCfg := anomaly.DefaultConfig()
	anomalyCfg.HeartbeatTimeout = cfg.HeartbeatTimeout
	anomalyCfg.SpeedCeiling = cfg.SpeedCeiling
	anomalyCfg.SpeedRunThreshold = cfg.SpeedRunThreshold
	anomalyCfg.SeekThreshold = cfg.SeekThreshold
	anomalyCfg.JitterFloorMs = cfg.JitterFloorMs
	anomalyCfg.JitterMinSamples = cfg.JitterMinSamples
	anomalyCfg.HiddenFraction = cfg.HiddenFraction

	sessionService := services.NewSessionService(sessionRepo, lessonRepo, cfg.HeartbeatInterval, cfg.HeartbeatTimeout, logger)
	progressService := services.NewProgressService(lessonRepo, eventRepo, progressRepo, memberRepo, publisher, logger)
	anomalyService := services.NewAnomalyService(sessionRepo, eventRepo, lessonRepo, alertRepo, recomputeQueue, publisher, anomalyCfg, logger)
	ingestService := services.NewIngestService(sessionService, eventRepo, anomalyService, recomputeQueue, progressService, cfg.MaxBatchSize, logger)
	gradingService := services.NewGradingService(lessonRepo, progressRepo, memberRepo, recomputeQueue, logger)
	alertService := services.NewAlertService(alertRepo, eventRepo, logger)
	exporter := services.NewGradebookExporter(lessonRepo, progressRepo, memberRepo, logger)
	maintenance := services.NewMaintenanceService(
		sessionRepo,
		anomalyService,
		lessonRepo,
		services.NewYouTubeDurationResolver(),
		cfg.HeartbeatTimeout,
		logger,
	)

	// ──── Step 5: Start Recompute Worker Pool ────
	workerPool := worker.NewPool(redisClients.Queue, progressService, recomputeQueue, cfg.WorkerCount, logger)
	workerPool.Start()
	logger.Infof("✓ Worker pool started (%d goroutines)", cfg.WorkerCount)

	// ──── Step 6: Start Maintenance Scheduler ────
	if err := maintenance.Start(cfg.MaintenanceInterval); err != nil {
		logger.Fatalf("✗ Maintenance scheduler failed: %v", err)
	}
	logger.Info("✓ Maintenance scheduler configured")

	// ──── Step 7: Start WebSocket Hub ────
	wsHub := websocket.NewHub(redisClients.PubSub, jwtAuth, logger)
	logger.Info("✓ WebSocket hub started")

	// ──── Step 8: Start HTTP Server ────
	ingestLimiter := middleware.NewRateLimiter(cfg.IngestRateLimit, time.Minute)
	defer ingestLimiter.Close()

	r := router.New(
		jwtAuth,
		ingestLimiter,
		router.Handlers{
			Sessions: handlers.NewSessionHandler(sessionService, ingestService, logger),
			Progress: handlers.NewProgressHandler(progressService, gradingService, logger),
			Alerts:   handlers.NewAlertHandler(alertService, logger),
			Admin:    handlers.NewAdminHandler(maintenance, exporter, logger),
			WS:       wsHub.HandleWebSocket,
		},
		cfg.FrontendURLs,
	)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	done := make(chan struct{})
	go func() {
		defer close(done)
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		logger.Info("Shutting down...")
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			logger.WithError(err).Warn("HTTP shutdown incomplete")
		}

		maintenance.Stop()
		wsHub.Close()
		workerPool.Stop()
	}()

	logger.WithFields(logrus.Fields{
		"api": fmt.Sprintf("http://localhost:%s/api/v1", cfg.Port),
		"ws":  fmt.Sprintf("ws://localhost:%s/ws", cfg.Port),
	}).Infof("✓ Vigil Backend ready on :%s", cfg.Port)

	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		logger.Fatalf("Server error: %v", err)
	}
	<-done
}
