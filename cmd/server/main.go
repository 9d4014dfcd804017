package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/prepline/examd/internal/config"
	"github.com/prepline/examd/internal/database"
	"github.com/prepline/examd/internal/handler"
	"github.com/prepline/examd/internal/logger"
	"github.com/prepline/examd/internal/repository"
	"github.com/prepline/examd/internal/router"
	"github.com/prepline/examd/internal/service"
	"github.com/prepline/examd/internal/validator"
	"github.com/prepline/examd/internal/worker"
)

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	log.Info().
		Str("port", cfg.ServerPort).
		Str("mode", cfg.GinMode).
		Str("log_level", cfg.LogLevel).
		Msg("Starting examd")

	// ─── Initialize Validator ──────────────────────────────────────────
	validator.Setup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ─── Connect to PostgreSQL ─────────────────────────────────────────
	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	// ─── Connect to Redis ──────────────────────────────────────────────
	rdb, err := database.NewRedisClient(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()

	// ─── Initialize Repositories ───────────────────────────────────────
	paperRepo := repository.NewPaperRepository(pool)
	questionRepo := repository.NewQuestionRepository(pool)
	attemptRepo := repository.NewAttemptRepository(pool)
	responseRepo := repository.NewResponseRepository(pool)

	// ─── Initialize Services ──────────────────────────────────────────
	authService := service.NewAuthService(cfg)
	guard := service.NewSessionGuard(attemptRepo, cfg.ForceResumeStaleWindow, log)
	paperService := service.NewPaperService(paperRepo, questionRepo, rdb, log)
	attemptService := service.NewAttemptService(
		attemptRepo, responseRepo, paperRepo, questionRepo,
		guard, rdb, cfg.SubmitGraceWindow, log,
	)
	coordinator := service.NewSubmissionCoordinator(
		attemptRepo, responseRepo, paperRepo, questionRepo, rdb, log,
	)

	// ─── Initialize Handlers ──────────────────────────────────────────
	handlers := &router.Handlers{
		Attempt: handler.NewAttemptHandler(attemptService, coordinator),
		Paper:   handler.NewPaperHandler(paperService),
	}

	// ─── Start Background Workers ─────────────────────────────────────
	workerCtx, workerCancel := context.WithCancel(context.Background())

	eventWorker := worker.NewEventWorker(pool, rdb, log)
	go eventWorker.Start(workerCtx)

	expiryWorker := worker.NewExpiryWorker(attemptRepo, coordinator, cfg.ExpirySweepInterval, log)
	expiryWorker.Start()

	// ─── Setup Router ──────────────────────────────────────────────────
	r := router.SetupRouter(authService, handlers, cfg)

	// ─── Create HTTP Server ────────────────────────────────────────────
	srv := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: r,
	}

	// ─── Start Server in Goroutine ─────────────────────────────────────
	go func() {
		log.Info().Str("addr", ":"+cfg.ServerPort).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server error")
		}
	}()

	// ─── Graceful Shutdown ─────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	log.Info().Str("signal", sig.String()).Msg("Shutting down gracefully...")

	// 1. Stop accepting new HTTP requests (5s timeout).
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	// 2. Stop background workers and wait for queues to drain.
	expiryWorker.Stop()
	workerCancel()
	time.Sleep(2 * time.Second) // Allow workers to drain.

	log.Info().Msg("Shutdown complete")
}

// init sets zerolog global defaults before main runs.
func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}
