package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/farmassist/sync-api/internal/auth"
	"github.com/farmassist/sync-api/internal/db"
	"github.com/farmassist/sync-api/internal/httpapi"
	"github.com/farmassist/sync-api/internal/syncx"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func env(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func envInt(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
		log.Warn().Str("key", k).Str("value", v).Msg("invalid integer in environment, using default")
	}
	return def
}

func main() {
	// Configure structured logging
	zerolog.TimeFieldFormat = time.RFC3339Nano
	log.Logger = log.With().Str("service", "sync-api").Logger()

	// Pretty logging for local dev
	if env("ENV", "dev") == "dev" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
	}

	ctx := context.Background()

	// Database connection
	pgURL := env("DATABASE_URL", "")
	if pgURL == "" {
		log.Fatal().Msg("DATABASE_URL is required")
	}

	pool, err := db.Open(ctx, pgURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to postgres")
	}
	defer pool.Close()

	if err := db.Migrate(ctx, pool); err != nil {
		log.Fatal().Err(err).Msg("failed to run migrations")
	}

	// Repositories and services
	queueRepo := syncx.NewPostgresQueueRepository(pool)
	conflictRepo := syncx.NewPostgresConflictRepository(pool)
	statusRepo := syncx.NewPostgresStatusRepository(pool)

	statusSvc := syncx.NewStatusService(statusRepo, queueRepo)
	conflictSvc := syncx.NewConflictService(conflictRepo)
	queueSvc := syncx.NewQueueService(queueRepo, statusSvc, conflictSvc)
	queueSvc.SetRetryPolicy(
		envInt("SYNC_MAX_RETRIES", syncx.DefaultMaxRetries),
		time.Duration(envInt("SYNC_RETRY_BASE_MS", 1000))*time.Millisecond,
	)
	offline := syncx.NewOfflineDetector(statusRepo)

	srv := &httpapi.Server{
		Queue:           queueSvc,
		Conflicts:       conflictSvc,
		Status:          statusSvc,
		Offline:         offline,
		RateLimitConfig: httpapi.DefaultRateLimitConfig,
	}

	// A drain processor is wired only when an upstream apply endpoint is
	// configured; queue-only deployments leave it unset and /trigger reports
	// the current status instead.
	if applyURL := env("SYNC_APPLY_URL", ""); applyURL != "" {
		applier := newHTTPApplier(applyURL, env("SYNC_APPLY_TOKEN", ""))
		srv.Processor = syncx.NewProcessor(queueSvc, statusSvc, applier)
		log.Info().Str("url", applyURL).Msg("drain processor enabled")
	}

	jwtCfg := auth.JWTCfg{
		HS256Secret: env("JWT_HS256_SECRET", "dev-secret-change-in-production"),
		DevMode:     env("ENV", "dev") == "dev",
	}

	httpAddr := env("HTTP_ADDR", ":8081")
	httpServer := &http.Server{
		Addr:         httpAddr,
		Handler:      srv.Routes(jwtCfg),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info().Str("addr", httpAddr).Msg("starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Graceful shutdown on SIGINT/SIGTERM
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Info().Msg("shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	log.Info().Msg("server stopped")
}
