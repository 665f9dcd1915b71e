package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/loanguard/loanguard/internal/auth"
	"github.com/loanguard/loanguard/internal/config"
	"github.com/loanguard/loanguard/internal/database"
	"github.com/loanguard/loanguard/internal/handler"
	"github.com/loanguard/loanguard/internal/logger"
	"github.com/loanguard/loanguard/internal/middleware"
	"github.com/loanguard/loanguard/internal/repository"
	"github.com/loanguard/loanguard/internal/router"
	"github.com/loanguard/loanguard/internal/service"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(cfg.Log.Level, cfg.Log.Format)
	log.Info().Str("version", "0.1.0").Msg("starting LoanGuard server")

	// Connect to PostgreSQL
	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()
	log.Info().Msg("connected to PostgreSQL")

	// Connect to Redis. Optional: without it rate limiting degrades to the
	// in-process limiter.
	var rdb *database.Redis
	if cfg.Security.RateLimiting.Enabled {
		rdb, err = database.NewRedis(cfg.Redis)
		if err != nil {
			log.Warn().Err(err).Msg("redis unavailable, falling back to in-process rate limiting")
			rdb = nil
		} else {
			defer rdb.Close()
			log.Info().Msg("connected to Redis")
		}
	}

	// Initialize token issuer
	issuer, err := auth.NewTokenIssuer(cfg.Security.Tokens)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize token issuer")
	}
	log.Info().Dur("ttl", issuer.TTL()).Msg("token issuer initialized")

	// Initialize persistence and services
	store := repository.NewStore(db)
	accountSvc := service.NewAccountService(store, issuer, cfg, log)
	riskSvc := service.NewRiskService(store, log)
	auditSvc := service.NewAuditService(store, log)

	// Initialize handlers and middleware
	h := handler.New(db, rdb, log, cfg, accountSvc, riskSvc, auditSvc)
	mw := middleware.New(rdb, log, cfg)

	// Set up router
	r := router.New(h, mw, cfg, issuer)

	// Create HTTP server
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info().Str("addr", addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server error")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server...")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}
