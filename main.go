package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/nubo-edu/cloudinha/go/orchestrator/internal/auth"
	"github.com/nubo-edu/cloudinha/go/orchestrator/internal/config"
	"github.com/nubo-edu/cloudinha/go/orchestrator/internal/db"
	"github.com/nubo-edu/cloudinha/go/orchestrator/internal/engine"
	"github.com/nubo-edu/cloudinha/go/orchestrator/internal/httpapi"
	"github.com/nubo-edu/cloudinha/go/orchestrator/internal/orchestrator"
	"github.com/nubo-edu/cloudinha/go/orchestrator/internal/resilience"
	"github.com/nubo-edu/cloudinha/go/orchestrator/internal/router"
	"github.com/nubo-edu/cloudinha/go/orchestrator/internal/session"
	"github.com/nubo-edu/cloudinha/go/orchestrator/internal/workflow"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := newLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	dbClient, err := db.NewClient(cfg.Database, logger)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer dbClient.Close()

	sessions, err := session.NewManager(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.SessionTTL, logger)
	if err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer sessions.Close()

	profiles := db.NewProfileStore(dbClient, logger)
	history := db.NewHistoryStore(dbClient, logger)
	errorLog := db.NewErrorLog(dbClient, logger)

	eng := engine.NewHTTPClient(cfg.Engine, logger)
	capturer := resilience.NewCapturer(errorLog, logger)
	registry := workflow.NewRegistry(profiles, logger)
	classifier := router.New(eng, logger)

	orch := orchestrator.New(profiles, history, registry, classifier, eng, capturer, orchestrator.Options{
		MaxSteps:          cfg.Orchestrator.MaxSteps,
		GuardrailsEnabled: cfg.Orchestrator.GuardrailsEnabled,
		Retry: resilience.Policy{
			MaxAttempts: cfg.Orchestrator.RetryAttempts,
			MinDelay:    cfg.Orchestrator.RetryMinDelay,
			MaxDelay:    cfg.Orchestrator.RetryMaxDelay,
		},
	}, logger)

	authmw := auth.NewMiddleware(cfg.Auth.Enabled, cfg.Auth.JWTSecret, logger)
	api := httpapi.NewServer(orch, sessions, authmw, logger)

	mux := http.NewServeMux()
	api.RegisterRoutes(mux)

	srv := &http.Server{
		Addr:        ":" + strconv.Itoa(cfg.Server.Port),
		Handler:     mux,
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 120 * time.Second,
	}

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsSrv := &http.Server{
		Addr:    ":" + strconv.Itoa(cfg.Server.MetricsPort),
		Handler: metricsMux,
	}

	go func() {
		logger.Info("Metrics server listening", zap.Int("port", cfg.Server.MetricsPort))
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Metrics server failed", zap.Error(err))
		}
	}()

	go func() {
		logger.Info("HTTP server listening", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP server shutdown failed", zap.Error(err))
	}
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Metrics server shutdown failed", zap.Error(err))
	}
}

func newLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)
	return zapCfg.Build()
}
