// Package main provides the entrypoint for the report export worker.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/junctionflow/junctionflow/internal/api/handler"
	"github.com/junctionflow/junctionflow/internal/api/middleware"
	"github.com/junctionflow/junctionflow/internal/config"
	"github.com/junctionflow/junctionflow/internal/prediction"
	"github.com/junctionflow/junctionflow/internal/resilience"
	"github.com/junctionflow/junctionflow/internal/trafficlog"
	"github.com/junctionflow/junctionflow/internal/worker"
)

// Version and BuildTime are set at compile time via ldflags
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	log := zerolog.New(os.Stdout).
		With().
		Timestamp().
		Str("service", "junction-worker").
		Str("version", Version).
		Logger()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	log = log.Level(cfg.Level())
	log.Info().Str("build_time", BuildTime).Msg("starting report worker")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	repo, closeStore, err := trafficlog.Open(ctx, cfg.StoreOptions())
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.Store.Driver).Msg("failed to open log store")
	}
	defer closeStore()

	registry := resilience.NewRegistry()
	predCfg := prediction.DefaultConfig()
	predCfg.CacheTTL = cfg.PredictionCacheTTL
	predCfg.Registry = registry
	predCfg.Logger = log

	exportCfg := worker.DefaultExportConfig()
	exportCfg.Dir = cfg.Report.Dir
	exportCfg.Timeout = cfg.Report.Timeout
	export := worker.NewExportJob(worker.ExportJobConfig{
		Config:     exportCfg,
		Repository: repo,
		Peaks:      prediction.NewService(repo, predCfg),
		Logger:     log,
	})

	if cfg.PubSub.JobsEnabled() {
		jobs, err := worker.NewPubSubHandler(ctx, worker.PubSubConfig{
			ProjectID:        cfg.PubSub.ProjectID,
			SubscriptionName: cfg.PubSub.JobSubscription,
			ExportJob:        export,
			Logger:           log,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create pubsub handler")
		}
		defer func() { _ = jobs.Close() }()

		go func() {
			if err := jobs.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Msg("pubsub handler stopped")
			}
		}()
	}

	if cfg.Report.Interval > 0 {
		log.Info().Dur("interval", cfg.Report.Interval).Msg("scheduled report export enabled")
		go export.RunEvery(ctx, cfg.Report.Interval)
	}

	// Health endpoints for the platform's probes.
	ops := handler.NewOpsHandler(handler.OpsConfig{
		Version:   Version,
		BuildTime: BuildTime,
		Store:     export,
		Registry:  registry,
		Logger:    log,
	})
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recovery(log))
	r.Use(middleware.ContentTypeJSON)
	r.Get("/health", ops.HealthCheck)
	r.Get("/ready", ops.ReadinessCheck)
	r.Get("/status", ops.SystemStatus)

	server := &http.Server{
		Addr:         ":" + strconv.Itoa(cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		log.Info().Str("addr", server.Addr).Msg("health server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("health server error")
			stop()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down worker")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("health server forced to shutdown")
	}

	log.Info().
		Interface("export", export.MetricsSnapshot()).
		Msg("worker stopped")
}
