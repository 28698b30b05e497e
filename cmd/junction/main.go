// Package main provides the entrypoint for the junction controller and its API.
package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/junctionflow/junctionflow/internal/api"
	"github.com/junctionflow/junctionflow/internal/api/middleware"
	"github.com/junctionflow/junctionflow/internal/auth"
	"github.com/junctionflow/junctionflow/internal/config"
	"github.com/junctionflow/junctionflow/internal/controller"
	"github.com/junctionflow/junctionflow/internal/prediction"
	"github.com/junctionflow/junctionflow/internal/resilience"
	phase "github.com/junctionflow/junctionflow/internal/signal"
	"github.com/junctionflow/junctionflow/internal/telemetry"
	"github.com/junctionflow/junctionflow/internal/trafficlog"
	"github.com/junctionflow/junctionflow/internal/vision"
)

// Version and BuildTime are set at compile time via ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	const serviceName = "junction-api"

	log := zerolog.New(os.Stdout).
		With().
		Timestamp().
		Str("service", serviceName).
		Str("version", Version).
		Logger()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	log = log.Level(cfg.Level())

	log.Info().
		Str("build_time", BuildTime).
		Str("env", cfg.Env).
		Msg("starting junction controller")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	telemetryCfg := cfg.Telemetry
	telemetryCfg.ServiceName = serviceName
	telemetryCfg.ServiceVersion = Version
	telemetryCfg.Environment = cfg.Env
	tp, err := telemetry.Init(ctx, telemetryCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize telemetry")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownErr := tp.Shutdown(shutdownCtx); shutdownErr != nil {
			log.Error().Err(shutdownErr).Msg("failed to shutdown telemetry")
		}
	}()

	metrics, err := middleware.NewMetrics()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize metrics")
	}

	repo, closeStore, err := trafficlog.Open(ctx, cfg.StoreOptions())
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.Store.Driver).Msg("failed to open log store")
	}
	defer closeStore()
	log.Info().Str("driver", cfg.Store.Driver).Msg("log store opened")

	registry := resilience.NewRegistry()

	predCfg := prediction.DefaultConfig()
	predCfg.CacheTTL = cfg.PredictionCacheTTL
	predCfg.Registry = registry
	predCfg.Logger = log
	predictor := prediction.NewService(repo, predCfg)

	engine, err := phase.NewEngine(cfg.Tuning.Engine,
		phase.WithEstimator(predictor),
		phase.WithLogger(log),
	)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid engine configuration")
	}

	recorderCfg := cfg.Tuning.Recorder
	recorderCfg.Logger = log
	recorder := controller.NewRecorder(repo, recorderCfg)

	ctrl, err := controller.New(controller.Options{
		Config:   cfg.Tuning.Controller,
		Engine:   engine,
		Feed:     newFeed(cfg, registry, log),
		Recorder: recorder,
		Logger:   log,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create controller")
	}

	go func() {
		if err := ctrl.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("control loop stopped")
		}
	}()

	if cfg.PubSub.CommandsEnabled() {
		commands, err := controller.NewCommandHandler(ctx, controller.CommandHandlerConfig{
			ProjectID:        cfg.PubSub.ProjectID,
			SubscriptionName: cfg.PubSub.CommandSubscription,
			Controller:       ctrl,
			Logger:           log,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create command handler")
		}
		defer func() { _ = commands.Close() }()

		go func() {
			if err := commands.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Msg("command handler stopped")
			}
		}()
	}

	router := api.NewRouter(api.RouterConfig{
		Version:     Version,
		BuildTime:   BuildTime,
		Logger:      log,
		ServiceName: serviceName,
		Metrics:     metrics,
		AuthService: newAuthService(cfg, log),
		Controller:  ctrl,
		Repository:  repo,
		Predictor:   predictor,
		Registry:    registry,
		RateLimit:   cfg.RateLimit,
		RequireTLS:  cfg.RequireTLS,
		StaleAfter:  10 * cfg.Tuning.Controller.TickInterval,
	})

	server := &http.Server{
		Addr:         ":" + strconv.Itoa(cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().
			Str("addr", server.Addr).
			Msg("server listening")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
			stop()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}
	if err := recorder.Close(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("recorder did not drain")
	}

	log.Info().
		Interface("recorder", recorder.Stats()).
		Msg("junction controller stopped")
}

func newFeed(cfg config.Config, registry *resilience.Registry, log zerolog.Logger) vision.Feed {
	if cfg.Vision.Source == config.VisionDetector {
		clientCfg := resilience.DefaultClientConfig(vision.DetectorName)
		clientCfg.Timeout = cfg.Vision.DetectorTimeout
		clientCfg.Registry = registry

		log.Info().Str("url", cfg.Vision.DetectorURL).Msg("using detector feed")
		return vision.NewHTTPFeed(vision.DetectorConfig{
			BaseURL:         cfg.Vision.DetectorURL,
			HTTPClient:      resilience.NewClient(clientCfg),
			SmoothAmbulance: cfg.Vision.DetectorSmooth,
			Logger:          log,
		})
	}

	simCfg := vision.DefaultSimulatedConfig()
	simCfg.Seed = cfg.Vision.Seed
	log.Info().Uint64("seed", simCfg.Seed).Msg("using simulated feed")
	return vision.NewSimulatedFeed(simCfg)
}

// newAuthService returns nil when no operator password is configured, which
// leaves the operator routes disabled.
func newAuthService(cfg config.Config, log zerolog.Logger) *auth.Service {
	if cfg.Auth.OperatorPassword == "" && cfg.Auth.OperatorPasswordHash == "" {
		log.Warn().Msg("operator password not configured - operator endpoints disabled")
		return nil
	}

	signingKey := cfg.Auth.SigningKey
	if signingKey == "" {
		signingKey = randomKey()
		log.Warn().Msg("using a random JWT signing key - tokens will not survive a restart")
	}

	svc, err := auth.NewService(auth.ServiceConfig{
		JWTService: auth.NewJWTService(auth.JWTConfig{
			SigningKey: signingKey,
			Issuer:     cfg.Auth.Issuer,
			Audience:   cfg.Auth.Audience,
			Expiry:     cfg.Auth.TokenTTL,
		}),
		Username:     cfg.Auth.OperatorUsername,
		Password:     cfg.Auth.OperatorPassword,
		PasswordHash: cfg.Auth.OperatorPasswordHash,
		Logger:       log,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize auth")
	}
	return svc
}

func randomKey() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return hex.EncodeToString(b)
}
