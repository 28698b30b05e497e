// Package api provides the HTTP API for junctionflow.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/junctionflow/junctionflow/internal/api/handler"
	"github.com/junctionflow/junctionflow/internal/api/middleware"
	"github.com/junctionflow/junctionflow/internal/api/response"
	"github.com/junctionflow/junctionflow/internal/auth"
	"github.com/junctionflow/junctionflow/internal/resilience"
	"github.com/junctionflow/junctionflow/internal/trafficlog"
)

// Controller is the control loop as seen by the API.
type Controller interface {
	handler.JunctionController
	handler.LoopStatus
}

// RouterConfig holds configuration for the router.
type RouterConfig struct {
	Version     string
	BuildTime   string
	Logger      zerolog.Logger
	ServiceName string
	Metrics     *middleware.Metrics

	// AuthService logs the operator in and validates tokens. When nil, login
	// and every operator route answer 503.
	AuthService *auth.Service

	Controller Controller
	Repository trafficlog.Repository
	Predictor  handler.Predictor
	Registry   *resilience.Registry

	// RateLimit is the per-minute limit of the standard endpoints.
	// Default: 100
	RateLimit int

	RequireTLS bool

	// StaleAfter is passed to the ops handler.
	StaleAfter time.Duration

	Clock handler.Clock
}

// NewRouter creates a new chi router with all API routes configured.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "junction-api"
	}

	// Global middleware - order matters
	r.Use(middleware.RequestID)
	r.Use(middleware.Tracing(serviceName))
	if cfg.Metrics != nil {
		r.Use(cfg.Metrics.Middleware())
	}
	r.Use(middleware.Logger(cfg.Logger))
	r.Use(middleware.Recovery(cfg.Logger))
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.RequireTLS(cfg.RequireTLS))
	r.Use(middleware.ContentTypeJSON)

	opsHandler := handler.NewOpsHandler(handler.OpsConfig{
		Version:    cfg.Version,
		BuildTime:  cfg.BuildTime,
		Store:      cfg.Repository,
		Registry:   cfg.Registry,
		Loop:       cfg.Controller,
		StaleAfter: cfg.StaleAfter,
		Clock:      cfg.Clock,
		Logger:     cfg.Logger,
	})
	junctionHandler := handler.NewJunctionHandler(cfg.Controller, cfg.Repository, cfg.Clock, cfg.Logger)
	predictionHandler := handler.NewPredictionHandler(cfg.Predictor, cfg.Clock, cfg.Logger)
	violationHandler := handler.NewViolationHandler(cfg.Repository, cfg.Logger)
	reportHandler := handler.NewReportHandler(cfg.Repository, cfg.Clock, cfg.Logger)

	var authHandler *handler.AuthHandler
	var operatorOnly func(http.Handler) http.Handler
	if cfg.AuthService != nil {
		authHandler = handler.NewAuthHandler(cfg.AuthService)
		operatorOnly = middleware.Auth(cfg.AuthService)
	} else {
		authHandler = handler.NewAuthHandler(nil)
		operatorOnly = authUnavailable
	}

	authRateLimit := middleware.RateLimitByIP(middleware.AuthRateLimit)
	expensiveRateLimit := middleware.RateLimitByOperator(middleware.ExpensiveRateLimit)
	standardRateLimit := middleware.RateLimitByIP(middleware.PerMinute(cfg.RateLimit))

	r.Route("/v1", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Use(authRateLimit)
			r.Post("/login", authHandler.Login)
		})

		r.Route("/ops", func(r chi.Router) {
			r.Get("/health", opsHandler.HealthCheck)
			r.Get("/ready", opsHandler.ReadinessCheck)
			r.Get("/status", opsHandler.SystemStatus)
		})

		r.Route("/junction", func(r chi.Router) {
			r.Use(standardRateLimit)
			r.Get("/state", junctionHandler.GetState)
			r.Get("/decisions", junctionHandler.ListDecisions)

			r.Group(func(r chi.Router) {
				r.Use(operatorOnly)
				r.With(middleware.RequireJSON).Post("/override", junctionHandler.CreateOverride)
				r.Delete("/override", junctionHandler.ClearOverride)
			})
		})

		r.Route("/predictions", func(r chi.Router) {
			r.Use(standardRateLimit)
			r.Get("/", predictionHandler.Forecast)
			r.Get("/peaks", predictionHandler.Peaks)
		})

		r.Route("/violations", func(r chi.Router) {
			r.Use(standardRateLimit)
			r.Get("/", violationHandler.List)
			r.Get("/summary", violationHandler.Summary)
			r.With(operatorOnly).Delete("/", violationHandler.Clear)
		})

		r.Route("/reports", func(r chi.Router) {
			r.Use(standardRateLimit)
			r.Get("/efficiency", reportHandler.Efficiency)
			// Export reads the whole log.
			r.With(operatorOnly, expensiveRateLimit).Get("/export", reportHandler.Export)
		})
	})

	return r
}

func authUnavailable(http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		response.ServiceUnavailable(w, r, "operator authentication is not configured")
	})
}
