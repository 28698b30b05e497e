// Package handler provides HTTP handlers for the junction API.
package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/junctionflow/junctionflow/internal/api/models"
	"github.com/junctionflow/junctionflow/internal/api/response"
	"github.com/junctionflow/junctionflow/internal/resilience"
)

// Pinger checks that a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// LoopStatus reports control loop activity.
type LoopStatus interface {
	MetricsSnapshot() map[string]interface{}
	LastTickAt() time.Time
}

// OpsConfig holds configuration for the ops handler.
type OpsConfig struct {
	Version   string
	BuildTime string

	// Store is pinged by the readiness and status checks.
	Store Pinger

	// Registry lists the circuit breakers of guarded dependencies.
	Registry *resilience.Registry

	// Loop is the control loop. Nil omits it from the status.
	Loop LoopStatus

	// StaleAfter is how long the loop may go without a tick before it is
	// reported as failing.
	// Default: 10 seconds
	StaleAfter time.Duration

	// PingTimeout bounds each dependency ping.
	// Default: 2 seconds
	PingTimeout time.Duration

	Clock  Clock
	Logger zerolog.Logger
}

// OpsHandler handles operational endpoints.
type OpsHandler struct {
	cfg OpsConfig
}

// NewOpsHandler creates a new OpsHandler.
func NewOpsHandler(cfg OpsConfig) *OpsHandler {
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 10 * time.Second
	}
	if cfg.PingTimeout <= 0 {
		cfg.PingTimeout = 2 * time.Second
	}
	return &OpsHandler{cfg: cfg}
}

// HealthCheck handles GET /v1/ops/health - liveness check.
func (h *OpsHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	health := models.Health{
		Status: models.HealthStatusOK,
		Time:   models.Timestamp(h.cfg.Clock.now()),
		Details: map[string]interface{}{
			"version":   h.cfg.Version,
			"buildTime": h.cfg.BuildTime,
		},
	}
	response.JSON(w, r, http.StatusOK, health)
}

// ReadinessCheck handles GET /v1/ops/ready - readiness check against the log store.
func (h *OpsHandler) ReadinessCheck(w http.ResponseWriter, r *http.Request) {
	store := h.pingStore(r.Context())
	if store.Status != models.HealthStatusOK {
		detail := "log store unavailable"
		if store.Detail != nil {
			detail += ": " + *store.Detail
		}
		response.ServiceUnavailable(w, r, detail)
		return
	}

	response.JSON(w, r, http.StatusOK, models.Health{
		Status: models.HealthStatusOK,
		Time:   models.Timestamp(h.cfg.Clock.now()),
	})
}

// SystemStatus handles GET /v1/ops/status - subsystem, breaker and control loop status.
func (h *OpsHandler) SystemStatus(w http.ResponseWriter, r *http.Request) {
	now := h.cfg.Clock.now()

	subsystems := []models.SubsystemStatus{h.pingStore(r.Context())}
	if h.cfg.Loop != nil {
		subsystems = append(subsystems, h.loopStatus(now))
	}

	var deps []models.DependencyStatus
	if h.cfg.Registry != nil {
		for _, dep := range h.cfg.Registry.All() {
			deps = append(deps, dependencyStatus(dep))
		}
	}

	status := models.SystemStatus{
		Status:       overall(subsystems, deps),
		Time:         models.Timestamp(now),
		Subsystems:   subsystems,
		Dependencies: deps,
	}
	if h.cfg.Loop != nil {
		status.Controller = h.cfg.Loop.MetricsSnapshot()
	}

	response.JSON(w, r, http.StatusOK, status)
}

func (h *OpsHandler) pingStore(ctx context.Context) models.SubsystemStatus {
	s := models.SubsystemStatus{Name: "log-store", Status: models.HealthStatusOK}
	if h.cfg.Store == nil {
		return s
	}

	ctx, cancel := context.WithTimeout(ctx, h.cfg.PingTimeout)
	defer cancel()

	if err := h.cfg.Store.Ping(ctx); err != nil {
		h.cfg.Logger.Warn().Err(err).Msg("log store ping failed")
		detail := err.Error()
		s.Status = models.HealthStatusFail
		s.Detail = &detail
	}
	return s
}

func (h *OpsHandler) loopStatus(now time.Time) models.SubsystemStatus {
	s := models.SubsystemStatus{Name: "control-loop", Status: models.HealthStatusOK}

	last := h.cfg.Loop.LastTickAt()
	switch {
	case last.IsZero():
		detail := "no tick yet"
		s.Status = models.HealthStatusDegraded
		s.Detail = &detail
	case now.Sub(last) > h.cfg.StaleAfter:
		detail := "last tick " + now.Sub(last).Round(time.Second).String() + " ago"
		s.Status = models.HealthStatusFail
		s.Detail = &detail
	}
	return s
}

func dependencyStatus(dep resilience.DependencyHealth) models.DependencyStatus {
	out := models.DependencyStatus{
		Name:         dep.Name,
		Status:       models.HealthStatusOK,
		BreakerState: dep.State,
	}
	switch dep.Status {
	case resilience.StatusDegraded:
		out.Status = models.HealthStatusDegraded
	case resilience.StatusUnhealthy:
		out.Status = models.HealthStatusFail
	}
	if dep.LastSuccessAt != nil {
		out.LastSuccessAt = models.TimestampPtr(*dep.LastSuccessAt)
	}
	if dep.LastFailureAt != nil {
		out.LastFailureAt = models.TimestampPtr(*dep.LastFailureAt)
	}
	if dep.LastError != "" {
		msg := dep.LastError
		out.Message = &msg
	}
	return out
}

// overall is FAIL when a subsystem fails, DEGRADED when anything else is not OK.
func overall(subsystems []models.SubsystemStatus, deps []models.DependencyStatus) models.HealthStatus {
	status := models.HealthStatusOK
	for _, s := range subsystems {
		if s.Status == models.HealthStatusFail {
			return models.HealthStatusFail
		}
		if s.Status != models.HealthStatusOK {
			status = models.HealthStatusDegraded
		}
	}
	for _, d := range deps {
		if d.Status != models.HealthStatusOK {
			status = models.HealthStatusDegraded
		}
	}
	return status
}
