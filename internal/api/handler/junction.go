package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/junctionflow/junctionflow/internal/api/models"
	"github.com/junctionflow/junctionflow/internal/api/response"
	"github.com/junctionflow/junctionflow/internal/controller"
	"github.com/junctionflow/junctionflow/internal/junction"
	"github.com/junctionflow/junctionflow/internal/trafficlog"
)

// JunctionController is the part of the control loop the API drives.
type JunctionController interface {
	State(now time.Time) controller.State
	Override(lane junction.LaneID, now time.Time) controller.Override
	ClearOverride() bool
}

var _ JunctionController = (*controller.Controller)(nil)

// JunctionHandler handles live junction state and manual overrides.
type JunctionHandler struct {
	ctrl   JunctionController
	logs   trafficlog.Repository
	clock  Clock
	logger zerolog.Logger
}

// NewJunctionHandler creates a new JunctionHandler.
func NewJunctionHandler(ctrl JunctionController, logs trafficlog.Repository, clock Clock, logger zerolog.Logger) *JunctionHandler {
	return &JunctionHandler{ctrl: ctrl, logs: logs, clock: clock, logger: logger}
}

// GetState handles GET /v1/junction/state - active phase and per-lane readings.
func (h *JunctionHandler) GetState(w http.ResponseWriter, r *http.Request) {
	now := h.clock.now()
	response.JSON(w, r, http.StatusOK, junctionState(h.ctrl.State(now), now))
}

// ListDecisions handles GET /v1/junction/decisions - logged decisions, newest first.
func (h *JunctionHandler) ListDecisions(w http.ResponseWriter, r *http.Request) {
	limit, ferr := queryInt(r, "limit", DefaultListLimit, 1, MaxListLimit)
	if ferr != nil {
		response.BadRequest(w, r, ferr.Message, []models.FieldError{*ferr})
		return
	}

	logs, err := h.logs.ListSignals(r.Context(), limit)
	if err != nil {
		h.logger.Error().Err(err).Msg("listing decisions")
		response.InternalError(w, r, "failed to list decisions")
		return
	}

	response.JSON(w, r, http.StatusOK, models.DecisionList{
		Items: lo.Map(logs, func(l trafficlog.SignalLog, _ int) models.Decision {
			return models.Decision{
				ID:           l.ID,
				Timestamp:    models.Timestamp(l.Timestamp),
				Pair:         l.Lane,
				LoadScore:    l.LoadScore,
				GreenSeconds: l.GreenSeconds,
				Emergency:    l.Emergency,
				Reason:       l.Reason,
				Hour:         l.Hour,
				DayOfWeek:    l.DayOfWeek,
			}
		}),
		Meta: models.ListMeta{Limit: limit, Count: len(logs)},
	})
}

// CreateOverride handles POST /v1/junction/override - hold a lane's pair green.
func (h *JunctionHandler) CreateOverride(w http.ResponseWriter, r *http.Request) {
	var req models.OverrideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, r, "invalid JSON body", nil)
		return
	}
	if errs := req.Validate(); len(errs) > 0 {
		response.BadRequest(w, r, "validation error", errs)
		return
	}

	lane, err := junction.ParseLaneID(req.Lane)
	if err != nil {
		response.BadRequest(w, r, "validation error", []models.FieldError{{
			Field:   "lane",
			Message: "lane must be one of North, South, East, West",
			Code:    "INVALID",
		}})
		return
	}

	now := h.clock.now()
	o := h.ctrl.Override(lane, now)

	h.logger.Info().
		Str("operator", GetOperator(r.Context())).
		Str("lane", string(lane)).
		Msg("manual override requested")

	response.Created(w, r, "/v1/junction/state", overrideModel(o, now))
}

// ClearOverride handles DELETE /v1/junction/override - release an active override.
func (h *JunctionHandler) ClearOverride(w http.ResponseWriter, r *http.Request) {
	if !h.ctrl.ClearOverride() {
		response.NotFound(w, r, "no manual override is active")
		return
	}

	h.logger.Info().
		Str("operator", GetOperator(r.Context())).
		Msg("manual override cleared")

	response.NoContent(w, r)
}

func junctionState(s controller.State, now time.Time) models.JunctionState {
	out := models.JunctionState{
		ActivePair: string(s.ActivePair),
		Reason: models.Reason{
			Tag:             string(s.Reason.Tag),
			Detail:          s.Reason.Detail,
			PredictionBoost: s.Reason.PredictionBoost,
			Text:            s.Reason.String(),
		},
		DurationSeconds:  s.DurationSeconds,
		RemainingSeconds: s.RemainingSeconds,
		DecidedAt:        models.TimestampPtr(s.DecidedAt),
		PhaseEndsAt:      models.TimestampPtr(s.PhaseEndsAt),
	}
	if s.Override != nil && now.Before(s.Override.Until) {
		o := overrideModel(*s.Override, now)
		out.Override = &o
	}

	for _, lane := range junction.Lanes() {
		snap := s.Snapshots.Get(lane)
		status := models.LaneStatus{
			Lane:             string(lane),
			Signal:           models.SignalRed,
			Load:             snap.Load,
			Ambulance:        snap.AmbulancePresent,
			VehicleBreakdown: snap.VehicleBreakdown,
		}
		if s.ActivePair.Contains(lane) {
			status.Signal = models.SignalGreen
		}
		if served, ok := s.LastServed[lane]; ok {
			status.LastServedAt = models.TimestampPtr(served)
			if status.Signal == models.SignalRed && now.After(served) {
				status.WaitingSeconds = int(now.Sub(served) / time.Second)
			}
		}
		out.Lanes = append(out.Lanes, status)
	}
	return out
}

func overrideModel(o controller.Override, now time.Time) models.Override {
	remaining := 0
	if now.Before(o.Until) {
		remaining = int(o.Until.Sub(now).Round(time.Second) / time.Second)
	}
	return models.Override{
		Lane:             string(o.Lane),
		Pair:             string(o.Pair),
		Until:            models.Timestamp(o.Until),
		RemainingSeconds: remaining,
	}
}
