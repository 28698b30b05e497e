package handler

import (
	"net/http"

	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/junctionflow/junctionflow/internal/api/models"
	"github.com/junctionflow/junctionflow/internal/api/response"
	"github.com/junctionflow/junctionflow/internal/trafficlog"
)

// ViolationHandler handles the red-light violation log.
type ViolationHandler struct {
	logs   trafficlog.Repository
	logger zerolog.Logger
}

// NewViolationHandler creates a new ViolationHandler.
func NewViolationHandler(logs trafficlog.Repository, logger zerolog.Logger) *ViolationHandler {
	return &ViolationHandler{logs: logs, logger: logger}
}

// List handles GET /v1/violations - recorded violations, newest first.
func (h *ViolationHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, ferr := queryInt(r, "limit", DefaultListLimit, 1, MaxListLimit)
	if ferr != nil {
		response.BadRequest(w, r, ferr.Message, []models.FieldError{*ferr})
		return
	}

	violations, err := h.logs.ListViolations(r.Context(), limit)
	if err != nil {
		h.logger.Error().Err(err).Msg("listing violations")
		response.InternalError(w, r, "failed to list violations")
		return
	}

	response.JSON(w, r, http.StatusOK, models.ViolationList{
		Items: lo.Map(violations, func(v trafficlog.Violation, _ int) models.Violation {
			return models.Violation{
				ID:            v.ID,
				Timestamp:     models.Timestamp(v.Timestamp),
				Lane:          v.Lane,
				Type:          v.Type,
				PenaltyAmount: v.PenaltyAmount,
			}
		}),
		Meta: models.ListMeta{Limit: limit, Count: len(violations)},
	})
}

// Summary handles GET /v1/violations/summary - count and total penalty.
func (h *ViolationHandler) Summary(w http.ResponseWriter, r *http.Request) {
	totals, err := h.logs.ViolationSummary(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("summarising violations")
		response.InternalError(w, r, "failed to summarise violations")
		return
	}

	response.JSON(w, r, http.StatusOK, models.ViolationSummary{
		Count:        totals.Count,
		TotalPenalty: totals.TotalPenalty,
	})
}

// Clear handles DELETE /v1/violations - wipes the violation log.
func (h *ViolationHandler) Clear(w http.ResponseWriter, r *http.Request) {
	removed, err := h.logs.ClearViolations(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("clearing violations")
		response.InternalError(w, r, "failed to clear violations")
		return
	}

	h.logger.Info().
		Str("operator", GetOperator(r.Context())).
		Int64("removed", removed).
		Msg("violation log cleared")

	response.JSON(w, r, http.StatusOK, models.ViolationsCleared{Removed: removed})
}
