package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/junctionflow/junctionflow/internal/api/models"
	"github.com/junctionflow/junctionflow/internal/api/response"
	"github.com/junctionflow/junctionflow/internal/junction"
	"github.com/junctionflow/junctionflow/internal/prediction"
)

// Predictor forecasts load from the historical log.
type Predictor interface {
	Forecast(ctx context.Context, dayOfWeek, hour int) (prediction.Forecast, error)
	PeakSlots(ctx context.Context, lane string, limit int) ([]prediction.Peak, error)
}

var _ Predictor = (*prediction.Service)(nil)

// maxPeakLimit caps ?limit on the peaks endpoint. There are 168 weekly slots.
const maxPeakLimit = 168

// PredictionHandler handles load forecasts.
type PredictionHandler struct {
	predictor Predictor
	clock     Clock
	logger    zerolog.Logger
}

// NewPredictionHandler creates a new PredictionHandler.
func NewPredictionHandler(predictor Predictor, clock Clock, logger zerolog.Logger) *PredictionHandler {
	return &PredictionHandler{predictor: predictor, clock: clock, logger: logger}
}

// Forecast handles GET /v1/predictions?day=&hour= - expected load for a weekly
// slot. Both parameters default to the current slot.
func (h *PredictionHandler) Forecast(w http.ResponseWriter, r *http.Request) {
	now := h.clock.now()

	var fieldErrors []models.FieldError
	day, ferr := queryInt(r, "day", junction.DayOfWeek(now), 0, 6)
	if ferr != nil {
		fieldErrors = append(fieldErrors, *ferr)
	}
	hour, ferr := queryInt(r, "hour", now.Hour(), 0, 23)
	if ferr != nil {
		fieldErrors = append(fieldErrors, *ferr)
	}
	if len(fieldErrors) > 0 {
		response.BadRequest(w, r, "invalid forecast slot", fieldErrors)
		return
	}

	f, err := h.predictor.Forecast(r.Context(), day, hour)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	response.JSON(w, r, http.StatusOK, models.Forecast{
		DayOfWeek:   f.DayOfWeek,
		Day:         f.Day,
		Hour:        f.Hour,
		AverageLoad: f.AverageLoad,
		Level:       string(f.Level),
	})
}

// Peaks handles GET /v1/predictions/peaks?lane=&limit= - the busiest weekly
// slots of a lane pair. A lane name selects the pair that serves it.
func (h *PredictionHandler) Peaks(w http.ResponseWriter, r *http.Request) {
	raw := strings.TrimSpace(r.URL.Query().Get("lane"))
	if raw == "" {
		response.BadRequest(w, r, "lane is required", []models.FieldError{{
			Field:   "lane",
			Message: "lane is required",
			Code:    "REQUIRED",
		}})
		return
	}
	pair, ok := resolvePair(raw)
	if !ok {
		response.BadRequest(w, r, "unknown lane", []models.FieldError{{
			Field:   "lane",
			Message: "lane must be a lane (North, South, East, West) or a pair (NS, EW)",
			Code:    "INVALID",
		}})
		return
	}

	limit, ferr := queryInt(r, "limit", prediction.DefaultPeakLimit, 1, maxPeakLimit)
	if ferr != nil {
		response.BadRequest(w, r, ferr.Message, []models.FieldError{*ferr})
		return
	}

	peaks, err := h.predictor.PeakSlots(r.Context(), string(pair), limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	response.JSON(w, r, http.StatusOK, models.PeakList{
		Pair: string(pair),
		Items: lo.Map(peaks, func(p prediction.Peak, _ int) models.Peak {
			return models.Peak{
				DayOfWeek:   p.DayOfWeek,
				Day:         p.Day,
				Hour:        p.Hour,
				AverageLoad: p.AverageLoad,
				Level:       string(p.Level),
			}
		}),
	})
}

func (h *PredictionHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, prediction.ErrInvalidKey):
		response.BadRequest(w, r, err.Error(), nil)
	case errors.Is(err, prediction.ErrEstimatorUnavailable):
		h.logger.Warn().Err(err).Msg("load estimator unavailable")
		response.ServiceUnavailable(w, r, "historical load estimator unavailable")
	default:
		h.logger.Error().Err(err).Msg("prediction failed")
		response.InternalError(w, r, "prediction failed")
	}
}

// resolvePair maps a lane or pair name to the pair logged for it.
func resolvePair(s string) (junction.LanePair, bool) {
	if lane, err := junction.ParseLaneID(s); err == nil {
		return junction.PairOf(lane), true
	}
	if pair, err := junction.ParseLanePair(s); err == nil && pair != junction.PairAllRed {
		return pair, true
	}
	return "", false
}
