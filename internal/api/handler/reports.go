package handler

import (
	"bytes"
	"net/http"

	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/junctionflow/junctionflow/internal/api/models"
	"github.com/junctionflow/junctionflow/internal/api/response"
	"github.com/junctionflow/junctionflow/internal/junction"
	"github.com/junctionflow/junctionflow/internal/trafficlog"
)

// ReportHandler handles efficiency reports and the CSV export.
type ReportHandler struct {
	logs   trafficlog.Repository
	clock  Clock
	logger zerolog.Logger
}

// NewReportHandler creates a new ReportHandler.
func NewReportHandler(logs trafficlog.Repository, clock Clock, logger zerolog.Logger) *ReportHandler {
	return &ReportHandler{logs: logs, clock: clock, logger: logger}
}

// Efficiency handles GET /v1/reports/efficiency - adaptive green time per pair
// against the fixed-cycle baseline.
func (h *ReportHandler) Efficiency(w http.ResponseWriter, r *http.Request) {
	want := []string{string(junction.PairNS), string(junction.PairEW)}
	rows, err := trafficlog.EfficiencyReport(r.Context(), h.logs, want, trafficlog.FixedCycleGreen)
	if err != nil {
		h.logger.Error().Err(err).Msg("building efficiency report")
		response.InternalError(w, r, "failed to build efficiency report")
		return
	}

	response.JSON(w, r, http.StatusOK, models.EfficiencyReport{
		GeneratedAt: models.Timestamp(h.clock.now()),
		FixedGreen:  trafficlog.FixedCycleGreen,
		Items: lo.Map(rows, func(e trafficlog.Efficiency, _ int) models.LaneEfficiency {
			return models.LaneEfficiency{
				Pair:          e.Lane,
				AdaptiveGreen: e.AdaptiveGreen,
				FixedGreen:    e.FixedGreen,
				Difference:    e.Difference,
				Samples:       e.Samples,
			}
		}),
	})
}

// Export handles GET /v1/reports/export - the full log as a CSV attachment.
func (h *ReportHandler) Export(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	if err := trafficlog.WriteReport(r.Context(), &buf, h.logs); err != nil {
		h.logger.Error().Err(err).Msg("exporting report")
		response.InternalError(w, r, "failed to export report")
		return
	}

	name := trafficlog.ReportFileName(h.clock.now())
	h.logger.Info().
		Str("operator", GetOperator(r.Context())).
		Str("file", name).
		Int("bytes", buf.Len()).
		Msg("report exported")

	response.Attachment(w, r, "text/csv", name, buf.Bytes())
}
