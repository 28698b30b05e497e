package handler_test

import (
	"context"
	"encoding/csv"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/junctionflow/junctionflow/internal/api/handler"
	"github.com/junctionflow/junctionflow/internal/api/models"
	"github.com/junctionflow/junctionflow/internal/trafficlog"
)

func TestReportHandler_Efficiency(t *testing.T) {
	repo := trafficlog.NewInMemoryRepository()
	for _, green := range []int{40, 50} {
		require.NoError(t, repo.LogSignal(context.Background(), &trafficlog.SignalLog{
			Timestamp:    testNow,
			Lane:         "NS",
			LoadScore:    60,
			GreenSeconds: green,
			Reason:       "DENSITY",
		}))
	}
	h := handler.NewReportHandler(repo, fixedClock(), zerolog.Nop())

	rec := httptest.NewRecorder()
	h.Efficiency(rec, httptest.NewRequest(http.MethodGet, "/v1/reports/efficiency", http.NoBody))

	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[models.EfficiencyReport](t, rec)
	assert.Equal(t, trafficlog.FixedCycleGreen, got.FixedGreen)
	assert.Equal(t, testNow, got.GeneratedAt.Time())

	require.Len(t, got.Items, 2)
	assert.Equal(t, models.LaneEfficiency{
		Pair:          "NS",
		AdaptiveGreen: 45,
		FixedGreen:    30,
		Difference:    15,
		Samples:       2,
	}, got.Items[0])
	assert.Equal(t, "EW", got.Items[1].Pair)
	assert.Zero(t, got.Items[1].Samples)
}

func TestReportHandler_Export(t *testing.T) {
	repo := trafficlog.NewInMemoryRepository()
	require.NoError(t, repo.LogSignal(context.Background(), &trafficlog.SignalLog{
		Timestamp:    testNow,
		Lane:         "EW",
		LoadScore:    35,
		GreenSeconds: 25,
		Reason:       "DENSITY",
	}))
	seedViolations(t, repo, "North")
	h := handler.NewReportHandler(repo, fixedClock(), zerolog.Nop())

	rec := httptest.NewRecorder()
	h.Export(rec, httptest.NewRequest(http.MethodGet, "/v1/reports/export", http.NoBody))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv", rec.Header().Get("Content-Type"))
	assert.Equal(t, `attachment; filename="traffic_report_20260309_083000.csv"`, rec.Header().Get("Content-Disposition"))
	assert.Equal(t, strconv.Itoa(rec.Body.Len()), rec.Header().Get("Content-Length"))

	r := csv.NewReader(strings.NewReader(rec.Body.String()))
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	require.NoError(t, err)

	// csv.Reader skips the blank separator line.
	require.Len(t, records, 6)
	assert.Equal(t, []string{"Signal Logs"}, records[0])
	assert.Equal(t, "EW", records[2][2])
	assert.Equal(t, []string{"Violations"}, records[3])
	assert.Equal(t, "North", records[5][2])
}

func TestReportHandler_StoreFailure(t *testing.T) {
	h := handler.NewReportHandler(failingRepo{}, fixedClock(), zerolog.Nop())

	rec := httptest.NewRecorder()
	h.Efficiency(rec, httptest.NewRequest(http.MethodGet, "/v1/reports/efficiency", http.NoBody))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	rec = httptest.NewRecorder()
	h.Export(rec, httptest.NewRequest(http.MethodGet, "/v1/reports/export", http.NoBody))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Empty(t, rec.Header().Get("Content-Disposition"))
}
