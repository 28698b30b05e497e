package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/junctionflow/junctionflow/internal/api"
	"github.com/junctionflow/junctionflow/internal/api/models"
	"github.com/junctionflow/junctionflow/internal/auth"
	"github.com/junctionflow/junctionflow/internal/controller"
	"github.com/junctionflow/junctionflow/internal/junction"
	"github.com/junctionflow/junctionflow/internal/prediction"
	"github.com/junctionflow/junctionflow/internal/resilience"
	"github.com/junctionflow/junctionflow/internal/trafficlog"
)

const (
	testUsername = "operator"
	testPassword = "correct-horse-battery"
)

var testNow = time.Date(2026, 3, 13, 17, 5, 0, 0, time.UTC) // Friday

// stubController is a controller holding a fixed NS phase.
type stubController struct {
	mu       sync.Mutex
	override *controller.Override
}

func (c *stubController) State(now time.Time) controller.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return controller.State{
		ActivePair:       junction.PairNS,
		Reason:           junction.Reason{Tag: junction.ReasonNoTraffic},
		DurationSeconds:  10,
		DecidedAt:        now,
		PhaseEndsAt:      now.Add(10 * time.Second),
		RemainingSeconds: 10,
		Override:         c.override,
		Snapshots:        junction.Snapshots{},
	}
}

func (c *stubController) Override(lane junction.LaneID, now time.Time) controller.Override {
	c.mu.Lock()
	defer c.mu.Unlock()
	o := controller.Override{Lane: lane, Pair: junction.PairOf(lane), Until: now.Add(time.Minute)}
	c.override = &o
	return o
}

func (c *stubController) ClearOverride() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	had := c.override != nil
	c.override = nil
	return had
}

func (c *stubController) MetricsSnapshot() map[string]interface{} {
	return map[string]interface{}{"cycles": 1}
}

func (c *stubController) LastTickAt() time.Time { return testNow }

type testEnv struct {
	router http.Handler
	repo   *trafficlog.InMemoryRepository
	ctrl   *stubController
}

func newTestEnv(t *testing.T, withAuth bool) *testEnv {
	t.Helper()

	logger := zerolog.New(io.Discard)
	repo := trafficlog.NewInMemoryRepository()
	registry := resilience.NewRegistry()
	ctrl := &stubController{}

	predCfg := prediction.DefaultConfig()
	predCfg.Registry = registry
	predictor := prediction.NewService(repo, predCfg)

	var authSvc *auth.Service
	if withAuth {
		var err error
		authSvc, err = auth.NewService(auth.ServiceConfig{
			JWTService: auth.NewJWTService(auth.JWTConfig{
				SigningKey: "test-secret-key-for-testing-only",
				Issuer:     "junctionflow-test",
				Audience:   "junction-api",
			}),
			Username: testUsername,
			Password: testPassword,
			Logger:   logger,
		})
		require.NoError(t, err)
	}

	router := api.NewRouter(api.RouterConfig{
		Version:     "test",
		BuildTime:   "2026-01-01T00:00:00Z",
		Logger:      logger,
		AuthService: authSvc,
		Controller:  ctrl,
		Repository:  repo,
		Predictor:   predictor,
		Registry:    registry,
		Clock:       func() time.Time { return testNow },
	})

	return &testEnv{router: router, repo: repo, ctrl: ctrl}
}

func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

// login returns an access token for the operator account.
func (e *testEnv) login(t *testing.T) string {
	t.Helper()
	body, _ := json.Marshal(auth.LoginRequest{Username: testUsername, Password: testPassword})
	req := httptest.NewRequest(http.MethodPost, "/v1/auth/login", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	w := e.do(req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var tokens auth.TokenResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &tokens))
	require.NotEmpty(t, tokens.AccessToken)
	return tokens.AccessToken
}

func TestRouter_HealthCheck(t *testing.T) {
	env := newTestEnv(t, true)

	w := env.do(httptest.NewRequest(http.MethodGet, "/v1/ops/health", http.NoBody))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.NotEmpty(t, w.Header().Get("X-Request-Id"))

	var health models.Health
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &health))
	assert.Equal(t, models.HealthStatusOK, health.Status)
	assert.Equal(t, "test", health.Details["version"])
}

func TestRouter_ReadinessCheck(t *testing.T) {
	env := newTestEnv(t, true)

	w := env.do(httptest.NewRequest(http.MethodGet, "/v1/ops/ready", http.NoBody))

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRouter_SystemStatus(t *testing.T) {
	env := newTestEnv(t, true)

	w := env.do(httptest.NewRequest(http.MethodGet, "/v1/ops/status", http.NoBody))
	require.Equal(t, http.StatusOK, w.Code)

	var status models.SystemStatus
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))

	assert.Equal(t, models.HealthStatusOK, status.Status)
	assert.Len(t, status.Subsystems, 2)
	require.Len(t, status.Dependencies, 1)
	assert.Equal(t, prediction.BreakerName, status.Dependencies[0].Name)
	assert.NotEmpty(t, status.Controller)
}

func TestRouter_SecurityHeaders(t *testing.T) {
	env := newTestEnv(t, true)

	w := env.do(httptest.NewRequest(http.MethodGet, "/v1/junction/state", http.NoBody))

	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.NotEmpty(t, w.Header().Get("Strict-Transport-Security"))
}

func TestRouter_JunctionState(t *testing.T) {
	env := newTestEnv(t, true)

	w := env.do(httptest.NewRequest(http.MethodGet, "/v1/junction/state", http.NoBody))
	require.Equal(t, http.StatusOK, w.Code)

	var state models.JunctionState
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &state))
	assert.Equal(t, "NS", state.ActivePair)
	assert.Equal(t, "NO_TRAFFIC", state.Reason.Tag)
	assert.Len(t, state.Lanes, 4)
}

func TestRouter_Override(t *testing.T) {
	env := newTestEnv(t, true)
	token := env.login(t)

	t.Run("requires authentication", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/v1/junction/override", strings.NewReader(`{"lane":"East"}`))
		req.Header.Set("Content-Type", "application/json")

		w := env.do(req)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Equal(t, "application/problem+json", w.Header().Get("Content-Type"))
	})

	t.Run("rejects non-JSON bodies", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/v1/junction/override", strings.NewReader(`lane=East`))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.Header.Set("Authorization", "Bearer "+token)

		w := env.do(req)
		assert.Equal(t, http.StatusUnsupportedMediaType, w.Code)
	})

	t.Run("set and clear", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/v1/junction/override", strings.NewReader(`{"lane":"East"}`))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+token)

		w := env.do(req)
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

		var o models.Override
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &o))
		assert.Equal(t, "EW", o.Pair)

		w = env.do(httptest.NewRequest(http.MethodGet, "/v1/junction/state", http.NoBody))
		var state models.JunctionState
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &state))
		require.NotNil(t, state.Override)
		assert.Equal(t, "East", state.Override.Lane)

		del := httptest.NewRequest(http.MethodDelete, "/v1/junction/override", http.NoBody)
		del.Header.Set("Authorization", "Bearer "+token)
		assert.Equal(t, http.StatusNoContent, env.do(del).Code)

		del = httptest.NewRequest(http.MethodDelete, "/v1/junction/override", http.NoBody)
		del.Header.Set("Authorization", "Bearer "+token)
		assert.Equal(t, http.StatusNotFound, env.do(del).Code)
	})
}

func TestRouter_Decisions(t *testing.T) {
	env := newTestEnv(t, true)
	require.NoError(t, env.repo.LogSignal(context.Background(), &trafficlog.SignalLog{
		Timestamp:    testNow,
		Lane:         "NS",
		LoadScore:    64,
		GreenSeconds: 40,
		Reason:       "DENSITY",
		Hour:         17,
		DayOfWeek:    4,
	}))

	w := env.do(httptest.NewRequest(http.MethodGet, "/v1/junction/decisions", http.NoBody))
	require.Equal(t, http.StatusOK, w.Code)

	var list models.DecisionList
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list.Items, 1)
	assert.Equal(t, "NS", list.Items[0].Pair)
	assert.Equal(t, 64, list.Items[0].LoadScore)
}

func TestRouter_Predictions(t *testing.T) {
	env := newTestEnv(t, true)
	for _, load := range []int{60, 70} {
		require.NoError(t, env.repo.LogSignal(context.Background(), &trafficlog.SignalLog{
			Timestamp: testNow,
			Lane:      "EW",
			LoadScore: load,
			Reason:    "DENSITY",
			Hour:      17,
			DayOfWeek: 4,
		}))
	}

	t.Run("forecast for current slot", func(t *testing.T) {
		w := env.do(httptest.NewRequest(http.MethodGet, "/v1/predictions", http.NoBody))
		require.Equal(t, http.StatusOK, w.Code)

		var f models.Forecast
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &f))
		assert.Equal(t, "Friday", f.Day)
		assert.Equal(t, 17, f.Hour)
		assert.Equal(t, 65, f.AverageLoad)
		assert.Equal(t, "HIGH", f.Level)
	})

	t.Run("forecast with no history", func(t *testing.T) {
		w := env.do(httptest.NewRequest(http.MethodGet, "/v1/predictions?day=0&hour=3", http.NoBody))
		require.Equal(t, http.StatusOK, w.Code)

		var f models.Forecast
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &f))
		assert.Zero(t, f.AverageLoad)
		assert.Equal(t, "LOW", f.Level)
	})

	t.Run("peaks by lane name", func(t *testing.T) {
		w := env.do(httptest.NewRequest(http.MethodGet, "/v1/predictions/peaks?lane=West", http.NoBody))
		require.Equal(t, http.StatusOK, w.Code)

		var peaks models.PeakList
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &peaks))
		assert.Equal(t, "EW", peaks.Pair)
		require.Len(t, peaks.Items, 1)
		assert.InDelta(t, 65.0, peaks.Items[0].AverageLoad, 0.001)
	})
}

func TestRouter_Violations(t *testing.T) {
	env := newTestEnv(t, true)
	token := env.login(t)
	require.NoError(t, env.repo.LogViolation(context.Background(), &trafficlog.Violation{
		Timestamp:     testNow,
		Lane:          "South",
		PenaltyAmount: 500,
	}))

	w := env.do(httptest.NewRequest(http.MethodGet, "/v1/violations", http.NoBody))
	require.Equal(t, http.StatusOK, w.Code)
	var list models.ViolationList
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Len(t, list.Items, 1)

	w = env.do(httptest.NewRequest(http.MethodGet, "/v1/violations/summary", http.NoBody))
	require.Equal(t, http.StatusOK, w.Code)
	var summary models.ViolationSummary
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &summary))
	assert.Equal(t, models.ViolationSummary{Count: 1, TotalPenalty: 500}, summary)

	w = env.do(httptest.NewRequest(http.MethodDelete, "/v1/violations", http.NoBody))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	del := httptest.NewRequest(http.MethodDelete, "/v1/violations", http.NoBody)
	del.Header.Set("Authorization", "Bearer "+token)
	w = env.do(del)
	require.Equal(t, http.StatusOK, w.Code)
	var cleared models.ViolationsCleared
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &cleared))
	assert.Equal(t, int64(1), cleared.Removed)
}

func TestRouter_Reports(t *testing.T) {
	env := newTestEnv(t, true)
	token := env.login(t)

	w := env.do(httptest.NewRequest(http.MethodGet, "/v1/reports/efficiency", http.NoBody))
	require.Equal(t, http.StatusOK, w.Code)
	var report models.EfficiencyReport
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &report))
	assert.Len(t, report.Items, 2)

	w = env.do(httptest.NewRequest(http.MethodGet, "/v1/reports/export", http.NoBody))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/v1/reports/export", http.NoBody)
	req.Header.Set("Authorization", "Bearer "+token)
	w = env.do(req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/csv", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "traffic_report_20260313_170500.csv")
	assert.True(t, strings.HasPrefix(w.Body.String(), "Signal Logs\n"))
}

func TestRouter_AuthDisabled(t *testing.T) {
	env := newTestEnv(t, false)

	req := httptest.NewRequest(http.MethodPost, "/v1/auth/login", strings.NewReader(`{"username":"a","password":"b"}`))
	assert.Equal(t, http.StatusServiceUnavailable, env.do(req).Code)

	req = httptest.NewRequest(http.MethodPost, "/v1/junction/override", strings.NewReader(`{"lane":"East"}`))
	req.Header.Set("Content-Type", "application/json")
	assert.Equal(t, http.StatusServiceUnavailable, env.do(req).Code)
	assert.Nil(t, env.ctrl.override)

	// Read endpoints stay open.
	assert.Equal(t, http.StatusOK, env.do(httptest.NewRequest(http.MethodGet, "/v1/junction/state", http.NoBody)).Code)
}

func TestRouter_LoginRejectsBadCredentials(t *testing.T) {
	env := newTestEnv(t, true)

	req := httptest.NewRequest(http.MethodPost, "/v1/auth/login", strings.NewReader(`{"username":"operator","password":"wrong"}`))
	req.Header.Set("Content-Type", "application/json")
	w := env.do(req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRouter_AuthRateLimit(t *testing.T) {
	env := newTestEnv(t, true)

	var last int
	for range 11 {
		req := httptest.NewRequest(http.MethodPost, "/v1/auth/login", strings.NewReader(`{}`))
		req.RemoteAddr = "192.0.2.10:1234"
		last = env.do(req).Code
	}

	assert.Equal(t, http.StatusTooManyRequests, last)
}

func TestRouter_NotFound(t *testing.T) {
	env := newTestEnv(t, true)

	w := env.do(httptest.NewRequest(http.MethodGet, "/v1/routes:compute", http.NoBody))

	assert.Equal(t, http.StatusNotFound, w.Code)
}
