package middleware_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/junctionflow/junctionflow/internal/api/middleware"
	"github.com/junctionflow/junctionflow/internal/api/models"
)

func TestRecovery_ReturnsProblem(t *testing.T) {
	var buf bytes.Buffer
	handler := middleware.RequestID(middleware.Recovery(zerolog.New(&buf))(
		http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
			panic("display offline")
		}),
	))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/junction/state", http.NoBody))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	var problem models.Problem
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &problem))
	assert.Equal(t, models.ProblemTypeInternal, problem.Type)
	assert.Equal(t, "/v1/junction/state", problem.Instance)
	assert.NotEmpty(t, problem.TraceID)

	assert.Contains(t, buf.String(), "panic recovered")
	assert.Contains(t, buf.String(), "display offline")
}
