package models_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/junctionflow/junctionflow/internal/api/models"
)

func TestProblem_Builders(t *testing.T) {
	fieldErrors := []models.FieldError{
		{Field: "lane", Message: "unknown lane", Code: "invalid"},
	}

	p := models.NewProblem(
		models.ProblemTypeValidation,
		"Validation error",
		http.StatusBadRequest,
		"req_test123",
	).WithDetail("lane must be one of North, South, East, West").
		WithInstance("/v1/junction/override").
		WithErrors(fieldErrors)

	assert.Equal(t, models.ProblemTypeValidation, p.Type)
	assert.Equal(t, http.StatusBadRequest, p.Status)
	assert.Equal(t, "req_test123", p.TraceID)
	assert.Equal(t, "lane must be one of North, South, East, West", p.Detail)
	assert.Equal(t, "/v1/junction/override", p.Instance)
	require.Len(t, p.Errors, 1)
	assert.Equal(t, "lane", p.Errors[0].Field)
}

func TestProblem_Write(t *testing.T) {
	p := models.NewBadRequest("req_test123", "invalid input", []models.FieldError{
		{Field: "lane", Message: "lane is required"},
	})
	p.Instance = "/v1/junction/override"

	w := httptest.NewRecorder()
	p.Write(w)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "application/problem+json", w.Header().Get("Content-Type"))
	assert.Equal(t, "req_test123", w.Header().Get("X-Request-Id"))

	var result models.Problem
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))

	assert.Equal(t, models.ProblemTypeValidation, result.Type)
	assert.Equal(t, "Validation error", result.Title)
	assert.Equal(t, "invalid input", result.Detail)
	assert.Equal(t, "/v1/junction/override", result.Instance)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, "lane", result.Errors[0].Field)
}

func TestProblem_Constructors(t *testing.T) {
	tests := []struct {
		name      string
		problem   *models.Problem
		wantType  string
		wantTitle string
		status    int
	}{
		{"bad request", models.NewBadRequest("req_123", "detail", nil), models.ProblemTypeValidation, "Validation error", http.StatusBadRequest},
		{"unauthorized", models.NewUnauthorized("req_123", "detail"), models.ProblemTypeUnauthorized, "Unauthorized", http.StatusUnauthorized},
		{"not found", models.NewNotFound("req_123", "detail"), models.ProblemTypeNotFound, "Not found", http.StatusNotFound},
		{"too many requests", models.NewTooManyRequests("req_123", "detail"), models.ProblemTypeTooManyRequests, "Too many requests", http.StatusTooManyRequests},
		{"internal", models.NewInternalError("req_123", "detail"), models.ProblemTypeInternal, "Internal server error", http.StatusInternalServerError},
		{"unavailable", models.NewServiceUnavailable("req_123", "detail"), models.ProblemTypeUnavailable, "Service unavailable", http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantType, tt.problem.Type)
			assert.Equal(t, tt.wantTitle, tt.problem.Title)
			assert.Equal(t, tt.status, tt.problem.Status)
			assert.Equal(t, "detail", tt.problem.Detail)
			assert.Equal(t, "req_123", tt.problem.TraceID)
		})
	}
}
