package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/junctionflow/junctionflow/internal/api/models"
	"github.com/junctionflow/junctionflow/internal/api/response"
	"github.com/junctionflow/junctionflow/internal/auth"
)

// Authenticator logs the operator in.
type Authenticator interface {
	Login(ctx context.Context, req *auth.LoginRequest) (*auth.TokenResponse, error)
}

// AuthHandler handles authentication endpoints.
type AuthHandler struct {
	authService Authenticator
}

// NewAuthHandler creates a new AuthHandler. A nil service disables login.
func NewAuthHandler(authService Authenticator) *AuthHandler {
	return &AuthHandler{
		authService: authService,
	}
}

// Login handles POST /v1/auth/login - operator password login.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	if h.authService == nil {
		response.ServiceUnavailable(w, r, "operator authentication is not configured")
		return
	}

	var req auth.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, r, "invalid JSON body", nil)
		return
	}

	if errs := req.Validate(); len(errs) > 0 {
		fieldErrors := make([]models.FieldError, len(errs))
		for i, e := range errs {
			fieldErrors[i] = models.FieldError{
				Field:   e.Field,
				Message: e.Message,
				Code:    e.Code,
			}
		}
		response.BadRequest(w, r, "validation error", fieldErrors)
		return
	}

	tokenResp, err := h.authService.Login(r.Context(), &req)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrInvalidCredentials):
			response.Unauthorized(w, r, "invalid username or password")
		case errors.Is(err, auth.ErrInvalidRequest):
			response.BadRequest(w, r, err.Error(), nil)
		default:
			response.InternalError(w, r, "authentication failed")
		}
		return
	}

	response.JSON(w, r, http.StatusOK, tokenResp)
}
