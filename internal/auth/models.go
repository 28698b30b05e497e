// Package auth authenticates junction operators and issues API access tokens.
package auth

import "strings"

// RoleOperator is the role granted to the junction operator account.
const RoleOperator = "operator"

// Operator is an authenticated junction operator.
type Operator struct {
	Username string `json:"username"`
	Role     string `json:"role"`
}

// LoginRequest is the request body of the operator login endpoint.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Validate validates the login request.
func (r *LoginRequest) Validate() []FieldError {
	var errs []FieldError

	if strings.TrimSpace(r.Username) == "" {
		errs = append(errs, FieldError{
			Field:   "username",
			Message: "username is required",
			Code:    "REQUIRED",
		})
	}
	if r.Password == "" {
		errs = append(errs, FieldError{
			Field:   "password",
			Message: "password is required",
			Code:    "REQUIRED",
		})
	}

	return errs
}

// FieldError represents a validation error on a specific field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// TokenResponse is returned after a successful login.
type TokenResponse struct {
	// AccessToken is the JWT for the Authorization header.
	AccessToken string `json:"accessToken"`

	// TokenType is always "Bearer".
	TokenType string `json:"tokenType"`

	// ExpiresIn is the number of seconds until the access token expires.
	ExpiresIn int64 `json:"expiresIn"`

	Operator Operator `json:"operator"`
}
