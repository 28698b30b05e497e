package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"
)

// Service errors.
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidRequest     = errors.New("invalid login request")
	ErrNotConfigured      = errors.New("operator account is not configured")
)

// Service authenticates the operator account.
type Service struct {
	jwt          *JWTService
	username     string
	passwordHash []byte
	logger       zerolog.Logger
}

// ServiceConfig holds configuration for the auth service.
type ServiceConfig struct {
	JWTService *JWTService

	// Username is the operator account name.
	Username string

	// PasswordHash is a bcrypt hash of the operator password. When empty,
	// Password is hashed at startup.
	PasswordHash string
	Password     string

	Logger zerolog.Logger
}

// NewService creates an auth service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.JWTService == nil || strings.TrimSpace(cfg.Username) == "" {
		return nil, ErrNotConfigured
	}

	hash := []byte(cfg.PasswordHash)
	if len(hash) == 0 {
		if cfg.Password == "" {
			return nil, fmt.Errorf("%w: no password or password hash", ErrNotConfigured)
		}
		var err error
		hash, err = bcrypt.GenerateFromPassword([]byte(cfg.Password), bcrypt.DefaultCost)
		if err != nil {
			return nil, fmt.Errorf("hashing operator password: %w", err)
		}
	} else if _, err := bcrypt.Cost(hash); err != nil {
		return nil, fmt.Errorf("%w: operator password hash: %w", ErrNotConfigured, err)
	}

	return &Service{
		jwt:          cfg.JWTService,
		username:     strings.TrimSpace(cfg.Username),
		passwordHash: hash,
		logger:       cfg.Logger,
	}, nil
}

// Login checks the operator credentials and issues an access token.
func (s *Service) Login(_ context.Context, req *LoginRequest) (*TokenResponse, error) {
	if errs := req.Validate(); len(errs) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrInvalidRequest, errs[0].Message)
	}

	userOK := subtle.ConstantTimeCompare([]byte(strings.TrimSpace(req.Username)), []byte(s.username)) == 1
	// The hash is always checked so a wrong username costs as much as a wrong password.
	passOK := bcrypt.CompareHashAndPassword(s.passwordHash, []byte(req.Password)) == nil
	if !userOK || !passOK {
		s.logger.Warn().Str("username", req.Username).Msg("operator login rejected")
		return nil, ErrInvalidCredentials
	}

	op := Operator{Username: s.username, Role: RoleOperator}
	token, _, err := s.jwt.GenerateAccessToken(op)
	if err != nil {
		return nil, fmt.Errorf("generating access token: %w", err)
	}

	s.logger.Info().Str("username", op.Username).Msg("operator logged in")

	return &TokenResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresIn:   int64(s.jwt.Expiry().Seconds()),
		Operator:    op,
	}, nil
}

// ValidateAccessToken validates a token and returns the operator it was issued to.
func (s *Service) ValidateAccessToken(tokenString string) (string, error) {
	claims, err := s.jwt.ValidateAccessToken(tokenString)
	if err != nil {
		return "", err
	}
	if claims.Role != RoleOperator {
		return "", fmt.Errorf("%w: role %q", ErrInvalidAccessToken, claims.Role)
	}
	return claims.Subject, nil
}
