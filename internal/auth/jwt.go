package auth

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Operators authenticate once with username and password and receive a
// short-lived HS256 access token. There are no refresh tokens: an expired
// token means logging in again.

// DefaultAccessTokenExpiry is how long access tokens are valid when the config
// does not say otherwise.
const DefaultAccessTokenExpiry = 15 * time.Minute

// Token errors.
var (
	ErrInvalidAccessToken = errors.New("invalid access token")
	ErrAccessTokenExpired = errors.New("access token has expired")
)

// JWTClaims are the claims of an operator access token.
type JWTClaims struct {
	jwt.RegisteredClaims

	Role string `json:"role"`
}

// JWTService issues and validates access tokens.
type JWTService struct {
	signingKey []byte
	issuer     string
	audience   string
	expiry     time.Duration
	now        func() time.Time
}

// JWTConfig holds configuration for the JWT service.
type JWTConfig struct {
	// SigningKey is the secret used to sign tokens.
	SigningKey string

	// Issuer and Audience are checked on every validation.
	Issuer   string
	Audience string

	// Expiry is the access token lifetime.
	// Default: 15 minutes
	Expiry time.Duration

	// Clock returns the current time. Nil uses time.Now.
	Clock func() time.Time
}

// NewJWTService creates a JWT service.
func NewJWTService(cfg JWTConfig) *JWTService {
	expiry := cfg.Expiry
	if expiry <= 0 {
		expiry = DefaultAccessTokenExpiry
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	return &JWTService{
		signingKey: []byte(cfg.SigningKey),
		issuer:     cfg.Issuer,
		audience:   cfg.Audience,
		expiry:     expiry,
		now:        clock,
	}
}

// Expiry returns the access token lifetime.
func (s *JWTService) Expiry() time.Duration {
	return s.expiry
}

// GenerateAccessToken creates an access token for op.
func (s *JWTService) GenerateAccessToken(op Operator) (string, time.Time, error) {
	now := s.now()
	expiresAt := now.Add(s.expiry)

	claims := JWTClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   op.Username,
			Audience:  jwt.ClaimStrings{s.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			NotBefore: jwt.NewNumericDate(now),
			ID:        generateTokenID(),
		},
		Role: op.Role,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.signingKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("signing access token: %w", err)
	}

	return signed, expiresAt, nil
}

// ValidateAccessToken validates a token and returns its claims.
func (s *JWTService) ValidateAccessToken(tokenString string) (*JWTClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.signingKey, nil
	}, jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithIssuer(s.issuer),
		jwt.WithAudience(s.audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrAccessTokenExpired
		}
		return nil, fmt.Errorf("%w: %s", ErrInvalidAccessToken, err.Error())
	}

	claims, ok := token.Claims.(*JWTClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidAccessToken
	}

	return claims, nil
}

func generateTokenID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return ""
	}
	return base64.RawURLEncoding.EncodeToString(b)
}
