// Package resilience wraps calls to the junction's collaborators (detector
// service, log store) in circuit breakers, timeouts and retries, and tracks
// their health for the status endpoint.
package resilience

import (
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
)

// BreakerConfig holds configuration for a circuit breaker.
type BreakerConfig struct {
	// Name identifies the breaker in logs and the health registry.
	Name string

	// MaxRequests is the number of trial requests allowed while half-open.
	// Default: 1
	MaxRequests uint32

	// Interval clears the closed-state counts periodically. Zero never clears.
	Interval time.Duration

	// Timeout is how long the breaker stays open before probing again.
	// Default: 30 seconds
	Timeout time.Duration

	// MinRequests is the number of requests observed before the breaker may trip.
	// Default: 5
	MinRequests uint32

	// FailureRatio trips the breaker once reached.
	// Default: 0.5
	FailureRatio float64

	// Logger receives state transitions.
	Logger zerolog.Logger
}

// DefaultBreakerConfig returns the default breaker configuration.
func DefaultBreakerConfig(name string) BreakerConfig {
	return BreakerConfig{
		Name:         name,
		MaxRequests:  1,
		Timeout:      30 * time.Second,
		MinRequests:  5,
		FailureRatio: 0.5,
		Logger:       zerolog.Nop(),
	}
}

// NewBreaker creates a circuit breaker that trips once MinRequests calls have
// been seen and the failure ratio reaches FailureRatio.
func NewBreaker[T any](cfg BreakerConfig) *gobreaker.CircuitBreaker[T] {
	if cfg.MinRequests == 0 {
		cfg.MinRequests = 5
	}
	if cfg.FailureRatio <= 0 {
		cfg.FailureRatio = 0.5
	}
	logger := cfg.Logger

	return gobreaker.NewCircuitBreaker[T](gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= cfg.FailureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state changed")
		},
	})
}
