package prediction

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"github.com/sony/gobreaker/v2"

	"github.com/junctionflow/junctionflow/internal/resilience"
	"github.com/junctionflow/junctionflow/internal/signal"
	"github.com/junctionflow/junctionflow/internal/trafficlog"
)

// BreakerName is the registry name of the log store breaker.
const BreakerName = "log-store"

// DefaultPeakLimit is the number of peak slots returned when no limit is given.
const DefaultPeakLimit = 5

// Config holds configuration for the prediction service.
type Config struct {
	// CacheTTL is how long an average is reused per key. Zero disables caching.
	// Default: 1 minute
	CacheTTL time.Duration

	// Breaker guards the log store.
	Breaker resilience.BreakerConfig

	// Registry, when set, tracks the log store breaker.
	Registry *resilience.Registry

	// Clock returns the current time for cache expiry. Nil uses time.Now.
	Clock func() time.Time

	Logger zerolog.Logger
}

// DefaultConfig returns the default prediction configuration.
func DefaultConfig() Config {
	return Config{
		CacheTTL: time.Minute,
		Breaker:  resilience.DefaultBreakerConfig(BreakerName),
		Logger:   zerolog.Nop(),
	}
}

type slotKey struct {
	day, hour int
}

type cachedAverage struct {
	avg       int
	expiresAt time.Time
}

// Service answers historical load queries for the engine and the API.
type Service struct {
	history  trafficlog.HistoryReader
	name     string
	breaker  *gobreaker.CircuitBreaker[any]
	registry *resilience.Registry
	ttl      time.Duration
	logger   zerolog.Logger
	now      func() time.Time

	mu    sync.Mutex
	cache map[slotKey]cachedAverage
}

var _ signal.LoadPredictor = (*Service)(nil)

// NewService creates a prediction service over the given history.
func NewService(history trafficlog.HistoryReader, cfg Config) *Service {
	if cfg.Breaker.Name == "" {
		cfg.Breaker = resilience.DefaultBreakerConfig(BreakerName)
	}
	cfg.Breaker.Logger = cfg.Logger
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}

	breaker := resilience.NewBreaker[any](cfg.Breaker)
	if cfg.Registry != nil {
		cfg.Registry.Register(cfg.Breaker.Name, breaker)
	}

	return &Service{
		history:  history,
		name:     cfg.Breaker.Name,
		breaker:  breaker,
		registry: cfg.Registry,
		ttl:      cfg.CacheTTL,
		logger:   cfg.Logger,
		now:      cfg.Clock,
		cache:    make(map[slotKey]cachedAverage),
	}
}

// PredictLoad returns the truncated mean load logged for the key, or 0 when
// nothing was logged. Store failures return 0 and an error wrapping
// ErrEstimatorUnavailable.
func (s *Service) PredictLoad(ctx context.Context, dayOfWeek, hour int) (int, error) {
	if !ValidKey(dayOfWeek, hour) {
		return 0, fmt.Errorf("%w: day %d hour %d", ErrInvalidKey, dayOfWeek, hour)
	}

	key := slotKey{dayOfWeek, hour}
	if avg, ok := s.cached(key); ok {
		return avg, nil
	}

	result, err := s.execute(func() (any, error) {
		avg, _, err := s.history.AverageLoad(ctx, dayOfWeek, hour)
		return avg, err
	})
	if err != nil {
		return 0, err
	}

	avg := int(result.(float64))
	s.store(key, avg)
	return avg, nil
}

// Forecast returns the expected load and level for a slot.
func (s *Service) Forecast(ctx context.Context, dayOfWeek, hour int) (Forecast, error) {
	avg, err := s.PredictLoad(ctx, dayOfWeek, hour)
	if err != nil {
		return Forecast{}, err
	}
	return Forecast{
		DayOfWeek:   dayOfWeek,
		Day:         DayName(dayOfWeek),
		Hour:        hour,
		AverageLoad: avg,
		Level:       Level(float64(avg)),
	}, nil
}

// PeakSlots returns the busiest historical slots for a logged lane or pair.
func (s *Service) PeakSlots(ctx context.Context, lane string, limit int) ([]Peak, error) {
	if limit <= 0 {
		limit = DefaultPeakLimit
	}

	result, err := s.execute(func() (any, error) {
		return s.history.PeakSlots(ctx, lane, limit)
	})
	if err != nil {
		return nil, err
	}

	return lo.Map(result.([]trafficlog.PeakSlot), func(p trafficlog.PeakSlot, _ int) Peak {
		return Peak{
			DayOfWeek:   p.DayOfWeek,
			Day:         DayName(p.DayOfWeek),
			Hour:        p.Hour,
			AverageLoad: p.AverageLoad,
			Level:       Level(p.AverageLoad),
		}
	}), nil
}

func (s *Service) execute(fn func() (any, error)) (any, error) {
	result, err := s.breaker.Execute(fn)
	if err != nil {
		if s.registry != nil {
			s.registry.RecordFailure(s.name, err)
		}
		return nil, fmt.Errorf("%w: %w", ErrEstimatorUnavailable, err)
	}
	if s.registry != nil {
		s.registry.RecordSuccess(s.name)
	}
	return result, nil
}

func (s *Service) cached(key slotKey) (int, bool) {
	if s.ttl <= 0 {
		return 0, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.cache[key]
	if !ok || !s.now().Before(entry.expiresAt) {
		return 0, false
	}
	return entry.avg, true
}

func (s *Service) store(key slotKey, avg int) {
	if s.ttl <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache[key] = cachedAverage{avg: avg, expiresAt: s.now().Add(s.ttl)}
}
