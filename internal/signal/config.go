// Package signal implements the phase decision engine of a four-way junction.
package signal

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidConfiguration is returned when engine timings are inconsistent.
var ErrInvalidConfiguration = errors.New("invalid engine configuration")

// EngineConfig holds the fixed timings of the phase decision engine.
type EngineConfig struct {
	// MinGreen is the lower bound of any green phase.
	// Default: 5 seconds
	MinGreen time.Duration `yaml:"min_green"`

	// MaxGreen is the upper bound of any green phase.
	// Default: 90 seconds
	MaxGreen time.Duration `yaml:"max_green"`

	// StarvationLimit is how long a loaded lane may stay red before it is released.
	// Default: 120 seconds
	StarvationLimit time.Duration `yaml:"starvation_limit"`

	// StarvationRelease is the fixed green granted to a starved lane.
	// Default: 20 seconds
	StarvationRelease time.Duration `yaml:"starvation_release"`

	// EmergencyGreen is the green corridor granted for an emergency vehicle.
	// Default: 60 seconds
	EmergencyGreen time.Duration `yaml:"emergency_green"`

	// DensityTimeFactor is green seconds per unit of summed pair load.
	// Default: 1.5
	DensityTimeFactor float64 `yaml:"density_time_factor"`

	// PredictionLoadThreshold is the historical average above which green is boosted.
	// Default: 40
	PredictionLoadThreshold int `yaml:"prediction_load_threshold"`

	// PredictionBoost is added to a density phase when history predicts heavy load.
	// Default: 10 seconds
	PredictionBoost time.Duration `yaml:"prediction_boost"`

	// AllRed is the all-stop duration when no lane has traffic.
	// Default: 2 seconds
	AllRed time.Duration `yaml:"all_red"`

	// PredictionTimeout bounds the historical load query.
	// Default: 250ms
	PredictionTimeout time.Duration `yaml:"prediction_timeout"`
}

// DefaultEngineConfig returns the default engine timings.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		MinGreen:                5 * time.Second,
		MaxGreen:                90 * time.Second,
		StarvationLimit:         120 * time.Second,
		StarvationRelease:       20 * time.Second,
		EmergencyGreen:          60 * time.Second,
		DensityTimeFactor:       1.5,
		PredictionLoadThreshold: 40,
		PredictionBoost:         10 * time.Second,
		AllRed:                  2 * time.Second,
		PredictionTimeout:       250 * time.Millisecond,
	}
}

// Validate checks the configuration for inconsistencies.
func (c EngineConfig) Validate() error {
	switch {
	case c.MinGreen <= 0:
		return invalid("min green must be positive, got %s", c.MinGreen)
	case c.MinGreen > c.MaxGreen:
		return invalid("min green %s exceeds max green %s", c.MinGreen, c.MaxGreen)
	case c.StarvationLimit <= 0:
		return invalid("starvation limit must be positive, got %s", c.StarvationLimit)
	case !c.withinGreen(c.StarvationRelease):
		return invalid("starvation release %s outside [%s, %s]", c.StarvationRelease, c.MinGreen, c.MaxGreen)
	case !c.withinGreen(c.EmergencyGreen):
		return invalid("emergency green %s outside [%s, %s]", c.EmergencyGreen, c.MinGreen, c.MaxGreen)
	case c.DensityTimeFactor <= 0:
		return invalid("density time factor must be positive, got %v", c.DensityTimeFactor)
	case c.PredictionLoadThreshold < 0:
		return invalid("prediction load threshold must not be negative, got %d", c.PredictionLoadThreshold)
	case c.PredictionBoost < 0:
		return invalid("prediction boost must not be negative, got %s", c.PredictionBoost)
	case c.AllRed <= 0:
		return invalid("all red must be positive, got %s", c.AllRed)
	case c.PredictionTimeout <= 0:
		return invalid("prediction timeout must be positive, got %s", c.PredictionTimeout)
	}
	return nil
}

func (c EngineConfig) withinGreen(d time.Duration) bool {
	return d >= c.MinGreen && d <= c.MaxGreen
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfiguration, fmt.Sprintf(format, args...))
}

func seconds(d time.Duration) int {
	return int(d / time.Second)
}
