// Package prediction estimates junction load from the historical log.
package prediction

import (
	"errors"
	"time"
)

// Prediction errors.
var (
	ErrEstimatorUnavailable = errors.New("historical load estimator unavailable")
	ErrInvalidKey           = errors.New("invalid day/hour key")
)

// TrafficLevel is a coarse label for an average load.
type TrafficLevel string

const (
	LevelLow      TrafficLevel = "LOW"
	LevelModerate TrafficLevel = "MODERATE"
	LevelHigh     TrafficLevel = "HIGH"
)

// Level thresholds on the average load score.
const (
	ModerateAbove = 20
	HighAbove     = 45
)

// Level classifies an average load.
func Level(avg float64) TrafficLevel {
	switch {
	case avg > HighAbove:
		return LevelHigh
	case avg > ModerateAbove:
		return LevelModerate
	default:
		return LevelLow
	}
}

// Forecast is the expected load for one (day-of-week, hour) slot.
type Forecast struct {
	DayOfWeek   int          `json:"day_of_week"`
	Day         string       `json:"day"`
	Hour        int          `json:"hour"`
	AverageLoad int          `json:"average_load"`
	Level       TrafficLevel `json:"level"`
}

// Peak is one of the busiest historical slots for a lane.
type Peak struct {
	DayOfWeek   int          `json:"day_of_week"`
	Day         string       `json:"day"`
	Hour        int          `json:"hour"`
	AverageLoad float64      `json:"average_load"`
	Level       TrafficLevel `json:"level"`
}

// DayName returns the English name of a Monday-based day index.
func DayName(dayOfWeek int) string {
	return time.Weekday((dayOfWeek + 1) % 7).String()
}

// ValidKey reports whether day is in 0..6 and hour in 0..23.
func ValidKey(dayOfWeek, hour int) bool {
	return dayOfWeek >= 0 && dayOfWeek <= 6 && hour >= 0 && hour <= 23
}
