// Package trafficlog persists phase decisions and violations and answers the
// historical queries behind load prediction and reporting.
package trafficlog

import (
	"errors"
	"time"
)

// Store errors.
var (
	ErrNotConfigured = errors.New("log store is not configured")
	ErrInvalidEntry  = errors.New("invalid log entry")
)

// ViolationRedLight is the violation type recorded when a loaded lane is held red.
const ViolationRedLight = "Red Light Violation"

// SignalLog is one persisted phase decision.
type SignalLog struct {
	ID           string    `json:"id"`
	Timestamp    time.Time `json:"timestamp"`
	Lane         string    `json:"lane"`
	LoadScore    int       `json:"load_score"`
	GreenSeconds int       `json:"green_seconds"`
	Emergency    bool      `json:"emergency"`
	Reason       string    `json:"reason"`
	Hour         int       `json:"hour"`
	DayOfWeek    int       `json:"day_of_week"`
}

// Violation is one captured traffic violation.
type Violation struct {
	ID            string    `json:"id"`
	Timestamp     time.Time `json:"timestamp"`
	Lane          string    `json:"lane"`
	Type          string    `json:"type"`
	PenaltyAmount int       `json:"penalty_amount"`
	SnapshotPath  string    `json:"snapshot_path,omitempty"`
}

// PeakSlot is the average logged load of one (day-of-week, hour) slot.
type PeakSlot struct {
	DayOfWeek   int     `json:"day_of_week"`
	Hour        int     `json:"hour"`
	AverageLoad float64 `json:"average_load"`
}

// LaneGreen is the average green time granted to a logged lane or pair.
type LaneGreen struct {
	Lane         string  `json:"lane"`
	AverageGreen float64 `json:"average_green_seconds"`
	Samples      int     `json:"samples"`
}

// ViolationTotals summarises all recorded violations.
type ViolationTotals struct {
	Count        int `json:"count"`
	TotalPenalty int `json:"total_penalty"`
}
