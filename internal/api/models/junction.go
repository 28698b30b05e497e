package models

import "strings"

// Reason explains why the active phase was chosen.
type Reason struct {
	Tag             string `json:"tag"`
	Detail          string `json:"detail,omitempty"`
	PredictionBoost bool   `json:"predictionBoost"`
	Text            string `json:"text"`
}

// LaneStatus is one approach as seen by the controller.
type LaneStatus struct {
	Lane             string         `json:"lane"`
	Signal           Signal         `json:"signal"`
	Load             int            `json:"load"`
	Ambulance        bool           `json:"ambulance"`
	VehicleBreakdown map[string]int `json:"vehicleBreakdown,omitempty"`
	LastServedAt     *Timestamp     `json:"lastServedAt,omitempty"`
	WaitingSeconds   int            `json:"waitingSeconds"`
}

// Override is an active manual override.
type Override struct {
	Lane             string    `json:"lane"`
	Pair             string    `json:"pair"`
	Until            Timestamp `json:"until"`
	RemainingSeconds int       `json:"remainingSeconds"`
}

// JunctionState is the current phase and per-lane view of the junction.
type JunctionState struct {
	ActivePair       string       `json:"activePair"`
	Reason           Reason       `json:"reason"`
	DurationSeconds  int          `json:"durationSeconds"`
	RemainingSeconds int          `json:"remainingSeconds"`
	DecidedAt        *Timestamp   `json:"decidedAt,omitempty"`
	PhaseEndsAt      *Timestamp   `json:"phaseEndsAt,omitempty"`
	Override         *Override    `json:"override,omitempty"`
	Lanes            []LaneStatus `json:"lanes"`
}

// OverrideRequest asks the controller to hold a lane's pair green.
type OverrideRequest struct {
	Lane string `json:"lane"`
}

// Validate checks the request shape. Lane names are resolved by the handler.
func (r *OverrideRequest) Validate() []FieldError {
	if strings.TrimSpace(r.Lane) == "" {
		return []FieldError{{Field: "lane", Message: "lane is required", Code: "REQUIRED"}}
	}
	return nil
}

// Decision is a logged phase decision.
type Decision struct {
	ID           string    `json:"id"`
	Timestamp    Timestamp `json:"timestamp"`
	Pair         string    `json:"pair"`
	LoadScore    int       `json:"loadScore"`
	GreenSeconds int       `json:"greenSeconds"`
	Emergency    bool      `json:"emergency"`
	Reason       string    `json:"reason"`
	Hour         int       `json:"hour"`
	DayOfWeek    int       `json:"dayOfWeek"`
}

// DecisionList is a page of logged decisions, newest first.
type DecisionList struct {
	Items []Decision `json:"items"`
	Meta  ListMeta   `json:"meta"`
}

// Violation is a recorded red-light violation.
type Violation struct {
	ID            string    `json:"id"`
	Timestamp     Timestamp `json:"timestamp"`
	Lane          string    `json:"lane"`
	Type          string    `json:"type"`
	PenaltyAmount int       `json:"penaltyAmount"`
}

// ViolationList is a page of violations, newest first.
type ViolationList struct {
	Items []Violation `json:"items"`
	Meta  ListMeta    `json:"meta"`
}

// ViolationSummary totals every recorded violation.
type ViolationSummary struct {
	Count        int `json:"count"`
	TotalPenalty int `json:"totalPenalty"`
}

// ViolationsCleared reports how many violations were deleted.
type ViolationsCleared struct {
	Removed int64 `json:"removed"`
}

// Forecast is the expected load for one weekly slot.
type Forecast struct {
	DayOfWeek   int    `json:"dayOfWeek"`
	Day         string `json:"day"`
	Hour        int    `json:"hour"`
	AverageLoad int    `json:"averageLoad"`
	Level       string `json:"level"`
}

// Peak is one of the busiest historical slots.
type Peak struct {
	DayOfWeek   int     `json:"dayOfWeek"`
	Day         string  `json:"day"`
	Hour        int     `json:"hour"`
	AverageLoad float64 `json:"averageLoad"`
	Level       string  `json:"level"`
}

// PeakList lists the busiest slots of a pair.
type PeakList struct {
	Pair  string `json:"pair"`
	Items []Peak `json:"items"`
}

// LaneEfficiency compares adaptive green time with the fixed-cycle baseline.
type LaneEfficiency struct {
	Pair          string  `json:"pair"`
	AdaptiveGreen float64 `json:"adaptiveGreenSeconds"`
	FixedGreen    int     `json:"fixedGreenSeconds"`
	Difference    float64 `json:"differenceSeconds"`
	Samples       int     `json:"samples"`
}

// EfficiencyReport is the adaptive versus fixed-cycle comparison.
type EfficiencyReport struct {
	GeneratedAt Timestamp        `json:"generatedAt"`
	FixedGreen  int              `json:"fixedGreenSeconds"`
	Items       []LaneEfficiency `json:"items"`
}
