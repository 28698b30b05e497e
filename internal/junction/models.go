// Package junction defines the shared data model of a four-way signalised junction.
package junction

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/samber/lo"
)

// Model errors.
var (
	ErrUnknownLane = errors.New("unknown lane")
	ErrUnknownPair = errors.New("unknown lane pair")
)

// LaneID identifies one of the four cardinal approaches.
type LaneID string

const (
	North LaneID = "North"
	South LaneID = "South"
	East  LaneID = "East"
	West  LaneID = "West"
)

// Lanes returns every lane in scan order. Scan order is the tie-break order
// used throughout phase selection.
func Lanes() []LaneID {
	return []LaneID{North, South, East, West}
}

// ParseLaneID parses a lane name case-insensitively.
func ParseLaneID(s string) (LaneID, error) {
	for _, lane := range Lanes() {
		if strings.EqualFold(strings.TrimSpace(s), string(lane)) {
			return lane, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownLane, s)
}

// LanePair is a signal phase: two opposite lanes served together, or all-stop.
type LanePair string

const (
	PairNS     LanePair = "NS"
	PairEW     LanePair = "EW"
	PairAllRed LanePair = "ALL_RED"
)

// PairOf returns the pair a lane belongs to.
func PairOf(lane LaneID) LanePair {
	if lane == North || lane == South {
		return PairNS
	}
	return PairEW
}

// ParseLanePair parses a pair name case-insensitively.
func ParseLanePair(s string) (LanePair, error) {
	for _, pair := range []LanePair{PairNS, PairEW, PairAllRed} {
		if strings.EqualFold(strings.TrimSpace(s), string(pair)) {
			return pair, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownPair, s)
}

// Lanes returns the member lanes of the pair. ALL_RED has none.
func (p LanePair) Lanes() []LaneID {
	switch p {
	case PairNS:
		return []LaneID{North, South}
	case PairEW:
		return []LaneID{East, West}
	default:
		return nil
	}
}

// Contains reports whether lane is served by the pair.
func (p LanePair) Contains(lane LaneID) bool {
	return lo.Contains(p.Lanes(), lane)
}

// Vehicle categories reported by the vision pipeline.
const (
	VehicleCar      = "car"
	VehicleBike     = "bike"
	VehicleHeavy    = "heavy"
	VehicleRickshaw = "rickshaw"
)

// VehicleBreakdown maps a vehicle category to its count. It is informational
// and never feeds the phase decision.
type VehicleBreakdown map[string]int

// Total returns the number of vehicles across all categories.
func (b VehicleBreakdown) Total() int {
	return lo.Sum(lo.Values(b))
}

// Load score bounds.
const (
	MinLoad = 0
	MaxLoad = 100
)

// LaneSnapshot is one lane's sensor reading for a decision cycle.
type LaneSnapshot struct {
	Load             int              `json:"load"`
	AmbulancePresent bool             `json:"ambulance"`
	VehicleBreakdown VehicleBreakdown `json:"vehicle_breakdown,omitempty"`
}

// Snapshots holds one snapshot per lane for a single cycle.
type Snapshots map[LaneID]LaneSnapshot

// Get returns the snapshot for lane. A missing lane reads as zero load with no
// ambulance.
func (s Snapshots) Get(lane LaneID) LaneSnapshot {
	if snap, ok := s[lane]; ok {
		return snap
	}
	return LaneSnapshot{}
}

// Normalize returns a complete four-lane copy with loads clamped to [0, 100].
// Unknown lane keys are dropped.
func (s Snapshots) Normalize() Snapshots {
	out := make(Snapshots, 4)
	for _, lane := range Lanes() {
		snap := s.Get(lane)
		snap.Load = ClampLoad(snap.Load)
		if snap.VehicleBreakdown != nil {
			snap.VehicleBreakdown = lo.Assign(snap.VehicleBreakdown)
		}
		out[lane] = snap
	}
	return out
}

// PairLoad returns the summed load of the lanes served by pair.
func (s Snapshots) PairLoad(pair LanePair) int {
	return lo.SumBy(pair.Lanes(), func(lane LaneID) int {
		return s.Get(lane).Load
	})
}

// AnyAmbulance reports whether any lane reports an emergency vehicle.
func (s Snapshots) AnyAmbulance() bool {
	return lo.SomeBy(Lanes(), func(lane LaneID) bool {
		return s.Get(lane).AmbulancePresent
	})
}

// ClampLoad bounds a load score to [MinLoad, MaxLoad].
func ClampLoad(load int) int {
	return max(MinLoad, min(load, MaxLoad))
}

// ReasonTag classifies why a phase was chosen.
type ReasonTag string

const (
	ReasonEmergency  ReasonTag = "EMERGENCY"
	ReasonStarvation ReasonTag = "STARVATION"
	ReasonDensity    ReasonTag = "DENSITY"
	ReasonNoTraffic  ReasonTag = "NO_TRAFFIC"
	ReasonOverride   ReasonTag = "MANUAL_OVERRIDE"
)

// Reason explains a phase decision. Consumers branch on Tag; Detail is for humans.
type Reason struct {
	Tag             ReasonTag `json:"tag"`
	Detail          string    `json:"detail,omitempty"`
	PredictionBoost bool      `json:"prediction_boost,omitempty"`
}

// String renders the reason as "TAG: detail".
func (r Reason) String() string {
	if r.Detail == "" {
		return string(r.Tag)
	}
	return string(r.Tag) + ": " + r.Detail
}

// PhaseDecision is the engine output for one cycle.
type PhaseDecision struct {
	ActivePair      LanePair  `json:"active_pair"`
	DurationSeconds int       `json:"duration_seconds"`
	Reason          Reason    `json:"reason"`
	DecidedAt       time.Time `json:"decided_at"`
}

// Duration returns the green time as a time.Duration.
func (d PhaseDecision) Duration() time.Duration {
	return time.Duration(d.DurationSeconds) * time.Second
}

// IsGreen reports whether lane is served by the decision.
func (d PhaseDecision) IsGreen(lane LaneID) bool {
	return d.ActivePair.Contains(lane)
}

// DayOfWeek returns the day index used by the historical log: Monday is 0 and
// Sunday is 6.
func DayOfWeek(t time.Time) int {
	return (int(t.Weekday()) + 6) % 7
}
