package vision

import (
	"context"
	"math/rand/v2"
	"sync"

	"github.com/junctionflow/junctionflow/internal/junction"
)

// SimulatedConfig holds configuration for the simulated feed.
type SimulatedConfig struct {
	// Seed makes runs reproducible.
	Seed uint64

	// MaxPerCategory bounds the vehicles of one category on a lane per frame.
	// Default: 6
	MaxPerCategory int

	// AmbulanceRate is the per-frame chance that an ambulance appears on a lane.
	// Default: 0.01
	AmbulanceRate float64

	// AmbulanceFrames is how many frames an appearing ambulance stays visible.
	// Default: 8
	AmbulanceFrames int

	// SmoothingWindow and SmoothingThreshold configure ambulance confirmation.
	SmoothingWindow    int
	SmoothingThreshold int
}

// DefaultSimulatedConfig returns the default simulation settings.
func DefaultSimulatedConfig() SimulatedConfig {
	return SimulatedConfig{
		Seed:               1,
		MaxPerCategory:     6,
		AmbulanceRate:      0.01,
		AmbulanceFrames:    8,
		SmoothingWindow:    DefaultSmoothingWindow,
		SmoothingThreshold: DefaultSmoothingThreshold,
	}
}

// SimulatedFeed generates pseudo-random traffic for every lane.
type SimulatedFeed struct {
	cfg SimulatedConfig

	mu        sync.Mutex
	rng       *rand.Rand
	smoothers map[junction.LaneID]*AmbulanceSmoother
	ambulance map[junction.LaneID]int
}

var _ Feed = (*SimulatedFeed)(nil)

// NewSimulatedFeed creates a simulated feed.
func NewSimulatedFeed(cfg SimulatedConfig) *SimulatedFeed {
	defaults := DefaultSimulatedConfig()
	if cfg.MaxPerCategory <= 0 {
		cfg.MaxPerCategory = defaults.MaxPerCategory
	}
	if cfg.AmbulanceFrames <= 0 {
		cfg.AmbulanceFrames = defaults.AmbulanceFrames
	}

	smoothers := make(map[junction.LaneID]*AmbulanceSmoother, 4)
	for _, lane := range junction.Lanes() {
		smoothers[lane] = NewAmbulanceSmoother(cfg.SmoothingWindow, cfg.SmoothingThreshold)
	}

	return &SimulatedFeed{
		cfg:       cfg,
		rng:       rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15)),
		smoothers: smoothers,
		ambulance: make(map[junction.LaneID]int, 4),
	}
}

// Snapshots generates one frame for every lane.
func (f *SimulatedFeed) Snapshots(ctx context.Context) (junction.Snapshots, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	out := make(junction.Snapshots, 4)
	for _, lane := range junction.Lanes() {
		breakdown := junction.VehicleBreakdown{
			junction.VehicleCar:      f.rng.IntN(f.cfg.MaxPerCategory + 1),
			junction.VehicleBike:     f.rng.IntN(f.cfg.MaxPerCategory + 1),
			junction.VehicleHeavy:    f.rng.IntN(f.cfg.MaxPerCategory/2 + 1),
			junction.VehicleRickshaw: f.rng.IntN(f.cfg.MaxPerCategory/2 + 1),
		}

		if f.ambulance[lane] == 0 && f.rng.Float64() < f.cfg.AmbulanceRate {
			f.ambulance[lane] = f.cfg.AmbulanceFrames
		}
		seen := f.ambulance[lane] > 0
		if seen {
			f.ambulance[lane]--
		}

		out[lane] = junction.LaneSnapshot{
			Load:             LoadScore(breakdown),
			AmbulancePresent: f.smoothers[lane].Observe(seen),
			VehicleBreakdown: breakdown,
		}
	}
	return out, nil
}
