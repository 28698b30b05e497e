// Package vision adapts per-lane vehicle detections into junction snapshots.
// Object detection itself happens outside this process; the feeds here either
// simulate it or poll a detector service.
package vision

import (
	"context"

	"github.com/samber/lo"

	"github.com/junctionflow/junctionflow/internal/junction"
)

// Feed produces one snapshot per lane for each decision cycle.
type Feed interface {
	Snapshots(ctx context.Context) (junction.Snapshots, error)
}

// LoadPerUnit converts weighted vehicle units into load score points.
const LoadPerUnit = 4

// categoryWeight is the number of load units each vehicle category occupies.
var categoryWeight = map[string]int{
	junction.VehicleCar:      1,
	junction.VehicleBike:     1,
	junction.VehicleRickshaw: 1,
	junction.VehicleHeavy:    2,
}

// LoadScore converts a vehicle breakdown into a load score in [0, 100].
// Unknown categories count as one unit.
func LoadScore(b junction.VehicleBreakdown) int {
	units := lo.SumBy(lo.Entries(b), func(e lo.Entry[string, int]) int {
		if e.Value <= 0 {
			return 0
		}
		w, ok := categoryWeight[e.Key]
		if !ok {
			w = 1
		}
		return e.Value * w
	})
	return junction.ClampLoad(units * LoadPerUnit)
}
