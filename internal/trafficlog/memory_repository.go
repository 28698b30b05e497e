package trafficlog

import (
	"context"
	"sort"
	"sync"

	"github.com/samber/lo"
)

// InMemoryRepository is an in-memory implementation of Repository.
// This is intended for testing. Production should use SQLiteRepository or
// PostgresRepository.
type InMemoryRepository struct {
	mu         sync.RWMutex
	signals    []SignalLog
	violations []Violation
}

// NewInMemoryRepository creates a new in-memory log store.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{}
}

var _ Repository = (*InMemoryRepository)(nil)

// LogSignal appends a phase decision.
func (r *InMemoryRepository) LogSignal(_ context.Context, entry *SignalLog) error {
	if err := prepareSignal(entry); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.signals = append(r.signals, *entry)
	return nil
}

// LogViolation appends a violation.
func (r *InMemoryRepository) LogViolation(_ context.Context, v *Violation) error {
	if err := prepareViolation(v); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.violations = append(r.violations, *v)
	return nil
}

// AverageLoad returns the mean load logged for a slot.
func (r *InMemoryRepository) AverageLoad(_ context.Context, dayOfWeek, hour int) (float64, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	matching := lo.Filter(r.signals, func(s SignalLog, _ int) bool {
		return s.DayOfWeek == dayOfWeek && s.Hour == hour
	})
	if len(matching) == 0 {
		return 0, false, nil
	}

	total := lo.SumBy(matching, func(s SignalLog) int { return s.LoadScore })
	return float64(total) / float64(len(matching)), true, nil
}

// PeakSlots returns the busiest slots for lane.
func (r *InMemoryRepository) PeakSlots(_ context.Context, lane string, limit int) ([]PeakSlot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	type slotKey struct{ day, hour int }
	groups := lo.GroupBy(
		lo.Filter(r.signals, func(s SignalLog, _ int) bool { return s.Lane == lane }),
		func(s SignalLog) slotKey { return slotKey{s.DayOfWeek, s.Hour} },
	)

	slots := make([]PeakSlot, 0, len(groups))
	for key, rows := range groups {
		total := lo.SumBy(rows, func(s SignalLog) int { return s.LoadScore })
		slots = append(slots, PeakSlot{
			DayOfWeek:   key.day,
			Hour:        key.hour,
			AverageLoad: float64(total) / float64(len(rows)),
		})
	}

	sort.Slice(slots, func(i, j int) bool {
		if slots[i].AverageLoad != slots[j].AverageLoad {
			return slots[i].AverageLoad > slots[j].AverageLoad
		}
		if slots[i].DayOfWeek != slots[j].DayOfWeek {
			return slots[i].DayOfWeek < slots[j].DayOfWeek
		}
		return slots[i].Hour < slots[j].Hour
	})

	if limit > 0 && len(slots) > limit {
		slots = slots[:limit]
	}
	return slots, nil
}

// ListSignals returns logged decisions, newest first.
func (r *InMemoryRepository) ListSignals(_ context.Context, limit int) ([]SignalLog, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := newestFirst(r.signals, func(s SignalLog) int64 { return s.Timestamp.UnixNano() })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ListViolations returns violations, newest first.
func (r *InMemoryRepository) ListViolations(_ context.Context, limit int) ([]Violation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := newestFirst(r.violations, func(v Violation) int64 { return v.Timestamp.UnixNano() })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ViolationSummary returns the violation count and total penalty.
func (r *InMemoryRepository) ViolationSummary(_ context.Context) (ViolationTotals, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return ViolationTotals{
		Count:        len(r.violations),
		TotalPenalty: lo.SumBy(r.violations, func(v Violation) int { return v.PenaltyAmount }),
	}, nil
}

// AverageGreenByLane returns the mean green time per logged lane.
func (r *InMemoryRepository) AverageGreenByLane(_ context.Context) ([]LaneGreen, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	groups := lo.GroupBy(r.signals, func(s SignalLog) string { return s.Lane })
	lanes := lo.Keys(groups)
	sort.Strings(lanes)

	out := make([]LaneGreen, 0, len(lanes))
	for _, lane := range lanes {
		rows := groups[lane]
		total := lo.SumBy(rows, func(s SignalLog) int { return s.GreenSeconds })
		out = append(out, LaneGreen{
			Lane:         lane,
			AverageGreen: float64(total) / float64(len(rows)),
			Samples:      len(rows),
		})
	}
	return out, nil
}

// ClearViolations deletes every violation.
func (r *InMemoryRepository) ClearViolations(_ context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := int64(len(r.violations))
	r.violations = nil
	return n, nil
}

// Ping always succeeds.
func (r *InMemoryRepository) Ping(_ context.Context) error {
	return nil
}

// newestFirst returns a copy of items sorted by descending timestamp, keeping
// insertion order reversed on ties.
func newestFirst[T any](items []T, ts func(T) int64) []T {
	out := lo.Reverse(append([]T(nil), items...))
	sort.SliceStable(out, func(i, j int) bool {
		return ts(out[i]) > ts(out[j])
	})
	return out
}
