package trafficlog

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// HistoryReader answers historical load queries.
type HistoryReader interface {
	// AverageLoad returns the mean load score logged for a (day-of-week, hour)
	// key. ok is false when nothing was logged for the key.
	AverageLoad(ctx context.Context, dayOfWeek, hour int) (avg float64, ok bool, err error)

	// PeakSlots returns the busiest slots for lane, highest average first.
	PeakSlots(ctx context.Context, lane string, limit int) ([]PeakSlot, error)
}

// Repository defines the interface for the log store.
type Repository interface {
	HistoryReader

	// LogSignal appends a phase decision. An empty ID is assigned.
	LogSignal(ctx context.Context, entry *SignalLog) error

	// LogViolation appends a violation. An empty ID is assigned.
	LogViolation(ctx context.Context, v *Violation) error

	// ListSignals returns logged decisions, newest first. A limit <= 0 returns all.
	ListSignals(ctx context.Context, limit int) ([]SignalLog, error)

	// ListViolations returns violations, newest first. A limit <= 0 returns all.
	ListViolations(ctx context.Context, limit int) ([]Violation, error)

	// ViolationSummary returns the violation count and total penalty.
	ViolationSummary(ctx context.Context) (ViolationTotals, error)

	// AverageGreenByLane returns the mean green time per logged lane, ordered by lane.
	AverageGreenByLane(ctx context.Context) ([]LaneGreen, error)

	// ClearViolations deletes every violation and returns how many were removed.
	ClearViolations(ctx context.Context) (int64, error)

	// Ping checks the store is reachable.
	Ping(ctx context.Context) error
}

func prepareSignal(entry *SignalLog) error {
	if entry == nil {
		return fmt.Errorf("%w: nil signal log", ErrInvalidEntry)
	}
	entry.Lane = strings.TrimSpace(entry.Lane)
	if entry.Lane == "" {
		return fmt.Errorf("%w: lane is required", ErrInvalidEntry)
	}
	if entry.Hour < 0 || entry.Hour > 23 || entry.DayOfWeek < 0 || entry.DayOfWeek > 6 {
		return fmt.Errorf("%w: slot (%d, %d) out of range", ErrInvalidEntry, entry.DayOfWeek, entry.Hour)
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	entry.Timestamp = entry.Timestamp.UTC()
	return nil
}

func prepareViolation(v *Violation) error {
	if v == nil {
		return fmt.Errorf("%w: nil violation", ErrInvalidEntry)
	}
	v.Lane = strings.TrimSpace(v.Lane)
	if v.Lane == "" {
		return fmt.Errorf("%w: lane is required", ErrInvalidEntry)
	}
	if v.Type == "" {
		v.Type = ViolationRedLight
	}
	if v.ID == "" {
		v.ID = uuid.NewString()
	}
	if v.Timestamp.IsZero() {
		v.Timestamp = time.Now()
	}
	v.Timestamp = v.Timestamp.UTC()
	return nil
}
