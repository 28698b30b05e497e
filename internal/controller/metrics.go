package controller

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/junctionflow/junctionflow/internal/junction"
)

const meterName = "github.com/junctionflow/junctionflow/internal/controller"

// Metrics tracks control loop statistics.
type Metrics struct {
	mu sync.RWMutex

	// Counters
	Ticks          int64
	Decisions      int64
	DecisionsByTag map[junction.ReasonTag]int64
	Preemptions    int64
	Violations     int64
	FeedErrors     int64
	Overrides      int64

	// Timings
	LastTickAt     time.Time
	LastDecisionAt time.Time
}

type instruments struct {
	decisions  metric.Int64Counter
	violations metric.Int64Counter
	feedErrors metric.Int64Counter
	green      metric.Int64Histogram
}

func newInstruments() (*instruments, error) {
	meter := otel.Meter(meterName)

	decisions, err := meter.Int64Counter(
		"junction.phase.decisions",
		metric.WithDescription("Phase decisions by reason"),
		metric.WithUnit("{decision}"),
	)
	if err != nil {
		return nil, err
	}

	violations, err := meter.Int64Counter(
		"junction.violations",
		metric.WithDescription("Red-light violations captured"),
		metric.WithUnit("{violation}"),
	)
	if err != nil {
		return nil, err
	}

	feedErrors, err := meter.Int64Counter(
		"junction.feed.errors",
		metric.WithDescription("Failed snapshot reads"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	green, err := meter.Int64Histogram(
		"junction.phase.green",
		metric.WithDescription("Green time granted per decision"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return &instruments{
		decisions:  decisions,
		violations: violations,
		feedErrors: feedErrors,
		green:      green,
	}, nil
}

func (c *Controller) recordTick(now time.Time) {
	c.metrics.mu.Lock()
	defer c.metrics.mu.Unlock()
	c.metrics.Ticks++
	c.metrics.LastTickAt = now
}

func (c *Controller) recordDecision(ctx context.Context, d junction.PhaseDecision, preempted bool) {
	c.metrics.mu.Lock()
	c.metrics.Decisions++
	c.metrics.DecisionsByTag[d.Reason.Tag]++
	if preempted {
		c.metrics.Preemptions++
	}
	c.metrics.LastDecisionAt = d.DecidedAt
	c.metrics.mu.Unlock()

	attrs := metric.WithAttributes(
		attribute.String("reason", string(d.Reason.Tag)),
		attribute.String("pair", string(d.ActivePair)),
	)
	c.instruments.decisions.Add(ctx, 1, attrs)
	c.instruments.green.Record(ctx, int64(d.DurationSeconds), attrs)
}

func (c *Controller) recordViolation(ctx context.Context, lane junction.LaneID) {
	c.metrics.mu.Lock()
	c.metrics.Violations++
	c.metrics.mu.Unlock()

	c.instruments.violations.Add(ctx, 1, metric.WithAttributes(attribute.String("lane", string(lane))))
}

func (c *Controller) recordFeedError(ctx context.Context) {
	c.metrics.mu.Lock()
	c.metrics.FeedErrors++
	c.metrics.mu.Unlock()

	c.instruments.feedErrors.Add(ctx, 1)
}

func (c *Controller) recordOverride() {
	c.metrics.mu.Lock()
	c.metrics.Overrides++
	c.metrics.mu.Unlock()
}

// GetMetrics returns a copy of the current metrics.
func (c *Controller) GetMetrics() Metrics {
	c.metrics.mu.RLock()
	defer c.metrics.mu.RUnlock()

	byTag := make(map[junction.ReasonTag]int64, len(c.metrics.DecisionsByTag))
	for tag, n := range c.metrics.DecisionsByTag {
		byTag[tag] = n
	}

	return Metrics{
		Ticks:          c.metrics.Ticks,
		Decisions:      c.metrics.Decisions,
		DecisionsByTag: byTag,
		Preemptions:    c.metrics.Preemptions,
		Violations:     c.metrics.Violations,
		FeedErrors:     c.metrics.FeedErrors,
		Overrides:      c.metrics.Overrides,
		LastTickAt:     c.metrics.LastTickAt,
		LastDecisionAt: c.metrics.LastDecisionAt,
	}
}

// LastTickAt returns when the loop last ticked, or the zero time.
func (c *Controller) LastTickAt() time.Time {
	c.metrics.mu.RLock()
	defer c.metrics.mu.RUnlock()
	return c.metrics.LastTickAt
}

// MetricsSnapshot returns a snapshot of the current metrics as a map.
func (c *Controller) MetricsSnapshot() map[string]interface{} {
	m := c.GetMetrics()
	byTag := make(map[string]int64, len(m.DecisionsByTag))
	for tag, n := range m.DecisionsByTag {
		byTag[string(tag)] = n
	}

	snapshot := map[string]interface{}{
		"ticks":            m.Ticks,
		"decisions":        m.Decisions,
		"decisions_by_tag": byTag,
		"preemptions":      m.Preemptions,
		"violations":       m.Violations,
		"feed_errors":      m.FeedErrors,
		"overrides":        m.Overrides,
		"last_tick_at":     m.LastTickAt,
		"last_decision_at": m.LastDecisionAt,
	}
	if c.recorder != nil {
		snapshot["log_store"] = c.recorder.Stats()
	}
	return snapshot
}
