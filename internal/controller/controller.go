package controller

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/junctionflow/junctionflow/internal/junction"
	"github.com/junctionflow/junctionflow/internal/signal"
	"github.com/junctionflow/junctionflow/internal/trafficlog"
	"github.com/junctionflow/junctionflow/internal/vision"
)

// Options holds the collaborators of a Controller.
type Options struct {
	Config   Config
	Engine   *signal.Engine
	Feed     vision.Feed
	Display  Display
	Recorder *Recorder
	Logger   zerolog.Logger

	// Clock returns the current time. Nil uses time.Now.
	Clock func() time.Time
}

// Override is an operator hold on one lane's pair.
type Override struct {
	Lane  junction.LaneID   `json:"lane"`
	Pair  junction.LanePair `json:"pair"`
	Until time.Time         `json:"until"`
}

// State is a point-in-time copy of the controller state.
type State struct {
	ActivePair       junction.LanePair             `json:"active_pair"`
	Reason           junction.Reason               `json:"reason"`
	DurationSeconds  int                           `json:"duration_seconds"`
	DecidedAt        time.Time                     `json:"decided_at"`
	PhaseEndsAt      time.Time                     `json:"phase_ends_at"`
	RemainingSeconds int                           `json:"remaining_seconds"`
	Override         *Override                     `json:"override,omitempty"`
	LastServed       map[junction.LaneID]time.Time `json:"last_served"`
	Snapshots        junction.Snapshots            `json:"snapshots"`
}

// TickResult describes what one iteration did.
type TickResult struct {
	// Phase is the phase in force after the tick.
	Phase junction.PhaseDecision

	// Decided is true when the engine produced a new decision this tick.
	Decided bool

	// Violations lists the lanes fined this tick.
	Violations []junction.LaneID
}

// Controller owns the junction control loop.
type Controller struct {
	cfg         Config
	engine      *signal.Engine
	feed        vision.Feed
	display     Display
	recorder    *Recorder
	logger      zerolog.Logger
	now         func() time.Time
	metrics     *Metrics
	instruments *instruments

	mu            sync.RWMutex
	phase         junction.PhaseDecision
	phaseEndsAt   time.Time
	override      *Override
	snapshots     junction.Snapshots
	lastViolation map[junction.LaneID]time.Time
}

// New creates a controller.
func New(opts Options) (*Controller, error) {
	if opts.Engine == nil || opts.Feed == nil {
		return nil, fmt.Errorf("%w: engine and feed are required", ErrNotConfigured)
	}

	inst, err := newInstruments()
	if err != nil {
		return nil, fmt.Errorf("creating metrics: %w", err)
	}

	display := opts.Display
	if display == nil {
		display = NewLogDisplay(opts.Logger)
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}

	return &Controller{
		cfg:           opts.Config.withDefaults(),
		engine:        opts.Engine,
		feed:          opts.Feed,
		display:       display,
		recorder:      opts.Recorder,
		logger:        opts.Logger,
		now:           clock,
		metrics:       &Metrics{DecisionsByTag: make(map[junction.ReasonTag]int64)},
		instruments:   inst,
		snapshots:     junction.Snapshots{}.Normalize(),
		lastViolation: make(map[junction.LaneID]time.Time, 4),
	}, nil
}

// Run drives Tick on the configured interval until ctx ends.
func (c *Controller) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.cfg.TickInterval)
	defer ticker.Stop()

	c.logger.Info().Dur("interval", c.cfg.TickInterval).Msg("control loop started")

	c.Tick(ctx, c.now())
	for {
		select {
		case <-ctx.Done():
			c.logger.Info().Msg("control loop stopped")
			return nil
		case <-ticker.C:
			c.Tick(ctx, c.now())
		}
	}
}

// Tick runs one iteration of the control loop at now.
func (c *Controller) Tick(ctx context.Context, now time.Time) TickResult {
	c.recordTick(now)
	snaps := c.readSnapshots(ctx)

	c.mu.Lock()
	c.snapshots = snaps
	violations := c.detectViolations(snaps, now)

	if held, ok := c.applyOverride(now); ok {
		c.mu.Unlock()
		c.afterViolations(ctx, violations, now)
		if held != nil {
			c.display.ShowPhase(*held)
		}
		return TickResult{Phase: c.currentPhase(), Violations: violations}
	}

	preempt := c.needsPreemption(snaps)
	if !preempt && c.phase.ActivePair != "" && now.Before(c.phaseEndsAt) {
		phase := c.phase
		c.mu.Unlock()
		c.afterViolations(ctx, violations, now)
		return TickResult{Phase: phase, Violations: violations}
	}
	c.mu.Unlock()

	c.afterViolations(ctx, violations, now)

	decision := c.engine.DecidePhase(ctx, snaps, now)

	c.mu.Lock()
	c.phase = decision
	c.phaseEndsAt = now.Add(decision.Duration())
	c.mu.Unlock()

	c.display.ShowPhase(decision)
	c.recordDecision(ctx, decision, preempt)
	c.persistDecision(decision, snaps, now)

	if preempt {
		c.logger.Warn().
			Str("pair", string(decision.ActivePair)).
			Str("reason", decision.Reason.String()).
			Msg("running phase preempted")
	}

	return TickResult{Phase: decision, Decided: true, Violations: violations}
}

// State returns a copy of the controller state as of now.
func (c *Controller) State(now time.Time) State {
	c.mu.RLock()
	defer c.mu.RUnlock()

	remaining := 0
	if now.Before(c.phaseEndsAt) {
		remaining = int(c.phaseEndsAt.Sub(now).Round(time.Second) / time.Second)
	}

	var override *Override
	if c.override != nil {
		o := *c.override
		override = &o
	}

	return State{
		ActivePair:       c.phase.ActivePair,
		Reason:           c.phase.Reason,
		DurationSeconds:  c.phase.DurationSeconds,
		DecidedAt:        c.phase.DecidedAt,
		PhaseEndsAt:      c.phaseEndsAt,
		RemainingSeconds: remaining,
		Override:         override,
		LastServed:       c.engine.StarvationSnapshot(),
		Snapshots:        c.snapshots.Normalize(),
	}
}

// Override holds lane's pair green for the configured override duration. The
// hold takes effect on the next tick.
func (c *Controller) Override(lane junction.LaneID, now time.Time) Override {
	o := Override{
		Lane:  lane,
		Pair:  junction.PairOf(lane),
		Until: now.Add(c.cfg.ManualOverrideDuration),
	}

	c.mu.Lock()
	c.override = &o
	c.mu.Unlock()

	c.recordOverride()
	c.logger.Info().
		Str("lane", string(lane)).
		Time("until", o.Until).
		Msg("manual override engaged")
	return o
}

// ClearOverride releases an active override. It reports whether one was active.
func (c *Controller) ClearOverride() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.override == nil {
		return false
	}
	c.override = nil
	c.phaseEndsAt = time.Time{}
	c.logger.Info().Msg("manual override cleared")
	return true
}

func (c *Controller) currentPhase() junction.PhaseDecision {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.phase
}

// readSnapshots returns the feed's snapshots, or the last good ones when the
// feed fails.
func (c *Controller) readSnapshots(ctx context.Context) junction.Snapshots {
	snaps, err := c.feed.Snapshots(ctx)
	if err != nil {
		c.recordFeedError(ctx)
		c.logger.Warn().Err(err).Msg("snapshot read failed, reusing last snapshots")

		c.mu.RLock()
		defer c.mu.RUnlock()
		return c.snapshots
	}
	return snaps.Normalize()
}

// applyOverride must be called with c.mu held. It reports whether an override
// governs this tick, and returns the phase to display when it changed.
func (c *Controller) applyOverride(now time.Time) (*junction.PhaseDecision, bool) {
	if c.override == nil {
		return nil, false
	}

	if !now.Before(c.override.Until) {
		c.logger.Info().Str("lane", string(c.override.Lane)).Msg("manual override expired")
		c.override = nil
		c.phaseEndsAt = time.Time{}
		return nil, false
	}

	if c.phase.Reason.Tag == junction.ReasonOverride && c.phase.ActivePair == c.override.Pair {
		return nil, true
	}

	c.phase = junction.PhaseDecision{
		ActivePair:      c.override.Pair,
		DurationSeconds: int(c.override.Until.Sub(now).Round(time.Second) / time.Second),
		Reason: junction.Reason{
			Tag:    junction.ReasonOverride,
			Detail: fmt.Sprintf("operator hold on %s", c.override.Lane),
		},
		DecidedAt: now,
	}
	c.phaseEndsAt = c.override.Until

	held := c.phase
	return &held, true
}

// needsPreemption must be called with c.mu held. The running phase ends early
// only when the ambulance lane that wins the scan order is red, so a corridor
// already granted to that lane is not re-decided on every tick.
func (c *Controller) needsPreemption(snaps junction.Snapshots) bool {
	if c.phase.ActivePair == "" {
		return false
	}
	for _, lane := range junction.Lanes() {
		if snaps.Get(lane).AmbulancePresent {
			return !c.phase.IsGreen(lane)
		}
	}
	return false
}

// detectViolations must be called with c.mu held.
func (c *Controller) detectViolations(snaps junction.Snapshots, now time.Time) []junction.LaneID {
	if c.phase.ActivePair == "" {
		return nil
	}

	var fined []junction.LaneID
	for _, lane := range junction.Lanes() {
		if c.phase.IsGreen(lane) || snaps.Get(lane).Load <= c.cfg.ViolationLoadThreshold {
			continue
		}
		if last, ok := c.lastViolation[lane]; ok && now.Sub(last) < c.cfg.ViolationCooldown {
			continue
		}
		c.lastViolation[lane] = now
		fined = append(fined, lane)
	}
	return fined
}

func (c *Controller) afterViolations(ctx context.Context, lanes []junction.LaneID, now time.Time) {
	for _, lane := range lanes {
		c.recordViolation(ctx, lane)
		c.logger.Info().
			Str("lane", string(lane)).
			Int("penalty", c.cfg.ViolationPenalty).
			Msg("red light violation")

		if c.recorder == nil {
			continue
		}
		c.recorder.RecordViolation(trafficlog.Violation{
			Timestamp:     now,
			Lane:          string(lane),
			Type:          trafficlog.ViolationRedLight,
			PenaltyAmount: c.cfg.ViolationPenalty,
		})
	}
}

// persistDecision queues a green decision for the log store. ALL_RED phases
// carry no traffic and are not logged.
func (c *Controller) persistDecision(d junction.PhaseDecision, snaps junction.Snapshots, now time.Time) {
	if c.recorder == nil || d.ActivePair == junction.PairAllRed {
		return
	}

	c.recorder.RecordSignal(trafficlog.SignalLog{
		Timestamp:    now,
		Lane:         string(d.ActivePair),
		LoadScore:    junction.ClampLoad(snaps.PairLoad(d.ActivePair)),
		GreenSeconds: d.DurationSeconds,
		Emergency:    d.Reason.Tag == junction.ReasonEmergency,
		Reason:       string(d.Reason.Tag),
		Hour:         now.Hour(),
		DayOfWeek:    junction.DayOfWeek(now),
	})
}
