package signal

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/junctionflow/junctionflow/internal/junction"
)

// LoadPredictor returns the historical average load for a (day-of-week, hour) key.
type LoadPredictor interface {
	PredictLoad(ctx context.Context, dayOfWeek, hour int) (int, error)
}

// Engine turns per-lane snapshots into phase decisions.
//
// The engine owns the starvation tracker: the time each lane was last granted
// green. Only DecidePhase mutates it, and only after a decision is complete.
type Engine struct {
	config    EngineConfig
	estimator LoadPredictor
	logger    zerolog.Logger

	mu         sync.RWMutex
	lastServed map[junction.LaneID]time.Time
}

// Option configures an Engine.
type Option func(*engineOptions)

type engineOptions struct {
	estimator LoadPredictor
	logger    zerolog.Logger
	startTime time.Time
}

// WithEstimator enables the prediction boost using the given predictor.
func WithEstimator(p LoadPredictor) Option {
	return func(o *engineOptions) { o.estimator = p }
}

// WithLogger sets the engine logger.
func WithLogger(l zerolog.Logger) Option {
	return func(o *engineOptions) { o.logger = l }
}

// WithStartTime sets the initial last-served time of every lane.
func WithStartTime(t time.Time) Option {
	return func(o *engineOptions) { o.startTime = t }
}

// NewEngine creates an engine. An invalid configuration is rejected here so no
// decision cycle ever runs with it.
func NewEngine(cfg EngineConfig, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := engineOptions{logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.startTime.IsZero() {
		o.startTime = time.Now()
	}

	lastServed := make(map[junction.LaneID]time.Time, 4)
	for _, lane := range junction.Lanes() {
		lastServed[lane] = o.startTime
	}

	return &Engine{
		config:     cfg,
		estimator:  o.estimator,
		logger:     o.logger,
		lastServed: lastServed,
	}, nil
}

// Config returns the engine configuration.
func (e *Engine) Config() EngineConfig {
	return e.config
}

// DecidePhase selects the next phase and records the served lanes as of now.
func (e *Engine) DecidePhase(ctx context.Context, snapshots junction.Snapshots, now time.Time) junction.PhaseDecision {
	decision, served := e.evaluate(ctx, snapshots, now)

	if len(served) > 0 {
		e.mu.Lock()
		for _, lane := range served {
			e.lastServed[lane] = now
		}
		e.mu.Unlock()
	}

	e.logger.Debug().
		Str("pair", string(decision.ActivePair)).
		Int("duration_s", decision.DurationSeconds).
		Str("reason", decision.Reason.String()).
		Msg("phase decided")

	return decision
}

// Evaluate computes the decision DecidePhase would return without updating the
// starvation tracker.
func (e *Engine) Evaluate(ctx context.Context, snapshots junction.Snapshots, now time.Time) junction.PhaseDecision {
	decision, _ := e.evaluate(ctx, snapshots, now)
	return decision
}

// StarvationSnapshot returns a copy of the last-served time of every lane.
func (e *Engine) StarvationSnapshot() map[junction.LaneID]time.Time {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make(map[junction.LaneID]time.Time, len(e.lastServed))
	for lane, t := range e.lastServed {
		out[lane] = t
	}
	return out
}

// evaluate applies the rules in priority order; the first match wins. It
// returns the decision and the lanes to mark as served.
func (e *Engine) evaluate(ctx context.Context, snapshots junction.Snapshots, now time.Time) (junction.PhaseDecision, []junction.LaneID) {
	snaps := snapshots.Normalize()

	if d, ok := e.emergency(snaps, now); ok {
		return d, d.ActivePair.Lanes()
	}

	if d, ok := e.starvation(snaps, now); ok {
		return d, d.ActivePair.Lanes()
	}

	d := e.density(snaps, now)
	if d.ActivePair == junction.PairAllRed {
		return d, nil
	}

	return e.boost(ctx, d, now), d.ActivePair.Lanes()
}

func (e *Engine) emergency(snaps junction.Snapshots, now time.Time) (junction.PhaseDecision, bool) {
	for _, lane := range junction.Lanes() {
		if !snaps.Get(lane).AmbulancePresent {
			continue
		}
		return junction.PhaseDecision{
			ActivePair:      junction.PairOf(lane),
			DurationSeconds: seconds(e.config.EmergencyGreen),
			Reason: junction.Reason{
				Tag:    junction.ReasonEmergency,
				Detail: fmt.Sprintf("green corridor for %s (ambulance)", lane),
			},
			DecidedAt: now,
		}, true
	}
	return junction.PhaseDecision{}, false
}

func (e *Engine) starvation(snaps junction.Snapshots, now time.Time) (junction.PhaseDecision, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var (
		starved junction.LaneID
		maxWait time.Duration
		found   bool
	)
	for _, lane := range junction.Lanes() {
		wait := now.Sub(e.lastServed[lane])
		if wait <= e.config.StarvationLimit || snaps.Get(lane).Load <= 0 {
			continue
		}
		// Strictly greater keeps the earlier lane in scan order on ties.
		if !found || wait > maxWait {
			starved, maxWait, found = lane, wait, true
		}
	}
	if !found {
		return junction.PhaseDecision{}, false
	}

	return junction.PhaseDecision{
		ActivePair:      junction.PairOf(starved),
		DurationSeconds: seconds(e.config.StarvationRelease),
		Reason: junction.Reason{
			Tag:    junction.ReasonStarvation,
			Detail: fmt.Sprintf("%s waited %ds", starved, int(maxWait/time.Second)),
		},
		DecidedAt: now,
	}, true
}

func (e *Engine) density(snaps junction.Snapshots, now time.Time) junction.PhaseDecision {
	loadNS := snaps.PairLoad(junction.PairNS)
	loadEW := snaps.PairLoad(junction.PairEW)

	if loadNS == 0 && loadEW == 0 {
		return junction.PhaseDecision{
			ActivePair:      junction.PairAllRed,
			DurationSeconds: seconds(e.config.AllRed),
			Reason: junction.Reason{
				Tag:    junction.ReasonNoTraffic,
				Detail: "no vehicles detected",
			},
			DecidedAt: now,
		}
	}

	// Equal loads keep NS.
	pair, load := junction.PairNS, loadNS
	if loadEW > loadNS {
		pair, load = junction.PairEW, loadEW
	}

	return junction.PhaseDecision{
		ActivePair:      pair,
		DurationSeconds: e.greenFor(load),
		Reason: junction.Reason{
			Tag:    junction.ReasonDensity,
			Detail: fmt.Sprintf("%s(%d)", pair, load),
		},
		DecidedAt: now,
	}
}

// greenFor returns clamp(load*factor, min, max) in whole seconds.
func (e *Engine) greenFor(load int) int {
	raw := float64(load) * e.config.DensityTimeFactor
	lo := e.config.MinGreen.Seconds()
	hi := e.config.MaxGreen.Seconds()
	return int(math.Floor(math.Max(lo, math.Min(raw, hi))))
}

func (e *Engine) boost(ctx context.Context, d junction.PhaseDecision, now time.Time) junction.PhaseDecision {
	if e.estimator == nil {
		return d
	}

	qctx, cancel := context.WithTimeout(ctx, e.config.PredictionTimeout)
	defer cancel()

	day, hour := junction.DayOfWeek(now), now.Hour()
	avg, err := e.estimator.PredictLoad(qctx, day, hour)
	if err != nil {
		e.logger.Warn().
			Err(err).
			Int("day_of_week", day).
			Int("hour", hour).
			Msg("historical load unavailable, skipping prediction boost")
		return d
	}
	if avg <= e.config.PredictionLoadThreshold {
		return d
	}

	d.DurationSeconds = min(d.DurationSeconds+seconds(e.config.PredictionBoost), seconds(e.config.MaxGreen))
	d.Reason.PredictionBoost = true
	d.Reason.Detail += fmt.Sprintf(" + prediction boost(avg %d)", avg)
	return d
}
