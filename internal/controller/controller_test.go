package controller_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/junctionflow/junctionflow/internal/controller"
	"github.com/junctionflow/junctionflow/internal/junction"
	"github.com/junctionflow/junctionflow/internal/signal"
	"github.com/junctionflow/junctionflow/internal/trafficlog"
)

// Monday 2026-10-19 08:00 UTC.
var t0 = time.Date(2026, time.October, 19, 8, 0, 0, 0, time.UTC)

type fakeFeed struct {
	mu    sync.Mutex
	snaps junction.Snapshots
	err   error
}

func (f *fakeFeed) Snapshots(_ context.Context) (junction.Snapshots, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.snaps, nil
}

func (f *fakeFeed) set(snaps junction.Snapshots, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snaps, f.err = snaps, err
}

type recordingDisplay struct {
	mu     sync.Mutex
	phases []junction.PhaseDecision
}

func (d *recordingDisplay) ShowPhase(p junction.PhaseDecision) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.phases = append(d.phases, p)
}

func (d *recordingDisplay) shown() []junction.PhaseDecision {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]junction.PhaseDecision(nil), d.phases...)
}

func loads(n, s, e, w int) junction.Snapshots {
	return junction.Snapshots{
		junction.North: {Load: n},
		junction.South: {Load: s},
		junction.East:  {Load: e},
		junction.West:  {Load: w},
	}
}

type harness struct {
	ctrl     *controller.Controller
	feed     *fakeFeed
	display  *recordingDisplay
	repo     *trafficlog.InMemoryRepository
	recorder *controller.Recorder
}

func newHarness(t *testing.T, snaps junction.Snapshots) *harness {
	t.Helper()

	engine, err := signal.NewEngine(signal.DefaultEngineConfig(),
		signal.WithStartTime(t0),
		signal.WithLogger(zerolog.Nop()),
	)
	require.NoError(t, err)

	h := &harness{
		feed:    &fakeFeed{snaps: snaps},
		display: &recordingDisplay{},
		repo:    trafficlog.NewInMemoryRepository(),
	}
	h.recorder = controller.NewRecorder(h.repo, controller.DefaultRecorderConfig())

	h.ctrl, err = controller.New(controller.Options{
		Config:   controller.DefaultConfig(),
		Engine:   engine,
		Feed:     h.feed,
		Display:  h.display,
		Recorder: h.recorder,
		Logger:   zerolog.Nop(),
		Clock:    func() time.Time { return t0 },
	})
	require.NoError(t, err)
	return h
}

// flush waits for every queued log entry to be written.
func (h *harness) flush(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.recorder.Close(ctx))
}

func TestNew_RequiresEngineAndFeed(t *testing.T) {
	_, err := controller.New(controller.Options{Logger: zerolog.Nop()})
	assert.ErrorIs(t, err, controller.ErrNotConfigured)
}

func TestTick_FirstTickDecidesAndPersists(t *testing.T) {
	h := newHarness(t, loads(20, 10, 5, 0))
	ctx := context.Background()

	res := h.ctrl.Tick(ctx, t0)

	require.True(t, res.Decided)
	assert.Equal(t, junction.PairNS, res.Phase.ActivePair)
	assert.Equal(t, junction.ReasonDensity, res.Phase.Reason.Tag)
	assert.Equal(t, 45, res.Phase.DurationSeconds)
	assert.Empty(t, res.Violations)
	require.Len(t, h.display.shown(), 1)

	h.flush(t)
	logs, err := h.repo.ListSignals(ctx, 0)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "NS", logs[0].Lane)
	assert.Equal(t, 30, logs[0].LoadScore)
	assert.Equal(t, 45, logs[0].GreenSeconds)
	assert.Equal(t, "DENSITY", logs[0].Reason)
	assert.Equal(t, 8, logs[0].Hour)
	assert.Equal(t, 0, logs[0].DayOfWeek)
	assert.False(t, logs[0].Emergency)
}

func TestTick_HoldsPhaseUntilExpiry(t *testing.T) {
	h := newHarness(t, loads(20, 10, 0, 0))
	ctx := context.Background()

	first := h.ctrl.Tick(ctx, t0)
	require.True(t, first.Decided)

	mid := h.ctrl.Tick(ctx, t0.Add(44*time.Second))
	assert.False(t, mid.Decided)
	assert.Equal(t, first.Phase, mid.Phase)

	next := h.ctrl.Tick(ctx, t0.Add(45*time.Second))
	assert.True(t, next.Decided)
	assert.Len(t, h.display.shown(), 2)
}

func TestTick_AllRedIsNotPersisted(t *testing.T) {
	h := newHarness(t, loads(0, 0, 0, 0))
	ctx := context.Background()

	res := h.ctrl.Tick(ctx, t0)
	require.True(t, res.Decided)
	assert.Equal(t, junction.PairAllRed, res.Phase.ActivePair)
	assert.Equal(t, junction.ReasonNoTraffic, res.Phase.Reason.Tag)

	h.flush(t)
	logs, err := h.repo.ListSignals(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, logs)
}

func TestTick_EmergencyPreemptsRunningPhase(t *testing.T) {
	h := newHarness(t, loads(20, 10, 0, 0))
	ctx := context.Background()

	require.Equal(t, junction.PairNS, h.ctrl.Tick(ctx, t0).Phase.ActivePair)

	snaps := loads(20, 10, 0, 0)
	snaps[junction.East] = junction.LaneSnapshot{Load: 4, AmbulancePresent: true}
	h.feed.set(snaps, nil)

	res := h.ctrl.Tick(ctx, t0.Add(5*time.Second))
	require.True(t, res.Decided)
	assert.Equal(t, junction.PairEW, res.Phase.ActivePair)
	assert.Equal(t, junction.ReasonEmergency, res.Phase.Reason.Tag)
	assert.Equal(t, 60, res.Phase.DurationSeconds)

	m := h.ctrl.GetMetrics()
	assert.Equal(t, int64(1), m.Preemptions)
	assert.Equal(t, int64(1), m.DecisionsByTag[junction.ReasonEmergency])

	h.flush(t)
	logs, err := h.repo.ListSignals(ctx, 0)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.True(t, logs[0].Emergency)
	assert.Equal(t, "EW", logs[0].Lane)
}

func TestTick_AmbulanceOnGreenLaneDoesNotPreempt(t *testing.T) {
	h := newHarness(t, loads(20, 10, 0, 0))
	ctx := context.Background()
	h.ctrl.Tick(ctx, t0)

	snaps := loads(20, 10, 0, 0)
	snaps[junction.North] = junction.LaneSnapshot{Load: 20, AmbulancePresent: true}
	h.feed.set(snaps, nil)

	res := h.ctrl.Tick(ctx, t0.Add(5*time.Second))
	assert.False(t, res.Decided)
	assert.Equal(t, junction.ReasonDensity, res.Phase.Reason.Tag)
}

func TestTick_AmbulancesOnBothPairsKeepOneCorridor(t *testing.T) {
	snaps := loads(0, 0, 0, 0)
	snaps[junction.North] = junction.LaneSnapshot{AmbulancePresent: true}
	snaps[junction.East] = junction.LaneSnapshot{AmbulancePresent: true}
	h := newHarness(t, snaps)
	ctx := context.Background()

	first := h.ctrl.Tick(ctx, t0)
	require.True(t, first.Decided)
	require.Equal(t, junction.PairNS, first.Phase.ActivePair)
	require.Equal(t, junction.ReasonEmergency, first.Phase.Reason.Tag)

	for i := 1; i < 10; i++ {
		res := h.ctrl.Tick(ctx, t0.Add(time.Duration(i)*time.Second))
		assert.False(t, res.Decided, "tick %d", i)
		assert.Equal(t, first.Phase, res.Phase)
	}

	m := h.ctrl.GetMetrics()
	assert.Equal(t, int64(0), m.Preemptions)
	assert.Equal(t, int64(1), m.DecisionsByTag[junction.ReasonEmergency])

	h.flush(t)
	logs, err := h.repo.ListSignals(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, logs, 1)
}

func TestTick_LoggedLoadIsClamped(t *testing.T) {
	h := newHarness(t, loads(80, 70, 10, 0))
	ctx := context.Background()

	require.True(t, h.ctrl.Tick(ctx, t0).Decided)

	h.flush(t)
	logs, err := h.repo.ListSignals(ctx, 0)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "NS", logs[0].Lane)
	assert.Equal(t, 100, logs[0].LoadScore)
}

func TestTick_RedLightViolations(t *testing.T) {
	h := newHarness(t, loads(40, 40, 10, 5))
	ctx := context.Background()

	first := h.ctrl.Tick(ctx, t0)
	require.Equal(t, junction.PairNS, first.Phase.ActivePair)
	assert.Empty(t, first.Violations, "no phase was running yet")

	tests := []struct {
		name   string
		offset time.Duration
		want   []junction.LaneID
	}{
		{name: "red lane over threshold", offset: time.Second, want: []junction.LaneID{junction.East}},
		{name: "within cooldown", offset: 2 * time.Second, want: nil},
		{name: "cooldown elapsed", offset: 4 * time.Second, want: []junction.LaneID{junction.East}},
	}
	for _, tt := range tests {
		res := h.ctrl.Tick(ctx, t0.Add(tt.offset))
		assert.Equal(t, tt.want, res.Violations, tt.name)
	}

	h.flush(t)
	violations, err := h.repo.ListViolations(ctx, 0)
	require.NoError(t, err)
	require.Len(t, violations, 2)
	assert.Equal(t, "East", violations[0].Lane)
	assert.Equal(t, 500, violations[0].PenaltyAmount)
	assert.Equal(t, trafficlog.ViolationRedLight, violations[0].Type)
	assert.Equal(t, int64(2), h.ctrl.GetMetrics().Violations)
}

func TestTick_FeedErrorReusesLastSnapshots(t *testing.T) {
	h := newHarness(t, loads(0, 0, 30, 30))
	ctx := context.Background()
	require.Equal(t, junction.PairEW, h.ctrl.Tick(ctx, t0).Phase.ActivePair)

	h.feed.set(nil, errors.New("camera offline"))
	res := h.ctrl.Tick(ctx, t0.Add(90*time.Second))

	require.True(t, res.Decided)
	assert.Equal(t, junction.PairEW, res.Phase.ActivePair)
	assert.Equal(t, int64(1), h.ctrl.GetMetrics().FeedErrors)
	assert.Equal(t, 30, h.ctrl.State(t0.Add(90*time.Second)).Snapshots.Get(junction.East).Load)
}

func TestOverride_HoldsPairUntilExpiry(t *testing.T) {
	h := newHarness(t, loads(50, 50, 1, 0))
	ctx := context.Background()
	h.ctrl.Tick(ctx, t0)

	o := h.ctrl.Override(junction.West, t0.Add(time.Second))
	assert.Equal(t, junction.PairEW, o.Pair)
	assert.Equal(t, t0.Add(16*time.Second), o.Until)

	held := h.ctrl.Tick(ctx, t0.Add(time.Second))
	assert.False(t, held.Decided)
	assert.Equal(t, junction.PairEW, held.Phase.ActivePair)
	assert.Equal(t, junction.ReasonOverride, held.Phase.Reason.Tag)
	assert.Equal(t, 15, held.Phase.DurationSeconds)

	state := h.ctrl.State(t0.Add(6 * time.Second))
	require.NotNil(t, state.Override)
	assert.Equal(t, junction.West, state.Override.Lane)
	assert.Equal(t, 10, state.RemainingSeconds)

	h.ctrl.Tick(ctx, t0.Add(10*time.Second))
	assert.Len(t, h.display.shown(), 2, "a held override is shown once")

	after := h.ctrl.Tick(ctx, t0.Add(16*time.Second))
	assert.True(t, after.Decided)
	assert.Equal(t, junction.PairNS, after.Phase.ActivePair)
	assert.Nil(t, h.ctrl.State(t0.Add(16*time.Second)).Override)
}

func TestClearOverride(t *testing.T) {
	h := newHarness(t, loads(50, 50, 1, 0))
	ctx := context.Background()
	h.ctrl.Tick(ctx, t0)

	assert.False(t, h.ctrl.ClearOverride())

	h.ctrl.Override(junction.East, t0.Add(time.Second))
	h.ctrl.Tick(ctx, t0.Add(time.Second))
	assert.True(t, h.ctrl.ClearOverride())

	res := h.ctrl.Tick(ctx, t0.Add(2*time.Second))
	assert.True(t, res.Decided)
	assert.Equal(t, junction.PairNS, res.Phase.ActivePair)
	assert.Equal(t, int64(1), h.ctrl.GetMetrics().Overrides)
}

func TestState_RemainingSeconds(t *testing.T) {
	h := newHarness(t, loads(20, 10, 0, 0))
	h.ctrl.Tick(context.Background(), t0)

	state := h.ctrl.State(t0.Add(15 * time.Second))
	assert.Equal(t, junction.PairNS, state.ActivePair)
	assert.Equal(t, 30, state.RemainingSeconds)
	assert.Equal(t, t0.Add(45*time.Second), state.PhaseEndsAt)
	assert.Equal(t, t0, state.LastServed[junction.North])

	assert.Equal(t, 0, h.ctrl.State(t0.Add(time.Hour)).RemainingSeconds)
}

func TestMetricsSnapshot(t *testing.T) {
	h := newHarness(t, loads(20, 10, 0, 0))
	h.ctrl.Tick(context.Background(), t0)

	snap := h.ctrl.MetricsSnapshot()
	assert.Equal(t, int64(1), snap["ticks"])
	assert.Equal(t, int64(1), snap["decisions"])
	assert.Equal(t, map[string]int64{"DENSITY": 1}, snap["decisions_by_tag"])
	assert.Contains(t, snap, "log_store")
}

func TestRun_StopsOnCancel(t *testing.T) {
	h := newHarness(t, loads(20, 10, 0, 0))
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- h.ctrl.Run(ctx) }()

	require.Eventually(t, func() bool {
		return h.ctrl.GetMetrics().Ticks > 0
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
