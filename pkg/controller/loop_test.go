package controller

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"render-budget-controller/pkg/anomaly"
	"render-budget-controller/pkg/config"
	"render-budget-controller/pkg/constants"
	"render-budget-controller/pkg/control"
	"render-budget-controller/pkg/forecast"
	"render-budget-controller/pkg/scenario"
	"render-budget-controller/pkg/telemetry"
	"render-budget-controller/pkg/workload"
)

type captureSink struct {
	rows []telemetry.Record
}

func (c *captureSink) Append(r telemetry.Record) { c.rows = append(c.rows, r) }
func (c *captureSink) Flush() error              { return nil }
func (c *captureSink) Close() error              { return nil }

// fixedSource replays a constant frame sample.
type fixedSource struct {
	sample telemetry.FrameSample
}

func (f *fixedSource) Next(time.Time) telemetry.FrameSample { return f.sample }

// buildTestLoop wires a loop with a static predictor and a gate whose
// thresholds no regular motion sample can trip.
func buildTestLoop(t *testing.T, ctrlCfg control.Config, pred forecast.Predictor) (*Loop, *captureSink, *workload.Pool, *scenario.Driver) {
	t.Helper()
	gateCfg := anomaly.DefaultConfig()
	gateCfg.JumpPos = 100
	gateCfg.JumpRotDeg = 1000
	return buildTestLoopWithGate(t, ctrlCfg, pred, gateCfg)
}

func buildTestLoopWithGate(t *testing.T, ctrlCfg control.Config, pred forecast.Predictor, gateCfg anomaly.Config) (*Loop, *captureSink, *workload.Pool, *scenario.Driver) {
	t.Helper()
	return buildLoopFromConfig(t, testLoopConfig(ctrlCfg), pred, gateCfg)
}

func testLoopConfig(ctrlCfg control.Config) config.Config {
	cfg := config.Default()
	cfg.Control = ctrlCfg
	cfg.Scenario.Mode = constants.ScenarioIdle
	cfg.Scenario.InitialCount = 100
	cfg.Scenario.InitialQuality = 3
	cfg.Scenario.QualityAffectsParticles = false
	cfg.Scenario.CountMultipliers = []float64{0.25, 0.4, 0.6, 0.8, 1.0, 1.2}
	cfg.Telemetry.Sink = config.SinkNone
	return cfg
}

func buildLoopFromConfig(t *testing.T, cfg config.Config, pred forecast.Predictor, gateCfg anomaly.Config) (*Loop, *captureSink, *workload.Pool, *scenario.Driver) {
	t.Helper()

	pool := workload.NewPool(cfg.Workload)
	driver := scenario.NewDriver(cfg.Scenario, pool)

	scaler, err := forecast.NewScaler(
		[]float64{0, 0, 0, 0, 0},
		[]float64{1, 1, 1, 1, 1},
	)
	require.NoError(t, err)
	window, err := forecast.NewWindow(10)
	require.NoError(t, err)

	ctrl, err := control.New(cfg.Control, driver, pool)
	require.NoError(t, err)

	sink := &captureSink{}
	loop, err := New(cfg, Deps{
		Pool:      pool,
		Driver:    driver,
		Scaler:    scaler,
		Window:    window,
		Predictor: pred,
		Gate:      anomaly.NewGate(gateCfg),
		Control:   ctrl,
		Sink:      sink,
		Source:    &fixedSource{},
	})
	require.NoError(t, err)
	return loop, sink, pool, driver
}

func scenarioControlConfig() control.Config {
	cfg := control.DefaultConfig()
	cfg.TargetMs = 16.7
	cfg.DeadbandMs = 1.0
	cfg.EnterHighMs = 2.0
	cfg.ExitLowMs = 0.5
	cfg.Alpha = 1.0
	cfg.Cooldown = 2 * time.Second
	cfg.ParticleMin = 0
	return cfg
}

// A smoothed forecast held at 20ms against a 16.7ms target must drop
// quality exactly once per cooldown interval until the floor.
func TestEndToEnd_SustainedOverloadDropsQualityPerCooldown(t *testing.T) {
	loop, sink, _, driver := buildTestLoop(t, scenarioControlConfig(),
		&forecast.StaticPredictor{ValueMs: 20, IsValid: true})

	sample := telemetry.FrameSample{FrameCostMs: 20, SmoothedFPS: 50, HeadLinSpeed: 0.3, HeadAngSpeed: 20}
	start := time.Unix(1000, 0)
	frame := 16 * time.Millisecond

	var dropFrames []int64
	for i := 0; i < 700; i++ { // ~11.2s
		d := loop.Tick(start.Add(time.Duration(i)*frame), sample)
		if d.Action == constants.ActionQualityDown {
			dropFrames = append(dropFrames, loop.Frame())
		}
	}

	// Window fills after 10 frames, then drops land once per cooldown:
	// quality 3 -> 0 in three steps, nothing after the floor.
	require.Len(t, dropFrames, 3)
	assert.Equal(t, 0, driver.Quality())
	for i := 1; i < len(dropFrames); i++ {
		gap := time.Duration(dropFrames[i]-dropFrames[i-1]) * frame
		assert.GreaterOrEqual(t, gap, 2*time.Second, "drops %d and %d violate cooldown", i-1, i)
	}

	// Telemetry captured every tick with the decision fields filled in.
	require.Len(t, sink.rows, 700)
	last := sink.rows[len(sink.rows)-1]
	assert.Equal(t, string(constants.StateReduceLoad), last.ControllerState)
	assert.Equal(t, int64(3), last.ActuationCount)
	assert.True(t, last.SmoothedValid)
}

// With quality-coupled particles enabled (the shipped default), the
// recovery ladder must accumulate budget up to the ceiling and then
// reach quality_up; same-level scenario ticks must not revert the
// controller's budget steps.
func TestEndToEnd_RecoveryClimbsWithParticleCoupling(t *testing.T) {
	ctrlCfg := scenarioControlConfig()
	ctrlCfg.Cooldown = 50 * time.Millisecond

	cfg := testLoopConfig(ctrlCfg)
	// Counts of 80/100 keep the equal splits exact for 100-step budgets.
	cfg.Scenario.CountMultipliers = []float64{0.25, 0.4, 0.6, 0.8, 1.0, 1.0}
	cfg.Scenario.QualityAffectsParticles = true
	cfg.Scenario.ParticleMultipliers = []float64{0, 0.2, 0.4, 0.6, 0.8, 1.0}
	cfg.Scenario.BaseParticleBudget = 1000

	gateCfg := anomaly.DefaultConfig()
	gateCfg.JumpPos = 100
	gateCfg.JumpRotDeg = 1000
	loop, _, pool, driver := buildLoopFromConfig(t, cfg,
		&forecast.StaticPredictor{ValueMs: 5, IsValid: true}, gateCfg)

	sample := telemetry.FrameSample{FrameCostMs: 5, SmoothedFPS: 200, HeadLinSpeed: 0.3, HeadAngSpeed: 20}
	start := time.Unix(1000, 0)
	frame := 16 * time.Millisecond

	var wasted int // resource-changing actions with no lasting budget effect
	prevBudget := -1.0
	for i := 0; i < 400; i++ {
		d := loop.Tick(start.Add(time.Duration(i)*frame), sample)
		if d.Action == constants.ActionParticlesUp && pool.ParticleBudget() == prevBudget {
			wasted++
		}
		prevBudget = pool.ParticleBudget()
	}

	// Quality 3 starts at budget 600; the climb is 14 particle steps to
	// 2000, a quality step re-deriving 800, 12 more steps, a quality
	// step re-deriving 1000, then 10 steps to the ceiling: 38 in all.
	assert.Equal(t, 5, driver.Quality())
	assert.InDelta(t, ctrlCfg.ParticleMax, pool.ParticleBudget(), 1e-6)
	assert.Equal(t, int64(38), loop.deps.Control.ActuationCount())
	assert.Zero(t, wasted)

	// Converged: further ticks take no action at all.
	for i := 400; i < 450; i++ {
		d := loop.Tick(start.Add(time.Duration(i)*frame), sample)
		assert.Equal(t, constants.ActionNone, d.Action)
	}
	assert.Equal(t, int64(38), loop.deps.Control.ActuationCount())
}

// No actuation may happen before the feature window is ready.
func TestEndToEnd_NoActuationBeforeWindowReady(t *testing.T) {
	loop, sink, _, _ := buildTestLoop(t, scenarioControlConfig(),
		&forecast.StaticPredictor{ValueMs: 30, IsValid: true})

	sample := telemetry.FrameSample{FrameCostMs: 30, SmoothedFPS: 33}
	start := time.Unix(1000, 0)
	for i := 0; i < 9; i++ {
		d := loop.Tick(start.Add(time.Duration(i)*16*time.Millisecond), sample)
		assert.Equal(t, constants.ActionHold, d.Action, "frame %d", i)
	}
	for _, r := range sink.rows {
		assert.False(t, r.ForecastValid)
	}

	d := loop.Tick(start.Add(10*16*time.Millisecond), sample)
	assert.Equal(t, constants.ActionQualityDown, d.Action)
}

// An accepted anomaly freezes actuation for the hold duration even while
// the forecast demands reduction.
func TestEndToEnd_AnomalyFreezeSuppressesActuation(t *testing.T) {
	gateLoop, gateSink, _, gateDriver := buildTestLoopWithGate(t, scenarioControlConfig(),
		&forecast.StaticPredictor{ValueMs: 25, IsValid: true}, anomaly.DefaultConfig())

	moving := telemetry.FrameSample{FrameCostMs: 25, SmoothedFPS: 40, HeadLinSpeed: 0.3, HeadAngSpeed: 20}
	start := time.Unix(1000, 0)
	frame := 16 * time.Millisecond

	// Fill the window; the first drop lands at readiness.
	for i := 0; i < 10; i++ {
		gateLoop.Tick(start.Add(time.Duration(i)*frame), moving)
	}
	require.Equal(t, 2, gateDriver.Quality())

	// Correction event: still head, jumped pose.
	jump := telemetry.FrameSample{FrameCostMs: 25, SmoothedFPS: 40, DeltaPos: 0.06, DeltaRotDeg: 2}
	tEvent := start.Add(10 * frame)
	d := gateLoop.Tick(tEvent, jump)
	assert.Equal(t, constants.ActionHold, d.Action)
	assert.True(t, d.Frozen)

	// Throughout the 2s hold no actuation happens despite the overload
	// and an expired cooldown.
	for now := tEvent.Add(frame); now.Before(tEvent.Add(2 * time.Second)); now = now.Add(frame) {
		d = gateLoop.Tick(now, moving)
		assert.Equal(t, constants.ActionHold, d.Action)
	}
	assert.Equal(t, 2, gateDriver.Quality())

	// Freeze lapsed: the next tick resumes control.
	d = gateLoop.Tick(tEvent.Add(2*time.Second+frame), moving)
	assert.Equal(t, constants.ActionQualityDown, d.Action)
	assert.Equal(t, 1, gateDriver.Quality())

	// The event row carries the anomaly flag and magnitude.
	eventRow := gateSink.rows[10]
	assert.True(t, eventRow.AnomalyDetected)
	assert.Greater(t, eventRow.AnomalyMagnitude, 1.0)
}

func TestBuild_FromDefaults(t *testing.T) {
	cfg := config.Default()
	cfg.Telemetry.Sink = config.SinkNone
	loop, err := Build(cfg)
	require.NoError(t, err)

	// A short run of ticks drives the scenario into the pool.
	now := time.Unix(0, 0)
	for i := 0; i < 20; i++ {
		loop.Tick(now.Add(time.Duration(i)*cfg.FrameInterval), telemetry.FrameSample{FrameCostMs: 10, SmoothedFPS: 100})
	}
	assert.Positive(t, loop.deps.Pool.Count())
	assert.Equal(t, int64(20), loop.Frame())
}

func TestBuild_RejectsInvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Forecast.Scale = []float64{1, 0, 1, 1, 1}
	_, err := Build(cfg)
	assert.Error(t, err)
}
