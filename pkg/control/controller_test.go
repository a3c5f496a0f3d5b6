package control

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"render-budget-controller/pkg/constants"
)

type fakeQuality struct{ q int }

func (f *fakeQuality) Quality() int     { return f.q }
func (f *fakeQuality) SetQuality(q int) { f.q = q }

type fakeParticles struct{ b float64 }

func (f *fakeParticles) ParticleBudget() float64      { return f.b }
func (f *fakeParticles) SetParticleBudget(pb float64) { f.b = pb }

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.TargetMs = 16.7
	cfg.DeadbandMs = 1.0
	cfg.EnterHighMs = 2.0
	cfg.ExitLowMs = 0.5
	cfg.Alpha = 1.0 // no smoothing lag in unit tests
	cfg.Cooldown = 2 * time.Second
	cfg.ParticleStep = 100
	cfg.ParticleMax = 1000
	return cfg
}

func newTestController(t *testing.T, cfg Config, q int, budget float64) (*Controller, *fakeQuality, *fakeParticles) {
	t.Helper()
	fq := &fakeQuality{q: q}
	fp := &fakeParticles{b: budget}
	c, err := New(cfg, fq, fp)
	require.NoError(t, err)
	return c, fq, fp
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero target", func(c *Config) { c.TargetMs = 0 }},
		{"negative deadband", func(c *Config) { c.DeadbandMs = -1 }},
		{"no hysteresis gap", func(c *Config) { c.EnterHighMs = 0.5; c.ExitLowMs = 0.5 }},
		{"bad alpha", func(c *Config) { c.Alpha = 1.5 }},
		{"inverted quality bounds", func(c *Config) { c.QualityFloor = 4; c.QualityCeil = 2 }},
		{"zero particle step", func(c *Config) { c.ParticleStep = 0 }},
		{"inverted particle bounds", func(c *Config) { c.ParticleMin = 10; c.ParticleMax = 5 }},
		{"unknown mode", func(c *Config) { c.Mode = "turbo" }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := testConfig()
			tc.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
	assert.NoError(t, testConfig().Validate())
}

func TestNew_RequiresActuators(t *testing.T) {
	_, err := New(testConfig(), nil, &fakeParticles{})
	assert.Error(t, err)
	_, err = New(testConfig(), &fakeQuality{}, nil)
	assert.Error(t, err)
}

func TestEvaluate_InvalidForecastHoldsAndResetsEMA(t *testing.T) {
	cfg := testConfig()
	cfg.Alpha = 0.5
	c, _, _ := newTestController(t, cfg, 3, 500)
	now := time.Unix(0, 0)

	d := c.Evaluate(now, 20, true, false)
	require.True(t, d.SmoothedValid)
	assert.Equal(t, 20.0, d.SmoothedMs)

	// Invalid forecast: hold, and the EMA is unset.
	d = c.Evaluate(now.Add(time.Second), 0, false, false)
	assert.Equal(t, constants.ActionHold, d.Action)
	assert.False(t, d.SmoothedValid)

	// The next valid forecast seeds the EMA fresh, no blend with 20.
	d = c.Evaluate(now.Add(2*time.Second), 10, true, false)
	assert.Equal(t, 10.0, d.SmoothedMs)
}

func TestEvaluate_DeadbandNoAction(t *testing.T) {
	c, fq, fp := newTestController(t, testConfig(), 3, 500)
	d := c.Evaluate(time.Unix(0, 0), 16.7+0.9, true, false)
	assert.Equal(t, constants.ActionNone, d.Action)
	assert.Equal(t, constants.StateNormal, d.State)
	assert.Equal(t, 3, fq.q)
	assert.Equal(t, 500.0, fp.b)
}

func TestEvaluate_HysteresisNoFlicker(t *testing.T) {
	cfg := testConfig()
	cfg.Cooldown = 0 // isolate hysteresis from cooldown
	c, _, _ := newTestController(t, cfg, 5, 500)
	now := time.Unix(0, 0)

	// Error 1.5 is above deadband but below enterHigh: stays Normal.
	d := c.Evaluate(now, 16.7+1.5, true, false)
	assert.Equal(t, constants.StateNormal, d.State)
	assert.Equal(t, constants.ActionNone, d.Action)

	// Error above enterHigh: enters ReduceLoad.
	d = c.Evaluate(now.Add(time.Second), 16.7+2.5, true, false)
	assert.Equal(t, constants.StateReduceLoad, d.State)

	// Error drops back below enterHigh but stays >= exitLow: must NOT
	// flicker back to Normal.
	for i := 2; i < 10; i++ {
		d = c.Evaluate(now.Add(time.Duration(i)*time.Second), 16.7+1.2, true, false)
		assert.Equal(t, constants.StateReduceLoad, d.State, "tick %d", i)
	}

	// Only below exitLow does the state return to Normal. Error must
	// also clear the deadband for the transition to be evaluated.
	d = c.Evaluate(now.Add(time.Minute), 16.7-1.5, true, false)
	assert.Equal(t, constants.StateNormal, d.State)
}

func TestEvaluate_CooldownSpacesActuations(t *testing.T) {
	c, fq, _ := newTestController(t, testConfig(), 5, 500)
	now := time.Unix(0, 0)

	d := c.Evaluate(now, 25, true, false)
	require.Equal(t, constants.ActionQualityDown, d.Action)
	assert.Equal(t, 4, fq.q)

	// Within the cooldown window: no resource change, but the decision
	// reports cooldown and the state machine still runs.
	for _, dt := range []time.Duration{100 * time.Millisecond, time.Second, 1999 * time.Millisecond} {
		d = c.Evaluate(now.Add(dt), 25, true, false)
		assert.Equal(t, constants.ActionCooldown, d.Action, "dt=%s", dt)
		assert.True(t, d.CooldownActive)
		assert.Equal(t, 4, fq.q)
	}

	// At the cooldown boundary the next step lands.
	d = c.Evaluate(now.Add(2*time.Second), 25, true, false)
	assert.Equal(t, constants.ActionQualityDown, d.Action)
	assert.Equal(t, 3, fq.q)
	assert.Equal(t, int64(2), c.ActuationCount())
}

func TestEvaluate_ReducePriority_QualityThenParticles(t *testing.T) {
	cfg := testConfig()
	cfg.Cooldown = 0
	cfg.QualityFloor = 0
	c, fq, fp := newTestController(t, cfg, 1, 250)
	now := time.Unix(0, 0)

	d := c.Evaluate(now, 25, true, false)
	assert.Equal(t, constants.ActionQualityDown, d.Action)
	assert.Equal(t, 0, fq.q)

	// Quality at floor: particles take the hit, clamped at the floor.
	d = c.Evaluate(now.Add(time.Second), 25, true, false)
	assert.Equal(t, constants.ActionParticlesDown, d.Action)
	assert.Equal(t, 150.0, fp.b)

	fp.b = 50
	d = c.Evaluate(now.Add(2*time.Second), 25, true, false)
	assert.Equal(t, constants.ActionParticlesDown, d.Action)
	assert.Equal(t, 0.0, fp.b)

	// Both knobs exhausted: nothing left to do.
	d = c.Evaluate(now.Add(3*time.Second), 25, true, false)
	assert.Equal(t, constants.ActionNone, d.Action)
	assert.Equal(t, constants.StateReduceLoad, d.State)
}

func TestEvaluate_RecoveryPriority_ParticlesThenQuality(t *testing.T) {
	cfg := testConfig()
	cfg.Cooldown = 0
	c, fq, fp := newTestController(t, cfg, 3, 950)
	now := time.Unix(0, 0)

	// Forecast comfortably under target: particles are restored first,
	// clamped at the ceiling.
	d := c.Evaluate(now, 10, true, false)
	assert.Equal(t, constants.ActionParticlesUp, d.Action)
	assert.Equal(t, 1000.0, fp.b)

	// Particles at ceiling: quality rises.
	d = c.Evaluate(now.Add(time.Second), 10, true, false)
	assert.Equal(t, constants.ActionQualityUp, d.Action)
	assert.Equal(t, 4, fq.q)

	// Quality at ceiling too: no step possible.
	fq.q = 5
	d = c.Evaluate(now.Add(2*time.Second), 10, true, false)
	assert.Equal(t, constants.ActionNone, d.Action)
}

func TestEvaluate_SteadyStateAbovePositiveDeadband(t *testing.T) {
	cfg := testConfig()
	cfg.Cooldown = 0
	c, fq, fp := newTestController(t, cfg, 3, 500)

	// Error +1.5: above deadband, below enterHigh, state Normal.
	d := c.Evaluate(time.Unix(0, 0), 16.7+1.5, true, false)
	assert.Equal(t, constants.ActionNone, d.Action)
	assert.Equal(t, 3, fq.q)
	assert.Equal(t, 500.0, fp.b)
}

func TestEvaluate_FreezeSuppressesActuation(t *testing.T) {
	c, fq, _ := newTestController(t, testConfig(), 5, 500)

	d := c.Evaluate(time.Unix(0, 0), 30, true, true)
	assert.Equal(t, constants.ActionHold, d.Action)
	assert.True(t, d.Frozen)
	assert.Equal(t, 5, fq.q)
	assert.Equal(t, constants.StateNormal, c.State())
}

func TestEvaluate_DisabledAndNonClosedLoopHold(t *testing.T) {
	for _, mutate := range []func(*Config){
		func(c *Config) { c.Enabled = false },
		func(c *Config) { c.Mode = constants.ExecPredictionOnly },
		func(c *Config) { c.Mode = constants.ExecBaseline },
	} {
		cfg := testConfig()
		mutate(&cfg)
		c, fq, _ := newTestController(t, cfg, 5, 500)

		d := c.Evaluate(time.Unix(0, 0), 30, true, false)
		assert.Equal(t, constants.ActionHold, d.Action)
		assert.Equal(t, 5, fq.q)
		// The forecast path still reports smoothing for telemetry.
		assert.True(t, d.SmoothedValid)
	}
}

// Sustained 20ms smoothed forecast against a 16.7ms target must drop
// quality exactly once per cooldown interval until the floor.
func TestEvaluate_SustainedOverloadStepsOncePerCooldown(t *testing.T) {
	cfg := testConfig()
	c, fq, _ := newTestController(t, cfg, 3, 0)

	now := time.Unix(0, 0)
	frame := 16 * time.Millisecond
	drops := 0
	for i := 0; i < 1000; i++ {
		d := c.Evaluate(now.Add(time.Duration(i)*frame), 20, true, false)
		if d.Action == constants.ActionQualityDown {
			drops++
		}
	}

	// 1000 frames at 16ms is 16s; with a 2s cooldown the first drop is
	// immediate and one more lands per interval until quality 0.
	assert.Equal(t, 3, drops)
	assert.Equal(t, 0, fq.q)
	assert.Equal(t, int64(3), c.ActuationCount())
}
