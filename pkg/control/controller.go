package control

import (
	"fmt"
	"math"
	"time"

	"k8s.io/klog/v2"

	"render-budget-controller/pkg/constants"
	"render-budget-controller/pkg/forecast"
)

// QualityActuator is the quality knob, satisfied by scenario.Driver.
type QualityActuator interface {
	Quality() int
	SetQuality(q int)
}

// ParticleActuator is the emission-budget knob, satisfied by
// workload.Pool.
type ParticleActuator interface {
	ParticleBudget() float64
	SetParticleBudget(total float64)
}

// Config holds the immutable control parameters.
type Config struct {
	// TargetMs is the frame latency budget the loop defends.
	TargetMs float64
	// DeadbandMs is the error magnitude below which no action is taken.
	DeadbandMs float64
	// EnterHighMs / ExitLowMs bound the hysteresis gap: Normal enters
	// ReduceLoad only above EnterHighMs, ReduceLoad exits only below
	// ExitLowMs. EnterHighMs must exceed ExitLowMs.
	EnterHighMs float64
	ExitLowMs   float64
	// Alpha is the forecast EMA smoothing factor in (0,1].
	Alpha float64
	// Cooldown is the minimum interval between two resource-changing
	// actuations.
	Cooldown time.Duration

	// QualityFloor / QualityCeil bound the quality knob.
	QualityFloor int
	QualityCeil  int
	// ParticleStep / ParticleMin / ParticleMax bound the budget knob.
	ParticleStep float64
	ParticleMin  float64
	ParticleMax  float64

	// Enabled gates all actuation; flipping it off takes effect on the
	// next tick.
	Enabled bool
	// Mode must be ExecClosedLoop for any actuation to happen.
	Mode constants.ExecMode
}

// DefaultConfig returns control defaults for a 60Hz latency budget.
func DefaultConfig() Config {
	return Config{
		TargetMs:     16.7,
		DeadbandMs:   1.0,
		EnterHighMs:  2.0,
		ExitLowMs:    0.5,
		Alpha:        0.3,
		Cooldown:     2 * time.Second,
		QualityFloor: constants.QualityMin,
		QualityCeil:  constants.QualityMax,
		ParticleStep: 100,
		ParticleMin:  0,
		ParticleMax:  2000,
		Enabled:      true,
		Mode:         constants.ExecClosedLoop,
	}
}

// Validate performs the fatal startup checks.
func (c Config) Validate() error {
	if c.TargetMs <= 0 {
		return fmt.Errorf("target latency must be positive, got %v", c.TargetMs)
	}
	if c.DeadbandMs < 0 {
		return fmt.Errorf("deadband must be non-negative, got %v", c.DeadbandMs)
	}
	if c.EnterHighMs <= c.ExitLowMs {
		return fmt.Errorf("enterHigh (%v) must exceed exitLow (%v) to form a hysteresis gap",
			c.EnterHighMs, c.ExitLowMs)
	}
	if c.Alpha <= 0 || c.Alpha > 1 {
		return fmt.Errorf("ema alpha must be in (0,1], got %v", c.Alpha)
	}
	if c.QualityFloor > c.QualityCeil {
		return fmt.Errorf("quality floor %d above ceiling %d", c.QualityFloor, c.QualityCeil)
	}
	if c.ParticleStep <= 0 {
		return fmt.Errorf("particle step must be positive, got %v", c.ParticleStep)
	}
	if c.ParticleMin > c.ParticleMax {
		return fmt.Errorf("particle floor %v above ceiling %v", c.ParticleMin, c.ParticleMax)
	}
	if !constants.ValidExecModes[c.Mode] {
		return fmt.Errorf("unknown execution mode %q", c.Mode)
	}
	return nil
}

// Decision is the outcome of one evaluation tick.
type Decision struct {
	Action constants.Action
	State  constants.ControllerState
	// ErrorMs is smoothed forecast minus target; meaningful only when
	// SmoothedValid.
	ErrorMs        float64
	SmoothedMs     float64
	SmoothedValid  bool
	CooldownActive bool
	Frozen         bool
}

// Controller is the adaptive control core: it smooths forecasts,
// computes the control error against the latency budget and runs the
// hysteresis state machine, issuing at most one actuation per tick.
// Actuators are resolved once at construction and never looked up
// dynamically.
type Controller struct {
	cfg       Config
	quality   QualityActuator
	particles ParticleActuator
	ema       *forecast.EMA

	state         constants.ControllerState
	lastActuation time.Time
	haveActuated  bool
	actuations    int64
}

// New wires the controller to its actuators. Configuration errors are
// fatal at startup and surface here.
func New(cfg Config, quality QualityActuator, particles ParticleActuator) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("control config: %w", err)
	}
	if quality == nil || particles == nil {
		return nil, fmt.Errorf("control: both actuators must be provided")
	}
	ema, err := forecast.NewEMA(cfg.Alpha)
	if err != nil {
		return nil, fmt.Errorf("control config: %w", err)
	}
	return &Controller{
		cfg:       cfg,
		quality:   quality,
		particles: particles,
		ema:       ema,
		state:     constants.StateNormal,
	}, nil
}

// State returns the current hysteresis state.
func (c *Controller) State() constants.ControllerState { return c.state }

// ActuationCount returns how many resource-changing steps have been
// taken since construction.
func (c *Controller) ActuationCount() int64 { return c.actuations }

// Evaluate runs one control tick. rawMs/rawValid is the predictor output
// for this tick (rawValid=false covers both invalid forecasts and an
// unready window); frozen asserts the anomaly freeze. now must be the
// single time source for the tick so the freeze check and the cooldown
// check cannot skew.
func (c *Controller) Evaluate(now time.Time, rawMs float64, rawValid bool, frozen bool) Decision {
	d := Decision{State: c.state, Frozen: frozen}

	// Keep the smoothing state honest before anything else: an invalid
	// or unready forecast unsets the EMA so stale values cannot leak
	// into a later decision.
	if rawValid {
		d.SmoothedMs = c.ema.Update(rawMs)
		d.SmoothedValid = true
		d.ErrorMs = d.SmoothedMs - c.cfg.TargetMs
	} else {
		c.ema.Reset()
	}

	if !d.SmoothedValid || frozen || !c.cfg.Enabled || c.cfg.Mode != constants.ExecClosedLoop {
		d.Action = constants.ActionHold
		return d
	}

	e := d.ErrorMs
	if math.Abs(e) < c.cfg.DeadbandMs {
		d.Action = constants.ActionNone
		return d
	}

	// Hysteresis transition. This applies even when the cooldown later
	// suppresses actuation, so the state reflects the latest error.
	switch c.state {
	case constants.StateNormal:
		if e > c.cfg.EnterHighMs {
			c.state = constants.StateReduceLoad
		}
	case constants.StateReduceLoad:
		if e < c.cfg.ExitLowMs {
			c.state = constants.StateNormal
		}
	}
	d.State = c.state

	if c.haveActuated && now.Sub(c.lastActuation) < c.cfg.Cooldown {
		d.Action = constants.ActionCooldown
		d.CooldownActive = true
		return d
	}

	d.Action = c.actuate(e)
	if d.Action.ResourceChanging() {
		// Cooldown anchors only on real resource changes, never on
		// cooldown/hold/none.
		c.lastActuation = now
		c.haveActuated = true
		c.actuations++
		klog.V(4).Infof("Actuation %s (state=%s err=%+.2fms smoothed=%.2fms quality=%d budget=%.0f)",
			d.Action, c.state, e, d.SmoothedMs, c.quality.Quality(), c.particles.ParticleBudget())
	}
	return d
}

// actuate performs exactly one step down the priority ladder. Degrading
// lowers quality first (coarse, high impact), then particles; recovery
// raises particles first because they are cheaper to restore.
func (c *Controller) actuate(e float64) constants.Action {
	switch {
	case c.state == constants.StateReduceLoad:
		if q := c.quality.Quality(); q > c.cfg.QualityFloor {
			c.quality.SetQuality(q - 1)
			return constants.ActionQualityDown
		}
		if cur := c.particles.ParticleBudget(); cur > c.cfg.ParticleMin {
			c.particles.SetParticleBudget(math.Max(cur-c.cfg.ParticleStep, c.cfg.ParticleMin))
			return constants.ActionParticlesDown
		}
		return constants.ActionNone

	case e < -c.cfg.DeadbandMs:
		// Comfortably under target: recover headroom.
		if cur := c.particles.ParticleBudget(); cur < c.cfg.ParticleMax {
			c.particles.SetParticleBudget(math.Min(cur+c.cfg.ParticleStep, c.cfg.ParticleMax))
			return constants.ActionParticlesUp
		}
		if q := c.quality.Quality(); q < c.cfg.QualityCeil {
			c.quality.SetQuality(q + 1)
			return constants.ActionQualityUp
		}
		return constants.ActionNone

	default:
		return constants.ActionNone
	}
}
