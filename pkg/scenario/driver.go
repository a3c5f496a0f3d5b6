package scenario

import (
	"math"
	"math/rand"
	"time"

	"k8s.io/klog/v2"

	"render-budget-controller/pkg/constants"
	"render-budget-controller/pkg/util"
)

// WorkloadTarget is the sink for computed targets, satisfied by
// workload.Pool. The driver never reaches into the pool beyond it.
type WorkloadTarget interface {
	SetCount(n int)
	SetParticleBudget(total float64)
}

// QualityOverride lets an external actor force the quality level for a
// tick. ok=false means no override this tick.
type QualityOverride func() (level int, ok bool)

// Config holds the immutable scenario parameters.
type Config struct {
	Mode constants.ScenarioMode

	// Workload bounds for the raw target count.
	MinCount int
	MaxCount int
	// InitialCount seeds the pattern baseline.
	InitialCount int

	// Ramp mode: target += RampStep every RampInterval, wrapping to
	// MinCount once it exceeds MaxCount.
	RampStep     int
	RampInterval time.Duration

	// Bursts mode: a slowly ramping baseline plus a recurring additive
	// spike of BurstAdd for BurstDuration every BurstPeriod.
	BurstAdd      int
	BurstPeriod   time.Duration
	BurstDuration time.Duration

	// RandomWalk mode: target perturbed by a delta uniform in
	// [-WalkMagnitude, +WalkMagnitude] every WalkInterval.
	WalkMagnitude int
	WalkInterval  time.Duration
	WalkSeed      int64

	// CountMultipliers maps quality level 0-5 onto a factor applied to
	// the raw target count. A malformed table falls back to neutral 1.0.
	CountMultipliers []float64
	// ParticleMultipliers maps quality level 0-5 onto a factor applied
	// to BaseParticleBudget when QualityAffectsParticles is set.
	ParticleMultipliers []float64

	QualityAffectsParticles bool
	BaseParticleBudget      float64
	InitialQuality          int
}

// DefaultConfig returns the scenario defaults.
func DefaultConfig() Config {
	return Config{
		Mode:                    constants.ScenarioRamp,
		MinCount:                10,
		MaxCount:                400,
		InitialCount:            50,
		RampStep:                20,
		RampInterval:            time.Second,
		BurstAdd:                150,
		BurstPeriod:             10 * time.Second,
		BurstDuration:           2 * time.Second,
		WalkMagnitude:           25,
		WalkInterval:            500 * time.Millisecond,
		WalkSeed:                1,
		CountMultipliers:        []float64{0.25, 0.4, 0.6, 0.8, 1.0, 1.2},
		ParticleMultipliers:     []float64{0.0, 0.2, 0.4, 0.6, 0.8, 1.0},
		QualityAffectsParticles: true,
		BaseParticleBudget:      1000,
		InitialQuality:          constants.QualityMax,
	}
}

// Driver generates a time-varying target unit count according to the
// configured pattern and maps the discrete quality level onto it before
// forwarding to the workload pool.
type Driver struct {
	cfg    Config
	target WorkloadTarget
	rng    *rand.Rand

	quality  int
	raw      int
	eff      int
	override QualityOverride

	// budgetQuality is the level the particle budget was last derived
	// for. The budget baseline is re-forwarded only when the level
	// changes, so budget steps taken by the adaptive controller between
	// level changes persist instead of being reverted every tick.
	budgetQuality int

	epoch      time.Time
	lastStepAt time.Time
}

// NewDriver creates a driver bound to the given workload target.
func NewDriver(cfg Config, target WorkloadTarget) *Driver {
	if !constants.ValidScenarioModes[cfg.Mode] {
		klog.Warningf("Unknown scenario mode %q, falling back to %q", cfg.Mode, constants.ScenarioIdle)
		cfg.Mode = constants.ScenarioIdle
	}
	if cfg.MaxCount < cfg.MinCount {
		cfg.MaxCount = cfg.MinCount
	}
	d := &Driver{
		cfg:           cfg,
		target:        target,
		rng:           rand.New(rand.NewSource(cfg.WalkSeed)),
		quality:       util.ClampInt(cfg.InitialQuality, constants.QualityMin, constants.QualityMax),
		raw:           util.ClampInt(cfg.InitialCount, cfg.MinCount, cfg.MaxCount),
		budgetQuality: -1,
	}
	d.eff = d.raw
	return d
}

// SetQualityOverride installs the external override path. The override
// takes precedence over the internally held level on every tick.
func (d *Driver) SetQualityOverride(fn QualityOverride) {
	d.override = fn
}

// Quality returns the current quality level.
func (d *Driver) Quality() int { return d.quality }

// Target returns the current raw (pre-multiplier) target count.
func (d *Driver) Target() int { return d.raw }

// SetQuality clamps q to the valid level range and re-applies the
// current effective target (burst-inclusive) through the multiplier
// pipeline immediately, so a quality change takes effect without
// waiting for the next pattern step.
func (d *Driver) SetQuality(q int) {
	q = util.ClampInt(q, constants.QualityMin, constants.QualityMax)
	if q != d.quality {
		klog.V(4).Infof("Quality level %d -> %d", d.quality, q)
	}
	d.quality = q
	d.ApplyCountWithQuality(d.eff)
}

// Tick advances the scenario pattern and pushes the resulting target
// through the quality pipeline. now must come from the single per-tick
// time source.
func (d *Driver) Tick(now time.Time) {
	if d.epoch.IsZero() {
		d.epoch = now
		d.lastStepAt = now
	}
	if d.override != nil {
		if q, ok := d.override(); ok {
			d.quality = util.ClampInt(q, constants.QualityMin, constants.QualityMax)
		}
	}

	switch d.cfg.Mode {
	case constants.ScenarioIdle:
		// Target never changes on its own.
	case constants.ScenarioRamp:
		if now.Sub(d.lastStepAt) >= d.cfg.RampInterval {
			d.lastStepAt = now
			d.raw += d.cfg.RampStep
			if d.raw > d.cfg.MaxCount {
				d.raw = d.cfg.MinCount
			}
		}
	case constants.ScenarioBursts:
		if now.Sub(d.lastStepAt) >= d.cfg.RampInterval {
			d.lastStepAt = now
			d.raw += d.cfg.RampStep
			if d.raw > d.cfg.MaxCount {
				d.raw = d.cfg.MinCount
			}
		}
		eff := d.raw
		if d.inBurstWindow(now) {
			eff += d.cfg.BurstAdd
		}
		d.ApplyCountWithQuality(eff)
		return
	case constants.ScenarioRandomWalk:
		if d.cfg.WalkMagnitude > 0 && now.Sub(d.lastStepAt) >= d.cfg.WalkInterval {
			d.lastStepAt = now
			delta := d.rng.Intn(2*d.cfg.WalkMagnitude+1) - d.cfg.WalkMagnitude
			d.raw = util.ClampInt(d.raw+delta, d.cfg.MinCount, d.cfg.MaxCount)
		}
	}

	d.ApplyCountWithQuality(d.raw)
}

// inBurstWindow reports whether now falls inside the recurring spike.
func (d *Driver) inBurstWindow(now time.Time) bool {
	if d.cfg.BurstPeriod <= 0 || d.cfg.BurstDuration <= 0 {
		return false
	}
	phase := now.Sub(d.epoch) % d.cfg.BurstPeriod
	return phase < d.cfg.BurstDuration
}

// ApplyCountWithQuality multiplies raw by the per-quality count
// multiplier, clamps to the workload bounds and forwards it to the pool.
// When quality also scales particles, the particle budget baseline is
// re-derived and forwarded only on a quality-level change; repeating it
// every tick would revert any budget step the adaptive controller took
// in between.
func (d *Driver) ApplyCountWithQuality(raw int) {
	d.eff = raw
	m := d.multiplier(d.cfg.CountMultipliers)
	n := util.ClampInt(int(math.Round(float64(raw)*m)), d.cfg.MinCount, d.cfg.MaxCount)
	d.target.SetCount(n)

	if d.cfg.QualityAffectsParticles && d.quality != d.budgetQuality {
		pm := d.multiplier(d.cfg.ParticleMultipliers)
		budget := util.ClampFloat(d.cfg.BaseParticleBudget*pm, 0, 2*d.cfg.BaseParticleBudget)
		d.target.SetParticleBudget(budget)
		d.budgetQuality = d.quality
	}
}

// multiplier looks up the current quality level in a 6-entry table,
// falling back to neutral 1.0 when the table is malformed.
func (d *Driver) multiplier(table []float64) float64 {
	if len(table) != constants.QualityLevels {
		klog.Warningf("Malformed quality multiplier table (len=%d), using neutral 1.0", len(table))
		return 1.0
	}
	return table[d.quality]
}
