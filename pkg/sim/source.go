// Package sim provides a deterministic synthetic frame source. It stands
// in for a live renderer and motion-capture rig: frame cost scales with
// the current workload, head pose follows a bounded random walk, and a
// scripted pose jump fires periodically to exercise the anomaly gate.
package sim

import (
	"math/rand"
	"time"

	"render-budget-controller/pkg/telemetry"
)

// WorkloadStats is the read-only view of the pool the simulator prices.
type WorkloadStats interface {
	Count() int
	ParticleBudget() float64
}

// FrameSource yields one frame sample per tick.
type FrameSource interface {
	Next(now time.Time) telemetry.FrameSample
}

// Config holds the cost model and motion parameters.
type Config struct {
	// BaseCostMs is the fixed per-frame overhead.
	BaseCostMs float64
	// CostPerUnitMs is the marginal cost of one workload unit.
	CostPerUnitMs float64
	// CostPerKParticlesMs is the marginal cost of 1000 particles/s of
	// emission budget.
	CostPerKParticlesMs float64
	// NoiseStdMs is the Gaussian frame-cost jitter.
	NoiseStdMs float64
	// FPSAlpha smooths the reported frame rate.
	FPSAlpha float64
	// FrameInterval converts speeds into same-frame pose deltas.
	FrameInterval time.Duration

	// JumpEveryFrames injects a tracking-correction signature every N
	// frames (0 disables).
	JumpEveryFrames int
	// JumpDeltaPos / JumpDeltaRotDeg are the injected same-frame deltas.
	JumpDeltaPos    float64
	JumpDeltaRotDeg float64

	Seed int64
}

// DefaultConfig returns a cost model that saturates a 16.7ms budget at a
// few hundred units.
func DefaultConfig() Config {
	return Config{
		BaseCostMs:          4.0,
		CostPerUnitMs:       0.05,
		CostPerKParticlesMs: 2.0,
		NoiseStdMs:          0.4,
		FPSAlpha:            0.1,
		FrameInterval:       16 * time.Millisecond,
		JumpEveryFrames:     0,
		JumpDeltaPos:        0.06,
		JumpDeltaRotDeg:     3,
		Seed:                1,
	}
}

// Source is a seeded synthetic frame generator.
type Source struct {
	cfg   Config
	stats WorkloadStats
	rng   *rand.Rand

	frame    int64
	fps      float64
	fpsSet   bool
	linSpeed float64
	angSpeed float64
}

// NewSource creates a source pricing the given workload.
func NewSource(cfg Config, stats WorkloadStats) *Source {
	if cfg.FrameInterval <= 0 {
		cfg.FrameInterval = DefaultConfig().FrameInterval
	}
	if cfg.FPSAlpha <= 0 || cfg.FPSAlpha > 1 {
		cfg.FPSAlpha = DefaultConfig().FPSAlpha
	}
	return &Source{
		cfg:   cfg,
		stats: stats,
		rng:   rand.New(rand.NewSource(cfg.Seed)),
	}
}

// Next produces the next frame sample.
func (s *Source) Next(now time.Time) telemetry.FrameSample {
	s.frame++

	cost := s.cfg.BaseCostMs +
		s.cfg.CostPerUnitMs*float64(s.stats.Count()) +
		s.cfg.CostPerKParticlesMs*s.stats.ParticleBudget()/1000 +
		s.rng.NormFloat64()*s.cfg.NoiseStdMs
	if cost < 0.1 {
		cost = 0.1
	}

	fps := 1000 / cost
	if !s.fpsSet {
		s.fps = fps
		s.fpsSet = true
	} else {
		s.fps = s.cfg.FPSAlpha*fps + (1-s.cfg.FPSAlpha)*s.fps
	}

	dt := s.cfg.FrameInterval.Seconds()
	sample := telemetry.FrameSample{
		FrameCostMs: cost,
		SmoothedFPS: s.fps,
		LatencyMs:   cost,
	}

	if s.cfg.JumpEveryFrames > 0 && s.frame%int64(s.cfg.JumpEveryFrames) == 0 {
		// Tracking correction: pose jumps while the head is still.
		s.linSpeed = 0
		s.angSpeed = 0
		sample.DeltaPos = s.cfg.JumpDeltaPos
		sample.DeltaRotDeg = s.cfg.JumpDeltaRotDeg
		return sample
	}

	// Bounded random walk for head motion.
	s.linSpeed = clamp(s.linSpeed+s.rng.NormFloat64()*0.05, 0, 1.5)
	s.angSpeed = clamp(s.angSpeed+s.rng.NormFloat64()*4, 0, 120)
	sample.HeadLinSpeed = s.linSpeed
	sample.HeadAngSpeed = s.angSpeed
	sample.DeltaPos = s.linSpeed * dt
	sample.DeltaRotDeg = s.angSpeed * dt
	return sample
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
