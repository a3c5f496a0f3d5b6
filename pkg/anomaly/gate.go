package anomaly

import (
	"math"
	"time"

	"k8s.io/klog/v2"
)

// PoseSample is the per-frame motion telemetry the gate classifies.
type PoseSample struct {
	// LinSpeed is head linear speed in m/s.
	LinSpeed float64
	// AngSpeed is head angular speed in deg/s.
	AngSpeed float64
	// DeltaPos is the same-frame pose translation delta in meters.
	DeltaPos float64
	// DeltaRotDeg is the same-frame pose rotation delta in degrees.
	DeltaRotDeg float64
}

// Config holds the detection thresholds and timing windows.
type Config struct {
	// StillLinSpeed / StillAngSpeed classify the head as "still".
	StillLinSpeed float64
	StillAngSpeed float64
	// JumpPos / JumpRotDeg classify the same-frame delta as a jump.
	JumpPos    float64
	JumpRotDeg float64
	// Debounce is the minimum interval between two accepted detections,
	// so one physical correction cannot fire across adjacent frames.
	Debounce time.Duration
	// Hold is how long actuation stays frozen after an accepted event.
	Hold time.Duration
}

// DefaultConfig returns thresholds tuned for seated head tracking.
func DefaultConfig() Config {
	return Config{
		StillLinSpeed: 0.05,
		StillAngSpeed: 5,
		JumpPos:       0.03,
		JumpRotDeg:    1.5,
		Debounce:      500 * time.Millisecond,
		Hold:          2 * time.Second,
	}
}

// Event is the result of one observation.
type Event struct {
	// Detected is true only for accepted detections (past debounce).
	Detected bool
	// Magnitude is the larger of the normalized jump ratios, reported
	// for telemetry even when the detection was not accepted.
	Magnitude float64
}

// Gate detects transient pose-discontinuity events: the pose jumps while
// the head is otherwise still, the signature of a tracking correction.
// While a freeze is active the adaptive controller must hold.
type Gate struct {
	cfg Config

	lastAccepted time.Time
	freezeUntil  time.Time
	haveAccepted bool
}

// NewGate creates a gate with the given thresholds.
func NewGate(cfg Config) *Gate {
	return &Gate{cfg: cfg}
}

// Observe classifies one pose sample. An accepted detection extends the
// freeze deadline to now + hold; deadlines are extended, never stacked.
func (g *Gate) Observe(now time.Time, s PoseSample) Event {
	var mag float64
	if g.cfg.JumpPos > 0 {
		mag = s.DeltaPos / g.cfg.JumpPos
	}
	if g.cfg.JumpRotDeg > 0 {
		mag = math.Max(mag, s.DeltaRotDeg/g.cfg.JumpRotDeg)
	}

	still := s.LinSpeed < g.cfg.StillLinSpeed && s.AngSpeed < g.cfg.StillAngSpeed
	jump := s.DeltaPos > g.cfg.JumpPos || s.DeltaRotDeg > g.cfg.JumpRotDeg
	if !still || !jump {
		return Event{Magnitude: mag}
	}

	if g.haveAccepted && now.Sub(g.lastAccepted) < g.cfg.Debounce {
		klog.V(4).Infof("Pose jump (mag=%.2f) within debounce window, ignored", mag)
		return Event{Magnitude: mag}
	}

	g.haveAccepted = true
	g.lastAccepted = now
	g.freezeUntil = now.Add(g.cfg.Hold)
	klog.V(4).Infof("Loop-closure event accepted (mag=%.2f), freezing actuation until %s",
		mag, g.freezeUntil.Format(time.RFC3339Nano))
	return Event{Detected: true, Magnitude: mag}
}

// Active reports whether the freeze window covers now.
func (g *Gate) Active(now time.Time) bool {
	return now.Before(g.freezeUntil)
}

// FreezeUntil returns the current freeze deadline (zero when never
// triggered).
func (g *Gate) FreezeUntil() time.Time { return g.freezeUntil }
