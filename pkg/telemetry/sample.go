package telemetry

// FrameSample is the raw per-frame telemetry entering the control loop:
// one frame's render cost plus the head motion needed for feature
// extraction and anomaly gating.
type FrameSample struct {
	// FrameCostMs is the measured render cost of the frame.
	FrameCostMs float64
	// SmoothedFPS is the source-side smoothed frame rate.
	SmoothedFPS float64
	// LatencyMs is the measured end-to-end latency for the frame.
	LatencyMs float64

	// HeadLinSpeed is head linear speed in m/s.
	HeadLinSpeed float64
	// HeadAngSpeed is head angular speed in deg/s.
	HeadAngSpeed float64
	// DeltaPos is the same-frame pose translation delta in meters.
	DeltaPos float64
	// DeltaRotDeg is the same-frame pose rotation delta in degrees.
	DeltaRotDeg float64
}
