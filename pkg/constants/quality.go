package constants

// This file centralizes the quality-level scale shared by the scenario
// driver and the adaptive controller.

const (
	// QualityMin is the lowest quality level (heaviest degradation).
	QualityMin = 0
	// QualityMax is the highest quality level.
	QualityMax = 5
	// QualityLevels is the size of the per-level multiplier tables.
	QualityLevels = QualityMax - QualityMin + 1
)

const (
	// FeatureCount is the width of one feature vector fed to the predictor:
	// target-count, smoothed-fps, head linear speed, head angular speed,
	// frame-cost.
	FeatureCount = 5

	// EmitterBufferCap bounds the derived per-emitter buffered-item cap.
	EmitterBufferCap = 5000
)
