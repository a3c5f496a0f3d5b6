package forecast

import (
	"fmt"

	"render-budget-controller/pkg/constants"
)

// Feature indices within a Vector.
const (
	FeatTargetCount = iota
	FeatSmoothedFPS
	FeatHeadLinSpeed
	FeatHeadAngSpeed
	FeatFrameCost
)

// Vector is one normalized per-tick feature sample.
type Vector [constants.FeatureCount]float64

// Scaler applies per-feature (x - mean) / scale normalization.
type Scaler struct {
	mean  Vector
	scale Vector
}

// NewScaler validates the normalization parameters. A wrong table length
// or a zero scale divisor is a configuration error and fatal at startup,
// never a per-tick condition.
func NewScaler(mean, scale []float64) (*Scaler, error) {
	if len(mean) != constants.FeatureCount || len(scale) != constants.FeatureCount {
		return nil, fmt.Errorf("scaler tables must have %d entries, got mean=%d scale=%d",
			constants.FeatureCount, len(mean), len(scale))
	}
	s := &Scaler{}
	for i := 0; i < constants.FeatureCount; i++ {
		if scale[i] == 0 {
			return nil, fmt.Errorf("scaler scale[%d] is zero", i)
		}
		s.mean[i] = mean[i]
		s.scale[i] = scale[i]
	}
	return s, nil
}

// Normalize maps a raw 5-tuple into normalized feature space.
func (s *Scaler) Normalize(raw Vector) Vector {
	var out Vector
	for i := range raw {
		out[i] = (raw[i] - s.mean[i]) / s.scale[i]
	}
	return out
}

// Denormalize maps one normalized feature value back to raw units.
func (s *Scaler) Denormalize(feature int, v float64) float64 {
	return v*s.scale[feature] + s.mean[feature]
}
