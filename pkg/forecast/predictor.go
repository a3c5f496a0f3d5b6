package forecast

import (
	"math"

	"gonum.org/v1/gonum/stat"
	"k8s.io/klog/v2"
)

// Predictor produces a frame-cost forecast in milliseconds from a ready
// window of normalized feature vectors. valid=false means the prediction
// must be discarded for this tick; the model behind the interface is out
// of scope for the control path.
type Predictor interface {
	Predict(window []Vector) (ms float64, valid bool)
}

// Validator rejects predictions that are NaN/Inf or outside the sane
// latency range.
type Validator struct {
	MinMs float64
	MaxMs float64
}

// DefaultValidator covers the plausible frame-cost range for a
// real-time renderer.
func DefaultValidator() Validator {
	return Validator{MinMs: 0.1, MaxMs: 200}
}

// OK reports whether ms is a usable forecast.
func (v Validator) OK(ms float64) bool {
	if math.IsNaN(ms) || math.IsInf(ms, 0) {
		return false
	}
	return ms >= v.MinMs && ms <= v.MaxMs
}

// TrendPredictor is the built-in reference predictor: it de-normalizes
// the frame-cost column, fits an ordinary least-squares line over the
// window and extrapolates one tick ahead. It stands in for the external
// model during simulation and tests.
type TrendPredictor struct {
	scaler    *Scaler
	validator Validator
}

// NewTrendPredictor builds the reference predictor over the same scaler
// used to fill the window.
func NewTrendPredictor(scaler *Scaler, validator Validator) *TrendPredictor {
	return &TrendPredictor{scaler: scaler, validator: validator}
}

// Predict extrapolates the frame-cost trend one step past the window.
func (p *TrendPredictor) Predict(window []Vector) (float64, bool) {
	n := len(window)
	if n < 2 {
		return 0, false
	}
	xs := make([]float64, n)
	ys := make([]float64, n)
	for i, v := range window {
		xs[i] = float64(i)
		ys[i] = p.scaler.Denormalize(FeatFrameCost, v[FeatFrameCost])
	}
	intercept, slope := stat.LinearRegression(xs, ys, nil, false)
	ms := intercept + slope*float64(n)
	if !p.validator.OK(ms) {
		klog.V(4).Infof("Trend forecast %.2fms rejected by validator", ms)
		return ms, false
	}
	return ms, true
}

// StaticPredictor always returns a fixed forecast. Used by tests and by
// the baseline execution mode plumbing.
type StaticPredictor struct {
	ValueMs float64
	IsValid bool
}

// Predict returns the configured value.
func (p *StaticPredictor) Predict([]Vector) (float64, bool) {
	return p.ValueMs, p.IsValid
}
