package forecast

import "fmt"

// EMA is an exponential moving average that distinguishes "unset" from
// zero. The controller resets it whenever a forecast is invalid or the
// window is not ready, so stale smoothed values never leak into a later
// decision after a gap.
type EMA struct {
	alpha float64
	value float64
	set   bool
}

// NewEMA validates the smoothing factor; alpha must be in (0, 1].
func NewEMA(alpha float64) (*EMA, error) {
	if alpha <= 0 || alpha > 1 {
		return nil, fmt.Errorf("ema alpha must be in (0,1], got %v", alpha)
	}
	return &EMA{alpha: alpha}, nil
}

// Update folds v into the average and returns the new smoothed value.
// The first update after a reset seeds the average directly.
func (e *EMA) Update(v float64) float64 {
	if !e.set {
		e.value = v
		e.set = true
		return e.value
	}
	e.value = e.alpha*v + (1-e.alpha)*e.value
	return e.value
}

// Value returns the smoothed value and whether it is set.
func (e *EMA) Value() (float64, bool) {
	return e.value, e.set
}

// Reset marks the average unset.
func (e *EMA) Reset() {
	e.value = 0
	e.set = false
}
