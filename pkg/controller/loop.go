// Package controller wires the control path together: scenario driver,
// workload pool, feature window, predictor, anomaly gate, adaptive
// controller and telemetry sink, evaluated once per frame from a single
// tick owner.
package controller

import (
	"fmt"
	"time"

	"k8s.io/klog/v2"

	"render-budget-controller/pkg/anomaly"
	"render-budget-controller/pkg/config"
	"render-budget-controller/pkg/constants"
	"render-budget-controller/pkg/control"
	"render-budget-controller/pkg/forecast"
	"render-budget-controller/pkg/scenario"
	"render-budget-controller/pkg/sim"
	"render-budget-controller/pkg/telemetry"
	"render-budget-controller/pkg/workload"
)

// Deps are the collaborators the loop owns or borrows. All references
// are resolved once at construction; nothing is looked up dynamically.
type Deps struct {
	Pool      *workload.Pool
	Driver    *scenario.Driver
	Scaler    *forecast.Scaler
	Window    *forecast.Window
	Predictor forecast.Predictor
	Gate      *anomaly.Gate
	Control   *control.Controller
	Sink      telemetry.Sink
	Source    sim.FrameSource
}

// Loop is the single tick owner. All component mutation happens from
// Tick, so no locking is needed anywhere on the control path.
type Loop struct {
	cfg  config.Config
	deps Deps

	frame int64
}

// New validates the wiring. Every dependency is required except the
// sink, which defaults to a no-op.
func New(cfg config.Config, deps Deps) (*Loop, error) {
	if deps.Pool == nil || deps.Driver == nil || deps.Scaler == nil ||
		deps.Window == nil || deps.Predictor == nil || deps.Gate == nil ||
		deps.Control == nil || deps.Source == nil {
		return nil, fmt.Errorf("controller loop: all dependencies except Sink must be provided")
	}
	if deps.Sink == nil {
		deps.Sink = telemetry.NopSink{}
	}
	return &Loop{cfg: cfg, deps: deps}, nil
}

// Tick runs one full control evaluation. now is the single time source
// for the tick: the scenario step, the anomaly freeze check and the
// cooldown check all see the same instant.
func (l *Loop) Tick(now time.Time, s telemetry.FrameSample) control.Decision {
	l.frame++

	// Scenario advances first so the feature vector reflects the target
	// the frame was rendered against.
	l.deps.Driver.Tick(now)

	raw := forecast.Vector{
		forecast.FeatTargetCount:  float64(l.deps.Driver.Target()),
		forecast.FeatSmoothedFPS:  s.SmoothedFPS,
		forecast.FeatHeadLinSpeed: s.HeadLinSpeed,
		forecast.FeatHeadAngSpeed: s.HeadAngSpeed,
		forecast.FeatFrameCost:    s.FrameCostMs,
	}
	ready := l.deps.Window.Push(l.deps.Scaler.Normalize(raw))

	var forecastMs float64
	var forecastValid bool
	if ready && l.cfg.Control.Mode != constants.ExecBaseline {
		forecastMs, forecastValid = l.deps.Predictor.Predict(l.deps.Window.Snapshot())
	}

	ev := l.deps.Gate.Observe(now, anomaly.PoseSample{
		LinSpeed:    s.HeadLinSpeed,
		AngSpeed:    s.HeadAngSpeed,
		DeltaPos:    s.DeltaPos,
		DeltaRotDeg: s.DeltaRotDeg,
	})
	frozen := l.deps.Gate.Active(now)

	d := l.deps.Control.Evaluate(now, forecastMs, forecastValid, frozen)

	l.deps.Sink.Append(telemetry.Record{
		Timestamp:          now,
		Frame:              l.frame,
		FrameCostMs:        s.FrameCostMs,
		SmoothedFPS:        s.SmoothedFPS,
		ScenarioMode:       string(l.cfg.Scenario.Mode),
		TargetCount:        l.deps.Driver.Target(),
		QualityLevel:       l.deps.Driver.Quality(),
		UnitCount:          l.deps.Pool.Count(),
		RendererCount:      l.deps.Pool.CountActiveRenderers(),
		EmitterCount:       l.deps.Pool.CountActiveParticleSystems(),
		HeadLinSpeed:       s.HeadLinSpeed,
		HeadAngSpeed:       s.HeadAngSpeed,
		LatencyMs:          s.LatencyMs,
		AnomalyDetected:    ev.Detected,
		AnomalyMagnitude:   ev.Magnitude,
		ForecastMs:         forecastMs,
		ForecastValid:      forecastValid,
		SmoothedForecastMs: d.SmoothedMs,
		SmoothedValid:      d.SmoothedValid,
		ControllerState:    string(d.State),
		CooldownActive:     d.CooldownActive,
		AdaptationEnabled:  l.cfg.Control.Enabled,
		ActuationCount:     l.deps.Control.ActuationCount(),
		ControlErrorMs:     d.ErrorMs,
		Action:             string(d.Action),
		ParticleBudget:     l.deps.Pool.ParticleBudget(),
		StillLinSpeed:      s.HeadLinSpeed,
		StillAngSpeed:      s.HeadAngSpeed,
		JumpDeltaPos:       s.DeltaPos,
		JumpDeltaRot:       s.DeltaRotDeg,
	})

	return d
}

// Frame returns the number of ticks evaluated so far.
func (l *Loop) Frame() int64 { return l.frame }

// Run drives the loop at the configured frame interval until stopCh
// closes, then flushes and closes the telemetry session.
func (l *Loop) Run(stopCh <-chan struct{}) error {
	klog.Infof("Control loop starting: mode=%s scenario=%s target=%.1fms interval=%s",
		l.cfg.Control.Mode, l.cfg.Scenario.Mode, l.cfg.Control.TargetMs, l.cfg.FrameInterval)

	ticker := time.NewTicker(l.cfg.FrameInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			klog.Infof("Control loop stopping after %d frames", l.frame)
			if err := l.deps.Sink.Close(); err != nil {
				klog.Warningf("Telemetry session close: %v", err)
				return err
			}
			return nil
		case now := <-ticker.C:
			l.Tick(now, l.deps.Source.Next(now))
		}
	}
}
