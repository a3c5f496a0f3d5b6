package controller

import (
	"fmt"

	"render-budget-controller/pkg/anomaly"
	"render-budget-controller/pkg/config"
	"render-budget-controller/pkg/control"
	"render-budget-controller/pkg/forecast"
	"render-budget-controller/pkg/scenario"
	"render-budget-controller/pkg/sim"
	"render-budget-controller/pkg/telemetry"
	"render-budget-controller/pkg/workload"
)

// Build assembles the full loop from a validated configuration, using
// the built-in trend predictor and synthetic frame source. Callers that
// bring their own predictor or frame source wire Deps manually through
// New.
func Build(cfg config.Config) (*Loop, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	pool := workload.NewPool(cfg.Workload)
	driver := scenario.NewDriver(cfg.Scenario, pool)

	scaler, err := forecast.NewScaler(cfg.Forecast.Mean, cfg.Forecast.Scale)
	if err != nil {
		return nil, fmt.Errorf("forecast scaler: %w", err)
	}
	window, err := forecast.NewWindow(cfg.Forecast.WindowSize)
	if err != nil {
		return nil, fmt.Errorf("feature window: %w", err)
	}
	predictor := forecast.NewTrendPredictor(scaler, forecast.Validator{
		MinMs: cfg.Forecast.ValidMinMs,
		MaxMs: cfg.Forecast.ValidMaxMs,
	})

	ctrl, err := control.New(cfg.Control, driver, pool)
	if err != nil {
		return nil, err
	}

	var sink telemetry.Sink
	switch cfg.Telemetry.Sink {
	case config.SinkCSV:
		sink, err = telemetry.NewCSVSink(telemetry.CSVConfig{
			Dir:                cfg.Telemetry.Dir,
			SessionName:        cfg.Telemetry.SessionName,
			BatchSize:          cfg.Telemetry.BatchSize,
			FlushEveryFrames:   cfg.Telemetry.FlushEveryFrames,
			IncludeDiagnostics: cfg.Telemetry.IncludeDiagnostics,
		})
		if err != nil {
			return nil, err
		}
	case config.SinkSQLite:
		sink, err = telemetry.NewSQLiteSink(telemetry.SQLiteConfig{
			Dir:              cfg.Telemetry.Dir,
			SessionName:      cfg.Telemetry.SessionName,
			BatchSize:        cfg.Telemetry.BatchSize,
			FlushEveryFrames: cfg.Telemetry.FlushEveryFrames,
		})
		if err != nil {
			return nil, err
		}
	default:
		sink = telemetry.NopSink{}
	}

	return New(cfg, Deps{
		Pool:      pool,
		Driver:    driver,
		Scaler:    scaler,
		Window:    window,
		Predictor: predictor,
		Gate:      anomaly.NewGate(cfg.Anomaly),
		Control:   ctrl,
		Sink:      sink,
		Source:    sim.NewSource(cfg.Sim, pool),
	})
}
