// Package config assembles the immutable configuration surface for the
// whole control loop. Values come from defaults, an optional config
// file and RBC_* environment overrides, and are validated once at
// startup; components receive their sub-configs by value and never read
// configuration dynamically.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cast"
	"github.com/spf13/viper"

	"render-budget-controller/pkg/anomaly"
	"render-budget-controller/pkg/constants"
	"render-budget-controller/pkg/control"
	"render-budget-controller/pkg/forecast"
	"render-budget-controller/pkg/scenario"
	"render-budget-controller/pkg/sim"
	"render-budget-controller/pkg/workload"
)

// SinkKind selects the telemetry backend.
type SinkKind string

const (
	SinkCSV    SinkKind = "csv"
	SinkSQLite SinkKind = "sqlite"
	SinkNone   SinkKind = "none"
)

// ForecastConfig holds the feature pipeline parameters.
type ForecastConfig struct {
	WindowSize int
	Mean       []float64
	Scale      []float64
	ValidMinMs float64
	ValidMaxMs float64
}

// TelemetryConfig holds the sink selection and batching parameters.
type TelemetryConfig struct {
	Sink               SinkKind
	Dir                string
	SessionName        string
	BatchSize          int
	FlushEveryFrames   int
	IncludeDiagnostics bool
}

// Config is the full configuration tree.
type Config struct {
	FrameInterval time.Duration

	Workload  workload.Config
	Scenario  scenario.Config
	Control   control.Config
	Anomaly   anomaly.Config
	Forecast  ForecastConfig
	Telemetry TelemetryConfig
	Sim       sim.Config
}

// Default returns the complete default configuration.
func Default() Config {
	return Config{
		FrameInterval: 16 * time.Millisecond,
		Workload:      workload.DefaultConfig(),
		Scenario:      scenario.DefaultConfig(),
		Control:       control.DefaultConfig(),
		Anomaly:       anomaly.DefaultConfig(),
		Forecast: ForecastConfig{
			WindowSize: 10,
			Mean:       []float64{200, 60, 0.3, 30, 16},
			Scale:      []float64{150, 20, 0.3, 30, 8},
			ValidMinMs: 0.1,
			ValidMaxMs: 200,
		},
		Telemetry: TelemetryConfig{
			Sink:             SinkCSV,
			Dir:              ".",
			BatchSize:        64,
			FlushEveryFrames: 300,
		},
		Sim: sim.DefaultConfig(),
	}
}

// Load reads the optional config file at path, applies RBC_* environment
// overrides on top of the defaults and validates the result.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("RBC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg := fromViper(v)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("frame_interval", d.FrameInterval)

	v.SetDefault("workload.columns", d.Workload.Columns)
	v.SetDefault("workload.spacing", d.Workload.Spacing)
	v.SetDefault("workload.row_offset", d.Workload.RowOffset)
	v.SetDefault("workload.emitters_per_unit", d.Workload.EmittersPerUnit)
	v.SetDefault("workload.particle_control", d.Workload.ParticleControlEnabled)

	v.SetDefault("scenario.mode", string(d.Scenario.Mode))
	v.SetDefault("scenario.min_count", d.Scenario.MinCount)
	v.SetDefault("scenario.max_count", d.Scenario.MaxCount)
	v.SetDefault("scenario.initial_count", d.Scenario.InitialCount)
	v.SetDefault("scenario.ramp_step", d.Scenario.RampStep)
	v.SetDefault("scenario.ramp_interval", d.Scenario.RampInterval)
	v.SetDefault("scenario.burst_add", d.Scenario.BurstAdd)
	v.SetDefault("scenario.burst_period", d.Scenario.BurstPeriod)
	v.SetDefault("scenario.burst_duration", d.Scenario.BurstDuration)
	v.SetDefault("scenario.walk_magnitude", d.Scenario.WalkMagnitude)
	v.SetDefault("scenario.walk_interval", d.Scenario.WalkInterval)
	v.SetDefault("scenario.walk_seed", d.Scenario.WalkSeed)
	v.SetDefault("scenario.count_multipliers", d.Scenario.CountMultipliers)
	v.SetDefault("scenario.particle_multipliers", d.Scenario.ParticleMultipliers)
	v.SetDefault("scenario.quality_affects_particles", d.Scenario.QualityAffectsParticles)
	v.SetDefault("scenario.base_particle_budget", d.Scenario.BaseParticleBudget)
	v.SetDefault("scenario.initial_quality", d.Scenario.InitialQuality)

	v.SetDefault("control.target_ms", d.Control.TargetMs)
	v.SetDefault("control.deadband_ms", d.Control.DeadbandMs)
	v.SetDefault("control.enter_high_ms", d.Control.EnterHighMs)
	v.SetDefault("control.exit_low_ms", d.Control.ExitLowMs)
	v.SetDefault("control.alpha", d.Control.Alpha)
	v.SetDefault("control.cooldown", d.Control.Cooldown)
	v.SetDefault("control.quality_floor", d.Control.QualityFloor)
	v.SetDefault("control.quality_ceil", d.Control.QualityCeil)
	v.SetDefault("control.particle_step", d.Control.ParticleStep)
	v.SetDefault("control.particle_min", d.Control.ParticleMin)
	v.SetDefault("control.particle_max", d.Control.ParticleMax)
	v.SetDefault("control.enabled", d.Control.Enabled)
	v.SetDefault("control.mode", string(d.Control.Mode))

	v.SetDefault("anomaly.still_lin_speed", d.Anomaly.StillLinSpeed)
	v.SetDefault("anomaly.still_ang_speed", d.Anomaly.StillAngSpeed)
	v.SetDefault("anomaly.jump_pos", d.Anomaly.JumpPos)
	v.SetDefault("anomaly.jump_rot_deg", d.Anomaly.JumpRotDeg)
	v.SetDefault("anomaly.debounce", d.Anomaly.Debounce)
	v.SetDefault("anomaly.hold", d.Anomaly.Hold)

	v.SetDefault("forecast.window_size", d.Forecast.WindowSize)
	v.SetDefault("forecast.mean", d.Forecast.Mean)
	v.SetDefault("forecast.scale", d.Forecast.Scale)
	v.SetDefault("forecast.valid_min_ms", d.Forecast.ValidMinMs)
	v.SetDefault("forecast.valid_max_ms", d.Forecast.ValidMaxMs)

	v.SetDefault("telemetry.sink", string(d.Telemetry.Sink))
	v.SetDefault("telemetry.dir", d.Telemetry.Dir)
	v.SetDefault("telemetry.session_name", d.Telemetry.SessionName)
	v.SetDefault("telemetry.batch_size", d.Telemetry.BatchSize)
	v.SetDefault("telemetry.flush_every_frames", d.Telemetry.FlushEveryFrames)
	v.SetDefault("telemetry.include_diagnostics", d.Telemetry.IncludeDiagnostics)

	v.SetDefault("sim.base_cost_ms", d.Sim.BaseCostMs)
	v.SetDefault("sim.cost_per_unit_ms", d.Sim.CostPerUnitMs)
	v.SetDefault("sim.cost_per_k_particles_ms", d.Sim.CostPerKParticlesMs)
	v.SetDefault("sim.noise_std_ms", d.Sim.NoiseStdMs)
	v.SetDefault("sim.fps_alpha", d.Sim.FPSAlpha)
	v.SetDefault("sim.jump_every_frames", d.Sim.JumpEveryFrames)
	v.SetDefault("sim.jump_delta_pos", d.Sim.JumpDeltaPos)
	v.SetDefault("sim.jump_delta_rot_deg", d.Sim.JumpDeltaRotDeg)
	v.SetDefault("sim.seed", d.Sim.Seed)
}

func fromViper(v *viper.Viper) Config {
	cfg := Config{
		FrameInterval: v.GetDuration("frame_interval"),
		Workload: workload.Config{
			Columns:                v.GetInt("workload.columns"),
			Spacing:                v.GetFloat64("workload.spacing"),
			RowOffset:              v.GetFloat64("workload.row_offset"),
			EmittersPerUnit:        v.GetInt("workload.emitters_per_unit"),
			ParticleControlEnabled: v.GetBool("workload.particle_control"),
		},
		Scenario: scenario.Config{
			Mode:                    constants.ScenarioMode(v.GetString("scenario.mode")),
			MinCount:                v.GetInt("scenario.min_count"),
			MaxCount:                v.GetInt("scenario.max_count"),
			InitialCount:            v.GetInt("scenario.initial_count"),
			RampStep:                v.GetInt("scenario.ramp_step"),
			RampInterval:            v.GetDuration("scenario.ramp_interval"),
			BurstAdd:                v.GetInt("scenario.burst_add"),
			BurstPeriod:             v.GetDuration("scenario.burst_period"),
			BurstDuration:           v.GetDuration("scenario.burst_duration"),
			WalkMagnitude:           v.GetInt("scenario.walk_magnitude"),
			WalkInterval:            v.GetDuration("scenario.walk_interval"),
			WalkSeed:                v.GetInt64("scenario.walk_seed"),
			CountMultipliers:        floats(v, "scenario.count_multipliers"),
			ParticleMultipliers:     floats(v, "scenario.particle_multipliers"),
			QualityAffectsParticles: v.GetBool("scenario.quality_affects_particles"),
			BaseParticleBudget:      v.GetFloat64("scenario.base_particle_budget"),
			InitialQuality:          v.GetInt("scenario.initial_quality"),
		},
		Control: control.Config{
			TargetMs:     v.GetFloat64("control.target_ms"),
			DeadbandMs:   v.GetFloat64("control.deadband_ms"),
			EnterHighMs:  v.GetFloat64("control.enter_high_ms"),
			ExitLowMs:    v.GetFloat64("control.exit_low_ms"),
			Alpha:        v.GetFloat64("control.alpha"),
			Cooldown:     v.GetDuration("control.cooldown"),
			QualityFloor: v.GetInt("control.quality_floor"),
			QualityCeil:  v.GetInt("control.quality_ceil"),
			ParticleStep: v.GetFloat64("control.particle_step"),
			ParticleMin:  v.GetFloat64("control.particle_min"),
			ParticleMax:  v.GetFloat64("control.particle_max"),
			Enabled:      v.GetBool("control.enabled"),
			Mode:         constants.ExecMode(v.GetString("control.mode")),
		},
		Anomaly: anomaly.Config{
			StillLinSpeed: v.GetFloat64("anomaly.still_lin_speed"),
			StillAngSpeed: v.GetFloat64("anomaly.still_ang_speed"),
			JumpPos:       v.GetFloat64("anomaly.jump_pos"),
			JumpRotDeg:    v.GetFloat64("anomaly.jump_rot_deg"),
			Debounce:      v.GetDuration("anomaly.debounce"),
			Hold:          v.GetDuration("anomaly.hold"),
		},
		Forecast: ForecastConfig{
			WindowSize: v.GetInt("forecast.window_size"),
			Mean:       floats(v, "forecast.mean"),
			Scale:      floats(v, "forecast.scale"),
			ValidMinMs: v.GetFloat64("forecast.valid_min_ms"),
			ValidMaxMs: v.GetFloat64("forecast.valid_max_ms"),
		},
		Telemetry: TelemetryConfig{
			Sink:               SinkKind(v.GetString("telemetry.sink")),
			Dir:                v.GetString("telemetry.dir"),
			SessionName:        v.GetString("telemetry.session_name"),
			BatchSize:          v.GetInt("telemetry.batch_size"),
			FlushEveryFrames:   v.GetInt("telemetry.flush_every_frames"),
			IncludeDiagnostics: v.GetBool("telemetry.include_diagnostics"),
		},
		Sim: sim.Config{
			BaseCostMs:          v.GetFloat64("sim.base_cost_ms"),
			CostPerUnitMs:       v.GetFloat64("sim.cost_per_unit_ms"),
			CostPerKParticlesMs: v.GetFloat64("sim.cost_per_k_particles_ms"),
			NoiseStdMs:          v.GetFloat64("sim.noise_std_ms"),
			FPSAlpha:            v.GetFloat64("sim.fps_alpha"),
			JumpEveryFrames:     v.GetInt("sim.jump_every_frames"),
			JumpDeltaPos:        v.GetFloat64("sim.jump_delta_pos"),
			JumpDeltaRotDeg:     v.GetFloat64("sim.jump_delta_rot_deg"),
			Seed:                v.GetInt64("sim.seed"),
		},
	}
	cfg.Sim.FrameInterval = cfg.FrameInterval
	return cfg
}

// floats reads a numeric list regardless of how the source encoded it
// (yaml float list, json, env CSV string).
func floats(v *viper.Viper, key string) []float64 {
	switch t := v.Get(key).(type) {
	case []float64:
		return t
	case []interface{}:
		out := make([]float64, 0, len(t))
		for _, e := range t {
			f, err := cast.ToFloat64E(e)
			if err != nil {
				return nil
			}
			out = append(out, f)
		}
		return out
	case string:
		parts := strings.Split(t, ",")
		out := make([]float64, 0, len(parts))
		for _, p := range parts {
			f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
			if err != nil {
				return nil
			}
			out = append(out, f)
		}
		return out
	}
	return nil
}

// Validate performs the fatal startup checks across the tree. The
// forecast scaler check mirrors the component's own constructor so a bad
// table fails here rather than mid-session.
func (c Config) Validate() error {
	if c.FrameInterval <= 0 {
		return fmt.Errorf("frame interval must be positive, got %v", c.FrameInterval)
	}
	if c.Forecast.WindowSize <= 0 {
		return fmt.Errorf("forecast window size must be positive, got %d", c.Forecast.WindowSize)
	}
	if _, err := forecast.NewScaler(c.Forecast.Mean, c.Forecast.Scale); err != nil {
		return fmt.Errorf("forecast scaler: %w", err)
	}
	if err := c.Control.Validate(); err != nil {
		return err
	}
	if !constants.ValidScenarioModes[c.Scenario.Mode] {
		return fmt.Errorf("unknown scenario mode %q", c.Scenario.Mode)
	}
	switch c.Telemetry.Sink {
	case SinkCSV, SinkSQLite, SinkNone:
	default:
		return fmt.Errorf("unknown telemetry sink %q", c.Telemetry.Sink)
	}
	return nil
}
