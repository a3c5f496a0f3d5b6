package telemetry

import (
	"strconv"
	"time"
)

// Record is one append-only telemetry row, produced once per control
// tick. Field order here matches the CSV header and the sqlite schema.
type Record struct {
	Timestamp   time.Time
	Frame       int64
	FrameCostMs float64
	SmoothedFPS float64

	ScenarioMode string
	TargetCount  int
	QualityLevel int

	UnitCount     int
	RendererCount int
	EmitterCount  int

	HeadLinSpeed float64
	HeadAngSpeed float64
	LatencyMs    float64

	AnomalyDetected  bool
	AnomalyMagnitude float64

	ForecastMs         float64
	ForecastValid      bool
	SmoothedForecastMs float64
	SmoothedValid      bool

	ControllerState   string
	CooldownActive    bool
	AdaptationEnabled bool
	ActuationCount    int64
	ControlErrorMs    float64
	Action            string
	ParticleBudget    float64

	// Diagnostic columns, emitted only when the sink is configured with
	// IncludeDiagnostics.
	StillLinSpeed float64
	StillAngSpeed float64
	JumpDeltaPos  float64
	JumpDeltaRot  float64
}

// baseHeader is the always-present column set.
var baseHeader = []string{
	"timestamp", "frame", "frame_cost_ms", "smoothed_fps",
	"scenario_mode", "target_count", "quality_level",
	"unit_count", "renderer_count", "emitter_count",
	"head_lin_speed", "head_ang_speed", "latency_ms",
	"anomaly", "anomaly_magnitude",
	"forecast_ms", "forecast_valid", "smoothed_forecast_ms", "smoothed_valid",
	"controller_state", "cooldown", "adaptation_enabled",
	"actuation_count", "control_error_ms", "action", "particle_budget",
}

// diagHeader holds the configuration-gated diagnostic columns.
var diagHeader = []string{
	"still_lin_speed", "still_ang_speed", "jump_delta_pos", "jump_delta_rot",
}

func header(diagnostics bool) []string {
	if !diagnostics {
		return baseHeader
	}
	return append(append([]string{}, baseHeader...), diagHeader...)
}

func ftoa(v float64) string { return strconv.FormatFloat(v, 'f', 4, 64) }

func btoa(v bool) string {
	if v {
		return "1"
	}
	return "0"
}

// fields renders the record in header order.
func (r Record) fields(diagnostics bool) []string {
	out := []string{
		r.Timestamp.Format(time.RFC3339Nano),
		strconv.FormatInt(r.Frame, 10),
		ftoa(r.FrameCostMs),
		ftoa(r.SmoothedFPS),
		r.ScenarioMode,
		strconv.Itoa(r.TargetCount),
		strconv.Itoa(r.QualityLevel),
		strconv.Itoa(r.UnitCount),
		strconv.Itoa(r.RendererCount),
		strconv.Itoa(r.EmitterCount),
		ftoa(r.HeadLinSpeed),
		ftoa(r.HeadAngSpeed),
		ftoa(r.LatencyMs),
		btoa(r.AnomalyDetected),
		ftoa(r.AnomalyMagnitude),
		ftoa(r.ForecastMs),
		btoa(r.ForecastValid),
		ftoa(r.SmoothedForecastMs),
		btoa(r.SmoothedValid),
		r.ControllerState,
		btoa(r.CooldownActive),
		btoa(r.AdaptationEnabled),
		strconv.FormatInt(r.ActuationCount, 10),
		ftoa(r.ControlErrorMs),
		r.Action,
		ftoa(r.ParticleBudget),
	}
	if diagnostics {
		out = append(out,
			ftoa(r.StillLinSpeed),
			ftoa(r.StillAngSpeed),
			ftoa(r.JumpDeltaPos),
			ftoa(r.JumpDeltaRot),
		)
	}
	return out
}
