package constants

// ScenarioMode selects how the scenario driver evolves the target unit count.
type ScenarioMode string

const (
	ScenarioIdle       ScenarioMode = "idle"
	ScenarioRamp       ScenarioMode = "ramp"
	ScenarioBursts     ScenarioMode = "bursts"
	ScenarioRandomWalk ScenarioMode = "randomwalk"
)

// ValidScenarioModes is the whitelist of scenario modes the driver understands.
var ValidScenarioModes = map[ScenarioMode]bool{
	ScenarioIdle:       true,
	ScenarioRamp:       true,
	ScenarioBursts:     true,
	ScenarioRandomWalk: true,
}

// ExecMode selects how far the control path runs each tick.
type ExecMode string

const (
	// ExecBaseline runs the workload without forecasting or actuation.
	ExecBaseline ExecMode = "baseline"
	// ExecPredictionOnly runs the forecast path and logs it, but never actuates.
	ExecPredictionOnly ExecMode = "prediction-only"
	// ExecClosedLoop runs the full forecast-and-actuate loop.
	ExecClosedLoop ExecMode = "closed-loop"
)

// ValidExecModes is the whitelist of execution modes.
var ValidExecModes = map[ExecMode]bool{
	ExecBaseline:       true,
	ExecPredictionOnly: true,
	ExecClosedLoop:     true,
}
