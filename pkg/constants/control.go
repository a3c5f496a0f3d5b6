package constants

// ControllerState is the hysteresis state of the adaptive controller.
type ControllerState string

const (
	StateNormal     ControllerState = "normal"
	StateReduceLoad ControllerState = "reduce_load"
)

// Action is the single decision the adaptive controller emits per evaluation.
type Action string

const (
	ActionNone          Action = "none"
	ActionQualityDown   Action = "quality_down"
	ActionQualityUp     Action = "quality_up"
	ActionParticlesDown Action = "particles_down"
	ActionParticlesUp   Action = "particles_up"
	ActionCooldown      Action = "cooldown"
	ActionHold          Action = "hold"
)

// ResourceChanging reports whether an action actually moved a workload knob.
// Only these actions re-anchor the cooldown window.
func (a Action) ResourceChanging() bool {
	switch a {
	case ActionQualityDown, ActionQualityUp, ActionParticlesDown, ActionParticlesUp:
		return true
	}
	return false
}
