package mappings

import "fmt"

// Action is the kind of controller actuation a mapping performs.
type Action string

const (
	ActionTap     Action = "tap"
	ActionHold    Action = "hold"
	ActionRelease Action = "release"
	ActionAnalog  Action = "analog"
)

// Buttons are digital inputs, axes are analog inputs. The identifiers
// double as the persisted representation, so they never change.
var (
	Buttons = []string{
		"a", "b", "x", "y",
		"lb", "rb",
		"start", "back",
		"ls", "rs",
		"guide",
		"dpad_up", "dpad_down", "dpad_left", "dpad_right",
	}

	StickAxes = []string{
		"left_stick_x", "left_stick_y",
		"right_stick_x", "right_stick_y",
	}

	TriggerAxes = []string{
		"left_trigger", "right_trigger",
	}
)

var (
	buttonSet  = toSet(Buttons)
	stickSet   = toSet(StickAxes)
	triggerSet = toSet(TriggerAxes)
)

func toSet(names []string) map[string]struct{} {
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[n] = struct{}{}
	}
	return set
}

func IsButton(name string) bool {
	_, ok := buttonSet[name]
	return ok
}

func IsStickAxis(name string) bool {
	_, ok := stickSet[name]
	return ok
}

func IsTriggerAxis(name string) bool {
	_, ok := triggerSet[name]
	return ok
}

func IsAxis(name string) bool {
	return IsStickAxis(name) || IsTriggerAxis(name)
}

func IsInput(name string) bool {
	return IsButton(name) || IsAxis(name)
}

func validAction(a Action) bool {
	switch a {
	case ActionTap, ActionHold, ActionRelease, ActionAnalog:
		return true
	}
	return false
}

// Mapping binds a spoken phrase to a single controller actuation. It is an
// immutable value record; a profile owns an ordered collection of them.
type Mapping struct {
	VoiceCommand string  `json:"voice_command"`
	TargetInput  string  `json:"target_input"`
	Action       Action  `json:"action_type"`
	DurationMs   int     `json:"duration_ms"`
	AnalogValue  float64 `json:"analog_value"`
}

// Validate returns a list of human-readable problems, empty when the
// mapping is valid. Problems are reported, never coerced away.
func (m Mapping) Validate() []string {
	var problems []string

	if !hasText(m.VoiceCommand) {
		problems = append(problems, "voice command cannot be empty")
	}

	if !IsInput(m.TargetInput) {
		problems = append(problems, fmt.Sprintf("invalid target input: %q", m.TargetInput))
	}

	if !validAction(m.Action) {
		problems = append(problems, fmt.Sprintf("invalid action type: %q", m.Action))
	}

	if m.Action == ActionTap && m.DurationMs <= 0 {
		problems = append(problems, "duration must be positive for tap actions")
	}

	if m.DurationMs < 0 {
		problems = append(problems, "duration cannot be negative")
	}

	if m.Action == ActionAnalog && (m.AnalogValue < -1.0 || m.AnalogValue > 1.0) {
		problems = append(problems, "analog value must be between -1.0 and 1.0")
	}

	return problems
}

func hasText(s string) bool {
	for _, r := range s {
		if r != ' ' && r != '\t' && r != '\n' && r != '\r' {
			return true
		}
	}
	return false
}
