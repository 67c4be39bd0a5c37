package listener

import "voice-gamepad/mappings"

// State is the pipeline lifecycle state.
type State string

const (
	StateIdle      State = "idle"
	StateListening State = "listening"
	StatePaused    State = "paused"
	StateStopped   State = "stopped"
	StateError     State = "error"
)

type EventKind string

const (
	// EventStatus reports a lifecycle transition.
	EventStatus EventKind = "status"
	// EventLevel carries the per-frame loudness for UI feedback.
	EventLevel EventKind = "level"
	// EventPartial carries a non-final recognized fragment.
	EventPartial EventKind = "partial"
	// EventCommand carries a final utterance and, when one matched, the
	// resolved mapping.
	EventCommand EventKind = "command"
)

// Event is delivered on the Events channel. Fields are populated
// per-kind; Mapping is nil for a final utterance that matched nothing.
type Event struct {
	Kind     EventKind
	State    State
	Message  string
	Text     string
	Mapping  *mappings.Mapping
	Level    float64
	Speaking bool
}

type Interface interface {
	Start() error
	Stop()
	Pause()
	Resume()
	State() State
	Events() <-chan Event
	// SetMappings atomically installs a new mapping set, releasing all
	// controller inputs first. Returned problems identify mappings that
	// failed validation and were not installed.
	SetMappings(set []mappings.Mapping) []string
}
