package types

import "time"

// EventContractVersion is the version of the event stream frame layout.
const EventContractVersion = Version

// LogLevel represents event severity.
type LogLevel string

// Log level constants.
const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// EventKind discriminates stream events.
type EventKind string

const (
	// EventKindLog is a structured log line.
	EventKindLog EventKind = "log"
	// EventKindProgress is emitted after every item.
	EventKindProgress EventKind = "progress"
	// EventKindRunComplete is the terminal event of a run.
	EventKindRunComplete EventKind = "run_complete"
)

// Event is the single typed event emitted by every component.
// UIs consume it through a sink; nothing else couples to presentation.
type Event struct {
	Kind      EventKind      `msgpack:"kind" json:"kind"`
	Timestamp time.Time      `msgpack:"ts" json:"ts"`
	Level     LogLevel       `msgpack:"level,omitempty" json:"level,omitempty"`
	Component string         `msgpack:"component,omitempty" json:"component,omitempty"`
	RunID     string         `msgpack:"run_id,omitempty" json:"run_id,omitempty"`
	Message   string         `msgpack:"message,omitempty" json:"message,omitempty"`
	Fields    map[string]any `msgpack:"fields,omitempty" json:"fields,omitempty"`
	Progress  *Progress      `msgpack:"progress,omitempty" json:"progress,omitempty"`
	Summary   *RunSummary    `msgpack:"summary,omitempty" json:"summary,omitempty"`
}

// IsTerminal returns true for the run's last event.
func (e *Event) IsTerminal() bool {
	return e.Kind == EventKindRunComplete
}
