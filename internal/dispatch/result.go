package dispatch

import "github.com/roman-kulish/pioneer-control/internal/control"

const (
	errInvalidAction = "Provide valid action"
	errInvalidValue  = "Provide valid value"
	errNoCamera      = "Camera not available"
)

// Battery is the battery state reported with status
type Battery struct {
	Voltage   *float64 `json:"voltage,omitempty"`   // V
	Remaining *int64   `json:"remaining,omitempty"` // percent
}

// Result is the outcome of a dispatched action
type Result struct {
	Action         string            `json:"action"`
	Connected      bool              `json:"connected"`
	Distance       float64           `json:"distance"`
	Result         bool              `json:"result"`
	Error          string            `json:"error,omitempty"`
	Battery        *Battery          `json:"battery,omitempty"`
	Frame          string            `json:"frame,omitempty"`
	ControlEnabled *bool             `json:"controlEnabled,omitempty"`
	Tunables       *control.Tunables `json:"tunables,omitempty"`
	Scheduler      *control.Stats    `json:"scheduler,omitempty"`
}
