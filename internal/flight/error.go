package flight

import "errors"

var (
	// ErrNotConnected is returned when a command is issued without a heartbeat from the aircraft
	ErrNotConnected = errors.New("flight controller not connected")

	// ErrAckTimeout is returned when the flight controller does not acknowledge a command
	ErrAckTimeout = errors.New("timeout waiting for command acknowledgement")

	// ErrCommandRejected is returned when the flight controller acknowledges a command with a failure result
	ErrCommandRejected = errors.New("command rejected")
)

// ConfigError is a custom error type for configuration errors
type ConfigError struct {
	msg string
}

func NewConfigError(msg string) *ConfigError {
	return &ConfigError{msg}
}

func (e *ConfigError) Error() string {
	return e.msg
}
