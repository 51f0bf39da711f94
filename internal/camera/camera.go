package camera

import (
	"context"
	"errors"
	"time"
)

const (
	DefaultDevice  = "/dev/video0"
	DefaultTimeout = time.Second
	DefaultQuality = 85
)

// ErrNoFrame is returned when no frame became available within the timeout
var ErrNoFrame = errors.New("no frame available")

// Camera returns single JPEG frames
type Camera interface {
	Frame(ctx context.Context) ([]byte, error)
	Close() error
}

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
