package flight

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/roman-kulish/pioneer-control/internal/rc"
	"github.com/roman-kulish/pioneer-control/internal/telemetry"
)

const (
	DefaultAddress          = "192.168.4.1:8001"
	DefaultSystemID         = 255
	DefaultHeartbeatTimeout = 3 * time.Second
	DefaultAckTimeout       = time.Second
	DefaultRetries          = 3
)

// Link is the flight controller the control service talks to
type Link interface {
	telemetry.Provider

	// Connected returns true while the aircraft is sending heartbeats
	Connected() bool

	// Distance returns the distance sensor reading in meters. With useCache
	// false a fresh reading is requested first. The boolean is false when no
	// reading is available.
	Distance(ctx context.Context, useCache bool) (float64, bool)

	Arm(ctx context.Context) error
	Disarm(ctx context.Context) error
	Takeoff(ctx context.Context) error
	Land(ctx context.Context) error

	// SendChannels transmits the RC channel vector
	SendChannels(ctx context.Context, channels rc.Channels) error

	Close() error
}

// Config is the flight link configuration
type Config struct {
	Address          string        // UDP address of the flight controller
	SystemID         uint8         // MAVLink system ID of this ground station
	HeartbeatTimeout time.Duration // Link is considered lost after this long without heartbeat
	AckTimeout       time.Duration // Time to wait for a COMMAND_ACK
	Retries          int           // Number of command retransmissions
}

// DefaultConfig returns the configuration of a Pioneer Mini access point
func DefaultConfig() Config {
	return Config{
		Address:          DefaultAddress,
		SystemID:         DefaultSystemID,
		HeartbeatTimeout: DefaultHeartbeatTimeout,
		AckTimeout:       DefaultAckTimeout,
		Retries:          DefaultRetries,
	}
}

func (c *Config) Validate() error {
	if c.Address == "" {
		return NewConfigError("flight.Config: address is required")
	}
	if _, _, err := net.SplitHostPort(c.Address); err != nil {
		return NewConfigError(fmt.Sprintf("flight.Config: invalid address '%s': %s", c.Address, err))
	}
	if c.SystemID == 0 {
		return NewConfigError("flight.Config: system ID must be between 1 and 255")
	}
	if c.HeartbeatTimeout <= 0 {
		return NewConfigError(fmt.Sprintf("flight.Config: heartbeat timeout must be positive: %s", c.HeartbeatTimeout))
	}
	if c.AckTimeout <= 0 {
		return NewConfigError(fmt.Sprintf("flight.Config: ack timeout must be positive: %s", c.AckTimeout))
	}
	if c.Retries < 0 {
		return NewConfigError(fmt.Sprintf("flight.Config: retries must not be negative: %d", c.Retries))
	}
	return nil
}
