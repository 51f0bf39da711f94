package telemetry

import (
	"time"
)

// Telemetry is the telemetry data reported by the flight controller.
// Nil fields have not been reported yet.
type Telemetry struct {
	Timestamp        time.Time  `json:"timestamp"`                  // Timestamp of the latest update
	Heartbeat        *time.Time `json:"heartbeat,omitempty"`        // Time of the last heartbeat
	Armed            *bool      `json:"armed,omitempty"`            // Armed state from the heartbeat
	Distance         *float64   `json:"distance,omitempty"`         // Distance sensor reading in meters
	DistanceAt       *time.Time `json:"distanceAt,omitempty"`       // Time of the distance reading
	BatteryVoltage   *float64   `json:"batteryVoltage,omitempty"`   // Battery voltage in V
	BatteryRemaining *int64     `json:"batteryRemaining,omitempty"` // Remaining battery in percent
}

// Clone returns a deep copy of the snapshot, safe to hand out to other goroutines
func (t *Telemetry) Clone() *Telemetry {
	if t == nil {
		return nil
	}

	c := Telemetry{Timestamp: t.Timestamp}
	c.Heartbeat = clonePtr(t.Heartbeat)
	c.Armed = clonePtr(t.Armed)
	c.Distance = clonePtr(t.Distance)
	c.DistanceAt = clonePtr(t.DistanceAt)
	c.BatteryVoltage = clonePtr(t.BatteryVoltage)
	c.BatteryRemaining = clonePtr(t.BatteryRemaining)
	return &c
}

// DistanceOrZero returns the distance reading, or 0 when none was received
func (t *Telemetry) DistanceOrZero() float64 {
	if t == nil || t.Distance == nil {
		return 0
	}
	return *t.Distance
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
