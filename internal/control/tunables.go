package control

import (
	"math"
	"time"
)

const (
	MinSpeed = 0.1
	MaxSpeed = 1.0

	MinFlushInterval = 100 * time.Millisecond
	MaxFlushInterval = 1000 * time.Millisecond

	DefaultTickInterval  = 50 * time.Millisecond
	DefaultFlushInterval = 500 * time.Millisecond
)

// Tunables is a snapshot of the runtime-adjustable control parameters
type Tunables struct {
	SpeedMove      float64       `json:"speedMove"`
	SpeedTurn      float64       `json:"speedTurn"`
	SpeedVert      float64       `json:"speedVert"`
	FlushInterval  time.Duration `json:"flushInterval"`
	FlushThreshold int           `json:"flushThreshold"`
}

// ClampSpeed limits a speed scale to [MinSpeed, MaxSpeed]. NaN is treated as the minimum.
func ClampSpeed(v float64) float64 {
	if math.IsNaN(v) {
		return MinSpeed
	}
	return min(MaxSpeed, max(MinSpeed, v))
}

// ClampFlushInterval limits the flush interval to [MinFlushInterval, MaxFlushInterval]
func ClampFlushInterval(d time.Duration) time.Duration {
	return min(MaxFlushInterval, max(MinFlushInterval, d))
}

// FlushThreshold converts a flush interval into a number of scheduler ticks.
// The interval is clamped first; the result is at least one tick.
func FlushThreshold(interval, tick time.Duration) int {
	if tick <= 0 {
		tick = DefaultTickInterval
	}
	return max(1, int(ClampFlushInterval(interval)/tick))
}

// MillisToDuration converts a millisecond value from a request into a duration
func MillisToDuration(ms float64) time.Duration {
	if math.IsNaN(ms) {
		return MinFlushInterval
	}
	ms = min(float64(MaxFlushInterval.Milliseconds()), max(float64(MinFlushInterval.Milliseconds()), ms))
	return time.Duration(ms * float64(time.Millisecond))
}
