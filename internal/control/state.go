package control

import (
	"time"

	"github.com/sasha-s/go-deadlock"

	"github.com/roman-kulish/pioneer-control/internal/rc"
)

// WithSpeed sets the initial speed scale of an axis
func WithSpeed(axis rc.Axis, scale float64) func(*State) {
	return func(s *State) {
		if axis >= rc.Move && axis <= rc.Vertical {
			s.scales[axis] = ClampSpeed(scale)
		}
	}
}

// WithFlushInterval sets the initial flush interval
func WithFlushInterval(interval time.Duration) func(*State) {
	return func(s *State) {
		s.flushInterval = ClampFlushInterval(interval)
	}
}

// WithControlEnabled sets the initial value of the control-enabled flag
func WithControlEnabled(enabled bool) func(*State) {
	return func(s *State) {
		s.enabled = enabled
	}
}

// State is the control state shared by the scheduler, the dispatcher and the
// liveness monitor. A single lock guards every field so that a reset-then-set
// from a request can never interleave with a scheduler flush.
type State struct {
	mu deadlock.Mutex

	channels rc.Channels
	ticks    int

	tickInterval  time.Duration
	flushInterval time.Duration
	threshold     int
	scales        [3]float64 // indexed by rc.Axis

	enabled bool // control-enabled: the scheduler may transmit
	serving bool // cleared to stop the HTTP serving loop
}

// NewState creates a State with neutral channels, full speed on all axes and
// the default flush interval. Control is disabled until takeoff.
func NewState(tickInterval time.Duration, options ...func(*State)) *State {
	if tickInterval <= 0 {
		tickInterval = DefaultTickInterval
	}

	s := State{
		channels:      rc.Neutral(),
		tickInterval:  tickInterval,
		flushInterval: DefaultFlushInterval,
		scales:        [3]float64{MaxSpeed, MaxSpeed, MaxSpeed},
		serving:       true,
	}

	for _, option := range options {
		option(&s)
	}

	s.threshold = FlushThreshold(s.flushInterval, s.tickInterval)
	return &s
}

// TickInterval returns the scheduler tick interval the flush threshold is derived from
func (s *State) TickInterval() time.Duration {
	return s.tickInterval
}

// Command resets the channel vector and sets a single channel from the axis'
// current speed scale. It returns the resulting vector.
func (s *State) Command(ch rc.Channel, axis rc.Axis, dir rc.Direction) rc.Channels {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.channels.Reset()
	s.channels.Set(ch, rc.Value(axis, dir, s.scales[axis]))
	return s.channels
}

// Neutralize resets the channel vector to neutral
func (s *State) Neutralize() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.channels.Reset()
}

// Channels returns a copy of the current channel vector
func (s *State) Channels() rc.Channels {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.channels
}

// SetSpeed stores a clamped speed scale for an axis and returns the stored value
func (s *State) SetSpeed(axis rc.Axis, scale float64) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	if axis < rc.Move || axis > rc.Vertical {
		return 0
	}
	s.scales[axis] = ClampSpeed(scale)
	return s.scales[axis]
}

// Speed returns the speed scale of an axis
func (s *State) Speed(axis rc.Axis) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	if axis < rc.Move || axis > rc.Vertical {
		return 0
	}
	return s.scales[axis]
}

// SetFlushInterval stores a clamped flush interval, recomputes the flush
// threshold and returns the new threshold in ticks.
func (s *State) SetFlushInterval(interval time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.flushInterval = ClampFlushInterval(interval)
	s.threshold = FlushThreshold(s.flushInterval, s.tickInterval)
	return s.threshold
}

// Tunables returns a snapshot of the tunable parameters
func (s *State) Tunables() Tunables {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Tunables{
		SpeedMove:      s.scales[rc.Move],
		SpeedTurn:      s.scales[rc.Turn],
		SpeedVert:      s.scales[rc.Vertical],
		FlushInterval:  s.flushInterval,
		FlushThreshold: s.threshold,
	}
}

// SetControlEnabled sets the flag that gates scheduler transmissions
func (s *State) SetControlEnabled(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.enabled = enabled
}

// ControlEnabled returns true if the scheduler may transmit
func (s *State) ControlEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.enabled
}

// StopServing clears the serving flag
func (s *State) StopServing() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.serving = false
}

// Serving returns false once the serving loop has been asked to stop
func (s *State) Serving() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.serving
}

// advance counts one scheduler tick. Once the flush threshold is reached the
// counter restarts and the channel vector is captured and reset to neutral in
// the same critical section; flush reports whether that happened. The vector
// is reset even when control is disabled, so no stale command survives a land.
func (s *State) advance() (flush bool, frame rc.Channels, enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ticks++
	if s.ticks < s.threshold {
		return false, frame, s.enabled
	}

	s.ticks = 0
	frame = s.channels
	s.channels.Reset()
	return true, frame, s.enabled
}
