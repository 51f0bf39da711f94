package rc

import (
	"fmt"
	"strings"
)

// Channel values are expressed in the usual RC pulse-width units.
const (
	RCMin  = 1000
	RCNone = 1500
	RCMax  = 2000
)

// Axis ranges, chosen so that RCNone ± range stays within [RCMin, RCMax] for any scale <= 1.0
const (
	MoveRange     = 200
	TurnRange     = 500
	VerticalRange = 500
)

// NumChannels is the number of channels carried by a Channels vector
const NumChannels = 5

const (
	Throttle Channel = iota + 1 // vertical speed
	Yaw                         // rotation around the vertical axis
	Pitch                       // forward / back
	Roll                        // left / right
	Mode                        // flight mode selection, not a directional axis
)

// Channel identifies one of the five control channels, numbered from 1
type Channel int

func (c Channel) String() string {
	switch c {
	case Throttle:
		return "throttle"
	case Yaw:
		return "yaw"
	case Pitch:
		return "pitch"
	case Roll:
		return "roll"
	case Mode:
		return "mode"
	default:
		return fmt.Sprintf("channel(%d)", int(c))
	}
}

func (c Channel) valid() bool {
	return c >= Throttle && c <= Mode
}

// Channels is the control vector sent to the flight controller
type Channels [NumChannels]int

// Neutral returns the vector with every channel at its default: RCNone for the
// directional axes and RCMax for the mode channel.
func Neutral() Channels {
	return Channels{RCNone, RCNone, RCNone, RCNone, RCMax}
}

// Reset restores all channels to their neutral defaults.
func (c *Channels) Reset() {
	*c = Neutral()
}

// Set overwrites a single channel. Values are not validated here, see Value.
func (c *Channels) Set(ch Channel, value int) {
	if !ch.valid() {
		return
	}
	c[ch-1] = value
}

// Get returns the value of a single channel, or 0 for an unknown channel.
func (c Channels) Get(ch Channel) int {
	if !ch.valid() {
		return 0
	}
	return c[ch-1]
}

// Active returns the channels that differ from their neutral defaults
func (c Channels) Active() []Channel {
	neutral := Neutral()

	var active []Channel
	for i := range c {
		if c[i] != neutral[i] {
			active = append(active, Channel(i+1))
		}
	}
	return active
}

// IsNeutral returns true if no channel differs from its default
func (c Channels) IsNeutral() bool {
	return c == Neutral()
}

// Raw returns the channel values as unsigned pulse widths for the wire
func (c Channels) Raw() [NumChannels]uint16 {
	var raw [NumChannels]uint16
	for i, v := range c {
		raw[i] = uint16(max(v, 0))
	}
	return raw
}

func (c Channels) String() string {
	var sb strings.Builder
	for i, v := range c {
		if i > 0 {
			sb.WriteString(" ")
		}
		sb.WriteString(fmt.Sprintf("%s=%d", Channel(i+1), v))
	}
	return sb.String()
}
