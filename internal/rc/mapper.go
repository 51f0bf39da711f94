package rc

const (
	Move Axis = iota
	Turn
	Vertical
)

// Axis groups channels that share a speed range and a speed scale
type Axis int

func (a Axis) String() string {
	switch a {
	case Move:
		return "move"
	case Turn:
		return "turn"
	case Vertical:
		return "vertical"
	default:
		return "unknown"
	}
}

// Range returns the maximum deviation from RCNone for the axis
func (a Axis) Range() int {
	switch a {
	case Move:
		return MoveRange
	case Turn:
		return TurnRange
	case Vertical:
		return VerticalRange
	default:
		return 0
	}
}

const (
	Negative Direction = -1
	None     Direction = 0
	Positive Direction = 1
)

// Direction is the sign of a stick deflection
type Direction int

// Value converts a direction and a speed scale into a channel value:
// RCNone + dir * range * scale, truncated towards zero. Scale is expected in
// [0.1, 1.0]; callers clamp it before it gets here.
func Value(axis Axis, dir Direction, scale float64) int {
	return int(float64(RCNone) + float64(dir)*float64(axis.Range())*scale)
}
