package dispatch

import "strings"

const (
	ActionSetTimerValue Action = "setTimerValue"
	ActionSetSpeedMove  Action = "setSpeedMove"
	ActionSetSpeedTurn  Action = "setSpeedTurn"
	ActionSetSpeedVert  Action = "setSpeedVert"
	ActionFrame         Action = "frame"
	ActionLeft          Action = "left"
	ActionRight         Action = "right"
	ActionForward       Action = "forward"
	ActionBack          Action = "back"
	ActionTurnLeft      Action = "turnLeft"
	ActionTurnRight     Action = "turnRight"
	ActionUp            Action = "up"
	ActionDown          Action = "down"
	ActionTakeoff       Action = "takeoff"
	ActionLand          Action = "land"
	ActionDisarm        Action = "disarm"
	ActionStatus        Action = "status"
	ActionExit          Action = "exit"
)

// Action is a recognised action token
type Action string

func (a Action) String() string {
	return string(a)
}

var actions = map[string]Action{
	"settimervalue": ActionSetTimerValue,
	"setstep":       ActionSetTimerValue,
	"setspeedmove":  ActionSetSpeedMove,
	"setspeedturn":  ActionSetSpeedTurn,
	"setspeedvert":  ActionSetSpeedVert,
	"frame":         ActionFrame,
	"left":          ActionLeft,
	"right":         ActionRight,
	"forward":       ActionForward,
	"back":          ActionBack,
	"turnleft":      ActionTurnLeft,
	"turnright":     ActionTurnRight,
	"up":            ActionUp,
	"down":          ActionDown,
	"takeoff":       ActionTakeoff,
	"liftoff":       ActionTakeoff,
	"land":          ActionLand,
	"disarm":        ActionDisarm,
	"status":        ActionStatus,
	"exit":          ActionExit,
}

// ParseAction matches an action name case-insensitively
func ParseAction(name string) (Action, bool) {
	a, ok := actions[strings.ToLower(strings.TrimSpace(name))]
	return a, ok
}

// tuning actions are accepted whether or not the aircraft is connected
func (a Action) tuning() bool {
	switch a {
	case ActionSetTimerValue, ActionSetSpeedMove, ActionSetSpeedTurn, ActionSetSpeedVert:
		return true
	default:
		return false
	}
}
