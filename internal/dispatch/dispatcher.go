package dispatch

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/roman-kulish/pioneer-control/internal/camera"
	"github.com/roman-kulish/pioneer-control/internal/control"
	"github.com/roman-kulish/pioneer-control/internal/flight"
	"github.com/roman-kulish/pioneer-control/internal/rc"
)

const (
	DefaultMinHeight   = 0.5 // meters
	DefaultMaxHeight   = 2.0 // meters
	DefaultSettleDelay = time.Second
)

// StatsProvider reports scheduler counters for status responses
type StatsProvider interface {
	Stats() control.Stats
}

// Fence is the software altitude fence applied to up and down commands
type Fence struct {
	MinHeight float64
	MaxHeight float64
}

// WithLogger sets the logger for the dispatcher
func WithLogger(logger *slog.Logger) func(*Dispatcher) {
	return func(d *Dispatcher) {
		d.logger = logger.With(slog.String("component", "dispatcher"))
	}
}

// WithCamera enables the frame action. The overlay may be nil.
func WithCamera(cam camera.Camera, overlay *camera.Overlay) func(*Dispatcher) {
	return func(d *Dispatcher) {
		d.camera = cam
		d.overlay = overlay
	}
}

// WithStats adds scheduler counters to status responses
func WithStats(stats StatsProvider) func(*Dispatcher) {
	return func(d *Dispatcher) {
		d.stats = stats
	}
}

// WithFence sets the altitude fence
func WithFence(fence Fence) func(*Dispatcher) {
	return func(d *Dispatcher) {
		d.fence = fence
	}
}

// WithSettleDelay sets the pause between arm and takeoff, and between land and disarm
func WithSettleDelay(delay time.Duration) func(*Dispatcher) {
	return func(d *Dispatcher) {
		d.settleDelay = delay
	}
}

// Dispatcher maps actions onto the control state and the flight link
type Dispatcher struct {
	state *control.State
	link  flight.Link

	camera  camera.Camera
	overlay *camera.Overlay
	stats   StatsProvider

	fence       Fence
	settleDelay time.Duration

	logger *slog.Logger
}

// NewDispatcher creates a new Dispatcher with a discard logger
func NewDispatcher(state *control.State, link flight.Link, options ...func(*Dispatcher)) *Dispatcher {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil)) // nil logger

	d := Dispatcher{
		state:       state,
		link:        link,
		fence:       Fence{MinHeight: DefaultMinHeight, MaxHeight: DefaultMaxHeight},
		settleDelay: DefaultSettleDelay,
		logger:      logger,
	}

	for _, option := range options {
		option(&d)
	}

	return &d
}

// Handle dispatches a single action. Tuning actions are applied regardless of
// the connection; with no connection only exit is accepted.
func (d *Dispatcher) Handle(ctx context.Context, name string, params Params) Result {
	res := Result{Action: strings.ToLower(name)}
	res.Connected = d.link.Connected()
	res.Distance, _ = d.link.Distance(ctx, true)

	action, ok := ParseAction(name)
	if ok && action.tuning() {
		return d.tune(action, params, res)
	}

	if !res.Connected {
		if ok && action == ActionExit {
			d.exit(ctx)
			res.Result = true
		}
		return res
	}

	if !ok {
		res.Error = errInvalidAction
		return res
	}

	res.Result = true

	switch action {
	case ActionFrame:
		return d.frame(ctx, res)

	case ActionLeft:
		d.command(action, rc.Roll, rc.Move, rc.Negative)
	case ActionRight:
		d.command(action, rc.Roll, rc.Move, rc.Positive)
	case ActionForward:
		d.command(action, rc.Pitch, rc.Move, rc.Negative)
	case ActionBack:
		d.command(action, rc.Pitch, rc.Move, rc.Positive)
	case ActionTurnLeft:
		d.command(action, rc.Yaw, rc.Turn, rc.Positive)
	case ActionTurnRight:
		d.command(action, rc.Yaw, rc.Turn, rc.Negative)

	case ActionUp:
		if res.Distance < d.fence.MaxHeight {
			d.command(action, rc.Throttle, rc.Vertical, rc.Positive)
		} else {
			d.fenced(action, res.Distance)
		}
	case ActionDown:
		if res.Distance > d.fence.MinHeight {
			d.command(action, rc.Throttle, rc.Vertical, rc.Negative)
		} else {
			d.fenced(action, res.Distance)
		}

	case ActionTakeoff:
		res = d.lifecycle(ctx, res, d.takeoff)
	case ActionLand:
		res = d.lifecycle(ctx, res, d.land)
	case ActionDisarm:
		res = d.lifecycle(ctx, res, d.link.Disarm)

	case ActionStatus:
		return d.status(ctx, res)

	case ActionExit:
		d.exit(ctx)
	}

	return res
}

func (d *Dispatcher) command(action Action, ch rc.Channel, axis rc.Axis, dir rc.Direction) {
	channels := d.state.Command(ch, axis, dir)
	d.logger.Debug("command", slog.String("action", action.String()), slog.String("channels", channels.String()))
}

// fenced neutralises the vector so the rejected vertical command replaces,
// rather than joins, whatever was pending.
func (d *Dispatcher) fenced(action Action, distance float64) {
	d.state.Neutralize()
	d.logger.Info("altitude fence",
		slog.String("action", action.String()),
		slog.Float64("distance", distance),
		slog.Float64("minHeight", d.fence.MinHeight),
		slog.Float64("maxHeight", d.fence.MaxHeight))
}

func (d *Dispatcher) tune(action Action, params Params, res Result) Result {
	var value float64
	var err error
	if action == ActionSetTimerValue {
		value, err = params.Float("value", "step")
	} else {
		value, err = params.Float("value", "speed")
	}
	if err != nil {
		d.logger.Warn(err.Error(), slog.String("action", action.String()))
		res.Error = errInvalidValue
		return res
	}

	switch action {
	case ActionSetTimerValue:
		d.state.SetFlushInterval(control.MillisToDuration(value))
	case ActionSetSpeedMove:
		d.state.SetSpeed(rc.Move, value)
	case ActionSetSpeedTurn:
		d.state.SetSpeed(rc.Turn, value)
	case ActionSetSpeedVert:
		d.state.SetSpeed(rc.Vertical, value)
	}

	tunables := d.state.Tunables()
	d.logger.Info("tunables updated",
		slog.String("action", action.String()),
		slog.Float64("speedMove", tunables.SpeedMove),
		slog.Float64("speedTurn", tunables.SpeedTurn),
		slog.Float64("speedVert", tunables.SpeedVert),
		slog.Duration("flushInterval", tunables.FlushInterval))

	res.Tunables = &tunables
	res.Result = true
	return res
}

// lifecycle runs a flight controller sequence detached from the request
// context: a client going away must not abort a landing half way.
func (d *Dispatcher) lifecycle(ctx context.Context, res Result, fn func(context.Context) error) Result {
	if err := fn(context.WithoutCancel(ctx)); err != nil {
		d.logger.Error(err.Error(), slog.String("action", res.Action))
		res.Result = false
		res.Error = err.Error()
	}

	enabled := d.state.ControlEnabled()
	res.ControlEnabled = &enabled
	return res
}

func (d *Dispatcher) takeoff(ctx context.Context) error {
	if err := d.link.Arm(ctx); err != nil {
		return fmt.Errorf("arming: %w", err)
	}

	time.Sleep(d.settleDelay)

	if err := d.link.Takeoff(ctx); err != nil {
		return fmt.Errorf("taking off: %w", err)
	}

	d.state.SetControlEnabled(true)
	d.logger.Info("takeoff, control enabled")
	return nil
}

// land stops transmissions before anything else. The aircraft is only
// disarmed once the land command has been accepted.
func (d *Dispatcher) land(ctx context.Context) error {
	d.state.SetControlEnabled(false)

	if err := d.link.Land(ctx); err != nil {
		return fmt.Errorf("landing: %w", err)
	}

	time.Sleep(d.settleDelay)

	if err := d.link.Disarm(ctx); err != nil {
		return fmt.Errorf("disarming: %w", err)
	}

	d.logger.Info("landed, control disabled")
	return nil
}

func (d *Dispatcher) exit(ctx context.Context) {
	d.state.SetControlEnabled(false)

	if err := d.link.Land(context.WithoutCancel(ctx)); err != nil {
		d.logger.Warn(fmt.Sprintf("landing on exit: %s", err.Error()))
	}

	d.state.StopServing()
	d.logger.Info("exit requested, stopping server")
}

func (d *Dispatcher) status(ctx context.Context, res Result) Result {
	if distance, ok := d.link.Distance(ctx, false); ok {
		res.Distance = distance
	}

	if tm := d.link.Get(); tm != nil && (tm.BatteryVoltage != nil || tm.BatteryRemaining != nil) {
		res.Battery = &Battery{
			Voltage:   tm.BatteryVoltage,
			Remaining: tm.BatteryRemaining,
		}
	}

	enabled := d.state.ControlEnabled()
	res.ControlEnabled = &enabled

	tunables := d.state.Tunables()
	res.Tunables = &tunables

	if d.stats != nil {
		stats := d.stats.Stats()
		res.Scheduler = &stats
	}

	return res
}

func (d *Dispatcher) frame(ctx context.Context, res Result) Result {
	if d.camera == nil {
		res.Result = false
		res.Error = errNoCamera
		return res
	}

	frame, err := d.camera.Frame(ctx)
	if errors.Is(err, camera.ErrNoFrame) || (err == nil && len(frame) == 0) {
		return res // no frame yet, not an error
	}
	if err != nil {
		d.logger.Error(fmt.Sprintf("reading frame: %s", err.Error()))
		res.Result = false
		res.Error = errNoCamera
		return res
	}

	if d.overlay != nil {
		tm := d.link.Get()
		info := camera.OverlayInfo{
			Time:           time.Now(),
			ControlEnabled: d.state.ControlEnabled(),
		}
		if tm != nil {
			info.Distance = tm.Distance
			info.BatteryVoltage = tm.BatteryVoltage
			info.BatteryRemaining = tm.BatteryRemaining
		}

		if annotated, err := d.overlay.Annotate(frame, info); err != nil {
			d.logger.Warn(fmt.Sprintf("annotating frame: %s", err.Error()))
		} else {
			frame = annotated
		}
	}

	d.logger.Debug("frame", slog.String("size", humanize.Bytes(uint64(len(frame)))))

	res.Frame = base64.StdEncoding.EncodeToString(frame)
	return res
}
