package flight

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/bluenviron/gomavlib/v3"
	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"
	"github.com/bluenviron/gomavlib/v3/pkg/message"

	"github.com/roman-kulish/pioneer-control/internal/rc"
	"github.com/roman-kulish/pioneer-control/internal/telemetry"
)

// messageWriter is the part of gomavlib.Node used to send messages
type messageWriter interface {
	WriteMessageAll(message.Message) error
}

// WithLogger sets the logger for the link
func WithLogger(logger *slog.Logger) func(*MAVLink) {
	return func(l *MAVLink) {
		l.logger = logger.With(
			slog.String("component", "mavlink"),
			slog.String("address", l.config.Address),
		)
	}
}

// heartbeatPeriod is the ground station heartbeat period
const heartbeatPeriod = time.Second

var _ Link = (*MAVLink)(nil)

// MAVLink is a Link to a MAVLink flight controller over UDP
type MAVLink struct {
	config Config
	node   *gomavlib.Node
	writer messageWriter

	mu              sync.RWMutex // protects the fields below
	targetSystem    uint8
	targetComponent uint8
	lastHeartbeat   time.Time
	telemetry       telemetry.Telemetry
	distanceNotify  chan struct{} // closed and replaced on every distance reading

	cmdMu sync.Mutex // serialises COMMAND_LONG exchanges
	acks  chan *common.MessageCommandAck

	cancel context.CancelFunc
	wg     sync.WaitGroup
	now    func() time.Time
	logger *slog.Logger
}

// NewMAVLink creates a MAVLink node talking to the flight controller at
// config.Address and starts processing incoming messages.
func NewMAVLink(ctx context.Context, config Config, options ...func(*MAVLink)) (*MAVLink, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	node, err := gomavlib.NewNode(nodeConf(config))
	if err != nil {
		return nil, fmt.Errorf("creating MAVLink node: %w", err)
	}

	l := newMAVLink(config, node, options...)
	l.node = node

	ctx, l.cancel = context.WithCancel(ctx)

	l.wg.Add(1)
	go l.handleEvents(ctx)

	l.logger.Info("MAVLink node created", slog.Int("systemID", int(config.SystemID)))
	return l, nil
}

// nodeConf describes a UDP client node. The aircraft only talks to a UDP
// client after its first packet, which is the ground station heartbeat.
func nodeConf(config Config) gomavlib.NodeConf {
	return gomavlib.NodeConf{
		Endpoints: []gomavlib.EndpointConf{
			gomavlib.EndpointUDPClient{Address: config.Address},
		},
		Dialect:         common.Dialect,
		OutVersion:      gomavlib.V2,
		OutSystemID:     config.SystemID,
		HeartbeatPeriod: heartbeatPeriod,
	}
}

func newMAVLink(config Config, writer messageWriter, options ...func(*MAVLink)) *MAVLink {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil)) // nil logger

	l := MAVLink{
		config:          config,
		writer:          writer,
		targetSystem:    1,
		targetComponent: 1,
		distanceNotify:  make(chan struct{}),
		acks:            make(chan *common.MessageCommandAck, 8),
		now:             time.Now,
		logger:          logger,
	}

	for _, option := range options {
		option(&l)
	}

	return &l
}

// Close stops processing incoming messages and closes the node
func (l *MAVLink) Close() error {
	if l.cancel != nil {
		l.cancel()
	}
	if l.node != nil {
		l.node.Close()
	}
	l.wg.Wait()
	return nil
}

// Connected returns true if a heartbeat was received within the heartbeat timeout
func (l *MAVLink) Connected() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return !l.lastHeartbeat.IsZero() && l.now().Sub(l.lastHeartbeat) < l.config.HeartbeatTimeout
}

// Get returns a copy of the latest telemetry
func (l *MAVLink) Get() *telemetry.Telemetry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return l.telemetry.Clone()
}

// Distance returns the latest distance sensor reading in meters. With useCache
// false the reading is requested from the aircraft and the call waits up to the
// ack timeout for a fresh one; the cached value is returned either way.
func (l *MAVLink) Distance(ctx context.Context, useCache bool) (float64, bool) {
	if !useCache {
		if err := l.refreshDistance(ctx); err != nil {
			l.logger.Debug(err.Error())
		}
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.telemetry.Distance == nil {
		return 0, false
	}
	return *l.telemetry.Distance, true
}

func (l *MAVLink) refreshDistance(ctx context.Context) error {
	if !l.Connected() {
		return ErrNotConnected
	}

	l.mu.RLock()
	notify := l.distanceNotify
	system, component := l.targetSystem, l.targetComponent
	l.mu.RUnlock()

	err := l.writer.WriteMessageAll(&common.MessageCommandLong{
		TargetSystem:    system,
		TargetComponent: component,
		Command:         common.MAV_CMD_REQUEST_MESSAGE,
		Param1:          float32((&common.MessageDistanceSensor{}).GetID()),
	})
	if err != nil {
		return fmt.Errorf("requesting distance: %w", err)
	}

	timer := time.NewTimer(l.config.AckTimeout)
	defer timer.Stop()

	select {
	case <-notify:
		return nil
	case <-timer.C:
		return fmt.Errorf("requesting distance: %w", ErrAckTimeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Arm arms the motors
func (l *MAVLink) Arm(ctx context.Context) error {
	return l.command(ctx, common.MAV_CMD_COMPONENT_ARM_DISARM, 1)
}

// Disarm disarms the motors
func (l *MAVLink) Disarm(ctx context.Context) error {
	return l.command(ctx, common.MAV_CMD_COMPONENT_ARM_DISARM, 0)
}

// Takeoff takes off to the autopilot's default altitude
func (l *MAVLink) Takeoff(ctx context.Context) error {
	return l.command(ctx, common.MAV_CMD_NAV_TAKEOFF)
}

// Land lands at the current position
func (l *MAVLink) Land(ctx context.Context) error {
	return l.command(ctx, common.MAV_CMD_NAV_LAND)
}

// SendChannels transmits the channel vector as an RC_CHANNELS_OVERRIDE.
// Channels 6 to 8 are released back to the radio.
func (l *MAVLink) SendChannels(ctx context.Context, channels rc.Channels) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	l.mu.RLock()
	system, component := l.targetSystem, l.targetComponent
	l.mu.RUnlock()

	raw := channels.Raw()
	err := l.writer.WriteMessageAll(&common.MessageRcChannelsOverride{
		TargetSystem:    system,
		TargetComponent: component,
		Chan1Raw:        raw[0],
		Chan2Raw:        raw[1],
		Chan3Raw:        raw[2],
		Chan4Raw:        raw[3],
		Chan5Raw:        raw[4],
	})
	if err != nil {
		return fmt.Errorf("writing RC override: %w", err)
	}
	return nil
}

// command sends a COMMAND_LONG and waits for its COMMAND_ACK, retransmitting
// with an incremented confirmation counter on timeout.
func (l *MAVLink) command(ctx context.Context, cmd common.MAV_CMD, params ...float32) error {
	if !l.Connected() {
		return fmt.Errorf("%v: %w", cmd, ErrNotConnected)
	}

	var p [7]float32
	copy(p[:], params)

	l.cmdMu.Lock()
	defer l.cmdMu.Unlock()

	l.drainAcks()

	l.mu.RLock()
	system, component := l.targetSystem, l.targetComponent
	l.mu.RUnlock()

	for confirmation := 0; confirmation <= l.config.Retries; confirmation++ {
		err := l.writer.WriteMessageAll(&common.MessageCommandLong{
			TargetSystem:    system,
			TargetComponent: component,
			Command:         cmd,
			Confirmation:    uint8(confirmation),
			Param1:          p[0],
			Param2:          p[1],
			Param3:          p[2],
			Param4:          p[3],
			Param5:          p[4],
			Param6:          p[5],
			Param7:          p[6],
		})
		if err != nil {
			return fmt.Errorf("writing %v: %w", cmd, err)
		}

		ack, err := l.waitAck(ctx, cmd)
		if errors.Is(err, ErrAckTimeout) {
			l.logger.Warn("command not acknowledged", slog.String("command", fmt.Sprint(cmd)), slog.Int("attempt", confirmation+1))
			continue
		}
		if err != nil {
			return err
		}

		switch ack.Result {
		case common.MAV_RESULT_ACCEPTED, common.MAV_RESULT_IN_PROGRESS:
			return nil
		default:
			return fmt.Errorf("%w: %v: %v", ErrCommandRejected, cmd, ack.Result)
		}
	}

	return fmt.Errorf("%v: %w", cmd, ErrAckTimeout)
}

func (l *MAVLink) waitAck(ctx context.Context, cmd common.MAV_CMD) (*common.MessageCommandAck, error) {
	timer := time.NewTimer(l.config.AckTimeout)
	defer timer.Stop()

	for {
		select {
		case ack := <-l.acks:
			if ack.Command == cmd {
				return ack, nil
			}

		case <-timer.C:
			return nil, ErrAckTimeout

		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (l *MAVLink) drainAcks() {
	for {
		select {
		case <-l.acks:
		default:
			return
		}
	}
}

func (l *MAVLink) handleEvents(ctx context.Context) {
	defer l.wg.Done()

	events := l.node.Events()
	for {
		select {
		case <-ctx.Done():
			return

		case evt, ok := <-events:
			if !ok {
				return
			}

			switch e := evt.(type) {
			case *gomavlib.EventFrame:
				l.handleMessage(e.SystemID(), e.ComponentID(), e.Message())

			case *gomavlib.EventChannelOpen:
				l.logger.Info("channel open", slog.String("channel", fmt.Sprint(e.Channel)))

			case *gomavlib.EventChannelClose:
				l.logger.Warn("channel closed", slog.String("channel", fmt.Sprint(e.Channel)))
			}
		}
	}
}

// handleMessage folds an incoming message into the link state
func (l *MAVLink) handleMessage(systemID, componentID uint8, msg message.Message) {
	switch m := msg.(type) {
	case *common.MessageHeartbeat:
		if m.Type == common.MAV_TYPE_GCS {
			return // another ground station
		}

		now := l.now()
		armed := m.BaseMode&common.MAV_MODE_FLAG_SAFETY_ARMED != 0

		l.mu.Lock()
		if l.lastHeartbeat.IsZero() || l.targetSystem != systemID {
			l.logger.Info("heartbeat received", slog.Int("systemID", int(systemID)), slog.Int("componentID", int(componentID)))
		}
		l.targetSystem = systemID
		l.targetComponent = componentID
		l.lastHeartbeat = now
		l.telemetry.Timestamp = now
		l.telemetry.Heartbeat = &now
		l.telemetry.Armed = &armed
		l.mu.Unlock()

	case *common.MessageDistanceSensor:
		now := l.now()
		distance := float64(m.CurrentDistance) / 100 // cm

		l.mu.Lock()
		l.telemetry.Timestamp = now
		l.telemetry.Distance = &distance
		l.telemetry.DistanceAt = &now
		close(l.distanceNotify)
		l.distanceNotify = make(chan struct{})
		l.mu.Unlock()

	case *common.MessageSysStatus:
		l.mu.Lock()
		l.telemetry.Timestamp = l.now()
		if m.VoltageBattery != math.MaxUint16 {
			voltage := float64(m.VoltageBattery) / 1000 // mV
			l.telemetry.BatteryVoltage = &voltage
		}
		if m.BatteryRemaining >= 0 {
			remaining := int64(m.BatteryRemaining)
			l.telemetry.BatteryRemaining = &remaining
		}
		l.mu.Unlock()

	case *common.MessageCommandAck:
		select {
		case l.acks <- m:
		default:
			l.logger.Warn("dropping command ack", slog.String("command", fmt.Sprint(m.Command)))
		}
	}
}
