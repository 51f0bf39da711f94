package control

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roman-kulish/pioneer-control/internal/rc"
)

const DefaultTransmitTimeout = 40 * time.Millisecond

var (
	// ErrAlreadyRunning is returned when starting a scheduler that is already running
	ErrAlreadyRunning = errors.New("scheduler is already running")

	// ErrTransmitInFlight is returned when a flush is due while the previous transmission has not returned yet
	ErrTransmitInFlight = errors.New("previous transmission still in flight")
)

// Transmitter sends a channel vector to the flight controller
type Transmitter interface {
	SendChannels(ctx context.Context, channels rc.Channels) error
}

// Stats are the scheduler counters since start
type Stats struct {
	Ticks         uint64 `json:"ticks"`
	Flushes       uint64 `json:"flushes"`
	Transmissions uint64 `json:"transmissions"`
	Skipped       uint64 `json:"skipped"`
	Failed        uint64 `json:"failed"`
}

// WithLogger sets the logger for the scheduler
func WithLogger(logger *slog.Logger) func(*Scheduler) {
	return func(s *Scheduler) {
		s.logger = logger.With(slog.String("component", "scheduler"))
	}
}

// WithTransmitTimeout bounds a single transmission to the flight controller
func WithTransmitTimeout(timeout time.Duration) func(*Scheduler) {
	return func(s *Scheduler) {
		if timeout > 0 {
			s.timeout = timeout
		}
	}
}

// Scheduler periodically flushes the channel vector held by a State to the
// flight controller. Every tick advances the State's tick counter; when the
// flush threshold is reached the vector is transmitted (if control is enabled)
// and reset to neutral, so a command lasts exactly one flush window unless it
// is issued again.
type Scheduler struct {
	state   *State
	link    Transmitter
	timeout time.Duration

	isRunning atomic.Bool
	inFlight  atomic.Bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup

	ticks         atomic.Uint64
	flushes       atomic.Uint64
	transmissions atomic.Uint64
	skipped       atomic.Uint64
	failed        atomic.Uint64

	logger *slog.Logger
}

// NewScheduler creates a new Scheduler with a discard logger
func NewScheduler(state *State, link Transmitter, options ...func(*Scheduler)) *Scheduler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil)) // nil logger

	s := Scheduler{
		state:   state,
		link:    link,
		timeout: DefaultTransmitTimeout,
		logger:  logger,
	}

	for _, option := range options {
		option(&s)
	}

	return &s
}

// Start spawns the periodic task. It runs until Stop is called or ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	if !s.isRunning.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}

	ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)
	go s.run(ctx)

	s.logger.Info("control scheduler started",
		slog.Duration("tick", s.state.TickInterval()),
		slog.Int("threshold", s.state.Tunables().FlushThreshold))

	return nil
}

// Stop cancels the periodic task and waits for it to return
func (s *Scheduler) Stop() {
	if !s.isRunning.Load() {
		return // already stopped
	}

	s.cancel()
	s.wg.Wait()
	s.isRunning.Store(false)

	st := s.Stats()
	s.logger.Info("control scheduler stopped",
		slog.Uint64("flushes", st.Flushes),
		slog.Uint64("transmissions", st.Transmissions),
		slog.Uint64("failed", st.Failed))
}

// IsRunning returns true if the periodic task is running
func (s *Scheduler) IsRunning() bool {
	return s.isRunning.Load()
}

// Stats returns a snapshot of the scheduler counters
func (s *Scheduler) Stats() Stats {
	return Stats{
		Ticks:         s.ticks.Load(),
		Flushes:       s.flushes.Load(),
		Transmissions: s.transmissions.Load(),
		Skipped:       s.skipped.Load(),
		Failed:        s.failed.Load(),
	}
}

func (s *Scheduler) run(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.state.TickInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick performs a single scheduler step. Errors from the flight controller
// are logged and counted; they never stop the periodic task.
func (s *Scheduler) Tick(ctx context.Context) {
	s.ticks.Add(1)

	flush, frame, enabled := s.state.advance()
	if !flush {
		return
	}
	s.flushes.Add(1)

	if !enabled {
		return
	}

	if err := s.transmit(ctx, frame); err != nil {
		if errors.Is(err, ErrTransmitInFlight) {
			s.skipped.Add(1)
		} else {
			s.failed.Add(1)
		}
		s.logger.Warn(err.Error(), slog.String("channels", frame.String()))
		return
	}

	s.transmissions.Add(1)
}

// transmit sends the frame and waits at most s.timeout for the link to return.
// A link that ignores its context keeps the in-flight flag set, and following
// flushes are skipped until it returns.
func (s *Scheduler) transmit(ctx context.Context, frame rc.Channels) error {
	if !s.inFlight.CompareAndSwap(false, true) {
		return ErrTransmitInFlight
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		err := s.link.SendChannels(ctx, frame)
		s.inFlight.Store(false)
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("transmitting channels: %w", err)
		}
		return nil

	case <-ctx.Done():
		return fmt.Errorf("transmitting channels: %w", ctx.Err())
	}
}
