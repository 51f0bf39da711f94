package server

import (
	"context"
	"io"
	"log/slog"
	"time"
)

const DefaultMonitorInterval = time.Second

// Serving reports whether the serving loop should keep running
type Serving interface {
	Serving() bool
}

// WithMonitorLogger sets the logger for the liveness monitor
func WithMonitorLogger(logger *slog.Logger) func(*Monitor) {
	return func(m *Monitor) {
		m.logger = logger.With(slog.String("component", "monitor"))
	}
}

// WithMonitorInterval sets how often the serving flag is checked
func WithMonitorInterval(interval time.Duration) func(*Monitor) {
	return func(m *Monitor) {
		if interval > 0 {
			m.interval = interval
		}
	}
}

// Monitor watches the serving flag and stops the serving loop once it is cleared
type Monitor struct {
	flag     Serving
	stop     func()
	interval time.Duration

	logger *slog.Logger
}

// NewMonitor creates a Monitor calling stop once flag reports false
func NewMonitor(flag Serving, stop func(), options ...func(*Monitor)) *Monitor {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil)) // nil logger

	m := Monitor{
		flag:     flag,
		stop:     stop,
		interval: DefaultMonitorInterval,
		logger:   logger,
	}

	for _, option := range options {
		option(&m)
	}

	return &m
}

// Run blocks until the serving flag is cleared or ctx is cancelled. It
// returns true if it stopped the serving loop.
func (m *Monitor) Run(ctx context.Context) bool {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return false

		case <-ticker.C:
			if m.flag.Serving() {
				continue
			}

			m.logger.Info("serving flag cleared, stopping")
			m.stop()
			return true
		}
	}
}
