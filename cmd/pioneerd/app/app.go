package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/roman-kulish/pioneer-control/internal/camera"
	"github.com/roman-kulish/pioneer-control/internal/control"
	"github.com/roman-kulish/pioneer-control/internal/dispatch"
	"github.com/roman-kulish/pioneer-control/internal/flight"
	"github.com/roman-kulish/pioneer-control/internal/rc"
	"github.com/roman-kulish/pioneer-control/internal/server"
)

const (
	shutdownTimeout = 5 * time.Second
	landingTimeout  = 10 * time.Second
)

// linkFactory creates the flight link. The context it receives outlives ctx
// given to Run: the link must keep receiving acks for the final landing.
type linkFactory func(ctx context.Context) (flight.Link, error)

// Run wires the control state, the flight link, the camera, the scheduler
// and the HTTP facade, and serves until ctx is cancelled or an exit action
// clears the serving flag. The aircraft is landed and disarmed on the way out.
func Run(ctx context.Context, config *Config, logger *slog.Logger) error {
	return run(ctx, config, logger, func(ctx context.Context) (flight.Link, error) {
		return flight.NewMAVLink(ctx, config.FlightConfig(), flight.WithLogger(logger))
	})
}

func run(ctx context.Context, config *Config, logger *slog.Logger, newLink linkFactory) error {
	if err := config.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	started := time.Now()

	state := control.NewState(config.Control.TickInterval.Duration(),
		control.WithFlushInterval(config.Control.FlushInterval.Duration()),
		control.WithSpeed(rc.Move, config.Control.SpeedMove),
		control.WithSpeed(rc.Turn, config.Control.SpeedTurn),
		control.WithSpeed(rc.Vertical, config.Control.SpeedVert),
		control.WithControlEnabled(config.Control.ControlEnabled),
	)

	// the link and the camera are stopped by Close, not by ctx
	link, err := newLink(context.WithoutCancel(ctx))
	if err != nil {
		return fmt.Errorf("failed to create flight link: %w", err)
	}
	defer link.Close()

	scheduler := control.NewScheduler(state, link,
		control.WithLogger(logger),
		control.WithTransmitTimeout(config.Control.TransmitTimeout.Duration()),
	)

	dispatcherOptions := []func(*dispatch.Dispatcher){
		dispatch.WithLogger(logger),
		dispatch.WithStats(scheduler),
		dispatch.WithSettleDelay(config.Control.SettleDelay.Duration()),
		dispatch.WithFence(dispatch.Fence{
			MinHeight: config.Control.MinHeight,
			MaxHeight: config.Control.MaxHeight,
		}),
	}

	if config.Camera.Enabled {
		cam, overlay, err := createCamera(context.WithoutCancel(ctx), &config.Camera, logger)
		if err != nil {
			// frames are optional, flying is not
			logger.Warn(fmt.Sprintf("camera disabled: %s", err.Error()))
		} else {
			defer cam.Close()
			if overlay != nil {
				defer overlay.Close()
			}
			dispatcherOptions = append(dispatcherOptions, dispatch.WithCamera(cam, overlay))
		}
	}

	dispatcher := dispatch.NewDispatcher(state, link, dispatcherOptions...)

	srv := server.NewServer(config.HTTP.Address, dispatcher,
		server.WithLogger(logger),
		server.WithIndexPage(config.HTTP.IndexPage),
		server.WithTelemetry(link, config.HTTP.TelemetryInterval.Duration()),
	)

	if err = scheduler.Start(ctx); err != nil {
		return fmt.Errorf("failed to start control scheduler: %w", err)
	}
	defer scheduler.Stop()

	if err = srv.Start(ctx); err != nil {
		return fmt.Errorf("failed to start http server: %w", err)
	}

	monitorCtx, cancelMonitor := context.WithCancel(ctx)
	defer cancelMonitor()

	exited := make(chan struct{})
	monitor := server.NewMonitor(state, func() { close(exited) },
		server.WithMonitorLogger(logger),
		server.WithMonitorInterval(config.Control.MonitorInterval.Duration()),
	)
	go monitor.Run(monitorCtx)

	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
	case <-exited:
		logger.Info("exit action received")
	case <-srv.Done():
		logger.Warn("http server stopped unexpectedly")
	}

	// stop accepting work, then the periodic tasks, then bring the aircraft down
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	if err = srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn(err.Error())
	}

	cancelMonitor()
	scheduler.Stop()

	state.SetControlEnabled(false)
	land(context.WithoutCancel(ctx), link, config.Control.SettleDelay.Duration(), logger)

	st := scheduler.Stats()
	logger.Info("stopped",
		slog.String("started", humanize.Time(started)),
		slog.String("transmissions", humanize.Comma(int64(st.Transmissions))),
		slog.String("failed", humanize.Comma(int64(st.Failed))))

	return nil
}

func createCamera(ctx context.Context, config *CameraConfig, logger *slog.Logger) (camera.Camera, *camera.Overlay, error) {
	var overlay *camera.Overlay
	if config.Overlay {
		var err error
		if overlay, err = camera.NewOverlay(config.Quality); err != nil {
			return nil, nil, fmt.Errorf("creating overlay: %w", err)
		}
	}

	cam, err := camera.NewWebcam(ctx, config.Device,
		camera.WithLogger(logger),
		camera.WithTimeout(config.Timeout.Duration()),
	)
	if err != nil {
		if overlay != nil {
			_ = overlay.Close()
		}
		return nil, nil, err
	}

	return cam, overlay, nil
}

// land performs the final land, settle, disarm sequence. Errors are logged,
// the process is exiting regardless.
func land(ctx context.Context, link flight.Link, settle time.Duration, logger *slog.Logger) {
	if !link.Connected() {
		logger.Info("flight controller not connected, skipping final landing")
		return
	}

	ctx, cancel := context.WithTimeout(ctx, landingTimeout+settle)
	defer cancel()

	if err := link.Land(ctx); err != nil {
		logger.Error(fmt.Sprintf("final landing: %s", err.Error()))
		return
	}

	time.Sleep(settle)

	if err := link.Disarm(ctx); err != nil {
		logger.Error(fmt.Sprintf("final disarm: %s", err.Error()))
		return
	}

	logger.Info("landed and disarmed")
}
