package app

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roman-kulish/pioneer-control/internal/camera"
	"github.com/roman-kulish/pioneer-control/internal/control"
	"github.com/roman-kulish/pioneer-control/internal/dispatch"
	"github.com/roman-kulish/pioneer-control/internal/flight"
	"github.com/roman-kulish/pioneer-control/internal/server"
)

// Config represents the main application configuration
type Config struct {
	Settings Settings      `yaml:"settings"`
	HTTP     HTTPConfig    `yaml:"http"`
	Link     LinkConfig    `yaml:"link"`
	Camera   CameraConfig  `yaml:"camera"`
	Control  ControlConfig `yaml:"control"`
}

// Settings represents global application settings
type Settings struct {
	LogLevel string `yaml:"logLevel"`
}

// HTTPConfig represents the HTTP facade settings
type HTTPConfig struct {
	Address           string   `yaml:"address"`
	IndexPage         string   `yaml:"indexPage"`
	TelemetryInterval Duration `yaml:"telemetryInterval"`
}

// LinkConfig represents the flight controller link settings
type LinkConfig struct {
	Address          string   `yaml:"address"`
	SystemID         uint8    `yaml:"systemID"`
	HeartbeatTimeout Duration `yaml:"heartbeatTimeout"`
	AckTimeout       Duration `yaml:"ackTimeout"`
	Retries          int      `yaml:"retries"`
}

// CameraConfig represents the camera settings
type CameraConfig struct {
	Enabled bool     `yaml:"enabled"`
	Device  string   `yaml:"device"`
	Overlay bool     `yaml:"overlay"`
	Quality int      `yaml:"quality"`
	Timeout Duration `yaml:"timeout"`
}

// ControlConfig represents the control scheduler and dispatcher settings
type ControlConfig struct {
	TickInterval    Duration `yaml:"tickInterval"`
	FlushInterval   Duration `yaml:"flushInterval"`
	TransmitTimeout Duration `yaml:"transmitTimeout"`
	SettleDelay     Duration `yaml:"settleDelay"`
	MonitorInterval Duration `yaml:"monitorInterval"`
	SpeedMove       float64  `yaml:"speedMove"`
	SpeedTurn       float64  `yaml:"speedTurn"`
	SpeedVert       float64  `yaml:"speedVert"`
	MinHeight       float64  `yaml:"minHeight"`
	MaxHeight       float64  `yaml:"maxHeight"`
	ControlEnabled  bool     `yaml:"controlEnabled"`
}

// DefaultConfig returns the configuration used when no file is given.
// A configuration file is decoded on top of it.
func DefaultConfig() *Config {
	return &Config{
		Settings: Settings{LogLevel: "info"},
		HTTP: HTTPConfig{
			Address:           server.DefaultAddress,
			IndexPage:         server.DefaultIndexPage,
			TelemetryInterval: Duration(server.DefaultTelemetryInterval),
		},
		Link: LinkConfig{
			Address:          flight.DefaultAddress,
			SystemID:         flight.DefaultSystemID,
			HeartbeatTimeout: Duration(flight.DefaultHeartbeatTimeout),
			AckTimeout:       Duration(flight.DefaultAckTimeout),
			Retries:          flight.DefaultRetries,
		},
		Camera: CameraConfig{
			Device:  camera.DefaultDevice,
			Overlay: true,
			Quality: camera.DefaultQuality,
			Timeout: Duration(camera.DefaultTimeout),
		},
		Control: ControlConfig{
			TickInterval:    Duration(control.DefaultTickInterval),
			FlushInterval:   Duration(control.DefaultFlushInterval),
			TransmitTimeout: Duration(control.DefaultTransmitTimeout),
			SettleDelay:     Duration(dispatch.DefaultSettleDelay),
			MonitorInterval: Duration(server.DefaultMonitorInterval),
			SpeedMove:       control.MaxSpeed,
			SpeedTurn:       control.MaxSpeed,
			SpeedVert:       control.MaxSpeed,
			MinHeight:       dispatch.DefaultMinHeight,
			MaxHeight:       dispatch.DefaultMaxHeight,
		},
	}
}

// LoadConfig reads a YAML configuration file over the defaults
func LoadConfig(path string) (*Config, error) {
	config := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading configuration file: %w", err)
		}
		if err = yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("parsing configuration file: %w", err)
		}
	}

	return config, nil
}

func (c *Config) Validate() error {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Settings.LogLevel)); err != nil {
		return fmt.Errorf("settings: invalid log level '%s'", c.Settings.LogLevel)
	}
	if c.HTTP.Address == "" {
		return fmt.Errorf("http: address is required")
	}
	flightConfig := c.FlightConfig()
	if err := flightConfig.Validate(); err != nil {
		return fmt.Errorf("link: %w", err)
	}
	if c.Camera.Enabled {
		if c.Camera.Device == "" {
			return fmt.Errorf("camera: device is required")
		}
		if c.Camera.Quality < 1 || c.Camera.Quality > 100 {
			return fmt.Errorf("camera: quality must be between 1 and 100: %d given", c.Camera.Quality)
		}
	}
	return c.Control.Validate()
}

func (c *ControlConfig) Validate() error {
	if c.TickInterval.Duration() <= 0 {
		return fmt.Errorf("control: tick interval must be positive: %s", c.TickInterval)
	}
	if c.TickInterval.Duration() > control.MinFlushInterval {
		return fmt.Errorf("control: tick interval must not exceed %s: %s given", control.MinFlushInterval, c.TickInterval)
	}
	if c.TransmitTimeout.Duration() <= 0 {
		return fmt.Errorf("control: transmit timeout must be positive: %s", c.TransmitTimeout)
	}
	if c.SettleDelay.Duration() < 0 {
		return fmt.Errorf("control: settle delay must not be negative: %s", c.SettleDelay)
	}
	if c.MonitorInterval.Duration() <= 0 {
		return fmt.Errorf("control: monitor interval must be positive: %s", c.MonitorInterval)
	}
	if c.MinHeight < 0 || c.MaxHeight <= c.MinHeight {
		return fmt.Errorf("control: invalid altitude fence [%g, %g]", c.MinHeight, c.MaxHeight)
	}
	return nil
}

// LogLevel returns the configured log level
func (c *Config) LogLevel() slog.Level {
	var level slog.Level
	_ = level.UnmarshalText([]byte(c.Settings.LogLevel))
	return level
}

// FlightConfig returns the flight link configuration
func (c *Config) FlightConfig() flight.Config {
	return flight.Config{
		Address:          c.Link.Address,
		SystemID:         c.Link.SystemID,
		HeartbeatTimeout: c.Link.HeartbeatTimeout.Duration(),
		AckTimeout:       c.Link.AckTimeout.Duration(),
		Retries:          c.Link.Retries,
	}
}

// Duration is a time.Duration read from strings such as "50ms" or "1s"
type Duration time.Duration

func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	duration, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("app.Duration: failed to parse: %s", err)
	}

	*d = Duration(duration)
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return d.String(), nil
}

func (d *Duration) UnmarshalJSON(bytes []byte) error {
	var v string
	if err := json.Unmarshal(bytes, &v); err != nil {
		return err
	}

	duration, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("app.Duration: failed to parse: %s", err)
	}

	*d = Duration(duration)
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d Duration) String() string {
	return time.Duration(d).String()
}
