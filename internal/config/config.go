package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// MaxConfigFileBytes caps the size of a config file read by Load.
const MaxConfigFileBytes = 1 << 20

// MotorConfig holds the stepper wiring, timer cadence and ramp profile.
type MotorConfig struct {
	StepPin       int     `yaml:"step_pin"`
	DirPin        int     `yaml:"dir_pin"`
	EnablePin     int     `yaml:"enable_pin"`     // A4988 ENABLE pin (BCM). 0 = not used. Active LOW.
	InvertDir     bool    `yaml:"invert_dir"`     // swap direction levels (motor mounted the other way)
	TickPeriodUs  uint32  `yaml:"tick_period_us"` // timer service cadence
	MinWidthUs    uint32  `yaml:"min_width_us"`   // delay between pulses at cruise speed
	MaxWidthUs    uint32  `yaml:"max_width_us"`   // delay between pulses at start/end of a move
	RampLength    uint32  `yaml:"ramp_length"`    // steps to ramp between the two widths
	StepsPerRev   int     `yaml:"steps_per_rev"`
	Microstepping int     `yaml:"microstepping"`
	GearRatio     float64 `yaml:"gear_ratio"` // motor turns per output turn
}

// CameraConfig describes how to communicate with the camera.
// Type selects a concrete implementation ("gpio" or "nikon_d90_gpio").
type CameraConfig struct {
	Type              string `yaml:"type"`
	FocusPin          int    `yaml:"focus_pin"`
	ShutterPin        int    `yaml:"shutter_pin"`
	FocusDurationMs   int    `yaml:"focus_duration_ms"`   // focus held before the shutter is pressed
	ShutterDurationMs int    `yaml:"shutter_duration_ms"` // shutter held after the focus duration
}

// StackConfig describes one focus stack.
type StackConfig struct {
	StackCount         int     `yaml:"stack_count"`  // number of photos
	MoveSteps          int32   `yaml:"move_steps"`   // signed steps between photos
	MoveDegrees        float64 `yaml:"move_degrees"` // if non-zero, replaces move_steps
	DelayBeforePhotoMs int     `yaml:"delay_before_photo_ms"`
	DelayAfterPhotoMs  int     `yaml:"delay_after_photo_ms"`
}

// InterfaceConfig covers the status and command links.
type InterfaceConfig struct {
	StatusIntervalMs int    `yaml:"status_interval_ms"`
	SerialDevice     string `yaml:"serial_device"` // empty = serial link disabled
	SerialBaud       int    `yaml:"serial_baud"`
	MQTTBroker       string `yaml:"mqtt_broker"` // empty = telemetry disabled, e.g. "tcp://localhost:1883"
	MQTTTopic        string `yaml:"mqtt_topic"`
	MQTTClientID     string `yaml:"mqtt_client_id"`
}

// DefaultsConfig contains generic parameters.
type DefaultsConfig struct {
	DebugLevel int  `yaml:"debug_level"` // debug level 0-4 (0=off, 1=info, 2=live, 3=verbose, 4=trace)
	MockGPIO   bool `yaml:"mock_gpio"`   // use mock GPIO (true=dev/test, false=real Raspberry Pi)
	WebPort    int  `yaml:"web_port"`    // 0 = web UI disabled unless -web is given
}

// Config aggregates all application configuration.
type Config struct {
	Motor     MotorConfig     `yaml:"motor"`
	Camera    CameraConfig    `yaml:"camera"`
	Stack     StackConfig     `yaml:"stack"`
	Interface InterfaceConfig `yaml:"interface"`
	Defaults  DefaultsConfig  `yaml:"defaults"`
}

// ValidateConfigPath accepts only .yaml files inside a configs/ directory,
// without parent-directory components.
func ValidateConfigPath(path string) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		if part == ".." {
			return fmt.Errorf("config path %q must not contain '..'", path)
		}
	}
	clean := filepath.Clean(path)
	if filepath.Ext(clean) != ".yaml" {
		return fmt.Errorf("config path %q must have a .yaml extension", path)
	}
	if filepath.Base(filepath.Dir(clean)) != "configs" {
		return fmt.Errorf("config path %q must be inside a configs/ directory", path)
	}
	return nil
}

// Load reads a YAML file, applies defaults and validates the result.
func Load(path string) (*Config, error) {
	if err := ValidateConfigPath(path); err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, MaxConfigFileBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	if len(data) > MaxConfigFileBytes {
		return nil, fmt.Errorf("config file exceeds %d bytes", MaxConfigFileBytes)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal yaml: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the built-in configuration, as used when no file is given.
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	cfg.Defaults.DebugLevel = 1
	cfg.Defaults.MockGPIO = true
	return &cfg
}

func (c *Config) applyDefaults() {
	m := &c.Motor
	if m.StepPin == 0 {
		m.StepPin = 16
	}
	if m.DirPin == 0 {
		m.DirPin = 15
	}
	if m.TickPeriodUs == 0 {
		m.TickPeriodUs = 200
	}
	if m.MinWidthUs == 0 {
		m.MinWidthUs = 1000
	}
	if m.MaxWidthUs == 0 {
		m.MaxWidthUs = 4000
	}
	if m.RampLength == 0 {
		m.RampLength = 100
	}
	if m.StepsPerRev <= 0 {
		m.StepsPerRev = 200
	}
	if m.Microstepping <= 0 {
		m.Microstepping = 1
	}
	if m.GearRatio <= 0 {
		m.GearRatio = 1
	}

	cam := &c.Camera
	if cam.Type == "" {
		cam.Type = "gpio"
	}
	if cam.FocusPin == 0 {
		cam.FocusPin = 13
	}
	if cam.ShutterPin == 0 {
		cam.ShutterPin = 14
	}
	if cam.FocusDurationMs <= 0 {
		cam.FocusDurationMs = 1000
	}
	if cam.ShutterDurationMs <= 0 {
		cam.ShutterDurationMs = 1000
	}

	s := &c.Stack
	if s.StackCount == 0 {
		s.StackCount = 5
	}
	if s.MoveSteps == 0 && s.MoveDegrees == 0 {
		s.MoveSteps = 200
	}
	if s.DelayBeforePhotoMs <= 0 {
		s.DelayBeforePhotoMs = 1000
	}
	if s.DelayAfterPhotoMs <= 0 {
		s.DelayAfterPhotoMs = 200
	}

	i := &c.Interface
	if i.StatusIntervalMs <= 0 {
		i.StatusIntervalMs = 100
	}
	if i.SerialBaud <= 0 {
		i.SerialBaud = 9600
	}
	if i.MQTTTopic == "" {
		i.MQTTTopic = "focusgo"
	}
	if i.MQTTClientID == "" {
		i.MQTTClientID = "focusgo"
	}
}

// Validate checks values that would make the rig unusable. A ramp longer
// than half a stack move is accepted: it only distorts the speed profile.
func (c *Config) Validate() error {
	m := c.Motor
	if m.TickPeriodUs == 0 {
		return errors.New("motor.tick_period_us must be > 0")
	}
	if m.MinWidthUs > m.MaxWidthUs {
		return fmt.Errorf("motor.min_width_us (%d) must be <= motor.max_width_us (%d)", m.MinWidthUs, m.MaxWidthUs)
	}
	switch c.Camera.Type {
	case "gpio", "nikon_d90_gpio":
	default:
		return fmt.Errorf("unsupported camera.type: %q", c.Camera.Type)
	}
	if c.Stack.StackCount < 1 {
		return fmt.Errorf("stack.stack_count must be >= 1, got %d", c.Stack.StackCount)
	}
	if c.Interface.StatusIntervalMs < 100 {
		return fmt.Errorf("interface.status_interval_ms must be >= 100, got %d", c.Interface.StatusIntervalMs)
	}
	if c.Defaults.DebugLevel < 0 || c.Defaults.DebugLevel > 4 {
		return fmt.Errorf("defaults.debug_level must be between 0 and 4, got %d", c.Defaults.DebugLevel)
	}
	if c.Defaults.WebPort < 0 || c.Defaults.WebPort > 65535 {
		return fmt.Errorf("defaults.web_port must be between 0 and 65535, got %d", c.Defaults.WebPort)
	}

	pins := map[int]string{}
	for _, p := range []struct {
		name string
		pin  int
	}{
		{"motor.step_pin", m.StepPin},
		{"motor.dir_pin", m.DirPin},
		{"motor.enable_pin", m.EnablePin},
		{"camera.focus_pin", c.Camera.FocusPin},
		{"camera.shutter_pin", c.Camera.ShutterPin},
	} {
		if p.pin == 0 {
			continue
		}
		if p.pin < 0 {
			return fmt.Errorf("%s must be >= 0, got %d", p.name, p.pin)
		}
		if other, ok := pins[p.pin]; ok {
			return fmt.Errorf("%s and %s both use pin %d", other, p.name, p.pin)
		}
		pins[p.pin] = p.name
	}
	return nil
}

// RampExceedsHalfMove reports whether a stack move is too short for the
// configured ramp. The move still runs with a distorted profile.
func (c *Config) RampExceedsHalfMove(moveSteps int32) bool {
	n := int64(moveSteps)
	if n < 0 {
		n = -n
	}
	return int64(c.Motor.RampLength) > n/2
}

// TickPeriod returns the timer service cadence.
func (c *Config) TickPeriod() time.Duration {
	return time.Duration(c.Motor.TickPeriodUs) * time.Microsecond
}

// FocusDuration returns how long focus is held before the shutter.
func (c *Config) FocusDuration() time.Duration {
	return time.Duration(c.Camera.FocusDurationMs) * time.Millisecond
}

// ShutterDuration returns the shutter hold time.
func (c *Config) ShutterDuration() time.Duration {
	return time.Duration(c.Camera.ShutterDurationMs) * time.Millisecond
}

// DelayBeforePhoto returns the settle time before each photo.
func (c *Config) DelayBeforePhoto() time.Duration {
	return time.Duration(c.Stack.DelayBeforePhotoMs) * time.Millisecond
}

// DelayAfterPhoto returns the pause after each photo before moving.
func (c *Config) DelayAfterPhoto() time.Duration {
	return time.Duration(c.Stack.DelayAfterPhotoMs) * time.Millisecond
}

// StatusInterval returns the telemetry period.
func (c *Config) StatusInterval() time.Duration {
	return time.Duration(c.Interface.StatusIntervalMs) * time.Millisecond
}
