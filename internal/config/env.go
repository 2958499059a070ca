package config

import (
	"fmt"
	"strconv"

	"github.com/caarlos0/env/v6"
)

// EnvOverrides are the settings that can be forced from the environment,
// e.g. by a systemd unit. Empty / negative values leave the file untouched.
type EnvOverrides struct {
	DebugLevel   int    `env:"FOCUSGO_DEBUG_LEVEL" envDefault:"-1"`
	MockGPIO     string `env:"FOCUSGO_MOCK_GPIO"`
	SerialDevice string `env:"FOCUSGO_SERIAL_DEVICE"`
	MQTTBroker   string `env:"FOCUSGO_MQTT_BROKER"`
	WebPort      int    `env:"FOCUSGO_WEB_PORT"`
}

// ApplyEnv reads EnvOverrides from the process environment and applies
// them to c, then re-validates.
func ApplyEnv(c *Config) error {
	var o EnvOverrides
	if err := env.Parse(&o); err != nil {
		return fmt.Errorf("parse environment: %w", err)
	}
	return o.apply(c)
}

func (o EnvOverrides) apply(c *Config) error {
	if o.DebugLevel >= 0 {
		c.Defaults.DebugLevel = o.DebugLevel
	}
	if o.MockGPIO != "" {
		mock, err := strconv.ParseBool(o.MockGPIO)
		if err != nil {
			return fmt.Errorf("FOCUSGO_MOCK_GPIO: %w", err)
		}
		c.Defaults.MockGPIO = mock
	}
	if o.SerialDevice != "" {
		c.Interface.SerialDevice = o.SerialDevice
	}
	if o.MQTTBroker != "" {
		c.Interface.MQTTBroker = o.MQTTBroker
	}
	if o.WebPort != 0 {
		if o.WebPort < 0 || o.WebPort > 65535 {
			return fmt.Errorf("FOCUSGO_WEB_PORT must be 1-65535, got %d", o.WebPort)
		}
		c.Defaults.WebPort = o.WebPort
	}
	return c.Validate()
}
