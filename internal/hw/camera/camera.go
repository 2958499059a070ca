package camera

import (
	"fmt"
	"time"

	"github.com/cjeanneret/FocusGo/internal/hw/gpio"
)

// Camera is the high-level interface used by the rest of the application.
// It represents an abstract "camera", regardless of how it's controlled
// (GPIO, USB, network protocol, etc.).
type Camera interface {
	// Shoot triggers a single photo capture.
	Shoot() error
}

// Supported camera types.
const (
	TypeGPIO         = "gpio"           // optocoupled remote, HIGH = pressed
	TypeNikonD90GPIO = "nikon_d90_gpio" // Nikon 3-pin remote connector, LOW = pressed
)

// New selects a Camera implementation by type name.
func New(typ string, g gpio.Driver, focusPin, shutterPin int, focus, shutter time.Duration) (Camera, error) {
	cfg := TriggerConfig{
		FocusPin:        focusPin,
		ShutterPin:      shutterPin,
		FocusDuration:   focus,
		ShutterDuration: shutter,
	}
	switch typ {
	case TypeGPIO, "":
	case TypeNikonD90GPIO:
		cfg.ActiveLow = true
	default:
		return nil, fmt.Errorf("unsupported camera type: %s", typ)
	}
	return NewGPIOTrigger(g, cfg), nil
}
