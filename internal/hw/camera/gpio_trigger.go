package camera

import (
	"sync"
	"time"

	"github.com/cjeanneret/FocusGo/internal/debug"
	"github.com/cjeanneret/FocusGo/internal/hw/gpio"
)

// TriggerConfig describes a camera wired through a focus and a shutter line.
type TriggerConfig struct {
	FocusPin        int
	ShutterPin      int
	FocusDuration   time.Duration // focus held before the shutter is pressed
	ShutterDuration time.Duration // shutter held down after the focus duration
	ActiveLow       bool          // lines are pressed by pulling them LOW
}

// GPIOTrigger is a Camera that presses the focus and shutter lines.
//
// Trigger sequence:
// 1. press FOCUS
// 2. wait FocusDuration (autofocus / metering)
// 3. press SHUTTER
// 4. wait ShutterDuration
// 5. release SHUTTER, then FOCUS
type GPIOTrigger struct {
	gpio gpio.Driver
	cfg  TriggerConfig
	mu   sync.Mutex // one shot at a time

	sleep func(time.Duration)
}

// NewGPIOTrigger configures both lines as outputs and releases them.
func NewGPIOTrigger(g gpio.Driver, cfg TriggerConfig) *GPIOTrigger {
	t := &GPIOTrigger{gpio: g, cfg: cfg, sleep: time.Sleep}

	_ = g.SetupPin(cfg.FocusPin, gpio.Output)
	_ = g.SetupPin(cfg.ShutterPin, gpio.Output)
	_ = g.WritePin(cfg.FocusPin, t.released())
	_ = g.WritePin(cfg.ShutterPin, t.released())
	return t
}

func (t *GPIOTrigger) pressed() gpio.Level {
	return gpio.Level(!t.cfg.ActiveLow)
}

func (t *GPIOTrigger) released() gpio.Level {
	return !t.pressed()
}

// SetDurations changes the focus and shutter hold times for the next shot.
func (t *GPIOTrigger) SetDurations(focus, shutter time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cfg.FocusDuration = focus
	t.cfg.ShutterDuration = shutter
}

// Shoot triggers a photo.
func (t *GPIOTrigger) Shoot() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	debug.Printf("Camera: triggering shot (focus=%d, shutter=%d)", t.cfg.FocusPin, t.cfg.ShutterPin)

	debug.Verbose("Camera: pressing FOCUS (pin %d -> %v)", t.cfg.FocusPin, t.pressed())
	if err := t.gpio.WritePin(t.cfg.FocusPin, t.pressed()); err != nil {
		return err
	}
	t.sleep(t.cfg.FocusDuration)

	debug.Verbose("Camera: pressing SHUTTER (pin %d -> %v)", t.cfg.ShutterPin, t.pressed())
	if err := t.gpio.WritePin(t.cfg.ShutterPin, t.pressed()); err != nil {
		// Release FOCUS on error
		_ = t.gpio.WritePin(t.cfg.FocusPin, t.released())
		return err
	}
	t.sleep(t.cfg.ShutterDuration)

	if err := t.gpio.WritePin(t.cfg.ShutterPin, t.released()); err != nil {
		return err
	}
	if err := t.gpio.WritePin(t.cfg.FocusPin, t.released()); err != nil {
		return err
	}

	debug.Verbose("Camera: shot triggered")
	return nil
}
