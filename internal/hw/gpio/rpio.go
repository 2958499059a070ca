package gpio

import (
	"fmt"
	"sync"

	"github.com/cjeanneret/FocusGo/internal/debug"
	"github.com/stianeikeland/go-rpio/v4"
)

// MaxBCMPin is the highest GPIO exposed on the 40-pin header.
const MaxBCMPin = 27

// RPiDriver drives the Raspberry Pi GPIOs through go-rpio's memory map.
// Pins used before SetupPin are configured on first use: output for a
// write, input for a read.
type RPiDriver struct {
	mu    sync.Mutex
	modes map[int]PinMode
}

// NewRPiRealDriver maps /dev/gpiomem (or /dev/mem as root).
func NewRPiRealDriver() (*RPiDriver, error) {
	debug.Info("Initializing real GPIO driver (go-rpio)")
	if err := rpio.Open(); err != nil {
		return nil, fmt.Errorf("open GPIO memory: %w (not a Raspberry Pi?)", err)
	}
	debug.Verbose("GPIO memory mapped")
	return &RPiDriver{modes: make(map[int]PinMode)}, nil
}

func checkPin(pin int) error {
	if pin < 0 || pin > MaxBCMPin {
		return fmt.Errorf("gpio: BCM pin %d out of range 0-%d", pin, MaxBCMPin)
	}
	return nil
}

func (r *RPiDriver) SetupPin(pin int, mode PinMode) error {
	debug.GPIO("SetupPin", pin, mode)
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.configure(pin, mode)
}

// configure must be called with mu held.
func (r *RPiDriver) configure(pin int, mode PinMode) error {
	if err := checkPin(pin); err != nil {
		return err
	}
	p := rpio.Pin(pin)
	switch mode {
	case Output:
		p.Output()
	case Input:
		p.Input()
		p.PullDown()
	default:
		return fmt.Errorf("gpio: unknown pin mode %d", mode)
	}
	r.modes[pin] = mode
	return nil
}

func (r *RPiDriver) WritePin(pin int, level Level) error {
	debug.GPIO("WritePin", pin, level)
	r.mu.Lock()
	defer r.mu.Unlock()
	if mode, ok := r.modes[pin]; !ok || mode != Output {
		if err := r.configure(pin, Output); err != nil {
			return err
		}
	}
	state := rpio.Low
	if level == High {
		state = rpio.High
	}
	rpio.Pin(pin).Write(state)
	return nil
}

func (r *RPiDriver) ReadPin(pin int) (Level, error) {
	debug.GPIO("ReadPin", pin, nil)
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.modes[pin]; !ok {
		if err := r.configure(pin, Input); err != nil {
			return Low, err
		}
	}
	return Level(rpio.Pin(pin).Read() == rpio.High), nil
}

// Close releases every pin used as an output back to a floating input,
// then unmaps the GPIO memory.
func (r *RPiDriver) Close() error {
	debug.Trace("GPIO Close (real driver)")
	r.mu.Lock()
	defer r.mu.Unlock()
	for pin, mode := range r.modes {
		if mode == Output {
			debug.Verbose("Releasing pin %d", pin)
			p := rpio.Pin(pin)
			p.Input()
			p.PullOff()
		}
	}
	r.modes = make(map[int]PinMode)
	return rpio.Close()
}
