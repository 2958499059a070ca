package stepper

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/cjeanneret/FocusGo/internal/debug"
	"github.com/cjeanneret/FocusGo/internal/hw/gpio"
)

// ErrMotionInProgress is returned when the profile is changed mid-move.
var ErrMotionInProgress = errors.New("stepper: motion in progress")

// Direction is the sign of the requested motion.
type Direction int

const (
	Forward Direction = iota
	Reverse
)

func (d Direction) String() string {
	if d == Reverse {
		return "reverse"
	}
	return "forward"
}

// Profile bounds the per-step delay. Widths are in microseconds,
// RampLength in steps.
type Profile struct {
	MinWidth   uint32 // fastest: delay during cruise
	MaxWidth   uint32 // slowest: delay at the start and end of a move
	RampLength uint32 // steps over which the delay moves between the two
}

// Config holds the hardware configuration for the motion controller.
type Config struct {
	StepPin    int
	DirPin     int
	EnablePin  int    // A4988 ENABLE pin (BCM). 0 = not used. Active LOW.
	InvertDir  bool   // swap the direction pin levels
	TickPeriod uint32 // microseconds between two OnTick calls
	Profile    Profile
}

// Status is a consistent snapshot of the motion state.
type Status struct {
	Direction      Direction `json:"-"`
	DirectionName  string    `json:"direction"`
	StepGoal       uint32    `json:"step_goal"`
	StepCurrent    uint32    `json:"step_current"`
	StepsToGo      uint32    `json:"steps_to_go"`
	WaitBeforeStep uint32    `json:"wait_before_step_us"`
	Moving         bool      `json:"moving"`
}

// Controller moves a stepper a signed number of steps with a trapezoidal
// speed profile. Pulses are emitted from OnTick, which the timer service
// calls every TickPeriod microseconds.
//
// Move and OnTick are the only mutators of the motion state. mu stands in
// for masking the tick interrupt: OnTick holds it for its whole body, and
// foreground readers (StepsToGo, Status) hold it for the read.
type Controller struct {
	gpio gpio.Driver
	cfg  Config

	mu              sync.Mutex
	profile         Profile
	direction       Direction
	stepGoal        uint32
	stepCurrent     uint32
	waitBeforeStep  uint32
	lastStepElapsed uint32
	pulses          uint64
}

// NewController creates a motion controller in the DONE state.
func NewController(g gpio.Driver, cfg Config) *Controller {
	_ = g.SetupPin(cfg.StepPin, gpio.Output)
	_ = g.SetupPin(cfg.DirPin, gpio.Output)
	_ = g.WritePin(cfg.StepPin, gpio.Low)

	c := &Controller{
		gpio:    g,
		cfg:     cfg,
		profile: cfg.Profile,
	}
	c.waitBeforeStep = c.rampDelay(0)

	// A4988 ENABLE: active LOW. LOW = enabled, HIGH = disabled.
	if cfg.EnablePin > 0 {
		_ = g.SetupPin(cfg.EnablePin, gpio.Output)
		_ = g.WritePin(cfg.EnablePin, gpio.Low) // enable by default
	}
	return c
}

// Move starts a new motion of |steps| steps, negative meaning reverse.
// Any motion in flight is abandoned; its remaining steps are not carried over.
func (c *Controller) Move(steps int32) {
	dir := Forward
	goal := int64(steps)
	if goal < 0 {
		dir = Reverse
		goal = -goal
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.direction = dir
	c.stepGoal = uint32(goal)
	c.stepCurrent = 0
	c.waitBeforeStep = c.rampDelay(0)
	if err := c.gpio.WritePin(c.cfg.DirPin, c.dirLevel(dir)); err != nil {
		debug.Error(fmt.Errorf("stepper: set direction: %w", err))
	}
	debug.Move(c.stepGoal, dir.String())
}

func (c *Controller) dirLevel(d Direction) gpio.Level {
	level := gpio.Level(d == Reverse)
	if c.cfg.InvertDir {
		level = !level
	}
	return level
}

// RampDelay returns the delay required before the pulse following step.
func (c *Controller) RampDelay(step uint32) uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rampDelay(step)
}

func (c *Controller) rampDelay(step uint32) uint32 {
	return rampDelay(c.profile, c.stepGoal, step)
}

// rampDelay is the trapezoid: ramp from MaxWidth to MinWidth over the first
// RampLength steps, cruise at MinWidth, ramp back up over the last
// RampLength steps. Comparisons are unsigned 32-bit, so goal-RampLength
// wraps when RampLength > goal and the second half then cruises.
func rampDelay(p Profile, goal, step uint32) uint32 {
	if step < goal/2 {
		if step < p.RampLength {
			return interpolate(step, 0, p.RampLength, p.MaxWidth, p.MinWidth)
		}
		return p.MinWidth
	}
	start := goal - p.RampLength
	if step > start {
		return interpolate(step, start, goal, p.MinWidth, p.MaxWidth)
	}
	return p.MinWidth
}

// interpolate maps x from [inMin, inMax] onto [outMin, outMax]. The
// mapping itself is clamp-free: x outside the input range extrapolates
// past outMax. Only the result is bounded to the uint32 range, which a
// step index beyond the goal can exceed. Division truncates toward zero.
// An empty input span maps to outMin.
func interpolate(x, inMin, inMax, outMin, outMax uint32) uint32 {
	span := int64(inMax) - int64(inMin)
	if span == 0 {
		return outMin
	}
	v := (int64(x)-int64(inMin))*(int64(outMax)-int64(outMin))/span + int64(outMin)
	if v < 0 {
		return 0
	}
	if v > math.MaxUint32 {
		return math.MaxUint32
	}
	return uint32(v)
}

// OnTick advances the elapsed time by one tick period and emits a step
// pulse when the current wait has elapsed. It must only be called by the
// timer service.
func (c *Controller) OnTick() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.lastStepElapsed > math.MaxUint32-c.cfg.TickPeriod {
		c.lastStepElapsed = math.MaxUint32
	} else {
		c.lastStepElapsed += c.cfg.TickPeriod
	}

	if c.stepCurrent >= c.stepGoal {
		return
	}
	if c.lastStepElapsed < c.waitBeforeStep {
		return // not time to step yet
	}
	c.lastStepElapsed = 0
	c.stepCurrent++

	if err := c.gpio.WritePin(c.cfg.StepPin, gpio.High); err != nil {
		debug.Error(fmt.Errorf("stepper: step high: %w", err))
	}
	// The delay computation doubles as the minimum pulse-width hold.
	c.waitBeforeStep = c.rampDelay(c.stepCurrent)
	if err := c.gpio.WritePin(c.cfg.StepPin, gpio.Low); err != nil {
		debug.Error(fmt.Errorf("stepper: step low: %w", err))
	}
	c.pulses++
}

// StepsToGo returns the steps left in the current motion, 0 once done.
func (c *Controller) StepsToGo() uint32 {
	c.mu.Lock()
	current, goal := c.stepCurrent, c.stepGoal
	c.mu.Unlock()
	if current < goal {
		return goal - current
	}
	return 0
}

// Status returns a snapshot of the motion state.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := Status{
		Direction:      c.direction,
		DirectionName:  c.direction.String(),
		StepGoal:       c.stepGoal,
		StepCurrent:    c.stepCurrent,
		WaitBeforeStep: c.waitBeforeStep,
		Moving:         c.stepCurrent < c.stepGoal,
	}
	if s.Moving {
		s.StepsToGo = c.stepGoal - c.stepCurrent
	}
	return s
}

// Profile returns the active ramp configuration.
func (c *Controller) Profile() Profile {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.profile
}

// SetProfile replaces the ramp configuration. It is refused while moving.
func (c *Controller) SetProfile(p Profile) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stepCurrent < c.stepGoal {
		return ErrMotionInProgress
	}
	c.profile = p
	c.waitBeforeStep = c.rampDelay(c.stepCurrent)
	debug.PrintStruct("Stepper profile", p)
	return nil
}

// Pulses returns the number of step pulses emitted since creation.
func (c *Controller) Pulses() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pulses
}

// Enable turns on the motor driver (A4988 ENABLE=LOW). Motor holds position.
func (c *Controller) Enable() error {
	if c.cfg.EnablePin <= 0 {
		return nil
	}
	return c.gpio.WritePin(c.cfg.EnablePin, gpio.Low)
}

// Disable turns off the motor driver (A4988 ENABLE=HIGH). Motor freewheels.
// Use during photo capture to reduce vibration.
func (c *Controller) Disable() error {
	if c.cfg.EnablePin <= 0 {
		return nil
	}
	return c.gpio.WritePin(c.cfg.EnablePin, gpio.High)
}
