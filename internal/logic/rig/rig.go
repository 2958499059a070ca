package rig

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cjeanneret/FocusGo/internal/config"
	"github.com/cjeanneret/FocusGo/internal/debug"
	"github.com/cjeanneret/FocusGo/internal/hw/camera"
	"github.com/cjeanneret/FocusGo/internal/hw/stepper"
	"github.com/cjeanneret/FocusGo/internal/logic/geometry"
	"github.com/cjeanneret/FocusGo/internal/logic/motion"
	"github.com/cjeanneret/FocusGo/internal/logic/stack"
)

// Version is reported by get_version.
const Version = "FocusGo 1.0.0"

// ErrBusy is returned when an action is requested while another one runs.
var ErrBusy = errors.New("rig: an action is already running")

// Action names, as reported in Status.Action and in events.
const (
	ActionNone  = ""
	ActionMove  = "move"
	ActionStack = "stack"
	ActionPhoto = "photo"
)

// Camera is a trigger whose timings can be changed at runtime.
type Camera interface {
	camera.Camera
	SetDurations(focus, shutter time.Duration)
}

// EventSink receives action lifecycle messages (the web broadcaster).
type EventSink interface {
	Broadcast(level, msg string)
}

// Status is the rig snapshot returned by get_status.
type Status struct {
	Action string         `json:"action"`
	Busy   bool           `json:"busy"`
	Motor  stepper.Status `json:"motor"`
	Stack  stack.Status   `json:"stack"`
}

// Rig owns the motion controller, camera and stack sequencer, and runs
// at most one action at a time.
type Rig struct {
	stepper *stepper.Controller
	motion  *motion.Controller
	camera  Camera
	seq     *stack.Sequence
	events  EventSink

	mu     sync.Mutex
	cfg    *config.Config
	action string
	cancel context.CancelFunc
	done   chan struct{}
}

// New wires a rig. events may be nil.
func New(cfg *config.Config, st *stepper.Controller, cam Camera, events EventSink) *Rig {
	mc := motion.NewController(st)
	seq := stack.NewSequence(mc, cam)
	seq.SetHolder(st)
	return &Rig{
		stepper: st,
		motion:  mc,
		camera:  cam,
		seq:     seq,
		events:  events,
		cfg:     cfg,
	}
}

func (r *Rig) Version() string { return Version }

// Settings returns the live runtime settings.
func (r *Rig) Settings() config.Settings {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cfg.Settings()
}

// SetSettings validates and applies s. The motor profile cannot change
// during a motion; camera and stack settings apply to the next action.
func (r *Rig) SetSettings(s config.Settings) error {
	r.mu.Lock()
	next, err := r.cfg.WithSettings(s)
	if err != nil {
		r.mu.Unlock()
		return err
	}
	err = r.stepper.SetProfile(stepper.Profile{
		MinWidth:   next.Motor.MinWidthUs,
		MaxWidth:   next.Motor.MaxWidthUs,
		RampLength: next.Motor.RampLength,
	})
	if err != nil {
		r.mu.Unlock()
		return err
	}
	r.cfg = next
	r.mu.Unlock()

	r.camera.SetDurations(next.FocusDuration(), next.ShutterDuration())
	debug.PrintStruct("Settings", s)
	return nil
}

// Status returns a snapshot of the motor and the stack sequencer.
func (r *Rig) Status() Status {
	r.mu.Lock()
	action := r.action
	r.mu.Unlock()
	return Status{
		Action: action,
		Busy:   action != ActionNone,
		Motor:  r.stepper.Status(),
		Stack:  r.seq.Status(),
	}
}

// MoveMotor starts a signed move in the background.
func (r *Rig) MoveMotor(steps int32) error {
	return r.start(ActionMove, func() { r.motion.Move(steps) }, r.motion.Wait)
}

// StartStack runs one focus stack with the current settings in the background.
func (r *Rig) StartStack() error {
	r.mu.Lock()
	cfg := r.cfg
	r.mu.Unlock()

	p := stack.Params{
		StackCount:       cfg.Stack.StackCount,
		MoveSteps:        geometry.NewStepsCalculator(cfg).MoveSteps(cfg.Stack),
		DelayBeforePhoto: cfg.DelayBeforePhoto(),
		DelayAfterPhoto:  cfg.DelayAfterPhoto(),
	}
	if cfg.RampExceedsHalfMove(p.MoveSteps) {
		debug.Warn("Ramp length %d exceeds half of the %d-step move: speed profile will be distorted",
			cfg.Motor.RampLength, p.MoveSteps)
	}
	return r.start(ActionStack, nil, func(ctx context.Context) error {
		return r.seq.Run(ctx, p)
	})
}

// Photo triggers one shot in the background.
func (r *Rig) Photo() error {
	return r.start(ActionPhoto, nil, func(context.Context) error {
		return r.camera.Shoot()
	})
}

// Stop cancels the running action, if any, and aborts the motor.
func (r *Rig) Stop() {
	r.mu.Lock()
	cancel := r.cancel
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	r.motion.Abort()
	debug.Info("Stop requested")
}

// Wait blocks until no action is running or ctx ends.
func (r *Rig) Wait(ctx context.Context) error {
	r.mu.Lock()
	done := r.done
	r.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// start claims the action slot, runs begin synchronously when set, then
// runs fn in the background.
func (r *Rig) start(action string, begin func(), fn func(ctx context.Context) error) error {
	r.mu.Lock()
	if r.action != ActionNone {
		r.mu.Unlock()
		return ErrBusy
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	r.action = action
	r.cancel = cancel
	r.done = done
	r.mu.Unlock()

	if begin != nil {
		begin()
	}
	r.emit("info", fmt.Sprintf("%s started", action))
	go func() {
		err := fn(ctx)
		if err == nil {
			// Stop requested while fn was finishing.
			err = ctx.Err()
		}
		cancel()

		r.mu.Lock()
		r.action = ActionNone
		r.cancel = nil
		r.done = nil
		r.mu.Unlock()

		switch {
		case err == nil:
			r.emit("info", fmt.Sprintf("%s finished", action))
		case errors.Is(err, context.Canceled):
			r.emit("warn", fmt.Sprintf("%s stopped", action))
		default:
			debug.Error(fmt.Errorf("%s: %w", action, err))
			r.emit("error", fmt.Sprintf("%s failed: %v", action, err))
		}
		close(done)
	}()
	return nil
}

func (r *Rig) emit(level, msg string) {
	if r.events != nil {
		r.events.Broadcast(level, msg)
	}
}
