package stack

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cjeanneret/FocusGo/internal/debug"
	"github.com/cjeanneret/FocusGo/internal/hw/camera"
)

var (
	// ErrInvalidParams is returned for a stack with no photos.
	ErrInvalidParams = errors.New("stack: stack count must be >= 1")
	// ErrRunning is returned when Run is called while a stack is in progress.
	ErrRunning = errors.New("stack: already running")
)

// State is the top-level sequencer state.
type State string

const (
	StateIdle     State = "idle"
	StateStacking State = "stacking"
)

// SubState is the phase within the current stack step.
type SubState string

const (
	SubStateNone             SubState = ""
	SubStateDelayBeforePhoto SubState = "delay_before_photo"
	SubStatePhoto            SubState = "photo"
	SubStateDelayAfterPhoto  SubState = "delay_after_photo"
	SubStateMove             SubState = "move"
	SubStateDone             SubState = "done"
)

// Mover performs a blocking, cancellable motion.
type Mover interface {
	MoveAndWait(ctx context.Context, steps int32) error
}

// Holder switches the motor driver's holding torque.
type Holder interface {
	Enable() error
	Disable() error
}

// Params defines one focus stack.
type Params struct {
	StackCount       int           // number of photos
	MoveSteps        int32         // signed steps between two photos
	DelayBeforePhoto time.Duration // settle time before each photo
	DelayAfterPhoto  time.Duration // pause after each photo before moving
}

// Status is a snapshot of the sequencer.
type Status struct {
	State           State    `json:"current_state"`
	SubState        SubState `json:"current_sub_state"`
	CurrentStep     int      `json:"current_step"`
	StackCount      int      `json:"stack_count"`
	IsIdle          bool     `json:"is_idle"`
	IsStackFinished bool     `json:"is_stack_finished"`
}

// Sequence contains the focus-stacking logic: photo, move, photo...
type Sequence struct {
	motion Mover
	camera camera.Camera
	holder Holder

	mu     sync.Mutex
	status Status
}

func NewSequence(m Mover, c camera.Camera) *Sequence {
	return &Sequence{
		motion: m,
		camera: c,
		status: Status{State: StateIdle, IsIdle: true},
	}
}

// SetHolder makes Run release the motor during each photo, reducing
// vibration, and re-enable it before the next move.
func (s *Sequence) SetHolder(h Holder) {
	s.mu.Lock()
	s.holder = h
	s.mu.Unlock()
}

// Status returns the current sequencer state.
func (s *Sequence) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Sequence) setSubState(step int, sub SubState) {
	s.mu.Lock()
	s.status.CurrentStep = step
	s.status.SubState = sub
	s.mu.Unlock()
	debug.Trace("Stack step %d: %s", step, sub)
}

// Run takes p.StackCount photos with p.MoveSteps between two of them:
// StackCount photos, StackCount-1 moves. It blocks until the stack is
// done, a step fails or ctx is cancelled.
func (s *Sequence) Run(ctx context.Context, p Params) (err error) {
	if p.StackCount < 1 {
		return ErrInvalidParams
	}

	s.mu.Lock()
	if s.status.State == StateStacking {
		s.mu.Unlock()
		return ErrRunning
	}
	s.status = Status{
		State:      StateStacking,
		SubState:   SubStateNone,
		StackCount: p.StackCount,
	}
	holder := s.holder
	s.mu.Unlock()

	debug.Section("Focus Stack")
	debug.Value("Photos", p.StackCount)
	debug.Value("Move steps", p.MoveSteps)

	defer func() {
		if holder != nil {
			_ = holder.Enable()
		}
		s.mu.Lock()
		s.status.State = StateIdle
		s.status.IsIdle = true
		if err == nil {
			s.status.SubState = SubStateDone
			s.status.IsStackFinished = true
		}
		s.mu.Unlock()
		if err != nil {
			debug.Warn("Stack stopped at step %d/%d: %v", s.Status().CurrentStep, p.StackCount, err)
		} else {
			debug.Summary("Stack complete")
		}
	}()

	for i := 1; i <= p.StackCount; i++ {
		debug.StackStep(i, p.StackCount)

		s.setSubState(i, SubStateDelayBeforePhoto)
		if holder != nil {
			_ = holder.Disable()
		}
		if err := wait(ctx, p.DelayBeforePhoto); err != nil {
			return err
		}

		s.setSubState(i, SubStatePhoto)
		if err := s.camera.Shoot(); err != nil {
			return fmt.Errorf("photo %d: %w", i, err)
		}
		debug.Shot(i, p.StackCount)

		s.setSubState(i, SubStateDelayAfterPhoto)
		if err := wait(ctx, p.DelayAfterPhoto); err != nil {
			return err
		}

		if i == p.StackCount {
			break
		}
		s.setSubState(i, SubStateMove)
		if holder != nil {
			_ = holder.Enable()
		}
		if err := s.motion.MoveAndWait(ctx, p.MoveSteps); err != nil {
			return err
		}
	}
	return nil
}

// wait sleeps for d or until ctx is done.
func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
