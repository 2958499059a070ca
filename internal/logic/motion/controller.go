package motion

import (
	"context"
	"time"

	"github.com/cjeanneret/FocusGo/internal/debug"
)

// DefaultPollInterval is how often MoveAndWait checks for completion.
const DefaultPollInterval = 5 * time.Millisecond

// Motor is the foreground surface of the stepper controller.
type Motor interface {
	Move(steps int32)
	StepsToGo() uint32
}

// Controller is an intermediate layer between business logic (stack
// sequences, commands) and the tick-driven stepper. It turns the
// fire-and-forget Move into a blocking, cancellable call.
type Controller struct {
	motor        Motor
	PollInterval time.Duration
}

func NewController(m Motor) *Controller {
	return &Controller{
		motor:        m,
		PollInterval: DefaultPollInterval,
	}
}

// Move starts a motion and returns immediately.
func (c *Controller) Move(steps int32) {
	c.motor.Move(steps)
}

// MoveAndWait starts a motion and blocks until the motor reports no steps
// left. If ctx ends first the motion is aborted and ctx.Err() returned.
func (c *Controller) MoveAndWait(ctx context.Context, steps int32) error {
	c.motor.Move(steps)
	return c.Wait(ctx)
}

// Wait blocks until the current motion completes. If ctx ends first the
// motion is aborted and ctx.Err() returned; an already cancelled ctx
// wins over a motion that has already stopped.
func (c *Controller) Wait(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		c.Abort()
		return err
	}
	if c.motor.StepsToGo() == 0 {
		return nil
	}

	poll := c.PollInterval
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.Abort()
			return ctx.Err()
		case <-ticker.C:
			if c.motor.StepsToGo() == 0 {
				return nil
			}
		}
	}
}

// Abort stops the current motion. Move(0) is the only way to do so.
func (c *Controller) Abort() {
	if c.motor.StepsToGo() > 0 {
		debug.Info("Motion aborted with %d steps to go", c.motor.StepsToGo())
	}
	c.motor.Move(0)
}

// Busy reports whether a motion is in progress.
func (c *Controller) Busy() bool {
	return c.motor.StepsToGo() > 0
}
