package motion

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cjeanneret/FocusGo/internal/hw/gpio"
	"github.com/cjeanneret/FocusGo/internal/hw/stepper"
)

// fakeMotor completes one step per StepsToGo call.
type fakeMotor struct {
	mu    sync.Mutex
	moves []int32
	left  uint32
	stuck bool
}

func (m *fakeMotor) Move(steps int32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.moves = append(m.moves, steps)
	if steps < 0 {
		steps = -steps
	}
	m.left = uint32(steps)
}

func (m *fakeMotor) StepsToGo() uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	left := m.left
	if !m.stuck && m.left > 0 {
		m.left--
	}
	return left
}

func (m *fakeMotor) Moves() []int32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int32(nil), m.moves...)
}

func newTestController(m Motor) *Controller {
	c := NewController(m)
	c.PollInterval = time.Millisecond
	return c
}

func TestController_MoveAndWaitCompletes(t *testing.T) {
	m := &fakeMotor{}
	c := newTestController(m)

	if err := c.MoveAndWait(context.Background(), -5); err != nil {
		t.Fatalf("MoveAndWait: %v", err)
	}
	if moves := m.Moves(); len(moves) != 1 || moves[0] != -5 {
		t.Errorf("moves = %v, want [-5]", moves)
	}
	if c.Busy() {
		t.Error("Busy() after completion should be false")
	}
}

func TestController_MoveAndWaitZero(t *testing.T) {
	m := &fakeMotor{stuck: true}
	c := newTestController(m)

	if err := c.MoveAndWait(context.Background(), 0); err != nil {
		t.Fatalf("MoveAndWait(0): %v", err)
	}
}

func TestController_MoveAndWaitCancelled(t *testing.T) {
	m := &fakeMotor{stuck: true}
	c := newTestController(m)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := c.MoveAndWait(ctx, 100)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want DeadlineExceeded", err)
	}
	moves := m.Moves()
	if len(moves) != 2 || moves[1] != 0 {
		t.Errorf("moves = %v, want [100 0] (aborted with Move(0))", moves)
	}
}

func TestController_WaitAfterStopReportsCancel(t *testing.T) {
	m := &fakeMotor{stuck: true}
	c := newTestController(m)

	// Stop lands before Wait runs: the motor is already at rest.
	ctx, cancel := context.WithCancel(context.Background())
	c.Move(500)
	cancel()
	c.Abort()

	if err := c.Wait(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Wait = %v, want context.Canceled", err)
	}
	if c.Busy() {
		t.Error("Busy() after stop should be false")
	}
}

func TestController_AbortAndBusy(t *testing.T) {
	m := &fakeMotor{stuck: true}
	c := newTestController(m)

	c.Move(10)
	if !c.Busy() {
		t.Error("Busy() during motion should be true")
	}
	c.Abort()
	if c.Busy() {
		t.Error("Busy() after Abort should be false")
	}
	if moves := m.Moves(); moves[len(moves)-1] != 0 {
		t.Errorf("last move = %d, want 0", moves[len(moves)-1])
	}
}

// The helper must work against the real tick-driven controller.
func TestController_WithStepper(t *testing.T) {
	drv := gpio.NewMockDriver()
	sc := stepper.NewController(drv, stepper.Config{
		StepPin:    16,
		DirPin:     15,
		TickPeriod: 200,
		Profile:    stepper.Profile{MinWidth: 200, MaxWidth: 1000, RampLength: 3},
	})
	c := newTestController(sc)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		for ctx.Err() == nil {
			sc.OnTick()
			time.Sleep(10 * time.Microsecond)
		}
	}()

	if err := c.MoveAndWait(ctx, 12); err != nil {
		t.Fatalf("MoveAndWait: %v", err)
	}
	if got := sc.Pulses(); got != 12 {
		t.Errorf("pulses = %d, want 12", got)
	}
	// 12 pulses is 24 writes on the step pin, plus the initial LOW.
	if got := drv.Writes(16); got != 25 {
		t.Errorf("step pin writes = %d, want 25", got)
	}
}
