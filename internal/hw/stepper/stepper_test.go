package stepper

import (
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/cjeanneret/FocusGo/internal/hw/gpio"
)

const (
	testStepPin = 16
	testDirPin  = 15
)

// recordingDriver records GPIO calls for verification.
type recordingDriver struct {
	mu    sync.Mutex
	calls []gpioCall
	tick  int // set by the test before each OnTick
	fail  error
}

type gpioCall struct {
	op    string // "setup", "write"
	pin   int
	level gpio.Level
	tick  int
}

func (d *recordingDriver) SetupPin(pin int, mode gpio.PinMode) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, gpioCall{op: "setup", pin: pin})
	return nil
}

func (d *recordingDriver) WritePin(pin int, level gpio.Level) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, gpioCall{op: "write", pin: pin, level: level, tick: d.tick})
	return d.fail
}

func (d *recordingDriver) ReadPin(pin int) (gpio.Level, error) {
	return gpio.Low, nil
}

func (d *recordingDriver) Close() error {
	return nil
}

func (d *recordingDriver) reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = nil
}

func (d *recordingDriver) writeCallsForPin(pin int) []gpioCall {
	d.mu.Lock()
	defer d.mu.Unlock()
	var result []gpioCall
	for _, c := range d.calls {
		if c.op == "write" && c.pin == pin {
			result = append(result, c)
		}
	}
	return result
}

// pulseTicks returns the tick index of every rising edge on the step pin.
func (d *recordingDriver) pulseTicks() []int {
	var ticks []int
	for _, c := range d.writeCallsForPin(testStepPin) {
		if c.level == gpio.High {
			ticks = append(ticks, c.tick)
		}
	}
	return ticks
}

func defaultProfile() Profile {
	return Profile{MinWidth: 1000, MaxWidth: 4000, RampLength: 100}
}

func newTestController(p Profile) (*Controller, *recordingDriver) {
	drv := &recordingDriver{}
	c := NewController(drv, Config{
		StepPin:    testStepPin,
		DirPin:     testDirPin,
		TickPeriod: 200,
		Profile:    p,
	})
	drv.reset()
	return c, drv
}

// runUntilDone ticks until the motion completes or maxTicks is reached.
func runUntilDone(c *Controller, drv *recordingDriver, maxTicks int) int {
	ticks := 0
	for c.StepsToGo() > 0 && ticks < maxTicks {
		ticks++
		drv.tick = ticks
		c.OnTick()
	}
	return ticks
}

func TestController_MoveSetsState(t *testing.T) {
	cases := []struct {
		name   string
		steps  int32
		goal   uint32
		dir    Direction
		dirLvl gpio.Level
	}{
		{"forward", 200, 200, Forward, gpio.Low},
		{"reverse", -50, 50, Reverse, gpio.High},
		{"zero_is_forward", 0, 0, Forward, gpio.Low},
		{"one", 1, 1, Forward, gpio.Low},
		{"min_int32", math.MinInt32, 1 << 31, Reverse, gpio.High},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c, drv := newTestController(defaultProfile())
			c.Move(tc.steps)

			st := c.Status()
			if st.StepGoal != tc.goal {
				t.Errorf("StepGoal = %d, want %d", st.StepGoal, tc.goal)
			}
			if st.StepCurrent != 0 {
				t.Errorf("StepCurrent = %d, want 0", st.StepCurrent)
			}
			if st.Direction != tc.dir {
				t.Errorf("Direction = %v, want %v", st.Direction, tc.dir)
			}
			if st.WaitBeforeStep != c.RampDelay(0) {
				t.Errorf("WaitBeforeStep = %d, want RampDelay(0) = %d", st.WaitBeforeStep, c.RampDelay(0))
			}
			if got := c.StepsToGo(); got != tc.goal {
				t.Errorf("StepsToGo = %d, want %d", got, tc.goal)
			}

			dirWrites := drv.writeCallsForPin(testDirPin)
			if len(dirWrites) != 1 || dirWrites[0].level != tc.dirLvl {
				t.Errorf("dir pin writes = %v, want one %v", dirWrites, tc.dirLvl)
			}
		})
	}
}

func TestController_InvertDir(t *testing.T) {
	drv := &recordingDriver{}
	c := NewController(drv, Config{StepPin: testStepPin, DirPin: testDirPin, InvertDir: true, TickPeriod: 200, Profile: defaultProfile()})
	drv.reset()

	c.Move(10)
	c.Move(-10)
	writes := drv.writeCallsForPin(testDirPin)
	if len(writes) != 2 || writes[0].level != gpio.High || writes[1].level != gpio.Low {
		t.Errorf("inverted dir writes = %v, want HIGH then LOW", writes)
	}
}

func TestRampDelay_ConcreteScenario(t *testing.T) {
	c, _ := newTestController(defaultProfile())
	c.Move(200)

	cases := []struct {
		step uint32
		want uint32
	}{
		{0, 4000},
		{1, 3970},
		{33, 3010}, // 33*-3000/100 = -990 exactly
		{50, 2500},
		{99, 1030},
		{100, 1000},
		{101, 1000}, // second half, before ramp-down window
		{150, 2500},
		{167, 3010},
		{199, 3970},
		{200, 4000},
	}
	for _, tc := range cases {
		if got := c.RampDelay(tc.step); got != tc.want {
			t.Errorf("RampDelay(%d) = %d, want %d", tc.step, got, tc.want)
		}
	}
}

func TestRampDelay_TruncatesTowardZero(t *testing.T) {
	// 7 steps of ramp between 4000 and 1000: 3000/7 = 428.57 per step.
	p := Profile{MinWidth: 1000, MaxWidth: 4000, RampLength: 7}
	cases := []struct {
		step uint32
		want uint32
	}{
		// ramp-up: (step*-3000)/7 truncates toward zero, so the delay rounds up
		{1, 3572}, // 4000 - 428
		{2, 3143}, // 4000 - 857
		{3, 2715}, // 4000 - 1285
		// ramp-down over [93, 100]: (step-93)*3000/7 truncates down
		{94, 1428},
		{95, 1857},
		{99, 3571},
	}
	for _, tc := range cases {
		if got := rampDelay(p, 100, tc.step); got != tc.want {
			t.Errorf("rampDelay(%d) = %d, want %d", tc.step, got, tc.want)
		}
	}
}

func TestRampDelay_Properties(t *testing.T) {
	profiles := []Profile{
		{MinWidth: 1000, MaxWidth: 4000, RampLength: 100},
		{MinWidth: 500, MaxWidth: 4000, RampLength: 37},
		{MinWidth: 2000, MaxWidth: 2000, RampLength: 10},
		{MinWidth: 1, MaxWidth: 65535, RampLength: 3},
	}
	goals := []uint32{200, 201, 250, 999, 5000}

	for _, p := range profiles {
		for _, goal := range goals {
			if p.RampLength > goal/2 {
				continue
			}
			if got := rampDelay(p, goal, 0); got != p.MaxWidth {
				t.Errorf("%+v goal=%d: rampDelay(0) = %d, want %d", p, goal, got, p.MaxWidth)
			}
			if got := rampDelay(p, goal, p.RampLength); got != p.MinWidth {
				t.Errorf("%+v goal=%d: rampDelay(ramp) = %d, want %d", p, goal, got, p.MinWidth)
			}
			if got := rampDelay(p, goal, goal); got != p.MaxWidth {
				t.Errorf("%+v goal=%d: rampDelay(goal) = %d, want %d", p, goal, got, p.MaxWidth)
			}

			prev := rampDelay(p, goal, 0)
			for step := uint32(0); step <= goal; step++ {
				d := rampDelay(p, goal, step)
				if d < p.MinWidth || d > p.MaxWidth {
					t.Fatalf("%+v goal=%d: rampDelay(%d) = %d outside [%d, %d]", p, goal, step, d, p.MinWidth, p.MaxWidth)
				}
				if step < goal/2 && d > prev {
					t.Fatalf("%+v goal=%d: ramp-up increased at step %d (%d > %d)", p, goal, step, d, prev)
				}
				if step > goal/2 && d < prev {
					t.Fatalf("%+v goal=%d: ramp-down decreased at step %d (%d < %d)", p, goal, step, d, prev)
				}
				prev = d
			}
		}
	}
}

func TestRampDelay_Symmetric(t *testing.T) {
	p := defaultProfile()
	for step := uint32(1); step < p.RampLength; step++ {
		up := rampDelay(p, 400, step)
		down := rampDelay(p, 400, 400-step)
		// truncation direction differs between the two halves by at most one unit
		if diff := int64(up) - int64(down); diff < 0 || diff > 1 {
			t.Errorf("step %d: up=%d down=%d not symmetric", step, up, down)
		}
	}
}

// The ramp is longer than half the move: the ramp-up is cut at the
// midpoint and, because goal-ramp wraps, the second half cruises.
func TestRampDelay_RampLongerThanHalfMove(t *testing.T) {
	c, _ := newTestController(defaultProfile())
	c.Move(-50)

	st := c.Status()
	if st.Direction != Reverse || st.StepGoal != 50 {
		t.Fatalf("status = %+v, want reverse/50", st)
	}

	cases := []struct {
		step uint32
		want uint32
	}{
		{0, 4000},
		{10, 3700},
		{24, 3280},
		{25, 1000},
		{49, 1000},
		{50, 1000},
	}
	for _, tc := range cases {
		if got := c.RampDelay(tc.step); got != tc.want {
			t.Errorf("RampDelay(%d) = %d, want %d", tc.step, got, tc.want)
		}
	}

	// Still completes.
	drv := &recordingDriver{}
	c = NewController(drv, Config{StepPin: testStepPin, DirPin: testDirPin, TickPeriod: 200, Profile: defaultProfile()})
	c.Move(-50)
	runUntilDone(c, drv, 100000)
	if got := c.StepsToGo(); got != 0 {
		t.Errorf("StepsToGo after run = %d, want 0", got)
	}
	if got := len(drv.pulseTicks()); got != 50 {
		t.Errorf("pulses = %d, want 50", got)
	}
}

func TestRampDelay_ZeroRampLength(t *testing.T) {
	p := Profile{MinWidth: 1000, MaxWidth: 4000, RampLength: 0}
	for _, step := range []uint32{0, 5, 10} {
		if got := rampDelay(p, 10, step); got != 1000 {
			t.Errorf("rampDelay(%d) with no ramp = %d, want 1000", step, got)
		}
	}
	// Past the goal the span would be empty; no division by zero.
	if got := rampDelay(p, 10, 11); got != 1000 {
		t.Errorf("rampDelay(11) = %d, want 1000", got)
	}
}

func TestRampDelay_BeyondGoalExtrapolates(t *testing.T) {
	p := Profile{MinWidth: 1000, MaxWidth: 4000, RampLength: 100}
	// 110 steps into a 100-step ramp-down window: not clamped to MaxWidth.
	if got := rampDelay(p, 200, 210); got != 4300 {
		t.Errorf("rampDelay(210) = %d, want 4300", got)
	}
}

func TestInterpolate_ResultBoundedToUint32(t *testing.T) {
	if got := interpolate(math.MaxUint32, 0, 2, 0, 4); got != math.MaxUint32 {
		t.Errorf("interpolate overflow = %d, want %d", got, uint32(math.MaxUint32))
	}
	if got := interpolate(0, 10, 20, 4000, 1000); got != 7000 {
		t.Errorf("interpolate below inMin = %d, want 7000", got)
	}
	if got := interpolate(0, 10, 20, 1000, 4000); got != 0 {
		t.Errorf("interpolate negative = %d, want 0", got)
	}
}

func TestOnTick_EmitsExactlyGoalPulsesWithRampSpacing(t *testing.T) {
	c, drv := newTestController(defaultProfile())
	c.Move(200)

	delays := make([]uint32, 201)
	for k := range delays {
		delays[k] = c.RampDelay(uint32(k))
	}

	runUntilDone(c, drv, 1000000)

	ticks := drv.pulseTicks()
	if len(ticks) != 200 {
		t.Fatalf("pulses = %d, want 200", len(ticks))
	}
	for k := 1; k < len(ticks); k++ {
		elapsed := uint32(ticks[k]-ticks[k-1]) * 200
		if elapsed < delays[k] {
			t.Errorf("pulse %d: %dus after previous, want >= %d", k+1, elapsed, delays[k])
		}
		// never more than one tick late
		if elapsed >= delays[k]+200 {
			t.Errorf("pulse %d: %dus after previous, want < %d", k+1, elapsed, delays[k]+200)
		}
	}
	if c.Pulses() != 200 {
		t.Errorf("Pulses() = %d, want 200", c.Pulses())
	}
}

func TestOnTick_PulseIsHighThenLow(t *testing.T) {
	c, drv := newTestController(defaultProfile())
	c.Move(1)
	runUntilDone(c, drv, 1000)

	writes := drv.writeCallsForPin(testStepPin)
	if len(writes) != 2 {
		t.Fatalf("single step should produce 2 writes on step pin, got %d", len(writes))
	}
	if writes[0].level != gpio.High || writes[1].level != gpio.Low {
		t.Errorf("pulse = %v then %v, want HIGH then LOW", writes[0].level, writes[1].level)
	}
}

func TestOnTick_FirstPulseWaitsForMaxWidth(t *testing.T) {
	c, drv := newTestController(defaultProfile())
	c.Move(200)

	// 4000us at 200us per tick: the 20th tick is the first that is due.
	for i := 1; i < 20; i++ {
		drv.tick = i
		c.OnTick()
	}
	if got := len(drv.pulseTicks()); got != 0 {
		t.Fatalf("pulses before wait elapsed = %d, want 0", got)
	}
	drv.tick = 20
	c.OnTick()
	if got := c.StepsToGo(); got != 199 {
		t.Errorf("StepsToGo after first pulse = %d, want 199", got)
	}
}

func TestOnTick_IdleElapsedTimeCarriesIntoNextMove(t *testing.T) {
	c, drv := newTestController(defaultProfile())
	// Idle for longer than MaxWidth: the first pulse is due on the first tick.
	for i := 0; i < 50; i++ {
		c.OnTick()
	}
	c.Move(10)
	drv.tick = 1
	c.OnTick()
	if got := c.StepsToGo(); got != 9 {
		t.Errorf("StepsToGo = %d, want 9 (first pulse immediate after idle)", got)
	}
}

func TestOnTick_DoneIsNoop(t *testing.T) {
	c, drv := newTestController(defaultProfile())
	c.Move(3)
	runUntilDone(c, drv, 10000)
	drv.reset()

	for i := 0; i < 100; i++ {
		c.OnTick()
	}
	if got := len(drv.writeCallsForPin(testStepPin)); got != 0 {
		t.Errorf("ticks after completion wrote step pin %d times", got)
	}
	if c.Status().Moving {
		t.Error("controller should be done")
	}
}

func TestOnTick_ZeroMoveNeverPulses(t *testing.T) {
	c, drv := newTestController(defaultProfile())
	c.Move(0)
	for i := 0; i < 100; i++ {
		c.OnTick()
	}
	if got := len(drv.pulseTicks()); got != 0 {
		t.Errorf("move(0) pulsed %d times", got)
	}
	if got := c.StepsToGo(); got != 0 {
		t.Errorf("StepsToGo = %d, want 0", got)
	}
}

func TestOnTick_ElapsedSaturates(t *testing.T) {
	drv := &recordingDriver{}
	c := NewController(drv, Config{StepPin: testStepPin, DirPin: testDirPin, TickPeriod: math.MaxUint32 / 2, Profile: defaultProfile()})
	for i := 0; i < 5; i++ {
		c.OnTick()
	}
	c.Move(1)
	c.OnTick()
	if got := c.StepsToGo(); got != 0 {
		t.Errorf("StepsToGo = %d, want 0 (elapsed must not wrap to a small value)", got)
	}
}

func TestOnTick_GPIOErrorDoesNotStopMotion(t *testing.T) {
	c, drv := newTestController(defaultProfile())
	drv.fail = errors.New("bus error")
	c.Move(5)
	runUntilDone(c, drv, 10000)
	if got := c.StepsToGo(); got != 0 {
		t.Errorf("StepsToGo = %d, want 0", got)
	}
}

func TestMove_RetargetMidMotion(t *testing.T) {
	c, drv := newTestController(defaultProfile())
	c.Move(100)

	for i := 1; i <= 200; i++ {
		drv.tick = i
		c.OnTick()
	}
	partway := c.Status().StepCurrent
	if partway == 0 || partway >= 100 {
		t.Fatalf("expected partial progress, StepCurrent = %d", partway)
	}

	c.Move(300)
	st := c.Status()
	if st.StepCurrent != 0 || st.StepGoal != 300 {
		t.Fatalf("after retarget: current=%d goal=%d, want 0/300", st.StepCurrent, st.StepGoal)
	}
	if got := c.StepsToGo(); got != 300 {
		t.Errorf("StepsToGo = %d, want 300", got)
	}

	drv.reset()
	runUntilDone(c, drv, 1000000)
	if got := len(drv.pulseTicks()); got != 300 {
		t.Errorf("pulses after retarget = %d, want 300", got)
	}
	if got := c.Pulses(); got != uint64(partway)+300 {
		t.Errorf("lifetime pulses = %d, want %d", got, uint64(partway)+300)
	}
}

func TestStepsToGo_ConcurrentWithTicks(t *testing.T) {
	c, _ := newTestController(Profile{MinWidth: 1, MaxWidth: 2, RampLength: 1})
	c.Move(5000)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for c.StepsToGo() > 0 {
			c.OnTick()
		}
	}()

	last := uint32(5000)
	for {
		got := c.StepsToGo()
		if got > last {
			t.Fatalf("StepsToGo increased: %d -> %d", last, got)
		}
		last = got
		if got == 0 {
			break
		}
	}
	<-done
}

func TestSetProfile(t *testing.T) {
	c, drv := newTestController(defaultProfile())
	c.Move(10)
	if err := c.SetProfile(Profile{MinWidth: 10, MaxWidth: 20, RampLength: 2}); !errors.Is(err, ErrMotionInProgress) {
		t.Errorf("SetProfile while moving = %v, want ErrMotionInProgress", err)
	}

	runUntilDone(c, drv, 100000)
	p := Profile{MinWidth: 10, MaxWidth: 20, RampLength: 2}
	if err := c.SetProfile(p); err != nil {
		t.Fatalf("SetProfile when done: %v", err)
	}
	if c.Profile() != p {
		t.Errorf("Profile() = %+v, want %+v", c.Profile(), p)
	}
	c.Move(10)
	if got := c.RampDelay(0); got != 20 {
		t.Errorf("RampDelay(0) with new profile = %d, want 20", got)
	}
}

func TestController_EnableDisable(t *testing.T) {
	drv := &recordingDriver{}
	c := NewController(drv, Config{StepPin: testStepPin, DirPin: testDirPin, EnablePin: 5, TickPeriod: 200, Profile: defaultProfile()})
	drv.reset()

	if err := c.Enable(); err != nil {
		t.Fatalf("Enable: %v", err)
	}
	if err := c.Disable(); err != nil {
		t.Fatalf("Disable: %v", err)
	}
	calls := drv.writeCallsForPin(5)
	if len(calls) != 2 || calls[0].level != gpio.Low || calls[1].level != gpio.High {
		t.Errorf("enable pin writes = %v, want LOW then HIGH", calls)
	}
}

func TestController_EnableDisable_NoEnablePin(t *testing.T) {
	c, drv := newTestController(defaultProfile())
	_ = c.Enable()
	_ = c.Disable()
	if len(drv.calls) != 0 {
		t.Errorf("with EnablePin=0, Enable/Disable should produce no GPIO calls, got %d", len(drv.calls))
	}
}

func TestDirection_String(t *testing.T) {
	if Forward.String() != "forward" || Reverse.String() != "reverse" {
		t.Errorf("direction strings = %q/%q", Forward.String(), Reverse.String())
	}
}
