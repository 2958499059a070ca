package timer

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/cjeanneret/FocusGo/internal/debug"
)

// ErrInvalidPeriod is returned by Run when the period is not positive.
var ErrInvalidPeriod = errors.New("timer: period must be > 0")

// Interval invokes a callback at a fixed period, like a hardware
// interval timer. A slow callback makes the ticker drop ticks; missed
// ticks are never queued or replayed.
type Interval struct {
	period time.Duration
	fn     func()
	ticks  atomic.Uint64
}

// NewInterval creates a timer service that calls fn every period once Run starts.
func NewInterval(period time.Duration, fn func()) *Interval {
	return &Interval{period: period, fn: fn}
}

// Period returns the configured cadence.
func (i *Interval) Period() time.Duration {
	return i.period
}

// Ticks returns how many times the callback has been invoked.
func (i *Interval) Ticks() uint64 {
	return i.ticks.Load()
}

// Run blocks, invoking the callback every period until ctx is cancelled.
func (i *Interval) Run(ctx context.Context) error {
	if i.period <= 0 {
		return ErrInvalidPeriod
	}
	debug.Verbose("Timer: running every %v", i.period)

	t := time.NewTicker(i.period)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			debug.Trace("Timer: stopped after %d ticks", i.Ticks())
			return nil
		case <-t.C:
			i.fn()
			i.ticks.Add(1)
		}
	}
}
