// Package schedule runs deadline-bound callbacks that can be canceled.
//
// A Task fires at most once. Cancel and fire race through a single
// compare-and-swap on the task state, so exactly one of them wins: a canceled
// task never runs its callback and a task that already started firing cannot
// be canceled.
package schedule

import (
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
)

const (
	statePending int32 = iota
	stateFired
	stateCanceled
)

// Scheduler creates Tasks against a clock. Tests inject a fake clock and
// advance it instead of sleeping.
type Scheduler struct {
	clock clockwork.Clock
}

// New returns a Scheduler using clock, or the real clock when nil.
func New(clock clockwork.Clock) *Scheduler {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Scheduler{clock: clock}
}

// Clock returns the scheduler's time source.
func (s *Scheduler) Clock() clockwork.Clock {
	return s.clock
}

// Now is shorthand for s.Clock().Now().
func (s *Scheduler) Now() time.Time {
	return s.clock.Now()
}

// Task is one scheduled callback.
type Task struct {
	deadline time.Time
	state    atomic.Int32
	timer    clockwork.Timer
	fn       func()
}

// After schedules fn to run once d has elapsed on the scheduler clock.
func (s *Scheduler) After(d time.Duration, fn func()) *Task {
	t := &Task{deadline: s.clock.Now().Add(d), fn: fn}
	t.timer = s.clock.AfterFunc(d, t.fire)
	return t
}

// At schedules fn to run at the absolute deadline. A deadline in the past
// fires immediately.
func (s *Scheduler) At(deadline time.Time, fn func()) *Task {
	d := deadline.Sub(s.clock.Now())
	if d < 0 {
		d = 0
	}
	t := &Task{deadline: deadline, fn: fn}
	t.timer = s.clock.AfterFunc(d, t.fire)
	return t
}

func (t *Task) fire() {
	if !t.state.CompareAndSwap(statePending, stateFired) {
		return
	}
	t.fn()
}

// Cancel prevents the task from running. It reports false when the task has
// already fired or was canceled before.
func (t *Task) Cancel() bool {
	if t == nil {
		return false
	}
	if !t.state.CompareAndSwap(statePending, stateCanceled) {
		return false
	}
	t.timer.Stop()
	return true
}

// Deadline is the time the task is due.
func (t *Task) Deadline() time.Time {
	return t.deadline
}

// Pending reports whether the task has neither fired nor been canceled.
func (t *Task) Pending() bool {
	return t != nil && t.state.Load() == statePending
}
