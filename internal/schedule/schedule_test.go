package schedule

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAfterFiresOnceDeadlinePasses(t *testing.T) {
	clock := clockwork.NewFakeClock()
	s := New(clock)

	var fired atomic.Int32
	task := s.After(time.Minute, func() { fired.Add(1) })
	assert.Equal(t, clock.Now().Add(time.Minute), task.Deadline())

	clock.Advance(59 * time.Second)
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, int32(0), fired.Load())
	assert.True(t, task.Pending())

	clock.Advance(time.Second)
	require.Eventually(t, func() bool { return fired.Load() == 1 }, time.Second, time.Millisecond)
	assert.False(t, task.Pending())
	assert.False(t, task.Cancel(), "cancel after fire must report false")
}

func TestCancelBeforeDeadlineSuppressesCallback(t *testing.T) {
	clock := clockwork.NewFakeClock()
	s := New(clock)

	var fired atomic.Int32
	task := s.After(time.Second, func() { fired.Add(1) })
	require.True(t, task.Cancel())
	assert.False(t, task.Cancel(), "second cancel is a no-op")

	clock.Advance(time.Hour)
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, int32(0), fired.Load())
}

func TestAtInThePastFiresImmediately(t *testing.T) {
	clock := clockwork.NewFakeClock()
	s := New(clock)

	done := make(chan struct{})
	s.At(clock.Now().Add(-time.Minute), func() { close(done) })

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("task with past deadline did not fire")
	}
}

func TestCancelAndFireNeverBothWin(t *testing.T) {
	for i := 0; i < 200; i++ {
		s := New(clockwork.NewRealClock())
		var fired atomic.Int32
		task := s.After(0, func() { fired.Add(1) })
		canceled := task.Cancel()

		time.Sleep(time.Millisecond)
		if canceled {
			assert.Equal(t, int32(0), fired.Load(), "iteration %d: canceled task fired", i)
		} else {
			require.Eventually(t, func() bool { return fired.Load() == 1 }, time.Second, time.Millisecond)
		}
	}
}

func TestNilTaskIsInert(t *testing.T) {
	var task *Task
	assert.False(t, task.Cancel())
	assert.False(t, task.Pending())
}
