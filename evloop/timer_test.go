package evloop

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeClock drives the wheel deterministically.
type fakeClock struct {
	now uint64
}

func (fc *fakeClock) fn() func() uint64 {
	return func() uint64 { return fc.now }
}

func TestTimerFiresOnce(t *testing.T) {
	clk := &fakeClock{}
	tm := NewTimerManagerWithNow(clk.fn())

	fired := 0
	tmr := NewTimer(func() { fired++ })

	require.True(t, tm.Schedule(tmr, 50, false))

	clk.now = 49
	n, _ := tm.CheckExpire()
	require.Equal(t, 0, n)

	clk.now = 50
	n, _ = tm.CheckExpire()
	require.Equal(t, 1, n)
	require.Equal(t, 1, fired)
	require.False(t, tmr.Pending())

	clk.now = 500
	n, _ = tm.CheckExpire()
	require.Equal(t, 0, n)
	require.Equal(t, 1, fired)
}

func TestTimerCascade(t *testing.T) {
	clk := &fakeClock{}
	tm := NewTimerManagerWithNow(clk.fn())

	var aFired, bFired int
	a := NewTimer(func() { aFired++ })
	b := NewTimer(func() { bFired++ })

	// A lands in level 0 slot 50, B (300 = 256+44) in level 1
	require.True(t, tm.Schedule(a, 50, false))
	require.True(t, tm.Schedule(b, 300, false))
	require.Equal(t, 0, a.vi)
	require.Equal(t, 50, a.si)
	require.Equal(t, 1, b.vi)

	clk.now = 256
	tm.CheckExpire()
	require.Equal(t, 1, aFired)
	require.Equal(t, 0, bFired)

	// after the low byte rolled over B cascaded into level 0 slot 44
	require.Equal(t, 0, b.vi)
	require.Equal(t, 44, b.si)

	clk.now = 300
	n, _ := tm.CheckExpire()
	require.Equal(t, 1, n)
	require.Equal(t, 1, bFired)

	clk.now = 1000
	tm.CheckExpire()
	require.Equal(t, 1, bFired)
}

func TestTimerRepeating(t *testing.T) {
	clk := &fakeClock{}
	tm := NewTimerManagerWithNow(clk.fn())

	fired := 0
	tmr := NewTimer(func() { fired++ })
	require.True(t, tm.Schedule(tmr, 10, true))

	for tick := uint64(10); tick <= 100; tick += 10 {
		clk.now = tick
		tm.CheckExpire()
	}

	// period 10 over 100 ticks fires 10 times, one-tick jitter allowed
	require.GreaterOrEqual(t, fired, 9)
	require.LessOrEqual(t, fired, 11)
	require.True(t, tmr.Pending())

	tm.Unschedule(tmr)
	require.False(t, tmr.Pending())
}

func TestUnscheduleFromCallback(t *testing.T) {
	clk := &fakeClock{}
	tm := NewTimerManagerWithNow(clk.fn())

	fired := 0
	var tmr *Timer
	tmr = NewTimer(func() {
		fired++
		tm.Unschedule(tmr) // cancel the repeat from inside the callback
	})
	require.True(t, tm.Schedule(tmr, 5, true))

	clk.now = 5
	tm.CheckExpire()
	require.Equal(t, 1, fired)

	clk.now = 50
	tm.CheckExpire()
	require.Equal(t, 1, fired)
	require.Equal(t, 0, tm.Count())
}

func TestUnscheduleIdempotent(t *testing.T) {
	clk := &fakeClock{}
	tm := NewTimerManagerWithNow(clk.fn())

	tmr := NewTimer(func() {})
	require.True(t, tm.Schedule(tmr, 5, false))

	tm.Unschedule(tmr)
	tm.Unschedule(tmr)
	require.Equal(t, 0, tm.Count())

	// a detached node can be scheduled again
	require.True(t, tm.Schedule(tmr, 7, false))
	require.Equal(t, 1, tm.Count())
}

func TestRescheduleSameElapseNoop(t *testing.T) {
	clk := &fakeClock{}
	tm := NewTimerManagerWithNow(clk.fn())

	fired := 0
	tmr := NewTimer(func() { fired++ })
	require.True(t, tm.Schedule(tmr, 20, false))
	require.True(t, tm.Schedule(tmr, 20, false))
	require.Equal(t, 1, tm.Count())

	require.True(t, tm.Schedule(tmr, 40, false))
	clk.now = 20
	n, _ := tm.CheckExpire()
	require.Equal(t, 0, n)

	clk.now = 40
	n, _ = tm.CheckExpire()
	require.Equal(t, 1, n)
}

func TestNextFireHint(t *testing.T) {
	clk := &fakeClock{}
	tm := NewTimerManagerWithNow(clk.fn())

	_, next := tm.CheckExpire()
	require.Equal(t, -1, next)

	tmr := NewTimer(func() {})
	require.True(t, tm.Schedule(tmr, 37, false))

	_, next = tm.CheckExpire()
	require.Equal(t, 37, next)
}

func TestCrossThreadUnscheduleWaits(t *testing.T) {
	clk := &fakeClock{}
	tm := NewTimerManagerWithNow(clk.fn())

	entered := make(chan struct{})
	release := make(chan struct{})
	done := false

	tmr := NewTimer(func() {
		close(entered)
		<-release
		done = true
	})
	require.True(t, tm.Schedule(tmr, 1, false))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		clk.now = 1
		tm.CheckExpire()
	}()

	<-entered

	unscheduled := make(chan struct{})
	go func() {
		tm.Unschedule(tmr)
		close(unscheduled)
	}()

	time.Sleep(20 * time.Millisecond)

	select {
	case <-unscheduled:
		t.Fatal("Unschedule returned while the callback was still running")
	default:
	}

	close(release)
	<-unscheduled
	wg.Wait()

	require.True(t, done)
}
