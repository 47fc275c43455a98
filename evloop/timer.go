package evloop

import (
	"math/bits"
	"sync"
	"time"
)

const (
	timerVecBits = 8
	timerVecSize = 1 << timerVecBits // 256 slots per level
	timerVecMask = timerVecSize - 1
	timerLevels  = 4

	// largest relative delay representable by the wheel
	timerMaxElapse = 1<<32 - 1
)

// TimerFunc is a timer fire callback. It runs on the goroutine that
// calls CheckExpire, with the wheel's mutex released.
type TimerFunc func()

// Timer is a node of the timer wheel. A node is linked into exactly
// one slot or detached; cancellation is idempotent and safe from
// within the node's own callback.
type Timer struct {
	cb        TimerFunc
	elapse    uint32
	repeating bool
	startTick uint64
	fireTick  uint64

	prev, next *Timer
	vi, si     int
	inSlot     bool
	mgr        *TimerManager
}

// NewTimer returns a detached timer node firing cb.
func NewTimer(cb TimerFunc) *Timer {
	return &Timer{cb: cb, vi: -1, si: -1}
}

// Pending reports whether the node is linked into a wheel slot.
func (t *Timer) Pending() bool {
	return t.mgr != nil
}

type timerList struct {
	head Timer // sentinel
}

func (tl *timerList) init() {
	tl.head.prev = &tl.head
	tl.head.next = &tl.head
}

func (tl *timerList) empty() bool {
	return tl.head.next == &tl.head
}

func (tl *timerList) pushBack(t *Timer) {
	t.prev = tl.head.prev
	t.next = &tl.head
	tl.head.prev.next = t
	tl.head.prev = t
}

func unlink(t *Timer) {
	t.prev.next = t.next
	t.next.prev = t.prev
	t.prev = nil
	t.next = nil
}

// TimerManager is a four-level cascading hashed wheel with
// millisecond resolution.
type TimerManager struct {
	mu sync.Mutex

	// serializes a firing callback against cross-thread Unschedule
	runningMu    sync.Mutex
	running      *Timer
	runningGoID  int64
	runningUnsch bool

	tv     [timerLevels][timerVecSize]timerList
	bitmap [timerVecSize / 64]uint64 // level-0 occupancy

	lastTick uint64
	count    int
	seeded   bool

	now func() uint64
}

// NewTimerManager returns a wheel ticking on the wall clock.
func NewTimerManager() *TimerManager {
	start := time.Now()
	return NewTimerManagerWithNow(func() uint64 {
		return uint64(time.Since(start) / time.Millisecond)
	})
}

// NewTimerManagerWithNow returns a wheel driven by an external
// millisecond tick source.
func NewTimerManagerWithNow(now func() uint64) *TimerManager {
	tm := &TimerManager{now: now}
	for vi := 0; vi < timerLevels; vi++ {
		for si := 0; si < timerVecSize; si++ {
			tm.tv[vi][si].init()
		}
	}
	return tm
}

// Schedule links t to fire after elapseMS. Re-scheduling a pending
// node with the same elapse is a no-op; with a different elapse the
// node is unlinked and re-linked.
func (tm *TimerManager) Schedule(t *Timer, elapseMS uint32, repeating bool) bool {
	if t == nil || t.cb == nil {
		return false
	}

	tm.mu.Lock()
	defer tm.mu.Unlock()

	if t.mgr == tm {
		if t.elapse == elapseMS && t.repeating == repeating {
			return true
		}
		tm.removeLocked(t)
	} else if t.mgr != nil {
		return false
	}

	now := tm.now()
	if tm.count == 0 && !tm.seeded {
		// seed the tail tick at first use so a schedule followed by an
		// immediate CheckExpire doesn't replay the whole idle gap
		tm.lastTick = now
		tm.seeded = true
	}

	t.elapse = elapseMS
	t.repeating = repeating
	t.startTick = now
	t.fireTick = now + uint64(elapseMS)

	tm.placeLocked(t)

	return true
}

// Unschedule detaches t. It is idempotent, and callable from within
// t's own callback. Called from another goroutine while t is firing,
// it waits for the callback to return.
func (tm *TimerManager) Unschedule(t *Timer) {
	if t == nil {
		return
	}

	tm.mu.Lock()
	if tm.running == t {
		tm.runningUnsch = true
		fromCallback := tm.runningGoID == goid()
		tm.mu.Unlock()

		if !fromCallback {
			// wait for the in-flight callback to finish
			tm.runningMu.Lock()
			tm.runningMu.Unlock() //nolint:staticcheck
		}
		return
	}

	if t.mgr == tm {
		tm.removeLocked(t)
	}
	tm.mu.Unlock()
}

func (tm *TimerManager) placeLocked(t *Timer) {
	delta := int64(t.fireTick - tm.lastTick)
	if delta < 0 {
		delta = 0
		t.fireTick = tm.lastTick
	}
	if delta > timerMaxElapse {
		delta = timerMaxElapse
		t.fireTick = tm.lastTick + timerMaxElapse
	}

	var vi, si int
	switch {
	case delta < 1<<timerVecBits:
		vi, si = 0, int(t.fireTick&timerVecMask)
	case delta < 1<<(2*timerVecBits):
		vi, si = 1, int((t.fireTick>>timerVecBits)&timerVecMask)
	case delta < 1<<(3*timerVecBits):
		vi, si = 2, int((t.fireTick>>(2*timerVecBits))&timerVecMask)
	default:
		vi, si = 3, int((t.fireTick>>(3*timerVecBits))&timerVecMask)
	}

	t.vi, t.si = vi, si
	t.mgr = tm
	t.inSlot = true
	tm.tv[vi][si].pushBack(t)
	tm.count++

	if vi == 0 {
		tm.bitmap[si>>6] |= 1 << (uint(si) & 63)
	}
}

func (tm *TimerManager) removeLocked(t *Timer) {
	unlink(t)

	if t.inSlot {
		tm.count--
		if t.vi == 0 && tm.tv[0][t.si].empty() {
			tm.bitmap[t.si>>6] &^= 1 << (uint(t.si) & 63)
		}
	}

	t.inSlot = false
	t.mgr = nil
	t.vi, t.si = -1, -1
}

// cascadeLocked relinks every node of tv[vi][si] one level down.
func (tm *TimerManager) cascadeLocked(vi, si int) {
	var nodes []*Timer
	tl := &tm.tv[vi][si]
	for !tl.empty() {
		t := tl.head.next
		tm.removeLocked(t)
		nodes = append(nodes, t)
	}
	for _, t := range nodes {
		tm.placeLocked(t)
	}
}

// CheckExpire advances the wheel to the current tick, fires due
// timers one by one, and returns how many fired plus a hint for the
// next fire in ms (-1 when the wheel is empty).
func (tm *TimerManager) CheckExpire() (fired int, nextMS int) {
	now := tm.now()

	tm.mu.Lock()

	if tm.count == 0 {
		tm.lastTick = now
		tm.mu.Unlock()
		return 0, -1
	}

	var expired timerList
	expired.init()

	for tm.lastTick < now {
		tm.lastTick++
		idx := int(tm.lastTick & timerVecMask)

		if idx == 0 {
			// low byte rolled over: cascade the inner levels
			for vi := 1; vi < timerLevels; vi++ {
				si := int((tm.lastTick >> uint(vi*timerVecBits)) & timerVecMask)
				tm.cascadeLocked(vi, si)
				if si != 0 {
					break
				}
			}
		}

		tl := &tm.tv[0][idx]
		for !tl.empty() {
			t := tl.head.next
			tm.removeLocked(t)
			expired.pushBack(t)
			// keep ownership so Unschedule can still unlink it
			t.mgr = tm
		}
	}

	for expired.head.next != &expired.head {
		t := expired.head.next
		unlink(t)
		t.mgr = nil

		tm.running = t
		tm.runningGoID = goid()
		tm.runningUnsch = false

		tm.runningMu.Lock()
		tm.mu.Unlock()

		t.cb()

		tm.mu.Lock()
		tm.runningMu.Unlock()

		cancelled := tm.runningUnsch
		tm.running = nil
		fired++

		if t.repeating && !cancelled {
			t.startTick = tm.lastTick
			t.fireTick = tm.lastTick + uint64(t.elapse)
			tm.placeLocked(t)
		}
	}

	nextMS = tm.nextFireLocked()
	tm.mu.Unlock()

	return fired, nextMS
}

// nextFireLocked find-first-sets over the level-0 bitmap starting at
// the slot after the current tick. When only outer levels hold nodes
// the hint is the distance to the next cascade boundary.
func (tm *TimerManager) nextFireLocked() int {
	if tm.count == 0 {
		return -1
	}

	cur := int(tm.lastTick & timerVecMask)
	for off := 1; off <= timerVecSize; {
		si := (cur + off) & timerVecMask
		w := tm.bitmap[si>>6] >> (uint(si) & 63)
		if w != 0 {
			return off + bits.TrailingZeros64(w)
		}
		off += 64 - (si & 63)
	}

	// only outer levels hold nodes: next candidate is the cascade
	// boundary where the low byte rolls over
	return timerVecSize - cur
}

// Count returns the number of pending nodes.
func (tm *TimerManager) Count() int {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	return tm.count
}
