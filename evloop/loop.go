package evloop

import (
	"sync/atomic"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/domsolutions/netloop"
)

// LoopOpts defines the loop options.
type LoopOpts struct {
	// Logger receives loop lifecycle and dispatch errors.
	Logger *zap.Logger
}

func (o *LoopOpts) defaults() {
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
}

// Loop is a single-threaded cooperative event loop. It owns a poller,
// a timer wheel and a cross-thread task queue. Descriptors and timers
// registered with a loop may only be mutated on the loop goroutine;
// external code interacts strictly through Post, Sync or the FD
// helpers.
type Loop struct {
	poller Poller
	timers *TimerManager
	q      taskQueue

	observers []observer

	log *zap.Logger

	gid      atomic.Int64
	stopped  atomic.Bool
	inited   bool
	finished chan struct{}
}

type observer struct {
	cb  func()
	tok *Token
}

// New returns an uninitialized loop; call Init before use.
func New(opts LoopOpts) *Loop {
	opts.defaults()
	return &Loop{
		poller:   newPoller(),
		timers:   NewTimerManager(),
		log:      opts.Logger,
		finished: make(chan struct{}),
	}
}

// Init binds the poller and installs the cross-thread notifier. It
// is one-time; further calls return false.
func (l *Loop) Init() bool {
	if l.inited {
		return false
	}

	if err := l.poller.Init(); err != nil {
		l.log.Error("poller init failed", zap.Error(err))
		return false
	}

	l.inited = true

	return true
}

// PollType returns the backend the loop runs on.
func (l *Loop) PollType() PollType {
	return l.poller.Type()
}

// LevelTriggered reports whether the backend requires explicit write
// subscription toggling.
func (l *Loop) LevelTriggered() bool {
	return l.poller.LevelTriggered()
}

// Timers exposes the loop's timer wheel.
func (l *Loop) Timers() *TimerManager {
	return l.timers
}

// InLoopThread reports whether the caller runs on the loop goroutine.
func (l *Loop) InLoopThread() bool {
	return l.gid.Load() == goid()
}

// Run iterates until Stop has been called and the task queue is
// empty: drain tasks, advance timers, then wait on the poller for at
// most maxWaitMS (or the next timer fire, whichever is sooner). On
// exit every observer fires in registration order and the observer
// list is cleared.
func (l *Loop) Run(maxWaitMS int) {
	l.gid.Store(goid())

	for {
		l.q.drain()

		_, next := l.timers.CheckExpire()

		if l.stopped.Load() {
			if l.q.empty() {
				break
			}
			continue
		}

		if err := l.poller.Wait(waitFor(maxWaitMS, next)); err != nil {
			l.log.Error("poll wait failed", zap.Error(err))
			break
		}
	}

	// drain anything enqueued between the stop flag and here
	l.q.drain()

	obs := l.observers
	l.observers = nil
	for _, o := range obs {
		if o.tok.Cancelled() {
			continue
		}
		o.cb()
	}

	l.gid.Store(0)
	close(l.finished)
}

// Wait blocks until Run has returned.
func (l *Loop) Wait() {
	<-l.finished
}

// RunOnce performs a single loop iteration.
func (l *Loop) RunOnce(maxWaitMS int) {
	prev := l.gid.Swap(goid())

	l.q.drain()
	_, next := l.timers.CheckExpire()

	if err := l.poller.Wait(waitFor(maxWaitMS, next)); err != nil {
		l.log.Error("poll wait failed", zap.Error(err))
	}

	l.q.drain()

	l.gid.Store(prev)
}

func waitFor(maxWaitMS, nextTimerMS int) int {
	wait := maxWaitMS
	if nextTimerMS >= 0 && (wait < 0 || nextTimerMS < wait) {
		wait = nextTimerMS
	}
	return wait
}

// Stop flags the loop to exit and wakes the poller.
func (l *Loop) Stop() {
	l.stopped.Store(true)
	l.poller.Notify()
}

// Stopped reports whether Stop has been called.
func (l *Loop) Stopped() bool {
	return l.stopped.Load()
}

// Post enqueues task onto the loop. Tasks posted from a single
// goroutine run in the order posted.
func (l *Loop) Post(task Task) {
	l.PostToken(task, nil)
}

// PostToken enqueues task guarded by tok; a cancelled token discards
// the task on dequeue.
func (l *Loop) PostToken(task Task, tok *Token) {
	if task == nil {
		return
	}

	l.q.push(task, tok)

	if !l.InLoopThread() {
		l.poller.Notify()
	}
}

// Sync runs task on the loop goroutine and waits for it to return.
// Called from the loop goroutine it runs inline.
func (l *Loop) Sync(task Task) {
	if task == nil {
		return
	}

	if l.InLoopThread() {
		task()
		return
	}

	done := make(chan struct{})
	l.q.push(func() {
		task()
		close(done)
	}, nil)
	l.poller.Notify()

	<-done
}

// RegisterFD adds fd to the loop's poller. Off-loop callers are
// synchronized onto the loop goroutine.
func (l *Loop) RegisterFD(fd int, ev Event, cb IOCallback) error {
	var err error
	l.Sync(func() { err = l.poller.Register(fd, ev, cb) })
	return err
}

// UpdateFD changes the subscribed event mask of fd.
func (l *Loop) UpdateFD(fd int, ev Event) error {
	var err error
	l.Sync(func() { err = l.poller.Update(fd, ev) })
	return err
}

// UnregisterFD detaches fd, closing it when closeFD is set. Always
// synchronous.
func (l *Loop) UnregisterFD(fd int, closeFD bool) error {
	var err error
	l.Sync(func() { err = l.poller.Unregister(fd, closeFD) })
	return err
}

// AppendObserver registers a loop-exit callback keyed by tok.
func (l *Loop) AppendObserver(cb func(), tok *Token) {
	if cb == nil {
		return
	}
	l.Sync(func() {
		l.observers = append(l.observers, observer{cb: cb, tok: tok})
	})
}

// Close releases the poller. The loop must not be running.
func (l *Loop) Close() error {
	if !l.inited {
		return netloop.ErrInvalidState
	}
	l.inited = false
	return l.poller.Close()
}

// Group is a fixed pool of running loops handed out round-robin.
type Group struct {
	loops []*Loop
	next  atomic.Uint64
}

// NewGroup starts n loops, each on its own goroutine.
func NewGroup(n int, opts LoopOpts) (*Group, error) {
	if n <= 0 {
		return nil, netloop.ErrInvalidParam
	}

	g := &Group{}
	for i := 0; i < n; i++ {
		l := New(opts)
		if !l.Init() {
			g.Stop()
			return nil, netloop.ErrPoll
		}
		g.loops = append(g.loops, l)
		go l.Run(-1)
	}

	return g, nil
}

// Next returns the next loop in round-robin order.
func (g *Group) Next() *Loop {
	n := g.next.Add(1)
	return g.loops[(n-1)%uint64(len(g.loops))]
}

// Stop stops and closes every loop in the group.
func (g *Group) Stop() error {
	var err error
	for _, l := range g.loops {
		l.Stop()
	}
	for _, l := range g.loops {
		l.Wait()
		err = multierr.Append(err, l.Close())
	}
	return err
}
