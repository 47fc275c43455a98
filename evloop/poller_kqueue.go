//go:build darwin || freebsd || netbsd || openbsd || dragonfly

package evloop

import (
	"golang.org/x/sys/unix"

	"github.com/domsolutions/netloop"
)

func newPoller() Poller {
	return &kqueuePoller{kq: -1}
}

// kqueuePoller is the edge-triggered BSD backend (EV_CLEAR).
type kqueuePoller struct {
	kq int
	slotVector
	nt     *notifier
	events []unix.Kevent_t
}

func (p *kqueuePoller) Init() error {
	kq, err := unix.Kqueue()
	if err != nil {
		return err
	}
	p.kq = kq
	p.events = make([]unix.Kevent_t, 128)

	p.nt, err = newNotifier()
	if err != nil {
		unix.Close(kq)
		p.kq = -1
		return err
	}

	return p.Register(p.nt.rfd, EventRead, p.nt.drain)
}

func (p *kqueuePoller) Type() PollType       { return PollKqueue }
func (p *kqueuePoller) LevelTriggered() bool { return false }

func (p *kqueuePoller) apply(fd int, ev Event) error {
	changes := make([]unix.Kevent_t, 0, 2)

	readFlags := uint16(unix.EV_ADD | unix.EV_CLEAR)
	if !ev.Has(EventRead) {
		readFlags = unix.EV_DELETE
	}
	changes = append(changes, unix.Kevent_t{
		Ident:  uint64(fd),
		Filter: unix.EVFILT_READ,
		Flags:  readFlags,
	})

	writeFlags := uint16(unix.EV_ADD | unix.EV_CLEAR)
	if !ev.Has(EventWrite) {
		writeFlags = unix.EV_DELETE
	}
	changes = append(changes, unix.Kevent_t{
		Ident:  uint64(fd),
		Filter: unix.EVFILT_WRITE,
		Flags:  writeFlags,
	})

	// EV_DELETE of a filter that was never added reports ENOENT;
	// harmless here.
	_, err := unix.Kevent(p.kq, changes, nil, nil)
	if err == unix.ENOENT {
		err = nil
	}
	return err
}

func (p *kqueuePoller) Register(fd int, ev Event, cb IOCallback) error {
	if fd < 0 || cb == nil {
		return netloop.ErrInvalidParam
	}
	if !p.add(fd, ev, cb) {
		return netloop.ErrInvalidState
	}

	if err := p.apply(fd, ev); err != nil {
		p.del(fd)
		return err
	}

	return nil
}

func (p *kqueuePoller) Update(fd int, ev Event) error {
	if !p.update(fd, ev) {
		return netloop.ErrInvalidParam
	}
	return p.apply(fd, ev)
}

func (p *kqueuePoller) Unregister(fd int, closeFD bool) error {
	if !p.del(fd) {
		return nil
	}

	changes := []unix.Kevent_t{
		{Ident: uint64(fd), Filter: unix.EVFILT_READ, Flags: unix.EV_DELETE},
		{Ident: uint64(fd), Filter: unix.EVFILT_WRITE, Flags: unix.EV_DELETE},
	}
	unix.Kevent(p.kq, changes, nil, nil)

	if closeFD {
		unix.Close(fd)
	}

	return nil
}

func (p *kqueuePoller) Wait(maxMS int) error {
	var ts *unix.Timespec
	if maxMS >= 0 {
		t := unix.NsecToTimespec(int64(maxMS) * 1e6)
		ts = &t
	}

	n, err := unix.Kevent(p.kq, nil, p.events, ts)
	if err != nil {
		if err == unix.EINTR {
			return nil
		}
		return err
	}

	for i := 0; i < n; i++ {
		e := &p.events[i]
		fd := int(e.Ident)

		slot := p.get(fd)
		if slot == nil || !slot.live {
			continue
		}

		var ev Event
		switch e.Filter {
		case unix.EVFILT_READ:
			ev |= EventRead
		case unix.EVFILT_WRITE:
			ev |= EventWrite
		}
		if e.Flags&unix.EV_ERROR != 0 || e.Flags&unix.EV_EOF != 0 {
			ev |= EventError
		}

		gen := slot.gen
		cb := slot.cb

		cb(ev, 0)

		if slot.gen != gen {
			continue
		}
	}

	if n == len(p.events) {
		p.events = make([]unix.Kevent_t, len(p.events)*2)
	}

	return nil
}

func (p *kqueuePoller) Notify() {
	p.nt.notify()
}

func (p *kqueuePoller) Close() error {
	if p.nt != nil {
		p.Unregister(p.nt.rfd, false)
		p.nt.close()
		p.nt = nil
	}
	if p.kq >= 0 {
		unix.Close(p.kq)
		p.kq = -1
	}
	return nil
}
