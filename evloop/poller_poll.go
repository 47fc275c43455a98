//go:build !linux && !darwin && !freebsd && !netbsd && !openbsd && !dragonfly && !windows

package evloop

import (
	"golang.org/x/sys/unix"

	"github.com/domsolutions/netloop"
)

func newPoller() Poller {
	return &pollPoller{}
}

// pollPoller is the level-triggered poll(2) fallback for unixes
// without epoll or kqueue.
type pollPoller struct {
	slotVector
	nt    *notifier
	pfds  []unix.PollFd
	dirty bool
}

func (p *pollPoller) Init() error {
	nt, err := newNotifier()
	if err != nil {
		return err
	}
	p.nt = nt

	return p.Register(nt.rfd, EventRead, nt.drain)
}

func (p *pollPoller) Type() PollType       { return PollPoll }
func (p *pollPoller) LevelTriggered() bool { return true }

func (p *pollPoller) Register(fd int, ev Event, cb IOCallback) error {
	if fd < 0 || cb == nil {
		return netloop.ErrInvalidParam
	}
	if !p.add(fd, ev, cb) {
		return netloop.ErrInvalidState
	}
	p.dirty = true
	return nil
}

func (p *pollPoller) Update(fd int, ev Event) error {
	if !p.update(fd, ev) {
		return netloop.ErrInvalidParam
	}
	p.dirty = true
	return nil
}

func (p *pollPoller) Unregister(fd int, closeFD bool) error {
	if !p.del(fd) {
		return nil
	}
	p.dirty = true
	if closeFD {
		unix.Close(fd)
	}
	return nil
}

func (p *pollPoller) rebuild() {
	p.pfds = p.pfds[:0]
	for fd := range p.slots {
		slot := &p.slots[fd]
		if !slot.live {
			continue
		}

		var events int16
		if slot.events.Has(EventRead) {
			events |= unix.POLLIN
		}
		if slot.events.Has(EventWrite) {
			events |= unix.POLLOUT
		}

		p.pfds = append(p.pfds, unix.PollFd{Fd: int32(fd), Events: events})
	}
	p.dirty = false
}

func (p *pollPoller) Wait(maxMS int) error {
	if p.dirty {
		p.rebuild()
	}

	n, err := unix.Poll(p.pfds, maxMS)
	if err != nil {
		if err == unix.EINTR {
			return nil
		}
		return err
	}
	if n <= 0 {
		return nil
	}

	for i := range p.pfds {
		re := p.pfds[i].Revents
		if re == 0 {
			continue
		}

		fd := int(p.pfds[i].Fd)
		slot := p.get(fd)
		if slot == nil || !slot.live {
			continue
		}

		var ev Event
		if re&(unix.POLLIN|unix.POLLPRI) != 0 {
			ev |= EventRead
		}
		if re&unix.POLLOUT != 0 {
			ev |= EventWrite
		}
		if re&(unix.POLLERR|unix.POLLHUP|unix.POLLNVAL) != 0 {
			ev |= EventError
		}

		gen := slot.gen
		slot.cb(ev, 0)
		if slot.gen != gen {
			continue
		}
	}

	return nil
}

func (p *pollPoller) Notify() {
	p.nt.notify()
}

func (p *pollPoller) Close() error {
	if p.nt != nil {
		p.Unregister(p.nt.rfd, false)
		p.nt.close()
		p.nt = nil
	}
	return nil
}
