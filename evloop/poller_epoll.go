//go:build linux

package evloop

import (
	"golang.org/x/sys/unix"

	"github.com/domsolutions/netloop"
)

func newPoller() Poller {
	return &epollPoller{epfd: -1}
}

// epollPoller is the edge-triggered linux backend (EPOLLET).
type epollPoller struct {
	epfd   int
	slotVector
	nt     *notifier
	events []unix.EpollEvent
}

func (p *epollPoller) Init() error {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return err
	}
	p.epfd = epfd
	p.events = make([]unix.EpollEvent, 128)

	p.nt, err = newNotifier()
	if err != nil {
		unix.Close(epfd)
		p.epfd = -1
		return err
	}

	return p.Register(p.nt.rfd, EventRead, p.nt.drain)
}

func (p *epollPoller) Type() PollType       { return PollEpoll }
func (p *epollPoller) LevelTriggered() bool { return false }

func epollMask(ev Event) uint32 {
	var m uint32 = unix.EPOLLET
	if ev.Has(EventRead) {
		m |= unix.EPOLLIN | unix.EPOLLRDHUP
	}
	if ev.Has(EventWrite) {
		m |= unix.EPOLLOUT
	}
	return m
}

func (p *epollPoller) Register(fd int, ev Event, cb IOCallback) error {
	if fd < 0 || cb == nil {
		return netloop.ErrInvalidParam
	}
	if !p.add(fd, ev, cb) {
		return netloop.ErrInvalidState
	}

	err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &unix.EpollEvent{
		Events: epollMask(ev),
		Fd:     int32(fd),
	})
	if err != nil {
		p.del(fd)
		return err
	}

	return nil
}

func (p *epollPoller) Update(fd int, ev Event) error {
	if !p.update(fd, ev) {
		return netloop.ErrInvalidParam
	}

	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, &unix.EpollEvent{
		Events: epollMask(ev),
		Fd:     int32(fd),
	})
}

func (p *epollPoller) Unregister(fd int, closeFD bool) error {
	if !p.del(fd) {
		return nil
	}

	unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
	if closeFD {
		unix.Close(fd)
	}

	return nil
}

func (p *epollPoller) Wait(maxMS int) error {
	n, err := unix.EpollWait(p.epfd, p.events, maxMS)
	if err != nil {
		if err == unix.EINTR {
			return nil
		}
		return err
	}

	for i := 0; i < n; i++ {
		e := &p.events[i]
		fd := int(e.Fd)

		slot := p.get(fd)
		if slot == nil || !slot.live {
			continue
		}

		var ev Event
		if e.Events&(unix.EPOLLIN|unix.EPOLLRDHUP|unix.EPOLLPRI) != 0 {
			ev |= EventRead
		}
		if e.Events&unix.EPOLLOUT != 0 {
			ev |= EventWrite
		}
		if e.Events&(unix.EPOLLERR|unix.EPOLLHUP) != 0 {
			ev |= EventError
		}

		gen := slot.gen
		cb := slot.cb

		cb(ev, 0)

		// the callback may have unregistered fd (or reused its slot);
		// don't touch the entry again if the generation moved.
		if slot.gen != gen {
			continue
		}
	}

	if n == len(p.events) {
		p.events = make([]unix.EpollEvent, len(p.events)*2)
	}

	return nil
}

func (p *epollPoller) Notify() {
	p.nt.notify()
}

func (p *epollPoller) Close() error {
	if p.nt != nil {
		p.Unregister(p.nt.rfd, false)
		p.nt.close()
		p.nt = nil
	}
	if p.epfd >= 0 {
		unix.Close(p.epfd)
		p.epfd = -1
	}
	return nil
}
