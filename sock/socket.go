//go:build !windows

package sock

import (
	"net"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/domsolutions/netloop"
	"github.com/domsolutions/netloop/evloop"
)

type sockState int8

const (
	sockIdle sockState = iota
	sockConnecting
	sockOpen
	sockClosed
)

// TCPSocket is a non-blocking TCP socket registered with a loop. All
// methods must run on the loop goroutine; callbacks fire there too.
type TCPSocket struct {
	loop *evloop.Loop
	log  *zap.Logger

	fd    int
	state sockState

	events evloop.Event
	paused bool

	readBuf []byte

	connectCB func(err error)
	readCB    func(p []byte)
	writeCB   func()
	errorCB   func(err error)
}

// NewTCPSocket returns an unconnected socket owned by loop.
func NewTCPSocket(loop *evloop.Loop, log *zap.Logger) *TCPSocket {
	if log == nil {
		log = zap.NewNop()
	}
	return &TCPSocket{
		loop:    loop,
		log:     log,
		fd:      -1,
		readBuf: make([]byte, 64*1024),
	}
}

func (s *TCPSocket) SetReadCallback(cb func(p []byte))   { s.readCB = cb }
func (s *TCPSocket) SetWriteCallback(cb func())          { s.writeCB = cb }
func (s *TCPSocket) SetErrorCallback(cb func(err error)) { s.errorCB = cb }

// FD returns the underlying descriptor, -1 when closed.
func (s *TCPSocket) FD() int { return s.fd }

// Connect starts a non-blocking connect and fires cb once the socket
// is writable or failed.
func (s *TCPSocket) Connect(host string, port int, cb func(err error)) error {
	if s.state != sockIdle {
		return netloop.ErrInvalidState
	}

	ip := net.ParseIP(host)
	if ip == nil {
		ips, err := net.LookupIP(host)
		if err != nil || len(ips) == 0 {
			return netloop.ErrFailed
		}
		ip = ips[0]
	}

	var (
		domain int
		sa     unix.Sockaddr
	)
	if ip4 := ip.To4(); ip4 != nil {
		domain = unix.AF_INET
		sa4 := &unix.SockaddrInet4{Port: port}
		copy(sa4.Addr[:], ip4)
		sa = sa4
	} else {
		domain = unix.AF_INET6
		sa6 := &unix.SockaddrInet6{Port: port}
		copy(sa6.Addr[:], ip.To16())
		sa = sa6
	}

	fd, err := unix.Socket(domain, unix.SOCK_STREAM, 0)
	if err != nil {
		return err
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return err
	}

	s.fd = fd
	s.connectCB = cb
	s.state = sockConnecting

	err = unix.Connect(fd, sa)
	if err != nil && err != unix.EINPROGRESS {
		unix.Close(fd)
		s.fd = -1
		s.state = sockIdle
		return err
	}

	s.events = evloop.EventRead | evloop.EventWrite
	return s.loop.RegisterFD(fd, s.events, s.onEvents)
}

// AttachFD adopts an already connected descriptor. initBuf, when
// non-empty, is delivered through the read callback before any socket
// data.
func (s *TCPSocket) AttachFD(fd int, initBuf []byte) error {
	if s.state != sockIdle {
		return netloop.ErrInvalidState
	}

	if err := unix.SetNonblock(fd, true); err != nil {
		return err
	}

	s.fd = fd
	s.state = sockOpen
	s.events = evloop.EventRead
	if !s.loop.LevelTriggered() {
		// edge-triggered backends report write readiness transitions
		// only if the subscription is standing
		s.events |= evloop.EventWrite
	}

	if err := s.loop.RegisterFD(fd, s.events, s.onEvents); err != nil {
		return err
	}

	if len(initBuf) > 0 && s.readCB != nil {
		s.readCB(initBuf)
	}

	return nil
}

// Send writes as much of p as the kernel accepts. A partial count
// comes back with ErrAgain and the socket subscribes for
// write-ready; the write callback fires when it can take more.
func (s *TCPSocket) Send(p []byte) (int, error) {
	if s.state != sockOpen {
		return 0, netloop.ErrInvalidState
	}

	sent := 0
	for sent < len(p) {
		n, err := unix.Write(s.fd, p[sent:])
		if n > 0 {
			sent += n
		}

		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				s.wantWrite(true)
				return sent, netloop.ErrAgain
			}
			if err == unix.EINTR {
				continue
			}
			return sent, err
		}
	}

	return sent, nil
}

// Pause stops read events; inbound bytes accumulate in the kernel.
func (s *TCPSocket) Pause() error {
	if s.paused || s.state != sockOpen {
		return nil
	}
	s.paused = true
	s.events &^= evloop.EventRead
	return s.loop.UpdateFD(s.fd, s.events)
}

// Resume re-enables read events.
func (s *TCPSocket) Resume() error {
	if !s.paused {
		return nil
	}
	s.paused = false
	s.events |= evloop.EventRead
	return s.loop.UpdateFD(s.fd, s.events)
}

func (s *TCPSocket) Close() error {
	if s.state == sockClosed || s.fd < 0 {
		return nil
	}
	s.state = sockClosed

	fd := s.fd
	s.fd = -1

	return s.loop.UnregisterFD(fd, true)
}

func (s *TCPSocket) wantWrite(on bool) {
	// edge-triggered backends keep the write subscription implicit
	if !s.loop.LevelTriggered() {
		return
	}

	ev := s.events
	if on {
		ev |= evloop.EventWrite
	} else {
		ev &^= evloop.EventWrite
	}

	if ev != s.events {
		s.events = ev
		s.loop.UpdateFD(s.fd, ev)
	}
}

func (s *TCPSocket) onEvents(ev evloop.Event, _ int) {
	if s.state == sockConnecting {
		s.finishConnect(ev)
		return
	}
	if s.state != sockOpen {
		return
	}

	if ev.Has(evloop.EventError) {
		s.fail(netloop.ErrSocket)
		return
	}

	if ev.Has(evloop.EventRead) {
		if !s.drainRead() {
			return
		}
	}

	if ev.Has(evloop.EventWrite) && s.state == sockOpen {
		if s.loop.LevelTriggered() {
			s.wantWrite(false)
		}
		if s.writeCB != nil {
			s.writeCB()
		}
	}
}

func (s *TCPSocket) finishConnect(ev evloop.Event) {
	soerr, err := unix.GetsockoptInt(s.fd, unix.SOL_SOCKET, unix.SO_ERROR)

	cb := s.connectCB
	s.connectCB = nil

	if err != nil || soerr != 0 || ev.Has(evloop.EventError) {
		s.state = sockClosed
		fd := s.fd
		s.fd = -1
		s.loop.UnregisterFD(fd, true)
		if cb != nil {
			cb(netloop.ErrSocket)
		}
		return
	}

	s.state = sockOpen
	if s.loop.LevelTriggered() {
		s.events = evloop.EventRead
		s.loop.UpdateFD(s.fd, s.events)
	}

	if cb != nil {
		cb(nil)
	}
}

// drainRead reads until EAGAIN (required by the edge-triggered
// backends). Returns false when the socket died.
func (s *TCPSocket) drainRead() bool {
	for {
		n, err := unix.Read(s.fd, s.readBuf)
		if n > 0 {
			if s.readCB != nil {
				s.readCB(s.readBuf[:n])
			}
			if s.state != sockOpen || s.paused {
				return s.state == sockOpen
			}
			continue
		}

		if n == 0 && err == nil {
			s.fail(netloop.ErrSocket) // peer closed
			return false
		}

		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return true
		}
		if err == unix.EINTR {
			continue
		}

		s.fail(err)
		return false
	}
}

func (s *TCPSocket) fail(err error) {
	if s.state == sockClosed {
		return
	}
	s.Close()

	if s.errorCB != nil {
		cb := s.errorCB
		s.errorCB = nil
		cb(err)
	}
}
