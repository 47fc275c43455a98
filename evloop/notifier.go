//go:build !windows

package evloop

import (
	"golang.org/x/sys/unix"
)

// notifier wakes a poller blocked in Wait from another thread. It is
// a non-blocking pipe whose read end is registered with the poller;
// the read callback drains whatever bytes have accumulated.
type notifier struct {
	rfd, wfd int
}

func newNotifier() (*notifier, error) {
	var p [2]int
	if err := unix.Pipe(p[:]); err != nil {
		return nil, err
	}

	for _, fd := range p {
		if err := unix.SetNonblock(fd, true); err != nil {
			unix.Close(p[0])
			unix.Close(p[1])
			return nil, err
		}
	}

	return &notifier{rfd: p[0], wfd: p[1]}, nil
}

var notifyByte = []byte{1}

func (n *notifier) notify() {
	// EAGAIN means the pipe already holds unread wakeups, which is
	// just as good as one more.
	unix.Write(n.wfd, notifyByte)
}

func (n *notifier) drain(Event, int) {
	var buf [64]byte
	for {
		nn, err := unix.Read(n.rfd, buf[:])
		if nn <= 0 || err != nil {
			break
		}
	}
}

func (n *notifier) close() {
	unix.Close(n.rfd)
	unix.Close(n.wfd)
}
