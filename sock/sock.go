// Package sock provides non-blocking TCP sockets bound to an event
// loop: the socket collaborator the protocol engines write to and
// receive readable/writable events from.
package sock

// Socket is the transport surface consumed by the protocol engines.
type Socket interface {
	Connect(host string, port int, cb func(err error)) error
	AttachFD(fd int, initBuf []byte) error

	Send(p []byte) (int, error)

	SetReadCallback(cb func(p []byte))
	SetWriteCallback(cb func())
	SetErrorCallback(cb func(err error))

	Pause() error
	Resume() error

	Close() error
}
