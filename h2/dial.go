//go:build !windows

package h2

import (
	"github.com/domsolutions/netloop/evloop"
	"github.com/domsolutions/netloop/sock"
)

// DialH2C returns a cleartext HTTP/2 connection for host:port,
// reusing the shared pool when a live connection is already bound
// there. On a miss a non-blocking TCP socket is opened on loop, the
// h2c upgrade performed, and the connection stored in the pool once
// the handshake completes.
//
// cb fires exactly once, on the connection's loop. A pooled
// connection keeps the loop it was created on, which may differ from
// loop; attach through a StreamProxy when calling from elsewhere.
func DialH2C(loop *evloop.Loop, host string, port int, opts ConnOpts, cb func(c *Conn, err error)) {
	if c := sharedPool.Get(host, port, false); c != nil {
		c.loop.Post(func() { cb(c, nil) })
		return
	}

	opts.Loop = loop
	opts.Host = host

	loop.Post(func() {
		s := sock.NewTCPSocket(loop, opts.Logger)

		userHandshake := opts.OnHandshake
		userError := opts.OnError

		var c *Conn

		done := false
		finish := func(conn *Conn, err error) {
			if done {
				return
			}
			done = true
			cb(conn, err)
		}

		opts.OnHandshake = func() {
			sharedPool.Put(host, port, false, c)
			if userHandshake != nil {
				userHandshake()
			}
			finish(c, nil)
		}
		opts.OnError = func(err error) {
			if userError != nil {
				userError(err)
			}
			finish(nil, err)
		}

		c = NewConn(s, opts)

		s.SetReadCallback(func(p []byte) { c.Input(p) })
		s.SetWriteCallback(c.OnWritable)
		s.SetErrorCallback(func(err error) { c.fatal(err) })

		err := s.Connect(host, port, func(err error) {
			if err != nil {
				finish(nil, err)
				return
			}
			if err := c.StartHandshake(false); err != nil {
				finish(nil, err)
			}
		})
		if err != nil {
			finish(nil, err)
		}
	})
}
