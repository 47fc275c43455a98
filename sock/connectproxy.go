package sock

import (
	"bufio"
	"bytes"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/valyala/fasthttp"

	"github.com/domsolutions/netloop"
)

const proxyMaxAttempts = 5

// ProxyConnector tunnels through an HTTP proxy with CONNECT. It
// temporarily owns the socket's callbacks; once the tunnel is up the
// callbacks are released and cb fires, after which the socket behaves
// like a direct connection.
//
// Only Basic authentication is negotiated from Proxy-Authenticate;
// a 407 with an unsupported scheme fails with ErrNotAuthorized.
type ProxyConnector struct {
	sock Socket

	targetHost string
	targetPort int

	username string
	password string

	attempts int
	withAuth bool
	buf      []byte

	cb func(err error)
}

// NewProxyConnector prepares a CONNECT for targetHost:targetPort over
// an already connected proxy socket.
func NewProxyConnector(s Socket, targetHost string, targetPort int, username, password string) *ProxyConnector {
	return &ProxyConnector{
		sock:       s,
		targetHost: targetHost,
		targetPort: targetPort,
		username:   username,
		password:   password,
	}
}

// Start sends the CONNECT and fires cb once the tunnel is
// established or failed.
func (pc *ProxyConnector) Start(cb func(err error)) error {
	pc.cb = cb
	pc.sock.SetReadCallback(pc.onRead)
	pc.sock.SetErrorCallback(func(err error) { pc.finish(err) })

	return pc.sendConnect()
}

func (pc *ProxyConnector) sendConnect() error {
	pc.attempts++
	if pc.attempts > proxyMaxAttempts {
		pc.finish(netloop.ErrNotAuthorized)
		return netloop.ErrNotAuthorized
	}

	var b bytes.Buffer
	fmt.Fprintf(&b, "CONNECT %s:%d HTTP/1.1\r\n", pc.targetHost, pc.targetPort)
	fmt.Fprintf(&b, "Host: %s:%d\r\n", pc.targetHost, pc.targetPort)

	if pc.withAuth {
		cred := base64.StdEncoding.EncodeToString(
			[]byte(pc.username + ":" + pc.password))
		fmt.Fprintf(&b, "Proxy-Authorization: Basic %s\r\n", cred)
	}

	b.WriteString("\r\n")

	_, err := pc.sock.Send(b.Bytes())
	return err
}

func (pc *ProxyConnector) onRead(p []byte) {
	pc.buf = append(pc.buf, p...)

	idx := bytes.Index(pc.buf, []byte("\r\n\r\n"))
	if idx < 0 {
		return
	}

	head := pc.buf[:idx+4]
	pc.buf = pc.buf[idx+4:]

	var rsp fasthttp.ResponseHeader
	if err := rsp.Read(bufio.NewReader(bytes.NewReader(head))); err != nil {
		pc.finish(netloop.ErrInvalidProto)
		return
	}

	switch rsp.StatusCode() {
	case fasthttp.StatusOK:
		pc.finish(nil)

	case fasthttp.StatusProxyAuthRequired:
		scheme := string(rsp.Peek("Proxy-Authenticate"))
		if !strings.HasPrefix(strings.ToLower(scheme), "basic") ||
			pc.username == "" || pc.withAuth {
			pc.finish(netloop.ErrNotAuthorized)
			return
		}

		pc.withAuth = true
		if err := pc.sendConnect(); err != nil {
			pc.finish(err)
		}

	default:
		pc.finish(netloop.ErrRejected)
	}
}

func (pc *ProxyConnector) finish(err error) {
	cb := pc.cb
	if cb == nil {
		return
	}
	pc.cb = nil

	pc.sock.SetReadCallback(nil)
	pc.sock.SetErrorCallback(nil)

	cb(err)
}
