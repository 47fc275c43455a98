package ws

import (
	"strings"

	"go.uber.org/zap"

	"github.com/domsolutions/netloop"
	"github.com/domsolutions/netloop/h2"
)

// H2DialOpts configures a WebSocket over an HTTP/2 stream (RFC 8441
// extended CONNECT).
type H2DialOpts struct {
	Scheme    string
	Authority string
	Path      string
	Origin    string

	Subprotocols []string
	Extensions   []Extension

	ConnOpts ConnOpts

	// OnOpen fires on the application loop once the server accepted
	// the CONNECT with :status 200.
	OnOpen func(c *Conn)

	// OnError fires if the CONNECT is rejected or the stream dies
	// before opening.
	OnError func(err error)
}

// DialH2 opens a WebSocket over proxy. The connection's send path
// goes through the stream proxy; inbound stream data feeds the frame
// parser. Extended CONNECT requires the peer to have sent
// SETTINGS_ENABLE_CONNECT_PROTOCOL=1.
//
// https://tools.ietf.org/html/rfc8441#section-4
func DialH2(proxy *h2.StreamProxy, opts H2DialOpts) error {
	scheme := opts.Scheme
	if scheme == "" {
		scheme = "https"
	}
	path := opts.Path
	if path == "" {
		path = "/"
	}

	extra := []h2.HeaderField{
		h2.MakeHeaderField("sec-websocket-version", "13"),
	}
	if opts.Origin != "" {
		extra = append(extra, h2.MakeHeaderField("origin", opts.Origin))
	}
	if len(opts.Subprotocols) > 0 {
		extra = append(extra, h2.MakeHeaderField("sec-websocket-protocol",
			strings.Join(opts.Subprotocols, ", ")))
	}

	var offers []string
	for _, ext := range opts.Extensions {
		offers = append(offers, ext.GetOffer())
	}
	if hv := FormatExtensionHeader(offers); hv != "" {
		extra = append(extra, h2.MakeHeaderField("sec-websocket-extensions", hv))
	}

	var conn *Conn

	proxy.OnHeaders(func(fields []h2.HeaderField, endStream bool) {
		status, _ := h2.HeaderValue(fields, ":status")
		if status != "200" || endStream {
			proxy.Close()
			if opts.OnError != nil {
				opts.OnError(netloop.ErrRejected)
			}
			return
		}

		answer, _ := h2.HeaderValue(fields, "sec-websocket-extensions")
		active, err := negotiateClient(opts.Extensions, answer)
		if err != nil {
			proxy.Close()
			if opts.OnError != nil {
				opts.OnError(err)
			}
			return
		}

		co := opts.ConnOpts
		co.Role = RoleClient
		co.Extensions = active
		co.Subprotocol, _ = h2.HeaderValue(fields, "sec-websocket-protocol")
		co.Origin = opts.Origin
		co.Send = func(p []byte) (int, error) {
			return proxy.SendData(p, false)
		}

		conn = NewConn(co)

		if opts.OnOpen != nil {
			opts.OnOpen(conn)
		}
	})

	proxy.OnData(func(p []byte, endStream bool) {
		if conn != nil {
			conn.Input(p)
		}
		if endStream && conn != nil {
			conn.state = StateClosed
		}
	})

	proxy.OnReset(func(code h2.ErrorCode) {
		if conn != nil {
			conn.state = StateClosed
			return
		}
		if opts.OnError != nil {
			opts.OnError(netloop.ErrRejected)
		}
	})

	return proxy.SendExtendedConnect("websocket", scheme, opts.Authority, path, extra)
}

// H2AcceptOpts configures the server side of an extended CONNECT
// WebSocket.
type H2AcceptOpts struct {
	Handshake ServerHandshake
	ConnOpts  ConnOpts
	Logger    *zap.Logger
}

// AcceptH2 validates an extended CONNECT request on an attached
// stream proxy, answers :status 200 and returns the open connection.
// The request headers must carry :method=CONNECT and
// :protocol=websocket.
func AcceptH2(proxy *h2.StreamProxy, fields []h2.HeaderField, opts H2AcceptOpts) (*Conn, error) {
	method, _ := h2.HeaderValue(fields, ":method")
	protocol, _ := h2.HeaderValue(fields, ":protocol")

	if method != "CONNECT" || protocol != "websocket" {
		proxy.SendResponse(400, nil, true)
		return nil, netloop.ErrInvalidProto
	}

	var subprotocol string
	if offered, ok := h2.HeaderValue(fields, "sec-websocket-protocol"); ok {
		for _, p := range splitTrimmed(offered, ',') {
			if containsFold(opts.Handshake.Subprotocols, p) {
				subprotocol = p
				break
			}
		}
	}

	offerHeader, _ := h2.HeaderValue(fields, "sec-websocket-extensions")
	active, answers := negotiateServer(opts.Handshake.Extensions, offerHeader)

	var extra []h2.HeaderField
	if subprotocol != "" {
		extra = append(extra, h2.MakeHeaderField("sec-websocket-protocol", subprotocol))
	}
	if hv := FormatExtensionHeader(answers); hv != "" {
		extra = append(extra, h2.MakeHeaderField("sec-websocket-extensions", hv))
	}

	if err := proxy.SendResponse(200, extra, false); err != nil {
		return nil, err
	}

	co := opts.ConnOpts
	co.Role = RoleServer
	co.Extensions = active
	co.Subprotocol = subprotocol
	co.Logger = opts.Logger
	origin, _ := h2.HeaderValue(fields, "origin")
	co.Origin = origin
	co.Send = func(p []byte) (int, error) {
		return proxy.SendData(p, false)
	}

	conn := NewConn(co)

	proxy.OnData(func(p []byte, endStream bool) {
		conn.Input(p)
		if endStream {
			conn.state = StateClosed
		}
	})
	proxy.OnReset(func(code h2.ErrorCode) {
		conn.state = StateClosed
	})

	return conn, nil
}
