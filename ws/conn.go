package ws

import (
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/domsolutions/netloop/netutils"
)

// Role distinguishes the masking direction.
type Role int8

const (
	RoleClient Role = iota
	RoleServer
)

// State is the connection lifecycle.
type State int8

const (
	StateIdle State = iota
	StateConnecting
	StateUpgrading
	StateOpen
	StateError
	StateClosed
)

// Close status codes (https://tools.ietf.org/html/rfc6455#section-7.4.1)
const (
	StatusNormalClosure   uint16 = 1000
	StatusGoingAway       uint16 = 1001
	StatusProtocolError   uint16 = 1002
	StatusUnsupportedData uint16 = 1003
	StatusInvalidPayload  uint16 = 1007
	StatusMessageTooBig   uint16 = 1009
	StatusInternalError   uint16 = 1011
)

// ConnOpts defines the connection options.
type ConnOpts struct {
	Role Role

	// Send writes framed bytes to the carrier — an upgraded HTTP/1
	// socket or an HTTP/2 stream proxy.
	Send func(p []byte) (int, error)

	// Extensions is the active chain from handshake negotiation.
	Extensions []Extension

	Subprotocol string
	Origin      string

	// MaxMessageSize caps an assembled message; exceeding it closes
	// with 1009. Zero means unlimited.
	MaxMessageSize int64

	Logger *zap.Logger

	// OnMessage delivers a complete (reassembled) message.
	OnMessage func(op Opcode, payload []byte)

	OnPing  func(payload []byte)
	OnPong  func(payload []byte)
	OnClose func(code uint16, reason string)
	OnError func(err error)
}

// Conn is an open WebSocket connection over some carrier. It is not
// goroutine-safe; the owning loop drives it.
type Conn struct {
	role  Role
	state State

	parser FrameParser
	exts   []Extension

	subprotocol string
	origin      string

	maxMessageSize int64

	// message reassembly
	fragOpcode Opcode
	fragBuf    []byte
	fragActive bool

	send func(p []byte) (int, error)
	log  *zap.Logger

	closeSent     bool
	closeReceived bool

	onMessage func(op Opcode, payload []byte)
	onPing    func(payload []byte)
	onPong    func(payload []byte)
	onClose   func(code uint16, reason string)
	onError   func(err error)
}

// NewConn returns an open connection; the handshake must already be
// done by the caller (see ClientHandshake / ServerHandshake / the h2
// dial helpers).
func NewConn(opts ConnOpts) *Conn {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	c := &Conn{
		role:           opts.Role,
		state:          StateOpen,
		exts:           opts.Extensions,
		subprotocol:    opts.Subprotocol,
		origin:         opts.Origin,
		maxMessageSize: opts.MaxMessageSize,
		send:           opts.Send,
		log:            log,
		onMessage:      opts.OnMessage,
		onPing:         opts.OnPing,
		onPong:         opts.OnPong,
		onClose:        opts.OnClose,
		onError:        opts.OnError,
	}

	if opts.MaxMessageSize > 0 {
		c.parser.MaxPayloadLen = opts.MaxMessageSize
	}

	return c
}

func (c *Conn) State() State        { return c.state }
func (c *Conn) Subprotocol() string { return c.subprotocol }
func (c *Conn) Origin() string      { return c.origin }

// Input feeds carrier bytes through the frame parser.
func (c *Conn) Input(b []byte) error {
	if c.state != StateOpen {
		return ErrClosed
	}

	_, err := c.parser.Feed(b, c.handleFrame)
	if err != nil {
		code := StatusProtocolError
		if err == ErrInvalidLength {
			code = StatusMessageTooBig
		}
		c.failConn(code, err)
	}
	return err
}

func (c *Conn) handleFrame(hdr *FrameHeader, payload []byte) error {
	// masking direction is fixed per role
	if c.role == RoleServer && !hdr.Masked {
		return ErrProtocolError
	}
	if c.role == RoleClient && hdr.Masked {
		return ErrProtocolError
	}

	if err := c.checkRsv(hdr); err != nil {
		return err
	}

	if hdr.Opcode.IsControl() {
		return c.handleControl(hdr, payload)
	}

	// continuation is only valid inside a fragmented message, and a
	// new data opcode is only valid outside one
	if hdr.Opcode == OpcodeContinuation {
		if !c.fragActive {
			return ErrProtocolError
		}
	} else if c.fragActive {
		return ErrProtocolError
	}

	// run the extension chain in reverse declaration order
	var err error
	for i := len(c.exts) - 1; i >= 0; i-- {
		payload, err = c.exts[i].ProcessIncoming(hdr, payload)
		if err != nil {
			return err
		}
	}

	if hdr.Opcode != OpcodeContinuation {
		c.fragOpcode = hdr.Opcode
		c.fragBuf = c.fragBuf[:0]
		c.fragActive = true
	}

	c.fragBuf = append(c.fragBuf, payload...)
	if c.maxMessageSize > 0 && int64(len(c.fragBuf)) > c.maxMessageSize {
		c.SendClose(StatusMessageTooBig, "message too big")
		return ErrInvalidLength
	}

	if !hdr.Fin {
		return nil
	}

	c.fragActive = false
	msg := c.fragBuf

	if c.fragOpcode == OpcodeText && !utf8.Valid(msg) {
		c.SendClose(StatusInvalidPayload, "invalid utf-8")
		return ErrInvalidFrame
	}

	if c.onMessage != nil {
		c.onMessage(c.fragOpcode, msg)
	}

	return nil
}

func (c *Conn) checkRsv(hdr *FrameHeader) error {
	var r1, r2, r3 bool
	for _, ext := range c.exts {
		e1, e2, e3 := ext.RsvMask()
		r1 = r1 || e1
		r2 = r2 || e2
		r3 = r3 || e3
	}

	if (hdr.Rsv1 && !r1) || (hdr.Rsv2 && !r2) || (hdr.Rsv3 && !r3) {
		return ErrProtocolError
	}

	return nil
}

func (c *Conn) handleControl(hdr *FrameHeader, payload []byte) error {
	switch hdr.Opcode {
	case OpcodePing:
		if c.onPing != nil {
			c.onPing(payload)
		}
		return c.sendFrame(OpcodePong, payload, true)

	case OpcodePong:
		if c.onPong != nil {
			c.onPong(payload)
		}
		return nil

	case OpcodeClose:
		code := StatusNormalClosure
		reason := ""

		switch {
		case len(payload) >= 2:
			code = netutils.BytesToUint16(payload)
			reason = string(payload[2:])
			if !utf8.ValidString(reason) {
				return ErrInvalidFrame
			}
		case len(payload) == 1:
			return ErrInvalidFrame
		}

		c.closeReceived = true

		if !c.closeSent {
			// echo the close before shutting down
			c.SendClose(code, "")
		}

		c.state = StateClosed

		if c.onClose != nil {
			c.onClose(code, reason)
		}

		return nil
	}

	return ErrInvalidFrame
}

// SendMessage writes one unfragmented message.
func (c *Conn) SendMessage(op Opcode, payload []byte) error {
	if c.state != StateOpen {
		return ErrClosed
	}
	if op != OpcodeText && op != OpcodeBinary {
		return ErrInvalidFrame
	}

	return c.sendFrame(op, payload, true)
}

// SendText writes a text message.
func (c *Conn) SendText(s string) error {
	return c.SendMessage(OpcodeText, []byte(s))
}

// SendBinary writes a binary message.
func (c *Conn) SendBinary(p []byte) error {
	return c.SendMessage(OpcodeBinary, p)
}

// SendPing writes a ping with the given payload.
func (c *Conn) SendPing(payload []byte) error {
	if len(payload) > maxControlPayload {
		return ErrInvalidLength
	}
	return c.sendFrame(OpcodePing, payload, true)
}

// SendPong writes an unsolicited pong.
func (c *Conn) SendPong(payload []byte) error {
	if len(payload) > maxControlPayload {
		return ErrInvalidLength
	}
	return c.sendFrame(OpcodePong, payload, true)
}

// SendClose writes a close frame with a status code and UTF-8 reason.
func (c *Conn) SendClose(code uint16, reason string) error {
	if c.closeSent {
		return nil
	}
	c.closeSent = true

	payload := make([]byte, 0, 2+len(reason))
	payload = netutils.AppendUint16Bytes(payload, code)
	payload = append(payload, reason...)
	if len(payload) > maxControlPayload {
		payload = payload[:maxControlPayload]
	}

	err := c.sendFrame(OpcodeClose, payload, true)

	if c.closeReceived {
		c.state = StateClosed
	}

	return err
}

func (c *Conn) sendFrame(op Opcode, payload []byte, fin bool) error {
	hdr := FrameHeader{
		Fin:    fin,
		Opcode: op,
	}

	var err error
	if !op.IsControl() {
		for _, ext := range c.exts {
			payload, err = ext.ProcessOutgoing(&hdr, payload)
			if err != nil {
				return err
			}
		}
	}

	if c.role == RoleClient {
		hdr.Masked = true
		hdr.MaskKey = netutils.RandomMaskKey()
	}

	frame := EncodeFrame(nil, &hdr, payload)

	_, err = c.send(frame)
	if err != nil {
		c.failConn(StatusInternalError, err)
	}
	return err
}

func (c *Conn) failConn(code uint16, err error) {
	if c.state == StateError || c.state == StateClosed {
		return
	}

	c.log.Debug("websocket failure", zap.Error(err))

	if !c.closeSent {
		c.SendClose(code, "")
	}
	c.state = StateError

	if c.onError != nil {
		cb := c.onError
		c.onError = nil
		cb(err)
	}
}
