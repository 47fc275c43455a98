package h2

import (
	"bufio"
	"bytes"
	"encoding/base64"
	"fmt"

	"github.com/valyala/fasthttp"

	"github.com/domsolutions/netloop"
	"github.com/domsolutions/netloop/netutils"
)

type hsState int8

const (
	hsIdle hsState = iota
	hsWait101
	hsWaitPreface
	hsWaitSettings
	hsDone
)

var (
	upgradeTokenH2C = []byte("h2c")

	switchingProtocols = []byte("HTTP/1.1 101 Switching Protocols\r\n" +
		"Connection: Upgrade\r\n" +
		"Upgrade: h2c\r\n\r\n")
)

// Handshake drives the connection through UPGRADING/HANDSHAKE.
//
// Server flow: wait for the 24-byte preface literal (or an h2c
// upgrade request first), then for the first frame, which must be
// SETTINGS. Client flow over cleartext: emit the upgrade request, and
// on 101 emit preface + SETTINGS + WINDOW_UPDATE, then wait for the
// peer SETTINGS. Over TLS-ALPN the preface goes out straight away.
type Handshake struct {
	conn   *Conn
	server bool
	ssl    bool

	state    hsState
	buf      []byte
	upgraded bool

	// settings carried by the client's HTTP2-Settings header
	cachedSettings Settings
	hasCached      bool
}

func newHandshake(c *Conn, server, ssl bool) *Handshake {
	return &Handshake{conn: c, server: server, ssl: ssl}
}

func (hs *Handshake) start() error {
	if hs.server {
		hs.state = hsWaitPreface
		return nil
	}

	if hs.ssl {
		hs.state = hsWaitSettings
		return hs.sendPrefaceAndSettings()
	}

	hs.state = hsWait101
	return hs.sendUpgradeRequest()
}

// sendUpgradeRequest writes the h2c GET whose HTTP2-Settings header
// carries base64url-no-pad of the local SETTINGS payload.
func (hs *Handshake) sendUpgradeRequest() error {
	payload := hs.conn.localSettings.Encode(nil)
	b64 := base64.RawURLEncoding.EncodeToString(payload)

	host := hs.conn.host
	if host == "" {
		host = "localhost"
	}

	req := fmt.Sprintf("GET / HTTP/1.1\r\n"+
		"Host: %s\r\n"+
		"Connection: Upgrade, HTTP2-Settings\r\n"+
		"Upgrade: h2c\r\n"+
		"HTTP2-Settings: %s\r\n\r\n", host, b64)

	return hs.conn.writeRaw([]byte(req))
}

// sendPrefaceAndSettings emits the client preface literal (client
// only) followed by SETTINGS and the connection WINDOW_UPDATE.
func (hs *Handshake) sendPrefaceAndSettings() error {
	if !hs.server {
		if err := hs.conn.writeRaw(ClientPreface); err != nil {
			return err
		}
	}
	return hs.sendLocalSettings()
}

func (hs *Handshake) sendLocalSettings() error {
	frh := AcquireFrameHeader()

	st := AcquireFrame(FrameSettings).(*Settings)
	hs.conn.localSettings.CopyTo(st)
	st.SetAck(false)
	frh.SetBody(st)

	err := hs.conn.sendFrame(frh)
	ReleaseFrameHeader(frh)
	if err != nil {
		return err
	}

	// grow the connection-level receive window past the RFC default
	if win := int64(hs.conn.flow.localWindowSize()) - int64(defaultWindowSize); win > 0 {
		return hs.conn.sendWindowUpdate(0, uint32(win))
	}

	return nil
}

// parseInput consumes handshake bytes. It always reports the whole
// chunk consumed; once the peer SETTINGS frame completes, trailing
// bytes are fed to the connection's frame parser.
func (hs *Handshake) parseInput(b []byte) (int, error) {
	hs.buf = append(hs.buf, b...)

	for {
		switch hs.state {
		case hsWait101:
			ok, err := hs.parse101()
			if err != nil || !ok {
				return len(b), err
			}

		case hsWaitPreface:
			ok, err := hs.parsePreface()
			if err != nil || !ok {
				return len(b), err
			}

		case hsWaitSettings:
			ok, err := hs.parseFirstSettings()
			if err != nil || !ok {
				return len(b), err
			}
			return len(b), nil

		default:
			return len(b), netloop.ErrInvalidState
		}
	}
}

func (hs *Handshake) parse101() (bool, error) {
	head, rest, found := cutHeaderBlock(hs.buf)
	if !found {
		return false, nil
	}

	var rsp fasthttp.ResponseHeader
	if err := rsp.Read(bufio.NewReader(bytes.NewReader(head))); err != nil {
		return false, netloop.ErrInvalidProto
	}

	if rsp.StatusCode() != fasthttp.StatusSwitchingProtocols ||
		!netutils.EqualsFold(rsp.Peek(fasthttp.HeaderUpgrade), upgradeTokenH2C) {
		return false, netloop.ErrInvalidProto
	}

	hs.upgraded = true
	hs.buf = append(hs.buf[:0], rest...)
	hs.state = hsWaitSettings

	return true, hs.sendPrefaceAndSettings()
}

func (hs *Handshake) parsePreface() (bool, error) {
	// disambiguate the raw preface from an h2c upgrade request
	n := len(hs.buf)
	if n > len(ClientPreface) {
		n = len(ClientPreface)
	}

	if !bytes.Equal(hs.buf[:n], ClientPreface[:n]) {
		return hs.parseUpgradeRequest()
	}

	if len(hs.buf) < len(ClientPreface) {
		return false, nil
	}

	// preface is compared byte-for-byte; a mismatch closes the
	// connection without GOAWAY (handled above by the prefix check)
	hs.buf = append(hs.buf[:0], hs.buf[len(ClientPreface):]...)
	hs.state = hsWaitSettings

	return true, hs.sendLocalSettings()
}

func (hs *Handshake) parseUpgradeRequest() (bool, error) {
	head, rest, found := cutHeaderBlock(hs.buf)
	if !found {
		// an upgrade request can't be told apart from garbage until
		// its header block completes; bound the buffer
		if len(hs.buf) > 16*1024 {
			return false, netloop.ErrInvalidProto
		}
		return false, nil
	}

	var req fasthttp.RequestHeader
	if err := req.Read(bufio.NewReader(bytes.NewReader(head))); err != nil {
		return false, netloop.ErrInvalidProto
	}

	if !netutils.EqualsFold(req.Peek(fasthttp.HeaderUpgrade), upgradeTokenH2C) {
		return false, netloop.ErrInvalidProto
	}

	if b64 := req.Peek("HTTP2-Settings"); len(b64) > 0 {
		payload, err := base64.RawURLEncoding.DecodeString(string(b64))
		if err != nil {
			return false, netloop.ErrInvalidProto
		}
		if err := hs.cachedSettings.Decode(payload); err != nil {
			return false, netloop.ErrInvalidProto
		}
		hs.hasCached = true
	}

	hs.upgraded = true
	hs.buf = append(hs.buf[:0], rest...)

	// accept: 101, then the mandatory preface follows
	if err := hs.conn.writeRaw(switchingProtocols); err != nil {
		return false, err
	}

	return true, nil
}

// parseFirstSettings decodes exactly one frame, which must be a
// non-ack SETTINGS, then hands control to the connection.
func (hs *Handshake) parseFirstSettings() (bool, error) {
	if len(hs.buf) < DefaultFrameSize {
		return false, nil
	}

	length := int(netutils.BytesToUint24(hs.buf[:3]))
	kind := FrameType(hs.buf[3])

	if kind != FrameSettings {
		return false, NewGoAwayError(ProtocolError, "first frame must be settings")
	}
	if length > defaultMaxLen {
		return false, NewGoAwayError(FrameSizeError, "oversized settings frame")
	}
	if len(hs.buf) < DefaultFrameSize+length {
		return false, nil
	}

	frh := AcquireFrameHeader()
	defer ReleaseFrameHeader(frh)
	frh.parseValues(hs.buf[:DefaultFrameSize])
	frh.payload = append(frh.payload[:0], hs.buf[DefaultFrameSize:DefaultFrameSize+length]...)

	st := AcquireFrame(FrameSettings).(*Settings)
	frh.fr = st

	if err := st.Deserialize(frh); err != nil {
		return false, err
	}
	if frh.Stream() != 0 {
		return false, NewGoAwayError(ProtocolError, "settings carries a stream id")
	}
	if st.IsAck() {
		return false, NewGoAwayError(ProtocolError, "first settings frame is an ack")
	}

	rest := append([]byte(nil), hs.buf[DefaultFrameSize+length:]...)
	hs.buf = nil
	hs.state = hsDone

	if err := hs.conn.handshakeComplete(st, hs.upgraded); err != nil {
		return false, err
	}

	if len(rest) > 0 {
		if err := hs.conn.Input(rest); err != nil {
			return false, err
		}
	}

	return true, nil
}

// cutHeaderBlock splits buf at the first blank line, including it in
// head.
func cutHeaderBlock(buf []byte) (head, rest []byte, found bool) {
	idx := bytes.Index(buf, []byte("\r\n\r\n"))
	if idx < 0 {
		return nil, nil, false
	}
	return buf[:idx+4], buf[idx+4:], true
}
