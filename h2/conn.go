package h2

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/domsolutions/netloop"
	"github.com/domsolutions/netloop/evloop"
)

// Transport is the socket collaborator the connection writes to.
// Send may accept only part of p, returning netloop.ErrAgain when the
// kernel buffer is full; the owner feeds inbound bytes to Conn.Input
// and signals drain via Conn.OnWritable.
type Transport interface {
	Send(p []byte) (int, error)
	Close() error
}

// ConnState is the connection lifecycle.
type ConnState int8

const (
	ConnStateIdle ConnState = iota
	ConnStateConnecting
	ConnStateUpgrading
	ConnStateHandshake
	ConnStateOpen
	ConnStateError
	ConnStateClosed
)

// Client connection preface (https://tools.ietf.org/html/rfc7540#section-3.5)
var ClientPreface = []byte("PRI * HTTP/2.0\r\n\r\nSM\r\n\r\n")

// ConnOpts defines the connection options.
type ConnOpts struct {
	// Loop is the event loop owning this connection. Streams, timers
	// and all callbacks live on it.
	Loop *evloop.Loop

	Logger *zap.Logger

	// Server flips the connection to the accepting role.
	Server bool

	// Host is the authority used for the h2c upgrade request.
	Host string

	// Settings sent to the peer. Zero value means RFC defaults plus
	// ENABLE_PUSH=0 for clients.
	Settings Settings

	// MaxConnWindow is the connection-level receive window target.
	// Defaults to 1 << 20.
	MaxConnWindow uint32

	// OnAccept fires on the loop when the peer opens a stream, before
	// its headers are dispatched, so the owner can install callbacks.
	OnAccept func(s *Stream)

	// OnError fires once when the connection dies.
	OnError func(err error)

	// OnHandshake fires once the handshake finishes and the
	// connection is Open.
	OnHandshake func()

	// OnPing fires for every PING, acked or not.
	OnPing func(data []byte, ack bool)

	// OnGoAway fires when the peer sends GOAWAY.
	OnGoAway func(lastStream uint32, code ErrorCode, debug []byte)
}

func (o *ConnOpts) defaults() {
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.MaxConnWindow == 0 {
		o.MaxConnWindow = 1 << 20
	}
}

// Conn multiplexes streams over one transport. It belongs to exactly
// one loop; application code on other loops attaches through a
// StreamProxy.
type Conn struct {
	loop *evloop.Loop
	tr   Transport
	log  *zap.Logger

	server bool
	host   string
	state  ConnState

	hs *Handshake

	parser *FrameParser
	enc    *HPACK
	dec    *HPACK
	flow   flowControl

	streams  map[uint32]*Stream
	promised map[uint32]*Stream

	blocked    []uint32
	blockedSet map[uint32]struct{}

	nextStreamID   uint32
	lastAcceptedID uint32
	lastPromisedID uint32
	openedStreams  uint32

	localSettings  Settings
	remoteSettings Settings

	initRemoteWindow uint32
	remoteMaxFrame   uint32

	settingsReceived bool

	// CONTINUATION bookkeeping: while expectContinuation is set no
	// other frame may arrive on the connection.
	expectContinuation bool
	contStreamID       uint32
	contFragment       []byte
	contEndStream      bool
	contPromised       uint32

	outbuf []byte

	pushClients map[string]*PushClient

	pingTimer    *evloop.Timer
	unackedPings int

	onAccept    func(s *Stream)
	onError     func(err error)
	onHandshake func()
	onPing      func(data []byte, ack bool)
	onGoAway    func(lastStream uint32, code ErrorCode, debug []byte)

	poolKey  poolKey
	goneAway bool
}

// NewConn wraps tr. The connection stays in Idle until StartHandshake
// (client) or StartServer.
func NewConn(tr Transport, opts ConnOpts) *Conn {
	opts.defaults()

	c := &Conn{
		loop:        opts.Loop,
		tr:          tr,
		log:         opts.Logger,
		server:      opts.Server,
		host:        opts.Host,
		enc:         NewHPACK(),
		dec:         NewHPACK(),
		streams:     make(map[uint32]*Stream),
		promised:    make(map[uint32]*Stream),
		blockedSet:  make(map[uint32]struct{}),
		pushClients: make(map[string]*PushClient),
		onAccept:    opts.OnAccept,
		onError:     opts.OnError,
		onHandshake: opts.OnHandshake,
		onPing:      opts.OnPing,
		onGoAway:    opts.OnGoAway,
	}

	opts.Settings.CopyTo(&c.localSettings)
	if _, ok := c.localSettings.Get(SettingEnablePush); !ok && !opts.Server {
		c.localSettings.SetEnablePush(false)
	}

	c.nextStreamID = 1
	if opts.Server {
		c.nextStreamID = 2
	}

	c.initRemoteWindow = defaultWindowSize
	c.remoteMaxFrame = defaultMaxFrameSize

	c.flow.init(opts.MaxConnWindow, defaultWindowSize, c.log)
	c.flow.onUpdate = func(inc uint32) {
		if err := c.sendWindowUpdate(0, inc); err != nil {
			c.log.Debug("connection window update failed", zap.Error(err))
		}
	}

	c.parser = NewFrameParser(c.localSettings.MaxFrameSize())

	return c
}

// Loop returns the owning event loop.
func (c *Conn) Loop() *evloop.Loop { return c.loop }

func (c *Conn) State() ConnState { return c.state }

// GoneAway reports whether the peer sent GOAWAY.
func (c *Conn) GoneAway() bool { return c.goneAway }

// RemoteSettings returns the peer's settings, valid once Open.
func (c *Conn) RemoteSettings() *Settings { return &c.remoteSettings }

// ConnectProtocolEnabled reports whether the peer advertised RFC 8441
// extended CONNECT support.
func (c *Conn) ConnectProtocolEnabled() bool {
	return c.settingsReceived && c.remoteSettings.EnableConnectProtocol()
}

func (c *Conn) remoteMaxFrameSize() uint32 { return c.remoteMaxFrame }

// StartHandshake begins the client handshake: the TLS-ALPN path when
// ssl is set (preface straight away), the h2c upgrade otherwise.
func (c *Conn) StartHandshake(ssl bool) error {
	if c.server {
		return netloop.ErrInvalidState
	}
	if c.state != ConnStateIdle && c.state != ConnStateConnecting {
		return netloop.ErrInvalidState
	}

	c.hs = newHandshake(c, false, ssl)

	if ssl {
		c.state = ConnStateHandshake
	} else {
		c.state = ConnStateUpgrading
	}

	return c.hs.start()
}

// StartServer begins the server handshake: it accepts either the raw
// preface (TLS/prior knowledge) or an h2c upgrade request.
func (c *Conn) StartServer() error {
	if !c.server || c.state != ConnStateIdle {
		return netloop.ErrInvalidState
	}

	c.hs = newHandshake(c, true, false)
	c.state = ConnStateHandshake

	return c.hs.start()
}

// Input feeds inbound transport bytes through the handshake and then
// the frame parser. Must run on the connection loop.
func (c *Conn) Input(b []byte) error {
	for len(b) > 0 {
		switch c.state {
		case ConnStateUpgrading, ConnStateHandshake:
			n, err := c.hs.parseInput(b)
			if err != nil {
				c.fatal(err)
				return err
			}
			b = b[n:]

		case ConnStateOpen:
			_, err := c.parser.Feed(b, c.dispatch)
			if err != nil {
				c.handleDispatchError(err)
				return err
			}
			return nil

		default:
			return netloop.ErrInvalidState
		}
	}

	return nil
}

// handleDispatchError recovers stream-scoped errors with RST_STREAM
// and tears the connection down on everything else.
func (c *Conn) handleDispatchError(err error) {
	var h2err Error
	if asH2Error(err, &h2err) && h2err.IsStreamError() {
		// recovered locally: reset the offending stream, keep the
		// connection and the other streams alive
		if id := h2err.StreamID(); id != 0 {
			if strm := c.findStream(id); strm != nil {
				strm.handleReset(h2err.Code())
			}
			c.sendRstStream(id, h2err.Code())
		}
		return
	}

	code := InternalError
	if asH2Error(err, &h2err) {
		code = h2err.Code()
	}

	c.sendGoAway(code, err.Error())
	c.fatal(err)
}

func asH2Error(err error, out *Error) bool {
	e, ok := err.(Error)
	if ok {
		*out = e
	}
	return ok
}

// dispatch routes one decoded frame.
func (c *Conn) dispatch(frh *FrameHeader) error {
	if err := c.checkFramePreconditions(frh); err != nil {
		return err
	}

	switch frh.Type() {
	case FrameData:
		return c.handleData(frh)
	case FrameHeaders:
		return c.handleHeaders(frh)
	case FramePriority:
		return nil // priority scheduling is not implemented
	case FrameResetStream:
		return c.handleRstStream(frh)
	case FrameSettings:
		return c.handleSettings(frh)
	case FramePushPromise:
		return c.handlePushPromise(frh)
	case FramePing:
		return c.handlePing(frh)
	case FrameGoAway:
		return c.handleGoAway(frh)
	case FrameWindowUpdate:
		return c.handleWindowUpdate(frh)
	case FrameContinuation:
		return c.handleContinuation(frh)
	}

	return nil
}

func (c *Conn) checkFramePreconditions(frh *FrameHeader) error {
	if c.expectContinuation && frh.Type() != FrameContinuation {
		return NewGoAwayError(ProtocolError, "expected continuation frame")
	}

	switch frh.Type() {
	case FrameData, FrameHeaders, FramePriority, FrameResetStream,
		FramePushPromise, FrameContinuation:
		if frh.Stream() == 0 {
			return NewGoAwayError(ProtocolError,
				fmt.Sprintf("%s carries stream id 0", frh.Type()))
		}
	case FrameSettings, FramePing, FrameGoAway:
		if frh.Stream() != 0 {
			return NewGoAwayError(ProtocolError,
				fmt.Sprintf("%s carries a stream id", frh.Type()))
		}
	}

	if !c.settingsReceived && frh.Type() != FrameSettings {
		return NewGoAwayError(ProtocolError, "first frame must be settings")
	}

	return nil
}

func (c *Conn) handleData(frh *FrameHeader) error {
	// the payload counts against connection flow control no matter
	// what happens to the stream
	c.flow.bytesReceived(frh.Len())

	data := frh.Body().(*Data)

	strm := c.findStream(frh.Stream())
	if strm == nil {
		if frh.Stream() > c.lastInboundID() {
			return NewGoAwayError(ProtocolError, "data on idle stream")
		}
		// stream already closed; credit was consumed above
		return c.sendRstStream(frh.Stream(), StreamClosedError)
	}

	strm.flow.bytesReceived(frh.Len())
	strm.handleData(data.Data(), data.EndStream())

	return nil
}

func (c *Conn) handleHeaders(frh *FrameHeader) error {
	h := frh.Body().(*Headers)
	id := frh.Stream()

	strm := c.findStream(id)
	if strm == nil {
		if !c.server {
			return NewGoAwayError(ProtocolError, "headers on unknown stream")
		}

		// new inbound stream
		if id&1 == 0 {
			return NewGoAwayError(ProtocolError, "client opened an even stream id")
		}
		if id <= c.lastAcceptedID {
			return NewGoAwayError(ProtocolError, "stream id regression")
		}
		if c.openedStreams+1 > c.localSettings.MaxConcurrentStreams() {
			return c.sendRstStream(id, RefusedStreamError)
		}

		strm = c.createStream(id)
		c.lastAcceptedID = id

		if c.onAccept != nil {
			c.onAccept(strm)
		}
	}

	if !h.EndHeaders() {
		c.expectContinuation = true
		c.contStreamID = id
		c.contFragment = append(c.contFragment[:0], h.Headers()...)
		c.contEndStream = h.EndStream()
		c.contPromised = 0
		return nil
	}

	return c.dispatchHeaderBlock(strm, h.Headers(), h.EndStream())
}

func (c *Conn) handleContinuation(frh *FrameHeader) error {
	if !c.expectContinuation || frh.Stream() != c.contStreamID {
		return NewGoAwayError(ProtocolError, "unexpected continuation frame")
	}

	cont := frh.Body().(*Continuation)
	c.contFragment = append(c.contFragment, cont.Headers()...)

	if !cont.EndHeaders() {
		return nil
	}

	c.expectContinuation = false

	if c.contPromised != 0 {
		return c.finishPushPromise(c.contStreamID, c.contPromised, c.contFragment)
	}

	strm := c.findStream(c.contStreamID)
	if strm == nil {
		return NewGoAwayError(ProtocolError, "continuation on unknown stream")
	}

	return c.dispatchHeaderBlock(strm, c.contFragment, c.contEndStream)
}

func (c *Conn) dispatchHeaderBlock(strm *Stream, block []byte, endStream bool) error {
	fields, err := c.dec.Decode(block, nil)
	if err != nil {
		return err
	}

	strm.handleHeaders(fields, endStream)

	return nil
}

func (c *Conn) handleRstStream(frh *FrameHeader) error {
	rst := frh.Body().(*RstStream)

	strm := c.findStream(frh.Stream())
	if strm == nil {
		if frh.Stream() > c.lastInboundID() && frh.Stream() > c.highestLocalID() {
			return NewGoAwayError(ProtocolError, "rst_stream on idle stream")
		}
		return nil
	}

	strm.handleReset(rst.Code())

	return nil
}

func (c *Conn) handleSettings(frh *FrameHeader) error {
	st := frh.Body().(*Settings)

	if st.IsAck() {
		return nil
	}

	if err := c.applyRemoteSettings(st); err != nil {
		return err
	}

	// reply with an empty ack
	ack := AcquireFrameHeader()
	defer ReleaseFrameHeader(ack)

	res := AcquireFrame(FrameSettings).(*Settings)
	res.SetAck(true)
	ack.SetBody(res)

	return c.sendFrame(ack)
}

// applyRemoteSettings validates and applies each (id, value) pair.
func (c *Conn) applyRemoteSettings(st *Settings) error {
	for _, p := range st.Pairs() {
		switch p.ID {
		case SettingHeaderTableSize:
			c.enc.SetMaxEncoderTableSize(p.Value)

		case SettingEnablePush:
			if p.Value > 1 {
				return NewGoAwayError(ProtocolError, "enable_push must be 0 or 1")
			}

		case SettingInitialWindowSize:
			if p.Value > maxWindowSize {
				return NewGoAwayError(FlowControlError, "initial window size exceeds 2^31-1")
			}
			delta := int64(p.Value) - int64(c.initRemoteWindow)
			if err := c.applyWindowDelta(delta); err != nil {
				return err
			}
			c.initRemoteWindow = p.Value

		case SettingMaxFrameSize:
			if p.Value < defaultMaxFrameSize || p.Value > maxFrameSize {
				return NewGoAwayError(ProtocolError, "max frame size out of bounds")
			}
			c.remoteMaxFrame = p.Value
		}
	}

	st.CopyTo(&c.remoteSettings)
	c.settingsReceived = true

	return nil
}

// applyWindowDelta adjusts every live stream's remote window after an
// INITIAL_WINDOW_SIZE change, promised streams included.
func (c *Conn) applyWindowDelta(delta int64) error {
	if delta == 0 {
		return nil
	}

	for _, strm := range c.streams {
		if err := strm.flow.updateRemoteWindow(delta); err != nil {
			return err
		}
	}
	for _, strm := range c.promised {
		if err := strm.flow.updateRemoteWindow(delta); err != nil {
			return err
		}
	}

	return nil
}

func (c *Conn) handlePushPromise(frh *FrameHeader) error {
	if c.server {
		return NewGoAwayError(ProtocolError, "clients can't send push_promise frames")
	}
	if !c.localSettings.EnablePush() {
		return NewGoAwayError(ProtocolError, "push is disabled")
	}

	pp := frh.Body().(*PushPromise)

	promised := pp.Promised()
	if promised == 0 || promised&1 != 0 {
		return NewGoAwayError(ProtocolError, "promised stream id must be even")
	}
	if promised <= c.lastPromisedID {
		return NewGoAwayError(ProtocolError, "promised stream id regression")
	}

	parent := c.findStream(frh.Stream())
	if parent == nil {
		return NewGoAwayError(ProtocolError, "push_promise on unknown stream")
	}
	switch parent.State() {
	case StreamStateOpen, StreamStateHalfClosedLocal:
	default:
		return NewGoAwayError(ProtocolError, "push_promise on inactive stream")
	}

	if !pp.EndHeaders() {
		c.expectContinuation = true
		c.contStreamID = frh.Stream()
		c.contFragment = append(c.contFragment[:0], pp.Headers()...)
		c.contPromised = promised
		return nil
	}

	return c.finishPushPromise(frh.Stream(), promised, pp.Headers())
}

func (c *Conn) finishPushPromise(parentID, promisedID uint32, block []byte) error {
	fields, err := c.dec.Decode(block, nil)
	if err != nil {
		return err
	}

	c.lastPromisedID = promisedID

	strm := &Stream{
		id:    promisedID,
		conn:  c,
		state: StreamStateReservedRemote,
	}
	strm.flow.init(c.localSettings.InitialWindowSize(), c.initRemoteWindow, c.log)
	strm.flow.onUpdate = func(inc uint32) {
		c.sendWindowUpdate(promisedID, inc)
	}
	c.promised[promisedID] = strm

	pc := newPushClient(c, strm, fields)
	if pc != nil {
		c.pushClients[pc.cacheKey] = pc
	}

	return nil
}

func (c *Conn) handlePing(frh *FrameHeader) error {
	ping := frh.Body().(*Ping)

	if c.onPing != nil {
		c.onPing(ping.Data(), ping.IsAck())
	}

	if ping.IsAck() {
		if c.unackedPings > 0 {
			c.unackedPings--
		}
		return nil
	}

	// echo back with the ack flag
	res := AcquireFrameHeader()
	defer ReleaseFrameHeader(res)

	echo := AcquireFrame(FramePing).(*Ping)
	echo.SetData(ping.Data())
	echo.SetAck(true)
	res.SetBody(echo)

	return c.sendFrame(res)
}

func (c *Conn) handleGoAway(frh *FrameHeader) error {
	ga := frh.Body().(*GoAway)

	c.goneAway = true

	// active streams above the cutoff die with the peer's code
	for id, strm := range c.streams {
		if id > ga.LastStream() {
			strm.handleReset(ga.Code())
		}
	}
	for id, strm := range c.promised {
		if id > ga.LastStream() {
			strm.handleReset(ga.Code())
			delete(c.promised, id)
		}
	}

	c.pushClients = make(map[string]*PushClient)
	sharedPool.remove(c)

	if c.onGoAway != nil {
		c.onGoAway(ga.LastStream(), ga.Code(), ga.Data())
	}

	return nil
}

func (c *Conn) handleWindowUpdate(frh *FrameHeader) error {
	wu := frh.Body().(*WindowUpdate)
	inc := wu.Increment()

	if frh.Stream() == 0 {
		if inc == 0 {
			return NewGoAwayError(ProtocolError, "window_update increment 0")
		}

		wasZero := c.flow.remoteWindowSize() <= 0
		if err := c.flow.updateRemoteWindow(int64(inc)); err != nil {
			return err
		}

		// only a zero→positive transition can unblock anything
		if wasZero && c.flow.remoteWindowSize() > 0 {
			c.notifyBlockedStreams()
		}
		return nil
	}

	strm := c.findStream(frh.Stream())
	if strm == nil {
		return nil
	}

	if inc == 0 {
		strm.handleReset(ProtocolError)
		return c.sendRstStream(frh.Stream(), ProtocolError)
	}

	if err := strm.flow.updateRemoteWindow(int64(inc)); err != nil {
		strm.handleReset(FlowControlError)
		return c.sendRstStream(frh.Stream(), FlowControlError)
	}

	if strm.writeBlocked {
		c.unblockStream(strm.id)
		strm.handleWriteReady()
	}

	return nil
}

// CreateStream opens a new locally-initiated stream.
func (c *Conn) CreateStream() (*Stream, error) {
	if c.state != ConnStateOpen {
		return nil, netloop.ErrInvalidState
	}
	if c.goneAway {
		return nil, netloop.ErrRejected
	}
	if c.settingsReceived && c.openedStreams+1 > c.remoteSettings.MaxConcurrentStreams() {
		return nil, netloop.ErrRejected
	}

	id := c.nextStreamID
	c.nextStreamID += 2

	return c.createStream(id), nil
}

func (c *Conn) createStream(id uint32) *Stream {
	strm := &Stream{
		id:    id,
		conn:  c,
		state: StreamStateIdle,
	}
	strm.flow.init(c.localSettings.InitialWindowSize(), c.initRemoteWindow, c.log)
	strm.flow.onUpdate = func(inc uint32) {
		c.sendWindowUpdate(id, inc)
	}

	c.streams[id] = strm
	c.openedStreams++

	return strm
}

// Stream returns the live stream with the given id, nil otherwise.
func (c *Conn) Stream(id uint32) *Stream {
	return c.findStream(id)
}

func (c *Conn) findStream(id uint32) *Stream {
	if strm, ok := c.streams[id]; ok {
		return strm
	}
	return c.promised[id]
}

func (c *Conn) removeStream(id uint32) {
	if _, ok := c.streams[id]; ok {
		delete(c.streams, id)
		if c.openedStreams > 0 {
			c.openedStreams--
		}
	}
	delete(c.promised, id)
	c.unblockStream(id)
}

func (c *Conn) lastInboundID() uint32 {
	if c.server {
		return c.lastAcceptedID
	}
	return c.lastPromisedID
}

func (c *Conn) highestLocalID() uint32 {
	if c.nextStreamID < 2 {
		return 0
	}
	return c.nextStreamID - 2
}

// takePushClient hands over a pending push matching key, if any.
func (c *Conn) takePushClient(key string) *PushClient {
	pc := c.pushClients[key]
	if pc != nil {
		delete(c.pushClients, key)
	}
	return pc
}

// ---- send path ----

func isControlFrame(kind FrameType) bool {
	switch kind {
	case FrameSettings, FramePing, FrameGoAway, FrameResetStream,
		FrameWindowUpdate, FramePriority:
		return true
	}
	return false
}

func isEndStreamMarker(fr Frame) bool {
	switch b := fr.(type) {
	case *Data:
		return b.EndStream()
	case *Headers:
		return b.EndStream()
	}
	return false
}

// sendFrame encodes frh into the outgoing buffer and flushes it.
//
// Streams attempting to push data while the buffer still holds bytes
// are recorded as blocked and get ErrAgain; DATA that exceeds the
// connection window gets ErrBufferTooSmall without being encoded.
func (c *Conn) sendFrame(frh *FrameHeader) error {
	fr := frh.Body()

	if len(c.outbuf) > 0 && !isControlFrame(frh.Type()) && !isEndStreamMarker(fr) {
		c.blockStream(frh.Stream())
		return netloop.ErrAgain
	}

	if data, ok := fr.(*Data); ok {
		if int64(data.Len()) > c.flow.remoteWindowSize() {
			c.blockStream(frh.Stream())
			return netloop.ErrBufferTooSmall
		}
	}

	var err error
	c.outbuf, err = frh.AppendTo(c.outbuf)
	if err != nil {
		return err
	}

	return c.flush()
}

// writeRaw appends b (handshake text, preface) and flushes.
func (c *Conn) writeRaw(b []byte) error {
	c.outbuf = append(c.outbuf, b...)
	return c.flush()
}

func (c *Conn) flush() error {
	if len(c.outbuf) == 0 {
		return nil
	}

	n, err := c.tr.Send(c.outbuf)
	if n > 0 {
		c.outbuf = append(c.outbuf[:0], c.outbuf[n:]...)
	}

	if err != nil {
		if netloop.Is(err, netloop.KindAgain) {
			return nil // remainder stays buffered until OnWritable
		}
		c.fatal(err)
		return err
	}

	return nil
}

// OnWritable is invoked by the socket owner when the transport
// reports write-ready. Once the buffer drains, blocked streams are
// notified in insertion order.
func (c *Conn) OnWritable() {
	if err := c.flush(); err != nil {
		return
	}

	if len(c.outbuf) == 0 {
		c.notifyBlockedStreams()
	}
}

func (c *Conn) blockStream(id uint32) {
	if id == 0 {
		return
	}
	if _, ok := c.blockedSet[id]; ok {
		return
	}
	c.blockedSet[id] = struct{}{}
	c.blocked = append(c.blocked, id)
}

func (c *Conn) unblockStream(id uint32) {
	if _, ok := c.blockedSet[id]; !ok {
		return
	}
	delete(c.blockedSet, id)
	for i, b := range c.blocked {
		if b == id {
			c.blocked = append(c.blocked[:i], c.blocked[i+1:]...)
			break
		}
	}
}

// notifyBlockedStreams walks the blocked set in insertion order,
// stopping as soon as the send buffer refills or the connection
// window is exhausted again; unprocessed ids stay blocked.
func (c *Conn) notifyBlockedStreams() {
	for len(c.blocked) > 0 {
		if len(c.outbuf) > 0 || c.flow.remoteWindowSize() <= 0 {
			return
		}

		id := c.blocked[0]
		c.blocked = c.blocked[1:]
		delete(c.blockedSet, id)

		strm := c.findStream(id)
		if strm == nil {
			continue
		}
		strm.handleWriteReady()
	}
}

func (c *Conn) sendWindowUpdate(streamID uint32, inc uint32) error {
	frh := AcquireFrameHeader()
	defer ReleaseFrameHeader(frh)
	frh.SetStream(streamID)

	wu := AcquireFrame(FrameWindowUpdate).(*WindowUpdate)
	wu.SetIncrement(inc)
	frh.SetBody(wu)

	return c.sendFrame(frh)
}

func (c *Conn) sendRstStream(streamID uint32, code ErrorCode) error {
	frh := AcquireFrameHeader()
	defer ReleaseFrameHeader(frh)
	frh.SetStream(streamID)

	rst := AcquireFrame(FrameResetStream).(*RstStream)
	rst.SetCode(code)
	frh.SetBody(rst)

	return c.sendFrame(frh)
}

func (c *Conn) sendGoAway(code ErrorCode, debug string) {
	frh := AcquireFrameHeader()
	defer ReleaseFrameHeader(frh)

	ga := AcquireFrame(FrameGoAway).(*GoAway)
	ga.SetLastStream(c.lastInboundID())
	ga.SetCode(code)
	ga.SetData([]byte(debug))
	frh.SetBody(ga)

	if err := c.sendFrame(frh); err != nil {
		c.log.Debug("goaway write failed", zap.Error(err))
	}
}

// SendPing emits a PING with the given 8 opaque bytes.
func (c *Conn) SendPing(data [8]byte) error {
	frh := AcquireFrameHeader()
	defer ReleaseFrameHeader(frh)

	ping := AcquireFrame(FramePing).(*Ping)
	ping.SetData(data[:])
	frh.SetBody(ping)

	if err := c.sendFrame(frh); err != nil {
		return err
	}

	c.unackedPings++
	return nil
}

// EnablePing schedules a repeating liveness ping on the loop's timer
// wheel. Three unacked pings kill the connection.
func (c *Conn) EnablePing(intervalMS uint32) {
	if c.pingTimer != nil {
		return
	}

	c.pingTimer = evloop.NewTimer(func() {
		c.loop.Post(func() {
			if c.unackedPings >= 3 {
				c.fatal(netloop.ErrTimeout)
				return
			}
			if err := c.SendPing([8]byte{}); err != nil {
				c.log.Debug("ping write failed", zap.Error(err))
			}
		})
	})
	c.loop.Timers().Schedule(c.pingTimer, intervalMS, true)
}

// Close sends a graceful GOAWAY(NO_ERROR) and tears the connection
// down.
func (c *Conn) Close() error {
	if c.state == ConnStateClosed {
		return nil
	}

	c.sendGoAway(NoError, "")
	c.teardown(NoError, nil)
	c.state = ConnStateClosed

	return nil
}

// fatal tears the connection down after an unrecoverable error.
func (c *Conn) fatal(err error) {
	if c.state == ConnStateError || c.state == ConnStateClosed {
		return
	}
	c.state = ConnStateError

	code := InternalError
	var h2err Error
	if asH2Error(err, &h2err) {
		code = h2err.Code()
	}

	c.teardown(code, err)
}

func (c *Conn) teardown(code ErrorCode, cause error) {
	if c.pingTimer != nil {
		c.loop.Timers().Unschedule(c.pingTimer)
		c.pingTimer = nil
	}

	for _, strm := range c.streams {
		strm.state = StreamStateClosed
		if strm.onReset != nil {
			strm.onReset(code)
		}
	}
	c.streams = make(map[uint32]*Stream)
	for _, strm := range c.promised {
		strm.state = StreamStateClosed
	}
	c.promised = make(map[uint32]*Stream)
	c.pushClients = make(map[string]*PushClient)
	c.blocked = nil
	c.blockedSet = make(map[uint32]struct{})

	sharedPool.remove(c)

	_ = c.tr.Close()

	if cause != nil && c.onError != nil {
		cb := c.onError
		c.onError = nil
		cb(cause)
	}
}

// handshakeComplete is invoked by the handshake once the peer's first
// SETTINGS frame is in.
func (c *Conn) handshakeComplete(st *Settings, upgradedStream bool) error {
	if err := c.applyRemoteSettings(st); err != nil {
		return err
	}

	c.state = ConnStateOpen
	c.parser.SetMaxLen(c.localSettings.MaxFrameSize())

	if upgradedStream {
		// stream 1 carries the request that rode the h2c upgrade
		strm := c.createStream(1)
		if c.server {
			strm.state = StreamStateHalfClosedRemote
			c.lastAcceptedID = 1
			if c.onAccept != nil {
				c.onAccept(strm)
			}
		} else {
			strm.state = StreamStateHalfClosedLocal
			c.nextStreamID = 3
		}
	}

	// ack the peer's settings
	ack := AcquireFrameHeader()
	defer ReleaseFrameHeader(ack)

	res := AcquireFrame(FrameSettings).(*Settings)
	res.SetAck(true)
	ack.SetBody(res)

	if err := c.sendFrame(ack); err != nil {
		return err
	}

	if c.onHandshake != nil {
		c.onHandshake()
	}

	return nil
}
