package h2

import (
	"strconv"
	"sync"

	"github.com/domsolutions/netloop"
	"github.com/domsolutions/netloop/evloop"
)

// proxyEvent is one inbound event crossing from the connection loop
// to the application loop.
type proxyEvent struct {
	kind      proxyEventKind
	fields    []HeaderField
	data      []byte
	endStream bool
	code      ErrorCode
}

type proxyEventKind int8

const (
	proxyEvHeaders proxyEventKind = iota
	proxyEvData
	proxyEvReset
	proxyEvWrite
)

type sendChunk struct {
	b         []byte
	off       int
	endStream bool
}

// StreamProxy bridges an application loop to the connection loop so
// any goroutine-bound loop can drive a stream owned by another. When
// both sides share a loop and the queues are empty events take the
// inline fast path; otherwise buffers are cloned onto FIFO queues and
// handed across with posted tasks.
type StreamProxy struct {
	appLoop *evloop.Loop
	conn    *Conn
	strm    *Stream

	sameLoop bool

	method string
	path   string
	status int

	mu           sync.Mutex
	sendq        []sendChunk
	recvq        []proxyEvent
	writeBlocked bool
	closed       bool

	// cancel tokens invalidate in-flight posts on both loops
	appToken  *evloop.Token
	connToken *evloop.Token

	onHeaders func(fields []HeaderField, endStream bool)
	onData    func(p []byte, endStream bool)
	onReset   func(code ErrorCode)
	onWrite   func()
	onError   func(err error)
}

// NewStreamProxy binds an application loop to conn's loop.
func NewStreamProxy(appLoop *evloop.Loop, conn *Conn) *StreamProxy {
	return &StreamProxy{
		appLoop:   appLoop,
		conn:      conn,
		sameLoop:  appLoop == conn.loop,
		appToken:  evloop.NewToken(),
		connToken: evloop.NewToken(),
	}
}

func (sp *StreamProxy) OnHeaders(cb func(fields []HeaderField, endStream bool)) { sp.onHeaders = cb }
func (sp *StreamProxy) OnData(cb func(p []byte, endStream bool))                { sp.onData = cb }
func (sp *StreamProxy) OnReset(cb func(code ErrorCode))                         { sp.onReset = cb }
func (sp *StreamProxy) OnWrite(cb func())                                       { sp.onWrite = cb }
func (sp *StreamProxy) OnError(cb func(err error))                              { sp.onError = cb }

// Method returns the request method the proxy was opened with.
func (sp *StreamProxy) Method() string { return sp.method }

// Path returns the request path the proxy was opened with.
func (sp *StreamProxy) Path() string { return sp.path }

// Status returns the response status sent with SendResponse.
func (sp *StreamProxy) Status() int { return sp.status }

// StreamID returns the bound stream id, 0 before binding.
func (sp *StreamProxy) StreamID() uint32 {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	if sp.strm == nil {
		return 0
	}
	return sp.strm.id
}

// SendRequest opens a stream carrying method/path plus extra fields
// and sends the request headers. For a GET, a pending server push
// whose cache key matches authority+path is adopted instead of
// opening a new stream, its buffered events replayed; other methods
// always open a new stream.
func (sp *StreamProxy) SendRequest(method, scheme, authority, path string, extra []HeaderField, endStream bool) error {
	sp.method = method
	sp.path = path

	var err error
	sp.conn.loop.Sync(func() {
		if method == "GET" {
			if pc := sp.conn.takePushClient(PushCacheKey(authority, path)); pc != nil {
				sp.bindStream(pc.strm)
				pc.adopt(sp.pushSink)
				return
			}
		}

		var strm *Stream
		strm, err = sp.conn.CreateStream()
		if err != nil {
			return
		}
		sp.bindStream(strm)

		fields := []HeaderField{
			MakeHeaderField(":method", method),
			MakeHeaderField(":scheme", scheme),
			MakeHeaderField(":authority", authority),
			MakeHeaderField(":path", path),
		}
		fields = append(fields, extra...)

		err = strm.SendHeaders(fields, endStream)
	})

	return err
}

// SendExtendedConnect opens an RFC 8441 extended CONNECT stream
// (:method=CONNECT plus :protocol). It fails unless the peer sent
// SETTINGS_ENABLE_CONNECT_PROTOCOL=1.
func (sp *StreamProxy) SendExtendedConnect(protocol, scheme, authority, path string, extra []HeaderField) error {
	sp.method = "CONNECT"
	sp.path = path

	var err error
	sp.conn.loop.Sync(func() {
		if !sp.conn.ConnectProtocolEnabled() {
			err = netloop.ErrNotSupported
			return
		}

		var strm *Stream
		strm, err = sp.conn.CreateStream()
		if err != nil {
			return
		}
		sp.bindStream(strm)

		fields := []HeaderField{
			MakeHeaderField(":method", "CONNECT"),
			MakeHeaderField(":protocol", protocol),
			MakeHeaderField(":scheme", scheme),
			MakeHeaderField(":authority", authority),
			MakeHeaderField(":path", path),
		}
		fields = append(fields, extra...)

		err = strm.SendHeaders(fields, false)
	})

	return err
}

// AttachStream binds the proxy to an already-accepted inbound stream
// (server side). Must run on the connection loop.
func (sp *StreamProxy) AttachStream(strm *Stream) {
	sp.bindStream(strm)
}

// SendResponse emits response headers with :status (server side).
func (sp *StreamProxy) SendResponse(status int, extra []HeaderField, endStream bool) error {
	sp.status = status

	var err error
	sp.conn.loop.Sync(func() {
		if sp.strm == nil {
			err = netloop.ErrInvalidState
			return
		}

		fields := []HeaderField{
			MakeHeaderField(":status", strconv.Itoa(status)),
		}
		fields = append(fields, extra...)

		err = sp.strm.SendHeaders(fields, endStream)
	})

	return err
}

// SendData forwards p to the stream preserving per-stream byte order.
// On the connection loop with nothing queued it sends inline and
// returns the synchronous (possibly partial) count; otherwise the
// buffer is cloned, queued, and the full length is reported.
func (sp *StreamProxy) SendData(p []byte, endStream bool) (int, error) {
	sp.mu.Lock()

	if sp.closed || sp.strm == nil {
		sp.mu.Unlock()
		return -1, netloop.ErrInvalidState
	}

	if sp.sameLoop && len(sp.sendq) == 0 && !sp.writeBlocked && sp.conn.loop.InLoopThread() {
		sp.mu.Unlock()
		return sp.strm.SendData(p, endStream)
	}

	chunk := sendChunk{b: append([]byte(nil), p...), endStream: endStream}
	sp.sendq = append(sp.sendq, chunk)
	first := len(sp.sendq) == 1
	sp.mu.Unlock()

	if first {
		sp.conn.loop.PostToken(sp.drainSendQueue, sp.connToken)
	}

	return len(p), nil
}

// drainSendQueue runs on the connection loop: pop from the queue
// front until it is empty, the stream blocks, or an error surfaces.
func (sp *StreamProxy) drainSendQueue() {
	for {
		sp.mu.Lock()
		if sp.closed || len(sp.sendq) == 0 {
			sp.mu.Unlock()
			return
		}
		b := sp.sendq[0].b[sp.sendq[0].off:]
		end := sp.sendq[0].endStream
		sp.mu.Unlock()

		n, err := sp.strm.SendData(b, end)
		if err != nil {
			sp.propagateError(err)
			return
		}

		sp.mu.Lock()
		if n == 0 {
			// blocked; the stream's write-ready callback resumes us
			sp.writeBlocked = true
			sp.mu.Unlock()
			return
		}

		// producers only append, so the front element is ours to pop
		if len(sp.sendq) > 0 {
			sp.sendq[0].off += n
			if sp.sendq[0].off >= len(sp.sendq[0].b) {
				sp.sendq = sp.sendq[1:]
			}
		}
		sp.mu.Unlock()
	}
}

// bindStream wires the stream's callbacks to the proxy. Runs on the
// connection loop.
func (sp *StreamProxy) bindStream(strm *Stream) {
	sp.mu.Lock()
	sp.strm = strm
	sp.mu.Unlock()

	strm.OnHeaders(func(fields []HeaderField, endStream bool) {
		sp.enqueueRecv(proxyEvent{kind: proxyEvHeaders, fields: fields, endStream: endStream})
	})
	strm.OnData(func(p []byte, endStream bool) {
		buf := append([]byte(nil), p...)
		sp.enqueueRecv(proxyEvent{kind: proxyEvData, data: buf, endStream: endStream})
	})
	strm.OnReset(func(code ErrorCode) {
		sp.enqueueRecv(proxyEvent{kind: proxyEvReset, code: code})
	})
	strm.OnWrite(func() {
		sp.mu.Lock()
		sp.writeBlocked = false
		pending := len(sp.sendq) > 0
		sp.mu.Unlock()

		if pending {
			sp.drainSendQueue()
			sp.mu.Lock()
			pending = len(sp.sendq) > 0
			sp.mu.Unlock()
		}

		if !pending {
			sp.enqueueRecv(proxyEvent{kind: proxyEvWrite})
		}
	})
}

// pushSink adapts replayed push-client events into the receive path.
func (sp *StreamProxy) pushSink(ev pushEvent) {
	switch {
	case ev.isHeaders:
		sp.enqueueRecv(proxyEvent{kind: proxyEvHeaders, fields: ev.fields, endStream: ev.endStream})
	case ev.reset:
		sp.enqueueRecv(proxyEvent{kind: proxyEvReset, code: ev.code})
	default:
		sp.enqueueRecv(proxyEvent{kind: proxyEvData, data: ev.data, endStream: ev.endStream})
	}
}

// enqueueRecv crosses an inbound event to the application loop; same
// loop and an empty queue dispatches inline.
func (sp *StreamProxy) enqueueRecv(ev proxyEvent) {
	sp.mu.Lock()
	if sp.closed {
		sp.mu.Unlock()
		return
	}

	if sp.sameLoop && len(sp.recvq) == 0 {
		sp.mu.Unlock()
		sp.dispatchEvent(ev)
		return
	}

	sp.recvq = append(sp.recvq, ev)
	first := len(sp.recvq) == 1
	sp.mu.Unlock()

	if first {
		sp.appLoop.PostToken(sp.dispatchRecvQueue, sp.appToken)
	}
}

func (sp *StreamProxy) dispatchRecvQueue() {
	for {
		sp.mu.Lock()
		if sp.closed || len(sp.recvq) == 0 {
			sp.mu.Unlock()
			return
		}
		ev := sp.recvq[0]
		sp.recvq = sp.recvq[1:]
		sp.mu.Unlock()

		sp.dispatchEvent(ev)
	}
}

func (sp *StreamProxy) dispatchEvent(ev proxyEvent) {
	switch ev.kind {
	case proxyEvHeaders:
		if sp.onHeaders != nil {
			sp.onHeaders(ev.fields, ev.endStream)
		}
	case proxyEvData:
		if sp.onData != nil {
			sp.onData(ev.data, ev.endStream)
		}
	case proxyEvReset:
		if sp.onReset != nil {
			sp.onReset(ev.code)
		}
	case proxyEvWrite:
		if sp.onWrite != nil {
			sp.onWrite()
		}
	}
}

func (sp *StreamProxy) propagateError(err error) {
	sp.appLoop.PostToken(func() {
		if sp.onError != nil {
			sp.onError(err)
		}
	}, sp.appToken)
}

// Close cancels in-flight posts on both loops and resets the stream.
// Safe from any goroutine.
func (sp *StreamProxy) Close() {
	sp.mu.Lock()
	if sp.closed {
		sp.mu.Unlock()
		return
	}
	sp.closed = true
	strm := sp.strm
	sp.sendq = nil
	sp.recvq = nil
	sp.mu.Unlock()

	sp.appToken.Cancel()
	sp.connToken.Cancel()

	if strm == nil {
		return
	}

	if sp.conn.loop.InLoopThread() {
		strm.Close()
		return
	}

	sp.conn.loop.Post(func() {
		strm.Close()
	})
}
