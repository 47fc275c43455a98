package h2

import (
	"github.com/domsolutions/netloop"
)

// StreamState follows RFC 7540 §5.1.
type StreamState int8

const (
	StreamStateIdle StreamState = iota
	StreamStateReservedLocal
	StreamStateReservedRemote
	StreamStateOpen
	StreamStateHalfClosedLocal
	StreamStateHalfClosedRemote
	StreamStateClosed
)

func (ss StreamState) String() string {
	switch ss {
	case StreamStateIdle:
		return "Idle"
	case StreamStateReservedLocal:
		return "ReservedLocal"
	case StreamStateReservedRemote:
		return "ReservedRemote"
	case StreamStateOpen:
		return "Open"
	case StreamStateHalfClosedLocal:
		return "HalfClosedLocal"
	case StreamStateHalfClosedRemote:
		return "HalfClosedRemote"
	case StreamStateClosed:
		return "Closed"
	}

	return "Unknown"
}

// Stream is one bidirectional frame sequence inside a connection.
// A stream belongs to its connection's loop; all methods must run
// there. Client-initiated streams carry odd ids, pushed ones even.
type Stream struct {
	id   uint32
	conn *Conn

	state StreamState
	flow  flowControl

	writeBlocked    bool
	headersReceived bool
	headersEnded    bool

	onHeaders func(fields []HeaderField, endStream bool)
	onData    func(p []byte, endStream bool)
	onReset   func(code ErrorCode)
	onWrite   func()
}

func (s *Stream) ID() uint32 {
	return s.id
}

func (s *Stream) State() StreamState {
	return s.state
}

// WriteBlocked reports whether the last SendData was gated on flow
// control or on the connection's send buffer.
func (s *Stream) WriteBlocked() bool {
	return s.writeBlocked
}

// RemoteWindow returns how many bytes the peer still accepts.
func (s *Stream) RemoteWindow() int64 {
	return s.flow.remoteWindowSize()
}

func (s *Stream) OnHeaders(cb func(fields []HeaderField, endStream bool)) { s.onHeaders = cb }
func (s *Stream) OnData(cb func(p []byte, endStream bool))                { s.onData = cb }
func (s *Stream) OnReset(cb func(code ErrorCode))                         { s.onReset = cb }
func (s *Stream) OnWrite(cb func())                                       { s.onWrite = cb }

// SendHeaders HPACK-encodes fields and emits a HEADERS frame,
// advancing the send side of the state machine.
func (s *Stream) SendHeaders(fields []HeaderField, endStream bool) error {
	switch s.state {
	case StreamStateIdle, StreamStateReservedLocal, StreamStateOpen, StreamStateHalfClosedRemote:
	default:
		return netloop.ErrInvalidState
	}

	frh := AcquireFrameHeader()
	defer ReleaseFrameHeader(frh)
	frh.SetStream(s.id)
	frh.SetMaxLen(s.conn.remoteMaxFrameSize())

	h := AcquireFrame(FrameHeaders).(*Headers)
	frh.SetBody(h)

	block, err := s.conn.enc.Encode(fields, nil)
	if err != nil {
		return err
	}
	h.SetHeaders(block)
	h.SetEndHeaders(true)
	h.SetEndStream(endStream)

	if err := s.conn.sendFrame(frh); err != nil {
		return err
	}

	switch s.state {
	case StreamStateIdle:
		s.state = StreamStateOpen
	case StreamStateReservedLocal:
		s.state = StreamStateHalfClosedRemote
	}
	if endStream {
		s.sentEndStream()
	}

	return nil
}

// SendData emits at most one DATA frame and returns how many bytes of
// p were consumed. It returns 0 with a nil error when the stream is
// blocked on flow control; the write-ready callback will fire once
// the window refills or the send buffer drains.
func (s *Stream) SendData(p []byte, endStream bool) (int, error) {
	switch s.state {
	case StreamStateOpen, StreamStateHalfClosedRemote:
	default:
		return -1, netloop.ErrInvalidState
	}

	win := s.flow.remoteWindowSize()
	if win <= 0 && !(endStream && len(p) == 0) {
		s.writeBlocked = true
		s.conn.blockStream(s.id)
		return 0, nil
	}

	n := len(p)
	if int64(n) > win {
		n = int(win)
	}
	if max := int(s.conn.remoteMaxFrameSize()); n > max {
		n = max
	}

	frh := AcquireFrameHeader()
	defer ReleaseFrameHeader(frh)
	frh.SetStream(s.id)
	frh.SetMaxLen(s.conn.remoteMaxFrameSize())

	data := AcquireFrame(FrameData).(*Data)
	frh.SetBody(data)
	data.SetData(p[:n])
	data.SetEndStream(endStream && n == len(p))

	err := s.conn.sendFrame(frh)
	switch {
	case err == nil:
	case netloop.Is(err, netloop.KindAgain), netloop.Is(err, netloop.KindBufferTooSmall):
		s.writeBlocked = true
		return 0, nil
	default:
		return -1, err
	}

	s.flow.bytesSent(n)
	s.conn.flow.bytesSent(n)

	if data.EndStream() {
		s.sentEndStream()
	}

	return n, nil
}

// SendWindowUpdate grants the peer inc more bytes on this stream.
func (s *Stream) SendWindowUpdate(inc uint32) error {
	return s.conn.sendWindowUpdate(s.id, inc)
}

// SendReset emits RST_STREAM with code and closes the stream.
func (s *Stream) SendReset(code ErrorCode) error {
	if s.state == StreamStateClosed {
		return nil
	}

	frh := AcquireFrameHeader()
	defer ReleaseFrameHeader(frh)
	frh.SetStream(s.id)

	rst := AcquireFrame(FrameResetStream).(*RstStream)
	frh.SetBody(rst)
	rst.SetCode(code)

	err := s.conn.sendFrame(frh)
	s.closeLocked(false, 0)
	return err
}

// Close cancels the stream if it is still live.
func (s *Stream) Close() error {
	if s.state == StreamStateClosed {
		return nil
	}
	return s.SendReset(CancelError)
}

func (s *Stream) sentEndStream() {
	switch s.state {
	case StreamStateOpen:
		s.state = StreamStateHalfClosedLocal
	case StreamStateHalfClosedRemote:
		s.closeLocked(false, 0)
	}
}

func (s *Stream) receivedEndStream() {
	switch s.state {
	case StreamStateOpen:
		s.state = StreamStateHalfClosedRemote
	case StreamStateHalfClosedLocal:
		s.closeLocked(false, 0)
	}
}

// closeLocked transitions to Closed and detaches from the connection.
// When reset is set the reset callback fires with code.
func (s *Stream) closeLocked(reset bool, code ErrorCode) {
	if s.state == StreamStateClosed {
		return
	}
	s.state = StreamStateClosed
	s.conn.removeStream(s.id)

	if reset && s.onReset != nil {
		s.onReset(code)
	}
}

// handleHeaders dispatches a decoded header block to the owner.
func (s *Stream) handleHeaders(fields []HeaderField, endStream bool) {
	s.headersReceived = true
	s.headersEnded = true

	switch s.state {
	case StreamStateIdle:
		s.state = StreamStateOpen
	case StreamStateReservedRemote:
		s.state = StreamStateHalfClosedLocal
	}

	cb := s.onHeaders
	if cb != nil {
		cb(fields, endStream)
	}

	if endStream {
		s.receivedEndStream()
	}
}

func (s *Stream) handleData(p []byte, endStream bool) {
	cb := s.onData
	if cb != nil {
		cb(p, endStream)
	}

	if endStream {
		s.receivedEndStream()
	}
}

func (s *Stream) handleReset(code ErrorCode) {
	s.closeLocked(true, code)
}

// handleWriteReady clears the blocked flag and lets the owner resume
// sending.
func (s *Stream) handleWriteReady() {
	s.writeBlocked = false
	if s.onWrite != nil {
		s.onWrite()
	}
}
