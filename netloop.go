// Package netloop provides event-loop driven network I/O: HTTP/1.1, HTTP/2
// and WebSocket endpoints multiplexed on per-thread loops.
//
// The subpackages hold the actual machinery:
//
//	evloop — event loop, OS pollers and the timer wheel
//	sock   — non-blocking TCP sockets bound to a loop
//	h2     — HTTP/2 framing, streams, connections and the stream proxy
//	http1  — HTTP/1.x message framing
//	ws     — WebSocket framing, handshake and extensions
//
// This package only defines the error kinds shared by all of them.
package netloop

import "errors"

// Kind classifies an operation result. The zero value is success.
type Kind int8

const (
	KindOK Kind = iota
	KindFailed
	KindInvalidParam
	KindInvalidState
	KindInvalidProto
	KindNotAuthorized
	KindNotSupported
	KindTimeout
	KindAgain
	KindBufferTooSmall
	KindSocketError
	KindPollError
	KindProtoError
	KindRejected
	KindDestroyed
)

var kindStrings = []string{
	KindOK:             "ok",
	KindFailed:         "failed",
	KindInvalidParam:   "invalid param",
	KindInvalidState:   "invalid state",
	KindInvalidProto:   "invalid proto",
	KindNotAuthorized:  "not authorized",
	KindNotSupported:   "not supported",
	KindTimeout:        "timeout",
	KindAgain:          "again",
	KindBufferTooSmall: "buffer too small",
	KindSocketError:    "socket error",
	KindPollError:      "poll error",
	KindProtoError:     "protocol error",
	KindRejected:       "rejected",
	KindDestroyed:      "destroyed",
}

func (k Kind) String() string {
	if int(k) < len(kindStrings) {
		return kindStrings[k]
	}
	return "unknown"
}

// Error wraps a Kind so callers can branch with errors.Is.
func (k Kind) Error() string { return k.String() }

// Common kinds as ready-made error values.
var (
	ErrFailed         = KindFailed
	ErrInvalidParam   = KindInvalidParam
	ErrInvalidState   = KindInvalidState
	ErrInvalidProto   = KindInvalidProto
	ErrNotAuthorized  = KindNotAuthorized
	ErrNotSupported   = KindNotSupported
	ErrTimeout        = KindTimeout
	ErrAgain          = KindAgain
	ErrBufferTooSmall = KindBufferTooSmall
	ErrSocket         = KindSocketError
	ErrPoll           = KindPollError
	ErrProto          = KindProtoError
	ErrRejected       = KindRejected
	ErrDestroyed      = KindDestroyed
)

// Is reports whether err carries kind k, directly or wrapped.
func Is(err error, k Kind) bool {
	return errors.Is(err, k)
}
