package h2

import (
	"errors"
	"fmt"
)

// ErrorCode is an RFC 7540 error code.
//
// http://httpwg.org/specs/rfc7540.html#ErrorCodes
type ErrorCode uint32

const (
	NoError            ErrorCode = 0x0
	ProtocolError      ErrorCode = 0x1
	InternalError      ErrorCode = 0x2
	FlowControlError   ErrorCode = 0x3
	SettingsTimeout    ErrorCode = 0x4
	StreamClosedError  ErrorCode = 0x5
	FrameSizeError     ErrorCode = 0x6
	RefusedStreamError ErrorCode = 0x7
	CancelError        ErrorCode = 0x8
	CompressionError   ErrorCode = 0x9
	ConnectError       ErrorCode = 0xa
	EnhanceYourCalm    ErrorCode = 0xb
	InadequateSecurity ErrorCode = 0xc
	HTTP11Required     ErrorCode = 0xd
)

func (code ErrorCode) String() string {
	if int(code) < len(errorCodeStrings) {
		return errorCodeStrings[code]
	}
	return "Unknown"
}

var errorCodeStrings = []string{
	NoError:            "No errors",
	ProtocolError:      "Protocol error",
	InternalError:      "Internal error",
	FlowControlError:   "Flow control error",
	SettingsTimeout:    "Settings timeout",
	StreamClosedError:  "Stream have been closed",
	FrameSizeError:     "Frame size error",
	RefusedStreamError: "Refused Stream",
	CancelError:        "Canceled",
	CompressionError:   "Compression error",
	ConnectError:       "Connection error",
	EnhanceYourCalm:    "Enhance your calm",
	InadequateSecurity: "Inadequate security",
	HTTP11Required:     "HTTP/1.1 required",
}

// Error is a typed HTTP/2 error carrying the code and whether it is
// scoped to a single stream or to the whole connection.
//
// https://tools.ietf.org/html/rfc7540#section-5.4
type Error struct {
	code      ErrorCode
	stream    bool
	streamID  uint32
	debugData string
}

func NewError(code ErrorCode, debug string) Error {
	return Error{code: code, debugData: debug}
}

// NewStreamError returns an error recovered locally by resetting the
// offending stream.
func NewStreamError(code ErrorCode, debug string) Error {
	return Error{code: code, stream: true, debugData: debug}
}

// NewGoAwayError returns a connection-scoped error that tears the
// connection down with a GOAWAY.
func NewGoAwayError(code ErrorCode, debug string) Error {
	return Error{code: code, debugData: debug}
}

func (e Error) Code() ErrorCode {
	return e.code
}

func (e Error) IsStreamError() bool {
	return e.stream
}

// StreamID returns the offending stream for stream-scoped errors,
// 0 when unknown.
func (e Error) StreamID() uint32 {
	return e.streamID
}

// WithStream tags the error with the offending stream id.
func (e Error) WithStream(id uint32) Error {
	e.streamID = id
	return e
}

func (e Error) Debug() string {
	return e.debugData
}

func (e Error) Error() string {
	scope := "connection"
	if e.stream {
		scope = "stream"
	}
	return fmt.Sprintf("%s error: %s (%s)", scope, e.code, e.debugData)
}

func (e Error) Is(target error) bool {
	var other Error
	if errors.As(target, &other) {
		return other.code == e.code
	}
	return false
}

// isStreamScoped classifies a frame-size violation per RFC 7540 §4.2:
// errors on frames that alter connection state are connection errors,
// the rest are stream errors when the frame carries a stream id.
func isStreamScoped(kind FrameType, stream uint32) bool {
	switch kind {
	case FrameSettings, FrameHeaders, FramePushPromise, FrameWindowUpdate:
		return false
	}
	return stream != 0
}

var (
	ErrUnknownFrameType = errors.New("error unknown frame type")
	ErrMissingBytes     = errors.New("missing payload bytes")
	ErrBadPreface       = errors.New("bad preface")
	ErrPayloadExceeds   = errors.New("frame payload exceeds the negotiated maximum size")
	ErrNeedMore         = errors.New("need more data")
)
