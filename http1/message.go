// Package http1 frames HTTP/1.x messages: start line + header
// serialization on the way out, content-length and chunked body
// framing in both directions. Inbound header parsing is delegated to
// the fasthttp header types.
package http1

import (
	"strconv"

	"github.com/domsolutions/netloop"
)

var crlf = []byte("\r\n")

// lastChunk is the zero-chunk-plus-final-CRLF terminator.
var lastChunk = []byte("0\r\n\r\n")

// Header is one serialized header field. Order is preserved on the
// wire.
type Header struct {
	Key   string
	Value string
}

// Message frames one request or response. The send sink receives
// fully framed bytes; partial acceptance is the sink's problem.
type Message struct {
	isRequest bool

	method     string
	requestURI string
	version    string

	statusCode int
	statusDesc string

	headers []Header

	chunked       bool
	contentLength int64
	hasBody       bool

	bytesSent int64
	complete  bool

	send func(p []byte) (int, error)
}

// NewRequest frames an outgoing request.
func NewRequest(method, requestURI string, send func(p []byte) (int, error)) *Message {
	return &Message{
		isRequest:     true,
		method:        method,
		requestURI:    requestURI,
		version:       "HTTP/1.1",
		contentLength: -1,
		hasBody:       true,
		send:          send,
	}
}

// NewResponse frames an outgoing response.
func NewResponse(statusCode int, statusDesc string, send func(p []byte) (int, error)) *Message {
	return &Message{
		statusCode:    statusCode,
		statusDesc:    statusDesc,
		version:       "HTTP/1.1",
		contentLength: -1,
		hasBody:       bodyAllowed(statusCode),
		send:          send,
	}
}

// bodyAllowed reports whether a response with the given status may
// carry a body. 1xx, 204 and 304 are body-less regardless of other
// headers.
func bodyAllowed(status int) bool {
	if status >= 100 && status < 200 {
		return false
	}
	return status != 204 && status != 304
}

// AddHeader appends a header field, inspecting Content-Length and
// Transfer-Encoding to pick the body framing.
func (m *Message) AddHeader(key, value string) {
	switch {
	case equalFold(key, "Content-Length"):
		n, err := strconv.ParseInt(value, 10, 64)
		if err == nil {
			m.contentLength = n
		}
	case equalFold(key, "Transfer-Encoding") && equalFold(value, "chunked"):
		m.chunked = true
	}

	m.headers = append(m.headers, Header{Key: key, Value: value})
}

// HasBody reports whether the message carries a body at all.
func (m *Message) HasBody() bool {
	if !m.hasBody {
		return false
	}
	return m.chunked || m.contentLength != 0
}

// Complete reports whether the whole message has been sent.
func (m *Message) Complete() bool {
	return m.complete
}

// EncodeHeaders appends the start line, the serialized header map and
// the blank line to dst.
func (m *Message) EncodeHeaders(dst []byte) []byte {
	if m.isRequest {
		// method SP url SP version CRLF
		dst = append(dst, m.method...)
		dst = append(dst, ' ')
		dst = append(dst, m.requestURI...)
		dst = append(dst, ' ')
		dst = append(dst, m.version...)
	} else {
		// version SP status [SP desc] CRLF
		dst = append(dst, m.version...)
		dst = append(dst, ' ')
		dst = strconv.AppendInt(dst, int64(m.statusCode), 10)
		if m.statusDesc != "" {
			dst = append(dst, ' ')
			dst = append(dst, m.statusDesc...)
		}
	}
	dst = append(dst, crlf...)

	for _, h := range m.headers {
		dst = append(dst, h.Key...)
		dst = append(dst, ':', ' ')
		dst = append(dst, h.Value...)
		dst = append(dst, crlf...)
	}

	return append(dst, crlf...)
}

// SendHeaders serializes and writes the header block.
func (m *Message) SendHeaders() error {
	b := m.EncodeHeaders(nil)
	_, err := m.send(b)

	if err == nil && !m.HasBody() {
		m.complete = true
	}

	return err
}

// SendData frames and writes one body segment.
//
// Content-Length bodies are counted until the declared length is
// reached. Chunked bodies wrap every call in <hex-len>CRLF payload
// CRLF; a nil p emits the terminating zero chunk.
func (m *Message) SendData(p []byte) (int, error) {
	if m.complete {
		return 0, netloop.ErrInvalidState
	}

	if m.chunked {
		return m.sendChunk(p)
	}

	if p == nil {
		// no terminator in content-length framing
		if m.contentLength < 0 {
			m.complete = true
		}
		return 0, nil
	}

	if m.contentLength >= 0 {
		if remain := m.contentLength - m.bytesSent; int64(len(p)) > remain {
			p = p[:remain]
		}
	}

	n, err := m.send(p)
	if n > 0 {
		m.bytesSent += int64(n)
	}
	if err != nil {
		return n, err
	}

	if m.contentLength >= 0 && m.bytesSent >= m.contentLength {
		m.complete = true
	}

	return n, nil
}

func (m *Message) sendChunk(p []byte) (int, error) {
	if p == nil {
		if _, err := m.send(lastChunk); err != nil {
			return 0, err
		}
		m.complete = true
		return 0, nil
	}
	if len(p) == 0 {
		return 0, nil
	}

	buf := make([]byte, 0, len(p)+16)
	buf = strconv.AppendUint(buf, uint64(len(p)), 16)
	buf = append(buf, crlf...)
	buf = append(buf, p...)
	buf = append(buf, crlf...)

	if _, err := m.send(buf); err != nil {
		return 0, err
	}

	m.bytesSent += int64(len(p))
	return len(p), nil
}

func equalFold(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := 0; i < len(a); i++ {
		if a[i]|0x20 != b[i]|0x20 {
			return false
		}
	}
	return true
}
