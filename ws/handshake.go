package ws

import (
	"bufio"
	"bytes"
	"crypto/rand"
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/valyala/fasthttp"

	"github.com/domsolutions/netloop"
)

// Magic GUID of the opening handshake.
//
// https://tools.ietf.org/html/rfc6455#section-1.3
const acceptGUID = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"

const (
	headerSecWebSocketKey        = "Sec-WebSocket-Key"
	headerSecWebSocketAccept     = "Sec-WebSocket-Accept"
	headerSecWebSocketVersion    = "Sec-WebSocket-Version"
	headerSecWebSocketProtocol   = "Sec-WebSocket-Protocol"
	headerSecWebSocketExtensions = "Sec-WebSocket-Extensions"
)

// ChallengeKey returns base64 of 16 random bytes.
func ChallengeKey() string {
	var b [16]byte
	rand.Read(b[:])
	return base64.StdEncoding.EncodeToString(b[:])
}

// AcceptKey derives the Sec-WebSocket-Accept value for key.
func AcceptKey(key string) string {
	h := sha1.New()
	h.Write([]byte(key))
	h.Write([]byte(acceptGUID))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// ClientHandshake builds and validates the HTTP/1.x upgrade exchange.
type ClientHandshake struct {
	Host   string
	Path   string
	Origin string

	Subprotocols []string
	Extensions   []Extension

	key string
}

// BuildRequest serializes the upgrade GET. The challenge key is
// generated here and checked by ValidateResponse.
func (ch *ClientHandshake) BuildRequest() []byte {
	ch.key = ChallengeKey()

	path := ch.Path
	if path == "" {
		path = "/"
	}

	var b bytes.Buffer
	fmt.Fprintf(&b, "GET %s HTTP/1.1\r\n", path)
	fmt.Fprintf(&b, "Host: %s\r\n", ch.Host)
	b.WriteString("Upgrade: websocket\r\n")
	b.WriteString("Connection: Upgrade\r\n")
	fmt.Fprintf(&b, "%s: %s\r\n", headerSecWebSocketKey, ch.key)
	fmt.Fprintf(&b, "%s: 13\r\n", headerSecWebSocketVersion)

	if ch.Origin != "" {
		fmt.Fprintf(&b, "Origin: %s\r\n", ch.Origin)
	}
	if len(ch.Subprotocols) > 0 {
		fmt.Fprintf(&b, "%s: %s\r\n", headerSecWebSocketProtocol, strings.Join(ch.Subprotocols, ", "))
	}

	var offers []string
	for _, ext := range ch.Extensions {
		offers = append(offers, ext.GetOffer())
	}
	if hv := FormatExtensionHeader(offers); hv != "" {
		fmt.Fprintf(&b, "%s: %s\r\n", headerSecWebSocketExtensions, hv)
	}

	b.WriteString("\r\n")

	return b.Bytes()
}

// ValidateResponse checks the 101 and negotiates subprotocol and
// extensions from the server's answer.
func (ch *ClientHandshake) ValidateResponse(head []byte) (subprotocol string, active []Extension, err error) {
	var rsp fasthttp.ResponseHeader
	if err := rsp.Read(bufio.NewReader(bytes.NewReader(head))); err != nil {
		return "", nil, netloop.ErrInvalidProto
	}

	if rsp.StatusCode() != fasthttp.StatusSwitchingProtocols {
		return "", nil, netloop.ErrRejected
	}
	if !strings.EqualFold(string(rsp.Peek(fasthttp.HeaderUpgrade)), "websocket") {
		return "", nil, netloop.ErrInvalidProto
	}
	if string(rsp.Peek(headerSecWebSocketAccept)) != AcceptKey(ch.key) {
		return "", nil, netloop.ErrNotAuthorized
	}

	subprotocol = string(rsp.Peek(headerSecWebSocketProtocol))
	if subprotocol != "" && !containsFold(ch.Subprotocols, subprotocol) {
		return "", nil, netloop.ErrInvalidProto
	}

	active, nerr := negotiateClient(ch.Extensions, string(rsp.Peek(headerSecWebSocketExtensions)))
	if nerr != nil {
		return "", nil, nerr
	}

	return subprotocol, active, nil
}

// UpgradeRequest is the parsed and validated client upgrade.
type UpgradeRequest struct {
	Key    string
	Path   string
	Origin string

	Subprotocol string
	Extensions  []Extension

	answers []string
}

// ServerHandshake validates upgrade requests against the supported
// subprotocols and installed extensions.
type ServerHandshake struct {
	Subprotocols []string
	Extensions   []Extension
}

// ValidateRequest parses the client's GET and negotiates subprotocol
// and extensions.
func (sh *ServerHandshake) ValidateRequest(head []byte) (*UpgradeRequest, error) {
	var req fasthttp.RequestHeader
	if err := req.Read(bufio.NewReader(bytes.NewReader(head))); err != nil {
		return nil, netloop.ErrInvalidProto
	}

	if !strings.EqualFold(string(req.Peek(fasthttp.HeaderUpgrade)), "websocket") {
		return nil, netloop.ErrInvalidProto
	}
	if string(req.Peek(headerSecWebSocketVersion)) != "13" {
		return nil, netloop.ErrNotSupported
	}

	key := string(req.Peek(headerSecWebSocketKey))
	if key == "" {
		return nil, netloop.ErrInvalidProto
	}

	ur := &UpgradeRequest{
		Key:    key,
		Path:   string(req.RequestURI()),
		Origin: string(req.Peek(fasthttp.HeaderOrigin)),
	}

	for _, offered := range splitTrimmed(string(req.Peek(headerSecWebSocketProtocol)), ',') {
		if containsFold(sh.Subprotocols, offered) {
			ur.Subprotocol = offered
			break
		}
	}

	ur.Extensions, ur.answers = negotiateServer(sh.Extensions, string(req.Peek(headerSecWebSocketExtensions)))

	return ur, nil
}

// BuildResponse serializes the 101 for a validated request.
func (sh *ServerHandshake) BuildResponse(ur *UpgradeRequest) []byte {
	var b bytes.Buffer
	b.WriteString("HTTP/1.1 101 Switching Protocols\r\n")
	b.WriteString("Upgrade: websocket\r\n")
	b.WriteString("Connection: Upgrade\r\n")
	fmt.Fprintf(&b, "%s: %s\r\n", headerSecWebSocketAccept, AcceptKey(ur.Key))

	if ur.Subprotocol != "" {
		fmt.Fprintf(&b, "%s: %s\r\n", headerSecWebSocketProtocol, ur.Subprotocol)
	}
	if hv := FormatExtensionHeader(ur.answers); hv != "" {
		fmt.Fprintf(&b, "%s: %s\r\n", headerSecWebSocketExtensions, hv)
	}

	b.WriteString("\r\n")

	return b.Bytes()
}

func containsFold(list []string, v string) bool {
	for _, s := range list {
		if strings.EqualFold(s, v) {
			return true
		}
	}
	return false
}
