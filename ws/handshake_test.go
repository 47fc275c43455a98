package ws

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAcceptKey(t *testing.T) {
	// the RFC 6455 sample nonce
	require.Equal(t, "s3pPLMBiTxaQ9kYGzzhZRbK+xOo=",
		AcceptKey("dGhlIHNhbXBsZSBub25jZQ=="))
}

func TestClientHandshakeRequest(t *testing.T) {
	ch := &ClientHandshake{
		Host:         "server.example.com",
		Path:         "/chat",
		Origin:       "http://example.com",
		Subprotocols: []string{"chat", "superchat"},
	}

	req := string(ch.BuildRequest())

	require.True(t, strings.HasPrefix(req, "GET /chat HTTP/1.1\r\n"))
	require.Contains(t, req, "Host: server.example.com\r\n")
	require.Contains(t, req, "Upgrade: websocket\r\n")
	require.Contains(t, req, "Connection: Upgrade\r\n")
	require.Contains(t, req, "Sec-WebSocket-Version: 13\r\n")
	require.Contains(t, req, "Sec-WebSocket-Key: ")
	require.Contains(t, req, "Origin: http://example.com\r\n")
	require.Contains(t, req, "Sec-WebSocket-Protocol: chat, superchat\r\n")
}

func TestHandshakeRoundTrip(t *testing.T) {
	ch := &ClientHandshake{
		Host:         "x",
		Path:         "/ws",
		Subprotocols: []string{"chat"},
		Extensions:   []Extension{NewDeflateExtension()},
	}
	req := ch.BuildRequest()

	sh := &ServerHandshake{
		Subprotocols: []string{"chat", "other"},
		Extensions:   []Extension{NewDeflateExtension()},
	}

	ur, err := sh.ValidateRequest(req)
	require.NoError(t, err)
	require.Equal(t, "/ws", ur.Path)
	require.Equal(t, "chat", ur.Subprotocol)
	require.Len(t, ur.Extensions, 1)

	rsp := sh.BuildResponse(ur)
	require.Contains(t, string(rsp), "Sec-WebSocket-Accept: ")

	subprotocol, active, err := ch.ValidateResponse(rsp)
	require.NoError(t, err)
	require.Equal(t, "chat", subprotocol)
	require.Len(t, active, 1)
	require.Equal(t, "permessage-deflate", active[0].Name())
}

func TestServerRejectsMissingKey(t *testing.T) {
	sh := &ServerHandshake{}
	_, err := sh.ValidateRequest([]byte("GET / HTTP/1.1\r\n" +
		"Host: x\r\n" +
		"Upgrade: websocket\r\n" +
		"Connection: Upgrade\r\n" +
		"Sec-WebSocket-Version: 13\r\n\r\n"))
	require.Error(t, err)
}

func TestServerRejectsWrongVersion(t *testing.T) {
	sh := &ServerHandshake{}
	_, err := sh.ValidateRequest([]byte("GET / HTTP/1.1\r\n" +
		"Host: x\r\n" +
		"Upgrade: websocket\r\n" +
		"Connection: Upgrade\r\n" +
		"Sec-WebSocket-Key: dGhlIHNhbXBsZSBub25jZQ==\r\n" +
		"Sec-WebSocket-Version: 8\r\n\r\n"))
	require.Error(t, err)
}

func TestClientRejectsBadAccept(t *testing.T) {
	ch := &ClientHandshake{Host: "x"}
	ch.BuildRequest()

	_, _, err := ch.ValidateResponse([]byte("HTTP/1.1 101 Switching Protocols\r\n" +
		"Upgrade: websocket\r\n" +
		"Connection: Upgrade\r\n" +
		"Sec-WebSocket-Accept: bm90IHRoZSByaWdodCBrZXk=\r\n\r\n"))
	require.Error(t, err)
}
