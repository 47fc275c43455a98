package h2

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClientUpgradeRequest(t *testing.T) {
	tr := &fakeTransport{}
	c := NewConn(tr, ConnOpts{Host: "x"})

	require.NoError(t, c.StartHandshake(false))
	require.Equal(t, ConnStateUpgrading, c.State())

	req := string(tr.out)
	require.True(t, strings.HasPrefix(req, "GET / HTTP/1.1\r\n"))
	require.Contains(t, req, "Host: x\r\n")
	require.Contains(t, req, "Connection: Upgrade, HTTP2-Settings\r\n")
	require.Contains(t, req, "Upgrade: h2c\r\n")
	require.Contains(t, req, "HTTP2-Settings: ")
	require.True(t, strings.HasSuffix(req, "\r\n\r\n"))

	// base64url-no-pad payload must not carry padding or +/
	for _, line := range strings.Split(req, "\r\n") {
		if !strings.HasPrefix(line, "HTTP2-Settings: ") {
			continue
		}
		v := strings.TrimPrefix(line, "HTTP2-Settings: ")
		require.NotContains(t, v, "=")
		require.NotContains(t, v, "+")
		require.NotContains(t, v, "/")
	}
}

func TestClientUpgradeRoundTrip(t *testing.T) {
	tr := &fakeTransport{}
	c := NewConn(tr, ConnOpts{Host: "x"})
	require.NoError(t, c.StartHandshake(false))
	tr.reset()

	require.NoError(t, c.Input([]byte("HTTP/1.1 101 Switching Protocols\r\n"+
		"Connection: Upgrade\r\n"+
		"Upgrade: h2c\r\n\r\n")))

	// preface first, then SETTINGS, then the connection WINDOW_UPDATE
	require.Equal(t, ClientPreface, tr.out[:len(ClientPreface)])

	frames := parseFrames(t, tr.out[len(ClientPreface):])
	require.GreaterOrEqual(t, len(frames), 2)
	require.Equal(t, FrameSettings, frames[0].kind)
	require.Equal(t, FrameWindowUpdate, frames[1].kind)
	require.Equal(t, uint32(0), frames[1].stream)

	// peer SETTINGS completes the handshake; stream 1 is reserved for
	// the upgraded request and the next stream id is 3
	require.NoError(t, c.Input(settingsBytes(t, nil)))
	require.Equal(t, ConnStateOpen, c.State())

	upgraded := c.Stream(1)
	require.NotNil(t, upgraded)
	require.Equal(t, StreamStateHalfClosedLocal, upgraded.State())

	strm, err := c.CreateStream()
	require.NoError(t, err)
	require.Equal(t, uint32(3), strm.ID())
}

func TestClientUpgradeRejectedResponse(t *testing.T) {
	tr := &fakeTransport{}
	c := NewConn(tr, ConnOpts{Host: "x"})
	require.NoError(t, c.StartHandshake(false))

	err := c.Input([]byte("HTTP/1.1 200 OK\r\nContent-Length: 0\r\n\r\n"))
	require.Error(t, err)
	require.Equal(t, ConnStateError, c.State())
}

func TestServerUpgradeRoundTrip(t *testing.T) {
	tr := &fakeTransport{}

	var accepted *Stream
	c := NewConn(tr, ConnOpts{
		Server:   true,
		OnAccept: func(s *Stream) { accepted = s },
	})
	require.NoError(t, c.StartServer())

	require.NoError(t, c.Input([]byte("GET / HTTP/1.1\r\n"+
		"Host: x\r\n"+
		"Connection: Upgrade, HTTP2-Settings\r\n"+
		"Upgrade: h2c\r\n"+
		"HTTP2-Settings: AAQAAP__\r\n\r\n")))

	require.True(t, strings.HasPrefix(string(tr.out),
		"HTTP/1.1 101 Switching Protocols\r\n"))
	require.Contains(t, string(tr.out), "Upgrade: h2c\r\n")
	tr.reset()

	// the mandatory preface follows, then the client SETTINGS
	require.NoError(t, c.Input(ClientPreface))

	frames := parseFrames(t, tr.out)
	require.NotEmpty(t, frames)
	require.Equal(t, FrameSettings, frames[0].kind)

	require.NoError(t, c.Input(settingsBytes(t, nil)))
	require.Equal(t, ConnStateOpen, c.State())

	// stream 1 carries the request that rode the upgrade
	require.NotNil(t, accepted)
	require.Equal(t, uint32(1), accepted.ID())
	require.Equal(t, StreamStateHalfClosedRemote, accepted.State())
}

// TestUpgradeEndToEnd wires a client and a server connection
// back-to-back through their transports.
func TestUpgradeEndToEnd(t *testing.T) {
	ctr := &fakeTransport{}
	str := &fakeTransport{}

	var serverStreams []*Stream
	server := NewConn(str, ConnOpts{
		Server: true,
		OnAccept: func(s *Stream) {
			serverStreams = append(serverStreams, s)
			s.OnHeaders(func(fields []HeaderField, endStream bool) {
				path, _ := HeaderValue(fields, ":path")
				require.Equal(t, "/hello", path)
				require.NoError(t, s.SendHeaders([]HeaderField{
					MakeHeaderField(":status", "200"),
				}, false))
				_, err := s.SendData([]byte("hi there"), true)
				require.NoError(t, err)
			})
		},
	})
	require.NoError(t, server.StartServer())

	client := NewConn(ctr, ConnOpts{Host: "x"})
	require.NoError(t, client.StartHandshake(false))

	pump := func() {
		for len(ctr.out) > 0 || len(str.out) > 0 {
			toServer := append([]byte(nil), ctr.out...)
			ctr.reset()
			if len(toServer) > 0 {
				require.NoError(t, server.Input(toServer))
			}

			toClient := append([]byte(nil), str.out...)
			str.reset()
			if len(toClient) > 0 {
				require.NoError(t, client.Input(toClient))
			}
		}
	}

	pump()
	require.Equal(t, ConnStateOpen, client.State())
	require.Equal(t, ConnStateOpen, server.State())

	strm, err := client.CreateStream()
	require.NoError(t, err)
	require.Equal(t, uint32(3), strm.ID())

	var status string
	var body []byte
	var done bool
	strm.OnHeaders(func(fields []HeaderField, endStream bool) {
		status, _ = HeaderValue(fields, ":status")
	})
	strm.OnData(func(p []byte, endStream bool) {
		body = append(body, p...)
		done = done || endStream
	})

	require.NoError(t, strm.SendHeaders([]HeaderField{
		MakeHeaderField(":method", "GET"),
		MakeHeaderField(":scheme", "http"),
		MakeHeaderField(":authority", "x"),
		MakeHeaderField(":path", "/hello"),
	}, true))

	pump()

	require.Equal(t, "200", status)
	require.Equal(t, "hi there", string(body))
	require.True(t, done)
}
