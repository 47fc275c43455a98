package h2

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/domsolutions/netloop/evloop"
)

func startTestLoop(t *testing.T) *evloop.Loop {
	t.Helper()

	l := evloop.New(evloop.LoopOpts{})
	require.True(t, l.Init())
	go l.Run(50)

	t.Cleanup(func() {
		l.Stop()
		l.Wait()
		l.Close()
	})

	return l
}

func TestStreamProxyCrossLoop(t *testing.T) {
	connLoop := startTestLoop(t)
	appLoop := startTestLoop(t)

	tr := &fakeTransport{}
	var c *Conn

	connLoop.Sync(func() {
		c = NewConn(tr, ConnOpts{Loop: connLoop})
		require.NoError(t, c.StartHandshake(true))
		require.NoError(t, c.Input(settingsBytes(t, nil)))
		tr.reset()
	})

	sp := NewStreamProxy(appLoop, c)

	headersCh := make(chan string, 1)
	dataCh := make(chan []byte, 8)
	sp.OnHeaders(func(fields []HeaderField, endStream bool) {
		status, _ := HeaderValue(fields, ":status")
		headersCh <- status
	})
	sp.OnData(func(p []byte, endStream bool) {
		dataCh <- append([]byte(nil), p...)
	})

	require.NoError(t, sp.SendRequest("POST", "http", "x", "/upload", nil, false))
	require.Equal(t, uint32(1), sp.StreamID())
	require.Equal(t, "POST", sp.Method())
	require.Equal(t, "/upload", sp.Path())

	// queued path: full length is reported, the drain task sends it
	n, err := sp.SendData([]byte("hello from the app loop"), true)
	require.NoError(t, err)
	require.Equal(t, len("hello from the app loop"), n)

	require.Eventually(t, func() bool {
		var sent []byte
		connLoop.Sync(func() {
			for _, fr := range parseFrames(t, tr.out) {
				if fr.kind == FrameData {
					sent = append(sent, fr.body.(*Data).Data()...)
				}
			}
		})
		return string(sent) == "hello from the app loop"
	}, 2*time.Second, 10*time.Millisecond)

	// inbound events cross to the application loop
	connLoop.Sync(func() {
		enc := NewHPACK()
		block, err := enc.Encode([]HeaderField{
			MakeHeaderField(":status", "200"),
		}, nil)
		require.NoError(t, err)

		h := &Headers{}
		h.SetHeaders(block)
		h.SetEndHeaders(true)
		require.NoError(t, c.Input(encodeFrame(t, 1, h)))

		data := &Data{}
		data.SetData([]byte("response body"))
		data.SetEndStream(true)
		require.NoError(t, c.Input(encodeFrame(t, 1, data)))
	})

	select {
	case status := <-headersCh:
		require.Equal(t, "200", status)
	case <-time.After(2 * time.Second):
		t.Fatal("headers never crossed to the app loop")
	}

	select {
	case body := <-dataCh:
		require.Equal(t, "response body", string(body))
	case <-time.After(2 * time.Second):
		t.Fatal("data never crossed to the app loop")
	}

	sp.Close()
}

func TestStreamProxyByteOrderAcrossPaths(t *testing.T) {
	connLoop := startTestLoop(t)

	tr := &fakeTransport{}
	var c *Conn

	connLoop.Sync(func() {
		c = NewConn(tr, ConnOpts{Loop: connLoop})
		require.NoError(t, c.StartHandshake(true))
		require.NoError(t, c.Input(settingsBytes(t, nil)))
		tr.reset()
	})

	// same loop for app and connection: inline fast path applies only
	// when nothing is queued
	sp := NewStreamProxy(connLoop, c)
	require.NoError(t, sp.SendRequest("POST", "http", "x", "/ordered", nil, false))

	for i := 0; i < 20; i++ {
		b := []byte{byte(i)}
		_, err := sp.SendData(b, i == 19)
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool {
		var sent []byte
		connLoop.Sync(func() {
			for _, fr := range parseFrames(t, tr.out) {
				if fr.kind == FrameData {
					sent = append(sent, fr.body.(*Data).Data()...)
				}
			}
		})
		if len(sent) != 20 {
			return false
		}
		for i, v := range sent {
			if int(v) != i {
				return false
			}
		}
		return true
	}, 2*time.Second, 10*time.Millisecond)
}
