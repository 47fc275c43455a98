package ws

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/domsolutions/netloop"
	"github.com/domsolutions/netloop/evloop"
	"github.com/domsolutions/netloop/h2"
)

// pipeTransport buffers writes for the test to pump across.
type pipeTransport struct {
	mu  sync.Mutex
	buf []byte
}

func (p *pipeTransport) Send(b []byte) (int, error) {
	p.mu.Lock()
	p.buf = append(p.buf, b...)
	p.mu.Unlock()
	return len(b), nil
}

func (p *pipeTransport) Close() error { return nil }

func (p *pipeTransport) take() []byte {
	p.mu.Lock()
	b := p.buf
	p.buf = nil
	p.mu.Unlock()
	return b
}

func startWSLoop(t *testing.T) *evloop.Loop {
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

// h2Pair opens a client and a server h2 connection on one loop and
// pumps their transports until both handshakes complete. The accept
// handler is bound late so it can capture the returned connections;
// no stream arrives before the test assigns it.
func h2Pair(t *testing.T, loop *evloop.Loop, connectProtocol bool, onAccept *func(strm *h2.Stream)) (client, server *h2.Conn, pump func()) {
	t.Helper()

	ctr := &pipeTransport{}
	str := &pipeTransport{}

	loop.Sync(func() {
		var st h2.Settings
		if connectProtocol {
			st.SetEnableConnectProtocol(true)
		}

		server = h2.NewConn(str, h2.ConnOpts{
			Loop:     loop,
			Server:   true,
			Settings: st,
			OnAccept: func(strm *h2.Stream) {
				if *onAccept != nil {
					(*onAccept)(strm)
				}
			},
		})
		require.NoError(t, server.StartServer())

		client = h2.NewConn(ctr, h2.ConnOpts{Loop: loop})
		require.NoError(t, client.StartHandshake(true))
	})

	pump = func() {
		loop.Sync(func() {
			for {
				toServer := ctr.take()
				toClient := str.take()
				if len(toServer) == 0 && len(toClient) == 0 {
					return
				}
				if len(toServer) > 0 {
					require.NoError(t, server.Input(toServer))
				}
				if len(toClient) > 0 {
					require.NoError(t, client.Input(toClient))
				}
			}
		})
	}

	pump()

	loop.Sync(func() {
		require.Equal(t, h2.ConnStateOpen, client.State())
		require.Equal(t, h2.ConnStateOpen, server.State())
	})

	return client, server, pump
}

func TestExtendedConnectRoundTrip(t *testing.T) {
	loop := startWSLoop(t)

	serverMsgs := make(chan string, 8)
	clientMsgs := make(chan string, 8)
	opened := make(chan *Conn, 1)

	var serverWS *Conn
	var onAccept func(strm *h2.Stream)

	client, server, pump := h2Pair(t, loop, true, &onAccept)

	onAccept = func(strm *h2.Stream) {
		strm.OnHeaders(func(fields []h2.HeaderField, endStream bool) {
			proxy := h2.NewStreamProxy(loop, server)
			proxy.AttachStream(strm)

			wsc, err := AcceptH2(proxy, fields, H2AcceptOpts{
				Handshake: ServerHandshake{
					Subprotocols: []string{"chat"},
				},
				ConnOpts: ConnOpts{
					OnMessage: func(op Opcode, payload []byte) {
						serverMsgs <- string(payload)
						serverWS.SendMessage(op, payload)
					},
				},
			})
			require.NoError(t, err)
			serverWS = wsc
		})
	}

	proxy := h2.NewStreamProxy(loop, client)
	err := DialH2(proxy, H2DialOpts{
		Authority:    "x",
		Path:         "/chat",
		Subprotocols: []string{"chat"},
		ConnOpts: ConnOpts{
			OnMessage: func(op Opcode, payload []byte) {
				clientMsgs <- string(payload)
			},
		},
		OnOpen:  func(c *Conn) { opened <- c },
		OnError: func(err error) { t.Errorf("dial failed: %v", err) },
	})
	require.NoError(t, err)

	pump()

	var clientWS *Conn
	select {
	case clientWS = <-opened:
	case <-time.After(2 * time.Second):
		t.Fatal("extended connect never opened")
	}

	require.Equal(t, "chat", clientWS.Subprotocol())
	require.Equal(t, StateOpen, clientWS.State())
	require.NotNil(t, serverWS)
	require.Equal(t, "chat", serverWS.Subprotocol())

	// client → server → echo → client, all over DATA frames
	loop.Sync(func() {
		require.NoError(t, clientWS.SendText("over h2"))
	})
	pump()

	select {
	case msg := <-serverMsgs:
		require.Equal(t, "over h2", msg)
	case <-time.After(2 * time.Second):
		t.Fatal("server never saw the message")
	}

	select {
	case msg := <-clientMsgs:
		require.Equal(t, "over h2", msg)
	case <-time.After(2 * time.Second):
		t.Fatal("echo never reached the client")
	}

	// control frames survive the tunnel too
	pongs := make(chan struct{}, 1)
	loop.Sync(func() {
		clientWS.onPong = func([]byte) { pongs <- struct{}{} }
		require.NoError(t, clientWS.SendPing([]byte("ping over h2")))
	})
	pump()

	select {
	case <-pongs:
	case <-time.After(2 * time.Second):
		t.Fatal("pong never arrived")
	}
}

func TestExtendedConnectWithDeflate(t *testing.T) {
	loop := startWSLoop(t)

	serverMsgs := make(chan string, 8)
	opened := make(chan *Conn, 1)

	var serverWS *Conn
	var onAccept func(strm *h2.Stream)

	client, server, pump := h2Pair(t, loop, true, &onAccept)

	onAccept = func(strm *h2.Stream) {
		strm.OnHeaders(func(fields []h2.HeaderField, endStream bool) {
			proxy := h2.NewStreamProxy(loop, server)
			proxy.AttachStream(strm)

			wsc, err := AcceptH2(proxy, fields, H2AcceptOpts{
				Handshake: ServerHandshake{
					Extensions: []Extension{NewDeflateExtension()},
				},
				ConnOpts: ConnOpts{
					OnMessage: func(op Opcode, payload []byte) {
						serverMsgs <- string(payload)
					},
				},
			})
			require.NoError(t, err)
			serverWS = wsc
		})
	}

	proxy := h2.NewStreamProxy(loop, client)
	err := DialH2(proxy, H2DialOpts{
		Authority:  "x",
		Path:       "/",
		Extensions: []Extension{NewDeflateExtension()},
		OnOpen:     func(c *Conn) { opened <- c },
		OnError:    func(err error) { t.Errorf("dial failed: %v", err) },
	})
	require.NoError(t, err)

	pump()

	var clientWS *Conn
	select {
	case clientWS = <-opened:
	case <-time.After(2 * time.Second):
		t.Fatal("extended connect never opened")
	}

	// the deflate answer made it through the CONNECT response
	require.Len(t, clientWS.exts, 1)
	require.NotNil(t, serverWS)
	require.Len(t, serverWS.exts, 1)

	loop.Sync(func() {
		require.NoError(t, clientWS.SendText("compressed payload compressed payload"))
	})
	pump()

	select {
	case msg := <-serverMsgs:
		require.Equal(t, "compressed payload compressed payload", msg)
	case <-time.After(2 * time.Second):
		t.Fatal("server never saw the message")
	}
}

func TestDialH2RequiresConnectProtocol(t *testing.T) {
	loop := startWSLoop(t)

	var onAccept func(strm *h2.Stream)
	client, _, _ := h2Pair(t, loop, false, &onAccept)

	proxy := h2.NewStreamProxy(loop, client)
	err := DialH2(proxy, H2DialOpts{Authority: "x", Path: "/"})
	require.ErrorIs(t, err, netloop.KindNotSupported)
}

func TestDialH2RejectedStatus(t *testing.T) {
	loop := startWSLoop(t)

	var onAccept func(strm *h2.Stream)
	client, server, pump := h2Pair(t, loop, true, &onAccept)

	onAccept = func(strm *h2.Stream) {
		strm.OnHeaders(func(fields []h2.HeaderField, endStream bool) {
			proxy := h2.NewStreamProxy(loop, server)
			proxy.AttachStream(strm)
			proxy.SendResponse(403, nil, true)
		})
	}

	errCh := make(chan error, 1)
	proxy := h2.NewStreamProxy(loop, client)
	err := DialH2(proxy, H2DialOpts{
		Authority: "x",
		Path:      "/denied",
		OnOpen:    func(c *Conn) { t.Error("open on a rejected connect") },
		OnError:   func(err error) { errCh <- err },
	})
	require.NoError(t, err)

	pump()

	select {
	case derr := <-errCh:
		require.ErrorIs(t, derr, netloop.KindRejected)
	case <-time.After(2 * time.Second):
		t.Fatal("rejection never reported")
	}
}

func TestAcceptH2RejectsPlainRequest(t *testing.T) {
	loop := startWSLoop(t)

	var onAccept func(strm *h2.Stream)
	client, _, _ := h2Pair(t, loop, true, &onAccept)

	proxy := h2.NewStreamProxy(loop, client)

	_, err := AcceptH2(proxy, []h2.HeaderField{
		h2.MakeHeaderField(":method", "GET"),
		h2.MakeHeaderField(":path", "/"),
	}, H2AcceptOpts{})
	require.ErrorIs(t, err, netloop.KindInvalidProto)
}
