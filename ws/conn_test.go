package ws

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// connPair wires a client and server connection back to back.
func connPair(t *testing.T, clientOpts, serverOpts ConnOpts) (client, server *Conn) {
	t.Helper()

	clientOpts.Role = RoleClient
	serverOpts.Role = RoleServer

	clientOpts.Send = func(p []byte) (int, error) {
		require.NoError(t, server.Input(p))
		return len(p), nil
	}
	serverOpts.Send = func(p []byte) (int, error) {
		require.NoError(t, client.Input(p))
		return len(p), nil
	}

	client = NewConn(clientOpts)
	server = NewConn(serverOpts)

	return client, server
}

func TestMessageRoundTrip(t *testing.T) {
	var got []string
	var gotOp Opcode

	client, _ := connPair(t,
		ConnOpts{},
		ConnOpts{OnMessage: func(op Opcode, payload []byte) {
			gotOp = op
			got = append(got, string(payload))
		}})

	require.NoError(t, client.SendText("first"))
	require.NoError(t, client.SendBinary([]byte("second")))

	require.Equal(t, []string{"first", "second"}, got)
	require.Equal(t, OpcodeBinary, gotOp)
}

func TestPingAutoPong(t *testing.T) {
	var pongPayload []byte

	client, server := connPair(t,
		ConnOpts{OnPong: func(p []byte) { pongPayload = append([]byte(nil), p...) }},
		ConnOpts{})
	_ = server

	require.NoError(t, client.SendPing([]byte("are you there")))
	require.Equal(t, "are you there", string(pongPayload))
}

func TestCloseEcho(t *testing.T) {
	var clientCode, serverCode uint16
	var serverReason string

	client, server := connPair(t,
		ConnOpts{OnClose: func(code uint16, reason string) { clientCode = code }},
		ConnOpts{OnClose: func(code uint16, reason string) {
			serverCode = code
			serverReason = reason
		}})

	require.NoError(t, client.SendClose(StatusGoingAway, "bye"))

	require.Equal(t, StatusGoingAway, serverCode)
	require.Equal(t, "bye", serverReason)
	// the echoed close came back with the same code
	require.Equal(t, StatusGoingAway, clientCode)

	require.Equal(t, StateClosed, client.State())
	require.Equal(t, StateClosed, server.State())

	require.ErrorIs(t, client.SendText("too late"), ErrClosed)
}

func TestServerRequiresMaskedFrames(t *testing.T) {
	var gotErr error
	server := NewConn(ConnOpts{
		Role:    RoleServer,
		Send:    func(p []byte) (int, error) { return len(p), nil },
		OnError: func(err error) { gotErr = err },
	})

	// unmasked text frame from a client is a protocol violation
	raw := EncodeFrame(nil, &FrameHeader{Fin: true, Opcode: OpcodeText}, []byte("hi"))
	require.Error(t, server.Input(raw))
	require.ErrorIs(t, gotErr, ErrProtocolError)
	require.Equal(t, StateError, server.State())
}

func TestClientRejectsMaskedFrames(t *testing.T) {
	client := NewConn(ConnOpts{
		Role: RoleClient,
		Send: func(p []byte) (int, error) { return len(p), nil },
	})

	hdr := &FrameHeader{Fin: true, Opcode: OpcodeText, Masked: true, MaskKey: [4]byte{1, 2, 3, 4}}
	raw := EncodeFrame(nil, hdr, []byte("hi"))
	require.Error(t, client.Input(raw))
}

func TestUnexpectedContinuationRejected(t *testing.T) {
	server := NewConn(ConnOpts{
		Role: RoleServer,
		Send: func(p []byte) (int, error) { return len(p), nil },
	})

	hdr := &FrameHeader{Fin: true, Opcode: OpcodeContinuation, Masked: true, MaskKey: [4]byte{1, 2, 3, 4}}
	raw := EncodeFrame(nil, hdr, []byte("stray"))
	require.Error(t, server.Input(raw))
}

func TestReservedBitsRejectedWithoutExtension(t *testing.T) {
	server := NewConn(ConnOpts{
		Role: RoleServer,
		Send: func(p []byte) (int, error) { return len(p), nil },
	})

	hdr := &FrameHeader{Fin: true, Rsv1: true, Opcode: OpcodeText, Masked: true, MaskKey: [4]byte{1, 2, 3, 4}}
	raw := EncodeFrame(nil, hdr, []byte("x"))
	require.Error(t, server.Input(raw))
}

func TestFragmentedMessageReassembled(t *testing.T) {
	var got string
	server := NewConn(ConnOpts{
		Role:      RoleServer,
		Send:      func(p []byte) (int, error) { return len(p), nil },
		OnMessage: func(op Opcode, payload []byte) { got = string(payload) },
	})

	mask := [4]byte{9, 8, 7, 6}
	raw := EncodeFrame(nil, &FrameHeader{Fin: false, Opcode: OpcodeText, Masked: true, MaskKey: mask}, []byte("frag"))
	raw = EncodeFrame(raw, &FrameHeader{Fin: false, Opcode: OpcodeContinuation, Masked: true, MaskKey: mask}, []byte("ment"))
	raw = EncodeFrame(raw, &FrameHeader{Fin: true, Opcode: OpcodeContinuation, Masked: true, MaskKey: mask}, []byte("ed"))

	require.NoError(t, server.Input(raw))
	require.Equal(t, "fragmented", got)
}

func TestInvalidUTF8TextRejected(t *testing.T) {
	server := NewConn(ConnOpts{
		Role: RoleServer,
		Send: func(p []byte) (int, error) { return len(p), nil },
	})

	hdr := &FrameHeader{Fin: true, Opcode: OpcodeText, Masked: true, MaskKey: [4]byte{1, 2, 3, 4}}
	raw := EncodeFrame(nil, hdr, []byte{0xff, 0xfe, 0xfd})
	require.Error(t, server.Input(raw))
}

func TestMaxMessageSizeClosesWith1009(t *testing.T) {
	var sentToClient []byte
	server := NewConn(ConnOpts{
		Role:           RoleServer,
		MaxMessageSize: 1 << 20,
		Send: func(p []byte) (int, error) {
			sentToClient = append(sentToClient, p...)
			return len(p), nil
		},
	})

	// two fragments that together exceed the cap
	mask := [4]byte{1, 2, 3, 4}
	big := make([]byte, 1<<19+1)
	raw := EncodeFrame(nil, &FrameHeader{Fin: false, Opcode: OpcodeBinary, Masked: true, MaskKey: mask}, big)
	raw = EncodeFrame(raw, &FrameHeader{Fin: false, Opcode: OpcodeContinuation, Masked: true, MaskKey: mask}, big)

	require.Error(t, server.Input(raw))

	var fp FrameParser
	var closeCode uint16
	fp.Feed(sentToClient, func(h *FrameHeader, p []byte) error {
		if h.Opcode == OpcodeClose && len(p) >= 2 {
			closeCode = uint16(p[0])<<8 | uint16(p[1])
		}
		return nil
	})
	require.Equal(t, StatusMessageTooBig, closeCode)
}

func TestDeflateEndToEnd(t *testing.T) {
	clientExt := NewDeflateExtension()
	clientExt.active = true
	serverExt := NewDeflateExtension()
	serverExt.active = true

	var got string
	client, _ := connPair(t,
		ConnOpts{Extensions: []Extension{clientExt}},
		ConnOpts{
			Extensions: []Extension{serverExt},
			OnMessage:  func(op Opcode, payload []byte) { got = string(payload) },
		})

	require.NoError(t, client.SendText("deflate round trip deflate round trip"))
	require.Equal(t, "deflate round trip deflate round trip", got)
}
