package ws

import (
	"bytes"
	"io"
	"strings"

	"github.com/klauspost/compress/flate"
)

// deflateTail is the sync-flush suffix stripped from compressed
// messages and re-appended before inflating.
//
// https://tools.ietf.org/html/rfc7692#section-7.2.1
var deflateTail = []byte{0x00, 0x00, 0xff, 0xff}

// DeflateExtension implements permessage-deflate (RFC 7692) over the
// flate codec. It claims rsv1; compression runs per message, with
// no-context-takeover negotiated in both directions so that every
// message stands alone.
type DeflateExtension struct {
	// Level is the flate compression level; 0 means default.
	Level int

	active bool

	// incoming message reassembly for fragmented compressed messages
	compressedMsg bool
	fragments     []byte
}

// NewDeflateExtension returns a permessage-deflate transform ready to
// offer.
func NewDeflateExtension() *DeflateExtension {
	return &DeflateExtension{}
}

func (de *DeflateExtension) Name() string {
	return "permessage-deflate"
}

func (de *DeflateExtension) RsvMask() (bool, bool, bool) {
	return true, false, false
}

func (de *DeflateExtension) GetOffer() string {
	return "permessage-deflate; client_no_context_takeover; server_no_context_takeover"
}

func (de *DeflateExtension) NegotiateAnswer(answer ExtensionOffer) bool {
	// both takeover modes were offered, so any answer subset works;
	// window-bits parameters only shrink the peer's window
	de.active = true
	return true
}

func (de *DeflateExtension) NegotiateOffer(offer ExtensionOffer) (string, bool) {
	var params []string
	params = append(params, "permessage-deflate")

	// pin no-context-takeover in both directions, whether or not the
	// client asked for it, so per-message inflating needs no sliding
	// window state
	params = append(params, "client_no_context_takeover")
	params = append(params, "server_no_context_takeover")

	de.active = true

	return strings.Join(params, "; "), true
}

// ProcessOutgoing compresses data frames, setting rsv1 on the first
// frame of the message.
func (de *DeflateExtension) ProcessOutgoing(hdr *FrameHeader, payload []byte) ([]byte, error) {
	if !de.active || hdr.Opcode.IsControl() || hdr.Opcode == OpcodeContinuation {
		return payload, nil
	}

	var buf bytes.Buffer
	level := de.Level
	if level == 0 {
		level = flate.DefaultCompression
	}

	fw, err := flate.NewWriter(&buf, level)
	if err != nil {
		return nil, err
	}
	if _, err := fw.Write(payload); err != nil {
		return nil, err
	}
	if err := fw.Flush(); err != nil {
		return nil, err
	}

	out := buf.Bytes()
	out = bytes.TrimSuffix(out, deflateTail)

	hdr.Rsv1 = true
	hdr.PayloadLen = int64(len(out))

	return out, nil
}

// ProcessIncoming inflates compressed messages. Fragmented
// compressed messages are buffered until the final frame, whose
// payload then carries the whole inflated message.
func (de *DeflateExtension) ProcessIncoming(hdr *FrameHeader, payload []byte) ([]byte, error) {
	if !de.active || hdr.Opcode.IsControl() {
		return payload, nil
	}

	first := hdr.Opcode != OpcodeContinuation
	if first {
		de.compressedMsg = hdr.Rsv1
		de.fragments = de.fragments[:0]
	}

	if !de.compressedMsg {
		return payload, nil
	}

	hdr.Rsv1 = false

	de.fragments = append(de.fragments, payload...)
	if !hdr.Fin {
		return nil, nil
	}

	compressed := append(de.fragments, deflateTail...)
	// an empty final stored block lets the reader end on io.EOF
	compressed = append(compressed, 0x01, 0x00, 0x00, 0xff, 0xff)
	de.fragments = nil

	fr := flate.NewReader(bytes.NewReader(compressed))
	out, err := io.ReadAll(fr)
	if err != nil {
		return nil, ErrInvalidFrame
	}
	fr.Close()

	hdr.PayloadLen = int64(len(out))

	return out, nil
}
