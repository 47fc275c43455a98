// Package ws implements RFC 6455 WebSocket framing, the handshake
// over HTTP/1.x and HTTP/2 (RFC 8441 extended CONNECT), and the
// extension negotiation used by permessage-deflate style extensions.
package ws

import (
	"github.com/domsolutions/netloop/netutils"
)

// Opcode identifies the frame type.
//
// https://tools.ietf.org/html/rfc6455#section-5.2
type Opcode byte

const (
	OpcodeContinuation Opcode = 0x0
	OpcodeText         Opcode = 0x1
	OpcodeBinary       Opcode = 0x2
	OpcodeClose        Opcode = 0x8
	OpcodePing         Opcode = 0x9
	OpcodePong         Opcode = 0xa
)

func (op Opcode) IsControl() bool {
	return op&0x8 != 0
}

func (op Opcode) String() string {
	switch op {
	case OpcodeContinuation:
		return "Continuation"
	case OpcodeText:
		return "Text"
	case OpcodeBinary:
		return "Binary"
	case OpcodeClose:
		return "Close"
	case OpcodePing:
		return "Ping"
	case OpcodePong:
		return "Pong"
	}
	return "Unknown"
}

const maxControlPayload = 125

// FrameHeader carries the decoded fields of one frame.
type FrameHeader struct {
	Fin    bool
	Rsv1   bool
	Rsv2   bool
	Rsv3   bool
	Opcode Opcode

	Masked  bool
	MaskKey [4]byte

	PayloadLen int64
}

// EncodeFrame appends the framed payload to dst. When hdr.Masked is
// set the payload is XOR-masked into the output; the input slice is
// left untouched.
func EncodeFrame(dst []byte, hdr *FrameHeader, payload []byte) []byte {
	b0 := byte(hdr.Opcode) & 0x0f
	if hdr.Fin {
		b0 |= 0x80
	}
	if hdr.Rsv1 {
		b0 |= 0x40
	}
	if hdr.Rsv2 {
		b0 |= 0x20
	}
	if hdr.Rsv3 {
		b0 |= 0x10
	}
	dst = append(dst, b0)

	var b1 byte
	if hdr.Masked {
		b1 = 0x80
	}

	n := len(payload)
	switch {
	case n <= 125:
		dst = append(dst, b1|byte(n))
	case n <= 0xffff:
		dst = append(dst, b1|126)
		dst = netutils.AppendUint16Bytes(dst, uint16(n))
	default:
		dst = append(dst, b1|127)
		dst = netutils.AppendUint64Bytes(dst, uint64(n))
	}

	if hdr.Masked {
		dst = append(dst, hdr.MaskKey[:]...)
		off := len(dst)
		dst = append(dst, payload...)
		netutils.XORMask(dst[off:], hdr.MaskKey, 0)
		return dst
	}

	return append(dst, payload...)
}

type wsParserState int8

const (
	wsStateFlags wsParserState = iota
	wsStateLen
	wsStateLenExt
	wsStateMaskKey
	wsStatePayload
)

// FrameParser incrementally decodes frames: one flags byte, one
// mask/len byte, the optional 16/64-bit length extension, the mask
// key when masked, then the payload. Masked payloads are unmasked in
// place before emitting.
type FrameParser struct {
	state wsParserState

	hdr     FrameHeader
	extLen  int
	extBuf  [8]byte
	extGot  int
	keyGot  int
	payload []byte

	// MaxPayloadLen caps a single frame; 0 means unlimited.
	MaxPayloadLen int64
}

// Feed consumes b, invoking emit per complete frame. The header and
// payload passed to emit are only valid during the call.
func (fp *FrameParser) Feed(b []byte, emit func(hdr *FrameHeader, payload []byte) error) (int, error) {
	consumed := 0

	for len(b) > 0 {
		switch fp.state {
		case wsStateFlags:
			ch := b[0]
			fp.hdr = FrameHeader{
				Fin:    ch&0x80 != 0,
				Rsv1:   ch&0x40 != 0,
				Rsv2:   ch&0x20 != 0,
				Rsv3:   ch&0x10 != 0,
				Opcode: Opcode(ch & 0x0f),
			}
			b = b[1:]
			consumed++
			fp.state = wsStateLen

		case wsStateLen:
			ch := b[0]
			b = b[1:]
			consumed++

			fp.hdr.Masked = ch&0x80 != 0
			plen := int64(ch & 0x7f)

			switch plen {
			case 126:
				fp.extLen = 2
				fp.extGot = 0
				fp.state = wsStateLenExt
			case 127:
				fp.extLen = 8
				fp.extGot = 0
				fp.state = wsStateLenExt
			default:
				fp.hdr.PayloadLen = plen
				if err := fp.beginPayload(); err != nil {
					return consumed, err
				}
				if fp.state == wsStatePayload && fp.hdr.PayloadLen == 0 {
					if err := fp.finishFrame(emit); err != nil {
						return consumed, err
					}
				}
			}

		case wsStateLenExt:
			n := copy(fp.extBuf[fp.extGot:fp.extLen], b)
			fp.extGot += n
			b = b[n:]
			consumed += n

			if fp.extGot < fp.extLen {
				return consumed, nil
			}

			if fp.extLen == 2 {
				fp.hdr.PayloadLen = int64(netutils.BytesToUint16(fp.extBuf[:2]))
			} else {
				v := netutils.BytesToUint64(fp.extBuf[:8])
				if v&(1<<63) != 0 {
					return consumed, ErrInvalidLength
				}
				fp.hdr.PayloadLen = int64(v)
			}

			if err := fp.beginPayload(); err != nil {
				return consumed, err
			}
			if fp.state == wsStatePayload && fp.hdr.PayloadLen == 0 {
				if err := fp.finishFrame(emit); err != nil {
					return consumed, err
				}
			}

		case wsStateMaskKey:
			n := copy(fp.hdr.MaskKey[fp.keyGot:], b)
			fp.keyGot += n
			b = b[n:]
			consumed += n

			if fp.keyGot < 4 {
				return consumed, nil
			}

			fp.state = wsStatePayload
			if fp.hdr.PayloadLen == 0 {
				if err := fp.finishFrame(emit); err != nil {
					return consumed, err
				}
			}

		case wsStatePayload:
			want := int(fp.hdr.PayloadLen) - len(fp.payload)
			if want > len(b) {
				want = len(b)
			}
			fp.payload = append(fp.payload, b[:want]...)
			b = b[want:]
			consumed += want

			if int64(len(fp.payload)) < fp.hdr.PayloadLen {
				return consumed, nil
			}

			if err := fp.finishFrame(emit); err != nil {
				return consumed, err
			}
		}
	}

	return consumed, nil
}

// beginPayload validates the decoded header and routes to the mask
// key or payload state.
func (fp *FrameParser) beginPayload() error {
	if fp.hdr.Opcode.IsControl() {
		// control frames must not be fragmented nor exceed 125 bytes
		if !fp.hdr.Fin || fp.hdr.PayloadLen > maxControlPayload {
			return ErrInvalidFrame
		}
	}

	if fp.MaxPayloadLen > 0 && fp.hdr.PayloadLen > fp.MaxPayloadLen {
		return ErrInvalidLength
	}

	fp.payload = fp.payload[:0]

	if fp.hdr.Masked {
		fp.keyGot = 0
		fp.state = wsStateMaskKey
		return nil
	}

	fp.state = wsStatePayload
	return nil
}

func (fp *FrameParser) finishFrame(emit func(hdr *FrameHeader, payload []byte) error) error {
	if fp.hdr.Masked {
		netutils.XORMask(fp.payload, fp.hdr.MaskKey, 0)
	}

	hdr := fp.hdr
	payload := fp.payload

	fp.state = wsStateFlags

	return emit(&hdr, payload)
}
