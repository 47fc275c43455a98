package h2

import (
	"sync"

	"github.com/domsolutions/netloop/netutils"
)

const (
	// FrameHeader default size
	// http://httpwg.org/specs/rfc7540.html#FrameHeader
	DefaultFrameSize = 9

	// https://httpwg.org/specs/rfc7540.html#SETTINGS_MAX_FRAME_SIZE
	defaultMaxLen = 1 << 14
)

var frameHeaderPool = sync.Pool{
	New: func() interface{} {
		return &FrameHeader{}
	},
}

// FrameHeader is the 9-byte header of an HTTP/2 frame plus its typed
// body.
//
// Use AcquireFrameHeader instead of creating FrameHeader every time
// if you are going to use FrameHeader as your own and
// ReleaseFrameHeader to delete the FrameHeader.
//
// FrameHeader instance MUST NOT be used from different goroutines.
//
// https://tools.ietf.org/html/rfc7540#section-4.1
type FrameHeader struct {
	length int        // 24 bits
	kind   FrameType  // 8 bits
	flags  FrameFlags // 8 bits
	stream uint32     // 31 bits

	maxLen uint32

	rawHeader [DefaultFrameSize]byte
	payload   []byte

	fr Frame
}

// AcquireFrameHeader gets a FrameHeader from pool.
func AcquireFrameHeader() *FrameHeader {
	fr := frameHeaderPool.Get().(*FrameHeader)
	fr.Reset()
	return fr
}

// ReleaseFrameHeader resets and puts fr to the pool.
func ReleaseFrameHeader(fr *FrameHeader) {
	ReleaseFrame(fr.Body())
	frameHeaderPool.Put(fr)
}

// Reset resets header values.
func (frh *FrameHeader) Reset() {
	frh.kind = 0
	frh.flags = 0
	frh.stream = 0
	frh.length = 0
	frh.maxLen = defaultMaxLen
	frh.fr = nil
	frh.payload = frh.payload[:0]
}

// Type returns the frame type.
func (frh *FrameHeader) Type() FrameType {
	return frh.kind
}

func (frh *FrameHeader) Flags() FrameFlags {
	return frh.flags
}

func (frh *FrameHeader) SetFlags(flags FrameFlags) {
	frh.flags = flags
}

// Stream returns the stream id of the current frame.
func (frh *FrameHeader) Stream() uint32 {
	return frh.stream
}

// SetStream sets the stream id on the current frame.
func (frh *FrameHeader) SetStream(stream uint32) {
	frh.stream = stream & (1<<31 - 1)
}

// Len returns the payload length.
func (frh *FrameHeader) Len() int {
	return frh.length
}

// MaxLen returns the max negotiated payload length.
func (frh *FrameHeader) MaxLen() uint32 {
	return frh.maxLen
}

// SetMaxLen sets the max payload length accepted by the decoder or
// produced by the encoder.
func (frh *FrameHeader) SetMaxLen(maxLen uint32) {
	frh.maxLen = maxLen
}

// Body returns the typed frame body.
func (frh *FrameHeader) Body() Frame {
	return frh.fr
}

func (frh *FrameHeader) SetBody(fr Frame) {
	if fr == nil {
		panic("Body cannot be nil")
	}

	frh.kind = fr.Type()
	frh.fr = fr
}

// Payload returns the raw (still padded) payload bytes.
func (frh *FrameHeader) Payload() []byte {
	return frh.payload
}

func (frh *FrameHeader) setPayload(payload []byte) {
	frh.payload = append(frh.payload[:0], payload...)
}

func (frh *FrameHeader) parseValues(header []byte) {
	frh.length = int(netutils.BytesToUint24(header[:3]))           // 3
	frh.kind = FrameType(header[3])                                // 1
	frh.flags = FrameFlags(header[4])                              // 1
	frh.stream = netutils.BytesToUint32(header[5:]) & (1<<31 - 1)  // 4
}

func (frh *FrameHeader) serializeHeader(header []byte) {
	netutils.Uint24ToBytes(header[:3], uint32(frh.length)) // 3
	header[3] = byte(frh.kind)                             // 1
	header[4] = byte(frh.flags)                            // 1
	netutils.Uint32ToBytes(header[5:], frh.stream)         // 4
}

// AppendTo serializes the frame body and appends the encoded frame to
// dst.
func (frh *FrameHeader) AppendTo(dst []byte) ([]byte, error) {
	if frh.fr != nil {
		frh.fr.Serialize(frh)
	}

	frh.length = len(frh.payload)
	if frh.maxLen != 0 && frh.length > int(frh.maxLen) {
		return dst, ErrPayloadExceeds
	}

	frh.serializeHeader(frh.rawHeader[:])

	dst = append(dst, frh.rawHeader[:]...)
	dst = append(dst, frh.payload...)

	return dst, nil
}

func (frh *FrameHeader) checkLen() error {
	if frh.maxLen != 0 && frh.length > int(frh.maxLen) {
		return ErrPayloadExceeds
	}
	return nil
}
