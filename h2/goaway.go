package h2

import (
	"fmt"

	"github.com/domsolutions/netloop/netutils"
)

var _ Frame = &GoAway{}

// GoAway initiates connection shutdown, naming the last stream the
// sender will process.
//
// https://tools.ietf.org/html/rfc7540#section-6.8
type GoAway struct {
	lastStream uint32
	code       ErrorCode
	data       []byte // additional debug data
}

func (ga *GoAway) Error() string {
	return fmt.Sprintf("last_stream=%d, code=%s, data=%s", ga.lastStream, ga.code, ga.data)
}

func (ga *GoAway) Type() FrameType {
	return FrameGoAway
}

func (ga *GoAway) Reset() {
	ga.lastStream = 0
	ga.code = 0
	ga.data = ga.data[:0]
}

func (ga *GoAway) CopyTo(other *GoAway) {
	other.lastStream = ga.lastStream
	other.code = ga.code
	other.data = append(other.data[:0], ga.data...)
}

func (ga *GoAway) Code() ErrorCode {
	return ga.code
}

func (ga *GoAway) SetCode(code ErrorCode) {
	ga.code = code
}

// LastStream returns the highest stream id the sender will process.
func (ga *GoAway) LastStream() uint32 {
	return ga.lastStream
}

func (ga *GoAway) SetLastStream(stream uint32) {
	ga.lastStream = stream & (1<<31 - 1)
}

func (ga *GoAway) Data() []byte {
	return ga.data
}

func (ga *GoAway) SetData(b []byte) {
	ga.data = append(ga.data[:0], b...)
}

func (ga *GoAway) Deserialize(frh *FrameHeader) error {
	if len(frh.payload) < 8 {
		return NewGoAwayError(FrameSizeError, "goaway payload must be at least 8 bytes")
	}

	ga.lastStream = netutils.BytesToUint32(frh.payload) & (1<<31 - 1)
	ga.code = ErrorCode(netutils.BytesToUint32(frh.payload[4:]))
	ga.data = append(ga.data[:0], frh.payload[8:]...)

	return nil
}

func (ga *GoAway) Serialize(frh *FrameHeader) {
	frh.payload = netutils.AppendUint32Bytes(frh.payload[:0], ga.lastStream)
	frh.payload = netutils.AppendUint32Bytes(frh.payload, uint32(ga.code))
	frh.payload = append(frh.payload, ga.data...)
}
