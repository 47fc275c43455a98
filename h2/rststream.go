package h2

import (
	"github.com/domsolutions/netloop/netutils"
)

var _ Frame = &RstStream{}

// RstStream terminates a stream with an error code.
//
// https://tools.ietf.org/html/rfc7540#section-6.4
type RstStream struct {
	code ErrorCode
}

func (rst *RstStream) Type() FrameType {
	return FrameResetStream
}

func (rst *RstStream) Code() ErrorCode {
	return rst.code
}

func (rst *RstStream) SetCode(code ErrorCode) {
	rst.code = code
}

func (rst *RstStream) Reset() {
	rst.code = 0
}

func (rst *RstStream) CopyTo(r *RstStream) {
	r.code = rst.code
}

// Error returns the carried code as a stream-scoped Error.
func (rst *RstStream) Error() error {
	return NewStreamError(rst.code, "")
}

func (rst *RstStream) Deserialize(frh *FrameHeader) error {
	if len(frh.payload) != 4 {
		return NewGoAwayError(FrameSizeError, "rst_stream payload must be 4 bytes")
	}

	rst.code = ErrorCode(netutils.BytesToUint32(frh.payload))

	return nil
}

func (rst *RstStream) Serialize(frh *FrameHeader) {
	frh.payload = netutils.AppendUint32Bytes(frh.payload[:0], uint32(rst.code))
}
