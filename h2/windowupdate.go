package h2

import (
	"github.com/domsolutions/netloop/netutils"
)

var _ Frame = &WindowUpdate{}

// WindowUpdate grants flow-control credit on a stream or, with
// stream id 0, on the whole connection.
//
// https://tools.ietf.org/html/rfc7540#section-6.9
type WindowUpdate struct {
	increment uint32
}

func (wu *WindowUpdate) Type() FrameType {
	return FrameWindowUpdate
}

func (wu *WindowUpdate) Reset() {
	wu.increment = 0
}

func (wu *WindowUpdate) CopyTo(w *WindowUpdate) {
	w.increment = wu.increment
}

func (wu *WindowUpdate) Increment() uint32 {
	return wu.increment
}

func (wu *WindowUpdate) SetIncrement(increment uint32) {
	wu.increment = increment & (1<<31 - 1)
}

func (wu *WindowUpdate) Deserialize(frh *FrameHeader) error {
	if len(frh.payload) != 4 {
		return NewGoAwayError(FrameSizeError, "window_update payload must be 4 bytes")
	}

	wu.increment = netutils.BytesToUint32(frh.payload) & (1<<31 - 1)

	return nil
}

func (wu *WindowUpdate) Serialize(frh *FrameHeader) {
	frh.payload = netutils.AppendUint32Bytes(frh.payload[:0], wu.increment)
}
