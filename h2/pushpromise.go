package h2

import (
	"github.com/domsolutions/netloop/netutils"
)

var (
	_ Frame            = &PushPromise{}
	_ FrameWithHeaders = &PushPromise{}
)

// PushPromise reserves a server-initiated stream, carrying the
// promised request's header block.
//
// https://tools.ietf.org/html/rfc7540#section-6.6
type PushPromise struct {
	hasPadding bool
	endHeaders bool
	stream     uint32 // promised stream id
	header     []byte // header block fragment
}

func (pp *PushPromise) Type() FrameType {
	return FramePushPromise
}

func (pp *PushPromise) Reset() {
	pp.hasPadding = false
	pp.endHeaders = false
	pp.stream = 0
	pp.header = pp.header[:0]
}

// Promised returns the promised stream id.
func (pp *PushPromise) Promised() uint32 {
	return pp.stream
}

func (pp *PushPromise) SetPromised(stream uint32) {
	pp.stream = stream & (1<<31 - 1)
}

func (pp *PushPromise) Headers() []byte {
	return pp.header
}

func (pp *PushPromise) EndHeaders() bool {
	return pp.endHeaders
}

func (pp *PushPromise) SetEndHeaders(value bool) {
	pp.endHeaders = value
}

func (pp *PushPromise) SetHeaders(h []byte) {
	pp.header = append(pp.header[:0], h...)
}

func (pp *PushPromise) Write(b []byte) (int, error) {
	n := len(b)
	pp.header = append(pp.header, b...)
	return n, nil
}

func (pp *PushPromise) Deserialize(frh *FrameHeader) error {
	payload := frh.payload

	if frh.Flags().Has(FlagPadded) {
		var err error
		payload, err = netutils.CutPadding(payload, frh.Len())
		if err != nil {
			return NewGoAwayError(ProtocolError, err.Error())
		}
	}

	if len(payload) < 4 {
		return NewGoAwayError(FrameSizeError, "push_promise carries no promised stream id")
	}

	pp.stream = netutils.BytesToUint32(payload) & (1<<31 - 1)
	pp.header = append(pp.header[:0], payload[4:]...)
	pp.endHeaders = frh.Flags().Has(FlagEndHeaders)

	return nil
}

func (pp *PushPromise) Serialize(frh *FrameHeader) {
	if pp.endHeaders {
		frh.SetFlags(
			frh.Flags().Add(FlagEndHeaders))
	}

	frh.payload = netutils.AppendUint32Bytes(frh.payload[:0], pp.stream)
	frh.payload = append(frh.payload, pp.header...)

	if pp.hasPadding {
		frh.SetFlags(
			frh.Flags().Add(FlagPadded))
		frh.payload = netutils.AddPadding(frh.payload)
	}
}
