package h2

import (
	"github.com/domsolutions/netloop/netutils"
)

var _ Frame = &Priority{}

// Priority represents the Priority frame.
//
// https://tools.ietf.org/html/rfc7540#section-6.3
type Priority struct {
	stream uint32
	weight byte
}

func (pry *Priority) Type() FrameType {
	return FramePriority
}

// Reset resets priority fields.
func (pry *Priority) Reset() {
	pry.stream = 0
	pry.weight = 0
}

func (pry *Priority) CopyTo(p *Priority) {
	p.stream = pry.stream
	p.weight = pry.weight
}

// Stream returns the dependency stream.
func (pry *Priority) Stream() uint32 {
	return pry.stream
}

// SetStream sets the dependency stream.
func (pry *Priority) SetStream(stream uint32) {
	pry.stream = stream & (1<<31 - 1)
}

// Weight returns the Priority frame weight.
func (pry *Priority) Weight() byte {
	return pry.weight
}

// SetWeight sets the Priority frame weight.
func (pry *Priority) SetWeight(w byte) {
	pry.weight = w
}

func (pry *Priority) Deserialize(frh *FrameHeader) error {
	if len(frh.payload) != 5 {
		return NewStreamError(FrameSizeError, "priority payload must be 5 bytes")
	}

	pry.stream = netutils.BytesToUint32(frh.payload) & (1<<31 - 1)
	pry.weight = frh.payload[4]

	return nil
}

func (pry *Priority) Serialize(frh *FrameHeader) {
	frh.payload = netutils.AppendUint32Bytes(frh.payload[:0], pry.stream)
	frh.payload = append(frh.payload, pry.weight)
}
