package h2

// Ping checks connection liveness, carrying 8 opaque bytes.
//
// https://tools.ietf.org/html/rfc7540#section-6.7
type Ping struct {
	ack  bool
	data [8]byte
}

var _ Frame = &Ping{}

func (ping *Ping) Type() FrameType {
	return FramePing
}

func (ping *Ping) Reset() {
	ping.ack = false
	ping.data = [8]byte{}
}

func (ping *Ping) CopyTo(p *Ping) {
	p.ack = ping.ack
	p.data = ping.data
}

func (ping *Ping) IsAck() bool {
	return ping.ack
}

func (ping *Ping) SetAck(ack bool) {
	ping.ack = ack
}

func (ping *Ping) SetData(b []byte) {
	copy(ping.data[:], b)
}

func (ping *Ping) Data() []byte {
	return ping.data[:]
}

func (ping *Ping) Deserialize(frh *FrameHeader) error {
	if len(frh.payload) != 8 {
		return NewGoAwayError(FrameSizeError, "ping payload must be 8 bytes")
	}

	ping.ack = frh.Flags().Has(FlagAck)
	ping.SetData(frh.payload)

	return nil
}

func (ping *Ping) Serialize(frh *FrameHeader) {
	if ping.ack {
		frh.SetFlags(frh.Flags().Add(FlagAck))
	}

	frh.setPayload(ping.data[:])
}
