package h2

import (
	"github.com/domsolutions/netloop/netutils"
)

const (
	// default Settings parameters
	defaultHeaderTableSize   uint32 = 4096
	defaultConcurrentStreams uint32 = 100
	defaultWindowSize        uint32 = 1<<16 - 1
	defaultMaxFrameSize      uint32 = 1 << 14

	maxWindowSize = 1<<31 - 1
	maxFrameSize  = 1<<24 - 1

	// Setting identifiers (https://httpwg.org/specs/rfc7540.html#SettingValues
	// plus RFC 8441 §3)
	SettingHeaderTableSize       uint16 = 0x1
	SettingEnablePush            uint16 = 0x2
	SettingMaxConcurrentStreams  uint16 = 0x3
	SettingInitialWindowSize     uint16 = 0x4
	SettingMaxFrameSize          uint16 = 0x5
	SettingMaxHeaderListSize     uint16 = 0x6
	SettingEnableConnectProtocol uint16 = 0x8
)

// Setting is a single (id, value) pair of a SETTINGS frame.
type Setting struct {
	ID    uint16
	Value uint32
}

var _ Frame = &Settings{}

// Settings is the ordered list of (id, value) pairs exchanged at
// connection start. Order is preserved across encode/decode; typed
// accessors fall back to the RFC defaults when a pair is absent.
//
// https://tools.ietf.org/html/rfc7540#section-6.5
type Settings struct {
	ack   bool
	pairs []Setting
}

func (st *Settings) Type() FrameType {
	return FrameSettings
}

func (st *Settings) Reset() {
	st.ack = false
	st.pairs = st.pairs[:0]
}

func (st *Settings) CopyTo(other *Settings) {
	other.ack = st.ack
	other.pairs = append(other.pairs[:0], st.pairs...)
}

func (st *Settings) IsAck() bool {
	return st.ack
}

func (st *Settings) SetAck(ack bool) {
	st.ack = ack
}

// Pairs returns the settings in wire order.
func (st *Settings) Pairs() []Setting {
	return st.pairs
}

// Get returns the last value set for id.
func (st *Settings) Get(id uint16) (uint32, bool) {
	for i := len(st.pairs) - 1; i >= 0; i-- {
		if st.pairs[i].ID == id {
			return st.pairs[i].Value, true
		}
	}
	return 0, false
}

// Set overwrites the pair for id, appending when absent.
func (st *Settings) Set(id uint16, value uint32) {
	for i := range st.pairs {
		if st.pairs[i].ID == id {
			st.pairs[i].Value = value
			return
		}
	}
	st.pairs = append(st.pairs, Setting{ID: id, Value: value})
}

func (st *Settings) getOr(id uint16, def uint32) uint32 {
	if v, ok := st.Get(id); ok {
		return v
	}
	return def
}

func (st *Settings) HeaderTableSize() uint32 {
	return st.getOr(SettingHeaderTableSize, defaultHeaderTableSize)
}

func (st *Settings) SetHeaderTableSize(n uint32) {
	st.Set(SettingHeaderTableSize, n)
}

func (st *Settings) EnablePush() bool {
	return st.getOr(SettingEnablePush, 1) == 1
}

func (st *Settings) SetEnablePush(enable bool) {
	var v uint32
	if enable {
		v = 1
	}
	st.Set(SettingEnablePush, v)
}

func (st *Settings) MaxConcurrentStreams() uint32 {
	return st.getOr(SettingMaxConcurrentStreams, defaultConcurrentStreams)
}

func (st *Settings) SetMaxConcurrentStreams(n uint32) {
	st.Set(SettingMaxConcurrentStreams, n)
}

func (st *Settings) InitialWindowSize() uint32 {
	return st.getOr(SettingInitialWindowSize, defaultWindowSize)
}

func (st *Settings) SetInitialWindowSize(n uint32) {
	st.Set(SettingInitialWindowSize, n)
}

func (st *Settings) MaxFrameSize() uint32 {
	return st.getOr(SettingMaxFrameSize, defaultMaxFrameSize)
}

func (st *Settings) SetMaxFrameSize(n uint32) {
	st.Set(SettingMaxFrameSize, n)
}

func (st *Settings) MaxHeaderListSize() uint32 {
	return st.getOr(SettingMaxHeaderListSize, 0)
}

func (st *Settings) SetMaxHeaderListSize(n uint32) {
	st.Set(SettingMaxHeaderListSize, n)
}

func (st *Settings) EnableConnectProtocol() bool {
	return st.getOr(SettingEnableConnectProtocol, 0) == 1
}

func (st *Settings) SetEnableConnectProtocol(enable bool) {
	var v uint32
	if enable {
		v = 1
	}
	st.Set(SettingEnableConnectProtocol, v)
}

// Encode appends the settings payload (without frame header) to dst.
func (st *Settings) Encode(dst []byte) []byte {
	for _, p := range st.pairs {
		dst = netutils.AppendUint16Bytes(dst, p.ID)
		dst = netutils.AppendUint32Bytes(dst, p.Value)
	}
	return dst
}

// Decode parses a settings payload. Unknown ids are kept; a peer must
// ignore them, not reject them.
func (st *Settings) Decode(d []byte) error {
	if len(d)%6 != 0 {
		return NewGoAwayError(FrameSizeError, "settings payload not a multiple of 6")
	}

	st.pairs = st.pairs[:0]
	for i := 0; i+6 <= len(d); i += 6 {
		st.pairs = append(st.pairs, Setting{
			ID:    netutils.BytesToUint16(d[i:]),
			Value: netutils.BytesToUint32(d[i+2:]),
		})
	}

	return nil
}

func (st *Settings) Deserialize(frh *FrameHeader) error {
	st.ack = frh.Flags().Has(FlagAck)

	if st.ack && len(frh.payload) != 0 {
		return NewGoAwayError(FrameSizeError, "settings ack with non-empty payload")
	}

	return st.Decode(frh.payload)
}

func (st *Settings) Serialize(frh *FrameHeader) {
	if st.ack {
		frh.SetFlags(frh.Flags().Add(FlagAck))
		frh.payload = frh.payload[:0]
		return
	}

	frh.payload = st.Encode(frh.payload[:0])
}
