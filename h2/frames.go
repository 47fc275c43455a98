package h2

import (
	"sync"
)

// FrameType identifies an HTTP/2 frame.
//
// https://tools.ietf.org/html/rfc7540#section-6
type FrameType uint8

const (
	FrameData         FrameType = 0x0
	FrameHeaders      FrameType = 0x1
	FramePriority     FrameType = 0x2
	FrameResetStream  FrameType = 0x3
	FrameSettings     FrameType = 0x4
	FramePushPromise  FrameType = 0x5
	FramePing         FrameType = 0x6
	FrameGoAway       FrameType = 0x7
	FrameWindowUpdate FrameType = 0x8
	FrameContinuation FrameType = 0x9
)

func (ft FrameType) String() string {
	switch ft {
	case FrameData:
		return "FrameData"
	case FrameHeaders:
		return "FrameHeaders"
	case FramePriority:
		return "FramePriority"
	case FrameResetStream:
		return "FrameResetStream"
	case FrameSettings:
		return "FrameSettings"
	case FramePushPromise:
		return "FramePushPromise"
	case FramePing:
		return "FramePing"
	case FrameGoAway:
		return "FrameGoAway"
	case FrameWindowUpdate:
		return "FrameWindowUpdate"
	case FrameContinuation:
		return "FrameContinuation"
	}

	return "FrameUnknown"
}

// FrameFlags is the 8-bit flag field of a frame header.
type FrameFlags uint8

const (
	FlagAck        FrameFlags = 0x1
	FlagEndStream  FrameFlags = 0x1
	FlagEndHeaders FrameFlags = 0x4
	FlagPadded     FrameFlags = 0x8
	FlagPriority   FrameFlags = 0x20
)

func (flags FrameFlags) Has(f FrameFlags) bool {
	return flags&f == f
}

func (flags FrameFlags) Add(f FrameFlags) FrameFlags {
	return flags | f
}

func (flags FrameFlags) Del(f FrameFlags) FrameFlags {
	return flags &^ f
}

// Frame is the typed body of a frame. Serialize writes the body into
// the FrameHeader's payload; Deserialize parses the payload into the
// body.
type Frame interface {
	Type() FrameType
	Reset()

	Serialize(*FrameHeader)
	Deserialize(*FrameHeader) error
}

var framePools = func() [FrameContinuation + 1]*sync.Pool {
	var pools [FrameContinuation + 1]*sync.Pool

	pools[FrameData] = &sync.Pool{New: func() interface{} { return &Data{} }}
	pools[FrameHeaders] = &sync.Pool{New: func() interface{} { return &Headers{} }}
	pools[FramePriority] = &sync.Pool{New: func() interface{} { return &Priority{} }}
	pools[FrameResetStream] = &sync.Pool{New: func() interface{} { return &RstStream{} }}
	pools[FrameSettings] = &sync.Pool{New: func() interface{} { return &Settings{} }}
	pools[FramePushPromise] = &sync.Pool{New: func() interface{} { return &PushPromise{} }}
	pools[FramePing] = &sync.Pool{New: func() interface{} { return &Ping{} }}
	pools[FrameGoAway] = &sync.Pool{New: func() interface{} { return &GoAway{} }}
	pools[FrameWindowUpdate] = &sync.Pool{New: func() interface{} { return &WindowUpdate{} }}
	pools[FrameContinuation] = &sync.Pool{New: func() interface{} { return &Continuation{} }}

	return pools
}()

// AcquireFrame gets a Frame of the given type from its pool.
func AcquireFrame(kind FrameType) Frame {
	fr := framePools[kind].Get().(Frame)
	fr.Reset()
	return fr
}

// ReleaseFrame puts fr back to its pool.
func ReleaseFrame(fr Frame) {
	if fr == nil {
		return
	}
	framePools[fr.Type()].Put(fr)
}
