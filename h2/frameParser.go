package h2

// parserState tracks the incremental frame decoder.
type parserState int8

const (
	stateReadHeader parserState = iota
	stateReadPayload
)

// FrameParser incrementally decodes frames from byte chunks pushed in
// by the transport. The payload buffer is reused between frames.
type FrameParser struct {
	state parserState

	hdr    [DefaultFrameSize]byte
	hdrLen int

	frh     *FrameHeader
	got     int
	skip    bool
	maxLen  uint32
	payload []byte
}

// NewFrameParser returns a parser enforcing the given max frame size.
func NewFrameParser(maxLen uint32) *FrameParser {
	if maxLen == 0 {
		maxLen = defaultMaxLen
	}
	return &FrameParser{maxLen: maxLen}
}

// SetMaxLen updates the enforced SETTINGS_MAX_FRAME_SIZE.
func (fp *FrameParser) SetMaxLen(maxLen uint32) {
	fp.maxLen = maxLen
}

// Feed consumes b, invoking emit once per complete frame. The frame
// passed to emit is only valid during the call. Unknown frame types
// are discarded without emitting.
//
// Feed returns the number of bytes consumed; on error the parser must
// not be fed again.
func (fp *FrameParser) Feed(b []byte, emit func(*FrameHeader) error) (int, error) {
	consumed := 0

	for len(b) > 0 {
		switch fp.state {
		case stateReadHeader:
			n := copy(fp.hdr[fp.hdrLen:], b)
			fp.hdrLen += n
			b = b[n:]
			consumed += n

			if fp.hdrLen < DefaultFrameSize {
				return consumed, nil
			}

			fp.hdrLen = 0
			fp.frh = AcquireFrameHeader()
			fp.frh.maxLen = fp.maxLen
			fp.frh.parseValues(fp.hdr[:])

			if err := fp.frh.checkLen(); err != nil {
				code := NewGoAwayError(FrameSizeError, "frame exceeds max size")
				if isStreamScoped(fp.frh.kind, fp.frh.stream) {
					code = NewStreamError(FrameSizeError, "frame exceeds max size").
						WithStream(fp.frh.stream)
				}
				fp.abort()
				return consumed, code
			}

			fp.skip = fp.frh.kind > FrameContinuation
			if !fp.skip {
				fp.frh.fr = AcquireFrame(fp.frh.kind)
			}

			fp.got = 0
			fp.frh.payload = fp.payload[:0]
			fp.state = stateReadPayload

			fallthrough

		case stateReadPayload:
			want := fp.frh.length - fp.got
			if want > len(b) {
				want = len(b)
			}

			fp.frh.payload = append(fp.frh.payload, b[:want]...)
			fp.got += want
			b = b[want:]
			consumed += want

			if fp.got < fp.frh.length {
				return consumed, nil
			}

			frh := fp.frh
			fp.frh = nil
			fp.state = stateReadHeader

			if fp.skip {
				// unknown frame types are ignored and discarded
				fp.payload = frh.payload
				frameHeaderPool.Put(frh)
				continue
			}

			if err := frh.fr.Deserialize(frh); err != nil {
				fp.payload = frh.payload
				ReleaseFrameHeader(frh)
				fp.abort()
				return consumed, err
			}

			err := emit(frh)

			fp.payload = frh.payload
			ReleaseFrameHeader(frh)

			if err != nil {
				fp.abort()
				return consumed, err
			}
		}
	}

	return consumed, nil
}

func (fp *FrameParser) abort() {
	if fp.frh != nil {
		if fp.frh.fr != nil {
			ReleaseFrame(fp.frh.fr)
			fp.frh.fr = nil
		}
		frameHeaderPool.Put(fp.frh)
		fp.frh = nil
	}
	fp.state = stateReadHeader
	fp.hdrLen = 0
}
