package http1

import (
	"github.com/domsolutions/netloop"
)

type chunkState int8

const (
	chunkStateSize chunkState = iota
	chunkStateSizeLF
	chunkStateData
	chunkStateDataCR
	chunkStateDataLF
	chunkStateTrailer
	chunkStateDone
)

// ChunkedDecoder incrementally unframes a chunked body. Decoded
// payload bytes go to emit; Done reports the terminating zero chunk.
type ChunkedDecoder struct {
	state   chunkState
	size    int64
	remain  int64
	sawSize bool
}

// Done reports whether the final chunk has been consumed.
func (cd *ChunkedDecoder) Done() bool {
	return cd.state == chunkStateDone
}

// Reset prepares the decoder for the next message.
func (cd *ChunkedDecoder) Reset() {
	*cd = ChunkedDecoder{}
}

// Feed consumes b, calling emit for every decoded payload run, and
// returns the number of bytes consumed.
func (cd *ChunkedDecoder) Feed(b []byte, emit func(p []byte)) (int, error) {
	consumed := 0

	for len(b) > 0 && cd.state != chunkStateDone {
		switch cd.state {
		case chunkStateSize:
			ch := b[0]
			switch {
			case ch >= '0' && ch <= '9':
				cd.size = cd.size<<4 | int64(ch-'0')
				cd.sawSize = true
			case ch >= 'a' && ch <= 'f':
				cd.size = cd.size<<4 | int64(ch-'a'+10)
				cd.sawSize = true
			case ch >= 'A' && ch <= 'F':
				cd.size = cd.size<<4 | int64(ch-'A'+10)
				cd.sawSize = true
			case ch == '\r':
				if !cd.sawSize {
					return consumed, netloop.ErrInvalidProto
				}
				cd.state = chunkStateSizeLF
			default:
				return consumed, netloop.ErrInvalidProto
			}
			b = b[1:]
			consumed++

		case chunkStateSizeLF:
			if b[0] != '\n' {
				return consumed, netloop.ErrInvalidProto
			}
			b = b[1:]
			consumed++

			if cd.size == 0 {
				cd.state = chunkStateTrailer
			} else {
				cd.remain = cd.size
				cd.state = chunkStateData
			}

		case chunkStateData:
			n := int64(len(b))
			if n > cd.remain {
				n = cd.remain
			}
			emit(b[:n])
			b = b[n:]
			consumed += int(n)
			cd.remain -= n

			if cd.remain == 0 {
				cd.state = chunkStateDataCR
			}

		case chunkStateDataCR:
			if b[0] != '\r' {
				return consumed, netloop.ErrInvalidProto
			}
			b = b[1:]
			consumed++
			cd.state = chunkStateDataLF

		case chunkStateDataLF:
			if b[0] != '\n' {
				return consumed, netloop.ErrInvalidProto
			}
			b = b[1:]
			consumed++

			cd.size = 0
			cd.sawSize = false
			cd.state = chunkStateSize

		case chunkStateTrailer:
			// no trailer support; expect the final CRLF
			if b[0] == '\r' {
				b = b[1:]
				consumed++
				if len(b) == 0 {
					return consumed, nil
				}
			}
			if b[0] != '\n' {
				return consumed, netloop.ErrInvalidProto
			}
			b = b[1:]
			consumed++
			cd.state = chunkStateDone
		}
	}

	return consumed, nil
}
