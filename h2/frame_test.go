package h2

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// encodeFrame serializes body into wire bytes.
func encodeFrame(t *testing.T, stream uint32, body Frame) []byte {
	t.Helper()

	frh := AcquireFrameHeader()
	defer frameHeaderPool.Put(frh)
	frh.SetStream(stream)
	frh.SetBody(body)

	b, err := frh.AppendTo(nil)
	require.NoError(t, err)
	return b
}

// decodeOne runs the incremental parser over b and returns the single
// decoded frame's body, copied out.
func decodeOne(t *testing.T, b []byte) (kind FrameType, flags FrameFlags, stream uint32, body Frame) {
	t.Helper()

	fp := NewFrameParser(0)
	count := 0

	_, err := fp.Feed(b, func(frh *FrameHeader) error {
		count++
		kind = frh.Type()
		flags = frh.Flags()
		stream = frh.Stream()

		switch fr := frh.Body().(type) {
		case *Data:
			cp := &Data{}
			fr.CopyTo(cp)
			body = cp
		case *Headers:
			cp := &Headers{}
			fr.CopyTo(cp)
			body = cp
		case *Settings:
			cp := &Settings{}
			fr.CopyTo(cp)
			body = cp
		case *Ping:
			cp := &Ping{}
			fr.CopyTo(cp)
			body = cp
		case *GoAway:
			cp := &GoAway{}
			fr.CopyTo(cp)
			body = cp
		case *WindowUpdate:
			cp := &WindowUpdate{}
			fr.CopyTo(cp)
			body = cp
		case *RstStream:
			cp := &RstStream{}
			fr.CopyTo(cp)
			body = cp
		case *Priority:
			cp := &Priority{}
			fr.CopyTo(cp)
			body = cp
		case *Continuation:
			cp := &Continuation{}
			fr.CopyTo(cp)
			body = cp
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 1, count)

	return kind, flags, stream, body
}

func TestDataRoundTrip(t *testing.T) {
	data := &Data{}
	data.SetData([]byte("make fasthttp great again"))
	data.SetEndStream(true)

	raw := encodeFrame(t, 1, data)

	kind, flags, stream, body := decodeOne(t, raw)
	require.Equal(t, FrameData, kind)
	require.True(t, flags.Has(FlagEndStream))
	require.Equal(t, uint32(1), stream)

	got := body.(*Data)
	require.Equal(t, "make fasthttp great again", string(got.Data()))
	require.True(t, got.EndStream())
}

func TestDataPaddedRoundTrip(t *testing.T) {
	data := &Data{}
	data.SetData([]byte("padded payload"))
	data.SetPadding(true)

	raw := encodeFrame(t, 3, data)

	_, flags, _, body := decodeOne(t, raw)
	require.True(t, flags.Has(FlagPadded))
	require.Equal(t, "padded payload", string(body.(*Data).Data()))
}

func TestHeadersRoundTrip(t *testing.T) {
	h := &Headers{}
	h.SetHeaders([]byte{0x82, 0x86})
	h.SetEndHeaders(true)
	h.SetEndStream(true)

	raw := encodeFrame(t, 5, h)

	kind, _, stream, body := decodeOne(t, raw)
	require.Equal(t, FrameHeaders, kind)
	require.Equal(t, uint32(5), stream)

	got := body.(*Headers)
	require.Equal(t, []byte{0x82, 0x86}, got.Headers())
	require.True(t, got.EndHeaders())
	require.True(t, got.EndStream())
}

func TestSettingsRoundTripPreservesOrder(t *testing.T) {
	st := &Settings{}
	st.Set(SettingMaxFrameSize, 1<<15)
	st.Set(SettingHeaderTableSize, 8192)
	st.Set(SettingInitialWindowSize, 1<<20)
	st.Set(SettingEnableConnectProtocol, 1)

	raw := encodeFrame(t, 0, st)

	_, _, _, body := decodeOne(t, raw)
	got := body.(*Settings)

	require.Equal(t, []Setting{
		{SettingMaxFrameSize, 1 << 15},
		{SettingHeaderTableSize, 8192},
		{SettingInitialWindowSize, 1 << 20},
		{SettingEnableConnectProtocol, 1},
	}, got.Pairs())

	require.Equal(t, uint32(1<<15), got.MaxFrameSize())
	require.True(t, got.EnableConnectProtocol())
	// absent ids fall back to defaults
	require.Equal(t, uint32(defaultConcurrentStreams), got.MaxConcurrentStreams())
}

func TestSettingsAckWithPayloadRejected(t *testing.T) {
	frh := AcquireFrameHeader()
	defer frameHeaderPool.Put(frh)

	st := &Settings{}
	st.SetAck(true)
	frh.SetBody(st)
	frh.SetFlags(frh.Flags().Add(FlagAck))
	frh.payload = append(frh.payload, make([]byte, 6)...)

	err := st.Deserialize(frh)
	require.Error(t, err)

	var h2err Error
	require.True(t, asH2Error(err, &h2err))
	require.Equal(t, FrameSizeError, h2err.Code())
}

func TestPingRoundTrip(t *testing.T) {
	ping := &Ping{}
	ping.SetData([]byte{1, 2, 3, 4, 5, 6, 7, 8})

	raw := encodeFrame(t, 0, ping)
	require.Equal(t, []byte{0x00, 0x00, 0x08, 0x06, 0x00, 0x00, 0x00, 0x00, 0x00}, raw[:9])

	_, _, _, body := decodeOne(t, raw)
	require.Equal(t, []byte{1, 2, 3, 4, 5, 6, 7, 8}, body.(*Ping).Data())
}

func TestPingBadLength(t *testing.T) {
	// 7-byte ping payload must fail with FRAME_SIZE_ERROR
	raw := []byte{0x00, 0x00, 0x07, 0x06, 0x00, 0x00, 0x00, 0x00, 0x00,
		1, 2, 3, 4, 5, 6, 7}

	fp := NewFrameParser(0)
	_, err := fp.Feed(raw, func(*FrameHeader) error { return nil })
	require.Error(t, err)

	var h2err Error
	require.True(t, asH2Error(err, &h2err))
	require.Equal(t, FrameSizeError, h2err.Code())
}

func TestGoAwayRoundTrip(t *testing.T) {
	ga := &GoAway{}
	ga.SetLastStream(7)
	ga.SetCode(EnhanceYourCalm)
	ga.SetData([]byte("slow down"))

	raw := encodeFrame(t, 0, ga)

	_, _, _, body := decodeOne(t, raw)
	got := body.(*GoAway)
	require.Equal(t, uint32(7), got.LastStream())
	require.Equal(t, EnhanceYourCalm, got.Code())
	require.Equal(t, "slow down", string(got.Data()))
}

func TestWindowUpdateRoundTrip(t *testing.T) {
	wu := &WindowUpdate{}
	wu.SetIncrement(65535)

	raw := encodeFrame(t, 9, wu)

	_, _, stream, body := decodeOne(t, raw)
	require.Equal(t, uint32(9), stream)
	require.Equal(t, uint32(65535), body.(*WindowUpdate).Increment())
}

func TestRstStreamRoundTrip(t *testing.T) {
	rst := &RstStream{}
	rst.SetCode(CancelError)

	raw := encodeFrame(t, 11, rst)

	_, _, _, body := decodeOne(t, raw)
	require.Equal(t, CancelError, body.(*RstStream).Code())
}

func TestParserHandlesSplitInput(t *testing.T) {
	data := &Data{}
	data.SetData([]byte("split across many reads"))
	raw := encodeFrame(t, 1, data)

	fp := NewFrameParser(0)
	var got []byte
	emit := func(frh *FrameHeader) error {
		got = append(got, frh.Body().(*Data).Data()...)
		return nil
	}

	for _, b := range raw {
		_, err := fp.Feed([]byte{b}, emit)
		require.NoError(t, err)
	}

	require.Equal(t, "split across many reads", string(got))
}

func TestParserRejectsOversizedFrame(t *testing.T) {
	data := &Data{}
	data.SetData(make([]byte, 2048))
	raw := encodeFrame(t, 1, data)

	fp := NewFrameParser(1024)
	_, err := fp.Feed(raw, func(*FrameHeader) error { return nil })
	require.Error(t, err)

	var h2err Error
	require.True(t, asH2Error(err, &h2err))
	require.Equal(t, FrameSizeError, h2err.Code())
	require.True(t, h2err.IsStreamError())
}

func TestParserSkipsUnknownFrameType(t *testing.T) {
	unknown := []byte{0x00, 0x00, 0x02, 0xBB, 0x00, 0x00, 0x00, 0x00, 0x00, 0xde, 0xad}

	ping := &Ping{}
	ping.SetData([]byte{1, 2, 3, 4, 5, 6, 7, 8})
	raw := append(unknown, encodeFrame(t, 0, ping)...)

	fp := NewFrameParser(0)
	var kinds []FrameType
	_, err := fp.Feed(raw, func(frh *FrameHeader) error {
		kinds = append(kinds, frh.Type())
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, []FrameType{FramePing}, kinds)
}
