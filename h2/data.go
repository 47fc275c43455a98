package h2

import (
	"github.com/domsolutions/netloop/netutils"
)

var _ Frame = &Data{}

// Data defines a FrameData.
//
// Data frames can have the following flags:
// END_STREAM
// PADDED
//
// https://tools.ietf.org/html/rfc7540#section-6.1
type Data struct {
	endStream  bool
	hasPadding bool
	b          []byte // data bytes
}

func (data *Data) Type() FrameType {
	return FrameData
}

func (data *Data) Reset() {
	data.endStream = false
	data.hasPadding = false
	data.b = data.b[:0]
}

// CopyTo copies data to d.
func (data *Data) CopyTo(d *Data) {
	d.hasPadding = data.hasPadding
	d.endStream = data.endStream
	d.b = append(d.b[:0], data.b...)
}

func (data *Data) SetEndStream(value bool) {
	data.endStream = value
}

func (data *Data) EndStream() bool {
	return data.endStream
}

// Data returns the data bytes.
func (data *Data) Data() []byte {
	return data.b
}

// SetData resets the data byte slice and sets b.
func (data *Data) SetData(b []byte) {
	data.b = append(data.b[:0], b...)
}

// Padding returns true if the data will be/was padded.
func (data *Data) Padding() bool {
	return data.hasPadding
}

// SetPadding sets padding to the data if true.
func (data *Data) SetPadding(value bool) {
	data.hasPadding = value
}

// Append appends b to data.
func (data *Data) Append(b []byte) {
	data.b = append(data.b, b...)
}

func (data *Data) Len() int {
	return len(data.b)
}

// Write writes b to data.
//
// This function is compatible with io.Writer.
func (data *Data) Write(b []byte) (int, error) {
	n := len(b)
	data.Append(b)

	return n, nil
}

func (data *Data) Deserialize(frh *FrameHeader) error {
	payload := frh.payload

	if frh.Flags().Has(FlagPadded) {
		var err error
		payload, err = netutils.CutPadding(payload, frh.Len())
		if err != nil {
			return NewGoAwayError(ProtocolError, err.Error())
		}
	}

	data.endStream = frh.Flags().Has(FlagEndStream)
	data.b = append(data.b[:0], payload...)

	return nil
}

func (data *Data) Serialize(frh *FrameHeader) {
	if data.endStream {
		frh.SetFlags(
			frh.Flags().Add(FlagEndStream))
	}

	if data.hasPadding {
		frh.SetFlags(
			frh.Flags().Add(FlagPadded))
		data.b = netutils.AddPadding(data.b)
	}

	frh.setPayload(data.b)
}
