package h2

import (
	"bytes"

	"golang.org/x/net/http2/hpack"
)

// HPACK wraps the header compression codec. It owns the dynamic
// table; a fresh decoder is used per connection and its table size
// changes only via a received SETTINGS_HEADER_TABLE_SIZE.
//
// https://tools.ietf.org/html/rfc7541
type HPACK struct {
	encBuf bytes.Buffer
	enc    *hpack.Encoder
	dec    *hpack.Decoder
}

// NewHPACK returns a codec with the default 4096-byte tables.
func NewHPACK() *HPACK {
	hp := &HPACK{}
	hp.enc = hpack.NewEncoder(&hp.encBuf)
	hp.dec = hpack.NewDecoder(uint32(defaultHeaderTableSize), nil)
	return hp
}

// SetMaxTableSize sets the decoder's dynamic table limit, as
// instructed by the peer's SETTINGS.
func (hp *HPACK) SetMaxTableSize(n uint32) {
	hp.dec.SetMaxDynamicTableSize(n)
}

// SetMaxEncoderTableSize caps the encoder's dynamic table.
func (hp *HPACK) SetMaxEncoderTableSize(n uint32) {
	hp.enc.SetMaxDynamicTableSize(n)
}

// Encode appends the encoded header block for fields to dst. Pseudo
// headers are moved first.
func (hp *HPACK) Encode(fields []HeaderField, dst []byte) ([]byte, error) {
	SortPseudoFirst(fields)

	hp.encBuf.Reset()
	for i := range fields {
		hf := &fields[i]
		err := hp.enc.WriteField(hpack.HeaderField{
			Name:      string(hf.key),
			Value:     string(hf.value),
			Sensitive: hf.sensible,
		})
		if err != nil {
			return dst, NewGoAwayError(CompressionError, err.Error())
		}
	}

	return append(dst, hp.encBuf.Bytes()...), nil
}

// Decode parses a complete header block, appending the fields to dst.
// Decoder errors are always connection-scoped.
func (hp *HPACK) Decode(block []byte, dst []HeaderField) ([]HeaderField, error) {
	fields, err := hp.dec.DecodeFull(block)
	if err != nil {
		return dst, NewGoAwayError(CompressionError, err.Error())
	}

	for _, f := range fields {
		var hf HeaderField
		hf.Set(f.Name, f.Value)
		hf.sensible = f.Sensitive
		dst = append(dst, hf)
	}

	return dst, nil
}
