package h2

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHPACKRoundTrip(t *testing.T) {
	enc := NewHPACK()
	dec := NewHPACK()

	fields := []HeaderField{
		MakeHeaderField("content-type", "text/html"),
		MakeHeaderField(":method", "GET"),
		MakeHeaderField(":path", "/index.html"),
		MakeHeaderField("x-custom", "value"),
	}

	block, err := enc.Encode(fields, nil)
	require.NoError(t, err)

	got, err := dec.Decode(block, nil)
	require.NoError(t, err)
	require.Len(t, got, 4)

	// pseudo headers come first, the remainder keeps its order
	require.Equal(t, ":method", got[0].Key())
	require.Equal(t, ":path", got[1].Key())
	require.Equal(t, "content-type", got[2].Key())
	require.Equal(t, "text/html", got[2].Value())
	require.Equal(t, "x-custom", got[3].Key())
}

func TestHPACKDynamicTable(t *testing.T) {
	enc := NewHPACK()
	dec := NewHPACK()

	fields := []HeaderField{
		MakeHeaderField("x-session", "abcdef0123456789"),
	}

	// repeated headers hit the dynamic table and shrink on the wire
	first, err := enc.Encode(fields, nil)
	require.NoError(t, err)
	second, err := enc.Encode(fields, nil)
	require.NoError(t, err)
	require.Less(t, len(second), len(first))

	for _, block := range [][]byte{first, second} {
		got, err := dec.Decode(block, nil)
		require.NoError(t, err)
		require.Equal(t, "x-session", got[0].Key())
		require.Equal(t, "abcdef0123456789", got[0].Value())
	}
}

func TestHPACKDecodeGarbage(t *testing.T) {
	dec := NewHPACK()

	_, err := dec.Decode([]byte{0x40, 0xff, 0xff, 0xff, 0xff}, nil)
	require.Error(t, err)

	var h2err Error
	require.True(t, asH2Error(err, &h2err))
	require.Equal(t, CompressionError, h2err.Code())
	require.False(t, h2err.IsStreamError())
}

func TestHeaderFieldSensible(t *testing.T) {
	var hf HeaderField
	hf.Set("authorization", "secret")
	hf.SetSensible(true)

	require.True(t, hf.IsSensible())
	require.False(t, hf.IsPseudo())
	require.Equal(t, len("authorization")+len("secret")+32, hf.Size())
}
