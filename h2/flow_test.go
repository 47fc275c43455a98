package h2

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFlowBytesSentSaturates(t *testing.T) {
	var fc flowControl
	fc.init(65535, 100, nil)

	fc.bytesSent(60)
	require.Equal(t, int64(40), fc.remoteWindowSize())

	// over-sending clamps at zero instead of going negative
	fc.bytesSent(100)
	require.Equal(t, int64(0), fc.remoteWindowSize())
}

func TestFlowLocalRefill(t *testing.T) {
	var fc flowControl
	fc.init(65535, 65535, nil)

	var updates []uint32
	fc.onUpdate = func(inc uint32) { updates = append(updates, inc) }

	fc.bytesReceived(30000)
	require.Empty(t, updates)
	require.Equal(t, int64(35535), fc.localWindowSize())

	// crossing the floor triggers a refill back to the step
	fc.bytesReceived(5000)
	require.Len(t, updates, 1)
	require.Equal(t, uint32(35000), updates[0])
	require.Equal(t, int64(65535), fc.localWindowSize())
}

func TestFlowRemoteOverflow(t *testing.T) {
	var fc flowControl
	fc.init(65535, 65535, nil)

	err := fc.updateRemoteWindow(maxWindowSize)
	require.Error(t, err)

	var h2err Error
	require.True(t, asH2Error(err, &h2err))
	require.Equal(t, FlowControlError, h2err.Code())

	// an in-bounds delta still applies
	require.NoError(t, fc.updateRemoteWindow(100))
	require.Equal(t, int64(65635), fc.remoteWindowSize())

	// negative deltas may push the window below zero (settings shrink)
	require.NoError(t, fc.updateRemoteWindow(-70000))
	require.Equal(t, int64(-4365), fc.remoteWindowSize())
}
