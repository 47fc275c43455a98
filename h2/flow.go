package h2

import (
	"go.uber.org/zap"
)

const (
	// local window floor below which a refill WINDOW_UPDATE is emitted
	defaultLocalWindowFloor = 32768
)

// flowControl tracks the two flow-control windows of one owner — a
// stream or the whole connection. localWindow is how much this
// endpoint will still accept; remoteWindow is how much it may still
// send.
//
// https://tools.ietf.org/html/rfc7540#section-5.2
type flowControl struct {
	localWindow  int64
	remoteWindow int64

	// refill target for the local window
	localStep  int64
	localFloor int64

	// onUpdate emits a WINDOW_UPDATE with the given increment.
	onUpdate func(increment uint32)

	log *zap.Logger
}

func (fc *flowControl) init(localWindow, remoteWindow uint32, log *zap.Logger) {
	fc.localWindow = int64(localWindow)
	fc.remoteWindow = int64(remoteWindow)
	fc.localStep = int64(localWindow)
	fc.localFloor = defaultLocalWindowFloor
	if fc.localFloor > fc.localStep {
		fc.localFloor = fc.localStep / 2
	}
	if log == nil {
		log = zap.NewNop()
	}
	fc.log = log
}

func (fc *flowControl) localWindowSize() int64  { return fc.localWindow }
func (fc *flowControl) remoteWindowSize() int64 { return fc.remoteWindow }

// setLocalStep configures the refill target: when the local window
// drops below the floor it is topped back up to this level.
func (fc *flowControl) setLocalStep(step uint32) {
	fc.localStep = int64(step)
}

// bytesSent subtracts from the remote window, saturating at zero.
func (fc *flowControl) bytesSent(n int) {
	fc.remoteWindow -= int64(n)
	if fc.remoteWindow < 0 {
		fc.log.Warn("remote flow-control window underrun",
			zap.Int64("window", fc.remoteWindow))
		fc.remoteWindow = 0
	}
}

// bytesReceived subtracts from the local window and tops it up via
// the WINDOW_UPDATE callback once it drops below the floor.
func (fc *flowControl) bytesReceived(n int) {
	fc.localWindow -= int64(n)

	if fc.localWindow < fc.localFloor {
		inc := fc.localStep - fc.localWindow
		if inc <= 0 {
			return
		}
		fc.localWindow += inc
		if fc.onUpdate != nil {
			fc.onUpdate(uint32(inc))
		}
	}
}

// updateRemoteWindow applies a signed delta — a WINDOW_UPDATE
// increment or an INITIAL_WINDOW_SIZE change. Growth past 2³¹-1 is a
// FLOW_CONTROL_ERROR.
func (fc *flowControl) updateRemoteWindow(delta int64) error {
	next := fc.remoteWindow + delta
	if next > maxWindowSize {
		return NewGoAwayError(FlowControlError, "remote window overflow")
	}
	fc.remoteWindow = next
	return nil
}
