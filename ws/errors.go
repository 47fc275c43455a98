package ws

import "errors"

var (
	ErrNeedMoreData  = errors.New("need more data")
	ErrInvalidFrame  = errors.New("invalid frame")
	ErrInvalidLength = errors.New("invalid payload length")
	ErrProtocolError = errors.New("websocket protocol error")
	ErrClosed        = errors.New("connection closed")
)
