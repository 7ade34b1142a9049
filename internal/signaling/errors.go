package signaling

import "errors"

var (
	ErrSendQueueFull = errors.New("send queue full")
	errTransportDone = errors.New("transport closed")
)
