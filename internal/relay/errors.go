package relay

import "errors"

var (
	ErrTooManyConnections = errors.New("too many connections")
	ErrConnClosed         = errors.New("connection closed")
	ErrMalformedEnvelope  = errors.New("malformed envelope")
	ErrInvalidRoomName    = errors.New("invalid room name")
)

// ErrNotInRoom is returned by Manager.HandleFrame for a relayed frame from a
// connection that has not joined a room. The frame is dropped.
var ErrNotInRoom = errors.New("not in a room")
