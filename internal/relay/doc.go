// Package relay is the signaling core: connection handles, the room registry,
// broadcast fan-out and the manager that dispatches client frames.
//
// Room membership lives behind a single registry mutex. A connection's room
// and the room's member set always change together, so a broadcast never
// observes a half-applied join or leave.
package relay
