package metrics

import (
	"maps"
	"sync"
)

// Event names. Connection and room lifecycle first, then frame handling, then
// the polling transport.
const (
	ConnectionsOpened           = "connections_opened"
	ConnectionsClosed           = "connections_closed"
	ConnectionsRejectedCapacity = "connections_rejected_capacity"
	ConnectionsRejectedOrigin   = "connections_rejected_origin"
	RateLimited                 = "rate_limited"
	HeartbeatTimeouts           = "heartbeat_timeouts"

	RoomsCreated            = "rooms_created"
	RoomsDeleted            = "rooms_deleted"
	RoomJoins               = "room_joins"
	RoomLeaves              = "room_leaves"
	JoinRejectedInvalidRoom = "join_rejected_invalid_room"

	FramesRelayed          = "frames_relayed"
	FramesDroppedMalformed = "frames_dropped_malformed"
	FramesDroppedNoRoom    = "frames_dropped_no_room"
	BroadcastDeliveries    = "broadcast_deliveries"
	BroadcastFailures      = "broadcast_failures"
	SendQueueDrops         = "send_queue_drops"

	PollMessagesPosted = "poll_messages_posted"
	PollRequests       = "poll_requests"
	PollRoomsExpired   = "poll_rooms_expired"
)

// Metrics is a minimal, concurrency-safe counter registry.
//
// A nil *Metrics is valid and discards every update, so components can be
// constructed without one in tests.
type Metrics struct {
	mu sync.Mutex
	m  map[string]uint64
}

func New() *Metrics {
	return &Metrics{
		m: make(map[string]uint64),
	}
}

func (m *Metrics) Inc(name string) {
	m.Add(name, 1)
}

func (m *Metrics) Add(name string, delta uint64) {
	if m == nil || delta == 0 {
		return
	}
	m.mu.Lock()
	if m.m == nil {
		m.m = make(map[string]uint64)
	}
	m.m[name] += delta
	m.mu.Unlock()
}

func (m *Metrics) Get(name string) uint64 {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.m[name]
}

// Snapshot returns a copy of every counter.
func (m *Metrics) Snapshot() map[string]uint64 {
	if m == nil {
		return map[string]uint64{}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return maps.Clone(m.m)
}
