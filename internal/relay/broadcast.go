package relay

import "github.com/nekolive/signaling-relay/internal/metrics"

// Broadcast delivers payload unchanged to every member of room name except
// the connection with id exclude, and returns how many sends succeeded.
// A missing room delivers nothing.
func (r *Registry) Broadcast(name, exclude string, payload []byte) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rm, ok := r.rooms[name]
	if !ok {
		return 0
	}
	return r.broadcastLocked(rm, exclude, payload)
}

// Relay broadcasts payload to the other members of from's current room. ok is
// false when from is not in a room.
func (r *Registry) Relay(from *Conn, payload []byte) (delivered int, ok bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if from.roomName == "" {
		return 0, false
	}
	rm, exists := r.rooms[from.roomName]
	if !exists {
		return 0, false
	}
	return r.broadcastLocked(rm, from.id, payload), true
}

// broadcastLocked requires r.mu held in either mode.
func (r *Registry) broadcastLocked(rm *room, exclude string, payload []byte) int {
	delivered := 0
	for id, member := range rm.members {
		if id == exclude {
			continue
		}
		if r.deliver(member, payload) {
			delivered++
		}
	}
	if delivered > 0 {
		r.metrics.Add(metrics.BroadcastDeliveries, uint64(delivered))
	}
	return delivered
}

// deliver isolates one recipient: an error or panic from its sender is logged
// and counted, and the recipient stays in the room.
func (r *Registry) deliver(to *Conn, payload []byte) (ok bool) {
	defer func() {
		if p := recover(); p != nil {
			r.metrics.Inc(metrics.BroadcastFailures)
			r.log.Debug("broadcast_send_failed", "conn_id", to.id, "panic", p)
			ok = false
		}
	}()

	if err := to.sender.Send(payload); err != nil {
		r.metrics.Inc(metrics.BroadcastFailures)
		r.log.Debug("broadcast_send_failed", "conn_id", to.id, "err", err)
		return false
	}
	return true
}
