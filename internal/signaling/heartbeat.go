package signaling

import (
	"context"
	"time"

	"github.com/nekolive/signaling-relay/internal/metrics"
)

// RunHeartbeat pings every connection each interval until ctx is done.
// A connection that has not answered the previous ping by the next tick is
// force-closed.
func (s *WebSocketServer) RunHeartbeat(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.SignalingWSPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.heartbeat()
		}
	}
}

func (s *WebSocketServer) heartbeat() (pinged, terminated int) {
	for _, wc := range s.snapshot() {
		if !wc.alive.Swap(false) {
			s.metrics.Inc(metrics.HeartbeatTimeouts)
			s.log.Info("heartbeat_timeout", "conn_id", wc.relay.ID())
			s.manager.ForceClose(wc.relay)
			terminated++
			continue
		}
		if err := wc.ping(); err != nil {
			s.log.Debug("heartbeat_ping_failed", "conn_id", wc.relay.ID(), "err", err)
		}
		pinged++
	}
	return pinged, terminated
}
