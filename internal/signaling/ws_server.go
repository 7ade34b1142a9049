package signaling

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nekolive/signaling-relay/internal/config"
	"github.com/nekolive/signaling-relay/internal/metrics"
	"github.com/nekolive/signaling-relay/internal/ratelimit"
	"github.com/nekolive/signaling-relay/internal/relay"
)

const (
	closeReasonRateLimited  = "Rate limit exceeded"
	closeReasonMessageRate  = "rate limit exceeded"
	closeReasonTooMany      = "too many connections"
	closeReasonShuttingDown = "Server shutting down"
)

// WebSocketServer is the persistent duplex transport. Each connection gets a
// read loop that feeds relay.Manager one frame at a time and a writer
// goroutine that drains its send queue.
type WebSocketServer struct {
	cfg     config.Config
	log     *slog.Logger
	metrics *metrics.Metrics
	manager *relay.Manager
	limiter *ratelimit.KeyedLimiter
	clock   ratelimit.Clock

	upgrader websocket.Upgrader

	mu       sync.Mutex
	conns    map[*wsConn]struct{}
	draining bool
}

// NewWebSocketServer builds the /ws handler. limiter caps new connections per
// client IP and may be nil.
func NewWebSocketServer(cfg config.Config, manager *relay.Manager, limiter *ratelimit.KeyedLimiter, log *slog.Logger) *WebSocketServer {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.SendQueueBytes <= 0 {
		cfg.SendQueueBytes = config.DefaultSendQueueBytes
	}
	if cfg.SignalingWSWriteTimeout <= 0 {
		cfg.SignalingWSWriteTimeout = config.DefaultSignalingWSWriteTimeout
	}
	if cfg.SignalingWSPingInterval <= 0 {
		cfg.SignalingWSPingInterval = config.DefaultSignalingWSPingInterval
	}

	s := &WebSocketServer{
		cfg:     cfg,
		log:     log,
		metrics: manager.Metrics(),
		manager: manager,
		limiter: limiter,
		clock:   ratelimit.RealClock{},
		conns:   make(map[*wsConn]struct{}),
	}
	s.upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			if cfg.OriginPolicy.Check(r) {
				return true
			}
			s.metrics.Inc(metrics.ConnectionsRejectedOrigin)
			s.log.Warn("ws_origin_rejected", "origin", r.Header.Get("Origin"), "host", r.Host)
			return false
		},
	}
	return s
}

func (s *WebSocketServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ip := clientIP(r, s.cfg.TrustProxyHeaders)

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader already replied (403 for a rejected origin).
		s.log.Debug("ws_upgrade_failed", "remote_ip", ip, "err", err)
		return
	}
	wc := newWSConn(ws, s.cfg.SendQueueBytes, s.cfg.SignalingWSWriteTimeout, s.metrics)

	if !s.limiter.Allow(ip) {
		s.metrics.Inc(metrics.RateLimited)
		s.log.Warn("ws_rate_limited", "remote_ip", ip)
		wc.closeWith(websocket.ClosePolicyViolation, closeReasonRateLimited)
		return
	}

	conn, err := s.manager.Connect(wc, relay.ConnInfo{
		RemoteAddr: ip,
		Origin:     r.Header.Get("Origin"),
		UserAgent:  r.UserAgent(),
		Transport:  "websocket",
	})
	if errors.Is(err, relay.ErrTooManyConnections) {
		s.log.Warn("ws_rejected", "remote_ip", ip, "reason", "capacity")
		wc.closeWith(websocket.CloseTryAgainLater, closeReasonTooMany)
		return
	}
	if err != nil {
		s.log.Error("ws_connect_failed", "remote_ip", ip, "err", err)
		wc.closeWith(websocket.CloseInternalServerErr, "internal error")
		return
	}
	wc.relay = conn

	if !s.track(wc) {
		s.manager.Disconnect(conn)
		wc.closeWith(websocket.CloseGoingAway, closeReasonShuttingDown)
		return
	}
	defer s.untrack(wc)

	s.log.Info("ws_connected", "conn_id", conn.ID(), "remote_ip", ip, "user_agent", conn.Info().UserAgent)
	go wc.writeLoop()

	reason := s.readLoop(wc, conn)

	s.manager.Disconnect(conn)
	_ = wc.Close()
	s.log.Info("ws_disconnected",
		"conn_id", conn.ID(),
		"reason", reason,
		"duration_ms", time.Since(conn.CreatedAt()).Milliseconds(),
		"send_drops", wc.queue.DropCount(),
	)
}

func (s *WebSocketServer) readLoop(wc *wsConn, conn *relay.Conn) string {
	if s.cfg.MaxSignalingMessageBytes > 0 {
		wc.ws.SetReadLimit(s.cfg.MaxSignalingMessageBytes)
	}

	var limiter *ratelimit.TokenBucket
	if n := int64(s.cfg.MaxSignalingMessagesPerSecond); n > 0 {
		limiter = ratelimit.NewTokenBucket(s.clock, n, n)
	}

	for {
		_, data, err := wc.ws.ReadMessage()
		if err != nil {
			switch {
			case errors.Is(err, websocket.ErrReadLimit):
				return "message_too_large"
			case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway):
				return "client_closed"
			default:
				return "read_error"
			}
		}
		// Checked after reading so the client reliably sees the close frame
		// rather than a reset caused by unread data.
		if limiter != nil && !limiter.Allow(1) {
			s.metrics.Inc(metrics.RateLimited)
			wc.closeWith(websocket.ClosePolicyViolation, closeReasonMessageRate)
			return "message_rate_limited"
		}
		_ = s.manager.HandleFrame(conn, data)
	}
}

func (s *WebSocketServer) track(wc *wsConn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.draining {
		return false
	}
	s.conns[wc] = struct{}{}
	return true
}

func (s *WebSocketServer) untrack(wc *wsConn) {
	s.mu.Lock()
	delete(s.conns, wc)
	s.mu.Unlock()
}

func (s *WebSocketServer) snapshot() []*wsConn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*wsConn, 0, len(s.conns))
	for wc := range s.conns {
		out = append(out, wc)
	}
	return out
}

// Shutdown stops accepting connections and closes every open one with 1001.
func (s *WebSocketServer) Shutdown() {
	s.mu.Lock()
	s.draining = true
	s.mu.Unlock()

	conns := s.snapshot()
	for _, wc := range conns {
		s.manager.Disconnect(wc.relay)
		wc.closeWith(websocket.CloseGoingAway, closeReasonShuttingDown)
	}
	if len(conns) > 0 {
		s.log.Info("ws_shutdown", "closed", len(conns))
	}
}
