package signaling

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/nekolive/signaling-relay/internal/config"
	"github.com/nekolive/signaling-relay/internal/pollstore"
	"github.com/nekolive/signaling-relay/internal/ratelimit"
	"github.com/nekolive/signaling-relay/internal/relay"
)

// Router is satisfied by *http.ServeMux and by httpserver's origin-checked
// route group.
type Router interface {
	Handle(pattern string, handler http.Handler)
}

// Server bundles both transports around one relay.Manager and one poll
// store. The per-IP limiter is shared, so WebSocket connects and poll posts
// draw from the same budget.
type Server struct {
	WebSocket *WebSocketServer
	Poll      *PollServer

	manager *relay.Manager
	store   *pollstore.Store
	limiter *ratelimit.KeyedLimiter
	log     *slog.Logger
}

func New(cfg config.Config, manager *relay.Manager, store *pollstore.Store, log *slog.Logger) *Server {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	maxBytes := cfg.MaxSignalingMessageBytes
	if maxBytes <= 0 {
		maxBytes = config.DefaultMaxSignalingMessageBytes
	}

	limiter := ratelimit.NewKeyedLimiter(nil, cfg.RateLimitRequests, cfg.RateLimitWindow)
	return &Server{
		WebSocket: NewWebSocketServer(cfg, manager, limiter, log),
		Poll: &PollServer{
			store:      store,
			registry:   manager.Registry(),
			limiter:    limiter,
			log:        log,
			metrics:    manager.Metrics(),
			maxBytes:   maxBytes,
			trustProxy: cfg.TrustProxyHeaders,
		},
		manager: manager,
		store:   store,
		limiter: limiter,
		log:     log,
	}
}

func (s *Server) RegisterRoutes(r Router) {
	r.Handle("GET /ws", s.WebSocket)
	r.Handle("GET /{$}", s.WebSocket)
	r.Handle("/api/signal", s.Poll)
	r.Handle("/api/ws", s.Poll)
}

// Stats is the live view served on /stats.
type Stats struct {
	ActiveConnections int          `json:"activeConnections"`
	// IdleConnections are connected but have not joined a room.
	IdleConnections   int          `json:"idleConnections"`
	Rooms             []relay.Room `json:"rooms"`
	RoomCount         int          `json:"roomCount"`
	PollRooms         int          `json:"pollRooms"`
	RateLimitedIPs    int          `json:"rateLimitedIps"`
}

func (s *Server) Stats() Stats {
	rooms := s.manager.Registry().Rooms()
	conns := s.manager.Conns()
	idle := 0
	for _, c := range conns {
		if !s.manager.Snapshot(c).InRoom() {
			idle++
		}
	}
	return Stats{
		ActiveConnections: len(conns),
		IdleConnections:   idle,
		Rooms:             rooms,
		RoomCount:         len(rooms),
		PollRooms:         s.store.Len(),
		RateLimitedIPs:    s.limiter.Len(),
	}
}

// RunJanitor evicts idle poll rooms and recovered rate-limit buckets until
// ctx is done.
func (s *Server) RunJanitor(ctx context.Context, interval time.Duration) error {
	return s.store.Run(ctx, interval, func() {
		if n := s.limiter.Sweep(); n > 0 {
			s.log.Debug("rate_limit_buckets_swept", "count", n)
		}
	})
}

// RunHeartbeat drives WebSocket liveness checks until ctx is done.
func (s *Server) RunHeartbeat(ctx context.Context) error {
	return s.WebSocket.RunHeartbeat(ctx)
}

// Close disconnects every WebSocket client with 1001.
func (s *Server) Close() {
	s.WebSocket.Shutdown()
}
