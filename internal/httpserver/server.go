package httpserver

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/nekolive/signaling-relay/internal/config"
	"github.com/nekolive/signaling-relay/internal/metrics"
)

var ErrServerClosed = http.ErrServerClosed

type BuildInfo struct {
	Commit    string `json:"commit"`
	BuildTime string `json:"buildTime"`
}

// Options carries the optional collaborators behind /metrics and /stats.
type Options struct {
	Metrics *metrics.Metrics
	// Stats returns the live relay view embedded in /stats.
	Stats func() any
}

type Server struct {
	log     *slog.Logger
	cfg     config.Config
	build   BuildInfo
	opts    Options
	started time.Time

	ready atomic.Bool

	mux *http.ServeMux
	srv *http.Server
}

func New(cfg config.Config, logger *slog.Logger, build BuildInfo, opts Options) *Server {
	s := &Server{
		log:     logger,
		cfg:     cfg,
		build:   build,
		opts:    opts,
		started: time.Now(),
		mux:     http.NewServeMux(),
	}

	s.registerRoutes()

	// The logger wraps recover so a panicking request is logged with its 500.
	handler := chain(s.mux,
		requestIDMiddleware(),
		requestLoggerMiddleware(s.log),
		recoverMiddleware(s.log),
	)

	s.srv = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		// No read/write timeouts: /ws connections are long-lived.
	}

	return s
}

// Mux returns the underlying ServeMux for registering additional routes.
// It must only be used during startup before Serve is called.
func (s *Server) Mux() *http.ServeMux {
	return s.mux
}

// BrowserRoutes returns a route group whose handlers run behind the origin
// policy and get CORS headers.
func (s *Server) BrowserRoutes() *RouteGroup {
	return &RouteGroup{mux: s.mux, mw: s.originMiddleware()}
}

// RouteGroup registers handlers on the server mux behind a shared middleware.
type RouteGroup struct {
	mux *http.ServeMux
	mw  Middleware
}

func (g *RouteGroup) Handle(pattern string, h http.Handler) {
	g.mux.Handle(pattern, g.mw(h))
}

func (s *Server) Serve(l net.Listener) error {
	s.ready.Store(true)
	s.log.Info("http server serving", "addr", l.Addr().String())
	return s.srv.Serve(l)
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.ready.Store(false)
	return s.srv.Shutdown(ctx)
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, map[string]any{"ok": true})
	})

	s.mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		if !s.ready.Load() {
			WriteJSON(w, http.StatusServiceUnavailable, map[string]any{"ready": false})
			return
		}
		WriteJSON(w, http.StatusOK, map[string]any{"ready": true})
	})

	s.mux.HandleFunc("GET /version", func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, s.build)
	})

	s.mux.HandleFunc("GET /stats", func(w http.ResponseWriter, r *http.Request) {
		body := map[string]any{
			"mode":          s.cfg.Mode,
			"uptimeSeconds": int64(time.Since(s.started).Seconds()),
		}
		if s.opts.Stats != nil {
			body["signaling"] = s.opts.Stats()
		}
		WriteJSON(w, http.StatusOK, body)
	})

	s.mux.Handle("GET /metrics", metrics.PrometheusHandler(s.opts.Metrics))

	s.mux.Handle("GET /webrtc/ice", s.originMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, map[string]any{
			"iceServers":     s.cfg.ICEServers,
			"pollIntervalMs": s.cfg.PollInterval.Milliseconds(),
		})
	})))
}

func (s *Server) Close() error {
	s.ready.Store(false)
	return s.srv.Close()
}
