package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nekolive/signaling-relay/internal/config"
	"github.com/nekolive/signaling-relay/internal/httpserver"
	"github.com/nekolive/signaling-relay/internal/metrics"
	"github.com/nekolive/signaling-relay/internal/pollstore"
	"github.com/nekolive/signaling-relay/internal/relay"
	"github.com/nekolive/signaling-relay/internal/signaling"
)

var (
	// Set via -ldflags at build time. Values may be empty in local/dev builds.
	buildCommit = ""
	buildTime   = ""
)

func main() {
	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger, err := config.NewLogger(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	slog.SetDefault(logger)

	logger.Info("starting signaling-relay",
		"listen_addr", cfg.ListenAddr,
		"mode", cfg.Mode,
		"allowed_origins", cfg.AllowedOrigins,
		"max_connections", cfg.MaxConnections,
		"max_room_name_length", cfg.MaxRoomNameLength,
		"max_signaling_message_bytes", cfg.MaxSignalingMessageBytes,
		"rate_limit_requests", cfg.RateLimitRequests,
		"rate_limit_window", cfg.RateLimitWindow,
		"ping_interval", cfg.SignalingWSPingInterval,
		"ice_servers", len(cfg.ICEServers),
	)
	logStartupWarnings(logger, cfg)

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		logger.Error("failed to listen", "err", err)
		os.Exit(1)
	}

	if err := run(cfg, logger, ln); err != nil {
		logger.Error("signaling-relay exited", "err", err)
		os.Exit(1)
	}
}

// run serves on ln until SIGINT/SIGTERM or a fatal component error.
func run(cfg config.Config, logger *slog.Logger, ln net.Listener) error {
	m := metrics.New()
	manager := relay.NewManager(cfg, nil, logger, m)
	store := pollstore.New(pollstore.Options{
		Capacity: cfg.PollBufferCapacity,
		IdleTTL:  cfg.PollRoomIdleTTL,
		Logger:   logger,
		Metrics:  m,
	})
	sig := signaling.New(cfg, manager, store, logger)

	commit, built := resolveBuildInfo(buildCommit, buildTime)
	srv := httpserver.New(cfg, logger, httpserver.BuildInfo{Commit: commit, BuildTime: built}, httpserver.Options{
		Metrics: m,
		Stats:   func() any { return sig.Stats() },
	})
	sig.RegisterRoutes(srv.BrowserRoutes())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error { return sig.RunHeartbeat(gctx) })
	g.Go(func() error { return sig.RunJanitor(gctx, janitorInterval(cfg)) })
	g.Go(func() error {
		<-gctx.Done()
		if ctx.Err() != nil {
			logger.Info("shutdown signal received")
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()

		// Hijacked WebSocket conns are invisible to http.Server.Shutdown, so
		// they are closed explicitly first.
		sig.Close()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("http server shutdown failed", "err", err)
			_ = srv.Close()
		}
		return nil
	})

	return g.Wait()
}

// janitorInterval sweeps often enough that an idle poll room outlives its TTL
// by at most a tenth of it.
func janitorInterval(cfg config.Config) time.Duration {
	if d := cfg.PollRoomIdleTTL / 10; d >= time.Second {
		return d
	}
	return time.Second
}

func resolveBuildInfo(commit, buildTime string) (string, string) {
	// Prefer ldflags-injected values (production builds) but fall back to the Go
	// build info when available (useful for `go run` / dev builds).
	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				if commit == "" {
					commit = s.Value
				}
			case "vcs.time":
				if buildTime == "" {
					buildTime = s.Value
				}
			}
		}
	}

	return commit, buildTime
}
