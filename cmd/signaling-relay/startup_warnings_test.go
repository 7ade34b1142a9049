package main

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/nekolive/signaling-relay/internal/config"
	"github.com/nekolive/signaling-relay/internal/origin"
)

type recordedLog struct {
	level slog.Level
	msg   string
	attrs map[string]any
}

// recordingHandler keeps every record so tests can assert on warning codes.
type recordingHandler struct {
	mu      *sync.Mutex
	records *[]recordedLog
	attrs   []slog.Attr
}

func newRecordingLogger() (*slog.Logger, func() []recordedLog) {
	mu := &sync.Mutex{}
	records := &[]recordedLog{}
	logger := slog.New(&recordingHandler{mu: mu, records: records})
	return logger, func() []recordedLog {
		mu.Lock()
		defer mu.Unlock()
		return append([]recordedLog(nil), *records...)
	}
}

func (h *recordingHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *recordingHandler) Handle(_ context.Context, r slog.Record) error {
	rec := recordedLog{level: r.Level, msg: r.Message, attrs: map[string]any{}}
	for _, a := range h.attrs {
		rec.attrs[a.Key] = a.Value.Any()
	}
	r.Attrs(func(a slog.Attr) bool {
		rec.attrs[a.Key] = a.Value.Any()
		return true
	})

	h.mu.Lock()
	*h.records = append(*h.records, rec)
	h.mu.Unlock()
	return nil
}

func (h *recordingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &recordingHandler{mu: h.mu, records: h.records, attrs: append(append([]slog.Attr(nil), h.attrs...), attrs...)}
}

func (h *recordingHandler) WithGroup(string) slog.Handler { return h }

func warningCodes(records []recordedLog) map[string]bool {
	out := map[string]bool{}
	for _, r := range records {
		if r.level != slog.LevelWarn {
			continue
		}
		if code, ok := r.attrs["warning_code"].(string); ok {
			out[code] = true
		}
	}
	return out
}

func quietConfig() config.Config {
	return config.Config{
		Mode:                          config.ModeProd,
		MaxConnections:                1000,
		MaxSignalingMessageBytes:      config.DefaultMaxSignalingMessageBytes,
		MaxSignalingMessagesPerSecond: config.DefaultMaxSignalingMessagesPerSecond,
		RateLimitRequests:             config.DefaultRateLimitRequests,
		ICEServers:                    []webrtc.ICEServer{{URLs: []string{"stun:stun.example.com:3478"}}},
	}
}

func TestStartupWarnings_QuietForHardenedProdConfig(t *testing.T) {
	logger, records := newRecordingLogger()
	logStartupWarnings(logger, quietConfig())
	if codes := warningCodes(records()); len(codes) != 0 {
		t.Fatalf("unexpected warnings: %v", codes)
	}
}

func TestStartupWarnings(t *testing.T) {
	wildcard, err := origin.NewPolicy([]string{origin.Wildcard})
	if err != nil {
		t.Fatalf("NewPolicy: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*config.Config)
		code   string
	}{
		{
			name: "wildcard origins",
			mutate: func(c *config.Config) {
				c.AllowedOrigins = []string{"*"}
				c.OriginPolicy = wildcard
			},
			code: "allowed_origins_wildcard",
		},
		{name: "rate limit disabled", mutate: func(c *config.Config) { c.RateLimitRequests = 0 }, code: "rate_limit_disabled"},
		{name: "unlimited connections", mutate: func(c *config.Config) { c.MaxConnections = 0 }, code: "max_connections_unlimited_in_prod"},
		{name: "unlimited message rate", mutate: func(c *config.Config) { c.MaxSignalingMessagesPerSecond = 0 }, code: "message_rate_unlimited_in_prod"},
		{name: "huge frames", mutate: func(c *config.Config) { c.MaxSignalingMessageBytes = 4 << 20 }, code: "signaling_message_bytes_large"},
		{name: "no ice servers", mutate: func(c *config.Config) { c.ICEServers = nil }, code: "no_ice_servers"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := quietConfig()
			tt.mutate(&cfg)

			logger, records := newRecordingLogger()
			logStartupWarnings(logger, cfg)

			codes := warningCodes(records())
			if !codes[tt.code] || len(codes) != 1 {
				t.Fatalf("warnings=%v, want only %s", codes, tt.code)
			}
		})
	}
}

func TestStartupWarnings_UnlimitedConnectionsOnlyInProd(t *testing.T) {
	cfg := quietConfig()
	cfg.Mode = config.ModeDev
	cfg.MaxConnections = 0

	logger, records := newRecordingLogger()
	logStartupWarnings(logger, cfg)
	if codes := warningCodes(records()); codes["max_connections_unlimited_in_prod"] {
		t.Fatalf("dev mode warned about unlimited connections")
	}
}

func TestJanitorInterval(t *testing.T) {
	tests := []struct {
		ttl  time.Duration
		want time.Duration
	}{
		{ttl: 10 * time.Minute, want: time.Minute},
		{ttl: 5 * time.Second, want: time.Second},
		{ttl: 0, want: time.Second},
	}
	for _, tt := range tests {
		if got := janitorInterval(config.Config{PollRoomIdleTTL: tt.ttl}); got != tt.want {
			t.Fatalf("janitorInterval(%v)=%v, want %v", tt.ttl, got, tt.want)
		}
	}
}
