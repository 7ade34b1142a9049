// Package config loads relay settings from a .env file, the environment and
// command-line flags, in increasing order of precedence.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/pion/webrtc/v4"

	"github.com/nekolive/signaling-relay/internal/origin"
)

const (
	DefaultListenAddr      = "0.0.0.0:8080"
	DefaultShutdown        = 10 * time.Second
	DefaultMode       Mode = ModeDev

	DefaultMaxRoomNameLength             = 50
	DefaultMaxSignalingMessageBytes      = int64(64 * 1024)
	DefaultMaxSignalingMessagesPerSecond = 50
	DefaultSendQueueBytes                = int64(1 << 20) // 1MiB
	DefaultSignalingWSWriteTimeout       = 5 * time.Second
	DefaultSignalingWSPingInterval       = 30 * time.Second

	DefaultRateLimitRequests = 100
	DefaultRateLimitWindow   = time.Minute

	DefaultPollBufferCapacity = 50
	DefaultPollInterval       = time.Second
	DefaultPollRoomIdleTTL    = 10 * time.Minute

	DefaultSTUNURLs = "stun:stun1.l.google.com:19302,stun:stun2.l.google.com:19302"
)

type Mode string

const (
	ModeDev  Mode = "dev"
	ModeProd Mode = "prod"
)

type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

// environment mirrors the env var surface. Every field has a matching flag in
// load; flags win when both are set.
type environment struct {
	ListenAddr      string        `env:"SIGNALING_RELAY_LISTEN_ADDR" envDefault:"0.0.0.0:8080"`
	Mode            string        `env:"SIGNALING_RELAY_MODE" envDefault:"dev"`
	LogFormat       string        `env:"SIGNALING_RELAY_LOG_FORMAT"`
	LogLevel        string        `env:"SIGNALING_RELAY_LOG_LEVEL"`
	ShutdownTimeout time.Duration `env:"SIGNALING_RELAY_SHUTDOWN_TIMEOUT" envDefault:"10s"`

	AllowedOrigins    string `env:"ALLOWED_ORIGINS"`
	TrustProxyHeaders bool   `env:"TRUST_PROXY_HEADERS"`

	MaxConnections                int           `env:"MAX_CONNECTIONS" envDefault:"0"`
	MaxRoomNameLength             int           `env:"MAX_ROOM_NAME_LENGTH" envDefault:"50"`
	MaxSignalingMessageBytes      int64         `env:"MAX_SIGNALING_MESSAGE_BYTES" envDefault:"65536"`
	MaxSignalingMessagesPerSecond int           `env:"MAX_SIGNALING_MESSAGES_PER_SECOND" envDefault:"50"`
	SendQueueBytes                int64         `env:"SEND_QUEUE_BYTES" envDefault:"1048576"`
	SignalingWSWriteTimeout       time.Duration `env:"SIGNALING_WS_WRITE_TIMEOUT" envDefault:"5s"`
	SignalingWSPingInterval       time.Duration `env:"SIGNALING_WS_PING_INTERVAL" envDefault:"30s"`

	RateLimitRequests int           `env:"RATE_LIMIT_REQUESTS" envDefault:"100"`
	RateLimitWindow   time.Duration `env:"RATE_LIMIT_WINDOW" envDefault:"1m"`

	PollBufferCapacity int           `env:"POLL_BUFFER_CAPACITY" envDefault:"50"`
	PollInterval       time.Duration `env:"POLL_INTERVAL" envDefault:"1s"`
	PollRoomIdleTTL    time.Duration `env:"POLL_ROOM_IDLE_TTL" envDefault:"10m"`

	ICEServersJSON string `env:"ICE_SERVERS_JSON"`
	STUNURLs       string `env:"STUN_URLS" envDefault:"stun:stun1.l.google.com:19302,stun:stun2.l.google.com:19302"`
	TURNURLs       string `env:"TURN_URLS"`
	TURNUsername   string `env:"TURN_USERNAME"`
	TURNCredential string `env:"TURN_CREDENTIAL"`
}

type Config struct {
	ListenAddr      string        `validate:"required,hostname_port" label:"SIGNALING_RELAY_LISTEN_ADDR/--listen-addr"`
	Mode            Mode          `validate:"oneof=dev prod" label:"SIGNALING_RELAY_MODE/--mode"`
	LogFormat       LogFormat     `validate:"oneof=text json" label:"SIGNALING_RELAY_LOG_FORMAT/--log-format"`
	LogLevel        slog.Level    `validate:"-"`
	ShutdownTimeout time.Duration `validate:"gt=0" label:"SIGNALING_RELAY_SHUTDOWN_TIMEOUT/--shutdown-timeout"`

	// AllowedOrigins holds normalized origins (or "*"). Empty means same-host.
	AllowedOrigins    []string      `validate:"-"`
	OriginPolicy      origin.Policy `validate:"-"`
	TrustProxyHeaders bool

	MaxConnections                int           `validate:"gte=0" label:"MAX_CONNECTIONS/--max-connections"`
	MaxRoomNameLength             int           `validate:"gt=0" label:"MAX_ROOM_NAME_LENGTH/--max-room-name-length"`
	MaxSignalingMessageBytes      int64         `validate:"gt=0" label:"MAX_SIGNALING_MESSAGE_BYTES/--max-signaling-message-bytes"`
	MaxSignalingMessagesPerSecond int           `validate:"gte=0" label:"MAX_SIGNALING_MESSAGES_PER_SECOND/--max-signaling-messages-per-second"`
	SendQueueBytes                int64         `validate:"gtefield=MaxSignalingMessageBytes" label:"SEND_QUEUE_BYTES/--send-queue-bytes"`
	SignalingWSWriteTimeout       time.Duration `validate:"gt=0" label:"SIGNALING_WS_WRITE_TIMEOUT/--signaling-ws-write-timeout"`
	SignalingWSPingInterval       time.Duration `validate:"gt=0" label:"SIGNALING_WS_PING_INTERVAL/--signaling-ws-ping-interval"`

	RateLimitRequests int           `validate:"gte=0" label:"RATE_LIMIT_REQUESTS/--rate-limit-requests"`
	RateLimitWindow   time.Duration `validate:"gt=0" label:"RATE_LIMIT_WINDOW/--rate-limit-window"`

	PollBufferCapacity int           `validate:"gt=0" label:"POLL_BUFFER_CAPACITY/--poll-buffer-capacity"`
	PollInterval       time.Duration `validate:"gt=0" label:"POLL_INTERVAL/--poll-interval"`
	PollRoomIdleTTL    time.Duration `validate:"gt=0" label:"POLL_ROOM_IDLE_TTL/--poll-room-idle-ttl"`

	// ICEServers is advertised to browsers via GET /webrtc/ice. The relay never
	// dials them itself.
	ICEServers []webrtc.ICEServer `validate:"-"`
}

// LoadDotEnv loads KEY=VALUE pairs from the given files (".env" when none are
// given) into the process environment. Variables that are already set win, and
// missing files are ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// Load reads the process environment and args (without the program name).
func Load(args []string) (Config, error) {
	return load(nil, args)
}

// load parses environ (nil means the process environment) and args.
func load(environ map[string]string, args []string) (Config, error) {
	var e environment
	if err := env.ParseWithOptions(&e, env.Options{Environment: environ}); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}

	fs := flag.NewFlagSet("signaling-relay", flag.ContinueOnError)
	fs.StringVar(&e.ListenAddr, "listen-addr", e.ListenAddr, "HTTP listen address (host:port)")
	fs.StringVar(&e.Mode, "mode", e.Mode, "Run mode: dev or prod")
	fs.StringVar(&e.LogFormat, "log-format", e.LogFormat, "Log format: text or json (default depends on mode)")
	fs.StringVar(&e.LogLevel, "log-level", e.LogLevel, "Log level: debug, info, warn, error (default depends on mode)")
	fs.DurationVar(&e.ShutdownTimeout, "shutdown-timeout", e.ShutdownTimeout, "Graceful shutdown timeout (e.g. 10s)")
	fs.StringVar(&e.AllowedOrigins, "allowed-origins", e.AllowedOrigins, "Comma-separated list of allowed browser origins, or * (env ALLOWED_ORIGINS)")
	fs.BoolVar(&e.TrustProxyHeaders, "trust-proxy-headers", e.TrustProxyHeaders, "Use X-Forwarded-For / X-Real-IP for client IPs (env TRUST_PROXY_HEADERS)")
	fs.IntVar(&e.MaxConnections, "max-connections", e.MaxConnections, "Maximum concurrent signaling connections (0 = unlimited)")
	fs.IntVar(&e.MaxRoomNameLength, "max-room-name-length", e.MaxRoomNameLength, "Maximum room name length in characters")
	fs.Int64Var(&e.MaxSignalingMessageBytes, "max-signaling-message-bytes", e.MaxSignalingMessageBytes, "Max inbound signaling message size in bytes")
	fs.IntVar(&e.MaxSignalingMessagesPerSecond, "max-signaling-messages-per-second", e.MaxSignalingMessagesPerSecond, "Max inbound signaling messages per second per connection (0 = unlimited)")
	fs.Int64Var(&e.SendQueueBytes, "send-queue-bytes", e.SendQueueBytes, "Max queued outbound bytes per connection before dropping")
	fs.DurationVar(&e.SignalingWSWriteTimeout, "signaling-ws-write-timeout", e.SignalingWSWriteTimeout, "Write deadline for signaling WebSocket frames")
	fs.DurationVar(&e.SignalingWSPingInterval, "signaling-ws-ping-interval", e.SignalingWSPingInterval, "Heartbeat interval; connections missing a pong for one interval are closed")
	fs.IntVar(&e.RateLimitRequests, "rate-limit-requests", e.RateLimitRequests, "Connections/posts allowed per client IP per window (0 = disabled)")
	fs.DurationVar(&e.RateLimitWindow, "rate-limit-window", e.RateLimitWindow, "Per-IP rate limit window")
	fs.IntVar(&e.PollBufferCapacity, "poll-buffer-capacity", e.PollBufferCapacity, "Messages retained per poll room")
	fs.DurationVar(&e.PollInterval, "poll-interval", e.PollInterval, "Poll interval advertised to polling clients")
	fs.DurationVar(&e.PollRoomIdleTTL, "poll-room-idle-ttl", e.PollRoomIdleTTL, "Evict poll rooms idle for this long")
	fs.StringVar(&e.ICEServersJSON, "ice-servers-json", e.ICEServersJSON, "ICE server JSON config (ICE_SERVERS_JSON)")
	fs.StringVar(&e.STUNURLs, "stun-urls", e.STUNURLs, "comma-separated STUN URLs (STUN_URLS)")
	fs.StringVar(&e.TURNURLs, "turn-urls", e.TURNURLs, "comma-separated TURN URLs (TURN_URLS)")
	fs.StringVar(&e.TURNUsername, "turn-username", e.TURNUsername, "TURN username (TURN_USERNAME)")
	fs.StringVar(&e.TURNCredential, "turn-credential", e.TURNCredential, "TURN credential (TURN_CREDENTIAL)")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	mode, err := parseMode(e.Mode)
	if err != nil {
		return Config{}, err
	}
	if strings.TrimSpace(e.LogFormat) == "" {
		e.LogFormat = defaultLogFormatForMode(mode)
	}
	if strings.TrimSpace(e.LogLevel) == "" {
		e.LogLevel = defaultLogLevelForMode(mode)
	}
	logFormat, err := parseLogFormat(e.LogFormat)
	if err != nil {
		return Config{}, err
	}
	logLevel, err := parseLogLevel(e.LogLevel)
	if err != nil {
		return Config{}, err
	}

	allowedOrigins := splitCommaSeparated(e.AllowedOrigins)
	policy, err := origin.NewPolicy(allowedOrigins)
	if err != nil {
		return Config{}, fmt.Errorf("ALLOWED_ORIGINS/--allowed-origins: %w", err)
	}
	normalizedOrigins := policy.Allowed()
	if policy.AllowsAny() {
		normalizedOrigins = append([]string{origin.Wildcard}, normalizedOrigins...)
	}

	iceServers, err := parseICEServersFromValues(e.ICEServersJSON, e.STUNURLs, e.TURNURLs, e.TURNUsername, e.TURNCredential)
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		ListenAddr:      strings.TrimSpace(e.ListenAddr),
		Mode:            mode,
		LogFormat:       logFormat,
		LogLevel:        logLevel,
		ShutdownTimeout: e.ShutdownTimeout,

		AllowedOrigins:    normalizedOrigins,
		OriginPolicy:      policy,
		TrustProxyHeaders: e.TrustProxyHeaders,

		MaxConnections:                e.MaxConnections,
		MaxRoomNameLength:             e.MaxRoomNameLength,
		MaxSignalingMessageBytes:      e.MaxSignalingMessageBytes,
		MaxSignalingMessagesPerSecond: e.MaxSignalingMessagesPerSecond,
		SendQueueBytes:                e.SendQueueBytes,
		SignalingWSWriteTimeout:       e.SignalingWSWriteTimeout,
		SignalingWSPingInterval:       e.SignalingWSPingInterval,

		RateLimitRequests: e.RateLimitRequests,
		RateLimitWindow:   e.RateLimitWindow,

		PollBufferCapacity: e.PollBufferCapacity,
		PollInterval:       e.PollInterval,
		PollRoomIdleTTL:    e.PollRoomIdleTTL,

		ICEServers: iceServers,
	}
	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func NewLogger(cfg Config) (*slog.Logger, error) {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	switch cfg.LogFormat {
	case LogFormatText:
		handler = slog.NewTextHandler(os.Stdout, opts)
	case LogFormatJSON:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	default:
		return nil, fmt.Errorf("unsupported log format %q", cfg.LogFormat)
	}

	return slog.New(handler), nil
}

func defaultLogFormatForMode(mode Mode) string {
	if mode == ModeProd {
		return string(LogFormatJSON)
	}
	return string(LogFormatText)
}

func defaultLogLevelForMode(mode Mode) string {
	if mode == ModeProd {
		return "info"
	}
	return "debug"
}

func parseMode(raw string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(ModeDev), "development":
		return ModeDev, nil
	case string(ModeProd), "production":
		return ModeProd, nil
	default:
		return "", fmt.Errorf("invalid mode %q (expected dev or prod)", raw)
	}
}

func parseLogFormat(raw string) (LogFormat, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(LogFormatText):
		return LogFormatText, nil
	case string(LogFormatJSON):
		return LogFormatJSON, nil
	default:
		return "", fmt.Errorf("invalid log format %q (expected text or json)", raw)
	}
}

func parseLogLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level %q (expected debug, info, warn, error)", raw)
	}
}
