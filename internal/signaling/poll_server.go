package signaling

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/nekolive/signaling-relay/internal/httpserver"
	"github.com/nekolive/signaling-relay/internal/metrics"
	"github.com/nekolive/signaling-relay/internal/pollstore"
	"github.com/nekolive/signaling-relay/internal/ratelimit"
	"github.com/nekolive/signaling-relay/internal/relay"
)

// DefaultPollRoom is used when a poll request names no room.
const DefaultPollRoom = "default"

// PollServer is the store-and-poll transport for clients that cannot hold a
// WebSocket open. It shares room-name rules with the WebSocket transport but
// has no membership: posting to a room buffers the message, polling reads it.
type PollServer struct {
	store      *pollstore.Store
	registry   *relay.Registry
	limiter    *ratelimit.KeyedLimiter
	log        *slog.Logger
	metrics    *metrics.Metrics
	maxBytes   int64
	trustProxy bool
}

type pollResponse struct {
	Messages []json.RawMessage `json:"messages"`
}

func (p *PollServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p.metrics.Inc(metrics.PollRequests)

	room := r.URL.Query().Get("room")
	if room == "" {
		room = DefaultPollRoom
	}

	switch r.Method {
	case http.MethodGet:
		if !p.validRoom(w, room) {
			return
		}
		since := parseSince(r.URL.Query().Get("since"))
		httpserver.WriteJSON(w, http.StatusOK, pollResponse{Messages: p.store.Since(room, since)})

	case http.MethodPost:
		if !p.validRoom(w, room) {
			return
		}
		ip := clientIP(r, p.trustProxy)
		if !p.limiter.Allow(ip) {
			p.metrics.Inc(metrics.RateLimited)
			p.log.Warn("poll_rate_limited", "remote_ip", ip)
			httpserver.WriteJSON(w, http.StatusTooManyRequests, map[string]string{"error": closeReasonRateLimited})
			return
		}

		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, p.maxBytes))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				httpserver.WriteJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "Message too large"})
				return
			}
			httpserver.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid JSON"})
			return
		}

		if _, err := p.store.Post(room, body); err != nil {
			if errors.Is(err, pollstore.ErrNotObject) {
				httpserver.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid JSON"})
				return
			}
			p.log.Error("poll_post_failed", "room", room, "err", err)
			httpserver.WriteJSON(w, http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
			return
		}
		httpserver.WriteJSON(w, http.StatusOK, map[string]bool{"success": true})

	case http.MethodOptions:
		w.WriteHeader(http.StatusNoContent)

	default:
		w.Header().Set("Allow", "GET, POST, OPTIONS")
		httpserver.WriteJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "Method not allowed"})
	}
}

func (p *PollServer) validRoom(w http.ResponseWriter, room string) bool {
	if err := p.registry.ValidateRoomName(room); err != nil {
		httpserver.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid room name"})
		return false
	}
	return true
}

// parseSince reads the leading decimal integer of raw, ignoring anything
// after it, so "150abc" is 150. A cursor with no leading digits (or one that
// overflows) reads the whole buffer.
func parseSince(raw string) int64 {
	raw = strings.TrimLeft(raw, " \t\n\r")
	end := 0
	if end < len(raw) && (raw[end] == '-' || raw[end] == '+') {
		end++
	}
	digits := end
	for end < len(raw) && raw[end] >= '0' && raw[end] <= '9' {
		end++
	}
	if end == digits {
		return 0
	}
	since, err := strconv.ParseInt(raw[:end], 10, 64)
	if err != nil {
		return 0
	}
	return since
}
