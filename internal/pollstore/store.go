// Package pollstore buffers recent signaling messages per room for clients
// that poll over plain HTTP instead of holding a WebSocket open.
//
// There is no membership model: a room is just the last N messages posted to
// it, and rooms nobody has touched for the idle TTL are evicted.
package pollstore

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/nekolive/signaling-relay/internal/metrics"
	"github.com/nekolive/signaling-relay/internal/ratelimit"
)

const (
	DefaultCapacity = 50
	DefaultIdleTTL  = 10 * time.Minute
)

// ErrNotObject rejects bodies that are not a UTF-8 encoded JSON object.
var ErrNotObject = errors.New("message must be a JSON object")

type Options struct {
	Capacity int
	IdleTTL  time.Duration
	Clock    ratelimit.Clock
	Logger   *slog.Logger
	Metrics  *metrics.Metrics
}

type Store struct {
	capacity int
	idleTTL  time.Duration
	clock    ratelimit.Clock
	log      *slog.Logger
	metrics  *metrics.Metrics

	mu    sync.Mutex
	rooms map[string]*ring
}

func New(opts Options) *Store {
	if opts.Capacity <= 0 {
		opts.Capacity = DefaultCapacity
	}
	if opts.IdleTTL <= 0 {
		opts.IdleTTL = DefaultIdleTTL
	}
	if opts.Clock == nil {
		opts.Clock = ratelimit.RealClock{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Store{
		capacity: opts.Capacity,
		idleTTL:  opts.IdleTTL,
		clock:    opts.Clock,
		log:      opts.Logger,
		metrics:  opts.Metrics,
		rooms:    make(map[string]*ring),
	}
}

// Post stamps body with a server timestamp (epoch ms, strictly increasing per
// room) and a random id, then appends it to room's buffer, evicting the
// oldest message when full. The stamped message is returned.
func (s *Store) Post(room string, body []byte) (json.RawMessage, error) {
	if !utf8.Valid(body) || !gjson.ValidBytes(body) || !gjson.ParseBytes(body).IsObject() {
		return nil, ErrNotObject
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	r, ok := s.rooms[room]
	if !ok {
		r = newRing(s.capacity)
		s.rooms[room] = r
	}
	r.touched = now

	ts := now.UnixMilli()
	if ts <= r.lastTS {
		ts = r.lastTS + 1
	}

	stamped, err := sjson.SetBytes(body, "timestamp", ts)
	if err != nil {
		return nil, err
	}
	stamped, err = sjson.SetBytes(stamped, "id", uuid.NewString())
	if err != nil {
		return nil, err
	}

	r.lastTS = ts
	r.push(entry{ts: ts, body: stamped})
	s.metrics.Inc(metrics.PollMessagesPosted)
	return stamped, nil
}

// Since returns every buffered message in room with a timestamp greater than
// since, oldest first. Unknown rooms yield an empty, non-nil slice.
func (s *Store) Since(room string, since int64) []json.RawMessage {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rooms[room]
	if !ok {
		return []json.RawMessage{}
	}
	r.touched = s.clock.Now()
	return r.since(since)
}

// Len returns the number of buffered rooms.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rooms)
}

// Sweep evicts rooms idle for longer than the TTL and returns how many were
// removed.
func (s *Store) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	removed := 0
	for name, r := range s.rooms {
		if now.Sub(r.touched) > s.idleTTL {
			delete(s.rooms, name)
			removed++
		}
	}
	if removed > 0 {
		s.metrics.Add(metrics.PollRoomsExpired, uint64(removed))
		s.log.Debug("poll_rooms_expired", "count", removed, "remaining", len(s.rooms))
	}
	return removed
}

// Run sweeps every interval until ctx is done. extra, when non-nil, runs on
// the same tick.
func (s *Store) Run(ctx context.Context, interval time.Duration, extra func()) error {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.Sweep()
			if extra != nil {
				extra()
			}
		}
	}
}
