package relay

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nekolive/signaling-relay/internal/config"
	"github.com/nekolive/signaling-relay/internal/metrics"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

var testNow = time.UnixMilli(1_700_000_000_123)

// recordingSender captures every payload delivered to a connection.
type recordingSender struct {
	mu     sync.Mutex
	frames [][]byte
	closes int

	err     error
	panicOn bool
}

func (s *recordingSender) Send(payload []byte) error {
	if s.panicOn {
		panic("sender exploded")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.frames = append(s.frames, append([]byte(nil), payload...))
	return nil
}

func (s *recordingSender) Close() error {
	s.mu.Lock()
	s.closes++
	s.mu.Unlock()
	return nil
}

func (s *recordingSender) Frames() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.frames...)
}

func (s *recordingSender) Closes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closes
}

// Notices decodes the frames of the given notice type.
func (s *recordingSender) Notices(t *testing.T, typ string) []Notice {
	t.Helper()
	var out []Notice
	for _, f := range s.Frames() {
		var n Notice
		if err := json.Unmarshal(f, &n); err != nil {
			continue
		}
		if n.Type == typ {
			out = append(out, n)
		}
	}
	return out
}

var errBrokenPipe = errors.New("broken pipe")

func newTestManager(t *testing.T, cfg config.Config) (*Manager, *metrics.Metrics) {
	t.Helper()
	m := metrics.New()
	reg := NewRegistry(nil, m, fixedClock{now: testNow}, cfg.MaxRoomNameLength)
	return NewManager(cfg, reg, nil, m), m
}

func connect(t *testing.T, m *Manager) (*Conn, *recordingSender) {
	t.Helper()
	s := &recordingSender{}
	c, err := m.Connect(s, ConnInfo{RemoteAddr: "127.0.0.1:1234", Transport: "test"})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	return c, s
}

func joinFrame(room string, extra ...string) []byte {
	msg := map[string]any{"type": TypeJoinRoom, "roomName": room}
	for i := 0; i+1 < len(extra); i += 2 {
		msg[extra[i]] = extra[i+1]
	}
	b, _ := json.Marshal(msg)
	return b
}

// assertConsistent checks that every tracked connection's room matches the
// registry's member sets and that no room is empty.
func assertConsistent(t *testing.T, m *Manager) {
	t.Helper()
	reg := m.Registry()
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	for name, rm := range reg.rooms {
		if len(rm.members) == 0 {
			t.Fatalf("room %q exists with no members", name)
		}
		for id, c := range rm.members {
			if c.roomName != name {
				t.Fatalf("conn %s in rooms[%q] but roomName=%q", id, name, c.roomName)
			}
		}
	}
	for _, c := range m.Conns() {
		if c.roomName == "" {
			continue
		}
		rm, ok := reg.rooms[c.roomName]
		if !ok || rm.members[c.id] != c {
			t.Fatalf("conn %s has roomName=%q but is not a member", c.id, c.roomName)
		}
	}
}
