package relay

import (
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/nekolive/signaling-relay/internal/config"
	"github.com/nekolive/signaling-relay/internal/metrics"
)

// Manager owns connection lifecycles: Connected -> InRoom(R) -> Disconnected.
type Manager struct {
	log      *slog.Logger
	metrics  *metrics.Metrics
	registry *Registry
	maxConns int

	mu    sync.Mutex
	conns map[string]*Conn
}

// NewManager wires a manager to reg. A nil reg gets a fresh registry built
// from cfg.
func NewManager(cfg config.Config, reg *Registry, log *slog.Logger, m *metrics.Metrics) *Manager {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if m == nil {
		m = metrics.New()
	}
	if reg == nil {
		reg = NewRegistry(log, m, nil, cfg.MaxRoomNameLength)
	}
	return &Manager{
		log:      log,
		metrics:  m,
		registry: reg,
		maxConns: cfg.MaxConnections,
		conns:    make(map[string]*Conn),
	}
}

func (m *Manager) Registry() *Registry        { return m.registry }
func (m *Manager) Metrics() *metrics.Metrics { return m.metrics }

// Connect registers a new connection with a fresh id.
func (m *Manager) Connect(sender Sender, info ConnInfo) (*Conn, error) {
	c := newConn(uuid.NewString(), sender, info, m.registry.clock.Now())

	m.mu.Lock()
	if m.maxConns > 0 && len(m.conns) >= m.maxConns {
		m.mu.Unlock()
		m.metrics.Inc(metrics.ConnectionsRejectedCapacity)
		return nil, ErrTooManyConnections
	}
	m.conns[c.id] = c
	m.mu.Unlock()

	m.metrics.Inc(metrics.ConnectionsOpened)
	return c, nil
}

// HandleFrame processes one inbound frame. Callers deliver a connection's
// frames one at a time, in arrival order.
//
// The returned error explains a dropped frame; it is never fatal to the
// connection.
func (m *Manager) HandleFrame(c *Conn, frame []byte) error {
	env, err := ParseEnvelope(frame)
	if err != nil {
		m.metrics.Inc(metrics.FramesDroppedMalformed)
		m.log.Debug("frame_dropped", "conn_id", c.id, "reason", "malformed", "err", err)
		return err
	}

	switch env.Kind {
	case KindJoinRoom:
		if err := m.registry.Join(c, env.RoomName, env.Identity); err != nil {
			m.log.Debug("frame_dropped", "conn_id", c.id, "type", env.Type, "err", err)
			return err
		}
		return nil

	case KindRelay:
		delivered, ok := m.registry.Relay(c, env.Raw)
		if !ok {
			m.metrics.Inc(metrics.FramesDroppedNoRoom)
			m.log.Debug("frame_dropped", "conn_id", c.id, "type", env.Type, "reason", "not_in_room")
			return ErrNotInRoom
		}
		m.metrics.Inc(metrics.FramesRelayed)
		m.log.Debug("frame_relayed", "conn_id", c.id, "type", env.Type, "recipients", delivered)
		return nil

	default:
		return fmt.Errorf("unhandled envelope kind %v", env.Kind)
	}
}

// Disconnect detaches c from its room (one user-left to the remaining
// members), marks it closed and stops tracking it. It reports true only on
// the first call for c.
func (m *Manager) Disconnect(c *Conn) bool {
	if !m.registry.detach(c) {
		return false
	}

	m.mu.Lock()
	delete(m.conns, c.id)
	m.mu.Unlock()

	m.metrics.Inc(metrics.ConnectionsClosed)
	return true
}

// ForceClose disconnects c and closes its transport.
func (m *Manager) ForceClose(c *Conn) bool {
	first := m.Disconnect(c)
	if err := c.sender.Close(); err != nil {
		m.log.Debug("transport_close_failed", "conn_id", c.id, "err", err)
	}
	return first
}

func (m *Manager) Lookup(id string) (*Conn, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conns[id]
	return c, ok
}

func (m *Manager) ActiveConnections() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.conns)
}

// Conns returns the tracked connections in no particular order.
func (m *Manager) Conns() []*Conn {
	m.mu.Lock()
	defer m.mu.Unlock()
	return lo.Values(m.conns)
}

// Snapshot returns c's current identity and room.
func (m *Manager) Snapshot(c *Conn) ConnState {
	return m.registry.snapshot(c)
}
