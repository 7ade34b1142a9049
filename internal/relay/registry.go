package relay

import (
	"cmp"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"

	"github.com/nekolive/signaling-relay/internal/metrics"
	"github.com/nekolive/signaling-relay/internal/ratelimit"
)

const DefaultMaxRoomNameLength = 50

var nameValidator = validator.New()

type room struct {
	name      string
	createdAt time.Time
	members   map[string]*Conn
}

// Room is a snapshot of one room. Members are connection ids in sorted order.
type Room struct {
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
	Members   []string  `json:"members"`
}

// Registry maps room names to member sets. A room exists iff it has at least
// one member.
type Registry struct {
	log     *slog.Logger
	metrics *metrics.Metrics
	clock   ratelimit.Clock

	// validator rule for room names; max counts runes.
	nameRule string

	mu    sync.RWMutex
	rooms map[string]*room
}

// NewRegistry returns an empty registry. maxRoomNameLength <= 0 selects
// DefaultMaxRoomNameLength.
func NewRegistry(log *slog.Logger, m *metrics.Metrics, clock ratelimit.Clock, maxRoomNameLength int) *Registry {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if clock == nil {
		clock = ratelimit.RealClock{}
	}
	if maxRoomNameLength <= 0 {
		maxRoomNameLength = DefaultMaxRoomNameLength
	}
	return &Registry{
		log:      log,
		metrics:  m,
		clock:    clock,
		nameRule: "required,max=" + strconv.Itoa(maxRoomNameLength),
		rooms:    make(map[string]*room),
	}
}

// ValidateRoomName reports whether name is a non-empty room name within the
// configured length. Names are compared verbatim; nothing is trimmed or
// truncated.
func (r *Registry) ValidateRoomName(name string) error {
	if err := nameValidator.Var(name, r.nameRule); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidRoomName, name)
	}
	return nil
}

// Join moves c into room name, leaving its previous room first. The other
// members of the destination are told via user-joined within the same
// critical section as the insert. Re-joining the current room keeps the
// membership and announces again.
//
// Invalid names and closed connections leave all state untouched.
func (r *Registry) Join(c *Conn, name string, id Identity) error {
	if err := r.ValidateRoomName(name); err != nil {
		r.metrics.Inc(metrics.JoinRejectedInvalidRoom)
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if c.closed {
		return ErrConnClosed
	}

	if c.roomName != "" && c.roomName != name {
		r.leaveLocked(c)
	}
	c.applyIdentityLocked(id)

	rm := r.ensureRoomLocked(name)
	rm.members[c.id] = c
	c.roomName = name
	r.metrics.Inc(metrics.RoomJoins)
	r.log.Debug("room_joined", "conn_id", c.id, "participant_id", c.participantID, "room", name, "members", len(rm.members))

	r.broadcastLocked(rm, c.id, newNotice(TypeUserJoined, c, name, r.clock.Now()))
	return nil
}

// Leave removes c from its room, if any, and reports whether it was in one.
func (r *Registry) Leave(c *Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.leaveLocked(c)
}

// detach leaves the current room and marks c closed so it can never join
// again. Only the first call has any effect.
func (r *Registry) detach(c *Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c.closed {
		return false
	}
	c.closed = true
	r.leaveLocked(c)
	return true
}

func (r *Registry) ensureRoomLocked(name string) *room {
	if rm, ok := r.rooms[name]; ok {
		return rm
	}
	rm := &room{
		name:      name,
		createdAt: r.clock.Now(),
		members:   make(map[string]*Conn),
	}
	r.rooms[name] = rm
	r.metrics.Inc(metrics.RoomsCreated)
	r.log.Info("room_created", "room", name)
	return rm
}

func (r *Registry) leaveLocked(c *Conn) bool {
	name := c.roomName
	if name == "" {
		return false
	}
	c.roomName = ""

	rm, ok := r.rooms[name]
	if !ok {
		return false
	}
	delete(rm.members, c.id)
	r.metrics.Inc(metrics.RoomLeaves)
	r.log.Debug("room_left", "conn_id", c.id, "participant_id", c.participantID, "room", name, "members", len(rm.members))

	if len(rm.members) == 0 {
		delete(r.rooms, name)
		r.metrics.Inc(metrics.RoomsDeleted)
		r.log.Info("room_deleted", "room", name)
		return true
	}
	r.broadcastLocked(rm, c.id, newNotice(TypeUserLeft, c, name, r.clock.Now()))
	return true
}

// RoomOf returns the room c is in.
func (r *Registry) RoomOf(c *Conn) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return c.roomName, c.roomName != ""
}

// Members returns the connection ids in room name, sorted. A missing room has
// no members.
func (r *Registry) Members(name string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rm, ok := r.rooms[name]
	if !ok {
		return nil
	}
	ids := lo.Keys(rm.members)
	slices.Sort(ids)
	return ids
}

func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.rooms[name]
	return ok
}

// Len returns the number of live rooms.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

// Rooms returns a snapshot of every room ordered by name.
func (r *Registry) Rooms() []Room {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := lo.MapToSlice(r.rooms, func(name string, rm *room) Room {
		ids := lo.Keys(rm.members)
		slices.Sort(ids)
		return Room{Name: name, CreatedAt: rm.createdAt, Members: ids}
	})
	slices.SortFunc(out, func(a, b Room) int { return cmp.Compare(a.Name, b.Name) })
	return out
}

func (r *Registry) snapshot(c *Conn) ConnState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return c.stateLocked()
}
