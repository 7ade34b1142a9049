package relay

import "time"

//go:generate go run go.uber.org/mock/mockgen -destination=relaymock/mock_sender.go -package=relaymock . Sender

// Sender is the outbound half of a transport.
//
// Send must not block on the network: implementations enqueue the payload and
// return. Errors and panics from Send are contained per recipient by the
// broadcast engine.
type Sender interface {
	Send(payload []byte) error
	Close() error
}

// ConnInfo is transport metadata captured at accept time.
type ConnInfo struct {
	RemoteAddr string
	Origin     string
	UserAgent  string
	Transport  string
}

const defaultDisplayName = "User"

// Conn is the handle for one participant's live transport session.
type Conn struct {
	id        string
	sender    Sender
	info      ConnInfo
	createdAt time.Time

	// Guarded by Registry.mu.
	participantID string
	displayName   string
	roomName      string
	closed        bool
}

func newConn(id string, sender Sender, info ConnInfo, now time.Time) *Conn {
	return &Conn{
		id:            id,
		sender:        sender,
		info:          info,
		createdAt:     now,
		participantID: id,
		displayName:   defaultDisplayName,
	}
}

func (c *Conn) ID() string           { return c.id }
func (c *Conn) Info() ConnInfo       { return c.info }
func (c *Conn) CreatedAt() time.Time { return c.createdAt }

// ConnState is a point-in-time copy of a connection's mutable fields.
type ConnState struct {
	ID            string    `json:"id"`
	ParticipantID string    `json:"participantId"`
	DisplayName   string    `json:"displayName"`
	RoomName      string    `json:"roomName,omitempty"`
	Closed        bool      `json:"closed"`
	CreatedAt     time.Time `json:"createdAt"`
	Info          ConnInfo  `json:"info"`
}

func (s ConnState) InRoom() bool { return s.RoomName != "" }

// Identity carries the optional identity fields of a join request. Empty
// fields leave the connection's current values untouched.
type Identity struct {
	UserID   string
	UserName string
}

func (c *Conn) stateLocked() ConnState {
	return ConnState{
		ID:            c.id,
		ParticipantID: c.participantID,
		DisplayName:   c.displayName,
		RoomName:      c.roomName,
		Closed:        c.closed,
		CreatedAt:     c.createdAt,
		Info:          c.info,
	}
}

func (c *Conn) applyIdentityLocked(id Identity) {
	if id.UserID != "" {
		c.participantID = id.UserID
	}
	if id.UserName != "" {
		c.displayName = id.UserName
	}
}
