package relay

import (
	"encoding/json"
	"time"
)

const (
	TypeUserJoined = "user-joined"
	TypeUserLeft   = "user-left"
)

// Notice is a server-synthesized membership message.
type Notice struct {
	Type      string `json:"type"`
	UserID    string `json:"userId"`
	UserName  string `json:"userName"`
	RoomName  string `json:"roomName"`
	Timestamp int64  `json:"timestamp"`
}

func newNotice(typ string, c *Conn, room string, now time.Time) []byte {
	b, err := json.Marshal(Notice{
		Type:      typ,
		UserID:    c.participantID,
		UserName:  c.displayName,
		RoomName:  room,
		Timestamp: now.UnixMilli(),
	})
	if err != nil {
		// Only strings and an int64; cannot fail.
		panic(err)
	}
	return b
}
