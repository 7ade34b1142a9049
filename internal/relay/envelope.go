package relay

import (
	"fmt"
	"unicode/utf8"

	"github.com/tidwall/gjson"
)

// Kind classifies an inbound frame. Every frame that is not a join is relayed
// verbatim, whatever its type.
type Kind int

const (
	KindRelay Kind = iota + 1
	KindJoinRoom
)

func (k Kind) String() string {
	switch k {
	case KindRelay:
		return "relay"
	case KindJoinRoom:
		return "join-room"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

const TypeJoinRoom = "join-room"

// Envelope is the parsed routing header of a client frame. Raw is the received
// frame, forwarded unchanged for relayed kinds.
type Envelope struct {
	Kind     Kind
	Type     string
	RoomName string
	Identity Identity
	Raw      []byte
}

// ParseEnvelope inspects frame without decoding payload fields the relay does
// not route on. Frames that are not a JSON object with a non-empty string
// "type" are rejected with ErrMalformedEnvelope, as are frames that are not
// valid UTF-8: they are relayed as text frames, and browsers drop a
// connection that receives invalid UTF-8 in one.
func ParseEnvelope(frame []byte) (Envelope, error) {
	if !utf8.Valid(frame) {
		return Envelope{}, fmt.Errorf("%w: invalid utf-8", ErrMalformedEnvelope)
	}
	if !gjson.ValidBytes(frame) {
		return Envelope{}, fmt.Errorf("%w: invalid json", ErrMalformedEnvelope)
	}
	doc := gjson.ParseBytes(frame)
	if !doc.IsObject() {
		return Envelope{}, fmt.Errorf("%w: not an object", ErrMalformedEnvelope)
	}
	typ := doc.Get("type")
	if typ.Type != gjson.String || typ.Str == "" {
		return Envelope{}, fmt.Errorf("%w: missing type", ErrMalformedEnvelope)
	}

	env := Envelope{Kind: KindRelay, Type: typ.Str, Raw: frame}
	if typ.Str != TypeJoinRoom {
		return env, nil
	}

	env.Kind = KindJoinRoom
	// A non-string roomName leaves RoomName empty, which Join rejects.
	if room := doc.Get("roomName"); room.Type == gjson.String {
		env.RoomName = room.Str
	}
	env.Identity = Identity{
		UserID:   scalarString(doc.Get("userId")),
		UserName: scalarString(doc.Get("userName")),
	}
	return env, nil
}

// scalarString accepts strings and numbers; numeric ids keep their literal
// form.
func scalarString(r gjson.Result) string {
	switch r.Type {
	case gjson.String:
		return r.Str
	case gjson.Number:
		return r.Raw
	default:
		return ""
	}
}
