package protocol

import (
	"encoding/json"
	"maps"
)

// Heartbeat frame values carried in the "p" field.
const (
	PingFrame = 1
	PongFrame = 2
)

// Notification types carried in the "type" field.
const (
	TypeDocument     = "document"
	TypeUser         = "user"
	TypeTokenExpired = "TokenExpired"
)

// Document notification events carried in the "event" field.
const (
	EventWrite   = "write"
	EventDelete  = "delete"
	EventPublish = "publish"
)

// ErrIDTokenInvalid is the server error id sent when the bearer token is no longer valid.
const ErrIDTokenInvalid = "security.token.invalid"

// Reserved request fields added by the session on every send.
const (
	FieldRequestID = "requestId"
	FieldVolatile  = "volatile"
	FieldJWT       = "jwt"
)

// VolatileInstanceKey is the volatile key that carries the sending session identity.
const VolatileInstanceKey = "sdkInstanceId"

// Payload is an outgoing request body before the session enriches it.
type Payload map[string]any

// Clone returns a shallow copy so enrichment never mutates the caller's payload.
func (p Payload) Clone() Payload {
	out := make(Payload, len(p)+3)
	maps.Copy(out, p)
	return out
}

// Envelope is one inbound message: a response, a notification or a heartbeat.
type Envelope struct {
	RequestID  string          `json:"requestId,omitempty"`
	Room       string          `json:"room,omitempty"` // requestId for responses, channel ID for notifications
	Status     int             `json:"status,omitempty"`
	Result     json.RawMessage `json:"result,omitempty"`
	Error      *Error          `json:"error,omitempty"`
	Controller string          `json:"controller,omitempty"`
	Action     string          `json:"action,omitempty"`
	Index      string          `json:"index,omitempty"`
	Collection string          `json:"collection,omitempty"`
	Scope      string          `json:"scope,omitempty"` // "in" or "out" (document notifications)
	User       string          `json:"user,omitempty"`  // "in" or "out" (presence notifications)
	Timestamp  int64           `json:"timestamp,omitempty"`
	Type       string          `json:"type,omitempty"`  // "document", "user", "TokenExpired"
	Event      string          `json:"event,omitempty"` // "write", "delete", "publish"
	Volatile   map[string]any  `json:"volatile,omitempty"`
	P          int             `json:"p,omitempty"`

	fields int // number of top-level keys seen when decoding
}

// UnmarshalJSON decodes the envelope and records how many fields were present.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}

	type wire Envelope
	var w wire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	*e = Envelope(w)
	e.fields = len(fields)
	return nil
}

// Heartbeat reports the frame value if the envelope holds nothing but the "p" field.
func (e *Envelope) Heartbeat() (int, bool) {
	if e.fields == 1 && e.P != 0 {
		return e.P, true
	}
	return 0, false
}

// IsReply reports whether the envelope is a direct reply rather than a notification.
// Notifications reuse the room field for their channel ID.
func (e *Envelope) IsReply() bool {
	return e.RequestID != "" && e.RequestID == e.Room
}

// DecodeResult unmarshals the result field into v.
func (e *Envelope) DecodeResult(v any) error {
	if len(e.Result) == 0 {
		return nil
	}
	return json.Unmarshal(e.Result, v)
}

// Decode parses one inbound frame.
func Decode(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, err
	}
	return &env, nil
}

// Heartbeat is an outgoing keepalive frame.
type Heartbeat struct {
	P int `json:"p"`
}

// Error is the error object the server embeds in a failed response.
type Error struct {
	Code    int      `json:"code"`
	Message string   `json:"message"`
	ID      string   `json:"id"`
	Props   []string `json:"props,omitempty"`
	Status  int      `json:"status"`
}

// Error formats the server error as "{id} - {message}".
func (e *Error) Error() string {
	return e.ID + " - " + e.Message
}

// SubscriptionResult is the result of a realtime:subscribe call.
type SubscriptionResult struct {
	RoomID  string `json:"roomId"`
	Channel string `json:"channel"` // "{roomId}-{hash}"
}
