package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
)

// NotificationKind identifies the shape of a mapped notification.
type NotificationKind string

const (
	KindDocument  NotificationKind = "document"
	KindEphemeral NotificationKind = "ephemeral"
	KindPresence  NotificationKind = "presence"
)

// Notification is the value handed to subscription observers.
type Notification interface {
	Kind() NotificationKind
}

// DocumentPayload is the document carried by a document or ephemeral notification.
// ID is empty for ephemeral notifications.
type DocumentPayload struct {
	ID            string          `json:"_id,omitempty"`
	Source        json.RawMessage `json:"_source,omitempty"`
	UpdatedFields []string        `json:"_updatedFields,omitempty"` // partial updates only
}

// DocumentNotification reports a document entering or leaving a subscription scope,
// or an ephemeral message published to it.
type DocumentNotification struct {
	Type      NotificationKind `json:"type"`  // KindDocument or KindEphemeral
	Event     string           `json:"event"` // "write", "delete", "publish"
	Scope     string           `json:"scope"` // "in" or "out"
	Timestamp int64            `json:"timestamp"`
	Payload   DocumentPayload  `json:"payload"`
}

func (n DocumentNotification) Kind() NotificationKind { return n.Type }

// PresenceNotification reports a user entering or leaving a room.
type PresenceNotification struct {
	CurrentUsersInRoom int            `json:"current_users_in_room"`
	Scope              string         `json:"scope"` // "in" or "out"
	Timestamp          int64          `json:"timestamp"`
	Volatile           map[string]any `json:"volatile,omitempty"`
}

func (n PresenceNotification) Kind() NotificationKind { return KindPresence }

// presenceResult is the result field of a "user" notification.
type presenceResult struct {
	Count int `json:"count"`
}

// MapNotification converts a notification envelope into the value observers receive.
// It returns false for envelope types that carry no observer-facing notification.
func MapNotification(env *Envelope) (Notification, bool, error) {
	switch env.Type {
	case TypeDocument:
		var payload DocumentPayload
		if err := env.DecodeResult(&payload); err != nil {
			return nil, false, fmt.Errorf("decode document result: %w", err)
		}
		kind := KindDocument
		if env.Event == EventPublish {
			kind = KindEphemeral
		}
		return DocumentNotification{
			Type:      kind,
			Event:     env.Event,
			Scope:     env.Scope,
			Timestamp: env.Timestamp,
			Payload:   payload,
		}, true, nil

	case TypeUser:
		var res presenceResult
		if err := env.DecodeResult(&res); err != nil {
			return nil, false, fmt.Errorf("decode presence result: %w", err)
		}
		return PresenceNotification{
			CurrentUsersInRoom: res.Count,
			Scope:              env.User,
			Timestamp:          env.Timestamp,
			Volatile:           env.Volatile,
		}, true, nil
	}

	return nil, false, nil
}

// InstanceID returns the sender session identity embedded in the volatile data.
func (e *Envelope) InstanceID() string {
	id, _ := e.Volatile[VolatileInstanceKey].(string)
	return id
}

// RoomOf derives the room ID from a channel ID ("{roomId}-{hash}").
func RoomOf(channel string) string {
	roomID, _, _ := strings.Cut(channel, "-")
	return roomID
}
